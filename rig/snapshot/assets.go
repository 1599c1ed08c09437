package snapshot

import (
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path"
	"path/filepath"

	"github.com/PunchlY/hotbuild/rig/artifact"
)

// Assets returns a sequence of every regular file beneath root/dir, following symbolic links, with routes relative to
// root.  Directories are visited in lexical order.  A directory reached twice through links is only walked once.  A
// missing asset directory has no assets.
func Assets(root, dir string) iter.Seq2[artifact.Artifact, error] {
	return func(yield func(artifact.Artifact, error) bool) {
		top := filepath.Join(root, dir)
		if _, err := os.Stat(top); errors.Is(err, fs.ErrNotExist) {
			return
		}
		w := assetWalk{root: root, yield: yield, seen: make(map[string]bool)}
		w.walk(top)
	}
}

type assetWalk struct {
	root  string
	yield func(artifact.Artifact, error) bool
	seen  map[string]bool
}

// walk returns false once the consumer stops or an error has been yielded.
func (w *assetWalk) walk(dir string) bool {
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return w.fail(err)
	}
	if w.seen[resolved] {
		return true
	}
	w.seen[resolved] = true
	entries, err := os.ReadDir(dir)
	if err != nil {
		return w.fail(err)
	}
	for _, entry := range entries {
		name := filepath.Join(dir, entry.Name())
		info, err := os.Stat(name) // follows links
		if err != nil {
			return w.fail(err)
		}
		switch {
		case info.IsDir():
			if !w.walk(name) {
				return false
			}
		case info.Mode().IsRegular():
			if !w.file(name) {
				return false
			}
		}
	}
	return true
}

func (w *assetWalk) file(name string) bool {
	body, err := os.ReadFile(name)
	if err != nil {
		return w.fail(err)
	}
	rel, err := filepath.Rel(w.root, name)
	if err != nil {
		return w.fail(err)
	}
	return w.yield(artifact.Artifact{
		Path: path.Join(`/`, filepath.ToSlash(rel)),
		Body: body,
		Type: artifact.TypeOf(name, body),
	}, nil)
}

func (w *assetWalk) fail(err error) bool {
	w.yield(artifact.Artifact{}, fmt.Errorf(`%w while reading assets`, err))
	return false
}

// Concat returns a sequence of each sequence in turn.  It stops after the first error.
func Concat(seqs ...iter.Seq2[artifact.Artifact, error]) iter.Seq2[artifact.Artifact, error] {
	return func(yield func(artifact.Artifact, error) bool) {
		for _, seq := range seqs {
			for it, err := range seq {
				if !yield(it, err) || err != nil {
					return
				}
			}
		}
	}
}
