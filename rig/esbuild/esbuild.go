// Package esbuild bundles entry points with esbuild entirely in memory, reporting output kinds and source provenance
// from the esbuild metafile.
package esbuild

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/PunchlY/hotbuild/rig/artifact"
	"github.com/PunchlY/hotbuild/rig/bundle"
	esbuild "github.com/evanw/esbuild/pkg/api"
)

// New returns a bundler that uses esbuild with the given options applied after the defaults.
func New(options ...Option) bundle.Bundler {
	cfg := &config{}
	for _, option := range options {
		option(cfg)
	}
	return cfg
}

// Option is a function that can manipulate the esbuild configuration.
type Option func(*config)

// BuildOption returns an option that can manipulate the esbuild API build options structure just before each build.
// See https://esbuild.github.io/api for information on how to use esbuild options.
func BuildOption(fn func(*esbuild.BuildOptions)) Option {
	return func(cfg *config) { cfg.tweaks = append(cfg.tweaks, fn) }
}

// Loader maps file extensions to esbuild loaders, in addition to the default file loaders for common asset types.
func Loader(ext string, loader esbuild.Loader) Option {
	return BuildOption(func(opts *esbuild.BuildOptions) { opts.Loader[ext] = loader })
}

type config struct {
	tweaks []func(*esbuild.BuildOptions)
}

// assetLoaders are emitted as separate files and referenced by URL.
var assetLoaders = map[string]esbuild.Loader{
	`.png`: esbuild.LoaderFile, `.jpg`: esbuild.LoaderFile, `.jpeg`: esbuild.LoaderFile,
	`.gif`: esbuild.LoaderFile, `.svg`: esbuild.LoaderFile, `.webp`: esbuild.LoaderFile,
	`.ico`: esbuild.LoaderFile, `.woff`: esbuild.LoaderFile, `.woff2`: esbuild.LoaderFile,
	`.ttf`: esbuild.LoaderFile, `.eot`: esbuild.LoaderFile,
}

// outdir is never written, esbuild only needs it to name outputs when splitting.
const outdir = `dist`

func (cfg *config) options(req bundle.Request) esbuild.BuildOptions {
	opts := esbuild.BuildOptions{
		EntryPoints:   req.Entrypoints,
		AbsWorkingDir: req.Dir,
		Outdir:        filepath.Join(req.Dir, outdir),
		Bundle:        true,
		Write:         false,
		Metafile:      true,
		Splitting:     true,
		Format:        esbuild.FormatESModule,
		Platform:      esbuild.PlatformBrowser,
		EntryNames:    `[name].[hash]`,
		ChunkNames:    `[name].[hash]`,
		AssetNames:    `[name].[hash]`,
		PublicPath:    `/`,
		LogLevel:      esbuild.LogLevelSilent,
		Loader:        make(map[string]esbuild.Loader, len(assetLoaders)),
	}
	for ext, loader := range assetLoaders {
		opts.Loader[ext] = loader
	}
	if req.Minify {
		opts.MinifyWhitespace = true
		opts.MinifyIdentifiers = true
		opts.MinifySyntax = true
	}
	if req.SourceMaps {
		opts.Sourcemap = esbuild.SourceMapLinked
	} else {
		opts.Sourcemap = esbuild.SourceMapNone
	}
	for _, fn := range cfg.tweaks {
		fn(&opts)
	}
	return opts
}

// Bundle implements bundle.Bundler.  Esbuild does not support cancellation, so ctx is only consulted before starting.
func (cfg *config) Bundle(ctx context.Context, req bundle.Request) (*bundle.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(req.Entrypoints) == 0 {
		return &bundle.Result{Success: true}, nil
	}
	if !filepath.IsAbs(req.Dir) {
		return nil, fmt.Errorf(`esbuild: working directory %q is not absolute`, req.Dir)
	}
	ret := esbuild.Build(cfg.options(req))

	result := &bundle.Result{Success: len(ret.Errors) == 0}
	result.Diagnostics = append(diagnostics(req.Dir, `error`, ret.Errors), diagnostics(req.Dir, `warning`, ret.Warnings)...)

	var meta metafile
	if ret.Metafile != `` {
		err := json.Unmarshal([]byte(ret.Metafile), &meta)
		if err != nil {
			return nil, fmt.Errorf(`%w while decoding esbuild metafile`, err)
		}
	}
	order := make(map[string]int, len(req.Entrypoints))
	for i, path := range req.Entrypoints {
		order[filepath.Clean(path)] = i
	}

	rank := make([]int, 0, len(ret.OutputFiles))
	for _, file := range ret.OutputFiles {
		out := bundle.Output{
			Path:     file.Path,
			Type:     artifact.TypeOf(file.Path, file.Contents),
			Contents: file.Contents,
			Kind:     bundle.Asset,
		}
		pos := len(req.Entrypoints)
		rel, err := filepath.Rel(req.Dir, file.Path)
		if err == nil {
			info, ok := meta.Outputs[filepath.ToSlash(rel)]
			if ok {
				out.Sources = sources(req.Dir, info.Inputs)
			}
			if filepath.Ext(file.Path) == `.js` {
				out.Kind = bundle.Chunk
				if ok && info.EntryPoint != `` {
					out.Kind = bundle.Entry
					if i, found := order[filepath.Join(req.Dir, filepath.FromSlash(info.EntryPoint))]; found {
						pos = i
					}
				}
			}
		}
		result.Outputs = append(result.Outputs, out)
		rank = append(rank, pos)
	}
	sort.Stable(byRank{result.Outputs, rank})
	return result, nil
}

type metafile struct {
	Outputs map[string]struct {
		EntryPoint string              `json:"entryPoint"`
		Inputs     map[string]struct{} `json:"inputs"`
	} `json:"outputs"`
}

// sources resolves metafile inputs relative to dir; inputs from other namespaces such as "<stdin>" or "http:" are
// skipped since there is nothing on disk to watch.
func sources(dir string, inputs map[string]struct{}) []string {
	seq := make([]string, 0, len(inputs))
	for input := range inputs {
		if strings.HasPrefix(input, `<`) || strings.Contains(input, `:`) && !filepath.IsAbs(input) {
			continue
		}
		seq = append(seq, filepath.Join(dir, filepath.FromSlash(input)))
	}
	sort.Strings(seq)
	return seq
}

func diagnostics(dir, level string, messages []esbuild.Message) []bundle.Diagnostic {
	seq := make([]bundle.Diagnostic, 0, len(messages))
	for _, msg := range messages {
		diag := bundle.Diagnostic{Level: level, Text: msg.Text}
		if loc := msg.Location; loc != nil && loc.File != `` {
			file := loc.File
			if !filepath.IsAbs(file) {
				file = filepath.Join(dir, filepath.FromSlash(file))
			}
			diag.Position = &bundle.Position{
				File:     file,
				Line:     loc.Line,
				Column:   loc.Column,
				LineText: loc.LineText,
			}
		}
		seq = append(seq, diag)
	}
	return seq
}

type byRank struct {
	outputs []bundle.Output
	rank    []int
}

func (s byRank) Len() int           { return len(s.outputs) }
func (s byRank) Less(i, j int) bool { return s.rank[i] < s.rank[j] }
func (s byRank) Swap(i, j int) {
	s.outputs[i], s.outputs[j] = s.outputs[j], s.outputs[i]
	s.rank[i], s.rank[j] = s.rank[j], s.rank[i]
}
