// Package build orchestrates development builds: it analyzes the entry document, runs the bundler, caches every output
// in memory by route, and rebuilds whenever a file that contributed to the last build changes.
//
// Rebuilds are always complete; nothing is diffed.  Concurrent rebuilds are not serialized, the cache reflects
// whichever finishes last.
package build

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/PunchlY/hotbuild/rig/artifact"
	"github.com/PunchlY/hotbuild/rig/bundle"
	"github.com/PunchlY/hotbuild/rig/entry"
	"github.com/PunchlY/hotbuild/rig/watcher"
	"github.com/swdunlop/html-go/hog"
)

// New returns an orchestrator that builds with the given bundler.  Nothing is built until the first Refresh or Dev.
func New(bundler bundle.Bundler, options ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		bundler: bundler,
		entry:   `index.html`,
		assets:  `public`,
	}
	for _, option := range options {
		err := option(o)
		if err != nil {
			return nil, err
		}
	}
	if o.dir == `` {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		o.dir = wd
	}
	dir, err := filepath.Abs(o.dir)
	if err != nil {
		return nil, err
	}
	o.dir = dir
	if o.watch != nil {
		o.watches, err = watcher.New(o.watch.ctx, o.rebuild, o.watch.options...)
		if err != nil {
			return nil, err
		}
	}
	return o, nil
}

// An Option configures an Orchestrator.
type Option func(*Orchestrator) error

// Entry sets the entry document, relative to the working directory.  Defaults to "index.html".
func Entry(name string) Option {
	return func(o *Orchestrator) error {
		if name == `` {
			return errors.New(`entry document must not be empty`)
		}
		o.entry = name
		return nil
	}
}

// Assets sets the static asset directory, relative to the working directory.  Its files are served under the route
// prefix "/{dir}/".  Defaults to "public".
func Assets(dir string) Option {
	return func(o *Orchestrator) error {
		dir = strings.Trim(filepath.ToSlash(filepath.Clean(dir)), `/`)
		if dir == `` || dir == `.` || strings.HasPrefix(dir, `../`) {
			return fmt.Errorf(`asset directory %q must be inside the working directory`, dir)
		}
		o.assets = dir
		return nil
	}
}

// Dir sets the working directory that the entry document, the asset directory and routes are relative to.  Defaults
// to the process working directory.
func Dir(dir string) Option {
	return func(o *Orchestrator) error {
		o.dir = dir
		return nil
	}
}

// Production selects production builds: minified, without source maps, with diagnostics rendered into the entry
// document, and with a failed bundle reported as a FailedError.
func Production(ok bool) Option {
	return func(o *Orchestrator) error {
		o.production = ok
		return nil
	}
}

// Watch enables watching the entry document and every source that contributed to a build; any change rebuilds.
// Without this option, as when the orchestrator is used as a library, builds have no file watching side effects.
// The watches live until ctx is done.
func Watch(ctx context.Context, excludes ...string) Option {
	return func(o *Orchestrator) error {
		o.watch = &watchConfig{ctx: ctx, options: []watcher.Option{watcher.Exclude(excludes...)}}
		return nil
	}
}

// Notify adds a function that is called after every completed refresh, such as one that tells browsers to reload.
func Notify(fn func(ctx context.Context)) Option {
	return func(o *Orchestrator) error {
		o.notify = append(o.notify, fn)
		return nil
	}
}

type watchConfig struct {
	ctx     context.Context
	options []watcher.Option
}

// An Orchestrator holds the state of development builds for one application.
type Orchestrator struct {
	bundler    bundle.Bundler
	dir        string
	assets     string
	production bool
	notify     []func(ctx context.Context)
	watch      *watchConfig
	watches    *watcher.Manager // nil unless watching

	mu    sync.Mutex
	entry string

	cache atomic.Pointer[artifact.Map]
}

// Root returns the absolute working directory.
func (o *Orchestrator) Root() string { return o.dir }

// AssetDir returns the asset directory relative to Root.
func (o *Orchestrator) AssetDir() string { return o.assets }

// Production reports whether the orchestrator builds for production.
func (o *Orchestrator) Production() bool { return o.production }

// Watches returns the watch manager, which is nil unless the Watch option was given.
func (o *Orchestrator) Watches() *watcher.Manager { return o.watches }

// A FailedError reports a production build whose bundle failed.
type FailedError struct {
	Diagnostics []bundle.Diagnostic
}

func (err *FailedError) Error() string {
	if len(err.Diagnostics) == 0 {
		return `build failed`
	}
	return fmt.Sprintf(`build failed: %v`, err.Diagnostics[0])
}

// Build returns a sequence of every output of a fresh build followed by the rewritten entry document at "/".  Each
// iteration of the sequence performs a new build.  A fatal error is yielded as the last element; in production, a
// failed bundle yields a FailedError after the entry document.
func (o *Orchestrator) Build(ctx context.Context) iter.Seq2[artifact.Artifact, error] {
	return func(yield func(artifact.Artifact, error) bool) {
		o.mu.Lock()
		name := o.entry
		o.mu.Unlock()
		if !filepath.IsAbs(name) {
			name = filepath.Join(o.dir, name)
		}
		log := hog.From(ctx)

		o.watchFile(ctx, name)
		src, err := os.ReadFile(name)
		if err != nil {
			yield(artifact.Artifact{}, fmt.Errorf(`%w while reading entry document`, err))
			return
		}
		doc, err := entry.Parse(src, filepath.Dir(name))
		if err != nil {
			yield(artifact.Artifact{}, err)
			return
		}
		ret, err := o.bundler.Bundle(ctx, bundle.Request{
			Entrypoints: doc.Entrypoints(),
			Dir:         o.dir,
			Minify:      o.production,
			SourceMaps:  !o.production,
		})
		if err != nil {
			yield(artifact.Artifact{}, fmt.Errorf(`%w while bundling %q`, err, name))
			return
		}

		if ret.Success {
			log.Debug().Str(`entry`, name).Int(`outputs`, len(ret.Outputs)).Msg(`build`)
		} else if len(ret.Diagnostics) == 0 {
			log.Error().Str(`entry`, name).Msg(`build failed`)
		}
		for _, diag := range ret.Diagnostics {
			evt := log.Warn()
			if diag.Level == `error` {
				evt = log.Error()
			}
			if diag.Position != nil {
				evt = evt.Str(`file`, diag.Position.File).Int(`line`, diag.Position.Line).Int(`column`, diag.Position.Column)
			}
			evt.Msg(diag.Text)
			if diag.Position != nil {
				o.watchFile(ctx, diag.Position.File)
			}
		}

		var scripts []string
		for _, out := range ret.Outputs {
			route := `/` + path.Base(filepath.ToSlash(out.Path))
			if out.Kind == bundle.Entry {
				scripts = append(scripts, route)
			}
			for _, source := range out.Sources {
				o.watchFile(ctx, source)
			}
			if !yield(artifact.Artifact{Path: route, Body: out.Contents, Type: out.Type}, nil) {
				return
			}
		}

		var diagnostics []bundle.Diagnostic
		if o.production {
			diagnostics = ret.Diagnostics
		}
		page, err := doc.Render(scripts, diagnostics)
		if err != nil {
			yield(artifact.Artifact{}, err)
			return
		}
		if !yield(artifact.Artifact{Path: `/`, Body: page, Type: artifact.HTML}, nil) {
			return
		}
		if o.production && !ret.Success {
			yield(artifact.Artifact{}, &FailedError{Diagnostics: ret.Diagnostics})
		}
	}
}

// Refresh returns the cached routes, building them first if there is no cache, if name is a different entry document,
// or if force is set.  The previous cache stays visible until the new one is complete.
func (o *Orchestrator) Refresh(ctx context.Context, name string, force bool) (artifact.Map, error) {
	o.mu.Lock()
	if name != `` && name != o.entry {
		o.entry = name
		force = true
	}
	o.mu.Unlock()
	if !force {
		if cache := o.cache.Load(); cache != nil {
			return *cache, nil
		}
	}

	cache := make(artifact.Map)
	for it, err := range o.Build(ctx) {
		if err != nil {
			return nil, err
		}
		cache[it.Path] = it
	}
	o.cache.Store(&cache)
	for _, fn := range o.notify {
		fn(ctx)
	}
	return cache, nil
}

// Dev looks up pathname in the build cache, building it if necessary.  Paths under the asset directory that are not
// build outputs are read from disk.  The boolean is false if there is nothing at pathname.
func (o *Orchestrator) Dev(ctx context.Context, pathname string) (artifact.Artifact, bool, error) {
	cache, err := o.Refresh(ctx, ``, false)
	if err != nil {
		return artifact.Artifact{}, false, err
	}
	if it, ok := cache[pathname]; ok {
		return it, true, nil
	}
	prefix := `/` + o.assets + `/`
	clean := path.Clean(pathname)
	if !strings.HasPrefix(clean, prefix) {
		return artifact.Artifact{}, false, nil
	}
	name := filepath.Join(o.dir, filepath.FromSlash(clean))
	info, err := os.Stat(name)
	if err != nil || !info.Mode().IsRegular() {
		return artifact.Artifact{}, false, nil
	}
	body, err := os.ReadFile(name)
	if err != nil {
		hog.From(ctx).Warn().Err(err).Str(`path`, name).Msg(`asset read failed`)
		return artifact.Artifact{}, false, nil
	}
	return artifact.Artifact{Path: clean, Body: body, Type: artifact.TypeOf(name, body)}, true, nil
}

func (o *Orchestrator) watchFile(ctx context.Context, name string) {
	if o.watches == nil {
		return
	}
	err := o.watches.Watch(ctx, name)
	if err != nil {
		hog.From(ctx).Warn().Err(err).Msg(`watch failed`)
	}
}

// rebuild is called by the watch manager for every change to a watched file.
func (o *Orchestrator) rebuild(ctx context.Context, name string) {
	_, err := o.Refresh(ctx, ``, true)
	if err != nil {
		hog.From(ctx).Error().Err(err).Str(`trigger`, name).Msg(`rebuild failed`)
	}
}
