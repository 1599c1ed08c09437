// Package watcher maintains a deduplicated set of file watches and reports every change to a watched file.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
	"github.com/swdunlop/html-go/hog"
)

// New starts a watch manager that calls onChange for each event on a watched file until ctx is done or the manager
// is closed.  The callback runs on the manager's event goroutine, so events are handled one at a time.
func New(ctx context.Context, onChange func(ctx context.Context, path string), options ...Option) (*Manager, error) {
	m := &Manager{
		onChange: onChange,
		watches:  make(map[string]struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, option := range options {
		err := option(m)
		if err != nil {
			return nil, err
		}
	}
	var err error
	m.fsnotify, err = fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	ctx, m.cancel = context.WithCancel(ctx)
	go m.process(ctx)
	return m, nil
}

// An Option is a function that can manipulate a manager during construction.
type Option func(*Manager) error

// Exclude specifies one or more file patterns that will never be watched, such as "**/node_modules/**".
func Exclude(patterns ...string) Option {
	return func(m *Manager) error {
		for _, pattern := range patterns {
			rx, err := glob.Compile(pattern, filepath.Separator)
			if err != nil {
				return fmt.Errorf(`%w in %q`, err, pattern)
			}
			m.excludes = append(m.excludes, rx)
		}
		return nil
	}
}

// A Manager owns one watch registration per absolute path.
type Manager struct {
	onChange func(ctx context.Context, path string)
	excludes []glob.Glob
	fsnotify *fsnotify.Watcher
	cancel   context.CancelFunc
	doneCh   chan struct{} // closed when the event goroutine exits

	mu      sync.Mutex
	watches map[string]struct{}
}

// Watch registers path if it is not already watched.  Registering a watched or excluded path does nothing.
func (m *Manager) Watch(ctx context.Context, path string) error {
	path, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	for _, rx := range m.excludes {
		if rx.Match(path) {
			return nil
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.watches[path]; ok {
		return nil
	}
	err = m.fsnotify.Add(path)
	if err != nil {
		return fmt.Errorf(`%w while watching %q`, err, path)
	}
	m.watches[path] = struct{}{}
	hog.From(ctx).Debug().Str(`path`, path).Msg(`watch`)
	return nil
}

// Watching reports whether path currently has a registration.
func (m *Manager) Watching(path string) bool {
	path, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.watches[path]
	return ok
}

// Len returns the number of registrations.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watches)
}

// Close stops the event goroutine and releases every watch.
func (m *Manager) Close() error {
	m.cancel()
	<-m.doneCh
	return m.fsnotify.Close()
}

func (m *Manager) process(ctx context.Context) {
	defer close(m.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-m.fsnotify.Events:
			if !ok {
				return
			}
			m.processEvent(ctx, event)
		case err, ok := <-m.fsnotify.Errors:
			if !ok {
				return
			}
			hog.From(ctx).Warn().Err(err).Msg(`watch error`)
		}
	}
}

func (m *Manager) processEvent(ctx context.Context, event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return // attribute changes do not change what gets built
	}
	m.mu.Lock()
	_, ok := m.watches[event.Name]
	if ok && (event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove)) {
		// the next build will watch whatever now lives at this path.
		_ = m.fsnotify.Remove(event.Name)
		delete(m.watches, event.Name)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	hog.From(ctx).Debug().Str(`path`, event.Name).Str(`op`, event.Op.String()).Msg(`change`)
	m.onChange(ctx, event.Name)
}
