// Package api mounts ordinary HTTP handlers, wrapped in optional middleware, on a rig's mux.
package api

import (
	"io/fs"
	"net/http"

	"github.com/PunchlY/hotbuild/rig"
)

// Rig collects the routes described by options into a single rig.Option.  The first failing option is reported when
// the rig is configured.
func Rig(options ...Option) rig.Option {
	var tbl table
	for _, option := range options {
		if tbl.err = option(&tbl); tbl.err != nil {
			break
		}
	}
	return func(r *rig.Config) error {
		if tbl.err != nil {
			return tbl.err
		}
		r.Hook(&tbl)
		return nil
	}
}

// FS mounts a file server for fsys on every pattern.
func FS(fsys fs.FS, patterns ...string) Option {
	files := http.FileServer(http.FS(fsys))
	return func(tbl *table) error {
		for _, pattern := range patterns {
			tbl.add(pattern, files)
		}
		return nil
	}
}

// Use wraps the handlers mounted after it.  Middleware added first ends up outermost, and so sees the request first.
func Use(mw func(http.Handler) http.Handler) Option {
	return func(tbl *table) error {
		tbl.stack = append(tbl.stack, mw)
		return nil
	}
}

// HandleFunc is Handle for a plain function.
func HandleFunc(pattern string, fn func(w http.ResponseWriter, r *http.Request)) Option {
	return Handle(pattern, http.HandlerFunc(fn))
}

// Handle mounts handler on a http.ServeMux pattern such as "GET /status".
func Handle(pattern string, handler http.Handler) Option {
	return func(tbl *table) error {
		tbl.add(pattern, handler)
		return nil
	}
}

// Group scopes any middleware added by options to the handlers those options mount.
func Group(options ...Option) Option {
	return func(tbl *table) error {
		saved := tbl.stack
		tbl.stack = append([]func(http.Handler) http.Handler(nil), saved...)
		defer func() { tbl.stack = saved }()
		for _, option := range options {
			if err := option(tbl); err != nil {
				return err
			}
		}
		return nil
	}
}

// Option adds routes or middleware.
type Option func(*table) error

type table struct {
	stack  []func(http.Handler) http.Handler
	routes []route
	err    error
}

type route struct {
	pattern string
	handler http.Handler
}

func (tbl *table) add(pattern string, handler http.Handler) {
	for i := len(tbl.stack) - 1; i >= 0; i-- {
		handler = tbl.stack[i](handler)
	}
	tbl.routes = append(tbl.routes, route{pattern, handler})
}

// RigMux mounts every collected route on mux.
func (tbl *table) RigMux(mux *http.ServeMux) {
	for _, rt := range tbl.routes {
		mux.Handle(rt.pattern, rt.handler)
	}
}
