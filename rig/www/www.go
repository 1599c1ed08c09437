// Package www serves artifacts over HTTP, either from a live build or from a baked snapshot.  Every response carries
// an entity tag derived from the artifact's body so that clients revalidate cheaply after a rebuild.
package www

import (
	"context"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/PunchlY/hotbuild/rig"
	"github.com/PunchlY/hotbuild/rig/artifact"
	"github.com/klauspost/compress/gzhttp"
	"github.com/swdunlop/html-go/hog"
	"github.com/zeebo/blake3"
)

// A Source finds the artifact served at a path.
type Source interface {
	Lookup(ctx context.Context, path string) (artifact.Artifact, bool, error)
}

// SourceFunc adapts a function, such as build.Orchestrator.Dev, to a Source.
type SourceFunc func(ctx context.Context, path string) (artifact.Artifact, bool, error)

// Lookup implements Source.
func (fn SourceFunc) Lookup(ctx context.Context, path string) (artifact.Artifact, bool, error) {
	return fn(ctx, path)
}

// Snapshot returns a Source over the routes of a decoded snapshot, such as the one returned by snapshot.Static.
func Snapshot(static func() (artifact.Map, error)) Source {
	return SourceFunc(func(_ context.Context, path string) (artifact.Artifact, bool, error) {
		routes, err := static()
		if err != nil {
			return artifact.Artifact{}, false, err
		}
		it, ok := routes[path]
		return it, ok, nil
	})
}

// Handler returns a http.Handler that serves artifacts from src by request path.
func Handler(src Source) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		it, ok, err := src.Lookup(r.Context(), r.URL.Path)
		switch {
		case err != nil:
			hog.For(r).Error().Err(err).Str(`path`, r.URL.Path).Msg(`lookup failed`)
			http.Error(w, `Internal Server Error`, http.StatusInternalServerError)
			return
		case !ok:
			w.Header().Set(`Content-Type`, `text/plain;charset=utf-8`)
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`Not Found`))
			return
		}
		tag := ETag(it.Body)
		h := w.Header()
		h.Set(`ETag`, tag)
		h.Set(`Cache-Control`, `no-cache`)
		if matches(r.Header.Get(`If-None-Match`), tag) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		h.Set(`Content-Type`, it.Type)
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			_, _ = w.Write(it.Body)
		}
	})
}

// ETag returns a strong entity tag for body.
func ETag(body []byte) string {
	sum := blake3.Sum256(body)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}

func matches(header, tag string) bool {
	for _, it := range strings.Split(header, `,`) {
		it = strings.TrimPrefix(strings.TrimSpace(it), `W/`)
		if it == tag || it == `*` {
			return true
		}
	}
	return false
}

// Rig returns a rig option that serves src for every GET and HEAD request not claimed by a more specific pattern.
func Rig(src Source, options ...Option) rig.Option {
	return func(r *rig.Config) error {
		cfg := config{src: src}
		for _, option := range options {
			err := option(&cfg)
			if err != nil {
				return err
			}
		}
		r.Hook(&cfg)
		return nil
	}
}

// An Option configures how artifacts are served.
type Option func(*config) error

// Compress negotiates gzip compression for every response of the rig, not only those for artifacts.
func Compress() Option {
	return func(cfg *config) error {
		cfg.compress = true
		return nil
	}
}

type config struct {
	src      Source
	compress bool
}

// RigMux implements hook.Mux.
func (cfg *config) RigMux(mux *http.ServeMux) {
	mux.Handle(`GET /`, Handler(cfg.src))
}

// RigServer implements hook.Server.
func (cfg *config) RigServer(svr *http.Server) {
	if !cfg.compress {
		return
	}
	next := svr.Handler
	gz := gzhttp.GzipHandler(next)
	svr.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(`Upgrade`) != `` {
			next.ServeHTTP(w, r) // websockets must hijack the connection
			return
		}
		gz.ServeHTTP(w, r)
	})
}
