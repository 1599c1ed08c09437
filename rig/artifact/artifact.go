// Package artifact defines the servable unit shared by the live build cache and the baked snapshot.
package artifact

import (
	"iter"
	"mime"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// An Artifact is a route path, its body and its content type.  Artifacts are not modified once constructed.
type Artifact struct {
	Path string // route path, always starts with "/"
	Body []byte
	Type string
}

// A Map associates route paths with artifacts.
type Map map[string]Artifact

// Routes returns the routes of the map in lexical order.
func (m Map) Routes() []string {
	routes := make([]string, 0, len(m))
	for route := range m {
		routes = append(routes, route)
	}
	sort.Strings(routes)
	return routes
}

// All returns a sequence of the map's artifacts in route order.  It never yields an error; the signature matches
// the sequences produced by builds.
func (m Map) All() iter.Seq2[Artifact, error] {
	return func(yield func(Artifact, error) bool) {
		for _, route := range m.Routes() {
			if !yield(m[route], nil) {
				return
			}
		}
	}
}

// HTML is the content type used for rewritten entry documents.
const HTML = `text/html;charset=utf-8`

// IsText reports whether content of the given type can be stored as text.
func IsText(contentType string) bool {
	return strings.HasPrefix(contentType, `text/`)
}

// TypeOf determines the content type of a file from its name, falling back to sniffing its contents.
func TypeOf(name string, body []byte) string {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case `.map`:
		return `application/json`
	case ``:
	default:
		if typ := mime.TypeByExtension(ext); typ != `` {
			return typ
		}
	}
	return mimetype.Detect(body).String()
}
