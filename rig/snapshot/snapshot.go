// Package snapshot bakes build outputs and static assets into a compact structure that can be compiled into a
// program, and reconstructs servable artifacts from it at start up.
//
// An encoded snapshot groups payloads by encoding, then content type, then route:
//
//	{"utf-8": {"text/html;charset=utf-8": {"/": "<!DOCTYPE html>..."}},
//	 "base64": {"image/png": {"/public/logo.png": "iVBORw0KGgo..."}}}
//
// Text types are stored as-is, everything else as standard base64.  Each route appears exactly once; when two
// artifacts share a route, the one added last wins.
package snapshot

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"

	"github.com/PunchlY/hotbuild/rig/artifact"
	"github.com/swdunlop/html-go/hog"
)

// An Encoding names how a payload is stored.
type Encoding string

const (
	Text   Encoding = `utf-8`
	Base64 Encoding = `base64`
)

// EncodingOf returns the encoding used for content of the given type.
func EncodingOf(contentType string) Encoding {
	if artifact.IsText(contentType) {
		return Text
	}
	return Base64
}

// ErrUnknownEncoding is returned when decoding a payload with an encoding other than Text or Base64.
var ErrUnknownEncoding = errors.New(`unknown snapshot encoding`)

// Encoded maps encodings to content types to routes to payloads.
type Encoded map[Encoding]map[string]map[string]string

// Add encodes an artifact into the snapshot, replacing any artifact previously added at the same route.
func (e Encoded) Add(it artifact.Artifact) {
	e.remove(it.Path)
	enc := EncodingOf(it.Type)
	types := e[enc]
	if types == nil {
		types = make(map[string]map[string]string)
		e[enc] = types
	}
	routes := types[it.Type]
	if routes == nil {
		routes = make(map[string]string)
		types[it.Type] = routes
	}
	switch enc {
	case Text:
		routes[it.Path] = string(it.Body)
	default:
		routes[it.Path] = base64.StdEncoding.EncodeToString(it.Body)
	}
}

func (e Encoded) remove(route string) {
	for enc, types := range e {
		for typ, routes := range types {
			if _, ok := routes[route]; !ok {
				continue
			}
			delete(routes, route)
			if len(routes) == 0 {
				delete(types, typ)
			}
			if len(types) == 0 {
				delete(e, enc)
			}
			return
		}
	}
}

// Len returns the number of routes in the snapshot.
func (e Encoded) Len() int {
	n := 0
	for _, types := range e {
		for _, routes := range types {
			n += len(routes)
		}
	}
	return n
}

// Filter returns the part of the snapshot whose routes start with prefix.
func (e Encoded) Filter(prefix string) Encoded {
	ret := make(Encoded)
	for enc, types := range e {
		for typ, routes := range types {
			for route, payload := range routes {
				if !strings.HasPrefix(route, prefix) {
					continue
				}
				if ret[enc] == nil {
					ret[enc] = make(map[string]map[string]string)
				}
				if ret[enc][typ] == nil {
					ret[enc][typ] = make(map[string]string)
				}
				ret[enc][typ][route] = payload
			}
		}
	}
	return ret
}

// Encode consumes seq into a new snapshot.  If seq yields an error, nothing is returned but the error.
func Encode(ctx context.Context, seq iter.Seq2[artifact.Artifact, error]) (Encoded, error) {
	e := make(Encoded)
	log := hog.From(ctx)
	for it, err := range seq {
		if err != nil {
			return nil, err
		}
		e.Add(it)
		log.Debug().Str(`path`, it.Path).Str(`type`, it.Type).Msg(`asset`)
	}
	return e, nil
}

// Decode reverses Encode.  The order in which payloads are decoded is irrelevant since every route appears once.
func Decode(e Encoded) (artifact.Map, error) {
	ret := make(artifact.Map, e.Len())
	for enc, types := range e {
		for typ, routes := range types {
			for route, payload := range routes {
				var body []byte
				switch enc {
				case Text:
					body = []byte(payload)
				case Base64:
					var err error
					body, err = base64.StdEncoding.DecodeString(payload)
					if err != nil {
						return nil, fmt.Errorf(`%w while decoding %q`, err, route)
					}
				default:
					return nil, fmt.Errorf(`%w %q for %q`, ErrUnknownEncoding, enc, route)
				}
				ret[route] = artifact.Artifact{Path: route, Body: body, Type: typ}
			}
		}
	}
	return ret, nil
}

// A Builder produces the build outputs of a snapshot and knows where its static assets live.
type Builder interface {
	Build(ctx context.Context) iter.Seq2[artifact.Artifact, error]
	Production() bool
	Root() string
	AssetDir() string
}

// Bake encodes a production build followed by every file in the builder's asset directory.  Asset files win over
// build outputs at the same route.  Outside of production this returns an empty snapshot without building.
func Bake(ctx context.Context, b Builder) (Encoded, error) {
	if !b.Production() {
		return Encoded{}, nil
	}
	return Encode(ctx, Concat(b.Build(ctx), Assets(b.Root(), b.AssetDir())))
}

// Static returns a function that loads and decodes a persisted snapshot the first time it is called and returns the
// same routes on every later call.
func Static(data []byte) func() (artifact.Map, error) {
	return sync.OnceValues(func() (artifact.Map, error) {
		e, err := Load(data)
		if err != nil {
			return nil, err
		}
		return Decode(e)
	})
}
