package reload

import (
	"context"

	"github.com/PunchlY/hotbuild/rig/api"
	"github.com/PunchlY/hotbuild/rig/artifact"
	"github.com/PunchlY/hotbuild/rig/jrpc"
	"github.com/PunchlY/hotbuild/rig/mrpc"
	"github.com/PunchlY/hotbuild/rig/snapshot"
	"github.com/tinylib/msgp/msgp"
)

// A Controller refreshes the build cache; build.Orchestrator is one.
type Controller interface {
	Refresh(ctx context.Context, name string, force bool) (artifact.Map, error)
}

// Rebuilt is the result of a forced rebuild.
type Rebuilt struct {
	Generation uint64   `json:"generation"`
	Routes     []string `json:"routes"`
}

// API returns a JSON-RPC option at route with the functions "routes" and "rebuild" and the procedure "subscribe".
func API(route string, h *Hub, ctl Controller) api.Option {
	return jrpc.API(route,
		jrpc.Trace(),
		jrpc.Fn(`routes`, func(ctx *jrpc.Scope, _ struct{}) ([]string, error) {
			cache, err := ctl.Refresh(ctx, ``, false)
			if err != nil {
				return nil, err
			}
			return cache.Routes(), nil
		}),
		jrpc.Fn(`rebuild`, func(ctx *jrpc.Scope, _ struct{}) (Rebuilt, error) {
			cache, err := ctl.Refresh(ctx, ``, true)
			if err != nil {
				return Rebuilt{}, err
			}
			return Rebuilt{Generation: h.Generation(), Routes: cache.Routes()}, nil
		}),
		jrpc.Proc(`subscribe`, h.subscribe),
	)
}

// Snapshot returns a MessagePack RPC option at route with the function "snapshot", which encodes the current build
// cache the way a bake would, limited to routes with the requested prefix.
func Snapshot(route string, ctl Controller) api.Option {
	return mrpc.API(route, mrpc.CallFn(`snapshot`, func(ctx *mrpc.Scope, q Query) (snapshot.Encoded, error) {
		cache, err := ctl.Refresh(ctx, ``, false)
		if err != nil {
			return nil, err
		}
		e, err := snapshot.Encode(ctx, cache.All())
		if err != nil {
			return nil, err
		}
		return e.Filter(q.Prefix), nil
	}))
}

// A Query selects part of a snapshot.  It is encoded as a MessagePack map with the key "prefix".
type Query struct {
	Prefix string
}

// Msgsize implements msgp.Sizer
func (q *Query) Msgsize() int {
	return msgp.MapHeaderSize + msgp.StringPrefixSize + len(`prefix`) + msgp.StringPrefixSize + len(q.Prefix)
}

// MarshalMsg implements msgp.Marshaler
func (q *Query) MarshalMsg(b []byte) ([]byte, error) {
	b = msgp.AppendMapHeader(b, 1)
	b = msgp.AppendString(b, `prefix`)
	return msgp.AppendString(b, q.Prefix), nil
}

// UnmarshalMsg implements msgp.Unmarshaler
func (q *Query) UnmarshalMsg(b []byte) ([]byte, error) {
	n, b, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return b, err
	}
	for ; n > 0; n-- {
		var key string
		key, b, err = msgp.ReadStringBytes(b)
		if err != nil {
			return b, err
		}
		switch key {
		case `prefix`:
			q.Prefix, b, err = msgp.ReadStringBytes(b)
		default:
			b, err = msgp.Skip(b)
		}
		if err != nil {
			return b, err
		}
	}
	return b, nil
}
