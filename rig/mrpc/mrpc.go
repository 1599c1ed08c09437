// Package mrpc carries MessagePack calls and streams over a WebSocket.  Binary frames keep payloads such as build
// snapshots compact where JSON would inflate them.
package mrpc

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/PunchlY/hotbuild/rig/api"
	"github.com/PunchlY/hotbuild/rig/internal/socket"
	"github.com/PunchlY/hotbuild/rig/mrpc/internal/protocol"
	"github.com/swdunlop/html-go/hog"
	"github.com/tinylib/msgp/msgp"
	"nhooyr.io/websocket"
)

// Failure codes sent in a Fail.
const (
	CodeNotFound = 404
	CodeBadInput = 406
	CodeInternal = 500
)

const (
	methodCall     = `call`
	methodStart    = `start`
	responseSucc   = `succ`
	responseYield  = `yield`
	responseEnd    = `end`
	responseFailed = `fail`
)

// API mounts a MessagePack RPC endpoint on route.
func API(route string, options ...Option) api.Option {
	return api.Handle(route, Handle(options...))
}

// Handle builds an endpoint that accepts a WebSocket and serves binary requests until the peer disconnects.
func Handle(options ...Option) http.Handler {
	rt := &router{
		calls:   make(map[string]Handler, len(options)),
		streams: make(map[string]Handler, len(options)),
	}
	rt.dispatch = rt.route
	for _, opt := range options {
		opt(rt)
	}
	return rt
}

// Use wraps every dispatch.  Later middleware runs first.
func Use(mw func(Handler) Handler) Option {
	return func(rt *router) { rt.dispatch = mw(rt.dispatch) }
}

// For binds req and send into a Scope, which is mainly useful to tests.
func For(ctx context.Context, req Request, send func(msg []byte) error) *Scope {
	scope := &Scope{Request: req, send: send}
	scope.Context = context.WithValue(ctx, scopeKey{}, scope)
	return scope
}

// From finds the Scope carried by ctx, if any.
func From(ctx context.Context) *Scope {
	scope, _ := ctx.Value(scopeKey{}).(*Scope)
	return scope
}

type scopeKey struct{}

// Request is a request as read off the wire.
type Request = protocol.Request

// Fail is the payload of a failure response.
type Fail = protocol.Fail

// Scope is the context of a single request along with the means to answer it.
type Scope struct {
	context.Context
	Request
	mu   sync.Mutex
	send func(msg []byte) error
}

// Succ answers a call with output.
func (ctx *Scope) Succ(output msgp.MarshalSizer) error { return ctx.reply(responseSucc, output, true) }

// Yield streams one output of a started function.
func (ctx *Scope) Yield(output msgp.MarshalSizer) error { return ctx.reply(responseYield, output, false) }

// End closes a stream.  Nothing else may be sent afterward.
func (ctx *Scope) End() error { return ctx.reply(responseEnd, nil, true) }

// Fail ends the request with a code and message.  Nothing else may be sent afterward.
func (ctx *Scope) Fail(code int, msg string) error {
	return ctx.reply(responseFailed, protocol.Fail{Code: code, Msg: msg}, true)
}

func (ctx *Scope) reply(kind string, output msgp.MarshalSizer, final bool) error {
	rsp := protocol.Response{ID: ctx.ID, Method: kind, Output: output}
	msg, err := rsp.MarshalMsg(make([]byte, 0, rsp.Msgsize()))
	if err != nil {
		return fmt.Errorf(`%w while encoding %v response`, err, kind)
	}
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if ctx.send == nil {
		return fmt.Errorf(`request %q can no longer be answered`, ctx.ID)
	}
	err = ctx.send(msg)
	if final {
		ctx.send = nil
	}
	return err
}

// Option configures an endpoint built by Handle or API.
type Option func(*router)

type router struct {
	dispatch Handler
	calls    map[string]Handler
	streams  map[string]Handler
}

func (rt *router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	err := socket.Serve(w, r, websocket.MessageBinary, -1, func(msg []byte) (socket.Handler, error) {
		var req Request
		if _, err := req.UnmarshalMsg(msg); err != nil {
			return nil, err
		}
		return func(ctx context.Context, send socket.Send) { rt.dispatch(For(ctx, req, send)) }, nil
	})
	if err != nil {
		hog.For(r).Error().Err(err).Msg(`msgpack rpc connection failed`)
	}
}

func (rt *router) route(ctx *Scope) {
	var table map[string]Handler
	switch ctx.Method {
	case methodCall:
		table = rt.calls
	case methodStart:
		table = rt.streams
	default:
		_ = ctx.Fail(CodeNotFound, fmt.Sprintf(`unsupported method %q`, ctx.Method))
		return
	}
	if h := table[ctx.Function]; h != nil {
		h(ctx)
		return
	}
	_ = ctx.Fail(CodeNotFound, fmt.Sprintf(`no %v function named %q`, ctx.Method, ctx.Function))
}

// CallFn registers a function that answers a "call" with a single output.
func CallFn[I any, PI Input[I], O any, PO Output[O]](function string, fn func(*Scope, I) (O, error)) Option {
	return func(rt *router) {
		rt.calls[function] = func(ctx *Scope) {
			in, err := decode[I, PI](ctx.Input)
			if err != nil {
				_ = ctx.Fail(CodeBadInput, fmt.Sprintf(`%v while decoding input`, err))
				return
			}
			out, err := fn(ctx, in)
			if err != nil {
				_ = ctx.Fail(CodeInternal, err.Error())
				return
			}
			_ = ctx.Succ(PO(&out))
		}
	}
}

// StartFn registers a function that answers a "start" with a stream.  Each value passed to yield is sent as it is
// produced; the stream is closed with "end", or with "fail" if fn returns an error.
func StartFn[I any, PI Input[I], O any, PO Output[O]](function string, fn func(ctx *Scope, in I, yield func(O) error) error) Option {
	return func(rt *router) {
		rt.streams[function] = func(ctx *Scope) {
			in, err := decode[I, PI](ctx.Input)
			if err != nil {
				_ = ctx.Fail(CodeBadInput, fmt.Sprintf(`%v while decoding input`, err))
				return
			}
			err = fn(ctx, in, func(out O) error { return ctx.Yield(PO(&out)) })
			if err != nil {
				_ = ctx.Fail(CodeInternal, err.Error())
				return
			}
			_ = ctx.End()
		}
	}
}

// decode treats a missing or nil input as the zero value.
func decode[I any, PI Input[I]](raw msgp.Raw) (I, error) {
	var in I
	if len(raw) == 0 || msgp.IsNil(raw) {
		return in, nil
	}
	_, err := PI(&in).UnmarshalMsg(raw)
	return in, err
}

// Handler processes one request.
type Handler func(*Scope)

// Input is satisfied by a pointer to I that can be read from MessagePack.
type Input[I any] interface {
	*I
	msgp.Unmarshaler
}

// Output is satisfied by a pointer to O that can be written as MessagePack.
type Output[O any] interface {
	*O
	msgp.MarshalSizer
}
