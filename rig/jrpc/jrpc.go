// Package jrpc speaks JSON-RPC 2.0 over a WebSocket.  A request carrying an ID is a call and gets exactly one
// response; a request without one is a procedure, which may notify the client until the connection goes away.
package jrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/PunchlY/hotbuild/rig/api"
	"github.com/PunchlY/hotbuild/rig/internal/socket"
	"github.com/PunchlY/hotbuild/rig/jrpc/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/swdunlop/html-go/hog"
	"nhooyr.io/websocket"
)

// API mounts a JSON-RPC endpoint on route.
func API(route string, options ...Option) api.Option {
	return api.Handle(route, Handle(options...))
}

// ReadLimit caps the size of an incoming message in bytes; the default of -1 leaves it unbounded.
func ReadLimit(limit int64) Option {
	return func(rt *router) { rt.readLimit = limit }
}

// Handle builds an endpoint that accepts a WebSocket and dispatches its requests until the peer disconnects.
func Handle(options ...Option) http.Handler {
	rt := &router{
		readLimit: -1,
		calls:     make(map[string]Handler, len(options)),
		procs:     make(map[string]Handler, len(options)),
	}
	rt.dispatch = rt.route
	for _, opt := range options {
		opt(rt)
	}
	return rt
}

// Use wraps every dispatch, including requests for unknown methods.  Later middleware runs first.
func Use(mw func(Handler) Handler) Option {
	return func(rt *router) { rt.dispatch = mw(rt.dispatch) }
}

// Trace tags the request logger with the method and ID, then logs the parameters at trace level.
func Trace() Option {
	return Use(func(next Handler) Handler {
		return func(ctx *Scope) {
			ctx.Context = hog.With(ctx.Context, func(z zerolog.Context) zerolog.Context {
				return z.Str(`id`, ctx.ID).Str(`method`, ctx.Method)
			})
			if evt := hog.From(ctx).Trace(); evt.Enabled() {
				params := ctx.Params
				if len(params) == 0 {
					params = json.RawMessage(`null`)
				}
				evt.RawJSON(`params`, params).Msg(`rpc`)
			}
			next(ctx)
		}
	})
}

// For binds req and send into a Scope.  Handlers are normally given one by the endpoint; tests build their own.
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

// Request is a JSON-RPC request as read off the wire.
type Request = protocol.Request

// Scope is the context of a single request along with the means to answer it.
type Scope struct {
	context.Context
	Request
	mu   sync.Mutex
	send func(msg []byte) error
}

// Succ answers the request with result.
func (ctx *Scope) Succ(result any) error { return ctx.reply(protocol.Response{Result: result}) }

// Fail answers the request with an error object.  Nothing else may be sent afterward.
func (ctx *Scope) Fail(code int, msg string) error {
	return ctx.reply(protocol.Response{Error: &protocol.Error{Code: code, Message: msg}})
}

// Notify pushes a notification to the peer.  Strict JSON-RPC clients may reject these.
func (ctx *Scope) Notify(method string, params any) error {
	js, err := json.Marshal(protocol.Notification{Version: protocol.Version, Method: method, Params: params})
	if err != nil {
		return err
	}
	return ctx.emit(js, false)
}

// Call issues a request to the peer without waiting for an answer.
func (ctx *Scope) Call(method string, params any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	js, err := json.Marshal(protocol.Request{Version: protocol.Version, Method: method, Params: raw})
	if err != nil {
		return err
	}
	return ctx.emit(js, false)
}

func (ctx *Scope) reply(rsp protocol.Response) error {
	rsp.Version, rsp.ID = protocol.Version, ctx.ID
	js, err := json.Marshal(&rsp)
	if err != nil {
		return fmt.Errorf(`%w while encoding response`, err)
	}
	return ctx.emit(js, true)
}

func (ctx *Scope) emit(msg []byte, final bool) error {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if ctx.send == nil {
		return fmt.Errorf(`request %q can no longer be answered`, ctx.Method)
	}
	err := ctx.send(msg)
	if final {
		ctx.send = nil
	}
	return err
}

// Option configures an endpoint built by Handle or API.
type Option func(*router)

type router struct {
	dispatch  Handler
	readLimit int64
	calls     map[string]Handler
	procs     map[string]Handler
}

func (rt *router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	err := socket.Serve(w, r, websocket.MessageText, rt.readLimit, func(msg []byte) (socket.Handler, error) {
		var req Request
		if err := json.Unmarshal(msg, &req); err != nil {
			return nil, err
		}
		return func(ctx context.Context, send socket.Send) { rt.dispatch(For(ctx, req, send)) }, nil
	})
	if err != nil {
		hog.For(r).Error().Err(err).Msg(`json-rpc connection failed`)
	}
}

func (rt *router) route(ctx *Scope) {
	table := rt.calls
	if ctx.ID == `` {
		table = rt.procs
	}
	if h := table[ctx.Method]; h != nil {
		h(ctx)
		return
	}
	if ctx.ID != `` {
		_ = ctx.Fail(protocol.MethodNotFound, fmt.Sprintf(`no method named %q`, ctx.Method))
	}
}

// Proc registers a procedure.  It gets no response, but may Notify through its scope until fn returns.
func Proc[I any](method string, fn func(*Scope, I)) Option {
	return func(rt *router) {
		rt.procs[method] = func(ctx *Scope) {
			var in I
			if err := decode(ctx.Params, &in); err != nil {
				hog.From(ctx).Warn().Err(err).Str(`method`, method).Msg(`dropping notification with bad params`)
				return
			}
			fn(ctx, in)
		}
	}
}

// Fn registers a call.  An error from fn becomes an internal error response.
func Fn[I, O any](method string, fn func(*Scope, I) (O, error)) Option {
	return func(rt *router) {
		rt.calls[method] = func(ctx *Scope) {
			var in I
			if err := decode(ctx.Params, &in); err != nil {
				_ = ctx.Fail(protocol.InvalidParams, fmt.Sprintf(`%v while decoding params`, err))
				return
			}
			out, err := fn(ctx, in)
			if err != nil {
				_ = ctx.Fail(protocol.InternalError, err.Error())
				return
			}
			_ = ctx.Succ(out)
		}
	}
}

func decode(params json.RawMessage, in any) error {
	if len(params) == 0 {
		return nil
	}
	return json.Unmarshal(params, in)
}

// Handler processes one request.
type Handler func(*Scope)
