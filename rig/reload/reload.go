// Package reload tells browsers and tools when the build cache has been replaced.  Browsers listen for server sent
// "build" events at Route; RPC clients may subscribe over a websocket instead.
package reload

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PunchlY/hotbuild/rig"
	"github.com/PunchlY/hotbuild/rig/jrpc"
	"github.com/swdunlop/html-go/hog"
	"github.com/tmaxmax/go-sse"
)

// Route is where build events are streamed.
const Route = `/_rig/build`

// An Event describes a completed build.
type Event struct {
	Generation uint64    `json:"generation"`
	Time       time.Time `json:"time"`
}

// A Hub fans build events out to every listener.  The zero value is not usable, see New.
type Hub struct {
	sse        sse.Server
	generation atomic.Uint64
	mu         sync.Mutex
	subs       map[*jrpc.Scope]struct{}
}

// New returns an empty hub.
func New() *Hub {
	return &Hub{subs: make(map[*jrpc.Scope]struct{})}
}

// Generation returns the number of builds published so far.
func (h *Hub) Generation() uint64 { return h.generation.Load() }

// Publish announces a new build to every listener.  It has the signature expected by build.Notify.
func (h *Hub) Publish(ctx context.Context) {
	evt := Event{Generation: h.generation.Add(1), Time: time.Now().UTC()}
	log := hog.From(ctx)
	js, err := json.Marshal(evt)
	if err != nil {
		log.Error().Err(err).Msg(`could not encode build event`)
		return
	}
	msg := &sse.Message{Type: sse.Type(`build`)}
	msg.AppendData(string(js))
	if err := h.sse.Publish(msg); err != nil {
		log.Warn().Err(err).Msg(`could not publish build event`)
	}

	h.mu.Lock()
	subs := make([]*jrpc.Scope, 0, len(h.subs))
	for it := range h.subs {
		subs = append(subs, it)
	}
	h.mu.Unlock()
	for _, it := range subs {
		if err := it.Notify(`build`, evt); err != nil {
			log.Debug().Err(err).Msg(`dropped build notification`)
		}
	}
	log.Debug().Uint64(`generation`, evt.Generation).Int(`subscribers`, len(subs)).Msg(`build published`)
}

// subscribe holds a notification scope open until its connection ends, forwarding build events to it.
func (h *Hub) subscribe(ctx *jrpc.Scope, _ struct{}) {
	h.mu.Lock()
	h.subs[ctx] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.subs, ctx)
		h.mu.Unlock()
	}()
	<-ctx.Done()
}

// ServeHTTP streams build events to the client until it disconnects or the hub shuts down.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.sse.ServeHTTP(w, r)
}

// Shutdown ends every event stream.  Later events are dropped.
func (h *Hub) Shutdown(ctx context.Context) error {
	return h.sse.Shutdown(ctx)
}

// Rig returns a rig option that serves the hub at Route and shuts it down with the server.
func Rig(h *Hub) rig.Option {
	return func(r *rig.Config) error {
		r.Hook(h)
		return nil
	}
}

// RigMux implements hook.Mux.
func (h *Hub) RigMux(mux *http.ServeMux) {
	mux.Handle(`GET `+Route, h)
}

// RigServer implements hook.Server.
func (h *Hub) RigServer(svr *http.Server) {
	svr.RegisterOnShutdown(func() { _ = h.Shutdown(context.Background()) })
}
