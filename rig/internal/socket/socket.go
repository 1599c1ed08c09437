// Package socket runs the websocket read loop shared by jrpc and mrpc.
package socket

import (
	"context"
	"net/http"
	"sync"

	"nhooyr.io/websocket"
)

// Send writes one message to the peer.  It is safe for concurrent use.
type Send func(msg []byte) error

// A Handler runs one decoded message in its own goroutine.  Its context ends when the connection stops reading.
type Handler func(ctx context.Context, send Send)

// Serve upgrades the request and reads messages of type typ until the peer goes away, decoding each one with accept.
// Messages of any other type are ignored.  A decoding error closes the connection and is returned.  Serve returns
// only after every handler has.
func Serve(w http.ResponseWriter, r *http.Request, typ websocket.MessageType, readLimit int64, accept func(msg []byte) (Handler, error)) error {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		return err // Accept has already responded
	}
	defer func() { _ = c.CloseNow() }()
	c.SetReadLimit(readLimit)

	var group sync.WaitGroup
	defer group.Wait()
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel() // before group.Wait, so handlers blocked on ctx can finish

	var mu sync.Mutex
	send := func(msg []byte) error {
		mu.Lock()
		defer mu.Unlock()
		return c.Write(ctx, typ, msg)
	}
	for {
		mt, msg, err := c.Read(ctx)
		switch {
		case err == nil:
		case websocket.CloseStatus(err) >= 0, ctx.Err() != nil:
			return nil
		default:
			return err
		}
		if mt != typ {
			continue
		}
		handler, err := accept(msg)
		if err != nil {
			return err
		}
		group.Add(1)
		go func() {
			defer group.Done()
			handler(ctx, send)
		}()
	}
}
