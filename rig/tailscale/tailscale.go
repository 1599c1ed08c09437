// Package tailscale serves a rig from an embedded tsnet node instead of a local socket.
package tailscale

import (
	"context"
	"errors"
	"net"

	"github.com/PunchlY/hotbuild/rig"
	"github.com/PunchlY/hotbuild/rig/hook"
	"github.com/swdunlop/html-go/hog"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"
)

// Rig joins the tailnet and accepts connections on address.  An empty address means :443, or :80 with NoTLS.
func Rig(address string, options ...Option) rig.Option {
	return func(r *rig.Config) error {
		nd := node{address: address}
		for _, option := range options {
			if err := option(&nd); err != nil {
				return err
			}
		}
		if err := nd.prepare(); err != nil {
			return err
		}
		r.Hook(&nd)
		return nil
	}
}

type node struct {
	server  tsnet.Server
	address string
	funnel  bool
	plain   bool
	afterUp []func(*tsnet.Server, *ipnstate.Status) error
}

func (nd *node) prepare() error {
	switch {
	case nd.funnel && nd.plain:
		return errors.New(`tailscale funnel cannot be used without TLS`)
	case nd.address != ``:
	case nd.plain:
		nd.address = `:80`
	default:
		nd.address = `:443`
	}
	return nil
}

// Listen starts the node and opens its listener.  Closing that listener stops the node too.
func (nd *node) Listen(ctx context.Context) (net.Listener, error) {
	status, err := nd.server.Up(ctx)
	if err != nil {
		return nil, err
	}
	lr, err := nd.open(status)
	if err != nil {
		_ = nd.server.Close()
		return nil, err
	}
	hog.From(ctx).Info().
		Str(`hostname`, nd.server.Hostname).
		Str(`address`, nd.address).
		Bool(`funnel`, nd.funnel).
		Msg(`joined tailnet`)
	return nodeListener{lr, &nd.server}, nil
}

func (nd *node) open(status *ipnstate.Status) (net.Listener, error) {
	for _, fn := range nd.afterUp {
		if err := fn(&nd.server, status); err != nil {
			return nil, err
		}
	}
	switch {
	case nd.funnel:
		return nd.server.ListenFunnel(`tcp`, nd.address)
	case nd.plain:
		return nd.server.Listen(`tcp`, nd.address)
	default:
		return nd.server.ListenTLS(`tcp`, nd.address)
	}
}

type nodeListener struct {
	net.Listener
	server *tsnet.Server
}

func (lr nodeListener) Close() error {
	return errors.Join(lr.Listener.Close(), lr.server.Close())
}

var _ hook.Listen = (*node)(nil)

// Option adjusts the node before it starts.
type Option func(*node) error

// Dir keeps the node's state in dir.
func Dir(dir string) Option {
	return func(nd *node) error {
		nd.server.Dir = dir
		return nil
	}
}

// Hostname names the machine on the tailnet; tsnet falls back to the OS hostname.
func Hostname(hostname string) Option {
	return func(nd *node) error {
		nd.server.Hostname = hostname
		return nil
	}
}

// Funnel exposes the service to the public internet.
func Funnel() Option {
	return func(nd *node) error {
		nd.funnel = true
		return nil
	}
}

// NoTLS serves plain HTTP on the tailnet.  Funnel rejects it.
func NoTLS() Option {
	return func(nd *node) error {
		nd.plain = true
		return nil
	}
}

// Logf receives tsnet's backend logs, of which there are many.
func Logf(f func(format string, args ...any)) Option {
	return func(nd *node) error {
		nd.server.Logf = f
		return nil
	}
}

// HookUp runs fn after the node is authorized and before it listens.  An error stops the node.
func HookUp(fn func(*tsnet.Server, *ipnstate.Status) error) Option {
	return func(nd *node) error {
		nd.afterUp = append(nd.afterUp, fn)
		return nil
	}
}
