// Package local serves a rig from a TCP port or Unix domain socket on this machine.
package local

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"os"
	"time"

	"github.com/PunchlY/hotbuild/rig"
	"github.com/PunchlY/hotbuild/rig/hook"
	"github.com/swdunlop/html-go/hog"
)

// Rig hooks a listener described by options into the rig.  Some option must name both a network and an address.
func Rig(options ...Option) rig.Option {
	return func(r *rig.Config) error {
		var ep endpoint
		for _, option := range options {
			if err := option(&ep); err != nil {
				return err
			}
		}
		if ep.network == `` || ep.address == `` {
			return errors.New(`local listener needs a network and an address`)
		}
		r.Hook(&ep)
		return nil
	}
}

// Option describes the local listener.
type Option func(*endpoint) error

type endpoint struct {
	network string
	address string
	lcf     net.ListenConfig
}

// TCP listens on a host:port.
func TCP(address string) Option { return Listen(`tcp`, address) }

// Unix listens on a socket file, replacing whatever stale socket was left at path.
func Unix(path string) Option { return Listen(`unix`, path) }

// Listen accepts any network and address understood by net.Listen.
func Listen(network, address string) Option {
	return func(ep *endpoint) error {
		ep.network, ep.address = network, address
		return nil
	}
}

// KeepAlive sets the TCP keepalive period of accepted connections.
func KeepAlive(period time.Duration) Option {
	return ListenConfig(func(lcf *net.ListenConfig) { lcf.KeepAlive = period })
}

// ListenConfig exposes the underlying net.ListenConfig to fn.
func ListenConfig(fns ...func(*net.ListenConfig)) Option {
	return func(ep *endpoint) error {
		for _, fn := range fns {
			fn(&ep.lcf)
		}
		return nil
	}
}

func (ep *endpoint) Listen(ctx context.Context) (net.Listener, error) {
	if ep.network == `unix` {
		if err := os.Remove(ep.address); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	hog.From(ctx).Debug().Str(`network`, ep.network).Str(`address`, ep.address).Msg(`opening local listener`)
	return ep.lcf.Listen(ctx, ep.network, ep.address)
}

var _ hook.Listen = (*endpoint)(nil)
