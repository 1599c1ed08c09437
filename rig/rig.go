// Package rig assembles an HTTP server from hooks contributed by options such as www, reload, api, local and
// tailscale.  See the hook package for the interfaces a hook may implement.
package rig

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"

	"github.com/PunchlY/hotbuild/rig/hook"
	"github.com/swdunlop/html-go/hog"
)

// DefaultAddress is the TCP address used when no hook provides a listener.
const DefaultAddress = `localhost:8080`

// Main serves until the process receives an interrupt.
func Main(options ...Option) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	return Serve(ctx, options...)
}

// Serve builds a Config from options and serves it until ctx is cancelled.
func Serve(ctx context.Context, options ...Option) error {
	cfg, err := New(options...)
	if err != nil {
		return err
	}
	return cfg.Serve(ctx)
}

// New collects the hooks contributed by options without starting anything.
func New(options ...Option) (*Config, error) {
	var cfg Config
	if err := cfg.Apply(options...); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Config gathers the hooks that make up a server.  It can be served once.
type Config struct {
	state state
	hooks []any
	done  <-chan struct{}
}

type state int

const (
	configuring state = iota
	serving
	stopped
)

// Done is closed as the server begins shutting down, and is nil whenever the config is not serving.
func (cfg *Config) Done() <-chan struct{} {
	return cfg.done
}

// Hook records values implementing one or more of the hook interfaces.  Options call it; applications rarely need to.
func (cfg *Config) Hook(hooks ...any) {
	cfg.hooks = append(cfg.hooks, hooks...)
}

// Apply runs options against the config, stopping at the first error.  It is an error once Serve has been called.
func (cfg *Config) Apply(options ...Option) error {
	switch cfg.state {
	case serving:
		return errors.New(`rig is already serving`)
	case stopped:
		return errors.New(`rig has already been served`)
	}
	for _, option := range options {
		if err := option(cfg); err != nil {
			return err
		}
	}
	return nil
}

// Handler assembles the multiplexer from Mux hooks and returns the handler left after Server hooks have wrapped it.
func (cfg *Config) Handler() http.Handler {
	return cfg.server().Handler
}

func (cfg *Config) server() *http.Server {
	hooks := hook.Order(cfg.hooks...)
	mux := http.NewServeMux()
	for _, it := range hooks {
		if impl, ok := it.(hook.Mux); ok {
			impl.RigMux(mux)
		}
	}
	svr := &http.Server{Handler: mux}
	for _, it := range hooks {
		if impl, ok := it.(hook.Server); ok {
			impl.RigServer(svr)
		}
	}
	return svr
}

func (cfg *Config) listen(ctx context.Context) (net.Listener, error) {
	hooks := hook.Order(cfg.hooks...)
	for _, it := range hooks {
		if impl, ok := it.(hook.Listen); ok {
			return impl.Listen(ctx)
		}
	}
	var lcf net.ListenConfig
	for _, it := range hooks {
		if impl, ok := it.(hook.Listener); ok {
			impl.RigListener(&lcf)
		}
	}
	return lcf.Listen(ctx, `tcp`, DefaultAddress)
}

// Serve answers requests until ctx is cancelled, then shuts the server down gracefully.
func (cfg *Config) Serve(ctx context.Context) error {
	if err := cfg.Apply(); err != nil {
		return err
	}
	cfg.state = serving
	defer func() { cfg.state = stopped }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	cfg.done = ctx.Done()
	defer func() { cfg.done = nil }()

	svr := cfg.server()
	svr.BaseContext = func(net.Listener) context.Context { return ctx }
	lr, err := cfg.listen(ctx)
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { _ = svr.Shutdown(context.Background()) })
	defer stop()

	log := hog.From(ctx).With().Str(`address`, lr.Addr().String()).Logger()
	log.Info().Msg(`listening`)
	err = svr.Serve(lr) // closes lr
	if errors.Is(err, http.ErrServerClosed) {
		log.Info().Msg(`stopped`)
		return nil
	}
	log.Error().Err(err).Msg(`server failed`)
	return err
}

// An Option contributes hooks to a Config before it is served.
type Option func(*Config) error

// Apply bundles several options so they can be passed as one.
func Apply(options ...Option) Option {
	return func(cfg *Config) error {
		return cfg.Apply(options...)
	}
}
