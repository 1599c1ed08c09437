package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/PunchlY/hotbuild/rig"
	"github.com/PunchlY/hotbuild/rig/api"
	"github.com/PunchlY/hotbuild/rig/build"
	"github.com/PunchlY/hotbuild/rig/local"
	"github.com/PunchlY/hotbuild/rig/reload"
	"github.com/PunchlY/hotbuild/rig/snapshot"
	"github.com/PunchlY/hotbuild/rig/tailscale"
	"github.com/PunchlY/hotbuild/rig/www"
	"github.com/swdunlop/html-go/hog"
	"github.com/swdunlop/zugzug-go"
	"github.com/swdunlop/zugzug-go/zug/parser"
)

func init() {
	tasks = append(tasks, zugzug.Tasks{
		{Name: `serve`, Use: `Serves the project, rebuilding it as it changes or from a baked snapshot in production`, Fn: serveProject, Parser: parser.New(
			parser.String(&projectDir, `dir`, `d`, `The project directory (default: the working directory)`),
			parser.String(&entryFile, `entry`, `e`, `The entry HTML document relative to the project directory (default: "index.html")`),
			parser.String(&assetDir, `assets`, `a`, `The static asset directory relative to the project directory (default: "public")`),
			parser.String(&snapshotFile, `snapshot`, `s`, `The baked snapshot served in production (default: "snapshot.msgp")`),
		), Settings: zugzug.Settings{
			{Var: &hotbuildEnv, Name: `HOTBUILD_ENV`,
				Use: `Set to "production" to serve a baked snapshot instead of building`},
			{Var: &useGzip, Name: `GZIP`,
				Use: `Compresses responses when clients accept gzip`},

			{Var: &listenNetwork, Name: `LISTEN_NETWORK`,
				Use: `Network passed to net.Listen, such as "unix" (default: "tcp")`},
			{Var: &listenAddress, Name: `LISTEN_ADDRESS`,
				Use: `Address passed to net.Listen; required unless the network is TCP (default: "localhost:8080")`},

			{Var: &tailscaleHostname, Name: `TAILSCALE_HOSTNAME`,
				Use: `Joins the tailnet under this machine name instead of listening locally`},
			{Var: &tailscaleFunnel, Name: `TAILSCALE_FUNNEL`,
				Use: `Publishes the server to the internet through Tailscale Funnel`},
			{Var: &tailscaleListen, Name: `TAILSCALE_LISTEN`,
				Use: `Address to accept tailnet connections on (default: ":443", or ":80" without TLS)`},
			{Var: &tailscaleDir, Name: `TAILSCALE_DIR`,
				Use: `Where the embedded Tailscale node keeps its state`},
			{Var: &noTailscaleTLS, Name: `NO_TAILSCALE_TLS`,
				Use: `Serves plain HTTP on the tailnet`},
		}},
	}...)
}

// Routes of the development RPC endpoints.
const (
	rpcRoute      = `GET /_rig/rpc`
	snapshotRoute = `GET /_rig/snapshot`
)

func serveProject(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()

	options, err := listenOptions(ctx)
	if err != nil {
		return err
	}
	var wwwOptions []www.Option
	if useGzip {
		wwwOptions = append(wwwOptions, www.Compress())
	}

	if production() {
		if snapshotFile == `` {
			snapshotFile = `snapshot.msgp`
		}
		data, err := os.ReadFile(snapshotFile)
		if err != nil {
			return fmt.Errorf(`%w while reading the snapshot, has it been baked?`, err)
		}
		static := snapshot.Static(data)
		routes, err := static()
		if err != nil {
			return err
		}
		hog.From(ctx).Info().Str(`snapshot`, snapshotFile).Int(`routes`, len(routes)).Msg(`serving snapshot`)
		options = append(options, www.Rig(www.Snapshot(static), wwwOptions...))
		return rig.Serve(ctx, options...)
	}

	hub := reload.New()
	o, err := orchestrator(
		build.Watch(ctx, `**/node_modules/**`, `**/.git/**`),
		build.Notify(hub.Publish),
	)
	if err != nil {
		return err
	}
	defer func() { _ = o.Watches().Close() }()
	_, err = o.Refresh(ctx, ``, false)
	if err != nil {
		return err
	}
	options = append(options,
		www.Rig(www.SourceFunc(o.Dev), wwwOptions...),
		reload.Rig(hub),
		api.Rig(
			reload.API(rpcRoute, hub, o),
			reload.Snapshot(snapshotRoute, o),
		),
	)
	return rig.Serve(ctx, options...)
}

// listenOptions picks a Tailscale node when any Tailscale setting asks for one, and a local socket otherwise.
func listenOptions(ctx context.Context) ([]rig.Option, error) {
	if tailscaleFunnel || tailscaleHostname != `` || tailscaleListen != `` {
		opt, err := tailnetListener(ctx)
		if err != nil {
			return nil, err
		}
		return []rig.Option{opt}, nil
	}
	network, address := listenNetwork, listenAddress
	if network == `` {
		network = `tcp`
	}
	if address == `` {
		if network != `tcp` {
			return nil, fmt.Errorf(`LISTEN_ADDRESS is required when LISTEN_NETWORK is %q`, network)
		}
		address = rig.DefaultAddress
	}
	return []rig.Option{local.Rig(local.Listen(network, address))}, nil
}

func tailnetListener(ctx context.Context) (rig.Option, error) {
	log := hog.From(ctx)
	options := []tailscale.Option{
		tailscale.Logf(func(format string, args ...any) { log.Trace().Msgf(format, args...) }),
	}
	if tailscaleFunnel {
		switch {
		case noTailscaleTLS:
			return nil, errors.New(`TAILSCALE_FUNNEL cannot be combined with NO_TAILSCALE_TLS`)
		case tailscaleListen != ``:
			return nil, errors.New(`TAILSCALE_FUNNEL cannot be combined with TAILSCALE_LISTEN`)
		}
		options = append(options, tailscale.Funnel())
	}
	if noTailscaleTLS {
		options = append(options, tailscale.NoTLS())
	}
	if tailscaleHostname != `` {
		options = append(options, tailscale.Hostname(tailscaleHostname))
	}
	if tailscaleDir != `` {
		options = append(options, tailscale.Dir(tailscaleDir))
	}
	return tailscale.Rig(tailscaleListen, options...), nil
}

var (
	snapshotFile string
	useGzip      bool

	listenNetwork string
	listenAddress string

	tailscaleFunnel   bool
	tailscaleHostname string
	tailscaleListen   string
	tailscaleDir      string
	noTailscaleTLS    bool
)
