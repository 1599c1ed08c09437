// Command example serves the web project in this directory and must be run from it.  Built normally it rebuilds the
// project as files change; built with the deploy tag it serves the snapshot baked by go generate and needs nothing but
// its own binary.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/PunchlY/hotbuild/rig"
	"github.com/PunchlY/hotbuild/rig/local"
	"github.com/PunchlY/hotbuild/rig/www"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/swdunlop/html-go/hog"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: `2006-01-02 15:04:05`}).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &log
	zlog.Logger = log

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	err := run(ctx)
	if err != nil {
		hog.From(ctx).Fatal().Err(err).Msg(`example failed`)
	}
}

func run(ctx context.Context) error {
	src, options, err := source(ctx)
	if err != nil {
		return err
	}
	options = append(options,
		local.Rig(local.TCP(rig.DefaultAddress)),
		www.Rig(src, www.Compress()),
	)
	return rig.Serve(ctx, options...)
}
