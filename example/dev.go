//go:build !deploy

package main

import (
	"context"

	"github.com/PunchlY/hotbuild/rig"
	"github.com/PunchlY/hotbuild/rig/api"
	"github.com/PunchlY/hotbuild/rig/build"
	"github.com/PunchlY/hotbuild/rig/esbuild"
	"github.com/PunchlY/hotbuild/rig/reload"
	"github.com/PunchlY/hotbuild/rig/www"
)

// source builds the project from the working directory, rebuilding and notifying browsers as files change.
func source(ctx context.Context) (www.Source, []rig.Option, error) {
	hub := reload.New()
	o, err := build.New(esbuild.New(),
		build.Watch(ctx, `**/node_modules/**`),
		build.Notify(hub.Publish),
	)
	if err != nil {
		return nil, nil, err
	}
	go func() {
		<-ctx.Done()
		_ = o.Watches().Close()
	}()
	return www.SourceFunc(o.Dev), []rig.Option{
		reload.Rig(hub),
		api.Rig(reload.API(`GET /_rig/rpc`, hub, o)),
	}, nil
}
