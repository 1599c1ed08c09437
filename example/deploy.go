//go:build deploy

package main

import (
	"context"
	_ "embed"

	"github.com/PunchlY/hotbuild/rig"
	"github.com/PunchlY/hotbuild/rig/snapshot"
	"github.com/PunchlY/hotbuild/rig/www"
)

//go:embed snapshot.msgp
var baked []byte

var static = snapshot.Static(baked)

// source serves the baked snapshot, decoding it once before the first request.
func source(context.Context) (www.Source, []rig.Option, error) {
	_, err := static()
	if err != nil {
		return nil, nil, err
	}
	return www.Snapshot(static), nil, nil
}
