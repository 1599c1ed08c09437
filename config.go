package main

import (
	"fmt"

	"github.com/PunchlY/hotbuild/rig/build"
	"github.com/PunchlY/hotbuild/rig/esbuild"
)

var (
	projectDir  string
	entryFile   string
	assetDir    string
	hotbuildEnv string
)

func production() bool { return hotbuildEnv == `production` }

// orchestrator returns a build orchestrator for the project described by flags and settings.
func orchestrator(options ...build.Option) (*build.Orchestrator, error) {
	options = append([]build.Option{build.Production(production())}, options...)
	if projectDir != `` {
		options = append(options, build.Dir(projectDir))
	}
	if entryFile != `` {
		options = append(options, build.Entry(entryFile))
	}
	if assetDir != `` {
		options = append(options, build.Assets(assetDir))
	}
	o, err := build.New(esbuild.New(), options...)
	if err != nil {
		return nil, fmt.Errorf(`%w while configuring the build`, err)
	}
	return o, nil
}
