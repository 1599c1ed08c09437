package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/PunchlY/hotbuild/rig"
	"github.com/PunchlY/hotbuild/rig/artifact"
	"github.com/PunchlY/hotbuild/rig/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetSettings(t *testing.T) {
	t.Cleanup(func() {
		listenNetwork, listenAddress = ``, ``
		tailscaleFunnel, tailscaleHostname, tailscaleListen, tailscaleDir, noTailscaleTLS = false, ``, ``, ``, false
		compressSnapshot = false
	})
}

func TestListenDefaults(t *testing.T) {
	resetSettings(t)
	options, err := listenOptions(context.Background())
	require.NoError(t, err)
	assert.Len(t, options, 1)
	_, err = rig.New(options...)
	assert.NoError(t, err)

	tailscaleHostname, noTailscaleTLS = `hotbuild`, true
	options, err = listenOptions(context.Background())
	require.NoError(t, err)
	assert.Len(t, options, 1)
	_, err = rig.New(options...)
	assert.NoError(t, err)
}

func TestListenRejectsIncompleteSettings(t *testing.T) {
	resetSettings(t)
	listenNetwork = `unix`
	_, err := listenOptions(context.Background())
	assert.Error(t, err)

	listenNetwork = ``
	tailscaleFunnel, noTailscaleTLS = true, true
	_, err = listenOptions(context.Background())
	assert.Error(t, err)

	noTailscaleTLS, tailscaleListen = false, `:8443`
	_, err = listenOptions(context.Background())
	assert.Error(t, err)
}

func TestWriteSnapshot(t *testing.T) {
	resetSettings(t)
	compressSnapshot = true
	dir := t.TempDir()
	name := filepath.Join(dir, `snapshot.msgp`)
	e := make(snapshot.Encoded)
	e.Add(artifact.Artifact{Path: `/`, Body: []byte(`<html></html>`), Type: artifact.HTML})
	require.NoError(t, writeSnapshot(name, e))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temporary files are left behind")

	data, err := os.ReadFile(name)
	require.NoError(t, err)
	loaded, err := snapshot.Load(data)
	require.NoError(t, err)
	assert.Equal(t, e, loaded)
}
