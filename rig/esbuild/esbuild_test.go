package esbuild

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/PunchlY/hotbuild/rig/bundle"
	esbuild "github.com/evanw/esbuild/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func TestBundleSplitsAndReportsProvenance(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		`src/shared.js`: "export function shared(x) { return x * 2 }\n",
		`src/a.js`:      "import { shared } from './shared.js'\nconsole.log('a', shared(1))\n",
		`src/b.js`:      "import { shared } from './shared.js'\nconsole.log('b', shared(2))\n",
	})
	a, b := filepath.Join(dir, `src`, `a.js`), filepath.Join(dir, `src`, `b.js`)

	ret, err := New().Bundle(context.Background(), bundle.Request{
		Entrypoints: []string{b, a},
		Dir:         dir,
	})
	require.NoError(t, err)
	require.True(t, ret.Success, "%v", ret.Diagnostics)

	var entries, chunks []bundle.Output
	for _, out := range ret.Outputs {
		switch out.Kind {
		case bundle.Entry:
			entries = append(entries, out)
		case bundle.Chunk:
			chunks = append(chunks, out)
		}
	}
	require.Len(t, entries, 2)
	assert.True(t, strings.HasPrefix(filepath.Base(entries[0].Path), `b.`), entries[0].Path)
	assert.True(t, strings.HasPrefix(filepath.Base(entries[1].Path), `a.`), entries[1].Path)
	assert.Contains(t, entries[0].Sources, b)
	assert.Contains(t, entries[1].Sources, a)
	assert.Contains(t, entries[0].Type, `javascript`)

	require.NotEmpty(t, chunks)
	var shared bool
	for _, chunk := range chunks {
		for _, src := range chunk.Sources {
			shared = shared || src == filepath.Join(dir, `src`, `shared.js`)
		}
	}
	assert.True(t, shared, "no chunk carries shared.js")
}

func TestBundleSourceMapsAndMinify(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		`main.js`: "const greeting = 'hello'\nconsole.log(greeting)\n",
	})
	main := filepath.Join(dir, `main.js`)

	ret, err := New().Bundle(context.Background(), bundle.Request{Entrypoints: []string{main}, Dir: dir, SourceMaps: true})
	require.NoError(t, err)
	require.True(t, ret.Success)
	var maps int
	for _, out := range ret.Outputs {
		if strings.HasSuffix(out.Path, `.map`) {
			maps++
			assert.Equal(t, bundle.Asset, out.Kind)
			assert.Equal(t, `application/json`, out.Type)
		}
	}
	assert.Equal(t, 1, maps)

	ret, err = New().Bundle(context.Background(), bundle.Request{Entrypoints: []string{main}, Dir: dir, Minify: true})
	require.NoError(t, err)
	require.Len(t, ret.Outputs, 1)
	assert.NotContains(t, string(ret.Outputs[0].Contents), "\n  ")
}

func TestBundleFailureCarriesPositions(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		`main.js`:   "import './broken.js'\n",
		`broken.js`: "export const = ;\n",
	})
	ret, err := New().Bundle(context.Background(), bundle.Request{
		Entrypoints: []string{filepath.Join(dir, `main.js`)},
		Dir:         dir,
	})
	require.NoError(t, err)
	assert.False(t, ret.Success)
	require.NotEmpty(t, ret.Diagnostics)
	diag := ret.Diagnostics[0]
	assert.Equal(t, `error`, diag.Level)
	require.NotNil(t, diag.Position)
	assert.Equal(t, filepath.Join(dir, `broken.js`), diag.Position.File)
	assert.Equal(t, 1, diag.Position.Line)
}

func TestBundleWithoutEntrypoints(t *testing.T) {
	ret, err := New().Bundle(context.Background(), bundle.Request{Dir: t.TempDir()})
	require.NoError(t, err)
	assert.True(t, ret.Success)
	assert.Empty(t, ret.Outputs)
}

func TestBuildOption(t *testing.T) {
	var seen bool
	cfg := New(BuildOption(func(opts *esbuild.BuildOptions) { seen = opts.Splitting })).(*config)
	opts := cfg.options(bundle.Request{Dir: `/x`})
	assert.True(t, seen)
	assert.Equal(t, filepath.Join(`/x`, `dist`), opts.Outdir)
	assert.Equal(t, `[name].[hash]`, opts.EntryNames)
}
