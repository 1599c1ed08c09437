package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PunchlY/hotbuild/rig/artifact"
	"github.com/PunchlY/hotbuild/rig/bundle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const indexHTML = `<!DOCTYPE html><html><head>` +
	`<script type="module" src="./a.js"></script>` +
	`<script type="module" src="./b.js"></script>` +
	`</head><body></body></html>`

func fixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		`index.html`:         indexHTML,
		`other.html`:         `<html><head><script type="module" src="./a.js"></script></head></html>`,
		`a.js`:               `console.log('a')`,
		`b.js`:               `console.log('b')`,
		`public/sub/img.png`: "\x89PNG\r\n\x1a\n",
	}
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

// fakeBundler emits one entry output per entrypoint, named out{n}.hash.js, plus a shared chunk.
type fakeBundler struct {
	calls    atomic.Int32
	fail     bool
	mu       sync.Mutex
	requests []bundle.Request
}

func (fb *fakeBundler) Bundle(_ context.Context, req bundle.Request) (*bundle.Result, error) {
	fb.calls.Add(1)
	fb.mu.Lock()
	fb.requests = append(fb.requests, req)
	fb.mu.Unlock()
	ret := &bundle.Result{Success: !fb.fail}
	for i, src := range req.Entrypoints {
		ret.Outputs = append(ret.Outputs, bundle.Output{
			Path:     filepath.Join(req.Dir, `dist`, `out`+string(rune('1'+i))+`.hash.js`),
			Type:     `text/javascript;charset=utf-8`,
			Contents: []byte(`// from ` + filepath.Base(src)),
			Kind:     bundle.Entry,
			Sources:  []string{src},
		})
	}
	ret.Outputs = append(ret.Outputs, bundle.Output{
		Path:     filepath.Join(req.Dir, `dist`, `chunk.hash.js`),
		Type:     `text/javascript;charset=utf-8`,
		Contents: []byte(`// shared`),
		Kind:     bundle.Chunk,
	})
	if fb.fail {
		ret.Diagnostics = []bundle.Diagnostic{{
			Level:    `error`,
			Text:     `Unexpected "<"`,
			Position: &bundle.Position{File: filepath.Join(req.Dir, `b.js`), Line: 1},
		}}
	}
	return ret, nil
}

func TestBuildYieldsOutputsThenPage(t *testing.T) {
	dir := fixture(t)
	var fb fakeBundler
	o, err := New(&fb, Dir(dir))
	require.NoError(t, err)

	var routes []string
	var page artifact.Artifact
	for it, err := range o.Build(context.Background()) {
		require.NoError(t, err)
		routes = append(routes, it.Path)
		page = it
	}
	assert.Equal(t, []string{`/out1.hash.js`, `/out2.hash.js`, `/chunk.hash.js`, `/`}, routes)
	assert.Equal(t, artifact.HTML, page.Type)
	assert.Contains(t, string(page.Body),
		`<script type="module" src="/out1.hash.js"></script><script type="module" src="/out2.hash.js"></script></head>`)
	assert.NotContains(t, string(page.Body), `./a.js`)
	assert.NotContains(t, string(page.Body), `chunk.hash.js`)

	require.Len(t, fb.requests, 1)
	assert.Equal(t, []string{filepath.Join(dir, `a.js`), filepath.Join(dir, `b.js`)}, fb.requests[0].Entrypoints)
	assert.True(t, fb.requests[0].SourceMaps)
	assert.False(t, fb.requests[0].Minify)
}

func TestBuildStopsEarly(t *testing.T) {
	o, err := New(&fakeBundler{}, Dir(fixture(t)))
	require.NoError(t, err)
	n := 0
	for range o.Build(context.Background()) {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestRefreshIsMemoized(t *testing.T) {
	var fb fakeBundler
	o, err := New(&fb, Dir(fixture(t)))
	require.NoError(t, err)
	ctx := context.Background()

	first, err := o.Refresh(ctx, ``, false)
	require.NoError(t, err)
	second, err := o.Refresh(ctx, `index.html`, false)
	require.NoError(t, err)
	assert.Equal(t, int32(1), fb.calls.Load())
	assert.Equal(t, reflect.ValueOf(first).Pointer(), reflect.ValueOf(second).Pointer())

	_, err = o.Refresh(ctx, ``, true)
	require.NoError(t, err)
	assert.Equal(t, int32(2), fb.calls.Load())
}

func TestRefreshRebuildsOnEntryChange(t *testing.T) {
	var fb fakeBundler
	o, err := New(&fb, Dir(fixture(t)))
	require.NoError(t, err)
	ctx := context.Background()

	first, err := o.Refresh(ctx, ``, false)
	require.NoError(t, err)
	assert.Len(t, first, 4)

	second, err := o.Refresh(ctx, `other.html`, false)
	require.NoError(t, err)
	assert.Equal(t, int32(2), fb.calls.Load())
	assert.Len(t, second, 3)
	assert.NotContains(t, second, `/out2.hash.js`)
	assert.Len(t, first, 4, "an earlier cache is never modified")
}

func TestRefreshNotifies(t *testing.T) {
	var notified atomic.Int32
	o, err := New(&fakeBundler{}, Dir(fixture(t)), Notify(func(context.Context) { notified.Add(1) }))
	require.NoError(t, err)
	ctx := context.Background()
	_, err = o.Refresh(ctx, ``, false)
	require.NoError(t, err)
	_, err = o.Refresh(ctx, ``, false)
	require.NoError(t, err)
	assert.Equal(t, int32(1), notified.Load())
}

func TestRefreshMissingEntry(t *testing.T) {
	o, err := New(&fakeBundler{}, Dir(t.TempDir()))
	require.NoError(t, err)
	_, err = o.Refresh(context.Background(), ``, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.Nil(t, o.cache.Load())
}

func TestBundlerErrorIsFatal(t *testing.T) {
	boom := errors.New(`boom`)
	o, err := New(bundle.BundlerFunc(func(context.Context, bundle.Request) (*bundle.Result, error) {
		return nil, boom
	}), Dir(fixture(t)))
	require.NoError(t, err)
	_, err = o.Refresh(context.Background(), ``, false)
	assert.ErrorIs(t, err, boom)
}

func TestDevFailureStillServes(t *testing.T) {
	o, err := New(&fakeBundler{fail: true}, Dir(fixture(t)))
	require.NoError(t, err)
	cache, err := o.Refresh(context.Background(), ``, false)
	require.NoError(t, err)
	assert.Contains(t, cache, `/out1.hash.js`)
	assert.NotContains(t, string(cache[`/`].Body), `<pre>`)
}

func TestProductionFailure(t *testing.T) {
	var fb fakeBundler
	fb.fail = true
	o, err := New(&fb, Dir(fixture(t)), Production(true))
	require.NoError(t, err)

	var page artifact.Artifact
	var failed *FailedError
	for it, err := range o.Build(context.Background()) {
		if err != nil {
			require.ErrorAs(t, err, &failed)
			break
		}
		page = it
	}
	require.NotNil(t, failed)
	require.Len(t, failed.Diagnostics, 1)
	assert.Equal(t, `/`, page.Path)
	assert.Contains(t, string(page.Body), `<body><pre>`)
	assert.Contains(t, string(page.Body), `Unexpected \&#34;&lt;\&#34;`)
	assert.True(t, fb.requests[0].Minify)
	assert.False(t, fb.requests[0].SourceMaps)

	_, err = o.Refresh(context.Background(), ``, false)
	assert.ErrorAs(t, err, &failed)
}

func TestDevFallsBackToAssets(t *testing.T) {
	o, err := New(&fakeBundler{}, Dir(fixture(t)))
	require.NoError(t, err)
	ctx := context.Background()

	it, ok, err := o.Dev(ctx, `/out1.hash.js`)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `// from a.js`, string(it.Body))

	it, ok, err = o.Dev(ctx, `/public/sub/img.png`)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `image/png`, it.Type)
	assert.Equal(t, "\x89PNG\r\n\x1a\n", string(it.Body))

	for _, missing := range []string{`/does/not/exist`, `/public/missing.png`, `/public/sub`, `/public/../index.html`} {
		_, ok, err = o.Dev(ctx, missing)
		require.NoError(t, err)
		assert.False(t, ok, missing)
	}
}

func TestAssetsOption(t *testing.T) {
	_, err := New(&fakeBundler{}, Assets(`../up`))
	assert.Error(t, err)
	o, err := New(&fakeBundler{}, Assets(`/static/`))
	require.NoError(t, err)
	assert.Equal(t, `static`, o.AssetDir())
}

func TestWatchIsOptIn(t *testing.T) {
	dir := fixture(t)
	o, err := New(&fakeBundler{}, Dir(dir))
	require.NoError(t, err)
	assert.Nil(t, o.Watches())
	_, err = o.Refresh(context.Background(), ``, false)
	require.NoError(t, err)
}

func TestWatchProvenanceAndRebuild(t *testing.T) {
	dir := fixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var fb fakeBundler
	fb.fail = true
	o, err := New(&fb, Dir(dir), Watch(ctx))
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Watches().Close() })

	_, err = o.Refresh(ctx, ``, false)
	require.NoError(t, err)
	w := o.Watches()
	assert.True(t, w.Watching(filepath.Join(dir, `index.html`)))
	assert.True(t, w.Watching(filepath.Join(dir, `a.js`)))
	assert.True(t, w.Watching(filepath.Join(dir, `b.js`)))
	assert.Equal(t, 3, w.Len())

	require.NoError(t, os.WriteFile(filepath.Join(dir, `b.js`), []byte(`console.log('fixed')`), 0o644))
	require.Eventually(t, func() bool { return fb.calls.Load() >= 2 }, 5*time.Second, 10*time.Millisecond)
}

func TestFailedErrorMessage(t *testing.T) {
	err := &FailedError{Diagnostics: []bundle.Diagnostic{{Text: `nope`, Position: &bundle.Position{File: `/x.js`, Line: 3, Column: 4}}}}
	assert.True(t, strings.HasSuffix(err.Error(), `/x.js:3:4: nope`))
	assert.Equal(t, `build failed`, (&FailedError{}).Error())
}
