package www

import (
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/PunchlY/hotbuild/rig"
	"github.com/PunchlY/hotbuild/rig/artifact"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var routes = artifact.Map{
	`/`:            {Path: `/`, Body: []byte(`<html>` + strings.Repeat(`hello `, 1000) + `</html>`), Type: artifact.HTML},
	`/main.abc.js`: {Path: `/main.abc.js`, Body: []byte(`console.log(1)`), Type: `text/javascript; charset=utf-8`},
}

func static() (artifact.Map, error) { return routes, nil }

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestHandlerServesArtifacts(t *testing.T) {
	h := Handler(Snapshot(static))
	w := serve(h, httptest.NewRequest(`GET`, `/main.abc.js`, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `text/javascript; charset=utf-8`, w.Header().Get(`Content-Type`))
	assert.Equal(t, `console.log(1)`, w.Body.String())
	tag := w.Header().Get(`ETag`)
	assert.Equal(t, ETag([]byte(`console.log(1)`)), tag)
	assert.Len(t, tag, 34)

	r := httptest.NewRequest(`GET`, `/main.abc.js`, nil)
	r.Header.Set(`If-None-Match`, `"other", W/`+tag)
	w = serve(h, r)
	assert.Equal(t, http.StatusNotModified, w.Code)
	assert.Empty(t, w.Body.String())

	w = serve(h, httptest.NewRequest(`HEAD`, `/main.abc.js`, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestHandlerNotFound(t *testing.T) {
	w := serve(Handler(Snapshot(static)), httptest.NewRequest(`GET`, `/missing.js`, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, `Not Found`, w.Body.String())
}

func TestHandlerLookupError(t *testing.T) {
	src := SourceFunc(func(context.Context, string) (artifact.Artifact, bool, error) {
		return artifact.Artifact{}, false, errors.New(`build failed`)
	})
	w := serve(Handler(src), httptest.NewRequest(`GET`, `/`, nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), `build failed`)
}

func TestRigCompresses(t *testing.T) {
	cfg, err := rig.New(Rig(Snapshot(static), Compress()))
	require.NoError(t, err)
	r := httptest.NewRequest(`GET`, `/`, nil)
	r.Header.Set(`Accept-Encoding`, `gzip`)
	w := serve(cfg.Handler(), r)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `gzip`, w.Header().Get(`Content-Encoding`))
	zr, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, routes[`/`].Body, body)

	w = serve(cfg.Handler(), httptest.NewRequest(`POST`, `/`, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
