package artifact

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypeOf(t *testing.T) {
	assert.Equal(t, `image/png`, TypeOf(`public/sub/img.png`, nil))
	assert.Equal(t, `application/json`, TypeOf(`/main.ABCD.js.map`, []byte(`{}`)))
	assert.Contains(t, TypeOf(`/main.ABCD.js`, nil), `javascript`)
	assert.Contains(t, TypeOf(`README`, []byte("plain old text\n")), `text/plain`)
	assert.Equal(t, `image/png`, TypeOf(`LOGO`, []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\x0dIHDR")))
}

func TestIsText(t *testing.T) {
	assert.True(t, IsText(HTML))
	assert.True(t, IsText(`text/css; charset=utf-8`))
	assert.False(t, IsText(`image/png`))
	assert.False(t, IsText(`application/json`))
}

func TestRoutes(t *testing.T) {
	m := Map{`/b`: {}, `/`: {}, `/a`: {}}
	assert.Equal(t, []string{`/`, `/a`, `/b`}, m.Routes())
}

func TestAll(t *testing.T) {
	m := Map{`/b`: {Path: `/b`}, `/`: {Path: `/`}, `/a`: {Path: `/a`}}
	var seen []string
	for it, err := range m.All() {
		assert.NoError(t, err)
		seen = append(seen, it.Path)
		if it.Path == `/a` {
			break
		}
	}
	assert.Equal(t, []string{`/`, `/a`}, seen)
}
