package hook

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type named struct {
	name     string
	provides []string
	needs    []string
}

func (n named) Provides() []string  { return n.provides }
func (n named) DependsOn() []string { return n.needs }

func names(hooks []any) []string {
	ret := make([]string, 0, len(hooks))
	for _, it := range hooks {
		ret = append(ret, it.(named).name)
	}
	return ret
}

func TestOrderKeepsIndependentHooks(t *testing.T) {
	a, b, c := named{name: `a`}, named{name: `b`}, named{name: `c`}
	assert.Equal(t, []string{`a`, `b`, `c`}, names(Order(a, b, c)))
}

func TestOrderPlacesProvidersFirst(t *testing.T) {
	reload := named{name: `reload`, needs: []string{`build`}}
	www := named{name: `www`, needs: []string{`build`, `missing`}}
	build := named{name: `build`, provides: []string{`build`}}
	assert.Equal(t, []string{`build`, `reload`, `www`}, names(Order(reload, www, build)))
}

func TestOrderToleratesCycles(t *testing.T) {
	a := named{name: `a`, provides: []string{`a`}, needs: []string{`b`}}
	b := named{name: `b`, provides: []string{`b`}, needs: []string{`a`}}
	assert.ElementsMatch(t, []string{`a`, `b`}, names(Order(a, b)))
}
