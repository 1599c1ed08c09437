// Package hook defines interfaces that rig.Config.Hook recognizes and applies at the stages of assembling a server.
package hook

import (
	"context"
	"net"
	"net/http"
	"sort"
)

// Listener hooks adjust the configuration used for the default TCP listener.
type Listener interface {
	RigListener(*net.ListenConfig)
}

// Listen hooks replace the default listener.  Only the first Listen hook in order is used.
type Listen interface {
	Listen(ctx context.Context) (net.Listener, error)
}

// Server hooks are called after the multiplexer is assembled, and may wrap the server's handler.
type Server interface {
	RigServer(*http.Server)
}

// Mux hooks register handlers with the multiplexer.
type Mux interface {
	RigMux(*http.ServeMux)
}

// Order returns hooks in the order they were provided, adjusted so that every Dependent follows the Providers of
// the names it depends on.  Cycles are not an error; the order is best effort.
func Order(hooks ...any) []any {
	providers := make(map[string][]int, len(hooks))
	for i, it := range hooks {
		if p, ok := it.(Provider); ok {
			for _, name := range p.Provides() {
				providers[name] = append(providers[name], i)
			}
		}
	}
	order := make([]any, 0, len(hooks))
	placed := make([]bool, len(hooks))
	var place func(int)
	place = func(i int) {
		if placed[i] {
			return
		}
		placed[i] = true
		if d, ok := hooks[i].(Dependent); ok {
			var deps []int
			for _, name := range d.DependsOn() {
				deps = append(deps, providers[name]...)
			}
			sort.Ints(deps) // keep the original order where possible
			for _, j := range deps {
				place(j)
			}
		}
		order = append(order, hooks[i])
	}
	for i := range hooks {
		place(i)
	}
	return order
}

// A Provider provides names that a Dependent can reference.
type Provider interface {
	Provides() []string
}

// A Dependent is ordered after every hook providing one of its dependencies.
type Dependent interface {
	DependsOn() []string
}
