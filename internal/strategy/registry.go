package strategy

import (
	"fmt"
	"sort"

	"github.com/alanyoungcy/moonbot/internal/domain"
)

// Strategy names.
const (
	NameUniswapMMV2    = "uniswap_mm_v2"
	NameSimpleMM       = "simple_mm"
	NameSquinkMM       = "squink_mm"
	NameKeepAliveMaker = "keep_alive_maker"
	NameKeepAliveTaker = "keep_alive_taker"
)

// Factory builds a strategy from its settings.
type Factory func(deps Deps, settings map[string]any) (Strategy, error)

// Info describes a registered strategy for status APIs.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type entry struct {
	factory     Factory
	description string
}

// Registry is the closed set of strategies a bot can run.
type Registry struct {
	entries map[string]entry
}

// NewRegistry returns a Registry holding every built-in strategy.
func NewRegistry() *Registry {
	return &Registry{entries: map[string]entry{
		NameUniswapMMV2: {
			factory:     NewUniswapMM,
			description: "Constant-product (x*y=k) market maker quoting a ladder around the best independent prices",
		},
		NameSimpleMM: {
			factory:     NewSimpleMM,
			description: "Fixed-spread ladder around a configured mid market price",
		},
		NameSquinkMM: {
			factory:     NewSquinkMM,
			description: "Constant-power (x^p+y^p) market maker quoting growing rungs off the current book",
		},
		NameKeepAliveMaker: {
			factory:     NewKeepAliveMaker,
			description: "Places a maker order inside the spread when the pair has gone quiet and tells its counterparty to take it",
		},
		NameKeepAliveTaker: {
			factory:     NewKeepAliveTaker,
			description: "Takes the orders announced by a keep_alive_maker bot",
		},
	}}
}

// New builds the named strategy.
func (r *Registry) New(name string, deps Deps, settings map[string]any) (Strategy, error) {
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("strategy %q: %w", name, domain.ErrUnknownStrategy)
	}
	s, err := e.factory(deps.withDefaults(), settings)
	if err != nil {
		return nil, fmt.Errorf("strategy %q: %w", name, err)
	}
	return s, nil
}

// Has reports whether name is a registered strategy.
func (r *Registry) Has(name string) bool {
	_, ok := r.entries[name]
	return ok
}

// List returns the names of all registered strategies in sorted order.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ListInfo returns name and description of every strategy, sorted by name.
func (r *Registry) ListInfo() []Info {
	names := r.List()
	infos := make([]Info, 0, len(names))
	for _, n := range names {
		infos = append(infos, Info{Name: n, Description: r.entries[n].description})
	}
	return infos
}
