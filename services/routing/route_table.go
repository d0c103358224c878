package routing

import (
	"sync"

	"go.uber.org/zap"
)

// RouteAlias maps a logical model name to one target or an ordered list of
// targets. Targets are raw identifiers and may name other aliases.
type RouteAlias struct {
	Targets  []string
	Multiple bool
}

// Single builds a one-target alias
func Single(target string) RouteAlias {
	return RouteAlias{Targets: []string{target}}
}

// Multiple builds a fallback-chain alias
func Multiple(targets ...string) RouteAlias {
	return RouteAlias{Targets: targets, Multiple: true}
}

// RouteTable resolves logical model aliases into ordered target lists.
type RouteTable struct {
	mu      sync.RWMutex
	aliases map[string]RouteAlias
	logger  *zap.Logger
}

// NewRouteTable creates a route table from an alias map
func NewRouteTable(aliases map[string]RouteAlias, logger *zap.Logger) *RouteTable {
	t := &RouteTable{
		aliases: make(map[string]RouteAlias, len(aliases)),
		logger:  logger,
	}
	for name, alias := range aliases {
		t.aliases[name] = alias
	}
	return t
}

// Set adds or replaces one alias
func (t *RouteTable) Set(name string, alias RouteAlias) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.aliases[name] = alias
}

// Lookup returns the alias entry for name
func (t *RouteTable) Lookup(name string) (RouteAlias, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	alias, ok := t.aliases[name]
	return alias, ok
}

// Len returns the number of aliases
func (t *RouteTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.aliases)
}

// Resolve expands name into an ordered, non-empty list of raw identifiers.
// A name seen twice within one call is returned as a literal target.
func (t *RouteTable) Resolve(name string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.resolve(name, make(map[string]struct{}))
}

func (t *RouteTable) resolve(name string, visited map[string]struct{}) []string {
	if _, seen := visited[name]; seen {
		t.logger.Warn("alias cycle detected, using name as literal target",
			zap.String("alias", name))
		return []string{name}
	}
	visited[name] = struct{}{}

	alias, ok := t.aliases[name]
	if !ok || len(alias.Targets) == 0 {
		return []string{name}
	}

	if !alias.Multiple {
		return t.resolve(alias.Targets[0], visited)
	}

	var out []string
	for _, target := range alias.Targets {
		out = append(out, t.resolve(target, visited)...)
	}
	return out
}
