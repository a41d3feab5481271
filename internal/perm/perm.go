// Package perm matches permission nodes against glob patterns.
package perm

import (
	"github.com/gobwas/glob"

	"deathchest.gg/internal/sim/world"
)

// Permission nodes checked by the chest system.
const (
	Deploy         = "deathchest.deploy"
	DoubleChest    = "deathchest.doublechest"
	LootOther      = "deathchest.loot.other"
	LootKiller     = "deathchest.loot.killer"
	CreativeBypass = "deathchest.creative.bypass"
)

type Checker interface {
	Has(p world.Player, node string) bool
}

// Resolver grants a node when any of the player's patterns or the
// configured defaults match it. Segments are separated by '.'.
type Resolver struct {
	defaults []string
	compiled map[string]glob.Glob
}

func NewResolver(defaults []string) (*Resolver, error) {
	r := &Resolver{
		defaults: append([]string(nil), defaults...),
		compiled: map[string]glob.Glob{},
	}
	for _, p := range r.defaults {
		if _, err := r.pattern(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Resolver) Has(p world.Player, node string) bool {
	return r.match(r.defaults, node) || r.match(p.Permissions, node)
}

func (r *Resolver) match(patterns []string, node string) bool {
	for _, pat := range patterns {
		g, err := r.pattern(pat)
		if err != nil {
			continue
		}
		if g.Match(node) {
			return true
		}
	}
	return false
}

func (r *Resolver) pattern(p string) (glob.Glob, error) {
	if g, ok := r.compiled[p]; ok {
		return g, nil
	}
	g, err := glob.Compile(p, '.')
	if err != nil {
		return nil, err
	}
	r.compiled[p] = g
	return g, nil
}
