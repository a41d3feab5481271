// Package search finds where a death chest may be placed near an origin.
//
// The scan is a deterministic ring-like expansion, not a nearest-first
// search: an upward pass (dy = 0..N-1) then a downward pass (dy = 1..N-1),
// and for each layer x and z offsets 0..N-1 in the four quadrants
// (+,+) (-,+) (-,-) (+,-). Offsets on an axis test only (+,+). Every
// candidate is tried facing the player's yaw and again rotated 90 degrees.
package search

import (
	"fmt"
	"math"

	"github.com/gobwas/glob"

	"deathchest.gg/internal/protection"
	"deathchest.gg/internal/sim/model"
	"deathchest.gg/internal/sim/world"
)

type Arbiter interface {
	CheckPlacement(p world.Player, loc world.Location) protection.Result
}

// Occupancy reports positions already taken by a tracked chest or sign.
type Occupancy interface {
	Occupied(pos world.Vec3i) bool
}

type Config struct {
	Distance       int
	PlaceAboveVoid bool
	// Block names or glob patterns.
	Replaceable []string
	// Optional.
	Occupied Occupancy
}

type Searcher struct {
	blocks world.Blocks
	arb    Arbiter
	cfg    Config

	patterns    []glob.Glob
	replaceable map[string]bool
}

func New(blocks world.Blocks, arb Arbiter, cfg Config) (*Searcher, error) {
	if cfg.Distance < 1 {
		return nil, fmt.Errorf("search distance must be >= 1, got %d", cfg.Distance)
	}
	s := &Searcher{
		blocks:      blocks,
		arb:         arb,
		cfg:         cfg,
		replaceable: map[string]bool{},
	}
	for _, p := range cfg.Replaceable {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("replaceable block pattern %q: %w", p, err)
		}
		s.patterns = append(s.patterns, g)
	}
	return s, nil
}

func (s *Searcher) Replaceable(typ string) bool {
	if ok, seen := s.replaceable[typ]; seen {
		return ok
	}
	ok := false
	for _, g := range s.patterns {
		if g.Match(typ) {
			ok = true
			break
		}
	}
	s.replaceable[typ] = ok
	return ok
}

var quadrants = [4][2]int{{1, 1}, {-1, 1}, {-1, -1}, {1, -1}}

// Search returns the first location in scan order that can hold a chest of
// the requested size. On exhaustion the last negative code is returned.
func (s *Searcher) Search(p world.Player, origin world.Location, size model.Size) model.SearchResult {
	minY, maxY := s.blocks.MinY(), s.blocks.MaxY()

	y := int(math.Round(origin.Y))
	if y > maxY-1 {
		y = maxY - 1
	}
	if y < minY {
		if !s.cfg.PlaceAboveVoid {
			return model.SearchResult{Code: model.CodeVoid}
		}
		y = minY
	}
	base := origin.At(world.Vec3i{X: int(math.Floor(origin.X)), Y: y, Z: int(math.Floor(origin.Z))})
	bx, bz := int(base.X), int(base.Z)
	n := s.cfg.Distance

	last := model.CodeNonReplaceableBlock
	lastProvider := ""
	for _, dir := range []int{1, -1} {
		start := 0
		if dir < 0 {
			start = 1
		}
		for dy := start; dy < n; dy++ {
			cy := y + dir*dy
			if cy >= maxY || cy < minY {
				break
			}
			for x := 0; x < n; x++ {
				for z := 0; z < n; z++ {
					for qi, q := range quadrants {
						if qi > 0 && (x == 0 || z == 0) {
							break
						}
						loc := base.At(world.Vec3i{X: bx + q[0]*x, Y: cy, Z: bz + q[1]*z})
						res, done := s.candidate(p, loc, size)
						if done {
							return res
						}
						last, lastProvider = res.Code, res.Provider
					}
				}
			}
		}
	}
	return model.SearchResult{Code: last, Provider: lastProvider}
}

// candidate tries loc in both orientations. done is set on SUCCESS, or on
// PARTIAL_SUCCESS when neither orientation fits a double chest.
func (s *Searcher) candidate(p world.Player, loc world.Location, size model.Size) (model.SearchResult, bool) {
	first := s.evaluate(p, loc, size)
	if first.Code == model.CodeSuccess {
		return first, true
	}
	second := s.evaluate(p, loc.Rotate90(), size)
	if second.Code == model.CodeSuccess {
		return second, true
	}
	if first.Code == model.CodePartialSuccess {
		return first, true
	}
	if second.Code == model.CodePartialSuccess {
		return second, true
	}
	return second, false
}

func (s *Searcher) evaluate(p world.Player, loc world.Location, size model.Size) model.SearchResult {
	code, provider := s.validate(p, loc)
	if code != model.CodeSuccess {
		return model.SearchResult{Code: code, Provider: provider}
	}
	res := model.SearchResult{Code: model.CodeSuccess, Locations: []world.Location{loc}, Size: size}
	if size != model.SizeDouble {
		return res
	}
	right := loc.At(loc.Block().Add(loc.Facing().Right().Vec()))
	if c, _ := s.validate(p, right); c != model.CodeSuccess {
		res.Code = model.CodePartialSuccess
		return res
	}
	res.Locations = append(res.Locations, right)
	return res
}

// Validate runs the per-block checks in order and stops at the first failure.
func (s *Searcher) Validate(p world.Player, loc world.Location) (model.Code, string) {
	return s.validate(p, loc)
}

func (s *Searcher) validate(p world.Player, loc world.Location) (model.Code, string) {
	pos := loc.Block()
	if !s.Replaceable(s.blocks.Block(pos).Type) {
		return model.CodeNonReplaceableBlock, ""
	}
	if s.cfg.Occupied != nil && s.cfg.Occupied.Occupied(pos) {
		return model.CodeNonReplaceableBlock, ""
	}
	if s.blocks.Block(pos.Down()).IsPath() {
		return model.CodeAboveGrassPath, ""
	}
	if s.arb != nil {
		if r := s.arb.CheckPlacement(p, loc); !r.Allowed {
			return model.CodeProtectionPlugin, r.Provider
		}
	}
	if s.inSpawnRadius(pos) {
		return model.CodeSpawnRadius, ""
	}
	return model.CodeSuccess, ""
}

func (s *Searcher) inSpawnRadius(pos world.Vec3i) bool {
	r := s.blocks.SpawnRadius()
	if r <= 0 {
		return false
	}
	return world.DistSq(pos, s.blocks.Spawn()) < r*r
}
