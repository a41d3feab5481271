// Package claims is a protection provider backed by square land claims.
package claims

import (
	"fmt"
	"os"
	"sort"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"deathchest.gg/internal/sim/world"
)

const ProviderName = "claims"

type Flags struct {
	AllowBuild bool `yaml:"allow_build"`
	AllowOpen  bool `yaml:"allow_open"`
}

type LandClaim struct {
	LandID  string
	Owner   uuid.UUID
	Anchor  world.Vec3i
	Radius  int // square radius in blocks
	Flags   Flags
	Members map[uuid.UUID]bool
}

func (c *LandClaim) Contains(pos world.Vec3i) bool {
	dx := pos.X - c.Anchor.X
	if dx < 0 {
		dx = -dx
	}
	dz := pos.Z - c.Anchor.Z
	if dz < 0 {
		dz = -dz
	}
	return dx <= c.Radius && dz <= c.Radius
}

func (c *LandClaim) IsMember(id uuid.UUID) bool {
	return c.Owner == id || c.Members[id]
}

type Registry struct {
	claims map[string]*LandClaim
	order  []string
}

func NewRegistry(claims ...*LandClaim) *Registry {
	r := &Registry{claims: map[string]*LandClaim{}}
	for _, c := range claims {
		r.Put(c)
	}
	return r
}

func (r *Registry) Put(c *LandClaim) {
	if c == nil || c.LandID == "" {
		return
	}
	if _, ok := r.claims[c.LandID]; !ok {
		r.order = append(r.order, c.LandID)
		sort.Strings(r.order)
	}
	r.claims[c.LandID] = c
}

func (r *Registry) Len() int { return len(r.claims) }

// LandAt returns the first claim (by land id) containing pos.
func (r *Registry) LandAt(pos world.Vec3i) *LandClaim {
	for _, id := range r.order {
		if c := r.claims[id]; c.Contains(pos) {
			return c
		}
	}
	return nil
}

func (r *Registry) Name() string { return ProviderName }

func (r *Registry) AllowPlacement(p world.Player, loc world.Location) (bool, error) {
	land := r.LandAt(loc.Block())
	if land == nil || land.IsMember(p.ID) {
		return true, nil
	}
	return land.Flags.AllowBuild, nil
}

func (r *Registry) AllowAccess(p world.Player, loc world.Location) (bool, error) {
	land := r.LandAt(loc.Block())
	if land == nil || land.IsMember(p.ID) {
		return true, nil
	}
	return land.Flags.AllowOpen, nil
}

type fileClaim struct {
	ID      string   `yaml:"id"`
	Owner   string   `yaml:"owner"`
	Anchor  [3]int   `yaml:"anchor"`
	Radius  int      `yaml:"radius"`
	Members []string `yaml:"members"`
	Flags   `yaml:",inline"`
}

type file struct {
	Claims []fileClaim `yaml:"claims"`
}

// Load reads claims.yaml.
func Load(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("claims.yaml: %w", err)
	}
	r := NewRegistry()
	for _, fc := range f.Claims {
		owner, err := uuid.Parse(fc.Owner)
		if err != nil {
			return nil, fmt.Errorf("claims.yaml: claim %s: owner: %w", fc.ID, err)
		}
		c := &LandClaim{
			LandID:  fc.ID,
			Owner:   owner,
			Anchor:  world.Vec3i{X: fc.Anchor[0], Y: fc.Anchor[1], Z: fc.Anchor[2]},
			Radius:  fc.Radius,
			Flags:   fc.Flags,
			Members: map[uuid.UUID]bool{},
		}
		for _, m := range fc.Members {
			id, err := uuid.Parse(m)
			if err != nil {
				return nil, fmt.Errorf("claims.yaml: claim %s: member: %w", fc.ID, err)
			}
			c.Members[id] = true
		}
		r.Put(c)
	}
	return r, nil
}
