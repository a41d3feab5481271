package claims

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"deathchest.gg/internal/sim/world"
)

func TestRegistry_PlacementAndAccess(t *testing.T) {
	owner := uuid.New()
	member := uuid.New()
	stranger := uuid.New()
	r := NewRegistry(&LandClaim{
		LandID:  "LAND1",
		Owner:   owner,
		Anchor:  world.Vec3i{X: 0, Y: 64, Z: 0},
		Radius:  8,
		Flags:   Flags{AllowOpen: true},
		Members: map[uuid.UUID]bool{member: true},
	})

	inside := world.Location{X: 8, Y: 64, Z: -8}
	outside := world.Location{X: 9, Y: 64, Z: 0}

	for _, id := range []uuid.UUID{owner, member} {
		if ok, _ := r.AllowPlacement(world.Player{ID: id}, inside); !ok {
			t.Fatalf("member %s should place", id)
		}
	}
	if ok, _ := r.AllowPlacement(world.Player{ID: stranger}, inside); ok {
		t.Fatalf("stranger should not place inside claim")
	}
	if ok, _ := r.AllowAccess(world.Player{ID: stranger}, inside); !ok {
		t.Fatalf("allow_open should let strangers access")
	}
	if ok, _ := r.AllowPlacement(world.Player{ID: stranger}, outside); !ok {
		t.Fatalf("wilderness should allow placement")
	}
}

func TestLoad(t *testing.T) {
	owner := uuid.New()
	path := filepath.Join(t.TempDir(), "claims.yaml")
	body := "claims:\n" +
		"  - id: SPAWN_TOWN\n" +
		"    owner: " + owner.String() + "\n" +
		"    anchor: [10, 64, 10]\n" +
		"    radius: 4\n" +
		"    allow_build: false\n" +
		"    allow_open: false\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	r, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if r.Len() != 1 {
		t.Fatalf("expected 1 claim, got %d", r.Len())
	}
	land := r.LandAt(world.Vec3i{X: 14, Y: 0, Z: 6})
	if land == nil || land.LandID != "SPAWN_TOWN" || land.Owner != owner {
		t.Fatalf("unexpected land: %+v", land)
	}
}

func TestLoad_BadOwner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "claims.yaml")
	_ = os.WriteFile(path, []byte("claims:\n  - id: X\n    owner: nope\n"), 0o644)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error")
	}
}
