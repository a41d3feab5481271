package luaprov

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"deathchest.gg/internal/sim/world"
)

func TestProvider_Decisions(t *testing.T) {
	p, err := Compile("script", `
function allow_placement(player, loc)
  -- nothing inside the arena square
  if math.abs(loc.x) <= 10 and math.abs(loc.z) <= 10 then
    return false
  end
  return true
end

function allow_access(player, loc)
  return player.name ~= "griefer"
end
`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	defer p.Close()

	if ok, err := p.AllowPlacement(world.Player{}, world.Location{X: 3, Z: -4}); err != nil || ok {
		t.Fatalf("expected deny inside arena, ok=%v err=%v", ok, err)
	}
	if ok, err := p.AllowPlacement(world.Player{}, world.Location{X: 30}); err != nil || !ok {
		t.Fatalf("expected allow outside arena, ok=%v err=%v", ok, err)
	}
	if ok, _ := p.AllowAccess(world.Player{Name: "griefer"}, world.Location{}); ok {
		t.Fatalf("expected griefer denied")
	}
	if ok, _ := p.AllowAccess(world.Player{Name: "alex"}, world.Location{}); !ok {
		t.Fatalf("expected alex allowed")
	}
}

func TestProvider_MissingFunctionAllows(t *testing.T) {
	p, err := Compile("empty", `x = 1`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	defer p.Close()
	if ok, err := p.AllowPlacement(world.Player{}, world.Location{}); !ok || err != nil {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
}

func TestProvider_RuntimeErrorsSurface(t *testing.T) {
	p, err := Compile("buggy", `
function allow_placement(player, loc) error("kaboom") end
function allow_access(player, loc) return 42 end
`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	defer p.Close()
	if _, err := p.AllowPlacement(world.Player{}, world.Location{}); err == nil {
		t.Fatalf("expected runtime error")
	}
	if _, err := p.AllowAccess(world.Player{}, world.Location{}); err == nil {
		t.Fatalf("expected type error")
	}
	// State stays usable after a failed call.
	if _, err := p.AllowPlacement(world.Player{}, world.Location{}); err == nil {
		t.Fatalf("expected runtime error on second call")
	}
}

func TestProvider_Timeout(t *testing.T) {
	p, err := Compile("spin", `function allow_placement(player, loc) while true do end end`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	defer p.Close()
	p.SetTimeout(20 * time.Millisecond)
	if _, err := p.AllowPlacement(world.Player{}, world.Location{}); err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestSandbox_BlocksFilesystem(t *testing.T) {
	if _, err := Compile("evil", `dofile("/etc/passwd")`); err == nil {
		t.Fatalf("expected dofile to be unavailable")
	}
	if _, err := Compile("evil", `os.exit(1)`); err == nil {
		t.Fatalf("expected os library to be unavailable")
	}
}

func TestOpenAndProbe(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "towns.lua")
	if Probe(path) {
		t.Fatalf("probe should fail for missing script")
	}
	if err := os.WriteFile(path, []byte(`function allow_access() return false end`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !Probe(path) {
		t.Fatalf("probe should succeed")
	}
	p, err := Open("towns", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer p.Close()
	if p.Name() != "towns" {
		t.Fatalf("name = %q", p.Name())
	}
	if ok, _ := p.AllowAccess(world.Player{}, world.Location{}); ok {
		t.Fatalf("expected deny")
	}
}
