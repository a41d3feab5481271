package tuning

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	body := `
search_distance: 4
chest_protection:
  enabled: true
  minutes: 2
expire_minutes: 0
protection:
  providers:
    - name: towns
      kind: lua
      enabled: true
      path: towns.lua
      ignore_on_access: true
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	tu, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tu.SearchDistance != 4 {
		t.Fatalf("search_distance = %d", tu.SearchDistance)
	}
	if tu.ProtectionWindow() != 2*time.Minute {
		t.Fatalf("protection window = %v", tu.ProtectionWindow())
	}
	if tu.ExpireAfter() != 0 {
		t.Fatalf("expected never-expire")
	}
	// Untouched keys keep their defaults.
	if !tu.RemoveEmpty || tu.World.MaxY != 320 || !tu.Sign.Enabled {
		t.Fatalf("defaults lost: %+v", tu)
	}
	if len(tu.Protection.Providers) != 1 || !tu.Protection.Providers[0].IgnoreOnAccess {
		t.Fatalf("providers: %+v", tu.Protection.Providers)
	}
}

func TestLoad_TOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.toml")
	body := `
search_distance = 6
killer_looting = true

[creative]
access = true

[world]
min_y = 0
max_y = 256
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	tu, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tu.SearchDistance != 6 || !tu.KillerLooting || !tu.Creative.Access {
		t.Fatalf("unexpected tuning: %+v", tu)
	}
	if tu.World.MinY != 0 || tu.World.MaxY != 256 {
		t.Fatalf("world: %+v", tu.World)
	}
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"zero_distance.yaml": "search_distance: 0\n",
		"bad_kind.yaml":      "protection:\n  providers:\n    - name: x\n      kind: worldguard\n",
		"dupe.yaml":          "protection:\n  providers:\n    - {name: x, kind: lua}\n    - {name: x, kind: claims}\n",
		"bad_world.yaml":     "world:\n  min_y: 10\n  max_y: 10\n",
	}
	for name, body := range cases {
		path := filepath.Join(dir, name)
		_ = os.WriteFile(path, []byte(body), 0o644)
		if _, err := Load(path); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestProtectionWindow_Disabled(t *testing.T) {
	tu := Defaults()
	tu.ChestProtection.Enabled = false
	if tu.ProtectionWindow() != 0 {
		t.Fatalf("disabled protection should have no window")
	}
}

func TestLoad_ShippedConfig(t *testing.T) {
	tu, err := Load(filepath.Join("..", "..", "..", "configs", "tuning.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(tu.Protection.Providers) != 2 || tu.Protection.Providers[1].Kind != "lua" {
		t.Fatalf("providers = %+v", tu.Protection.Providers)
	}
	if tu.ProtectionWindow() != 5*time.Minute || tu.ExpireAfter() != 15*time.Minute {
		t.Fatalf("window=%s expire=%s", tu.ProtectionWindow(), tu.ExpireAfter())
	}
}
