package tuning

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type Tuning struct {
	TickDurationMs int `yaml:"tick_duration_ms" toml:"tick_duration_ms" json:"tick_duration_ms"`

	SearchDistance int  `yaml:"search_distance" toml:"search_distance" json:"search_distance"`
	PlaceAboveVoid bool `yaml:"place_above_void" toml:"place_above_void" json:"place_above_void"`
	// Block names or glob patterns ("*_AIR").
	ReplaceableBlocks []string `yaml:"replaceable_blocks" toml:"replaceable_blocks" json:"replaceable_blocks"`

	ChestProtection ChestProtection `yaml:"chest_protection" toml:"chest_protection" json:"chest_protection"`
	KillerLooting   bool            `yaml:"killer_looting" toml:"killer_looting" json:"killer_looting"`

	RequireChest         bool `yaml:"require_chest" toml:"require_chest" json:"require_chest"`
	ConsumeRequiredChest bool `yaml:"consume_required_chest" toml:"consume_required_chest" json:"consume_required_chest"`

	Creative Creative `yaml:"creative" toml:"creative" json:"creative"`

	// <= 0 means chests never expire.
	ExpireMinutes     int  `yaml:"expire_minutes" toml:"expire_minutes" json:"expire_minutes"`
	RemoveEmpty       bool `yaml:"remove_empty" toml:"remove_empty" json:"remove_empty"`
	DropItemsOnExpire bool `yaml:"drop_items_on_expire" toml:"drop_items_on_expire" json:"drop_items_on_expire"`

	Sign Sign `yaml:"sign" toml:"sign" json:"sign"`

	Protection  Protection  `yaml:"protection" toml:"protection" json:"protection"`
	Permissions Permissions `yaml:"permissions" toml:"permissions" json:"permissions"`
	World       World       `yaml:"world" toml:"world" json:"world"`
}

type ChestProtection struct {
	Enabled bool `yaml:"enabled" toml:"enabled" json:"enabled"`
	Minutes int  `yaml:"minutes" toml:"minutes" json:"minutes"`
}

type Creative struct {
	Deploy bool `yaml:"deploy" toml:"deploy" json:"deploy"`
	Access bool `yaml:"access" toml:"access" json:"access"`
}

type Sign struct {
	Enabled bool `yaml:"enabled" toml:"enabled" json:"enabled"`
	// Templates; ${player}, ${killer} and ${date} are substituted.
	Lines []string `yaml:"lines" toml:"lines" json:"lines"`
}

type Protection struct {
	Providers []ProviderConfig `yaml:"providers" toml:"providers" json:"providers"`
}

type ProviderConfig struct {
	Name           string `yaml:"name" toml:"name" json:"name"`
	Kind           string `yaml:"kind" toml:"kind" json:"kind"` // claims | lua
	Enabled        bool   `yaml:"enabled" toml:"enabled" json:"enabled"`
	Path           string `yaml:"path" toml:"path" json:"path"` // claims.yaml or script.lua, relative to the config dir
	IgnoreOnPlace  bool   `yaml:"ignore_on_place" toml:"ignore_on_place" json:"ignore_on_place"`
	IgnoreOnAccess bool   `yaml:"ignore_on_access" toml:"ignore_on_access" json:"ignore_on_access"`
}

type Permissions struct {
	Default []string `yaml:"default" toml:"default" json:"default"`
}

type World struct {
	Name        string `yaml:"name" toml:"name" json:"name"`
	MinY        int    `yaml:"min_y" toml:"min_y" json:"min_y"`
	MaxY        int    `yaml:"max_y" toml:"max_y" json:"max_y"`
	GroundY     int    `yaml:"ground_y" toml:"ground_y" json:"ground_y"`
	BoundaryR   int    `yaml:"boundary_r" toml:"boundary_r" json:"boundary_r"`
	Spawn       [3]int `yaml:"spawn" toml:"spawn" json:"spawn"`
	SpawnRadius int    `yaml:"spawn_radius" toml:"spawn_radius" json:"spawn_radius"`
}

func Defaults() Tuning {
	return Tuning{
		TickDurationMs:    50,
		SearchDistance:    10,
		PlaceAboveVoid:    false,
		ReplaceableBlocks: []string{"AIR", "CAVE_AIR", "VOID_AIR", "WATER", "LAVA", "SHORT_GRASS", "TALL_GRASS", "FERN", "SNOW"},
		ChestProtection:   ChestProtection{Enabled: true, Minutes: 5},
		KillerLooting:     false,
		Creative:          Creative{Deploy: false, Access: false},
		ExpireMinutes:     15,
		RemoveEmpty:       true,
		Sign: Sign{
			Enabled: true,
			Lines:   []string{"R.I.P.", "${player}", "${date}", "${killer}"},
		},
		Permissions: Permissions{Default: []string{"deathchest.deploy"}},
		World: World{
			Name:        "world",
			MinY:        -64,
			MaxY:        320,
			GroundY:     64,
			Spawn:       [3]int{0, 65, 0},
			SpawnRadius: 16,
		},
	}
}

func (t Tuning) TickDuration() time.Duration {
	if t.TickDurationMs <= 0 {
		return 50 * time.Millisecond
	}
	return time.Duration(t.TickDurationMs) * time.Millisecond
}

// ProtectionWindow is zero when chest protection is off or unconfigured.
func (t Tuning) ProtectionWindow() time.Duration {
	if !t.ChestProtection.Enabled || t.ChestProtection.Minutes <= 0 {
		return 0
	}
	return time.Duration(t.ChestProtection.Minutes) * time.Minute
}

// ExpireAfter is zero when chests never expire.
func (t Tuning) ExpireAfter() time.Duration {
	if t.ExpireMinutes <= 0 {
		return 0
	}
	return time.Duration(t.ExpireMinutes) * time.Minute
}

// Load reads a tuning file on top of Defaults. Files ending in .toml are
// parsed as TOML, everything else as YAML.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	name := filepath.Base(path)
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(raw), &t); err != nil {
			return t, fmt.Errorf("%s: %w", name, err)
		}
	} else if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("%s: %w", name, err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("%s: %w", name, err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.SearchDistance < 1 {
		return fmt.Errorf("search_distance must be >= 1, got %d", t.SearchDistance)
	}
	if t.World.MaxY <= t.World.MinY {
		return fmt.Errorf("world.max_y (%d) must be above world.min_y (%d)", t.World.MaxY, t.World.MinY)
	}
	seen := map[string]bool{}
	for _, p := range t.Protection.Providers {
		if p.Name == "" {
			return fmt.Errorf("protection provider without name")
		}
		if seen[p.Name] {
			return fmt.Errorf("protection provider %q configured twice", p.Name)
		}
		seen[p.Name] = true
		switch p.Kind {
		case "claims", "lua":
		default:
			return fmt.Errorf("protection provider %q: unknown kind %q", p.Name, p.Kind)
		}
	}
	return nil
}
