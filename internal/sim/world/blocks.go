package world

import "strings"

// Block type names.
const (
	Air       = "AIR"
	CaveAir   = "CAVE_AIR"
	Bedrock   = "BEDROCK"
	Barrier   = "BARRIER"
	Stone     = "STONE"
	Dirt      = "DIRT"
	Grass     = "GRASS_BLOCK"
	DirtPath  = "DIRT_PATH"
	GrassPath = "GRASS_PATH"
	Chest     = "CHEST"
	Sign      = "OAK_SIGN"
	WallSign  = "OAK_WALL_SIGN"
)

type ChestHalf int

const (
	HalfSingle ChestHalf = iota
	HalfLeft
	HalfRight
)

func (h ChestHalf) String() string {
	switch h {
	case HalfLeft:
		return "LEFT"
	case HalfRight:
		return "RIGHT"
	default:
		return "SINGLE"
	}
}

func ParseChestHalf(s string) (ChestHalf, bool) {
	switch strings.ToUpper(s) {
	case "SINGLE":
		return HalfSingle, true
	case "LEFT":
		return HalfLeft, true
	case "RIGHT":
		return HalfRight, true
	}
	return HalfSingle, false
}

type BlockState struct {
	Type   string
	Facing Facing
	Half   ChestHalf
	Lines  []string
}

func (b BlockState) IsPath() bool { return b.Type == DirtPath || b.Type == GrassPath }

func (b BlockState) IsSign() bool { return b.Type == Sign || b.Type == WallSign }

// plain reports whether the state carries nothing beyond its type.
func (b BlockState) plain() bool {
	return b.Facing == South && b.Half == HalfSingle && len(b.Lines) == 0
}

// Blocks is the world view the placement search and chest lifecycle work against.
type Blocks interface {
	Block(pos Vec3i) BlockState
	SetBlock(pos Vec3i, st BlockState)
	MinY() int
	MaxY() int
	Spawn() Vec3i
	SpawnRadius() int
}
