package world

import (
	"fmt"
	"math"

	"github.com/google/uuid"
)

type Vec3i struct {
	X int
	Y int
	Z int
}

func (v Vec3i) ToArray() [3]int { return [3]int{v.X, v.Y, v.Z} }

func (v Vec3i) Add(o Vec3i) Vec3i { return Vec3i{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }

func (v Vec3i) Up() Vec3i   { return Vec3i{X: v.X, Y: v.Y + 1, Z: v.Z} }
func (v Vec3i) Down() Vec3i { return Vec3i{X: v.X, Y: v.Y - 1, Z: v.Z} }

func (v Vec3i) String() string { return fmt.Sprintf("%d,%d,%d", v.X, v.Y, v.Z) }

func DistSq(a, b Vec3i) int {
	dx := a.X - b.X
	dy := a.Y - b.Y
	dz := a.Z - b.Z
	return dx*dx + dy*dy + dz*dz
}

// CardinalAdjacent reports whether a and b differ by exactly one block along X or Z.
func CardinalAdjacent(a, b Vec3i) bool {
	if a.Y != b.Y {
		return false
	}
	dx := a.X - b.X
	dz := a.Z - b.Z
	return (dx*dx == 1 && dz == 0) || (dz*dz == 1 && dx == 0)
}

// Location is a free position inside a named world. Yaw follows the
// Minecraft convention: 0 faces +Z (south), 90 faces -X (west).
type Location struct {
	World string
	X     float64
	Y     float64
	Z     float64
	Yaw   float64
}

func (l Location) Block() Vec3i {
	return Vec3i{X: int(math.Floor(l.X)), Y: int(math.Floor(l.Y)), Z: int(math.Floor(l.Z))}
}

func (l Location) Facing() Facing { return FacingFromYaw(l.Yaw) }

func (l Location) Rotate90() Location {
	l.Yaw += 90
	return l
}

// At moves the location onto the given block, keeping world and yaw.
func (l Location) At(pos Vec3i) Location {
	l.X = float64(pos.X)
	l.Y = float64(pos.Y)
	l.Z = float64(pos.Z)
	return l
}

type Facing int

const (
	South Facing = iota
	West
	North
	East
)

func FacingFromYaw(yaw float64) Facing {
	y := math.Mod(yaw, 360)
	if y < 0 {
		y += 360
	}
	return Facing(int(math.Floor(y/90+0.5)) % 4)
}

func (f Facing) Vec() Vec3i {
	switch f {
	case West:
		return Vec3i{X: -1}
	case North:
		return Vec3i{Z: -1}
	case East:
		return Vec3i{X: 1}
	default:
		return Vec3i{Z: 1}
	}
}

// Right is the direction on the right hand of someone looking towards f.
func (f Facing) Right() Facing    { return (f + 1) % 4 }
func (f Facing) Opposite() Facing { return (f + 2) % 4 }

func (f Facing) String() string {
	switch f {
	case West:
		return "WEST"
	case North:
		return "NORTH"
	case East:
		return "EAST"
	default:
		return "SOUTH"
	}
}

func ParseFacing(s string) (Facing, bool) {
	switch s {
	case "SOUTH":
		return South, true
	case "WEST":
		return West, true
	case "NORTH":
		return North, true
	case "EAST":
		return East, true
	}
	return South, false
}

type Player struct {
	ID       uuid.UUID
	Name     string
	Creative bool
	// Permission patterns granted by the host (e.g. "deathchest.loot.*").
	Permissions []string
	Location    Location
}
