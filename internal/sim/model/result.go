package model

import (
	"deathchest.gg/internal/sim/item"
	"deathchest.gg/internal/sim/world"
)

type Code string

const (
	CodeSuccess             Code = "SUCCESS"
	CodePartialSuccess      Code = "PARTIAL_SUCCESS"
	CodeNoChest             Code = "NO_CHEST"
	CodeProtectionPlugin    Code = "PROTECTION_PLUGIN"
	CodeSpawnRadius         Code = "SPAWN_RADIUS"
	CodeNonReplaceableBlock Code = "NON_REPLACEABLE_BLOCK"
	CodeAboveGrassPath      Code = "ABOVE_GRASS_PATH"
	CodeVoid                Code = "VOID"
)

func (c Code) Placed() bool { return c == CodeSuccess || c == CodePartialSuccess }

type Size int

const (
	SizeSingle Size = 1
	SizeDouble Size = 2
)

func (s Size) String() string {
	if s == SizeDouble {
		return "DOUBLE"
	}
	return "SINGLE"
}

func (s Size) Slots() int {
	if s == SizeDouble {
		return item.DoubleChestSlots
	}
	return item.SingleChestSlots
}

// SearchResult is returned by the placement search and the deployment planner.
type SearchResult struct {
	Code Code
	// Chosen locations, primary first. Only set on SUCCESS / PARTIAL_SUCCESS.
	Locations []world.Location
	// Provider that blocked placement (PROTECTION_PLUGIN only).
	Provider string
	// Items the caller still has to drop.
	Remaining []item.Stack

	// Set by the planner once a chest has been placed.
	Chest *DeathChest
	Size  Size
}
