package model

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"deathchest.gg/internal/sched"
	"deathchest.gg/internal/sim/item"
	"deathchest.gg/internal/sim/world"
)

type State string

const (
	StateActiveProtected   State = "ACTIVE_PROTECTED"
	StateActiveUnprotected State = "ACTIVE_UNPROTECTED"
	StateOpen              State = "OPEN"
	StateDestroyed         State = "DESTROYED"
)

// DeathChest is one deployed chest (one or two blocks plus an optional sign).
type DeathChest struct {
	ID ulid.ULID

	OwnerID    uuid.UUID
	OwnerName  string
	KillerID   uuid.NullUUID
	KillerName string

	World     string
	Facing    world.Facing
	CreatedAt time.Time
	// Zero means no protection window.
	ProtectionExpiresAt time.Time
	// Zero means the chest never expires.
	ExpiresAt time.Time

	Blocks    []*ChestBlock
	Sign      *world.Vec3i
	Inventory []item.Stack

	viewers   map[uuid.UUID]string
	timer     sched.Handle
	destroyed bool
}

// ChestBlock is one block of a DeathChest. ChestID is a lookup key only;
// the chest owns its blocks.
type ChestBlock struct {
	Pos     world.Vec3i
	Half    world.ChestHalf
	ChestID ulid.ULID
}

func (c *DeathChest) Double() bool { return len(c.Blocks) == 2 }

func (c *DeathChest) Capacity() int {
	if c.Double() {
		return item.DoubleChestSlots
	}
	return item.SingleChestSlots
}

// Primary is the block the search chose; for doubles it is the RIGHT half.
func (c *DeathChest) Primary() *ChestBlock {
	for _, b := range c.Blocks {
		if b.Half != world.HalfLeft {
			return b
		}
	}
	if len(c.Blocks) > 0 {
		return c.Blocks[0]
	}
	return nil
}

func (c *DeathChest) Occupies(pos world.Vec3i) bool {
	for _, b := range c.Blocks {
		if b.Pos == pos {
			return true
		}
	}
	return false
}

func (c *DeathChest) Protected(now time.Time) bool {
	return !c.ProtectionExpiresAt.IsZero() && now.Before(c.ProtectionExpiresAt)
}

func (c *DeathChest) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

func (c *DeathChest) IsKiller(id uuid.UUID) bool {
	return c.KillerID.Valid && c.KillerID.UUID == id
}

func (c *DeathChest) State(now time.Time) State {
	switch {
	case c.destroyed:
		return StateDestroyed
	case len(c.viewers) > 0:
		return StateOpen
	case c.Protected(now):
		return StateActiveProtected
	default:
		return StateActiveUnprotected
	}
}

func (c *DeathChest) ViewerCount() int { return len(c.viewers) }

func (c *DeathChest) HasViewer(id uuid.UUID) bool {
	_, ok := c.viewers[id]
	return ok
}

// OtherViewer returns the name of a viewer that is not id, if any.
func (c *DeathChest) OtherViewer(id uuid.UUID) (string, bool) {
	names := make([]string, 0, len(c.viewers))
	for vid, name := range c.viewers {
		if vid != id {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "", false
	}
	sort.Strings(names)
	return names[0], true
}

func (c *DeathChest) AddViewer(id uuid.UUID, name string) {
	if c.viewers == nil {
		c.viewers = map[uuid.UUID]string{}
	}
	c.viewers[id] = name
}

// RemoveViewer reports whether id was viewing.
func (c *DeathChest) RemoveViewer(id uuid.UUID) bool {
	if _, ok := c.viewers[id]; !ok {
		return false
	}
	delete(c.viewers, id)
	return true
}

func (c *DeathChest) InventoryEmpty() bool {
	for _, s := range c.Inventory {
		if !s.Empty() {
			return false
		}
	}
	return true
}

// TakeInventory empties the chest and returns what it held.
func (c *DeathChest) TakeInventory() []item.Stack {
	out := make([]item.Stack, 0, len(c.Inventory))
	for _, s := range c.Inventory {
		if !s.Empty() {
			out = append(out, s)
		}
	}
	c.Inventory = nil
	return out
}

func (c *DeathChest) SetTimer(h sched.Handle) {
	c.CancelTimer()
	c.timer = h
}

// CancelTimer reports whether a pending expiration timer was cancelled.
func (c *DeathChest) CancelTimer() bool {
	if c.timer == nil {
		return false
	}
	ok := c.timer.Cancel()
	c.timer = nil
	return ok
}

func (c *DeathChest) HasTimer() bool { return c.timer != nil }

func (c *DeathChest) Destroyed() bool { return c.destroyed }

// MarkDestroyed moves the chest into its terminal state and drops viewers
// and any pending timer.
func (c *DeathChest) MarkDestroyed() {
	c.CancelTimer()
	c.viewers = nil
	c.destroyed = true
}

// CloneRecord copies the persisted fields of c. Blocks, viewers and the
// expiry timer are not part of the record.
func CloneRecord(c *DeathChest) *DeathChest {
	out := &DeathChest{
		ID:                  c.ID,
		OwnerID:             c.OwnerID,
		OwnerName:           c.OwnerName,
		KillerID:            c.KillerID,
		KillerName:          c.KillerName,
		World:               c.World,
		Facing:              c.Facing,
		CreatedAt:           c.CreatedAt,
		ProtectionExpiresAt: c.ProtectionExpiresAt,
		ExpiresAt:           c.ExpiresAt,
		Inventory:           item.Clone(c.Inventory),
	}
	if c.Sign != nil {
		s := *c.Sign
		out.Sign = &s
	}
	return out
}
