package lifecycle

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"deathchest.gg/internal/metrics"
	"deathchest.gg/internal/perm"
	"deathchest.gg/internal/sim/item"
	"deathchest.gg/internal/sim/model"
	"deathchest.gg/internal/sim/notify"
	"deathchest.gg/internal/sim/world"
)

type Outcome int

const (
	// Defer leaves the interaction to the external protection provider:
	// no state change and no message.
	Defer Outcome = iota
	Allow
	Deny
)

func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	default:
		return "defer"
	}
}

type DenyReason string

const (
	DenyInUse     DenyReason = "IN_USE"
	DenyCreative  DenyReason = "CREATIVE"
	DenyProtected DenyReason = "PROTECTED"
	DenyNotOwner  DenyReason = "NOT_OWNER"
)

type Decision struct {
	Outcome  Outcome
	Reason   DenyReason
	Provider string // set on Defer
	Viewer   string // set on DenyInUse
	// Time left in the protection window, set on DenyProtected.
	Remaining time.Duration
}

// Decide runs the access precedence for p touching chest c at pos. The
// first matching rule wins.
func (l *Lifecycle) Decide(p world.Player, c *model.DeathChest, pos world.Vec3i) Decision {
	now := l.now()
	if l.arb != nil {
		loc := world.Location{World: c.World}.At(pos)
		if r := l.arb.CheckAccess(p, loc); !r.Allowed {
			return Decision{Outcome: Defer, Provider: r.Provider}
		}
	}
	if name, ok := c.OtherViewer(p.ID); ok {
		return Decision{Outcome: Deny, Reason: DenyInUse, Viewer: name}
	}
	if p.Creative && !l.cfg.CreativeAccess && !l.perms.Has(p, perm.CreativeBypass) {
		return Decision{Outcome: Deny, Reason: DenyCreative}
	}
	if p.ID == c.OwnerID {
		return Decision{Outcome: Allow}
	}
	if !l.cfg.ProtectionEnabled {
		return Decision{Outcome: Allow}
	}
	// A chest created without a window is owner-only until it goes away.
	if !c.ProtectionExpiresAt.IsZero() && !now.Before(c.ProtectionExpiresAt) {
		return Decision{Outcome: Allow}
	}
	if l.perms.Has(p, perm.LootOther) {
		return Decision{Outcome: Allow}
	}
	if l.cfg.KillerLooting && c.IsKiller(p.ID) && l.perms.Has(p, perm.LootKiller) {
		return Decision{Outcome: Allow}
	}
	if c.Protected(now) {
		return Decision{Outcome: Deny, Reason: DenyProtected, Remaining: c.ProtectionExpiresAt.Sub(now)}
	}
	return Decision{Outcome: Deny, Reason: DenyNotOwner}
}

// decide wraps Decide with metrics and the denial message.
func (l *Lifecycle) decide(p world.Player, c *model.DeathChest, pos world.Vec3i) Decision {
	d := l.Decide(p, c, pos)
	metrics.AccessDecisions.WithLabelValues(d.Outcome.String()).Inc()
	if d.Outcome != Deny {
		return d
	}
	switch d.Reason {
	case DenyInUse:
		l.notify.Message(p.ID, notify.MsgAccessInUse, map[string]string{"viewer": d.Viewer})
	case DenyCreative:
		l.notify.Message(p.ID, notify.MsgAccessCreative, nil)
	case DenyProtected:
		until := l.now().Add(d.Remaining)
		l.notify.Message(p.ID, notify.MsgAccessProtected, map[string]string{
			"owner":             c.OwnerName,
			"remaining":         strings.TrimSpace(humanize.RelTime(l.now(), until, "", "")),
			"remaining_seconds": strconv.Itoa(int(d.Remaining.Round(time.Second) / time.Second)),
		})
	default:
		l.notify.Message(p.ID, notify.MsgAccessNotOwner, map[string]string{"owner": c.OwnerName})
	}
	l.notify.Sound(p.ID, notify.SoundDenied, pos)
	return d
}

type OpenResult struct {
	Found     bool
	Decision  Decision
	ChestID   string
	Inventory []item.Stack
	Capacity  int
}

// Open admits p as a viewer when the access decision allows it.
func (l *Lifecycle) Open(p world.Player, pos world.Vec3i) OpenResult {
	c := l.ChestAt(pos)
	if c == nil {
		return OpenResult{}
	}
	res := OpenResult{Found: true, ChestID: c.ID.String()}
	res.Decision = l.decide(p, c, pos)
	if res.Decision.Outcome != Allow {
		return res
	}
	c.AddViewer(p.ID, p.Name)
	res.Inventory = item.Clone(c.Inventory)
	res.Capacity = c.Capacity()
	l.notify.Sound(p.ID, notify.SoundOpen, pos)
	l.writeAudit("OPEN", c, p.Name, "", item.Total(c.Inventory))
	return res
}

type CloseResult struct {
	Found     bool
	Destroyed bool
	// Stacks from contents that did not fit the chest, for the caller to drop.
	Overflow []item.Stack
}

// Close removes p from the viewers. contents, when non-nil, replaces the
// chest inventory with what the viewer left behind, up to the chest
// capacity. With remove_empty set an emptied chest is destroyed once its
// last viewer leaves.
func (l *Lifecycle) Close(ctx context.Context, p world.Player, pos world.Vec3i, contents []item.Stack) CloseResult {
	c := l.ChestAt(pos)
	if c == nil {
		return CloseResult{}
	}
	if !c.RemoveViewer(p.ID) {
		return CloseResult{Found: true}
	}
	var overflow []item.Stack
	if contents != nil {
		c.Inventory, overflow = item.Fill(item.Consolidate(contents), c.Capacity())
		if len(overflow) > 0 {
			l.log.Printf("warn: chest %s closed with %d stacks over capacity", c.ID, len(overflow))
		}
	}
	l.writeAudit("CLOSE", c, p.Name, "", item.Total(c.Inventory))
	if l.cfg.RemoveEmpty && c.ViewerCount() == 0 && c.InventoryEmpty() {
		l.destroy(ctx, c, CauseEmpty, p.Name)
		return CloseResult{Found: true, Destroyed: true, Overflow: overflow}
	}
	if l.store != nil {
		if _, err := l.store.InsertChestRecords(ctx, []*model.DeathChest{c}); err != nil {
			l.log.Printf("warn: store chest %s: %v", c.ID, err)
		}
	}
	return CloseResult{Found: true, Overflow: overflow}
}

type TakeResult struct {
	Found    bool
	Decision Decision
	Items    []item.Stack
}

// Break destroys the chest at pos (a chest block or its sign) and returns
// the inventory for the caller to drop.
func (l *Lifecycle) Break(ctx context.Context, p world.Player, pos world.Vec3i) TakeResult {
	return l.take(ctx, p, pos, CauseBreak)
}

// QuickLoot hands the whole inventory to p and removes the chest.
func (l *Lifecycle) QuickLoot(ctx context.Context, p world.Player, pos world.Vec3i) TakeResult {
	return l.take(ctx, p, pos, CauseQuickLoot)
}

func (l *Lifecycle) take(ctx context.Context, p world.Player, pos world.Vec3i, cause string) TakeResult {
	c := l.ChestAt(pos)
	if c == nil {
		return TakeResult{}
	}
	res := TakeResult{Found: true}
	res.Decision = l.decide(p, c, pos)
	if res.Decision.Outcome != Allow {
		return res
	}
	res.Items = c.TakeInventory()
	l.destroy(ctx, c, cause, p.Name)
	return res
}

// SignDetached removes the chest whose sign lost its support. The
// inventory is discarded.
func (l *Lifecycle) SignDetached(ctx context.Context, pos world.Vec3i) bool {
	id, ok := l.signs[pos]
	if !ok {
		return false
	}
	c := l.chests[id]
	if c == nil {
		return false
	}
	c.TakeInventory()
	l.destroy(ctx, c, CauseSign, "")
	return true
}

type Drop struct {
	World string
	Pos   world.Vec3i
	Items []item.Stack
}

// FilterExplosion returns the positions an explosion may still destroy.
// While chest protection is on, chest and sign blocks are removed from the
// list. Otherwise chests caught in the blast are destroyed and their
// inventories returned as drops.
func (l *Lifecycle) FilterExplosion(ctx context.Context, positions []world.Vec3i) ([]world.Vec3i, []Drop) {
	kept := make([]world.Vec3i, 0, len(positions))
	var drops []Drop
	for _, pos := range positions {
		c := l.ChestAt(pos)
		if c == nil {
			kept = append(kept, pos)
			continue
		}
		if l.cfg.ProtectionEnabled {
			continue
		}
		if c.Destroyed() {
			continue
		}
		if items := c.TakeInventory(); len(items) > 0 {
			drops = append(drops, Drop{World: c.World, Pos: c.Primary().Pos, Items: items})
		}
		l.destroy(ctx, c, CauseExplosion, "")
	}
	return kept, drops
}
