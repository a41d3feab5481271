// Package lifecycle owns deployed death chests after placement: access
// decisions, viewers, expiry and destruction, and reconciliation with the
// durable store.
//
// A Lifecycle is not safe for concurrent use. The engine loop is its only
// caller and timers fire on that loop.
package lifecycle

import (
	"context"
	"io"
	"log"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"deathchest.gg/internal/metrics"
	"deathchest.gg/internal/perm"
	"deathchest.gg/internal/persistence"
	"deathchest.gg/internal/protection"
	"deathchest.gg/internal/sched"
	"deathchest.gg/internal/sim/item"
	"deathchest.gg/internal/sim/model"
	"deathchest.gg/internal/sim/notify"
	"deathchest.gg/internal/sim/world"
)

type Config struct {
	ProtectionEnabled bool
	// Zero means chests are created without a timed protection window.
	ProtectionWindow time.Duration
	// Zero means chests never expire.
	ExpireAfter time.Duration

	KillerLooting     bool
	CreativeAccess    bool
	RemoveEmpty       bool
	DropItemsOnExpire bool
}

type AccessArbiter interface {
	CheckAccess(p world.Player, loc world.Location) protection.Result
}

// Host receives items the chest system hands back to the world.
type Host interface {
	DropItems(worldName string, pos world.Vec3i, items []item.Stack)
}

type AuditSink interface {
	WriteAudit(e AuditEntry) error
}

type AuditEntry struct {
	Time    time.Time `json:"time"`
	Action  string    `json:"action"`
	ChestID string    `json:"chest_id"`
	Owner   string    `json:"owner"`
	Actor   string    `json:"actor,omitempty"`
	World   string    `json:"world"`
	Pos     [3]int    `json:"pos"`
	Reason  string    `json:"reason,omitempty"`
	Items   int       `json:"items,omitempty"`
}

// Destruction causes, used for metrics and the audit trail.
const (
	CauseBreak     = "break"
	CauseQuickLoot = "quick_loot"
	CauseEmpty     = "empty"
	CauseSign      = "sign_detached"
	CauseExplosion = "explosion"
	CauseExpired   = "expired"
)

type Deps struct {
	Blocks    world.Blocks
	Arbiter   AccessArbiter
	Perms     perm.Checker
	Scheduler sched.Scheduler
	Store     persistence.Store
	Notifier  notify.Notifier
	Host      Host
	Audit     AuditSink
	Now       func() time.Time
	Logger    *log.Logger
}

type Lifecycle struct {
	cfg    Config
	blocks world.Blocks
	arb    AccessArbiter
	perms  perm.Checker
	sched  sched.Scheduler
	store  persistence.Store
	notify notify.Notifier
	host   Host
	audit  AuditSink
	now    func() time.Time
	log    *log.Logger

	chests   map[ulid.ULID]*model.DeathChest
	blockIdx map[world.Vec3i]*model.ChestBlock
	signs    map[world.Vec3i]ulid.ULID
}

func New(cfg Config, d Deps) *Lifecycle {
	l := &Lifecycle{
		cfg:      cfg,
		blocks:   d.Blocks,
		arb:      d.Arbiter,
		perms:    d.Perms,
		sched:    d.Scheduler,
		store:    d.Store,
		notify:   d.Notifier,
		host:     d.Host,
		audit:    d.Audit,
		now:      d.Now,
		log:      d.Logger,
		chests:   map[ulid.ULID]*model.DeathChest{},
		blockIdx: map[world.Vec3i]*model.ChestBlock{},
		signs:    map[world.Vec3i]ulid.ULID{},
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.log == nil {
		l.log = log.New(io.Discard, "", 0)
	}
	if l.notify == nil {
		l.notify = notify.Discard{}
	}
	if l.perms == nil {
		l.perms = noPerms{}
	}
	return l
}

type noPerms struct{}

func (noPerms) Has(world.Player, string) bool { return false }

func (l *Lifecycle) Len() int { return len(l.chests) }

func (l *Lifecycle) Get(id ulid.ULID) *model.DeathChest { return l.chests[id] }

// Chests returns every tracked chest ordered by id (creation order).
func (l *Lifecycle) Chests() []*model.DeathChest {
	out := make([]*model.DeathChest, 0, len(l.chests))
	for _, c := range l.chests {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Compare(out[j].ID) < 0 })
	return out
}

// ChestAt resolves a chest block or its sign.
func (l *Lifecycle) ChestAt(pos world.Vec3i) *model.DeathChest {
	if b := l.blockIdx[pos]; b != nil {
		return l.chests[b.ChestID]
	}
	if id, ok := l.signs[pos]; ok {
		return l.chests[id]
	}
	return nil
}

// Occupied reports whether pos belongs to a tracked chest or sign.
func (l *Lifecycle) Occupied(pos world.Vec3i) bool { return l.ChestAt(pos) != nil }

// Register starts tracking a freshly placed chest: it stamps the protection
// and expiry deadlines, schedules expiry and records the chest in the store.
func (l *Lifecycle) Register(ctx context.Context, c *model.DeathChest) {
	now := l.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if l.cfg.ProtectionEnabled && l.cfg.ProtectionWindow > 0 {
		c.ProtectionExpiresAt = c.CreatedAt.Add(l.cfg.ProtectionWindow)
	}
	if l.cfg.ExpireAfter > 0 {
		c.ExpiresAt = c.CreatedAt.Add(l.cfg.ExpireAfter)
	}
	l.index(c)
	l.scheduleExpiry(c, now)

	if l.store != nil {
		if _, err := l.store.InsertChestRecords(ctx, []*model.DeathChest{c}); err != nil {
			l.log.Printf("warn: store chest %s: %v", c.ID, err)
		}
		if _, err := l.store.InsertBlockRecords(ctx, c.Blocks); err != nil {
			l.log.Printf("warn: store chest blocks %s: %v", c.ID, err)
		}
	}
	l.writeAudit("CREATE", c, c.OwnerName, "", item.Total(c.Inventory))
}

func (l *Lifecycle) index(c *model.DeathChest) {
	l.chests[c.ID] = c
	for _, b := range c.Blocks {
		b.ChestID = c.ID
		l.blockIdx[b.Pos] = b
	}
	if c.Sign != nil {
		l.signs[*c.Sign] = c.ID
	}
	metrics.ActiveChests.Set(float64(len(l.chests)))
}

func (l *Lifecycle) unindex(c *model.DeathChest) {
	delete(l.chests, c.ID)
	for _, b := range c.Blocks {
		if cur := l.blockIdx[b.Pos]; cur == b {
			delete(l.blockIdx, b.Pos)
		}
	}
	if c.Sign != nil {
		if id, ok := l.signs[*c.Sign]; ok && id == c.ID {
			delete(l.signs, *c.Sign)
		}
	}
	metrics.ActiveChests.Set(float64(len(l.chests)))
}

func (l *Lifecycle) scheduleExpiry(c *model.DeathChest, now time.Time) {
	if c.ExpiresAt.IsZero() || l.sched == nil {
		return
	}
	id := c.ID
	c.SetTimer(l.sched.Schedule(c.ExpiresAt.Sub(now), func() { l.expire(id) }))
}

// expire is the timer callback. The chest may already be gone.
func (l *Lifecycle) expire(id ulid.ULID) {
	c := l.chests[id]
	if c == nil || c.Destroyed() {
		return
	}
	l.expireChest(context.Background(), c)
}

func (l *Lifecycle) expireChest(ctx context.Context, c *model.DeathChest) {
	items := c.TakeInventory()
	primary := c.Primary()
	if l.cfg.DropItemsOnExpire && len(items) > 0 && l.host != nil && primary != nil {
		l.host.DropItems(c.World, primary.Pos, items)
	}
	if primary != nil {
		l.notify.Sound(c.OwnerID, notify.SoundExpire, primary.Pos)
	}
	l.notify.Message(c.OwnerID, notify.MsgExpired, map[string]string{"chest": c.ID.String()})
	metrics.Expirations.Inc()
	l.destroy(ctx, c, CauseExpired, "")
}

// destroy reverts the chest blocks and sign, cancels the expiry timer and
// removes every record of the chest.
func (l *Lifecycle) destroy(ctx context.Context, c *model.DeathChest, cause, actor string) {
	c.MarkDestroyed()
	l.unindex(c)
	if l.blocks != nil {
		for _, b := range c.Blocks {
			if l.blocks.Block(b.Pos).Type == world.Chest {
				l.blocks.SetBlock(b.Pos, world.BlockState{Type: world.Air})
			}
		}
		if c.Sign != nil && l.blocks.Block(*c.Sign).IsSign() {
			l.blocks.SetBlock(*c.Sign, world.BlockState{Type: world.Air})
		}
	}
	if l.store != nil {
		for _, b := range c.Blocks {
			if err := l.store.DeleteBlockRecord(ctx, b); err != nil {
				l.log.Printf("warn: delete chest block %s %s: %v", c.ID, b.Pos, err)
			}
		}
		if err := l.store.DeleteChestRecord(ctx, c); err != nil {
			l.log.Printf("warn: delete chest %s: %v", c.ID, err)
		}
	}
	metrics.Destroyed.WithLabelValues(cause).Inc()
	l.writeAudit("DESTROY", c, actor, cause, 0)
}

func (l *Lifecycle) writeAudit(action string, c *model.DeathChest, actor, reason string, items int) {
	if l.audit == nil {
		return
	}
	e := AuditEntry{
		Time:    l.now().UTC(),
		Action:  action,
		ChestID: c.ID.String(),
		Owner:   c.OwnerID.String(),
		Actor:   actor,
		World:   c.World,
		Reason:  reason,
		Items:   items,
	}
	if p := c.Primary(); p != nil {
		e.Pos = p.Pos.ToArray()
	}
	if err := l.audit.WriteAudit(e); err != nil {
		l.log.Printf("warn: audit %s %s: %v", action, c.ID, err)
	}
}
