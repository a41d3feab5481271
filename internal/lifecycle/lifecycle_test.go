package lifecycle

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"deathchest.gg/internal/persistence"
	"deathchest.gg/internal/protection"
	"deathchest.gg/internal/sched"
	"deathchest.gg/internal/sim/item"
	"deathchest.gg/internal/sim/model"
	"deathchest.gg/internal/sim/notify"
	"deathchest.gg/internal/sim/world"
)

var (
	owner    = world.Player{ID: uuid.MustParse("00000000-0000-0000-0000-00000000000a"), Name: "alice"}
	stranger = world.Player{ID: uuid.MustParse("00000000-0000-0000-0000-00000000000b"), Name: "bob"}
	killer   = world.Player{ID: uuid.MustParse("00000000-0000-0000-0000-00000000000c"), Name: "carol"}
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Add(d time.Duration)     { c.t = c.t.Add(d) }
func newClock() *clock                   { return &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)} }
func chestPos() world.Vec3i              { return world.Vec3i{X: 3, Y: 65, Z: 4} }
func signPos() world.Vec3i               { return world.Vec3i{X: 3, Y: 66, Z: 4} }
func stack(typ string, n int) item.Stack { return item.Stack{Type: typ, Count: n, MaxStack: 64} }

type staticPerms map[string]bool

func (s staticPerms) Has(p world.Player, node string) bool { return s[p.Name+"/"+node] }

type blockingArbiter struct{ provider string }

func (b blockingArbiter) CheckAccess(world.Player, world.Location) protection.Result {
	return protection.Result{Allowed: false, Provider: b.provider}
}

type recordingHost struct{ drops [][]item.Stack }

func (h *recordingHost) DropItems(_ string, _ world.Vec3i, items []item.Stack) {
	h.drops = append(h.drops, items)
}

type memAudit struct{ entries []AuditEntry }

func (m *memAudit) WriteAudit(e AuditEntry) error {
	m.entries = append(m.entries, e)
	return nil
}

type fixture struct {
	l      *Lifecycle
	grid   *world.Grid
	sched  *sched.TickScheduler
	store  *persistence.Memory
	notes  *notify.Recorder
	host   *recordingHost
	audit  *memAudit
	clock  *clock
	perms  staticPerms
	config Config
}

func defaultConfig() Config {
	return Config{
		ProtectionEnabled: true,
		ProtectionWindow:  5 * time.Minute,
		ExpireAfter:       15 * time.Minute,
		RemoveEmpty:       true,
	}
}

func newFixture(cfg Config) *fixture {
	f := &fixture{
		grid:   world.NewGrid(world.GridConfig{MinY: 0, MaxY: 128, GroundY: 64}),
		sched:  sched.NewTickScheduler(time.Minute),
		store:  persistence.NewMemory(),
		notes:  &notify.Recorder{},
		host:   &recordingHost{},
		audit:  &memAudit{},
		clock:  newClock(),
		perms:  staticPerms{},
		config: cfg,
	}
	f.l = f.build()
	return f
}

func (f *fixture) build() *Lifecycle {
	return New(f.config, Deps{
		Blocks:    f.grid,
		Perms:     f.perms,
		Scheduler: f.sched,
		Store:     f.store,
		Notifier:  f.notes,
		Host:      f.host,
		Audit:     f.audit,
		Now:       f.clock.Now,
	})
}

// place puts a single chest with a sign on top into the world and registers it.
func (f *fixture) place(items ...item.Stack) *model.DeathChest {
	pos, sp := chestPos(), signPos()
	f.grid.SetBlock(pos, world.BlockState{Type: world.Chest, Facing: world.North})
	f.grid.SetBlock(sp, world.BlockState{Type: world.Sign, Lines: []string{"R.I.P.", owner.Name}})
	c := &model.DeathChest{
		ID:        ulid.MustNew(ulid.Timestamp(f.clock.Now()), ulid.DefaultEntropy()),
		OwnerID:   owner.ID,
		OwnerName: owner.Name,
		KillerID:  uuid.NullUUID{UUID: killer.ID, Valid: true},
		World:     "world",
		Facing:    world.North,
		Blocks:    []*model.ChestBlock{{Pos: pos, Half: world.HalfSingle}},
		Sign:      &sp,
		Inventory: items,
	}
	f.l.Register(context.Background(), c)
	return c
}

func (f *fixture) advance(ticks int) {
	for i := 0; i < ticks; i++ {
		f.clock.Add(time.Minute)
		f.sched.Advance()
	}
}

func TestRegister_StampsDeadlinesAndStores(t *testing.T) {
	f := newFixture(defaultConfig())
	c := f.place(stack("DIAMOND", 3))

	if got := c.ProtectionExpiresAt.Sub(c.CreatedAt); got != 5*time.Minute {
		t.Fatalf("protection window = %v", got)
	}
	if got := c.ExpiresAt.Sub(c.CreatedAt); got != 15*time.Minute {
		t.Fatalf("expiry = %v", got)
	}
	if c.State(f.clock.Now()) != model.StateActiveProtected {
		t.Fatalf("state = %s", c.State(f.clock.Now()))
	}
	if !c.HasTimer() || f.sched.Pending() != 1 {
		t.Fatalf("expected one pending expiry timer")
	}
	if nc, nb := f.store.Counts(); nc != 1 || nb != 1 {
		t.Fatalf("store counts = %d chests %d blocks", nc, nb)
	}
	if f.l.ChestAt(chestPos()) != c || f.l.ChestAt(signPos()) != c {
		t.Fatalf("chest not indexed by block and sign")
	}
	if len(f.audit.entries) != 1 || f.audit.entries[0].Action != "CREATE" {
		t.Fatalf("audit: %+v", f.audit.entries)
	}
}

func TestRegister_NoWindowIsUnprotected(t *testing.T) {
	cfg := defaultConfig()
	cfg.ProtectionWindow = 0
	f := newFixture(cfg)
	c := f.place(stack("DIAMOND", 1))
	if !c.ProtectionExpiresAt.IsZero() {
		t.Fatalf("expected no protection window")
	}
	if c.State(f.clock.Now()) != model.StateActiveUnprotected {
		t.Fatalf("state = %s", c.State(f.clock.Now()))
	}
}

func TestExpiry_FiresAndRevertsBlocks(t *testing.T) {
	f := newFixture(defaultConfig())
	c := f.place(stack("DIAMOND", 3))

	f.advance(14)
	if f.l.Len() != 1 {
		t.Fatalf("expired too early")
	}
	f.advance(1)
	if f.l.Len() != 0 || !c.Destroyed() {
		t.Fatalf("expected chest to expire")
	}
	if f.grid.Block(chestPos()).Type != world.Air || f.grid.Block(signPos()).Type != world.Air {
		t.Fatalf("blocks not reverted")
	}
	if nc, nb := f.store.Counts(); nc != 0 || nb != 0 {
		t.Fatalf("records left: %d %d", nc, nb)
	}
	if len(f.host.drops) != 0 {
		t.Fatalf("items dropped with drop_items_on_expire off")
	}
	m, ok := f.notes.Last()
	if !ok || m.ID != notify.MsgExpired || m.Player != owner.ID {
		t.Fatalf("expected expiry message, got %+v", m)
	}
}

func TestExpiry_DropsItemsWhenConfigured(t *testing.T) {
	cfg := defaultConfig()
	cfg.DropItemsOnExpire = true
	f := newFixture(cfg)
	f.place(stack("DIAMOND", 3), stack("STICK", 5))
	f.advance(15)
	if len(f.host.drops) != 1 || item.Total(f.host.drops[0]) != 8 {
		t.Fatalf("drops = %+v", f.host.drops)
	}
}

func TestExpiry_ZeroMeansNever(t *testing.T) {
	cfg := defaultConfig()
	cfg.ExpireAfter = 0
	f := newFixture(cfg)
	c := f.place(stack("DIAMOND", 1))
	if c.HasTimer() || f.sched.Pending() != 0 || !c.ExpiresAt.IsZero() {
		t.Fatalf("chest should never expire")
	}
	f.advance(1000)
	if f.l.Len() != 1 {
		t.Fatalf("chest vanished")
	}
}

func TestBreak_CancelsTimer(t *testing.T) {
	f := newFixture(defaultConfig())
	c := f.place(stack("DIAMOND", 3))

	res := f.l.Break(context.Background(), owner, chestPos())
	if res.Decision.Outcome != Allow || item.Total(res.Items) != 3 {
		t.Fatalf("break: %+v", res)
	}
	if f.sched.Pending() != 0 || c.HasTimer() {
		t.Fatalf("expiry timer still pending")
	}
	f.advance(30)
	if m, ok := f.notes.Last(); ok && m.ID == notify.MsgExpired {
		t.Fatalf("expiry fired for a destroyed chest")
	}
}

func TestExpire_StaleCallbackIsNoop(t *testing.T) {
	f := newFixture(defaultConfig())
	c := f.place(stack("DIAMOND", 3))
	id := c.ID
	f.l.Break(context.Background(), owner, chestPos())
	f.l.expire(id)
	if len(f.notes.Messages) != 0 {
		t.Fatalf("stale timer produced output: %+v", f.notes.Messages)
	}
}

func TestClose_RemoveEmpty(t *testing.T) {
	f := newFixture(defaultConfig())
	c := f.place(stack("DIAMOND", 3))
	ctx := context.Background()

	if r := f.l.Open(owner, chestPos()); r.Decision.Outcome != Allow || r.Capacity != item.SingleChestSlots {
		t.Fatalf("open: %+v", r)
	}
	if c.State(f.clock.Now()) != model.StateOpen {
		t.Fatalf("state = %s", c.State(f.clock.Now()))
	}
	res := f.l.Close(ctx, owner, chestPos(), []item.Stack{})
	if !res.Destroyed || f.l.Len() != 0 {
		t.Fatalf("emptied chest should be removed: %+v", res)
	}
	if f.grid.Block(chestPos()).Type != world.Air {
		t.Fatalf("chest block left behind")
	}
}

func TestClose_KeepsNonEmpty(t *testing.T) {
	f := newFixture(defaultConfig())
	c := f.place(stack("DIAMOND", 3))
	ctx := context.Background()

	f.l.Open(owner, chestPos())
	res := f.l.Close(ctx, owner, chestPos(), []item.Stack{stack("DIAMOND", 1)})
	if res.Destroyed {
		t.Fatalf("chest with items removed")
	}
	if item.Total(c.Inventory) != 1 || c.ViewerCount() != 0 {
		t.Fatalf("inventory = %+v viewers = %d", c.Inventory, c.ViewerCount())
	}
	if c.State(f.clock.Now()) != model.StateActiveProtected {
		t.Fatalf("state after close = %s", c.State(f.clock.Now()))
	}
}

func TestClose_ClampsToCapacity(t *testing.T) {
	f := newFixture(defaultConfig())
	c := f.place(stack("DIAMOND", 3))
	f.l.Open(owner, chestPos())

	contents := make([]item.Stack, 0, item.SingleChestSlots+2)
	for i := 0; i < item.SingleChestSlots+2; i++ {
		contents = append(contents, item.Stack{Type: fmt.Sprintf("BOOK_%02d", i), Count: 1, MaxStack: 1})
	}
	res := f.l.Close(context.Background(), owner, chestPos(), contents)
	if len(c.Inventory) != item.SingleChestSlots {
		t.Fatalf("inventory slots = %d", len(c.Inventory))
	}
	if len(res.Overflow) != 2 || res.Overflow[0].Type != "BOOK_27" {
		t.Fatalf("overflow = %+v", res.Overflow)
	}
	recs, _ := f.store.SelectAllChestRecords(context.Background())
	if len(recs) != 1 || len(recs[0].Inventory) != item.SingleChestSlots {
		t.Fatalf("stored inventory not clamped")
	}
}

func TestClose_RemoveEmptyOff(t *testing.T) {
	cfg := defaultConfig()
	cfg.RemoveEmpty = false
	f := newFixture(cfg)
	f.place(stack("DIAMOND", 3))
	f.l.Open(owner, chestPos())
	if res := f.l.Close(context.Background(), owner, chestPos(), []item.Stack{}); res.Destroyed {
		t.Fatalf("remove_empty off but chest destroyed")
	}
}

func TestSignDetached_DestroysWithoutDrops(t *testing.T) {
	cfg := defaultConfig()
	cfg.DropItemsOnExpire = true
	f := newFixture(cfg)
	c := f.place(stack("DIAMOND", 3))

	if !f.l.SignDetached(context.Background(), signPos()) {
		t.Fatalf("sign not recognised")
	}
	if !c.Destroyed() || len(c.Inventory) != 0 || len(f.host.drops) != 0 {
		t.Fatalf("expected silent destruction")
	}
	if f.l.SignDetached(context.Background(), signPos()) {
		t.Fatalf("second detach should be ignored")
	}
}

func TestFilterExplosion(t *testing.T) {
	other := world.Vec3i{X: 10, Y: 65, Z: 10}
	blast := []world.Vec3i{chestPos(), signPos(), other}

	f := newFixture(defaultConfig())
	f.place(stack("DIAMOND", 3))
	kept, drops := f.l.FilterExplosion(context.Background(), blast)
	if len(kept) != 1 || kept[0] != other || len(drops) != 0 {
		t.Fatalf("protected chest: kept=%v drops=%v", kept, drops)
	}
	if f.l.Len() != 1 {
		t.Fatalf("protected chest destroyed")
	}

	cfg := defaultConfig()
	cfg.ProtectionEnabled = false
	f = newFixture(cfg)
	f.place(stack("DIAMOND", 3))
	_, drops = f.l.FilterExplosion(context.Background(), blast)
	if f.l.Len() != 0 || len(drops) != 1 || item.Total(drops[0].Items) != 3 {
		t.Fatalf("unprotected chest should blow up: drops=%v", drops)
	}
}

func TestLoad_ReschedulesAndExpires(t *testing.T) {
	f := newFixture(defaultConfig())
	live := f.place(stack("DIAMOND", 1))

	// A second chest created earlier that is already past its expiry.
	f.clock.Add(-20 * time.Minute)
	oldPos := world.Vec3i{X: 20, Y: 65, Z: 20}
	f.grid.SetBlock(oldPos, world.BlockState{Type: world.Chest})
	old := &model.DeathChest{
		ID:      ulid.MustNew(ulid.Timestamp(f.clock.Now()), ulid.DefaultEntropy()),
		OwnerID: owner.ID,
		World:   "world",
		Blocks:  []*model.ChestBlock{{Pos: oldPos}},
	}
	f.l.Register(context.Background(), old)
	f.clock.Add(20 * time.Minute)

	// Restart: new lifecycle, same store and world.
	f.clock.Add(5 * time.Minute)
	f.sched = sched.NewTickScheduler(time.Minute)
	f.l = f.build()
	st, err := f.l.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if st.Loaded != 1 || st.Expired != 1 {
		t.Fatalf("stats = %+v", st)
	}
	if f.grid.Block(oldPos).Type != world.Air {
		t.Fatalf("expired chest block not reverted")
	}
	got := f.l.Get(live.ID)
	if got == nil || !got.HasTimer() {
		t.Fatalf("live chest not rescheduled")
	}
	if f.l.ChestAt(signPos()) != got {
		t.Fatalf("sign not re-indexed")
	}
	// 15 minute expiry, 5 already spent.
	f.advance(9)
	if f.l.Len() != 1 {
		t.Fatalf("reloaded chest expired early")
	}
	f.advance(1)
	if f.l.Len() != 0 {
		t.Fatalf("reloaded chest did not expire")
	}
}

func TestLoad_DropsOrphans(t *testing.T) {
	f := newFixture(defaultConfig())
	ctx := context.Background()
	lonely := &model.DeathChest{ID: ulid.Make(), OwnerID: owner.ID}
	_, _ = f.store.InsertChestRecords(ctx, []*model.DeathChest{lonely})
	_, _ = f.store.InsertBlockRecords(ctx, []*model.ChestBlock{{Pos: world.Vec3i{X: 1, Y: 2, Z: 3}, ChestID: ulid.Make()}})

	st, err := f.l.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if st.Stale != 2 || f.l.Len() != 0 {
		t.Fatalf("stats = %+v", st)
	}
	if nc, nb := f.store.Counts(); nc != 0 || nb != 0 {
		t.Fatalf("orphans left in store: %d %d", nc, nb)
	}
}

func TestLoad_RestoresBlocksIntoFreshWorld(t *testing.T) {
	f := newFixture(defaultConfig())
	c := f.place(stack("DIAMOND", 1))

	// Restart against a world that forgot every block.
	f.grid = world.NewGrid(world.GridConfig{MinY: 0, MaxY: 128, GroundY: 64})
	f.sched = sched.NewTickScheduler(time.Minute)
	f.l = f.build()
	if st, err := f.l.Load(context.Background()); err != nil || st.Loaded != 1 {
		t.Fatalf("load: %+v %v", st, err)
	}
	got := f.grid.Block(chestPos())
	if got.Type != world.Chest || got.Facing != world.North || got.Half != world.HalfSingle {
		t.Fatalf("chest block = %+v", got)
	}
	if st := f.grid.Block(signPos()); st.Type != world.Sign {
		t.Fatalf("sign block = %+v", st)
	}
	if !f.l.Occupied(chestPos()) || f.l.Get(c.ID) == nil {
		t.Fatalf("chest not indexed")
	}
}

func TestLoad_DropsBadLayouts(t *testing.T) {
	f := newFixture(defaultConfig())
	ctx := context.Background()
	at := func(x, z int) world.Vec3i { return world.Vec3i{X: x, Y: 65, Z: z} }
	layouts := [][]*model.ChestBlock{
		{{Pos: at(0, 0), Half: world.HalfLeft}},
		{{Pos: at(10, 0), Half: world.HalfLeft}, {Pos: at(12, 0), Half: world.HalfRight}},
		{{Pos: at(20, 0), Half: world.HalfRight}, {Pos: at(21, 0), Half: world.HalfRight}},
		{{Pos: at(30, 0), Half: world.HalfLeft}, {Pos: at(31, 0), Half: world.HalfRight}, {Pos: at(32, 0)}},
	}
	for _, blocks := range layouts {
		c := &model.DeathChest{ID: ulid.Make(), OwnerID: owner.ID, World: "world"}
		for _, b := range blocks {
			b.ChestID = c.ID
		}
		_, _ = f.store.InsertChestRecords(ctx, []*model.DeathChest{c})
		_, _ = f.store.InsertBlockRecords(ctx, blocks)
	}
	good := &model.DeathChest{ID: ulid.Make(), OwnerID: owner.ID, World: "world"}
	_, _ = f.store.InsertChestRecords(ctx, []*model.DeathChest{good})
	_, _ = f.store.InsertBlockRecords(ctx, []*model.ChestBlock{
		{Pos: at(40, 0), Half: world.HalfLeft, ChestID: good.ID},
		{Pos: at(40, 1), Half: world.HalfRight, ChestID: good.ID},
	})

	st, err := f.l.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if st.Stale != 4 || st.Loaded != 1 || f.l.Len() != 1 {
		t.Fatalf("stats = %+v len = %d", st, f.l.Len())
	}
	if nc, nb := f.store.Counts(); nc != 1 || nb != 2 {
		t.Fatalf("store counts = %d %d", nc, nb)
	}
	if got := f.l.Get(good.ID); got == nil || got.Primary().Half != world.HalfRight {
		t.Fatalf("double chest not loaded")
	}
}

func TestLoad_DropsOverlappingChest(t *testing.T) {
	f := newFixture(defaultConfig())
	ctx := context.Background()
	first := f.place(stack("DIAMOND", 1))
	later := ulid.MustNew(ulid.Timestamp(f.clock.Now().Add(time.Minute)), ulid.DefaultEntropy())
	second := &model.DeathChest{ID: later, OwnerID: stranger.ID, World: "world"}
	_, _ = f.store.InsertChestRecords(ctx, []*model.DeathChest{second})
	_, _ = f.store.InsertBlockRecords(ctx, []*model.ChestBlock{{Pos: chestPos(), ChestID: second.ID}})

	f.l = f.build()
	st, err := f.l.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if st.Loaded != 1 || st.Stale != 1 {
		t.Fatalf("stats = %+v", st)
	}
	if f.l.ChestAt(chestPos()) == nil || f.l.ChestAt(chestPos()).ID != first.ID {
		t.Fatalf("first chest lost its block")
	}
}

func TestFlush_WritesIndexAndSyncs(t *testing.T) {
	f := newFixture(defaultConfig())
	c := f.place(stack("DIAMOND", 1))
	ctx := context.Background()
	_ = f.store.DeleteChestRecord(ctx, c)

	if err := f.l.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if nc, _ := f.store.Counts(); nc != 1 || f.store.Syncs() != 1 {
		t.Fatalf("flush did not restore the record")
	}
}

func TestDefer_NoStateChange(t *testing.T) {
	f := newFixture(defaultConfig())
	f.l.arb = blockingArbiter{provider: "towns"}
	c := f.place(stack("DIAMOND", 1))

	res := f.l.Open(owner, chestPos())
	if res.Decision.Outcome != Defer || res.Decision.Provider != "towns" {
		t.Fatalf("expected defer, got %+v", res.Decision)
	}
	if c.ViewerCount() != 0 || len(f.notes.Messages) != 0 {
		t.Fatalf("defer must not change state or message")
	}
}
