// Package engine wires the chest system together and runs it on a single
// goroutine. Every public call is submitted to that goroutine and waits for
// its result; scheduler timers fire on it too.
package engine

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"github.com/samber/oops"

	"deathchest.gg/internal/deploy"
	"deathchest.gg/internal/lifecycle"
	"deathchest.gg/internal/perm"
	"deathchest.gg/internal/persistence"
	dlog "deathchest.gg/internal/persistence/log"
	"deathchest.gg/internal/protection"
	"deathchest.gg/internal/sched"
	"deathchest.gg/internal/search"
	"deathchest.gg/internal/sim/item"
	"deathchest.gg/internal/sim/model"
	"deathchest.gg/internal/sim/notify"
	"deathchest.gg/internal/sim/tuning"
	"deathchest.gg/internal/sim/world"
)

// ErrStopped is returned by calls made after the loop has exited.
var ErrStopped = errors.New("engine stopped")

// Reasons a death produced no deployment attempt.
const (
	SkipNoDrops      = "no_drops"
	SkipCreative     = "creative"
	SkipNoPermission = "no_permission"
)

type Config struct {
	Tuning tuning.Tuning
	// Relative provider paths are resolved against ConfigDir.
	ConfigDir string
}

// DeathLog records every handled death.
type DeathLog interface {
	WriteDeploy(e dlog.DeployEntry) error
}

type Deps struct {
	// Store defaults to an in-memory store.
	Store    persistence.Store
	Audit    lifecycle.AuditSink
	Deaths   DeathLog
	Notifier notify.Notifier
	Host     lifecycle.Host
	// Blocks defaults to a flat grid built from the tuning world section.
	Blocks world.Blocks
	Now    func() time.Time
	Logger *log.Logger
}

type call struct {
	fn   func()
	done chan struct{}
}

type Engine struct {
	cfg     tuning.Tuning
	tick    time.Duration
	blocks  world.Blocks
	arb     *protection.Arbitrator
	perms   *perm.Resolver
	sched   *sched.TickScheduler
	store   persistence.Store
	life    *lifecycle.Lifecycle
	planner *deploy.Planner
	deaths  DeathLog
	now     func() time.Time
	log     *log.Logger
	closers []func()

	inbox  chan call
	stop   chan struct{}
	exited chan struct{}
}

func New(cfg Config, d Deps) (*Engine, error) {
	t := cfg.Tuning
	if err := t.Validate(); err != nil {
		return nil, oops.In("engine").Code("CONFIG").Wrap(err)
	}
	e := &Engine{
		cfg:    t,
		tick:   t.TickDuration(),
		blocks: d.Blocks,
		store:  d.Store,
		deaths: d.Deaths,
		now:    d.Now,
		log:    d.Logger,
		inbox:  make(chan call, 1024),
		stop:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	if e.log == nil {
		e.log = log.New(io.Discard, "", 0)
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.store == nil {
		e.store = persistence.NewMemory()
	}
	if e.blocks == nil {
		w := t.World
		e.blocks = world.NewGrid(world.GridConfig{
			MinY:        w.MinY,
			MaxY:        w.MaxY,
			GroundY:     w.GroundY,
			BoundaryR:   w.BoundaryR,
			Spawn:       world.Vec3i{X: w.Spawn[0], Y: w.Spawn[1], Z: w.Spawn[2]},
			SpawnRadius: w.SpawnRadius,
		})
	}

	perms, err := perm.NewResolver(t.Permissions.Default)
	if err != nil {
		return nil, oops.In("engine").Code("CONFIG").With("key", "permissions.default").Wrap(err)
	}
	e.perms = perms

	cands, flags, closers := buildProviders(t.Protection.Providers, cfg.ConfigDir, e.log)
	e.closers = closers
	e.arb = protection.NewArbitrator(cands, flags, e.log)

	e.sched = sched.NewTickScheduler(e.tick)
	e.life = lifecycle.New(lifecycle.Config{
		ProtectionEnabled: t.ChestProtection.Enabled,
		ProtectionWindow:  t.ProtectionWindow(),
		ExpireAfter:       t.ExpireAfter(),
		KillerLooting:     t.KillerLooting,
		CreativeAccess:    t.Creative.Access,
		RemoveEmpty:       t.RemoveEmpty,
		DropItemsOnExpire: t.DropItemsOnExpire,
	}, lifecycle.Deps{
		Blocks:    e.blocks,
		Arbiter:   e.arb,
		Perms:     e.perms,
		Scheduler: e.sched,
		Store:     e.store,
		Notifier:  d.Notifier,
		Host:      d.Host,
		Audit:     d.Audit,
		Now:       e.now,
		Logger:    e.log,
	})

	searcher, err := search.New(e.blocks, e.arb, search.Config{
		Distance:       t.SearchDistance,
		PlaceAboveVoid: t.PlaceAboveVoid,
		Replaceable:    t.ReplaceableBlocks,
		Occupied:       e.life,
	})
	if err != nil {
		e.closeProviders()
		return nil, oops.In("engine").Code("CONFIG").With("key", "replaceable_blocks").Wrap(err)
	}

	e.planner = deploy.New(deploy.Config{
		RequireChest:         t.RequireChest,
		ConsumeRequiredChest: t.ConsumeRequiredChest,
		SignEnabled:          t.Sign.Enabled,
		SignLines:            t.Sign.Lines,
	}, deploy.Deps{
		Blocks:   e.blocks,
		Search:   searcher,
		Registry: e.life,
		Perms:    e.perms,
		Notifier: d.Notifier,
		Now:      e.now,
		Logger:   e.log,
	})
	return e, nil
}

// Providers lists the registered protection providers in priority order.
func (e *Engine) Providers() []string { return e.arb.Providers() }

func (e *Engine) TickDuration() time.Duration { return e.tick }

func (e *Engine) WorldName() string { return e.cfg.World.Name }

// Start initializes the store and reloads persisted chests. It must be
// called before Run.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.store.Initialize(ctx); err != nil {
		e.log.Printf("severe: chest store init failed: %v", err)
		return oops.In("engine").Code("STORE_INIT").Wrap(err)
	}
	st, err := e.life.Load(ctx)
	if err != nil {
		e.log.Printf("severe: chest reload failed: %v", err)
		return oops.In("engine").Code("STORE_LOAD").Wrap(err)
	}
	e.log.Printf("chests loaded: %d (expired=%d stale=%d)", st.Loaded, st.Expired, st.Stale)
	return nil
}

// Shutdown flushes the chest index and closes the store. It must be
// called after Run has returned.
func (e *Engine) Shutdown(ctx context.Context) error {
	defer e.closeProviders()
	ferr := e.life.Flush(ctx)
	if ferr != nil {
		e.log.Printf("warn: chest flush failed: %v", ferr)
	}
	if err := e.store.Close(); err != nil {
		return oops.In("engine").Code("STORE_CLOSE").Wrap(err)
	}
	if ferr != nil {
		return oops.In("engine").Code("STORE_FLUSH").Wrap(ferr)
	}
	return nil
}

func (e *Engine) closeProviders() {
	for _, c := range e.closers {
		c()
	}
	e.closers = nil
}

func (e *Engine) Run(ctx context.Context) error {
	defer close(e.exited)
	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.stop:
			return nil
		case c := <-e.inbox:
			c.fn()
			close(c.done)
		case <-ticker.C:
			e.sched.Advance()
		}
	}
}

func (e *Engine) Stop() { close(e.stop) }

// do runs fn on the loop goroutine and waits for it to finish.
func (e *Engine) do(ctx context.Context, fn func()) error {
	c := call{fn: fn, done: make(chan struct{})}
	select {
	case e.inbox <- c:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.exited:
		return ErrStopped
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.exited:
		select {
		case <-c.done:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Step advances the scheduler by one tick on the loop goroutine.
func (e *Engine) Step(ctx context.Context) (fired int, err error) {
	err = e.do(ctx, func() { fired = e.sched.Advance() })
	return fired, err
}

// DeathResult is the outcome of a player death. Skip is set when no
// deployment was attempted; the host then drops Remaining as usual.
type DeathResult struct {
	Skip string
	model.SearchResult
}

func (e *Engine) Death(ctx context.Context, d deploy.Death) (DeathResult, error) {
	var res DeathResult
	err := e.do(ctx, func() { res = e.death(ctx, d) })
	return res, err
}

func (e *Engine) death(ctx context.Context, d deploy.Death) DeathResult {
	skip := ""
	switch {
	case item.Total(d.Drops) == 0:
		skip = SkipNoDrops
	case d.Player.Creative && !e.cfg.Creative.Deploy:
		skip = SkipCreative
	case !e.perms.Has(d.Player, perm.Deploy):
		skip = SkipNoPermission
	}
	if skip != "" {
		return DeathResult{Skip: skip, SearchResult: model.SearchResult{Remaining: d.Drops}}
	}
	res := e.planner.Deploy(ctx, d)
	e.logDeath(d, res)
	return DeathResult{SearchResult: res}
}

func (e *Engine) logDeath(d deploy.Death, res model.SearchResult) {
	if e.deaths == nil {
		return
	}
	entry := dlog.DeployEntry{
		Time:      e.now().UTC(),
		Player:    d.Player.ID.String(),
		Name:      d.Player.Name,
		World:     d.Player.Location.World,
		Pos:       d.Player.Location.Block().ToArray(),
		Code:      string(res.Code),
		Provider:  res.Provider,
		Size:      res.Size.String(),
		Remaining: item.Total(res.Remaining),
	}
	if res.Chest != nil {
		entry.ChestID = res.Chest.ID.String()
		entry.Pos = res.Chest.Primary().Pos.ToArray()
		entry.Stored = item.Total(res.Chest.Inventory)
	}
	if err := e.deaths.WriteDeploy(entry); err != nil {
		e.log.Printf("warn: death log: %v", err)
	}
}

func (e *Engine) Open(ctx context.Context, p world.Player, pos world.Vec3i) (lifecycle.OpenResult, error) {
	var res lifecycle.OpenResult
	err := e.do(ctx, func() { res = e.life.Open(p, pos) })
	return res, err
}

func (e *Engine) Close(ctx context.Context, p world.Player, pos world.Vec3i, contents []item.Stack) (lifecycle.CloseResult, error) {
	var res lifecycle.CloseResult
	err := e.do(ctx, func() { res = e.life.Close(ctx, p, pos, contents) })
	return res, err
}

func (e *Engine) Break(ctx context.Context, p world.Player, pos world.Vec3i) (lifecycle.TakeResult, error) {
	var res lifecycle.TakeResult
	err := e.do(ctx, func() { res = e.life.Break(ctx, p, pos) })
	return res, err
}

func (e *Engine) QuickLoot(ctx context.Context, p world.Player, pos world.Vec3i) (lifecycle.TakeResult, error) {
	var res lifecycle.TakeResult
	err := e.do(ctx, func() { res = e.life.QuickLoot(ctx, p, pos) })
	return res, err
}

// Explode filters an explosion's block list. Kept positions may be
// destroyed by the host; drops belong to chests the explosion removed.
func (e *Engine) Explode(ctx context.Context, positions []world.Vec3i) ([]world.Vec3i, []lifecycle.Drop, error) {
	var (
		kept  []world.Vec3i
		drops []lifecycle.Drop
	)
	err := e.do(ctx, func() { kept, drops = e.life.FilterExplosion(ctx, positions) })
	return kept, drops, err
}

func (e *Engine) SignDetached(ctx context.Context, pos world.Vec3i) (bool, error) {
	var ok bool
	err := e.do(ctx, func() { ok = e.life.SignDetached(ctx, pos) })
	return ok, err
}

// SetBlock mirrors a host block change. Tracked chest blocks cannot be
// overwritten this way; replacing a chest sign with anything but a sign
// detaches it.
func (e *Engine) SetBlock(ctx context.Context, pos world.Vec3i, st world.BlockState) error {
	var err error
	derr := e.do(ctx, func() {
		c := e.life.ChestAt(pos)
		if c == nil {
			e.blocks.SetBlock(pos, st)
			return
		}
		if c.Occupies(pos) {
			err = oops.In("engine").Code("CHEST_BLOCK").With("pos", pos.String()).With("chest", c.ID.String()).
				Errorf("block %s belongs to chest %s", pos, c.ID)
			return
		}
		if st.IsSign() {
			e.blocks.SetBlock(pos, st)
			return
		}
		e.life.SignDetached(ctx, pos)
		e.blocks.SetBlock(pos, st)
	})
	if derr != nil {
		return derr
	}
	return err
}

type Stats struct {
	Chests    int
	Pending   int
	Providers []string
}

func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := e.do(ctx, func() {
		st = Stats{Chests: e.life.Len(), Pending: e.sched.Pending(), Providers: e.arb.Providers()}
	})
	return st, err
}

// Chests returns copies of the tracked chest records, ordered by id.
func (e *Engine) Chests(ctx context.Context) ([]*model.DeathChest, error) {
	var out []*model.DeathChest
	err := e.do(ctx, func() {
		for _, c := range e.life.Chests() {
			cp := model.CloneRecord(c)
			for _, b := range c.Blocks {
				bb := *b
				cp.Blocks = append(cp.Blocks, &bb)
			}
			out = append(out, cp)
		}
	})
	return out, err
}
