// Package deploy turns a player's death drops into a placed death chest.
package deploy

import (
	"context"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"deathchest.gg/internal/metrics"
	"deathchest.gg/internal/perm"
	"deathchest.gg/internal/sim/item"
	"deathchest.gg/internal/sim/model"
	"deathchest.gg/internal/sim/notify"
	"deathchest.gg/internal/sim/world"
)

type Searcher interface {
	Search(p world.Player, origin world.Location, size model.Size) model.SearchResult
	Replaceable(typ string) bool
}

// Registry is the chest lifecycle as seen by the planner.
type Registry interface {
	Register(ctx context.Context, c *model.DeathChest)
	Occupied(pos world.Vec3i) bool
}

type Config struct {
	RequireChest         bool
	ConsumeRequiredChest bool

	SignEnabled bool
	// Templates; ${player}, ${killer} and ${date} are substituted.
	SignLines []string
}

type Deps struct {
	Blocks   world.Blocks
	Search   Searcher
	Registry Registry
	Perms    perm.Checker
	Notifier notify.Notifier
	Now      func() time.Time
	Logger   *log.Logger
}

type Planner struct {
	cfg    Config
	blocks world.Blocks
	search Searcher
	reg    Registry
	perms  perm.Checker
	notify notify.Notifier
	now    func() time.Time
	log    *log.Logger
}

func New(cfg Config, d Deps) *Planner {
	p := &Planner{
		cfg:    cfg,
		blocks: d.Blocks,
		search: d.Search,
		reg:    d.Registry,
		perms:  d.Perms,
		notify: d.Notifier,
		now:    d.Now,
		log:    d.Logger,
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.log == nil {
		p.log = log.New(io.Discard, "", 0)
	}
	if p.notify == nil {
		p.notify = notify.Discard{}
	}
	return p
}

// Death is one player death as reported by the host.
type Death struct {
	Player     world.Player
	Drops      []item.Stack
	KillerID   uuid.NullUUID
	KillerName string
}

// Deploy plans and places a chest for d. Whatever could not be stored comes
// back in Remaining for the caller to drop; on any abort that is the
// original drop set, untouched.
func (pl *Planner) Deploy(ctx context.Context, d Death) model.SearchResult {
	res := pl.deploy(ctx, d)
	metrics.Deployments.WithLabelValues(string(res.Code)).Inc()
	pl.report(d.Player, res)
	return res
}

func (pl *Planner) deploy(ctx context.Context, d Death) model.SearchResult {
	p := d.Player
	original := item.Clone(d.Drops)
	items := item.Consolidate(d.Drops)

	size := model.SizeSingle
	if len(items) > item.SingleChestSlots && pl.perms != nil && pl.perms.Has(p, perm.DoubleChest) {
		size = model.SizeDouble
	}

	if pl.cfg.RequireChest {
		if !item.Contains(items, item.ChestType) {
			return model.SearchResult{Code: model.CodeNoChest, Remaining: original, Size: size}
		}
		if pl.cfg.ConsumeRequiredChest {
			items, _ = item.TakeOne(items, item.ChestType)
		}
	}

	res := pl.search.Search(p, p.Location, size)
	if !res.Code.Placed() {
		res.Remaining = original
		res.Size = size
		return res
	}
	partial := false
	if res.Code == model.CodePartialSuccess || len(res.Locations) < int(size) {
		partial = size == model.SizeDouble
		size = model.SizeSingle
		res.Locations = res.Locations[:1]
	}

	chest := pl.place(ctx, d, res.Locations, items)
	res.Chest = chest
	res.Size = size
	_, res.Remaining = item.Fill(items, size.Slots())
	res.Code = model.CodeSuccess
	if partial || len(res.Remaining) > 0 {
		res.Code = model.CodePartialSuccess
	}
	return res
}

// place writes the chest blocks and sign and hands the chest to the registry.
// The first location is the primary (RIGHT) half of a double.
func (pl *Planner) place(ctx context.Context, d Death, locs []world.Location, items []item.Stack) *model.DeathChest {
	facing := locs[0].Facing().Opposite()
	c := &model.DeathChest{
		ID:         ulid.Make(),
		OwnerID:    d.Player.ID,
		OwnerName:  d.Player.Name,
		KillerID:   d.KillerID,
		KillerName: d.KillerName,
		World:      locs[0].World,
		Facing:     facing,
		CreatedAt:  pl.now(),
	}
	for i, loc := range locs {
		half := world.HalfSingle
		if len(locs) == 2 {
			half = world.HalfRight
			if i == 1 {
				half = world.HalfLeft
			}
		}
		pos := loc.Block()
		pl.blocks.SetBlock(pos, world.BlockState{Type: world.Chest, Facing: facing, Half: half})
		c.Blocks = append(c.Blocks, &model.ChestBlock{Pos: pos, Half: half, ChestID: c.ID})
	}
	c.Inventory, _ = item.Fill(items, c.Capacity())
	if pl.cfg.SignEnabled {
		c.Sign = pl.placeSign(c)
	}
	if pl.reg != nil {
		pl.reg.Register(ctx, c)
	}
	pl.log.Printf("chest %s placed for %s at %s (%d stacks)", c.ID, c.OwnerName, c.Primary().Pos, len(c.Inventory))
	return c
}

// placeSign puts a wall sign on the front of the primary block, or a
// standing sign on top of it when the front is blocked.
func (pl *Planner) placeSign(c *model.DeathChest) *world.Vec3i {
	primary := c.Primary().Pos
	lines := pl.signLines(c)

	front := primary.Add(c.Facing.Vec())
	if pl.free(c, front) {
		pl.blocks.SetBlock(front, world.BlockState{Type: world.WallSign, Facing: c.Facing, Lines: lines})
		return &front
	}
	top := primary.Up()
	if top.Y < pl.blocks.MaxY() && pl.free(c, top) {
		pl.blocks.SetBlock(top, world.BlockState{Type: world.Sign, Facing: c.Facing, Lines: lines})
		return &top
	}
	return nil
}

func (pl *Planner) free(c *model.DeathChest, pos world.Vec3i) bool {
	if c.Occupies(pos) {
		return false
	}
	if pl.reg != nil && pl.reg.Occupied(pos) {
		return false
	}
	return pl.search.Replaceable(pl.blocks.Block(pos).Type)
}

func (pl *Planner) signLines(c *model.DeathChest) []string {
	r := strings.NewReplacer(
		"${player}", c.OwnerName,
		"${killer}", c.KillerName,
		"${date}", c.CreatedAt.Format("2006-01-02"),
	)
	out := make([]string, 0, len(pl.cfg.SignLines))
	for _, l := range pl.cfg.SignLines {
		out = append(out, r.Replace(l))
	}
	return out
}

func (pl *Planner) report(p world.Player, res model.SearchResult) {
	switch res.Code {
	case model.CodeSuccess, model.CodePartialSuccess:
		pos := res.Chest.Primary().Pos
		params := map[string]string{
			"x":    strconv.Itoa(pos.X),
			"y":    strconv.Itoa(pos.Y),
			"z":    strconv.Itoa(pos.Z),
			"size": res.Size.String(),
		}
		id := notify.MsgDeployed
		if res.Code == model.CodePartialSuccess {
			id = notify.MsgDeployedPartial
			params["remaining"] = strconv.Itoa(item.Total(res.Remaining))
		}
		pl.notify.Message(p.ID, id, params)
		pl.notify.Sound(p.ID, notify.SoundDeploy, pos)
	default:
		params := map[string]string{"code": string(res.Code)}
		if res.Provider != "" {
			params["provider"] = res.Provider
		}
		pl.notify.Message(p.ID, notify.MsgDeployFailed, params)
	}
}
