package lifecycle

import (
	"context"
	"fmt"

	"github.com/oklog/ulid/v2"

	"deathchest.gg/internal/sim/model"
	"deathchest.gg/internal/sim/world"
)

type LoadStats struct {
	Loaded  int
	Expired int
	Stale   int
}

// Load rebuilds the index from the store and stamps the chest and sign
// blocks back into the world. Chests past their expiry are expired on the
// spot; the rest get a timer for the time they have left. Chest records
// without a valid block layout and orphaned block records are deleted.
func (l *Lifecycle) Load(ctx context.Context) (LoadStats, error) {
	var st LoadStats
	if l.store == nil {
		return st, nil
	}
	chests, err := l.store.SelectAllChestRecords(ctx)
	if err != nil {
		return st, fmt.Errorf("load chests: %w", err)
	}
	blocks, err := l.store.SelectAllBlockRecords(ctx)
	if err != nil {
		return st, fmt.Errorf("load chest blocks: %w", err)
	}
	byChest := map[ulid.ULID][]*model.ChestBlock{}
	for _, b := range blocks {
		byChest[b.ChestID] = append(byChest[b.ChestID], b)
	}

	now := l.now()
	for _, c := range chests {
		c.Blocks = byChest[c.ID]
		delete(byChest, c.ID)
		if reason := layoutProblem(c.Blocks); reason != "" {
			l.log.Printf("warn: chest %s %s, dropping record", c.ID, reason)
			l.dropRecord(ctx, c)
			st.Stale++
			continue
		}
		if other := l.overlapping(c); other != nil {
			l.log.Printf("warn: chest %s overlaps chest %s, dropping record", c.ID, other.ID)
			l.dropRecord(ctx, c)
			st.Stale++
			continue
		}
		l.index(c)
		if c.Expired(now) {
			l.expireChest(ctx, c)
			st.Expired++
			continue
		}
		l.restoreBlocks(c)
		l.scheduleExpiry(c, now)
		st.Loaded++
	}
	for id, orphans := range byChest {
		for _, b := range orphans {
			if err := l.store.DeleteBlockRecord(ctx, b); err != nil {
				l.log.Printf("warn: delete orphan block %s %s: %v", id, b.Pos, err)
			}
		}
		st.Stale++
	}
	return st, nil
}

// layoutProblem describes why a set of block records cannot form a chest,
// or returns "". A single chest has one non-LEFT block; a double has a
// LEFT and a RIGHT half side by side.
func layoutProblem(blocks []*model.ChestBlock) string {
	switch len(blocks) {
	case 0:
		return "has no blocks"
	case 1:
		if blocks[0].Half == world.HalfLeft {
			return "has no primary block"
		}
		return ""
	case 2:
		a, b := blocks[0], blocks[1]
		halves := map[world.ChestHalf]bool{a.Half: true, b.Half: true}
		if !halves[world.HalfLeft] || !halves[world.HalfRight] {
			return "has mismatched halves"
		}
		if !world.CardinalAdjacent(a.Pos, b.Pos) {
			return "has halves that are not adjacent"
		}
		return ""
	default:
		return fmt.Sprintf("has %d blocks", len(blocks))
	}
}

func (l *Lifecycle) overlapping(c *model.DeathChest) *model.DeathChest {
	for _, b := range c.Blocks {
		if other := l.ChestAt(b.Pos); other != nil {
			return other
		}
	}
	if c.Sign != nil {
		return l.ChestAt(*c.Sign)
	}
	return nil
}

func (l *Lifecycle) dropRecord(ctx context.Context, c *model.DeathChest) {
	for _, b := range c.Blocks {
		if err := l.store.DeleteBlockRecord(ctx, b); err != nil {
			l.log.Printf("warn: delete chest block %s %s: %v", c.ID, b.Pos, err)
		}
	}
	if err := l.store.DeleteChestRecord(ctx, c); err != nil {
		l.log.Printf("warn: delete chest %s: %v", c.ID, err)
	}
}

// restoreBlocks puts a reloaded chest back into the world. Sign text is not
// persisted, so a sign that is missing comes back blank.
func (l *Lifecycle) restoreBlocks(c *model.DeathChest) {
	if l.blocks == nil {
		return
	}
	for _, b := range c.Blocks {
		if l.blocks.Block(b.Pos).Type != world.Chest {
			l.blocks.SetBlock(b.Pos, world.BlockState{Type: world.Chest, Facing: c.Facing, Half: b.Half})
		}
	}
	if c.Sign == nil || l.blocks.Block(*c.Sign).IsSign() {
		return
	}
	typ := world.Sign
	if p := c.Primary(); p != nil && p.Pos.Add(c.Facing.Vec()) == *c.Sign {
		typ = world.WallSign
	}
	l.blocks.SetBlock(*c.Sign, world.BlockState{Type: typ, Facing: c.Facing})
}

// Flush writes the whole index back to the store and syncs it.
func (l *Lifecycle) Flush(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	chests := l.Chests()
	var blocks []*model.ChestBlock
	for _, c := range chests {
		blocks = append(blocks, c.Blocks...)
	}
	if _, err := l.store.InsertChestRecords(ctx, chests); err != nil {
		return fmt.Errorf("flush chests: %w", err)
	}
	if _, err := l.store.InsertBlockRecords(ctx, blocks); err != nil {
		return fmt.Errorf("flush chest blocks: %w", err)
	}
	return l.store.Sync(ctx)
}
