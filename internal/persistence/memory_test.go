package persistence

import (
	"context"
	"testing"

	"github.com/oklog/ulid/v2"

	"deathchest.gg/internal/sim/model"
	"deathchest.gg/internal/sim/world"
)

func TestMemory_RoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	var _ Store = m

	c := &model.DeathChest{ID: ulid.Make(), OwnerName: "alice", World: "world"}
	blocks := []*model.ChestBlock{
		{Pos: world.Vec3i{X: 1, Y: 65}, Half: world.HalfLeft, ChestID: c.ID},
		{Pos: world.Vec3i{X: 0, Y: 65}, Half: world.HalfRight, ChestID: c.ID},
	}
	if n, err := m.InsertChestRecords(ctx, []*model.DeathChest{c}); err != nil || n != 1 {
		t.Fatalf("insert chests n=%d err=%v", n, err)
	}
	if _, err := m.InsertBlockRecords(ctx, blocks); err != nil {
		t.Fatalf("insert blocks: %v", err)
	}
	// Re-inserting replaces.
	_, _ = m.InsertBlockRecords(ctx, blocks)
	if chests, bs := m.Counts(); chests != 1 || bs != 2 {
		t.Fatalf("counts = %d,%d", chests, bs)
	}

	c.OwnerName = "mutated"
	got, _ := m.SelectAllChestRecords(ctx)
	if len(got) != 1 || got[0].OwnerName != "alice" {
		t.Fatalf("chests = %+v", got)
	}
	bs, _ := m.SelectAllBlockRecords(ctx)
	if len(bs) != 2 || bs[0].Half != world.HalfLeft || bs[1].Half != world.HalfRight {
		t.Fatalf("blocks = %+v, %+v", bs[0], bs[1])
	}

	_ = m.DeleteBlockRecord(ctx, blocks[0])
	_ = m.DeleteChestRecord(ctx, c)
	if chests, bs := m.Counts(); chests != 0 || bs != 1 {
		t.Fatalf("counts after delete = %d,%d", chests, bs)
	}
	_ = m.Sync(ctx)
	_ = m.Close()
	if m.Syncs() != 1 || !m.Closed() {
		t.Fatalf("syncs=%d closed=%v", m.Syncs(), m.Closed())
	}
}
