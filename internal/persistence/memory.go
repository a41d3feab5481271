package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/oklog/ulid/v2"

	"deathchest.gg/internal/sim/model"
	"deathchest.gg/internal/sim/world"
)

type blockKey struct {
	chest ulid.ULID
	pos   world.Vec3i
}

// Memory is a Store that keeps copies of records in process. It backs the
// "memory" store flag and tests.
type Memory struct {
	mu     sync.Mutex
	chests map[ulid.ULID]*model.DeathChest
	blocks map[blockKey]model.ChestBlock
	syncs  int
	closed bool
}

func NewMemory() *Memory {
	return &Memory{
		chests: map[ulid.ULID]*model.DeathChest{},
		blocks: map[blockKey]model.ChestBlock{},
	}
}

func (m *Memory) Initialize(context.Context) error { return nil }

func (m *Memory) SelectAllChestRecords(context.Context) ([]*model.DeathChest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.DeathChest, 0, len(m.chests))
	for _, c := range m.chests {
		out = append(out, model.CloneRecord(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Compare(out[j].ID) < 0 })
	return out, nil
}

func (m *Memory) InsertChestRecords(_ context.Context, chests []*model.DeathChest) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chests {
		m.chests[c.ID] = model.CloneRecord(c)
	}
	return len(chests), nil
}

func (m *Memory) DeleteChestRecord(_ context.Context, c *model.DeathChest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chests, c.ID)
	return nil
}

func (m *Memory) SelectAllBlockRecords(context.Context) ([]*model.ChestBlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.ChestBlock, 0, len(m.blocks))
	for _, b := range m.blocks {
		out = append(out, &b)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].ChestID.Compare(out[j].ChestID); c != 0 {
			return c < 0
		}
		return out[i].Half < out[j].Half
	})
	return out, nil
}

func (m *Memory) InsertBlockRecords(_ context.Context, blocks []*model.ChestBlock) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range blocks {
		m.blocks[blockKey{b.ChestID, b.Pos}] = *b
	}
	return len(blocks), nil
}

func (m *Memory) DeleteBlockRecord(_ context.Context, b *model.ChestBlock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blocks, blockKey{b.ChestID, b.Pos})
	return nil
}

func (m *Memory) Sync(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncs++
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Counts reports the number of chest and block records held.
func (m *Memory) Counts() (chests, blocks int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chests), len(m.blocks)
}

func (m *Memory) Syncs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.syncs
}

func (m *Memory) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
