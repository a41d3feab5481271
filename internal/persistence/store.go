// Package persistence defines the durable chest store. Backends live in
// the indexdb (SQLite) and snapshot (zstd file) subpackages.
package persistence

import (
	"context"

	"deathchest.gg/internal/sim/model"
)

// Store holds chest and chest-block records. Inserts replace records with
// the same key so a full flush can be repeated.
type Store interface {
	Initialize(ctx context.Context) error

	SelectAllChestRecords(ctx context.Context) ([]*model.DeathChest, error)
	InsertChestRecords(ctx context.Context, chests []*model.DeathChest) (int, error)
	DeleteChestRecord(ctx context.Context, c *model.DeathChest) error

	SelectAllBlockRecords(ctx context.Context) ([]*model.ChestBlock, error)
	InsertBlockRecords(ctx context.Context, blocks []*model.ChestBlock) (int, error)
	DeleteBlockRecord(ctx context.Context, b *model.ChestBlock) error

	Sync(ctx context.Context) error
	Close() error
}
