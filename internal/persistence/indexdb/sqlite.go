// Package indexdb is the SQLite chest store. Chest and block records are
// written synchronously; audit entries go through a buffered writer
// goroutine and may be dropped if it falls behind.
package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	_ "modernc.org/sqlite"

	"deathchest.gg/internal/lifecycle"
	"deathchest.gg/internal/sim/item"
	"deathchest.gg/internal/sim/model"
	"deathchest.gg/internal/sim/world"
)

const schemaVersion = "1"

type SQLiteStore struct {
	db *sql.DB

	ch   chan lifecycle.AuditEntry
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, oops.In("indexdb").Code("STORE_OPEN").Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, oops.In("indexdb").Code("STORE_OPEN").With("path", path).Wrap(err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, oops.In("indexdb").Code("STORE_OPEN").With("path", path).Wrap(err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{
		db: db,
		ch: make(chan lifecycle.AuditEntry, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

// Initialize applies pragmas and creates the schema. A store that fails
// here must not be used.
func (s *SQLiteStore) Initialize(ctx context.Context) error {
	if err := initPragmas(ctx, s.db); err != nil {
		return oops.In("indexdb").Code("STORE_INIT").With("step", "pragmas").Wrap(err)
	}
	if err := initSchema(ctx, s.db); err != nil {
		return oops.In("indexdb").Code("STORE_INIT").With("step", "schema").Wrap(err)
	}
	return nil
}

func initPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS chests (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			owner_name TEXT NOT NULL,
			killer_id TEXT,
			killer_name TEXT NOT NULL DEFAULT '',
			world TEXT NOT NULL,
			facing TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			protection_expires_at INTEGER NOT NULL DEFAULT 0,
			expires_at INTEGER NOT NULL DEFAULT 0,
			sign_x INTEGER,
			sign_y INTEGER,
			sign_z INTEGER,
			inventory_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chests_owner ON chests(owner_id);`,
		`CREATE TABLE IF NOT EXISTS chest_blocks (
			chest_id TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			half TEXT NOT NULL,
			PRIMARY KEY (chest_id, x, y, z)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chest_blocks_pos ON chest_blocks(x, z, y);`,
		`CREATE TABLE IF NOT EXISTS audits (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			time TEXT NOT NULL,
			chest_id TEXT NOT NULL,
			action TEXT NOT NULL,
			actor TEXT,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			reason TEXT,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_chest ON audits(chest_id, seq);`,
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	_, err := db.ExecContext(ctx, `INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version',?)`, schemaVersion)
	return err
}

func (s *SQLiteStore) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Sync checkpoints the WAL into the main database file.
func (s *SQLiteStore) Sync(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(PASSIVE);"); err != nil {
		return oops.In("indexdb").Code("STORE_SYNC").Wrap(err)
	}
	return nil
}

func (s *SQLiteStore) InsertChestRecords(ctx context.Context, chests []*model.DeathChest) (int, error) {
	if len(chests) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, oops.In("indexdb").Code("STORE_WRITE").Wrap(err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO chests(
		id,owner_id,owner_name,killer_id,killer_name,world,facing,created_at,
		protection_expires_at,expires_at,sign_x,sign_y,sign_z,inventory_json
	) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return 0, oops.In("indexdb").Code("STORE_WRITE").Wrap(err)
	}
	defer stmt.Close()

	n := 0
	for _, c := range chests {
		inv, err := json.Marshal(c.Inventory)
		if err != nil {
			return n, oops.In("indexdb").Code("STORE_WRITE").With("chest_id", c.ID.String()).Wrap(err)
		}
		var killer, sx, sy, sz any
		if c.KillerID.Valid {
			killer = c.KillerID.UUID.String()
		}
		if c.Sign != nil {
			sx, sy, sz = c.Sign.X, c.Sign.Y, c.Sign.Z
		}
		if _, err := stmt.ExecContext(ctx,
			c.ID.String(),
			c.OwnerID.String(),
			c.OwnerName,
			killer,
			c.KillerName,
			c.World,
			c.Facing.String(),
			unixMilli(c.CreatedAt),
			unixMilli(c.ProtectionExpiresAt),
			unixMilli(c.ExpiresAt),
			sx, sy, sz,
			string(inv),
		); err != nil {
			return n, oops.In("indexdb").Code("STORE_WRITE").With("chest_id", c.ID.String()).Wrap(err)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, oops.In("indexdb").Code("STORE_WRITE").Wrap(err)
	}
	return n, nil
}

func (s *SQLiteStore) SelectAllChestRecords(ctx context.Context) ([]*model.DeathChest, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		id,owner_id,owner_name,killer_id,killer_name,world,facing,created_at,
		protection_expires_at,expires_at,sign_x,sign_y,sign_z,inventory_json
		FROM chests ORDER BY id`)
	if err != nil {
		return nil, oops.In("indexdb").Code("STORE_READ").Wrap(err)
	}
	defer rows.Close()

	var out []*model.DeathChest
	for rows.Next() {
		var (
			id, owner, ownerName, killerName, worldName, facing, inv string
			killer                                                   sql.NullString
			created, protUntil, expires                              int64
			sx, sy, sz                                               sql.NullInt64
		)
		if err := rows.Scan(&id, &owner, &ownerName, &killer, &killerName, &worldName, &facing,
			&created, &protUntil, &expires, &sx, &sy, &sz, &inv); err != nil {
			return nil, oops.In("indexdb").Code("STORE_READ").Wrap(err)
		}
		c, err := decodeChest(id, owner, killer, facing, inv)
		if err != nil {
			return nil, oops.In("indexdb").Code("STORE_READ").With("chest_id", id).Wrap(err)
		}
		c.OwnerName = ownerName
		c.KillerName = killerName
		c.World = worldName
		c.CreatedAt = fromUnixMilli(created)
		c.ProtectionExpiresAt = fromUnixMilli(protUntil)
		c.ExpiresAt = fromUnixMilli(expires)
		if sx.Valid && sy.Valid && sz.Valid {
			c.Sign = &world.Vec3i{X: int(sx.Int64), Y: int(sy.Int64), Z: int(sz.Int64)}
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.In("indexdb").Code("STORE_READ").Wrap(err)
	}
	return out, nil
}

func decodeChest(id, owner string, killer sql.NullString, facing, inv string) (*model.DeathChest, error) {
	cid, err := ulid.ParseStrict(id)
	if err != nil {
		return nil, err
	}
	oid, err := uuid.Parse(owner)
	if err != nil {
		return nil, err
	}
	c := &model.DeathChest{ID: cid, OwnerID: oid}
	if killer.Valid && killer.String != "" {
		kid, err := uuid.Parse(killer.String)
		if err != nil {
			return nil, err
		}
		c.KillerID = uuid.NullUUID{UUID: kid, Valid: true}
	}
	f, ok := world.ParseFacing(facing)
	if !ok {
		return nil, fmt.Errorf("bad facing %q", facing)
	}
	c.Facing = f
	var stacks []item.Stack
	if err := json.Unmarshal([]byte(inv), &stacks); err != nil {
		return nil, err
	}
	c.Inventory = stacks
	return c, nil
}

func (s *SQLiteStore) DeleteChestRecord(ctx context.Context, c *model.DeathChest) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chests WHERE id = ?`, c.ID.String()); err != nil {
		return oops.In("indexdb").Code("STORE_WRITE").With("chest_id", c.ID.String()).Wrap(err)
	}
	return nil
}

func (s *SQLiteStore) InsertBlockRecords(ctx context.Context, blocks []*model.ChestBlock) (int, error) {
	if len(blocks) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, oops.In("indexdb").Code("STORE_WRITE").Wrap(err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO chest_blocks(chest_id,x,y,z,half) VALUES(?,?,?,?,?)`)
	if err != nil {
		return 0, oops.In("indexdb").Code("STORE_WRITE").Wrap(err)
	}
	defer stmt.Close()
	for _, b := range blocks {
		if _, err := stmt.ExecContext(ctx, b.ChestID.String(), b.Pos.X, b.Pos.Y, b.Pos.Z, b.Half.String()); err != nil {
			return 0, oops.In("indexdb").Code("STORE_WRITE").With("chest_id", b.ChestID.String()).Wrap(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, oops.In("indexdb").Code("STORE_WRITE").Wrap(err)
	}
	return len(blocks), nil
}

func (s *SQLiteStore) SelectAllBlockRecords(ctx context.Context) ([]*model.ChestBlock, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chest_id,x,y,z,half FROM chest_blocks ORDER BY chest_id, half`)
	if err != nil {
		return nil, oops.In("indexdb").Code("STORE_READ").Wrap(err)
	}
	defer rows.Close()

	var out []*model.ChestBlock
	for rows.Next() {
		var (
			id, half string
			x, y, z  int
		)
		if err := rows.Scan(&id, &x, &y, &z, &half); err != nil {
			return nil, oops.In("indexdb").Code("STORE_READ").Wrap(err)
		}
		cid, err := ulid.ParseStrict(id)
		if err != nil {
			return nil, oops.In("indexdb").Code("STORE_READ").With("chest_id", id).Wrap(err)
		}
		h, ok := world.ParseChestHalf(half)
		if !ok {
			return nil, oops.In("indexdb").Code("STORE_READ").With("chest_id", id).Errorf("bad chest half %q", half)
		}
		out = append(out, &model.ChestBlock{Pos: world.Vec3i{X: x, Y: y, Z: z}, Half: h, ChestID: cid})
	}
	if err := rows.Err(); err != nil {
		return nil, oops.In("indexdb").Code("STORE_READ").Wrap(err)
	}
	return out, nil
}

func (s *SQLiteStore) DeleteBlockRecord(ctx context.Context, b *model.ChestBlock) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chest_blocks WHERE chest_id = ? AND x = ? AND y = ? AND z = ?`,
		b.ChestID.String(), b.Pos.X, b.Pos.Y, b.Pos.Z); err != nil {
		return oops.In("indexdb").Code("STORE_WRITE").With("chest_id", b.ChestID.String()).Wrap(err)
	}
	return nil
}

// WriteAudit queues e for the writer goroutine. Entries are dropped when
// the queue is full.
func (s *SQLiteStore) WriteAudit(e lifecycle.AuditEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- e:
	default:
	}
	return nil
}

func (s *SQLiteStore) loop() {
	ctx := context.Background()

	insertAudit, _ := s.db.Prepare(`INSERT INTO audits(time,chest_id,action,actor,x,y,z,reason,raw_json) VALUES(?,?,?,?,?,?,?,?,?)`)
	defer func() {
		if insertAudit != nil {
			_ = insertAudit.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 256
		commitMaxWait = time.Second
	)
	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for e := range s.ch {
		if insertAudit == nil {
			// Table missing until Initialize ran; retry the prepare.
			insertAudit, _ = s.db.Prepare(`INSERT INTO audits(time,chest_id,action,actor,x,y,z,reason,raw_json) VALUES(?,?,?,?,?,?,?,?,?)`)
			if insertAudit == nil {
				continue
			}
		}
		begin()
		if tx == nil {
			continue
		}
		raw, _ := json.Marshal(e)
		if _, err := tx.Stmt(insertAudit).Exec(
			e.Time.UTC().Format(time.RFC3339Nano),
			e.ChestID,
			e.Action,
			e.Actor,
			e.Pos[0], e.Pos[1], e.Pos[2],
			e.Reason,
			string(raw),
		); err != nil {
			rollback()
			continue
		}
		opCount++
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait || len(s.ch) == 0 {
			commit()
		}
	}
	commit()
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
