// Package snapshot is a file chest store: the whole index is kept in memory
// and written as one zstd-compressed gob file on Sync and Close.
package snapshot

import (
	"bufio"
	"context"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"deathchest.gg/internal/sim/item"
	"deathchest.gg/internal/sim/model"
	"deathchest.gg/internal/sim/world"
)

const Version = 1

type Header struct {
	Version int       `json:"version"`
	World   string    `json:"world"`
	SavedAt time.Time `json:"saved_at"`
	Chests  int       `json:"chests"`
}

type SnapshotV1 struct {
	Header Header    `json:"header"`
	Chests []ChestV1 `json:"chests"`
	Blocks []BlockV1 `json:"blocks"`
}

type ChestV1 struct {
	ID         string       `json:"id"`
	Owner      string       `json:"owner"`
	OwnerName  string       `json:"owner_name"`
	Killer     string       `json:"killer,omitempty"`
	KillerName string       `json:"killer_name,omitempty"`
	World      string       `json:"world"`
	Facing     string       `json:"facing"`
	CreatedMs  int64        `json:"created_ms"`
	ProtectMs  int64        `json:"protect_until_ms,omitempty"`
	ExpiresMs  int64        `json:"expires_ms,omitempty"`
	HasSign    bool         `json:"has_sign,omitempty"`
	Sign       [3]int       `json:"sign,omitempty"`
	Inventory  []item.Stack `json:"inventory"`
}

type BlockV1 struct {
	ChestID string `json:"chest_id"`
	Pos     [3]int `json:"pos"`
	Half    string `json:"half"`
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := encode(f, snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func encode(f *os.File, snap SnapshotV1) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return enc.Close()
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)

	// The header line is for humans and tooling; gob carries it too.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}

// ReadHeader returns only the JSON header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()
	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, err
	}
	err = json.Unmarshal(line, &h)
	return h, err
}

type blockKey struct {
	chest string
	pos   [3]int
}

// FileStore implements the chest store on top of a snapshot file. Writes
// only touch memory until Sync.
type FileStore struct {
	path  string
	world string

	mu     sync.Mutex
	chests map[string]ChestV1
	blocks map[blockKey]BlockV1
	dirty  bool
}

func NewFileStore(path, worldName string) *FileStore {
	return &FileStore{
		path:   path,
		world:  worldName,
		chests: map[string]ChestV1{},
		blocks: map[blockKey]BlockV1{},
	}
}

// Initialize loads the snapshot if one exists and checks that its
// directory is writable.
func (s *FileStore) Initialize(context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return oops.In("snapshot").Code("STORE_INIT").With("path", s.path).Wrap(err)
	}
	snap, err := ReadSnapshot(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return oops.In("snapshot").Code("STORE_INIT").With("path", s.path).Wrap(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range snap.Chests {
		s.chests[c.ID] = c
	}
	for _, b := range snap.Blocks {
		s.blocks[blockKey{b.ChestID, b.Pos}] = b
	}
	return nil
}

func (s *FileStore) SelectAllChestRecords(context.Context) ([]*model.DeathChest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.chests))
	for id := range s.chests {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*model.DeathChest, 0, len(ids))
	for _, id := range ids {
		c, err := decodeChest(s.chests[id])
		if err != nil {
			return nil, oops.In("snapshot").Code("STORE_READ").With("chest_id", id).Wrap(err)
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *FileStore) InsertChestRecords(_ context.Context, chests []*model.DeathChest) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chests {
		s.chests[c.ID.String()] = encodeChest(c)
	}
	if len(chests) > 0 {
		s.dirty = true
	}
	return len(chests), nil
}

func (s *FileStore) DeleteChestRecord(_ context.Context, c *model.DeathChest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chests, c.ID.String())
	s.dirty = true
	return nil
}

func (s *FileStore) SelectAllBlockRecords(context.Context) ([]*model.ChestBlock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.ChestBlock, 0, len(s.blocks))
	for _, b := range s.blocks {
		cid, err := ulid.ParseStrict(b.ChestID)
		if err != nil {
			return nil, oops.In("snapshot").Code("STORE_READ").With("chest_id", b.ChestID).Wrap(err)
		}
		h, ok := world.ParseChestHalf(b.Half)
		if !ok {
			return nil, oops.In("snapshot").Code("STORE_READ").With("chest_id", b.ChestID).Errorf("bad chest half %q", b.Half)
		}
		out = append(out, &model.ChestBlock{
			Pos:     world.Vec3i{X: b.Pos[0], Y: b.Pos[1], Z: b.Pos[2]},
			Half:    h,
			ChestID: cid,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].ChestID.Compare(out[j].ChestID); c != 0 {
			return c < 0
		}
		return out[i].Half < out[j].Half
	})
	return out, nil
}

func (s *FileStore) InsertBlockRecords(_ context.Context, blocks []*model.ChestBlock) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range blocks {
		k := blockKey{b.ChestID.String(), b.Pos.ToArray()}
		s.blocks[k] = BlockV1{ChestID: k.chest, Pos: k.pos, Half: b.Half.String()}
	}
	if len(blocks) > 0 {
		s.dirty = true
	}
	return len(blocks), nil
}

func (s *FileStore) DeleteBlockRecord(_ context.Context, b *model.ChestBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blocks, blockKey{b.ChestID.String(), b.Pos.ToArray()})
	s.dirty = true
	return nil
}

// Sync writes the snapshot file when anything changed since the last write.
func (s *FileStore) Sync(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	snap := SnapshotV1{Header: Header{Version: Version, World: s.world, SavedAt: time.Now().UTC(), Chests: len(s.chests)}}
	for _, c := range s.chests {
		snap.Chests = append(snap.Chests, c)
	}
	sort.Slice(snap.Chests, func(i, j int) bool { return snap.Chests[i].ID < snap.Chests[j].ID })
	for _, b := range s.blocks {
		snap.Blocks = append(snap.Blocks, b)
	}
	sort.Slice(snap.Blocks, func(i, j int) bool {
		if snap.Blocks[i].ChestID != snap.Blocks[j].ChestID {
			return snap.Blocks[i].ChestID < snap.Blocks[j].ChestID
		}
		return snap.Blocks[i].Half < snap.Blocks[j].Half
	})
	if err := WriteSnapshot(s.path, snap); err != nil {
		return oops.In("snapshot").Code("STORE_SYNC").With("path", s.path).Wrap(err)
	}
	s.dirty = false
	return nil
}

func (s *FileStore) Close() error { return s.Sync(context.Background()) }

func encodeChest(c *model.DeathChest) ChestV1 {
	out := ChestV1{
		ID:         c.ID.String(),
		Owner:      c.OwnerID.String(),
		OwnerName:  c.OwnerName,
		KillerName: c.KillerName,
		World:      c.World,
		Facing:     c.Facing.String(),
		CreatedMs:  millis(c.CreatedAt),
		ProtectMs:  millis(c.ProtectionExpiresAt),
		ExpiresMs:  millis(c.ExpiresAt),
		Inventory:  item.Clone(c.Inventory),
	}
	if c.KillerID.Valid {
		out.Killer = c.KillerID.UUID.String()
	}
	if c.Sign != nil {
		out.HasSign = true
		out.Sign = c.Sign.ToArray()
	}
	return out
}

func decodeChest(r ChestV1) (*model.DeathChest, error) {
	id, err := ulid.ParseStrict(r.ID)
	if err != nil {
		return nil, err
	}
	owner, err := uuid.Parse(r.Owner)
	if err != nil {
		return nil, err
	}
	f, ok := world.ParseFacing(r.Facing)
	if !ok {
		return nil, fmt.Errorf("bad facing %q", r.Facing)
	}
	c := &model.DeathChest{
		ID:                  id,
		OwnerID:             owner,
		OwnerName:           r.OwnerName,
		KillerName:          r.KillerName,
		World:               r.World,
		Facing:              f,
		CreatedAt:           fromMillis(r.CreatedMs),
		ProtectionExpiresAt: fromMillis(r.ProtectMs),
		ExpiresAt:           fromMillis(r.ExpiresMs),
		Inventory:           item.Clone(r.Inventory),
	}
	if r.Killer != "" {
		k, err := uuid.Parse(r.Killer)
		if err != nil {
			return nil, err
		}
		c.KillerID = uuid.NullUUID{UUID: k, Valid: true}
	}
	if r.HasSign {
		c.Sign = &world.Vec3i{X: r.Sign[0], Y: r.Sign[1], Z: r.Sign[2]}
	}
	return c, nil
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
