package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"deathchest.gg/internal/lifecycle"
	"deathchest.gg/internal/persistence"
	"deathchest.gg/internal/persistence/indexdb"
	"deathchest.gg/internal/persistence/snapshot"
)

// openStore picks the chest store backend. DC_STORE_BACKEND overrides the
// flag. The sqlite backend doubles as an audit sink.
func openStore(backend, dataDir, worldName string) (persistence.Store, lifecycle.AuditSink, error) {
	if env := strings.ToLower(strings.TrimSpace(os.Getenv("DC_STORE_BACKEND"))); env != "" {
		backend = env
	}
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "sqlite":
		s, err := indexdb.OpenSQLite(filepath.Join(dataDir, "chests.sqlite"))
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "snapshot":
		return snapshot.NewFileStore(filepath.Join(dataDir, "chests.snap.zst"), worldName), nil, nil
	case "memory":
		return persistence.NewMemory(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store backend: %s", backend)
	}
}
