package store

import (
	"fmt"

	"imgsearch/config"
	"imgsearch/internal/port"
)

// Open returns the snapshot store selected by cfg.Cache.Backend, rooted at dir.
func Open(cfg *config.Config, dir string) (port.SnapshotStore, error) {
	path := cfg.CachePath(dir)
	switch cfg.Cache.Backend {
	case "json", "":
		return NewJSONSnapshotStore(path), nil
	case "bolt":
		return NewBoltSnapshotStore(path), nil
	case "sqlite":
		return NewSQLiteSnapshotStore(path), nil
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", cfg.Cache.Backend)
	}
}
