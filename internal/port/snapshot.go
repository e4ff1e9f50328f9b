package port

import (
	"context"

	"imgsearch/internal/domain"
)

// SnapshotStore persists an embedding index as one flat snapshot.
type SnapshotStore interface {
	// Save replaces the stored snapshot with snap.
	Save(ctx context.Context, snap domain.Snapshot) error

	// Load returns the stored snapshot. A missing snapshot is an empty
	// snapshot and no error; an unreadable one is an empty snapshot and an
	// error wrapping ErrCorruptSnapshot.
	Load(ctx context.Context) (domain.Snapshot, error)

	// Location describes where the snapshot lives.
	Location() string

	Close() error
}
