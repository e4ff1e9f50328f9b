package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"imgsearch/internal/domain"
	"imgsearch/internal/port"
)

// CurrentSchemaVersion is bumped whenever the bolt layout changes.
const CurrentSchemaVersion = 1

var (
	bucketMeta       = []byte("meta")
	bucketRecords    = []byte("records")
	keySchemaVersion = []byte("schema_version")
	keyFolder        = []byte("folder_path")
)

// BoltSnapshotStore keeps the snapshot in a bbolt file. Records live in a
// bucket keyed by big-endian sequence numbers so a cursor walk returns them
// in index order.
type BoltSnapshotStore struct {
	path string
	mu   sync.Mutex
	db   *bbolt.DB
}

var _ port.SnapshotStore = (*BoltSnapshotStore)(nil)

func NewBoltSnapshotStore(path string) *BoltSnapshotStore {
	return &BoltSnapshotStore{path: path}
}

// open lazily opens the database so a missing file can be reported as an
// empty snapshot instead of being created by a read.
func (s *BoltSnapshotStore) open(create bool) (*bbolt.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db, nil
	}
	if !create {
		if _, err := os.Stat(s.path); err != nil {
			return nil, err
		}
	} else if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := bbolt.Open(s.path, 0600, &bbolt.Options{Timeout: time.Second})
	if errors.Is(err, bbolt.ErrTimeout) {
		return nil, fmt.Errorf("bolt db is locked by another process: %w", err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open bolt db: %v", port.ErrCorruptSnapshot, err)
	}
	s.db = db
	return db, nil
}

func (s *BoltSnapshotStore) Save(ctx context.Context, snap domain.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db, err := s.open(true)
	if errors.Is(err, port.ErrCorruptSnapshot) {
		if rmErr := os.Remove(s.path); rmErr == nil {
			db, err = s.open(true)
		}
	}
	if err != nil {
		return err
	}

	return db.Update(func(tx *bbolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketMeta, err)
		}
		if err := checkSchemaVersion(meta); err != nil {
			return err
		}
		if err := meta.Put(keySchemaVersion, u64Key(CurrentSchemaVersion)); err != nil {
			return err
		}
		if err := meta.Put(keyFolder, []byte(snap.Folder)); err != nil {
			return err
		}

		if tx.Bucket(bucketRecords) != nil {
			if err := tx.DeleteBucket(bucketRecords); err != nil {
				return err
			}
		}
		records, err := tx.CreateBucket(bucketRecords)
		if err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketRecords, err)
		}

		for i, r := range snap.Records {
			if err := records.Put(u64Key(uint64(i)), encodeRecord(r)); err != nil {
				return fmt.Errorf("failed to store %s: %w", r.Path, err)
			}
		}
		return nil
	})
}

func (s *BoltSnapshotStore) Load(ctx context.Context) (domain.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return domain.Snapshot{}, err
	}
	db, err := s.open(false)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.Snapshot{}, nil
		}
		return domain.Snapshot{}, err
	}

	var snap domain.Snapshot
	err = db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if meta == nil {
			return nil
		}
		if err := checkSchemaVersion(meta); err != nil {
			return err
		}
		snap.Folder = string(meta.Get(keyFolder))

		records := tx.Bucket(bucketRecords)
		if records == nil {
			return nil
		}
		return records.ForEach(func(_, v []byte) error {
			r, err := decodeRecord(v)
			if err != nil {
				return err
			}
			snap.Records = append(snap.Records, r)
			return nil
		})
	})
	if err != nil {
		return domain.Snapshot{}, err
	}
	if err := validateRecords(snap.Records); err != nil {
		return domain.Snapshot{}, err
	}
	return snap, nil
}

func (s *BoltSnapshotStore) Location() string {
	return s.path
}

func (s *BoltSnapshotStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func checkSchemaVersion(meta *bbolt.Bucket) error {
	data := meta.Get(keySchemaVersion)
	if data == nil {
		return nil
	}
	if len(data) != 8 {
		return fmt.Errorf("%w: malformed schema version", port.ErrCorruptSnapshot)
	}
	if v := binary.BigEndian.Uint64(data); v > CurrentSchemaVersion {
		return fmt.Errorf("%w: created by newer version (v%d > v%d)", port.ErrCorruptSnapshot, v, CurrentSchemaVersion)
	}
	return nil
}

func u64Key(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

// encodeRecord lays a record out as a uint32 path length, the path, then
// the vector blob.
func encodeRecord(r domain.EmbeddingRecord) []byte {
	vec := encodeVector(r.Vector)
	b := make([]byte, 4+len(r.Path)+len(vec))
	binary.LittleEndian.PutUint32(b, uint32(len(r.Path)))
	copy(b[4:], r.Path)
	copy(b[4+len(r.Path):], vec)
	return b
}

func decodeRecord(b []byte) (domain.EmbeddingRecord, error) {
	if len(b) < 4 {
		return domain.EmbeddingRecord{}, fmt.Errorf("%w: short record", port.ErrCorruptSnapshot)
	}
	n := int(binary.LittleEndian.Uint32(b))
	if 4+n > len(b) {
		return domain.EmbeddingRecord{}, fmt.Errorf("%w: record path overruns value", port.ErrCorruptSnapshot)
	}
	vec, err := decodeVector(b[4+n:])
	if err != nil {
		return domain.EmbeddingRecord{}, err
	}
	return domain.EmbeddingRecord{Path: string(b[4 : 4+n]), Vector: vec}, nil
}
