package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"imgsearch/internal/domain"
	"imgsearch/internal/port"
)

// FolderKey is the reserved key holding the indexed folder in a JSON
// snapshot. Every other key is an image path mapped to its vector.
const FolderKey = "folder_path"

// JSONSnapshotStore keeps the snapshot as a single JSON object:
//
//	{"folder_path": "/photos", "/photos/a.png": [0.1, ...], ...}
//
// Keys are written and read back in index order.
type JSONSnapshotStore struct {
	path string
}

var _ port.SnapshotStore = (*JSONSnapshotStore)(nil)

func NewJSONSnapshotStore(path string) *JSONSnapshotStore {
	return &JSONSnapshotStore{path: path}
}

func (s *JSONSnapshotStore) Save(ctx context.Context, snap domain.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := marshalSnapshot(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

func (s *JSONSnapshotStore) Load(ctx context.Context) (domain.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return domain.Snapshot{}, err
	}

	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.Snapshot{}, nil
		}
		return domain.Snapshot{}, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	snap, err := unmarshalSnapshot(f)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("%s: %w", s.path, err)
	}
	return snap, nil
}

func (s *JSONSnapshotStore) Location() string {
	return s.path
}

func (s *JSONSnapshotStore) Close() error {
	return nil
}

func marshalSnapshot(snap domain.Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	key, _ := json.Marshal(FolderKey)
	folder, err := json.Marshal(snap.Folder)
	if err != nil {
		return nil, err
	}
	buf.Write(key)
	buf.WriteByte(':')
	buf.Write(folder)

	for _, r := range snap.Records {
		path, err := json.Marshal(r.Path)
		if err != nil {
			return nil, err
		}
		vec, err := json.Marshal(r.Vector)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", r.Path, err)
		}
		buf.WriteByte(',')
		buf.Write(path)
		buf.WriteByte(':')
		buf.Write(vec)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func unmarshalSnapshot(r io.Reader) (domain.Snapshot, error) {
	var snap domain.Snapshot
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("%w: %v", port.ErrCorruptSnapshot, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return domain.Snapshot{}, fmt.Errorf("%w: expected object", port.ErrCorruptSnapshot)
	}

	positions := make(map[string]int)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return domain.Snapshot{}, fmt.Errorf("%w: %v", port.ErrCorruptSnapshot, err)
		}
		key, ok := tok.(string)
		if !ok {
			return domain.Snapshot{}, fmt.Errorf("%w: unexpected token %v", port.ErrCorruptSnapshot, tok)
		}

		if key == FolderKey {
			var folder *string
			if err := dec.Decode(&folder); err != nil {
				return domain.Snapshot{}, fmt.Errorf("%w: folder: %v", port.ErrCorruptSnapshot, err)
			}
			if folder != nil {
				snap.Folder = *folder
			}
			continue
		}

		var vec []float32
		if err := dec.Decode(&vec); err != nil {
			return domain.Snapshot{}, fmt.Errorf("%w: %s: %v", port.ErrCorruptSnapshot, key, err)
		}
		if pos, seen := positions[key]; seen {
			snap.Records[pos].Vector = vec
			continue
		}
		positions[key] = len(snap.Records)
		snap.Records = append(snap.Records, domain.EmbeddingRecord{Path: key, Vector: vec})
	}

	if _, err := dec.Token(); err != nil {
		return domain.Snapshot{}, fmt.Errorf("%w: %v", port.ErrCorruptSnapshot, err)
	}
	if err := validateRecords(snap.Records); err != nil {
		return domain.Snapshot{}, err
	}
	return snap, nil
}
