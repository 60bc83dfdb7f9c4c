package main

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log"
	"os"
	"path/filepath"
)

// Storage keys for the three persisted collections. They are written
// independently and are not transactionally linked.
const (
	keyAccounts = "accounts"
	keyRecords  = "finance_records"
	keyTasks    = "kanban_tasks"
)

// envelopeVersion tags persisted blobs so future field additions have a
// defined migration path.
const envelopeVersion = 1

type envelope struct {
	Version int             `json:"version"`
	Items   json.RawMessage `json:"items"`
}

// BlobStore persists opaque JSON blobs under string keys. Load returns a nil
// blob for an absent key; backends never interpret the payload.
type BlobStore interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, blob []byte) error
	Close() error
}

// loadCollection reads and decodes one collection. A corrupt store must
// never crash the application: any read or decode failure degrades to the
// fallback. Decoded entries are still validated field by field.
func loadCollection[T any](ctx context.Context, store BlobStore, key string, fallback []T, sanitize func([]T) []T) []T {
	blob, err := store.Load(ctx, key)
	if err != nil {
		log.Printf("Warning: loading %q: %v, using defaults", key, err)
		return fallback
	}
	if len(blob) == 0 {
		return fallback
	}

	var env envelope
	if err := json.Unmarshal(blob, &env); err == nil && env.Version != 0 {
		if env.Version != envelopeVersion {
			log.Printf("Warning: unknown schema version %d for %q, using defaults", env.Version, key)
			return fallback
		}
		var items []T
		if err := json.Unmarshal(env.Items, &items); err != nil {
			log.Printf("Warning: corrupt payload for %q: %v, using defaults", key, err)
			return fallback
		}
		return sanitize(items)
	}

	// Pre-versioning blobs were bare arrays; keep accepting them.
	var items []T
	if err := json.Unmarshal(blob, &items); err != nil {
		log.Printf("Warning: corrupt blob for %q: %v, using defaults", key, err)
		return fallback
	}
	return sanitize(items)
}

// saveCollection encodes and writes one collection. Persistence is
// best-effort: failures are logged and swallowed, the in-memory state stays
// authoritative for the session.
func saveCollection[T any](ctx context.Context, store BlobStore, key string, items []T) {
	raw, err := json.Marshal(items)
	if err != nil {
		log.Printf("Warning: encoding %q: %v", key, err)
		return
	}
	blob, err := json.Marshal(envelope{Version: envelopeVersion, Items: raw})
	if err != nil {
		log.Printf("Warning: encoding %q: %v", key, err)
		return
	}
	if err := store.Save(ctx, key, blob); err != nil {
		log.Printf("Warning: persisting %q: %v", key, err)
	}
}

// fileStore keeps one JSON file per key under a data directory. It is the
// default backend when no database is configured.
type fileStore struct {
	dir string
}

func newFileStore(dir string) (*fileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &fileStore{dir: dir}, nil
}

func (s *fileStore) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

func (s *fileStore) Load(_ context.Context, key string) ([]byte, error) {
	blob, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return blob, nil
}

func (s *fileStore) Save(_ context.Context, key string, blob []byte) error {
	// Write-then-rename so a crash mid-write never leaves a truncated blob.
	tmp := s.path(key) + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path(key))
}

func (s *fileStore) Close() error { return nil }
