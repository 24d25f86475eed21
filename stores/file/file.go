// Package file provides a JSON-file store backend. All collections
// live in one JSON document on disk, guarded by a sibling .lock file
// for cross-process safety and an in-process mutex for goroutine
// safety. Writes are atomic: marshal to a temp file, then rename.
//
// The backend is schemaless: Structure reports an empty map and the
// repository's declared structure is the only source of field
// knowledge. Identities are UUIDs assigned at Add.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"repomap"
	"repomap/criteria"
	"repomap/internal/matching"
	"repomap/schema"
)

const (
	lockTimeout    = 3 * time.Second
	lockRetryDelay = 100 * time.Millisecond
	lockMaxRetries = 3
)

// Store is a JSON-file repomap.Store.
type Store struct {
	path     string
	fileLock *flock.Flock
	logger   *slog.Logger

	mu       sync.Mutex
	data     *storeData
	idFields map[string]string
}

var _ repomap.Store = (*Store)(nil)

type storeData struct {
	Collections map[string][]map[string]any `json:"collections"`
	Metadata    storeMetadata               `json:"metadata"`
}

type storeMetadata struct {
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Open loads (or initializes) the JSON store at path. A separate .lock
// file is used for locking so the data file can be atomically replaced
// during saves.
func Open(path string) (*Store, error) {
	s := &Store{
		path:     path,
		fileLock: flock.New(path + ".lock"),
		logger:   slog.Default().With("store", "file", "path", path),
		idFields: make(map[string]string),
		data: &storeData{
			Collections: make(map[string][]map[string]any),
			Metadata: storeMetadata{
				Version:   "1.0",
				CreatedAt: time.Now(),
				UpdatedAt: time.Now(),
			},
		},
	}
	if err := s.loadWithLock(); err != nil {
		return nil, fmt.Errorf("failed to load data: %w", err)
	}
	return s, nil
}

func (s *Store) acquireLock(ctx context.Context) error {
	for i := 0; i < lockMaxRetries; i++ {
		locked, err := s.fileLock.TryLockContext(ctx, lockRetryDelay)
		if err != nil {
			return fmt.Errorf("failed to acquire lock: %w", err)
		}
		if locked {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockRetryDelay):
		}
	}
	return fmt.Errorf("failed to acquire lock after %d attempts", lockMaxRetries)
}

func (s *Store) loadWithLock() error {
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()

	if err := s.acquireLock(ctx); err != nil {
		return err
	}
	defer func() { _ = s.fileLock.Unlock() }()

	return s.load()
}

// load reads the JSON file into memory. Caller must hold the lock.
func (s *Store) load() error {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		// File doesn't exist yet, that's OK
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	if len(raw) == 0 {
		return nil
	}

	var data storeData
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}
	if data.Collections == nil {
		data.Collections = make(map[string][]map[string]any)
	}
	s.data = &data
	return nil
}

func (s *Store) saveWithLock() error {
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()

	if err := s.acquireLock(ctx); err != nil {
		return err
	}
	defer func() { _ = s.fileLock.Unlock() }()

	return s.save()
}

// save writes the in-memory data atomically: temp file, then rename.
// Caller must hold the lock.
func (s *Store) save() error {
	s.data.Metadata.UpdatedAt = time.Now()

	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	tmpFile := s.path + ".tmp"
	if err := os.WriteFile(tmpFile, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpFile, s.path); err != nil {
		_ = os.Remove(tmpFile)
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

func (s *Store) Find(collection string, expr *criteria.Expression, params repomap.Params) ([]map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := matching.Filter(s.data.Collections[collection], expr)
	matching.Sort(matched, params.OrderBy)
	matched = matching.Page(matched, params.Limit, params.Offset)

	out := make([]map[string]any, 0, len(matched))
	for _, record := range matched {
		out = append(out, cloneRecord(record))
	}
	return out, nil
}

func (s *Store) FindOne(collection string, expr *criteria.Expression, params repomap.Params) (map[string]any, error) {
	params.Limit = 1
	records, err := s.Find(collection, expr, params)
	if err != nil || len(records) == 0 {
		return nil, err
	}
	return records[0], nil
}

func (s *Store) Count(collection string, expr *criteria.Expression) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(matching.Filter(s.data.Collections[collection], expr))), nil
}

func (s *Store) Add(collection string, record map[string]any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idField := s.idFields[collection]
	if idField == "" {
		idField = repomap.DefaultIdentityField
	}

	stored := cloneRecord(record)
	id, ok := stored[idField]
	if !ok || id == nil {
		id = uuid.New().String()
		stored[idField] = id
	}

	s.data.Collections[collection] = append(s.data.Collections[collection], stored)
	if err := s.saveWithLock(); err != nil {
		return nil, err
	}
	s.logger.Debug("record added", "collection", collection)
	return id, nil
}

func (s *Store) Update(collection string, expr *criteria.Expression, record map[string]any) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var affected int64
	for _, stored := range s.data.Collections[collection] {
		if !matching.Matches(stored, expr) {
			continue
		}
		for name, value := range record {
			stored[name] = value
		}
		affected++
	}
	if affected > 0 {
		if err := s.saveWithLock(); err != nil {
			return 0, err
		}
	}
	return affected, nil
}

func (s *Store) Delete(collection string, expr *criteria.Expression) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.data.Collections[collection]
	kept := make([]map[string]any, 0, len(records))
	var affected int64
	for _, stored := range records {
		if matching.Matches(stored, expr) {
			affected++
			continue
		}
		kept = append(kept, stored)
	}
	s.data.Collections[collection] = kept
	if affected > 0 {
		if err := s.saveWithLock(); err != nil {
			return 0, err
		}
	}
	return affected, nil
}

// Structure always reports empty: the JSON backend has no native
// schema, so structure knowledge comes entirely from declaration.
func (s *Store) Structure(string) (schema.Structure, error) {
	return schema.Structure{}, nil
}

func (s *Store) DidBindToRepository(r *repomap.Repository) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.Collections[r.Collection()]; !ok {
		s.data.Collections[r.Collection()] = []map[string]any{}
	}
	s.idFields[r.Collection()] = r.IdentityField()
	return nil
}

func cloneRecord(record map[string]any) map[string]any {
	out := make(map[string]any, len(record))
	for name, value := range record {
		out[name] = value
	}
	return out
}
