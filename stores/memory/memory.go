// Package memory provides an in-memory store backend, primarily for
// tests and fixtures. Records live as plain field maps per collection;
// criteria are evaluated by the shared matching engine. Identities are
// assigned from a per-collection integer sequence unless the record
// already carries one.
package memory

import (
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"repomap"
	"repomap/criteria"
	"repomap/internal/matching"
	"repomap/schema"
)

// Store is an in-memory repomap.Store.
type Store struct {
	mu          sync.RWMutex
	collections map[string][]map[string]any
	nextID      map[string]int64
	structures  map[string]schema.Structure
	idFields    map[string]string
}

var _ repomap.Store = (*Store)(nil)

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		collections: make(map[string][]map[string]any),
		nextID:      make(map[string]int64),
		structures:  make(map[string]schema.Structure),
		idFields:    make(map[string]string),
	}
}

// SetStructure configures the structure this store reports for a
// collection, exercising the introspection path of structure
// resolution. Without it the store is schemaless.
func (s *Store) SetStructure(collection string, structure schema.Structure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.structures[collection] = structure.Clone().Normalize()
}

// LoadFixtures reads YAML fixture data: a mapping of collection name to
// a list of records. Loaded records keep any identity they carry; the
// auto-identity sequence is advanced past numeric identities so later
// adds cannot collide.
func (s *Store) LoadFixtures(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	var fixtures map[string][]map[string]any
	if err := yaml.Unmarshal(raw, &fixtures); err != nil {
		return fmt.Errorf("decode fixtures: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for collection, records := range fixtures {
		idField := s.idFields[collection]
		if idField == "" {
			idField = "id"
		}
		for _, record := range records {
			if id, ok := record[idField]; ok {
				if n, ok := toInt64(id); ok && n >= s.nextID[collection] {
					s.nextID[collection] = n
				}
			}
			s.collections[collection] = append(s.collections[collection], cloneRecord(record))
		}
	}
	return nil
}

// LoadFixtureFile is LoadFixtures over a file path.
func (s *Store) LoadFixtureFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return s.LoadFixtures(f)
}

func (s *Store) Find(collection string, expr *criteria.Expression, params repomap.Params) ([]map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := matching.Filter(s.collections[collection], expr)
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
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(matching.Filter(s.collections[collection], expr))), nil
}

func (s *Store) Add(collection string, record map[string]any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idField := s.idFields[collection]
	if idField == "" {
		idField = "id"
	}

	stored := cloneRecord(record)
	id, ok := stored[idField]
	if !ok || id == nil {
		s.nextID[collection]++
		id = s.nextID[collection]
		stored[idField] = id
	} else if n, isInt := toInt64(id); isInt && n >= s.nextID[collection] {
		s.nextID[collection] = n
	}

	s.collections[collection] = append(s.collections[collection], stored)
	return id, nil
}

func (s *Store) Update(collection string, expr *criteria.Expression, record map[string]any) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var affected int64
	for _, stored := range s.collections[collection] {
		if !matching.Matches(stored, expr) {
			continue
		}
		for name, value := range record {
			stored[name] = value
		}
		affected++
	}
	return affected, nil
}

func (s *Store) Delete(collection string, expr *criteria.Expression) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.collections[collection][:0]
	var affected int64
	for _, stored := range s.collections[collection] {
		if matching.Matches(stored, expr) {
			affected++
			continue
		}
		kept = append(kept, stored)
	}
	s.collections[collection] = kept
	return affected, nil
}

func (s *Store) Structure(collection string) (schema.Structure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if structure, ok := s.structures[collection]; ok {
		return structure.Clone(), nil
	}
	return schema.Structure{}, nil
}

func (s *Store) DidBindToRepository(r *repomap.Repository) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[r.Collection()]; !ok {
		s.collections[r.Collection()] = []map[string]any{}
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

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	}
	return 0, false
}
