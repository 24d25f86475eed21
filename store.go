package repomap

import (
	"repomap/criteria"
	"repomap/schema"
)

// Params carries pagination and ordering through to a store. The
// mapping layer passes it along untouched; each backend interprets what
// it supports.
type Params struct {
	Limit   int
	Offset  int
	OrderBy []criteria.Order
}

// Store is the capability contract a backend must provide, one
// implementation per storage technology. Criteria expressions handed to
// a store have already been coerced to the declared field types, so a
// store never sees value/type mismatches from caller-supplied data.
type Store interface {
	// Find returns the raw records of collection matching expr. A nil
	// expression matches everything. The result is empty, never nil on
	// a successful no-match.
	Find(collection string, expr *criteria.Expression, params Params) ([]map[string]any, error)

	// FindOne returns the first matching record, or nil when nothing
	// matches.
	FindOne(collection string, expr *criteria.Expression, params Params) (map[string]any, error)

	// Count returns the number of matching records.
	Count(collection string, expr *criteria.Expression) (int64, error)

	// Add stores a new record and returns the identity value assigned
	// by the backend.
	Add(collection string, record map[string]any) (any, error)

	// Update replaces fields of every matching record and returns the
	// affected count.
	Update(collection string, expr *criteria.Expression, record map[string]any) (int64, error)

	// Delete removes every matching record and returns the affected
	// count.
	Delete(collection string, expr *criteria.Expression) (int64, error)

	// Structure introspects the collection's native schema. Schemaless
	// backends return an empty structure.
	Structure(collection string) (schema.Structure, error)

	// DidBindToRepository fires once when a repository attaches to this
	// store, letting the store prepare collection-specific resources.
	DidBindToRepository(r *Repository) error
}
