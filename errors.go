package repomap

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Configuration and ownership errors. These surface immediately and are
// never retried by the mapping layer.
var (
	// ErrMissingCollection is returned when a repository is constructed
	// without a collection name.
	ErrMissingCollection = errors.New("collection name is required")

	// ErrStructureNotDefined is returned when neither the declared
	// structure nor store introspection yields any field for an entity
	// type. An entity with no knowable fields cannot be persisted or
	// hydrated meaningfully.
	ErrStructureNotDefined = errors.New("entity structure not defined")

	// ErrStructureDefined is returned on an attempt to extend a
	// structure after it has already been resolved.
	ErrStructureDefined = errors.New("entity structure already defined")

	// ErrRepositoryBound is returned when an entity that already
	// belongs to a repository is bound a second time.
	ErrRepositoryBound = errors.New("repository already bound")

	// ErrInvalidEntity is returned when an entity's type does not match
	// the repository's managed type.
	ErrInvalidEntity = errors.New("entity does not belong to this repository")

	// ErrNothingToPersist is returned by Add when, after filtering to
	// structure-known fields, there is no property left to store.
	ErrNothingToPersist = errors.New("entity has no persistable properties")

	// ErrUnknownEntityType is returned when a join target given as an
	// entity-type identifier cannot be resolved to a repository.
	ErrUnknownEntityType = errors.New("unknown entity type")
)

// FieldError records the failure of one field during validation: the
// value that was attempted and the names of the validators it failed.
type FieldError struct {
	Field      string
	Value      any
	Validators []string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("field %q failed %s", e.Field, strings.Join(e.Validators, ", "))
}

// ValidationError aggregates every field failure of one candidate
// payload. Validation never short-circuits: callers get all problems at
// once and are expected to present them per field.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.Field
	}
	sort.Strings(names)
	return fmt.Sprintf("validation failed for %s", strings.Join(names, ", "))
}

// Field returns the failure record for the named field, if present.
func (e *ValidationError) Field(name string) (FieldError, bool) {
	for _, f := range e.Fields {
		if f.Field == name {
			return f, true
		}
	}
	return FieldError{}, false
}
