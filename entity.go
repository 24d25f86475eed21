package repomap

import "sort"

// Entity is the canonical in-memory representation of one persisted
// record: a property bag plus identity, aware of its declared structure
// through the repository it belongs to.
//
// An entity carries a non-owning reference to exactly one repository,
// set once at construction and never reassignable. Its identity value
// stays unset until the first successful Add; Delete clears it back to
// unset, after which the entity may be added again as a new record.
type Entity struct {
	entityType string
	id         any
	props      map[string]any
	repo       *Repository
}

// NewEntity constructs a blank, unbound entity of the given type.
// Entities meant for persistence are normally constructed through
// Repository.NewEntity, which also binds them and applies structure
// defaults.
func NewEntity(entityType string) *Entity {
	return &Entity{
		entityType: entityType,
		props:      make(map[string]any),
	}
}

// Type returns the entity-type identifier.
func (e *Entity) Type() string { return e.entityType }

// ID returns the identity value, or nil when unset.
func (e *Entity) ID() any { return e.id }

// HasID reports whether the entity has been assigned an identity.
func (e *Entity) HasID() bool { return e.id != nil }

// Repository returns the owning repository, or nil for an unbound entity.
func (e *Entity) Repository() *Repository { return e.repo }

// BindRepository attaches the entity to its owning repository. The
// reference is settable exactly once; a second bind fails with
// ErrRepositoryBound even when it names the same repository.
func (e *Entity) BindRepository(r *Repository) error {
	if e.repo != nil {
		return ErrRepositoryBound
	}
	e.repo = r
	return nil
}

// SetProperty stores a property value, coercing it to the declared
// field kind when the entity is bound and the field is structure-known.
// Ad hoc fields outside the structure are permitted; they are kept
// as-is and never validated or persisted.
func (e *Entity) SetProperty(name string, value any) {
	if e.repo != nil {
		if structure, err := e.repo.Structure(); err == nil {
			value = structure.CoerceValue(name, value)
		}
	}
	e.props[name] = value
}

// SetRawProperty stores a property value without coercion, the
// explicit setter escape hatch for values that must keep their exact
// representation.
func (e *Entity) SetRawProperty(name string, value any) {
	e.props[name] = value
}

// Assign sets every property from data, coerced field by field.
func (e *Entity) Assign(data map[string]any) {
	for _, name := range sortedNames(data) {
		e.SetProperty(name, data[name])
	}
}

// GetProperty returns a property value; ok is false when the property
// was never set.
func (e *Entity) GetProperty(name string) (any, bool) {
	v, ok := e.props[name]
	return v, ok
}

// Property returns a property value, or nil when unset.
func (e *Entity) Property(name string) any {
	return e.props[name]
}

// HasProperty reports whether the property was ever set.
func (e *Entity) HasProperty(name string) bool {
	_, ok := e.props[name]
	return ok
}

// Properties returns a copy of the whole property bag.
func (e *Entity) Properties() map[string]any {
	out := make(map[string]any, len(e.props))
	for name, value := range e.props {
		out[name] = value
	}
	return out
}

func (e *Entity) setID(id any) { e.id = id }
func (e *Entity) clearID()     { e.id = nil }

func sortedNames(m map[string]any) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
