// Package repomap binds plain data entities to pluggable storage
// backends through a uniform criteria-based query interface. A
// Repository orchestrates find/save/delete for one entity type against
// one store collection: it normalizes loosely-typed conditions into
// typed criteria expressions, enforces structure validation before any
// mutation, fires vetoable lifecycle events around every operation, and
// stitches related collections together in memory where backends cannot
// join natively.
package repomap

import (
	"fmt"
	"sync"

	"repomap/criteria"
	"repomap/schema"
)

// DefaultIdentityField is the identity field name used when a
// repository does not override it.
const DefaultIdentityField = "id"

// Resolver maps an entity-type identifier to its canonical repository.
// It is an external collaborator (a registry of repositories per entity
// type); the mapping layer only needs it to resolve join targets given
// by type rather than by repository instance.
type Resolver interface {
	RepositoryFor(entityType string) (*Repository, error)
}

// Extension is anything that layers cross-cutting behavior onto a
// repository at construction, typically by extending the entity
// structure or registering event observers.
type Extension interface {
	AddExtension(r *Repository)
}

// Config configures a Repository. Collection is the only required
// field.
type Config struct {
	// Collection names the store collection (table, document set) the
	// repository operates on.
	Collection string

	// EntityType identifies the managed entity type; defaults to
	// Collection.
	EntityType string

	// IdentityField overrides the identity field name; defaults to
	// DefaultIdentityField.
	IdentityField string

	// Structure is the statically declared field structure. It is
	// merged over whatever the store introspects, declared descriptors
	// winning per field.
	Structure schema.Structure

	// Events receives the repository's lifecycle events. A fresh
	// dispatcher is created when nil.
	Events *Dispatcher

	// Resolver resolves entity-type identifiers to repositories for
	// the join engine. Optional; joins by type fail without it.
	Resolver Resolver

	// Extensions are attached once, in order, at construction.
	Extensions []Extension
}

// Repository orchestrates CRUD and queries for one entity type against
// one store collection.
type Repository struct {
	store      Store
	collection string
	entityType string
	idField    string
	events     *Dispatcher
	resolver   Resolver

	mu        sync.Mutex
	declared  schema.Structure
	resolved  bool
	structure schema.Structure
	structErr error
}

// New constructs a Repository over the given store. It fails with
// ErrMissingCollection when the collection name is empty, attaches
// every configured extension, and fires the store's one-time bind hook.
func New(store Store, cfg Config) (*Repository, error) {
	if cfg.Collection == "" {
		return nil, ErrMissingCollection
	}

	entityType := cfg.EntityType
	if entityType == "" {
		entityType = cfg.Collection
	}
	idField := cfg.IdentityField
	if idField == "" {
		idField = DefaultIdentityField
	}
	events := cfg.Events
	if events == nil {
		events = NewDispatcher()
	}

	declared := schema.Structure{}
	if cfg.Structure != nil {
		declared = cfg.Structure.Clone().Normalize()
	}

	r := &Repository{
		store:      store,
		collection: cfg.Collection,
		entityType: entityType,
		idField:    idField,
		events:     events,
		resolver:   cfg.Resolver,
		declared:   declared,
	}

	for _, ext := range cfg.Extensions {
		ext.AddExtension(r)
	}

	if err := store.DidBindToRepository(r); err != nil {
		return nil, fmt.Errorf("store bind hook: %w", err)
	}
	return r, nil
}

// Collection returns the store collection name.
func (r *Repository) Collection() string { return r.collection }

// EntityType returns the managed entity-type identifier.
func (r *Repository) EntityType() string { return r.entityType }

// IdentityField returns the identity field name.
func (r *Repository) IdentityField() string { return r.idField }

// Store returns the backing store.
func (r *Repository) Store() Store { return r.store }

// Events returns the repository's event dispatcher.
func (r *Repository) Events() *Dispatcher { return r.events }

// On registers a lifecycle observer; shorthand for Events().On.
func (r *Repository) On(kind EventKind, fn Observer) {
	r.events.On(kind, fn)
}

// Structure resolves the entity structure: the statically declared
// fields merged over whatever the store introspects for the collection,
// declared flags and validators winning on conflicting keys. Resolution
// happens at most once per repository; concurrent callers race safely
// and later callers receive the cached result. When both sources are
// empty the resolution fails with ErrStructureNotDefined.
func (r *Repository) Structure() (schema.Structure, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resolved {
		return r.structure, r.structErr
	}

	introspected, err := r.store.Structure(r.collection)
	if err != nil {
		return nil, fmt.Errorf("introspect %s: %w", r.collection, err)
	}
	merged := introspected.Merge(r.declared)
	if len(merged) == 0 {
		r.resolved = true
		r.structErr = ErrStructureNotDefined
		return nil, r.structErr
	}

	r.resolved = true
	r.structure = merged.Normalize()
	return r.structure, nil
}

// ExtendStructure deep-merges additional field descriptors into the
// declared structure. Extensions must run before the structure is first
// resolved; afterwards the structure is immutable and extending fails
// with ErrStructureDefined.
func (r *Repository) ExtendStructure(extra schema.Structure) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resolved {
		return ErrStructureDefined
	}
	r.declared = r.declared.Merge(extra.Clone().Normalize())
	return nil
}

// BuildCriteria normalizes a loosely-typed condition map into a typed
// criteria expression: operators parsed from key suffixes, nested
// AND/OR logic built recursively, and every leaf value coerced to the
// declared kind of its field so stores never receive mismatched types.
func (r *Repository) BuildCriteria(conditions map[string]any) (*criteria.Expression, error) {
	expr, err := criteria.Build(conditions)
	if err != nil {
		return nil, err
	}
	return r.coerceCriteria(expr)
}

func (r *Repository) coerceCriteria(expr *criteria.Expression) (*criteria.Expression, error) {
	if expr == nil {
		return nil, nil
	}
	structure, err := r.Structure()
	if err != nil {
		return nil, err
	}
	expr = expr.Clone()
	expr.WalkLeaves(func(leaf *criteria.Expression) {
		if set, ok := leaf.Value.([]any); ok {
			leaf.Value = structure.CoerceSet(leaf.Field, set)
			return
		}
		leaf.Value = structure.CoerceValue(leaf.Field, leaf.Value)
	})
	return expr, nil
}

// NewEntity constructs an entity bound to this repository, seeded with
// the structure's default values and then the given data, both coerced
// field by field. Construction fires WillCreateEntity/DidCreateEntity;
// a veto returns nil.
func (r *Repository) NewEntity(data map[string]any) (*Entity, error) {
	structure, err := r.Structure()
	if err != nil {
		return nil, err
	}

	event := &Event{kind: WillCreateEntity, repository: r, data: data}
	if !r.events.Trigger(event) {
		return nil, nil
	}
	data = event.Data()

	e := NewEntity(r.entityType)
	e.repo = r
	e.Assign(structure.Defaults())
	if data != nil {
		e.Assign(data)
	}

	r.events.Trigger(&Event{kind: DidCreateEntity, repository: r, entity: e})
	return e, nil
}

// Find builds a criteria expression from conditions, executes it
// against the store and hydrates every returned record into an entity
// bound to this repository. The result is empty, never nil, when
// nothing matches or when a WillReadFromStore observer vetoes the read.
func (r *Repository) Find(conditions map[string]any, params Params) ([]*Entity, error) {
	expr, err := r.BuildCriteria(conditions)
	if err != nil {
		return nil, err
	}
	return r.findByExpression(expr, params)
}

func (r *Repository) findByExpression(expr *criteria.Expression, params Params) ([]*Entity, error) {
	event := &Event{kind: WillReadFromStore, repository: r, criteria: expr, params: params}
	if !r.events.Trigger(event) {
		return []*Entity{}, nil
	}
	expr = event.Criteria()

	rows, err := r.store.Find(r.collection, expr, params)
	if err != nil {
		return nil, err
	}
	r.events.Trigger(&Event{kind: DidReadFromStore, repository: r, criteria: expr, params: params})

	entities := make([]*Entity, 0, len(rows))
	for _, row := range rows {
		e, err := r.hydrate(row)
		if err != nil {
			return nil, err
		}
		if e != nil {
			entities = append(entities, e)
		}
	}
	return entities, nil
}

// hydrate turns one raw store record into a bound entity. A
// WillBindDataToEntity veto skips the record.
func (r *Repository) hydrate(row map[string]any) (*Entity, error) {
	structure, err := r.Structure()
	if err != nil {
		return nil, err
	}

	event := &Event{kind: WillBindDataToEntity, repository: r, data: row}
	if !r.events.Trigger(event) {
		return nil, nil
	}
	row = event.Data()

	e := NewEntity(r.entityType)
	e.repo = r
	for _, name := range sortedNames(row) {
		e.props[name] = structure.CoerceValue(name, row[name])
	}
	if id, ok := e.props[r.idField]; ok && id != nil {
		e.setID(id)
	}

	r.events.Trigger(&Event{kind: DidBindDataToEntity, repository: r, entity: e})
	return e, nil
}

// FindOne is Find with an implicit limit of one. It returns nil without
// error when nothing matches.
func (r *Repository) FindOne(conditions map[string]any, params Params) (*Entity, error) {
	params.Limit = 1
	entities, err := r.Find(conditions, params)
	if err != nil || len(entities) == 0 {
		return nil, err
	}
	return entities[0], nil
}

// FindByID fetches by identity. A slice identity is a batch fetch
// delegating to Find with an in-set condition (empty, non-nil result on
// no match); a scalar identity delegates to FindOne (nil on no match).
func (r *Repository) FindByID(id any) (any, error) {
	if set, ok := idSet(id); ok {
		return r.Find(map[string]any{r.idField: set}, Params{})
	}
	e, err := r.FindOne(map[string]any{r.idField: id}, Params{})
	if e == nil {
		// Unwrapped so a miss is an untyped nil, not a typed nil inside
		// the interface.
		return nil, err
	}
	return e, nil
}

// FindBy fetches all entities whose field equals value.
func (r *Repository) FindBy(field string, value any) ([]*Entity, error) {
	return r.Find(map[string]any{field: value}, Params{})
}

// FindOneBy fetches the first entity whose field equals value.
func (r *Repository) FindOneBy(field string, value any) (*Entity, error) {
	return r.FindOne(map[string]any{field: value}, Params{})
}

// Provide returns the first entity matching conditions, constructing
// one from data merged with the conditions (conditions winning on
// conflicting keys) when none exists. With autosave the new entity is
// persisted immediately.
func (r *Repository) Provide(conditions map[string]any, data map[string]any, autosave bool) (*Entity, error) {
	found, err := r.FindOne(conditions, Params{})
	if err != nil || found != nil {
		return found, err
	}

	merged := make(map[string]any, len(data)+len(conditions))
	for name, value := range data {
		merged[name] = value
	}
	for name, value := range conditions {
		merged[name] = value
	}

	e, err := r.NewEntity(merged)
	if err != nil || e == nil {
		return nil, err
	}
	if autosave {
		if err := r.Save(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Count returns the number of records matching conditions.
func (r *Repository) Count(conditions map[string]any) (int64, error) {
	expr, err := r.BuildCriteria(conditions)
	if err != nil {
		return 0, err
	}
	return r.store.Count(r.collection, expr)
}

func idSet(id any) ([]any, bool) {
	switch v := id.(type) {
	case []any:
		return v, true
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, true
	case []int:
		out := make([]any, len(v))
		for i, n := range v {
			out[i] = n
		}
		return out, true
	case []int64:
		out := make([]any, len(v))
		for i, n := range v {
			out[i] = n
		}
		return out, true
	}
	return nil, false
}

// checkOwnership confirms the entity may pass through this repository:
// its declared type must equal the repository's managed type and it
// must not belong to a different repository. This guards against
// silently persisting an entity through the wrong collection binding.
func (r *Repository) checkOwnership(e *Entity) error {
	if e == nil {
		return fmt.Errorf("%w: nil entity", ErrInvalidEntity)
	}
	if e.entityType != r.entityType {
		return fmt.Errorf("%w: entity type %q, repository manages %q", ErrInvalidEntity, e.entityType, r.entityType)
	}
	if e.repo != nil && e.repo != r {
		return fmt.Errorf("%w: entity belongs to another repository", ErrInvalidEntity)
	}
	return nil
}

// persistablePayload filters the entity's properties down to
// structure-known fields, coerced to their declared kinds, excluding
// the identity field.
func (r *Repository) persistablePayload(e *Entity) (map[string]any, error) {
	structure, err := r.Structure()
	if err != nil {
		return nil, err
	}
	payload := make(map[string]any)
	for name, value := range e.props {
		if name == r.idField {
			continue
		}
		field, known := structure[name]
		if !known {
			continue
		}
		payload[name] = schema.Coerce(field, value)
	}
	return payload, nil
}

// Save persists the entity: Add when its identity is unset, Update
// otherwise. The routed operation is wrapped in WillSaveEntity /
// DidSaveEntity; a WillSaveEntity veto is a soft cancellation, and a
// veto inside the routed operation suppresses DidSaveEntity too, so
// completion observers only ever see saves that reached the store.
func (r *Repository) Save(e *Entity) error {
	if err := r.checkOwnership(e); err != nil {
		return err
	}
	event := &Event{kind: WillSaveEntity, repository: r, entity: e}
	if !r.events.Trigger(event) {
		return nil
	}
	if event.Entity() == nil {
		return nil
	}
	e = event.Entity()

	var persisted bool
	var err error
	if e.HasID() {
		persisted, err = r.update(e)
	} else {
		persisted, err = r.add(e)
	}
	if err != nil {
		return err
	}
	if !persisted {
		return nil
	}

	r.events.Trigger(&Event{kind: DidSaveEntity, repository: r, entity: e})
	return nil
}

// Add validates the entity and inserts it as a new record. It fails
// with ErrNothingToPersist when no structure-known property remains
// after filtering. On success the store-assigned identity is written
// back onto the entity.
func (r *Repository) Add(e *Entity) error {
	_, err := r.add(e)
	return err
}

// add is Add reporting whether a record actually reached the store; a
// WillAddEntity veto yields (false, nil).
func (r *Repository) add(e *Entity) (bool, error) {
	if err := r.checkOwnership(e); err != nil {
		return false, err
	}
	if e.repo == nil {
		if err := e.BindRepository(r); err != nil {
			return false, err
		}
	}
	if err := r.ValidateData(e.Properties(), e); err != nil {
		return false, err
	}

	payload, err := r.persistablePayload(e)
	if err != nil {
		return false, err
	}
	if len(payload) == 0 {
		return false, ErrNothingToPersist
	}

	event := &Event{kind: WillAddEntity, repository: r, entity: e, data: payload}
	if !r.events.Trigger(event) {
		return false, nil
	}
	payload = event.Data()

	id, err := r.store.Add(r.collection, payload)
	if err != nil {
		return false, err
	}
	e.setID(id)
	e.props[r.idField] = id

	r.events.Trigger(&Event{kind: DidAddEntity, repository: r, entity: e})
	return true, nil
}

// Update validates the entity and issues a full-row replace keyed by an
// equality criteria on the identity field.
func (r *Repository) Update(e *Entity) error {
	_, err := r.update(e)
	return err
}

// update is Update reporting whether the replace actually reached the
// store; a WillUpdateEntity veto yields (false, nil).
func (r *Repository) update(e *Entity) (bool, error) {
	if err := r.checkOwnership(e); err != nil {
		return false, err
	}
	if !e.HasID() {
		return false, fmt.Errorf("%w: entity has no identity to update", ErrInvalidEntity)
	}
	if err := r.ValidateData(e.Properties(), e); err != nil {
		return false, err
	}

	payload, err := r.persistablePayload(e)
	if err != nil {
		return false, err
	}

	event := &Event{kind: WillUpdateEntity, repository: r, entity: e, data: payload}
	if !r.events.Trigger(event) {
		return false, nil
	}
	payload = event.Data()

	expr, err := r.identityCriteria(e.ID())
	if err != nil {
		return false, err
	}
	if _, err := r.store.Update(r.collection, expr, payload); err != nil {
		return false, err
	}

	r.events.Trigger(&Event{kind: DidUpdateEntity, repository: r, entity: e})
	return true, nil
}

// Delete removes the entity's record and clears its identity back to
// unset, so the entity may be re-added later as a new record.
func (r *Repository) Delete(e *Entity) error {
	if err := r.checkOwnership(e); err != nil {
		return err
	}
	if !e.HasID() {
		return fmt.Errorf("%w: entity has no identity to delete", ErrInvalidEntity)
	}

	if !r.events.Trigger(&Event{kind: WillDeleteEntity, repository: r, entity: e}) {
		return nil
	}

	expr, err := r.identityCriteria(e.ID())
	if err != nil {
		return err
	}
	if _, err := r.store.Delete(r.collection, expr); err != nil {
		return err
	}
	e.clearID()
	delete(e.props, r.idField)

	r.events.Trigger(&Event{kind: DidDeleteEntity, repository: r, entity: e})
	return nil
}

// DeleteMulti removes several entities in one batched store delete.
// Ownership is validated for every entity up front; each entity then
// gets its own cancellable WillDeleteEntity event, and entities whose
// event was vetoed are excluded from the batched criteria and from the
// completion events. Surviving entities have their identity cleared.
func (r *Repository) DeleteMulti(entities []*Entity) error {
	for _, e := range entities {
		if err := r.checkOwnership(e); err != nil {
			return err
		}
	}

	survivors := make([]*Entity, 0, len(entities))
	ids := make([]any, 0, len(entities))
	for _, e := range entities {
		if !e.HasID() {
			continue
		}
		if !r.events.Trigger(&Event{kind: WillDeleteEntity, repository: r, entity: e}) {
			continue
		}
		survivors = append(survivors, e)
		ids = append(ids, e.ID())
	}
	if len(survivors) == 0 {
		return nil
	}

	expr, err := r.coerceCriteria(criteria.In(r.idField, ids))
	if err != nil {
		return err
	}
	if _, err := r.store.Delete(r.collection, expr); err != nil {
		return err
	}

	for _, e := range survivors {
		e.clearID()
		delete(e.props, r.idField)
		r.events.Trigger(&Event{kind: DidDeleteEntity, repository: r, entity: e})
	}
	return nil
}

// DeleteOnCriteria removes every record matching conditions and returns
// the affected count. A WillDeleteOnCriteria veto cancels softly with a
// zero count.
func (r *Repository) DeleteOnCriteria(conditions map[string]any) (int64, error) {
	expr, err := r.BuildCriteria(conditions)
	if err != nil {
		return 0, err
	}

	event := &Event{kind: WillDeleteOnCriteria, repository: r, criteria: expr}
	if !r.events.Trigger(event) {
		return 0, nil
	}
	return r.store.Delete(r.collection, event.Criteria())
}

func (r *Repository) identityCriteria(id any) (*criteria.Expression, error) {
	return r.coerceCriteria(criteria.Eq(r.idField, id))
}
