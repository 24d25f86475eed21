package repomap

import (
	"sync"

	"repomap/criteria"
)

// EventKind names one lifecycle event fired by a repository.
type EventKind string

const (
	WillReadFromStore    EventKind = "will-read-from-store"
	DidReadFromStore     EventKind = "did-read-from-store"
	WillBindDataToEntity EventKind = "will-bind-data-to-entity"
	DidBindDataToEntity  EventKind = "did-bind-data-to-entity"
	WillCreateEntity     EventKind = "will-create-entity"
	DidCreateEntity      EventKind = "did-create-entity"
	WillAddEntity        EventKind = "will-add-entity"
	DidAddEntity         EventKind = "did-add-entity"
	WillUpdateEntity     EventKind = "will-update-entity"
	DidUpdateEntity      EventKind = "did-update-entity"
	WillSaveEntity       EventKind = "will-save-entity"
	DidSaveEntity        EventKind = "did-save-entity"
	WillDeleteEntity     EventKind = "will-delete-entity"
	DidDeleteEntity      EventKind = "did-delete-entity"
	WillDeleteOnCriteria EventKind = "will-delete-on-criteria"
)

// Event is the payload handed to observers. Observers may replace the
// payload through the setters; the repository re-reads it after the
// event fires, so a Will* observer can rewrite criteria or data before
// they reach the store.
type Event struct {
	kind       EventKind
	repository *Repository

	entity   *Entity
	data     map[string]any
	criteria *criteria.Expression
	params   Params
}

func (e *Event) Kind() EventKind         { return e.kind }
func (e *Event) Repository() *Repository { return e.repository }

func (e *Event) Entity() *Entity          { return e.entity }
func (e *Event) SetEntity(entity *Entity) { e.entity = entity }

func (e *Event) Data() map[string]any        { return e.data }
func (e *Event) SetData(data map[string]any) { e.data = data }

func (e *Event) Criteria() *criteria.Expression        { return e.criteria }
func (e *Event) SetCriteria(expr *criteria.Expression) { e.criteria = expr }

func (e *Event) Params() Params { return e.params }

// Observer is one lifecycle callback. Returning false vetoes a Will*
// event: the operation is short-circuited before it reaches the store
// and completes with a neutral result instead of an error.
type Observer func(*Event) bool

// Dispatcher holds the ordered observer lists per event kind. Safe for
// concurrent registration and triggering.
type Dispatcher struct {
	mu        sync.RWMutex
	observers map[EventKind][]Observer
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{observers: make(map[EventKind][]Observer)}
}

// On registers an observer for the given event kind. Observers run in
// registration order.
func (d *Dispatcher) On(kind EventKind, fn Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers[kind] = append(d.observers[kind], fn)
}

// Trigger fires the event and reports whether it was NOT vetoed. The
// first observer returning false stops the chain.
func (d *Dispatcher) Trigger(e *Event) bool {
	d.mu.RLock()
	observers := d.observers[e.kind]
	d.mu.RUnlock()

	for _, fn := range observers {
		if !fn(e) {
			return false
		}
	}
	return true
}
