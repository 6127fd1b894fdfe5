package caseschema

import (
	"sync"

	"github.com/globaldothealth/linelist/internal/errs"
)

// Observer is notified with the full custom-field list after every registry
// change. Notification is synchronous and in subscription order.
type Observer func(fields []Field)

// Registry holds the runtime-extensible part of the case schema. Core fields
// are fixed; custom fields are appended here by administrative action and
// observed by the document model. Reads are frequent (every record
// construction and validation walks the field list), writes rare.
type Registry struct {
	mu        sync.RWMutex
	custom    []Field
	observers map[int]Observer
	nextObs   int
}

func NewRegistry() *Registry {
	return &Registry{observers: make(map[int]Observer)}
}

// Add registers a custom field. The key must not shadow a core field or an
// existing custom field, the kind must be one of the supported kinds, and the
// key must be a legal identifier in the document representation. Required
// fields must carry a default value so that already-stored records stay valid
// when reloaded.
func (r *Registry) Add(f Field) error {
	if _, err := ParseKind(string(f.Kind)); err != nil {
		return err
	}
	if !legalFieldKey(f.Key) {
		return errs.DependencyFailedf("cannot represent %q as a document key", f.Key)
	}
	if f.Required && f.Default == nil {
		return errs.Preconditionf("required field %q must have a default value", f.Key)
	}
	r.mu.Lock()
	if coreFieldKeys[f.Key] {
		r.mu.Unlock()
		return errs.Conflictf("field %q would shadow a core case field", f.Key)
	}
	for _, existing := range r.custom {
		if existing.Key == f.Key {
			r.mu.Unlock()
			return errs.Conflictf("field %q is already registered", f.Key)
		}
	}
	r.custom = append(r.custom, f)
	fields := append([]Field(nil), r.custom...)
	obs := r.snapshotObservers()
	r.mu.Unlock()
	for _, o := range obs {
		o(fields)
	}
	return nil
}

// Fields returns a copy of the registered custom fields in registration order.
func (r *Registry) Fields() []Field {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Field(nil), r.custom...)
}

// Lookup returns the custom field registered under key, if any.
func (r *Registry) Lookup(key string) (Field, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, f := range r.custom {
		if f.Key == key {
			return f, true
		}
	}
	return Field{}, false
}

// Observe subscribes to registry changes and returns a cancel function.
func (r *Registry) Observe(o Observer) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextObs
	r.nextObs++
	r.observers[id] = o
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.observers, id)
	}
}

func (r *Registry) snapshotObservers() []Observer {
	obs := make([]Observer, 0, len(r.observers))
	for id := 0; id < r.nextObs; id++ {
		if o, ok := r.observers[id]; ok {
			obs = append(obs, o)
		}
	}
	return obs
}
