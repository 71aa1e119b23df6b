// Package pipelinectx implements the per-command execution context: a
// typed, thread-safe, heterogeneous key/value store that travels alongside
// a Command through the middleware chain, plus its fixed cells (request id,
// user id, correlation id, start time, metrics, metadata) and event
// emission surface.
//
// The backing map is keyed by nominal key types, following the standard
// library's context.Value convention generalized with generics: Key[T]
// carries no runtime state beyond identity, so Get[T] can recover T without
// a caller-side type assertion.
package pipelinectx

import (
	"maps"
	"sync"
	"time"
)

// Key identifies a typed slot in a Store. Two keys are the same slot iff
// they compare equal; the zero value of a distinct Key[T] type is typically
// used as a package-level sentinel, mirroring core/command's unexported
// empty-struct context keys but made generic and exported for reuse across
// middleware packages.
type Key[T any] struct {
	name string
}

// NewKey creates a typed key. name is part of the key's identity: two keys
// with the same T and the same name address the same slot, and String
// reports it for diagnostics.
func NewKey[T any](name string) Key[T] {
	return Key[T]{name: name}
}

func (k Key[T]) String() string { return k.name }

type entry struct {
	value any
}

// EventEmitter is the minimal surface a Store needs to forward emitted
// events to an EventBus without importing it (avoids an import cycle and
// keeps ContextStore's contract to "an emitter", per spec).
type EventEmitter interface {
	Emit(name string, payload any)
}

// Store is the mutable, execution-scoped context described by spec §3/§4.1.
// A single mutex protects the backing map; every read and write is a
// critical section bounded by the size of the single affected entry.
type Store struct {
	mu sync.Mutex
	kv map[any]entry

	RequestID     string
	UserID        string
	CorrelationID string
	StartTime     time.Time
	Metrics       map[string]any
	Metadata      map[string]any
	Emitter       EventEmitter
}

// New creates an empty Store stamped with the current time as StartTime.
func New() *Store {
	return &Store{
		kv:        make(map[any]entry),
		StartTime: time.Now(),
		Metrics:   make(map[string]any),
		Metadata:  make(map[string]any),
	}
}

// Get returns the value stored under k, or the zero value of T and false if
// absent or explicitly removed.
func Get[T any](s *Store, k Key[T]) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero T
	e, ok := s.kv[k]
	if !ok {
		return zero, false
	}
	v, ok := e.value.(T)
	if !ok {
		return zero, false
	}
	return v, true
}

// Set stores value under k. Per spec, callers that want "set(k, nil)
// removes" semantics for pointer/interface T should call Remove explicitly;
// Go's generic zero value is not reliably distinguishable from "absent" for
// all T, so Set always installs the value and Remove is the removal path.
func Set[T any](s *Store, k Key[T], value T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv[k] = entry{value: value}
}

// Contains reports whether k has a live entry.
func Contains[T any](s *Store, k Key[T]) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.kv[k]
	return ok
}

// Remove deletes k's entry, if any.
func Remove[T any](s *Store, k Key[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.kv, k)
}

// Update runs fn under the store's lock as a single batched critical
// section. fn receives no access to the backing map, and it must not call
// back into the same Store: the typed helpers take the same lock, so doing
// so deadlocks.
func (s *Store) Update(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// Snapshot takes an atomic point-in-time copy of the backing map. Because
// the backing map is keyed by opaque nominal key values and holds opaque
// values, decoding a snapshot into a serializable form requires caller
// supplied decoders — the store performs no coding itself.
func (s *Store) Snapshot() map[any]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[any]any, len(s.kv))
	for k, e := range s.kv {
		out[k] = e.value
	}
	return out
}

// Fork creates an independent Store pre-populated with a shallow copy of
// the parent's map and fixed cells. Subsequent mutations on the fork (or
// the parent) do not affect the other; reference-typed values stored in
// either map remain shared, per spec's documented shallow-copy semantics
// (see DESIGN.md for the Open Question this leaves unresolved).
func (s *Store) Fork() *Store {
	s.mu.Lock()
	defer s.mu.Unlock()

	child := &Store{
		kv:            make(map[any]entry, len(s.kv)),
		RequestID:     s.RequestID,
		UserID:        s.UserID,
		CorrelationID: s.CorrelationID,
		StartTime:     s.StartTime,
		Metrics:       maps.Clone(s.Metrics),
		Metadata:      maps.Clone(s.Metadata),
		Emitter:       s.Emitter,
	}
	for k, e := range s.kv {
		child.kv[k] = e
	}
	return child
}

// Clear removes every backing-map entry. Fixed, metadata-derived cells
// (RequestID, UserID, CorrelationID, StartTime, Metadata) survive; Metrics
// is reset to empty since it is accumulation state, not identity.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv = make(map[any]entry)
	s.Metrics = make(map[string]any)
}

// Emit forwards an event to the configured emitter, if any. It is a no-op
// when no Emitter has been attached, so middleware can call it
// unconditionally.
func (s *Store) Emit(name string, payload any) {
	if s.Emitter == nil {
		return
	}
	s.Emitter.Emit(name, payload)
}
