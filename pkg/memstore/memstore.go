// Package memstore is the per-worker local object store keyed by object
// id. It backs both direct task returns and the placeholder objects the
// completion engine writes for values pinned in the shared plasma store.
package memstore

import (
	"sync"

	"github.com/ardenflux/taskledger/pkg/taskid"
	"github.com/ardenflux/taskledger/pkg/taskspec"
)

// ErrorType classifies why an object holds an error marker instead of a
// value. The zero value means "no error".
type ErrorType int

const (
	NoError ErrorType = iota
	ObjectInPlasma
	WorkerDied
	ActorDied
	TaskCancelled
	ObjectUnreconstructable
	CreationTaskError
)

// Object is a value (or error marker) held in the store.
type Object struct {
	Data        []byte
	Metadata    []byte
	NestedRefs  []taskspec.ObjectReference
	ErrorType   ErrorType
}

// IsError reports whether this object is an error marker rather than a
// real value.
func (o Object) IsError() bool { return o.ErrorType != NoError }

// ErrorObject builds a bare error marker with no payload.
func ErrorObject(t ErrorType) Object {
	return Object{ErrorType: t}
}

// ErrorObjectWithPayload builds an error marker that also carries a
// serialized payload (used for creation-task exceptions).
func ErrorObjectWithPayload(t ErrorType, data []byte) Object {
	return Object{ErrorType: t, Data: data}
}

// Store is the interface the task lifecycle manager depends on. It is
// deliberately narrow: Put and Delete are the only operations the
// manager needs, matching the "In-Memory Store" collaborator contract.
type Store interface {
	// Put stores an object under id. It returns false if the store chose
	// not to keep it (for instance, a waiter-gated store with nobody
	// currently waiting on id) — the id must then not be treated as
	// materialized locally.
	Put(obj Object, id taskid.ObjectID) bool
	// Delete removes the given ids, if present. Deleting an absent id is
	// a no-op.
	Delete(ids []taskid.ObjectID)
	// Get returns the object stored at id, if any.
	Get(id taskid.ObjectID) (Object, bool)
}

// InMemory is a mutex-guarded map implementation of Store. When built
// with waiterGated=true, Put drops objects nobody has registered a
// waiter for (via MarkWaiting) — this exercises the same "the store may
// choose to drop it" contract the completion engine tests depend on.
type InMemory struct {
	mu           sync.Mutex
	objects      map[taskid.ObjectID]Object
	waiters      map[taskid.ObjectID]int
	waiterGated  bool
}

// New returns an InMemory store that always accepts a Put.
func New() *InMemory {
	return &InMemory{
		objects: make(map[taskid.ObjectID]Object),
		waiters: make(map[taskid.ObjectID]int),
	}
}

// NewWaiterGated returns an InMemory store that only accepts a Put for an
// id that currently has at least one registered waiter (see MarkWaiting).
func NewWaiterGated() *InMemory {
	s := New()
	s.waiterGated = true
	return s
}

// MarkWaiting registers interest in id, so a subsequent Put on a
// waiter-gated store is accepted. Real workers register a waiter when a
// caller blocks on ray.get(); tests use this to opt individual ids into
// "will be accepted".
func (s *InMemory) MarkWaiting(id taskid.ObjectID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waiters[id]++
}

func (s *InMemory) Put(obj Object, id taskid.ObjectID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.waiterGated && s.waiters[id] == 0 {
		return false
	}
	s.objects[id] = obj
	return true
}

func (s *InMemory) Delete(ids []taskid.ObjectID) {
	if len(ids) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.objects, id)
		delete(s.waiters, id)
	}
}

func (s *InMemory) Get(id taskid.ObjectID) (Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[id]
	return obj, ok
}

// Len reports how many objects are currently stored. Test-only helper.
func (s *InMemory) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}
