// Package refcount tracks per-object borrow counts, ownership, pinning,
// and lineage reference counts on behalf of the task lifecycle manager.
// The manager only ever calls this package's ReferenceCounter interface;
// Counter is the concrete, mutex-guarded, in-memory implementation this
// module ships so the engine is exercisable without a real cluster.
package refcount

import (
	"sync"

	"github.com/ardenflux/taskledger/pkg/taskid"
	"github.com/ardenflux/taskledger/pkg/taskspec"
)

// ReferenceCounter is the narrow contract the task lifecycle manager
// depends on. Every method name and argument order matches the
// collaborator contract the manager was specified against.
type ReferenceCounter interface {
	// UpdateSubmittedTaskReferences adds a submitted-task reference for
	// each id in add, and (if remove is non-nil) removes one for each id
	// in remove, returning the ids whose count dropped to zero as a
	// result.
	UpdateSubmittedTaskReferences(add []taskid.ObjectID, remove []taskid.ObjectID) (deleted []taskid.ObjectID)
	UpdateResubmittedTaskReferences(ids []taskid.ObjectID)
	UpdateFinishedTaskReferences(ids []taskid.ObjectID, releaseLineage bool, borrowerAddr taskid.Address, borrowedRefs taskspec.BorrowedRefTable) (deleted []taskid.ObjectID)
	AddOwnedObject(id taskid.ObjectID, innerIDs []taskid.ObjectID, ownerAddr taskid.Address, callSite string, size int64, isReconstructable bool)
	UpdateObjectSize(id taskid.ObjectID, size int64)
	UpdateObjectPinnedAtRaylet(id taskid.ObjectID, node taskid.NodeID)
	GetOwner(id taskid.ObjectID) (taskid.Address, bool)
	AddNestedObjectIds(outer taskid.ObjectID, nested []taskid.ObjectID, ownerAddr taskid.Address)
}

// entry is the per-object bookkeeping record.
type entry struct {
	submittedRefs     int
	lineageRefs       int
	local             bool
	owner             taskid.Address
	hasOwner          bool
	pinnedAt          taskid.NodeID
	pinned            bool
	isReconstructable bool
	size              int64
	nested            []taskid.ObjectID
}

func (e *entry) inScope() bool {
	return e.submittedRefs > 0 || e.lineageRefs > 0 || e.local
}

// Counter is a mutex-guarded, in-memory ReferenceCounter.
type Counter struct {
	mu      sync.Mutex
	entries map[taskid.ObjectID]*entry
}

// New returns an empty Counter.
func New() *Counter {
	return &Counter{entries: make(map[taskid.ObjectID]*entry)}
}

func (c *Counter) getOrCreate(id taskid.ObjectID) *entry {
	e, ok := c.entries[id]
	if !ok {
		e = &entry{}
		c.entries[id] = e
	}
	return e
}

// collectAndPrune removes any entry that has fallen out of scope and
// appends its id to deleted. Must be called with mu held.
func (c *Counter) collectAndPrune(ids []taskid.ObjectID, deleted *[]taskid.ObjectID) {
	for _, id := range ids {
		e, ok := c.entries[id]
		if !ok || e.inScope() {
			continue
		}
		delete(c.entries, id)
		*deleted = append(*deleted, id)
	}
}

func (c *Counter) UpdateSubmittedTaskReferences(add, remove []taskid.ObjectID) []taskid.ObjectID {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range add {
		c.getOrCreate(id).submittedRefs++
	}
	var deleted []taskid.ObjectID
	for _, id := range remove {
		if e, ok := c.entries[id]; ok && e.submittedRefs > 0 {
			e.submittedRefs--
		}
	}
	c.collectAndPrune(remove, &deleted)
	return deleted
}

func (c *Counter) UpdateResubmittedTaskReferences(ids []taskid.ObjectID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		c.getOrCreate(id).submittedRefs++
	}
}

func (c *Counter) UpdateFinishedTaskReferences(ids []taskid.ObjectID, releaseLineage bool, _ taskid.Address, _ taskspec.BorrowedRefTable) []taskid.ObjectID {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		if e, ok := c.entries[id]; ok && e.submittedRefs > 0 {
			e.submittedRefs--
		}
	}
	if releaseLineage {
		for _, id := range ids {
			if e, ok := c.entries[id]; ok && e.lineageRefs > 0 {
				e.lineageRefs--
			}
		}
	}
	var deleted []taskid.ObjectID
	c.collectAndPrune(ids, &deleted)
	return deleted
}

func (c *Counter) AddOwnedObject(id taskid.ObjectID, innerIDs []taskid.ObjectID, ownerAddr taskid.Address, _ string, size int64, isReconstructable bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.getOrCreate(id)
	e.owner = ownerAddr
	e.hasOwner = true
	e.size = size
	e.isReconstructable = isReconstructable
	e.local = true
	e.lineageRefs++
	for _, inner := range innerIDs {
		c.getOrCreate(inner).submittedRefs++
	}
}

func (c *Counter) UpdateObjectSize(id taskid.ObjectID, size int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.getOrCreate(id).size = size
}

func (c *Counter) UpdateObjectPinnedAtRaylet(id taskid.ObjectID, node taskid.NodeID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.getOrCreate(id)
	e.pinnedAt = node
	e.pinned = true
}

func (c *Counter) GetOwner(id taskid.ObjectID) (taskid.Address, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok || !e.hasOwner {
		return taskid.Address{}, false
	}
	return e.owner, true
}

func (c *Counter) AddNestedObjectIds(_ taskid.ObjectID, nested []taskid.ObjectID, ownerAddr taskid.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range nested {
		e := c.getOrCreate(id)
		e.owner = ownerAddr
		e.hasOwner = true
		e.submittedRefs++
	}
}

// Snapshot returns test/debug-only bookkeeping for id: whether it is
// pinned, and if so where, plus whether it is currently marked
// reconstructable. It is not part of the ReferenceCounter contract.
func (c *Counter) Snapshot(id taskid.ObjectID) (pinnedAt taskid.NodeID, pinned bool, reconstructable bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return taskid.NodeID{}, false, false
	}
	return e.pinnedAt, e.pinned, e.isReconstructable
}
