package tasklifecycle

import (
	"testing"

	"github.com/ardenflux/taskledger/internal/lineagestore"
	"github.com/ardenflux/taskledger/pkg/memstore"
	"github.com/ardenflux/taskledger/pkg/plasma"
	"github.com/ardenflux/taskledger/pkg/refcount"
	"github.com/ardenflux/taskledger/pkg/taskid"
	"github.com/ardenflux/taskledger/pkg/taskspec"
)

// guard fails the test the instant any wrapped collaborator method runs
// while m.mu is already held by the call that reached it. TryLock never
// blocks, so a locking-discipline regression here surfaces as a failed
// assertion instead of a hung test.
type guard struct {
	t *testing.T
	m *Manager
}

func (g *guard) assertUnlocked(collaborator string) {
	g.t.Helper()
	if !g.m.mu.TryLock() {
		g.t.Errorf("%s called while the manager mutex was held", collaborator)
		return
	}
	g.m.mu.Unlock()
}

type guardedRefCounter struct {
	*guard
	refcount.ReferenceCounter
}

func (g *guardedRefCounter) UpdateSubmittedTaskReferences(add, remove []taskid.ObjectID) []taskid.ObjectID {
	g.assertUnlocked("ReferenceCounter.UpdateSubmittedTaskReferences")
	return g.ReferenceCounter.UpdateSubmittedTaskReferences(add, remove)
}

func (g *guardedRefCounter) UpdateResubmittedTaskReferences(ids []taskid.ObjectID) {
	g.assertUnlocked("ReferenceCounter.UpdateResubmittedTaskReferences")
	g.ReferenceCounter.UpdateResubmittedTaskReferences(ids)
}

func (g *guardedRefCounter) UpdateFinishedTaskReferences(ids []taskid.ObjectID, releaseLineage bool, borrowerAddr taskid.Address, borrowedRefs taskspec.BorrowedRefTable) []taskid.ObjectID {
	g.assertUnlocked("ReferenceCounter.UpdateFinishedTaskReferences")
	return g.ReferenceCounter.UpdateFinishedTaskReferences(ids, releaseLineage, borrowerAddr, borrowedRefs)
}

func (g *guardedRefCounter) AddOwnedObject(id taskid.ObjectID, innerIDs []taskid.ObjectID, ownerAddr taskid.Address, callSite string, size int64, isReconstructable bool) {
	g.assertUnlocked("ReferenceCounter.AddOwnedObject")
	g.ReferenceCounter.AddOwnedObject(id, innerIDs, ownerAddr, callSite, size, isReconstructable)
}

func (g *guardedRefCounter) UpdateObjectSize(id taskid.ObjectID, size int64) {
	g.assertUnlocked("ReferenceCounter.UpdateObjectSize")
	g.ReferenceCounter.UpdateObjectSize(id, size)
}

func (g *guardedRefCounter) UpdateObjectPinnedAtRaylet(id taskid.ObjectID, node taskid.NodeID) {
	g.assertUnlocked("ReferenceCounter.UpdateObjectPinnedAtRaylet")
	g.ReferenceCounter.UpdateObjectPinnedAtRaylet(id, node)
}

func (g *guardedRefCounter) GetOwner(id taskid.ObjectID) (taskid.Address, bool) {
	g.assertUnlocked("ReferenceCounter.GetOwner")
	return g.ReferenceCounter.GetOwner(id)
}

func (g *guardedRefCounter) AddNestedObjectIds(outer taskid.ObjectID, nested []taskid.ObjectID, ownerAddr taskid.Address) {
	g.assertUnlocked("ReferenceCounter.AddNestedObjectIds")
	g.ReferenceCounter.AddNestedObjectIds(outer, nested, ownerAddr)
}

type guardedStore struct {
	*guard
	memstore.Store
}

func (g *guardedStore) Put(obj memstore.Object, id taskid.ObjectID) bool {
	g.assertUnlocked("InMemoryStore.Put")
	return g.Store.Put(obj, id)
}

func (g *guardedStore) Delete(ids []taskid.ObjectID) {
	g.assertUnlocked("InMemoryStore.Delete")
	g.Store.Delete(ids)
}

func (g *guardedStore) Get(id taskid.ObjectID) (memstore.Object, bool) {
	g.assertUnlocked("InMemoryStore.Get")
	return g.Store.Get(id)
}

type guardedLineageStore struct {
	*guard
	lineagestore.Store
}

func (g *guardedLineageStore) Save(s lineagestore.Snapshot) error {
	g.assertUnlocked("LineageStore.Save")
	return g.Store.Save(s)
}

func (g *guardedLineageStore) Delete(taskID string) error {
	g.assertUnlocked("LineageStore.Delete")
	return g.Store.Delete(taskID)
}

func (g *guardedLineageStore) LoadAll() ([]lineagestore.Snapshot, error) {
	g.assertUnlocked("LineageStore.LoadAll")
	return g.Store.LoadAll()
}

// TestManager_NoCollaboratorCallWhileLocked drives AddPendingTask,
// CompletePendingTask (both the retained and non-retained branches),
// PendingTaskFailed (both the retry and terminal branches), and
// RemoveLineageReference through a Manager whose every collaborator —
// reference counter, in-memory store, plasma callbacks, retry callback,
// and lineage store — fails the test the moment it is invoked while the
// manager's own mutex is held. The locking discipline is correct, so this
// is expected to pass; it exists to catch a future regression.
func TestManager_NoCollaboratorCallWhileLocked(t *testing.T) {
	g := &guard{t: t}
	refs := &guardedRefCounter{guard: g, ReferenceCounter: refcount.New()}
	store := &guardedStore{guard: g, Store: memstore.New()}
	ls := &guardedLineageStore{guard: g, Store: lineagestore.NewMockStore()}
	fake := plasma.NewFakeClient()

	m := &Manager{
		table:         newTaskTable(),
		refCounter:    refs,
		inMemoryStore: store,
		putInPlasma: func(obj memstore.Object, id taskid.ObjectID) {
			g.assertUnlocked("PutInLocalPlasma")
			fake.PutInLocalPlasma(obj, id)
		},
		reconstruct: func(id taskid.ObjectID) {
			g.assertUnlocked("ReconstructObject")
			fake.ReconstructObject(id)
		},
		checkNodeAlive: func(node taskid.NodeID) bool {
			g.assertUnlocked("CheckNodeAlive")
			return fake.CheckNodeAlive(node)
		},
		logger:       noopLogger{},
		lineageStore: ls,
	}
	m.retryTask = func(spec taskspec.Spec, delay bool) {
		g.assertUnlocked("RetryTask")
		m.CompletePendingTask(spec.TaskID(), taskspec.Reply{
			ReturnObjects: []taskspec.ReturnObject{{ObjectID: spec.ReturnID(0), Data: []byte("ok")}},
		}, taskid.Address{})
	}
	g.m = m
	m.rehydrateFromLineageStore()

	// Retained completion: exercises the plasma-return, snapshot-save path.
	retained := taskspec.New(taskid.NewTaskID(), taskid.Nil, nil, 1, taskspec.Options{})
	m.AddPendingTask(taskid.Address{}, retained, "", -1)
	m.CompletePendingTask(retained.TaskID(), taskspec.Reply{
		ReturnObjects: []taskspec.ReturnObject{{ObjectID: retained.ReturnID(0), InPlasma: true}},
	}, taskid.Address{NodeID: taskid.NodeID{1}})
	m.RemoveLineageReference(retained.ReturnID(0))

	// Direct completion: exercises the non-retained, snapshot-delete path.
	direct := taskspec.New(taskid.NewTaskID(), taskid.Nil, nil, 1, taskspec.Options{})
	m.AddPendingTask(taskid.Address{}, direct, "", 0)
	m.CompletePendingTask(direct.TaskID(), taskspec.Reply{
		ReturnObjects: []taskspec.ReturnObject{{ObjectID: direct.ReturnID(0), Data: []byte("ok")}},
	}, taskid.Address{})

	// Retry path: exercises RetryTaskIfPossible's retry callback.
	retrying := taskspec.New(taskid.NewTaskID(), taskid.Nil, nil, 1, taskspec.Options{})
	m.AddPendingTask(taskid.Address{}, retrying, "", 1)
	m.PendingTaskFailed(retrying.TaskID(), WorkerDied, nil, false)

	// Terminal failure: exercises MarkPendingTaskFailed's store writes.
	failing := taskspec.New(taskid.NewTaskID(), taskid.Nil, nil, 1, taskspec.Options{})
	m.AddPendingTask(taskid.Address{}, failing, "", 0)
	m.PendingTaskFailed(failing.TaskID(), WorkerDied, nil, true)

	m.DrainAndShutdown(func() {})
}
