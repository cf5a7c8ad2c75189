package tasklifecycle

import (
	"github.com/ardenflux/taskledger/internal/lineagestore"
	"github.com/ardenflux/taskledger/pkg/memstore"
	"github.com/ardenflux/taskledger/pkg/taskid"
	"github.com/ardenflux/taskledger/pkg/taskspec"
)

// CompletePendingTask processes a task reply: it routes each return
// object into either the shared plasma store or this worker's in-memory
// store, updates the reference counter, decides whether the task spec
// must be retained for possible reconstruction, and releases lineage
// references for anything that does not need to be retained.
func (m *Manager) CompletePendingTask(taskID taskid.TaskID, reply taskspec.Reply, workerAddr taskid.Address) {
	m.logger.Debugf("Completing task %s", taskID)

	// Objects that were stored in plasma upon the first successful
	// execution of this task will be stored in plasma again on
	// re-execution, even if this reply returns them directly, so that any
	// reference holders already scheduled at a raylet can still fetch
	// them. Deliberately only armed from the second execution onward: the
	// very first execution never triggers plasma re-placement even if the
	// scheduler eagerly placed some return in plasma. Intentional, not an
	// oversight.
	storeInPlasmaIDs := map[taskid.ObjectID]struct{}{}
	m.mu.Lock()
	entry, ok := m.table.get(taskID)
	if !ok {
		m.mu.Unlock()
		m.logger.Panicf("tried to complete task that was not pending: %s", taskID)
	}
	if entry.NumSuccessfulExecutions > 0 {
		for id := range entry.ReconstructableReturnIDs {
			storeInPlasmaIDs[id] = struct{}{}
		}
	}
	m.mu.Unlock()

	var directReturnIDs []taskid.ObjectID
	for _, ret := range reply.ReturnObjects {
		m.refCounter.UpdateObjectSize(ret.ObjectID, ret.Size)
		m.logger.Debugf("task return object %s has size %d", ret.ObjectID, ret.Size)

		if ret.InPlasma {
			if m.checkNodeAlive(workerAddr.NodeID) {
				m.refCounter.UpdateObjectPinnedAtRaylet(ret.ObjectID, workerAddr.NodeID)
				// This is a placeholder marker, not a real Put; a default
				// store never rejects it, so the bool result is unchecked.
				m.inMemoryStore.Put(memstore.ErrorObject(memstore.ObjectInPlasma), ret.ObjectID)
			} else {
				m.logger.Debugf("task %s returned object %s in plasma on a dead node, attempting to recover", taskID, ret.ObjectID)
				m.reconstruct(ret.ObjectID)
			}
		} else {
			// If a direct object was promoted to plasma, we do not record
			// which node it was pinned at, so we cannot reconstruct it if
			// the plasma copy is lost. That is fine: the pinned copy lives
			// on this node, so it fate-shares with this node.
			obj := memstore.Object{
				Data:       ret.Data,
				Metadata:   ret.Metadata,
				NestedRefs: ret.NestedInlinedRefs,
			}
			if _, storeInPlasma := storeInPlasmaIDs[ret.ObjectID]; storeInPlasma {
				m.putInPlasma(obj, ret.ObjectID)
			} else if m.inMemoryStore.Put(obj, ret.ObjectID) {
				directReturnIDs = append(directReturnIDs, ret.ObjectID)
			}
		}

		if len(ret.NestedInlinedRefs) > 0 {
			if ownerAddr, hasOwner := m.refCounter.GetOwner(ret.ObjectID); hasOwner {
				nestedIDs := make([]taskid.ObjectID, len(ret.NestedInlinedRefs))
				for i, nested := range ret.NestedInlinedRefs {
					nestedIDs[i] = nested.ObjectID
				}
				m.refCounter.AddNestedObjectIds(ret.ObjectID, nestedIDs, ownerAddr)
			}
		}
	}

	var spec taskspec.Spec
	releaseLineage := true
	m.mu.Lock()
	entry, ok = m.table.get(taskID)
	if !ok {
		m.mu.Unlock()
		m.logger.Panicf("tried to complete task that was not pending: %s", taskID)
	}
	spec = entry.Spec

	for _, directID := range directReturnIDs {
		delete(entry.ReconstructableReturnIDs, directID)
	}
	entry.NumSuccessfulExecutions++
	entry.Pending = false
	m.numPendingTasks--

	// A finished task can only be re-executed if it has retries left and
	// returned at least one object that is still in scope and stored in
	// plasma.
	taskRetryable := entry.retryable() && len(entry.ReconstructableReturnIDs) > 0
	var snapshotToSave *lineagestore.Snapshot
	if taskRetryable {
		releaseLineage = false
		if m.lineageStore != nil {
			if snap, err := entryToSnapshot(entry); err != nil {
				m.logger.Errorf("failed to encode lineage snapshot for %s: %v", taskID, err)
			} else {
				snapshotToSave = &snap
			}
		}
	} else {
		m.table.erase(taskID)
	}
	m.mu.Unlock()

	if snapshotToSave != nil {
		m.saveLineageSnapshot(*snapshotToSave)
	} else if !taskRetryable {
		m.deleteLineageSnapshot(taskID)
	}

	m.removeFinishedTaskReferences(spec, releaseLineage, workerAddr, reply.BorrowedRefs)
	m.ShutdownIfNeeded()
}
