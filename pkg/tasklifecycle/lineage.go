package tasklifecycle

import (
	"github.com/ardenflux/taskledger/pkg/taskid"
	"github.com/ardenflux/taskledger/pkg/taskspec"
)

// OnTaskDependenciesInlined is called when the scheduler inlines a
// by-reference argument: responsibility for its borrow transfers from the
// inlined id to whatever ids are contained in the now-inlined value.
func (m *Manager) OnTaskDependenciesInlined(inlinedDepIDs, containedIDs []taskid.ObjectID) {
	deleted := m.refCounter.UpdateSubmittedTaskReferences(containedIDs, inlinedDepIDs)
	m.inMemoryStore.Delete(deleted)
}

// removeFinishedTaskReferences releases the reference counter's hold on
// spec's plasma dependencies once the task that created them has finished
// (successfully, terminally, or is merely no longer pending a first
// reply), deleting from the in-memory store whatever the reference
// counter reports dropped to zero as a result.
func (m *Manager) removeFinishedTaskReferences(spec taskspec.Spec, releaseLineage bool, borrowerAddr taskid.Address, borrowedRefs taskspec.BorrowedRefTable) {
	plasmaDeps := spec.Dependencies()
	deleted := m.refCounter.UpdateFinishedTaskReferences(plasmaDeps, releaseLineage, borrowerAddr, borrowedRefs)
	m.inMemoryStore.Delete(deleted)
}

// RemoveLineageReference is called when objectID leaves scope everywhere
// in the cluster. It drops objectID from its producing task's retained
// return set; if that empties the set and the task is not pending, the
// task can no longer be retried or reconstructed, so its entry is erased
// and its own argument ids are appended to releasedObjects for the caller
// to cascade the release upstream.
func (m *Manager) RemoveLineageReference(objectID taskid.ObjectID) (releasedObjects []taskid.ObjectID) {
	m.mu.Lock()

	taskID := objectID.TaskID()
	entry, ok := m.table.get(taskID)
	if !ok {
		m.mu.Unlock()
		m.logger.Debugf("no lineage for object %s", objectID)
		return nil
	}

	m.logger.Debugf("plasma object %s out of scope", objectID)
	delete(entry.ReconstructableReturnIDs, objectID)
	m.logger.Debugf("task %s now has %d plasma returns in scope", taskID, len(entry.ReconstructableReturnIDs))

	erased := len(entry.ReconstructableReturnIDs) == 0 && !entry.Pending
	if erased {
		for i := 0; i < entry.Spec.NumArgs(); i++ {
			arg := entry.Spec.Arg(i)
			if arg.IsByRef() {
				releasedObjects = append(releasedObjects, arg.ID())
			} else {
				for _, ref := range arg.InlinedRefs() {
					releasedObjects = append(releasedObjects, ref.ObjectID)
				}
			}
		}
		m.table.erase(taskID)
	}
	m.mu.Unlock()

	if erased {
		m.deleteLineageSnapshot(taskID)
	}
	return releasedObjects
}
