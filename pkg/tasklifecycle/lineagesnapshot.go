package tasklifecycle

import (
	"encoding/hex"

	"github.com/ardenflux/taskledger/internal/lineagestore"
	"github.com/ardenflux/taskledger/pkg/taskid"
	"github.com/ardenflux/taskledger/pkg/taskspec"
)

// entryToSnapshot converts a retained TaskEntry into the durable record
// lineagestore.Store persists. Pure; safe to call while m.mu is held.
func entryToSnapshot(entry *TaskEntry) (lineagestore.Snapshot, error) {
	blob, err := entry.Spec.MarshalBinary()
	if err != nil {
		return lineagestore.Snapshot{}, err
	}
	ids := make([]string, 0, len(entry.ReconstructableReturnIDs))
	for id := range entry.ReconstructableReturnIDs {
		ids = append(ids, hex.EncodeToString(id[:]))
	}
	return lineagestore.Snapshot{
		TaskID:                   entry.Spec.TaskID().String(),
		SpecBlob:                 blob,
		NumRetriesLeft:           entry.NumRetriesLeft,
		Pending:                  entry.Pending,
		NumSuccessfulExecutions:  entry.NumSuccessfulExecutions,
		ReconstructableReturnIDs: ids,
	}, nil
}

// snapshotToEntry reverses entryToSnapshot for rehydration at startup.
func snapshotToEntry(snap lineagestore.Snapshot) (taskid.TaskID, *TaskEntry, error) {
	var spec taskspec.Spec
	if err := spec.UnmarshalBinary(snap.SpecBlob); err != nil {
		return taskid.TaskID{}, nil, err
	}
	entry := &TaskEntry{
		Spec:                     spec,
		NumRetriesLeft:           snap.NumRetriesLeft,
		Pending:                  snap.Pending,
		NumSuccessfulExecutions:  snap.NumSuccessfulExecutions,
		ReconstructableReturnIDs: make(map[taskid.ObjectID]struct{}, len(snap.ReconstructableReturnIDs)),
	}
	for _, hexID := range snap.ReconstructableReturnIDs {
		raw, err := hex.DecodeString(hexID)
		if err != nil {
			return taskid.TaskID{}, nil, err
		}
		var objID taskid.ObjectID
		copy(objID[:], raw)
		entry.ReconstructableReturnIDs[objID] = struct{}{}
	}
	return spec.TaskID(), entry, nil
}

// rehydrateFromLineageStore reloads every durably-retained task entry at
// startup, so a crash between a retained completion and eventual lineage
// release does not strand an object the rest of the cluster still believes
// is reconstructable. Rehydrated entries are never pending: only the
// completion path's retention branch ever snapshots one, and it always
// does so after clearing Pending.
func (m *Manager) rehydrateFromLineageStore() {
	if m.lineageStore == nil {
		return
	}
	snaps, err := m.lineageStore.LoadAll()
	if err != nil {
		m.logger.Errorf("failed to load lineage snapshots: %v", err)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, snap := range snaps {
		taskID, entry, err := snapshotToEntry(snap)
		if err != nil {
			m.logger.Errorf("failed to decode lineage snapshot %s: %v", snap.TaskID, err)
			continue
		}
		m.table.insert(taskID, entry)
	}
}

// saveLineageSnapshot persists snap, logging rather than failing the
// caller's operation: durability is a best-effort supplement to the
// in-memory table, which remains the source of truth while the process is
// alive.
func (m *Manager) saveLineageSnapshot(snap lineagestore.Snapshot) {
	if err := m.lineageStore.Save(snap); err != nil {
		m.logger.Errorf("failed to persist lineage snapshot for %s: %v", snap.TaskID, err)
	}
}

// deleteLineageSnapshot removes taskID's durable snapshot, if any. Called
// once an entry is erased from the table so a later restart does not
// rehydrate a task whose lineage has already been released or that failed
// terminally.
func (m *Manager) deleteLineageSnapshot(taskID taskid.TaskID) {
	if m.lineageStore == nil {
		return
	}
	if err := m.lineageStore.Delete(taskID.String()); err != nil && err != lineagestore.ErrNotFound {
		m.logger.Errorf("failed to delete lineage snapshot for %s: %v", taskID, err)
	}
}
