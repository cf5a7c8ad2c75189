package lineagestore

import "github.com/pkg/errors"

// mockStore implements Store entirely in memory, in the shape of a single
// uncommitted transaction: Begin returns the same instance, and Commit
// just flips a flag so callers exercise the same Begin/Commit/Rollback
// discipline the Postgres-backed implementation requires.
type mockStore struct {
	snapshots map[string]Snapshot
	committed bool
}

// NewMockStore returns an in-memory Store for tests.
func NewMockStore() Store {
	return &mockStore{snapshots: make(map[string]Snapshot)}
}

func (m *mockStore) Begin() (Store, error) {
	return m, nil
}

func (m *mockStore) Commit() error {
	if m.committed {
		return errors.New("transaction already committed")
	}
	m.committed = true
	return nil
}

func (m *mockStore) Rollback() error {
	return nil
}

func (m *mockStore) Close() error {
	return nil
}

func (m *mockStore) Save(s Snapshot) error {
	if m.committed {
		return errors.New("transaction already committed")
	}
	cp := s
	cp.ReconstructableReturnIDs = append([]string(nil), s.ReconstructableReturnIDs...)
	cp.SpecBlob = append([]byte(nil), s.SpecBlob...)
	m.snapshots[s.TaskID] = cp
	return nil
}

func (m *mockStore) Load(taskID string) (Snapshot, error) {
	s, ok := m.snapshots[taskID]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return s, nil
}

func (m *mockStore) Delete(taskID string) error {
	if m.committed {
		return errors.New("transaction already committed")
	}
	delete(m.snapshots, taskID)
	return nil
}

func (m *mockStore) LoadAll() ([]Snapshot, error) {
	out := make([]Snapshot, 0, len(m.snapshots))
	for _, s := range m.snapshots {
		out = append(out, s)
	}
	return out, nil
}
