// Package lineagestore persists task-table snapshots to durable storage so
// a worker that crashes mid-lineage can repopulate its task table on
// restart instead of losing the ability to reconstruct lost objects. This
// is an addition beyond the in-memory task table: the table itself never
// depends on this package, callers snapshot to it explicitly at the
// points where they'd otherwise lose lineage on a crash.
package lineagestore

import "errors"

// ErrNotFound is returned by Load when no snapshot exists for the given id.
var ErrNotFound = errors.New("lineagestore: snapshot not found")

// Snapshot is a durable record of one task table entry. SpecBlob is an
// opaque, caller-serialized encoding of the task spec; this package never
// inspects it.
type Snapshot struct {
	TaskID                   string
	SpecBlob                 []byte
	NumRetriesLeft           int
	Pending                  bool
	NumSuccessfulExecutions  int
	ReconstructableReturnIDs []string
}

// Store is the durability contract the task lifecycle engine's crash-
// recovery path depends on.
type Store interface {
	Save(s Snapshot) error
	Load(taskID string) (Snapshot, error)
	Delete(taskID string) error
	LoadAll() ([]Snapshot, error)

	Begin() (Store, error)
	Commit() error
	Rollback() error
	Close() error
}
