package tasklifecycle

import (
	"github.com/ardenflux/taskledger/pkg/taskid"
	"github.com/ardenflux/taskledger/pkg/taskspec"
)

// unboundedRetries is the sentinel num_retries_left value meaning "retry
// forever". It is kept distinct from any finite count rather than folded
// into a tagged Finite/Unbounded variant, per the design note that the
// sentinel is semantically load-bearing and worth preserving as-is.
const unboundedRetries = -1

// TaskEntry is the per-task record held in the task table.
type TaskEntry struct {
	Spec                    taskspec.Spec
	NumRetriesLeft          int
	Pending                 bool
	NumSuccessfulExecutions int
	ReconstructableReturnIDs map[taskid.ObjectID]struct{}
}

func newTaskEntry(spec taskspec.Spec, maxRetries int) *TaskEntry {
	return &TaskEntry{
		Spec:                     spec,
		NumRetriesLeft:           maxRetries,
		Pending:                  true,
		ReconstructableReturnIDs: make(map[taskid.ObjectID]struct{}),
	}
}

// decrementRetries moves a positive count down by one, leaves a zero count
// at zero, and never changes -1 (unbounded).
func (e *TaskEntry) decrementRetries() {
	if e.NumRetriesLeft > 0 {
		e.NumRetriesLeft--
	}
}

// retryable reports whether another execution could still be attempted:
// either there are retries left, or the count is unbounded.
func (e *TaskEntry) retryable() bool {
	return e.NumRetriesLeft != 0
}

// taskTable is the in-memory map from task id to TaskEntry. It carries no
// locking of its own: the Manager's single mutex serializes every access,
// so the table is never a shared resource in its own right.
type taskTable struct {
	entries map[taskid.TaskID]*TaskEntry
}

func newTaskTable() *taskTable {
	return &taskTable{entries: make(map[taskid.TaskID]*TaskEntry)}
}

func (t *taskTable) get(id taskid.TaskID) (*TaskEntry, bool) {
	e, ok := t.entries[id]
	return e, ok
}

func (t *taskTable) insert(id taskid.TaskID, e *TaskEntry) bool {
	if _, exists := t.entries[id]; exists {
		return false
	}
	t.entries[id] = e
	return true
}

func (t *taskTable) erase(id taskid.TaskID) {
	delete(t.entries, id)
}

func (t *taskTable) size() int {
	return len(t.entries)
}
