// Package tasklifecycle is the task bookkeeping and lineage/retry engine
// of a distributed task-execution worker. It tracks every in-flight task
// from submission through completion or terminal failure, coordinates
// retries, maintains the lineage required to reconstruct lost objects,
// and drives a reference-counting subsystem that governs distributed
// object lifetime. See SPEC_FULL.md for the full component breakdown.
package tasklifecycle

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/ardenflux/taskledger/internal/lineagestore"
	"github.com/ardenflux/taskledger/pkg/memstore"
	"github.com/ardenflux/taskledger/pkg/plasma"
	"github.com/ardenflux/taskledger/pkg/refcount"
	"github.com/ardenflux/taskledger/pkg/taskid"
	"github.com/ardenflux/taskledger/pkg/taskspec"
)

// Logger is the logging interface the manager depends on. *logrus.Logger
// (internal/log.GetLogger()) satisfies it.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Panicf(format string, args ...interface{})
}

// RetryTaskFunc resubmits spec for execution. delay selects between an
// immediate resubmission (false, used by ResubmitTask's no-op-avoiding
// path) and the caller's bounded-backoff retry schedule (true, used by
// RetryTaskIfPossible).
type RetryTaskFunc func(spec taskspec.Spec, delay bool)

// ErrTaskSpecMissing is returned by ResubmitTask when the task id is not
// present in the table.
var ErrTaskSpecMissing = errors.New("task spec missing")

// Manager is the facade every external caller addresses: the task table
// plus the completion, retry, lineage, and drain engines that operate on
// it. All table mutations are serialized by mu; no collaborator call
// (reference counter, object store, plasma callbacks, retry callback,
// shutdown hook) is ever made while mu is held.
type Manager struct {
	mu    sync.Mutex
	table *taskTable

	numPendingTasks int

	refCounter      refcount.ReferenceCounter
	inMemoryStore   memstore.Store
	putInPlasma     plasma.PutInLocalPlasmaFunc
	reconstruct     plasma.ReconstructObjectFunc
	checkNodeAlive  plasma.CheckNodeAliveFunc
	retryTask       RetryTaskFunc
	logger          Logger
	lineageStore    lineagestore.Store

	shutdownHook func()

	throttle failureLogThrottle
}

// Config bundles the collaborators a Manager is constructed with.
type Config struct {
	ReferenceCounter    refcount.ReferenceCounter
	InMemoryStore       memstore.Store
	PutInLocalPlasma    plasma.PutInLocalPlasmaFunc
	ReconstructObject   plasma.ReconstructObjectFunc
	CheckNodeAlive      plasma.CheckNodeAliveFunc
	RetryTask           RetryTaskFunc
	Logger              Logger

	// LineageStore durably persists retained task entries so they survive
	// a worker restart. Optional: a nil LineageStore leaves retained
	// entries in memory only, exactly as if no durability layer existed.
	LineageStore lineagestore.Store
}

// NewManager constructs a Manager over the given collaborators. All
// fields of cfg are required except Logger and LineageStore: Logger
// defaults to a no-op logger if nil, and a nil LineageStore disables
// crash-recovery rehydration entirely. If LineageStore is set, NewManager
// synchronously rehydrates every durably-retained entry into the table
// before returning.
func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	m := &Manager{
		table:          newTaskTable(),
		refCounter:     cfg.ReferenceCounter,
		inMemoryStore:  cfg.InMemoryStore,
		putInPlasma:    cfg.PutInLocalPlasma,
		reconstruct:    cfg.ReconstructObject,
		checkNodeAlive: cfg.CheckNodeAlive,
		retryTask:      cfg.RetryTask,
		logger:         logger,
		lineageStore:   cfg.LineageStore,
	}
	m.rehydrateFromLineageStore()
	return m
}

// AddPendingTask registers a newly submitted task and returns object
// references for each of its declared return values.
func (m *Manager) AddPendingTask(callerAddress taskid.Address, spec taskspec.Spec, callSite string, maxRetries int) []taskspec.ObjectReference {
	m.logger.Debugf("Adding pending task %s with %d retries", spec.TaskID(), maxRetries)

	taskDeps := spec.Dependencies()
	m.refCounter.UpdateSubmittedTaskReferences(taskDeps, nil)

	numReturns := spec.NumReturns()
	if spec.IsActorTask() {
		numReturns--
	}

	returnedRefs := make([]taskspec.ObjectReference, 0, numReturns)
	returnIDs := make([]taskid.ObjectID, 0, numReturns)
	for i := 0; i < numReturns; i++ {
		returnID := spec.ReturnID(i)
		if !spec.IsActorCreationTask() {
			isReconstructable := maxRetries != 0
			m.refCounter.AddOwnedObject(returnID, nil, callerAddress, callSite, -1, isReconstructable)
			returnIDs = append(returnIDs, returnID)
		}
		returnedRefs = append(returnedRefs, taskspec.ObjectReference{
			ObjectID:     returnID,
			OwnerAddress: callerAddress,
			CallSite:     callSite,
		})
	}

	entry := newTaskEntry(spec, maxRetries)
	// Every declared return starts out reconstructable; CompletePendingTask
	// narrows this down to just the returns actually placed in plasma once
	// it sees which ones were instead stored directly in-process.
	for _, id := range returnIDs {
		entry.ReconstructableReturnIDs[id] = struct{}{}
	}

	m.mu.Lock()
	if !m.table.insert(spec.TaskID(), entry) {
		m.mu.Unlock()
		m.logger.Panicf("duplicate task id submitted: %s", spec.TaskID())
	}
	m.numPendingTasks++
	m.mu.Unlock()

	return returnedRefs
}

// ResubmitTask re-marks a previously-submitted, non-pending task as
// pending and triggers an immediate (non-delayed) retry callback. It is
// idempotent: calling it again while the task is already pending does
// nothing (no dependency update, no retry callback).
func (m *Manager) ResubmitTask(taskID taskid.TaskID) error {
	m.mu.Lock()
	entry, ok := m.table.get(taskID)
	if !ok {
		m.mu.Unlock()
		return ErrTaskSpecMissing
	}
	resubmit := false
	var spec taskspec.Spec
	if !entry.Pending {
		resubmit = true
		entry.Pending = true
		entry.decrementRetries()
		spec = entry.Spec
	}
	m.mu.Unlock()

	if !resubmit {
		return nil
	}

	// The durable snapshot (if any) only covers a retained, non-pending
	// entry; once it is pending again the in-memory table is authoritative
	// until it completes or fails, same as a freshly submitted task.
	m.deleteLineageSnapshot(taskID)

	taskDeps := spec.Dependencies()
	if len(taskDeps) > 0 {
		m.refCounter.UpdateResubmittedTaskReferences(taskDeps)
	}

	m.retryTask(spec, false)
	return nil
}

// IsTaskSubmissible reports whether taskID has an entry in the table
// (pending or retained for lineage).
func (m *Manager) IsTaskSubmissible(taskID taskid.TaskID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.table.get(taskID)
	return ok
}

// IsTaskPending reports whether taskID is currently awaiting a reply.
func (m *Manager) IsTaskPending(taskID taskid.TaskID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.table.get(taskID)
	return ok && entry.Pending
}

// NumSubmissibleTasks returns the size of the task table.
func (m *Manager) NumSubmissibleTasks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.table.size()
}

// NumPendingTasks returns the count of entries currently pending.
func (m *Manager) NumPendingTasks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.numPendingTasks
}

// GetTaskSpec returns a copy of taskID's spec, if submissible.
func (m *Manager) GetTaskSpec(taskID taskid.TaskID) (taskspec.Spec, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.table.get(taskID)
	if !ok {
		return taskspec.Spec{}, false
	}
	return entry.Spec, true
}

// GetPendingChildrenTasks returns the ids of every pending task whose
// parent is parentTaskID.
func (m *Manager) GetPendingChildrenTasks(parentTaskID taskid.TaskID) []taskid.TaskID {
	m.mu.Lock()
	defer m.mu.Unlock()
	var children []taskid.TaskID
	for id, entry := range m.table.entries {
		if entry.Pending && entry.Spec.ParentTaskID() == parentTaskID {
			children = append(children, id)
		}
	}
	return children
}

// MarkTaskCanceled clamps taskID's remaining retries to zero, so any
// future failure becomes terminal. It reports whether the task was
// found; no other state changes.
func (m *Manager) MarkTaskCanceled(taskID taskid.TaskID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.table.get(taskID)
	if ok {
		entry.NumRetriesLeft = 0
	}
	return ok
}

type noopLogger struct{}

func (noopLogger) Debugf(string, ...interface{}) {}
func (noopLogger) Infof(string, ...interface{})  {}
func (noopLogger) Warnf(string, ...interface{})  {}
func (noopLogger) Errorf(string, ...interface{}) {}
func (noopLogger) Panicf(format string, args ...interface{}) {
	panic(errors.Errorf(format, args...))
}
