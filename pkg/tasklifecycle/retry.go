package tasklifecycle

import (
	"strconv"
	"strings"

	"github.com/ardenflux/taskledger/pkg/memstore"
	"github.com/ardenflux/taskledger/pkg/taskid"
	"github.com/ardenflux/taskledger/pkg/taskspec"
)

// ErrorType classifies why a task failed, mirroring the reply metadata
// PendingTaskFailed's caller supplies. The transport layer that actually
// detects these conditions is out of scope here.
type ErrorType int

const (
	WorkerDied ErrorType = iota
	ActorDied
	TaskCancelled
	UnexpectedSystemExit
)

// errTerminateSentinel matches spec text for the internal
// worker-termination task, which is noisy on every shutdown and should
// never count against (or be subject to) the failure-log throttle.
const errTerminateSentinel = "__ray_terminate__"

// RetryTaskIfPossible decrements the task's remaining retry count (if
// finite) and, unless retries are exhausted, invokes the retry callback
// with a bounded-backoff delay. It reports whether a retry was
// scheduled.
func (m *Manager) RetryTaskIfPossible(taskID taskid.TaskID) bool {
	m.mu.Lock()
	entry, ok := m.table.get(taskID)
	if !ok || !entry.Pending {
		m.mu.Unlock()
		m.logger.Panicf("tried to retry task that was not pending: %s", taskID)
	}
	spec := entry.Spec
	numRetriesLeft := entry.NumRetriesLeft
	entry.decrementRetries()
	m.mu.Unlock()

	if numRetriesLeft == 0 {
		return false
	}

	retriesLeftStr := "infinite"
	if numRetriesLeft != unboundedRetries {
		retriesLeftStr = strconv.Itoa(numRetriesLeft)
	}
	m.logger.Infof("%s retries left for task %s, attempting to resubmit", retriesLeftStr, spec.TaskID())
	m.retryTask(spec, true)
	return true
}

// PendingTaskFailed reports that taskID failed. It retries the task if
// possible; otherwise it removes the entry, logs a throttled failure
// message, releases lineage references, and (if requested) writes error
// objects for each of the task's declared returns. It reports whether a
// retry was scheduled.
func (m *Manager) PendingTaskFailed(taskID taskid.TaskID, errType ErrorType, creationException *CreationTaskException, immediatelyMarkObjectFail bool) bool {
	m.logger.Debugf("task %s failed with error %d", taskID, errType)
	willRetry := m.RetryTaskIfPossible(taskID)

	m.mu.Lock()
	entry, ok := m.table.get(taskID)
	if !ok || !entry.Pending {
		m.mu.Unlock()
		m.logger.Panicf("tried to complete task that was not pending: %s", taskID)
	}
	spec := entry.Spec
	if !willRetry {
		m.table.erase(taskID)
		m.numPendingTasks--
	}
	m.mu.Unlock()

	if !willRetry {
		m.deleteLineageSnapshot(taskID)
		m.logThrottledFailure(spec)
		m.removeFinishedTaskReferences(spec, true, taskid.Address{}, nil)
		if immediatelyMarkObjectFail {
			m.MarkPendingTaskFailed(spec, errType, creationException)
		}
	}

	m.ShutdownIfNeeded()
	return willRetry
}

// MarkPendingTaskFailed writes an error object into the in-memory store
// for each of the task's declared return ids (including the reserved last
// return of an actor task). If creationException is supplied, the stored
// payload carries its serialized bytes in the layout described in
// exception.go; otherwise the object is a bare error marker.
func (m *Manager) MarkPendingTaskFailed(spec taskspec.Spec, errType ErrorType, creationException *CreationTaskException) {
	m.logger.Debugf("treating task %s as failed, error_type=%d", spec.TaskID(), errType)
	storeErrType := toMemstoreErrorType(errType)
	numReturns := spec.NumReturns()
	for i := 0; i < numReturns; i++ {
		objectID := spec.TaskID().ReturnID(i)
		if creationException != nil {
			payload, err := encodeFailurePayload(*creationException)
			if err != nil {
				m.logger.Errorf("failed to encode creation task exception for %s: %v", objectID, err)
				m.inMemoryStore.Put(memstore.ErrorObject(storeErrType), objectID)
				continue
			}
			m.inMemoryStore.Put(memstore.ErrorObjectWithPayload(memstore.CreationTaskError, payload), objectID)
		} else {
			m.inMemoryStore.Put(memstore.ErrorObject(storeErrType), objectID)
		}
	}
}

func toMemstoreErrorType(t ErrorType) memstore.ErrorType {
	switch t {
	case WorkerDied:
		return memstore.WorkerDied
	case ActorDied:
		return memstore.ActorDied
	case TaskCancelled:
		return memstore.TaskCancelled
	default:
		return memstore.WorkerDied
	}
}

// failureLogThrottle rate-limits terminal-failure logs: a message is
// emitted when fewer than kTaskFailureThrottlingThreshold failures have
// been logged so far, or when at least kTaskFailureLoggingFrequencyMillis
// has elapsed since the last one. nowMillis is overridable for tests.
type failureLogThrottle struct {
	numFailureLogs int
	lastLogTimeMs  int64
	nowMillis      func() int64
}

const (
	kTaskFailureThrottlingThreshold     = 50
	kTaskFailureLoggingFrequencyMillis  = 5000
)

func (m *Manager) logThrottledFailure(spec taskspec.Spec) {
	if strings.Contains(spec.DebugString(), errTerminateSentinel) {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.throttle.now()
	shouldLog := m.throttle.numFailureLogs < kTaskFailureThrottlingThreshold ||
		(now-m.throttle.lastLogTimeMs) >= kTaskFailureLoggingFrequencyMillis
	if !shouldLog {
		return
	}
	m.throttle.numFailureLogs++
	if m.throttle.numFailureLogs == kTaskFailureThrottlingThreshold {
		m.logger.Warnf("too many failure logs, throttling to once every %d millis", kTaskFailureLoggingFrequencyMillis)
	}
	m.throttle.lastLogTimeMs = now
	m.logger.Infof("task failed: %s", spec.DebugString())
}

func (t *failureLogThrottle) now() int64 {
	if t.nowMillis != nil {
		return t.nowMillis()
	}
	return currentTimeMillis()
}
