package tasklifecycle_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ardenflux/taskledger/pkg/taskid"
	"github.com/ardenflux/taskledger/pkg/taskspec"
)

// TestManager_ConcurrentSubmitCompleteFail drives many goroutines through
// AddPendingTask, CompletePendingTask, and PendingTaskFailed concurrently
// for disjoint tasks, mirroring the worker pool's
// goroutine-per-unit-of-work plus sync.WaitGroup idiom. Run with -race: a
// broken locking discipline in the manager would surface as a data race
// here, not as a wrong value, since every task is independent.
func TestManager_ConcurrentSubmitCompleteFail(t *testing.T) {
	h := newHarness()

	const n = 200
	specs := make([]taskspec.Spec, n)
	for i := range specs {
		specs[i] = newSpec(1)
	}

	var wg sync.WaitGroup
	for i, spec := range specs {
		wg.Add(1)
		go func(i int, spec taskspec.Spec) {
			defer wg.Done()
			h.mgr.AddPendingTask(taskid.Address{}, spec, "concurrent", 0)
			if i%2 == 0 {
				h.mgr.CompletePendingTask(spec.TaskID(), taskspec.Reply{
					ReturnObjects: []taskspec.ReturnObject{{ObjectID: spec.ReturnID(0), Data: []byte("ok")}},
				}, taskid.Address{})
			} else {
				h.mgr.PendingTaskFailed(spec.TaskID(), 0, nil, true)
			}
		}(i, spec)
	}
	wg.Wait()

	assert.Equal(t, 0, h.mgr.NumPendingTasks())
	assert.Equal(t, 0, h.mgr.NumSubmissibleTasks())
	assert.Equal(t, n, h.store.Len())
}

// TestManager_ConcurrentRetryAndResubmit exercises the failure-retry path
// concurrently (PendingTaskFailed resubmitting through the retry callback)
// against a shared set of tasks that all retry exactly once, then checks
// the table settles into a consistent state once every goroutine finishes.
func TestManager_ConcurrentRetryAndResubmit(t *testing.T) {
	h := newHarness()

	const n = 100
	specs := make([]taskspec.Spec, n)
	for i := range specs {
		specs[i] = newSpec(1)
		h.mgr.AddPendingTask(taskid.Address{}, specs[i], "concurrent", 1)
	}

	var wg sync.WaitGroup
	for _, spec := range specs {
		wg.Add(1)
		go func(spec taskspec.Spec) {
			defer wg.Done()
			h.mgr.PendingTaskFailed(spec.TaskID(), 0, nil, false)
		}(spec)
	}
	wg.Wait()

	for _, spec := range specs {
		assert.True(t, h.mgr.IsTaskSubmissible(spec.TaskID()))
		assert.True(t, h.mgr.IsTaskPending(spec.TaskID()), "RetryTaskIfPossible leaves Pending untouched")
	}
	assert.Equal(t, n, h.mgr.NumPendingTasks())
}
