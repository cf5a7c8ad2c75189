// Package plasma declares the callback contracts the completion engine
// uses to place objects into the shared cluster object store and to ask
// for a lost object to be reconstructed, plus a node-liveness check. The
// real plasma store and the cluster's failure detector live outside this
// module; FakeClient is an in-process stand-in used by tests.
package plasma

import (
	"sync"

	"github.com/ardenflux/taskledger/pkg/memstore"
	"github.com/ardenflux/taskledger/pkg/taskid"
)

// PutInLocalPlasmaFunc places obj into the shared object store under id.
type PutInLocalPlasmaFunc func(obj memstore.Object, id taskid.ObjectID)

// ReconstructObjectFunc asks the scheduler to recompute the task that
// produced id, because the only known copy of id was lost.
type ReconstructObjectFunc func(id taskid.ObjectID)

// CheckNodeAliveFunc reports whether node is still considered alive by
// the cluster's failure detector.
type CheckNodeAliveFunc func(node taskid.NodeID) bool

// FakeClient is an in-process fake standing in for the shared object
// store and the cluster's failure detector. It records reconstruction
// requests so tests can assert on them.
type FakeClient struct {
	mu               sync.Mutex
	Shared           *memstore.InMemory
	aliveNodes       map[taskid.NodeID]bool
	ReconstructCalls []taskid.ObjectID
}

// NewFakeClient returns a FakeClient backed by a fresh shared store. All
// nodes are alive by default; mark one dead with SetNodeAlive.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		Shared:     memstore.New(),
		aliveNodes: make(map[taskid.NodeID]bool),
	}
}

func (f *FakeClient) SetNodeAlive(node taskid.NodeID, alive bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aliveNodes[node] = alive
}

func (f *FakeClient) CheckNodeAlive(node taskid.NodeID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	alive, ok := f.aliveNodes[node]
	if !ok {
		return true
	}
	return alive
}

func (f *FakeClient) PutInLocalPlasma(obj memstore.Object, id taskid.ObjectID) {
	f.Shared.Put(obj, id)
}

func (f *FakeClient) ReconstructObject(id taskid.ObjectID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ReconstructCalls = append(f.ReconstructCalls, id)
}
