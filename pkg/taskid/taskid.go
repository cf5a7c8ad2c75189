// Package taskid defines the fixed-width identifiers the task lifecycle
// manager keys its bookkeeping by. A TaskID is opaque and caller-minted;
// an ObjectID is derived from a TaskID plus a return-value index, so that
// the producing task of any object id can be recovered without a lookup
// table (see ObjectID.TaskID).
package taskid

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

const (
	taskIDLen   = 16
	indexLen    = 4
	objectIDLen = taskIDLen + indexLen
)

// TaskID uniquely identifies a task submission.
type TaskID [taskIDLen]byte

// Nil is the zero TaskID, used to mean "no parent" or "not set".
var Nil TaskID

// NewTaskID mints a fresh, random task id. Production callers outside this
// module are expected to mint their own ids the same way (or derive them
// from whatever the transport layer's task submission protocol requires);
// the manager itself never mints one.
func NewTaskID() TaskID {
	var id TaskID
	u := uuid.New()
	copy(id[:], u[:])
	return id
}

func (t TaskID) String() string {
	return hex.EncodeToString(t[:])
}

func (t TaskID) IsNil() bool {
	return t == Nil
}

// ReturnID computes the object id for return-value slot i (0-indexed) of
// this task. Per the wire contract, slot i is stored at index i+1; index 0
// is reserved and never returned by ReturnID.
func (t TaskID) ReturnID(i int) ObjectID {
	var id ObjectID
	copy(id[:taskIDLen], t[:])
	binary.BigEndian.PutUint32(id[taskIDLen:], uint32(i+1))
	return id
}

// ObjectID identifies a value produced (or to be produced) by a task.
type ObjectID [objectIDLen]byte

var NilObject ObjectID

// TaskID recovers the id of the task that produced (or will produce) this
// object. This is the pure function RemoveLineageReference relies on to
// find the owning TaskEntry without an auxiliary index.
func (o ObjectID) TaskID() TaskID {
	var t TaskID
	copy(t[:], o[:taskIDLen])
	return t
}

// Index returns the 1-based return-slot index encoded in the object id.
func (o ObjectID) Index() uint32 {
	return binary.BigEndian.Uint32(o[taskIDLen:])
}

func (o ObjectID) String() string {
	return fmt.Sprintf("%s:%d", hex.EncodeToString(o[:taskIDLen]), o.Index())
}

func (o ObjectID) IsNil() bool {
	return o == NilObject
}

// NodeID identifies a raylet/node in the cluster. Only equality and
// liveness-lookup matter to this module.
type NodeID [16]byte

func (n NodeID) String() string { return hex.EncodeToString(n[:]) }

// WorkerID identifies the worker process that owns or produced something.
type WorkerID [16]byte

func (w WorkerID) String() string { return hex.EncodeToString(w[:]) }

// Address is the minimal addressing information the manager needs about a
// remote worker: who it is, and which node it is pinned to (the latter is
// what CompletePendingTask resolves through the node-liveness callback).
type Address struct {
	WorkerID WorkerID
	NodeID   NodeID
	IP       string
	Port     int32
}

func (a Address) IsEmpty() bool {
	return a.WorkerID == WorkerID{} && a.NodeID == NodeID{} && a.IP == "" && a.Port == 0
}
