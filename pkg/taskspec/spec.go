// Package taskspec defines the immutable description of a task submission
// and the reply shape the task manager consumes on completion. Everything
// here is a plain value type; the manager never mutates a TaskSpec once
// constructed.
package taskspec

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ardenflux/taskledger/pkg/taskid"
)

// InlinedRef is a nested object reference carried inline inside an
// argument that was itself inlined by the scheduler (i.e. not passed
// by-reference).
type InlinedRef struct {
	ObjectID taskid.ObjectID
}

// Arg is one positional argument to a task. Exactly one of ByRef/Inlined
// applies: a by-reference argument carries the id of the object it refers
// to; an inlined argument carries zero or more nested object references
// found inside the value that was inlined.
type Arg struct {
	byRef       bool
	refID       taskid.ObjectID
	inlinedRefs []InlinedRef
}

// ByRefArg builds an argument that refers to an object by id.
func ByRefArg(id taskid.ObjectID) Arg {
	return Arg{byRef: true, refID: id}
}

// InlinedArg builds an argument whose value was inlined, optionally
// carrying nested object references found inside that value.
func InlinedArg(nested ...InlinedRef) Arg {
	return Arg{byRef: false, inlinedRefs: nested}
}

func (a Arg) IsByRef() bool                  { return a.byRef }
func (a Arg) ID() taskid.ObjectID            { return a.refID }
func (a Arg) InlinedRefs() []InlinedRef      { return a.inlinedRefs }

// Spec is the immutable task specification. Construct with New; every
// field is read-only afterward.
type Spec struct {
	taskID                    taskid.TaskID
	parentTaskID              taskid.TaskID
	args                      []Arg
	numReturns                int
	isActorTask               bool
	isActorCreationTask       bool
	actorCreationDummyID      taskid.ObjectID
	debugString               string
}

// Options configure the flags of a Spec that are not part of its
// required constructor arguments.
type Options struct {
	IsActorTask               bool
	IsActorCreationTask       bool
	ActorCreationDummyID      taskid.ObjectID
	// DebugString is a human-readable label. The failure-log throttle
	// checks it for the internal worker-termination sentinel.
	DebugString string
}

// New constructs an immutable Spec. numReturns is the number of values the
// task's spec declares itself as returning (before any actor-task
// adjustment applied by AddPendingTask).
func New(id, parentID taskid.TaskID, args []Arg, numReturns int, opts Options) Spec {
	return Spec{
		taskID:               id,
		parentTaskID:         parentID,
		args:                 append([]Arg(nil), args...),
		numReturns:           numReturns,
		isActorTask:          opts.IsActorTask,
		isActorCreationTask:  opts.IsActorCreationTask,
		actorCreationDummyID: opts.ActorCreationDummyID,
		debugString:          opts.DebugString,
	}
}

func (s Spec) TaskID() taskid.TaskID         { return s.taskID }
func (s Spec) ParentTaskID() taskid.TaskID   { return s.parentTaskID }
func (s Spec) NumArgs() int                  { return len(s.args) }
func (s Spec) Arg(i int) Arg                 { return s.args[i] }
func (s Spec) NumReturns() int               { return s.numReturns }
func (s Spec) IsActorTask() bool             { return s.isActorTask }
func (s Spec) IsActorCreationTask() bool     { return s.isActorCreationTask }
func (s Spec) DebugString() string           { return s.debugString }

// ActorCreationDummyObjectID returns the dependency-tracking dummy id for
// actor tasks. Only meaningful when IsActorTask is true.
func (s Spec) ActorCreationDummyObjectID() taskid.ObjectID {
	return s.actorCreationDummyID
}

// ReturnID computes the object id of return-value slot i.
func (s Spec) ReturnID(i int) taskid.ObjectID {
	return s.taskID.ReturnID(i)
}

// Dependencies collects the object ids this spec depends on: for each
// by-ref argument, its id; for each inlined argument, its nested ids; for
// an actor task, the actor-creation dummy id as well. AddPendingTask,
// ResubmitTask, and RemoveFinishedTaskReferences all need this exact list;
// centralizing it here keeps the three call sites from drifting.
func (s Spec) Dependencies() []taskid.ObjectID {
	var deps []taskid.ObjectID
	for _, a := range s.args {
		if a.byRef {
			deps = append(deps, a.refID)
		} else {
			for _, ref := range a.inlinedRefs {
				deps = append(deps, ref.ObjectID)
			}
		}
	}
	if s.isActorTask {
		deps = append(deps, s.actorCreationDummyID)
	}
	return deps
}

// ObjectReference is what AddPendingTask hands back to the caller for
// each return value: the id, its owner, and the call site that created it
// (used for debugging leaked references).
type ObjectReference struct {
	ObjectID     taskid.ObjectID
	OwnerAddress taskid.Address
	CallSite     string
}

// ReturnObject is one entry of a task reply: either a direct (inlined)
// return or a marker that the value was placed in the shared object store.
type ReturnObject struct {
	ObjectID          taskid.ObjectID
	Size              int64
	Data              []byte
	Metadata          []byte
	InPlasma          bool
	NestedInlinedRefs []ObjectReference
}

// Reply is the task-completion message the manager processes in
// CompletePendingTask. BorrowedRefs is opaque to this module: it is
// forwarded verbatim to the reference counter.
type Reply struct {
	ReturnObjects []ReturnObject
	BorrowedRefs  BorrowedRefTable
}

// BorrowedRefTable is the borrower-reported reference table forwarded to
// the reference counter's UpdateFinishedTaskReferences. Its internal
// shape is owned by the reference-counting subsystem; this module treats
// it as an opaque payload.
type BorrowedRefTable map[taskid.ObjectID][]taskid.ObjectID

// specDTO mirrors Spec's private fields in a msgpack-friendly shape, for
// durable storage (internal/lineagestore) and nothing else.
type specDTO struct {
	TaskID               []byte
	ParentTaskID         []byte
	Args                 []argDTO
	NumReturns           int
	IsActorTask          bool
	IsActorCreationTask  bool
	ActorCreationDummyID []byte
	DebugString          string
}

type argDTO struct {
	ByRef       bool
	RefID       []byte
	InlinedRefs [][]byte
}

// MarshalBinary encodes s for durable storage. Callers that only need to
// hand a Spec to the reference counter or in-memory store never call this;
// it exists for internal/lineagestore's snapshot blob.
func (s Spec) MarshalBinary() ([]byte, error) {
	dto := specDTO{
		TaskID:               append([]byte(nil), s.taskID[:]...),
		ParentTaskID:         append([]byte(nil), s.parentTaskID[:]...),
		NumReturns:           s.numReturns,
		IsActorTask:          s.isActorTask,
		IsActorCreationTask:  s.isActorCreationTask,
		ActorCreationDummyID: append([]byte(nil), s.actorCreationDummyID[:]...),
		DebugString:          s.debugString,
	}
	dto.Args = make([]argDTO, len(s.args))
	for i, a := range s.args {
		ad := argDTO{ByRef: a.byRef, RefID: append([]byte(nil), a.refID[:]...)}
		ad.InlinedRefs = make([][]byte, len(a.inlinedRefs))
		for j, ref := range a.inlinedRefs {
			ad.InlinedRefs[j] = append([]byte(nil), ref.ObjectID[:]...)
		}
		dto.Args[i] = ad
	}
	return msgpack.Marshal(dto)
}

// UnmarshalBinary decodes a Spec previously encoded by MarshalBinary.
func (s *Spec) UnmarshalBinary(data []byte) error {
	var dto specDTO
	if err := msgpack.Unmarshal(data, &dto); err != nil {
		return err
	}
	*s = Spec{
		numReturns:          dto.NumReturns,
		isActorTask:         dto.IsActorTask,
		isActorCreationTask: dto.IsActorCreationTask,
		debugString:         dto.DebugString,
	}
	copy(s.taskID[:], dto.TaskID)
	copy(s.parentTaskID[:], dto.ParentTaskID)
	copy(s.actorCreationDummyID[:], dto.ActorCreationDummyID)
	s.args = make([]Arg, len(dto.Args))
	for i, ad := range dto.Args {
		a := Arg{byRef: ad.ByRef}
		copy(a.refID[:], ad.RefID)
		a.inlinedRefs = make([]InlinedRef, len(ad.InlinedRefs))
		for j, raw := range ad.InlinedRefs {
			var objID taskid.ObjectID
			copy(objID[:], raw)
			a.inlinedRefs[j] = InlinedRef{ObjectID: objID}
		}
		s.args[i] = a
	}
	return nil
}
