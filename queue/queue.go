// Package queue implements PendingQueue: a sparse, absolute-indexed
// deque of in-flight transaction state, indexed by the monotone
// manager id spec.md §3/§4.1 describes. There is no pack library for
// this exact shape (sparse slots, trim-on-empty-prefix, no index
// renumbering on pop), so it is a direct, idiomatic translation of
// the queue_ usage in
// original_source/src/dtxn/dtxn/ordered/ordereddtxnmanager.cc.
package queue

import (
	"math"

	"github.com/coocood/badger/y"

	"github.com/orderdtxn/coordinator/txnstate"
)

// Queue is indexed by absolute manager id: FirstIndex() <= id <
// NextIndex(). A nil slot means the transaction at that id has
// completed.
type Queue struct {
	slots      []*txnstate.State
	firstIndex int
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{}
}

// FirstIndex is the smallest id still addressable.
func (q *Queue) FirstIndex() int32 { return int32(q.firstIndex) }

// NextIndex is the id PushBack will assign next.
func (q *Queue) NextIndex() int32 { return int32(q.firstIndex + len(q.slots)) }

// PushBack appends state and returns the manager id it was assigned.
func (q *Queue) PushBack(state *txnstate.State) int32 {
	id := q.firstIndex + len(q.slots)
	y.AssertTruef(id <= math.MaxInt32, "pending queue grew past the int32 manager id space at %d", id)
	q.slots = append(q.slots, state)
	return int32(id)
}

// At returns the state at id, nil if id has already expired (id <
// FirstIndex: the transaction already completed and its slot was
// trimmed). Callers must tolerate that path. Accessing an id at or
// above NextIndex is a programming error.
func (q *Queue) At(id int32) *txnstate.State {
	y.AssertTruef(int(id) < q.firstIndex+len(q.slots),
		"queue access at id=%d is at or beyond next_index=%d", id, q.NextIndex())
	if int(id) < q.firstIndex {
		return nil
	}
	return q.slots[int(id)-q.firstIndex]
}

// Clear null-slots id: the transaction at id has completed.
func (q *Queue) Clear(id int32) {
	idx := int(id)
	y.AssertTruef(q.firstIndex <= idx && idx < q.firstIndex+len(q.slots),
		"clear of out-of-range id=%d (first=%d, next=%d)", id, q.firstIndex, q.NextIndex())
	q.slots[idx-q.firstIndex] = nil
}

// PopFrontWhileNone trims the leading run of cleared slots, advancing
// FirstIndex. It does not renumber any remaining slot.
func (q *Queue) PopFrontWhileNone() {
	for len(q.slots) > 0 && q.slots[0] == nil {
		q.slots = q.slots[1:]
		q.firstIndex++
	}
}

// Empty reports whether the queue has no live or pending-trim slots.
func (q *Queue) Empty() bool { return len(q.slots) == 0 }
