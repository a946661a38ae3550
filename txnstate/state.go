// Package txnstate implements TransactionState, the coordinator-side
// record for one in-flight transaction: its manager id, pending round
// callback, optional round timer, and the speculative dependency edges
// other transactions have declared on it. It is a direct translation
// of OrderedDtxnManager::TransactionState from
// original_source/src/dtxn/dtxn/ordered/ordereddtxnmanager.cc.
package txnstate

import (
	"fmt"
	"time"

	"github.com/coocood/badger/y"
	"github.com/ngaut/log"

	"github.com/orderdtxn/coordinator/timer"
	"github.com/orderdtxn/coordinator/txn"
)

// State is the per-transaction coordinator-side record described by
// spec.md §3/§4.2.
type State struct {
	transaction txn.Transaction
	managerID   int32
	callback    func()
	timerHandle timer.Handle

	// dependencies maps other_id -> the set of this transaction's
	// participant partitions whose response depended on other_id.
	// other_id is always < managerID.
	dependencies map[int32][]int
	// dependents holds the later states that declared a dependency on
	// this one. Back-pointers only, never an ownership edge.
	dependents map[*State]struct{}
}

// New allocates a TransactionState for transaction, assigning it
// managerID. The caller is responsible for appending it to the
// pending queue at that id.
func New(transaction txn.Transaction, managerID int32) *State {
	y.AssertTruef(managerID >= 0, "manager id must be non-negative, got %d", managerID)
	s := &State{
		transaction:  transaction,
		managerID:    managerID,
		dependencies: make(map[int32][]int),
		dependents:   make(map[*State]struct{}),
	}
	transaction.SetState(s)
	return s
}

func (s *State) ManagerID() int32 { return s.managerID }

// Transaction returns the attached transaction value object, or nil
// if this state has been detached (see FinishedRound).
func (s *State) Transaction() txn.Transaction { return s.transaction }

// SetCallback records the callback for the round currently in flight.
// At most one callback may be pending at a time; setting a second one
// panics.
func (s *State) SetCallback(cb func()) {
	if s.callback != nil {
		panic(fmt.Sprintf("manager_id=%d already has a pending callback", s.managerID))
	}
	s.callback = cb
}

// takeCallback clears the pending callback and returns it, so the
// caller can invoke it after releasing anything the callback might
// free (spec.md §9's capture-and-clear re-entrancy pattern).
func (s *State) takeCallback() func() {
	cb := s.callback
	s.callback = nil
	return cb
}

// DependsOn records that this transaction's response at partition was
// computed over otherID's speculative state. otherID must be earlier
// than this transaction and a participant of it; the same pair may
// only be recorded once.
func (s *State) DependsOn(otherID int32, partition int) {
	y.AssertTruef(otherID >= 0 && otherID < s.managerID,
		"dependency must point to an earlier transaction: manager_id=%d other_id=%d", s.managerID, otherID)
	y.AssertTruef(s.transaction.IsParticipant(partition),
		"manager_id=%d recorded a dependency on a non-participant partition %d", s.managerID, partition)
	for _, p := range s.dependencies[otherID] {
		y.AssertTruef(p != partition, "duplicate dependency (%d,%d) on manager_id=%d", otherID, partition, s.managerID)
	}
	s.dependencies[otherID] = append(s.dependencies[otherID], partition)
	log.Debugf("manager_id=%d depends on manager_id=%d at partition %d", s.managerID, otherID, partition)
}

func (s *State) HasDependencyOn(otherID int32) bool {
	_, ok := s.dependencies[otherID]
	return ok
}

// ResolveDependency drops the entire otherID entry because otherID
// has committed. It is a programming error to call this when otherID
// is not an outstanding dependency.
func (s *State) ResolveDependency(otherID int32) {
	_, ok := s.dependencies[otherID]
	y.AssertTruef(ok, "resolveDependency(%d) called on manager_id=%d with no such dependency", otherID, s.managerID)
	delete(s.dependencies, otherID)
	log.Debugf("manager_id=%d resolved dependency on committed manager_id=%d", s.managerID, otherID)
}

// RemoveDependency drops the (otherID, partition) pair. It returns
// false if the pair was already absent, which is the expected common
// case: cascading abort calls this for every (dependent, participant)
// combination, and most of those pairs were never recorded. When the
// partition set for otherID becomes empty, the otherID entry is
// erased too and the transaction's cached response at partition is
// dropped, since that response was speculative on the now-aborted
// otherID.
func (s *State) RemoveDependency(otherID int32, partition int) bool {
	partitions, ok := s.dependencies[otherID]
	if !ok {
		return false
	}
	idx := -1
	for i, p := range partitions {
		if p == partition {
			idx = i
			break
		}
	}
	if idx == -1 {
		return false
	}
	partitions = append(partitions[:idx], partitions[idx+1:]...)
	if len(partitions) == 0 {
		delete(s.dependencies, otherID)
		s.transaction.RemoveResponse(partition)
		log.Debugf("manager_id=%d dropped response at partition %d: dependency on aborted manager_id=%d", s.managerID, partition, otherID)
	} else {
		s.dependencies[otherID] = partitions
	}
	return true
}

// AddDependent records that other declared a dependency on this
// state. Idempotent.
func (s *State) AddDependent(other *State) {
	y.AssertTruef(other != s, "manager_id=%d cannot depend on itself", s.managerID)
	s.dependents[other] = struct{}{}
}

// RemoveDependent erases other from the dependent set.
func (s *State) RemoveDependent(other *State) {
	delete(s.dependents, other)
}

// Dependents returns the live dependent set. Callers may mutate it
// only through AddDependent/RemoveDependent.
func (s *State) Dependents() map[*State]struct{} { return s.dependents }

func (s *State) DependenciesResolved() bool { return len(s.dependencies) == 0 }

// StartResponseTimer arms (or rearms) this state's single round
// timer. onFire is invoked by loop when the timer expires; callers
// that need the fire to happen on a particular goroutine must have
// onFire repost itself there.
func (s *State) StartResponseTimer(loop timer.EventLoop, d time.Duration, onFire func()) {
	if s.timerHandle == nil {
		s.timerHandle = loop.CreateTimeout(d, onFire)
	} else {
		loop.ResetTimeout(s.timerHandle, d)
	}
}

// Release cancels any live timer. It must be called exactly once,
// when the coordinator is done with this state, since there is no
// destructor to do it implicitly.
func (s *State) Release(loop timer.EventLoop) {
	if s.timerHandle != nil && loop != nil {
		loop.CancelTimeout(s.timerHandle)
	}
	s.timerHandle = nil
}

// FinishedRound clears the transaction's prepare responses, readies
// it for the next round if the round's status is OK (a non-OK status
// is terminal and is kept for the callback to see), and invokes the
// round's callback. If the
// transaction is all-done and single-partition, the callback owner
// may destroy the transaction, so the transaction reference is
// detached first and the callback is captured and cleared before
// being invoked — callers must not touch s.callback or s.Transaction()
// after this returns in that case.
func (s *State) FinishedRound() {
	allDone := !s.transaction.MultiplePartitions() && s.transaction.IsAllDone()
	s.transaction.RemovePrepareResponses()
	if s.transaction.Status() == txn.OK {
		s.transaction.ReadyNextRound()
	}
	cb := s.takeCallback()
	if allDone {
		s.transaction = nil
	}
	cb()
}
