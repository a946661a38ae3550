// Package coordinator implements the ordered distributed transaction
// coordinator: Execute/Finish/ResponseReceived plus the internal
// dispatch, dependency-tracking, cascading-abort, and head-of-line
// scheduling machinery. It is a direct, idiomatic-Go translation of
// OrderedDtxnManager in
// original_source/src/dtxn/dtxn/ordered/ordereddtxnmanager.cc, with
// dispatch/registration conventions drawn from
// kv/raftstore/raftstore_router.go and kv/server/server.go.
package coordinator

import (
	"time"

	"github.com/coocood/badger/y"
	"github.com/ngaut/log"

	"github.com/orderdtxn/coordinator/metrics"
	"github.com/orderdtxn/coordinator/partition"
	"github.com/orderdtxn/coordinator/queue"
	"github.com/orderdtxn/coordinator/timer"
	"github.com/orderdtxn/coordinator/transport"
	"github.com/orderdtxn/coordinator/txn"
	"github.com/orderdtxn/coordinator/txnstate"
	"github.com/orderdtxn/coordinator/wire"
)

// NoUnfinishedID is the sentinel meaning "no head-of-line blocker".
const NoUnfinishedID int32 = -1

// Coordinator is the client-side orchestrator described by spec.md.
// All mutating methods — Execute, Finish, ResponseReceived, and any
// timer fire — must run on a single goroutine; there is no internal
// locking (spec.md §5). Use Post/Run to funnel asynchronous sources
// (the message server's response callback, timer fires) onto that
// goroutine.
type Coordinator struct {
	partitions *partition.Registry
	msgServer  transport.MessageServer
	loop       timer.EventLoop

	roundTimeout     time.Duration
	strictInvariants bool

	queue               *queue.Queue
	lastPartitionCommit []int32
	firstUnfinishedID   int32

	postCh chan func()
}

// New builds a Coordinator over a fixed partition list. roundTimeout
// of zero leaves the per-round deadline disabled (spec.md §9's
// default). strictInvariants enables the debug-only full-queue scan
// described in SPEC_FULL.md §6.
func New(partitions *partition.Registry, msgServer transport.MessageServer, loop timer.EventLoop, roundTimeout time.Duration, strictInvariants bool) *Coordinator {
	c := &Coordinator{
		partitions:          partitions,
		msgServer:           msgServer,
		loop:                loop,
		roundTimeout:        roundTimeout,
		strictInvariants:    strictInvariants,
		queue:               queue.New(),
		lastPartitionCommit: make([]int32, partitions.Count()),
		firstUnfinishedID:   NoUnfinishedID,
		postCh:              make(chan func(), 256),
	}
	for i := range c.lastPartitionCommit {
		c.lastPartitionCommit[i] = -1
	}
	msgServer.AddCallback(c.onResponse)
	return c
}

func (c *Coordinator) onResponse(conn transport.ConnectionHandle, resp wire.FragmentResponse) {
	c.ResponseReceived(conn, resp)
}

// Post schedules fn to run on the coordinator's goroutine. Sources
// outside that goroutine — a network read loop, a fired timer — must
// use this instead of calling Coordinator methods directly.
func (c *Coordinator) Post(fn func()) { c.postCh <- fn }

// Run drains posted work until stop is closed. It is the coordinator's
// event loop, modeled on kv/util/worker/worker.go's single-goroutine
// channel-drain pattern.
func (c *Coordinator) Run(stop <-chan struct{}) {
	for {
		select {
		case fn := <-c.postCh:
			fn()
		case <-stop:
			return
		}
	}
}

// Close releases every partition connection and any still-queued
// transaction state. It mirrors ~OrderedDtxnManager's destructor,
// since Go has no destructors to do this implicitly.
func (c *Coordinator) Close() {
	for i := 0; i < c.partitions.Count(); i++ {
		c.msgServer.CloseConnection(c.partitions.Handle(i))
	}
	for id := c.queue.FirstIndex(); id < c.queue.NextIndex(); id++ {
		if st := c.queue.At(id); st != nil {
			st.Release(c.loop)
		}
	}
	c.msgServer.RemoveCallback(c.onResponse)
}

// Execute schedules the next round of txn and dispatches it
// immediately unless it is a multi-partition transaction queued
// behind another multi-partition transaction's unfinished prepare
// round (spec.md §4.3).
func (c *Coordinator) Execute(t txn.Transaction, cb func()) {
	y.AssertTruef(len(t.Sent()) > 0, "execute called with no fragments queued")

	existing, _ := t.State().(*txnstate.State)
	var state *txnstate.State
	if existing == nil {
		id := c.queue.NextIndex()
		state = txnstate.New(t, id)
		pushed := c.queue.PushBack(state)
		y.AssertTruef(pushed == id, "queue assigned manager_id=%d but state was built for %d", pushed, id)
	} else {
		state = existing
		y.AssertTruef(c.firstUnfinishedID == state.ManagerID(),
			"execute continuation for manager_id=%d while head-of-line blocker is manager_id=%d",
			state.ManagerID(), c.firstUnfinishedID)
	}
	state.SetCallback(cb)
	y.AssertTruef(c.queue.At(state.ManagerID()) == state,
		"queue slot for manager_id=%d does not hold its own state", state.ManagerID())

	metrics.QueueDepth.Set(float64(c.queue.NextIndex() - c.queue.FirstIndex()))

	dispatch := c.firstUnfinishedID == NoUnfinishedID ||
		c.firstUnfinishedID == state.ManagerID() ||
		!t.MultiplePartitions()
	if !dispatch {
		return
	}
	reason := "unblocked"
	switch {
	case !t.MultiplePartitions():
		reason = "single_partition"
	case c.firstUnfinishedID == state.ManagerID():
		reason = "blocker"
	}
	metrics.TransactionsExecuted.WithLabelValues(reason).Inc()
	c.sendFragments(state)
}

// Finish terminates a multi-partition transaction whose last round
// completed with status OK, running a prepare round first if commit
// is requested and the transaction hasn't already run one
// (spec.md §4.7).
func (c *Coordinator) Finish(t txn.Transaction, commit bool, cb func()) {
	y.AssertTruef(t.MultiplePartitions(), "finish called on a single-partition transaction")
	y.AssertTruef(t.Status() == txn.OK, "finish called on manager_id with non-OK status %s", t.Status())
	state, ok := t.State().(*txnstate.State)
	y.AssertTruef(ok && state != nil, "finish called on a transaction with no attached state")
	y.AssertTruef(state.Transaction() == t, "attached state belongs to a different transaction")

	if commit && !t.IsAllDone() {
		t.SetAllDone()
		y.AssertTruef(len(t.Sent()) > 0, "finish needs a prepare round but no fragments were queued")
		state.SetCallback(func() { c.verifyPrepareRound(t, cb) })
		c.sendFragments(state)
		return
	}

	c.finishTransaction(state, commit)
	state.Release(c.loop)
	// TODO(spec.md §4.7): durability of the decision is a future
	// extension point; cb fires synchronously today.
	cb()
}

func (c *Coordinator) verifyPrepareRound(t txn.Transaction, cb func()) {
	y.AssertTruef(t.IsAllDone(), "verifyPrepareRound reached before all-done was set")
	if t.MultiplePartitions() {
		c.Finish(t, true, cb)
		return
	}
	// The transaction decayed to single-partition during the prepare
	// round: nextRound already released and detached its state.
	y.AssertTruef(t.State() == nil, "single-partition prepare completed but state is still attached")
	cb()
}

// ResponseReceived integrates one partition's reply into its
// transaction's round, tracking or invalidating any declared
// speculative dependency, and advances the round once every
// participant has replied with no unresolved dependency left
// (spec.md §4.5).
func (c *Coordinator) ResponseReceived(conn transport.ConnectionHandle, resp wire.FragmentResponse) {
	if resp.ID < c.queue.FirstIndex() {
		log.Debugf("ignoring late response for manager_id=%d (first_index=%d)", resp.ID, c.queue.FirstIndex())
		return
	}
	state := c.queue.At(resp.ID)
	y.AssertTruef(state != nil, "response for manager_id=%d has no queue slot", resp.ID)
	y.AssertTruef(-1 <= resp.Dependency && resp.Dependency < resp.ID,
		"response dependency %d out of range for manager_id=%d", resp.Dependency, resp.ID)

	partitionIndex, err := c.partitions.IndexOf(conn)
	y.AssertTruef(err == nil, "response arrived on an unknown connection: %v", err)

	t := state.Transaction()
	t.Receive(partitionIndex, resp.Result, txn.Status(resp.Status))

	if resp.Dependency != -1 {
		c.integrateDependency(state, partitionIndex, resp.Dependency)
	}

	if t.ReceivedAll() && state.DependenciesResolved() {
		c.nextRound(state)
	}
}

func (c *Coordinator) integrateDependency(state *txnstate.State, partitionIndex int, dependency int32) {
	t := state.Transaction()

	var other *txnstate.State
	if dependency >= c.queue.FirstIndex() {
		other = c.queue.At(dependency)
	}
	if other != nil {
		if other.Transaction() != nil && other.Transaction().HasResponse(partitionIndex) {
			state.DependsOn(dependency, partitionIndex)
			other.AddDependent(state)
			metrics.DependencyEdges.WithLabelValues("recorded").Inc()
		} else {
			// The chain is already broken at this partition.
			t.RemoveResponse(partitionIndex)
			metrics.DependencyEdges.WithLabelValues("broken_chain").Inc()
		}
		return
	}

	if dependency > c.lastPartitionCommit[partitionIndex] {
		// The dependency aborted before committing at this partition.
		t.RemoveResponse(partitionIndex)
		metrics.DependencyEdges.WithLabelValues("aborted_before_commit").Inc()
		return
	}
	if dependency != c.lastPartitionCommit[partitionIndex] {
		// spec.md §9 open question: the contract is strict equality;
		// surface a diagnostic before the assert below stops the
		// process, rather than silently accepting a stale reference.
		log.Errorf("dependency %d below last_partition_commit[%d]=%d but not equal to it",
			dependency, partitionIndex, c.lastPartitionCommit[partitionIndex])
	}
	y.AssertTruef(dependency == c.lastPartitionCommit[partitionIndex],
		"dependency %d must equal last_partition_commit[%d]=%d",
		dependency, partitionIndex, c.lastPartitionCommit[partitionIndex])
}

// nextRound runs once a round has every response with no unresolved
// dependency. A round is terminal if the transaction aborted or is
// single-partition; otherwise the client drives the next round itself
// via Execute or Finish (spec.md §4.6).
func (c *Coordinator) nextRound(state *txnstate.State) {
	t := state.Transaction()
	y.AssertTruef(t.ReceivedAll() && state.DependenciesResolved(), "nextRound called before the round completed")

	finished := t.Status() != txn.OK || !t.MultiplePartitions()
	if finished {
		c.finishTransaction(state, t.Status() == txn.OK)
	}
	state.FinishedRound()
	if finished {
		state.Release(c.loop)
	}
}

func (c *Coordinator) responseTimeout(state *txnstate.State) {
	log.Errorf("round timeout for manager_id=%d: aborting (presumed deadlock)", state.ManagerID())
	c.finishTransaction(state, false)
	state.Release(c.loop)
}

// sendFragments dispatches every queued fragment for state's current
// round and updates head-of-line state (spec.md §4.4).
func (c *Coordinator) sendFragments(state *txnstate.State) {
	t := state.Transaction()
	y.AssertTruef(len(t.Sent()) > 0, "sendFragments called with nothing queued")

	multi := t.MultiplePartitions()
	if multi {
		y.AssertTruef(c.firstUnfinishedID == NoUnfinishedID || c.firstUnfinishedID == state.ManagerID(),
			"sendFragments for manager_id=%d while head-of-line blocker is manager_id=%d",
			state.ManagerID(), c.firstUnfinishedID)
		if c.strictInvariants {
			c.debugCheckPrecedingAllDone(state.ManagerID())
		}
	}

	for _, f := range t.Sent() {
		y.AssertTruef(t.IsParticipant(f.Partition), "sendFragments targeting non-participant partition %d", f.Partition)
		lastFragment := !t.IsActive(f.Partition)
		frag := wire.Fragment{
			ID:                 state.ManagerID(),
			MultiplePartitions: multi,
			LastFragment:       lastFragment,
			Transaction:        f.Payload,
		}
		if lastFragment {
			t.MarkLastFragment(f.Partition)
		}
		ok := c.msgServer.Send(c.partitions.Handle(f.Partition), frag)
		y.AssertTruef(ok, "send of fragment manager_id=%d to partition %d failed", state.ManagerID(), f.Partition)
	}

	if multi && c.roundTimeout > 0 {
		state.StartResponseTimer(c.loop, c.roundTimeout, func() {
			c.Post(func() { c.responseTimeout(state) })
		})
	}
	t.SentMessages()

	log.Infof("dispatched manager_id=%d participants=%v multi=%v all_done=%v",
		state.ManagerID(), t.Participants(), multi, t.IsAllDone())

	if t.IsAllDone() && (c.firstUnfinishedID == state.ManagerID() || c.firstUnfinishedID == NoUnfinishedID) {
		c.unblockTransactions(state.ManagerID())
	} else if multi {
		c.firstUnfinishedID = state.ManagerID()
	}
}

// debugCheckPrecedingAllDone verifies every earlier live queue slot is
// all-done before a multi-partition transaction dispatches
// (SPEC_FULL.md §6 supplemented feature).
func (c *Coordinator) debugCheckPrecedingAllDone(id int32) {
	for i := c.queue.FirstIndex(); i < id; i++ {
		st := c.queue.At(i)
		if st != nil && st.Transaction() != nil {
			y.AssertTruef(st.Transaction().IsAllDone(),
				"manager_id=%d dispatching while earlier manager_id=%d is not all-done", id, i)
		}
	}
}

// unblockTransactions clears the head-of-line blocker and dispatches
// the next live multi-partition transaction found after id, if any
// (spec.md §4.9).
func (c *Coordinator) unblockTransactions(id int32) {
	y.AssertTruef(c.firstUnfinishedID == id || c.firstUnfinishedID == NoUnfinishedID,
		"unblockTransactions(%d) called while blocker is manager_id=%d", id, c.firstUnfinishedID)
	c.firstUnfinishedID = NoUnfinishedID

	start := id + 1
	if c.queue.FirstIndex() > start {
		start = c.queue.FirstIndex()
	}
	for i := start; i < c.queue.NextIndex(); i++ {
		st := c.queue.At(i)
		if st != nil && st.Transaction() != nil && st.Transaction().MultiplePartitions() {
			c.sendFragments(st)
			break
		}
	}
}

// removeDependency drops the (otherID, partition) pair from state and,
// if that pair was actually present, propagates the invalidation to
// state's dependents (spec.md §4.10). It returns whether the pair was
// present.
func (c *Coordinator) removeDependency(state *txnstate.State, otherID int32, partition int) bool {
	removed := state.RemoveDependency(otherID, partition)
	if !removed {
		return false
	}
	for d := range state.Dependents() {
		droppedLast := c.removeDependency(d, state.ManagerID(), partition)
		if droppedLast && !d.HasDependencyOn(state.ManagerID()) {
			state.RemoveDependent(d)
		}
	}
	return true
}

// finishTransaction sends the commit/abort decision (multi-partition)
// or checks it against the engine's own status (single-partition),
// then propagates the outcome to dependents and retires the queue
// slot (spec.md §4.8).
func (c *Coordinator) finishTransaction(state *txnstate.State, commit bool) {
	t := state.Transaction()
	y.AssertTruef(state.DependenciesResolved(), "finishTransaction called with unresolved dependencies")
	y.AssertTruef(!t.MultiplePartitions() || t.IsAllDone() || !commit,
		"finishTransaction committing a multi-partition transaction that is not all-done")

	if t.MultiplePartitions() {
		c.finishMultiPartition(state, commit)
	} else {
		y.AssertTruef(len(state.Dependents()) == 0, "single-partition manager_id=%d has dependents", state.ManagerID())
		y.AssertTruef(commit == (t.Status() == txn.OK),
			"single-partition commit decision disagrees with partition status %s", t.Status())
		metrics.TransactionsFinished.WithLabelValues(t.Status().String()).Inc()
	}
	log.Infof("decided manager_id=%d commit=%v participants=%v", state.ManagerID(), commit, t.Participants())

	y.AssertTruef(t.State() == state, "transaction's attached state is not this state")
	t.SetState(nil)
	c.queue.Clear(state.ManagerID())
	c.queue.PopFrontWhileNone()
	metrics.QueueDepth.Set(float64(c.queue.NextIndex() - c.queue.FirstIndex()))

	if c.firstUnfinishedID == state.ManagerID() {
		y.AssertTruef(!commit, "head-of-line blocker manager_id=%d committed without clearing the blocker first", state.ManagerID())
		c.unblockTransactions(state.ManagerID())
	}
}

func (c *Coordinator) finishMultiPartition(state *txnstate.State, commit bool) {
	t := state.Transaction()
	decision := wire.CommitDecision{ID: state.ManagerID(), Commit: commit}
	participants := t.Participants()
	y.AssertTruef(len(participants) > 0, "multi-partition transaction has no participants")

	for _, p := range participants {
		y.AssertTruef(t.IsPrepared(p) || !commit,
			"committing manager_id=%d but partition %d was never prepared", state.ManagerID(), p)
		ok := c.msgServer.Send(c.partitions.Handle(p), decision)
		y.AssertTruef(ok, "send of commit decision manager_id=%d to partition %d failed", state.ManagerID(), p)
		y.AssertTruef(decision.ID > c.lastPartitionCommit[p],
			"commit decision for manager_id=%d sent out of order at partition %d (last=%d)",
			decision.ID, p, c.lastPartitionCommit[p])
		if decision.Commit {
			c.lastPartitionCommit[p] = decision.ID
		}
	}

	dependents := state.Dependents()
	if !decision.Commit {
		for _, p := range participants {
			for d := range dependents {
				c.removeDependency(d, state.ManagerID(), p)
			}
		}
	} else {
		for d := range dependents {
			d.ResolveDependency(state.ManagerID())
			if dt := d.Transaction(); dt != nil && dt.ReceivedAll() && d.DependenciesResolved() {
				c.nextRound(d)
			}
		}
	}
	metrics.TransactionsFinished.WithLabelValues(t.Status().String()).Inc()
}
