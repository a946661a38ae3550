package txnstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/orderdtxn/coordinator/timer"
	"github.com/orderdtxn/coordinator/txn"
)

// fakeHandle/fakeLoop record CreateTimeout/ResetTimeout/CancelTimeout
// calls without ever actually firing, so tests can assert on the
// timer lifecycle instead of racing a real clock.
type fakeHandle struct{ canceled bool }

func (h *fakeHandle) Cancel() { h.canceled = true }

type fakeLoop struct {
	created int
	reset   int
}

func (f *fakeLoop) CreateTimeout(d time.Duration, fn func()) timer.Handle {
	f.created++
	return &fakeHandle{}
}

func (f *fakeLoop) ResetTimeout(h timer.Handle, d time.Duration) {
	f.reset++
}

func (f *fakeLoop) CancelTimeout(h timer.Handle) {
	h.(*fakeHandle).canceled = true
}

func newTestState(id int32) *State {
	return New(txn.NewDistributedTransaction(), id)
}

func TestSetCallbackRejectsDoublePending(t *testing.T) {
	s := newTestState(0)
	s.SetCallback(func() {})
	assert.Panics(t, func() { s.SetCallback(func() {}) })
}

func TestDependsOnAndResolve(t *testing.T) {
	tr := txn.NewDistributedTransaction()
	tr.AddWork(0, nil, true)
	tr.AddWork(1, nil, true)
	tr.SentMessages()

	later := New(tr, 1)
	later.DependsOn(0, 0)
	assert.True(t, later.HasDependencyOn(0))
	assert.False(t, later.DependenciesResolved())

	later.ResolveDependency(0)
	assert.False(t, later.HasDependencyOn(0))
	assert.True(t, later.DependenciesResolved())
}

func TestRemoveDependencyDropsResponseWhenLastPartitionGoes(t *testing.T) {
	tr := txn.NewDistributedTransaction()
	tr.AddWork(0, nil, true)
	tr.SentMessages()
	tr.Receive(0, []byte("speculative"), txn.OK)

	later := New(tr, 1)
	later.DependsOn(0, 0)

	removed := later.RemoveDependency(0, 0)
	assert.True(t, removed)
	assert.False(t, tr.HasResponse(0), "the speculative response must be dropped once its dependency is invalidated")
	assert.False(t, later.HasDependencyOn(0))

	assert.False(t, later.RemoveDependency(0, 0), "removing an absent pair reports false")
}

func TestDependentsRoundTrip(t *testing.T) {
	a := newTestState(0)
	b := newTestState(1)
	a.AddDependent(b)
	assert.Len(t, a.Dependents(), 1)
	a.RemoveDependent(b)
	assert.Empty(t, a.Dependents())
}

func TestResponseTimerLifecycle(t *testing.T) {
	loop := &fakeLoop{}
	s := newTestState(0)

	s.StartResponseTimer(loop, 10*time.Millisecond, func() {})
	assert.Equal(t, 1, loop.created)

	s.StartResponseTimer(loop, 20*time.Millisecond, func() {})
	assert.Equal(t, 1, loop.created, "a second call must reset, not recreate")
	assert.Equal(t, 1, loop.reset)

	s.Release(loop)
}

func TestFinishedRoundDetachesTransactionWhenAllDoneSinglePartition(t *testing.T) {
	tr := txn.NewDistributedTransaction()
	tr.AddWork(0, nil, false)
	tr.SentMessages()
	tr.SetAllDone()

	s := New(tr, 0)
	called := false
	s.SetCallback(func() { called = true })

	s.FinishedRound()

	assert.True(t, called)
	assert.Nil(t, s.Transaction(), "an all-done single-partition state must detach its transaction before invoking the callback")
}

func TestFinishedRoundKeepsTransactionForMultiPartitionContinuation(t *testing.T) {
	tr := txn.NewDistributedTransaction()
	tr.AddWork(0, nil, true)
	tr.AddWork(1, nil, true)
	tr.SentMessages()

	s := New(tr, 0)
	s.SetCallback(func() {})
	s.FinishedRound()

	assert.NotNil(t, s.Transaction(), "a multi-partition round-continuation must keep its transaction attached")
}
