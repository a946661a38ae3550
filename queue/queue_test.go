package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/orderdtxn/coordinator/txn"
	"github.com/orderdtxn/coordinator/txnstate"
)

func newState(id int32) *txnstate.State {
	return txnstate.New(txn.NewDistributedTransaction(), id)
}

func TestPushBackAssignsSequentialIDs(t *testing.T) {
	q := New()
	assert.EqualValues(t, 0, q.NextIndex())
	assert.EqualValues(t, 0, q.PushBack(newState(0)))
	assert.EqualValues(t, 1, q.PushBack(newState(1)))
	assert.EqualValues(t, 2, q.NextIndex())
	assert.EqualValues(t, 0, q.FirstIndex())
}

func TestAtReturnsNilPastFirstIndex(t *testing.T) {
	q := New()
	s0, s1 := newState(0), newState(1)
	q.PushBack(s0)
	q.PushBack(s1)

	q.Clear(0)
	q.PopFrontWhileNone()

	assert.EqualValues(t, 1, q.FirstIndex())
	assert.Nil(t, q.At(0))
	assert.Same(t, s1, q.At(1))
}

func TestPopFrontWhileNoneStopsAtLiveSlot(t *testing.T) {
	q := New()
	q.PushBack(newState(0))
	q.PushBack(newState(1))
	q.PushBack(newState(2))

	q.Clear(0)
	q.Clear(2)
	q.PopFrontWhileNone()

	assert.EqualValues(t, 1, q.FirstIndex(), "trimming must stop at the first live slot")
	assert.EqualValues(t, 3, q.NextIndex())
	assert.NotNil(t, q.At(1))
	assert.Nil(t, q.At(2), "cleared non-front slots stay nil without advancing first_index")
}

func TestEmpty(t *testing.T) {
	q := New()
	assert.True(t, q.Empty())
	q.PushBack(newState(0))
	assert.False(t, q.Empty())
}
