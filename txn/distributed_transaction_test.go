package txn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSingleRoundSinglePartition(t *testing.T) {
	tr := NewDistributedTransaction()
	tr.AddWork(0, []byte("work"), false)

	assert.False(t, tr.MultiplePartitions())
	assert.Len(t, tr.Sent(), 1)

	tr.SentMessages()
	assert.Empty(t, tr.Sent(), "SentMessages must flush the outgoing queue")
	assert.ElementsMatch(t, []int{0}, tr.Participants())
	assert.True(t, tr.IsParticipant(0))
	assert.False(t, tr.IsActive(0))

	tr.Receive(0, []byte("ok"), OK)
	assert.True(t, tr.ReceivedAll())
	assert.Equal(t, OK, tr.Status())
}

func TestParticipantSetFreezesOnFirstSentMessages(t *testing.T) {
	tr := NewDistributedTransaction()
	tr.AddWork(0, nil, true)
	tr.AddWork(1, nil, true)
	tr.SentMessages()

	assert.True(t, tr.MultiplePartitions())
	assert.ElementsMatch(t, []int{0, 1}, tr.Participants())

	// A later round that only touches partition 0 must not shrink the
	// frozen participant set.
	tr.AddWork(0, nil, false)
	tr.SentMessages()
	assert.ElementsMatch(t, []int{0, 1}, tr.Participants())
}

func TestReceiveTracksFirstNonOKStatus(t *testing.T) {
	tr := NewDistributedTransaction()
	tr.AddWork(0, nil, true)
	tr.AddWork(1, nil, true)
	tr.SentMessages()

	tr.Receive(0, nil, OK)
	assert.Equal(t, OK, tr.Status())
	tr.Receive(1, nil, AbortDeadlock)
	assert.Equal(t, AbortDeadlock, tr.Status())
}

func TestRemoveResponseAndReceivedAll(t *testing.T) {
	tr := NewDistributedTransaction()
	tr.AddWork(0, nil, true)
	tr.AddWork(1, nil, true)
	tr.SentMessages()

	tr.Receive(0, nil, OK)
	tr.Receive(1, nil, OK)
	assert.True(t, tr.ReceivedAll())

	tr.RemoveResponse(1)
	assert.False(t, tr.ReceivedAll())
	assert.False(t, tr.HasResponse(1))
}

func TestReadyNextRoundResetsStatus(t *testing.T) {
	tr := NewDistributedTransaction()
	tr.AddWork(0, nil, true)
	tr.SentMessages()
	tr.Receive(0, nil, AbortUser)
	assert.Equal(t, AbortUser, tr.Status())

	tr.RemovePrepareResponses()
	tr.ReadyNextRound()
	assert.Equal(t, OK, tr.Status())
	assert.False(t, tr.HasResponse(0))
}

func TestAllDoneAndPreparedTracking(t *testing.T) {
	tr := NewDistributedTransaction()
	assert.False(t, tr.IsAllDone())
	tr.SetAllDone()
	assert.True(t, tr.IsAllDone())

	assert.False(t, tr.IsPrepared(0))
	tr.MarkLastFragment(0)
	assert.True(t, tr.IsPrepared(0))
}

func TestStateAttachment(t *testing.T) {
	tr := NewDistributedTransaction()
	assert.Nil(t, tr.State())
	tr.SetState("anything")
	assert.Equal(t, "anything", tr.State())
}
