package txn

import "sort"

// DistributedTransaction is the default Transaction implementation.
// Application code builds one per logical transaction, calls AddWork
// to queue each round's per-partition fragment, and hands it to
// coordinator.Coordinator.Execute/Finish.
type DistributedTransaction struct {
	sent      []FragmentPayload
	responses map[int]response
	active    map[int]bool
	prepared  map[int]bool

	// seen accumulates every partition index this transaction has
	// ever sent a fragment to. The participant set freezes to this
	// union on the first SentMessages call, matching spec.md §6's
	// "a participant set immutable after first dispatch."
	seen         map[int]bool
	participants []int
	frozen       bool

	allDone bool
	status  Status

	state interface{}
}

// NewDistributedTransaction returns an empty transaction ready to have
// its first round queued with AddWork.
func NewDistributedTransaction() *DistributedTransaction {
	return &DistributedTransaction{
		responses: make(map[int]response),
		active:    make(map[int]bool),
		prepared:  make(map[int]bool),
		seen:      make(map[int]bool),
		status:    OK,
	}
}

// AddWork queues a fragment for partition for the current round.
// active indicates whether the coordinator should expect this
// partition to receive further fragments in a later round; the last
// round for a partition must pass active=false so the dispatched
// Fragment carries LastFragment=true.
func (t *DistributedTransaction) AddWork(partition int, payload []byte, active bool) {
	t.sent = append(t.sent, FragmentPayload{Partition: partition, Payload: payload})
	t.active[partition] = active
	t.seen[partition] = true
}

func (t *DistributedTransaction) Sent() []FragmentPayload { return t.sent }

func (t *DistributedTransaction) SentMessages() {
	if !t.frozen {
		t.participants = make([]int, 0, len(t.seen))
		for p := range t.seen {
			t.participants = append(t.participants, p)
		}
		sort.Ints(t.participants)
		t.frozen = true
	}
	t.sent = nil
}

func (t *DistributedTransaction) Receive(partition int, result []byte, status Status) {
	t.responses[partition] = response{result: result, status: status}
	if status != OK && t.status == OK {
		t.status = status
	}
}

func (t *DistributedTransaction) ReceivedAll() bool {
	for _, p := range t.Participants() {
		if _, ok := t.responses[p]; !ok {
			return false
		}
	}
	return len(t.Participants()) > 0
}

func (t *DistributedTransaction) HasResponse(partition int) bool {
	_, ok := t.responses[partition]
	return ok
}

func (t *DistributedTransaction) RemoveResponse(partition int) {
	delete(t.responses, partition)
}

func (t *DistributedTransaction) RemovePrepareResponses() {
	t.responses = make(map[int]response)
}

func (t *DistributedTransaction) ReadyNextRound() {
	t.status = OK
}

func (t *DistributedTransaction) IsParticipant(partition int) bool {
	if t.frozen {
		for _, p := range t.participants {
			if p == partition {
				return true
			}
		}
		return false
	}
	return t.seen[partition]
}

func (t *DistributedTransaction) IsActive(partition int) bool {
	return t.active[partition]
}

func (t *DistributedTransaction) Participants() []int {
	if t.frozen {
		return t.participants
	}
	out := make([]int, 0, len(t.seen))
	for p := range t.seen {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

func (t *DistributedTransaction) MultiplePartitions() bool {
	return len(t.Participants()) > 1
}

func (t *DistributedTransaction) IsAllDone() bool { return t.allDone }
func (t *DistributedTransaction) SetAllDone()     { t.allDone = true }

func (t *DistributedTransaction) IsPrepared(partition int) bool { return t.prepared[partition] }
func (t *DistributedTransaction) MarkLastFragment(partition int) {
	t.prepared[partition] = true
}

func (t *DistributedTransaction) Status() Status { return t.status }

func (t *DistributedTransaction) State() interface{}     { return t.state }
func (t *DistributedTransaction) SetState(s interface{}) { t.state = s }
