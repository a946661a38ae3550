// Package wire defines the messages exchanged between the coordinator
// and the partitions. It has no behaviour of its own: the coordinator
// package builds and interprets these values, and the transport
// package carries them across a connection.
package wire

// Fragment is the coordinator's per-round message to a single
// partition, carrying that partition's slice of the transaction.
type Fragment struct {
	ID                 int32
	MultiplePartitions bool
	LastFragment       bool
	Transaction        []byte
}

// CommitDecision is sent to every participant once a multi-partition
// transaction has been prepared.
type CommitDecision struct {
	ID     int32
	Commit bool
}

// FragmentResponse is a partition's reply to a Fragment.
type FragmentResponse struct {
	ID int32
	// Status maps to txn.Status (OK / ABORT_*); kept as a plain int
	// here so this package stays free of a dependency on txn.
	Status int32
	// Dependency is -1, or the manager id of an earlier transaction
	// whose speculative state this response was computed over.
	Dependency int32
	Result     []byte
}
