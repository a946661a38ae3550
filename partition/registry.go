// Package partition tracks the coordinator's fixed, ordered list of
// partition connections. It is grounded on the address-cache shape of
// kv/tikv/inner_server/resolver.go, simplified because spec.md §3
// fixes the partition list at construction time instead of resolving
// addresses dynamically from a placement driver.
package partition

import (
	"github.com/pingcap/errors"

	"github.com/orderdtxn/coordinator/transport"
)

// Registry is the coordinator's immutable, ordered view of its
// partitions: index position is the partition index used throughout
// spec.md.
type Registry struct {
	handles []transport.ConnectionHandle
}

// New builds a Registry over handles. The slice order fixes partition
// indices for the lifetime of the coordinator.
func New(handles []transport.ConnectionHandle) (*Registry, error) {
	if len(handles) == 0 {
		return nil, errors.New("partition registry requires at least one partition")
	}
	return &Registry{handles: append([]transport.ConnectionHandle(nil), handles...)}, nil
}

// Count returns the number of partitions.
func (r *Registry) Count() int { return len(r.handles) }

// Handle returns the connection for partition index p.
func (r *Registry) Handle(p int) transport.ConnectionHandle {
	return r.handles[p]
}

// IndexOf finds the partition index owning conn. Partition counts are
// small (tens, not thousands), so a linear scan is the right-sized
// tool here — the original dtxn coordinator does the same scan over
// partitions_ in responseReceived.
func (r *Registry) IndexOf(conn transport.ConnectionHandle) (int, error) {
	for i, h := range r.handles {
		if h == conn {
			return i, nil
		}
	}
	return -1, errors.Errorf("connection does not belong to any known partition")
}

// TODO: record the last response integrated per partition so a
// dependency reference to a transaction that aborted before
// last_partition_commit can be distinguished from one that never
// existed (see spec.md §9's open question on this).
