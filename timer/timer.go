// Package timer adapts time.AfterFunc into the CreateTimeout/
// ResetTimeout/CancelTimeout event-loop contract spec.md §6 requires
// of the coordinator's collaborators, modeled on the schedule/tick
// bookkeeping in kv/raftstore/ticker.go but simplified to one-shot
// wall-clock timers since the coordinator needs a single per-round
// deadline, not a repeating tick.
package timer

import (
	"sync"
	"time"
)

// Handle is a live, cancellable timeout.
type Handle interface {
	Cancel()
}

// EventLoop schedules and cancels one-shot timeouts. Fired callbacks
// run on whatever goroutine the underlying implementation chooses;
// callers that must serialize onto a single coordinator goroutine
// should have fn re-post itself (see coordinator.Coordinator.Post).
type EventLoop interface {
	CreateTimeout(d time.Duration, fn func()) Handle
	ResetTimeout(h Handle, d time.Duration)
	CancelTimeout(h Handle)
}

type realEventLoop struct{}

// New returns an EventLoop backed by time.AfterFunc.
func New() EventLoop {
	return realEventLoop{}
}

type realHandle struct {
	mu    sync.Mutex
	timer *time.Timer
	fn    func()
}

func (realEventLoop) CreateTimeout(d time.Duration, fn func()) Handle {
	h := &realHandle{fn: fn}
	h.timer = time.AfterFunc(d, fn)
	return h
}

func (realEventLoop) ResetTimeout(h Handle, d time.Duration) {
	rh := h.(*realHandle)
	rh.mu.Lock()
	defer rh.mu.Unlock()
	rh.timer.Reset(d)
}

func (realEventLoop) CancelTimeout(h Handle) {
	rh := h.(*realHandle)
	rh.mu.Lock()
	defer rh.mu.Unlock()
	rh.timer.Stop()
}

func (h *realHandle) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.timer.Stop()
}
