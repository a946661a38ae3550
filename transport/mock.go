package transport

import (
	"reflect"
	"sync"

	"github.com/orderdtxn/coordinator/wire"
)

func reflectAddr(cb ResponseCallback) uintptr {
	return reflect.ValueOf(cb).Pointer()
}

// Mock is an in-memory MessageServer for tests: Send records every
// message instead of putting it on a wire, and test code calls
// Deliver to simulate a partition's reply. Modeled on
// kv/tikv/inner_server/mock_transport.go's in-memory router stand-in.
type Mock struct {
	mu        sync.Mutex
	sent      []SentMessage
	callbacks []ResponseCallback
	closed    map[ConnectionHandle]bool
}

// SentMessage records one Send call for test assertions.
type SentMessage struct {
	Conn ConnectionHandle
	Msg  interface{}
}

// NewMock returns an empty Mock message server.
func NewMock() *Mock {
	return &Mock{closed: make(map[ConnectionHandle]bool)}
}

func (m *Mock) Send(conn ConnectionHandle, msg interface{}) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed[conn] {
		return false
	}
	m.sent = append(m.sent, SentMessage{Conn: conn, Msg: msg})
	return true
}

func (m *Mock) CloseConnection(conn ConnectionHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed[conn] = true
}

func (m *Mock) AddCallback(cb ResponseCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

func (m *Mock) RemoveCallback(cb ResponseCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	target := reflectAddr(cb)
	for i, c := range m.callbacks {
		if reflectAddr(c) == target {
			m.callbacks = append(m.callbacks[:i], m.callbacks[i+1:]...)
			break
		}
	}
}

// Deliver simulates conn replying with resp: every registered
// callback is invoked synchronously, on the caller's goroutine.
func (m *Mock) Deliver(conn ConnectionHandle, resp wire.FragmentResponse) {
	m.mu.Lock()
	cbs := append([]ResponseCallback(nil), m.callbacks...)
	m.mu.Unlock()
	for _, cb := range cbs {
		cb(conn, resp)
	}
}

// Sent returns every message recorded by Send so far, in order.
func (m *Mock) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.sent...)
}

// SentTo filters Sent to messages addressed to conn.
func (m *Mock) SentTo(conn ConnectionHandle) []interface{} {
	var out []interface{}
	for _, s := range m.Sent() {
		if s.Conn == conn {
			out = append(out, s.Msg)
		}
	}
	return out
}
