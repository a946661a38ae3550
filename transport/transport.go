// Package transport binds the coordinator's abstract "connection
// registry plus message server" collaborator (spec.md §6) to a
// concrete carrier. The wire protocol itself is explicitly out of
// spec.md's scope ("Network transport, event loop, and message
// server: treated as an abstract connection registry plus a timer
// service"), so MessageServer stays a plain send/callback interface;
// see DESIGN.md for why the concrete TCPServer below uses net.Conn +
// encoding/gob rather than a generated-stub RPC library.
package transport

import "github.com/orderdtxn/coordinator/wire"

// ConnectionHandle identifies one partition's connection. Concrete
// implementations compare handles by identity, mirroring
// net::ConnectionHandle* in the original dtxn project.
type ConnectionHandle interface{}

// ResponseCallback is invoked for every FragmentResponse a
// MessageServer receives, together with the connection it arrived on.
type ResponseCallback func(conn ConnectionHandle, resp wire.FragmentResponse)

// MessageServer is the collaborator contract spec.md §6 describes:
// send(conn, msg) -> bool, close_connection(conn),
// add_callback(FragmentResponse, fn), remove_callback(FragmentResponse, fn).
type MessageServer interface {
	// Send enqueues msg (a wire.Fragment or wire.CommitDecision) on
	// conn. It returns false if the send could not be queued at all;
	// it does not guarantee delivery.
	Send(conn ConnectionHandle, msg interface{}) bool
	CloseConnection(conn ConnectionHandle)
	AddCallback(cb ResponseCallback)
	RemoveCallback(cb ResponseCallback)
}
