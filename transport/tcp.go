package transport

import (
	"encoding/gob"
	"net"
	"sync"

	"github.com/ngaut/log"
	"github.com/pingcap/errors"
	"golang.org/x/sync/errgroup"

	"github.com/orderdtxn/coordinator/wire"
)

// frame is the single envelope type gob carries over the wire: at
// most one of the three payload fields is set.
type frame struct {
	Fragment *wire.Fragment
	Decision *wire.CommitDecision
	Response *wire.FragmentResponse
}

// conn wraps a net.Conn as a ConnectionHandle: handles compare by the
// *conn pointer's identity, matching net::ConnectionHandle* in the
// original dtxn project.
type conn struct {
	nc  net.Conn
	enc *gob.Encoder
}

// TCPServer is the concrete MessageServer binding: one dialed TCP
// connection per partition, gob-framed. Each connection's read loop
// runs in an errgroup; Wait returns the first error once every read
// loop has exited. A read loop that fails does not close the other
// connections, and there is no accept loop.
type TCPServer struct {
	mu        sync.Mutex
	callbacks []ResponseCallback

	group *errgroup.Group
}

// NewTCPServer returns a server with no connections yet. Callers
// build one ConnectionHandle per partition with Dial, in partition
// index order, then construct a partition.Registry over them.
func NewTCPServer() *TCPServer {
	return &TCPServer{group: new(errgroup.Group)}
}

// Dial connects to a partition listening at addr and starts reading
// FragmentResponses from it in the background.
func (s *TCPServer) Dial(addr string) (ConnectionHandle, error) {
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, errors.Annotatef(err, "dial partition at %s", addr)
	}
	c := &conn{nc: nc, enc: gob.NewEncoder(nc)}
	s.group.Go(func() error { return s.readLoop(c) })
	return c, nil
}

func (s *TCPServer) readLoop(c *conn) error {
	dec := gob.NewDecoder(c.nc)
	for {
		var f frame
		if err := dec.Decode(&f); err != nil {
			log.Errorf("partition connection read failed: %v", err)
			return err
		}
		if f.Response == nil {
			continue
		}
		s.mu.Lock()
		cbs := append([]ResponseCallback(nil), s.callbacks...)
		s.mu.Unlock()
		for _, cb := range cbs {
			cb(c, *f.Response)
		}
	}
}

func (s *TCPServer) Send(handle ConnectionHandle, msg interface{}) bool {
	c, ok := handle.(*conn)
	if !ok {
		return false
	}
	f := frame{}
	switch m := msg.(type) {
	case wire.Fragment:
		f.Fragment = &m
	case *wire.Fragment:
		f.Fragment = m
	case wire.CommitDecision:
		f.Decision = &m
	case *wire.CommitDecision:
		f.Decision = m
	default:
		log.Errorf("transport: unknown outgoing message type %T", msg)
		return false
	}
	if err := c.enc.Encode(f); err != nil {
		log.Errorf("transport: send failed: %v", err)
		return false
	}
	return true
}

func (s *TCPServer) CloseConnection(handle ConnectionHandle) {
	if c, ok := handle.(*conn); ok {
		_ = c.nc.Close()
	}
}

func (s *TCPServer) AddCallback(cb ResponseCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, cb)
}

func (s *TCPServer) RemoveCallback(cb ResponseCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	target := reflectAddr(cb)
	for i, c := range s.callbacks {
		if reflectAddr(c) == target {
			s.callbacks = append(s.callbacks[:i], s.callbacks[i+1:]...)
			break
		}
	}
}

// Wait blocks until every connection's read loop has exited, e.g.
// after CloseConnection has been called on all of them.
func (s *TCPServer) Wait() error {
	return s.group.Wait()
}
