// Package testutil implements a minimal in-process Multiplexer peer:
// a TCP listener that performs the welcome handshake and hands the
// caller a thin wrapper to script further protocol traffic by hand.
// It exists for integration tests of mx/manager, mx/client and
// mx/backend that need a real socket rather than mocked transport.
package testutil

import (
	"fmt"
	"net"
	"time"

	"github.com/go-mx/mx/wire"
)

// Server accepts connections and completes the welcome handshake on
// each, serving as the "server side" of a Multiplexer mesh for tests.
type Server struct {
	ln         net.Listener
	peerType   wire.PeerType
	instanceID uint64
}

// NewServer starts listening on 127.0.0.1:0 and returns once ready.
func NewServer(peerType wire.PeerType, instanceID uint64) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("testutil: listen: %w", err)
	}
	return &Server{ln: ln, peerType: peerType, instanceID: instanceID}, nil
}

// Addr returns the host:port the server is listening on.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	return s.ln.Close()
}

// Accept waits for the next inbound connection, sends this server's
// welcome frame, reads and returns the peer's welcome, and hands back a
// Conn for scripting further traffic.
func (s *Server) Accept() (*Conn, *wire.Welcome, error) {
	nc, err := s.ln.Accept()
	if err != nil {
		return nil, nil, err
	}
	return handshake(nc, s.peerType, s.instanceID)
}

// AcceptNoWelcome waits for the next inbound connection and immediately
// closes it without sending a welcome frame, for testing that a
// connect future fails when the peer never identifies itself.
func (s *Server) AcceptNoWelcome() error {
	nc, err := s.ln.Accept()
	if err != nil {
		return err
	}
	return nc.Close()
}

func handshake(nc net.Conn, peerType wire.PeerType, instanceID uint64) (*Conn, *wire.Welcome, error) {
	c := &Conn{nc: nc, def: wire.NewDeframer()}

	welcome := &wire.Welcome{ID: instanceID, Type: peerType}
	hello := &wire.Envelope{
		ID:        instanceID,
		From:      instanceID,
		Type:      wire.ConnectionWelcome,
		Timestamp: uint32(time.Now().Unix()), //nolint:gosec
		Message:   welcome.Marshal(),
	}
	if err := c.Send(hello); err != nil {
		return nil, nil, err
	}

	peerHello, err := c.Recv(5 * time.Second)
	if err != nil {
		return nil, nil, fmt.Errorf("testutil: waiting for peer welcome: %w", err)
	}
	peerWelcome, err := wire.UnmarshalWelcome(peerHello.Message)
	if err != nil {
		return nil, nil, fmt.Errorf("testutil: decoding peer welcome: %w", err)
	}
	return c, peerWelcome, nil
}

// Dial connects directly to address and performs the same handshake a
// Server.Accept does, for tests acting as the "other side" without
// going through mx/client.
func Dial(address string, peerType wire.PeerType, instanceID uint64) (*Conn, *wire.Welcome, error) {
	nc, err := net.Dial("tcp", address)
	if err != nil {
		return nil, nil, err
	}
	return handshake(nc, peerType, instanceID)
}
