package testutil

import (
	"fmt"
	"net"
	"time"

	"github.com/go-mx/mx/wire"
)

// Conn wraps a raw socket with frame-level send/receive, for test code
// that scripts Multiplexer traffic directly instead of going through
// mx/channel.
type Conn struct {
	nc      net.Conn
	def     *wire.Deframer
	pending [][]byte
}

// Send frames and writes env.
func (c *Conn) Send(env *wire.Envelope) error {
	_, err := c.nc.Write(env.EncodeFrame())
	return err
}

// Recv reads and decodes the next envelope, waiting up to timeout.
func (c *Conn) Recv(timeout time.Duration) (*wire.Envelope, error) {
	if len(c.pending) > 0 {
		next := c.pending[0]
		c.pending = c.pending[1:]
		return wire.UnmarshalEnvelope(next)
	}

	if err := c.nc.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	buf := make([]byte, 4096)
	for {
		n, err := c.nc.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("testutil: read: %w", err)
		}
		frames, err := c.def.Push(buf[:n])
		if err != nil {
			return nil, fmt.Errorf("testutil: deframe: %w", err)
		}
		if len(frames) > 0 {
			c.pending = frames[1:]
			return wire.UnmarshalEnvelope(frames[0])
		}
	}
}

// Close closes the underlying socket.
func (c *Conn) Close() error {
	return c.nc.Close()
}

// RemoteAddr returns the socket's remote address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.nc.RemoteAddr()
}
