// Package channel implements per-connection Multiplexer state: the
// socket, inbound deframer, outbound queue, first-message (welcome)
// future, and reconnect policy.
package channel

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/go-mx/mx/future"
	"github.com/go-mx/mx/wire"
)

// ErrClosed is returned by operations attempted on a channel that has
// already been closed, and is the error a pending connect future fails
// with if the channel closes before the welcome arrives.
var ErrClosed = errors.New("channel: connection closed")

// Hooks lets the owning manager observe channel lifecycle events without
// the channel reaching back into manager internals. The callbacks run on
// the channel's own goroutines; the manager's channel map is mutated only
// by its reactor goroutine, so a callback that touches it posts a task
// rather than mutating it directly.
type Hooks struct {
	// OnConnect fires once the socket is up, before any frame has been
	// exchanged. The manager uses it to enqueue the welcome frame and
	// arm the heartbeat.
	OnConnect func(*Channel)
	// OnMessage fires for every decoded envelope, in wire order.
	OnMessage func(*Channel, *wire.Envelope)
	// OnClose fires exactly once, however the channel ended.
	OnClose func(*Channel, error)
}

// Channel owns one socket. It is not safe for concurrent use except
// through Enqueue and Close, which are safe from any goroutine; the read
// loop and the welcome/connect future are internal.
type Channel struct {
	ID      uuid.UUID
	Address string

	dialer Dialer
	hooks  Hooks
	log    *zap.Logger

	reconnectDelay time.Duration
	backoffPolicy  *backoff.ConstantBackOff

	mu              sync.Mutex
	conn            net.Conn
	outbound        *wire.ByteFIFO
	connected       bool
	welcomeReceived bool
	closed          bool

	connectFuture *future.Future[*Channel]
	writeTrigger  chan struct{}
}

// New constructs a Channel for address, not yet connected. reconnectDelay
// of zero disables reconnection.
func New(address string, dialer Dialer, reconnectDelay time.Duration, hooks Hooks, log *zap.Logger) *Channel {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Channel{
		ID:             uuid.New(),
		Address:        address,
		dialer:         dialer,
		hooks:          hooks,
		log:            log,
		reconnectDelay: reconnectDelay,
		outbound:       wire.NewByteFIFO(),
		connectFuture:  future.New[*Channel](),
		writeTrigger:   make(chan struct{}, 1),
	}
	if reconnectDelay > 0 {
		c.backoffPolicy = &backoff.ConstantBackOff{Interval: reconnectDelay}
	}
	return c
}

// ConnectFuture resolves to this channel once its welcome has been
// received, or fails if the channel closes first.
func (c *Channel) ConnectFuture() *future.Future[*Channel] {
	return c.connectFuture
}

// ReconnectEnabled reports whether this channel's policy calls for a
// replacement channel to be created after a close.
func (c *Channel) ReconnectEnabled() bool {
	return c.reconnectDelay > 0
}

// NextReconnectDelay returns the configured reconnect delay.
func (c *Channel) NextReconnectDelay() time.Duration {
	if c.backoffPolicy == nil {
		return 0
	}
	return c.backoffPolicy.NextBackOff()
}

// Connect dials the peer and starts the read loop. It returns once the
// socket is established; welcome/application traffic is handled
// asynchronously by the read loop.
func (c *Channel) Connect(ctx context.Context) error {
	conn, err := c.dialer.Dial(ctx, c.Address)
	if err != nil {
		c.fail(err)
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.log.Debug("channel connected", zap.String("channel", c.ID.String()), zap.String("address", c.Address))

	if c.hooks.OnConnect != nil {
		c.hooks.OnConnect(c)
	}

	go c.readLoop()
	go c.writeLoop()
	return nil
}

// Writable reports whether the channel currently has bytes queued to
// send, or has not yet connected: true when the outbound FIFO is
// non-empty or the socket is not yet connected.
func (c *Channel) Writable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.outbound.Empty() || !c.connected
}

// Enqueue accepts either raw frame bytes or an unframed envelope (which
// is serialized and framed). Empty payloads are dropped.
func (c *Channel) Enqueue(v any) {
	var framed []byte
	switch payload := v.(type) {
	case []byte:
		framed = payload
	case *wire.Envelope:
		framed = payload.EncodeFrame()
	default:
		panic("channel: Enqueue expects []byte or *wire.Envelope")
	}
	if len(framed) == 0 {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.outbound.Push(framed)
	c.mu.Unlock()

	select {
	case c.writeTrigger <- struct{}{}:
	default:
	}
}

// Close closes the underlying socket and fails the connect future if it
// is still pending. Safe to call more than once.
func (c *Channel) Close() {
	c.closeWith(ErrClosed)
}

func (c *Channel) closeWith(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	welcomeReceived := c.welcomeReceived
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	if !welcomeReceived {
		c.connectFuture.SetError(err)
	}

	if c.hooks.OnClose != nil {
		c.hooks.OnClose(c, err)
	}
}

func (c *Channel) fail(err error) {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.connectFuture.SetError(err)
	if c.hooks.OnClose != nil {
		c.hooks.OnClose(c, err)
	}
}

func (c *Channel) readLoop() {
	deframer := wire.NewDeframer()
	buf := make([]byte, 64*1024)

	var endErr error
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			frames, perr := deframer.Push(buf[:n])
			for _, frame := range frames {
				env, uerr := wire.UnmarshalEnvelope(frame)
				if uerr != nil {
					c.log.Warn("dropping unparseable frame", zap.Error(uerr))
					continue
				}
				c.onEnvelope(env)
			}
			if perr != nil {
				endErr = perr
				break
			}
		}
		if err != nil {
			if err == io.EOF {
				err = ErrClosed
			}
			endErr = err
			break
		}
	}
	c.closeWith(endErr)
}

func (c *Channel) onEnvelope(env *wire.Envelope) {
	c.mu.Lock()
	first := !c.welcomeReceived
	c.welcomeReceived = true
	c.mu.Unlock()

	if c.hooks.OnMessage != nil {
		c.hooks.OnMessage(c, env)
	}

	if first {
		c.connectFuture.Set(c)
	}
}

func (c *Channel) writeLoop() {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		pending := c.outbound.Empty()
		c.mu.Unlock()

		if pending {
			<-c.writeTrigger
			continue
		}

		c.mu.Lock()
		chunk := c.outbound.Peek()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil || chunk == nil {
			continue
		}

		n, err := conn.Write(chunk)
		if n > 0 {
			c.mu.Lock()
			c.outbound.Consume(n)
			c.mu.Unlock()
		}
		if err != nil {
			c.closeWith(err)
			return
		}
	}
}
