// Package client implements the application-facing facade: instance
// identity, message construction defaults, send/event/receive/query, and
// connect futures, layered on top of mx/manager.
package client

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	mx "github.com/go-mx/mx"
	"github.com/go-mx/mx/channel"
	"github.com/go-mx/mx/future"
	"github.com/go-mx/mx/manager"
	"github.com/go-mx/mx/wire"
)

// Client is a peer instance: an id, a peer type, and a connections
// manager fanning out to however many servers Connect has been called
// against.
type Client struct {
	instanceID uint64
	peerType   wire.PeerType
	cfg        mx.Config
	log        *zap.Logger
	mgr        *manager.Manager
}

// Option configures a Client at construction time.
type Option func(*Client, *[]manager.Option)

// WithLogger attaches a structured logger, used both by the client and
// forwarded to its manager.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client, mopts *[]manager.Option) {
		c.log = log
		*mopts = append(*mopts, manager.WithLogger(log))
	}
}

// WithDialer overrides the manager's transport dialer, primarily for
// tests.
func WithDialer(d channel.Dialer) Option {
	return func(c *Client, mopts *[]manager.Option) {
		*mopts = append(*mopts, manager.WithDialer(d))
	}
}

// WithTrace installs instrumentation hooks on the underlying manager; see
// mx.Trace.
func WithTrace(t *mx.Trace) Option {
	return func(c *Client, mopts *[]manager.Option) {
		*mopts = append(*mopts, manager.WithTrace(t))
	}
}

// WithInstanceID pins the instance id instead of generating one
// randomly, primarily for tests that assert on from/to fields.
func WithInstanceID(id uint64) Option {
	return func(c *Client, _ *[]manager.Option) { c.instanceID = id }
}

// New constructs a Client of the given peer type. The welcome frame
// announcing instanceID and peerType is built once here and handed to
// the manager to send on every channel it opens.
func New(cfg mx.Config, peerType wire.PeerType, opts ...Option) *Client {
	c := &Client{
		instanceID: rand.Uint64(), //nolint:gosec
		peerType:   peerType,
		cfg:        mx.Merge(cfg),
		log:        zap.NewNop(),
	}
	var mopts []manager.Option
	for _, opt := range opts {
		opt(c, &mopts)
	}

	welcome := &wire.Welcome{ID: c.instanceID, Type: peerType}
	welcomeFrame := (&wire.Envelope{
		ID:        rand.Uint64(), //nolint:gosec
		From:      c.instanceID,
		Type:      wire.ConnectionWelcome,
		Timestamp: nowSeconds(),
		Message:   welcome.Marshal(),
	}).EncodeFrame()

	c.mgr = manager.New(c.cfg, welcomeFrame, mopts...)
	return c
}

// InstanceID returns this client's peer instance id.
func (c *Client) InstanceID() uint64 { return c.instanceID }

// Connect dials address, with automatic reconnection after
// reconnectDelay (zero disables it), and returns a future resolved once
// the peer's welcome has been received.
func (c *Client) Connect(ctx context.Context, address string, reconnectDelay time.Duration) *future.Future[*channel.Channel] {
	return c.mgr.Connect(ctx, address, reconnectDelay)
}

// NewMessage builds an envelope with the standard defaults filled in: a
// random id, From set to this client's instance id, and the current
// timestamp. Callers set Type and Message (and, optionally, To,
// References and Workflow) before sending.
func (c *Client) NewMessage(msgType wire.MessageType, message []byte) *wire.Envelope {
	return &wire.Envelope{
		ID:        rand.Uint64(), //nolint:gosec
		From:      c.instanceID,
		Type:      msgType,
		Timestamp: nowSeconds(),
		Message:   message,
	}
}

// Send enqueues env per target and resolves to the number of channels it
// was enqueued onto.
func (c *Client) Send(env *wire.Envelope, target manager.Target) *future.Future[int] {
	return c.mgr.SendMessage(env, target)
}

// Event is Send with ALL as the implicit target: it broadcasts env on
// every connected channel, relying on dedup at the receiving end so the
// application still observes it exactly once.
func (c *Client) Event(env *wire.Envelope) *future.Future[int] {
	return c.mgr.SendMessage(env, manager.TargetAll)
}

// Receive pulls the next envelope not claimed by any query context.
func (c *Client) Receive(ctx context.Context) (*wire.Envelope, *channel.Channel, error) {
	d, err := c.mgr.Receive(ctx)
	if err != nil {
		return nil, nil, err
	}
	return d.Envelope, d.Channel, nil
}

// Close shuts down the underlying manager, failing every pending connect
// future and closing every channel.
func (c *Client) Close() {
	c.mgr.Close()
}

func nowSeconds() uint32 {
	return uint32(time.Now().Unix()) //nolint:gosec
}
