// Package backend implements the request handler loop: it pulls
// messages, invokes a registered handler per application message type,
// enforces the single-response contract, and answers the protocol's
// internal meta-packets (backend search, ping).
package backend

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	mx "github.com/go-mx/mx"
	"github.com/go-mx/mx/channel"
	"github.com/go-mx/mx/client"
	"github.com/go-mx/mx/manager"
	"github.com/go-mx/mx/wire"
)

// ErrNoHandler is the condition Serve's internal dispatch logs (at Debug
// level, with this error's text) when an application message type has no
// registered Handler; Serve does not return it and the requester never
// sees it. The original request is dropped, not
// answered with a BACKEND_ERROR — the distinction the Python original
// draws between "nobody is listening for this" and "the listener
// failed".
var ErrNoHandler = fmt.Errorf("backend: no handler registered for message type")

// Handler processes one request and must produce exactly one observable
// effect through reply: a call to Reply, a call to NoResponse, or a
// returned error (turned into a BACKEND_ERROR envelope by the loop,
// unless a reply already went out).
type Handler func(ctx context.Context, req *wire.Envelope, reply *ReplyWriter) error

// Backend runs a client connection as a request handler: connect to one
// or more servers, register handlers per application message type, then
// Serve.
type Backend struct {
	c   *client.Client
	log *zap.Logger

	mu       sync.RWMutex
	handlers map[wire.MessageType]Handler

	exceptionOccurred func(error) bool
}

type backendConfig struct {
	log               *zap.Logger
	clientOpts        []client.Option
	exceptionOccurred func(error) bool
}

// Option configures a Backend at construction time.
type Option func(*backendConfig)

// WithLogger attaches a structured logger, used both by the backend loop
// and forwarded to its underlying client.
func WithLogger(log *zap.Logger) Option {
	return func(cfg *backendConfig) {
		cfg.log = log
		cfg.clientOpts = append(cfg.clientOpts, client.WithLogger(log))
	}
}

// WithDialer overrides the transport dialer, primarily for tests.
func WithDialer(d channel.Dialer) Option {
	return func(cfg *backendConfig) {
		cfg.clientOpts = append(cfg.clientOpts, client.WithDialer(d))
	}
}

// WithTrace installs instrumentation hooks on the underlying client; see
// mx.Trace.
func WithTrace(t *mx.Trace) Option {
	return func(cfg *backendConfig) {
		cfg.clientOpts = append(cfg.clientOpts, client.WithTrace(t))
	}
}

// WithExceptionHandler installs the callback invoked whenever a handler
// returns an error (or panics). Returning false propagates the error out
// of Serve; returning true (the default) logs it and keeps serving.
func WithExceptionHandler(fn func(error) bool) Option {
	return func(cfg *backendConfig) { cfg.exceptionOccurred = fn }
}

// New constructs a Backend of the given peer type.
func New(cfg mx.Config, peerType wire.PeerType, opts ...Option) *Backend {
	bc := &backendConfig{
		log:               zap.NewNop(),
		exceptionOccurred: func(error) bool { return true },
	}
	for _, opt := range opts {
		opt(bc)
	}
	return &Backend{
		c:                 client.New(cfg, peerType, bc.clientOpts...),
		log:               bc.log,
		handlers:          make(map[wire.MessageType]Handler),
		exceptionOccurred: bc.exceptionOccurred,
	}
}

// Connect dials address with the given reconnect policy and blocks until
// the peer's welcome has been received or ctx is done.
func (b *Backend) Connect(ctx context.Context, address string, reconnectDelay time.Duration) error {
	_, err := b.c.Connect(ctx, address, reconnectDelay).Wait(ctx)
	return err
}

// HandleFunc registers fn as the handler for msgType, which must be an
// application type (greater than wire.MaxMetaPacket).
func (b *Backend) HandleFunc(msgType wire.MessageType, fn Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[msgType] = fn
}

// Close shuts down the underlying client.
func (b *Backend) Close() {
	b.c.Close()
}

// Serve runs the receive/dispatch loop until ctx is done or a handler's
// error propagates because ExceptionOccurred returned false.
func (b *Backend) Serve(ctx context.Context) error {
	for {
		env, ch, err := b.c.Receive(ctx)
		if err != nil {
			return err
		}
		if err := b.handleOne(ctx, env, ch); err != nil {
			return err
		}
	}
}

func (b *Backend) handleOne(ctx context.Context, env *wire.Envelope, ch *channel.Channel) error {
	if wire.MessageType(env.Type).IsMeta() {
		b.handleMeta(env, ch)
		return nil
	}

	b.mu.RLock()
	handler, ok := b.handlers[wire.MessageType(env.Type)]
	b.mu.RUnlock()
	if !ok {
		b.log.Debug(ErrNoHandler.Error(), zap.Uint32("type", uint32(env.Type)))
		return nil
	}

	reply := newReplyWriter(b.c, ch, env)
	herr := b.invoke(ctx, handler, env, reply)
	if herr == nil {
		return nil
	}

	if !reply.hasResponded() {
		errEnv := b.c.NewMessage(wire.BackendError, []byte(herr.Error()))
		errEnv.To, errEnv.HasTo = env.From, true
		errEnv.References, errEnv.HasRefs = env.ID, true
		errEnv.Workflow = env.Workflow
		b.c.Send(errEnv, manager.TargetChannel(ch.ID))
	}

	if !b.exceptionOccurred(herr) {
		return herr
	}
	b.log.Error("handler failed", zap.Uint32("type", uint32(env.Type)), zap.Error(herr))
	return nil
}

// invoke calls handler, recovering a panic into an error so it follows
// the same BACKEND_ERROR/ExceptionOccurred path as a returned error.
func (b *Backend) invoke(ctx context.Context, handler Handler, env *wire.Envelope, reply *ReplyWriter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("backend: handler panic: %v", r)
		}
	}()
	return handler(ctx, env, reply)
}

func (b *Backend) handleMeta(env *wire.Envelope, ch *channel.Channel) {
	switch wire.MessageType(env.Type) {
	case wire.BackendForPacketSearch:
		b.mu.RLock()
		_, handles := b.handlers[searchPayloadType(env.Message)]
		b.mu.RUnlock()
		if !handles {
			return
		}
		pong := b.c.NewMessage(wire.Ping, nil)
		pong.To, pong.HasTo = env.From, true
		pong.References, pong.HasRefs = env.ID, true
		b.c.Send(pong, manager.TargetChannel(ch.ID))

	case wire.Ping:
		if !env.HasRefs {
			echo := b.c.NewMessage(wire.Ping, env.Message)
			echo.To, echo.HasTo = env.From, true
			b.c.Send(echo, manager.TargetChannel(ch.ID))
		}
		// PING carrying references is a response to one of our own
		// searches; the query state machine consumes those, not Serve.

	default:
		b.log.Debug("unhandled meta packet", zap.Uint32("type", uint32(env.Type)))
	}
}

// searchPayloadType decodes the application message type a
// BACKEND_FOR_PACKET_SEARCH envelope is asking about.
func searchPayloadType(message []byte) wire.MessageType {
	if len(message) < 4 {
		return 0
	}
	return wire.MessageType(binary.BigEndian.Uint32(message))
}
