// Package manager implements the connections manager: the reactor
// goroutine, the channel set, the welcome frame, the heartbeat timer,
// the incoming queue, the query-routing table, and the de-duplication
// set.
package manager

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	mx "github.com/go-mx/mx"
	"github.com/go-mx/mx/channel"
	"github.com/go-mx/mx/dedup"
	"github.com/go-mx/mx/future"
	"github.com/go-mx/mx/scheduler"
	"github.com/go-mx/mx/wire"
)

// Manager owns the reactor goroutine, the channel set, and everything
// that set touches. The channel map is mutated only from the reactor
// goroutine; every other caller posts a closure onto the task queue.
type Manager struct {
	cfg          mx.Config
	log          *zap.Logger
	trace        *mx.Trace
	welcomeFrame []byte
	dialer       channel.Dialer

	sched   *scheduler.Scheduler
	dedup   *dedup.RecentSet
	dedupMu sync.Mutex

	tasks chan func()

	// routeMu guards routes and is usable from any goroutine: the
	// routing table is mutex-protected rather than reactor-exclusive,
	// since dispatch happens on each channel's own reader goroutine and
	// would otherwise force a reactor round-trip per message. dedupMu
	// guards dedup the same way: dispatch runs concurrently across
	// channels, and RecentSet.Add's Contains-then-Add is not atomic on
	// its own.
	routeMu sync.Mutex
	routes  map[uint64]chan Delivery

	incoming chan Delivery

	closeOnce sync.Once
	closed    chan struct{}

	// reactor-owned state; touched only inside run() or a task it executes.
	channels map[uuid.UUID]*channel.Channel

	heartbeatMu sync.Mutex
	heartbeats  map[uuid.UUID]scheduler.CancelFunc
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithLogger attaches a structured logger.
func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithDialer overrides the default TCP dialer, primarily for tests.
func WithDialer(d channel.Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// WithClock overrides the scheduler's time source, primarily for tests.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.sched = scheduler.New(c) }
}

// WithTrace installs instrumentation hooks fired on connect, reconnect and
// dispatch. Set once at construction since onChannelConnect, onChannelClose
// and dispatch run on goroutines with no per-call context to thread a trace
// through.
func WithTrace(t *mx.Trace) Option {
	return func(m *Manager) { m.trace = t }
}

// New constructs a Manager. welcomeFrame is the fully-built Welcome
// frame (already framed), sent on every newly connected channel before
// any application traffic.
func New(cfg mx.Config, welcomeFrame []byte, opts ...Option) *Manager {
	cfg = mx.Merge(cfg)
	m := &Manager{
		cfg:          cfg,
		log:          zap.NewNop(),
		trace:        mx.NoOpTrace,
		welcomeFrame: welcomeFrame,
		dialer:       channel.NetDialer{},
		dedup:        dedup.New(cfg.DedupCapacity),
		tasks:        make(chan func(), 64),
		routes:       make(map[uint64]chan Delivery),
		incoming:     make(chan Delivery, 256),
		closed:       make(chan struct{}),
		channels:     make(map[uuid.UUID]*channel.Channel),
		heartbeats:   make(map[uuid.UUID]scheduler.CancelFunc),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.sched == nil {
		m.sched = scheduler.New(clock.NewClock())
	}
	m.sched.Start()
	go m.run()
	return m
}

// run is the reactor loop: the sole goroutine that ever touches m.channels.
func (m *Manager) run() {
	for {
		select {
		case task := <-m.tasks:
			task()
		case <-m.closed:
			return
		}
	}
}

// post schedules fn to run on the reactor goroutine and blocks until it
// has: this is how application operations cross into reactor-owned
// state.
func (m *Manager) post(fn func()) {
	done := make(chan struct{})
	select {
	case m.tasks <- func() { fn(); close(done) }:
		<-done
	case <-m.closed:
	}
}

// Connect dials address and returns the channel's connect future, which
// resolves once its welcome has been received.
func (m *Manager) Connect(ctx context.Context, address string, reconnectDelay time.Duration) *future.Future[*channel.Channel] {
	var ch *channel.Channel
	ch = channel.New(address, m.dialer, reconnectDelay, channel.Hooks{
		OnConnect: func(c *channel.Channel) { m.onChannelConnect(c) },
		OnMessage: func(c *channel.Channel, e *wire.Envelope) { m.dispatch(c, e) },
		OnClose:   func(c *channel.Channel, err error) { m.onChannelClose(c, err) },
	}, m.log)

	m.post(func() {
		m.channels[ch.ID] = ch
	})

	if err := ch.Connect(ctx); err != nil {
		m.post(func() { delete(m.channels, ch.ID) })
	}

	return ch.ConnectFuture()
}

func (m *Manager) onChannelConnect(c *channel.Channel) {
	if m.trace.OnConnect != nil {
		m.trace.OnConnect(c.Address)
	}
	c.Enqueue(m.welcomeFrame)
	cancel := m.sched.Every(m.cfg.HeartbeatWriteInterval, func() {
		c.Enqueue((&wire.Envelope{
			ID:        randU64(),
			Type:      wire.Heartbit,
			Timestamp: uint32(time.Now().Unix()), //nolint:gosec
		}))
	})
	m.heartbeatMu.Lock()
	m.heartbeats[c.ID] = cancel
	m.heartbeatMu.Unlock()
	m.log.Debug("channel connected", zap.String("channel", c.ID.String()))
}

func (m *Manager) onChannelClose(c *channel.Channel, err error) {
	m.log.Warn("channel closed", zap.String("channel", c.ID.String()), zap.Error(err))

	m.heartbeatMu.Lock()
	if cancel, ok := m.heartbeats[c.ID]; ok {
		cancel()
		delete(m.heartbeats, c.ID)
	}
	m.heartbeatMu.Unlock()

	m.post(func() {
		delete(m.channels, c.ID)
	})

	select {
	case <-m.closed:
		return
	default:
	}

	if c.ReconnectEnabled() {
		delay := c.NextReconnectDelay()
		if m.trace.OnReconnect != nil {
			m.trace.OnReconnect(c.Address, delay)
		}
		m.sched.After(delay, func() {
			select {
			case <-m.closed:
				return
			default:
			}
			// Reconnection creates a brand new channel and connect
			// future; the old, failed future is never reused.
			_ = m.Connect(context.Background(), c.Address, delay)
		})
	}
}

// SendMessage enqueues env per target and resolves to the number of
// channels it was enqueued onto.
func (m *Manager) SendMessage(env *wire.Envelope, target Target) *future.Future[int] {
	f := future.New[int]()
	m.post(func() {
		switch target.kind {
		case targetAll:
			n := 0
			for _, c := range m.channels {
				c.Enqueue(env)
				n++
			}
			f.Set(n)

		case targetChannel:
			c, ok := m.channels[target.channelID]
			if !ok {
				f.SetError(mx.ErrNoConnectedChannel)
				return
			}
			c.Enqueue(env)
			f.Set(1)

		default: // targetOne
			candidates := m.connectedChannels()
			if len(candidates) == 0 {
				f.SetError(mx.ErrNoConnectedChannel)
				return
			}
			pick := candidates[rand.IntN(len(candidates))] //nolint:gosec
			pick.Enqueue(env)
			f.Set(1)
		}
	})
	return f
}

// connectedChannels returns the channels whose peer welcome has been
// received, i.e. whose connect future resolved successfully.
func (m *Manager) connectedChannels() []*channel.Channel {
	out := make([]*channel.Channel, 0, len(m.channels))
	for _, c := range m.channels {
		select {
		case <-c.ConnectFuture().Done():
			if _, err := c.ConnectFuture().Wait(context.Background()); err == nil {
				out = append(out, c)
			}
		default:
		}
	}
	return out
}

// Receive pulls the next envelope from the general incoming queue,
// blocking until one arrives, ctx is done, or the manager closes.
func (m *Manager) Receive(ctx context.Context) (Delivery, error) {
	select {
	case d := <-m.incoming:
		return d, nil
	case <-ctx.Done():
		return Delivery{}, mx.ErrOperationTimedOut
	case <-m.closed:
		return Delivery{}, &mx.TransportClosedError{}
	}
}

// Close is idempotent: it cancels the reactor, closes every channel, and
// stops the scheduler.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		// Snapshot while the reactor is still guaranteed to be running:
		// once m.closed is closed, a queued snapshot task might never
		// be drained, since run() also selects on m.closed.
		var channels []*channel.Channel
		m.post(func() {
			for _, c := range m.channels {
				channels = append(channels, c)
			}
		})

		close(m.closed)

		for _, c := range channels {
			c.Close()
		}
		m.sched.Stop()
	})
}

func randU64() uint64 {
	return rand.Uint64()
}
