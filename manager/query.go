package manager

import (
	"context"
	"sync"

	mx "github.com/go-mx/mx"
)

const queryQueueDepth = 8

// QueryContext is a scoped binding of one or more envelope ids to a
// private delivery queue. Construct with Manager.QueryContext, register
// every id whose response should land on this context's queue, and
// always Close it — typically via defer — so every id it registered is
// removed from the manager's routing table, however the caller exits.
type QueryContext struct {
	m     *Manager
	queue chan Delivery

	mu  sync.Mutex
	ids map[uint64]struct{}
}

// QueryContext returns a new, empty QueryContext bound to this manager.
func (m *Manager) QueryContext() *QueryContext {
	return &QueryContext{
		m:     m,
		queue: make(chan Delivery, queryQueueDepth),
		ids:   make(map[uint64]struct{}),
	}
}

// Register installs id in the manager's routing table, pointed at this
// context's queue. Responses referencing id are delivered here instead
// of the manager's general incoming queue.
func (q *QueryContext) Register(id uint64) {
	q.mu.Lock()
	q.ids[id] = struct{}{}
	q.mu.Unlock()

	q.m.routeMu.Lock()
	q.m.routes[id] = q.queue
	q.m.routeMu.Unlock()
}

// Unregister removes id from the routing table. Any delivery already in
// flight for id lands in this context's queue and is simply never read
// once the context is abandoned — the queue itself is the devnull.
func (q *QueryContext) Unregister(id uint64) {
	q.mu.Lock()
	delete(q.ids, id)
	q.mu.Unlock()

	q.m.routeMu.Lock()
	delete(q.m.routes, id)
	q.m.routeMu.Unlock()
}

// Receive waits for the next delivery addressed to one of this context's
// registered ids.
func (q *QueryContext) Receive(ctx context.Context) (Delivery, error) {
	select {
	case d := <-q.queue:
		return d, nil
	case <-ctx.Done():
		return Delivery{}, mx.ErrOperationTimedOut
	case <-q.m.closed:
		return Delivery{}, &mx.TransportClosedError{}
	}
}

// Close unregisters every id this context still owns.
func (q *QueryContext) Close() {
	q.mu.Lock()
	ids := make([]uint64, 0, len(q.ids))
	for id := range q.ids {
		ids = append(ids, id)
	}
	q.mu.Unlock()

	for _, id := range ids {
		q.Unregister(id)
	}
}
