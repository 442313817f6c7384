package manager

import (
	"go.uber.org/zap"

	"github.com/go-mx/mx/channel"
	"github.com/go-mx/mx/wire"
)

// dispatch runs on the channel's own read goroutine, not the reactor: the
// routing table and de-duplication set are mutex/lock-protected precisely
// so this can happen without a reactor round-trip per message.
func (m *Manager) dispatch(c *channel.Channel, env *wire.Envelope) {
	if m.trace.OnDispatch != nil {
		m.trace.OnDispatch(env.ID, uint32(env.Type))
	}

	m.dedupMu.Lock()
	fresh := m.dedup.Add(env.ID)
	m.dedupMu.Unlock()
	if !fresh {
		m.log.Debug("dropping duplicate envelope", zap.Uint64("id", env.ID))
		return
	}

	switch wire.MessageType(env.Type) {
	case wire.ConnectionWelcome, wire.Heartbit:
		return
	}

	d := Delivery{Envelope: env, Channel: c}

	if env.HasRefs {
		m.routeMu.Lock()
		ch, ok := m.routes[env.References]
		m.routeMu.Unlock()
		if ok {
			select {
			case ch <- d:
				return
			default:
				// A full query queue means the caller stopped
				// reading; fall through to the general queue rather
				// than block the channel's read loop.
			}
		}
	}

	select {
	case m.incoming <- d:
	default:
		m.log.Warn("incoming queue full, dropping envelope", zap.Uint64("id", env.ID))
	}
}
