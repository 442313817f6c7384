package client

import (
	"context"
	"encoding/binary"
	"time"

	mx "github.com/go-mx/mx"
	"github.com/go-mx/mx/manager"
	"github.com/go-mx/mx/wire"
)

// QueryOptions configures a single Query call. A zero value is usable:
// Timeout falls back to the client's configured default, and SkipResend
// defaults to false (retry via backend search is attempted).
type QueryOptions struct {
	Timeout    time.Duration
	SkipResend bool
	Workflow   []byte
}

// Query performs the three-phase request/response protocol: a direct
// attempt on a single channel, a backend-search broadcast if that fails
// or times out, and a wait for the retransmitted response once a live
// backend identifies itself. It returns the response envelope, or one of
// ErrOperationTimedOut, ErrOperationFailed, or a *BackendErrorResponse.
func (c *Client) Query(ctx context.Context, msgType wire.MessageType, message []byte, opts QueryOptions) (*wire.Envelope, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.cfg.DefaultQueryTimeout
	}

	qc := c.mgr.QueryContext()
	defer qc.Close()

	query := c.NewMessage(msgType, message)
	query.Workflow = opts.Workflow
	qc.Register(query.ID)

	trace := mx.ContextTrace(ctx)
	traceReport(trace, query.ID, "direct")

	if _, err := c.mgr.SendMessage(query, manager.TargetOne).Wait(ctx); err != nil {
		return nil, err
	}

	env, firstDeliveryErrored, capturedBackendError, err := c.queryPhase1(ctx, qc, query, timeout, opts.SkipResend)
	if err != nil {
		return nil, err
	}
	if env != nil {
		return finalize(env)
	}

	traceReport(trace, query.ID, "search")
	env, err = c.queryPhase2(ctx, qc, query, timeout, firstDeliveryErrored, capturedBackendError)
	if err != nil {
		return nil, err
	}
	return finalize(env)
}

// queryPhase1 performs the direct attempt. A nil envelope with a nil
// error means "fall through to phase 2"; firstDeliveryErrored and
// capturedBackendError carry state phase 2 needs.
func (c *Client) queryPhase1(
	ctx context.Context, qc *manager.QueryContext, query *wire.Envelope, timeout time.Duration, skipResend bool,
) (env *wire.Envelope, firstDeliveryErrored bool, capturedBackendError *wire.Envelope, err error) {
	deadline, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		d, rerr := qc.Receive(deadline)
		if rerr != nil {
			if skipResend {
				return nil, false, nil, mx.ErrOperationTimedOut
			}
			return nil, false, nil, nil
		}
		resp := d.Envelope
		switch resp.Type {
		case wire.RequestReceived:
			continue
		case wire.DeliveryError:
			if skipResend {
				return nil, false, nil, mx.ErrOperationFailed
			}
			return nil, true, nil, nil
		case wire.BackendError:
			return nil, false, resp, nil
		default:
			return resp, false, nil, nil
		}
	}
}

// queryPhase2 performs the backend-search broadcast and, once a live
// backend identifies itself, hands off to queryPhase3.
func (c *Client) queryPhase2(
	ctx context.Context, qc *manager.QueryContext, query *wire.Envelope, timeout time.Duration,
	firstDeliveryErrored bool, capturedBackendError *wire.Envelope,
) (*wire.Envelope, error) {
	searchPayload := make([]byte, 4)
	binary.BigEndian.PutUint32(searchPayload, uint32(query.Type)) //nolint:gosec
	search := c.NewMessage(wire.BackendForPacketSearch, searchPayload)
	qc.Register(search.ID)

	fanout, err := c.mgr.SendMessage(search, manager.TargetAll).Wait(ctx)
	if err != nil {
		return nil, err
	}
	if fanout == 0 {
		if capturedBackendError != nil {
			return capturedBackendError, nil
		}
		return nil, mx.ErrOperationFailed
	}
	remaining := fanout

	deadline, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		d, rerr := qc.Receive(deadline)
		if rerr != nil {
			if capturedBackendError != nil {
				return capturedBackendError, nil
			}
			return nil, mx.ErrOperationTimedOut
		}
		resp := d.Envelope

		switch {
		case resp.Type == wire.RequestReceived:
			continue

		case resp.Type == wire.Ping && resp.References == search.ID:
			qc.Unregister(search.ID)
			retransmitted := c.NewMessage(query.Type, query.Message)
			retransmitted.Workflow = query.Workflow
			qc.Register(retransmitted.ID)
			if _, err := c.mgr.SendMessage(retransmitted, manager.TargetChannel(d.Channel.ID)).Wait(ctx); err != nil {
				return nil, err
			}
			traceReport(mx.ContextTrace(ctx), query.ID, "retransmit")
			return c.queryPhase3(ctx, qc, query, retransmitted, timeout, firstDeliveryErrored, capturedBackendError)

		case resp.References == query.ID && resp.Type != wire.DeliveryError && resp.Type != wire.BackendError:
			return resp, nil

		case resp.Type == wire.DeliveryError && resp.References == query.ID:
			firstDeliveryErrored = true
			continue

		case (resp.Type == wire.DeliveryError || resp.Type == wire.BackendError) && resp.References == search.ID:
			if resp.Type == wire.BackendError && capturedBackendError == nil {
				capturedBackendError = resp
			}
			remaining--
			if remaining > 0 {
				continue
			}
			if firstDeliveryErrored {
				if capturedBackendError != nil {
					return capturedBackendError, nil
				}
				return nil, mx.ErrOperationFailed
			}
			qc.Unregister(search.ID)
			return c.queryAwaitDelayedResponse(ctx, qc, query, timeout, capturedBackendError)

		default:
			return nil, mx.ErrOperationFailed
		}
	}
}

// queryAwaitDelayedResponse waits once more for a late response to the
// original query after every search fan-out came back as DELIVERY_ERROR
// or BACKEND_ERROR while the direct attempt itself reported no delivery
// failure.
func (c *Client) queryAwaitDelayedResponse(
	ctx context.Context, qc *manager.QueryContext, query *wire.Envelope, timeout time.Duration, capturedBackendError *wire.Envelope,
) (*wire.Envelope, error) {
	deadline, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		d, rerr := qc.Receive(deadline)
		if rerr != nil {
			if capturedBackendError != nil {
				return capturedBackendError, nil
			}
			return nil, mx.ErrOperationTimedOut
		}
		resp := d.Envelope
		switch resp.Type {
		case wire.RequestReceived:
			continue
		case wire.DeliveryError:
			if capturedBackendError != nil {
				return capturedBackendError, nil
			}
			return nil, mx.ErrOperationFailed
		case wire.BackendError:
			return resp, nil
		default:
			return resp, nil
		}
	}
}

// queryPhase3 waits for the response to the retransmitted request sent
// directly to the backend that answered the search.
func (c *Client) queryPhase3(
	ctx context.Context, qc *manager.QueryContext, query, retransmitted *wire.Envelope, timeout time.Duration,
	firstDeliveryErrored bool, capturedBackendError *wire.Envelope,
) (*wire.Envelope, error) {
	deadline, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		d, rerr := qc.Receive(deadline)
		if rerr != nil {
			if capturedBackendError != nil {
				return capturedBackendError, nil
			}
			return nil, mx.ErrOperationTimedOut
		}
		resp := d.Envelope

		switch {
		case resp.Type == wire.RequestReceived:
			continue

		case resp.References == retransmitted.ID && resp.Type != wire.DeliveryError:
			return resp, nil

		case resp.Type == wire.DeliveryError && resp.References == retransmitted.ID:
			if capturedBackendError != nil {
				return capturedBackendError, nil
			}
			return nil, mx.ErrOperationFailed

		case resp.Type == wire.DeliveryError && resp.References == query.ID:
			firstDeliveryErrored = true
			continue

		case resp.Type == wire.BackendError:
			if capturedBackendError == nil {
				capturedBackendError = resp
			}
			continue

		default:
			continue
		}
	}
}

func finalize(env *wire.Envelope) (*wire.Envelope, error) {
	if env.Type == wire.BackendError {
		return nil, &mx.BackendErrorResponse{Message: env.Message}
	}
	return env, nil
}

func traceReport(t *mx.Trace, queryID uint64, phase string) {
	if t.OnQueryPhase != nil {
		t.OnQueryPhase(queryID, phase)
	}
}
