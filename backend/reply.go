package backend

import (
	"context"
	"sync"

	"github.com/go-mx/mx/channel"
	"github.com/go-mx/mx/client"
	"github.com/go-mx/mx/manager"
	"github.com/go-mx/mx/wire"
)

// ReplyWriter enforces that a handler invocation produces exactly one
// observable effect: a reply, an explicit NoResponse, or an error
// returned to the caller (which the loop turns into a BACKEND_ERROR
// envelope unless a reply already went out).
type ReplyWriter struct {
	c      *client.Client
	origin *channel.Channel
	req    *wire.Envelope

	mu        sync.Mutex
	responded bool
	notified  bool
}

func newReplyWriter(c *client.Client, origin *channel.Channel, req *wire.Envelope) *ReplyWriter {
	return &ReplyWriter{c: c, origin: origin, req: req}
}

// Reply sends msgType/message back to the requester: To set to the
// request's From, References to the request's id, Workflow carried
// through unchanged, on the channel the request arrived on.
func (r *ReplyWriter) Reply(msgType wire.MessageType, message []byte) error {
	r.mu.Lock()
	if r.responded {
		r.mu.Unlock()
		return nil
	}
	r.responded = true
	r.mu.Unlock()

	resp := r.c.NewMessage(msgType, message)
	resp.To, resp.HasTo = r.req.From, true
	resp.References, resp.HasRefs = r.req.ID, true
	resp.Workflow = r.req.Workflow

	_, err := r.c.Send(resp, manager.TargetChannel(r.origin.ID)).Wait(context.Background())
	return err
}

// NoResponse records that this request deliberately produces no reply.
func (r *ReplyWriter) NoResponse() {
	r.mu.Lock()
	r.responded = true
	r.mu.Unlock()
}

// NotifyStarted emits a one-shot REQUEST_RECEIVED acknowledgement
// without consuming the "must respond" obligation; later calls are
// no-ops.
func (r *ReplyWriter) NotifyStarted() {
	r.mu.Lock()
	if r.notified {
		r.mu.Unlock()
		return
	}
	r.notified = true
	r.mu.Unlock()

	ack := r.c.NewMessage(wire.RequestReceived, nil)
	ack.To, ack.HasTo = r.req.From, true
	ack.References, ack.HasRefs = r.req.ID, true
	r.c.Send(ack, manager.TargetChannel(r.origin.ID))
}

func (r *ReplyWriter) hasResponded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.responded
}
