package mx

import (
	"context"
	"time"

	"github.com/imdario/mergo"
)

// Trace defines optional instrumentation hooks. OnQueryPhase is read from
// the context passed to Client.Query (attached with WithTrace and read
// back with ContextTrace); OnConnect, OnReconnect and OnDispatch are read
// only from the Trace installed at construction with the manager, client
// or backend WithTrace option. Any nil field is simply not called;
// callers that want logging instead of ad hoc hooks should use a
// *zap.Logger passed to the relevant constructor.
type Trace struct {
	// OnConnect fires once a channel's socket is established.
	OnConnect func(address string)
	// OnReconnect fires when a replacement channel is scheduled after a
	// close, with the delay before it will be created.
	OnReconnect func(address string, delay time.Duration)
	// OnDispatch fires for every envelope the manager's dispatcher
	// processes, before de-duplication is applied.
	OnDispatch func(envelopeID uint64, messageType uint32)
	// OnQueryPhase fires on every phase transition of Client.Query, with
	// phase one of "direct", "search", "retransmit".
	OnQueryPhase func(queryID uint64, phase string)
}

type traceContextKey struct{}

// NoOpTrace has every hook nil.
var NoOpTrace = &Trace{}

// ContextTrace returns the Trace associated with ctx, or NoOpTrace if
// none was attached.
func ContextTrace(ctx context.Context) *Trace {
	t, _ := ctx.Value(traceContextKey{}).(*Trace)
	if t == nil {
		return NoOpTrace
	}
	merged := *t
	_ = mergo.Merge(&merged, *NoOpTrace)
	return &merged
}

// WithTrace returns a context carrying trace, for use by calls made
// with the returned context.
func WithTrace(ctx context.Context, trace *Trace) context.Context {
	return context.WithValue(ctx, traceContextKey{}, trace)
}
