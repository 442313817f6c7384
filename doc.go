// Package mx is a client library for the Multiplexer message bus: a
// mesh of servers that route framed, length-prefixed, CRC-validated
// protocol-buffer envelopes between named peer types.
//
// Applications use mx/client to connect to one or more servers, send
// point-to-point or broadcast messages, and perform request/response
// queries with backend discovery and retransmission; mx/backend runs a
// process as a backend that answers those queries. mx/wire, mx/channel,
// mx/manager, mx/dedup, mx/future and mx/scheduler implement the
// reactor, framing, and bookkeeping those two facades are built on.
//
// This package holds the pieces shared by all of them: configuration,
// optional tracing hooks, and the error taxonomy.
package mx
