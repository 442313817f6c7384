package backend_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	mx "github.com/go-mx/mx"
	"github.com/go-mx/mx/backend"
	"github.com/go-mx/mx/internal/testutil"
	"github.com/go-mx/mx/wire"
)

var errHandlerFailed = errors.New("handler failed")

func connectBackend(t *testing.T) (*backend.Backend, *testutil.Conn) {
	t.Helper()
	srv, err := testutil.NewServer(wire.Multiplexer, 700)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })

	serverConnCh := make(chan *testutil.Conn, 1)
	go func() {
		c, _, err := srv.Accept()
		require.NoError(t, err)
		serverConnCh <- c
	}()

	b := backend.New(mx.DefaultConfig, wire.AllTypes)
	t.Cleanup(b.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, b.Connect(ctx, srv.Addr(), 0))

	return b, <-serverConnCh
}

func TestBackendRepliesFromHandler(t *testing.T) {
	b, conn := connectBackend(t)

	b.HandleFunc(1000, func(_ context.Context, req *wire.Envelope, reply *backend.ReplyWriter) error {
		return reply.Reply(req.Type, append([]byte("echo:"), req.Message...))
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go func() { _ = b.Serve(ctx) }()

	req := &wire.Envelope{ID: 1, From: 700, To: 0, Type: 1000, Message: []byte("hi")}
	require.NoError(t, conn.Send(req))

	resp, err := conn.Recv(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, []byte("echo:hi"), resp.Message)
	require.Equal(t, req.ID, resp.References)
	require.True(t, resp.HasRefs)
}

func TestBackendConvertsHandlerErrorToBackendError(t *testing.T) {
	b, conn := connectBackend(t)

	b.HandleFunc(1001, func(_ context.Context, req *wire.Envelope, reply *backend.ReplyWriter) error {
		return errHandlerFailed
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go func() { _ = b.Serve(ctx) }()

	req := &wire.Envelope{ID: 2, From: 700, Type: 1001, Message: []byte("x")}
	require.NoError(t, conn.Send(req))

	resp, err := conn.Recv(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, wire.BackendError, resp.Type)
	require.Equal(t, req.ID, resp.References)
}

func TestBackendAnswersBackendSearch(t *testing.T) {
	b, conn := connectBackend(t)
	b.HandleFunc(1002, func(_ context.Context, _ *wire.Envelope, reply *backend.ReplyWriter) error {
		reply.NoResponse()
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go func() { _ = b.Serve(ctx) }()

	search := &wire.Envelope{ID: 3, From: 700, Type: wire.BackendForPacketSearch, Message: []byte{0, 0, 0x03, 0xEA}}
	require.NoError(t, conn.Send(search))

	resp, err := conn.Recv(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, wire.Ping, resp.Type)
	require.Equal(t, search.ID, resp.References)
}
