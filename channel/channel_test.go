package channel

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"

	"github.com/go-mx/mx/wire"
)

func pipeDialer(t *testing.T, server net.Conn) Dialer {
	t.Helper()
	ctrl := gomock.NewController(t)
	d := NewMockDialer(ctrl)
	d.EXPECT().Dial(gomock.Any(), gomock.Any()).Return(server, nil)
	return d
}

func TestChannelConnectFutureResolvesOnFirstEnvelope(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	defer serverSide.Close()

	var received []*wire.Envelope
	c := New("peer:1", pipeDialer(t, clientSide), 0, Hooks{
		OnMessage: func(_ *Channel, e *wire.Envelope) { received = append(received, e) },
	}, nil)

	require.NoError(t, c.Connect(context.Background()))

	hello := &wire.Envelope{ID: 1, From: 2, Type: wire.ConnectionWelcome, Timestamp: 1}
	go func() { _, _ = serverSide.Write(hello.EncodeFrame()) }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resolved, err := c.ConnectFuture().Wait(ctx)
	require.NoError(t, err)
	require.Same(t, c, resolved)
	require.Len(t, received, 1)
	require.Equal(t, hello.ID, received[0].ID)
}

func TestChannelCloseBeforeWelcomeFailsConnectFuture(t *testing.T) {
	clientSide, serverSide := net.Pipe()

	c := New("peer:1", pipeDialer(t, clientSide), 0, Hooks{}, nil)
	require.NoError(t, c.Connect(context.Background()))

	serverSide.Close() // peer hangs up without ever sending a welcome

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := c.ConnectFuture().Wait(ctx)
	require.Error(t, err)
}

func TestChannelEnqueueDeliversFramedBytes(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	defer serverSide.Close()

	c := New("peer:1", pipeDialer(t, clientSide), 0, Hooks{}, nil)
	require.NoError(t, c.Connect(context.Background()))

	env := &wire.Envelope{ID: 9, From: 1, Type: wire.Heartbit, Timestamp: 1}
	c.Enqueue(env)

	buf := make([]byte, len(env.EncodeFrame()))
	_, err := readFull(serverSide, buf)
	require.NoError(t, err)

	got, err := wire.DecodeFrame(buf)
	require.NoError(t, err)
	decoded, err := wire.UnmarshalEnvelope(got)
	require.NoError(t, err)
	require.Equal(t, env.ID, decoded.ID)
}

func readFull(r net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestChannelWritableReflectsFIFOAndConnectionState(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	defer serverSide.Close()
	defer clientSide.Close()

	c := New("peer:1", pipeDialer(t, clientSide), 0, Hooks{}, nil)
	require.True(t, c.Writable(), "unconnected channel is writable")

	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool { return !c.Writable() }, time.Second, time.Millisecond)
}
