package manager_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	mx "github.com/go-mx/mx"
	"github.com/go-mx/mx/internal/testutil"
	"github.com/go-mx/mx/manager"
	"github.com/go-mx/mx/wire"
)

func newTestWelcome(instanceID uint64, peerType wire.PeerType) []byte {
	w := &wire.Welcome{ID: instanceID, Type: peerType}
	return (&wire.Envelope{
		ID:        instanceID,
		From:      instanceID,
		Type:      wire.ConnectionWelcome,
		Timestamp: uint32(time.Now().Unix()), //nolint:gosec
		Message:   w.Marshal(),
	}).EncodeFrame()
}

func TestManagerConnectResolvesAfterServerWelcome(t *testing.T) {
	srv, err := testutil.NewServer(wire.Multiplexer, 100)
	require.NoError(t, err)
	defer srv.Close()

	accepted := make(chan *testutil.Conn, 1)
	go func() {
		c, _, err := srv.Accept()
		require.NoError(t, err)
		accepted <- c
	}()

	m := manager.New(mx.DefaultConfig, newTestWelcome(1, wire.AllTypes))
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	f := m.Connect(ctx, srv.Addr(), 0)
	ch, err := f.Wait(ctx)
	require.NoError(t, err)
	require.NotNil(t, ch)

	<-accepted
}

func TestManagerSendMessageOneDeliversToServer(t *testing.T) {
	srv, err := testutil.NewServer(wire.Multiplexer, 200)
	require.NoError(t, err)
	defer srv.Close()

	serverConnCh := make(chan *testutil.Conn, 1)
	go func() {
		c, _, err := srv.Accept()
		require.NoError(t, err)
		serverConnCh <- c
	}()

	m := manager.New(mx.DefaultConfig, newTestWelcome(1, wire.AllTypes))
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = m.Connect(ctx, srv.Addr(), 0).Wait(ctx)
	require.NoError(t, err)

	serverConn := <-serverConnCh

	env := &wire.Envelope{ID: 7, From: 1, Type: 5000, Message: []byte("hi")}
	n, err := m.SendMessage(env, manager.TargetOne).Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := serverConn.Recv(time.Second)
	require.NoError(t, err)
	require.Equal(t, env.ID, got.ID)
	require.Equal(t, []byte("hi"), got.Message)
}

func TestManagerDeduplicatesAcrossChannels(t *testing.T) {
	srvA, err := testutil.NewServer(wire.Multiplexer, 300)
	require.NoError(t, err)
	defer srvA.Close()
	srvB, err := testutil.NewServer(wire.Multiplexer, 301)
	require.NoError(t, err)
	defer srvB.Close()

	connA := make(chan *testutil.Conn, 1)
	connB := make(chan *testutil.Conn, 1)
	go func() { c, _, _ := srvA.Accept(); connA <- c }()
	go func() { c, _, _ := srvB.Accept(); connB <- c }()

	m := manager.New(mx.DefaultConfig, newTestWelcome(1, wire.AllTypes))
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = m.Connect(ctx, srvA.Addr(), 0).Wait(ctx)
	require.NoError(t, err)
	_, err = m.Connect(ctx, srvB.Addr(), 0).Wait(ctx)
	require.NoError(t, err)

	a := <-connA
	b := <-connB

	dup := &wire.Envelope{ID: 555, From: 999, Type: 6000, Message: []byte("x")}
	require.NoError(t, a.Send(dup))
	require.NoError(t, b.Send(dup))

	d, err := m.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(555), d.Envelope.ID)

	shortCtx, cancel2 := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel2()
	_, err = m.Receive(shortCtx)
	require.Error(t, err, "second delivery of the same id must be suppressed")
}

func TestManagerReconnectsAfterChannelCloses(t *testing.T) {
	srv, err := testutil.NewServer(wire.Multiplexer, 400)
	require.NoError(t, err)
	defer srv.Close()

	accepted := make(chan *testutil.Conn, 2)
	go func() {
		for i := 0; i < 2; i++ {
			c, _, err := srv.Accept()
			if err != nil {
				return
			}
			accepted <- c
		}
	}()

	m := manager.New(mx.DefaultConfig, newTestWelcome(1, wire.AllTypes))
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = m.Connect(ctx, srv.Addr(), 50*time.Millisecond).Wait(ctx)
	require.NoError(t, err)

	var first *testutil.Conn
	select {
	case first = <-accepted:
	case <-time.After(time.Second):
		t.Fatal("server never accepted the first connection")
	}
	require.NoError(t, first.Close())

	select {
	case <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("manager did not reconnect after the channel closed")
	}
}
