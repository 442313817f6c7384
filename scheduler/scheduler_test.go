package scheduler

import (
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/stretchr/testify/require"
)

func TestAfterFiresOnce(t *testing.T) {
	fc := fakeclock.NewFakeClock(time.Now())
	s := New(fc)
	s.Start()
	defer s.Stop()

	fired := make(chan struct{}, 10)
	s.After(10*time.Second, func() { fired <- struct{}{} })

	require.Eventually(t, func() bool {
		return fc.WatcherCount() > 0
	}, time.Second, time.Millisecond)

	fc.Increment(11 * time.Second)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("callback did not fire")
	}

	select {
	case <-fired:
		t.Fatal("one-shot callback fired twice")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestEveryFiresRepeatedly(t *testing.T) {
	fc := fakeclock.NewFakeClock(time.Now())
	s := New(fc)
	s.Start()
	defer s.Stop()

	fired := make(chan struct{}, 10)
	cancel := s.Every(5*time.Second, func() { fired <- struct{}{} })

	require.Eventually(t, func() bool {
		return fc.WatcherCount() > 0
	}, time.Second, time.Millisecond)

	for i := 0; i < 3; i++ {
		fc.Increment(6 * time.Second)
		select {
		case <-fired:
		case <-time.After(time.Second):
			t.Fatalf("callback did not fire on iteration %d", i)
		}
	}

	cancel()
}

func TestStopDrainsWithoutRunningCancelled(t *testing.T) {
	fc := fakeclock.NewFakeClock(time.Now())
	s := New(fc)
	s.Start()

	ran := false
	cancel := s.After(time.Second, func() { ran = true })
	cancel()

	s.Stop()
	require.False(t, ran)
}
