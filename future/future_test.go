package future

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSetThenWait(t *testing.T) {
	f := New[int]()
	f.Set(42)

	v, err := f.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, 42, v)
}

func TestSetErrorThenWait(t *testing.T) {
	f := New[string]()
	boom := errors.New("boom")
	f.SetError(boom)

	_, err := f.Wait(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestWaitTimesOutWhilePending(t *testing.T) {
	f := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDoubleCompletionPanics(t *testing.T) {
	f := New[int]()
	f.Set(1)
	require.PanicsWithError(t, ErrAlreadyCompleted.Error(), func() {
		f.Set(2)
	})
}

func TestWaitAfterLateCompletion(t *testing.T) {
	f := New[int]()
	go func() {
		time.Sleep(5 * time.Millisecond)
		f.Set(7)
	}()

	v, err := f.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, 7, v)
}
