package dedup

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddReturnsTrueOnceThenFalse(t *testing.T) {
	s := New(10)
	require.True(t, s.Add(1))
	require.False(t, s.Add(1))
	require.False(t, s.Add(1))
	require.True(t, s.Add(2))
}

func TestCapacityBound(t *testing.T) {
	s := New(3)
	for id := uint64(0); id < 100; id++ {
		s.Add(id)
	}
	require.LessOrEqual(t, s.Len(), 3)
}

func TestOldestEvictedFirst(t *testing.T) {
	s := New(2)
	require.True(t, s.Add(1))
	require.True(t, s.Add(2))
	require.True(t, s.Add(3)) // evicts 1
	require.True(t, s.Add(1)) // 1 was evicted, so this is "first sight" again
}
