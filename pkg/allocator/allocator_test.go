package allocator

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocFree(t *testing.T) {
	a := New(100)
	require.EqualValues(t, 100, a.FreeSpace())

	addr, err := a.Alloc(10)
	require.NoError(t, err)
	require.EqualValues(t, 0, addr)
	require.EqualValues(t, 90, a.FreeSpace())
	require.EqualValues(t, 10, a.UsedSpace())

	require.NoError(t, a.Free(addr))
	require.EqualValues(t, 100, a.FreeSpace())
}

func TestAllocExactMatchPreferred(t *testing.T) {
	a := New(20)
	a1, err := a.Alloc(5)
	require.NoError(t, err)
	require.NoError(t, a.Free(a1))

	a2, err := a.Alloc(5)
	require.NoError(t, err)
	require.Equal(t, a1, a2)
}

func TestAllocFailure(t *testing.T) {
	a := New(4)
	_, err := a.Alloc(5)
	require.Error(t, err)
}

func TestMarkUsed(t *testing.T) {
	a := New(10005)
	require.NoError(t, a.MarkUsed(10000, 5))
	require.EqualValues(t, 10000, a.FreeSpace())
	require.EqualValues(t, 5, a.UsedSpace())
}

func TestAllocManyFailsWhenFull(t *testing.T) {
	a := New(4)
	a.MarkUsed(0, 4)
	_, err := a.AllocMany(1)
	require.Error(t, err)
}

func TestRandomizedAllocFree(t *testing.T) {
	a := New(10005)
	var allocated []uint64
	for i := 0; i < 2000; i++ {
		sz := uint64(rand.Intn(4) + 1)
		addr, err := a.Alloc(sz)
		require.NoError(t, err)
		allocated = append(allocated, addr)
	}
	require.NoError(t, a.MarkUsed(10000, 5))
	for _, addr := range allocated {
		require.NoError(t, a.Free(addr))
	}
}
