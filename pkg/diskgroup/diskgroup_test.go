package diskgroup

import (
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/AM-OperatingSystem/amfs/pkg/allocator"
	"github.com/AM-OperatingSystem/amfs/pkg/geometry"
	"github.com/AM-OperatingSystem/amfs/pkg/llg"
	"github.com/stretchr/testify/require"

	"github.com/AM-OperatingSystem/amfs/pkg/block"
)

func memSingle(t *testing.T, size uint64) Groups {
	t.Helper()
	d := block.NewMem(size)
	g := geometry.New()
	a := allocator.New(size)
	dg := Single(g, d, a)
	return Groups{dg}
}

func TestLLGRoundTripEmpty(t *testing.T) {
	gs := memSingle(t, 10000)
	var a []uint32

	marshal := func(v uint32) []byte {
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, v)
		return b
	}
	unmarshal := func(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }

	ptr, err := llg.Write(gs, 0, a, 4, marshal)
	require.NoError(t, err)

	got, err := llg.Read(gs, ptr, 4, unmarshal)
	require.NoError(t, err)
	require.Equal(t, a, got)
}

func TestLLGRoundTripMany(t *testing.T) {
	gs := memSingle(t, 10000)
	var a []uint32
	for i := 0; i < 2000; i++ {
		a = append(a, rand.Uint32())
	}

	marshal := func(v uint32) []byte {
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, v)
		return b
	}
	unmarshal := func(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }

	ptr, err := llg.Write(gs, 0, a, 4, marshal)
	require.NoError(t, err)

	got, err := llg.Read(gs, ptr, 4, unmarshal)
	require.NoError(t, err)
	require.Equal(t, a, got)
}

func TestAllocatorRoundTrip(t *testing.T) {
	gs := memSingle(t, 10000)

	alloc := allocator.New(10005)
	for i := 0; i < 500; i++ {
		_, err := alloc.Alloc(1)
		require.NoError(t, err)
	}
	require.NoError(t, alloc.MarkUsed(10000, 5))

	ptr, err := alloc.Write(gs, 0)
	require.NoError(t, err)

	got, err := allocator.Read(gs, ptr)
	require.NoError(t, err)
	require.Equal(t, alloc.Extents(), got.Extents())
	require.Equal(t, alloc.TotalSpace(), got.TotalSpace())
}

func TestAllocBytesSplitsFragments(t *testing.T) {
	gs := memSingle(t, 10000)
	runs, err := gs.AllocBytes(0, block.Size+100)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.EqualValues(t, block.Size, runs[0].Size)
	require.EqualValues(t, 100, runs[1].Size)
}
