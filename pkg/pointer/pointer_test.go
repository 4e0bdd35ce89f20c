package pointer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSize(t *testing.T) {
	require.Equal(t, 16, Size)
	require.Len(t, NullGlobal().Bytes(), Size)
}

func TestChecksum(t *testing.T) {
	p := ptr{Geometry: 0x7F}
	data := make([]byte, 4096)
	require.False(t, p.validate(data))
	p.update(data)
	require.True(t, p.validate(data))
}

func TestNull(t *testing.T) {
	require.True(t, NullGlobal().IsNull())
	require.True(t, NullLocal().IsNull())

	l := NewLocal(5)
	require.False(t, l.IsNull())
	require.Equal(t, uint64(5), l.Loc())
}

func TestGlobalRoundTrip(t *testing.T) {
	g := NewGlobal(42, 1, 3, 0)
	g.p.Checksum = 0xdeadbeef
	decoded := GlobalFromBytes(g.Bytes())
	require.Equal(t, g, decoded)
	require.EqualValues(t, 42, decoded.Loc())
	require.EqualValues(t, 3, decoded.Geo())
}
