package geometry

import (
	"testing"

	"github.com/AM-OperatingSystem/amfs/pkg/block"
	"github.com/stretchr/testify/require"
)

func TestSize(t *testing.T) {
	g := New()
	buf := g.Marshal()
	require.Len(t, buf, block.Size)
}

func TestRoundTrip(t *testing.T) {
	g := New()
	g.DeviceIDs[0] = 12345
	g.Flavor = Single
	buf := g.Marshal()
	g2 := Unmarshal(buf)
	require.Equal(t, g, g2)
}

func TestCheckFlavor(t *testing.T) {
	require.NoError(t, CheckFlavor(Single))
	require.Error(t, CheckFlavor(Striped))
	require.Error(t, CheckFlavor(Mirrored))
}
