package superblock

import (
	"testing"

	"github.com/AM-OperatingSystem/amfs/pkg/block"
	"github.com/AM-OperatingSystem/amfs/pkg/features"
	"github.com/stretchr/testify/require"
)

func TestOffsets(t *testing.T) {
	require.Equal(t, 2047, offLatestRoot)
	require.Equal(t, 2048, offRootnodes)
	require.Equal(t, block.Size, offRootnodes+rootnodeSlots*16)
}

func TestSize(t *testing.T) {
	sb := New(1)
	buf := sb.marshal()
	require.Len(t, buf, block.Size)
}

func TestChecksumRoundTrip(t *testing.T) {
	sb := New(1)
	sb.UpdateChecksum()
	require.True(t, sb.VerifyChecksum())
	sb.DevID = 2
	require.False(t, sb.VerifyChecksum())
}

func TestWriteReadRoundTrip(t *testing.T) {
	d := block.NewMem(4)
	sb := New(42)
	require.NoError(t, sb.Write(d, 0))

	got, err := Read(d, 0)
	require.NoError(t, err)
	require.Equal(t, sb.DevID, got.DevID)
}

func TestFeatureTest(t *testing.T) {
	sb := New(1)
	require.False(t, sb.TestFeatures(nil))
	require.True(t, sb.TestFeatures([]features.Feature{features.Base}))
	require.True(t, sb.TestFeatures([]features.Feature{features.Base, features.Never}))

	sb.Features.Set(features.Never)
	require.False(t, sb.TestFeatures([]features.Feature{features.Base}))
}
