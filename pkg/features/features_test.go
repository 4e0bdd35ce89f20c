package features

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCurrentHasBaseOnly(t *testing.T) {
	b := Current()
	require.True(t, b.Test(Base))
	require.False(t, b.Test(Never))
}

func TestSupportedRejectsUnknownBit(t *testing.T) {
	b := Current()
	b.Set(Feature(500))
	require.False(t, Supported(b, CurrentSet()))
}

func TestSupportedAcceptsKnownBits(t *testing.T) {
	require.True(t, Supported(Current(), CurrentSet()))
}

func TestBitmapSize(t *testing.T) {
	var b Bitmap
	require.Len(t, b, 256)
}
