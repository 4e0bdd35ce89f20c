package objectset

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderFragmentSizes(t *testing.T) {
	require.Equal(t, 16, ListHeaderSize)
	require.Equal(t, 32, FragmentSize)
}

func TestObjectSize(t *testing.T) {
	o := NewObject([]Fragment{{Size: 3}, {Size: 5}})
	require.EqualValues(t, 8, o.Size())
}

func TestTruncateShrinkDropsFragment(t *testing.T) {
	o := NewObject([]Fragment{{Size: 4}, {Size: 4}})
	require.NoError(t, o.Truncate(nil, 4))
	require.Len(t, o.Frags, 1)
	require.EqualValues(t, 4, o.Size())
}

func TestTruncateShrinkWithinFragment(t *testing.T) {
	o := NewObject([]Fragment{{Size: 8}})
	require.NoError(t, o.Truncate(nil, 4))
	require.Len(t, o.Frags, 1)
	require.EqualValues(t, 4, o.Size())
}

func TestTruncateToZeroFromEmptyIsNoop(t *testing.T) {
	o := NewObject(nil)
	require.NoError(t, o.Truncate(nil, 0))
	require.Empty(t, o.Frags)
}
