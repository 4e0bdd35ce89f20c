package operations

import (
	"testing"

	"github.com/AM-OperatingSystem/amfs/pkg/block"
	"github.com/AM-OperatingSystem/amfs/pkg/diskgroup"
	"github.com/AM-OperatingSystem/amfs/pkg/fsgroup"
	"github.com/AM-OperatingSystem/amfs/pkg/objectset"
	"github.com/AM-OperatingSystem/amfs/pkg/superblock"
	"github.com/stretchr/testify/require"
)

func TestMkfs(t *testing.T) {
	d := block.NewMem(1000)
	require.NoError(t, Mkfs(d))

	locs, err := block.HeaderLocs(d)
	require.NoError(t, err)
	require.Equal(t, [4]uint64{0, 1, 998, 999}, locs)

	var devid uint64
	for i, loc := range locs {
		sb, err := superblock.Read(d, loc)
		require.NoError(t, err)
		if i == 0 {
			devid = sb.DevID
		} else {
			require.Equal(t, devid, sb.DevID)
		}
		require.Equal(t, uint8(0), sb.LatestRoot)
	}
	require.NotZero(t, devid)
}

func TestMkfsRootGroupHasOnlyDirectoryObject(t *testing.T) {
	d := block.NewMem(1000)
	require.NoError(t, Mkfs(d))

	locs, err := block.HeaderLocs(d)
	require.NoError(t, err)
	sb, err := superblock.Read(d, locs[0])
	require.NoError(t, err)

	geo, err := sb.GetGeometry(d, 0)
	require.NoError(t, err)
	require.NotZero(t, geo.DeviceIDs[0])

	dg, err := diskgroup.FromGeo(geo, []uint64{sb.DevID}, []block.Disk{d})
	require.NoError(t, err)
	gs := diskgroup.Groups{dg}

	root, err := sb.GetGroup(gs)
	require.NoError(t, err)
	require.Equal(t, fsgroup.Txid{}, root.Txid)
	require.False(t, root.Objects.IsNull())
	require.EqualValues(t, 0, root.Directory)

	ok, err := root.Objects.Validate(gs)
	require.NoError(t, err)
	require.True(t, ok)

	os := objectset.ObjectSet{Ptr: root.Objects}
	dirObj, err := os.GetObject(gs, root.Directory)
	require.NoError(t, err)
	require.NotNil(t, dirObj)
	require.Empty(t, dirObj.Frags)

	missing, err := os.GetObject(gs, 1)
	require.NoError(t, err)
	require.Nil(t, missing)

	allocs, err := root.GetAllocators(gs)
	require.NoError(t, err)
	require.Contains(t, allocs, sb.DevID)
	require.EqualValues(t, 1000, allocs[sb.DevID].TotalSpace())
}
