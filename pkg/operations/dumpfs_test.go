package operations

import (
	"bytes"
	"testing"

	"github.com/AM-OperatingSystem/amfs/pkg/block"
	"github.com/stretchr/testify/require"
)

func TestDumpfsClassifiesFreshVolume(t *testing.T) {
	d := block.NewMem(1000)
	require.NoError(t, Mkfs(d))

	inv, err := Dumpfs(d)
	require.NoError(t, err)
	require.EqualValues(t, 1000, inv.TotalBlocks)

	counts := map[BlockType]int{}
	for _, be := range inv.Blocks {
		counts[be.Type]++
	}
	require.Equal(t, 4, counts[BlockSuperblock])
	require.Equal(t, 4, counts[BlockGeometry])
	require.Equal(t, 1, counts[BlockFSGroup])
	require.Equal(t, 1, counts[BlockAllocList])
	require.Equal(t, 1, counts[BlockAlloc])
	require.Equal(t, 1, counts[BlockObjects])
	require.Zero(t, counts[BlockError])
}

func TestDumpfsYAML(t *testing.T) {
	d := block.NewMem(1000)
	require.NoError(t, Mkfs(d))

	inv, err := Dumpfs(d)
	require.NoError(t, err)
	out, err := inv.YAML()
	require.NoError(t, err)
	require.Contains(t, string(out), "total_blocks")
}

func TestDumpfsWriteHex(t *testing.T) {
	d := block.NewMem(1000)
	require.NoError(t, Mkfs(d))

	inv, err := Dumpfs(d)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, inv.WriteHex(&buf, d))
	require.Contains(t, buf.String(), "[superblock]")
}
