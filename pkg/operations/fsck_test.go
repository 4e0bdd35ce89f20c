package operations

import (
	"testing"

	"github.com/AM-OperatingSystem/amfs/pkg/block"
	"github.com/stretchr/testify/require"
)

func TestFsckCleanVolume(t *testing.T) {
	d := block.NewMem(1000)
	require.NoError(t, Mkfs(d))

	report, err := Fsck(d, false)
	require.NoError(t, err)
	require.Empty(t, report.Findings)
	require.Greater(t, report.BlocksScanned, 0)
}

func TestFsckDetectsBadSignature(t *testing.T) {
	d := block.NewMem(1000)
	require.NoError(t, Mkfs(d))

	var buf [block.Size]byte
	_, err := d.ReadAt(0, buf[:])
	require.NoError(t, err)
	buf[0] = 'X'
	_, err = d.WriteAt(0, buf[:])
	require.NoError(t, err)

	report, err := Fsck(d, false)
	require.NoError(t, err)
	require.NotEmpty(t, report.Findings)
	require.Equal(t, KindInvalidSuperblock, report.Findings[0].Kind)
}

func TestFsckHaltOnFirst(t *testing.T) {
	d := block.NewMem(1000)
	require.NoError(t, Mkfs(d))

	var buf [block.Size]byte
	for _, loc := range []uint64{0, 1} {
		_, err := d.ReadAt(loc, buf[:])
		require.NoError(t, err)
		buf[0] = 'X'
		_, err = d.WriteAt(loc, buf[:])
		require.NoError(t, err)
	}

	report, err := Fsck(d, true)
	require.NoError(t, err)
	require.Len(t, report.Findings, 1)
}

func TestReportYAML(t *testing.T) {
	r := &Report{BlocksScanned: 3, Findings: []Finding{{Location: "superblock@0", Kind: KindInvalidSuperblock}}}
	out, err := r.YAML()
	require.NoError(t, err)
	require.Contains(t, string(out), "invalid_superblock")
}
