package fs

import (
	"bytes"
	"testing"

	"github.com/AM-OperatingSystem/amfs/pkg/amerr"
	"github.com/AM-OperatingSystem/amfs/pkg/block"
	"github.com/AM-OperatingSystem/amfs/pkg/operations"
	"github.com/stretchr/testify/require"
)

func mustFormat(t *testing.T) block.Disk {
	t.Helper()
	d := block.NewMem(1000)
	require.NoError(t, operations.Mkfs(d))
	return d
}

// S1: mount a freshly formatted volume.
func TestOpenFreshVolume(t *testing.T) {
	d := mustFormat(t)
	h, err := Open([]block.Disk{d})
	require.NoError(t, err)
	require.NotNil(t, h)
}

// S2: create an object, write into it, read it back within the same mount.
func TestCreateWriteReadObject(t *testing.T) {
	d := mustFormat(t)
	h, err := Open([]block.Disk{d})
	require.NoError(t, err)

	require.NoError(t, h.CreateObject(1, 4096))

	payload := bytes.Repeat([]byte{0xAB}, 4096)
	n, err := h.WriteObject(1, 0, payload)
	require.NoError(t, err)
	require.EqualValues(t, len(payload), n)

	out := make([]byte, 4096)
	n, err = h.ReadObject(1, 0, out)
	require.NoError(t, err)
	require.EqualValues(t, len(payload), n)
	require.Equal(t, payload, out)

	size, err := h.SizeObject(1)
	require.NoError(t, err)
	require.EqualValues(t, 4096, size)
}

// S3: grow an object past its initial single block via truncate, then
// write/read across the new length.
func TestTruncateGrowsObject(t *testing.T) {
	d := mustFormat(t)
	h, err := Open([]block.Disk{d})
	require.NoError(t, err)

	require.NoError(t, h.CreateObject(1, 4096))
	require.NoError(t, h.TruncateObject(1, 4096*3))

	size, err := h.SizeObject(1)
	require.NoError(t, err)
	require.EqualValues(t, 4096*3, size)

	payload := bytes.Repeat([]byte{0xCD}, 4096)
	_, err = h.WriteObject(1, 4096*2, payload)
	require.NoError(t, err)

	out := make([]byte, 4096)
	_, err = h.ReadObject(1, 4096*2, out)
	require.NoError(t, err)
	require.Equal(t, payload, out)
}

// S4: truncating down discards the tail.
func TestTruncateShrinksObject(t *testing.T) {
	d := mustFormat(t)
	h, err := Open([]block.Disk{d})
	require.NoError(t, err)

	require.NoError(t, h.CreateObject(1, 4096))
	require.NoError(t, h.TruncateObject(1, 4096*2))
	require.NoError(t, h.TruncateObject(1, 10))

	size, err := h.SizeObject(1)
	require.NoError(t, err)
	require.EqualValues(t, 10, size)
}

// S5: commit the transaction, then remount and confirm the written object
// survives across the superblock rotation.
func TestCommitAndRemount(t *testing.T) {
	d := mustFormat(t)
	h, err := Open([]block.Disk{d})
	require.NoError(t, err)

	require.NoError(t, h.CreateObject(1, 4096))
	payload := bytes.Repeat([]byte{0xEF}, 4096)
	_, err = h.WriteObject(1, 0, payload)
	require.NoError(t, err)

	require.NoError(t, h.Commit())

	h2, err := Open([]block.Disk{d})
	require.NoError(t, err)

	out := make([]byte, 4096)
	_, err = h2.ReadObject(1, 0, out)
	require.NoError(t, err)
	require.Equal(t, payload, out)
}

// S6: multiple commits each advance the transaction id and remain readable.
func TestMultipleCommitsAdvanceTxid(t *testing.T) {
	d := mustFormat(t)
	h, err := Open([]block.Disk{d})
	require.NoError(t, err)

	require.NoError(t, h.CreateObject(1, 4096))
	require.NoError(t, h.Commit())

	firstTxid := h.fs.curTxid

	payload := bytes.Repeat([]byte{0x11}, 4096)
	_, err = h.WriteObject(1, 0, payload)
	require.NoError(t, err)
	require.NoError(t, h.Commit())

	require.True(t, firstTxid.Less(h.fs.curTxid))

	h2, err := Open([]block.Disk{d})
	require.NoError(t, err)
	out := make([]byte, 4096)
	_, err = h2.ReadObject(1, 0, out)
	require.NoError(t, err)
	require.Equal(t, payload, out)
}

func TestAllocAfterFreeAndCommit(t *testing.T) {
	d := mustFormat(t)
	h, err := Open([]block.Disk{d})
	require.NoError(t, err)

	ptr, err := h.AllocBlocks(1)
	require.NoError(t, err)
	require.False(t, ptr.IsNull())

	require.NoError(t, h.Free(ptr))
	require.NoError(t, h.Commit())

	ptr2, err := h.AllocBlocks(1)
	require.NoError(t, err)
	require.False(t, ptr2.IsNull())
}

func TestReadUnknownObjectFails(t *testing.T) {
	d := mustFormat(t)
	h, err := Open([]block.Disk{d})
	require.NoError(t, err)

	out := make([]byte, 4096)
	_, err = h.ReadObject(999, 0, out)
	require.Error(t, err)
}

func TestPoisonedHandleRejectsFurtherCalls(t *testing.T) {
	d := mustFormat(t)
	h, err := Open([]block.Disk{d})
	require.NoError(t, err)

	h.poisoned = 1

	_, err = h.AllocBlocks(1)
	require.ErrorIs(t, err, amerr.ErrPoison)
}
