// Package block provides the fixed-size block I/O abstraction every other
// AMFS component is built on: a Disk reads and writes whole 4096-byte
// blocks and reports its size in blocks.
package block

import (
	"github.com/pkg/errors"
)

// Size is the fixed size, in bytes, of every on-disk block. All
// allocations are whole blocks.
const Size = 4096

// Disk is the storage abstraction every AMFS component reads and writes
// through. Implementations must treat partial I/O as fatal: buffers are
// always exactly one block.
type Disk interface {
	// ReadAt reads exactly one block at the given block index into buf,
	// which must be len(buf) == Size.
	ReadAt(block uint64, buf []byte) (int, error)
	// WriteAt writes exactly one block at the given block index from buf,
	// which must be len(buf) == Size.
	WriteAt(block uint64, buf []byte) (int, error)
	// Size returns the disk's capacity in blocks.
	Size() (uint64, error)
	// Sync flushes any buffered writes to durable media.
	Sync() error
}

// HeaderLocs returns the four canonical superblock locations for a disk of
// the given size: {0, 1, size-2, size-1}.
func HeaderLocs(d Disk) ([4]uint64, error) {
	var locs [4]uint64
	size, err := d.Size()
	if err != nil {
		return locs, errors.Wrap(err, "block: reading disk size")
	}
	if size < 4 {
		return locs, errors.New("block: disk too small to hold four superblock copies")
	}
	locs[0] = 0
	locs[1] = 1
	locs[2] = size - 2
	locs[3] = size - 1
	return locs, nil
}

func checkBuf(buf []byte) error {
	if len(buf) != Size {
		return errors.Errorf("block: buffer must be exactly %d bytes, got %d", Size, len(buf))
	}
	return nil
}

func errOutOfRange(block, size uint64) error {
	return errors.Errorf("block: block %d out of range (size %d)", block, size)
}
