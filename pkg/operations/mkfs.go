// Package operations implements the external collaborators that sit on top
// of a mounted volume rather than inside it: formatting a fresh disk,
// walking an existing one for structural consistency, and annotating its
// blocks for forensic inspection.
package operations

import (
	"encoding/binary"

	"github.com/AM-OperatingSystem/amfs/pkg/allocator"
	"github.com/AM-OperatingSystem/amfs/pkg/block"
	"github.com/AM-OperatingSystem/amfs/pkg/diskgroup"
	"github.com/AM-OperatingSystem/amfs/pkg/fsgroup"
	"github.com/AM-OperatingSystem/amfs/pkg/geometry"
	"github.com/AM-OperatingSystem/amfs/pkg/objectset"
	"github.com/AM-OperatingSystem/amfs/pkg/pointer"
	"github.com/AM-OperatingSystem/amfs/pkg/superblock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// mkfsGeo is the geometry slot a freshly formatted single-disk volume binds
// its sole disk group to.
const mkfsGeo = 0

// randomDevID generates a nonzero device ID from a random UUID. google/uuid
// stands in for the original's raw rand::random::<u64>() and the teacher's
// hand-rolled GPT UID generation in pkg/vimg/partitions.go.
func randomDevID() uint64 {
	for {
		id := uuid.New()
		v := binary.LittleEndian.Uint64(id[:8])
		if v != 0 {
			return v
		}
	}
}

// Mkfs formats d as a brand new single-disk AMFS volume: every block is
// erased, a random device ID is assigned, an allocator is seeded that
// reserves the four header locations, one geometry copy is written per
// superblock slot, a root FS group is bootstrapped with an allocator map
// holding this disk's allocator and an object set naming a single zero-fragment root directory object
// at id 0, and all four superblock copies are written pointing at it.
func Mkfs(d block.Disk) error {
	size, err := d.Size()
	if err != nil {
		return errors.Wrap(err, "operations: reading disk size")
	}

	var zero [block.Size]byte
	for i := uint64(0); i < size; i++ {
		if _, err := d.WriteAt(i, zero[:]); err != nil {
			return errors.Wrapf(err, "operations: erasing block %d", i)
		}
	}

	locs, err := block.HeaderLocs(d)
	if err != nil {
		return errors.Wrap(err, "operations: computing header locations")
	}

	devid := randomDevID()
	logrus.Infof("mkfs: formatting disk (%d blocks) with devid %x", size, devid)

	alloc := allocator.New(size)
	if err := alloc.MarkUsed(locs[0], 2); err != nil {
		return errors.Wrap(err, "operations: marking leading header blocks used")
	}
	if err := alloc.MarkUsed(locs[2], 2); err != nil {
		return errors.Wrap(err, "operations: marking trailing header blocks used")
	}

	sbs := [4]*superblock.Superblock{}
	for i := range sbs {
		sbs[i] = superblock.New(devid)
	}

	geo := geometry.New()
	geo.DeviceIDs[0] = devid

	for _, sb := range sbs {
		geoAddr, err := alloc.Alloc(1)
		if err != nil {
			return errors.Wrap(err, "operations: allocating geometry block")
		}
		geoPtr, err := geometry.Write(d, pointer.NewLocal(geoAddr), geo)
		if err != nil {
			return errors.Wrap(err, "operations: writing geometry")
		}
		sb.Geometries[0] = geoPtr
	}

	dg := diskgroup.Single(geo, d, alloc)
	gs := diskgroup.Groups{dg}

	root := fsgroup.New()

	objPtr, err := gs.AllocBlocks(mkfsGeo, 1)
	if err != nil {
		return errors.Wrap(err, "operations: allocating root object-list block")
	}
	rootListBlk := objectset.RootListBlock()
	if err := objPtr.Write(0, block.Size, gs, rootListBlk[:]); err != nil {
		return errors.Wrap(err, "operations: writing root object set")
	}
	if err := objPtr.Update(gs); err != nil {
		return errors.Wrap(err, "operations: checksumming root object set")
	}
	root.Objects = objPtr
	root.Directory = 0

	allocs := map[uint64]*allocator.Allocator{devid: alloc}
	if err := root.WriteAllocators(gs, allocs); err != nil {
		return errors.Wrap(err, "operations: writing root allocator map")
	}

	rootPtr, err := root.Write(gs, mkfsGeo)
	if err != nil {
		return errors.Wrap(err, "operations: writing root fs group")
	}

	for _, sb := range sbs {
		sb.Rootnodes[0] = rootPtr
		sb.LatestRoot = 0
	}
	for i, sb := range sbs {
		if err := sb.Write(d, locs[i]); err != nil {
			return errors.Wrapf(err, "operations: writing superblock copy %d", i)
		}
	}

	if err := d.Sync(); err != nil {
		return errors.Wrap(err, "operations: syncing formatted disk")
	}
	logrus.Infof("mkfs: volume ready, %d blocks free", alloc.FreeSpace())
	return nil
}
