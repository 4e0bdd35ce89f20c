// Package diskgroup binds a geometry to its concrete disks and per-disk
// allocators, and is the layer that actually dispatches pointer I/O and
// block allocation across them. In v1 only the Single flavor is backed by
// real disk routing; Striped/Mirrored are recognized but rejected.
package diskgroup

import (
	"github.com/AM-OperatingSystem/amfs/pkg/allocator"
	"github.com/AM-OperatingSystem/amfs/pkg/amerr"
	"github.com/AM-OperatingSystem/amfs/pkg/block"
	"github.com/AM-OperatingSystem/amfs/pkg/geometry"
	"github.com/AM-OperatingSystem/amfs/pkg/pointer"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DiskGroup is a geometry plus the disks and allocators it's bound to.
type DiskGroup struct {
	Geo    *geometry.Geometry
	disks  []block.Disk
	allocs []*allocator.Allocator
}

// Single creates a disk group over a single disk.
func Single(g *geometry.Geometry, d block.Disk, a *allocator.Allocator) *DiskGroup {
	return &DiskGroup{Geo: g, disks: []block.Disk{d}, allocs: []*allocator.Allocator{a}}
}

// FromGeo builds a disk group by resolving each of g's nonzero device IDs
// against the known devids/disks, in superblock-load order.
func FromGeo(g *geometry.Geometry, devids []uint64, disks []block.Disk) (*DiskGroup, error) {
	var bound []block.Disk
	for _, devid := range g.DeviceIDs {
		if devid == 0 {
			break
		}
		idx := -1
		for i, d := range devids {
			if d == devid {
				idx = i
				break
			}
		}
		if idx == -1 {
			return nil, amerr.ErrUnknownDevID
		}
		bound = append(bound, disks[idx])
	}
	return &DiskGroup{Geo: g, disks: bound}, nil
}

// LoadAllocators binds this group's per-disk allocators from a devid-keyed
// map, in the same device order as the geometry.
func (g *DiskGroup) LoadAllocators(allocs map[uint64]*allocator.Allocator) error {
	g.allocs = g.allocs[:0]
	for _, devid := range g.Geo.DeviceIDs {
		if devid == 0 {
			break
		}
		a, ok := allocs[devid]
		if !ok {
			return amerr.ErrNoAllocator
		}
		g.allocs = append(g.allocs, a)
	}
	return nil
}

// GetDisk returns the nth bound disk.
func (g *DiskGroup) GetDisk(n uint8) (block.Disk, error) {
	if int(n) >= len(g.disks) || g.Geo.DeviceIDs[n] == 0 {
		return nil, amerr.ErrDiskID
	}
	return g.disks[n], nil
}

func (g *DiskGroup) diskForFlavor() (block.Disk, error) {
	if err := geometry.CheckFlavor(g.Geo.Flavor); err != nil {
		return nil, err
	}
	return g.GetDisk(0)
}

// readAt/writeAt dispatch a block op according to the group's flavor. Only
// Single is implemented.
func (g *DiskGroup) readAt(loc uint64, buf []byte) error {
	d, err := g.diskForFlavor()
	if err != nil {
		return err
	}
	_, err = d.ReadAt(loc, buf)
	return errors.Wrap(err, "diskgroup: reading")
}

func (g *DiskGroup) writeAt(loc uint64, buf []byte) error {
	d, err := g.diskForFlavor()
	if err != nil {
		return err
	}
	_, err = d.WriteAt(loc, buf)
	return errors.Wrap(err, "diskgroup: writing")
}

// allocBlock allocates a single block from this group's (sole, in Single
// flavor) allocator and returns its local address.
func (g *DiskGroup) allocBlock() (uint64, error) {
	if err := geometry.CheckFlavor(g.Geo.Flavor); err != nil {
		return 0, err
	}
	if len(g.allocs) == 0 {
		return 0, amerr.ErrNoAllocator
	}
	return g.allocs[0].Alloc(1)
}

func (g *DiskGroup) allocMany(count uint64) ([]uint64, error) {
	if err := geometry.CheckFlavor(g.Geo.Flavor); err != nil {
		return nil, err
	}
	if len(g.allocs) == 0 {
		return nil, amerr.ErrNoAllocator
	}
	return g.allocs[0].AllocMany(count)
}

// Sync flushes every disk in the group.
func (g *DiskGroup) Sync() error {
	for _, d := range g.disks {
		if err := d.Sync(); err != nil {
			return errors.Wrap(err, "diskgroup: syncing")
		}
	}
	return nil
}

// Run describes a single allocated block as part of a larger byte-range
// allocation: its size in bytes (<= block.Size) and the pointer to it.
type Run struct {
	Size    uint64
	Pointer pointer.Global
}

// Groups is the full, geometry-slot-indexed set of disk groups a volume's
// superblock describes. It implements pointer.Resolver and llg.Store,
// routing by the geo field every pointer carries.
type Groups []*DiskGroup

func (gs Groups) group(geo uint8) (*DiskGroup, error) {
	if int(geo) >= len(gs) || gs[geo] == nil {
		return nil, amerr.ErrNoDiskgroup
	}
	return gs[geo], nil
}

// ReadAt implements pointer.Resolver.
func (gs Groups) ReadAt(geo uint8, loc uint64, buf []byte) error {
	g, err := gs.group(geo)
	if err != nil {
		return err
	}
	logrus.Tracef("diskgroup: read geo=%d loc=%d len=%d", geo, loc, len(buf))
	return g.readAt(loc, buf)
}

// WriteAt implements pointer.Resolver.
func (gs Groups) WriteAt(geo uint8, loc uint64, buf []byte) error {
	g, err := gs.group(geo)
	if err != nil {
		return err
	}
	logrus.Tracef("diskgroup: write geo=%d loc=%d len=%d", geo, loc, len(buf))
	return g.writeAt(loc, buf)
}

// AllocBlocks implements llg.Allocator, allocating one block and wrapping
// it as a Global pointer on geo. Only count == 1 is supported; any other
// count returns an error.
func (gs Groups) AllocBlocks(geo uint8, count uint64) (pointer.Global, error) {
	g, err := gs.group(geo)
	if err != nil {
		return pointer.NullGlobal(), err
	}
	if count != 1 {
		return pointer.NullGlobal(), errors.New("diskgroup: multi-block contiguous allocation is unsupported")
	}
	addr, err := g.allocBlock()
	if err != nil {
		return pointer.NullGlobal(), errors.Wrap(err, "diskgroup: allocating block")
	}
	p := pointer.NewGlobal(addr, 1, geo, 0)
	return p, nil
}

// AllocMany implements llg.Allocator, allocating count single blocks, not
// necessarily contiguous.
func (gs Groups) AllocMany(geo uint8, count uint64) ([]pointer.Global, error) {
	g, err := gs.group(geo)
	if err != nil {
		return nil, err
	}
	addrs, err := g.allocMany(count)
	if err != nil {
		return nil, errors.Wrap(err, "diskgroup: allocating many blocks")
	}
	res := make([]pointer.Global, len(addrs))
	for i, a := range addrs {
		res[i] = pointer.NewGlobal(a, 1, geo, 0)
	}
	return res, nil
}

// AllocBytes splits an n-byte request into whole-block runs, the last one
// sized to the remainder.
func (gs Groups) AllocBytes(geo uint8, n uint64) ([]Run, error) {
	g, err := gs.group(geo)
	if err != nil {
		return nil, err
	}
	var res []Run
	rem := n
	for {
		addr, err := g.allocBlock()
		if err != nil {
			return nil, errors.Wrap(err, "diskgroup: allocating bytes")
		}
		sz := rem
		if sz > block.Size {
			sz = block.Size
		}
		res = append(res, Run{Size: sz, Pointer: pointer.NewGlobal(addr, 1, geo, 0)})
		if rem <= block.Size {
			break
		}
		rem -= block.Size
	}
	return res, nil
}

// Sync flushes every bound disk group.
func (gs Groups) Sync() error {
	for _, g := range gs {
		if g == nil {
			continue
		}
		if err := g.Sync(); err != nil {
			return err
		}
	}
	return nil
}
