// Package fsgroup implements the FS group record: the root-of-everything
// structure a superblock's rootnodes ring points at, carrying the
// allocator map, free queue, journal, and object set for one committed
// transaction.
package fsgroup

import (
	"encoding/binary"

	"github.com/AM-OperatingSystem/amfs/pkg/allocator"
	"github.com/AM-OperatingSystem/amfs/pkg/amerr"
	"github.com/AM-OperatingSystem/amfs/pkg/block"
	"github.com/AM-OperatingSystem/amfs/pkg/diskgroup"
	"github.com/AM-OperatingSystem/amfs/pkg/llg"
	"github.com/AM-OperatingSystem/amfs/pkg/pointer"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Txid is a 128-bit transaction counter, stored Lo-field-first so its
// on-disk little-endian layout matches a u128.
type Txid struct {
	Lo uint64
	Hi uint64
}

// Next returns txid+1.
func (t Txid) Next() Txid {
	lo := t.Lo + 1
	hi := t.Hi
	if lo == 0 {
		hi++
	}
	return Txid{Lo: lo, Hi: hi}
}

// Less reports whether t sorts before o.
func (t Txid) Less(o Txid) bool {
	if t.Hi != o.Hi {
		return t.Hi < o.Hi
	}
	return t.Lo < o.Lo
}

// fixedSize is the byte size of FSGroup's named fields, before padding:
// alloc + journal + objects + free_queue (4 global pointers) + directory
// (8-byte object id) + txid (16 bytes).
const fixedSize = 4*pointer.Size + 8 + 16

// FSGroup is the fixed 4096-byte root-of-everything record.
type FSGroup struct {
	Alloc     pointer.Global
	Journal   pointer.Global
	Objects   pointer.Global
	FreeQueue pointer.Global
	// Directory is the object id of the root directory object. The
	// directory namespace built on top of it isn't implemented here; this
	// just carries the id through mount/commit.
	Directory uint64
	Txid      Txid
}

// New creates a blank FS group.
func New() *FSGroup {
	return &FSGroup{
		Alloc:     pointer.NullGlobal(),
		Journal:   pointer.NullGlobal(),
		Objects:   pointer.NullGlobal(),
		FreeQueue: pointer.NullGlobal(),
	}
}

func (f *FSGroup) marshal() [block.Size]byte {
	var buf [block.Size]byte
	put := func(off int, p pointer.Global) {
		b := p.Bytes()
		copy(buf[off:off+pointer.Size], b[:])
	}
	put(0, f.Alloc)
	put(pointer.Size, f.Journal)
	put(2*pointer.Size, f.Objects)
	put(3*pointer.Size, f.FreeQueue)
	off := 4 * pointer.Size
	binary.LittleEndian.PutUint64(buf[off:off+8], f.Directory)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], f.Txid.Lo)
	binary.LittleEndian.PutUint64(buf[off+8:off+16], f.Txid.Hi)
	return buf
}

func unmarshal(buf [block.Size]byte) *FSGroup {
	get := func(off int) pointer.Global {
		var pb [pointer.Size]byte
		copy(pb[:], buf[off:off+pointer.Size])
		return pointer.GlobalFromBytes(pb)
	}
	f := &FSGroup{
		Alloc:     get(0),
		Journal:   get(pointer.Size),
		Objects:   get(2 * pointer.Size),
		FreeQueue: get(3 * pointer.Size),
	}
	off := 4 * pointer.Size
	f.Directory = binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	f.Txid.Lo = binary.LittleEndian.Uint64(buf[off : off+8])
	f.Txid.Hi = binary.LittleEndian.Uint64(buf[off+8 : off+16])
	return f
}

// Read reads and validates the FS group ptr addresses.
func Read(gs diskgroup.Groups, ptr pointer.Global) (*FSGroup, error) {
	if ptr.IsNull() {
		return nil, amerr.ErrNullPointer
	}
	var buf [block.Size]byte
	if err := ptr.Read(0, block.Size, gs, buf[:]); err != nil {
		return nil, errors.Wrap(err, "fsgroup: reading")
	}
	ok, err := ptr.Validate(gs)
	if err != nil {
		return nil, errors.Wrap(err, "fsgroup: validating")
	}
	if !ok {
		return nil, amerr.ErrChecksum
	}
	return unmarshal(buf), nil
}

// Write allocates a fresh block on geometry slot geo and writes f into it.
func (f *FSGroup) Write(gs diskgroup.Groups, geo uint8) (pointer.Global, error) {
	ptr, err := gs.AllocBlocks(geo, 1)
	if err != nil {
		return pointer.NullGlobal(), errors.Wrap(err, "fsgroup: allocating root block")
	}
	buf := f.marshal()
	if err := ptr.Write(0, block.Size, gs, buf[:]); err != nil {
		return pointer.NullGlobal(), errors.Wrap(err, "fsgroup: writing")
	}
	if err := ptr.Update(gs); err != nil {
		return pointer.NullGlobal(), errors.Wrap(err, "fsgroup: updating checksum")
	}
	return ptr, nil
}

// AllocListEntry binds one disk's devid to the pointer of its on-disk
// allocator chain.
type AllocListEntry struct {
	DiskID    uint64
	Allocator pointer.Global
}

const allocListEntrySize = 8 + pointer.Size

func marshalAllocEntry(e AllocListEntry) []byte {
	buf := make([]byte, allocListEntrySize)
	binary.LittleEndian.PutUint64(buf[0:8], e.DiskID)
	pb := e.Allocator.Bytes()
	copy(buf[8:8+pointer.Size], pb[:])
	return buf
}

func unmarshalAllocEntry(buf []byte) AllocListEntry {
	var pb [pointer.Size]byte
	copy(pb[:], buf[8:8+pointer.Size])
	return AllocListEntry{
		DiskID:    binary.LittleEndian.Uint64(buf[0:8]),
		Allocator: pointer.GlobalFromBytes(pb),
	}
}

// GetAllocators reads the alloc list and every allocator it references,
// returning them keyed by devid.
func (f *FSGroup) GetAllocators(gs diskgroup.Groups) (map[uint64]*allocator.Allocator, error) {
	if f.Alloc.IsNull() {
		return map[uint64]*allocator.Allocator{}, nil
	}
	entries, err := llg.Read(gs, f.Alloc, allocListEntrySize, unmarshalAllocEntry)
	if err != nil {
		return nil, errors.Wrap(err, "fsgroup: reading alloc list")
	}
	res := make(map[uint64]*allocator.Allocator, len(entries))
	for _, e := range entries {
		logrus.Debugf("fsgroup: loading allocator for disk %x", e.DiskID)
		a, err := allocator.Read(gs, e.Allocator)
		if err != nil {
			return nil, errors.Wrapf(err, "fsgroup: reading allocator for disk %x", e.DiskID)
		}
		res[e.DiskID] = a
	}
	return res, nil
}

// WriteAllocators writes every allocator in ad and the alloc list
// referencing them, using the two-phase preallocate/write protocol needed
// to break the cycle where an allocator's own storage must come from an
// allocator.
func (f *FSGroup) WriteAllocators(gs diskgroup.Groups, ad map[uint64]*allocator.Allocator) error {
	type pending struct {
		diskID uint64
		alloc  *allocator.Allocator
		blocks []pointer.Global
	}
	pendings := make([]pending, 0, len(ad))
	for diskID, a := range ad {
		blocks, err := a.Prealloc(gs, 0)
		if err != nil {
			return errors.Wrapf(err, "fsgroup: preallocating allocator blocks for disk %x", diskID)
		}
		pendings = append(pendings, pending{diskID: diskID, alloc: a, blocks: blocks})
	}

	llgBlocks, err := llg.Prealloc(gs, 0, len(pendings), allocListEntrySize)
	if err != nil {
		return errors.Wrap(err, "fsgroup: preallocating alloc list blocks")
	}

	entries := make([]AllocListEntry, 0, len(pendings))
	for _, p := range pendings {
		ptr, err := p.alloc.WritePreallocd(gs, p.blocks)
		if err != nil {
			return errors.Wrapf(err, "fsgroup: writing allocator for disk %x", p.diskID)
		}
		entries = append(entries, AllocListEntry{DiskID: p.diskID, Allocator: ptr})
	}

	head, err := llg.WritePreallocd(gs, entries, allocListEntrySize, marshalAllocEntry, llgBlocks)
	if err != nil {
		return errors.Wrap(err, "fsgroup: writing alloc list")
	}
	f.Alloc = head
	return nil
}
