// Package pointer implements AMFS's self-verifying pointers: 16-byte
// records that address a run of blocks and carry a CRC32 checksum of the
// data they point at, so any stale or torn reference is caught at read
// time rather than silently returning garbage.
package pointer

import (
	"encoding/binary"
	"hash/crc32"
	"sync/atomic"

	"github.com/AM-OperatingSystem/amfs/pkg/amerr"
	"github.com/AM-OperatingSystem/amfs/pkg/block"
	"github.com/pkg/errors"
)

// Size is the on-disk size, in bytes, of a pointer record.
const Size = 16

// checksumsEnabled gates checksum validation so tests and low-level tools
// (dumpfs scanning raw, possibly torn, blocks) can disable it. Enabled by
// default.
var checksumsEnabled int32 = 1

// EnableChecksums turns on checksum validation (the default).
func EnableChecksums() { atomic.StoreInt32(&checksumsEnabled, 1) }

// DisableChecksums turns off checksum validation.
func DisableChecksums() { atomic.StoreInt32(&checksumsEnabled, 0) }

// Resolver routes a pointer's geometry slot and block location to the
// backing disk I/O. DiskGroup implementations supply this so that pkg/pointer
// never has to import pkg/diskgroup.
type Resolver interface {
	// ReadAt reads len(buf) bytes (a whole number of blocks) starting at
	// block loc on the disk group bound to geometry slot geo.
	ReadAt(geo uint8, loc uint64, buf []byte) error
	// WriteAt writes len(buf) bytes (a whole number of blocks) starting
	// at block loc on the disk group bound to geometry slot geo.
	WriteAt(geo uint8, loc uint64, buf []byte) error
}

// ptr is the shared 16-byte payload of both Local and Global pointers.
type ptr struct {
	Location uint64
	Checksum uint32
	Device   uint8
	Geometry uint8
	Length   uint8
	Padding  uint8
}

func (p ptr) isNull() bool { return p.Padding == 0 }

func (p *ptr) validate(target []byte) bool {
	if atomic.LoadInt32(&checksumsEnabled) == 0 {
		return true
	}
	return crc32.ChecksumIEEE(target) == p.Checksum
}

func (p *ptr) update(target []byte) {
	p.Checksum = crc32.ChecksumIEEE(target)
}

func (p ptr) marshal() [Size]byte {
	var buf [Size]byte
	binary.LittleEndian.PutUint64(buf[0:8], p.Location)
	binary.LittleEndian.PutUint32(buf[8:12], p.Checksum)
	buf[12] = p.Device
	buf[13] = p.Geometry
	buf[14] = p.Length
	buf[15] = p.Padding
	return buf
}

func unmarshal(buf [Size]byte) ptr {
	return ptr{
		Location: binary.LittleEndian.Uint64(buf[0:8]),
		Checksum: binary.LittleEndian.Uint32(buf[8:12]),
		Device:   buf[12],
		Geometry: buf[13],
		Length:   buf[14],
		Padding:  buf[15],
	}
}

// Local addresses a location within a single disk. It carries no geometry
// routing of its own: callers read/write it directly against a block.Disk.
type Local struct{ p ptr }

// NewLocal creates a local pointer at the given block address. It is
// invalid (checksum-wise) until Update is called.
func NewLocal(addr uint64) Local {
	return Local{ptr{Location: addr, Device: 0, Geometry: 1, Length: 0, Padding: 0xFF}}
}

// NullLocal returns a pointer guaranteed to be null.
func NullLocal() Local { return Local{ptr{Geometry: 0x7F}} }

// IsNull reports whether p is the null pointer.
func (p Local) IsNull() bool { return p.p.isNull() }

// Loc returns the block address p addresses.
func (p Local) Loc() uint64 { return p.p.Location }

// SetLoc repoints p at a new block address, marking it non-null.
func (p *Local) SetLoc(loc uint64) {
	p.p.Padding = 0xFF
	p.p.Location = loc
}

// Validate reads the target block from d and checks it against p's checksum.
func (p Local) Validate(d block.Disk) (bool, error) {
	var buf [block.Size]byte
	if _, err := d.ReadAt(p.p.Location, buf[:]); err != nil {
		return false, errors.Wrap(err, "pointer: reading local target for validation")
	}
	return p.p.validate(buf[:]), nil
}

// Update recomputes p's checksum from the current contents of its target
// block on d.
func (p *Local) Update(d block.Disk) error {
	var buf [block.Size]byte
	if _, err := d.ReadAt(p.p.Location, buf[:]); err != nil {
		return errors.Wrap(err, "pointer: reading local target for update")
	}
	p.p.update(buf[:])
	return nil
}

// Bytes serializes p to its 16-byte on-disk form.
func (p Local) Bytes() [Size]byte { return p.p.marshal() }

// LocalFromBytes decodes a local pointer from its 16-byte on-disk form.
func LocalFromBytes(buf [Size]byte) Local { return Local{unmarshal(buf)} }

// Global addresses a location within a volume: a geometry slot plus a
// block address routed through that geometry's disk group.
type Global struct{ p ptr }

// NewGlobal creates a global pointer. It is invalid (checksum-wise) until
// Update is called.
func NewGlobal(addr uint64, length, geo, dev uint8) Global {
	return Global{ptr{Location: addr, Length: length, Geometry: geo, Device: dev, Padding: 0xFF}}
}

// NullGlobal returns a pointer guaranteed to be null.
func NullGlobal() Global { return Global{ptr{Geometry: 0x7F}} }

// IsNull reports whether p is the null pointer.
func (p Global) IsNull() bool { return p.p.isNull() }

// Loc returns the block address p addresses.
func (p Global) Loc() uint64 { return p.p.Location }

// Dev returns the disk-group-relative device index p addresses.
func (p Global) Dev() uint8 { return p.p.Device }

// Geo returns the geometry slot p is routed through.
func (p Global) Geo() uint8 { return p.p.Geometry }

// Length returns the number of blocks p addresses.
func (p Global) Length() uint8 { return p.p.Length }

// Bytes serializes p to its 16-byte on-disk form.
func (p Global) Bytes() [Size]byte { return p.p.marshal() }

// GlobalFromBytes decodes a global pointer from its 16-byte on-disk form.
func GlobalFromBytes(buf [Size]byte) Global { return Global{unmarshal(buf)} }

// Validate reads p's whole-block target through r and checks it against
// p's checksum. A null pointer never validates.
func (p Global) Validate(r Resolver) (bool, error) {
	if p.IsNull() {
		return false, nil
	}
	var buf [block.Size]byte
	if err := p.read(0, block.Size, r, buf[:]); err != nil {
		return false, err
	}
	return p.p.validate(buf[:]), nil
}

// Update recomputes p's checksum from the current whole-block contents of
// its target, read through r.
func (p *Global) Update(r Resolver) error {
	var buf [block.Size]byte
	if err := p.read(0, block.Size, r, buf[:]); err != nil {
		return err
	}
	p.p.update(buf[:])
	return nil
}

// ReadVec reads the pointer's entire run of blocks (Length() blocks) and
// returns them as a freshly allocated slice.
func (p Global) ReadVec(r Resolver) ([]byte, error) {
	out := make([]byte, int(p.p.Length)*block.Size)
	if err := p.read(0, len(out), r, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Read reads size bytes starting at byte offset start within p's run of
// blocks into data, which must have len(data) == size.
func (p Global) Read(start, size int, r Resolver, data []byte) error {
	return p.read(start, size, r, data)
}

func (p Global) read(start, size int, r Resolver, data []byte) error {
	if p.IsNull() {
		return amerr.ErrNullPointer
	}
	switch {
	case start == 0 && size == block.Size:
		return r.ReadAt(p.p.Geometry, p.p.Location, data)
	case start%block.Size == 0 && size == block.Size:
		return r.ReadAt(p.p.Geometry, p.p.Location+uint64(start/block.Size), data)
	default:
		startBlock := start / block.Size
		startOffs := start % block.Size
		endBlock := (start + size - 1) / block.Size
		if startBlock != endBlock {
			return errors.New("pointer: cross-block sub-range read is unsupported")
		}
		var buf [block.Size]byte
		if err := p.read(startBlock*block.Size, block.Size, r, buf[:]); err != nil {
			return err
		}
		copy(data, buf[startOffs:startOffs+size])
		return nil
	}
}

// Write writes size bytes from data to byte offset start within p's run of
// blocks.
func (p Global) Write(start, size int, r Resolver, data []byte) error {
	if p.IsNull() {
		return amerr.ErrNullPointer
	}
	switch {
	case start == 0 && size == block.Size:
		return r.WriteAt(p.p.Geometry, p.p.Location, data)
	case start%block.Size == 0 && size == block.Size:
		return r.WriteAt(p.p.Geometry, p.p.Location+uint64(start/block.Size), data)
	default:
		startBlock := start / block.Size
		startOffs := start % block.Size
		endBlock := (start + size - 1) / block.Size
		if startBlock != endBlock {
			return errors.New("pointer: cross-block sub-range write is unsupported")
		}
		var buf [block.Size]byte
		if err := p.read(startBlock*block.Size, block.Size, r, buf[:]); err != nil {
			return err
		}
		copy(buf[startOffs:startOffs+size], data)
		return p.write(startBlock*block.Size, block.Size, r, buf[:])
	}
}

func (p Global) write(start, size int, r Resolver, data []byte) error {
	if start == 0 && size == block.Size {
		return r.WriteAt(p.p.Geometry, p.p.Location, data)
	}
	return r.WriteAt(p.p.Geometry, p.p.Location+uint64(start/block.Size), data)
}
