// Package geometry describes how the disks of a disk group are arranged
// into a volume: today only a single disk, with striped/mirrored layouts
// reserved as recognized-but-unimplemented flavors.
package geometry

import (
	"encoding/binary"

	"github.com/AM-OperatingSystem/amfs/pkg/amerr"
	"github.com/AM-OperatingSystem/amfs/pkg/block"
	"github.com/AM-OperatingSystem/amfs/pkg/pointer"
	"github.com/pkg/errors"
)

// Flavor enumerates the supported disk arrangements. Only Single is
// implemented; Striped and Mirrored are reserved on-disk values rejected
// deterministically wherever they're encountered.
type Flavor uint8

const (
	Single Flavor = iota
	Striped
	Mirrored
)

const deviceIDCount = 256

// Geometry is a fixed 4096-byte on-disk record.
type Geometry struct {
	DeviceIDs [deviceIDCount]uint64
	Flavor    Flavor
}

// New creates an empty Single-flavor geometry.
func New() *Geometry {
	return &Geometry{Flavor: Single}
}

// Marshal serializes g to its block.Size on-disk form.
func (g *Geometry) Marshal() [block.Size]byte {
	var buf [block.Size]byte
	for i, id := range g.DeviceIDs {
		binary.LittleEndian.PutUint64(buf[i*8:i*8+8], id)
	}
	buf[block.Size-1] = byte(g.Flavor)
	return buf
}

// Unmarshal decodes a geometry from its on-disk form.
func Unmarshal(buf [block.Size]byte) *Geometry {
	g := &Geometry{}
	for i := range g.DeviceIDs {
		g.DeviceIDs[i] = binary.LittleEndian.Uint64(buf[i*8 : i*8+8])
	}
	g.Flavor = Flavor(buf[block.Size-1])
	return g
}

// Read reads and validates a geometry from d at the location ptr addresses.
func Read(d block.Disk, ptr pointer.Local) (*Geometry, error) {
	var buf [block.Size]byte
	if _, err := d.ReadAt(ptr.Loc(), buf[:]); err != nil {
		return nil, errors.Wrap(err, "geometry: reading")
	}
	ok, err := ptr.Validate(d)
	if err != nil {
		return nil, errors.Wrap(err, "geometry: validating pointer")
	}
	if !ok {
		return nil, amerr.ErrChecksum
	}
	return Unmarshal(buf), nil
}

// Write writes g to d at the location ptr addresses and returns ptr with
// its checksum updated to match.
func Write(d block.Disk, ptr pointer.Local, g *Geometry) (pointer.Local, error) {
	buf := g.Marshal()
	if _, err := d.WriteAt(ptr.Loc(), buf[:]); err != nil {
		return ptr, errors.Wrap(err, "geometry: writing")
	}
	if err := ptr.Update(d); err != nil {
		return ptr, errors.Wrap(err, "geometry: updating pointer checksum")
	}
	return ptr, nil
}

// CheckFlavor rejects any flavor other than Single.
func CheckFlavor(f Flavor) error {
	if f != Single {
		return amerr.ErrUnsupportedGeometry
	}
	return nil
}
