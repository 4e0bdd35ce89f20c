// Package superblock implements AMFS's volume superblock: the
// self-checksummed, multiply-rotated record every disk carries four
// copies of, naming the volume's signature, feature requirements,
// geometry table, and the ring of root-group pointers used to find the
// latest committed transaction.
package superblock

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/AM-OperatingSystem/amfs/pkg/amerr"
	"github.com/AM-OperatingSystem/amfs/pkg/block"
	"github.com/AM-OperatingSystem/amfs/pkg/diskgroup"
	"github.com/AM-OperatingSystem/amfs/pkg/features"
	"github.com/AM-OperatingSystem/amfs/pkg/fsgroup"
	"github.com/AM-OperatingSystem/amfs/pkg/geometry"
	"github.com/AM-OperatingSystem/amfs/pkg/pointer"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Signature is the 8-byte magic every valid superblock carries.
var Signature = [8]byte{'a', 'm', 'o', 's', 'A', 'M', 'F', 'S'}

const (
	geometrySlots = 16
	rootnodeSlots = 128

	offSignature  = 0
	offDevID      = 8
	offFeatures   = 16
	offGeometries = offFeatures + 256
	offChecksum   = offGeometries + geometrySlots*pointer.Size
	offLatestRoot = block.Size - 1 - rootnodeSlots*pointer.Size
	offRootnodes  = offLatestRoot + 1
)

// Superblock is the fixed 4096-byte on-disk record.
type Superblock struct {
	DevID       uint64
	Features    features.Bitmap
	Geometries  [geometrySlots]pointer.Local
	Checksum    uint32
	LatestRoot  uint8
	Rootnodes   [rootnodeSlots]pointer.Global
}

// New creates a superblock for devid with all pointers null and the
// current build's feature bitmap.
func New(devid uint64) *Superblock {
	sb := &Superblock{DevID: devid, Features: features.Current()}
	for i := range sb.Geometries {
		sb.Geometries[i] = pointer.NullLocal()
	}
	for i := range sb.Rootnodes {
		sb.Rootnodes[i] = pointer.NullGlobal()
	}
	return sb
}

func (sb *Superblock) marshal() [block.Size]byte {
	var buf [block.Size]byte
	copy(buf[offSignature:offSignature+8], Signature[:])
	binary.LittleEndian.PutUint64(buf[offDevID:offDevID+8], sb.DevID)
	copy(buf[offFeatures:offFeatures+256], sb.Features[:])
	for i, g := range sb.Geometries {
		b := g.Bytes()
		off := offGeometries + i*pointer.Size
		copy(buf[off:off+pointer.Size], b[:])
	}
	binary.LittleEndian.PutUint32(buf[offChecksum:offChecksum+4], sb.Checksum)
	buf[offLatestRoot] = sb.LatestRoot
	for i, r := range sb.Rootnodes {
		b := r.Bytes()
		off := offRootnodes + i*pointer.Size
		copy(buf[off:off+pointer.Size], b[:])
	}
	return buf
}

func unmarshal(buf [block.Size]byte) *Superblock {
	sb := &Superblock{}
	sb.DevID = binary.LittleEndian.Uint64(buf[offDevID : offDevID+8])
	copy(sb.Features[:], buf[offFeatures:offFeatures+256])
	for i := range sb.Geometries {
		var pb [pointer.Size]byte
		off := offGeometries + i*pointer.Size
		copy(pb[:], buf[off:off+pointer.Size])
		sb.Geometries[i] = pointer.LocalFromBytes(pb)
	}
	sb.Checksum = binary.LittleEndian.Uint32(buf[offChecksum : offChecksum+4])
	sb.LatestRoot = buf[offLatestRoot]
	for i := range sb.Rootnodes {
		var pb [pointer.Size]byte
		off := offRootnodes + i*pointer.Size
		copy(pb[:], buf[off:off+pointer.Size])
		sb.Rootnodes[i] = pointer.GlobalFromBytes(pb)
	}
	return sb
}

func checksum(buf [block.Size]byte) uint32 {
	binary.LittleEndian.PutUint32(buf[offChecksum:offChecksum+4], 0)
	return crc32.ChecksumIEEE(buf[:])
}

// UpdateChecksum recomputes and stores sb's self-checksum.
func (sb *Superblock) UpdateChecksum() {
	buf := sb.marshal()
	sb.Checksum = checksum(buf)
}

// VerifyChecksum reports whether sb's stored checksum matches its content.
func (sb *Superblock) VerifyChecksum() bool {
	buf := sb.marshal()
	return checksum(buf) == sb.Checksum
}

// Read reads and validates the superblock at loc on d.
func Read(d block.Disk, loc uint64) (*Superblock, error) {
	var buf [block.Size]byte
	if _, err := d.ReadAt(loc, buf[:]); err != nil {
		return nil, errors.Wrap(err, "superblock: reading")
	}
	if string(buf[offSignature:offSignature+8]) != string(Signature[:]) {
		return nil, amerr.ErrSignature
	}
	sb := unmarshal(buf)
	if !sb.VerifyChecksum() {
		return nil, amerr.ErrChecksum
	}
	if sb.DevID == 0 {
		return nil, amerr.ErrDiskID
	}
	return sb, nil
}

// Write recomputes sb's checksum and writes it to loc on d.
func (sb *Superblock) Write(d block.Disk, loc uint64) error {
	sb.UpdateChecksum()
	buf := sb.marshal()
	_, err := d.WriteAt(loc, buf[:])
	return errors.Wrap(err, "superblock: writing")
}

// GetGeometry reads the nth geometry this superblock names.
func (sb *Superblock) GetGeometry(d block.Disk, n uint8) (*geometry.Geometry, error) {
	return geometry.Read(d, sb.Geometries[n])
}

// TestFeatures reports whether every feature bit sb sets is present in
// supported — the mount-time compatibility gate.
func (sb *Superblock) TestFeatures(supported []features.Feature) bool {
	return features.Supported(sb.Features, supported)
}

// GetGroup scans the rootnodes ring starting at latest_root, returning the
// first slot that decodes as a valid FS group.
func (sb *Superblock) GetGroup(gs diskgroup.Groups) (*fsgroup.FSGroup, error) {
	for i := 0; i < rootnodeSlots; i++ {
		slot := (int(sb.LatestRoot) + i) % rootnodeSlots
		ptr := sb.Rootnodes[slot]
		if ptr.IsNull() {
			continue
		}
		fg, err := fsgroup.Read(gs, ptr)
		if err != nil {
			continue
		}
		logrus.Tracef("superblock: loaded root group %d (latest %d)", slot, sb.LatestRoot)
		return fg, nil
	}
	return nil, amerr.ErrNoFSGroup
}
