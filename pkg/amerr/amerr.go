// Package amerr defines the sentinel error taxonomy shared across the AMFS
// engine. Components wrap these with github.com/pkg/errors at their
// boundaries so callers can both errors.Is against a sentinel and print an
// annotated chain with %+v.
package amerr

import "errors"

var (
	// ErrSignature is returned when a superblock's magic does not match.
	ErrSignature = errors.New("amfs: bad superblock signature")
	// ErrChecksum is returned when a CRC32 validation fails.
	ErrChecksum = errors.New("amfs: checksum mismatch")
	// ErrDiskID is returned when a superblock's devid is zero, or a
	// geometry references a disk slot that isn't bound.
	ErrDiskID = errors.New("amfs: invalid device id")
	// ErrUnknownDevID is returned when no backing disk matches a
	// referenced device ID.
	ErrUnknownDevID = errors.New("amfs: unknown device id")
	// ErrNoSuperblock is returned when a disk has no valid superblock copy.
	ErrNoSuperblock = errors.New("amfs: no valid superblock")
	// ErrNoFSGroup is returned when no root slot yields a valid FS group.
	ErrNoFSGroup = errors.New("amfs: no valid fs group")
	// ErrNoAllocator is returned when an allocator's on-disk form can't be read.
	ErrNoAllocator = errors.New("amfs: no allocator")
	// ErrNoDiskgroup is returned when a pointer addresses an unbound disk group.
	ErrNoDiskgroup = errors.New("amfs: no disk group")
	// ErrNoObject is returned when an object id has no entry in the object set.
	ErrNoObject = errors.New("amfs: no such object")
	// ErrNullPointer is returned when a read is attempted through a NULL pointer.
	ErrNullPointer = errors.New("amfs: null pointer")
	// ErrAllocFailed is returned when no free extent satisfies a request.
	ErrAllocFailed = errors.New("amfs: allocation failed")
	// ErrPoison is returned when a lock was held by a panicking writer.
	ErrPoison = errors.New("amfs: lock poisoned")
	// ErrUnsupportedSpill is returned when an object-set update would need
	// to spill into a new block or become an indirect block; both are
	// reserved on-disk-compatible extension points not implemented in v1.
	ErrUnsupportedSpill = errors.New("amfs: object update requires unsupported block spill")
	// ErrUnsupportedGeometry is returned for any geometry flavor other
	// than Single.
	ErrUnsupportedGeometry = errors.New("amfs: unsupported geometry flavor")
)
