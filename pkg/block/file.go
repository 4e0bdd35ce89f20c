package block

import (
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// defaultImageBlocks is the size, in blocks, of an image file created by
// Open when no file previously existed at the given path.
const defaultImageBlocks = 100

// FileDisk is a Disk backed by a regular file.
type FileDisk struct {
	f    *os.File
	size uint64
}

// Open opens path as a FileDisk, creating a defaultImageBlocks-block image
// if no file exists there yet.
func Open(path string) (*FileDisk, error) {

	_, statErr := os.Stat(path)
	created := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "block: opening %s", path)
	}

	if created {
		logrus.Debugf("block: creating new %d-block image at %s", defaultImageBlocks, path)
		if err := f.Truncate(defaultImageBlocks * Size); err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "block: sizing new image %s", path)
		}
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "block: stat %s", path)
	}

	if fi.Size()%Size != 0 {
		f.Close()
		return nil, errors.Errorf("block: %s size %d is not a multiple of the block size", path, fi.Size())
	}

	return &FileDisk{f: f, size: uint64(fi.Size()) / Size}, nil
}

// OpenFile wraps an already-open file as a FileDisk.
func OpenFile(f *os.File) (*FileDisk, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "block: stat")
	}
	if fi.Size()%Size != 0 {
		return nil, errors.Errorf("block: file size %d is not a multiple of the block size", fi.Size())
	}
	return &FileDisk{f: f, size: uint64(fi.Size()) / Size}, nil
}

// ReadAt implements Disk.
func (d *FileDisk) ReadAt(block uint64, buf []byte) (int, error) {
	if err := checkBuf(buf); err != nil {
		return 0, err
	}
	n, err := d.f.ReadAt(buf, int64(block)*Size)
	if err != nil {
		return n, errors.Wrapf(err, "block: short read at block %d", block)
	}
	return n, nil
}

// WriteAt implements Disk.
func (d *FileDisk) WriteAt(block uint64, buf []byte) (int, error) {
	if err := checkBuf(buf); err != nil {
		return 0, err
	}
	n, err := d.f.WriteAt(buf, int64(block)*Size)
	if err != nil {
		return n, errors.Wrapf(err, "block: short write at block %d", block)
	}
	return n, nil
}

// Size implements Disk.
func (d *FileDisk) Size() (uint64, error) {
	return d.size, nil
}

// Sync implements Disk.
func (d *FileDisk) Sync() error {
	return errors.Wrap(d.f.Sync(), "block: sync")
}

// Close closes the underlying file.
func (d *FileDisk) Close() error {
	return d.f.Close()
}
