// Package objectset implements AMFS's object set: a chain of object-list
// blocks, each holding a run of objects (files/meta-files) as a sequence
// of fragment records terminated by a zero sentinel. Appending past a
// block's capacity and any operation that would need an indirect block
// are reserved, on-disk-compatible extension points this implementation
// deliberately doesn't support; they fail with amerr.ErrUnsupportedSpill
// instead of silently corrupting data.
package objectset

import (
	"encoding/binary"

	"github.com/AM-OperatingSystem/amfs/pkg/amerr"
	"github.com/AM-OperatingSystem/amfs/pkg/block"
	"github.com/AM-OperatingSystem/amfs/pkg/diskgroup"
	"github.com/AM-OperatingSystem/amfs/pkg/pointer"
	"github.com/pkg/errors"
)

// ListHeaderSize is the on-disk size of an ObjectListHeader.
const ListHeaderSize = 16

// FragmentSize is the on-disk size of a Fragment record.
const FragmentSize = 32

// indirectFlag marks an ObjectListHeader.NEntries value as describing an
// indirect (spill) block rather than a direct object list. No writer in
// this implementation ever sets it; readers that encounter it fail with
// ErrUnsupportedSpill rather than misinterpret the block.
const indirectFlag = 0x8000000000000000

// ObjectListHeader begins every object-list block.
type ObjectListHeader struct {
	StartIdx uint64
	NEntries uint64
}

func (h ObjectListHeader) marshal() [ListHeaderSize]byte {
	var buf [ListHeaderSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], h.StartIdx)
	binary.LittleEndian.PutUint64(buf[8:16], h.NEntries)
	return buf
}

func unmarshalHeader(buf []byte) ObjectListHeader {
	return ObjectListHeader{
		StartIdx: binary.LittleEndian.Uint64(buf[0:8]),
		NEntries: binary.LittleEndian.Uint64(buf[8:16]),
	}
}

// Fragment is one contiguous run of an object's backing store.
type Fragment struct {
	Size    uint64
	Offset  uint64
	Pointer pointer.Global
}

func (f Fragment) marshal() [FragmentSize]byte {
	var buf [FragmentSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], f.Size)
	binary.LittleEndian.PutUint64(buf[8:16], f.Offset)
	pb := f.Pointer.Bytes()
	copy(buf[16:16+pointer.Size], pb[:])
	return buf
}

func unmarshalFragment(buf []byte) Fragment {
	var pb [pointer.Size]byte
	copy(pb[:], buf[16:16+pointer.Size])
	return Fragment{
		Size:    binary.LittleEndian.Uint64(buf[0:8]),
		Offset:  binary.LittleEndian.Uint64(buf[8:16]),
		Pointer: pointer.GlobalFromBytes(pb),
	}
}

// Object is one file or meta-file: a sequence of fragments.
type Object struct {
	Frags []Fragment
}

// NewObject wraps frags as an Object.
func NewObject(frags []Fragment) *Object { return &Object{Frags: append([]Fragment{}, frags...)} }

// Size returns the object's total length in bytes.
func (o *Object) Size() uint64 {
	var sz uint64
	for _, f := range o.Frags {
		sz += f.Size
	}
	return sz
}

// Read reads len(data) bytes starting at byte offset start across the
// object's fragments.
func (o *Object) Read(start uint64, data []byte, r pointer.Resolver) (uint64, error) {
	var res uint64
	fragStart := uint64(0)
	end := start + uint64(len(data))
	for _, f := range o.Frags {
		fragEnd := fragStart + f.Size
		if fragStart >= end {
			break
		}
		if fragEnd > start {
			fragReadStart := uint64(0)
			if fragStart < start {
				fragReadStart = start - fragStart
			}
			bufReadStart := uint64(0)
			if fragStart >= start {
				bufReadStart = fragStart - start
			}
			var readLen uint64
			switch {
			case fragStart < start && fragEnd > end:
				readLen = end - start
			case fragStart < start:
				readLen = fragEnd - start
			case fragEnd > end:
				readLen = end - fragStart
			default:
				readLen = f.Size
			}
			if err := f.Pointer.Read(int(fragReadStart), int(readLen), r, data[bufReadStart:bufReadStart+readLen]); err != nil {
				return res, errors.Wrap(err, "objectset: reading fragment")
			}
			res += readLen
		}
		fragStart = fragEnd
	}
	return res, nil
}

// Reallocator is the subset of a mounted filesystem handle Object.Write
// needs: copy-on-write reallocation of an existing block, and allocation
// of fresh byte ranges for growth.
type Reallocator interface {
	Realloc(p pointer.Global) (pointer.Global, error)
	AllocBytes(n uint64) ([]diskgroup.Run, error)
}

// Write writes data at byte offset start, copy-on-writing each fragment
// it touches. A write that runs past the object's current size is not
// supported and returns ErrUnsupportedSpill; call Truncate first.
func (o *Object) Write(re Reallocator, start uint64, data []byte, r pointer.Resolver) (uint64, error) {
	if start+uint64(len(data)) > o.Size() {
		return 0, amerr.ErrUnsupportedSpill
	}
	var res uint64
	pos := uint64(0)
	for i := range o.Frags {
		f := &o.Frags[i]
		if res == uint64(len(data)) {
			break
		}
		if start+res < pos+f.Size {
			sliceStart := start + res - pos
			chunk := data[res:]
			if uint64(len(chunk)) > f.Size-sliceStart {
				chunk = chunk[:f.Size-sliceStart]
			}
			newPtr, err := re.Realloc(f.Pointer)
			if err != nil {
				return res, errors.Wrap(err, "objectset: reallocating fragment")
			}
			f.Pointer = newPtr
			if err := f.Pointer.Write(int(sliceStart), len(chunk), r, chunk); err != nil {
				return res, errors.Wrap(err, "objectset: writing fragment")
			}
			if err := f.Pointer.Update(r); err != nil {
				return res, errors.Wrap(err, "objectset: updating fragment checksum")
			}
			res += uint64(len(chunk))
		}
		pos += f.Size
	}
	return res, nil
}

// Truncate resizes the object to size bytes, dropping or shrinking
// trailing fragments to shrink, or allocating new fragments to grow.
func (o *Object) Truncate(re Reallocator, size uint64) error {
	if len(o.Frags) == 0 {
		if size == 0 {
			return nil
		}
		runs, err := re.AllocBytes(size)
		if err != nil {
			return errors.Wrap(err, "objectset: allocating truncate growth")
		}
		o.Frags = runsToFragments(runs, 0)
		return nil
	}

	curSize := o.Size()
	if size < curSize {
		for len(o.Frags) > 0 {
			lf := &o.Frags[len(o.Frags)-1]
			switch {
			case curSize-lf.Size > size:
				curSize -= lf.Size
				o.Frags = o.Frags[:len(o.Frags)-1]
			case curSize-lf.Size == size:
				o.Frags = o.Frags[:len(o.Frags)-1]
				return nil
			default:
				lf.Size = size - (curSize - lf.Size)
				return nil
			}
		}
		return nil
	}
	if size == curSize {
		return nil
	}

	runs, err := re.AllocBytes(size - curSize)
	if err != nil {
		return errors.Wrap(err, "objectset: allocating truncate growth")
	}
	o.Frags = append(o.Frags, runsToFragments(runs, 0)...)
	return nil
}

func runsToFragments(runs []diskgroup.Run, startOffset uint64) []Fragment {
	frags := make([]Fragment, len(runs))
	for i, r := range runs {
		frags[i] = Fragment{Size: r.Size, Offset: startOffset, Pointer: r.Pointer}
	}
	return frags
}

// ObjectSet is a handle to the root of the object-list chain.
type ObjectSet struct {
	Ptr pointer.Global
}

func readBlock(r pointer.Resolver, p pointer.Global) ([]byte, error) {
	return p.ReadVec(r)
}

// EmptyListBlock returns a freshly formatted, empty object-list block: a
// header naming zero entries starting at index 0, with the rest of the
// block zeroed (already a valid zero-sentinel for "no fragments").
func EmptyListBlock() [block.Size]byte {
	var buf [block.Size]byte
	hb := ObjectListHeader{StartIdx: 0, NEntries: 0}.marshal()
	copy(buf[:ListHeaderSize], hb[:])
	return buf
}

// RootListBlock returns a freshly formatted object-list block naming a
// single zero-fragment object at id 0, the root directory object every FS
// group's Directory field names. Every id assigned after mkfs must append
// sequentially from 1, since SetObject only supports growing a list one
// entry past its current end.
func RootListBlock() [block.Size]byte {
	var buf [block.Size]byte
	hb := ObjectListHeader{StartIdx: 0, NEntries: 1}.marshal()
	copy(buf[:ListHeaderSize], hb[:])
	return buf
}

// GetObject looks id up in the object-list block s.Ptr addresses,
// returning nil if no entry exists. Only that one block is consulted.
func (s *ObjectSet) GetObject(r pointer.Resolver, id uint64) (*Object, error) {
	cur := s.Ptr
	for !cur.IsNull() {
		blk, err := readBlock(r, cur)
		if err != nil {
			return nil, errors.Wrap(err, "objectset: reading list block")
		}
		header := unmarshalHeader(blk[:ListHeaderSize])
		if header.NEntries&indirectFlag != 0 {
			return nil, amerr.ErrUnsupportedSpill
		}
		if header.StartIdx <= id && id < header.StartIdx+header.NEntries {
			pos := ListHeaderSize
			idx := header.StartIdx
			for idx < id {
				for {
					if binary.LittleEndian.Uint64(blk[pos:pos+8]) == 0 {
						pos += 8
						break
					}
					pos += FragmentSize
				}
				idx++
			}
			var frags []Fragment
			for {
				if binary.LittleEndian.Uint64(blk[pos:pos+8]) == 0 {
					break
				}
				frags = append(frags, unmarshalFragment(blk[pos:pos+FragmentSize]))
				pos += FragmentSize
			}
			return &Object{Frags: frags}, nil
		}
		break
	}
	return nil, nil
}

// ExistsObject reports whether id has an entry in the object set.
func (s *ObjectSet) ExistsObject(r pointer.Resolver, id uint64) (bool, error) {
	o, err := s.GetObject(r, id)
	if err != nil {
		return false, err
	}
	return o != nil, nil
}

// GetObjects returns every object in the set, keyed by id.
func (s *ObjectSet) GetObjects(r pointer.Resolver) (map[uint64]*Object, error) {
	res := make(map[uint64]*Object)
	cur := s.Ptr
	for !cur.IsNull() {
		blk, err := readBlock(r, cur)
		if err != nil {
			return nil, errors.Wrap(err, "objectset: reading list block")
		}
		header := unmarshalHeader(blk[:ListHeaderSize])
		if header.NEntries&indirectFlag != 0 {
			return nil, amerr.ErrUnsupportedSpill
		}
		pos := ListHeaderSize
		idx := header.StartIdx
		for i := idx; i < idx+header.NEntries; i++ {
			var frags []Fragment
			for {
				if binary.LittleEndian.Uint64(blk[pos:pos+8]) == 0 {
					pos += 8
					break
				}
				frags = append(frags, unmarshalFragment(blk[pos:pos+FragmentSize]))
				pos += FragmentSize
			}
			res[i] = &Object{Frags: frags}
		}
		break
	}
	return res, nil
}

// SizeObject returns the size in bytes of object id.
func (s *ObjectSet) SizeObject(r pointer.Resolver, id uint64) (uint64, error) {
	o, err := s.GetObject(r, id)
	if err != nil {
		return 0, err
	}
	if o == nil {
		return 0, amerr.ErrNoObject
	}
	return o.Size(), nil
}

// ReadObject reads into data from object id at byte offset start.
func (s *ObjectSet) ReadObject(r pointer.Resolver, id, start uint64, data []byte) (uint64, error) {
	o, err := s.GetObject(r, id)
	if err != nil {
		return 0, err
	}
	if o == nil {
		return 0, amerr.ErrNoObject
	}
	return o.Read(start, data, r)
}

// SetObject inserts or updates object id within the single list block
// that should contain it, appending in place when there's room, replacing
// in place when the new encoding is the same size, and shifting trailing
// entries within the block when it's a different size but still fits.
// Anything that would need a new block returns ErrUnsupportedSpill.
func (s *ObjectSet) SetObject(re Reallocator, r pointer.Resolver, id uint64, obj *Object) (*ObjectSet, error) {
	res := &ObjectSet{Ptr: s.Ptr}
	ptr := s.Ptr
	blk, err := readBlock(r, ptr)
	if err != nil {
		return nil, errors.Wrap(err, "objectset: reading list block")
	}
	header := unmarshalHeader(blk[:ListHeaderSize])
	if header.NEntries&indirectFlag != 0 {
		return nil, amerr.ErrUnsupportedSpill
	}
	if header.StartIdx > id || id > header.StartIdx+header.NEntries {
		return nil, amerr.ErrUnsupportedSpill
	}

	pos := ListHeaderSize
	idx := header.StartIdx
	for idx < id {
		for {
			if binary.LittleEndian.Uint64(blk[pos:pos+8]) == 0 {
				pos += 8
				break
			}
			pos += FragmentSize
		}
		idx++
	}

	if id == header.StartIdx+header.NEntries {
		header.NEntries++
		objSize := FragmentSize*len(obj.Frags) + 8
		if pos+objSize >= block.Size {
			return nil, amerr.ErrUnsupportedSpill
		}
	} else {
		objSize := FragmentSize*len(obj.Frags) + 8
		i := pos
		for {
			if binary.LittleEndian.Uint64(blk[i:i+8]) == 0 {
				i += 8
				break
			}
			i += FragmentSize
		}
		idx++
		slotSize := i - pos
		if objSize != slotSize {
			sizeDiff := objSize - slotSize
			j := i
			for idx < header.StartIdx+header.NEntries {
				for {
					if binary.LittleEndian.Uint64(blk[j:j+8]) == 0 {
						j += 8
						break
					}
					j += FragmentSize
				}
				idx++
			}
			newEnd := j + sizeDiff
			if newEnd > block.Size {
				return nil, amerr.ErrUnsupportedSpill
			}
			copy(blk[i+sizeDiff:j+sizeDiff], blk[i:j])
		}
	}

	for _, frag := range obj.Frags {
		fb := frag.marshal()
		copy(blk[pos:pos+FragmentSize], fb[:])
		pos += FragmentSize
	}
	binary.LittleEndian.PutUint64(blk[pos:pos+8], 0)

	hb := header.marshal()
	copy(blk[:ListHeaderSize], hb[:])

	newPtr, err := re.Realloc(ptr)
	if err != nil {
		return nil, errors.Wrap(err, "objectset: reallocating list block")
	}
	if err := newPtr.Write(0, len(blk), r, blk); err != nil {
		return nil, errors.Wrap(err, "objectset: writing list block")
	}
	if err := newPtr.Update(r); err != nil {
		return nil, errors.Wrap(err, "objectset: updating list block checksum")
	}
	res.Ptr = newPtr
	return res, nil
}
