// Package llg implements the linked-list-of-blocks container AMFS uses to
// store variable-length collections (allocator extent maps, the alloc
// list, the free queue, the journal) as a chain of fixed-size blocks
// addressed by a global pointer.
//
// The Rust original expresses this as a trait blanket-implemented for
// Vec<T> over any Copy type, using unsafe casts to reinterpret block bytes
// as T. Go generics let the same call-site shape exist (llg.Write[T],
// llg.Read[T], ...) without the unsafe reinterpretation: callers supply
// explicit marshal/unmarshal functions and every record is encoded via
// encoding/binary at the type's own definition.
package llg

import (
	"encoding/binary"

	"github.com/AM-OperatingSystem/amfs/pkg/amerr"
	"github.com/AM-OperatingSystem/amfs/pkg/block"
	"github.com/AM-OperatingSystem/amfs/pkg/pointer"
	"github.com/pkg/errors"
)

// HeaderSize is the on-disk size, in bytes, of a chain link's header.
const HeaderSize = 32

// header is the fixed per-block link header: the next block in the chain
// and how many entries this block holds.
type header struct {
	Next  pointer.Global
	Count uint64
	_     uint64
}

func (h header) marshal() [HeaderSize]byte {
	var buf [HeaderSize]byte
	nextBytes := h.Next.Bytes()
	copy(buf[0:16], nextBytes[:])
	binary.LittleEndian.PutUint64(buf[16:24], h.Count)
	return buf
}

// Allocator is the subset of DiskGroup functionality llg needs to grow a
// chain: single-block allocation and the two-phase preallocate/write
// protocol's bulk form.
type Allocator interface {
	AllocBlocks(geo uint8, count uint64) (pointer.Global, error)
	AllocMany(geo uint8, count uint64) ([]pointer.Global, error)
}

// Store combines pointer.Resolver (block I/O) with Allocator (block
// allocation), the full set of operations llg needs against a disk group.
type Store interface {
	pointer.Resolver
	Allocator
}

func headerUnmarshal(buf []byte) header {
	var h header
	var pbuf [pointer.Size]byte
	copy(pbuf[:], buf[0:16])
	h.Next = pointer.GlobalFromBytes(pbuf)
	h.Count = binary.LittleEndian.Uint64(buf[16:24])
	return h
}

func entriesPerBlock(entrySize int) int {
	return (block.Size - HeaderSize) / entrySize
}

func blocksNeeded(count, entSize int) int {
	if count == 0 {
		return 1
	}
	each := entriesPerBlock(entSize)
	return (count + each - 1) / each
}

// Read walks the chain starting at p, decoding every entry with unmarshal.
func Read[T any](s Store, p pointer.Global, entrySize int, unmarshal func([]byte) T) ([]T, error) {
	var res []T
	cur := p
	var buf [block.Size]byte
	for !cur.IsNull() {
		ok, err := cur.Validate(s)
		if err != nil {
			return nil, errors.Wrap(err, "llg: validating chain link")
		}
		if !ok {
			return nil, amerr.ErrChecksum
		}
		if err := cur.Read(0, block.Size, s, buf[:]); err != nil {
			return nil, errors.Wrap(err, "llg: reading chain link")
		}
		h := headerUnmarshal(buf[:HeaderSize])
		for i := uint64(0); i < h.Count; i++ {
			start := HeaderSize + int(i)*entrySize
			res = append(res, unmarshal(buf[start:start+entrySize]))
		}
		cur = h.Next
	}
	return res, nil
}

// Write allocates a fresh chain on geometry slot geo, serializes items
// into it, and returns a pointer to its head.
func Write[T any](s Store, geo uint8, items []T, entrySize int, marshal func(T) []byte) (pointer.Global, error) {
	nBlocks := blocksNeeded(len(items), entrySize)
	blockptrs := make([]pointer.Global, 0, nBlocks)
	for i := 0; i < nBlocks; i++ {
		p, err := s.AllocBlocks(geo, 1)
		if err != nil {
			return pointer.NullGlobal(), errors.Wrap(err, "llg: allocating chain block")
		}
		blockptrs = append(blockptrs, p)
	}
	return writeInto(s, items, entrySize, marshal, blockptrs)
}

// Prealloc reserves the blocks needed to hold count items ahead of
// time, breaking the cycle where a structure's own storage allocation
// would otherwise need to be recorded by the structure itself.
func Prealloc(s Store, geo uint8, count, entrySize int) ([]pointer.Global, error) {
	n := blocksNeeded(count, entrySize)
	ptrs, err := s.AllocMany(geo, uint64(n))
	if err != nil {
		return nil, errors.Wrap(err, "llg: preallocating chain blocks")
	}
	return ptrs, nil
}

// WritePreallocd serializes items into previously reserved blocks.
func WritePreallocd[T any](s Store, items []T, entrySize int, marshal func(T) []byte, blocks []pointer.Global) (pointer.Global, error) {
	want := blocksNeeded(len(items), entrySize)
	if len(blocks) != want {
		return pointer.NullGlobal(), errors.Errorf("llg: expected %d preallocated blocks, got %d", want, len(blocks))
	}
	return writeInto(s, items, entrySize, marshal, blocks)
}

func writeInto[T any](s Store, items []T, entrySize int, marshal func(T) []byte, blockptrs []pointer.Global) (pointer.Global, error) {
	nBlocks := len(blockptrs)
	chain := append(append([]pointer.Global{}, blockptrs...), pointer.NullGlobal())

	headers := make([]header, nBlocks)
	for i := 0; i < nBlocks; i++ {
		headers[i].Next = chain[i+1]
	}

	each := entriesPerBlock(entrySize)
	idx := 0
	for i := 0; i < nBlocks; i++ {
		var buf [block.Size]byte
		pos := HeaderSize
		for j := 0; j < each && idx < len(items); j++ {
			copy(buf[pos:pos+entrySize], marshal(items[idx]))
			headers[i].Count++
			idx++
			pos += entrySize
		}
		hb := headers[i].marshal()
		copy(buf[0:HeaderSize], hb[:])
		if err := chain[i].Write(0, block.Size, s, buf[:]); err != nil {
			return pointer.NullGlobal(), errors.Wrap(err, "llg: writing chain link")
		}
	}

	for i := nBlocks - 1; i >= 0; i-- {
		if i == nBlocks-1 {
			continue
		}
		if err := headers[i].Next.Update(s); err != nil {
			return pointer.NullGlobal(), errors.Wrap(err, "llg: updating chain link checksum")
		}
		var buf [block.Size]byte
		if err := chain[i].Read(0, block.Size, s, buf[:]); err != nil {
			return pointer.NullGlobal(), errors.Wrap(err, "llg: rereading chain link")
		}
		hb := headers[i].marshal()
		copy(buf[0:HeaderSize], hb[:])
		if err := chain[i].Write(0, block.Size, s, buf[:]); err != nil {
			return pointer.NullGlobal(), errors.Wrap(err, "llg: rewriting chain link")
		}
	}

	head := chain[0]
	if err := head.Update(s); err != nil {
		return pointer.NullGlobal(), errors.Wrap(err, "llg: updating chain head checksum")
	}
	return head, nil
}
