// Package allocator implements AMFS's per-disk block allocator: an extent
// map keyed by starting block address, supporting exact-fit-then-first-fit
// allocation,
// coalescing frees, and marking an arbitrary sub-range used ahead of time
// (for the blocks a disk's own bootstrap structures occupy).
package allocator

import (
	"encoding/binary"
	"sort"
	"sync"

	"github.com/AM-OperatingSystem/amfs/pkg/amerr"
	"github.com/AM-OperatingSystem/amfs/pkg/block"
	"github.com/AM-OperatingSystem/amfs/pkg/llg"
	"github.com/AM-OperatingSystem/amfs/pkg/pointer"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Extent is a run of size blocks, either free or in use.
type Extent struct {
	Size uint64
	Used bool
}

// Allocator is the in-memory form of a disk's extent map. It keeps its
// extents sorted by starting address in a plain slice rather than a
// third-party ordered-map type: the pack carries no balanced-tree/ordered-map
// library, and BTreeMap's role here is just "iterate in address order",
// which a sorted slice + binary search gives directly.
type Allocator struct {
	mu      sync.Mutex
	size    uint64
	starts  []uint64
	extents map[uint64]Extent
}

// New creates an allocator over size blocks, entirely free.
func New(size uint64) *Allocator {
	return &Allocator{
		size:    size,
		starts:  []uint64{0},
		extents: map[uint64]Extent{0: {Size: size, Used: false}},
	}
}

// FreeSpace returns the number of free blocks.
func (a *Allocator) FreeSpace() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var free uint64
	for _, ex := range a.extents {
		if !ex.Used {
			free += ex.Size
		}
	}
	return free
}

// UsedSpace returns the number of in-use blocks.
func (a *Allocator) UsedSpace() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var used uint64
	for _, ex := range a.extents {
		if ex.Used {
			used += ex.Size
		}
	}
	return used
}

// TotalSpace returns the allocator's total size in blocks.
func (a *Allocator) TotalSpace() uint64 { return a.size }

// Extents returns a copy of the extent map keyed by starting block.
func (a *Allocator) Extents() map[uint64]Extent {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[uint64]Extent, len(a.extents))
	for k, v := range a.extents {
		out[k] = v
	}
	return out
}

func (a *Allocator) insert(start uint64, ex Extent) {
	if _, exists := a.extents[start]; !exists {
		i := sort.Search(len(a.starts), func(i int) bool { return a.starts[i] >= start })
		a.starts = append(a.starts, 0)
		copy(a.starts[i+1:], a.starts[i:])
		a.starts[i] = start
	}
	a.extents[start] = ex
}

func (a *Allocator) remove(start uint64) {
	delete(a.extents, start)
	i := sort.Search(len(a.starts), func(i int) bool { return a.starts[i] >= start })
	if i < len(a.starts) && a.starts[i] == start {
		a.starts = append(a.starts[:i], a.starts[i+1:]...)
	}
}

// predecessor returns the last extent whose start is <= addr.
func (a *Allocator) predecessor(addr uint64) (uint64, Extent, bool) {
	i := sort.Search(len(a.starts), func(i int) bool { return a.starts[i] > addr })
	if i == 0 {
		return 0, Extent{}, false
	}
	s := a.starts[i-1]
	return s, a.extents[s], true
}

// successor returns the extent immediately after the one starting at addr.
func (a *Allocator) successor(addr uint64) (uint64, Extent, bool) {
	i := sort.Search(len(a.starts), func(i int) bool { return a.starts[i] > addr })
	if i >= len(a.starts) {
		return 0, Extent{}, false
	}
	s := a.starts[i]
	return s, a.extents[s], true
}

// Alloc allocates a contiguous run of size blocks, preferring an exact-size
// free extent before falling back to splitting a larger one.
func (a *Allocator) Alloc(size uint64) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.alloc(size)
}

func (a *Allocator) alloc(size uint64) (uint64, error) {
	if size == 0 {
		return 0, errors.Errorf("allocator: invalid allocation size %d", size)
	}
	if size > a.size {
		return 0, amerr.ErrAllocFailed
	}
	logrus.Tracef("allocator: allocating %d blocks", size)
	for _, start := range a.starts {
		ex := a.extents[start]
		if ex.Used {
			continue
		}
		if ex.Size == size {
			ex.Used = true
			a.extents[start] = ex
			return start, nil
		}
	}
	for _, start := range a.starts {
		ex := a.extents[start]
		if ex.Used || ex.Size <= size {
			continue
		}
		a.extents[start] = Extent{Size: size, Used: true}
		a.insert(start+size, Extent{Size: ex.Size - size, Used: false})
		return start, nil
	}
	return 0, amerr.ErrAllocFailed
}

// AllocMany allocates count single blocks, not necessarily contiguous,
// rolling back everything allocated so far if any single allocation fails.
func (a *Allocator) AllocMany(count uint64) ([]uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	res := make([]uint64, 0, count)
	for i := uint64(0); i < count; i++ {
		v, err := a.alloc(1)
		if err != nil {
			for _, addr := range res {
				a.free(addr)
			}
			return nil, amerr.ErrAllocFailed
		}
		res = append(res, v)
	}
	return res, nil
}

// Free returns the extent starting at addr to the free pool, merging with
// adjacent free extents on either side.
func (a *Allocator) Free(addr uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.free(addr)
	return nil
}

func (a *Allocator) free(addr uint64) {
	ex, ok := a.extents[addr]
	if !ok {
		return
	}
	ex.Used = false
	a.extents[addr] = ex

	if nAddr, next, ok := a.successor(addr); ok && !next.Used {
		ex.Size += next.Size
		a.extents[addr] = ex
		a.remove(nAddr)
	}
	if addr > 0 {
		if pAddr, prev, ok := a.predecessor(addr - 1); ok && !prev.Used {
			prev.Size += a.extents[addr].Size
			a.extents[pAddr] = prev
			a.remove(addr)
		}
	}
}

// MarkUsed marks the sub-range [start, start+size) used, splitting the
// free extent that currently contains it as needed.
func (a *Allocator) MarkUsed(start, size uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	cAddr, c, ok := a.predecessor(start)
	if !ok {
		return errors.New("allocator: no containing extent for mark-used range")
	}
	if c.Used {
		return errors.New("allocator: mark-used range already in use")
	}
	if cAddr+c.Size < start+size {
		return errors.New("allocator: mark-used range exceeds its containing extent")
	}

	switch {
	case start == cAddr && c.Size == size:
		a.extents[cAddr] = Extent{Size: size, Used: true}
	case start == cAddr:
		a.extents[cAddr] = Extent{Size: size, Used: true}
		a.insert(cAddr+size, Extent{Size: c.Size - size, Used: false})
	case cAddr+c.Size == start+size:
		a.extents[cAddr] = Extent{Size: start - cAddr, Used: false}
		a.insert(start, Extent{Size: size, Used: true})
	default:
		a.extents[cAddr] = Extent{Size: start - cAddr, Used: false}
		a.insert(start, Extent{Size: size, Used: true})
		a.insert(start+size, Extent{Size: (cAddr + c.Size) - (start + size), Used: false})
	}
	return nil
}

const entrySize = 8

func marshalEntry(v uint64) []byte {
	buf := make([]byte, entrySize)
	binary.LittleEndian.PutUint64(buf, v)
	return buf
}

func unmarshalEntry(buf []byte) uint64 {
	return binary.LittleEndian.Uint64(buf)
}

func (a *Allocator) entries() []uint64 {
	out := make([]uint64, 0, len(a.starts)+1)
	out = append(out, a.size)
	for _, start := range a.starts {
		ex := a.extents[start]
		v := ex.Size
		if ex.Used {
			v |= 0x8000000000000000
		}
		out = append(out, v)
	}
	return out
}

// Read decodes an allocator from the chain rooted at ptr.
func Read(s llg.Store, ptr pointer.Global) (*Allocator, error) {
	raw, err := llg.Read(s, ptr, entrySize, unmarshalEntry)
	if err != nil {
		return nil, errors.Wrap(err, "allocator: reading chain")
	}
	if len(raw) == 0 {
		return nil, amerr.ErrNoAllocator
	}
	a := New(raw[0])
	a.starts = a.starts[:0]
	a.extents = make(map[uint64]Extent)
	var start uint64
	for _, l := range raw[1:] {
		size := l &^ 0x8000000000000000
		used := l&0x8000000000000000 != 0
		a.insert(start, Extent{Size: size, Used: used})
		start += size
	}
	return a, nil
}

// Write serializes the allocator as a fresh chain on geometry slot geo.
func (a *Allocator) Write(s llg.Store, geo uint8) (pointer.Global, error) {
	a.mu.Lock()
	entries := a.entries()
	a.mu.Unlock()
	p, err := llg.Write(s, geo, entries, entrySize, marshalEntry)
	return p, errors.Wrap(err, "allocator: writing chain")
}

// Prealloc reserves the blocks this allocator's on-disk chain will need.
// Because the blocks being reserved come from this same allocator's pool,
// reserving them can itself grow the extent count enough to need one more
// block; Prealloc loops until the reservation covers its own cost, exactly
// as the original allocator does.
func (a *Allocator) Prealloc(s llg.Store, geo uint8) ([]pointer.Global, error) {
	per := entriesPerAllocatorBlock()
	a.mu.Lock()
	blocksFor := func() int { return (len(a.starts) + 1 + per - 1) / per }
	count := len(a.starts) + 1
	a.mu.Unlock()

	res, err := llg.Prealloc(s, geo, count, entrySize)
	if err != nil {
		return nil, err
	}
	for {
		a.mu.Lock()
		need := blocksFor()
		a.mu.Unlock()
		if len(res) >= need {
			break
		}
		more, err := llg.Prealloc(s, geo, (need-len(res))*entriesPerAllocatorBlock(), entrySize)
		if err != nil {
			return nil, err
		}
		res = append(res, more...)
	}
	return res, nil
}

func entriesPerAllocatorBlock() int {
	return (block.Size - llg.HeaderSize) / entrySize
}

// WritePreallocd serializes the allocator into previously reserved blocks.
func (a *Allocator) WritePreallocd(s llg.Store, blocks []pointer.Global) (pointer.Global, error) {
	a.mu.Lock()
	entries := a.entries()
	a.mu.Unlock()
	p, err := llg.WritePreallocd(s, entries, entrySize, marshalEntry, blocks)
	return p, errors.Wrap(err, "allocator: writing preallocated chain")
}
