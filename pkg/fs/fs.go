// Package fs implements the mounted AMFS handle: the mount sequence,
// object read/write/create/truncate, block allocation/reallocation/free,
// and the commit protocol that atomically publishes a new transaction by
// rotating every disk's superblock ring.
package fs

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/AM-OperatingSystem/amfs/pkg/allocator"
	"github.com/AM-OperatingSystem/amfs/pkg/amerr"
	"github.com/AM-OperatingSystem/amfs/pkg/block"
	"github.com/AM-OperatingSystem/amfs/pkg/diskgroup"
	"github.com/AM-OperatingSystem/amfs/pkg/features"
	"github.com/AM-OperatingSystem/amfs/pkg/fsgroup"
	"github.com/AM-OperatingSystem/amfs/pkg/objectset"
	"github.com/AM-OperatingSystem/amfs/pkg/pointer"
	"github.com/AM-OperatingSystem/amfs/pkg/superblock"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const geometrySlots = 16
const rootGeo = 0
const rootnodeSlots = 128

// state is the mounted volume's in-memory working set.
type state struct {
	diskgroups  diskgroup.Groups
	disks       map[uint64]block.Disk
	diskids     []uint64
	superblocks map[uint64][4]*superblock.Superblock
	allocators  map[uint64]*allocator.Allocator
	journal     []fsgroup.JournalEntry
	objects     *objectset.ObjectSet
	freeQueue   *fsgroup.FreeQueue
	curTxid     fsgroup.Txid
}

// Handle is a mounted AMFS volume. All access goes through its
// multiple-reader/single-writer lock; a panic while the lock is held
// poisons the handle, and every subsequent call fails with
// amerr.ErrPoison rather than risk operating on half-updated state.
type Handle struct {
	mu       sync.RWMutex
	poisoned int32
	fs       *state
}

func (h *Handle) withRead(fn func(*state) error) (err error) {
	if atomic.LoadInt32(&h.poisoned) != 0 {
		return amerr.ErrPoison
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	defer func() {
		if r := recover(); r != nil {
			atomic.StoreInt32(&h.poisoned, 1)
			err = errors.Wrapf(amerr.ErrPoison, "panic: %v", r)
		}
	}()
	return fn(h.fs)
}

func (h *Handle) withWrite(fn func(*state) error) (err error) {
	if atomic.LoadInt32(&h.poisoned) != 0 {
		return amerr.ErrPoison
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			atomic.StoreInt32(&h.poisoned, 1)
			err = errors.Wrapf(amerr.ErrPoison, "panic: %v", r)
		}
	}()
	return fn(h.fs)
}

// Open mounts a volume from the given disks: loads every superblock copy,
// builds the geometry-indexed disk groups, loads every allocator and the
// free queue, checks the on-disk feature bitmap against this build, and
// opens the root object set.
func Open(disks []block.Disk) (*Handle, error) {
	s := &state{
		diskgroups:  make(diskgroup.Groups, geometrySlots),
		disks:       make(map[uint64]block.Disk),
		superblocks: make(map[uint64][4]*superblock.Superblock),
		allocators:  make(map[uint64]*allocator.Allocator),
	}

	devids, err := s.loadSuperblocks(disks)
	if err != nil {
		return nil, err
	}
	if err := s.buildDiskgroups(devids, disks); err != nil {
		return nil, err
	}
	if err := s.loadAllocators(); err != nil {
		return nil, err
	}

	sb, err := s.getSuperblock()
	if err != nil {
		return nil, err
	}
	if !sb.TestFeatures(features.CurrentSet()) {
		return nil, errors.New("fs: volume requires unsupported features")
	}

	root, err := s.getRootGroup()
	if err != nil {
		return nil, err
	}
	s.objects = &objectset.ObjectSet{Ptr: root.Objects}
	s.curTxid = root.Txid.Next()

	logrus.Infof("fs: mounted volume, txid=%d/%d", s.curTxid.Hi, s.curTxid.Lo)
	return &Handle{fs: s}, nil
}

func (s *state) loadSuperblocks(disks []block.Disk) ([]uint64, error) {
	devids := make([]uint64, 0, len(disks))
	for _, d := range disks {
		locs, err := block.HeaderLocs(d)
		if err != nil {
			return nil, errors.Wrap(err, "fs: computing superblock locations")
		}
		var diskDevid uint64
		found := false
		for i, loc := range locs {
			sb, err := superblock.Read(d, loc)
			if err != nil {
				logrus.Warnf("fs: superblock ?:%d corrupted: %v", i, err)
				continue
			}
			logrus.Infof("fs: superblock %x:%d OK", sb.DevID, i)
			slots := s.superblocks[sb.DevID]
			slots[i] = sb
			s.superblocks[sb.DevID] = slots
			if _, ok := s.disks[sb.DevID]; !ok {
				s.disks[sb.DevID] = d
				s.diskids = append(s.diskids, sb.DevID)
			}
			diskDevid = sb.DevID
			found = true
		}
		if !found {
			return nil, amerr.ErrNoSuperblock
		}
		devids = append(devids, diskDevid)
	}
	sort.Slice(s.diskids, func(i, j int) bool { return s.diskids[i] < s.diskids[j] })
	return devids, nil
}

func (s *state) buildDiskgroups(devids []uint64, disks []block.Disk) error {
	for devid, slots := range s.superblocks {
		diskNo := -1
		for i, d := range devids {
			if d == devid {
				diskNo = i
				break
			}
		}
		if diskNo == -1 {
			return amerr.ErrUnknownDevID
		}
		for sbn, sb := range slots {
			if sb == nil {
				continue
			}
			for i := 0; i < geometrySlots; i++ {
				if s.diskgroups[i] != nil {
					continue
				}
				if sb.Geometries[i].IsNull() {
					continue
				}
				geo, err := sb.GetGeometry(disks[diskNo], uint8(i))
				if err != nil {
					logrus.Errorf("fs: corrupt geometry %x:%d:%d: %v", devid, sbn, i, err)
					continue
				}
				dg, err := diskgroup.FromGeo(geo, devids, disks)
				if err != nil {
					return err
				}
				logrus.Infof("fs: built diskgroup using %x:%d:%d", devid, sbn, i)
				s.diskgroups[i] = dg
			}
		}
	}
	return nil
}

func (s *state) loadAllocators() error {
	sb, err := s.getSuperblock()
	if err != nil {
		return err
	}
	root, err := sb.GetGroup(s.diskgroups)
	if err != nil {
		return err
	}
	allocs, err := root.GetAllocators(s.diskgroups)
	if err != nil {
		return err
	}
	s.allocators = allocs
	for _, dg := range s.diskgroups {
		if dg == nil {
			continue
		}
		if err := dg.LoadAllocators(allocs); err != nil {
			return err
		}
	}
	fq, err := root.ReadFreeQueue(s.diskgroups)
	if err != nil {
		return err
	}
	s.freeQueue = fq
	return nil
}

// getSuperblock picks, across every disk and every one of its four
// superblock copies, the one whose root group has the highest txid.
func (s *state) getSuperblock() (*superblock.Superblock, error) {
	var best *superblock.Superblock
	var bestTxid fsgroup.Txid
	for _, slots := range s.superblocks {
		for _, sb := range slots {
			if sb == nil {
				continue
			}
			group, err := sb.GetGroup(s.diskgroups)
			if err != nil {
				continue
			}
			if best == nil || bestTxid.Less(group.Txid) {
				best = sb
				bestTxid = group.Txid
			}
		}
	}
	if best == nil {
		return nil, amerr.ErrNoFSGroup
	}
	return best, nil
}

func (s *state) getRootGroup() (*fsgroup.FSGroup, error) {
	sb, err := s.getSuperblock()
	if err != nil {
		return nil, err
	}
	return sb.GetGroup(s.diskgroups)
}

// stateReallocator adapts state's unlocked allocation helpers to
// objectset.Reallocator for use from within a method that already holds
// the handle's write lock — going back through Handle's exported methods
// there would try to re-acquire a non-reentrant lock and deadlock.
type stateReallocator struct{ s *state }

func (r stateReallocator) Realloc(p pointer.Global) (pointer.Global, error) {
	return r.s.realloc(p)
}

func (r stateReallocator) AllocBytes(n uint64) ([]diskgroup.Run, error) {
	return r.s.allocBytes(n)
}

func (s *state) allocBlocks(n uint64) (pointer.Global, error) {
	p, err := s.diskgroups.AllocBlocks(rootGeo, n)
	if err != nil {
		return pointer.NullGlobal(), errors.Wrap(err, "fs: allocating blocks")
	}
	if err := p.Update(s.diskgroups); err != nil {
		return pointer.NullGlobal(), errors.Wrap(err, "fs: updating allocation checksum")
	}
	s.journal = append(s.journal, fsgroup.JournalEntry{Kind: fsgroup.JournalAlloc, Pointer: p})
	return p, nil
}

func (s *state) allocBytes(n uint64) ([]diskgroup.Run, error) {
	runs, err := s.diskgroups.AllocBytes(rootGeo, n)
	if err != nil {
		return nil, errors.Wrap(err, "fs: allocating bytes")
	}
	for i := range runs {
		if err := runs[i].Pointer.Update(s.diskgroups); err != nil {
			return nil, errors.Wrap(err, "fs: updating allocation checksum")
		}
	}
	return runs, nil
}

func (s *state) free(ptr pointer.Global) error {
	logrus.Infof("fs: freeing %+v", ptr)
	s.journal = append(s.journal, fsgroup.JournalEntry{Kind: fsgroup.JournalFree, Pointer: ptr})
	s.freeQueue.Push(s.curTxid, ptr)
	return nil
}

func (s *state) realloc(ptr pointer.Global) (pointer.Global, error) {
	newPtr, err := s.allocBlocks(uint64(ptr.Length()))
	if err != nil {
		return pointer.NullGlobal(), err
	}
	c, err := ptr.ReadVec(s.diskgroups)
	if err != nil {
		return pointer.NullGlobal(), errors.Wrap(err, "fs: reading pointer to reallocate")
	}
	if err := newPtr.Write(0, len(c), s.diskgroups, c); err != nil {
		return pointer.NullGlobal(), errors.Wrap(err, "fs: writing reallocated contents")
	}
	if err := s.free(ptr); err != nil {
		return pointer.NullGlobal(), err
	}
	return newPtr, nil
}

// AllocBlocks allocates one block on the root geometry slot and records
// the allocation in the journal. Only n == 1 is supported; any other n
// returns an error.
func (h *Handle) AllocBlocks(n uint64) (pointer.Global, error) {
	var res pointer.Global
	err := h.withWrite(func(s *state) error {
		p, err := s.allocBlocks(n)
		res = p
		return err
	})
	return res, err
}

// AllocBytes implements objectset.Reallocator, splitting an n-byte
// request into whole-block runs on the root geometry slot.
func (h *Handle) AllocBytes(n uint64) ([]diskgroup.Run, error) {
	var res []diskgroup.Run
	err := h.withWrite(func(s *state) error {
		r, err := s.allocBytes(n)
		res = r
		return err
	})
	return res, err
}

// Realloc implements objectset.Reallocator: copy-on-write reallocation of
// an existing pointer's contents into a freshly allocated run of the same
// length, freeing the old one.
func (h *Handle) Realloc(ptr pointer.Global) (pointer.Global, error) {
	var res pointer.Global
	err := h.withWrite(func(s *state) error {
		p, err := s.realloc(ptr)
		res = p
		return err
	})
	return res, err
}

// Free records ptr as reclaimable once every superblock's active root
// group has moved past the current transaction.
func (h *Handle) Free(ptr pointer.Global) error {
	return h.withWrite(func(s *state) error { return s.free(ptr) })
}

// ReadObject reads into data from object id at byte offset start.
func (h *Handle) ReadObject(id, start uint64, data []byte) (uint64, error) {
	var n uint64
	err := h.withRead(func(s *state) error {
		v, err := s.objects.ReadObject(s.diskgroups, id, start, data)
		n = v
		return err
	})
	return n, err
}

// SizeObject returns the size in bytes of object id.
func (h *Handle) SizeObject(id uint64) (uint64, error) {
	var n uint64
	err := h.withRead(func(s *state) error {
		v, err := s.objects.SizeObject(s.diskgroups, id)
		n = v
		return err
	})
	return n, err
}

// WriteObject writes data into object id at byte offset start.
func (h *Handle) WriteObject(id, start uint64, data []byte) (uint64, error) {
	var n uint64
	err := h.withWrite(func(s *state) error {
		obj, err := s.objects.GetObject(s.diskgroups, id)
		if err != nil {
			return err
		}
		if obj == nil {
			return amerr.ErrNoObject
		}
		v, err := obj.Write(stateReallocator{s}, start, data, s.diskgroups)
		if err != nil {
			return err
		}
		updated, err := s.objects.SetObject(stateReallocator{s}, s.diskgroups, id, obj)
		if err != nil {
			return err
		}
		s.objects = updated
		n = v
		return nil
	})
	return n, err
}

// CreateObject creates a new size-byte object at id, backed by a single
// freshly allocated block.
func (h *Handle) CreateObject(id, size uint64) error {
	return h.withWrite(func(s *state) error {
		ptr, err := s.allocBlocks(1)
		if err != nil {
			return errors.Wrap(err, "fs: allocating object block")
		}
		obj := objectset.NewObject([]objectset.Fragment{{Size: size, Offset: 0, Pointer: ptr}})
		updated, err := s.objects.SetObject(stateReallocator{s}, s.diskgroups, id, obj)
		if err != nil {
			return err
		}
		s.objects = updated
		return nil
	})
}

// TruncateObject resizes object id to size bytes.
func (h *Handle) TruncateObject(id, size uint64) error {
	return h.withWrite(func(s *state) error {
		obj, err := s.objects.GetObject(s.diskgroups, id)
		if err != nil {
			return err
		}
		if obj == nil {
			return amerr.ErrNoObject
		}
		if err := obj.Truncate(stateReallocator{s}, size); err != nil {
			return err
		}
		updated, err := s.objects.SetObject(stateReallocator{s}, s.diskgroups, id, obj)
		if err != nil {
			return err
		}
		s.objects = updated
		return nil
	})
}

// Sync flushes every backing disk group.
func (h *Handle) Sync() error {
	return h.withWrite(func(s *state) error {
		return s.diskgroups.Sync()
	})
}

// Commit publishes the current in-memory state as a new transaction:
// writes the free queue, the allocator map (two-phase), and a fresh root
// group, then rotates every disk's superblock ring to point at it and
// syncs.
func (h *Handle) Commit() error {
	return h.withWrite(func(s *state) error {
		root, err := s.getRootGroup()
		if err != nil {
			return err
		}
		root.Objects = s.objects.Ptr
		root.Txid = s.curTxid

		if err := root.WriteFreeQueue(s.diskgroups, s.freeQueue); err != nil {
			return err
		}
		if err := root.WriteAllocators(s.diskgroups, s.allocators); err != nil {
			return err
		}
		if err := root.WriteJournal(s.diskgroups, s.journal); err != nil {
			return err
		}
		s.journal = nil

		rootPtr, err := root.Write(s.diskgroups, rootGeo)
		if err != nil {
			return errors.Wrap(err, "fs: writing root group")
		}

		for _, diskID := range s.diskids {
			slots := s.superblocks[diskID]
			locs, err := block.HeaderLocs(s.disks[diskID])
			if err != nil {
				return err
			}
			for i := 0; i < 4; i++ {
				sb := slots[i]
				if sb == nil {
					continue
				}
				newSlot := uint8((int(sb.LatestRoot) + 1) % rootnodeSlots)
				sb.Rootnodes[newSlot] = rootPtr
				sb.LatestRoot = newSlot
				if err := sb.Write(s.disks[diskID], locs[i]); err != nil {
					return errors.Wrapf(err, "fs: writing superblock copy %d on disk %x", i, diskID)
				}
			}
			s.superblocks[diskID] = slots
		}

		s.curTxid = s.curTxid.Next()
		logrus.Infof("fs: committed txid=%d/%d", root.Txid.Hi, root.Txid.Lo)
		return s.diskgroups.Sync()
	})
}
