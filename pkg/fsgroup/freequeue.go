package fsgroup

import (
	"encoding/binary"

	"github.com/AM-OperatingSystem/amfs/pkg/diskgroup"
	"github.com/AM-OperatingSystem/amfs/pkg/llg"
	"github.com/AM-OperatingSystem/amfs/pkg/pointer"
	"github.com/pkg/errors"
)

// FreeQueueEntry records a block awaiting reclamation: the transaction
// that freed it, and where it was.
type FreeQueueEntry struct {
	Txid    Txid
	Pointer pointer.Global
}

const freeQueueEntrySize = 16 + pointer.Size

func marshalFreeQueueEntry(e FreeQueueEntry) []byte {
	buf := make([]byte, freeQueueEntrySize)
	binary.LittleEndian.PutUint64(buf[0:8], e.Txid.Lo)
	binary.LittleEndian.PutUint64(buf[8:16], e.Txid.Hi)
	pb := e.Pointer.Bytes()
	copy(buf[16:16+pointer.Size], pb[:])
	return buf
}

func unmarshalFreeQueueEntry(buf []byte) FreeQueueEntry {
	var pb [pointer.Size]byte
	copy(pb[:], buf[16:16+pointer.Size])
	return FreeQueueEntry{
		Txid:    Txid{Lo: binary.LittleEndian.Uint64(buf[0:8]), Hi: binary.LittleEndian.Uint64(buf[8:16])},
		Pointer: pointer.GlobalFromBytes(pb),
	}
}

// FreeQueue is the in-memory form of every disk's pending-reclamation
// entries: those read back at mount plus those pushed since. Writing the
// queue keeps every entry; nothing removes them.
type FreeQueue struct {
	Entries []FreeQueueEntry
}

// Push appends an entry recording that ptr was freed during txid.
func (q *FreeQueue) Push(txid Txid, ptr pointer.Global) {
	q.Entries = append(q.Entries, FreeQueueEntry{Txid: txid, Pointer: ptr})
}

// Reclaimable returns every queued pointer whose freeing transaction is at
// or before minTxid — the oldest active root group's transaction across
// every still-valid superblock. This is a pure query: nothing in Commit
// invokes it automatically, matching the original implementation, which
// never garbage-collects the free queue on its own; it's available to
// fsck and future maintenance tooling.
func (q *FreeQueue) Reclaimable(minTxid Txid) []pointer.Global {
	var res []pointer.Global
	for _, e := range q.Entries {
		if !minTxid.Less(e.Txid) {
			res = append(res, e.Pointer)
		}
	}
	return res
}

// ReadFreeQueue reads the free queue chain referenced by f.
func (f *FSGroup) ReadFreeQueue(gs diskgroup.Groups) (*FreeQueue, error) {
	if f.FreeQueue.IsNull() {
		return &FreeQueue{}, nil
	}
	entries, err := llg.Read(gs, f.FreeQueue, freeQueueEntrySize, unmarshalFreeQueueEntry)
	if err != nil {
		return nil, errors.Wrap(err, "fsgroup: reading free queue")
	}
	return &FreeQueue{Entries: entries}, nil
}

// WriteFreeQueue serializes q as a fresh chain and records it on f.
func (f *FSGroup) WriteFreeQueue(gs diskgroup.Groups, q *FreeQueue) error {
	head, err := llg.Write(gs, 0, q.Entries, freeQueueEntrySize, marshalFreeQueueEntry)
	if err != nil {
		return errors.Wrap(err, "fsgroup: writing free queue")
	}
	f.FreeQueue = head
	return nil
}
