package fsgroup

import (
	"github.com/AM-OperatingSystem/amfs/pkg/diskgroup"
	"github.com/AM-OperatingSystem/amfs/pkg/llg"
	"github.com/AM-OperatingSystem/amfs/pkg/pointer"
	"github.com/pkg/errors"
)

// JournalKind tags what a JournalEntry records.
type JournalKind uint8

const (
	JournalMount JournalKind = iota
	JournalAlloc
	JournalFree
)

// JournalEntry records one fact about what happened since the previous
// commit: a mount, an allocation, or a free. It's written every commit for
// forensic/dumpfs inspection but, matching the original implementation,
// never read back on mount.
type JournalEntry struct {
	Kind    JournalKind
	Pointer pointer.Global
}

const journalEntrySize = 8 + pointer.Size

func marshalJournalEntry(e JournalEntry) []byte {
	buf := make([]byte, journalEntrySize)
	buf[0] = byte(e.Kind)
	pb := e.Pointer.Bytes()
	copy(buf[8:8+pointer.Size], pb[:])
	return buf
}

func unmarshalJournalEntry(buf []byte) JournalEntry {
	var pb [pointer.Size]byte
	copy(pb[:], buf[8:8+pointer.Size])
	return JournalEntry{Kind: JournalKind(buf[0]), Pointer: pointer.GlobalFromBytes(pb)}
}

// WriteJournal serializes entries as a fresh chain and records it on f.
func (f *FSGroup) WriteJournal(gs diskgroup.Groups, entries []JournalEntry) error {
	head, err := llg.Write(gs, 0, entries, journalEntrySize, marshalJournalEntry)
	if err != nil {
		return errors.Wrap(err, "fsgroup: writing journal")
	}
	f.Journal = head
	return nil
}

// ReadJournal reads back the journal chain. Exposed for dumpfs/fsck
// inspection; Open never calls this.
func ReadJournal(gs diskgroup.Groups, ptr pointer.Global) ([]JournalEntry, error) {
	if ptr.IsNull() {
		return nil, nil
	}
	entries, err := llg.Read(gs, ptr, journalEntrySize, unmarshalJournalEntry)
	return entries, errors.Wrap(err, "fsgroup: reading journal")
}
