package llg

import "testing"

func TestHeaderSize(t *testing.T) {
	if HeaderSize != 32 {
		t.Fatalf("expected header size 32, got %d", HeaderSize)
	}
}

func TestEntriesPerBlock(t *testing.T) {
	each := entriesPerBlock(8)
	if each <= 0 {
		t.Fatalf("expected positive entries per block, got %d", each)
	}
}

func TestBlocksNeeded(t *testing.T) {
	if blocksNeeded(0, 8) != 1 {
		t.Fatalf("empty list should still need one block")
	}
	each := entriesPerBlock(8)
	if blocksNeeded(each, 8) != 1 {
		t.Fatalf("exactly one block's worth should need one block")
	}
	if blocksNeeded(each+1, 8) != 2 {
		t.Fatalf("one over a block's worth should need two blocks")
	}
}
