/*
Copyright 2024 The SnapDB Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package filestore

import (
	"os"
	"path/filepath"
	"testing"
)

func tempArchive(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "archive.snapdb")
}

func TestChecksumRoundTrip(t *testing.T) {
	block := make([]byte, DefaultBlockSize)
	for i := range block[:len(block)-FooterLen] {
		block[i] = byte(i)
	}
	PutFooter(block, Footer{Type: BlockTypeData, SubFileID: 3, BlockIndex: 7, SnapshotSeq: 1})
	SealChecksum(block)
	if !VerifyChecksum(block) {
		t.Fatal("freshly sealed block should verify")
	}
	block[0] ^= 0xFF
	if VerifyChecksum(block) {
		t.Fatal("corrupted payload must fail checksum verification")
	}
}

func TestMarkDirtyFailsVerification(t *testing.T) {
	block := make([]byte, DefaultBlockSize)
	PutFooter(block, Footer{Type: BlockTypeData})
	SealChecksum(block)
	MarkDirty(block)
	if VerifyChecksum(block) {
		t.Fatal("a block marked dirty must never verify until resealed")
	}
}

func TestSubFilePositionToBlock(t *testing.T) {
	sf := SubFile{DirectBlock: 10}
	dataLen := BlockDataLen(DefaultBlockSize)

	cases := []struct {
		pos      int64
		wantBlk  uint32
		wantOff  int64
	}{
		{0, 10, 0},
		{dataLen - 1, 10, dataLen - 1},
		{dataLen, 11, 0},
		{dataLen + 5, 11, 5},
		{3 * dataLen, 13, 0},
	}
	for _, c := range cases {
		blk, off := sf.PositionToBlock(c.pos, DefaultBlockSize)
		if blk != c.wantBlk || off != c.wantOff {
			t.Errorf("pos %d: got (block=%d off=%d), want (block=%d off=%d)", c.pos, blk, off, c.wantBlk, c.wantOff)
		}
	}
}

func TestCreateOpenRoundTrip(t *testing.T) {
	path := tempArchive(t)
	af, err := Create(path, DefaultBlockSize)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	wantGUID := af.Header().ArchiveGUID
	if err := af.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	af2, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer af2.Close()
	if af2.Header().ArchiveGUID != wantGUID {
		t.Fatal("archive GUID did not survive a Create/Open round trip")
	}
	if af2.Header().CommitSequence != 1 {
		t.Fatalf("expected commit sequence 1 after Create, got %d", af2.Header().CommitSequence)
	}
}

func TestTxnCommitAdvancesHeader(t *testing.T) {
	path := tempArchive(t)
	af, err := Create(path, DefaultBlockSize)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer af.Close()

	txn := af.Begin()
	idx := txn.AllocateBlock(5)
	payload := make([]byte, int(BlockDataLen(af.BlockSize())))
	payload[0] = 0x42
	txn.StageBlock(idx, BlockTypeData, 5, payload)
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if got := af.Header().CommitSequence; got != 2 {
		t.Fatalf("commit sequence after one Txn.Commit = %d, want 2", got)
	}

	block, fo, err := af.ReadBlock(idx, BlockTypeData)
	if err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	if block[0] != 0x42 {
		t.Fatal("staged payload byte did not survive commit")
	}
	if fo.SubFileID != 5 || fo.BlockIndex != idx {
		t.Fatalf("unexpected footer after commit: %+v", fo)
	}
}

// TestHeaderRecoversFromInterruptedSlotWrite simulates scenario S6: a
// commit that wrote its data blocks and fsynced, then crashed before the
// alternating header slot write landed. Open must fall back to the
// still-valid prior slot rather than surface a corrupted header.
func TestHeaderRecoversFromInterruptedSlotWrite(t *testing.T) {
	path := tempArchive(t)
	af, err := Create(path, DefaultBlockSize)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	priorGUID := af.Header().ArchiveGUID
	if err := af.Close(); err != nil {
		t.Fatal(err)
	}

	// Corrupt slot B in place, as an interrupted write to it would leave
	// it: garbage bytes that fail the checksum.
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		t.Fatal(err)
	}
	garbage := make([]byte, DefaultBlockSize)
	for i := range garbage {
		garbage[i] = 0xAA
	}
	if _, err := f.WriteAt(garbage, int64(HeaderSlotB)*DefaultBlockSize); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	af2, err := Open(path)
	if err != nil {
		t.Fatalf("Open should recover via slot A, got error: %v", err)
	}
	defer af2.Close()
	if af2.Header().ArchiveGUID != priorGUID {
		t.Fatal("recovered header does not match the last durable commit")
	}
}

func TestFATRoundTripsAcrossReopen(t *testing.T) {
	path := tempArchive(t)
	af, err := Create(path, DefaultBlockSize)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	txn := af.Begin()
	blocks := make([]uint32, 0, 3)
	for i := 0; i < 3; i++ {
		idx := txn.AllocateBlock(9)
		blocks = append(blocks, idx)
		txn.StageBlock(idx, BlockTypeData, 9, make([]byte, int(BlockDataLen(af.BlockSize()))))
	}
	for _, idx := range blocks {
		txn.FreeBlock(9, idx)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := af.Close(); err != nil {
		t.Fatal(err)
	}

	af2, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer af2.Close()

	// A subsequent allocation for the same sub-file should be able to
	// reuse one of the freed blocks rather than growing the file,
	// proving the free list survived the reopen via the FAT.
	txn2 := af2.Begin()
	reused := txn2.AllocateBlock(9)
	txn2.Rollback()

	found := false
	for _, b := range blocks {
		if b == reused {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a reused block from %v after reopen, got %d", blocks, reused)
	}
}

func TestSimplifiedSessionGrowsSubFileSequentially(t *testing.T) {
	path := tempArchive(t)
	af, err := Create(path, DefaultBlockSize)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer af.Close()

	txn := af.Begin()
	sf := SubFile{ID: 42, Name: "stream"}
	sess := af.NewSimplifiedSession(sf, txn)

	dataLen := BlockDataLen(af.BlockSize())
	bv, err := sess.GetBlock(0, true)
	if err != nil {
		t.Fatalf("GetBlock(0): %v", err)
	}
	if err := bv.View.WriteU8(0x11); err != nil {
		t.Fatal(err)
	}

	bv2, err := sess.GetBlock(dataLen, true)
	if err != nil {
		t.Fatalf("GetBlock(dataLen): %v", err)
	}
	if bv2.FirstPosition != dataLen {
		t.Fatalf("second block FirstPosition = %d, want %d", bv2.FirstPosition, dataLen)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	grown := sess.SubFile()
	if grown.BlockCount != 2 {
		t.Fatalf("expected sub-file to grow to 2 blocks, got %d", grown.BlockCount)
	}
	txn.UpdateSubFile(grown)
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	block, _, err := af.ReadBlock(grown.DirectBlock, BlockTypeData)
	if err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	if block[0] != 0x11 {
		t.Fatal("first block's written byte did not survive commit")
	}
}
