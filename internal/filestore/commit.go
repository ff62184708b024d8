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
	"github.com/snapdb-project/snapdb/internal/filestore/alloc"
)

// Txn is one transactional commit: the set of dirty blocks, sub-file
// directory edits and freed blocks accumulated by a single writer
// between Begin and Commit/Rollback. Writes to one archive are always
// serialized through a single writer.
//
// Commit order: (1) write every dirty data
// block and fsync, (2) write the alternating header slot and fsync.
// A crash between (1) and (2) is recovered by Open simply picking
// whichever header slot has the larger, checksum-verified
// CommitSequence — the in-flight data blocks are never referenced by
// that older header and are silently abandoned.
type Txn struct {
	file        *File
	snapshotSeq uint32

	dirty map[uint32][]byte
	order []uint32

	subFileUpdates map[uint16]SubFile
	freed          []alloc.FreeRecord

	done bool
}

// Begin opens a new transaction against af, serialized against any other
// writer on this archive.
func (af *File) Begin() *Txn {
	af.wmu.Lock()
	af.mu.RLock()
	seq := af.header.SnapshotSeq + 1
	af.mu.RUnlock()
	return &Txn{
		file:           af,
		snapshotSeq:    seq,
		dirty:          make(map[uint32][]byte),
		subFileUpdates: make(map[uint16]SubFile),
	}
}

// SnapshotSeq returns the snapshot sequence number this transaction will
// commit under.
func (t *Txn) SnapshotSeq() uint32 { return t.snapshotSeq }

// AllocateBlock reserves a fresh logical block index for subFileID.
func (t *Txn) AllocateBlock(subFileID uint16) uint32 {
	return t.file.alloc.Allocate(1, subFileID, t.snapshotSeq)[0]
}

// StageBlock records idx's full payload (footer excluded) as dirty. The
// footer is recomputed and the checksum sealed here; Commit only
// performs the ordered disk writes.
func (t *Txn) StageBlock(idx uint32, blockType BlockType, subFileID uint16, payload []byte) {
	t.StageBlockAs(idx, idx, blockType, subFileID, payload)
}

// StageBlockAs stages payload at physical block position physical while
// stamping logical into the footer's block-index field. Sub-files with
// shadow-copied node translation address their blocks by stable logical
// ids that remap to fresh physical blocks on every write.
func (t *Txn) StageBlockAs(physical, logical uint32, blockType BlockType, subFileID uint16, payload []byte) {
	block := make([]byte, t.file.BlockSize())
	copy(block, payload)
	PutFooter(block, Footer{
		Type:        blockType,
		SubFileID:   subFileID,
		BlockIndex:  logical,
		SnapshotSeq: t.snapshotSeq,
	})
	SealChecksum(block)
	if _, exists := t.dirty[physical]; !exists {
		t.order = append(t.order, physical)
	}
	t.dirty[physical] = block
}

// Staged returns the payload of a block staged earlier in this
// transaction, letting the owning writer read back its own uncommitted
// writes (readers outside the transaction never see them).
func (t *Txn) Staged(physical uint32) ([]byte, bool) {
	block, ok := t.dirty[physical]
	if !ok {
		return nil, false
	}
	return block[:len(block)-FooterLen], true
}

// FreeBlock marks idx as freed as of this transaction's snapshot; it can
// be reused only by a later transaction whose snapshot is strictly
// greater.
func (t *Txn) FreeBlock(subFileID uint16, idx uint32) {
	t.freed = append(t.freed, alloc.FreeRecord{SubFileID: subFileID, Block: idx, FreedAtSnapshot: t.snapshotSeq})
}

// UpdateSubFile stages an insert or update to the sub-file directory
// entry sf, applied atomically with the rest of this transaction.
func (t *Txn) UpdateSubFile(sf SubFile) {
	t.subFileUpdates[sf.ID] = sf
}

// Commit durably applies every staged change. On success, af.Header()
// observes the new snapshot; on failure the archive keeps its prior
// durable snapshot and the caller may retry.
func (t *Txn) Commit() error {
	defer t.release()

	for _, idx := range t.order {
		if err := t.file.writeRawBlock(idx, t.dirty[idx]); err != nil {
			return err
		}
	}
	if len(t.order) > 0 {
		if err := syncFile(t.file.f); err != nil {
			return err
		}
	}

	for _, rec := range t.freed {
		t.file.alloc.Free(rec.SubFileID, rec.Block, rec.FreedAtSnapshot)
	}

	t.file.mu.RLock()
	newHeader := t.file.header
	t.file.mu.RUnlock()
	newHeader.SnapshotSeq = t.snapshotSeq
	newHeader.NextFreeBlock = t.file.alloc.NextFree()
	newHeader.CommitSequence++
	for id, sf := range t.subFileUpdates {
		replaced := false
		for i := range newHeader.SubFiles {
			if newHeader.SubFiles[i].ID == id {
				newHeader.SubFiles[i] = sf
				replaced = true
				break
			}
		}
		if !replaced {
			newHeader.SubFiles = append(newHeader.SubFiles, sf)
		}
	}

	// persistFAT stages additional blocks (the rewritten FAT chain);
	// they must hit disk with the data blocks, before the header flip.
	staged := len(t.order)
	if err := t.persistFAT(&newHeader); err != nil {
		return err
	}
	for _, idx := range t.order[staged:] {
		if err := t.file.writeRawBlock(idx, t.dirty[idx]); err != nil {
			return err
		}
	}
	if len(t.order) > staged {
		if err := syncFile(t.file.f); err != nil {
			return err
		}
	}

	slot := HeaderSlotA
	if newHeader.CommitSequence%2 == 0 {
		slot = HeaderSlotB
	}
	if err := t.file.writeHeaderSlot(slot, newHeader); err != nil {
		return err
	}
	if err := syncFile(t.file.f); err != nil {
		return err
	}
	t.file.mu.Lock()
	t.file.header = newHeader
	t.file.mu.Unlock()
	return nil
}

// Rollback discards all staged changes. Nothing durable has happened
// yet, so this is a pure in-memory discard.
func (t *Txn) Rollback() {
	t.release()
}

func (t *Txn) release() {
	if t.done {
		return
	}
	t.done = true
	t.file.wmu.Unlock()
}
