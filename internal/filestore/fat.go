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
	"encoding/binary"
	"fmt"

	"github.com/snapdb-project/snapdb/internal/filestore/alloc"
)

// The file-allocation-table sub-file is a chain of blocks, each laid out
// as: a 4-byte next-block pointer (0 = end of chain), a 4-byte record
// count, then that many fixed-size records. It exists so the free-block
// log survives a restart instead of being rebuilt by a full archive scan.
const (
	fatChainHeaderLen = 8
	fatRecordLen      = 2 + 4 + 4 // SubFileID + Block + FreedAtSnapshot
)

// loadFAT walks the file-allocation-table sub-file identified by fatID
// and returns every free-block record it holds. Called once, from Open,
// before the allocator exists.
func (af *File) loadFAT(fatID uint16) ([]alloc.FreeRecord, error) {
	sf, ok := af.header.SubFileByID(fatID)
	if !ok {
		return nil, fmt.Errorf("filestore: header references FAT sub-file %d which is not in the directory", fatID)
	}

	var records []alloc.FreeRecord
	next := sf.DirectBlock
	blockSize := af.blockSizeOrDefault()
	dataLen := int(BlockDataLen(blockSize))
	seen := make(map[uint32]bool)
	for next != 0 {
		if seen[next] {
			return nil, &CorruptedError{SubFileID: fatID, BlockIndex: next, Reason: "file-allocation-table chain cycles back on itself"}
		}
		seen[next] = true

		block, err := af.readRawBlock(next, blockSize)
		if err != nil {
			return nil, err
		}
		if !VerifyChecksum(block) {
			return nil, &CorruptedError{SubFileID: fatID, BlockIndex: next, Reason: "file-allocation-table block checksum mismatch"}
		}
		fo := ParseFooter(block)
		if fo.Type != BlockTypeFileAllocationTable {
			return nil, &CorruptedError{SubFileID: fatID, BlockIndex: next, Reason: "unexpected block type in file-allocation-table chain"}
		}

		payload := block[:dataLen]
		if len(payload) < fatChainHeaderLen {
			return nil, &CorruptedError{SubFileID: fatID, BlockIndex: next, Reason: "file-allocation-table block too small for chain header"}
		}
		nextBlock := binary.LittleEndian.Uint32(payload[0:4])
		count := binary.LittleEndian.Uint32(payload[4:8])

		off := fatChainHeaderLen
		for i := uint32(0); i < count; i++ {
			if off+fatRecordLen > len(payload) {
				return nil, &CorruptedError{SubFileID: fatID, BlockIndex: next, Reason: "file-allocation-table record count overruns block"}
			}
			rec := alloc.FreeRecord{
				SubFileID:       binary.LittleEndian.Uint16(payload[off : off+2]),
				Block:           binary.LittleEndian.Uint32(payload[off+2 : off+6]),
				FreedAtSnapshot: binary.LittleEndian.Uint32(payload[off+6 : off+10]),
			}
			records = append(records, rec)
			off += fatRecordLen
		}
		next = nextBlock
	}
	return records, nil
}

// persistFAT serializes the allocator's pending free list into the
// file-allocation-table sub-file, allocating a fresh chain of blocks
// every commit and updating newHeader's FAT sub-file id and descriptor.
// The old chain's blocks are simply abandoned rather than freed in the
// same transaction: freeing them would itself grow the pending list
// persistFAT is in the middle of serializing. Abandoned blocks never
// enter the free-block log, so nothing reclaims them and snapdbctl's
// compact-info, which reports only that log, does not count them.
func (t *Txn) persistFAT(newHeader *Header) error {
	records := t.file.alloc.Pending()

	blockSize := t.file.BlockSize()
	dataLen := int(BlockDataLen(blockSize))
	perBlock := (dataLen - fatChainHeaderLen) / fatRecordLen
	if perBlock <= 0 {
		return fmt.Errorf("filestore: block size %d too small to hold a file-allocation-table record", blockSize)
	}

	sf, ok := newHeader.SubFileByID(newHeader.FATSubFileID)
	if !ok {
		sf = SubFile{ID: nextSubFileID(newHeader.SubFiles), Name: "$fat"}
	}

	chunks := chunkFreeRecords(records, perBlock)
	blocks := make([]uint32, len(chunks))
	for i := range chunks {
		blocks[i] = t.AllocateBlock(sf.ID)
	}
	for i, chunk := range chunks {
		var next uint32
		if i+1 < len(blocks) {
			next = blocks[i+1]
		}
		payload := make([]byte, dataLen)
		binary.LittleEndian.PutUint32(payload[0:4], next)
		binary.LittleEndian.PutUint32(payload[4:8], uint32(len(chunk)))
		off := fatChainHeaderLen
		for _, rec := range chunk {
			binary.LittleEndian.PutUint16(payload[off:off+2], rec.SubFileID)
			binary.LittleEndian.PutUint32(payload[off+2:off+6], rec.Block)
			binary.LittleEndian.PutUint32(payload[off+6:off+10], rec.FreedAtSnapshot)
			off += fatRecordLen
		}
		t.StageBlock(blocks[i], BlockTypeFileAllocationTable, sf.ID, payload)
	}

	if len(blocks) > 0 {
		sf.DirectBlock = blocks[0]
	} else {
		sf.DirectBlock = 0
	}
	sf.BlockCount = uint32(len(blocks))
	newHeader.FATSubFileID = sf.ID
	upsertSubFile(newHeader, sf)
	return nil
}

func chunkFreeRecords(records []alloc.FreeRecord, perBlock int) [][]alloc.FreeRecord {
	if len(records) == 0 {
		return nil
	}
	var chunks [][]alloc.FreeRecord
	for len(records) > 0 {
		n := perBlock
		if n > len(records) {
			n = len(records)
		}
		chunks = append(chunks, records[:n])
		records = records[n:]
	}
	return chunks
}

func upsertSubFile(h *Header, sf SubFile) {
	for i := range h.SubFiles {
		if h.SubFiles[i].ID == sf.ID {
			h.SubFiles[i] = sf
			return
		}
	}
	h.SubFiles = append(h.SubFiles, sf)
}

func nextSubFileID(subFiles []SubFile) uint16 {
	var max uint16
	for _, sf := range subFiles {
		if sf.ID > max {
			max = sf.ID
		}
	}
	return max + 1
}
