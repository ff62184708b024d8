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
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/snapdb-project/snapdb/internal/filestore/alloc"
	"github.com/snapdb-project/snapdb/internal/pagepool"
)

// File is one open archive container: the raw OS file, its decoded
// header, and the allocator that hands out fresh blocks. It is safe for
// concurrent readers; writers are serialized by Begin, one
// transaction per archive at a time.
type File struct {
	mu        sync.RWMutex
	wmu       sync.Mutex // serializes transactions; held from Begin to Commit/Rollback
	f         *os.File
	path      string
	blockSize int
	header    Header
	alloc     *alloc.Allocator
	pool      *pagepool.Pool
	closed    bool
	suspect   error // non-nil once any block fails its checksum
}

// Create makes a brand-new archive at path with the given block size
// (DefaultBlockSize if <= 0), writes its initial header to slot A, and
// returns the open File.
func Create(path string, blockSize int) (*File, error) {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, err
	}
	af := &File{
		f:         f,
		path:      path,
		blockSize: blockSize,
		pool:      pagepool.New(blockSize),
	}
	af.header = Header{
		FormatVersion:  FormatVersion,
		BlockSize:      uint32(blockSize),
		SnapshotSeq:    0,
		NextFreeBlock:  FirstDataBlock,
		CommitSequence: 1,
		ArchiveGUID:    uuid.New(),
	}
	af.alloc = alloc.New(FirstDataBlock, nil)
	if err := af.writeHeaderSlot(HeaderSlotA, af.header); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	if err := syncFile(af.f); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	return af, nil
}

// Open opens an existing archive, picking whichever header slot has the
// larger CommitSequence and a verifying checksum. This is the
// crash-recovery rule: if slot B's write was interrupted, slot A
// (still holding the prior commit) wins.
func Open(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	// The header's leading format-version and block-size fields sit at
	// offset 0 whatever the block size; probe them to locate both slots.
	blockSize := DefaultBlockSize
	var probe [5]byte
	if _, err := f.ReadAt(probe[:], 0); err == nil && probe[0] == FormatVersion {
		if bs := int(binary.LittleEndian.Uint32(probe[1:])); bs > FooterLen {
			blockSize = bs
		}
	}
	af := &File{f: f, path: path, blockSize: blockSize, pool: pagepool.New(blockSize)}

	slotA, errA := af.readHeaderSlot(HeaderSlotA)
	slotB, errB := af.readHeaderSlot(HeaderSlotB)
	hdr, err := chooseHeader(slotA, errA, slotB, errB)
	if err != nil {
		f.Close()
		return nil, err
	}
	af.header = hdr
	af.blockSize = int(hdr.BlockSize)
	af.pool = pagepool.New(af.blockSize)

	var records []alloc.FreeRecord
	if hdr.FATSubFileID != 0 {
		records, err = af.loadFAT(hdr.FATSubFileID)
		if err != nil {
			f.Close()
			return nil, err
		}
	}
	af.alloc = alloc.New(hdr.NextFreeBlock, records)
	return af, nil
}

func chooseHeader(a Header, errA error, b Header, errB error) (Header, error) {
	if errA != nil && errB != nil {
		return Header{}, fmt.Errorf("filestore: both header slots unreadable: slotA: %v, slotB: %v", errA, errB)
	}
	if errA != nil {
		return b, nil
	}
	if errB != nil {
		return a, nil
	}
	if a.CommitSequence >= b.CommitSequence {
		return a, nil
	}
	return b, nil
}

func (af *File) writeHeaderSlot(slot BlockIndex, h Header) error {
	block := make([]byte, af.blockSizeOrDefault())
	payload := h.Encode()
	if len(payload) > len(block)-FooterLen {
		return fmt.Errorf("filestore: header too large for block size %d", af.blockSizeOrDefault())
	}
	copy(block, payload)
	PutFooter(block, Footer{Type: BlockTypeHeader, BlockIndex: uint32(slot)})
	SealChecksum(block)
	return af.writeRawBlock(uint32(slot), block)
}

func (af *File) blockSizeOrDefault() int {
	if af.blockSize <= 0 {
		return DefaultBlockSize
	}
	return af.blockSize
}

func (af *File) readHeaderSlot(slot BlockIndex) (Header, error) {
	block, err := af.readRawBlock(uint32(slot), af.blockSizeOrDefault())
	if err != nil {
		return Header{}, err
	}
	if !VerifyChecksum(block) {
		return Header{}, &CorruptedError{BlockIndex: uint32(slot), Reason: "header checksum mismatch"}
	}
	fo := ParseFooter(block)
	if fo.Type != BlockTypeHeader {
		return Header{}, &CorruptedError{BlockIndex: uint32(slot), Reason: "unexpected block type in header slot"}
	}
	return DecodeHeader(block[:len(block)-FooterLen])
}

// readRawBlock reads exactly blockSize bytes at logical index idx.
func (af *File) readRawBlock(idx uint32, blockSize int) ([]byte, error) {
	buf := make([]byte, blockSize)
	off := int64(idx) * int64(blockSize)
	if _, err := af.f.ReadAt(buf, off); err != nil {
		return nil, err
	}
	return buf, nil
}

func (af *File) writeRawBlock(idx uint32, block []byte) error {
	off := int64(idx) * int64(len(block))
	_, err := af.f.WriteAt(block, off)
	return err
}

// ReadBlock reads and verifies logical block idx, returning its payload
// region (footer stripped) and decoded footer. A checksum or block-type
// mismatch marks the archive suspect and is returned as a
// *CorruptedError.
func (af *File) ReadBlock(idx uint32, wantType BlockType) ([]byte, Footer, error) {
	af.mu.RLock()
	blockSize := af.blockSizeOrDefault()
	af.mu.RUnlock()

	block, err := af.readRawBlock(idx, blockSize)
	if err != nil {
		return nil, Footer{}, err
	}
	if !VerifyChecksum(block) {
		err := &CorruptedError{BlockIndex: idx, Reason: "checksum mismatch"}
		af.markSuspect(err)
		return nil, Footer{}, err
	}
	fo := ParseFooter(block)
	if wantType != BlockTypeUnknown && fo.Type != wantType {
		err := &CorruptedError{BlockIndex: idx, Reason: fmt.Sprintf("expected block type %s, found %s", wantType, fo.Type)}
		af.markSuspect(err)
		return nil, Footer{}, err
	}
	return block[:blockSize-FooterLen], fo, nil
}

// BlockSize returns the archive's fixed block size.
func (af *File) BlockSize() int { return af.blockSizeOrDefault() }

// SnapshotSeq returns the currently durable snapshot sequence number.
func (af *File) SnapshotSeq() uint32 {
	af.mu.RLock()
	defer af.mu.RUnlock()
	return af.header.SnapshotSeq
}

// Header returns a copy of the current durable header.
func (af *File) Header() Header {
	af.mu.RLock()
	defer af.mu.RUnlock()
	return af.header
}

// Suspect reports the corruption error that marked this archive
// suspect, if any. A suspect archive is refused by further attaches
// until an operator clears it.
func (af *File) Suspect() error {
	af.mu.RLock()
	defer af.mu.RUnlock()
	return af.suspect
}

func (af *File) markSuspect(err error) {
	af.mu.Lock()
	defer af.mu.Unlock()
	if af.suspect == nil {
		af.suspect = err
	}
}

// WriteSealedBlock builds, checksums and immediately writes one block,
// bypassing transactional staging. It exists for the bulk-writer path,
// which streams into a not-yet-published temporary file where staging
// every block in memory would defeat the point of sequential load; the
// final header commit still goes through a Txn.
func (af *File) WriteSealedBlock(physical, logical uint32, blockType BlockType, subFileID uint16, snapshotSeq uint32, payload []byte) error {
	block := make([]byte, af.BlockSize())
	copy(block, payload)
	PutFooter(block, Footer{
		Type:        blockType,
		SubFileID:   subFileID,
		BlockIndex:  logical,
		SnapshotSeq: snapshotSeq,
	})
	SealChecksum(block)
	return af.writeRawBlock(physical, block)
}

// Sync flushes the OS file, used by the bulk writer before its final
// header commit.
func (af *File) Sync() error { return syncFile(af.f) }

// FreeRecords snapshots the pending free-block log, for operational
// tooling that reports fragmentation.
func (af *File) FreeRecords() []alloc.FreeRecord { return af.alloc.Pending() }

// Close flushes nothing (all durability happens at Commit) and closes
// the underlying OS file handle.
func (af *File) Close() error {
	af.mu.Lock()
	defer af.mu.Unlock()
	if af.closed {
		return nil
	}
	af.closed = true
	return af.f.Close()
}

// Path returns the archive's on-disk path.
func (af *File) Path() string { return af.path }
