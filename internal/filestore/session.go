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
	"fmt"

	"github.com/snapdb-project/snapdb/internal/binstream"
	"github.com/snapdb-project/snapdb/internal/pagepool"
)

// Session holds a mapped view over a single block of a sub-file at a
// time, translating byte positions to blocks
// via SubFile.PositionToBlock and caching the most recently touched
// block so sequential access does not re-read on every call. A read-only
// Session has txn == nil; GetBlock with isWriting rejects such sessions.
type Session struct {
	file *File
	txn  *Txn
	sf   SubFile

	curBlock uint32
	curPage  *pagepool.Page
	dirty    bool

	// simplified marks the bulk-writer variant: positions may
	// advance past the sub-file's current end, lazily allocating and
	// appending a fresh block instead of returning ErrOutOfRange.
	simplified bool
}

// NewSession opens a read-only session over sf. GetBlock(_, true) on it
// always fails with ErrNotSupported.
func (af *File) NewSession(sf SubFile) *Session {
	return &Session{file: af, sf: sf}
}

// NewWriteSession opens a session over sf that stages writes into txn.
func (af *File) NewWriteSession(sf SubFile, txn *Txn) *Session {
	return &Session{file: af, sf: sf, txn: txn}
}

// NewSimplifiedSession opens a bulk sequential-append session over sf:
// GetBlock with isWriting may advance past the sub-file's current end,
// lazily allocating a new block each time.
func (af *File) NewSimplifiedSession(sf SubFile, txn *Txn) *Session {
	return &Session{file: af, sf: sf, txn: txn, simplified: true}
}

// SubFile returns the sub-file this session was opened against,
// reflecting any lazy growth the session itself has performed.
func (s *Session) SubFile() SubFile { return s.sf }

// BlockView describes the block GetBlock just mapped: a view bounded to
// the block's payload region, the byte position that view's offset 0
// corresponds to, its length, and whether writes through it are staged.
type BlockView struct {
	View            *binstream.View
	FirstPosition   int64
	Length          int64
	SupportsWriting bool
}

// GetBlock maps the block covering position, flushing whichever block
// was previously mapped first. isWriting marks the returned view dirty;
// it is an error to request a writing view from a read-only session.
func (s *Session) GetBlock(position int64, isWriting bool) (BlockView, error) {
	if isWriting && s.txn == nil {
		return BlockView{}, ErrNotSupported
	}
	blockSize := s.file.BlockSize()
	dataLen := BlockDataLen(blockSize)
	if position < 0 {
		return BlockView{}, ErrOutOfRange
	}

	blockOffset := uint32(position / dataLen)
	firstPos := int64(blockOffset) * dataLen

	existing := blockOffset < s.sf.BlockCount
	if !existing {
		if !isWriting || !s.simplified || blockOffset != s.sf.BlockCount {
			return BlockView{}, ErrOutOfRange
		}
	}

	var physical uint32
	if existing {
		physical = s.sf.DirectBlock + blockOffset
	} else {
		// Sub-files occupy a contiguous logical range, so
		// growing one requires the very next global address. The
		// allocator may return a freed block of this sub-file instead
		// of the tail address; growth then fails with the error below.
		physical = s.txn.AllocateBlock(s.sf.ID)
		if s.sf.BlockCount == 0 && s.sf.DirectBlock == 0 {
			s.sf.DirectBlock = physical
		} else if want := s.sf.DirectBlock + blockOffset; physical != want {
			return BlockView{}, fmt.Errorf("filestore: sub-file %d lost contiguity growing to block %d (allocator gave %d, wanted %d)", s.sf.ID, blockOffset, physical, want)
		}
	}

	if s.curPage == nil || physical != s.curBlock {
		if err := s.swapIn(physical, existing); err != nil {
			return BlockView{}, err
		}
	}

	if !existing {
		s.sf.BlockCount = blockOffset + 1
	}
	if isWriting {
		s.dirty = true
		MarkDirty(s.curPage.Bytes())
	}

	v := binstream.NewView(s.curPage.Bytes()[:dataLen], s.curPage)
	return BlockView{View: v, FirstPosition: firstPos, Length: dataLen, SupportsWriting: s.txn != nil}, nil
}

// Flush stages the currently mapped block, if dirty, into the session's
// transaction: recomputes its checksum and hands it to Txn.StageBlock.
// It does not itself touch disk; Txn.Commit performs the durable write.
func (s *Session) Flush() error {
	if !s.dirty || s.curPage == nil {
		return nil
	}
	s.txn.StageBlock(s.curBlock, BlockTypeData, s.sf.ID, s.curPage.Bytes())
	s.dirty = false
	return nil
}

// Close flushes any pending write and releases the session's page back
// to the pool. It does not update the sub-file directory entry; callers
// that grew the sub-file via a simplified session must persist the
// returned SubFile() with Txn.UpdateSubFile before Commit.
func (s *Session) Close() error {
	if err := s.Flush(); err != nil {
		return err
	}
	if s.curPage != nil {
		s.file.pool.Put(s.curPage)
		s.curPage = nil
	}
	return nil
}

func (s *Session) swapIn(physical uint32, existing bool) error {
	if err := s.Flush(); err != nil {
		return err
	}
	if s.curPage != nil {
		s.file.pool.Put(s.curPage)
	}
	pg, _ := s.file.pool.Get()
	if existing {
		block, _, err := s.file.ReadBlock(physical, BlockTypeData)
		if err != nil {
			s.file.pool.Put(pg)
			return err
		}
		copy(pg.Bytes(), block)
	}
	s.curPage = pg
	s.curBlock = physical
	return nil
}
