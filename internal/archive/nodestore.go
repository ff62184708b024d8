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

package archive

import (
	"fmt"

	"github.com/snapdb-project/snapdb/internal/filestore"
	"github.com/snapdb-project/snapdb/internal/sortedtree"
)

// nodeStore adapts an archive file's blocks to the tree's BlockStore.
// Tree nodes are addressed by stable logical ids; the store remaps each
// id to a fresh physical block the first time a transaction writes it
// (shadow copy), so no block reachable from the previous durable header
// is ever overwritten. A crash before the header flip therefore rolls
// back cleanly: the old header's translation table still points at the
// untouched old physicals.
type nodeStore struct {
	file *filestore.File
	txn  *filestore.Txn
	sfID uint16

	payloadLen int
	phys       []uint32
	written    map[uint32]bool

	// direct marks the bulk-writer variant: node writes bypass the
	// transaction's staging map and go straight to the (unpublished)
	// file, sealed under snapshotSeq.
	direct      bool
	snapshotSeq uint32
}

func newNodeStore(file *filestore.File, txn *filestore.Txn, sfID uint16, phys []uint32) *nodeStore {
	return &nodeStore{
		file:       file,
		txn:        txn,
		sfID:       sfID,
		payloadLen: int(filestore.BlockDataLen(file.BlockSize())),
		phys:       phys,
		written:    make(map[uint32]bool),
	}
}

func (s *nodeStore) PayloadLen() int { return s.payloadLen }

func (s *nodeStore) ReadNode(logical uint32, dst []byte) error {
	if int(logical) >= len(s.phys) {
		return fmt.Errorf("archive: node %d out of range (have %d)", logical, len(s.phys))
	}
	physical := s.phys[logical]
	if physical == sortedtree.NilBlock {
		return fmt.Errorf("archive: node %d was never written", logical)
	}
	if s.txn != nil && !s.direct {
		if payload, ok := s.txn.Staged(physical); ok {
			copy(dst[:s.payloadLen], payload)
			return nil
		}
	}
	payload, fo, err := s.file.ReadBlock(physical, filestore.BlockTypeUnknown)
	if err != nil {
		return err
	}
	if fo.Type != filestore.BlockTypeData && fo.Type != filestore.BlockTypeIndex {
		return &filestore.CorruptedError{BlockIndex: physical, Reason: fmt.Sprintf("unexpected block type %s in tree node", fo.Type)}
	}
	copy(dst[:s.payloadLen], payload)
	return nil
}

func (s *nodeStore) WriteNode(logical uint32, payload []byte, level uint8) error {
	if s.txn == nil {
		return filestore.ErrNotSupported
	}
	if int(logical) >= len(s.phys) {
		return fmt.Errorf("archive: node %d out of range (have %d)", logical, len(s.phys))
	}
	blockType := filestore.BlockTypeData
	if level > 0 {
		blockType = filestore.BlockTypeIndex
	}
	if s.direct {
		if s.phys[logical] == sortedtree.NilBlock {
			s.phys[logical] = s.txn.AllocateBlock(s.sfID)
		}
		return s.file.WriteSealedBlock(s.phys[logical], logical, blockType, s.sfID, s.snapshotSeq, payload)
	}
	if !s.written[logical] {
		old := s.phys[logical]
		s.phys[logical] = s.txn.AllocateBlock(s.sfID)
		if old != sortedtree.NilBlock {
			s.txn.FreeBlock(s.sfID, old)
		}
		s.written[logical] = true
	}
	s.txn.StageBlockAs(s.phys[logical], logical, blockType, s.sfID, payload)
	return nil
}

func (s *nodeStore) Allocate(_ uint8) (uint32, error) {
	if s.txn == nil {
		return 0, filestore.ErrNotSupported
	}
	logical := uint32(len(s.phys))
	if logical == sortedtree.NilBlock {
		return 0, fmt.Errorf("archive: sub-file %d exhausted its node address space", s.sfID)
	}
	s.phys = append(s.phys, sortedtree.NilBlock)
	return logical, nil
}

func (s *nodeStore) Free(logical uint32) error {
	if s.txn == nil {
		return filestore.ErrNotSupported
	}
	if int(logical) >= len(s.phys) || s.phys[logical] == sortedtree.NilBlock {
		return nil
	}
	s.txn.FreeBlock(s.sfID, s.phys[logical])
	s.phys[logical] = sortedtree.NilBlock
	return nil
}
