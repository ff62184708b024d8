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

	"github.com/snapdb-project/snapdb/internal/binstream"
	"github.com/snapdb-project/snapdb/internal/filestore"
	"github.com/snapdb-project/snapdb/internal/sortedtree"
)

// Table state block. The sub-file's direct block holds the tree's root
// state, the optional metadata blob, and the head of the node
// translation table (logical node id to physical block). Every commit
// writes a fresh state chain and flips the sub-file's direct block to
// it, so the previous durable state stays intact for crash rollback.
//
// Head block payload:
//
//	tree header image
//	metadata (varint length + bytes; must fit this block)
//	u32 node count
//	u16 inline physical count
//	u32 next chain block (0 when none)
//	u32 physicals...
//
// Chain block payload:
//
//	u16 count
//	u32 next (0 when none)
//	u32 physicals...
const chainHeaderLen = 6

// persistState writes the state chain for one table into txn, returning
// the head block and every block of the chain (head included).
func persistState(txn *filestore.Txn, file *filestore.File, sfID uint16, treeHdr sortedtree.Header, metadata []byte, phys []uint32) (uint32, []uint32, error) {
	payloadLen := int(filestore.BlockDataLen(file.BlockSize()))

	front := binstream.NewBuffer()
	if err := treeHdr.Encode(front); err != nil {
		return 0, nil, err
	}
	if err := front.WriteBytes(metadata); err != nil {
		return 0, nil, err
	}
	if err := front.WriteU32(uint32(len(phys))); err != nil {
		return 0, nil, err
	}
	frontLen := int(front.Position())

	inlineCap := (payloadLen - frontLen - chainHeaderLen) / 4
	if inlineCap < 0 {
		return 0, nil, fmt.Errorf("archive: metadata blob (%d bytes) does not fit a %d-byte block", len(metadata), payloadLen)
	}
	chainCap := (payloadLen - chainHeaderLen) / 4

	inline := len(phys)
	if inline > inlineCap {
		inline = inlineCap
	}
	rest := phys[inline:]
	var chunks [][]uint32
	for len(rest) > 0 {
		n := chainCap
		if n > len(rest) {
			n = len(rest)
		}
		chunks = append(chunks, rest[:n])
		rest = rest[n:]
	}

	head := txn.AllocateBlock(sfID)
	chain := make([]uint32, len(chunks))
	for i := range chunks {
		chain[i] = txn.AllocateBlock(sfID)
	}

	next := func(i int) uint32 {
		if i < len(chain) {
			return chain[i]
		}
		return 0
	}

	payload := make([]byte, payloadLen)
	out := binstream.NewView(payload, nil)
	copy(payload, front.Bytes())
	out.SetPosition(int64(frontLen))
	if err := out.WriteU16(uint16(inline)); err != nil {
		return 0, nil, err
	}
	if err := out.WriteU32(next(0)); err != nil {
		return 0, nil, err
	}
	for _, p := range phys[:inline] {
		if err := out.WriteU32(p); err != nil {
			return 0, nil, err
		}
	}
	txn.StageBlock(head, filestore.BlockTypeIndex, sfID, payload)

	for i, chunk := range chunks {
		payload := make([]byte, payloadLen)
		out := binstream.NewView(payload, nil)
		if err := out.WriteU16(uint16(len(chunk))); err != nil {
			return 0, nil, err
		}
		if err := out.WriteU32(next(i + 1)); err != nil {
			return 0, nil, err
		}
		for _, p := range chunk {
			if err := out.WriteU32(p); err != nil {
				return 0, nil, err
			}
		}
		txn.StageBlock(chain[i], filestore.BlockTypeIndex, sfID, payload)
	}

	return head, append([]uint32{head}, chain...), nil
}

// loadState reads back a table's state chain from its sub-file entry.
func loadState(file *filestore.File, sf filestore.SubFile) (sortedtree.Header, []byte, []uint32, []uint32, error) {
	payloadLen := int(filestore.BlockDataLen(file.BlockSize()))

	payload, _, err := file.ReadBlock(sf.DirectBlock, filestore.BlockTypeIndex)
	if err != nil {
		return sortedtree.Header{}, nil, nil, nil, err
	}
	in := binstream.NewBufferFrom(payload)
	treeHdr, err := sortedtree.DecodeHeader(in)
	if err != nil {
		return sortedtree.Header{}, nil, nil, nil, err
	}
	metadata, err := in.ReadBytes(payloadLen)
	if err != nil {
		return sortedtree.Header{}, nil, nil, nil, err
	}
	nodeCount, err := in.ReadU32()
	if err != nil {
		return sortedtree.Header{}, nil, nil, nil, err
	}
	inline, err := in.ReadU16()
	if err != nil {
		return sortedtree.Header{}, nil, nil, nil, err
	}
	next, err := in.ReadU32()
	if err != nil {
		return sortedtree.Header{}, nil, nil, nil, err
	}

	phys := make([]uint32, 0, nodeCount)
	for i := 0; i < int(inline); i++ {
		p, err := in.ReadU32()
		if err != nil {
			return sortedtree.Header{}, nil, nil, nil, err
		}
		phys = append(phys, p)
	}

	stateBlocks := []uint32{sf.DirectBlock}
	for next != 0 {
		stateBlocks = append(stateBlocks, next)
		payload, _, err := file.ReadBlock(next, filestore.BlockTypeIndex)
		if err != nil {
			return sortedtree.Header{}, nil, nil, nil, err
		}
		in := binstream.NewBufferFrom(payload)
		count, err := in.ReadU16()
		if err != nil {
			return sortedtree.Header{}, nil, nil, nil, err
		}
		next, err = in.ReadU32()
		if err != nil {
			return sortedtree.Header{}, nil, nil, nil, err
		}
		for i := 0; i < int(count); i++ {
			p, err := in.ReadU32()
			if err != nil {
				return sortedtree.Header{}, nil, nil, nil, err
			}
			phys = append(phys, p)
		}
	}

	if len(phys) != int(nodeCount) {
		return sortedtree.Header{}, nil, nil, nil, &filestore.CorruptedError{
			BlockIndex: sf.DirectBlock,
			Reason:     fmt.Sprintf("node translation table holds %d entries, header declares %d", len(phys), nodeCount),
		}
	}
	return treeHdr, metadata, phys, stateBlocks, nil
}
