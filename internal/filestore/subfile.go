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
)

// SubFile is one named byte stream inside an archive: an
// id, a GUID, a human name, a direct (first logical) block, a block
// count, and the (key,value,encoding) type triple that the archive
// table layer binds it to. The type triple is zero-valued for sub-files
// that are not archive tables, such as the file-allocation-table stream.
type SubFile struct {
	ID          uint16
	GUID        binstream.Guid
	Name        string
	DirectBlock uint32
	BlockCount  uint32

	KeyTypeGUID      binstream.Guid
	ValueTypeGUID    binstream.Guid
	EncodingGUID     binstream.Guid
	HasTypeTriple    bool
}

// BlockDataLen is the number of payload bytes addressable per block,
// i.e. block size minus the trailing footer.
func BlockDataLen(blockSize int) int64 { return int64(blockSize) - FooterLen }

// PositionToBlock translates a byte position within this sub-file to a
// physical block index and the byte offset within that block's payload,
// physical = direct_block + (pos / block_data_length).
func (sf SubFile) PositionToBlock(pos int64, blockSize int) (physical uint32, offset int64) {
	dataLen := BlockDataLen(blockSize)
	physical = sf.DirectBlock + uint32(pos/dataLen)
	offset = pos % dataLen
	return
}

// Encode writes this sub-file's directory entry: 16-bit id, GUID,
// length-prefixed UTF-8 name, 32-bit direct
// block, 32-bit block count, then the three type GUIDs.
func (sf SubFile) Encode(w binstream.Stream) error {
	if err := w.WriteU16(sf.ID); err != nil {
		return err
	}
	if err := w.WriteGuid(sf.GUID); err != nil {
		return err
	}
	if err := w.WriteString(sf.Name); err != nil {
		return err
	}
	if err := w.WriteU32(sf.DirectBlock); err != nil {
		return err
	}
	if err := w.WriteU32(sf.BlockCount); err != nil {
		return err
	}
	if err := w.WriteU8(boolByte(sf.HasTypeTriple)); err != nil {
		return err
	}
	if err := w.WriteGuid(sf.KeyTypeGUID); err != nil {
		return err
	}
	if err := w.WriteGuid(sf.ValueTypeGUID); err != nil {
		return err
	}
	return w.WriteGuid(sf.EncodingGUID)
}

// DecodeSubFile reads back one directory entry written by Encode.
func DecodeSubFile(r binstream.Stream) (SubFile, error) {
	var sf SubFile
	var err error
	if sf.ID, err = r.ReadU16(); err != nil {
		return sf, err
	}
	if sf.GUID, err = r.ReadGuid(); err != nil {
		return sf, err
	}
	if sf.Name, err = r.ReadString(255); err != nil {
		return sf, err
	}
	if sf.DirectBlock, err = r.ReadU32(); err != nil {
		return sf, err
	}
	if sf.BlockCount, err = r.ReadU32(); err != nil {
		return sf, err
	}
	hasTriple, err := r.ReadU8()
	if err != nil {
		return sf, err
	}
	sf.HasTypeTriple = hasTriple != 0
	if sf.KeyTypeGUID, err = r.ReadGuid(); err != nil {
		return sf, err
	}
	if sf.ValueTypeGUID, err = r.ReadGuid(); err != nil {
		return sf, err
	}
	if sf.EncodingGUID, err = r.ReadGuid(); err != nil {
		return sf, err
	}
	return sf, nil
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

func (sf SubFile) String() string {
	return fmt.Sprintf("subfile[%d %q direct=%d blocks=%d]", sf.ID, sf.Name, sf.DirectBlock, sf.BlockCount)
}
