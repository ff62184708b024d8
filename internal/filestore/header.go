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
	"github.com/snapdb-project/snapdb/internal/binstream"
)

// FormatVersion is the only header format version this package writes
// and understands. A version byte other than this is a VersionMismatch
// the archive is refused at open rather than partially parsed.
const FormatVersion = 1

// HeaderSlotA and HeaderSlotB are the two logical blocks that alternately
// carry the durable file header. Only
// these two addresses are exempt from the free-block allocator; ordinary
// allocation begins at FirstDataBlock. This resolves an ambiguity the
// question the layout would otherwise leave open: "logical
// block 0" is slot A, the header's primary identity, and slot B is its
// fixed shadow at block 1, not a dynamically allocated block.
const (
	HeaderSlotA    BlockIndex = 0
	HeaderSlotB    BlockIndex = 1
	FirstDataBlock uint32     = 2
)

// Header is the decoded content of the file header block: format
// version, block size, snapshot/commit counters, the sub-file
// directory, a reference to the file-allocation-table sub-file (by id,
// 0 if none), and the archive's own metadata GUID.
type Header struct {
	FormatVersion  uint8
	BlockSize      uint32
	SnapshotSeq    uint32
	NextFreeBlock  uint32
	CommitSequence uint64
	ArchiveGUID    binstream.Guid
	FATSubFileID   uint16 // 0 means "no file-allocation-table sub-file yet"
	SubFiles       []SubFile
}

// Encode serializes h: version, block size,
// snapshot sequence, next free block, commit sequence, archive GUID, FAT
// sub-file id, then the sub-file table (varint count, then each entry).
func (h Header) Encode() []byte {
	w := binstream.NewBuffer()
	_ = w.WriteU8(h.FormatVersion)
	_ = w.WriteU32(h.BlockSize)
	_ = w.WriteU32(h.SnapshotSeq)
	_ = w.WriteU32(h.NextFreeBlock)
	_ = w.WriteU64(h.CommitSequence)
	_ = w.WriteGuid(h.ArchiveGUID)
	_ = w.WriteU16(h.FATSubFileID)
	_ = w.WriteVarUint32(uint32(len(h.SubFiles)))
	for _, sf := range h.SubFiles {
		_ = sf.Encode(w)
	}
	return w.Bytes()
}

// DecodeHeader parses a Header out of raw, the full payload region of a
// header block slot (footer excluded).
func DecodeHeader(raw []byte) (Header, error) {
	var h Header
	r := binstream.NewBufferFrom(raw)
	var err error
	if h.FormatVersion, err = r.ReadU8(); err != nil {
		return h, err
	}
	if h.FormatVersion != FormatVersion {
		return h, ErrVersionMismatch
	}
	if h.BlockSize, err = r.ReadU32(); err != nil {
		return h, err
	}
	if h.SnapshotSeq, err = r.ReadU32(); err != nil {
		return h, err
	}
	if h.NextFreeBlock, err = r.ReadU32(); err != nil {
		return h, err
	}
	if h.CommitSequence, err = r.ReadU64(); err != nil {
		return h, err
	}
	if h.ArchiveGUID, err = r.ReadGuid(); err != nil {
		return h, err
	}
	if h.FATSubFileID, err = r.ReadU16(); err != nil {
		return h, err
	}
	count, err := r.ReadVarUint32()
	if err != nil {
		return h, err
	}
	h.SubFiles = make([]SubFile, 0, count)
	for i := uint32(0); i < count; i++ {
		sf, err := DecodeSubFile(r)
		if err != nil {
			return h, err
		}
		h.SubFiles = append(h.SubFiles, sf)
	}
	return h, nil
}

// SubFileByID returns the sub-file with the given id, or false if none
// matches.
func (h Header) SubFileByID(id uint16) (SubFile, bool) {
	for _, sf := range h.SubFiles {
		if sf.ID == id {
			return sf, true
		}
	}
	return SubFile{}, false
}

// SubFileByTypeTriple finds the (at most one, by construction) sub-file
// whose key/value/encoding GUIDs match the requested archive table
// descriptor.
func (h Header) SubFileByTypeTriple(keyType, valueType, encoding binstream.Guid) (SubFile, bool) {
	for _, sf := range h.SubFiles {
		if sf.HasTypeTriple && sf.KeyTypeGUID == keyType && sf.ValueTypeGUID == valueType && sf.EncodingGUID == encoding {
			return sf, true
		}
	}
	return SubFile{}, false
}
