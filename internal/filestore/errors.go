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
	"errors"
	"fmt"
)

// CorruptedError is returned for a footer checksum mismatch or a
// disallowed block type at a given logical index.
// It is fatal to the archive, not just the operation: callers should
// mark the archive suspect (see internal/archive's use of this type).
type CorruptedError struct {
	SubFileID  uint16
	BlockIndex uint32
	Reason     string
}

func (e *CorruptedError) Error() string {
	return fmt.Sprintf("filestore: corrupted block (sub-file %d, block %d): %s", e.SubFileID, e.BlockIndex, e.Reason)
}

// ErrOutOfRange is returned when a position lies past the end of a
// sub-file. It is fatal to the operation, not the archive.
var ErrOutOfRange = errors.New("filestore: position out of range")

// ErrNotSupported is returned when a write is requested through a
// read-only Session or a read-only archive node store.
var ErrNotSupported = errors.New("filestore: operation not supported")

// ErrClosed is returned by any operation attempted after the archive
// file has been closed.
var ErrClosed = errors.New("filestore: archive file is closed")

// ErrVersionMismatch is returned when the stored format version byte is
// not one this build understands.
var ErrVersionMismatch = errors.New("filestore: unsupported archive format version")
