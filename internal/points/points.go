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

// Package points defines the key and value contracts every SortedTree,
// archive and wire codec is generic over, and their type GUIDs. The
// registry that maps a (key GUID, value GUID) pair back to the
// correctly-typed factories at the wire boundary is engine.Registry.
package points

import (
	"github.com/snapdb-project/snapdb/internal/binstream"
)

// Field is the part of the key/value contract shared by both sides of a
// record: a fixed serialized size, a stable type identity, and
// stream-level read/write of exactly Size bytes.
type Field interface {
	// Size returns the fixed number of bytes WriteTo emits and ReadFrom
	// consumes. It must be constant for a given concrete type.
	Size() int
	// TypeGUID identifies the concrete type on disk and on the wire.
	TypeGUID() binstream.Guid
	WriteTo(s binstream.Stream) error
	ReadFrom(s binstream.Stream) error
	// Clear resets the receiver to its zero state.
	Clear()
}

// Key is implemented by pointer types (*K) that order a tree.
type Key[K any] interface {
	Field
	// SetMin and SetMax set the receiver to the smallest and largest
	// representable key. Min doubles as the open-ended bound marker in
	// node headers.
	SetMin()
	SetMax()
	// CompareTo orders the receiver against other: negative, zero, or
	// positive as in bytes.Compare.
	CompareTo(other *K) int
	CopyTo(dst *K)
}

// Value is implemented by pointer types (*V) carried alongside a key.
type Value[V any] interface {
	Field
	CopyTo(dst *V)
}

// KeyPtr and ValuePtr tie a pointer type to its element type so generic
// containers can allocate fresh elements (var k K; PK(&k)) without
// reflection.
type KeyPtr[K any] interface {
	*K
	Key[K]
}

type ValuePtr[V any] interface {
	*V
	Value[V]
}
