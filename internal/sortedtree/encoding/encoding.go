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

// Package encoding implements the pluggable record codecs a SortedTree
// delegates its node payload layout to. A codec is identified by an
// encoding definition, the GUID triple (key type, value type, method)
// stored in the archive's sub-file table and negotiated on the wire.
package encoding

import (
	"github.com/google/uuid"

	"github.com/snapdb-project/snapdb/internal/binstream"
	"github.com/snapdb-project/snapdb/internal/points"
)

// Method GUIDs for the codecs this package ships.
var (
	FixedSizeGUID = uuid.MustParse("1dea326d-a63a-4f73-b51c-7b3125c6da55")
	U64DeltaGUID  = uuid.MustParse("0f4dd769-2f2a-40c2-9303-53d3a0868deb")
)

// Definition is the GUID triple that selects a concrete record codec.
type Definition struct {
	KeyType   binstream.Guid
	ValueType binstream.Guid
	Method    binstream.Guid
}

// Encode writes the triple as three raw GUIDs.
func (d Definition) Encode(w binstream.Stream) error {
	if err := w.WriteGuid(d.KeyType); err != nil {
		return err
	}
	if err := w.WriteGuid(d.ValueType); err != nil {
		return err
	}
	return w.WriteGuid(d.Method)
}

// DecodeDefinition reads back a triple written by Encode.
func DecodeDefinition(r binstream.Stream) (Definition, error) {
	var d Definition
	var err error
	if d.KeyType, err = r.ReadGuid(); err != nil {
		return d, err
	}
	if d.ValueType, err = r.ReadGuid(); err != nil {
		return d, err
	}
	d.Method, err = r.ReadGuid()
	return d, err
}

// Pair encodes and decodes one (key, value) record at a time. A codec
// may be stateful across a run of records (delta compression against
// the previous record); such codecs report UsesPrevious and receive the
// prior record on every call. prevK/prevV are nil-equivalent (cleared)
// for the first record of a run.
type Pair[K any, PK points.KeyPtr[K], V any, PV points.ValuePtr[V]] interface {
	Definition() Definition
	// MaxRecordSize bounds the bytes one Encode call may emit. Node
	// capacity checks use this bound, never the (possibly smaller)
	// actual size.
	MaxRecordSize() int
	UsesPrevious() bool
	Encode(out binstream.Stream, prevK PK, prevV PV, k PK, v PV) error
	Decode(in binstream.Stream, prevK PK, prevV PV, k PK, v PV) error
}

// Lookup returns the codec for method instantiated at (K, V), or false
// when the method GUID is unknown or not applicable to this type pair.
// This is the factory-closure registry that replaces reflection-based
// dispatch: every codec this build knows is enumerated here.
func Lookup[K any, PK points.KeyPtr[K], V any, PV points.ValuePtr[V]](method binstream.Guid) (Pair[K, PK, V, PV], bool) {
	switch method {
	case FixedSizeGUID:
		return NewFixedSize[K, PK, V, PV](), true
	case U64DeltaGUID:
		if p, ok := any(NewU64Delta()).(Pair[K, PK, V, PV]); ok {
			return p, true
		}
	}
	return nil, false
}

// DefaultDefinition returns the fixed-size-combined definition for the
// instantiated type pair.
func DefaultDefinition[K any, PK points.KeyPtr[K], V any, PV points.ValuePtr[V]]() Definition {
	var k K
	var v V
	return Definition{
		KeyType:   PK(&k).TypeGUID(),
		ValueType: PV(&v).TypeGUID(),
		Method:    FixedSizeGUID,
	}
}
