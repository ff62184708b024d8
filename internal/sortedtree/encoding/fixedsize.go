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

package encoding

import (
	"github.com/snapdb-project/snapdb/internal/binstream"
	"github.com/snapdb-project/snapdb/internal/points"
)

// FixedSize is the trivial combined codec: each record is the key's
// fixed bytes immediately followed by the value's fixed bytes. It is
// stateless, so any record in a node can be addressed by multiplication,
// which the node layer exploits for binary search.
type FixedSize[K any, PK points.KeyPtr[K], V any, PV points.ValuePtr[V]] struct {
	keySize   int
	valueSize int
	def       Definition
}

func NewFixedSize[K any, PK points.KeyPtr[K], V any, PV points.ValuePtr[V]]() *FixedSize[K, PK, V, PV] {
	var k K
	var v V
	return &FixedSize[K, PK, V, PV]{
		keySize:   PK(&k).Size(),
		valueSize: PV(&v).Size(),
		def: Definition{
			KeyType:   PK(&k).TypeGUID(),
			ValueType: PV(&v).TypeGUID(),
			Method:    FixedSizeGUID,
		},
	}
}

func (e *FixedSize[K, PK, V, PV]) Definition() Definition { return e.def }
func (e *FixedSize[K, PK, V, PV]) MaxRecordSize() int     { return e.keySize + e.valueSize }
func (e *FixedSize[K, PK, V, PV]) UsesPrevious() bool     { return false }

func (e *FixedSize[K, PK, V, PV]) Encode(out binstream.Stream, _ PK, _ PV, k PK, v PV) error {
	if err := k.WriteTo(out); err != nil {
		return err
	}
	return v.WriteTo(out)
}

func (e *FixedSize[K, PK, V, PV]) Decode(in binstream.Stream, _ PK, _ PV, k PK, v PV) error {
	if err := k.ReadFrom(in); err != nil {
		return err
	}
	return v.ReadFrom(in)
}
