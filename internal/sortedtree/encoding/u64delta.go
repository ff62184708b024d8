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

// U64Delta is a varint delta codec for the u64 point pair. Keys in a
// node are ascending, so the key is stored as a varint delta from the
// previous record's key; the value is stored as a varint xor against
// the previous value, which collapses runs of identical or slowly
// changing readings to a byte or two.
type U64Delta struct {
	def Definition
}

func NewU64Delta() *U64Delta {
	return &U64Delta{def: Definition{
		KeyType:   points.U64KeyGUID,
		ValueType: points.U64ValueGUID,
		Method:    U64DeltaGUID,
	}}
}

func (e *U64Delta) Definition() Definition { return e.def }

// MaxRecordSize is two worst-case 64-bit varints.
func (e *U64Delta) MaxRecordSize() int { return 2 * binstream.MaxVarint64Len }

func (e *U64Delta) UsesPrevious() bool { return true }

func (e *U64Delta) Encode(out binstream.Stream, prevK *points.U64Key, prevV *points.U64Value, k *points.U64Key, v *points.U64Value) error {
	var pk, pv uint64
	if prevK != nil {
		pk = prevK.Value
	}
	if prevV != nil {
		pv = prevV.Value
	}
	if err := out.WriteVarUint64(k.Value - pk); err != nil {
		return err
	}
	return out.WriteVarUint64(v.Value ^ pv)
}

func (e *U64Delta) Decode(in binstream.Stream, prevK *points.U64Key, prevV *points.U64Value, k *points.U64Key, v *points.U64Value) error {
	var pk, pv uint64
	if prevK != nil {
		pk = prevK.Value
	}
	if prevV != nil {
		pv = prevV.Value
	}
	dk, err := in.ReadVarUint64()
	if err != nil {
		return err
	}
	dv, err := in.ReadVarUint64()
	if err != nil {
		return err
	}
	k.Value = pk + dk
	v.Value = pv ^ dv
	return nil
}
