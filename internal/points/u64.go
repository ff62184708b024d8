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

package points

import (
	"math"

	"github.com/google/uuid"

	"github.com/snapdb-project/snapdb/internal/binstream"
)

// Type GUIDs are fixed forever; they identify the serialized layout in
// archive headers and on the wire.
var (
	U64KeyGUID   = uuid.MustParse("6a087968-4ba6-4f5d-9bcb-9e2e79b95b9e")
	U64ValueGUID = uuid.MustParse("e7e12771-4b81-4b5e-8f11-8e5e0d8c1b54")
)

// U64Key is the simplest historian key: a single unsigned 64-bit
// ordinal, typically a timestamp or a point identifier packed by the
// caller.
type U64Key struct {
	Value uint64
}

func (k *U64Key) Size() int                  { return 8 }
func (k *U64Key) TypeGUID() binstream.Guid   { return U64KeyGUID }
func (k *U64Key) Clear()                     { k.Value = 0 }
func (k *U64Key) SetMin()                    { k.Value = 0 }
func (k *U64Key) SetMax()                    { k.Value = math.MaxUint64 }
func (k *U64Key) CopyTo(dst *U64Key)         { dst.Value = k.Value }
func (k *U64Key) WriteTo(s binstream.Stream) error { return s.WriteU64(k.Value) }

func (k *U64Key) ReadFrom(s binstream.Stream) error {
	v, err := s.ReadU64()
	if err != nil {
		return err
	}
	k.Value = v
	return nil
}

func (k *U64Key) CompareTo(other *U64Key) int {
	switch {
	case k.Value < other.Value:
		return -1
	case k.Value > other.Value:
		return 1
	}
	return 0
}

// U64Value is the matching single-word value.
type U64Value struct {
	Value uint64
}

func (v *U64Value) Size() int                  { return 8 }
func (v *U64Value) TypeGUID() binstream.Guid   { return U64ValueGUID }
func (v *U64Value) Clear()                     { v.Value = 0 }
func (v *U64Value) CopyTo(dst *U64Value)       { dst.Value = v.Value }
func (v *U64Value) WriteTo(s binstream.Stream) error { return s.WriteU64(v.Value) }

func (v *U64Value) ReadFrom(s binstream.Stream) error {
	x, err := s.ReadU64()
	if err != nil {
		return err
	}
	v.Value = x
	return nil
}
