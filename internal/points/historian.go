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

var (
	HistorianKeyGUID   = uuid.MustParse("3e26c9a4-78d1-47a1-b3bc-e9bd02f3b3e4")
	HistorianValueGUID = uuid.MustParse("24dde7dc-67f9-42b6-a11b-e27c3b00cc34")
)

// HistorianKey orders measurement samples: timestamp first, then the
// measured point's id, then an entry number that disambiguates multiple
// samples of one point in one tick.
type HistorianKey struct {
	Timestamp   uint64
	PointID     uint64
	EntryNumber uint64
}

func (k *HistorianKey) Size() int                { return 24 }
func (k *HistorianKey) TypeGUID() binstream.Guid { return HistorianKeyGUID }

func (k *HistorianKey) Clear() {
	k.Timestamp = 0
	k.PointID = 0
	k.EntryNumber = 0
}

func (k *HistorianKey) SetMin() { k.Clear() }

func (k *HistorianKey) SetMax() {
	k.Timestamp = math.MaxUint64
	k.PointID = math.MaxUint64
	k.EntryNumber = math.MaxUint64
}

func (k *HistorianKey) CopyTo(dst *HistorianKey) { *dst = *k }

func (k *HistorianKey) WriteTo(s binstream.Stream) error {
	if err := s.WriteU64(k.Timestamp); err != nil {
		return err
	}
	if err := s.WriteU64(k.PointID); err != nil {
		return err
	}
	return s.WriteU64(k.EntryNumber)
}

func (k *HistorianKey) ReadFrom(s binstream.Stream) error {
	var err error
	if k.Timestamp, err = s.ReadU64(); err != nil {
		return err
	}
	if k.PointID, err = s.ReadU64(); err != nil {
		return err
	}
	k.EntryNumber, err = s.ReadU64()
	return err
}

func (k *HistorianKey) CompareTo(other *HistorianKey) int {
	if c := compareU64(k.Timestamp, other.Timestamp); c != 0 {
		return c
	}
	if c := compareU64(k.PointID, other.PointID); c != 0 {
		return c
	}
	return compareU64(k.EntryNumber, other.EntryNumber)
}

func compareU64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// HistorianValue carries a measurement: the sample itself in Value1 and
// two auxiliary words for quality flags and extended precision.
type HistorianValue struct {
	Value1 uint64
	Value2 uint64
	Value3 uint64
}

func (v *HistorianValue) Size() int                { return 24 }
func (v *HistorianValue) TypeGUID() binstream.Guid { return HistorianValueGUID }

func (v *HistorianValue) Clear() {
	v.Value1 = 0
	v.Value2 = 0
	v.Value3 = 0
}

func (v *HistorianValue) CopyTo(dst *HistorianValue) { *dst = *v }

func (v *HistorianValue) WriteTo(s binstream.Stream) error {
	if err := s.WriteU64(v.Value1); err != nil {
		return err
	}
	if err := s.WriteU64(v.Value2); err != nil {
		return err
	}
	return s.WriteU64(v.Value3)
}

func (v *HistorianValue) ReadFrom(s binstream.Stream) error {
	var err error
	if v.Value1, err = s.ReadU64(); err != nil {
		return err
	}
	if v.Value2, err = s.ReadU64(); err != nil {
		return err
	}
	v.Value3, err = s.ReadU64()
	return err
}

// AsFloat32 interprets Value1's low word as an IEEE 754 single, the
// representation most SCADA sources deliver.
func (v *HistorianValue) AsFloat32() float32 {
	return math.Float32frombits(uint32(v.Value1))
}

// SetFloat32 stores f into Value1, clearing the upper word.
func (v *HistorianValue) SetFloat32(f float32) {
	v.Value1 = uint64(math.Float32bits(f))
}
