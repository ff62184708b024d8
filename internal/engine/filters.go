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

package engine

import (
	"errors"

	"github.com/google/uuid"

	"github.com/snapdb-project/snapdb/internal/binstream"
	"github.com/snapdb-project/snapdb/internal/points"
)

// Filter type GUIDs understood by this build. Unknown GUIDs are
// rejected at the wire boundary with the corrupt-filter error codes.
var (
	SeekRangeListGUID = uuid.MustParse("8b53ab47-bb91-4e4c-a201-5c863bca71f0")
	MatchU64RangeGUID = uuid.MustParse("abc09d2a-5f4d-4b4e-8f0a-19c1e6ae9b44")
)

// Filter decode failures are distinct per kind so the session can map
// each to its own wire error code.
var (
	ErrUnknownSeekFilter  = errors.New("engine: unknown or corrupt seek filter")
	ErrUnknownMatchFilter = errors.New("engine: unknown or corrupt match filter")
)

// SeekFilter produces a lazy, finite, non-restartable run of disjoint
// ascending [start, end) key ranges for the merging reader to visit.
type SeekFilter[K any, PK points.KeyPtr[K]] interface {
	// Next fills start/end with the next range. It returns false when
	// the sequence is exhausted; the sequence cannot be restarted.
	Next(start, end PK) bool
}

// MatchFilter accepts or rejects individual decoded records.
type MatchFilter[K any, PK points.KeyPtr[K], V any, PV points.ValuePtr[V]] interface {
	Matches(k PK, v PV) bool
}

// --- universe seek (no filter supplied) ---

type universeSeek[K any, PK points.KeyPtr[K]] struct {
	done bool
}

func (u *universeSeek[K, PK]) Next(start, end PK) bool {
	if u.done {
		return false
	}
	u.done = true
	start.SetMin()
	end.SetMax()
	return true
}

// --- range-list seek ---

// rangeListSeek iterates a decoded list of [start, end) ranges.
type rangeListSeek[K any, PK points.KeyPtr[K]] struct {
	starts []K
	ends   []K
	pos    int
}

func (r *rangeListSeek[K, PK]) Next(start, end PK) bool {
	if r.pos >= len(r.starts) {
		return false
	}
	PK(&r.starts[r.pos]).CopyTo((*K)(start))
	PK(&r.ends[r.pos]).CopyTo((*K)(end))
	r.pos++
	return true
}

// EncodeRangeListSeek writes the range-list payload: a varint count
// followed by start/end key images.
func EncodeRangeListSeek[K any, PK points.KeyPtr[K]](w binstream.Stream, ranges [][2]K) error {
	if err := w.WriteVarUint32(uint32(len(ranges))); err != nil {
		return err
	}
	for i := range ranges {
		if err := PK(&ranges[i][0]).WriteTo(w); err != nil {
			return err
		}
		if err := PK(&ranges[i][1]).WriteTo(w); err != nil {
			return err
		}
	}
	return nil
}

func decodeRangeListSeek[K any, PK points.KeyPtr[K]](payload []byte) (*rangeListSeek[K, PK], error) {
	in := binstream.NewBufferFrom(payload)
	count, err := in.ReadVarUint32()
	if err != nil {
		return nil, ErrUnknownSeekFilter
	}
	var k K
	if int64(count)*int64(2*PK(&k).Size()) > int64(len(payload)) {
		return nil, ErrUnknownSeekFilter
	}
	r := &rangeListSeek[K, PK]{
		starts: make([]K, count),
		ends:   make([]K, count),
	}
	for i := 0; i < int(count); i++ {
		if err := PK(&r.starts[i]).ReadFrom(in); err != nil {
			return nil, ErrUnknownSeekFilter
		}
		if err := PK(&r.ends[i]).ReadFrom(in); err != nil {
			return nil, ErrUnknownSeekFilter
		}
	}
	return r, nil
}

// DecodeSeekFilter builds the seek filter named by filterType. A nil
// filterType GUID (uuid.Nil) yields the universe filter.
func DecodeSeekFilter[K any, PK points.KeyPtr[K]](filterType binstream.Guid, payload []byte) (SeekFilter[K, PK], error) {
	switch filterType {
	case uuid.Nil:
		return &universeSeek[K, PK]{}, nil
	case SeekRangeListGUID:
		return decodeRangeListSeek[K, PK](payload)
	}
	return nil, ErrUnknownSeekFilter
}

// --- u64 value-range match ---

// U64RangeMatch keeps records whose value lies in [Min, Max].
type U64RangeMatch struct {
	Min, Max uint64
}

func (m *U64RangeMatch) Matches(k *points.U64Key, v *points.U64Value) bool {
	return v.Value >= m.Min && v.Value <= m.Max
}

// Encode writes the match payload.
func (m U64RangeMatch) Encode(w binstream.Stream) error {
	if err := w.WriteU64(m.Min); err != nil {
		return err
	}
	return w.WriteU64(m.Max)
}

// DecodeMatchFilter builds the match filter named by filterType for the
// instantiated type pair; uuid.Nil means no filtering.
func DecodeMatchFilter[K any, PK points.KeyPtr[K], V any, PV points.ValuePtr[V]](filterType binstream.Guid, payload []byte) (MatchFilter[K, PK, V, PV], error) {
	switch filterType {
	case uuid.Nil:
		return nil, nil
	case MatchU64RangeGUID:
		in := binstream.NewBufferFrom(payload)
		var m U64RangeMatch
		var err error
		if m.Min, err = in.ReadU64(); err != nil {
			return nil, ErrUnknownMatchFilter
		}
		if m.Max, err = in.ReadU64(); err != nil {
			return nil, ErrUnknownMatchFilter
		}
		if f, ok := any(&m).(MatchFilter[K, PK, V, PV]); ok {
			return f, nil
		}
	}
	return nil, ErrUnknownMatchFilter
}
