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
	"testing"

	"github.com/snapdb-project/snapdb/internal/binstream"
	"github.com/snapdb-project/snapdb/internal/points"
)

func TestLookupKnownMethods(t *testing.T) {
	if _, ok := Lookup[points.U64Key, *points.U64Key, points.U64Value, *points.U64Value](FixedSizeGUID); !ok {
		t.Fatal("fixed-size codec missing for u64 pair")
	}
	if _, ok := Lookup[points.U64Key, *points.U64Key, points.U64Value, *points.U64Value](U64DeltaGUID); !ok {
		t.Fatal("delta codec missing for u64 pair")
	}
	// The delta codec is specific to the u64 pair and must not leak to
	// other type pairs.
	if _, ok := Lookup[points.HistorianKey, *points.HistorianKey, points.HistorianValue, *points.HistorianValue](U64DeltaGUID); ok {
		t.Fatal("u64 delta codec offered for historian pair")
	}
	if _, ok := Lookup[points.HistorianKey, *points.HistorianKey, points.HistorianValue, *points.HistorianValue](FixedSizeGUID); !ok {
		t.Fatal("fixed-size codec missing for historian pair")
	}
}

func TestStreamCodecRoundTrip(t *testing.T) {
	pair := NewFixedSize[points.U64Key, *points.U64Key, points.U64Value, *points.U64Value]()
	enc := NewStreamCodec(pair)
	dec := NewStreamCodec(pair)

	buf := binstream.NewBuffer()
	enc.ResetEncoder()
	for i := uint64(0); i < 100; i++ {
		k := points.U64Key{Value: i}
		v := points.U64Value{Value: i * 7}
		if err := enc.Encode(buf, &k, &v); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}
	if err := enc.WriteEndOfStream(buf); err != nil {
		t.Fatalf("WriteEndOfStream: %v", err)
	}

	buf.SetPosition(0)
	dec.ResetDecoder()
	var k points.U64Key
	var v points.U64Value
	for i := uint64(0); ; i++ {
		eos, err := dec.TryDecode(buf, &k, &v)
		if err != nil {
			t.Fatalf("TryDecode: %v", err)
		}
		if eos {
			if i != 100 {
				t.Fatalf("end of stream after %d records, want 100", i)
			}
			break
		}
		if k.Value != i || v.Value != i*7 {
			t.Fatalf("record %d = (%d, %d)", i, k.Value, v.Value)
		}
	}
}

func TestStreamCodecDeltaUsesPrevious(t *testing.T) {
	enc := NewStreamCodec[points.U64Key, *points.U64Key, points.U64Value, *points.U64Value](NewU64Delta())
	dec := NewStreamCodec[points.U64Key, *points.U64Key, points.U64Value, *points.U64Value](NewU64Delta())

	buf := binstream.NewBuffer()
	keys := []uint64{10, 11, 12, 500, 501}
	for _, key := range keys {
		k := points.U64Key{Value: key}
		v := points.U64Value{Value: key ^ 0xFF}
		if err := enc.Encode(buf, &k, &v); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}
	if err := enc.WriteEndOfStream(buf); err != nil {
		t.Fatalf("WriteEndOfStream: %v", err)
	}

	buf.SetPosition(0)
	var k points.U64Key
	var v points.U64Value
	for _, want := range keys {
		eos, err := dec.TryDecode(buf, &k, &v)
		if err != nil || eos {
			t.Fatalf("TryDecode = eos %v, %v", eos, err)
		}
		if k.Value != want || v.Value != want^0xFF {
			t.Fatalf("decoded (%d, %d), want key %d", k.Value, v.Value, want)
		}
	}
	if eos, _ := dec.TryDecode(buf, &k, &v); !eos {
		t.Fatal("terminator not decoded")
	}
}

func TestStreamCodecRejectsBadMarker(t *testing.T) {
	pair := NewFixedSize[points.U64Key, *points.U64Key, points.U64Value, *points.U64Value]()
	dec := NewStreamCodec(pair)
	buf := binstream.NewBufferFrom([]byte{0x55})
	var k points.U64Key
	var v points.U64Value
	if _, err := dec.TryDecode(buf, &k, &v); err != binstream.ErrMalformed {
		t.Fatalf("TryDecode(bad marker) err = %v, want ErrMalformed", err)
	}
}

func TestDefinitionRoundTrip(t *testing.T) {
	def := DefaultDefinition[points.U64Key, *points.U64Key, points.U64Value, *points.U64Value]()
	buf := binstream.NewBuffer()
	if err := def.Encode(buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	buf.SetPosition(0)
	got, err := DecodeDefinition(buf)
	if err != nil {
		t.Fatalf("DecodeDefinition: %v", err)
	}
	if got != def {
		t.Fatalf("round trip = %+v, want %+v", got, def)
	}
}
