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

package binstream

import (
	"math"
	"testing"

	"github.com/google/uuid"
)

// TestVarintBoundaries is scenario S1: known byte-length boundaries for
// the 32-bit varint encoding.
func TestVarintBoundaries(t *testing.T) {
	cases := []struct {
		v    uint32
		want int
	}{
		{0, 1},
		{127, 1},
		{128, 2},
		{16383, 2},
		{16384, 3},
		{2097151, 3},
		{2097152, 4},
		{math.MaxUint32, 5},
	}
	for _, c := range cases {
		b := NewBuffer()
		if err := b.WriteVarUint32(c.v); err != nil {
			t.Fatalf("WriteVarUint32(%d): %v", c.v, err)
		}
		if got := len(b.Bytes()); got != c.want {
			t.Errorf("WriteVarUint32(%d) wrote %d bytes, want %d", c.v, got, c.want)
		}
		b.SetPosition(0)
		got, err := b.ReadVarUint32()
		if err != nil {
			t.Fatalf("ReadVarUint32: %v", err)
		}
		if got != c.v {
			t.Errorf("round trip %d -> %d", c.v, got)
		}
	}
}

func TestVarintRoundTrip64(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 1 << 20, 1 << 40, 1<<64 - 1}
	for _, v := range values {
		b := NewBuffer()
		if err := b.WriteVarUint64(v); err != nil {
			t.Fatalf("WriteVarUint64(%d): %v", v, err)
		}
		n := len(b.Bytes())
		if n < 1 || n > MaxVarint64Len {
			t.Errorf("WriteVarUint64(%d) len = %d, want in [1,%d]", v, n, MaxVarint64Len)
		}
		b.SetPosition(0)
		got, err := b.ReadVarUint64()
		if err != nil {
			t.Fatalf("ReadVarUint64: %v", err)
		}
		if got != v {
			t.Errorf("round trip %d -> %d", v, got)
		}
	}
}

func TestVarintMalformedNeverTerminates(t *testing.T) {
	// 11 bytes with the continuation bit always set: never terminates.
	raw := make([]byte, MaxVarint64Len+2)
	for i := range raw {
		raw[i] = 0x80
	}
	b := NewBufferFrom(raw)
	if _, err := b.ReadVarUint64(); err != ErrMalformed {
		t.Fatalf("ReadVarUint64 on non-terminating input: got %v, want ErrMalformed", err)
	}
}

func TestReadBytesRejectsOversizedLength(t *testing.T) {
	b := NewBuffer()
	if err := b.WriteBytes(make([]byte, 100)); err != nil {
		t.Fatal(err)
	}
	b.SetPosition(0)
	before := b.Position()
	if _, err := b.ReadBytes(10); err != ErrMalformed {
		t.Fatalf("ReadBytes(10) on 100-byte field: got %v, want ErrMalformed", err)
	}
	if b.Position() != before {
		t.Errorf("ReadBytes must not consume bytes on failure: pos %d, want %d", b.Position(), before)
	}
}

func TestStringRoundTrip(t *testing.T) {
	b := NewBuffer()
	const s = "hello, 世界"
	if err := b.WriteString(s); err != nil {
		t.Fatal(err)
	}
	b.SetPosition(0)
	got, err := b.ReadString(32)
	if err != nil {
		t.Fatal(err)
	}
	if got != s {
		t.Errorf("got %q, want %q", got, s)
	}
}

func TestTypedScalarRoundTrip(t *testing.T) {
	b := NewBuffer()
	g := uuid.New()
	if err := b.WriteU8(0xAB); err != nil {
		t.Fatal(err)
	}
	if err := b.WriteU32(0xDEADBEEF); err != nil {
		t.Fatal(err)
	}
	if err := b.WriteU24(0x00FFEE); err != nil {
		t.Fatal(err)
	}
	if err := b.WriteGuid(g); err != nil {
		t.Fatal(err)
	}
	b.SetPosition(0)
	if v, err := b.ReadU8(); err != nil || v != 0xAB {
		t.Fatalf("ReadU8 = %v, %v", v, err)
	}
	if v, err := b.ReadU32(); err != nil || v != 0xDEADBEEF {
		t.Fatalf("ReadU32 = %v, %v", v, err)
	}
	if v, err := b.ReadU24(); err != nil || v != 0x00FFEE {
		t.Fatalf("ReadU24 = %v, %v", v, err)
	}
	if v, err := b.ReadGuid(); err != nil || v != g {
		t.Fatalf("ReadGuid = %v, %v", v, err)
	}
}
