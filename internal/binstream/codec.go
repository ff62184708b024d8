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
	"encoding/binary"
	"math"

	"github.com/google/uuid"
)

// Decimal mirrors a 96-bit-mantissa decimal: Lo/Mid/Hi form the unsigned
// mantissa, Flags packs the scale in bits 16-23 and the sign in bit 31.
// It round-trips the on-disk "decimal" scalar without
// requiring a native Go decimal type.
type Decimal struct {
	Lo, Mid, Hi uint32
	Flags       uint32
}

const decimalSize = 16

func putDecimal(b []byte, d Decimal) {
	binary.LittleEndian.PutUint32(b[0:4], d.Lo)
	binary.LittleEndian.PutUint32(b[4:8], d.Mid)
	binary.LittleEndian.PutUint32(b[8:12], d.Hi)
	binary.LittleEndian.PutUint32(b[12:16], d.Flags)
}

func getDecimal(b []byte) Decimal {
	return Decimal{
		Lo:    binary.LittleEndian.Uint32(b[0:4]),
		Mid:   binary.LittleEndian.Uint32(b[4:8]),
		Hi:    binary.LittleEndian.Uint32(b[8:12]),
		Flags: binary.LittleEndian.Uint32(b[12:16]),
	}
}

// ticksPerSecond is the rate of "datetime-ticks" values (100ns units
// counted from the .NET-style epoch ticksEpoch, 0001-01-01), which
// ReadDateTimeTicks/WriteDateTimeTicks use so values round-trip exactly
// regardless of host timezone.
const ticksPerSecond = 10_000_000

// putUintN/getUintN implement the non-power-of-two widths named in 4.A.
func putUintN(b []byte, v uint64, n int) {
	for i := 0; i < n; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func getUintN(b []byte, n int) uint64 {
	var v uint64
	for i := 0; i < n; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

// --- 7-bit varint codec (little-endian base-128, continuation bit is the MSB) ---

// putVarUint64 writes v into b (which must have len(b) >= MaxVarint64Len)
// and returns the number of bytes written, in [1,9].
func putVarUint64(b []byte, v uint64) int {
	i := 0
	for v >= 0x80 {
		b[i] = byte(v) | 0x80
		v >>= 7
		i++
	}
	b[i] = byte(v)
	i++
	return i
}

func putVarUint32(b []byte, v uint32) int {
	return putVarUint64(b, uint64(v))
}

// getVarUint64 decodes a varint from b, returning the value, the number of
// bytes consumed, and ErrMalformed if b is exhausted before a terminating
// byte (MSB clear) is seen within maxBytes.
func getVarUint64(b []byte, maxBytes int) (uint64, int, error) {
	var v uint64
	var shift uint
	for i := 0; i < len(b) && i < maxBytes; i++ {
		c := b[i]
		v |= uint64(c&0x7f) << shift
		if c&0x80 == 0 {
			return v, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, ErrMalformed
}

// MaxVarint32Len and MaxVarint64Len bound the varint encodings:
// 1-5 bytes for 32-bit values, 1-9 bytes for 64-bit values.
const (
	MaxVarint32Len = 5
	MaxVarint64Len = 9
)

// EncodeVarUint64 appends the varint encoding of v to dst and returns the
// extended slice. Exported for callers (wire codec, file header) that want
// the encoding without a full Stream.
func EncodeVarUint64(dst []byte, v uint64) []byte {
	var tmp [MaxVarint64Len]byte
	n := putVarUint64(tmp[:], v)
	return append(dst, tmp[:n]...)
}

// EncodeVarUint32 is the 32-bit convenience form of EncodeVarUint64.
func EncodeVarUint32(dst []byte, v uint32) []byte {
	return EncodeVarUint64(dst, uint64(v))
}

// DecodeVarUint64 decodes a varint from the front of src, returning the
// value and the number of bytes consumed.
func DecodeVarUint64(src []byte) (uint64, int, error) {
	return getVarUint64(src, MaxVarint64Len)
}

// DecodeVarUint32 is like DecodeVarUint64 but rejects values and encodings
// wider than 32 bits.
func DecodeVarUint32(src []byte) (uint32, int, error) {
	v, n, err := getVarUint64(src, MaxVarint32Len)
	if err != nil {
		return 0, 0, err
	}
	if v > math.MaxUint32 {
		return 0, 0, ErrMalformed
	}
	return uint32(v), n, nil
}

// VarUintLen64 returns the number of bytes EncodeVarUint64 would write for v.
func VarUintLen64(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// VarUintLen32 is the 32-bit form of VarUintLen64.
func VarUintLen32(v uint32) int { return VarUintLen64(uint64(v)) }

// Guid is a 16-byte GUID/UUID, read and written as raw bytes on the wire.
// Concrete values are produced with github.com/google/uuid, which backs
// every GUID-shaped field in the data model: sub-file ids, encoding
// definition triples, and archive metadata (type GUIDs live in
// internal/points).
type Guid = uuid.UUID

const guidSize = 16
