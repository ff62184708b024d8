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
	"time"
	"unicode/utf8"
)

func (c *core) ReadU8() (uint8, error) {
	b, err := c.readSlice(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *core) WriteU8(v uint8) error {
	b, err := c.writeSlice(1)
	if err != nil {
		return err
	}
	b[0] = v
	return nil
}

func (c *core) ReadI16() (int16, error) {
	v, err := c.ReadU16()
	return int16(v), err
}

func (c *core) WriteI16(v int16) error { return c.WriteU16(uint16(v)) }

func (c *core) ReadU16() (uint16, error) {
	b, err := c.readSlice(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (c *core) WriteU16(v uint16) error {
	b, err := c.writeSlice(2)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(b, v)
	return nil
}

func (c *core) ReadI32() (int32, error) {
	v, err := c.ReadU32()
	return int32(v), err
}

func (c *core) WriteI32(v int32) error { return c.WriteU32(uint32(v)) }

func (c *core) ReadU32() (uint32, error) {
	b, err := c.readSlice(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (c *core) WriteU32(v uint32) error {
	b, err := c.writeSlice(4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b, v)
	return nil
}

func (c *core) ReadI64() (int64, error) {
	v, err := c.ReadU64()
	return int64(v), err
}

func (c *core) WriteI64(v int64) error { return c.WriteU64(uint64(v)) }

func (c *core) ReadU64() (uint64, error) {
	b, err := c.readSlice(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (c *core) WriteU64(v uint64) error {
	b, err := c.writeSlice(8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b, v)
	return nil
}

func (c *core) ReadF32() (float32, error) {
	v, err := c.ReadU32()
	return math.Float32frombits(v), err
}

func (c *core) WriteF32(v float32) error { return c.WriteU32(math.Float32bits(v)) }

func (c *core) ReadF64() (float64, error) {
	v, err := c.ReadU64()
	return math.Float64frombits(v), err
}

func (c *core) WriteF64(v float64) error { return c.WriteU64(math.Float64bits(v)) }

func (c *core) ReadGuid() (Guid, error) {
	b, err := c.readSlice(guidSize)
	if err != nil {
		return Guid{}, err
	}
	var g Guid
	copy(g[:], b)
	return g, nil
}

func (c *core) WriteGuid(v Guid) error {
	b, err := c.writeSlice(guidSize)
	if err != nil {
		return err
	}
	copy(b, v[:])
	return nil
}

func (c *core) ReadDecimal() (Decimal, error) {
	b, err := c.readSlice(decimalSize)
	if err != nil {
		return Decimal{}, err
	}
	return getDecimal(b), nil
}

func (c *core) WriteDecimal(v Decimal) error {
	b, err := c.writeSlice(decimalSize)
	if err != nil {
		return err
	}
	putDecimal(b, v)
	return nil
}

// ticksEpoch is 0001-01-01T00:00:00Z, the zero point for datetime-ticks so
// that round-tripping does not depend on the host's local calendar.
var ticksEpoch = time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)

func (c *core) ReadDateTimeTicks() (time.Time, error) {
	ticks, err := c.ReadI64()
	if err != nil {
		return time.Time{}, err
	}
	secs := ticks / ticksPerSecond
	rem := ticks % ticksPerSecond
	return ticksEpoch.Add(time.Duration(secs) * time.Second).Add(time.Duration(rem) * 100), nil
}

func (c *core) WriteDateTimeTicks(v time.Time) error {
	d := v.UTC().Sub(ticksEpoch)
	ticks := (d.Nanoseconds() / 100)
	return c.WriteI64(ticks)
}

func (c *core) ReadU24() (uint32, error) {
	b, err := c.readSlice(3)
	if err != nil {
		return 0, err
	}
	return uint32(getUintN(b, 3)), nil
}

func (c *core) WriteU24(v uint32) error {
	b, err := c.writeSlice(3)
	if err != nil {
		return err
	}
	putUintN(b, uint64(v), 3)
	return nil
}

func (c *core) ReadU40() (uint64, error) {
	b, err := c.readSlice(5)
	if err != nil {
		return 0, err
	}
	return getUintN(b, 5), nil
}

func (c *core) WriteU40(v uint64) error {
	b, err := c.writeSlice(5)
	if err != nil {
		return err
	}
	putUintN(b, v, 5)
	return nil
}

func (c *core) ReadU48() (uint64, error) {
	b, err := c.readSlice(6)
	if err != nil {
		return 0, err
	}
	return getUintN(b, 6), nil
}

func (c *core) WriteU48(v uint64) error {
	b, err := c.writeSlice(6)
	if err != nil {
		return err
	}
	putUintN(b, v, 6)
	return nil
}

func (c *core) ReadU56() (uint64, error) {
	b, err := c.readSlice(7)
	if err != nil {
		return 0, err
	}
	return getUintN(b, 7), nil
}

func (c *core) WriteU56(v uint64) error {
	b, err := c.writeSlice(7)
	if err != nil {
		return err
	}
	putUintN(b, v, 7)
	return nil
}

func (c *core) WriteVarUint32(v uint32) error { return c.WriteVarUint64(uint64(v)) }

func (c *core) ReadVarUint32() (uint32, error) {
	// Varints are read one byte at a time since their length is not
	// known up front; readSlice(1) enforces bounds per byte.
	var v uint64
	var shift uint
	for i := 0; i < MaxVarint32Len; i++ {
		b, err := c.ReadU8()
		if err != nil {
			return 0, err
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			if v > math.MaxUint32 {
				return 0, ErrMalformed
			}
			return uint32(v), nil
		}
		shift += 7
	}
	return 0, ErrMalformed
}

func (c *core) WriteVarUint64(v uint64) error {
	var tmp [MaxVarint64Len]byte
	n := putVarUint64(tmp[:], v)
	b, err := c.writeSlice(int64(n))
	if err != nil {
		return err
	}
	copy(b, tmp[:n])
	return nil
}

func (c *core) ReadVarUint64() (uint64, error) {
	var v uint64
	var shift uint
	for i := 0; i < MaxVarint64Len; i++ {
		b, err := c.ReadU8()
		if err != nil {
			return 0, err
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, nil
		}
		shift += 7
	}
	return 0, ErrMalformed
}

func (c *core) WriteBytes(b []byte) error {
	if err := c.WriteVarUint64(uint64(len(b))); err != nil {
		return err
	}
	dst, err := c.writeSlice(int64(len(b)))
	if err != nil {
		return err
	}
	copy(dst, b)
	return nil
}

func (c *core) ReadBytes(maxLength int) ([]byte, error) {
	savedPos := c.pos
	n, err := c.ReadVarUint64()
	if err != nil {
		c.pos = savedPos
		return nil, err
	}
	if n > uint64(maxLength) {
		c.pos = savedPos
		return nil, ErrMalformed
	}
	src, err := c.readSlice(int64(n))
	if err != nil {
		c.pos = savedPos
		return nil, err
	}
	out := make([]byte, len(src))
	copy(out, src)
	return out, nil
}

func (c *core) WriteString(s string) error {
	return c.WriteBytes([]byte(s))
}

func (c *core) ReadString(maxCodepoints int) (string, error) {
	b, err := c.ReadBytes(6 * maxCodepoints)
	if err != nil {
		return "", err
	}
	if utf8.RuneCount(b) > maxCodepoints {
		return "", ErrMalformed
	}
	return string(b), nil
}

func (c *core) Copy(srcPos, dstPos, length int64) error {
	if length == 0 {
		return nil
	}
	if srcPos < 0 || dstPos < 0 || length < 0 {
		return ErrOutOfRange
	}
	hi := srcPos + length
	if dstPos+length > hi {
		hi = dstPos + length
	}
	if err := c.acc.ensure(0, hi); err != nil {
		return err
	}
	full, err := c.acc.slice(0, c.acc.length())
	if err != nil {
		return err
	}
	// copy() in the stdlib already handles overlapping ranges correctly
	// (it behaves like memmove), so no directionality logic is needed.
	copy(full[dstPos:dstPos+length], full[srcPos:srcPos+length])
	return nil
}

func (c *core) InsertBytes(pos, n int64) error {
	if pos < 0 || n < 0 {
		return ErrOutOfRange
	}
	oldLen := c.acc.length()
	if pos > oldLen {
		return ErrOutOfRange
	}
	if err := c.acc.ensure(0, oldLen+n); err != nil {
		return err
	}
	full, err := c.acc.slice(0, oldLen+n)
	if err != nil {
		return err
	}
	copy(full[pos+n:], full[pos:oldLen])
	savedPos := c.pos
	c.pos = savedPos
	return nil
}

func (c *core) RemoveBytes(pos, n int64) error {
	if pos < 0 || n < 0 {
		return ErrOutOfRange
	}
	oldLen := c.acc.length()
	if pos+n > oldLen {
		return ErrOutOfRange
	}
	full, err := c.acc.slice(0, oldLen)
	if err != nil {
		return err
	}
	copy(full[pos:], full[pos+n:oldLen])
	if c.acc.canGrow() {
		return c.acc.setLength(oldLen - n)
	}
	return nil
}
