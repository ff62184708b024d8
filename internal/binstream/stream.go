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

import "time"

// Stream is the addressable little-endian byte stream contract shared
// by the two concrete variants, Buffer and View: both variants
// embed core, which implements every typed method once against an
// abstract accessor.
type Stream interface {
	Position() int64
	SetPosition(pos int64)
	Len() int64

	ReadU8() (uint8, error)
	WriteU8(v uint8) error
	ReadI16() (int16, error)
	WriteI16(v int16) error
	ReadU16() (uint16, error)
	WriteU16(v uint16) error
	ReadI32() (int32, error)
	WriteI32(v int32) error
	ReadU32() (uint32, error)
	WriteU32(v uint32) error
	ReadI64() (int64, error)
	WriteI64(v int64) error
	ReadU64() (uint64, error)
	WriteU64(v uint64) error
	ReadF32() (float32, error)
	WriteF32(v float32) error
	ReadF64() (float64, error)
	WriteF64(v float64) error
	ReadGuid() (Guid, error)
	WriteGuid(v Guid) error
	ReadDecimal() (Decimal, error)
	WriteDecimal(v Decimal) error
	ReadDateTimeTicks() (time.Time, error)
	WriteDateTimeTicks(v time.Time) error

	ReadU24() (uint32, error)
	WriteU24(v uint32) error
	ReadU40() (uint64, error)
	WriteU40(v uint64) error
	ReadU48() (uint64, error)
	WriteU48(v uint64) error
	ReadU56() (uint64, error)
	WriteU56(v uint64) error

	WriteVarUint32(v uint32) error
	ReadVarUint32() (uint32, error)
	WriteVarUint64(v uint64) error
	ReadVarUint64() (uint64, error)

	// WriteBytes writes a varint length followed by b.
	WriteBytes(b []byte) error
	// ReadBytes reads a varint length then that many raw bytes. It fails
	// with ErrMalformed, without consuming further bytes, if the declared
	// length is negative or exceeds maxLength.
	ReadBytes(maxLength int) ([]byte, error)

	// WriteString writes s as a varint-length-prefixed UTF-8 byte run.
	WriteString(s string) error
	// ReadString reads at most 6*maxCodepoints bytes of a length-prefixed
	// UTF-8 string and verifies the decoded rune count does not exceed
	// maxCodepoints.
	ReadString(maxCodepoints int) (string, error)

	// Copy copies length bytes from srcPos to dstPos within this stream.
	// It is safe for overlapping ranges and preserves Position().
	Copy(srcPos, dstPos, length int64) error

	// InsertBytes shifts the region starting at pos right by n bytes,
	// leaving [pos, pos+n) uninitialized. Position is preserved.
	InsertBytes(pos, n int64) error
	// RemoveBytes shifts the region starting at pos+n left by n bytes.
	// Position is preserved.
	RemoveBytes(pos, n int64) error
}

// accessor abstracts the byte-addressable backing store a core typed-op
// implementation reads and writes through. Buffer's accessor grows on
// demand; View's accessor is bounded to a single pagepool page and never
// grows.
type accessor interface {
	// length returns the current addressable length.
	length() int64
	// ensure makes [pos, pos+n) valid for writing, growing the backing
	// store if supported. Returns ErrOutOfRange if it cannot.
	ensure(pos, n int64) error
	// slice returns a direct, mutable view of [pos, pos+n). The caller
	// must have already called ensure for writes, or rely on bounds
	// already satisfied by length() for reads.
	slice(pos, n int64) ([]byte, error)
	canGrow() bool
	setLength(n int64) error
}

// core implements every typed Stream operation once, against an abstract
// accessor. Both Buffer and View embed core to satisfy Stream.
type core struct {
	acc accessor
	pos int64
}

func (c *core) Position() int64     { return c.pos }
func (c *core) SetPosition(p int64) { c.pos = p }
func (c *core) Len() int64          { return c.acc.length() }

func (c *core) readSlice(n int64) ([]byte, error) {
	if c.pos < 0 || n < 0 || c.pos+n > c.acc.length() {
		return nil, ErrOutOfRange
	}
	b, err := c.acc.slice(c.pos, n)
	if err != nil {
		return nil, err
	}
	c.pos += n
	return b, nil
}

func (c *core) writeSlice(n int64) ([]byte, error) {
	if c.pos < 0 || n < 0 {
		return nil, ErrOutOfRange
	}
	if err := c.acc.ensure(c.pos, n); err != nil {
		return nil, err
	}
	b, err := c.acc.slice(c.pos, n)
	if err != nil {
		return nil, err
	}
	c.pos += n
	return b, nil
}
