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

// Package wire frames SnapDB's binary protocol over a byte stream:
// little-endian typed scalars, varint-prefixed byte runs, and the
// command and response opcodes. Streamed points are encoded by the
// sorted-tree codecs (sortedtree/encoding) running over a Stream.
package wire

import (
	"bufio"
	"io"
	"math"
	"time"
	"unicode/utf8"

	"github.com/snapdb-project/snapdb/internal/binstream"
)

// Stream adapts a duplex byte stream (normally a TCP or TLS
// connection) to the binstream typed surface, so the same record
// codecs run against sockets and blocks alike. It is sequential:
// Position tracks bytes moved, SetPosition is a no-op, and the in-place
// editing methods (Copy, InsertBytes, RemoveBytes) report ErrNotSupported.
type Stream struct {
	r   *bufio.Reader
	w   *bufio.Writer
	pos int64
}

// NewStream wraps rw with buffered reads and writes.
func NewStream(rw io.ReadWriter) *Stream {
	return &Stream{r: bufio.NewReader(rw), w: bufio.NewWriter(rw)}
}

// Flush pushes buffered writes to the peer.
func (s *Stream) Flush() error { return s.w.Flush() }

func (s *Stream) Position() int64     { return s.pos }
func (s *Stream) SetPosition(int64)   {}
func (s *Stream) Len() int64          { return s.pos }

func (s *Stream) read(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.r, buf); err != nil {
		return nil, err
	}
	s.pos += int64(n)
	return buf, nil
}

func (s *Stream) write(b []byte) error {
	n, err := s.w.Write(b)
	s.pos += int64(n)
	return err
}

func (s *Stream) ReadU8() (uint8, error) {
	b, err := s.r.ReadByte()
	if err != nil {
		return 0, err
	}
	s.pos++
	return b, nil
}

func (s *Stream) WriteU8(v uint8) error {
	if err := s.w.WriteByte(v); err != nil {
		return err
	}
	s.pos++
	return nil
}

func (s *Stream) ReadU16() (uint16, error) {
	b, err := s.read(2)
	if err != nil {
		return 0, err
	}
	return uint16(b[0]) | uint16(b[1])<<8, nil
}

func (s *Stream) WriteU16(v uint16) error {
	return s.write([]byte{byte(v), byte(v >> 8)})
}

func (s *Stream) ReadI16() (int16, error) {
	v, err := s.ReadU16()
	return int16(v), err
}

func (s *Stream) WriteI16(v int16) error { return s.WriteU16(uint16(v)) }

func (s *Stream) ReadU32() (uint32, error) {
	b, err := s.read(4)
	if err != nil {
		return 0, err
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

func (s *Stream) WriteU32(v uint32) error {
	return s.write([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
}

func (s *Stream) ReadI32() (int32, error) {
	v, err := s.ReadU32()
	return int32(v), err
}

func (s *Stream) WriteI32(v int32) error { return s.WriteU32(uint32(v)) }

func (s *Stream) ReadU64() (uint64, error) {
	b, err := s.read(8)
	if err != nil {
		return 0, err
	}
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v, nil
}

func (s *Stream) WriteU64(v uint64) error {
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return s.write(b[:])
}

func (s *Stream) ReadI64() (int64, error) {
	v, err := s.ReadU64()
	return int64(v), err
}

func (s *Stream) WriteI64(v int64) error { return s.WriteU64(uint64(v)) }

func (s *Stream) ReadF32() (float32, error) {
	v, err := s.ReadU32()
	return float32frombits(v), err
}

func (s *Stream) WriteF32(v float32) error { return s.WriteU32(float32bits(v)) }

func (s *Stream) ReadF64() (float64, error) {
	v, err := s.ReadU64()
	return float64frombits(v), err
}

func (s *Stream) WriteF64(v float64) error { return s.WriteU64(float64bits(v)) }

func (s *Stream) ReadGuid() (binstream.Guid, error) {
	b, err := s.read(16)
	if err != nil {
		return binstream.Guid{}, err
	}
	var g binstream.Guid
	copy(g[:], b)
	return g, nil
}

func (s *Stream) WriteGuid(v binstream.Guid) error { return s.write(v[:]) }

func (s *Stream) ReadDecimal() (binstream.Decimal, error) {
	var d binstream.Decimal
	var err error
	if d.Lo, err = s.ReadU32(); err != nil {
		return d, err
	}
	if d.Mid, err = s.ReadU32(); err != nil {
		return d, err
	}
	if d.Hi, err = s.ReadU32(); err != nil {
		return d, err
	}
	d.Flags, err = s.ReadU32()
	return d, err
}

func (s *Stream) WriteDecimal(v binstream.Decimal) error {
	if err := s.WriteU32(v.Lo); err != nil {
		return err
	}
	if err := s.WriteU32(v.Mid); err != nil {
		return err
	}
	if err := s.WriteU32(v.Hi); err != nil {
		return err
	}
	return s.WriteU32(v.Flags)
}

func (s *Stream) ReadDateTimeTicks() (time.Time, error) {
	ticks, err := s.ReadI64()
	if err != nil {
		return time.Time{}, err
	}
	secs := ticks / 10_000_000
	rem := ticks % 10_000_000
	return ticksEpoch.Add(time.Duration(secs) * time.Second).Add(time.Duration(rem) * 100), nil
}

func (s *Stream) WriteDateTimeTicks(v time.Time) error {
	return s.WriteI64(v.UTC().Sub(ticksEpoch).Nanoseconds() / 100)
}

var ticksEpoch = time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)

func (s *Stream) ReadU24() (uint32, error) {
	b, err := s.read(3)
	if err != nil {
		return 0, err
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16, nil
}

func (s *Stream) WriteU24(v uint32) error {
	return s.write([]byte{byte(v), byte(v >> 8), byte(v >> 16)})
}

func (s *Stream) ReadU40() (uint64, error)  { return s.readUintN(5) }
func (s *Stream) WriteU40(v uint64) error   { return s.writeUintN(v, 5) }
func (s *Stream) ReadU48() (uint64, error)  { return s.readUintN(6) }
func (s *Stream) WriteU48(v uint64) error   { return s.writeUintN(v, 6) }
func (s *Stream) ReadU56() (uint64, error)  { return s.readUintN(7) }
func (s *Stream) WriteU56(v uint64) error   { return s.writeUintN(v, 7) }

func (s *Stream) readUintN(n int) (uint64, error) {
	b, err := s.read(n)
	if err != nil {
		return 0, err
	}
	var v uint64
	for i := 0; i < n; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v, nil
}

func (s *Stream) writeUintN(v uint64, n int) error {
	b := make([]byte, n)
	for i := 0; i < n; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return s.write(b)
}

func (s *Stream) WriteVarUint32(v uint32) error { return s.WriteVarUint64(uint64(v)) }

func (s *Stream) ReadVarUint32() (uint32, error) {
	var v uint64
	var shift uint
	for i := 0; i < binstream.MaxVarint32Len; i++ {
		b, err := s.ReadU8()
		if err != nil {
			return 0, err
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			if v > 0xFFFFFFFF {
				return 0, binstream.ErrMalformed
			}
			return uint32(v), nil
		}
		shift += 7
	}
	return 0, binstream.ErrMalformed
}

func (s *Stream) WriteVarUint64(v uint64) error {
	for v >= 0x80 {
		if err := s.WriteU8(byte(v) | 0x80); err != nil {
			return err
		}
		v >>= 7
	}
	return s.WriteU8(byte(v))
}

func (s *Stream) ReadVarUint64() (uint64, error) {
	var v uint64
	var shift uint
	for i := 0; i < binstream.MaxVarint64Len; i++ {
		b, err := s.ReadU8()
		if err != nil {
			return 0, err
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, nil
		}
		shift += 7
	}
	return 0, binstream.ErrMalformed
}

func (s *Stream) WriteBytes(b []byte) error {
	if err := s.WriteVarUint64(uint64(len(b))); err != nil {
		return err
	}
	return s.write(b)
}

func (s *Stream) ReadBytes(maxLength int) ([]byte, error) {
	n, err := s.ReadVarUint64()
	if err != nil {
		return nil, err
	}
	if maxLength < 0 || n > uint64(maxLength) {
		return nil, binstream.ErrMalformed
	}
	return s.read(int(n))
}

func (s *Stream) WriteString(v string) error { return s.WriteBytes([]byte(v)) }

func (s *Stream) ReadString(maxCodepoints int) (string, error) {
	b, err := s.ReadBytes(6 * maxCodepoints)
	if err != nil {
		return "", err
	}
	if utf8.RuneCount(b) > maxCodepoints {
		return "", binstream.ErrMalformed
	}
	return string(b), nil
}

// Copy, InsertBytes and RemoveBytes require random access; a socket
// stream has none.
func (s *Stream) Copy(int64, int64, int64) error        { return binstream.ErrNotSupported }
func (s *Stream) InsertBytes(int64, int64) error        { return binstream.ErrNotSupported }
func (s *Stream) RemoveBytes(int64, int64) error        { return binstream.ErrNotSupported }

func float32bits(f float32) uint32     { return math.Float32bits(f) }
func float32frombits(v uint32) float32 { return math.Float32frombits(v) }
func float64bits(f float64) uint64     { return math.Float64bits(f) }
func float64frombits(v uint64) float64 { return math.Float64frombits(v) }
