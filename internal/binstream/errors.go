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

// Package binstream implements the addressable, little-endian binary
// streams that every higher layer of SnapDB reads and writes through:
// typed scalar codecs, the 7-bit varint encoding, length-prefixed byte
// and string framing, and position-preserving copy/insert/remove.
//
// Two concrete stream variants share one typed-operation core: Buffer,
// a growable buffer-backed stream used for in-memory framing (wire
// messages, header staging), and View, a bounded pointer-backed stream
// over a single pagepool page used by the file-structure I/O sessions.
package binstream

import "errors"

var (
	// ErrMalformed is returned when a length-prefixed field declares a
	// size that is negative, exceeds its caller-supplied bound, or a
	// varint never terminates within its maximum byte width.
	ErrMalformed = errors.New("binstream: malformed field")

	// ErrOutOfRange is returned when a read or write would cross the
	// addressable end of the stream.
	ErrOutOfRange = errors.New("binstream: position out of range")

	// ErrNotSupported is returned by SetLength/Length-style operations
	// on a pointer-backed (View) stream, which cannot grow.
	ErrNotSupported = errors.New("binstream: operation not supported on this stream variant")
)
