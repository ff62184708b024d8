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
	"github.com/snapdb-project/snapdb/internal/binstream"
	"github.com/snapdb-project/snapdb/internal/points"
)

// Stream-marker bytes. Every record on the wire is preceded by
// recordMarker; a run ends with endOfStreamMarker. The marker byte is
// what lets a decoder of a variable-size codec tell "one more record"
// from "done" without a count prefix.
const (
	recordMarker      = 0x01
	endOfStreamMarker = 0xFF
)

// StreamCodec frames a run of records over a byte stream using an
// underlying Pair codec: reset, encode-one, end-of-stream on the encode
// side; reset, try-decode on the decode side. It owns the
// previous-record state a delta codec needs, so callers treat every
// record independently.
type StreamCodec[K any, PK points.KeyPtr[K], V any, PV points.ValuePtr[V]] struct {
	pair Pair[K, PK, V, PV]

	encPrevK K
	encPrevV V
	encHas   bool

	decPrevK K
	decPrevV V
	decHas   bool
}

func NewStreamCodec[K any, PK points.KeyPtr[K], V any, PV points.ValuePtr[V]](pair Pair[K, PK, V, PV]) *StreamCodec[K, PK, V, PV] {
	return &StreamCodec[K, PK, V, PV]{pair: pair}
}

func (c *StreamCodec[K, PK, V, PV]) Definition() Definition { return c.pair.Definition() }

// ResetEncoder clears the encoder's previous-record state; the next
// Encode starts a fresh run.
func (c *StreamCodec[K, PK, V, PV]) ResetEncoder() {
	c.encHas = false
}

// Encode appends one record to out.
func (c *StreamCodec[K, PK, V, PV]) Encode(out binstream.Stream, k PK, v PV) error {
	if err := out.WriteU8(recordMarker); err != nil {
		return err
	}
	var prevK PK
	var prevV PV
	if c.encHas {
		prevK, prevV = PK(&c.encPrevK), PV(&c.encPrevV)
	}
	if err := c.pair.Encode(out, prevK, prevV, k, v); err != nil {
		return err
	}
	k.CopyTo(&c.encPrevK)
	v.CopyTo(&c.encPrevV)
	c.encHas = true
	return nil
}

// WriteEndOfStream terminates the current run. The encoder state is
// reset as a side effect, matching ResetEncoder on the peer.
func (c *StreamCodec[K, PK, V, PV]) WriteEndOfStream(out binstream.Stream) error {
	c.encHas = false
	return out.WriteU8(endOfStreamMarker)
}

// ResetDecoder clears the decoder's previous-record state.
func (c *StreamCodec[K, PK, V, PV]) ResetDecoder() {
	c.decHas = false
}

// TryDecode reads the next frame from in. It returns endOfStream=true
// when the terminator was consumed; otherwise k and v hold one decoded
// record. A marker byte outside {record, end-of-stream} is malformed.
func (c *StreamCodec[K, PK, V, PV]) TryDecode(in binstream.Stream, k PK, v PV) (endOfStream bool, err error) {
	marker, err := in.ReadU8()
	if err != nil {
		return false, err
	}
	switch marker {
	case endOfStreamMarker:
		c.decHas = false
		return true, nil
	case recordMarker:
	default:
		return false, binstream.ErrMalformed
	}
	var prevK PK
	var prevV PV
	if c.decHas {
		prevK, prevV = PK(&c.decPrevK), PV(&c.decPrevV)
	}
	if err := c.pair.Decode(in, prevK, prevV, k, v); err != nil {
		return false, err
	}
	k.CopyTo(&c.decPrevK)
	v.CopyTo(&c.decPrevV)
	c.decHas = true
	return false, nil
}
