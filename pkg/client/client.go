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

// Package client is the Go client for a SnapDB server: connection
// handshake, database discovery and attach, streamed reads with
// server-side filters and cancellation, and streamed writes.
package client

import (
	"errors"
	"fmt"
	"net"

	"github.com/google/uuid"

	"github.com/snapdb-project/snapdb/internal/binstream"
	"github.com/snapdb-project/snapdb/internal/engine"
	"github.com/snapdb-project/snapdb/internal/points"
	"github.com/snapdb-project/snapdb/internal/sortedtree/encoding"
	"github.com/snapdb-project/snapdb/internal/wire"
	"github.com/snapdb-project/snapdb/internal/wire/handshake"
)

// DatabaseInfo describes one database the server offers.
type DatabaseInfo struct {
	Name      string
	KeyType   binstream.Guid
	ValueType binstream.Guid
}

// Conn is an authenticated connection in the root state.
type Conn struct {
	conn   net.Conn
	stream *wire.Stream

	// Ticket and Secret resume a later session when presented via
	// handshake.ClientConfig.
	Ticket []byte
	Secret []byte
}

// Dial connects and authenticates.
func Dial(addr string, cfg handshake.ClientConfig) (*Conn, error) {
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	res, err := handshake.Client(nc, cfg)
	if err != nil {
		nc.Close()
		return nil, err
	}
	c := &Conn{conn: res.Conn, stream: res.Stream, Ticket: res.Ticket, Secret: res.Secret}
	resp, err := c.stream.ReadU8()
	if err != nil {
		nc.Close()
		return nil, err
	}
	if wire.Response(resp) != wire.RespConnectedToRoot {
		nc.Close()
		return nil, fmt.Errorf("client: unexpected greeting %s", wire.Response(resp))
	}
	return c, nil
}

// ListDatabases asks the server for every database it serves.
func (c *Conn) ListDatabases() ([]DatabaseInfo, error) {
	if err := c.stream.WriteU8(uint8(wire.CmdGetAllDatabases)); err != nil {
		return nil, err
	}
	if err := c.stream.Flush(); err != nil {
		return nil, err
	}
	resp, err := c.stream.ReadU8()
	if err != nil {
		return nil, err
	}
	if wire.Response(resp) != wire.RespListOfDatabases {
		return nil, fmt.Errorf("client: unexpected response %s", wire.Response(resp))
	}
	count, err := c.stream.ReadVarUint32()
	if err != nil {
		return nil, err
	}
	out := make([]DatabaseInfo, 0, count)
	for i := 0; i < int(count); i++ {
		var info DatabaseInfo
		if info.Name, err = c.stream.ReadString(255); err != nil {
			return nil, err
		}
		if info.KeyType, err = c.stream.ReadGuid(); err != nil {
			return nil, err
		}
		if info.ValueType, err = c.stream.ReadGuid(); err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

// Close sends the goodbye and tears the connection down.
func (c *Conn) Close() error {
	c.stream.WriteU8(uint8(wire.CmdDisconnect))
	c.stream.Flush()
	c.stream.ReadU8()
	return c.conn.Close()
}

// Database is a typed attach to one server database.
type Database[K any, PK points.KeyPtr[K], V any, PV points.ValuePtr[V]] struct {
	c      *Conn
	method binstream.Guid
}

// OpenDatabase attaches to name with the instantiated type pair.
func OpenDatabase[K any, PK points.KeyPtr[K], V any, PV points.ValuePtr[V]](c *Conn, name string) (*Database[K, PK, V, PV], error) {
	var k K
	var v V
	if err := c.stream.WriteU8(uint8(wire.CmdConnectToDatabase)); err != nil {
		return nil, err
	}
	if err := c.stream.WriteString(name); err != nil {
		return nil, err
	}
	if err := c.stream.WriteGuid(PK(&k).TypeGUID()); err != nil {
		return nil, err
	}
	if err := c.stream.WriteGuid(PV(&v).TypeGUID()); err != nil {
		return nil, err
	}
	if err := c.stream.Flush(); err != nil {
		return nil, err
	}
	resp, err := c.stream.ReadU8()
	if err != nil {
		return nil, err
	}
	switch wire.Response(resp) {
	case wire.RespSuccessfullyConnectedToDatabase:
		return &Database[K, PK, V, PV]{c: c, method: encoding.FixedSizeGUID}, nil
	case wire.RespDatabaseDoesNotExist, wire.RespDatabaseKeyUnknown, wire.RespDatabaseValueUnknown:
		return nil, fmt.Errorf("client: %s", wire.Response(resp))
	}
	return nil, fmt.Errorf("client: unexpected response %s", wire.Response(resp))
}

// SetEncoding negotiates the record codec used for reads and writes.
func (d *Database[K, PK, V, PV]) SetEncoding(method binstream.Guid) error {
	pair, ok := encoding.Lookup[K, PK, V, PV](method)
	if !ok {
		return errors.New("client: encoding not supported locally")
	}
	if err := d.c.stream.WriteU8(uint8(wire.CmdSetEncodingMethod)); err != nil {
		return err
	}
	if err := pair.Definition().Encode(d.c.stream); err != nil {
		return err
	}
	if err := d.c.stream.Flush(); err != nil {
		return err
	}
	resp, err := d.c.stream.ReadU8()
	if err != nil {
		return err
	}
	if wire.Response(resp) != wire.RespEncodingMethodAccepted {
		return fmt.Errorf("client: %s", wire.Response(resp))
	}
	d.method = method
	return nil
}

// SeekSpec and MatchSpec are pre-encoded filter clauses.
type SeekSpec struct {
	Type    binstream.Guid
	Payload []byte
}

type MatchSpec struct {
	Type    binstream.Guid
	Payload []byte
}

// RangeListSeek builds a seek filter visiting the given [start, end)
// key ranges in order.
func RangeListSeek[K any, PK points.KeyPtr[K]](ranges [][2]K) (*SeekSpec, error) {
	buf := binstream.NewBuffer()
	if err := engine.EncodeRangeListSeek[K, PK](buf, ranges); err != nil {
		return nil, err
	}
	return &SeekSpec{Type: engine.SeekRangeListGUID, Payload: buf.Bytes()}, nil
}

// U64RangeMatch builds a match filter keeping values in [min, max].
func U64RangeMatch(min, max uint64) (*MatchSpec, error) {
	buf := binstream.NewBuffer()
	if err := (engine.U64RangeMatch{Min: min, Max: max}).Encode(buf); err != nil {
		return nil, err
	}
	return &MatchSpec{Type: engine.MatchU64RangeGUID, Payload: buf.Bytes()}, nil
}

func (d *Database[K, PK, V, PV]) writeFilterSpec(filterType binstream.Guid, payload []byte, present bool) error {
	if !present {
		return d.c.stream.WriteU8(0)
	}
	if err := d.c.stream.WriteU8(1); err != nil {
		return err
	}
	if err := d.c.stream.WriteGuid(filterType); err != nil {
		return err
	}
	return d.c.stream.WriteBytes(payload)
}

// Reader iterates one Read call's records.
type Reader[K any, PK points.KeyPtr[K], V any, PV points.ValuePtr[V]] struct {
	d      *Database[K, PK, V, PV]
	codec  *encoding.StreamCodec[K, PK, V, PV]
	done   bool
	status wire.Response
}

// Read starts a streamed read. A nil seek visits everything; a nil
// match keeps everything.
func (d *Database[K, PK, V, PV]) Read(seek *SeekSpec, match *MatchSpec, opts *engine.ReaderOptions) (*Reader[K, PK, V, PV], error) {
	pair, ok := encoding.Lookup[K, PK, V, PV](d.method)
	if !ok {
		return nil, errors.New("client: encoding not supported locally")
	}
	s := d.c.stream
	if err := s.WriteU8(uint8(wire.CmdRead)); err != nil {
		return nil, err
	}
	var err error
	if seek != nil {
		err = d.writeFilterSpec(seek.Type, seek.Payload, true)
	} else {
		err = d.writeFilterSpec(uuid.Nil, nil, false)
	}
	if err != nil {
		return nil, err
	}
	if match != nil {
		err = d.writeFilterSpec(match.Type, match.Payload, true)
	} else {
		err = d.writeFilterSpec(uuid.Nil, nil, false)
	}
	if err != nil {
		return nil, err
	}
	if opts != nil {
		if err := s.WriteU8(1); err != nil {
			return nil, err
		}
		buf := binstream.NewBuffer()
		if err := opts.Encode(buf); err != nil {
			return nil, err
		}
		if err := s.WriteBytes(buf.Bytes()); err != nil {
			return nil, err
		}
	} else if err := s.WriteU8(0); err != nil {
		return nil, err
	}
	if err := s.Flush(); err != nil {
		return nil, err
	}

	resp, err := s.ReadU8()
	if err != nil {
		return nil, err
	}
	if wire.Response(resp) != wire.RespSerializingPoints {
		return nil, fmt.Errorf("client: %s", wire.Response(resp))
	}
	return &Reader[K, PK, V, PV]{d: d, codec: encoding.NewStreamCodec(pair)}, nil
}

// Next decodes the next record; false means the stream finished, and
// Status reports how.
func (r *Reader[K, PK, V, PV]) Next(outK PK, outV PV) (bool, error) {
	if r.done {
		return false, nil
	}
	eos, err := r.codec.TryDecode(r.d.c.stream, outK, outV)
	if err != nil {
		return false, err
	}
	if !eos {
		return true, nil
	}
	r.done = true
	resp, err := r.d.c.stream.ReadU8()
	if err != nil {
		return false, err
	}
	r.status = wire.Response(resp)
	if r.status == wire.RespErrorWhileReading {
		reason, err := r.d.c.stream.ReadString(4096)
		if err != nil {
			return false, err
		}
		return false, fmt.Errorf("client: read failed on server: %s", reason)
	}
	return false, nil
}

// Status reports the read's completion response once Next returned
// false.
func (r *Reader[K, PK, V, PV]) Status() wire.Response { return r.status }

// Drain consumes the remaining records, returning how many it skipped.
func (r *Reader[K, PK, V, PV]) Drain() (int, error) {
	var k K
	var v V
	n := 0
	for {
		ok, err := r.Next(PK(&k), PV(&v))
		if err != nil {
			return n, err
		}
		if !ok {
			return n, nil
		}
		n++
	}
}

// Cancel asks the server to stop the in-flight read; the caller must
// still Drain the stream to the CanceledRead status.
func (d *Database[K, PK, V, PV]) Cancel() error {
	if err := d.c.stream.WriteU8(uint8(wire.CmdCancelRead)); err != nil {
		return err
	}
	return d.c.stream.Flush()
}

// Writer streams points to the server.
type Writer[K any, PK points.KeyPtr[K], V any, PV points.ValuePtr[V]] struct {
	d     *Database[K, PK, V, PV]
	codec *encoding.StreamCodec[K, PK, V, PV]
	done  bool
}

// Write starts a streamed write.
func (d *Database[K, PK, V, PV]) Write() (*Writer[K, PK, V, PV], error) {
	pair, ok := encoding.Lookup[K, PK, V, PV](d.method)
	if !ok {
		return nil, errors.New("client: encoding not supported locally")
	}
	if err := d.c.stream.WriteU8(uint8(wire.CmdWrite)); err != nil {
		return nil, err
	}
	return &Writer[K, PK, V, PV]{d: d, codec: encoding.NewStreamCodec(pair)}, nil
}

// Append encodes one point.
func (w *Writer[K, PK, V, PV]) Append(k PK, v PV) error {
	return w.codec.Encode(w.d.c.stream, k, v)
}

// Close terminates the point run and flushes.
func (w *Writer[K, PK, V, PV]) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	if err := w.codec.WriteEndOfStream(w.d.c.stream); err != nil {
		return err
	}
	return w.d.c.stream.Flush()
}

// Disconnect returns the connection to the root state.
func (d *Database[K, PK, V, PV]) Disconnect() error {
	if err := d.c.stream.WriteU8(uint8(wire.CmdDisconnectDatabase)); err != nil {
		return err
	}
	if err := d.c.stream.Flush(); err != nil {
		return err
	}
	resp, err := d.c.stream.ReadU8()
	if err != nil {
		return err
	}
	if wire.Response(resp) != wire.RespDatabaseDisconnected {
		return fmt.Errorf("client: %s", wire.Response(resp))
	}
	return nil
}
