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

// Package session runs the per-connection command state machine: the
// root loop (database discovery and attach), the database loop
// (encoding negotiation, streamed reads with cancellation, streamed
// writes), and the mapping of engine errors onto wire response codes.
package session

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/snapdb-project/snapdb/internal/binstream"
	"github.com/snapdb-project/snapdb/internal/engine"
	"github.com/snapdb-project/snapdb/internal/sortedtree/encoding"
	"github.com/snapdb-project/snapdb/internal/wire"
)

// flushEvery bounds how many encoded points accumulate before the
// output buffer is pushed and the cancel poll runs.
const flushEvery = 512

// maxFilterPayload bounds a single filter or options payload.
const maxFilterPayload = 1 << 20

// errProtocol closes the connection after its response byte was sent.
var errProtocol = errors.New("session: protocol violation")

// Session is one connection's state machine, owned by its worker
// goroutine; all cross-goroutine signaling happens through the
// connection itself.
type Session struct {
	srv    *engine.Server
	stream *wire.Stream
	conn   net.Conn
	user   string

	db     engine.SessionDB
	method binstream.Guid
}

// New builds a session for an authenticated connection.
func New(srv *engine.Server, stream *wire.Stream, conn net.Conn, user string) *Session {
	return &Session{
		srv:    srv,
		stream: stream,
		conn:   conn,
		user:   user,
		method: encoding.FixedSizeGUID,
	}
}

// Run drives the state machine until the client disconnects or a
// protocol violation closes the connection. Any unexpected engine
// error is reported as an unhandled exception before closing.
func (s *Session) Run() error {
	err := s.rootLoop()
	if err == nil || isClosedConn(err) {
		return nil
	}
	if errors.Is(err, errProtocol) {
		return err
	}
	s.stream.WriteU8(uint8(wire.RespUnhandledException))
	s.stream.WriteString(err.Error())
	s.stream.Flush()
	return err
}

func isClosedConn(err error) bool {
	var ne net.Error
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.As(err, &ne)
}

func (s *Session) respond(r wire.Response) error {
	if err := s.stream.WriteU8(uint8(r)); err != nil {
		return err
	}
	return s.stream.Flush()
}

func (s *Session) rootLoop() error {
	if err := s.respond(wire.RespConnectedToRoot); err != nil {
		return err
	}
	for {
		cmd, err := s.stream.ReadU8()
		if err != nil {
			return err
		}
		switch wire.RootCommand(cmd) {
		case wire.CmdGetAllDatabases:
			if err := s.sendDatabaseList(); err != nil {
				return err
			}
		case wire.CmdConnectToDatabase:
			if err := s.connectToDatabase(); err != nil {
				return err
			}
		case wire.CmdDisconnect:
			return s.respond(wire.RespGoodBye)
		default:
			s.respond(wire.RespUnknownCommand)
			return errProtocol
		}
	}
}

func (s *Session) sendDatabaseList() error {
	infos := s.srv.ListDatabases()
	if err := s.stream.WriteU8(uint8(wire.RespListOfDatabases)); err != nil {
		return err
	}
	if err := s.stream.WriteVarUint32(uint32(len(infos))); err != nil {
		return err
	}
	for _, info := range infos {
		if err := s.stream.WriteString(info.Name); err != nil {
			return err
		}
		if err := s.stream.WriteGuid(info.KeyType); err != nil {
			return err
		}
		if err := s.stream.WriteGuid(info.ValueType); err != nil {
			return err
		}
	}
	return s.stream.Flush()
}

func (s *Session) connectToDatabase() error {
	name, err := s.stream.ReadString(255)
	if err != nil {
		return err
	}
	keyType, err := s.stream.ReadGuid()
	if err != nil {
		return err
	}
	valueType, err := s.stream.ReadGuid()
	if err != nil {
		return err
	}

	db, ok := s.srv.GetDatabase(name)
	if !ok {
		return s.respond(wire.RespDatabaseDoesNotExist)
	}
	info := db.Info()
	if info.KeyType != keyType {
		return s.respond(wire.RespDatabaseKeyUnknown)
	}
	if info.ValueType != valueType {
		return s.respond(wire.RespDatabaseValueUnknown)
	}
	if err := s.respond(wire.RespSuccessfullyConnectedToDatabase); err != nil {
		return err
	}
	s.db = db
	s.method = encoding.FixedSizeGUID
	err = s.databaseLoop()
	s.db = nil
	return err
}

func (s *Session) databaseLoop() error {
	for {
		cmd, err := s.stream.ReadU8()
		if err != nil {
			return err
		}
		switch wire.DatabaseCommand(cmd) {
		case wire.CmdSetEncodingMethod:
			if err := s.setEncodingMethod(); err != nil {
				return err
			}
		case wire.CmdRead:
			if err := s.handleRead(); err != nil {
				return err
			}
		case wire.CmdWrite:
			if err := s.handleWrite(); err != nil {
				return err
			}
		case wire.CmdCancelRead:
			// No read in flight: nothing to cancel.
		case wire.CmdDisconnectDatabase:
			return s.respond(wire.RespDatabaseDisconnected)
		default:
			s.respond(wire.RespUnknownDatabaseCommand)
			return errProtocol
		}
	}
}

func (s *Session) setEncodingMethod() error {
	def, err := encoding.DecodeDefinition(s.stream)
	if err != nil {
		return err
	}
	if !s.db.SupportsEncoding(def.Method) {
		return s.respond(wire.RespUnknownEncodingMethod)
	}
	s.method = def.Method
	return s.respond(wire.RespEncodingMethodAccepted)
}

// readFilterSpec reads one optional {present, type GUID, payload}
// filter clause.
func (s *Session) readFilterSpec() (binstream.Guid, []byte, error) {
	present, err := s.stream.ReadU8()
	if err != nil {
		return uuid.Nil, nil, err
	}
	if present == 0 {
		return uuid.Nil, nil, nil
	}
	filterType, err := s.stream.ReadGuid()
	if err != nil {
		return uuid.Nil, nil, err
	}
	payload, err := s.stream.ReadBytes(maxFilterPayload)
	if err != nil {
		return uuid.Nil, nil, err
	}
	return filterType, payload, nil
}

func (s *Session) handleRead() error {
	seekType, seekPayload, err := s.readFilterSpec()
	if err != nil {
		return err
	}
	matchType, matchPayload, err := s.readFilterSpec()
	if err != nil {
		return err
	}

	var opts engine.ReaderOptions
	hasOptions, err := s.stream.ReadU8()
	if err != nil {
		return err
	}
	if hasOptions != 0 {
		payload, err := s.stream.ReadBytes(maxFilterPayload)
		if err != nil {
			return err
		}
		opts, err = engine.DecodeReaderOptions(binstream.NewBufferFrom(payload))
		if err != nil {
			return s.respond(wire.RespUnknownOrCorruptReaderOptions)
		}
	}

	reader, err := s.db.StartRead(s.user, s.method, seekType, seekPayload, matchType, matchPayload, opts)
	switch {
	case errors.Is(err, engine.ErrUnknownSeekFilter):
		return s.respond(wire.RespUnknownOrCorruptSeekFilter)
	case errors.Is(err, engine.ErrUnknownMatchFilter):
		return s.respond(wire.RespUnknownOrCorruptMatchFilter)
	case errors.Is(err, engine.ErrUnknownEncoding):
		return s.respond(wire.RespUnknownEncodingMethod)
	case err != nil:
		return err
	}
	defer reader.Close()

	if err := s.stream.WriteU8(uint8(wire.RespSerializingPoints)); err != nil {
		return err
	}

	sent := 0
	for {
		more, err := reader.EncodeNext(s.stream)
		if err != nil {
			// The record run is already broken; terminate it and
			// surface the reason.
			reader.FinishCancel(s.stream)
			s.stream.WriteU8(uint8(wire.RespErrorWhileReading))
			s.stream.WriteString(err.Error())
			return s.stream.Flush()
		}
		if !more {
			return s.respond(wire.RespReadComplete)
		}
		sent++
		if sent%flushEvery == 0 {
			if err := s.stream.Flush(); err != nil {
				return err
			}
			cancelled, err := s.pollCancel()
			if err != nil {
				return err
			}
			if cancelled {
				if err := reader.FinishCancel(s.stream); err != nil {
					return err
				}
				return s.respond(wire.RespCanceledRead)
			}
		}
	}
}

// pollCancel peeks for a CancelRead command without blocking the
// stream. Any other byte mid-stream is a protocol violation.
func (s *Session) pollCancel() (bool, error) {
	if err := s.conn.SetReadDeadline(time.Now()); err != nil {
		return false, err
	}
	b, err := s.stream.ReadU8()
	s.conn.SetReadDeadline(time.Time{})
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return false, nil
		}
		return false, err
	}
	if wire.DatabaseCommand(b) == wire.CmdCancelRead {
		return true, nil
	}
	return false, fmt.Errorf("session: unexpected command %d during read: %w", b, errProtocol)
}

func (s *Session) handleWrite() error {
	writer, err := s.db.StartWrite(s.user, s.method)
	if errors.Is(err, engine.ErrUnknownEncoding) {
		return s.respond(wire.RespUnknownEncodingMethod)
	}
	if err != nil {
		return err
	}
	for {
		done, err := writer.DecodeNext(s.stream)
		if err != nil {
			writer.Close()
			return err
		}
		if done {
			return writer.Close()
		}
	}
}
