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

package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/snapdb-project/snapdb/internal/archive"
	"github.com/snapdb-project/snapdb/internal/binstream"
	"github.com/snapdb-project/snapdb/internal/points"
	"github.com/snapdb-project/snapdb/internal/sortedtree/encoding"
)

// ErrUnknownEncoding is returned when a client selects an encoding
// method GUID this database's type pair has no codec for.
var ErrUnknownEncoding = errors.New("engine: unknown encoding method")

// Info describes a database to clients: its name and the GUIDs of the
// key and value types it serves.
type Info struct {
	Name      string
	KeyType   binstream.Guid
	ValueType binstream.Guid
}

// Status is the operational summary reported by the status surface.
type Status struct {
	Info           Info
	ArchiveCount   int
	BufferedPoints uint64
}

// WireReader streams one read's records into wire frames. EncodeNext
// writes one record frame per call; when the read completes it writes
// the end-of-stream marker and returns false.
type WireReader interface {
	EncodeNext(out binstream.Stream) (bool, error)
	// FinishCancel abandons the read, terminating the encoded point
	// run with the end-of-stream marker so the wire stays framed.
	FinishCancel(out binstream.Stream) error
	Close()
}

// WireWriter consumes one write's record frames. DecodeNext returns
// true once the end-of-stream marker arrives; Close soft-commits the
// accepted points.
type WireWriter interface {
	DecodeNext(in binstream.Stream) (bool, error)
	Close() error
}

// SessionDB is the type-erased face of a database, the only surface
// the session layer talks to. Behind it sits a database instantiated
// at the concrete key/value pair the registry chose.
type SessionDB interface {
	Info() Info
	Status() Status
	SupportsEncoding(method binstream.Guid) bool
	StartRead(user string, method binstream.Guid, seekType binstream.Guid, seekPayload []byte, matchType binstream.Guid, matchPayload []byte, opts ReaderOptions) (WireReader, error)
	StartWrite(user string, method binstream.Guid) (WireWriter, error)
	SoftCommit() error
	HardCommit() error
	AttachArchive(path string) error
	DetachArchive(path string) error
	DeleteArchive(path string) error
	Close() error
}

type database[K any, PK points.KeyPtr[K], V any, PV points.ValuePtr[V]] struct {
	srv  *Server
	name string
	dir  string

	blockSize int
	list      *archiveList[K, PK, V, PV]
	wb        *writeBuffer[K, PK, V, PV]
	access    *AccessControl[K, PK, V, PV]

	// wmu serializes the write path: one writer per database.
	wmu     sync.Mutex
	fileSeq atomic.Uint64
}

func newDatabase[K any, PK points.KeyPtr[K], V any, PV points.ValuePtr[V]](srv *Server, cfg DatabaseConfig) (SessionDB, error) {
	pair, ok := encoding.Lookup[K, PK, V, PV](encoding.FixedSizeGUID)
	if !ok {
		return nil, ErrUnknownEncoding
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, err
	}
	blockSize := cfg.BlockSize
	if blockSize <= 0 {
		blockSize = 4096
	}
	wb, err := newWriteBuffer[K, PK, V, PV](pair, blockSize)
	if err != nil {
		return nil, err
	}
	db := &database[K, PK, V, PV]{
		srv:       srv,
		name:      cfg.Name,
		dir:       cfg.Dir,
		blockSize: blockSize,
		list:      newArchiveList[K, PK, V, PV](),
		wb:        wb,
	}
	perms := srv.perms
	db.access = &AccessControl[K, PK, V, PV]{
		UserCanSeek:  func(user string, _ PK) bool { return perms.CanRead(user) },
		UserCanMatch: func(user string, _ PK, _ PV) bool { return perms.CanRead(user) },
		UserCanWrite: func(user string, _ PK, _ PV) bool { return perms.CanWrite(user) },
	}
	for _, p := range cfg.Archives {
		if err := db.AttachArchive(p); err != nil {
			return nil, fmt.Errorf("engine: attaching %s: %w", p, err)
		}
	}
	return db, nil
}

func (d *database[K, PK, V, PV]) Info() Info {
	var k K
	var v V
	return Info{Name: d.name, KeyType: PK(&k).TypeGUID(), ValueType: PV(&v).TypeGUID()}
}

func (d *database[K, PK, V, PV]) Status() Status {
	return Status{Info: d.Info(), ArchiveCount: d.list.Len(), BufferedPoints: d.wb.Count()}
}

func (d *database[K, PK, V, PV]) SupportsEncoding(method binstream.Guid) bool {
	_, ok := encoding.Lookup[K, PK, V, PV](method)
	return ok
}

// AttachArchive opens the archive at path and adds it to the read set.
func (d *database[K, PK, V, PV]) AttachArchive(path string) error {
	file, err := d.srv.opener.Open(path)
	if err != nil {
		return err
	}
	if err := file.Suspect(); err != nil {
		d.srv.opener.Release(path)
		return err
	}
	table, err := archive.Open[K, PK, V, PV](file)
	if err != nil {
		d.srv.opener.Release(path)
		return err
	}
	d.list.Attach(path, table)
	d.srv.met.AttachedArchives.WithLabelValues(d.name).Set(float64(d.list.Len()))
	return nil
}

// DetachArchive removes path from the read set; the file closes once
// the last in-flight reader over it finishes.
func (d *database[K, PK, V, PV]) DetachArchive(path string) error {
	a := d.list.Detach(path)
	if a == nil {
		return fmt.Errorf("engine: archive %s is not attached", path)
	}
	a.detached.Store(true)
	d.maybeRelease(a)
	d.srv.met.AttachedArchives.WithLabelValues(d.name).Set(float64(d.list.Len()))
	return nil
}

// DeleteArchive detaches path and journals it for deferred unlink; the
// file disappears once no reader holds it.
func (d *database[K, PK, V, PV]) DeleteArchive(path string) error {
	if err := d.DetachArchive(path); err != nil {
		return err
	}
	if err := d.srv.unlink.Defer(path, d.srv.now()); err != nil {
		return err
	}
	_, err := d.srv.unlink.Sweep(d.srv.opener.InUse)
	return err
}

func (d *database[K, PK, V, PV]) acquire(a *attachedArchive[K, PK, V, PV]) {
	a.refs.Add(1)
}

func (d *database[K, PK, V, PV]) maybeRelease(a *attachedArchive[K, PK, V, PV]) {
	if a.refs.Load() == 0 && a.detached.Load() {
		a.releaseOnce.Do(func() {
			d.srv.opener.Release(a.Path)
			d.srv.unlink.Sweep(d.srv.opener.InUse)
		})
	}
}

func (d *database[K, PK, V, PV]) release(a *attachedArchive[K, PK, V, PV]) {
	a.refs.Add(-1)
	d.maybeRelease(a)
}

// StartRead builds the merging reader for one Read call and wraps it
// in the session's chosen wire codec.
func (d *database[K, PK, V, PV]) StartRead(user string, method binstream.Guid, seekType binstream.Guid, seekPayload []byte, matchType binstream.Guid, matchPayload []byte, opts ReaderOptions) (WireReader, error) {
	pair, ok := encoding.Lookup[K, PK, V, PV](method)
	if !ok {
		return nil, ErrUnknownEncoding
	}
	seek, err := DecodeSeekFilter[K, PK](seekType, seekPayload)
	if err != nil {
		return nil, err
	}
	match, err := DecodeMatchFilter[K, PK, V, PV](matchType, matchPayload)
	if err != nil {
		return nil, err
	}

	attached := d.list.Snapshot()
	var sources []mergeSource[K, PK, V, PV]
	var priorities []uint64
	var closeFns []func()
	for _, a := range attached {
		a := a
		d.acquire(a)
		snap := a.Table.ReadSnapshot()
		sources = append(sources, snap.Tree().CreateScanner())
		priorities = append(priorities, a.Sequence)
		closeFns = append(closeFns, func() { d.release(a) })
	}

	memRecs, err := d.wb.snapshotRecords()
	if err != nil {
		for _, fn := range closeFns {
			fn()
		}
		return nil, err
	}
	if len(memRecs) > 0 {
		sources = append(sources, &sliceSource[K, PK, V, PV]{recs: memRecs})
		priorities = append(priorities, ^uint64(0))
	}

	mr := newMergingReader(sources, priorities, seek, match, d.access, user, opts, closeFns)
	return &wireReader[K, PK, V, PV]{
		db:    d,
		mr:    mr,
		codec: encoding.NewStreamCodec(pair),
	}, nil
}

// StartWrite begins one streamed write; the database's single-writer
// lock is held until the returned writer closes.
func (d *database[K, PK, V, PV]) StartWrite(user string, method binstream.Guid) (WireWriter, error) {
	pair, ok := encoding.Lookup[K, PK, V, PV](method)
	if !ok {
		return nil, ErrUnknownEncoding
	}
	d.wmu.Lock()
	return &wireWriter[K, PK, V, PV]{
		db:    d,
		user:  user,
		codec: encoding.NewStreamCodec(pair),
	}, nil
}

// SoftCommit makes queued points visible to new reads.
func (d *database[K, PK, V, PV]) SoftCommit() error {
	_, err := d.wb.SoftCommit()
	if err == nil {
		d.srv.met.SoftCommits.WithLabelValues(d.name).Inc()
		d.srv.met.BufferedPoints.WithLabelValues(d.name).Set(float64(d.wb.Count()))
	}
	return err
}

// HardCommit spills the write buffer into a fresh archive file and
// rotates it into the read set. On failure the buffer is preserved and
// readers keep observing the prior durable state.
func (d *database[K, PK, V, PV]) HardCommit() error {
	d.wmu.Lock()
	defer d.wmu.Unlock()

	if _, err := d.wb.SoftCommit(); err != nil {
		return err
	}
	recs, err := d.wb.snapshotRecords()
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return nil
	}

	seq := d.fileSeq.Add(1)
	path := filepath.Join(d.dir, fmt.Sprintf("%s-%06d-%d.snapdb", d.name, seq, d.srv.now().UnixNano()))
	w, err := archive.NewSequentialWriter[K, PK, V, PV](path, d.blockSize, d.name, d.wb.pair.Definition().Method, nil)
	if err != nil {
		d.srv.met.HardCommitErrors.WithLabelValues(d.name).Inc()
		return err
	}
	for i := range recs {
		if err := w.Append(PK(&recs[i].k), PV(&recs[i].v)); err != nil {
			w.Abort()
			d.srv.met.HardCommitErrors.WithLabelValues(d.name).Inc()
			return err
		}
	}
	if err := w.Commit(); err != nil {
		d.srv.met.HardCommitErrors.WithLabelValues(d.name).Inc()
		return err
	}
	if err := d.AttachArchive(path); err != nil {
		d.srv.met.HardCommitErrors.WithLabelValues(d.name).Inc()
		return err
	}
	if err := d.wb.reset(); err != nil {
		return err
	}
	d.srv.met.HardCommits.WithLabelValues(d.name).Inc()
	d.srv.met.BufferedPoints.WithLabelValues(d.name).Set(0)
	return nil
}

// Close detaches every archive and releases their files.
func (d *database[K, PK, V, PV]) Close() error {
	for _, a := range d.list.Snapshot() {
		d.DetachArchive(a.Path)
	}
	return nil
}

// --- wire adapters ---

type wireReader[K any, PK points.KeyPtr[K], V any, PV points.ValuePtr[V]] struct {
	db    *database[K, PK, V, PV]
	mr    *MergingReader[K, PK, V, PV]
	codec *encoding.StreamCodec[K, PK, V, PV]
	k     K
	v     V
	done  bool
}

func (r *wireReader[K, PK, V, PV]) EncodeNext(out binstream.Stream) (bool, error) {
	if r.done {
		return false, nil
	}
	ok, err := r.mr.Next(PK(&r.k), PV(&r.v))
	if err != nil {
		return false, err
	}
	if !ok {
		r.done = true
		r.mr.Close()
		return false, r.codec.WriteEndOfStream(out)
	}
	if err := r.codec.Encode(out, PK(&r.k), PV(&r.v)); err != nil {
		return false, err
	}
	r.db.srv.met.PointsRead.WithLabelValues(r.db.name).Inc()
	return true, nil
}

func (r *wireReader[K, PK, V, PV]) FinishCancel(out binstream.Stream) error {
	if r.done {
		return nil
	}
	r.done = true
	r.mr.Close()
	return r.codec.WriteEndOfStream(out)
}

func (r *wireReader[K, PK, V, PV]) Close() {
	r.done = true
	r.mr.Close()
}

type wireWriter[K any, PK points.KeyPtr[K], V any, PV points.ValuePtr[V]] struct {
	db     *database[K, PK, V, PV]
	user   string
	codec  *encoding.StreamCodec[K, PK, V, PV]
	k      K
	v      V
	closed bool
}

func (w *wireWriter[K, PK, V, PV]) DecodeNext(in binstream.Stream) (bool, error) {
	eos, err := w.codec.TryDecode(in, PK(&w.k), PV(&w.v))
	if err != nil || eos {
		return eos, err
	}
	if ac := w.db.access; ac != nil && ac.UserCanWrite != nil && !ac.UserCanWrite(w.user, PK(&w.k), PV(&w.v)) {
		// Denied points are dropped, not errors.
		return false, nil
	}
	w.db.wb.Append(PK(&w.k), PV(&w.v))
	w.db.srv.met.PointsWritten.WithLabelValues(w.db.name).Inc()
	return false, nil
}

func (w *wireWriter[K, PK, V, PV]) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	defer w.db.wmu.Unlock()
	return w.db.SoftCommit()
}
