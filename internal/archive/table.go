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

// Package archive binds the generic tree machinery to archive files: a
// table is one sub-file carrying a (key type, value type, encoding)
// triple, an optional metadata blob, and a tree of records. Tables are
// read through pinned snapshots, edited through transactions, or bulk
// loaded through the sequential writer.
package archive

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/snapdb-project/snapdb/internal/binstream"
	"github.com/snapdb-project/snapdb/internal/filestore"
	"github.com/snapdb-project/snapdb/internal/points"
	"github.com/snapdb-project/snapdb/internal/sortedtree"
	"github.com/snapdb-project/snapdb/internal/sortedtree/encoding"
)

// ErrNoSuchTable is returned by Open when no sub-file carries the
// requested key/value type pair.
var ErrNoSuchTable = errors.New("archive: no table with the requested key and value types")

// ErrUnknownEncoding is returned when a table's stored encoding method
// has no registered codec for the instantiated type pair.
var ErrUnknownEncoding = errors.New("archive: unknown encoding method")

// Table is one opened archive table, generic over its key/value pair.
type Table[K any, PK points.KeyPtr[K], V any, PV points.ValuePtr[V]] struct {
	file *filestore.File
	pair encoding.Pair[K, PK, V, PV]
	sf   filestore.SubFile

	treeHdr     sortedtree.Header
	metadata    []byte
	phys        []uint32
	stateBlocks []uint32
}

// Create adds a new, empty table named name to file, encoded with
// method. metadata is an optional opaque blob (commonly a UTF-8 CSV of
// tag to id mappings) stored alongside the tree state.
func Create[K any, PK points.KeyPtr[K], V any, PV points.ValuePtr[V]](file *filestore.File, name string, method binstream.Guid, metadata []byte) (*Table[K, PK, V, PV], error) {
	pair, ok := encoding.Lookup[K, PK, V, PV](method)
	if !ok {
		return nil, ErrUnknownEncoding
	}

	txn := file.Begin()
	sfID := nextSubFileID(file.Header().SubFiles)
	store := newNodeStore(file, txn, sfID, nil)
	tree, err := sortedtree.New(store, pair)
	if err != nil {
		txn.Rollback()
		return nil, err
	}
	head, stateBlocks, err := persistState(txn, file, sfID, tree.Header(), metadata, store.phys)
	if err != nil {
		txn.Rollback()
		return nil, err
	}
	def := pair.Definition()
	sf := filestore.SubFile{
		ID:            sfID,
		GUID:          uuid.New(),
		Name:          name,
		DirectBlock:   head,
		BlockCount:    uint32(len(store.phys)),
		KeyTypeGUID:   def.KeyType,
		ValueTypeGUID: def.ValueType,
		EncodingGUID:  def.Method,
		HasTypeTriple: true,
	}
	txn.UpdateSubFile(sf)
	if err := txn.Commit(); err != nil {
		return nil, err
	}
	return &Table[K, PK, V, PV]{
		file:        file,
		pair:        pair,
		sf:          sf,
		treeHdr:     tree.Header(),
		metadata:    metadata,
		phys:        store.phys,
		stateBlocks: stateBlocks,
	}, nil
}

// Open finds the single sub-file in file whose key/value type GUIDs
// match the instantiated pair, loading its tree state.
func Open[K any, PK points.KeyPtr[K], V any, PV points.ValuePtr[V]](file *filestore.File) (*Table[K, PK, V, PV], error) {
	var k K
	var v V
	keyGUID := PK(&k).TypeGUID()
	valueGUID := PV(&v).TypeGUID()

	var found *filestore.SubFile
	for _, sf := range file.Header().SubFiles {
		if sf.HasTypeTriple && sf.KeyTypeGUID == keyGUID && sf.ValueTypeGUID == valueGUID {
			sfCopy := sf
			found = &sfCopy
			break
		}
	}
	if found == nil {
		return nil, ErrNoSuchTable
	}
	pair, ok := encoding.Lookup[K, PK, V, PV](found.EncodingGUID)
	if !ok {
		return nil, ErrUnknownEncoding
	}
	treeHdr, metadata, phys, stateBlocks, err := loadState(file, *found)
	if err != nil {
		return nil, err
	}
	return &Table[K, PK, V, PV]{
		file:        file,
		pair:        pair,
		sf:          *found,
		treeHdr:     treeHdr,
		metadata:    metadata,
		phys:        phys,
		stateBlocks: stateBlocks,
	}, nil
}

// Metadata returns the table's opaque metadata blob.
func (t *Table[K, PK, V, PV]) Metadata() []byte { return t.metadata }

// Definition returns the table's encoding definition triple.
func (t *Table[K, PK, V, PV]) Definition() encoding.Definition { return t.pair.Definition() }

// File returns the archive file this table lives in.
func (t *Table[K, PK, V, PV]) File() *filestore.File { return t.file }

// Count returns the record count of the current durable tree.
func (t *Table[K, PK, V, PV]) Count() uint64 { return t.treeHdr.RecordCount }

// Snapshot is an immutable read view pinned to the snapshot sequence
// that was durable when it was taken.
type Snapshot[K any, PK points.KeyPtr[K], V any, PV points.ValuePtr[V]] struct {
	tree *sortedtree.Tree[K, PK, V, PV]
	seq  uint32
}

// ReadSnapshot pins the current durable tree state. The returned
// snapshot keeps observing exactly that state across later edits,
// because edits shadow-copy every block they touch.
func (t *Table[K, PK, V, PV]) ReadSnapshot() *Snapshot[K, PK, V, PV] {
	phys := make([]uint32, len(t.phys))
	copy(phys, t.phys)
	store := newNodeStore(t.file, nil, t.sf.ID, phys)
	return &Snapshot[K, PK, V, PV]{
		tree: sortedtree.Load(store, t.pair, t.treeHdr),
		seq:  t.file.SnapshotSeq(),
	}
}

// Tree returns the snapshot's read-only tree.
func (s *Snapshot[K, PK, V, PV]) Tree() *sortedtree.Tree[K, PK, V, PV] { return s.tree }

// Sequence returns the snapshot sequence number this view is pinned to.
func (s *Snapshot[K, PK, V, PV]) Sequence() uint32 { return s.seq }

// Editor is one open edit transaction over a table.
type Editor[K any, PK points.KeyPtr[K], V any, PV points.ValuePtr[V]] struct {
	table *Table[K, PK, V, PV]
	txn   *filestore.Txn
	store *nodeStore
	tree  *sortedtree.Tree[K, PK, V, PV]
	done  bool
}

// BeginEdit opens an edit transaction. Edits are invisible to snapshots
// until Commit; Rollback discards them entirely.
func (t *Table[K, PK, V, PV]) BeginEdit() *Editor[K, PK, V, PV] {
	txn := t.file.Begin()
	phys := make([]uint32, len(t.phys))
	copy(phys, t.phys)
	store := newNodeStore(t.file, txn, t.sf.ID, phys)
	return &Editor[K, PK, V, PV]{
		table: t,
		txn:   txn,
		store: store,
		tree:  sortedtree.Load(store, t.pair, t.treeHdr),
	}
}

// Tree returns the editable tree.
func (e *Editor[K, PK, V, PV]) Tree() *sortedtree.Tree[K, PK, V, PV] { return e.tree }

// Commit durably applies the edit: the new state chain is written, the
// old chain's blocks are freed, and the file header flips atomically.
func (e *Editor[K, PK, V, PV]) Commit() error {
	if e.done {
		return errors.New("archive: editor already finished")
	}
	e.done = true

	for _, b := range e.table.stateBlocks {
		e.txn.FreeBlock(e.table.sf.ID, b)
	}
	head, stateBlocks, err := persistState(e.txn, e.table.file, e.table.sf.ID, e.tree.Header(), e.table.metadata, e.store.phys)
	if err != nil {
		e.txn.Rollback()
		return err
	}
	sf := e.table.sf
	sf.DirectBlock = head
	sf.BlockCount = uint32(len(e.store.phys))
	e.txn.UpdateSubFile(sf)
	if err := e.txn.Commit(); err != nil {
		return err
	}
	e.table.sf = sf
	e.table.treeHdr = e.tree.Header()
	e.table.phys = e.store.phys
	e.table.stateBlocks = stateBlocks
	return nil
}

// Rollback discards the edit.
func (e *Editor[K, PK, V, PV]) Rollback() {
	if e.done {
		return
	}
	e.done = true
	e.txn.Rollback()
}

func nextSubFileID(subFiles []filestore.SubFile) uint16 {
	var next uint16 = 1
	for _, sf := range subFiles {
		if sf.ID >= next {
			next = sf.ID + 1
		}
	}
	return next
}

func (t *Table[K, PK, V, PV]) String() string {
	return fmt.Sprintf("table[%q records=%d]", t.sf.Name, t.treeHdr.RecordCount)
}
