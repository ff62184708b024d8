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

package archive

import (
	"errors"
	"os"

	"github.com/google/uuid"

	"github.com/snapdb-project/snapdb/internal/binstream"
	"github.com/snapdb-project/snapdb/internal/filestore"
	"github.com/snapdb-project/snapdb/internal/points"
	"github.com/snapdb-project/snapdb/internal/sortedtree"
	"github.com/snapdb-project/snapdb/internal/sortedtree/encoding"
)

// SequentialWriter bulk-loads a brand-new archive. The caller
// guarantees strictly ascending keys; records stream straight into
// leaves on an unpublished temporary file, and Commit atomically
// publishes the finished archive by renaming it into place.
type SequentialWriter[K any, PK points.KeyPtr[K], V any, PV points.ValuePtr[V]] struct {
	file      *filestore.File
	txn       *filestore.Txn
	store     *nodeStore
	app       *sortedtree.Appender[K, PK, V, PV]
	tree      *sortedtree.Tree[K, PK, V, PV]
	pair      encoding.Pair[K, PK, V, PV]
	name      string
	metadata  []byte
	tmpPath   string
	finalPath string
	done      bool
}

const tmpSuffix = ".tmp"

// NewSequentialWriter starts a bulk load that will publish to path.
// blockSize <= 0 selects the default.
func NewSequentialWriter[K any, PK points.KeyPtr[K], V any, PV points.ValuePtr[V]](path string, blockSize int, name string, method binstream.Guid, metadata []byte) (*SequentialWriter[K, PK, V, PV], error) {
	pair, ok := encoding.Lookup[K, PK, V, PV](method)
	if !ok {
		return nil, ErrUnknownEncoding
	}
	tmp := path + tmpSuffix
	file, err := filestore.Create(tmp, blockSize)
	if err != nil {
		return nil, err
	}
	txn := file.Begin()
	store := newNodeStore(file, txn, 1, nil)
	store.direct = true
	store.snapshotSeq = txn.SnapshotSeq()
	tree, err := sortedtree.New(store, pair)
	if err != nil {
		txn.Rollback()
		file.Close()
		os.Remove(tmp)
		return nil, err
	}
	app, err := sortedtree.NewAppender(tree)
	if err != nil {
		txn.Rollback()
		file.Close()
		os.Remove(tmp)
		return nil, err
	}
	return &SequentialWriter[K, PK, V, PV]{
		file:      file,
		txn:       txn,
		store:     store,
		app:       app,
		tree:      tree,
		pair:      pair,
		name:      name,
		metadata:  metadata,
		tmpPath:   tmp,
		finalPath: path,
	}, nil
}

// Append adds one record; keys must be strictly ascending.
func (w *SequentialWriter[K, PK, V, PV]) Append(k PK, v PV) error {
	if w.done {
		return errors.New("archive: writer already finished")
	}
	return w.app.Append(k, v)
}

// Commit seals the tree, writes the sub-file table and header, fsyncs,
// and renames the temporary file to its final path. After Commit the
// archive is published and the writer is spent.
func (w *SequentialWriter[K, PK, V, PV]) Commit() error {
	if w.done {
		return errors.New("archive: writer already finished")
	}
	w.done = true

	if err := w.app.Finish(); err != nil {
		w.abortLocked()
		return err
	}
	head, _, err := persistState(w.txn, w.file, 1, w.tree.Header(), w.metadata, w.store.phys)
	if err != nil {
		w.abortLocked()
		return err
	}
	def := w.pair.Definition()
	sf := filestore.SubFile{
		ID:            1,
		GUID:          uuid.New(),
		Name:          w.name,
		DirectBlock:   head,
		BlockCount:    uint32(len(w.store.phys)),
		KeyTypeGUID:   def.KeyType,
		ValueTypeGUID: def.ValueType,
		EncodingGUID:  def.Method,
		HasTypeTriple: true,
	}
	w.txn.UpdateSubFile(sf)
	if err := w.file.Sync(); err != nil {
		w.abortLocked()
		return err
	}
	if err := w.txn.Commit(); err != nil {
		w.file.Close()
		os.Remove(w.tmpPath)
		return err
	}
	if err := w.file.Close(); err != nil {
		os.Remove(w.tmpPath)
		return err
	}
	return os.Rename(w.tmpPath, w.finalPath)
}

// Abort discards the load and removes the temporary file.
func (w *SequentialWriter[K, PK, V, PV]) Abort() {
	if w.done {
		return
	}
	w.done = true
	w.abortLocked()
}

func (w *SequentialWriter[K, PK, V, PV]) abortLocked() {
	w.txn.Rollback()
	w.file.Close()
	os.Remove(w.tmpPath)
}
