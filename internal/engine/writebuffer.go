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
	"sort"
	"sync"

	"github.com/snapdb-project/snapdb/internal/isoqueue"
	"github.com/snapdb-project/snapdb/internal/pagepool"
	"github.com/snapdb-project/snapdb/internal/points"
	"github.com/snapdb-project/snapdb/internal/sortedtree"
	"github.com/snapdb-project/snapdb/internal/sortedtree/encoding"
)

type record[K any, V any] struct {
	k K
	v V
}

// writeBuffer is a database's single-writer append path: incoming
// points land in a lock-free queue, a soft commit drains the queue into
// an in-memory tree (making them visible to new reads), and a hard
// commit spills that tree into a fresh on-disk archive.
type writeBuffer[K any, PK points.KeyPtr[K], V any, PV points.ValuePtr[V]] struct {
	pair  encoding.Pair[K, PK, V, PV]
	queue *isoqueue.Queue[record[K, V]]

	mu   sync.Mutex
	mem  *sortedtree.MemoryStore
	tree *sortedtree.Tree[K, PK, V, PV]
}

func newWriteBuffer[K any, PK points.KeyPtr[K], V any, PV points.ValuePtr[V]](pair encoding.Pair[K, PK, V, PV], pageSize int) (*writeBuffer[K, PK, V, PV], error) {
	mem := sortedtree.NewMemoryStore(pagepool.New(pageSize))
	tree, err := sortedtree.New(mem, pair)
	if err != nil {
		return nil, err
	}
	return &writeBuffer[K, PK, V, PV]{
		pair:  pair,
		queue: isoqueue.New[record[K, V]](),
		mem:   mem,
		tree:  tree,
	}, nil
}

// Append queues one point. The caller serializes appends (one writer
// per database), making this the queue's single producer.
func (w *writeBuffer[K, PK, V, PV]) Append(k PK, v PV) {
	var rec record[K, V]
	k.CopyTo(&rec.k)
	v.CopyTo(&rec.v)
	w.queue.Enqueue(rec)
}

// SoftCommit drains the queue into the in-memory tree. Points become
// visible to reads started after it returns. It reports how many
// points it drained.
func (w *writeBuffer[K, PK, V, PV]) SoftCommit() (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for {
		rec, ok := w.queue.TryDequeue()
		if !ok {
			return n, nil
		}
		if err := w.tree.Insert(PK(&rec.k), PV(&rec.v)); err != nil {
			return n, err
		}
		n++
	}
}

// Count reports the buffered point count (committed to memory plus
// still queued).
func (w *writeBuffer[K, PK, V, PV]) Count() uint64 {
	w.mu.Lock()
	n := w.tree.Count()
	w.mu.Unlock()
	return n + uint64(w.queue.Count())
}

// snapshotRecords copies the in-memory tree's records out under the
// lock, for merging into reads and for the hard-commit spill.
func (w *writeBuffer[K, PK, V, PV]) snapshotRecords() ([]record[K, V], error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]record[K, V], 0, w.tree.Count())
	sc := w.tree.CreateScanner()
	var k K
	var v V
	for {
		ok, err := sc.Read(PK(&k), PV(&v))
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		var rec record[K, V]
		PK(&k).CopyTo(&rec.k)
		PV(&v).CopyTo(&rec.v)
		out = append(out, rec)
	}
}

// reset discards the in-memory tree after a successful hard commit.
func (w *writeBuffer[K, PK, V, PV]) reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.mem.Release()
	tree, err := sortedtree.New(w.mem, w.pair)
	if err != nil {
		return err
	}
	w.tree = tree
	return nil
}

// sliceSource adapts a sorted record slice to the merge contract.
type sliceSource[K any, PK points.KeyPtr[K], V any, PV points.ValuePtr[V]] struct {
	recs []record[K, V]
	pos  int
}

func (s *sliceSource[K, PK, V, PV]) SeekTo(k PK) error {
	s.pos = sort.Search(len(s.recs), func(i int) bool {
		return PK(&s.recs[i].k).CompareTo((*K)(k)) >= 0
	})
	return nil
}

func (s *sliceSource[K, PK, V, PV]) Read(outK PK, outV PV) (bool, error) {
	if s.pos >= len(s.recs) {
		return false, nil
	}
	PK(&s.recs[s.pos].k).CopyTo((*K)(outK))
	PV(&s.recs[s.pos].v).CopyTo((*V)(outV))
	s.pos++
	return true, nil
}
