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
	"container/heap"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/snapdb-project/snapdb/internal/points"
)

// mergeSource is one ordered record stream feeding the merge: an
// archive snapshot scanner or the in-memory write buffer.
type mergeSource[K any, PK points.KeyPtr[K], V any, PV points.ValuePtr[V]] interface {
	SeekTo(k PK) error
	Read(outK PK, outV PV) (bool, error)
}

type mergeEntry[K any, PK points.KeyPtr[K], V any, PV points.ValuePtr[V]] struct {
	k        K
	v        V
	priority uint64
	src      mergeSource[K, PK, V, PV]
}

type mergeHeap[K any, PK points.KeyPtr[K], V any, PV points.ValuePtr[V]] []*mergeEntry[K, PK, V, PV]

func (h mergeHeap[K, PK, V, PV]) Len() int { return len(h) }

func (h mergeHeap[K, PK, V, PV]) Less(i, j int) bool {
	c := PK(&h[i].k).CompareTo(&h[j].k)
	if c != 0 {
		return c < 0
	}
	// Equal keys: the newest attach wins, so it must surface first.
	return h[i].priority > h[j].priority
}

func (h mergeHeap[K, PK, V, PV]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *mergeHeap[K, PK, V, PV]) Push(x any) {
	*h = append(*h, x.(*mergeEntry[K, PK, V, PV]))
}

func (h *mergeHeap[K, PK, V, PV]) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// MergingReader is a heap-ordered multi-way merge across one record
// source per attached archive plus the write buffer, visiting only the
// ranges the seek filter yields and dropping records the match filter
// or access predicates reject. Duplicate keys resolve to the source
// with the newest attach sequence.
type MergingReader[K any, PK points.KeyPtr[K], V any, PV points.ValuePtr[V]] struct {
	sources  []*mergeEntry[K, PK, V, PV]
	h        mergeHeap[K, PK, V, PV]
	seek     SeekFilter[K, PK]
	match    MatchFilter[K, PK, V, PV]
	access   *AccessControl[K, PK, V, PV]
	user     string
	deadline time.Time
	maxPts   uint64
	emitted  uint64

	curEnd   K
	inRange  bool
	closeFns []func()
	closed   bool
}

func newMergingReader[K any, PK points.KeyPtr[K], V any, PV points.ValuePtr[V]](
	sources []mergeSource[K, PK, V, PV],
	priorities []uint64,
	seek SeekFilter[K, PK],
	match MatchFilter[K, PK, V, PV],
	access *AccessControl[K, PK, V, PV],
	user string,
	opts ReaderOptions,
	closeFns []func(),
) *MergingReader[K, PK, V, PV] {
	mr := &MergingReader[K, PK, V, PV]{
		seek:     seek,
		match:    match,
		access:   access,
		user:     user,
		deadline: opts.deadline(time.Now()),
		maxPts:   opts.MaxPoints,
		closeFns: closeFns,
	}
	for i, src := range sources {
		mr.sources = append(mr.sources, &mergeEntry[K, PK, V, PV]{src: src, priority: priorities[i]})
	}
	return mr
}

// advanceRange pulls the next seek range, re-seeks every source to its
// start in parallel, and rebuilds the heap from each source's first
// record. It returns false when the filter is exhausted.
func (mr *MergingReader[K, PK, V, PV]) advanceRange() (bool, error) {
	for {
		var start, end K
		if !mr.seek.Next(PK(&start), PK(&end)) {
			return false, nil
		}
		if mr.access != nil && mr.access.UserCanSeek != nil && !mr.access.UserCanSeek(mr.user, PK(&start)) {
			// Rejected at the range boundary: the whole range drops.
			continue
		}

		var g errgroup.Group
		for _, e := range mr.sources {
			e := e
			g.Go(func() error { return e.src.SeekTo(PK(&start)) })
		}
		if err := g.Wait(); err != nil {
			return false, err
		}

		mr.h = mr.h[:0]
		for _, e := range mr.sources {
			ok, err := e.src.Read(PK(&e.k), PV(&e.v))
			if err != nil {
				return false, err
			}
			if ok {
				mr.h = append(mr.h, e)
			}
		}
		heap.Init(&mr.h)
		mr.curEnd = end
		mr.inRange = true
		return true, nil
	}
}

// step advances entry e to its next record, restoring the heap.
func (mr *MergingReader[K, PK, V, PV]) step(e *mergeEntry[K, PK, V, PV]) error {
	ok, err := e.src.Read(PK(&e.k), PV(&e.v))
	if err != nil {
		return err
	}
	if ok {
		heap.Push(&mr.h, e)
	}
	return nil
}

// Next yields the next merged, filtered record; false means the read
// is complete (filter exhausted, deadline passed, or point cap hit).
func (mr *MergingReader[K, PK, V, PV]) Next(outK PK, outV PV) (bool, error) {
	if mr.closed {
		return false, nil
	}
	for {
		if mr.maxPts > 0 && mr.emitted >= mr.maxPts {
			return false, nil
		}
		if !mr.deadline.IsZero() && time.Now().After(mr.deadline) {
			return false, nil
		}

		if !mr.inRange {
			ok, err := mr.advanceRange()
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}

		if mr.h.Len() == 0 {
			mr.inRange = false
			continue
		}

		top := mr.h[0]
		if PK(&top.k).CompareTo(&mr.curEnd) >= 0 {
			// Every remaining buffered key sits past the range end;
			// move to the next range.
			mr.inRange = false
			continue
		}

		winner := heap.Pop(&mr.h).(*mergeEntry[K, PK, V, PV])
		var k K
		var v V
		PK(&winner.k).CopyTo(&k)
		PV(&winner.v).CopyTo(&v)
		if err := mr.step(winner); err != nil {
			return false, err
		}

		// Discard older duplicates of the emitted key.
		for mr.h.Len() > 0 && PK(&mr.h[0].k).CompareTo(&k) == 0 {
			dup := heap.Pop(&mr.h).(*mergeEntry[K, PK, V, PV])
			if err := mr.step(dup); err != nil {
				return false, err
			}
		}

		if mr.match != nil && !mr.match.Matches(PK(&k), PV(&v)) {
			continue
		}
		if mr.access != nil && mr.access.UserCanMatch != nil && !mr.access.UserCanMatch(mr.user, PK(&k), PV(&v)) {
			continue
		}

		PK(&k).CopyTo((*K)(outK))
		PV(&v).CopyTo((*V)(outV))
		mr.emitted++
		return true, nil
	}
}

// Emitted reports how many records Next has yielded.
func (mr *MergingReader[K, PK, V, PV]) Emitted() uint64 { return mr.emitted }

// Close releases every pinned snapshot and archive reference.
func (mr *MergingReader[K, PK, V, PV]) Close() {
	if mr.closed {
		return
	}
	mr.closed = true
	for _, fn := range mr.closeFns {
		fn()
	}
}
