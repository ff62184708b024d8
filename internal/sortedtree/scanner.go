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

package sortedtree

import (
	"github.com/snapdb-project/snapdb/internal/binstream"
	"github.com/snapdb-project/snapdb/internal/points"
)

// Scanner walks a tree's leaf chain forward, one record per Read. It
// owns its decode state, so several scanners can run over one tree
// concurrently with each other (but not with a writer).
type Scanner[K any, PK points.KeyPtr[K], V any, PV points.ValuePtr[V]] struct {
	t *Tree[K, PK, V, PV]

	leaf    uint32
	right   uint32
	ks      []K
	vs      []V
	pos     int
	started bool
}

// CreateScanner returns a scanner positioned before the tree's first
// record.
func (t *Tree[K, PK, V, PV]) CreateScanner() *Scanner[K, PK, V, PV] {
	return &Scanner[K, PK, V, PV]{t: t, leaf: t.hdr.LeftLeaf, right: NilBlock}
}

// loadLeaf decodes leaf idx into the scanner's own buffers.
func (s *Scanner[K, PK, V, PV]) loadLeaf(idx uint32) error {
	payload, h, err := s.t.readNode(idx)
	if err != nil {
		return err
	}
	s.ks = s.ks[:0]
	s.vs = s.vs[:0]
	area := payload[s.t.headerLen : s.t.headerLen+int(h.ValidBytes)]
	in := binstream.NewBufferFrom(area)
	for i := 0; i < int(h.RecordCount); i++ {
		var pk PK
		var pv PV
		if i > 0 {
			pk, pv = PK(&s.ks[i-1]), PV(&s.vs[i-1])
		}
		var k K
		var v V
		if err := s.t.enc.Decode(in, pk, pv, PK(&k), PV(&v)); err != nil {
			return err
		}
		s.ks = append(s.ks, k)
		s.vs = append(s.vs, v)
	}
	s.leaf = idx
	s.right = h.RightSibling
	s.pos = 0
	s.started = true
	return nil
}

// SeekTo positions the scanner so the next Read returns the smallest
// record whose key is >= k.
func (s *Scanner[K, PK, V, PV]) SeekTo(k PK) error {
	leafIdx, _, err := s.t.findLeaf(k, nil)
	if err != nil {
		return err
	}
	if err := s.loadLeaf(leafIdx); err != nil {
		return err
	}
	lo, hi := 0, len(s.ks)
	for lo < hi {
		mid := (lo + hi) / 2
		if k.CompareTo(&s.ks[mid]) <= 0 {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	s.pos = lo
	return nil
}

// Read copies the next record into outK/outV, returning false at the
// end of the leaf chain.
func (s *Scanner[K, PK, V, PV]) Read(outK PK, outV PV) (bool, error) {
	if !s.started {
		if s.leaf == NilBlock {
			return false, nil
		}
		if err := s.loadLeaf(s.leaf); err != nil {
			return false, err
		}
	}
	for s.pos >= len(s.ks) {
		if s.right == NilBlock {
			return false, nil
		}
		if err := s.loadLeaf(s.right); err != nil {
			return false, err
		}
	}
	PK(&s.ks[s.pos]).CopyTo((*K)(outK))
	PV(&s.vs[s.pos]).CopyTo((*V)(outV))
	s.pos++
	return true, nil
}

// Peek reports the next record's key without consuming it.
func (s *Scanner[K, PK, V, PV]) Peek(outK PK) (bool, error) {
	if !s.started {
		if s.leaf == NilBlock {
			return false, nil
		}
		if err := s.loadLeaf(s.leaf); err != nil {
			return false, err
		}
	}
	for s.pos >= len(s.ks) {
		if s.right == NilBlock {
			return false, nil
		}
		if err := s.loadLeaf(s.right); err != nil {
			return false, err
		}
	}
	PK(&s.ks[s.pos]).CopyTo((*K)(outK))
	return true, nil
}
