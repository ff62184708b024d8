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
	"errors"

	"github.com/snapdb-project/snapdb/internal/points"
)

// ErrOutOfOrder is returned by Appender.Append when the caller breaks
// its strictly-ascending-keys guarantee.
var ErrOutOfOrder = errors.New("sortedtree: appended key not strictly ascending")

// Appender is the bulk sequential-load path: it fills leaves left to
// right, bubbling one separator into the sparse index each time the
// active leaf seals, and never revisits a finished leaf. It requires an
// empty tree and strictly ascending keys.
type Appender[K any, PK points.KeyPtr[K], V any, PV points.ValuePtr[V]] struct {
	t *Tree[K, PK, V, PV]

	curIdx  uint32
	ks      []K
	vs      []V
	lastKey K
	has     bool
	count   uint64
	done    bool
}

// NewAppender starts bulk loading into t, which must be freshly created
// and empty.
func NewAppender[K any, PK points.KeyPtr[K], V any, PV points.ValuePtr[V]](t *Tree[K, PK, V, PV]) (*Appender[K, PK, V, PV], error) {
	if t.hdr.RecordCount != 0 || t.hdr.RootLevel != 0 {
		return nil, errors.New("sortedtree: appender requires an empty tree")
	}
	return &Appender[K, PK, V, PV]{t: t, curIdx: t.hdr.RootIndex}, nil
}

// maxLeafRecords is the conservative per-leaf capacity: sealing happens
// once another worst-case record might not fit.
func (a *Appender[K, PK, V, PV]) maxLeafRecords() int {
	return (a.t.payloadLen - a.t.headerLen) / a.t.enc.MaxRecordSize()
}

// Append adds one record. Keys must be strictly ascending across the
// whole load.
func (a *Appender[K, PK, V, PV]) Append(k PK, v PV) error {
	if a.done {
		return errors.New("sortedtree: append after Finish")
	}
	if a.has && k.CompareTo(&a.lastKey) <= 0 {
		return ErrOutOfOrder
	}

	if len(a.ks) >= a.maxLeafRecords() {
		if err := a.rollLeaf(k); err != nil {
			return err
		}
	}

	var kc K
	var vc V
	k.CopyTo(&kc)
	v.CopyTo(&vc)
	a.ks = append(a.ks, kc)
	a.vs = append(a.vs, vc)
	k.CopyTo(&a.lastKey)
	a.has = true
	a.count++
	return nil
}

// rollLeaf seals the active leaf and opens a fresh right sibling whose
// first record will be sep; sep becomes the separator bubbled into the
// sparse index.
func (a *Appender[K, PK, V, PV]) rollLeaf(sep PK) error {
	nextIdx, err := a.t.store.Allocate(0)
	if err != nil {
		return err
	}

	// Seal the active leaf, preserving the left pointer and lower bound
	// stamped when it was opened.
	prev, prevHdr, err := a.t.readNode(a.curIdx)
	if err != nil {
		return err
	}
	payload := make([]byte, a.t.payloadLen)
	h := nodeHeader{Level: 0, RightSibling: nextIdx, LeftSibling: prevHdr.LeftSibling}
	a.t.ks, a.t.vs = a.ks, a.vs
	if !a.t.encodeLeaf(payload, &h, 0, len(a.ks)) {
		return ErrCorruptNode
	}
	copy(lowerBoundBytes(payload, a.t.keySize), lowerBoundBytes(prev, a.t.keySize))
	if err := a.t.putKeyBytes(upperBoundBytes(payload, a.t.keySize), sep); err != nil {
		return err
	}
	if err := a.t.store.WriteNode(a.curIdx, payload, 0); err != nil {
		return err
	}

	sealed := a.curIdx
	a.curIdx = nextIdx
	a.ks = a.ks[:0]
	a.vs = a.vs[:0]
	a.t.hdr.RightLeaf = nextIdx

	// Initialize the fresh leaf so a crash mid-load still leaves a
	// structurally valid chain.
	fresh := make([]byte, a.t.payloadLen)
	putNodeHeader(fresh, nodeHeader{Level: 0, LeftSibling: sealed, RightSibling: NilBlock})
	if err := a.t.putKeyBytes(lowerBoundBytes(fresh, a.t.keySize), sep); err != nil {
		return err
	}
	if err := a.t.store.WriteNode(nextIdx, fresh, 0); err != nil {
		return err
	}

	_, path, err := a.t.findLeaf(sep, nil)
	if err != nil {
		return err
	}
	return a.t.insertUpward(path, 1, sep, nextIdx)
}

// Finish seals the active leaf and installs the final record count.
// The appender must not be used afterwards.
func (a *Appender[K, PK, V, PV]) Finish() error {
	if a.done {
		return nil
	}
	a.done = true

	payload, h, err := a.t.readNode(a.curIdx)
	if err != nil {
		return err
	}
	fresh := make([]byte, a.t.payloadLen)
	nh := nodeHeader{Level: 0, LeftSibling: h.LeftSibling, RightSibling: NilBlock}
	a.t.ks, a.t.vs = a.ks, a.vs
	if !a.t.encodeLeaf(fresh, &nh, 0, len(a.ks)) {
		return ErrCorruptNode
	}
	copy(lowerBoundBytes(fresh, a.t.keySize), lowerBoundBytes(payload, a.t.keySize))
	if err := a.t.store.WriteNode(a.curIdx, fresh, 0); err != nil {
		return err
	}
	a.t.hdr.RecordCount = a.count
	return nil
}
