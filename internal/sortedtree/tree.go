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

// Package sortedtree implements the B+tree variant every archive is
// built around: leaf and branch nodes living in fixed-size blocks, a
// sparse index of branch nodes spanning the tree height, pluggable
// record codecs for the leaf payload, and forward scanners over the
// doubly-linked leaf chain.
package sortedtree

import (
	"fmt"

	"github.com/snapdb-project/snapdb/internal/binstream"
	"github.com/snapdb-project/snapdb/internal/points"
	"github.com/snapdb-project/snapdb/internal/sortedtree/encoding"
)

// Header is the tree's root state, persisted by the owning archive
// table alongside the sub-file entry.
type Header struct {
	RootIndex   uint32
	RootLevel   uint8
	LeftLeaf    uint32
	RightLeaf   uint32
	RecordCount uint64
}

// Encode writes the header's fixed image.
func (h Header) Encode(w binstream.Stream) error {
	if err := w.WriteU32(h.RootIndex); err != nil {
		return err
	}
	if err := w.WriteU8(h.RootLevel); err != nil {
		return err
	}
	if err := w.WriteU32(h.LeftLeaf); err != nil {
		return err
	}
	if err := w.WriteU32(h.RightLeaf); err != nil {
		return err
	}
	return w.WriteU64(h.RecordCount)
}

// DecodeHeader reads back a header written by Encode.
func DecodeHeader(r binstream.Stream) (Header, error) {
	var h Header
	var err error
	if h.RootIndex, err = r.ReadU32(); err != nil {
		return h, err
	}
	if h.RootLevel, err = r.ReadU8(); err != nil {
		return h, err
	}
	if h.LeftLeaf, err = r.ReadU32(); err != nil {
		return h, err
	}
	if h.RightLeaf, err = r.ReadU32(); err != nil {
		return h, err
	}
	h.RecordCount, err = r.ReadU64()
	return h, err
}

// Tree is an ordered map of K to V with unique keys, its nodes stored
// in a BlockStore. It is not internally synchronized: the owning layer
// serializes writers and decides when concurrent readers are safe.
type Tree[K any, PK points.KeyPtr[K], V any, PV points.ValuePtr[V]] struct {
	store BlockStore
	enc   encoding.Pair[K, PK, V, PV]
	hdr   Header

	keySize    int
	payloadLen int
	headerLen  int

	// decode/encode scratch, reused across operations
	ks []K
	vs []V
}

// New creates an empty tree in store: a single leaf node that is both
// root and the whole leaf chain.
func New[K any, PK points.KeyPtr[K], V any, PV points.ValuePtr[V]](store BlockStore, enc encoding.Pair[K, PK, V, PV]) (*Tree[K, PK, V, PV], error) {
	t := newTree[K, PK, V, PV](store, enc)
	rootIdx, err := store.Allocate(0)
	if err != nil {
		return nil, err
	}
	payload := make([]byte, t.payloadLen)
	putNodeHeader(payload, nodeHeader{Level: 0, LeftSibling: NilBlock, RightSibling: NilBlock})
	if err := store.WriteNode(rootIdx, payload, 0); err != nil {
		return nil, err
	}
	t.hdr = Header{RootIndex: rootIdx, RootLevel: 0, LeftLeaf: rootIdx, RightLeaf: rootIdx}
	return t, nil
}

// Load opens an existing tree whose root state is hdr.
func Load[K any, PK points.KeyPtr[K], V any, PV points.ValuePtr[V]](store BlockStore, enc encoding.Pair[K, PK, V, PV], hdr Header) *Tree[K, PK, V, PV] {
	t := newTree[K, PK, V, PV](store, enc)
	t.hdr = hdr
	return t
}

func newTree[K any, PK points.KeyPtr[K], V any, PV points.ValuePtr[V]](store BlockStore, enc encoding.Pair[K, PK, V, PV]) *Tree[K, PK, V, PV] {
	var k K
	t := &Tree[K, PK, V, PV]{
		store:      store,
		enc:        enc,
		keySize:    PK(&k).Size(),
		payloadLen: store.PayloadLen(),
	}
	t.headerLen = nodeHeaderLen(t.keySize)
	if t.headerLen+enc.MaxRecordSize() > t.payloadLen {
		panic(fmt.Sprintf("sortedtree: block payload %d too small for key size %d", t.payloadLen, t.keySize))
	}
	return t
}

// Header returns the current root state for persisting.
func (t *Tree[K, PK, V, PV]) Header() Header { return t.hdr }

// Count returns the number of records in the tree.
func (t *Tree[K, PK, V, PV]) Count() uint64 { return t.hdr.RecordCount }

// Encoding returns the active record codec.
func (t *Tree[K, PK, V, PV]) Encoding() encoding.Pair[K, PK, V, PV] { return t.enc }

func (t *Tree[K, PK, V, PV]) readNode(idx uint32) ([]byte, nodeHeader, error) {
	payload := make([]byte, t.payloadLen)
	if err := t.store.ReadNode(idx, payload); err != nil {
		return nil, nodeHeader{}, err
	}
	h, err := parseNodeHeader(payload)
	if err != nil {
		return nil, nodeHeader{}, err
	}
	if int(h.ValidBytes) > t.payloadLen-t.headerLen {
		return nil, nodeHeader{}, ErrCorruptNode
	}
	return payload, h, nil
}

// --- leaf record area ---

// decodeLeaf fills t.ks/t.vs with the node's records.
func (t *Tree[K, PK, V, PV]) decodeLeaf(payload []byte, h nodeHeader) error {
	t.ks = t.ks[:0]
	t.vs = t.vs[:0]
	area := payload[t.headerLen : t.headerLen+int(h.ValidBytes)]
	in := binstream.NewBufferFrom(area)
	for i := 0; i < int(h.RecordCount); i++ {
		var pk PK
		var pv PV
		if i > 0 {
			pk, pv = PK(&t.ks[i-1]), PV(&t.vs[i-1])
		}
		var k K
		var v V
		if err := t.enc.Decode(in, pk, pv, PK(&k), PV(&v)); err != nil {
			return err
		}
		t.ks = append(t.ks, k)
		t.vs = append(t.vs, v)
	}
	return nil
}

// encodeLeaf writes t.ks[from:to] into payload's record area, returning
// false without touching the header when the run cannot fit.
func (t *Tree[K, PK, V, PV]) encodeLeaf(payload []byte, h *nodeHeader, from, to int) bool {
	area := payload[t.headerLen:]
	out := binstream.NewView(area, nil)
	for i := from; i < to; i++ {
		if int(out.Position())+t.enc.MaxRecordSize() > len(area) {
			return false
		}
		var pk PK
		var pv PV
		if i > from {
			pk, pv = PK(&t.ks[i-1]), PV(&t.vs[i-1])
		}
		if err := t.enc.Encode(out, pk, pv, PK(&t.ks[i]), PV(&t.vs[i])); err != nil {
			return false
		}
	}
	h.RecordCount = uint16(to - from)
	h.ValidBytes = uint16(out.Position())
	putNodeHeader(payload, *h)
	return true
}

// searchKeys binary-searches t.ks for k, returning the insertion point
// and whether an exact match sits there.
func (t *Tree[K, PK, V, PV]) searchKeys(k PK) (int, bool) {
	lo, hi := 0, len(t.ks)
	for lo < hi {
		mid := (lo + hi) / 2
		c := k.CompareTo(&t.ks[mid])
		if c == 0 {
			return mid, true
		}
		if c < 0 {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo, false
}

// --- lookups ---

// TryGet performs an exact-match lookup.
func (t *Tree[K, PK, V, PV]) TryGet(k PK, v PV) (bool, error) {
	leafIdx, _, err := t.findLeaf(k, nil)
	if err != nil {
		return false, err
	}
	payload, h, err := t.readNode(leafIdx)
	if err != nil {
		return false, err
	}
	if err := t.decodeLeaf(payload, h); err != nil {
		return false, err
	}
	pos, exact := t.searchKeys(k)
	if !exact {
		return false, nil
	}
	PV(&t.vs[pos]).CopyTo((*V)(v))
	return true, nil
}

// GetOrGetNext returns the smallest record whose key is >= k, walking
// right across the leaf chain when k falls past a leaf's last record.
func (t *Tree[K, PK, V, PV]) GetOrGetNext(k PK, outK PK, outV PV) (bool, error) {
	leafIdx, _, err := t.findLeaf(k, nil)
	if err != nil {
		return false, err
	}
	for leafIdx != NilBlock {
		payload, h, err := t.readNode(leafIdx)
		if err != nil {
			return false, err
		}
		if err := t.decodeLeaf(payload, h); err != nil {
			return false, err
		}
		pos, _ := t.searchKeys(k)
		if pos < len(t.ks) {
			PK(&t.ks[pos]).CopyTo((*K)(outK))
			PV(&t.vs[pos]).CopyTo((*V)(outV))
			return true, nil
		}
		leafIdx = h.RightSibling
	}
	return false, nil
}

// TryGetFirstRecord returns the tree's smallest record.
func (t *Tree[K, PK, V, PV]) TryGetFirstRecord(outK PK, outV PV) (bool, error) {
	idx := t.hdr.LeftLeaf
	for idx != NilBlock {
		payload, h, err := t.readNode(idx)
		if err != nil {
			return false, err
		}
		if h.RecordCount > 0 {
			if err := t.decodeLeaf(payload, h); err != nil {
				return false, err
			}
			PK(&t.ks[0]).CopyTo((*K)(outK))
			PV(&t.vs[0]).CopyTo((*V)(outV))
			return true, nil
		}
		idx = h.RightSibling
	}
	return false, nil
}

// TryGetLastRecord returns the tree's largest record.
func (t *Tree[K, PK, V, PV]) TryGetLastRecord(outK PK, outV PV) (bool, error) {
	idx := t.hdr.RightLeaf
	for idx != NilBlock {
		payload, h, err := t.readNode(idx)
		if err != nil {
			return false, err
		}
		if h.RecordCount > 0 {
			if err := t.decodeLeaf(payload, h); err != nil {
				return false, err
			}
			n := len(t.ks)
			PK(&t.ks[n-1]).CopyTo((*K)(outK))
			PV(&t.vs[n-1]).CopyTo((*V)(outV))
			return true, nil
		}
		idx = h.LeftSibling
	}
	return false, nil
}

// --- insert ---

// Insert adds or overwrites one record. Keys are unique: inserting an
// existing key replaces its value (the merging reader then sees the
// newest write, and within a commit the last writer wins).
func (t *Tree[K, PK, V, PV]) Insert(k PK, v PV) error {
	var path []pathEntry
	leafIdx, path, err := t.findLeaf(k, path)
	if err != nil {
		return err
	}
	payload, h, err := t.readNode(leafIdx)
	if err != nil {
		return err
	}
	if err := t.decodeLeaf(payload, h); err != nil {
		return err
	}
	pos, exact := t.searchKeys(k)
	if exact {
		v.CopyTo(&t.vs[pos])
		if !t.encodeLeaf(payload, &h, 0, len(t.ks)) {
			return ErrCorruptNode
		}
		return t.store.WriteNode(leafIdx, payload, 0)
	}

	// Make room at pos.
	t.ks = append(t.ks, *new(K))
	t.vs = append(t.vs, *new(V))
	copy(t.ks[pos+1:], t.ks[pos:])
	copy(t.vs[pos+1:], t.vs[pos:])
	k.CopyTo(&t.ks[pos])
	v.CopyTo(&t.vs[pos])

	if t.encodeLeaf(payload, &h, 0, len(t.ks)) {
		if err := t.store.WriteNode(leafIdx, payload, 0); err != nil {
			return err
		}
		t.hdr.RecordCount++
		return nil
	}

	if err := t.splitLeaf(leafIdx, payload, h, path); err != nil {
		return err
	}
	t.hdr.RecordCount++
	return nil
}

// splitLeaf distributes t.ks/t.vs (which hold the over-full record run,
// new record already placed) across leafIdx and a fresh right sibling,
// then pushes the separator one level up.
func (t *Tree[K, PK, V, PV]) splitLeaf(leafIdx uint32, payload []byte, h nodeHeader, path []pathEntry) error {
	n := len(t.ks)
	mid := n / 2
	sep := t.ks[mid]

	rightIdx, err := t.store.Allocate(0)
	if err != nil {
		return err
	}

	rightPayload := make([]byte, t.payloadLen)
	rh := nodeHeader{Level: 0, LeftSibling: leafIdx, RightSibling: h.RightSibling}
	if !t.encodeLeaf(rightPayload, &rh, mid, n) {
		return ErrCorruptNode
	}
	// Bounds: right covers [sep, old upper); left narrows to [lower, sep).
	copy(upperBoundBytes(rightPayload, t.keySize), upperBoundBytes(payload, t.keySize))
	if err := t.putKeyBytes(lowerBoundBytes(rightPayload, t.keySize), PK(&sep)); err != nil {
		return err
	}

	oldRight := h.RightSibling
	h.RightSibling = rightIdx
	if !t.encodeLeaf(payload, &h, 0, mid) {
		return ErrCorruptNode
	}
	if err := t.putKeyBytes(upperBoundBytes(payload, t.keySize), PK(&sep)); err != nil {
		return err
	}

	if err := t.store.WriteNode(rightIdx, rightPayload, 0); err != nil {
		return err
	}
	if err := t.store.WriteNode(leafIdx, payload, 0); err != nil {
		return err
	}

	if oldRight != NilBlock {
		if err := t.patchLeftSibling(oldRight, rightIdx); err != nil {
			return err
		}
	} else {
		t.hdr.RightLeaf = rightIdx
	}

	return t.insertUpward(path, 1, PK(&sep), rightIdx)
}

func (t *Tree[K, PK, V, PV]) patchLeftSibling(idx, newLeft uint32) error {
	payload, h, err := t.readNode(idx)
	if err != nil {
		return err
	}
	h.LeftSibling = newLeft
	putNodeHeader(payload, h)
	return t.store.WriteNode(idx, payload, h.Level)
}

// putKeyBytes serializes k into dst, which must be exactly keySize long.
func (t *Tree[K, PK, V, PV]) putKeyBytes(dst []byte, k PK) error {
	return k.WriteTo(binstream.NewView(dst, nil))
}

func (t *Tree[K, PK, V, PV]) readKeyBytes(src []byte, k PK) error {
	return k.ReadFrom(binstream.NewView(src, nil))
}

// IsKeyInsideBounds reports whether k falls in the node's half-open
// [lower, upper) range; an all-zero upper image means unbounded.
func (t *Tree[K, PK, V, PV]) IsKeyInsideBounds(payload []byte, k PK) (bool, error) {
	var bound K
	lower := lowerBoundBytes(payload, t.keySize)
	if !allZero(lower) {
		if err := t.readKeyBytes(lower, PK(&bound)); err != nil {
			return false, err
		}
		if k.CompareTo(&bound) < 0 {
			return false, nil
		}
	}
	upper := upperBoundBytes(payload, t.keySize)
	if !allZero(upper) {
		if err := t.readKeyBytes(upper, PK(&bound)); err != nil {
			return false, err
		}
		if k.CompareTo(&bound) >= 0 {
			return false, nil
		}
	}
	return true, nil
}
