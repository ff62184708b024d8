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

import "encoding/binary"

// Branch (internal) nodes form the sparse index. Their record area is a
// first-child pointer followed by fixed-size (separator key, child)
// entries, kept sorted by separator. The subtree under an entry's child
// holds keys in [separator, next separator); keys below the first
// separator descend through the first-child pointer.

func (t *Tree[K, PK, V, PV]) branchEntrySize() int { return t.keySize + 4 }

func (t *Tree[K, PK, V, PV]) branchMaxEntries() int {
	return (t.payloadLen - t.headerLen - 4) / t.branchEntrySize()
}

func branchFirstChild(payload []byte, headerLen int) uint32 {
	return binary.LittleEndian.Uint32(payload[headerLen : headerLen+4])
}

func putBranchFirstChild(payload []byte, headerLen int, child uint32) {
	binary.LittleEndian.PutUint32(payload[headerLen:headerLen+4], child)
}

func (t *Tree[K, PK, V, PV]) branchEntryOff(i int) int {
	return t.headerLen + 4 + i*t.branchEntrySize()
}

func (t *Tree[K, PK, V, PV]) branchEntryKey(payload []byte, i int, k PK) error {
	off := t.branchEntryOff(i)
	return t.readKeyBytes(payload[off:off+t.keySize], k)
}

func (t *Tree[K, PK, V, PV]) branchEntryChild(payload []byte, i int) uint32 {
	off := t.branchEntryOff(i) + t.keySize
	return binary.LittleEndian.Uint32(payload[off : off+4])
}

// branchSearch returns the number of separators <= k, i.e. the entry
// index to descend through minus... a result of 0 means descend through
// the first-child pointer, i > 0 means entry i-1's child.
func (t *Tree[K, PK, V, PV]) branchSearch(payload []byte, h nodeHeader, k PK) (int, error) {
	var sep K
	lo, hi := 0, int(h.RecordCount)
	for lo < hi {
		mid := (lo + hi) / 2
		if err := t.branchEntryKey(payload, mid, PK(&sep)); err != nil {
			return 0, err
		}
		if k.CompareTo(&sep) < 0 {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo, nil
}

// branchChildFor picks the child covering k's half-open range.
func (t *Tree[K, PK, V, PV]) branchChildFor(payload []byte, h nodeHeader, k PK) (uint32, error) {
	i, err := t.branchSearch(payload, h, k)
	if err != nil {
		return 0, err
	}
	if i == 0 {
		return branchFirstChild(payload, t.headerLen), nil
	}
	return t.branchEntryChild(payload, i-1), nil
}

// branchInsert places (sep, child) in sorted position, shifting later
// entries right. Returns false when the node is at capacity.
func (t *Tree[K, PK, V, PV]) branchInsert(payload []byte, h *nodeHeader, sep PK, child uint32) (bool, error) {
	n := int(h.RecordCount)
	if n >= t.branchMaxEntries() {
		return false, nil
	}
	pos, err := t.branchSearch(payload, *h, sep)
	if err != nil {
		return false, err
	}
	entrySize := t.branchEntrySize()
	start := t.branchEntryOff(pos)
	end := t.branchEntryOff(n)
	copy(payload[start+entrySize:end+entrySize], payload[start:end])
	if err := t.putKeyBytes(payload[start:start+t.keySize], sep); err != nil {
		return false, err
	}
	binary.LittleEndian.PutUint32(payload[start+t.keySize:start+t.keySize+4], child)
	h.RecordCount = uint16(n + 1)
	h.ValidBytes = uint16(4 + (n+1)*entrySize)
	putNodeHeader(payload, *h)
	return true, nil
}

// pathEntry records one branch visited on the way to a leaf.
type pathEntry struct {
	idx   uint32
	level uint8
}

// findLeaf walks the sparse index from the root down to the leaf whose
// half-open range contains k. When path is non-nil it is filled with
// the visited branches, top-down.
func (t *Tree[K, PK, V, PV]) findLeaf(k PK, path []pathEntry) (uint32, []pathEntry, error) {
	idx := t.hdr.RootIndex
	level := t.hdr.RootLevel
	for level > 0 {
		payload, h, err := t.readNode(idx)
		if err != nil {
			return 0, path, err
		}
		if h.Level != level {
			return 0, path, ErrCorruptNode
		}
		path = append(path, pathEntry{idx: idx, level: level})
		child, err := t.branchChildFor(payload, h, k)
		if err != nil {
			return 0, path, err
		}
		idx = child
		level--
	}
	return idx, path, nil
}

// insertUpward inserts (sep, rightChild) into the branch at the given
// level, splitting upward recursively; a root split grows the tree by
// one level.
func (t *Tree[K, PK, V, PV]) insertUpward(path []pathEntry, level uint8, sep PK, rightChild uint32) error {
	var branchIdx uint32 = NilBlock
	for _, pe := range path {
		if pe.level == level {
			branchIdx = pe.idx
			break
		}
	}

	if branchIdx == NilBlock {
		// No branch at this level: the root itself split. Grow the tree.
		newRootIdx, err := t.store.Allocate(level)
		if err != nil {
			return err
		}
		payload := make([]byte, t.payloadLen)
		h := nodeHeader{Level: level, LeftSibling: NilBlock, RightSibling: NilBlock, ValidBytes: 4}
		putBranchFirstChild(payload, t.headerLen, t.hdr.RootIndex)
		putNodeHeader(payload, h)
		if _, err := t.branchInsert(payload, &h, sep, rightChild); err != nil {
			return err
		}
		if err := t.store.WriteNode(newRootIdx, payload, level); err != nil {
			return err
		}
		t.hdr.RootIndex = newRootIdx
		t.hdr.RootLevel = level
		return nil
	}

	payload, h, err := t.readNode(branchIdx)
	if err != nil {
		return err
	}
	ok, err := t.branchInsert(payload, &h, sep, rightChild)
	if err != nil {
		return err
	}
	if ok {
		return t.store.WriteNode(branchIdx, payload, level)
	}
	return t.splitBranch(branchIdx, payload, h, path, sep, rightChild)
}

// splitBranch splits a full branch at its median entry, promoting the
// median separator one level up, then retries the pending insert on
// whichever half now covers it.
func (t *Tree[K, PK, V, PV]) splitBranch(branchIdx uint32, payload []byte, h nodeHeader, path []pathEntry, pendingSep PK, pendingChild uint32) error {
	n := int(h.RecordCount)
	mid := n / 2
	entrySize := t.branchEntrySize()

	var promoted K
	if err := t.branchEntryKey(payload, mid, PK(&promoted)); err != nil {
		return err
	}
	midChild := t.branchEntryChild(payload, mid)

	rightIdx, err := t.store.Allocate(h.Level)
	if err != nil {
		return err
	}
	rightPayload := make([]byte, t.payloadLen)
	rightCount := n - mid - 1
	rh := nodeHeader{
		Level:        h.Level,
		RecordCount:  uint16(rightCount),
		ValidBytes:   uint16(4 + rightCount*entrySize),
		LeftSibling:  branchIdx,
		RightSibling: h.RightSibling,
	}
	putBranchFirstChild(rightPayload, t.headerLen, midChild)
	copy(rightPayload[t.headerLen+4:], payload[t.branchEntryOff(mid+1):t.branchEntryOff(n)])
	putNodeHeader(rightPayload, rh)

	h.RecordCount = uint16(mid)
	h.ValidBytes = uint16(4 + mid*entrySize)
	h.RightSibling = rightIdx
	putNodeHeader(payload, h)

	// Route the pending entry to the half that now covers it.
	targetPayload, targetHdr := payload, &h
	if pendingSep.CompareTo(&promoted) >= 0 {
		targetPayload, targetHdr = rightPayload, &rh
	}
	ok, err := t.branchInsert(targetPayload, targetHdr, pendingSep, pendingChild)
	if err != nil {
		return err
	}
	if !ok {
		return ErrCorruptNode
	}

	if err := t.store.WriteNode(branchIdx, payload, h.Level); err != nil {
		return err
	}
	if err := t.store.WriteNode(rightIdx, rightPayload, rh.Level); err != nil {
		return err
	}

	return t.insertUpward(path, h.Level+1, PK(&promoted), rightIdx)
}
