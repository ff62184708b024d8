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
	"sync"
	"sync/atomic"

	"github.com/snapdb-project/snapdb/internal/archive"
	"github.com/snapdb-project/snapdb/internal/points"
)

// attachedArchive is one archive bound into a database's read set.
// Sequence orders archives by attach time: the merging reader resolves
// duplicate keys in favor of the highest sequence.
type attachedArchive[K any, PK points.KeyPtr[K], V any, PV points.ValuePtr[V]] struct {
	Path     string
	Table    *archive.Table[K, PK, V, PV]
	Sequence uint64

	// refs counts in-flight readers; once detached and unreferenced,
	// releaseOnce lets the file close exactly once.
	refs        atomic.Int64
	detached    atomic.Bool
	releaseOnce sync.Once
}

// archiveList is the copy-on-write collection of attached archives:
// mutations build a fresh slice under a short lock and publish it
// atomically; readers grab the current slice and never observe a torn
// state.
type archiveList[K any, PK points.KeyPtr[K], V any, PV points.ValuePtr[V]] struct {
	mu      sync.Mutex
	current atomic.Pointer[[]*attachedArchive[K, PK, V, PV]]
	nextSeq uint64
}

func newArchiveList[K any, PK points.KeyPtr[K], V any, PV points.ValuePtr[V]]() *archiveList[K, PK, V, PV] {
	l := &archiveList[K, PK, V, PV]{}
	empty := []*attachedArchive[K, PK, V, PV]{}
	l.current.Store(&empty)
	return l
}

// Snapshot returns the current immutable attach set.
func (l *archiveList[K, PK, V, PV]) Snapshot() []*attachedArchive[K, PK, V, PV] {
	return *l.current.Load()
}

// Attach adds table to the read set.
func (l *archiveList[K, PK, V, PV]) Attach(path string, table *archive.Table[K, PK, V, PV]) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextSeq++
	old := *l.current.Load()
	next := make([]*attachedArchive[K, PK, V, PV], len(old), len(old)+1)
	copy(next, old)
	next = append(next, &attachedArchive[K, PK, V, PV]{Path: path, Table: table, Sequence: l.nextSeq})
	l.current.Store(&next)
}

// Detach removes the archive at path, returning it for release.
func (l *archiveList[K, PK, V, PV]) Detach(path string) *attachedArchive[K, PK, V, PV] {
	l.mu.Lock()
	defer l.mu.Unlock()
	old := *l.current.Load()
	var removed *attachedArchive[K, PK, V, PV]
	next := make([]*attachedArchive[K, PK, V, PV], 0, len(old))
	for _, a := range old {
		if a.Path == path && removed == nil {
			removed = a
			continue
		}
		next = append(next, a)
	}
	l.current.Store(&next)
	return removed
}

// Len reports the current attach count.
func (l *archiveList[K, PK, V, PV]) Len() int {
	return len(*l.current.Load())
}
