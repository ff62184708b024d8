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
	"sync"

	"github.com/snapdb-project/snapdb/internal/pagepool"
)

// NilBlock is the sibling-pointer and child-pointer sentinel. Block 0
// and NilBlock are never valid node addresses.
const NilBlock uint32 = 0xFFFFFFFF

// BlockStore is the node-granularity storage a tree grows in. The
// archive layer provides a disk-backed implementation over an archive
// file's blocks; MemoryStore backs the engine's in-memory write buffer.
type BlockStore interface {
	// PayloadLen is the usable bytes per node.
	PayloadLen() int
	// ReadNode copies node idx's payload into dst, which must be at
	// least PayloadLen bytes.
	ReadNode(idx uint32, dst []byte) error
	// WriteNode persists payload as node idx. level distinguishes leaf
	// (0) from branch nodes for stores that type their blocks.
	WriteNode(idx uint32, payload []byte, level uint8) error
	// Allocate reserves a fresh node address.
	Allocate(level uint8) (uint32, error)
	// Free returns a node address for eventual reuse.
	Free(idx uint32) error
}

// MemoryStore keeps nodes on pagepool pages. It backs the engine's
// in-memory archive, where points live between soft commits and the
// hard commit that spills them to disk.
type MemoryStore struct {
	mu    sync.Mutex
	pool  *pagepool.Pool
	nodes map[uint32]*pagepool.Page
	next  uint32
}

// NewMemoryStore returns a store holding one node per page from pool;
// the node payload length is the pool's page size.
func NewMemoryStore(pool *pagepool.Pool) *MemoryStore {
	return &MemoryStore{
		pool:  pool,
		nodes: make(map[uint32]*pagepool.Page),
		next:  1,
	}
}

func (m *MemoryStore) PayloadLen() int { return m.pool.PageSize() }

func (m *MemoryStore) ReadNode(idx uint32, dst []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pg, ok := m.nodes[idx]
	if !ok {
		return ErrNodeNotFound
	}
	copy(dst[:m.pool.PageSize()], pg.Bytes())
	return nil
}

func (m *MemoryStore) WriteNode(idx uint32, payload []byte, _ uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pg, ok := m.nodes[idx]
	if !ok {
		return ErrNodeNotFound
	}
	copy(pg.Bytes(), payload[:m.pool.PageSize()])
	return nil
}

func (m *MemoryStore) Allocate(_ uint8) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.next
	m.next++
	pg, _ := m.pool.Get()
	m.nodes[idx] = pg
	return idx, nil
}

func (m *MemoryStore) Free(idx uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pg, ok := m.nodes[idx]; ok {
		delete(m.nodes, idx)
		m.pool.Put(pg)
	}
	return nil
}

// Release returns every page to the pool, emptying the store.
func (m *MemoryStore) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for idx, pg := range m.nodes {
		delete(m.nodes, idx)
		m.pool.Put(pg)
	}
	m.next = 1
}
