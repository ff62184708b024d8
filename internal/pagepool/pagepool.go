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

// Package pagepool implements the fixed-size page allocator
// that backs every block-sized buffer in the file-structure layer. Pages
// are recycled rather than freed to the garbage collector, and every
// hand-out is stamped with a pointer-version token so a consumer that
// stashed a *Page across a later Put/Get cycle can detect that its bytes
// were recycled out from under it.
package pagepool

import "sync"

// Page is one fixed-size, pool-owned buffer. Its Bytes are only valid
// between a Get that returned it and the matching Put; holding a Page
// across further pool activity without checking Generation is a bug.
type Page struct {
	buf []byte
	gen uint64
}

// Bytes returns the page's backing buffer, sized exactly to the pool's
// page size.
func (p *Page) Bytes() []byte { return p.buf }

// Generation returns the pointer-version token stamped on this handle at
// the time it was issued. A holder of a Page can detect that it was
// recycled by comparing this value against the current generation the
// pool would stamp on a fresh Get of the same underlying slot — callers
// that need this guarantee should keep the token returned by Pool.Get
// rather than reaching into the Page directly.
func (p *Page) Generation() uint64 { return p.gen }

// Pool is a thread-safe allocator of fixed-size pages. It never shrinks;
// recycled pages are kept on a free list and reissued with a bumped
// generation counter.
type Pool struct {
	pageSize int

	mu      sync.Mutex
	free    []*Page
	nextGen uint64
	live    int
	issued  int
}

// New returns a Pool handing out pages of exactly pageSize bytes.
func New(pageSize int) *Pool {
	if pageSize <= 0 {
		panic("pagepool: pageSize must be positive")
	}
	return &Pool{pageSize: pageSize}
}

// PageSize returns the fixed page size this pool was constructed with.
func (p *Pool) PageSize() int { return p.pageSize }

// Get returns a zeroed page and its current generation token. The
// returned Page must be returned via Put when the caller is done; it is
// always aligned to the pool's page size.
func (p *Pool) Get() (*Page, uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var pg *Page
	if n := len(p.free); n > 0 {
		pg = p.free[n-1]
		p.free = p.free[:n-1]
		for i := range pg.buf {
			pg.buf[i] = 0
		}
	} else {
		pg = &Page{buf: make([]byte, p.pageSize)}
		p.live++
	}
	p.nextGen++
	pg.gen = p.nextGen
	p.issued++
	return pg, pg.gen
}

// Put returns a page to the pool. After Put, the Page must not be used;
// a future Get may reissue the identical backing slice with a new
// generation token.
func (p *Pool) Put(pg *Page) {
	if pg == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append(p.free, pg)
}

// Stats reports the pool's current outstanding/live page counts, used by
// the engine's metrics surface.
type Stats struct {
	Live   int // total pages ever allocated (not shrunk)
	Free   int // pages currently on the free list
	Issued int // cumulative number of Get calls
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Live: p.live, Free: len(p.free), Issued: p.issued}
}
