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

package binstream

import (
	"testing"

	"github.com/snapdb-project/snapdb/internal/pagepool"
)

func TestBufferCopyOverlapping(t *testing.T) {
	b := NewBufferFrom([]byte("abcdefghij"))
	// Shift "abcde" two bytes to the right, overlapping the destination.
	if err := b.Copy(0, 2, 5); err != nil {
		t.Fatal(err)
	}
	want := "ababcdehij"
	if got := string(b.Bytes()); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestBufferInsertRemovePreservesPosition(t *testing.T) {
	b := NewBufferFrom([]byte("abcdefgh"))
	b.SetPosition(4)
	if err := b.InsertBytes(2, 3); err != nil {
		t.Fatal(err)
	}
	if b.Position() != 4 {
		t.Errorf("Position after insert = %d, want 4", b.Position())
	}
	if len(b.Bytes()) != 11 {
		t.Errorf("len = %d, want 11", len(b.Bytes()))
	}
	if err := b.RemoveBytes(2, 3); err != nil {
		t.Fatal(err)
	}
	if got := string(b.Bytes()); got != "abcdefgh" {
		t.Errorf("after remove: got %q", got)
	}
}

func TestViewStaleAfterRecycle(t *testing.T) {
	pool := pagepool.New(64)
	pg, _ := pool.Get()
	view := NewView(pg.Bytes(), pg)
	if view.Stale() {
		t.Fatal("freshly constructed view must not be stale")
	}
	pool.Put(pg)
	pg2, _ := pool.Get()
	if pg2 != pg {
		t.Skip("pool did not recycle the same slot; staleness can't be observed this way")
	}
	if !view.Stale() {
		t.Fatal("view must be stale after its page was recycled")
	}
}

func TestViewDoesNotGrow(t *testing.T) {
	buf := make([]byte, 8)
	v := NewView(buf, nil)
	v.SetPosition(4)
	if err := v.WriteU64(1); err != ErrOutOfRange {
		t.Fatalf("write past view bound: got %v, want ErrOutOfRange", err)
	}
}
