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
	"math/rand"
	"testing"

	"github.com/snapdb-project/snapdb/internal/pagepool"
	"github.com/snapdb-project/snapdb/internal/points"
	"github.com/snapdb-project/snapdb/internal/sortedtree/encoding"
)

type u64Tree = Tree[points.U64Key, *points.U64Key, points.U64Value, *points.U64Value]

func newMemTree(t *testing.T, payloadLen int) *u64Tree {
	t.Helper()
	store := NewMemoryStore(pagepool.New(payloadLen))
	pair := encoding.NewFixedSize[points.U64Key, *points.U64Key, points.U64Value, *points.U64Value]()
	tree, err := New(store, pair)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tree
}

func insertU64(t *testing.T, tree *u64Tree, key, value uint64) {
	t.Helper()
	k := points.U64Key{Value: key}
	v := points.U64Value{Value: value}
	if err := tree.Insert(&k, &v); err != nil {
		t.Fatalf("Insert(%d): %v", key, err)
	}
}

func TestInsertAndGet(t *testing.T) {
	tree := newMemTree(t, 512)
	for i := uint64(0); i < 100; i++ {
		insertU64(t, tree, i, 2*i)
	}
	var v points.U64Value
	for i := uint64(0); i < 100; i++ {
		k := points.U64Key{Value: i}
		ok, err := tree.TryGet(&k, &v)
		if err != nil || !ok {
			t.Fatalf("TryGet(%d) = %v, %v", i, ok, err)
		}
		if v.Value != 2*i {
			t.Fatalf("TryGet(%d) value = %d, want %d", i, v.Value, 2*i)
		}
	}
	k := points.U64Key{Value: 100}
	if ok, _ := tree.TryGet(&k, &v); ok {
		t.Fatal("TryGet(100) found a record that was never inserted")
	}
}

func TestInsertSplitsKeepOrder(t *testing.T) {
	// A 256-byte payload holds only a handful of 16-byte records, so
	// 5000 inserts force splits across several levels.
	tree := newMemTree(t, 256)
	perm := rand.New(rand.NewSource(1)).Perm(5000)
	for _, i := range perm {
		insertU64(t, tree, uint64(i), uint64(2*i))
	}
	if got := tree.Count(); got != 5000 {
		t.Fatalf("Count = %d, want 5000", got)
	}

	sc := tree.CreateScanner()
	var k points.U64Key
	var v points.U64Value
	var prev uint64
	n := 0
	for {
		ok, err := sc.Read(&k, &v)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if !ok {
			break
		}
		if n > 0 && k.Value <= prev {
			t.Fatalf("scanner emitted %d after %d", k.Value, prev)
		}
		if v.Value != 2*k.Value {
			t.Fatalf("record (%d, %d), want value %d", k.Value, v.Value, 2*k.Value)
		}
		prev = k.Value
		n++
	}
	if n != 5000 {
		t.Fatalf("scanner yielded %d records, want 5000", n)
	}
}

func TestDuplicateKeyLastWriterWins(t *testing.T) {
	tree := newMemTree(t, 512)
	insertU64(t, tree, 7, 1)
	insertU64(t, tree, 7, 2)
	if got := tree.Count(); got != 1 {
		t.Fatalf("Count = %d, want 1 after duplicate insert", got)
	}
	k := points.U64Key{Value: 7}
	var v points.U64Value
	if ok, _ := tree.TryGet(&k, &v); !ok || v.Value != 2 {
		t.Fatalf("TryGet(7) = %v value %d, want value 2", v.Value != 0, v.Value)
	}
}

func TestGetOrGetNext(t *testing.T) {
	tree := newMemTree(t, 256)
	for i := uint64(0); i < 1000; i += 10 {
		insertU64(t, tree, i, i)
	}
	var outK points.U64Key
	var outV points.U64Value

	k := points.U64Key{Value: 15}
	ok, err := tree.GetOrGetNext(&k, &outK, &outV)
	if err != nil || !ok {
		t.Fatalf("GetOrGetNext(15) = %v, %v", ok, err)
	}
	if outK.Value != 20 {
		t.Fatalf("GetOrGetNext(15) key = %d, want 20", outK.Value)
	}

	k.Value = 990
	if ok, _ = tree.GetOrGetNext(&k, &outK, &outV); !ok || outK.Value != 990 {
		t.Fatalf("GetOrGetNext(990) = %v key %d, want exact 990", ok, outK.Value)
	}

	k.Value = 991
	if ok, _ = tree.GetOrGetNext(&k, &outK, &outV); ok {
		t.Fatal("GetOrGetNext(991) found a record past the last key")
	}
}

func TestFirstAndLastRecord(t *testing.T) {
	tree := newMemTree(t, 256)
	for i := uint64(100); i < 600; i++ {
		insertU64(t, tree, i, i)
	}
	var k points.U64Key
	var v points.U64Value
	if ok, _ := tree.TryGetFirstRecord(&k, &v); !ok || k.Value != 100 {
		t.Fatalf("first record key = %d, want 100", k.Value)
	}
	if ok, _ := tree.TryGetLastRecord(&k, &v); !ok || k.Value != 599 {
		t.Fatalf("last record key = %d, want 599", k.Value)
	}
}

func TestScannerSeekTo(t *testing.T) {
	tree := newMemTree(t, 256)
	for i := uint64(0); i < 2000; i++ {
		insertU64(t, tree, i, i)
	}
	sc := tree.CreateScanner()
	seek := points.U64Key{Value: 1500}
	if err := sc.SeekTo(&seek); err != nil {
		t.Fatalf("SeekTo: %v", err)
	}
	var k points.U64Key
	var v points.U64Value
	ok, err := sc.Read(&k, &v)
	if err != nil || !ok {
		t.Fatalf("Read after seek = %v, %v", ok, err)
	}
	if k.Value != 1500 {
		t.Fatalf("seek landed on %d, want 1500", k.Value)
	}
}

func TestAppenderMatchesInsertPath(t *testing.T) {
	appended := newMemTree(t, 256)
	app, err := NewAppender(appended)
	if err != nil {
		t.Fatalf("NewAppender: %v", err)
	}
	for i := uint64(0); i < 3000; i++ {
		k := points.U64Key{Value: i}
		v := points.U64Value{Value: 3 * i}
		if err := app.Append(&k, &v); err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
	}
	if err := app.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if got := appended.Count(); got != 3000 {
		t.Fatalf("Count = %d, want 3000", got)
	}

	sc := appended.CreateScanner()
	var k points.U64Key
	var v points.U64Value
	var want uint64
	for {
		ok, err := sc.Read(&k, &v)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if !ok {
			break
		}
		if k.Value != want || v.Value != 3*want {
			t.Fatalf("record (%d, %d), want (%d, %d)", k.Value, v.Value, want, 3*want)
		}
		want++
	}
	if want != 3000 {
		t.Fatalf("scanned %d records, want 3000", want)
	}
}

func TestAppenderRejectsOutOfOrder(t *testing.T) {
	tree := newMemTree(t, 256)
	app, err := NewAppender(tree)
	if err != nil {
		t.Fatalf("NewAppender: %v", err)
	}
	k := points.U64Key{Value: 5}
	v := points.U64Value{}
	if err := app.Append(&k, &v); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := app.Append(&k, &v); err != ErrOutOfOrder {
		t.Fatalf("Append(duplicate) err = %v, want ErrOutOfOrder", err)
	}
}

func TestDeltaEncodingRoundTrip(t *testing.T) {
	store := NewMemoryStore(pagepool.New(256))
	tree, err := New[points.U64Key, *points.U64Key, points.U64Value, *points.U64Value](store, encoding.NewU64Delta())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := uint64(0); i < 2000; i++ {
		k := points.U64Key{Value: 1_000_000 + i}
		v := points.U64Value{Value: 42}
		if err := tree.Insert(&k, &v); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	sc := tree.CreateScanner()
	var k points.U64Key
	var v points.U64Value
	n := uint64(0)
	for {
		ok, err := sc.Read(&k, &v)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if !ok {
			break
		}
		if k.Value != 1_000_000+n || v.Value != 42 {
			t.Fatalf("record (%d, %d) at position %d", k.Value, v.Value, n)
		}
		n++
	}
	if n != 2000 {
		t.Fatalf("scanned %d, want 2000", n)
	}
}
