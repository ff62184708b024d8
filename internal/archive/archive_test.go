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

package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/snapdb-project/snapdb/internal/filestore"
	"github.com/snapdb-project/snapdb/internal/points"
	"github.com/snapdb-project/snapdb/internal/sortedtree/encoding"
)

type u64Table = Table[points.U64Key, *points.U64Key, points.U64Value, *points.U64Value]

func insertRange(t *testing.T, table *u64Table, from, to uint64) {
	t.Helper()
	ed := table.BeginEdit()
	for i := from; i < to; i++ {
		k := points.U64Key{Value: i}
		v := points.U64Value{Value: 2 * i}
		if err := ed.Tree().Insert(&k, &v); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	if err := ed.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func scanAll(t *testing.T, table *u64Table) []uint64 {
	t.Helper()
	sc := table.ReadSnapshot().Tree().CreateScanner()
	var k points.U64Key
	var v points.U64Value
	var keys []uint64
	for {
		ok, err := sc.Read(&k, &v)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if !ok {
			return keys
		}
		if v.Value != 2*k.Value {
			t.Fatalf("record (%d, %d), want value %d", k.Value, v.Value, 2*k.Value)
		}
		keys = append(keys, k.Value)
	}
}

// Small blocks force deep trees and multi-block state chains.
const testBlockSize = 512

func TestEditInsertReopenScan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edit.snapdb")
	file, err := filestore.Create(path, testBlockSize)
	if err != nil {
		t.Fatal(err)
	}
	table, err := Create[points.U64Key, *points.U64Key, points.U64Value, *points.U64Value](file, "points", encoding.FixedSizeGUID, []byte("tag,id\nfoo,1\n"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	insertRange(t, table, 0, 5000)
	if err := file.Close(); err != nil {
		t.Fatal(err)
	}

	file, err = filestore.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer file.Close()
	table, err = Open[points.U64Key, *points.U64Key, points.U64Value, *points.U64Value](file)
	if err != nil {
		t.Fatalf("Open table: %v", err)
	}
	if string(table.Metadata()) != "tag,id\nfoo,1\n" {
		t.Fatalf("metadata = %q", table.Metadata())
	}

	keys := scanAll(t, table)
	if len(keys) != 5000 {
		t.Fatalf("scanned %d records, want 5000", len(keys))
	}
	for i, k := range keys {
		if k != uint64(i) {
			t.Fatalf("key[%d] = %d", i, k)
		}
	}
	verifyAllBlocks(t, path)
}

// verifyAllBlocks re-reads every block under its checksum.
func verifyAllBlocks(t *testing.T, path string) {
	t.Helper()
	f, err := filestore.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	reachable := make(map[uint32]bool)
	// Reachability is tracked through the tables' translation chains;
	// unreferenced (abandoned) blocks may legitimately fail, so only
	// blocks reachable from the current header are checked.
	table, err := Open[points.U64Key, *points.U64Key, points.U64Value, *points.U64Value](f)
	if err != nil {
		t.Fatalf("open table for verify: %v", err)
	}
	for _, b := range table.stateBlocks {
		reachable[b] = true
	}
	for _, p := range table.phys {
		if p != 0xFFFFFFFF {
			reachable[p] = true
		}
	}
	for idx := range reachable {
		if _, _, err := f.ReadBlock(idx, filestore.BlockTypeUnknown); err != nil {
			t.Fatalf("block %d failed verification: %v", idx, err)
		}
	}
}

func TestSnapshotIsolationAcrossEdit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iso.snapdb")
	file, err := filestore.Create(path, testBlockSize)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()
	table, err := Create[points.U64Key, *points.U64Key, points.U64Value, *points.U64Value](file, "points", encoding.FixedSizeGUID, nil)
	if err != nil {
		t.Fatal(err)
	}
	insertRange(t, table, 0, 100)

	snap := table.ReadSnapshot()
	insertRange(t, table, 100, 200)

	// The pinned snapshot keeps seeing exactly the first commit.
	sc := snap.Tree().CreateScanner()
	var k points.U64Key
	var v points.U64Value
	n := 0
	for {
		ok, err := sc.Read(&k, &v)
		if err != nil {
			t.Fatalf("snapshot Read: %v", err)
		}
		if !ok {
			break
		}
		n++
	}
	if n != 100 {
		t.Fatalf("snapshot sees %d records, want 100", n)
	}
	if got := scanAll(t, table); len(got) != 200 {
		t.Fatalf("fresh snapshot sees %d records, want 200", len(got))
	}
}

func TestCrashBetweenDataAndHeaderRollsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crash.snapdb")
	file, err := filestore.Create(path, testBlockSize)
	if err != nil {
		t.Fatal(err)
	}
	table, err := Create[points.U64Key, *points.U64Key, points.U64Value, *points.U64Value](file, "points", encoding.FixedSizeGUID, nil)
	if err != nil {
		t.Fatal(err)
	}
	insertRange(t, table, 0, 1000)
	if err := file.Close(); err != nil {
		t.Fatal(err)
	}

	// Capture both header slots as of the first durable commit.
	raw, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		t.Fatal(err)
	}
	savedHeaders := make([]byte, 2*testBlockSize)
	if _, err := raw.ReadAt(savedHeaders, 0); err != nil {
		t.Fatal(err)
	}

	// Second commit writes its data blocks and its header.
	file, err = filestore.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	table, err = Open[points.U64Key, *points.U64Key, points.U64Value, *points.U64Value](file)
	if err != nil {
		t.Fatal(err)
	}
	insertRange(t, table, 1000, 2000)
	if err := file.Close(); err != nil {
		t.Fatal(err)
	}

	// Simulate the crash window: the data blocks landed but the header
	// flip did not survive.
	if _, err := raw.WriteAt(savedHeaders, 0); err != nil {
		t.Fatal(err)
	}
	if err := raw.Close(); err != nil {
		t.Fatal(err)
	}

	file, err = filestore.Open(path)
	if err != nil {
		t.Fatalf("reopen after simulated crash: %v", err)
	}
	defer file.Close()
	table, err = Open[points.U64Key, *points.U64Key, points.U64Value, *points.U64Value](file)
	if err != nil {
		t.Fatalf("open table after simulated crash: %v", err)
	}
	keys := scanAll(t, table)
	if len(keys) != 1000 {
		t.Fatalf("post-crash scan sees %d records, want the pre-crash 1000", len(keys))
	}
	for i, k := range keys {
		if k != uint64(i) {
			t.Fatalf("key[%d] = %d", i, k)
		}
	}

	// The rolled-back file keeps working: a third commit must succeed
	// and must not disturb the surviving keyset.
	insertRange(t, table, 5000, 5100)
	keys = scanAll(t, table)
	if len(keys) != 1100 {
		t.Fatalf("post-recovery scan sees %d records, want 1100", len(keys))
	}
}

func TestSequentialWriterPublishesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bulk.snapdb")
	w, err := NewSequentialWriter[points.U64Key, *points.U64Key, points.U64Value, *points.U64Value](path, testBlockSize, "points", encoding.FixedSizeGUID, nil)
	if err != nil {
		t.Fatalf("NewSequentialWriter: %v", err)
	}
	const n = 50_000
	for i := uint64(0); i < n; i++ {
		k := points.U64Key{Value: i}
		v := points.U64Value{Value: 2 * i}
		if err := w.Append(&k, &v); err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("final path exists before Commit")
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, err := os.Stat(path + tmpSuffix); !os.IsNotExist(err) {
		t.Fatal("temporary file survives Commit")
	}

	file, err := filestore.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer file.Close()
	table, err := Open[points.U64Key, *points.U64Key, points.U64Value, *points.U64Value](file)
	if err != nil {
		t.Fatalf("Open table: %v", err)
	}
	if got := table.Count(); got != n {
		t.Fatalf("Count = %d, want %d", got, n)
	}

	// Spot lookups, including the midpoint.
	var v points.U64Value
	for _, key := range []uint64{0, 1, n / 2, n - 1} {
		k := points.U64Key{Value: key}
		ok, err := table.ReadSnapshot().Tree().TryGet(&k, &v)
		if err != nil || !ok {
			t.Fatalf("TryGet(%d) = %v, %v", key, ok, err)
		}
		if v.Value != 2*key {
			t.Fatalf("TryGet(%d) = %d, want %d", key, v.Value, 2*key)
		}
	}
}

func TestSequentialWriterAbortRemovesTemp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aborted.snapdb")
	w, err := NewSequentialWriter[points.U64Key, *points.U64Key, points.U64Value, *points.U64Value](path, testBlockSize, "points", encoding.FixedSizeGUID, nil)
	if err != nil {
		t.Fatal(err)
	}
	k := points.U64Key{Value: 1}
	v := points.U64Value{}
	w.Append(&k, &v)
	w.Abort()
	if _, err := os.Stat(path + tmpSuffix); !os.IsNotExist(err) {
		t.Fatal("temporary file survives Abort")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("final path exists after Abort")
	}
}
