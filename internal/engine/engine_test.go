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
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/snapdb-project/snapdb/internal/binstream"
	"github.com/snapdb-project/snapdb/internal/points"
	"github.com/snapdb-project/snapdb/internal/sortedtree/encoding"
)

func newTestServer(t *testing.T) (*Server, SessionDB) {
	t.Helper()
	dir := t.TempDir()
	srv := NewServer(ServerConfig{UnlinkLogPath: filepath.Join(dir, "unlink.log")})
	err := srv.AddDatabase(DatabaseConfig{
		Name:      "hist",
		Dir:       filepath.Join(dir, "hist"),
		KeyType:   points.U64KeyGUID,
		ValueType: points.U64ValueGUID,
		BlockSize: 512,
	})
	if err != nil {
		t.Fatalf("AddDatabase: %v", err)
	}
	db, ok := srv.GetDatabase("hist")
	if !ok {
		t.Fatal("database missing after AddDatabase")
	}
	return srv, db
}

// writePoints drives the wire-writer path the way a session would.
func writePoints(t *testing.T, db SessionDB, keys []uint64, value func(uint64) uint64) {
	t.Helper()
	w, err := db.StartWrite("", encoding.FixedSizeGUID)
	if err != nil {
		t.Fatalf("StartWrite: %v", err)
	}
	pair := encoding.NewFixedSize[points.U64Key, *points.U64Key, points.U64Value, *points.U64Value]()
	codec := encoding.NewStreamCodec(pair)
	buf := binstream.NewBuffer()
	for _, key := range keys {
		k := points.U64Key{Value: key}
		v := points.U64Value{Value: value(key)}
		if err := codec.Encode(buf, &k, &v); err != nil {
			t.Fatal(err)
		}
	}
	if err := codec.WriteEndOfStream(buf); err != nil {
		t.Fatal(err)
	}
	buf.SetPosition(0)
	for {
		done, err := w.DecodeNext(buf)
		if err != nil {
			t.Fatalf("DecodeNext: %v", err)
		}
		if done {
			break
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("writer Close: %v", err)
	}
}

// readPoints drives the wire-reader path, returning decoded records.
func readPoints(t *testing.T, db SessionDB, seekType binstream.Guid, seekPayload []byte, matchType binstream.Guid, matchPayload []byte, opts ReaderOptions) map[uint64]uint64 {
	t.Helper()
	r, err := db.StartRead("", encoding.FixedSizeGUID, seekType, seekPayload, matchType, matchPayload, opts)
	if err != nil {
		t.Fatalf("StartRead: %v", err)
	}
	defer r.Close()

	buf := binstream.NewBuffer()
	for {
		more, err := r.EncodeNext(buf)
		if err != nil {
			t.Fatalf("EncodeNext: %v", err)
		}
		if !more {
			break
		}
	}

	buf.SetPosition(0)
	pair := encoding.NewFixedSize[points.U64Key, *points.U64Key, points.U64Value, *points.U64Value]()
	codec := encoding.NewStreamCodec(pair)
	out := make(map[uint64]uint64)
	var k points.U64Key
	var v points.U64Value
	var prev uint64
	first := true
	for {
		eos, err := codec.TryDecode(buf, &k, &v)
		if err != nil {
			t.Fatalf("TryDecode: %v", err)
		}
		if eos {
			return out
		}
		if !first && k.Value <= prev {
			t.Fatalf("merge emitted %d after %d", k.Value, prev)
		}
		first = false
		prev = k.Value
		out[k.Value] = v.Value
	}
}

func seq(from, to uint64) []uint64 {
	out := make([]uint64, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, i)
	}
	return out
}

func TestWriteSoftCommitVisibleToNewReads(t *testing.T) {
	_, db := newTestServer(t)
	writePoints(t, db, seq(0, 1000), func(k uint64) uint64 { return 2 * k })
	got := readPoints(t, db, uuid.Nil, nil, uuid.Nil, nil, ReaderOptions{})
	if len(got) != 1000 {
		t.Fatalf("read %d records, want 1000", len(got))
	}
	if got[500] != 1000 {
		t.Fatalf("value[500] = %d, want 1000", got[500])
	}
}

func TestHardCommitRotatesToDiskAndPreservesReads(t *testing.T) {
	_, db := newTestServer(t)
	writePoints(t, db, seq(0, 2000), func(k uint64) uint64 { return k + 1 })
	if err := db.HardCommit(); err != nil {
		t.Fatalf("HardCommit: %v", err)
	}
	st := db.Status()
	if st.ArchiveCount != 1 {
		t.Fatalf("ArchiveCount = %d after hard commit, want 1", st.ArchiveCount)
	}
	if st.BufferedPoints != 0 {
		t.Fatalf("BufferedPoints = %d after hard commit, want 0", st.BufferedPoints)
	}
	got := readPoints(t, db, uuid.Nil, nil, uuid.Nil, nil, ReaderOptions{})
	if len(got) != 2000 {
		t.Fatalf("read %d records, want 2000", len(got))
	}
}

func TestMergeNewestWriteWinsAcrossSources(t *testing.T) {
	_, db := newTestServer(t)
	writePoints(t, db, seq(0, 500), func(uint64) uint64 { return 1 })
	if err := db.HardCommit(); err != nil {
		t.Fatal(err)
	}
	// Overwrite a subset from the in-memory buffer: buffer beats the
	// archive on duplicate keys.
	writePoints(t, db, seq(100, 200), func(uint64) uint64 { return 2 })

	got := readPoints(t, db, uuid.Nil, nil, uuid.Nil, nil, ReaderOptions{})
	if len(got) != 500 {
		t.Fatalf("read %d distinct keys, want 500", len(got))
	}
	if got[99] != 1 || got[150] != 2 || got[200] != 1 {
		t.Fatalf("duplicate resolution wrong: got[99]=%d got[150]=%d got[200]=%d", got[99], got[150], got[200])
	}

	// After a second hard commit the newer archive must still win.
	if err := db.HardCommit(); err != nil {
		t.Fatal(err)
	}
	got = readPoints(t, db, uuid.Nil, nil, uuid.Nil, nil, ReaderOptions{})
	if got[150] != 2 {
		t.Fatalf("after rotation got[150] = %d, want 2", got[150])
	}
}

func rangePayload(t *testing.T, ranges [][2]uint64) []byte {
	t.Helper()
	typed := make([][2]points.U64Key, len(ranges))
	for i, r := range ranges {
		typed[i] = [2]points.U64Key{{Value: r[0]}, {Value: r[1]}}
	}
	buf := binstream.NewBuffer()
	if err := EncodeRangeListSeek[points.U64Key, *points.U64Key](buf, typed); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestSeekFilterVisitsOnlyRequestedRanges(t *testing.T) {
	_, db := newTestServer(t)
	writePoints(t, db, seq(0, 10_000), func(k uint64) uint64 { return k })
	if err := db.HardCommit(); err != nil {
		t.Fatal(err)
	}

	payload := rangePayload(t, [][2]uint64{{1000, 2000}, {3000, 3500}})
	got := readPoints(t, db, SeekRangeListGUID, payload, uuid.Nil, nil, ReaderOptions{})
	if len(got) != 1500 {
		t.Fatalf("read %d records, want 1500", len(got))
	}
	for k := range got {
		in := (k >= 1000 && k < 2000) || (k >= 3000 && k < 3500)
		if !in {
			t.Fatalf("key %d outside requested ranges", k)
		}
	}
}

func TestMatchFilterDropsNonMatching(t *testing.T) {
	_, db := newTestServer(t)
	writePoints(t, db, seq(0, 1000), func(k uint64) uint64 { return k % 10 })

	buf := binstream.NewBuffer()
	if err := (U64RangeMatch{Min: 3, Max: 5}).Encode(buf); err != nil {
		t.Fatal(err)
	}
	got := readPoints(t, db, uuid.Nil, nil, MatchU64RangeGUID, buf.Bytes(), ReaderOptions{})
	if len(got) != 300 {
		t.Fatalf("read %d records, want 300", len(got))
	}
	for k, v := range got {
		if v < 3 || v > 5 {
			t.Fatalf("key %d value %d escaped the match filter", k, v)
		}
	}
}

func TestMaxPointsCapsRead(t *testing.T) {
	_, db := newTestServer(t)
	writePoints(t, db, seq(0, 1000), func(k uint64) uint64 { return k })
	got := readPoints(t, db, uuid.Nil, nil, uuid.Nil, nil, ReaderOptions{MaxPoints: 42})
	if len(got) != 42 {
		t.Fatalf("read %d records, want the 42-point cap", len(got))
	}
}

func TestUnknownFiltersRejected(t *testing.T) {
	_, db := newTestServer(t)
	bogus := uuid.MustParse("00000000-0000-0000-0000-0000000000aa")
	if _, err := db.StartRead("", encoding.FixedSizeGUID, bogus, nil, uuid.Nil, nil, ReaderOptions{}); err != ErrUnknownSeekFilter {
		t.Fatalf("seek err = %v, want ErrUnknownSeekFilter", err)
	}
	if _, err := db.StartRead("", encoding.FixedSizeGUID, uuid.Nil, nil, bogus, nil, ReaderOptions{}); err != ErrUnknownMatchFilter {
		t.Fatalf("match err = %v, want ErrUnknownMatchFilter", err)
	}
	if _, err := db.StartRead("", bogus, uuid.Nil, nil, uuid.Nil, nil, ReaderOptions{}); err != ErrUnknownEncoding {
		t.Fatalf("encoding err = %v, want ErrUnknownEncoding", err)
	}
}

type denyWrites struct{ AllowAll }

func (denyWrites) CanWrite(string) bool { return false }

func TestAccessControlSkipsDeniedWrites(t *testing.T) {
	dir := t.TempDir()
	srv := NewServer(ServerConfig{
		UnlinkLogPath: filepath.Join(dir, "unlink.log"),
		Permissions:   denyWrites{},
	})
	if err := srv.AddDatabase(DatabaseConfig{
		Name:      "hist",
		Dir:       filepath.Join(dir, "hist"),
		KeyType:   points.U64KeyGUID,
		ValueType: points.U64ValueGUID,
	}); err != nil {
		t.Fatal(err)
	}
	db, _ := srv.GetDatabase("hist")
	writePoints(t, db, seq(0, 100), func(k uint64) uint64 { return k })
	got := readPoints(t, db, uuid.Nil, nil, uuid.Nil, nil, ReaderOptions{})
	if len(got) != 0 {
		t.Fatalf("denied writes landed: %d records visible", len(got))
	}
}
