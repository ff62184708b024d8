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

package credentials

import (
	"path/filepath"
	"testing"

	"github.com/snapdb-project/snapdb/internal/auth"
	"github.com/snapdb-project/snapdb/internal/auth/scram"
)

func TestPutLookupRoundTrip(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "users.creds"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	err = store.Put("alice", "correct horse", UserOptions{CanRead: true, CanWrite: true})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	u, ok := store.Lookup("alice")
	if !ok {
		t.Fatal("Lookup(alice) missing")
	}
	if u.Method != auth.HashSHA256 || u.Iterations != DefaultIterations {
		t.Fatalf("record = method %s iterations %d", u.Method, u.Iterations)
	}
	if !u.CanRead || !u.CanWrite || u.IsAdmin {
		t.Fatalf("flags = read %v write %v admin %v", u.CanRead, u.CanWrite, u.IsAdmin)
	}

	// The stored verifier must match a client-side derivation.
	storedKey, serverKey := scram.Verifier(u.Method, []byte("correct horse"), u.Salt, u.Iterations)
	if !auth.SecureEquals(storedKey, u.StoredKey) || !auth.SecureEquals(serverKey, u.ServerKey) {
		t.Fatal("stored SCRAM verifier does not match derivation")
	}
	if len(u.SRPVerifier) == 0 {
		t.Fatal("SRP verifier missing")
	}

	if _, ok := store.Lookup("bob"); ok {
		t.Fatal("Lookup(bob) found a record that was never stored")
	}
}

func TestRecordSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.creds")
	store, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Put("carol", "pw", UserOptions{IsAdmin: true}); err != nil {
		t.Fatal(err)
	}
	store.Close()

	store, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	u, ok := store.Lookup("carol")
	if !ok || !u.IsAdmin {
		t.Fatalf("reopened record = %+v, %v", u, ok)
	}
	names, err := store.List()
	if err != nil || len(names) != 1 || names[0] != "carol" {
		t.Fatalf("List = %v, %v", names, err)
	}
}

func TestRecordEncodingRoundTrip(t *testing.T) {
	u, err := derive("dave", "secret", UserOptions{Method: auth.HashSHA512, Iterations: 123, CanWrite: true})
	if err != nil {
		t.Fatal(err)
	}
	raw, err := encodeRecord(u)
	if err != nil {
		t.Fatal(err)
	}
	got, err := decodeRecord(raw)
	if err != nil {
		t.Fatalf("decodeRecord: %v", err)
	}
	if got.Name != "dave" || got.Method != auth.HashSHA512 || got.Iterations != 123 || !got.CanWrite {
		t.Fatalf("round trip = %+v", got)
	}
	if !auth.SecureEquals(got.StoredKey, u.StoredKey) || !auth.SecureEquals(got.SRPVerifier, u.SRPVerifier) {
		t.Fatal("verifier material corrupted in round trip")
	}
}

func TestPermissionsFallBackToDefaults(t *testing.T) {
	mem := NewMemoryStore()
	if err := mem.Add("writer", "pw", UserOptions{CanWrite: true}); err != nil {
		t.Fatal(err)
	}
	p := Permissions{Store: mem, Defaults: Defaults{CanRead: true}}

	if !p.CanRead("") || p.CanWrite("") {
		t.Fatal("anonymous permissions do not follow defaults")
	}
	if p.CanRead("writer") || !p.CanWrite("writer") {
		t.Fatal("recorded user's flags not honored")
	}
	if !p.CanRead("stranger") {
		t.Fatal("unknown user does not fall back to defaults")
	}
}
