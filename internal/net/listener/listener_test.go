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

package listener

import (
	"crypto/rand"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/snapdb-project/snapdb/internal/auth"
	"github.com/snapdb-project/snapdb/internal/auth/resume"
	"github.com/snapdb-project/snapdb/internal/credentials"
	"github.com/snapdb-project/snapdb/internal/engine"
	"github.com/snapdb-project/snapdb/internal/points"
	"github.com/snapdb-project/snapdb/internal/sortedtree/encoding"
	"github.com/snapdb-project/snapdb/internal/wire"
	"github.com/snapdb-project/snapdb/internal/wire/handshake"
	"github.com/snapdb-project/snapdb/pkg/client"

	"github.com/snapdb-project/snapdb/internal/archive"
)

type u64DB = client.Database[points.U64Key, *points.U64Key, points.U64Value, *points.U64Value]

// startServer brings up an engine with one u64 database (optionally
// pre-loaded with archives) behind a loopback listener.
func startServer(t *testing.T, hs handshake.ServerConfig, archives []string) (*Listener, string) {
	t.Helper()
	dir := t.TempDir()
	srv := engine.NewServer(engine.ServerConfig{UnlinkLogPath: filepath.Join(dir, "unlink.log")})
	err := srv.AddDatabase(engine.DatabaseConfig{
		Name:      "hist",
		Dir:       filepath.Join(dir, "hist"),
		KeyType:   points.U64KeyGUID,
		ValueType: points.U64ValueGUID,
		Archives:  archives,
	})
	if err != nil {
		t.Fatalf("AddDatabase: %v", err)
	}
	ln, err := Listen(Config{
		Addr:      "127.0.0.1:0",
		Handshake: hs,
		Engine:    srv,
		Logf:      t.Logf,
	})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go ln.Serve()
	t.Cleanup(func() { ln.Shutdown() })
	return ln, ln.Addr().String()
}

// bulkArchive builds an on-disk archive of n points (i, value(i)).
func bulkArchive(t *testing.T, dir string, n uint64, value func(uint64) uint64) string {
	t.Helper()
	path := filepath.Join(dir, "preload.snapdb")
	w, err := archive.NewSequentialWriter[points.U64Key, *points.U64Key, points.U64Value, *points.U64Value](path, 4096, "hist", encoding.FixedSizeGUID, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := uint64(0); i < n; i++ {
		k := points.U64Key{Value: i}
		v := points.U64Value{Value: value(i)}
		if err := w.Append(&k, &v); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Commit(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestEndToEndWriteThenRead(t *testing.T) {
	_, addr := startServer(t, handshake.ServerConfig{AllowNone: true}, nil)

	c, err := client.Dial(addr, handshake.ClientConfig{Mode: wire.AuthNone})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	db, err := client.OpenDatabase[points.U64Key, *points.U64Key, points.U64Value, *points.U64Value](c, "hist")
	if err != nil {
		t.Fatalf("OpenDatabase: %v", err)
	}

	w, err := db.Write()
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	for i := uint64(0); i < 5000; i++ {
		k := points.U64Key{Value: i}
		v := points.U64Value{Value: 2 * i}
		if err := w.Append(&k, &v); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("writer Close: %v", err)
	}

	r, err := db.Read(nil, nil, nil)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var k points.U64Key
	var v points.U64Value
	n := uint64(0)
	for {
		ok, err := r.Next(&k, &v)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		if k.Value != n || v.Value != 2*n {
			t.Fatalf("record (%d, %d) at position %d", k.Value, v.Value, n)
		}
		n++
	}
	if n != 5000 {
		t.Fatalf("read %d records, want 5000", n)
	}
	if r.Status() != wire.RespReadComplete {
		t.Fatalf("status = %s, want ReadComplete", r.Status())
	}
}

func TestSeekFilterAndCancelMidRead(t *testing.T) {
	// Enough points that the server must block on the socket long
	// before finishing, so the cancel always lands mid-stream.
	path := bulkArchive(t, t.TempDir(), 400_000, func(uint64) uint64 { return 0 })
	_, addr := startServer(t, handshake.ServerConfig{AllowNone: true}, []string{path})

	c, err := client.Dial(addr, handshake.ClientConfig{Mode: wire.AuthNone})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()
	db, err := client.OpenDatabase[points.U64Key, *points.U64Key, points.U64Value, *points.U64Value](c, "hist")
	if err != nil {
		t.Fatalf("OpenDatabase: %v", err)
	}

	seek, err := client.RangeListSeek[points.U64Key, *points.U64Key]([][2]points.U64Key{
		{{Value: 1000}, {Value: 300_000}},
		{{Value: 350_000}, {Value: 351_000}},
	})
	if err != nil {
		t.Fatal(err)
	}
	r, err := db.Read(seek, nil, nil)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	var k points.U64Key
	var v points.U64Value
	for i := 0; i < 200; i++ {
		ok, err := r.Next(&k, &v)
		if err != nil || !ok {
			t.Fatalf("Next[%d] = %v, %v", i, ok, err)
		}
		if k.Value < 1000 {
			t.Fatalf("key %d outside the seek ranges", k.Value)
		}
	}
	if err := db.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, err := r.Drain(); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if r.Status() != wire.RespCanceledRead {
		t.Fatalf("status = %s, want CanceledRead", r.Status())
	}

	// The connection stays usable after cancellation.
	if err := db.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	infos, err := c.ListDatabases()
	if err != nil {
		t.Fatalf("ListDatabases after cancel: %v", err)
	}
	if len(infos) != 1 || infos[0].Name != "hist" {
		t.Fatalf("databases = %+v", infos)
	}
}

func TestConnectErrors(t *testing.T) {
	_, addr := startServer(t, handshake.ServerConfig{AllowNone: true}, nil)
	c, err := client.Dial(addr, handshake.ClientConfig{Mode: wire.AuthNone})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if _, err := client.OpenDatabase[points.U64Key, *points.U64Key, points.U64Value, *points.U64Value](c, "nope"); err == nil {
		t.Fatal("OpenDatabase(nope) succeeded")
	}
	// Wrong key type against an existing database.
	if _, err := client.OpenDatabase[points.HistorianKey, *points.HistorianKey, points.HistorianValue, *points.HistorianValue](c, "hist"); err == nil {
		t.Fatal("OpenDatabase with mismatched types succeeded")
	}
	// The connection survives both failures.
	if _, err := c.ListDatabases(); err != nil {
		t.Fatalf("ListDatabases: %v", err)
	}
}

func TestScramAuthOverListener(t *testing.T) {
	users := credentials.NewMemoryStore()
	if err := users.Add("alice", "correct horse", credentials.UserOptions{CanRead: true, CanWrite: true}); err != nil {
		t.Fatal(err)
	}
	hs := handshake.ServerConfig{
		Users:   users,
		Tickets: resume.NewStore(time.Hour, nil, rand.Reader),
	}
	_, addr := startServer(t, hs, nil)

	c, err := client.Dial(addr, handshake.ClientConfig{
		Mode:     wire.AuthSCRAM,
		Username: "alice",
		Password: "correct horse",
	})
	if err != nil {
		t.Fatalf("Dial(SCRAM): %v", err)
	}
	if len(c.Ticket) == 0 || len(c.Secret) == 0 {
		t.Fatal("no resume ticket issued after full authentication")
	}
	ticket, secret := c.Ticket, c.Secret
	c.Close()

	// Wrong password never authenticates.
	if _, err := client.Dial(addr, handshake.ClientConfig{
		Mode:     wire.AuthSCRAM,
		Username: "alice",
		Password: "wrong horse",
	}); !errors.Is(err, auth.ErrAuthenticationFailed) {
		t.Fatalf("Dial(bad password) err = %v, want ErrAuthenticationFailed", err)
	}

	// The issued ticket resumes without the password.
	c2, err := client.Dial(addr, handshake.ClientConfig{
		Mode:   wire.AuthResumeSession,
		Ticket: ticket,
		Secret: secret,
	})
	if err != nil {
		t.Fatalf("Dial(resume): %v", err)
	}
	defer c2.Close()
	if _, err := c2.ListDatabases(); err != nil {
		t.Fatalf("ListDatabases over resumed session: %v", err)
	}
}

func TestShutdownClosesClients(t *testing.T) {
	ln, addr := startServer(t, handshake.ServerConfig{AllowNone: true}, nil)
	c, err := client.Dial(addr, handshake.ClientConfig{Mode: wire.AuthNone})
	if err != nil {
		t.Fatal(err)
	}
	if got := len(ln.Status()); got != 1 {
		t.Fatalf("Status reports %d clients, want 1", got)
	}
	if err := ln.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got := len(ln.Status()); got != 0 {
		t.Fatalf("Status reports %d clients after shutdown, want 0", got)
	}
	if _, err := c.ListDatabases(); err == nil {
		t.Fatal("request on closed connection succeeded")
	}
}
