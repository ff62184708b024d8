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

package srp

import (
	"crypto/rand"
	"errors"
	"net"
	"testing"

	"github.com/snapdb-project/snapdb/internal/auth"
	"github.com/snapdb-project/snapdb/internal/wire"
)

type mapStore map[string]*auth.User

func (m mapStore) Lookup(name string) (*auth.User, bool) {
	u, ok := m[name]
	return u, ok
}

func bobStore() mapStore {
	salt := RandomSalt()
	return mapStore{"bob": {
		Name:        "bob",
		Salt:        salt,
		Iterations:  1000,
		SRPVerifier: Verifier([]byte("hunter2"), salt, 1000),
	}}
}

func runExchange(t *testing.T, store auth.Store, username, password string, challenge []byte) (serverErr, clientErr error) {
	t.Helper()
	cConn, sConn := net.Pipe()
	defer cConn.Close()
	defer sConn.Close()

	done := make(chan error, 1)
	go func() {
		_, err := Server(wire.NewStream(sConn), store, challenge, rand.Reader)
		done <- err
	}()
	clientErr = Client(wire.NewStream(cConn), username, password, challenge, rand.Reader)
	serverErr = <-done
	return
}

func TestRoundTrip(t *testing.T) {
	serverErr, clientErr := runExchange(t, bobStore(), "bob", "hunter2", []byte("chal"))
	if serverErr != nil {
		t.Fatalf("server: %v", serverErr)
	}
	if clientErr != nil {
		t.Fatalf("client: %v", clientErr)
	}
}

func TestWrongPasswordRejected(t *testing.T) {
	serverErr, _ := runExchange(t, bobStore(), "bob", "hunter3", nil)
	if !errors.Is(serverErr, auth.ErrAuthenticationFailed) {
		t.Fatalf("server err = %v, want ErrAuthenticationFailed", serverErr)
	}
}

func TestUnknownUserRejected(t *testing.T) {
	serverErr, _ := runExchange(t, bobStore(), "eve", "hunter2", nil)
	if !errors.Is(serverErr, auth.ErrAuthenticationFailed) {
		t.Fatalf("server err = %v, want ErrAuthenticationFailed", serverErr)
	}
}

func TestChallengeMismatchRejected(t *testing.T) {
	// Different transport bindings on each side must not agree.
	store := bobStore()
	cConn, sConn := net.Pipe()
	defer cConn.Close()
	defer sConn.Close()
	done := make(chan error, 1)
	go func() {
		_, err := Server(wire.NewStream(sConn), store, []byte("server side"), rand.Reader)
		done <- err
	}()
	Client(wire.NewStream(cConn), "bob", "hunter2", []byte("client side"), rand.Reader)
	if err := <-done; !errors.Is(err, auth.ErrAuthenticationFailed) {
		t.Fatalf("server err = %v, want ErrAuthenticationFailed", err)
	}
}

func TestVerifierDeterministic(t *testing.T) {
	salt := RandomSalt()
	a := Verifier([]byte("pw"), salt, 500)
	b := Verifier([]byte("pw"), salt, 500)
	if !auth.SecureEquals(a, b) {
		t.Fatal("verifier not deterministic for fixed salt")
	}
	c := Verifier([]byte("pw"), RandomSalt(), 500)
	if auth.SecureEquals(a, c) {
		t.Fatal("verifier identical across different salts")
	}
}
