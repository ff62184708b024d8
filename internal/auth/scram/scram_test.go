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

package scram

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

func aliceStore(t *testing.T) mapStore {
	t.Helper()
	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		t.Fatal(err)
	}
	storedKey, serverKey := Verifier(auth.HashSHA256, []byte("correct horse"), salt, 4000)
	return mapStore{"alice": {
		Name:       "alice",
		Salt:       salt,
		Iterations: 4000,
		Method:     auth.HashSHA256,
		StoredKey:  storedKey,
		ServerKey:  serverKey,
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
	challenge := []byte("transport binding")
	serverErr, clientErr := runExchange(t, aliceStore(t), "alice", "correct horse", challenge)
	if serverErr != nil {
		t.Fatalf("server: %v", serverErr)
	}
	if clientErr != nil {
		t.Fatalf("client: %v", clientErr)
	}
}

func TestWrongPasswordRejected(t *testing.T) {
	serverErr, _ := runExchange(t, aliceStore(t), "alice", "incorrect horse", nil)
	if !errors.Is(serverErr, auth.ErrAuthenticationFailed) {
		t.Fatalf("server err = %v, want ErrAuthenticationFailed", serverErr)
	}
}

func TestUnknownUserRejected(t *testing.T) {
	serverErr, _ := runExchange(t, aliceStore(t), "mallory", "correct horse", nil)
	if !errors.Is(serverErr, auth.ErrAuthenticationFailed) {
		t.Fatalf("server err = %v, want ErrAuthenticationFailed", serverErr)
	}
}

func TestClientAndServerDeriveSameKeys(t *testing.T) {
	salt := make([]byte, 32)
	rand.Read(salt)
	sp := SaltedPassword(auth.HashSHA256, []byte("correct horse"), salt, 4000)
	storedKey, serverKey := Verifier(auth.HashSHA256, []byte("correct horse"), salt, 4000)

	if got := StoredKey(auth.HashSHA256, ClientKey(auth.HashSHA256, sp)); !auth.SecureEquals(got, storedKey) {
		t.Fatal("client-side stored key does not match verifier")
	}
	if got := ServerKey(auth.HashSHA256, sp); !auth.SecureEquals(got, serverKey) {
		t.Fatal("client-side server key does not match verifier")
	}
}

func TestFlippedProofByteRejected(t *testing.T) {
	salt := make([]byte, 32)
	rand.Read(salt)
	sp := SaltedPassword(auth.HashSHA256, []byte("correct horse"), salt, 4000)
	storedKey, _ := Verifier(auth.HashSHA256, []byte("correct horse"), salt, 4000)
	msg := authMessage("alice", []byte("cn"), []byte("sn"), salt, 4000, nil)

	proof := ClientProof(auth.HashSHA256, sp, msg)
	if !VerifyClientProof(auth.HashSHA256, storedKey, msg, proof) {
		t.Fatal("valid proof rejected")
	}
	for i := range proof {
		for bit := 0; bit < 8; bit++ {
			flipped := make([]byte, len(proof))
			copy(flipped, proof)
			flipped[i] ^= 1 << bit
			if VerifyClientProof(auth.HashSHA256, storedKey, msg, flipped) {
				t.Fatalf("proof with byte %d bit %d flipped accepted", i, bit)
			}
		}
	}
}

func TestAllHashMethods(t *testing.T) {
	for _, m := range []auth.HashMethod{auth.HashSHA1, auth.HashSHA256, auth.HashSHA384, auth.HashSHA512} {
		salt := make([]byte, 32)
		rand.Read(salt)
		storedKey, serverKey := Verifier(m, []byte("pw"), salt, 100)
		store := mapStore{"u": {
			Name: "u", Salt: salt, Iterations: 100, Method: m,
			StoredKey: storedKey, ServerKey: serverKey,
		}}
		serverErr, clientErr := runExchange(t, store, "u", "pw", nil)
		if serverErr != nil || clientErr != nil {
			t.Fatalf("%s: server %v client %v", m, serverErr, clientErr)
		}
	}
}
