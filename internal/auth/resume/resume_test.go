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

package resume

import (
	"crypto/rand"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/snapdb-project/snapdb/internal/auth"
	"github.com/snapdb-project/snapdb/internal/wire"
)

func runResume(t *testing.T, st *Store, ticket, secret, challenge []byte) (string, error, error) {
	t.Helper()
	cConn, sConn := net.Pipe()
	defer cConn.Close()
	defer sConn.Close()

	type result struct {
		user string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		user, err := st.Server(wire.NewStream(sConn), challenge)
		done <- result{user, err}
	}()
	clientErr := Client(wire.NewStream(cConn), ticket, secret, challenge, rand.Reader)
	r := <-done
	return r.user, r.err, clientErr
}

func TestResumeRoundTrip(t *testing.T) {
	st := NewStore(0, nil, rand.Reader)
	ticket, secret, err := st.Issue("carol")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	user, serverErr, clientErr := runResume(t, st, ticket, secret, []byte("chal"))
	if serverErr != nil || clientErr != nil {
		t.Fatalf("server %v, client %v", serverErr, clientErr)
	}
	if user != "carol" {
		t.Fatalf("resumed user = %q, want carol", user)
	}
}

func TestTicketSingleUse(t *testing.T) {
	st := NewStore(0, nil, rand.Reader)
	ticket, secret, _ := st.Issue("carol")
	if _, serverErr, _ := runResume(t, st, ticket, secret, nil); serverErr != nil {
		t.Fatalf("first use: %v", serverErr)
	}
	_, serverErr, _ := runResume(t, st, ticket, secret, nil)
	if !errors.Is(serverErr, auth.ErrAuthenticationFailed) {
		t.Fatalf("second use err = %v, want ErrAuthenticationFailed", serverErr)
	}
}

func TestWrongSecretRejected(t *testing.T) {
	st := NewStore(0, nil, rand.Reader)
	ticket, secret, _ := st.Issue("carol")
	bad := make([]byte, len(secret))
	copy(bad, secret)
	bad[0] ^= 1
	_, serverErr, _ := runResume(t, st, ticket, bad, nil)
	if !errors.Is(serverErr, auth.ErrAuthenticationFailed) {
		t.Fatalf("err = %v, want ErrAuthenticationFailed", serverErr)
	}
}

func TestExpiredTicketRejected(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	st := NewStore(time.Hour, clock, rand.Reader)
	ticket, secret, _ := st.Issue("carol")

	now = now.Add(2 * time.Hour)
	_, serverErr, _ := runResume(t, st, ticket, secret, nil)
	if !errors.Is(serverErr, auth.ErrAuthenticationFailed) {
		t.Fatalf("expired ticket err = %v, want ErrAuthenticationFailed", serverErr)
	}
}
