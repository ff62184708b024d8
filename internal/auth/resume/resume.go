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

// Package resume implements session-resumption tickets: after a full
// authentication the server hands out an opaque ticket and a session
// secret; presenting the ticket later proves possession of the secret
// through a nonce exchange without re-running the full handshake.
// Tickets are single-use and expire after a configurable age.
package resume

import (
	"crypto/hmac"
	"crypto/sha256"
	"io"
	"sync"
	"time"

	"github.com/snapdb-project/snapdb/internal/auth"
	"github.com/snapdb-project/snapdb/internal/wire"
)

const (
	ticketLen = 16
	secretLen = 32
	nonceLen  = 16

	// DefaultMaxAge bounds a ticket's life when no limit is configured.
	DefaultMaxAge = 24 * time.Hour
)

type ticketState struct {
	user     string
	secret   []byte
	issuedAt time.Time
}

// Store holds outstanding tickets in memory. Tickets do not survive a
// restart; clients fall back to full authentication.
type Store struct {
	mu      sync.Mutex
	tickets map[[ticketLen]byte]ticketState
	maxAge  time.Duration
	now     func() time.Time
	rand    io.Reader
}

// NewStore builds a ticket store. maxAge <= 0 selects DefaultMaxAge;
// now may be nil (wall clock).
func NewStore(maxAge time.Duration, now func() time.Time, random io.Reader) *Store {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if now == nil {
		now = time.Now
	}
	return &Store{
		tickets: make(map[[ticketLen]byte]ticketState),
		maxAge:  maxAge,
		now:     now,
		rand:    random,
	}
}

// Issue mints a fresh (ticket, secret) pair for user.
func (st *Store) Issue(user string) (ticket, secret []byte, err error) {
	ticket = make([]byte, ticketLen)
	secret = make([]byte, secretLen)
	if _, err := io.ReadFull(st.rand, ticket); err != nil {
		return nil, nil, err
	}
	if _, err := io.ReadFull(st.rand, secret); err != nil {
		return nil, nil, err
	}
	var key [ticketLen]byte
	copy(key[:], ticket)
	st.mu.Lock()
	st.tickets[key] = ticketState{user: user, secret: secret, issuedAt: st.now()}
	st.mu.Unlock()
	return ticket, secret, nil
}

// redeem consumes a ticket, enforcing single use and the age bound.
func (st *Store) redeem(ticket []byte) (ticketState, bool) {
	if len(ticket) != ticketLen {
		return ticketState{}, false
	}
	var key [ticketLen]byte
	copy(key[:], ticket)
	st.mu.Lock()
	defer st.mu.Unlock()
	state, ok := st.tickets[key]
	if !ok {
		return ticketState{}, false
	}
	delete(st.tickets, key)
	if st.now().Sub(state.issuedAt) > st.maxAge {
		return ticketState{}, false
	}
	return state, true
}

func proof(secret, clientNonce, serverNonce, challenge []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(clientNonce)
	mac.Write(serverNonce)
	mac.Write(challenge)
	return mac.Sum(nil)
}

// Server validates one resume attempt over s, returning the resumed
// username.
func (st *Store) Server(s *wire.Stream, challenge []byte) (string, error) {
	ticket, err := s.ReadBytes(ticketLen)
	if err != nil {
		return "", err
	}
	clientNonce, err := s.ReadBytes(nonceLen)
	if err != nil {
		return "", err
	}

	serverNonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(st.rand, serverNonce); err != nil {
		return "", err
	}
	if err := s.WriteBytes(serverNonce); err != nil {
		return "", err
	}
	if err := s.Flush(); err != nil {
		return "", err
	}

	clientProof, err := s.ReadBytes(64)
	if err != nil {
		return "", err
	}

	state, ok := st.redeem(ticket)
	if !ok {
		return "", auth.ErrAuthenticationFailed
	}
	want := proof(state.secret, clientNonce, serverNonce, challenge)
	if !auth.SecureEquals(clientProof, want) {
		return "", auth.ErrAuthenticationFailed
	}

	serverProof := proof(state.secret, serverNonce, clientNonce, challenge)
	if err := s.WriteBytes(serverProof); err != nil {
		return "", err
	}
	if err := s.Flush(); err != nil {
		return "", err
	}
	return state.user, nil
}

// Client presents ticket/secret over s.
func Client(s *wire.Stream, ticket, secret, challenge []byte, random io.Reader) error {
	clientNonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(random, clientNonce); err != nil {
		return err
	}
	if err := s.WriteBytes(ticket); err != nil {
		return err
	}
	if err := s.WriteBytes(clientNonce); err != nil {
		return err
	}
	if err := s.Flush(); err != nil {
		return err
	}

	serverNonce, err := s.ReadBytes(nonceLen)
	if err != nil {
		return err
	}
	if err := s.WriteBytes(proof(secret, clientNonce, serverNonce, challenge)); err != nil {
		return err
	}
	if err := s.Flush(); err != nil {
		return err
	}

	serverProof, err := s.ReadBytes(64)
	if err != nil {
		return auth.ErrAuthenticationFailed
	}
	if !auth.SecureEquals(serverProof, proof(secret, serverNonce, clientNonce, challenge)) {
		return auth.ErrAuthenticationFailed
	}
	return nil
}
