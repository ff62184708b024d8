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

// Package scram implements a salted-challenge-response handshake in
// the RFC 5802 shape, with a pluggable digest and binary framing over
// the session stream. The transport's additional-challenge bytes (the
// TLS certificate hash when SSL is on) are mixed into the auth message
// so a proof replayed over a different transport never verifies.
package scram

import (
	"crypto/hmac"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"github.com/snapdb-project/snapdb/internal/auth"
	"github.com/snapdb-project/snapdb/internal/wire"
)

const nonceLen = 16

// SaltedPassword runs the password through PBKDF2 under the user's
// digest, the Hi() operation.
func SaltedPassword(m auth.HashMethod, password, salt []byte, iterations int) []byte {
	return pbkdf2.Key(password, salt, iterations, m.Size(), m.New())
}

// ClientKey derives the client key from the salted password.
func ClientKey(m auth.HashMethod, saltedPassword []byte) []byte {
	return hmacSum(m, saltedPassword, []byte("Client Key"))
}

// ServerKey derives the server key from the salted password.
func ServerKey(m auth.HashMethod, saltedPassword []byte) []byte {
	return hmacSum(m, saltedPassword, []byte("Server Key"))
}

// StoredKey hashes the client key; it is what the server persists.
func StoredKey(m auth.HashMethod, clientKey []byte) []byte {
	h := m.New()()
	h.Write(clientKey)
	return h.Sum(nil)
}

// Verifier computes the (StoredKey, ServerKey) pair to persist for a
// fresh credential.
func Verifier(m auth.HashMethod, password, salt []byte, iterations int) (storedKey, serverKey []byte) {
	sp := SaltedPassword(m, password, salt, iterations)
	return StoredKey(m, ClientKey(m, sp)), ServerKey(m, sp)
}

func hmacSum(m auth.HashMethod, key, msg []byte) []byte {
	h := hmac.New(m.New(), key)
	h.Write(msg)
	return h.Sum(nil)
}

// authMessage binds every public parameter of the exchange, including
// the transport challenge.
func authMessage(user string, clientNonce, serverNonce, salt []byte, iterations int, challenge []byte) []byte {
	msg := make([]byte, 0, len(user)+2*nonceLen+len(salt)+len(challenge)+4)
	msg = append(msg, user...)
	msg = append(msg, clientNonce...)
	msg = append(msg, serverNonce...)
	msg = append(msg, salt...)
	msg = append(msg,
		byte(iterations), byte(iterations>>8), byte(iterations>>16), byte(iterations>>24))
	msg = append(msg, challenge...)
	return msg
}

// ClientProof computes the proof the client sends.
func ClientProof(m auth.HashMethod, saltedPassword []byte, authMsg []byte) []byte {
	ck := ClientKey(m, saltedPassword)
	sig := hmacSum(m, StoredKey(m, ck), authMsg)
	proof := make([]byte, len(ck))
	for i := range ck {
		proof[i] = ck[i] ^ sig[i]
	}
	return proof
}

// ServerSignature computes the proof the server returns.
func ServerSignature(m auth.HashMethod, serverKey, authMsg []byte) []byte {
	return hmacSum(m, serverKey, authMsg)
}

// VerifyClientProof recovers the client key from the proof and checks
// it against the stored key, in constant time.
func VerifyClientProof(m auth.HashMethod, storedKey, authMsg, proof []byte) bool {
	if len(proof) != m.Size() {
		return false
	}
	sig := hmacSum(m, storedKey, authMsg)
	clientKey := make([]byte, len(proof))
	for i := range proof {
		clientKey[i] = proof[i] ^ sig[i]
	}
	return auth.SecureEquals(StoredKey(m, clientKey), storedKey)
}

// Server runs the server side of the exchange over s. challenge is the
// transport binding; rand supplies the server nonce.
func Server(s *wire.Stream, store auth.Store, challenge []byte, rand io.Reader) (*auth.User, error) {
	username, err := s.ReadString(255)
	if err != nil {
		return nil, err
	}
	clientNonce, err := s.ReadBytes(nonceLen)
	if err != nil {
		return nil, err
	}

	user, ok := store.Lookup(username)
	if !ok {
		// Proceed with unusable parameters so the peer cannot probe
		// which usernames exist; the proof check below always fails.
		user = &auth.User{
			Name:       username,
			Salt:       make([]byte, 32),
			Iterations: 4000,
			Method:     auth.HashSHA256,
			StoredKey:  make([]byte, auth.HashSHA256.Size()),
			ServerKey:  make([]byte, auth.HashSHA256.Size()),
		}
	}

	serverNonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand, serverNonce); err != nil {
		return nil, err
	}
	if err := s.WriteBytes(serverNonce); err != nil {
		return nil, err
	}
	if err := s.WriteBytes(user.Salt); err != nil {
		return nil, err
	}
	if err := s.WriteU32(uint32(user.Iterations)); err != nil {
		return nil, err
	}
	if err := s.WriteU8(uint8(user.Method)); err != nil {
		return nil, err
	}
	if err := s.Flush(); err != nil {
		return nil, err
	}

	proof, err := s.ReadBytes(64)
	if err != nil {
		return nil, err
	}
	msg := authMessage(username, clientNonce, serverNonce, user.Salt, user.Iterations, challenge)
	if !ok || !VerifyClientProof(user.Method, user.StoredKey, msg, proof) {
		return nil, auth.ErrAuthenticationFailed
	}
	if err := s.WriteBytes(ServerSignature(user.Method, user.ServerKey, msg)); err != nil {
		return nil, err
	}
	if err := s.Flush(); err != nil {
		return nil, err
	}
	return user, nil
}

// Client runs the client side of the exchange over s.
func Client(s *wire.Stream, username, password string, challenge []byte, rand io.Reader) error {
	clientNonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand, clientNonce); err != nil {
		return err
	}
	if err := s.WriteString(username); err != nil {
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
	salt, err := s.ReadBytes(64)
	if err != nil {
		return err
	}
	iterations, err := s.ReadU32()
	if err != nil {
		return err
	}
	methodByte, err := s.ReadU8()
	if err != nil {
		return err
	}
	method := auth.HashMethod(methodByte)
	if method.New() == nil {
		return auth.ErrAuthenticationFailed
	}

	sp := SaltedPassword(method, []byte(password), salt, int(iterations))
	msg := authMessage(username, clientNonce, serverNonce, salt, int(iterations), challenge)
	if err := s.WriteBytes(ClientProof(method, sp, msg)); err != nil {
		return err
	}
	if err := s.Flush(); err != nil {
		return err
	}

	serverSig, err := s.ReadBytes(64)
	if err != nil {
		return auth.ErrAuthenticationFailed
	}
	want := ServerSignature(method, ServerKey(method, sp), msg)
	if !auth.SecureEquals(serverSig, want) {
		return auth.ErrAuthenticationFailed
	}
	return nil
}
