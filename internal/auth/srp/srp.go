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

// Package srp implements the RFC 5054 password-authenticated key
// exchange with the 2048-bit group, PBKDF2-HMAC-SHA-512 password
// stretching, and the transport's additional-challenge bytes mixed
// into every proof hash.
package srp

import (
	"crypto/rand"
	"crypto/sha256"
	"io"
	"math/big"

	"golang.org/x/crypto/pbkdf2"

	"github.com/snapdb-project/snapdb/internal/auth"
	"github.com/snapdb-project/snapdb/internal/wire"
)

var (
	groupN *big.Int
	groupG = big.NewInt(2)
	groupK *big.Int
)

func init() {
	groupN, _ = new(big.Int).SetString(rfc5054Group2048, 16)
	if groupN == nil {
		panic("srp: bad group constant")
	}
	// k = H(N | PAD(g))
	h := sha256.New()
	h.Write(groupN.Bytes())
	h.Write(pad(groupG))
	groupK = new(big.Int).SetBytes(h.Sum(nil))
}

// rfc5054Group2048 is the prime from RFC 5054 Appendix A, 2048-bit
// group.
const rfc5054Group2048 = "AC6BDB41324A9A9BF166DE5E1389582FAF72B6651987EE07FC3192943DB56050" +
	"A37329CBB4A099ED8193E0757767A13DD52312AB4B03310DCD7F48A9DA04FD50" +
	"E8083969EDB767B0CF6095179A163AB3661A05FBD5FAAAE82918A9962F0B93B8" +
	"55F97993EC975EEAA80D740ADBF4FF747359D041D5C33EA71D281E446B14773B" +
	"CA97B43A23FB801676BD207A436C6481F1D2B9078717461A5B9D32E688F87748" +
	"544523B524B0D57D5EA77A2775D2ECFA032CFBDBF52FB3786160279004E57AE6" +
	"AF874E7303CE53299CCC041C7BC308D82A5698F3A8D0C38271AE35F8E9DBFBB6" +
	"94B5C803D89F7AE435DE236D525F54759B65E372FCD68EF20FA7111F9E4AFF73"

func pad(x *big.Int) []byte {
	b := x.Bytes()
	if len(b) >= 256 {
		return b
	}
	out := make([]byte, 256)
	copy(out[256-len(b):], b)
	return out
}

// Stretch derives the private exponent seed: PBKDF2-HMAC-SHA-512 of
// the password under the user's salt.
func Stretch(password, salt []byte, iterations int) []byte {
	return pbkdf2.Key(password, salt, iterations, 64, auth.HashSHA512.New())
}

func privateExponent(password, salt []byte, iterations int) *big.Int {
	x := new(big.Int).SetBytes(Stretch(password, salt, iterations))
	return x.Mod(x, groupN)
}

// Verifier computes the stored verifier v = g^x mod N.
func Verifier(password, salt []byte, iterations int) []byte {
	x := privateExponent(password, salt, iterations)
	return new(big.Int).Exp(groupG, x, groupN).Bytes()
}

func hashParts(parts ...[]byte) []byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// Server runs the six-message flow's server side over s.
func Server(s *wire.Stream, store auth.Store, challenge []byte, random io.Reader) (*auth.User, error) {
	username, err := s.ReadString(255)
	if err != nil {
		return nil, err
	}
	aBytes, err := s.ReadBytes(256)
	if err != nil {
		return nil, err
	}
	A := new(big.Int).SetBytes(aBytes)
	if new(big.Int).Mod(A, groupN).Sign() == 0 {
		return nil, auth.ErrAuthenticationFailed
	}

	user, ok := store.Lookup(username)
	if !ok {
		// Fabricate stable-looking parameters; the proof can never
		// verify against a random verifier.
		fake := make([]byte, 32)
		io.ReadFull(random, fake)
		user = &auth.User{
			Name:        username,
			Salt:        make([]byte, 32),
			Iterations:  4000,
			SRPVerifier: fake,
		}
	}
	v := new(big.Int).SetBytes(user.SRPVerifier)

	bBytes := make([]byte, 32)
	if _, err := io.ReadFull(random, bBytes); err != nil {
		return nil, err
	}
	b := new(big.Int).SetBytes(bBytes)
	// B = k*v + g^b
	B := new(big.Int).Exp(groupG, b, groupN)
	B.Add(B, new(big.Int).Mul(groupK, v))
	B.Mod(B, groupN)

	if err := s.WriteBytes(user.Salt); err != nil {
		return nil, err
	}
	if err := s.WriteU32(uint32(user.Iterations)); err != nil {
		return nil, err
	}
	if err := s.WriteBytes(B.Bytes()); err != nil {
		return nil, err
	}
	if err := s.Flush(); err != nil {
		return nil, err
	}

	u := new(big.Int).SetBytes(hashParts(pad(A), pad(B)))
	// S = (A * v^u)^b
	S := new(big.Int).Exp(v, u, groupN)
	S.Mul(S, A)
	S.Mod(S, groupN)
	S.Exp(S, b, groupN)
	K := hashParts(S.Bytes(), challenge)

	m1, err := s.ReadBytes(64)
	if err != nil {
		return nil, err
	}
	wantM1 := hashParts(pad(A), pad(B), K, challenge)
	if !ok || !auth.SecureEquals(m1, wantM1) {
		return nil, auth.ErrAuthenticationFailed
	}

	m2 := hashParts(pad(A), m1, K, challenge)
	if err := s.WriteBytes(m2); err != nil {
		return nil, err
	}
	if err := s.Flush(); err != nil {
		return nil, err
	}
	return user, nil
}

// Client runs the flow's client side over s.
func Client(s *wire.Stream, username, password string, challenge []byte, random io.Reader) error {
	aBytes := make([]byte, 32)
	if _, err := io.ReadFull(random, aBytes); err != nil {
		return err
	}
	a := new(big.Int).SetBytes(aBytes)
	A := new(big.Int).Exp(groupG, a, groupN)

	if err := s.WriteString(username); err != nil {
		return err
	}
	if err := s.WriteBytes(A.Bytes()); err != nil {
		return err
	}
	if err := s.Flush(); err != nil {
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
	bBytes, err := s.ReadBytes(256)
	if err != nil {
		return err
	}
	B := new(big.Int).SetBytes(bBytes)
	if new(big.Int).Mod(B, groupN).Sign() == 0 {
		return auth.ErrAuthenticationFailed
	}

	u := new(big.Int).SetBytes(hashParts(pad(A), pad(B)))
	x := privateExponent([]byte(password), salt, int(iterations))
	// S = (B - k*g^x)^(a + u*x)
	gx := new(big.Int).Exp(groupG, x, groupN)
	base := new(big.Int).Sub(B, new(big.Int).Mul(groupK, gx))
	base.Mod(base, groupN)
	exp := new(big.Int).Add(a, new(big.Int).Mul(u, x))
	S := new(big.Int).Exp(base, exp, groupN)
	K := hashParts(S.Bytes(), challenge)

	m1 := hashParts(pad(A), pad(B), K, challenge)
	if err := s.WriteBytes(m1); err != nil {
		return err
	}
	if err := s.Flush(); err != nil {
		return err
	}

	m2, err := s.ReadBytes(64)
	if err != nil {
		return auth.ErrAuthenticationFailed
	}
	if !auth.SecureEquals(m2, hashParts(pad(A), m1, K, challenge)) {
		return auth.ErrAuthenticationFailed
	}
	return nil
}

// RandomSalt returns a 32-byte salt.
func RandomSalt() []byte {
	b := make([]byte, 32)
	rand.Read(b)
	return b
}
