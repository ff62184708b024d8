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

// Package credentials persists user records: per-user salt,
// iteration count, hash method and the verifier material for each
// supported mechanism, in a versioned binary record format inside an
// embedded bbolt database.
package credentials

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/snapdb-project/snapdb/internal/auth"
	"github.com/snapdb-project/snapdb/internal/auth/scram"
	"github.com/snapdb-project/snapdb/internal/auth/srp"
	"github.com/snapdb-project/snapdb/internal/binstream"
)

var (
	bucketUsers = []byte("users")
	bucketMeta  = []byte("meta")
	keyVersion  = []byte("version")
)

// Record format versions. Version 1 predates per-record hash methods
// (everything was SHA-256) and SRP verifiers; version 2 is current.
const (
	formatV1 = 1
	formatV2 = 2
)

// DefaultIterations is the PBKDF2 cost for new records.
const DefaultIterations = 4000

// Store is a bbolt-backed credential database implementing auth.Store.
type Store struct {
	mu sync.RWMutex
	db *bolt.DB
}

// Open opens (creating if absent) the credential database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketUsers); err != nil {
			return err
		}
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		if meta.Get(keyVersion) == nil {
			return meta.Put(keyVersion, []byte{formatV2})
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// UserOptions tune a new or updated record.
type UserOptions struct {
	Iterations int
	Method     auth.HashMethod
	CanRead    bool
	CanWrite   bool
	IsAdmin    bool
}

// derive builds a full credential record from a password: fresh salt,
// SCRAM key pair, SRP verifier.
func derive(name, password string, opts UserOptions) (*auth.User, error) {
	if opts.Iterations <= 0 {
		opts.Iterations = DefaultIterations
	}
	if opts.Method == 0 {
		opts.Method = auth.HashSHA256
	}
	salt := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	storedKey, serverKey := scram.Verifier(opts.Method, []byte(password), salt, opts.Iterations)
	return &auth.User{
		Name:        name,
		Salt:        salt,
		Iterations:  opts.Iterations,
		Method:      opts.Method,
		StoredKey:   storedKey,
		ServerKey:   serverKey,
		SRPVerifier: srp.Verifier([]byte(password), salt, opts.Iterations),
		CanRead:     opts.CanRead,
		CanWrite:    opts.CanWrite,
		IsAdmin:     opts.IsAdmin,
	}, nil
}

// Put creates or replaces the record for name, deriving fresh salt and
// verifiers from password.
func (s *Store) Put(name, password string, opts UserOptions) error {
	user, err := derive(name, password, opts)
	if err != nil {
		return err
	}
	raw, err := encodeRecord(user)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUsers).Put([]byte(name), raw)
	})
}

// Delete removes name's record.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUsers).Delete([]byte(name))
	})
}

// Lookup implements auth.Store.
func (s *Store) Lookup(name string) (*auth.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var user *auth.User
	s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketUsers).Get([]byte(name))
		if raw == nil {
			return nil
		}
		u, err := decodeRecord(raw)
		if err != nil {
			return err
		}
		user = u
		return nil
	})
	return user, user != nil
}

// List returns every username.
func (s *Store) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	return names, err
}

const (
	flagCanRead  = 1 << 0
	flagCanWrite = 1 << 1
	flagIsAdmin  = 1 << 2
)

// encodeRecord writes the version-2 record image: version byte, name,
// salt, iterations, hash method, the SCRAM key pair, the SRP verifier,
// and the capability flags.
func encodeRecord(u *auth.User) ([]byte, error) {
	w := binstream.NewBuffer()
	if err := w.WriteU8(formatV2); err != nil {
		return nil, err
	}
	if err := w.WriteString(u.Name); err != nil {
		return nil, err
	}
	if err := w.WriteBytes(u.Salt); err != nil {
		return nil, err
	}
	if err := w.WriteU32(uint32(u.Iterations)); err != nil {
		return nil, err
	}
	if err := w.WriteU8(uint8(u.Method)); err != nil {
		return nil, err
	}
	if err := w.WriteBytes(u.StoredKey); err != nil {
		return nil, err
	}
	if err := w.WriteBytes(u.ServerKey); err != nil {
		return nil, err
	}
	if err := w.WriteBytes(u.SRPVerifier); err != nil {
		return nil, err
	}
	var flags uint8
	if u.CanRead {
		flags |= flagCanRead
	}
	if u.CanWrite {
		flags |= flagCanWrite
	}
	if u.IsAdmin {
		flags |= flagIsAdmin
	}
	if err := w.WriteU8(flags); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func decodeRecord(raw []byte) (*auth.User, error) {
	r := binstream.NewBufferFrom(raw)
	version, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	switch version {
	case formatV1:
		return decodeRecordV1(r)
	case formatV2:
		return decodeRecordV2(r)
	}
	return nil, fmt.Errorf("credentials: unknown record version %d", version)
}

func decodeRecordV2(r *binstream.Buffer) (*auth.User, error) {
	u := &auth.User{}
	var err error
	if u.Name, err = r.ReadString(255); err != nil {
		return nil, err
	}
	if u.Salt, err = r.ReadBytes(256); err != nil {
		return nil, err
	}
	iters, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	u.Iterations = int(iters)
	method, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	u.Method = auth.HashMethod(method)
	if u.StoredKey, err = r.ReadBytes(256); err != nil {
		return nil, err
	}
	if u.ServerKey, err = r.ReadBytes(256); err != nil {
		return nil, err
	}
	if u.SRPVerifier, err = r.ReadBytes(512); err != nil {
		return nil, err
	}
	flags, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	u.CanRead = flags&flagCanRead != 0
	u.CanWrite = flags&flagCanWrite != 0
	u.IsAdmin = flags&flagIsAdmin != 0
	return u, nil
}

// decodeRecordV1 reads the legacy layout: fixed SHA-256, SCRAM keys
// only. Legacy users keep working for SCRAM; SRP requires a password
// change that rewrites the record at version 2.
func decodeRecordV1(r *binstream.Buffer) (*auth.User, error) {
	u := &auth.User{Method: auth.HashSHA256}
	var err error
	if u.Name, err = r.ReadString(255); err != nil {
		return nil, err
	}
	if u.Salt, err = r.ReadBytes(256); err != nil {
		return nil, err
	}
	iters, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	u.Iterations = int(iters)
	if u.StoredKey, err = r.ReadBytes(256); err != nil {
		return nil, err
	}
	if u.ServerKey, err = r.ReadBytes(256); err != nil {
		return nil, err
	}
	flags, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	u.CanRead = flags&flagCanRead != 0
	u.CanWrite = flags&flagCanWrite != 0
	u.IsAdmin = flags&flagIsAdmin != 0
	return u, nil
}
