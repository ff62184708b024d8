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
	"sync"

	"github.com/snapdb-project/snapdb/internal/auth"
)

// Defaults are the capabilities granted to the anonymous user and to
// authenticated users without a record.
type Defaults struct {
	CanRead  bool
	CanWrite bool
	IsAdmin  bool
}

// Permissions adapts an auth.Store plus defaults to the engine's
// per-user capability queries.
type Permissions struct {
	Store    auth.Store
	Defaults Defaults
}

func (p Permissions) lookup(user string) (auth.User, bool) {
	if user == "" || p.Store == nil {
		return auth.User{}, false
	}
	u, ok := p.Store.Lookup(user)
	if !ok {
		return auth.User{}, false
	}
	return *u, true
}

func (p Permissions) CanRead(user string) bool {
	if u, ok := p.lookup(user); ok {
		return u.CanRead
	}
	return p.Defaults.CanRead
}

func (p Permissions) CanWrite(user string) bool {
	if u, ok := p.lookup(user); ok {
		return u.CanWrite
	}
	return p.Defaults.CanWrite
}

func (p Permissions) IsAdmin(user string) bool {
	if u, ok := p.lookup(user); ok {
		return u.IsAdmin
	}
	return p.Defaults.IsAdmin
}

// MemoryStore is an in-memory auth.Store for configurations that list
// users inline instead of pointing at a credentials database.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]*auth.User
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]*auth.User)}
}

// Add derives verifiers for password and stores the record.
func (m *MemoryStore) Add(name, password string, opts UserOptions) error {
	st, err := derive(name, password, opts)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.users[name] = st
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Lookup(name string) (*auth.User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[name]
	return u, ok
}
