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

// Package engine is the server-side heart of SnapDB: it owns the set
// of databases, each holding a copy-on-write list of attached archives
// and a single-writer append buffer, and builds the merging readers
// that serve filtered range scans across all of them.
package engine

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/snapdb-project/snapdb/internal/archive"
	"github.com/snapdb-project/snapdb/internal/binstream"
	"github.com/snapdb-project/snapdb/internal/engine/metrics"
	"github.com/snapdb-project/snapdb/internal/points"
)

// ErrUnknownTypePair is returned when no factory is registered for a
// database's (key type, value type) GUID pair.
var ErrUnknownTypePair = errors.New("engine: no factory for the requested key/value type pair")

// Permissions answers per-user capability questions; the engine's
// access predicates close over it.
type Permissions interface {
	CanRead(user string) bool
	CanWrite(user string) bool
	IsAdmin(user string) bool
}

// AllowAll grants everything; the default when no user store is
// configured.
type AllowAll struct{}

func (AllowAll) CanRead(string) bool  { return true }
func (AllowAll) CanWrite(string) bool { return true }
func (AllowAll) IsAdmin(string) bool  { return true }

// DatabaseConfig describes one database to bring up.
type DatabaseConfig struct {
	Name      string
	Dir       string
	KeyType   binstream.Guid
	ValueType binstream.Guid
	BlockSize int
	// Archives are attached at startup, oldest first.
	Archives []string
}

// Factory builds a concretely-typed database behind the SessionDB
// interface.
type Factory func(s *Server, cfg DatabaseConfig) (SessionDB, error)

// Registry maps (key type, value type) GUID pairs to factories. This
// replaces dynamic dispatch at the wire boundary: every supported pair
// is enumerated at construction.
type Registry map[[2]binstream.Guid]Factory

// Register binds a factory for the pair.
func (r Registry) Register(keyType, valueType binstream.Guid, f Factory) {
	r[[2]binstream.Guid{keyType, valueType}] = f
}

// NewTypedFactory returns the factory for one concrete pair.
func NewTypedFactory[K any, PK points.KeyPtr[K], V any, PV points.ValuePtr[V]]() Factory {
	return func(s *Server, cfg DatabaseConfig) (SessionDB, error) {
		return newDatabase[K, PK, V, PV](s, cfg)
	}
}

// NewRegistry returns a registry with the built-in type pairs bound.
func NewRegistry() Registry {
	r := make(Registry)
	r.Register(points.U64KeyGUID, points.U64ValueGUID,
		NewTypedFactory[points.U64Key, *points.U64Key, points.U64Value, *points.U64Value]())
	r.Register(points.HistorianKeyGUID, points.HistorianValueGUID,
		NewTypedFactory[points.HistorianKey, *points.HistorianKey, points.HistorianValue, *points.HistorianValue]())
	return r
}

// ServerConfig carries the engine-level knobs.
type ServerConfig struct {
	// UnlinkLogPath is where the deferred-deletion journal lives.
	UnlinkLogPath string
	// Permissions may be nil (everything allowed).
	Permissions Permissions
	// Registry may be nil (built-ins only).
	Registry Registry
	// Metrics registerer may be nil (a private registry is created).
	Metrics prometheus.Registerer
	// Now is the clock; nil means time.Now. Tests pin it.
	Now func() time.Time
}

// Server owns every database and the shared open-file machinery.
type Server struct {
	mu  sync.Mutex
	dbs map[string]SessionDB

	registry Registry
	opener   *archive.Opener
	unlink   *archive.UnlinkLog
	perms    Permissions
	met      *metrics.Set
	now      func() time.Time
}

// NewServer builds an empty engine.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Permissions == nil {
		cfg.Permissions = AllowAll{}
	}
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = prometheus.NewRegistry()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.UnlinkLogPath == "" {
		cfg.UnlinkLogPath = "snapdb-unlink.log"
	}
	return &Server{
		dbs:      make(map[string]SessionDB),
		registry: cfg.Registry,
		opener:   archive.NewOpener(),
		unlink:   archive.OpenUnlinkLog(cfg.UnlinkLogPath),
		perms:    cfg.Permissions,
		met:      metrics.New(cfg.Metrics),
		now:      cfg.Now,
	}
}

// Metrics exposes the engine's collector set for listener-level
// instrumentation.
func (s *Server) Metrics() *metrics.Set { return s.met }

// Permissions exposes the configured permission source.
func (s *Server) Permissions() Permissions { return s.perms }

// AddDatabase brings up the database cfg describes.
func (s *Server) AddDatabase(cfg DatabaseConfig) error {
	f, ok := s.registry[[2]binstream.Guid{cfg.KeyType, cfg.ValueType}]
	if !ok {
		return ErrUnknownTypePair
	}
	db, err := f(s, cfg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.dbs[cfg.Name]; exists {
		return fmt.Errorf("engine: database %q already exists", cfg.Name)
	}
	s.dbs[cfg.Name] = db
	return nil
}

// GetDatabase looks a database up by name.
func (s *Server) GetDatabase(name string) (SessionDB, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.dbs[name]
	return db, ok
}

// ListDatabases returns every database's Info, sorted by name.
func (s *Server) ListDatabases() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Info, 0, len(s.dbs))
	for _, db := range s.dbs {
		out = append(out, db.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// StatusAll reports every database's status, sorted by name.
func (s *Server) StatusAll() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, 0, len(s.dbs))
	for _, db := range s.dbs {
		out = append(out, db.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Info.Name < out[j].Info.Name })
	return out
}

// HardCommitAll flushes every database's write buffer to disk. The
// daemon drives this on a timer; a failed database keeps its buffer
// and is retried on the next pass.
func (s *Server) HardCommitAll() error {
	s.mu.Lock()
	dbs := make([]SessionDB, 0, len(s.dbs))
	for _, db := range s.dbs {
		dbs = append(dbs, db)
	}
	s.mu.Unlock()
	var firstErr error
	for _, db := range dbs {
		if err := db.HardCommit(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SweepDeferredUnlinks replays the deferred-deletion journal once,
// typically at startup.
func (s *Server) SweepDeferredUnlinks() ([]string, error) {
	return s.unlink.Sweep(s.opener.InUse)
}

// Shutdown closes every database.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	dbs := make([]SessionDB, 0, len(s.dbs))
	for _, db := range s.dbs {
		dbs = append(dbs, db)
	}
	s.dbs = make(map[string]SessionDB)
	s.mu.Unlock()
	var firstErr error
	for _, db := range dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
