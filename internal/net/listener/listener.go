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

// Package listener accepts SnapDB client connections: one accept loop,
// one worker goroutine per connection running handshake then session,
// a live-client registry for status and shutdown, and graceful
// teardown that closes every worker's stream.
package listener

import (
	"errors"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/snapdb-project/snapdb/internal/auth"
	"github.com/snapdb-project/snapdb/internal/engine"
	"github.com/snapdb-project/snapdb/internal/handleset"
	"github.com/snapdb-project/snapdb/internal/session"
	"github.com/snapdb-project/snapdb/internal/wire/handshake"
)

// Config configures one listener.
type Config struct {
	// Addr is the host:port to bind; an empty host binds dual-stack.
	Addr string
	// Handshake carries TLS and authentication settings.
	Handshake handshake.ServerConfig
	// Engine serves the sessions.
	Engine *engine.Server
	// Logf defaults to log.Printf.
	Logf func(format string, args ...any)
}

// ClientStatus describes one live connection.
type ClientStatus struct {
	RemoteAddr  string
	User        string
	ConnectedAt time.Time
}

type connHandle struct {
	conn    net.Conn
	user    atomic.Pointer[string]
	started time.Time
}

// Listener is the accept loop plus the registry of live workers.
type Listener struct {
	cfg     Config
	ln      net.Listener
	clients *handleset.Set[*connHandle]
	wg      sync.WaitGroup
	closed  atomic.Bool
	logf    func(format string, args ...any)
}

// Listen binds the endpoint and returns a listener ready to Serve.
func Listen(cfg Config) (*Listener, error) {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, err
	}
	logf := cfg.Logf
	if logf == nil {
		logf = log.Printf
	}
	return &Listener{
		cfg:     cfg,
		ln:      ln,
		clients: handleset.New[*connHandle](),
		logf:    logf,
	}, nil
}

// Addr reports the bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Serve accepts connections until Shutdown. It returns nil after a
// clean shutdown.
func (l *Listener) Serve() error {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if l.closed.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		c := &connHandle{conn: conn, started: time.Now()}
		empty := ""
		c.user.Store(&empty)
		h := l.clients.Add(c)
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			defer l.clients.Remove(h)
			defer conn.Close()
			l.serveConn(c)
		}()
	}
}

func (l *Listener) serveConn(c *connHandle) {
	met := l.cfg.Engine.Metrics()
	met.ActiveConnections.Inc()
	defer met.ActiveConnections.Dec()

	res, err := handshake.Server(c.conn, l.cfg.Handshake)
	if err != nil {
		if errors.Is(err, auth.ErrAuthenticationFailed) {
			met.AuthFailures.Inc()
		}
		l.logf("snapdb: handshake from %s failed: %v", c.conn.RemoteAddr(), err)
		return
	}
	c.user.Store(&res.User)
	c.conn = res.Conn

	sess := session.New(l.cfg.Engine, res.Stream, res.Conn, res.User)
	if err := sess.Run(); err != nil && !errors.Is(err, net.ErrClosed) {
		l.logf("snapdb: session %s (%s) ended: %v", c.conn.RemoteAddr(), res.User, err)
	}
}

// Status snapshots the live connections.
func (l *Listener) Status() []ClientStatus {
	var out []ClientStatus
	l.clients.Range(func(_ handleset.Handle, c *connHandle) bool {
		out = append(out, ClientStatus{
			RemoteAddr:  c.conn.RemoteAddr().String(),
			User:        *c.user.Load(),
			ConnectedAt: c.started,
		})
		return true
	})
	return out
}

// Shutdown stops accepting, closes every live connection's stream and
// waits for the workers to unwind.
func (l *Listener) Shutdown() error {
	l.closed.Store(true)
	err := l.ln.Close()
	l.clients.Range(func(_ handleset.Handle, c *connHandle) bool {
		c.conn.Close()
		return true
	})
	l.wg.Wait()
	return err
}
