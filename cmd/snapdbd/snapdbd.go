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

// The snapdbd command runs the SnapDB server: it loads the
// configuration, brings up the engine and its databases, and serves
// the binary protocol until interrupted.
package main

import (
	"crypto/rand"
	"crypto/tls"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/snapdb-project/snapdb/internal/auth"
	"github.com/snapdb-project/snapdb/internal/auth/resume"
	"github.com/snapdb-project/snapdb/internal/config"
	"github.com/snapdb-project/snapdb/internal/credentials"
	"github.com/snapdb-project/snapdb/internal/engine"
	"github.com/snapdb-project/snapdb/internal/net/listener"
	"github.com/snapdb-project/snapdb/internal/wire/handshake"
)

var (
	flagConfig  = flag.String("config", "snapdb-config.json", "path to the configuration file")
	flagVersion = flag.Bool("version", false, "print version and exit")
)

const version = "1.0"

func main() {
	flag.Parse()
	if *flagVersion {
		fmt.Printf("snapdbd %s\n", version)
		return
	}
	if *flagLegal {
		printLicenses()
		return
	}
	if err := run(); err != nil {
		log.Fatalf("snapdbd: %v", err)
	}
}

func run() error {
	cfg, err := config.Load(*flagConfig)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	userStore, closeStore, err := buildUserStore(cfg)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	reg := prometheus.NewRegistry()
	srv := engine.NewServer(engine.ServerConfig{
		UnlinkLogPath: cfg.UnlinkLogPath,
		Permissions: credentials.Permissions{
			Store: userStore,
			Defaults: credentials.Defaults{
				CanRead:  cfg.DefaultUserCanRead,
				CanWrite: cfg.DefaultUserCanWrite,
				IsAdmin:  cfg.DefaultUserIsAdmin,
			},
		},
		Metrics: reg,
	})
	defer srv.Shutdown()

	if removed, err := srv.SweepDeferredUnlinks(); err != nil {
		log.Printf("snapdbd: deferred-unlink sweep: %v", err)
	} else if len(removed) > 0 {
		log.Printf("snapdbd: removed %d deferred archive(s)", len(removed))
	}

	for _, db := range cfg.Databases {
		err := srv.AddDatabase(engine.DatabaseConfig{
			Name:      db.Name,
			Dir:       db.Dir,
			KeyType:   db.KeyType,
			ValueType: db.ValueType,
			BlockSize: db.BlockSize,
			Archives:  db.Archives,
		})
		if err != nil {
			return fmt.Errorf("database %q: %w", db.Name, err)
		}
		log.Printf("snapdbd: database %q up", db.Name)
	}

	hs := handshake.ServerConfig{
		RequireSSL: cfg.RequireSSL,
		AllowNone:  cfg.AllowAnonymous,
		Users:      userStore,
		Tickets:    resume.NewStore(cfg.MaxResumeTicketAge, nil, rand.Reader),
	}
	if cfg.TLSCertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("loading TLS key pair: %w", err)
		}
		hs.TLS = &tls.Config{Certificates: []tls.Certificate{cert}}
	} else if cfg.RequireSSL {
		return fmt.Errorf("require_ssl is set but tls_cert_file is not")
	}

	ln, err := listener.Listen(listener.Config{
		Addr:      cfg.Addr(),
		Handshake: hs,
		Engine:    srv,
	})
	if err != nil {
		return err
	}
	log.Printf("snapdbd: %s listening on %s", cfg.ServerName, ln.Addr())

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Printf("snapdbd: metrics endpoint: %v", err)
			}
		}()
		log.Printf("snapdbd: metrics on http://%s/metrics", cfg.MetricsAddr)
	}

	if cfg.HardCommitInterval > 0 {
		ticker := time.NewTicker(cfg.HardCommitInterval)
		defer ticker.Stop()
		go func() {
			for range ticker.C {
				if err := srv.HardCommitAll(); err != nil {
					log.Printf("snapdbd: hard commit: %v", err)
				}
			}
		}()
	}

	done := make(chan error, 1)
	go func() { done <- ln.Serve() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-done:
		return err
	case s := <-sig:
		log.Printf("snapdbd: %v, shutting down", s)
		if err := ln.Shutdown(); err != nil {
			return err
		}
		return srv.Shutdown()
	}
}

// buildUserStore prefers the credentials database file; inline config
// users seed it (or an in-memory store when no file is configured).
func buildUserStore(cfg *config.Config) (auth.Store, func() error, error) {
	if cfg.CredentialsFile != "" {
		store, err := credentials.Open(cfg.CredentialsFile)
		if err != nil {
			return nil, nil, fmt.Errorf("opening credentials db: %w", err)
		}
		for _, u := range cfg.Users {
			if u.Password == "" {
				continue
			}
			if _, ok := store.Lookup(u.Name); ok {
				continue
			}
			err := store.Put(u.Name, u.Password, credentials.UserOptions{
				CanRead:  u.CanRead,
				CanWrite: u.CanWrite,
				IsAdmin:  u.IsAdmin,
			})
			if err != nil {
				store.Close()
				return nil, nil, err
			}
		}
		return store, store.Close, nil
	}
	if len(cfg.Users) == 0 {
		return nil, nil, nil
	}
	mem := credentials.NewMemoryStore()
	for _, u := range cfg.Users {
		err := mem.Add(u.Name, u.Password, credentials.UserOptions{
			CanRead:  u.CanRead,
			CanWrite: u.CanWrite,
			IsAdmin:  u.IsAdmin,
		})
		if err != nil {
			return nil, nil, err
		}
	}
	return mem, nil, nil
}
