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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/snapdb-project/snapdb/internal/points"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snapdb-config.json")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{}`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LocalPort != 38402 {
		t.Fatalf("LocalPort = %d, want 38402", cfg.LocalPort)
	}
	if cfg.ServerName != "openHistorian" {
		t.Fatalf("ServerName = %q", cfg.ServerName)
	}
	if cfg.RequireSSL || !cfg.AllowAnonymous || !cfg.DefaultUserCanRead || cfg.DefaultUserCanWrite {
		t.Fatalf("flag defaults wrong: %+v", cfg)
	}
	if cfg.MaxResumeTicketAge != 24*time.Hour {
		t.Fatalf("MaxResumeTicketAge = %v, want 24h", cfg.MaxResumeTicketAge)
	}
	if cfg.Addr() != ":38402" {
		t.Fatalf("Addr = %q", cfg.Addr())
	}
}

func TestFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{
		"local_ip": "10.0.0.5",
		"local_port": 48402,
		"require_ssl": true,
		"tls_cert_file": "server.crt",
		"tls_key_file": "server.key",
		"max_resume_ticket_age": "1h",
		"users": {
			"alice": {"password": "pw", "can_write": true}
		},
		"databases": {
			"hist": {"dir": "/data/hist", "key_type": "historian", "value_type": "historian-value", "block_size": 8192},
			"aux": {"dir": "/data/aux", "archives": ["/data/aux/a.snapdb"]}
		}
	}`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr() != "10.0.0.5:48402" {
		t.Fatalf("Addr = %q", cfg.Addr())
	}
	if cfg.MaxResumeTicketAge != time.Hour {
		t.Fatalf("MaxResumeTicketAge = %v", cfg.MaxResumeTicketAge)
	}
	if len(cfg.Users) != 1 || cfg.Users[0].Name != "alice" || !cfg.Users[0].CanWrite || !cfg.Users[0].CanRead {
		t.Fatalf("Users = %+v", cfg.Users)
	}
	if len(cfg.Databases) != 2 {
		t.Fatalf("Databases = %+v", cfg.Databases)
	}
	// Sorted by name: aux before hist.
	if cfg.Databases[0].Name != "aux" || len(cfg.Databases[0].Archives) != 1 {
		t.Fatalf("aux = %+v", cfg.Databases[0])
	}
	hist := cfg.Databases[1]
	if hist.KeyType != points.HistorianKeyGUID || hist.ValueType != points.HistorianValueGUID || hist.BlockSize != 8192 {
		t.Fatalf("hist = %+v", hist)
	}
	// The u64 default applies when key_type is omitted.
	if cfg.Databases[0].KeyType != points.U64KeyGUID {
		t.Fatalf("aux key type = %v", cfg.Databases[0].KeyType)
	}
}

func TestUnknownKeyRejected(t *testing.T) {
	if _, err := Load(writeConfig(t, `{"local_prot": 1}`)); err == nil {
		t.Fatal("unknown key accepted")
	}
}

func TestBadTicketAgeRejected(t *testing.T) {
	if _, err := Load(writeConfig(t, `{"max_resume_ticket_age": "soon"}`)); err == nil {
		t.Fatal("bad duration accepted")
	}
}
