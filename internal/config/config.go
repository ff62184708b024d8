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

// Package config loads the server configuration file: a JSON object
// with the listener endpoint, TLS and authentication settings, and the
// databases to bring up.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go4.org/jsonconfig"

	"github.com/snapdb-project/snapdb/internal/binstream"
	"github.com/snapdb-project/snapdb/internal/points"
)

// DefaultPort is the listener port when the file names none.
const DefaultPort = 38402

// User is one inline user entry.
type User struct {
	Name     string
	Password string
	CanRead  bool
	CanWrite bool
	IsAdmin  bool
}

// Database is one database entry.
type Database struct {
	Name      string
	Dir       string
	KeyType   binstream.Guid
	ValueType binstream.Guid
	BlockSize int
	Archives  []string
}

// Config is the parsed configuration.
type Config struct {
	LocalIP    string
	LocalPort  int
	ServerName string

	RequireSSL  bool
	TLSCertFile string
	TLSKeyFile  string

	AllowAnonymous      bool
	DefaultUserCanRead  bool
	DefaultUserCanWrite bool
	DefaultUserIsAdmin  bool
	CredentialsFile     string
	Users               []User

	MaxResumeTicketAge time.Duration

	// HardCommitInterval is how often buffered points are flushed into
	// a fresh archive file; 0 disables the timer.
	HardCommitInterval time.Duration

	UnlinkLogPath string
	MetricsAddr   string

	Databases []Database
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.LocalIP, c.LocalPort)
}

// typeGUID maps the friendly type names the file may use to GUIDs; a
// raw GUID string is also accepted.
func typeGUID(s string) (binstream.Guid, error) {
	switch s {
	case "u64":
		return points.U64KeyGUID, nil
	case "u64-value":
		return points.U64ValueGUID, nil
	case "historian":
		return points.HistorianKeyGUID, nil
	case "historian-value":
		return points.HistorianValueGUID, nil
	}
	g, err := uuid.Parse(s)
	if err != nil {
		return g, fmt.Errorf("config: bad type %q: %v", s, err)
	}
	return g, nil
}

// Load reads and validates the configuration at path.
func Load(path string) (*Config, error) {
	obj, err := jsonconfig.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parse(obj)
}

func parse(obj jsonconfig.Obj) (*Config, error) {
	c := &Config{
		LocalIP:             obj.OptionalString("local_ip", ""),
		LocalPort:           obj.OptionalInt("local_port", DefaultPort),
		ServerName:          obj.OptionalString("server_name", "openHistorian"),
		RequireSSL:          obj.OptionalBool("require_ssl", false),
		TLSCertFile:         obj.OptionalString("tls_cert_file", ""),
		TLSKeyFile:          obj.OptionalString("tls_key_file", ""),
		AllowAnonymous:      obj.OptionalBool("allow_anonymous", true),
		DefaultUserCanRead:  obj.OptionalBool("default_user_can_read", true),
		DefaultUserCanWrite: obj.OptionalBool("default_user_can_write", false),
		DefaultUserIsAdmin:  obj.OptionalBool("default_user_is_admin", false),
		CredentialsFile:     obj.OptionalString("credentials_file", ""),
		UnlinkLogPath:       obj.OptionalString("unlink_log", "snapdb-unlink.log"),
		MetricsAddr:         obj.OptionalString("metrics_addr", ""),
	}

	ageStr := obj.OptionalString("max_resume_ticket_age", "24h")
	age, err := time.ParseDuration(ageStr)
	if err != nil {
		return nil, fmt.Errorf("config: bad max_resume_ticket_age %q: %v", ageStr, err)
	}
	c.MaxResumeTicketAge = age

	commitStr := obj.OptionalString("hard_commit_interval", "60s")
	commit, err := time.ParseDuration(commitStr)
	if err != nil {
		return nil, fmt.Errorf("config: bad hard_commit_interval %q: %v", commitStr, err)
	}
	c.HardCommitInterval = commit

	users := obj.OptionalObject("users")
	for name := range users {
		// Keys with a leading underscore are jsonconfig bookkeeping
		// (and permitted comments), not entries.
		if strings.HasPrefix(name, "_") {
			continue
		}
		u := users.RequiredObject(name)
		c.Users = append(c.Users, User{
			Name:     name,
			Password: u.OptionalString("password", ""),
			CanRead:  u.OptionalBool("can_read", true),
			CanWrite: u.OptionalBool("can_write", false),
			IsAdmin:  u.OptionalBool("is_admin", false),
		})
		if err := u.Validate(); err != nil {
			return nil, err
		}
	}
	sort.Slice(c.Users, func(i, j int) bool { return c.Users[i].Name < c.Users[j].Name })

	dbs := obj.OptionalObject("databases")
	for name := range dbs {
		if strings.HasPrefix(name, "_") {
			continue
		}
		d := dbs.RequiredObject(name)
		keyType, err := typeGUID(d.OptionalString("key_type", "u64"))
		if err != nil {
			return nil, err
		}
		valueType, err := typeGUID(d.OptionalString("value_type", "u64-value"))
		if err != nil {
			return nil, err
		}
		c.Databases = append(c.Databases, Database{
			Name:      name,
			Dir:       d.RequiredString("dir"),
			KeyType:   keyType,
			ValueType: valueType,
			BlockSize: d.OptionalInt("block_size", 0),
			Archives:  d.OptionalList("archives"),
		})
		if err := d.Validate(); err != nil {
			return nil, err
		}
	}
	sort.Slice(c.Databases, func(i, j int) bool { return c.Databases[i].Name < c.Databases[j].Name })

	if err := obj.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
