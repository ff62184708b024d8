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

package main

import (
	"errors"
	"flag"
	"fmt"

	"github.com/snapdb-project/snapdb/internal/credentials"
	"github.com/snapdb-project/snapdb/internal/filestore"
	"github.com/snapdb-project/snapdb/internal/wire"
	"github.com/snapdb-project/snapdb/internal/wire/handshake"
	"github.com/snapdb-project/snapdb/pkg/client"
)

func runListDatabases(args []string) error {
	fs := flag.NewFlagSet("list-databases", flag.ExitOnError)
	addr := fs.String("addr", "localhost:38402", "server address")
	ssl := fs.Bool("ssl", false, "use TLS")
	user := fs.String("user", "", "username (SCRAM); empty for anonymous")
	password := fs.String("password", "", "password")
	fs.Parse(args)

	cfg := handshake.ClientConfig{UseSSL: *ssl, Mode: wire.AuthNone}
	if *user != "" {
		cfg.Mode = wire.AuthSCRAM
		cfg.Username = *user
		cfg.Password = *password
	}
	c, err := client.Dial(*addr, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	infos, err := c.ListDatabases()
	if err != nil {
		return err
	}
	for _, info := range infos {
		fmt.Printf("%s\tkey=%s\tvalue=%s\n", info.Name, info.KeyType, info.ValueType)
	}
	return nil
}

// runVerify walks every allocated block of an archive and reports
// checksum failures. A block that cannot be read at all (such as one
// past the end of the file, allocated but never written) is counted as
// unreadable; a never-written block inside the file reads as zeros and
// is reported as corrupt.
func runVerify(args []string) error {
	if len(args) != 1 {
		return errors.New("expected one archive file")
	}
	f, err := filestore.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	hdr := f.Header()
	var good, bad, unread int
	for idx := filestore.FirstDataBlock; idx < hdr.NextFreeBlock; idx++ {
		_, _, err := f.ReadBlock(idx, filestore.BlockTypeUnknown)
		var corrupt *filestore.CorruptedError
		switch {
		case err == nil:
			good++
		case errors.As(err, &corrupt):
			bad++
			fmt.Printf("block %d: %v\n", idx, err)
		default:
			unread++
		}
	}
	fmt.Printf("%s: %d blocks ok, %d corrupt, %d unreadable (snapshot %d, %d sub-files)\n",
		args[0], good, bad, unread, hdr.SnapshotSeq, len(hdr.SubFiles))
	if bad > 0 {
		return fmt.Errorf("%d corrupt block(s)", bad)
	}
	return nil
}

// runCompactInfo reports the free-block log: how much of the file is
// dead space a compaction pass would reclaim.
func runCompactInfo(args []string) error {
	if len(args) != 1 {
		return errors.New("expected one archive file")
	}
	f, err := filestore.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	hdr := f.Header()
	free := f.FreeRecords()
	total := int(hdr.NextFreeBlock) - int(filestore.FirstDataBlock)
	pct := 0.0
	if total > 0 {
		pct = 100 * float64(len(free)) / float64(total)
	}
	fmt.Printf("%s: %d allocated blocks, %d freed (%.1f%% reclaimable)\n", args[0], total, len(free), pct)
	for _, rec := range free {
		fmt.Printf("  sub-file %d block %d freed at snapshot %d\n", rec.SubFileID, rec.Block, rec.FreedAtSnapshot)
	}
	return nil
}

func runAddUser(args []string) error {
	fs := flag.NewFlagSet("adduser", flag.ExitOnError)
	creds := fs.String("creds", "", "credentials database file")
	name := fs.String("name", "", "username")
	password := fs.String("password", "", "password")
	canRead := fs.Bool("read", true, "grant read")
	canWrite := fs.Bool("write", false, "grant write")
	isAdmin := fs.Bool("admin", false, "grant admin")
	fs.Parse(args)

	if *creds == "" || *name == "" || *password == "" {
		return errors.New("-creds, -name and -password are required")
	}
	store, err := credentials.Open(*creds)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Put(*name, *password, credentials.UserOptions{
		CanRead:  *canRead,
		CanWrite: *canWrite,
		IsAdmin:  *isAdmin,
	})
}

func runListUsers(args []string) error {
	fs := flag.NewFlagSet("listusers", flag.ExitOnError)
	creds := fs.String("creds", "", "credentials database file")
	fs.Parse(args)
	if *creds == "" {
		return errors.New("-creds is required")
	}
	store, err := credentials.Open(*creds)
	if err != nil {
		return err
	}
	defer store.Close()
	names, err := store.List()
	if err != nil {
		return err
	}
	for _, n := range names {
		u, _ := store.Lookup(n)
		fmt.Printf("%s\tmethod=%s read=%v write=%v admin=%v\n", n, u.Method, u.CanRead, u.CanWrite, u.IsAdmin)
	}
	return nil
}
