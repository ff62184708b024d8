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

// The snapdbctl command is the operational companion to snapdbd:
// database discovery against a running server, archive verification
// and fragmentation reporting against local files, and credential
// management.
package main

import (
	"flag"
	"fmt"
	"os"
)

type command struct {
	name  string
	usage string
	run   func(args []string) error
}

var commands = []command{
	{"list-databases", "list-databases -addr host:port", runListDatabases},
	{"verify", "verify <archive-file>", runVerify},
	{"compact-info", "compact-info <archive-file>", runCompactInfo},
	{"adduser", "adduser -creds file -name user -password pw [-read] [-write] [-admin]", runAddUser},
	{"listusers", "listusers -creds file", runListUsers},
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: snapdbctl <command> [args]\n\ncommands:\n")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %s\n", c.usage)
	}
	os.Exit(2)
}

func main() {
	flag.Usage = usage
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage()
	}
	for _, c := range commands {
		if c.name == args[0] {
			if err := c.run(args[1:]); err != nil {
				fmt.Fprintf(os.Stderr, "snapdbctl %s: %v\n", c.name, err)
				os.Exit(1)
			}
			return
		}
	}
	usage()
}
