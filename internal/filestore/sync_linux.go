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

//go:build linux

package filestore

import (
	"os"

	"golang.org/x/sys/unix"
)

// syncFile uses fdatasync on Linux: commit durability needs the data
// and size, not the inode timestamps a full fsync also flushes.
func syncFile(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}
