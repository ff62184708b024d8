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

package archive

import (
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/snapdb-project/snapdb/internal/filestore"
)

// Opener deduplicates and reference-counts archive file opens. Several
// sessions attaching the same database race to open the same paths;
// the singleflight group collapses the racing opens into one, and the
// reference count keeps the file alive until the last user releases it.
type Opener struct {
	g singleflight.Group

	mu   sync.Mutex
	open map[string]*refFile
}

type refFile struct {
	file *filestore.File
	refs int
}

func NewOpener() *Opener {
	return &Opener{open: make(map[string]*refFile)}
}

// Open returns the shared File for path, opening it on first use.
// Every successful Open must be paired with a Release. The reference
// count is taken outside the singleflight call: all callers that share
// one collapsed open still each acquire their own reference.
func (o *Opener) Open(path string) (*filestore.File, error) {
	for {
		_, err, _ := o.g.Do(path, func() (any, error) {
			o.mu.Lock()
			_, ok := o.open[path]
			o.mu.Unlock()
			if ok {
				return nil, nil
			}
			file, err := filestore.Open(path)
			if err != nil {
				return nil, err
			}
			o.mu.Lock()
			o.open[path] = &refFile{file: file}
			o.mu.Unlock()
			return nil, nil
		})
		if err != nil {
			return nil, err
		}
		o.mu.Lock()
		rf, ok := o.open[path]
		if ok {
			rf.refs++
			o.mu.Unlock()
			return rf.file, nil
		}
		// A concurrent Release closed the file between our Do and the
		// lookup; start over.
		o.mu.Unlock()
	}
}

// Release drops one reference to path, closing the file when the last
// reference goes away.
func (o *Opener) Release(path string) error {
	o.mu.Lock()
	rf, ok := o.open[path]
	if !ok {
		o.mu.Unlock()
		return nil
	}
	rf.refs--
	if rf.refs > 0 {
		o.mu.Unlock()
		return nil
	}
	delete(o.open, path)
	o.mu.Unlock()
	return rf.file.Close()
}

// InUse reports whether path currently has open references, used by the
// deferred-unlink sweep to skip files still pinned by readers.
func (o *Opener) InUse(path string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.open[path]
	return ok
}
