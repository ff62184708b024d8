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

package engine

import (
	"time"

	"github.com/snapdb-project/snapdb/internal/binstream"
)

// ReaderOptions tune one Read call. The zero value means no deadline
// and no point cap.
type ReaderOptions struct {
	// Timeout bounds the whole read; once exceeded the merging reader
	// reports end-of-stream on its next advance rather than erroring.
	Timeout time.Duration
	// MaxPoints caps the number of records emitted; 0 means unlimited.
	MaxPoints uint64
}

// Encode writes the options payload: timeout in milliseconds, then the
// point cap.
func (o ReaderOptions) Encode(w binstream.Stream) error {
	if err := w.WriteVarUint64(uint64(o.Timeout / time.Millisecond)); err != nil {
		return err
	}
	return w.WriteVarUint64(o.MaxPoints)
}

// DecodeReaderOptions reads back an options payload.
func DecodeReaderOptions(r binstream.Stream) (ReaderOptions, error) {
	var o ReaderOptions
	ms, err := r.ReadVarUint64()
	if err != nil {
		return o, err
	}
	o.Timeout = time.Duration(ms) * time.Millisecond
	o.MaxPoints, err = r.ReadVarUint64()
	return o, err
}

// deadline converts the timeout to an absolute deadline; the zero time
// means none.
func (o ReaderOptions) deadline(now time.Time) time.Time {
	if o.Timeout <= 0 {
		return time.Time{}
	}
	return now.Add(o.Timeout)
}
