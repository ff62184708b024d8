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

package binstream

// View is the bounded, pointer-backed Stream variant: a fixed-length
// window directly over a pagepool page's bytes. It never grows. It
// carries the page's pointer-version token so a caller that stashed a
// View across a later page-pool Get/Put cycle can detect invalidation
// (ErrStale) instead of silently reading/writing recycled bytes — this
// is the stream-level form of the pool's pointer-version token.
type View struct {
	core
	win viewAccessor
}

type generationChecker interface {
	Generation() uint64
}

type viewAccessor struct {
	data []byte
	gen  uint64
	page generationChecker
}

func (a *viewAccessor) length() int64 { return int64(len(a.data)) }

func (a *viewAccessor) ensure(pos, n int64) error {
	if pos+n > int64(len(a.data)) {
		return ErrOutOfRange
	}
	return nil
}

func (a *viewAccessor) slice(pos, n int64) ([]byte, error) {
	if pos < 0 || n < 0 || pos+n > int64(len(a.data)) {
		return nil, ErrOutOfRange
	}
	return a.data[pos : pos+n], nil
}

func (a *viewAccessor) canGrow() bool { return false }

func (a *viewAccessor) setLength(int64) error { return ErrNotSupported }

// NewView returns a View over data (typically a page's full byte slice,
// or a sub-slice of one), stamped with the page's generation token at
// construction time.
func NewView(data []byte, page generationChecker) *View {
	v := &View{win: viewAccessor{data: data, page: page}}
	if page != nil {
		v.win.gen = page.Generation()
	}
	v.core.acc = &v.win
	return v
}

// Stale reports whether the backing page has been recycled (its current
// Generation no longer matches the one stamped when this View was
// created). A stale View's bytes must not be trusted.
func (v *View) Stale() bool {
	if v.win.page == nil {
		return false
	}
	return v.win.page.Generation() != v.win.gen
}

// Bytes returns the full window this View was constructed over.
func (v *View) Bytes() []byte { return v.win.data }

// Length always equals the fixed window size; View never grows, and
// SetLength is rejected with ErrNotSupported.
func (v *View) SetLength(int64) error { return ErrNotSupported }
