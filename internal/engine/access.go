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

import "github.com/snapdb-project/snapdb/internal/points"

// AccessControl holds the three optional per-user predicates gating
// reads and writes. A nil predicate grants everything. Denied records
// are silently skipped; a denied seek drops its whole range.
type AccessControl[K any, PK points.KeyPtr[K], V any, PV points.ValuePtr[V]] struct {
	UserCanSeek  func(user string, start PK) bool
	UserCanMatch func(user string, k PK, v PV) bool
	UserCanWrite func(user string, k PK, v PV) bool
}
