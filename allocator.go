// Copyright 2025 go-highway Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package trmul

import "unsafe"

// Allocator is the scratch source spec.md §3/§9 calls "the shared
// allocator" (Context.Allocator, for packed buffers) and "the thread-local
// allocator" (PerThreadState.Allocator, for a worker's local_packed
// bitsets). spec.md §1 places an allocator's own implementation out of
// scope ("Allocators ... specified only at interface level"); byte
// granularity keeps this interface usable from non-generic Context/
// PerThreadState fields regardless of the element type a given TrMul[T]
// call needs.
type Allocator interface {
	// Allocate returns n zeroed bytes.
	Allocate(n int) []byte
}

// defaultAllocator is the minimal implementation: no arena, no pooling,
// just make(). It satisfies spec.md §5's "all scratch allocations come
// from scoped arenas ... released on all exit paths" trivially, since a
// make()'d slice with no remaining references is reclaimed by the garbage
// collector the moment the call that made it returns.
type defaultAllocator struct{}

func (defaultAllocator) Allocate(n int) []byte {
	return make([]byte, n)
}

// allocateSlice draws n*sizeof(T) zeroed bytes from a and reinterprets
// them as a []T, used for both shared packed-buffer allocation
// (trmul.go) and thread-local local_packed allocation (worker.go).
func allocateSlice[T any](a Allocator, n int) []T {
	if n <= 0 {
		return nil
	}
	var zero T
	size := int(unsafe.Sizeof(zero))
	buf := a.Allocate(n * size)
	return unsafe.Slice((*T)(unsafe.Pointer(&buf[0])), n)
}
