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

import "sync/atomic"

// PackingStatus is the tri-state lifecycle of one packing strip.
type PackingStatus uint32

const (
	NotStarted PackingStatus = iota
	InProgress
	Finished
)

// Go's sync/atomic does not expose separate acquire/release orderings the
// way C++ does; every operation here is sequentially consistent, which is a
// strictly stronger guarantee than the acquire/release the spec requires as
// a minimum, never a weaker one.

// PackingStatusArray guards one-shot packing of every strip on one side.
// A nil *PackingStatusArray represents a pre-packed side: every strip is
// treated as already Finished without touching an atomic.
type PackingStatusArray struct {
	entries []atomic.Uint32
}

// NewPackingStatusArray allocates size strips, all NotStarted.
func NewPackingStatusArray(size int) *PackingStatusArray {
	return &PackingStatusArray{entries: make([]atomic.Uint32, size)}
}

// Len returns the number of strips tracked.
func (a *PackingStatusArray) Len() int {
	if a == nil {
		return 0
	}
	return len(a.entries)
}

// TryClaim attempts NotStarted -> InProgress for strip, acquire on success.
// Returns true iff this caller won the race and must pack then Publish.
func (a *PackingStatusArray) TryClaim(strip int) bool {
	return a.entries[strip].CompareAndSwap(uint32(NotStarted), uint32(InProgress))
}

// Publish stores Finished with release ordering. Must be called exactly
// once, by the winner of TryClaim, after the pack completes.
func (a *PackingStatusArray) Publish(strip int) {
	a.entries[strip].Store(uint32(Finished))
}

// Observe loads the current status with acquire ordering.
func (a *PackingStatusArray) Observe(strip int) PackingStatus {
	return PackingStatus(a.entries[strip].Load())
}
