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

// cacheLineSize covers every mainstream exclusives-reservation granule
// (64 bytes on x86-64 and most ARM64; Apple M-series uses 128).
const cacheLineSize = 128

// BlockCoordinator hands out block IDs beyond the initial seed set via a
// single atomic counter. It is padded to its own cache line so that the
// counter, which every worker hits on every iteration, never false-shares
// with neighbouring allocations.
type BlockCoordinator struct {
	next atomic.Int64
	_    [cacheLineSize - 8]byte
}

// NewBlockCoordinator seeds the counter at seed. Per spec.md's resolved
// Open Question (and the original ruy trmul.cc, which clamps thread_count
// before storing it into atomic_block_id), seed must already be
// min(threadCount, numBlocks) — never the pre-clamp thread count.
func NewBlockCoordinator(seed int) *BlockCoordinator {
	c := &BlockCoordinator{}
	c.next.Store(int64(seed))
	return c
}

// Reserve issues the next block ID. Relaxed ordering suffices: all
// cross-thread visibility of packed data is carried by the packing
// tri-state, not by the counter.
func (c *BlockCoordinator) Reserve() int {
	return int(c.next.Add(1) - 1)
}
