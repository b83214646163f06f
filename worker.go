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

import "github.com/ajroetker/go-trmul/internal/tuning"

// worker is one thread's task for the general path: reserve blocks, pack
// what they need, run the kernel, repeat until the coordinator is
// exhausted (spec.md §4.4).
type worker[T any] struct {
	params        *TrMulParams[T]
	blockMap      BlockMap
	coordinator   *BlockCoordinator
	threadID      int
	packingStatus SidePair[*PackingStatusArray]
	tuningState   *tuning.Resolver
	allocator     Allocator
}

func (w *worker[T]) run() {
	alloc := w.allocator
	if alloc == nil {
		alloc = defaultAllocator{}
	}

	// spec.md §4.4 step 1: local_packed is allocated from the
	// thread-local allocator, never the shared one.
	var localPacked SidePair[[]bool]
	for _, side := range Sides {
		if status := w.packingStatus.Get(side); status != nil {
			localPacked.Set(side, allocateSlice[bool](alloc, status.Len()))
		}
	}

	gate := &packGate[T]{
		params:        w.params,
		packingStatus: w.packingStatus,
		localPacked:   localPacked,
	}

	numBlocks := w.blockMap.NumBlocks()
	tn := w.tuningState.Resolve()

	// Each thread starts by reserving the block whose id is its thread id.
	blockID := w.threadID

	for blockID < numBlocks {
		// Issued before any dependent computation so the atomic's latency
		// overlaps this iteration's pack/kernel work (spec.md §4.4 step 4a).
		nextID := w.coordinator.Reserve()

		block := w.blockMap.GetBlockByIndex(blockID)
		start, end := w.blockMap.GetBlockMatrixCoords(block)

		gate.ensure(block, start, end, tn)
		w.params.RunKernel(tn, start, end)

		blockID = nextID
	}
}
