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

import (
	"fmt"
	"unsafe"

	"github.com/ajroetker/go-trmul/internal/trlog"
	"github.com/ajroetker/go-trmul/internal/tuning"
)

// BlockMap is the bijection between block IDs and rectangular tiles of the
// destination matrix, plus the traversal order that TrMul walks them in.
// spec.md treats its construction heuristic as out of scope; this is the
// contract a concrete implementation (see package blockmap) must satisfy.
type BlockMap interface {
	// NumBlocks returns the total number of blocks in the grid.
	NumBlocks() int
	// NumBlocksPerSide returns how many packing strips side is divided into.
	NumBlocksPerSide(side Side) int
	// GetBlockByIndex maps a block ID in [0, NumBlocks()) to the strip index
	// each side contributes to that block. (lhs_strip(id), rhs_strip(id))
	// must be a bijection over [0, NumBlocks()).
	GetBlockByIndex(id int) SidePair[int]
	// GetBlockMatrixCoords maps a strip-index pair to the half-open
	// [start, end) matrix-unit range each side occupies for that block.
	GetBlockMatrixCoords(block SidePair[int]) (start, end SidePair[int])
}

// DMatrix describes a caller-owned source matrix: immutable for the
// duration of TrMul.
type DMatrix[T any] struct {
	Data  []T
	Rows  int
	Cols  int
}

// PMatrix describes a packed matrix. Data is nil until TrMul (or the
// caller, for a pre-packed side) fills it in.
type PMatrix[T any] struct {
	Data []T
	Cols int // rounded, kernel-width-aligned column count
}

// TrMulParams is the input contract for one TrMul call (spec.md §6).
//
// Packed holds one *PMatrix per side rather than a value: spec.md §6 says
// "the core fills packed[side].data ... from context.allocator", which
// only makes sense if the descriptor TrMul mutates is the same object the
// caller (and whatever RunPack/RunKernel closures read from) already
// holds a reference to. Callers that don't pre-pack a side still supply a
// non-nil *PMatrix with a nil Data — TrMul allocates into it in place.
type TrMulParams[T any] struct {
	Src    SidePair[DMatrix[T]]
	Packed SidePair[*PMatrix[T]]

	// IsPrepacked, when true for a side, means Packed[side] is already
	// populated by the caller and that side's strips are all Finished.
	IsPrepacked SidePair[bool]

	// CacheFriendlyTraversalThreshold feeds both the simple/general
	// dispatch and (via MakeBlockMap) the block map's traversal order.
	CacheFriendlyTraversalThreshold int

	// KernelWidth is the packing-strip width for each side, in source
	// matrix units (e.g. the microkernel's Mr/Nr).
	KernelWidth SidePair[int]

	// RunPack reformats src[side][start:end] into packed[side]. Must be
	// safe to call concurrently from any worker for distinct strips; must
	// only ever mutate the strip it owns.
	RunPack func(side Side, tn tuning.Tuning, start, end int)

	// RunKernel reads the packed strips named by startPair/endPair and
	// writes destination range [startPair, endPair). Callsites never
	// overlap.
	RunKernel func(tn tuning.Tuning, start, end SidePair[int])

	// MakeBlockMap builds the block grid for the general path from rounded
	// dimensions. Supplied by the caller because spec.md treats the
	// traversal heuristic as an external collaborator; see package
	// blockmap for a ready-made implementation.
	MakeBlockMap func(rows, cols, depth int, kernelWidth SidePair[int], elemSize SidePair[int], traversalThreshold int) BlockMap
}

// PerThreadState bundles the pieces of state a worker needs that must not
// be shared across threads: a tuning resolver and spec.md §4.4's
// thread-local allocator, used only for that worker's local_packed
// bitsets — never the shared allocator packed buffers come from.
type PerThreadState struct {
	TuningResolver *tuning.Resolver
	Allocator      Allocator
}

// Context is the environment TrMul runs in (spec.md §6).
type Context struct {
	MaxNumThreads int

	// Pool runs n tasks in parallel and blocks until all of them return.
	Pool interface {
		Execute(n int, task func(threadID int))
	}

	ExplicitTuning tuning.Tuning

	// Allocator backs packed buffers for sides the caller didn't
	// pre-pack (spec.md §3/§4.5 step 4, context.allocator). Nil means
	// defaultAllocator, a bare make([]byte, n) wrapper — the allocator's
	// own internals are out of scope (spec.md §1); only the Driver's
	// obligation to call it is not.
	Allocator Allocator

	perThreadStates []*PerThreadState
}

// EnsurePerThreadStates grows (never shrinks) the per-thread state slice to
// at least n slots, matching the original's EnsureNPerThreadStates reuse
// contract (see SPEC_FULL.md's Supplemented Features).
func (c *Context) EnsurePerThreadStates(n int) {
	for len(c.perThreadStates) < n {
		c.perThreadStates = append(c.perThreadStates, &PerThreadState{
			TuningResolver: tuning.NewResolver(),
			Allocator:      defaultAllocator{},
		})
	}
}

// GetThreadCount implements spec.md §4.5 step 2: a heuristic proportional
// to arithmetic work, clamped to [1, context.MaxNumThreads].
func GetThreadCount(ctx *Context, rows, cols, depth int) int {
	guess := (rows * cols * depth) >> 13
	return clamp(guess, 1, ctx.MaxNumThreads)
}

type loopStructure int

const (
	loopSimple loopStructure = iota
	loopGeneral
)

func getLoopStructure(threadCount, rows, cols, depth, traversalThreshold int) loopStructure {
	if threadCount == 1 && (rows+cols)*depth < traversalThreshold {
		return loopSimple
	}
	return loopGeneral
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// roundUpTo rounds v up to the nearest multiple of width (or returns v
// unchanged if width isn't positive), the kernel-width alignment every
// packed buffer's column count needs.
func roundUpTo(v, width int) int {
	if width <= 0 {
		return v
	}
	return ((v + width - 1) / width) * width
}

// TrMul partitions the product of params.Src[Lhs] and params.Src[Rhs] into
// blocks, packs every strip each block needs exactly once, and calls
// params.RunKernel on every block. See spec.md for the full contract.
func TrMul[T any](params *TrMulParams[T], ctx *Context) error {
	lhs := &params.Src.vals[Lhs]
	rhs := &params.Src.vals[Rhs]

	// rows = lhs.cols, cols = rhs.cols, depth = lhs.rows: the
	// transposed-LHS convention named in spec.md §4.5.
	rows := lhs.Cols
	cols := rhs.Cols
	depth := lhs.Rows
	srcDims := NewSidePair(rows, cols)

	threadCount := GetThreadCount(ctx, rows, cols, depth)
	structure := getLoopStructure(threadCount, rows, cols, depth, params.CacheFriendlyTraversalThreshold)

	// spec.md §4.5 Driver responsibility 4: allocate packed buffers for
	// each side not pre-supplied by caller, from the shared allocator.
	alloc := ctx.Allocator
	if alloc == nil {
		alloc = defaultAllocator{}
	}
	for _, side := range Sides {
		p := params.Packed.Get(side)
		if params.IsPrepacked.Get(side) {
			if p == nil || p.Data == nil {
				return fmt.Errorf("trmul: side %s marked pre-packed but has no packed data", side)
			}
			continue
		}
		if p == nil {
			return fmt.Errorf("trmul: side %s not prepacked and no packed descriptor supplied", side)
		}
		if p.Data == nil {
			rounded := roundUpTo(srcDims.Get(side), params.KernelWidth.Get(side))
			p.Data = allocateSlice[T](alloc, depth*rounded)
			p.Cols = rounded
		}
	}

	if structure == loopSimple {
		runSimplePath(params, ctx)
		return nil
	}

	return runGeneralPath(params, ctx, threadCount, rows, cols, depth)
}

// runSimplePath is spec.md §4.6: pack each side once over its full range,
// one kernel call over the whole rounded domain. No block map, no atomics.
// It MUST be functionally equivalent to the general path (spec.md §4.6,
// §8 property 4).
func runSimplePath[T any](params *TrMulParams[T], ctx *Context) {
	tn := ctx.ExplicitTuning
	if tn == tuning.Unknown {
		tn = tuning.Resolve()
	}

	origin := NewSidePair(0, 0)
	roundedDims := NewSidePair(params.Packed.Get(Lhs).Cols, params.Packed.Get(Rhs).Cols)

	for _, side := range Sides {
		if !params.IsPrepacked.Get(side) {
			params.RunPack(side, tn, origin.Get(side), roundedDims.Get(side))
		}
	}
	params.RunKernel(tn, origin, roundedDims)
}

func runGeneralPath[T any](params *TrMulParams[T], ctx *Context, threadCount, rows, cols, depth int) error {
	lhsKernelWidth := params.KernelWidth.Get(Lhs)
	rhsKernelWidth := params.KernelWidth.Get(Rhs)

	blockMap := params.MakeBlockMap(
		params.Packed.Get(Lhs).Cols, params.Packed.Get(Rhs).Cols, depth,
		NewSidePair(lhsKernelWidth, rhsKernelWidth),
		NewSidePair(elemSize[T](), elemSize[T]()),
		params.CacheFriendlyTraversalThreshold,
	)

	numBlocks := blockMap.NumBlocks()
	if numBlocks <= 0 {
		return fmt.Errorf("trmul: block map produced %d blocks", numBlocks)
	}

	// Never more workers than blocks (spec.md §4.5 general path, bullet 2).
	threadCount = clamp(threadCount, 1, numBlocks)
	ctx.EnsurePerThreadStates(threadCount)
	for _, st := range ctx.perThreadStates[:threadCount] {
		st.TuningResolver.SetExplicit(ctx.ExplicitTuning)
	}

	var packingStatus SidePair[*PackingStatusArray]
	for _, side := range Sides {
		if !params.IsPrepacked.Get(side) {
			packingStatus.Set(side, NewPackingStatusArray(blockMap.NumBlocksPerSide(side)))
		}
	}

	// Seed the counter with the post-clamp thread count: see
	// SPEC_FULL.md's resolution of spec.md §9's Open Question.
	coordinator := NewBlockCoordinator(threadCount)

	workers := make([]*worker[T], threadCount)
	for i := range workers {
		workers[i] = &worker[T]{
			params:        params,
			blockMap:      blockMap,
			coordinator:   coordinator,
			threadID:      i,
			packingStatus: packingStatus,
			tuningState:   ctx.perThreadStates[i].TuningResolver,
			allocator:     ctx.perThreadStates[i].Allocator,
		}
	}

	if ctx.Pool == nil {
		trlog.Fatal("trmul: Context.Pool is nil on the general path")
	}

	ctx.Pool.Execute(threadCount, func(threadID int) {
		workers[threadID].run()
	})

	return nil
}

func elemSize[T any]() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}
