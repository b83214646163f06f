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

// Package kernelref is a runnable stand-in for the RunPack/RunKernel pair
// spec.md places out of scope ("opaque callbacks... treated as external
// collaborators"). It exists so trmul.TrMul has something real to drive in
// tests and in cmd/trmulbench: a scalar pack that copies a column range
// into a depth-major strip buffer, and a scalar kernel that reduces over
// the full depth — deliberately unoptimized, grounded in the shape (not
// the exact indexing, which assumes the teacher's non-transposed A/B
// layout) of the teacher's BasePackLHS/BasePackRHS
// (hwy/contrib/matmul/packing.go) and matmulScalar
// (hwy/contrib/matmul/matmul_base.go).
package kernelref

import (
	"github.com/ajroetker/go-trmul"
	"github.com/ajroetker/go-trmul/internal/tuning"
)

// Numeric is the element type kernelref operates on.
type Numeric interface {
	~float32 | ~float64
}

// Plan holds everything needed to run trmul.TrMul over one LHS/RHS pair
// using the reference pack+kernel: the source matrices (in the
// transposed-LHS convention spec.md §4.5 describes: Lhs is stored
// depth-major as [depth, rows], Rhs is stored depth-major as [depth,
// cols]), the packed scratch buffers, and the destination.
//
// Packed holds a non-nil *PMatrix per side with a nil Data: NewPlan does
// not allocate packed storage itself, since spec.md §4.5 step 4 makes
// that the Driver's job (trmul.TrMul fills Data/Cols in place via
// Context.Allocator before dispatching). A caller that wants a
// pre-packed side must allocate and fill that side's PMatrix itself
// before calling trmul.TrMul with IsPrepacked set for it.
type Plan[T Numeric] struct {
	Lhs, Rhs trmul.DMatrix[T]
	Depth    int

	KernelWidth trmul.SidePair[int]
	Rounded     trmul.SidePair[int] // rounded-up column counts per side

	Packed trmul.SidePair[*trmul.PMatrix[T]]
	Dst    []T // Rounded[Lhs] * Rounded[Rhs], row-major
}

// NewPlan computes the rounded dimensions and allocates the destination
// buffer for an lhs (depth x rows) times rhs (depth x cols) product,
// rounding each side's dimension up to a multiple of its kernel width.
// Packed buffers are left for the Driver (or the caller, for a pre-packed
// side) to fill.
func NewPlan[T Numeric](lhs, rhs trmul.DMatrix[T], kernelWidth trmul.SidePair[int]) *Plan[T] {
	if lhs.Rows != rhs.Rows {
		panic("kernelref: lhs and rhs disagree on depth")
	}
	depth := lhs.Rows

	roundedLhs := roundUp(lhs.Cols, kernelWidth.Get(trmul.Lhs))
	roundedRhs := roundUp(rhs.Cols, kernelWidth.Get(trmul.Rhs))

	p := &Plan[T]{
		Lhs:         lhs,
		Rhs:         rhs,
		Depth:       depth,
		KernelWidth: kernelWidth,
		Rounded:     trmul.NewSidePair(roundedLhs, roundedRhs),
		Dst:         make([]T, roundedLhs*roundedRhs),
	}
	p.Packed.Set(trmul.Lhs, &trmul.PMatrix[T]{})
	p.Packed.Set(trmul.Rhs, &trmul.PMatrix[T]{})
	return p
}

func roundUp(v, width int) int {
	if width <= 0 {
		return v
	}
	return ((v + width - 1) / width) * width
}

// RunPack copies src[side].Data[:, start:end] (depth-major) into the
// packed buffer at the same column range, zero-padding any column at or
// past the side's actual width — the rounding tail every strided kernel
// width introduces when the real dimension isn't a multiple of it.
func (p *Plan[T]) RunPack(side trmul.Side, _ tuning.Tuning, start, end int) {
	src := p.Lhs
	packed := p.Packed.Get(trmul.Lhs)
	if side == trmul.Rhs {
		src = p.Rhs
		packed = p.Packed.Get(trmul.Rhs)
	}

	for k := 0; k < p.Depth; k++ {
		srcRow := src.Data[k*src.Cols : (k+1)*src.Cols]
		dstRow := packed.Data[k*packed.Cols : (k+1)*packed.Cols]
		for c := start; c < end; c++ {
			if c < src.Cols {
				dstRow[c] = srcRow[c]
			} else {
				dstRow[c] = 0
			}
		}
	}
}

// RunKernel reduces the full depth for the block
// [start.Lhs,end.Lhs) x [start.Rhs,end.Rhs) and writes it into Dst.
// Blocks never overlap, so a plain assignment (not an accumulation) is
// correct.
func (p *Plan[T]) RunKernel(_ tuning.Tuning, start, end trmul.SidePair[int]) {
	lhsPacked := p.Packed.Get(trmul.Lhs)
	rhsPacked := p.Packed.Get(trmul.Rhs)
	rounded := p.Rounded.Get(trmul.Rhs)

	for m := start.Get(trmul.Lhs); m < end.Get(trmul.Lhs); m++ {
		for n := start.Get(trmul.Rhs); n < end.Get(trmul.Rhs); n++ {
			var acc T
			for k := 0; k < p.Depth; k++ {
				acc += lhsPacked.Data[k*lhsPacked.Cols+m] * rhsPacked.Data[k*rhsPacked.Cols+n]
			}
			p.Dst[m*rounded+n] = acc
		}
	}
}

// Result returns the destination, trimmed back to the true (rows x cols)
// shape, discarding the kernel-width rounding padding.
func (p *Plan[T]) Result() []T {
	rows := p.Lhs.Cols
	cols := p.Rhs.Cols
	roundedCols := p.Rounded.Get(trmul.Rhs)

	out := make([]T, rows*cols)
	for m := 0; m < rows; m++ {
		copy(out[m*cols:(m+1)*cols], p.Dst[m*roundedCols:m*roundedCols+cols])
	}
	return out
}
