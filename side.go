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

// Package trmul implements the parallel block-scheduled triangular-packed
// multiply that sits at the core of a dense matmul driver: given an LHS and
// RHS source matrix and a caller-supplied packing/kernel pair, it partitions
// the destination into a grid of blocks, hands each block to a pool of
// worker threads, and guarantees every packing strip runs exactly once.
//
// TrMul itself knows nothing about the arithmetic it is driving: RunPack and
// RunKernel are opaque callbacks (see kernelref for a runnable reference
// pair), and the block grid is supplied by anything implementing BlockMap
// (see the blockmap package for a concrete heuristic).
package trmul

// Side identifies one of the two source operands of the product.
type Side int

const (
	Lhs Side = iota
	Rhs
)

func (s Side) String() string {
	switch s {
	case Lhs:
		return "lhs"
	case Rhs:
		return "rhs"
	default:
		return "side(invalid)"
	}
}

// Sides lists both sides in a fixed order, used anywhere the spec says
// "for side in {Lhs, Rhs}".
var Sides = [2]Side{Lhs, Rhs}

// SidePair holds one value per Side, addressed by Side instead of by a
// two-element slice so that callers can't index it out of range.
type SidePair[T any] struct {
	vals [2]T
}

// NewSidePair builds a SidePair from explicit Lhs/Rhs values.
func NewSidePair[T any](lhs, rhs T) SidePair[T] {
	return SidePair[T]{vals: [2]T{lhs, rhs}}
}

// Get returns the value for side.
func (p *SidePair[T]) Get(side Side) T {
	return p.vals[side]
}

// Set stores the value for side.
func (p *SidePair[T]) Set(side Side, v T) {
	p.vals[side] = v
}

// Ptr returns a pointer to side's slot, for in-place mutation.
func (p *SidePair[T]) Ptr(side Side) *T {
	return &p.vals[side]
}
