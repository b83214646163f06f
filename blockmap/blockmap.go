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

// Package blockmap supplies a concrete trmul.BlockMap: spec.md treats the
// traversal heuristic as an external collaborator ("we specify what it
// must deliver... not the formula"), so this is one reasonable formula,
// not the only one. It tiles the destination into rectangular blocks sized
// by the caller's kernel width on each side, then groups those blocks into
// square "traversal cells" sized from cacheFriendlyTraversalThreshold and
// walks cells in row-major order with a boustrophedon (back-and-forth)
// column order inside each row of cells — a cheap approximation of a
// space-filling curve that keeps adjacent strips resident in cache across
// consecutive blocks, per spec.md §3's invariant.
//
// The strip-splitting arithmetic itself is grounded in the teacher's
// hwy/contrib/matmul RowsPerStrip / generateWorkItems helpers (strips
// aligned to a kernel-width multiple); the traversal-cell grouping and
// boustrophedon order are this package's own, since the teacher never
// needed a two-dimensional visiting order — it only ever splits one axis.
package blockmap

import (
	"math"

	"github.com/ajroetker/go-trmul"
)

// blockMap is the concrete trmul.BlockMap this package constructs.
type blockMap struct {
	numBlocksPerSide trmul.SidePair[int]
	kernelWidth      trmul.SidePair[int]

	// order[id] gives the (lhsStrip, rhsStrip) pair visited at block id.
	order []trmul.SidePair[int]
}

var _ trmul.BlockMap = (*blockMap)(nil)

func (b *blockMap) NumBlocks() int { return len(b.order) }

func (b *blockMap) NumBlocksPerSide(side trmul.Side) int {
	return b.numBlocksPerSide.Get(side)
}

func (b *blockMap) GetBlockByIndex(id int) trmul.SidePair[int] {
	return b.order[id]
}

func (b *blockMap) GetBlockMatrixCoords(block trmul.SidePair[int]) (start, end trmul.SidePair[int]) {
	for _, side := range trmul.Sides {
		w := b.kernelWidth.Get(side)
		strip := block.Get(side)
		s := strip * w
		e := s + w
		start.Set(side, s)
		end.Set(side, e)
	}
	return start, end
}

// Make builds a BlockMap over a rows x cols destination tiled by
// kernelWidth-sized strips per side. elemSize and traversalThreshold feed
// the traversal cell size, the same two inputs spec.md names for the
// opaque MakeBlockMap (alongside depth, which the cell-size heuristic
// below does not need: cell size only has to keep a handful of strips'
// worth of packed bytes resident, independent of how deep each strip is).
func Make(rows, cols, depth int, kernelWidth trmul.SidePair[int], elemSize trmul.SidePair[int], traversalThreshold int) trmul.BlockMap {
	lhsStrips := ceilDiv(rows, kernelWidth.Get(trmul.Lhs))
	rhsStrips := ceilDiv(cols, kernelWidth.Get(trmul.Rhs))
	if lhsStrips < 1 {
		lhsStrips = 1
	}
	if rhsStrips < 1 {
		rhsStrips = 1
	}

	cellStrips := traversalCellStrips(traversalThreshold, kernelWidth, elemSize)

	order := make([]trmul.SidePair[int], 0, lhsStrips*rhsStrips)

	numCellCols := ceilDiv(rhsStrips, cellStrips)
	for cellRow := 0; cellRow*cellStrips < lhsStrips; cellRow++ {
		lhsStart := cellRow * cellStrips
		lhsEnd := min(lhsStart+cellStrips, lhsStrips)

		// Boustrophedon: reverse the column walk on odd cell-rows so
		// consecutive cells stay adjacent in matrix space instead of
		// jumping back to column zero every row.
		forward := cellRow%2 == 0
		for i := 0; i < numCellCols; i++ {
			cellCol := i
			if !forward {
				cellCol = numCellCols - 1 - i
			}
			rhsStart := cellCol * cellStrips
			rhsEnd := min(rhsStart+cellStrips, rhsStrips)

			visitCell(&order, lhsStart, lhsEnd, rhsStart, rhsEnd, forward)
		}
	}

	return &blockMap{
		numBlocksPerSide: trmul.NewSidePair(lhsStrips, rhsStrips),
		kernelWidth:      kernelWidth,
		order:            order,
	}
}

func visitCell(order *[]trmul.SidePair[int], lhsStart, lhsEnd, rhsStart, rhsEnd int, forward bool) {
	for l := lhsStart; l < lhsEnd; l++ {
		if forward {
			for r := rhsStart; r < rhsEnd; r++ {
				*order = append(*order, trmul.NewSidePair(l, r))
			}
		} else {
			for r := rhsEnd - 1; r >= rhsStart; r-- {
				*order = append(*order, trmul.NewSidePair(l, r))
			}
		}
	}
}

// traversalCellStrips picks how many strips per axis fit in one traversal
// cell so that a cell's worth of packed bytes on both sides stays under
// traversalThreshold (spec.md's "cache_friendly_traversal_threshold" also
// gates the simple/general switch on the same scale: total element count
// times depth).
func traversalCellStrips(traversalThreshold int, kernelWidth, elemSize trmul.SidePair[int]) int {
	if traversalThreshold <= 0 {
		return 1
	}
	bytesPerStripPair := kernelWidth.Get(trmul.Lhs)*elemSize.Get(trmul.Lhs) +
		kernelWidth.Get(trmul.Rhs)*elemSize.Get(trmul.Rhs)
	if bytesPerStripPair <= 0 {
		return 1
	}
	cells := int(math.Sqrt(float64(traversalThreshold) / float64(bytesPerStripPair)))
	if cells < 1 {
		cells = 1
	}
	return cells
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return a
	}
	return (a + b - 1) / b
}
