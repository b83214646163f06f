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
	"github.com/ajroetker/go-trmul/internal/trlog"
	"github.com/ajroetker/go-trmul/internal/tuning"
)

// packGate ensures both strips a block needs are Finished, without ever
// blocking a thread. Its fields are references to state the worker sets up
// (packing status, the worker's local_packed bitsets, the params holding
// the RunPack callback); worker is the only caller outside tests.
type packGate[T any] struct {
	params        *TrMulParams[T]
	packingStatus SidePair[*PackingStatusArray]
	localPacked   SidePair[[]bool]
}

// ensure implements spec.md §4.3's outer loop: it keeps retrying both
// sides until both report packed, re-checking the other side on every
// iteration so a thread stalled on one strip still makes progress packing
// the other strip of the same block.
func (g *packGate[T]) ensure(block, start, end SidePair[int], tn tuning.Tuning) {
	for {
		bothPacked := true
		for _, side := range Sides {
			bothPacked = g.tryEnsure(side, block.Get(side), start.Get(side), end.Get(side), tn) && bothPacked
		}
		if bothPacked {
			return
		}
	}
}

// tryEnsure implements spec.md §4.3's try_ensure.
func (g *packGate[T]) tryEnsure(side Side, strip, start, end int, tn tuning.Tuning) bool {
	status := g.packingStatus.Get(side)
	local := g.localPacked.Get(side)

	if status == nil || local[strip] {
		return true
	}

	if status.TryClaim(strip) {
		g.params.RunPack(side, tn, start, end)
		status.Publish(strip)
		local[strip] = true
		return true
	}

	switch status.Observe(strip) {
	case InProgress:
		return false
	case Finished:
		local[strip] = true
		return true
	default:
		// A status that is neither InProgress nor Finished after losing the
		// claim race is an invariant violation: the winner of TryClaim is
		// the only thread ever allowed to move it back to NotStarted, and
		// it never does.
		trlog.Invariant("packgate: strip %d on side %s observed NotStarted after losing TryClaim", strip, side)
		return false
	}
}
