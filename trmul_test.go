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

package trmul_test

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	trmul "github.com/ajroetker/go-trmul"
	"github.com/ajroetker/go-trmul/blockmap"
	"github.com/ajroetker/go-trmul/contrib/workerpool"
	"github.com/ajroetker/go-trmul/internal/reference"
	"github.com/ajroetker/go-trmul/internal/tuning"
	"github.com/ajroetker/go-trmul/kernelref"
)

// instrumented wraps a kernelref.Plan, counting pack/kernel calls per
// strip and recording a logical clock reading at the moment each pack
// call returns and each kernel call starts, for spec.md §8 properties
// 2 (exactly-once packing) and 3 (pack-before-kernel).
type instrumented[T kernelref.Numeric] struct {
	*kernelref.Plan[T]

	clock atomic.Int64

	mu         sync.Mutex
	packCount  trmul.SidePair[map[int]int]
	packFinish trmul.SidePair[map[int]int64]

	kernelCalls  int64
	concurrent   atomic.Int32
	maxConcurrent atomic.Int32
	violations   []string
}

func newInstrumented[T kernelref.Numeric](plan *kernelref.Plan[T]) *instrumented[T] {
	ip := &instrumented[T]{Plan: plan}
	ip.packCount.Set(trmul.Lhs, map[int]int{})
	ip.packCount.Set(trmul.Rhs, map[int]int{})
	ip.packFinish.Set(trmul.Lhs, map[int]int64{})
	ip.packFinish.Set(trmul.Rhs, map[int]int64{})
	return ip
}

func (ip *instrumented[T]) RunPack(side trmul.Side, tn tuning.Tuning, start, end int) {
	width := ip.KernelWidth.Get(side)
	strip := start / width

	ip.Plan.RunPack(side, tn, start, end)
	seq := ip.clock.Add(1)

	ip.mu.Lock()
	ip.packCount.Get(side)[strip]++
	ip.packFinish.Get(side)[strip] = seq
	ip.mu.Unlock()
}

func (ip *instrumented[T]) RunKernel(tn tuning.Tuning, start, end trmul.SidePair[int]) {
	cur := ip.concurrent.Add(1)
	for {
		m := ip.maxConcurrent.Load()
		if cur <= m || ip.maxConcurrent.CompareAndSwap(m, cur) {
			break
		}
	}
	seq := ip.clock.Add(1)

	lhsStrip := start.Get(trmul.Lhs) / ip.KernelWidth.Get(trmul.Lhs)
	rhsStrip := start.Get(trmul.Rhs) / ip.KernelWidth.Get(trmul.Rhs)

	ip.mu.Lock()
	for _, pair := range []struct {
		side trmul.Side
		strip int
	}{{trmul.Lhs, lhsStrip}, {trmul.Rhs, rhsStrip}} {
		finish, ok := ip.packFinish.Get(pair.side)[pair.strip]
		if !ok {
			ip.violations = append(ip.violations, "kernel ran before any pack for a referenced strip")
		} else if finish >= seq {
			ip.violations = append(ip.violations, "kernel ran at or before its own pack's completion")
		}
	}
	ip.mu.Unlock()

	ip.Plan.RunKernel(tn, start, end)
	atomic.AddInt64(&ip.kernelCalls, 1)
	ip.concurrent.Add(-1)
}

func runScenario[T kernelref.Numeric](t *testing.T, rows, cols, depth, maxThreads, threshold, mr, nr int, prepack trmul.SidePair[bool]) (*instrumented[T], *trmul.Context) {
	t.Helper()

	rng := rand.New(rand.NewSource(42))
	lhsData := randData[T](rng, depth*rows)
	rhsData := randData[T](rng, depth*cols)

	plan := kernelref.NewPlan(
		trmul.DMatrix[T]{Data: lhsData, Rows: depth, Cols: rows},
		trmul.DMatrix[T]{Data: rhsData, Rows: depth, Cols: cols},
		trmul.NewSidePair(mr, nr),
	)
	ip := newInstrumented(plan)

	pool := workerpool.New(maxThreads)
	t.Cleanup(pool.Close)

	ctx := &trmul.Context{MaxNumThreads: maxThreads, Pool: pool}

	params := &trmul.TrMulParams[T]{
		Src:                             trmul.NewSidePair(plan.Lhs, plan.Rhs),
		Packed:                          plan.Packed,
		IsPrepacked:                     prepack,
		CacheFriendlyTraversalThreshold: threshold,
		KernelWidth:                     trmul.NewSidePair(mr, nr),
		RunPack:                         ip.RunPack,
		RunKernel:                       ip.RunKernel,
		MakeBlockMap:                    blockmap.Make,
	}

	for _, side := range trmul.Sides {
		if prepack.Get(side) {
			// Pre-packing means the caller already filled Packed[side]; a
			// correct TrMul must never call RunPack for it. Fill it with
			// the true data so the result is still checkable.
			ip.RunPackForCaller(side)
		}
	}

	require.NoError(t, trmul.TrMul(params, ctx))
	return ip, ctx
}

// RunPackForCaller fills a pre-packed side the way a real caller must:
// allocate and fill the buffer itself, since TrMul only allocates sides
// that aren't pre-packed (spec.md §4.5 step 4). Bypasses the
// instrumentation (TrMul must never call RunPack for a pre-packed side).
func (ip *instrumented[T]) RunPackForCaller(side trmul.Side) {
	rounded := ip.Rounded.Get(side)
	pm := ip.Packed.Get(side)
	pm.Data = make([]T, ip.Depth*rounded)
	pm.Cols = rounded
	ip.Plan.RunPack(side, tuning.Generic, 0, rounded)
}

func randData[T kernelref.Numeric](rng *rand.Rand, n int) []T {
	out := make([]T, n)
	for i := range out {
		out[i] = T(rng.Float64()*2 - 1)
	}
	return out
}

func expected[T kernelref.Numeric](ip *instrumented[T], rows, cols, depth int) []T {
	return reference.MatMul(ip.Lhs.Data, ip.Rhs.Data, rows, cols, depth)
}

func TestScenarioS1SimpleSingleThread(t *testing.T) {
	ip, _ := runScenario[float32](t, 8, 8, 8, 1, 1<<20, 8, 8, trmul.SidePair[bool]{})

	require.EqualValues(t, 1, atomic.LoadInt64(&ip.kernelCalls), "simple path must call the kernel exactly once")
	require.Equal(t, map[int]int{0: 1}, ip.packCount.Get(trmul.Lhs), "simple path packs the lhs exactly once, over its full range")
	require.Len(t, ip.violations, 0)

	got := ip.Result()
	want := expected(ip, 8, 8, 8)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("S1 output mismatch (-want +got):\n%s", diff)
	}
}

func TestScenarioS2GeneralSingleBlock(t *testing.T) {
	ip1, _ := runScenario[float32](t, 8, 8, 8, 1, 1<<20, 8, 8, trmul.SidePair[bool]{})
	ip2, _ := runScenario[float32](t, 8, 8, 8, 8, 0, 8, 8, trmul.SidePair[bool]{})

	require.Len(t, ip2.violations, 0)
	if diff := cmp.Diff(ip1.Result(), ip2.Result()); diff != "" {
		t.Errorf("S2 must match S1 bit-for-bit (-S1 +S2):\n%s", diff)
	}
}

func TestScenarioS3ExactlyOncePacking(t *testing.T) {
	const rows, cols, depth, mr, nr = 256, 256, 256, 8, 8
	ip, _ := runScenario[float32](t, rows, cols, depth, 4, 1<<20, mr, nr, trmul.SidePair[bool]{})

	require.Len(t, ip.violations, 0)

	require.Len(t, ip.packCount.Get(trmul.Lhs), rows/mr)
	require.Len(t, ip.packCount.Get(trmul.Rhs), cols/nr)
	for strip, count := range ip.packCount.Get(trmul.Lhs) {
		require.Equalf(t, 1, count, "lhs strip %d packed %d times, want exactly 1", strip, count)
	}
	for strip, count := range ip.packCount.Get(trmul.Rhs) {
		require.Equalf(t, 1, count, "rhs strip %d packed %d times, want exactly 1", strip, count)
	}

	got := ip.Result()
	want := expected(ip, rows, cols, depth)
	if diff := cmp.Diff(want, got, cmpFloat32Approx()); diff != "" {
		t.Errorf("S3 output mismatch (-want +got):\n%s", diff)
	}
}

func TestScenarioS4BoundedConcurrency(t *testing.T) {
	const rows, cols, depth, mr, nr = 256, 256, 256, 8, 8
	ip, _ := runScenario[float32](t, rows, cols, depth, 8, 1<<20, mr, nr, trmul.SidePair[bool]{})

	require.Len(t, ip.violations, 0)
	require.LessOrEqualf(t, ip.maxConcurrent.Load(), int32(8), "observed more concurrent RunKernel calls than threads")

	got := ip.Result()
	want := expected(ip, rows, cols, depth)
	if diff := cmp.Diff(want, got, cmpFloat32Approx()); diff != "" {
		t.Errorf("S4 output mismatch (-want +got):\n%s", diff)
	}
}

func TestScenarioS5PrePackedSideSkipsPacking(t *testing.T) {
	const rows, cols, depth, mr, nr = 128, 128, 128, 8, 8
	prepack := trmul.NewSidePair(true, false)
	ip, _ := runScenario[float32](t, rows, cols, depth, 4, 1<<20, mr, nr, prepack)

	require.Empty(t, ip.packCount.Get(trmul.Lhs), "pre-packed side must never be packed by TrMul")
	require.Len(t, ip.packCount.Get(trmul.Rhs), cols/nr)

	got := ip.Result()
	want := expected(ip, rows, cols, depth)
	if diff := cmp.Diff(want, got, cmpFloat32Approx()); diff != "" {
		t.Errorf("S5 output mismatch (-want +got):\n%s", diff)
	}
}

func TestScenarioS6ManyThreadsFewBlocks(t *testing.T) {
	const rows, cols, depth, mr, nr = 4, 4, 4, 2, 2
	ip, ctx := runScenario[float32](t, rows, cols, depth, 16, 0, mr, nr, trmul.SidePair[bool]{})

	require.Len(t, ip.violations, 0)
	require.Equal(t, 16, ctx.MaxNumThreads)

	got := ip.Result()
	want := expected(ip, rows, cols, depth)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("S6 output mismatch (-want +got):\n%s", diff)
	}
}

func cmpFloat32Approx() cmp.Option {
	return cmp.Comparer(func(a, b float32) bool {
		d := a - b
		if d < 0 {
			d = -d
		}
		return d < 1e-3
	})
}
