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

// Command trmulbench drives trmul.TrMul over a single shape, logging the
// shape, the thread cap and the wall-clock time; it does not report
// whether TrMul took the simple or the general path. It uses the
// standard flag package rather than a CLI framework: see SPEC_FULL.md's
// AMBIENT STACK/Configuration section for why — neither the teacher nor
// any pack repo imports spf13/cobra or spf13/pflag directly.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	trmul "github.com/ajroetker/go-trmul"
	"github.com/ajroetker/go-trmul/blockmap"
	"github.com/ajroetker/go-trmul/contrib/workerpool"
	"github.com/ajroetker/go-trmul/internal/trlog"
	"github.com/ajroetker/go-trmul/kernelref"
	"github.com/rs/zerolog"
)

func main() {
	var (
		rows      = flag.Int("rows", 512, "rows of the destination (M)")
		cols      = flag.Int("cols", 512, "cols of the destination (N)")
		depth     = flag.Int("depth", 512, "shared dimension (K)")
		threads   = flag.Int("threads", 0, "max worker threads (0 = GOMAXPROCS)")
		threshold = flag.Int("threshold", 1<<18, "cache-friendly traversal threshold, in bytes")
		mr        = flag.Int("mr", 8, "LHS kernel width (strip size)")
		nr        = flag.Int("nr", 8, "RHS kernel width (strip size)")
		verbose   = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	if *verbose {
		trlog.Logger = trlog.Logger.Level(zerolog.DebugLevel)
	}

	rng := rand.New(rand.NewSource(1))
	lhsData := randomMatrix(rng, *depth**rows)
	rhsData := randomMatrix(rng, *depth**cols)

	plan := kernelref.NewPlan(
		trmul.DMatrix[float32]{Data: lhsData, Rows: *depth, Cols: *rows},
		trmul.DMatrix[float32]{Data: rhsData, Rows: *depth, Cols: *cols},
		trmul.NewSidePair(*mr, *nr),
	)

	pool := workerpool.New(*threads)
	defer pool.Close()

	ctx := &trmul.Context{
		MaxNumThreads: pool.NumWorkers(),
		Pool:          pool,
	}

	params := &trmul.TrMulParams[float32]{
		Src:                             trmul.NewSidePair(plan.Lhs, plan.Rhs),
		Packed:                          plan.Packed,
		CacheFriendlyTraversalThreshold: *threshold,
		KernelWidth:                     trmul.NewSidePair(*mr, *nr),
		RunPack:                         plan.RunPack,
		RunKernel:                       plan.RunKernel,
		MakeBlockMap:                    blockmap.Make,
	}

	start := time.Now()
	if err := trmul.TrMul(params, ctx); err != nil {
		fmt.Fprintln(os.Stderr, "trmul:", err)
		os.Exit(1)
	}
	elapsed := time.Since(start)

	trlog.Logger.Info().
		Int("rows", *rows).Int("cols", *cols).Int("depth", *depth).
		Int("threads", ctx.MaxNumThreads).
		Dur("elapsed", elapsed).
		Msg("trmul done")
}

func randomMatrix(rng *rand.Rand, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = rng.Float32()
	}
	return out
}
