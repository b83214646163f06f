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

// Package tuning resolves which microarchitecture-specific kernel variant a
// worker should ask RunPack/RunKernel for. spec.md treats tuning selection
// as an interface-only concern ("Out of scope... microarchitectural tuning
// selection"); this package supplies the one concrete resolver TrMul needs
// to have something to pass through that interface, grounded in the same
// golang.org/x/sys/cpu feature probing the teacher uses for its own SIMD
// dispatch (hwy/dispatch_amd64.go, hwy/dispatch_arm64.go).
package tuning

import (
	"runtime"
	"sync"

	"golang.org/x/sys/cpu"
)

// Tuning names a kernel variant a RunPack/RunKernel callback may select on.
type Tuning int

const (
	// Unknown means "resolve automatically"; never returned by Resolve.
	Unknown Tuning = iota
	Generic
	AVX2
	AVX512
	NEON
)

func (t Tuning) String() string {
	switch t {
	case Generic:
		return "generic"
	case AVX2:
		return "avx2"
	case AVX512:
		return "avx512"
	case NEON:
		return "neon"
	default:
		return "unknown"
	}
}

var (
	detectOnce sync.Once
	detected   Tuning
)

func detect() Tuning {
	detectOnce.Do(func() {
		switch runtime.GOARCH {
		case "amd64":
			switch {
			case cpu.X86.HasAVX512F:
				detected = AVX512
			case cpu.X86.HasAVX2:
				detected = AVX2
			default:
				detected = Generic
			}
		case "arm64":
			detected = NEON
		default:
			detected = Generic
		}
	})
	return detected
}

// Resolve probes the current CPU once (cached for the process) and returns
// the best Tuning it supports.
func Resolve() Tuning {
	return detect()
}

// Resolver is the per-thread tuning state named in spec.md §4.4 and §6
// (context.per_thread_states[i].tuning_resolver). It is never shared across
// threads: each worker gets its own from Context.EnsurePerThreadStates.
type Resolver struct {
	explicit Tuning
	resolved Tuning
	done     bool
}

// NewResolver returns a Resolver with no explicit override.
func NewResolver() *Resolver {
	return &Resolver{}
}

// SetExplicit pins the Resolver to tn, bypassing CPU probing, mirroring
// context->explicit_tuning in the original. Unknown clears the override.
func (r *Resolver) SetExplicit(tn Tuning) {
	r.explicit = tn
	r.done = false
}

// Resolve computes (once per call to SetExplicit) the Tuning this thread
// should use for the remainder of the TrMul call.
func (r *Resolver) Resolve() Tuning {
	if r.done {
		return r.resolved
	}
	if r.explicit != Unknown {
		r.resolved = r.explicit
	} else {
		r.resolved = Resolve()
	}
	r.done = true
	return r.resolved
}
