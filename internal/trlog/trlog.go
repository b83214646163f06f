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

// Package trlog handles the fatal, process-observable conditions spec.md
// §7 calls out as the only failure modes TrMul's core has: allocation
// exhaustion and debug-mode invariant violations. It is deliberately not a
// general logging facility — per-block chatter would defeat the point of a
// lock-free scheduler — just a single zerolog-backed logger for the two
// paths that abort a call outright.
package trlog

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

// Logger is the package-level sink for fatal TrMul conditions. Callers
// embedding this module in a larger service may overwrite it with their
// own configured zerolog.Logger.
var Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

// Fatal logs msg at error level and panics, for conditions spec.md says an
// implementation SHOULD surface as fatal and non-recoverable within TrMul
// (allocator exhaustion, a pool that can't be dispatched to, ...).
func Fatal(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	Logger.Error().Msg(msg)
	panic(msg)
}

// Invariant reports a debug-mode invariant violation: the spec names this
// explicitly as "observing a status that is neither InProgress nor
// Finished after losing the claim race" (spec.md §7). It is the Go
// equivalent of the original's RUY_DCHECK.
func Invariant(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	Logger.Error().Str("kind", "invariant").Msg(msg)
	panic(msg)
}
