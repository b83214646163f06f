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

// Package reference is the naive triple-loop matmul spec.md §8 names as
// the comparator for every end-to-end scenario, adapted from the
// teacher's matmulScalar (hwy/contrib/matmul/matmul_base.go) to the
// transposed-LHS convention trmul.TrMul uses: lhs is depth x rows,
// rhs is depth x cols, both row-major.
package reference

type Numeric interface {
	~float32 | ~float64
}

// MatMul computes dst[rows x cols] = lhsT^T * rhs, where lhsT is
// depth x rows and rhs is depth x cols, both row-major.
func MatMul[T Numeric](lhsT, rhs []T, rows, cols, depth int) []T {
	dst := make([]T, rows*cols)
	for m := 0; m < rows; m++ {
		for n := 0; n < cols; n++ {
			var acc T
			for k := 0; k < depth; k++ {
				acc += lhsT[k*rows+m] * rhs[k*cols+n]
			}
			dst[m*cols+n] = acc
		}
	}
	return dst
}
