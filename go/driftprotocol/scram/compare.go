// Copyright 2025 The DriftDB Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package scram

import "crypto/subtle"

// ConstantTimeEqual reports whether a and b are identical byte strings.
//
// Unlike subtle.ConstantTimeCompare, it does not short-circuit on a length
// mismatch: the scan always covers max(len(a), len(b)) positions, reading
// out-of-range bytes as zero, so the execution shape never depends on where
// the inputs first differ. Lengths are public; content is not.
func ConstantTimeEqual(a, b []byte) bool {
	diff, _ := foldDiff(a, b)
	lensEqual := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	return subtle.ConstantTimeByteEq(diff, 0)&lensEqual == 1
}

// foldDiff accumulates an OR of XORs across every scanned position and
// reports how many positions were scanned.
func foldDiff(a, b []byte) (diff byte, scanned int) {
	n := max(len(a), len(b))
	for i := 0; i < n; i++ {
		var x, y byte
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		diff |= x ^ y
	}
	return diff, n
}
