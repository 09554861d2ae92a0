// Copyright 2026 The go-micronir Contributors.
// SPDX-License-Identifier: Apache-2.0
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

package calibration

import "math"

// Numeric guards for the absorbance transform.
const (
	// Epsilon floors both the sample and reference signal above dark so the
	// ratio never divides by zero and its log is always defined.
	Epsilon = 1.0
	// MinReflectance clamps the ratio from below; it caps absorbance at 4.
	MinReflectance = 0.0001
	// MaxReflectance clamps the ratio from above; absorbance is never negative.
	MaxReflectance = 1.0
)

// Absorbance returns -log10 of the dark-corrected reflectance of one pixel.
func Absorbance(sample, dark, reference float64) float64 {
	denom := math.Max(reference-dark, Epsilon)
	numer := math.Max(sample-dark, Epsilon)
	reflectance := numer / denom
	// NaN inputs fall through the clamp and surface at prediction time
	if reflectance < MinReflectance {
		reflectance = MinReflectance
	} else if reflectance > MaxReflectance {
		reflectance = MaxReflectance
	}
	return math.Log10(1 / reflectance)
}

// ComputeAbsorbance applies Absorbance pixel by pixel over the shared
// length of the three arrays.
func ComputeAbsorbance(sample, dark, reference []float64) []float64 {
	n := min(len(sample), len(dark), len(reference))
	out := make([]float64, n)
	for i := range n {
		out[i] = Absorbance(sample[i], dark[i], reference[i])
	}
	return out
}
