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

import "fmt"

// Default wavelength mapping of the 128 pixel detector.
const (
	DefaultStartNM = 908.0
	DefaultStepNM  = 6.2
)

// Axis maps a pixel index to its wavelength: nm = Start + Step*i.
type Axis struct {
	Start float64 `yaml:"start_nm"`
	Step  float64 `yaml:"step_nm"`
}

// DefaultAxis returns the stock wavelength mapping.
func DefaultAxis() Axis {
	return Axis{Start: DefaultStartNM, Step: DefaultStepNM}
}

// Wavelength returns the wavelength of pixel i in nanometres.
func (a Axis) Wavelength(i int) float64 {
	return a.Start + a.Step*float64(i)
}

// Point is one sample of a spectrum.
type Point struct {
	Wavelength float64 `json:"nm"`
	Absorbance float64 `json:"absorbance"`
}

func (p Point) String() string {
	return fmt.Sprintf("%.1fnm=%.4f", p.Wavelength, p.Absorbance)
}

// Spectrum is an absorbance curve ordered by pixel.
type Spectrum []Point

// NewSpectrum pairs absorbances with their wavelengths.
func NewSpectrum(absorbances []float64, axis Axis) Spectrum {
	s := make(Spectrum, len(absorbances))
	for i, a := range absorbances {
		s[i] = Point{Wavelength: axis.Wavelength(i), Absorbance: a}
	}
	return s
}

// Absorbances returns the absorbance values in pixel order.
func (s Spectrum) Absorbances() []float64 {
	out := make([]float64, len(s))
	for i, p := range s {
		out[i] = p.Absorbance
	}
	return out
}

// Head returns at most the first n points.
func (s Spectrum) Head(n int) Spectrum {
	return s[:min(n, len(s))]
}

// Result is a corrected sample and its model output.
type Result struct {
	Spectrum   Spectrum
	Prediction Prediction
}

// Analyze corrects a sample scan against a READY set, builds its spectrum
// and scores it with model. An invalid prediction is reported through
// Result.Prediction, not as an error.
func Analyze(set *Set, sample []uint16, model Model, axis Axis) (Result, error) {
	absorbances, err := set.Absorbance(sample)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Spectrum:   NewSpectrum(absorbances, axis),
		Prediction: Predict(absorbances, model),
	}, nil
}
