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

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAxis(t *testing.T) {
	t.Parallel()
	axis := DefaultAxis()
	assert.InDelta(t, 908.0, axis.Wavelength(0), 1e-9)
	assert.InDelta(t, 914.2, axis.Wavelength(1), 1e-9)
	assert.InDelta(t, 908+127*6.2, axis.Wavelength(127), 1e-9)

	custom := Axis{Start: 1100, Step: 8.6}
	assert.InDelta(t, 1117.2, custom.Wavelength(2), 1e-9)
}

func TestNewSpectrum(t *testing.T) {
	t.Parallel()
	s := NewSpectrum([]float64{0.1, 0.2, 0.3}, DefaultAxis())
	require.Len(t, s, 3)
	assert.InDelta(t, 920.4, s[2].Wavelength, 1e-9)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, s.Absorbances())
	assert.Len(t, s.Head(5), 3)
	assert.Len(t, s.Head(2), 2)
	assert.Equal(t, "908.0nm=0.1000", s[0].String())
}

func readySet(t *testing.T, n int) *Set {
	t.Helper()
	dark := make([]uint16, n)
	ref := make([]uint16, n)
	for i := range n {
		dark[i] = 100
		ref[i] = 1100
	}
	s := NewSet()
	require.NoError(t, s.SetDark(dark))
	require.NoError(t, s.SetReference(ref))
	return s
}

func TestAnalyze(t *testing.T) {
	t.Parallel()
	set := readySet(t, 128)
	sample := make([]uint16, 128)
	for i := range sample {
		sample[i] = 200
	}

	res, err := Analyze(set, sample, Model{Bias: 2, Coefficients: []float64{1, 1}}, DefaultAxis())
	require.NoError(t, err)
	require.Len(t, res.Spectrum, 128)
	assert.InDelta(t, 1.0, res.Spectrum[5].Absorbance, 1e-9)
	require.True(t, res.Prediction.Valid)
	assert.InDelta(t, 4.0, res.Prediction.Value, 1e-9)

	full, err := Analyze(set, sample, DefaultModel(), DefaultAxis())
	require.NoError(t, err)
	assert.True(t, full.Prediction.Valid)
	assert.False(t, math.IsNaN(full.Prediction.Value))
}

func TestAnalyze_RequiresReadySet(t *testing.T) {
	t.Parallel()
	s := NewSet()
	require.NoError(t, s.SetDark(ramp(128, 100)))

	_, err := Analyze(s, ramp(128, 500), DefaultModel(), DefaultAxis())
	require.ErrorIs(t, err, ErrNotReady)
}

func TestLampState(t *testing.T) {
	t.Parallel()
	valid := Prediction{Value: 1, Valid: true}
	invalid := Invalid
	tests := []struct {
		last      *Prediction
		name      string
		want      LampStatus
		known, on bool
	}{
		{name: "unknown", want: LampUnknown},
		{name: "off", known: true, want: LampOff},
		{name: "off ignores bad prediction", known: true, last: &invalid, want: LampOff},
		{name: "on without prediction", known: true, on: true, want: LampOK},
		{name: "on with valid prediction", known: true, on: true, last: &valid, want: LampOK},
		{name: "on with invalid prediction", known: true, on: true, last: &invalid, want: LampErrorNaN},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, LampState(tt.known, tt.on, tt.last))
		})
	}
}
