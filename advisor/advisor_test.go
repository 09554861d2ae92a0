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

package advisor

import (
	"context"
	"errors"
	"testing"

	"github.com/nirlab/go-micronir/calibration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spectrum(n int) calibration.Spectrum {
	abs := make([]float64, n)
	for i := range abs {
		abs[i] = 0.1 * float64(i)
	}
	return calibration.NewSpectrum(abs, calibration.DefaultAxis())
}

func TestNewRequest(t *testing.T) {
	t.Parallel()
	pred := calibration.Prediction{Value: 18.456, Valid: true}

	req := NewRequest(spectrum(128), &pred, calibration.LampOK)
	require.Len(t, req.Points, SamplePoints)
	assert.InDelta(t, 908.0, req.Points[0].Wavelength, 1e-9)
	assert.InDelta(t, 0.4, req.Points[4].Absorbance, 1e-9)
	assert.Equal(t, "18.46", req.Prediction)
	assert.Equal(t, calibration.LampOK, req.LampStatus)
}

func TestNewRequest_NoPrediction(t *testing.T) {
	t.Parallel()
	invalid := calibration.Invalid

	assert.Equal(t, NoPrediction, NewRequest(spectrum(3), nil, calibration.LampOff).Prediction)
	req := NewRequest(spectrum(3), &invalid, calibration.LampErrorNaN)
	assert.Equal(t, NoPrediction, req.Prediction)
	assert.Len(t, req.Points, 3)
}

func TestRequest_Prompt(t *testing.T) {
	t.Parallel()
	pred := calibration.Prediction{Value: 12, Valid: true}
	prompt, err := NewRequest(spectrum(10), &pred, calibration.LampOK).Prompt()
	require.NoError(t, err)

	assert.Contains(t, prompt, "Current lamp status: ok")
	assert.Contains(t, prompt, "12.00%")
	assert.Contains(t, prompt, `{"nm":908,"absorbance":0}`)
	assert.Contains(t, prompt, "first 5 points")
}

func TestStatic(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		want string
		req  Request
	}{
		{name: "nan", req: Request{LampStatus: calibration.LampErrorNaN}, want: "USB power"},
		{name: "off", req: Request{LampStatus: calibration.LampOff}, want: "lamp is off"},
		{name: "unknown", req: Request{LampStatus: calibration.LampUnknown}, want: "unknown"},
		{name: "no prediction", req: Request{LampStatus: calibration.LampOK, Prediction: NoPrediction}, want: "Calibrate"},
		{name: "ok", req: Request{LampStatus: calibration.LampOK, Prediction: "17.20"}, want: "17.20%"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Static{}.Interpret(context.Background(), tt.req)
			require.NoError(t, err)
			assert.Contains(t, got, tt.want)
		})
	}
}

func TestStatic_Cancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Static{}.Interpret(ctx, Request{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestFunc(t *testing.T) {
	t.Parallel()
	var got Request
	var in Interpreter = Func(func(_ context.Context, req Request) (string, error) {
		got = req
		return "", errors.New("service unavailable")
	})

	_, err := in.Interpret(context.Background(), Request{Prediction: "1.00"})
	require.Error(t, err)
	assert.Equal(t, "1.00", got.Prediction)
}
