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

// Package advisor prepares measurement results for an external
// interpretation service. Nothing in the driver depends on the advice
// returned.
package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nirlab/go-micronir/calibration"
)

// SamplePoints is how many spectrum points accompany a request.
const SamplePoints = 5

// NoPrediction stands in for an invalid or missing prediction.
const NoPrediction = "N/A"

// Request is what the interpretation service is told about a measurement.
type Request struct {
	Prediction string                 `json:"prediction"`
	LampStatus calibration.LampStatus `json:"lampStatus"`
	Points     []calibration.Point    `json:"points"`
}

// NewRequest summarises a measurement: the first SamplePoints of the
// spectrum, the prediction rounded for display, and the lamp status.
func NewRequest(spectrum calibration.Spectrum, prediction *calibration.Prediction, lamp calibration.LampStatus) Request {
	pred := NoPrediction
	if prediction != nil && prediction.Valid {
		pred = prediction.String()
	}
	return Request{
		Points:     append([]calibration.Point(nil), spectrum.Head(SamplePoints)...),
		Prediction: pred,
		LampStatus: lamp,
	}
}

// Prompt renders the request as the diagnostic text sent to the service.
func (r Request) Prompt() (string, error) {
	points, err := json.Marshal(r.Points)
	if err != nil {
		return "", fmt.Errorf("encode spectrum sample: %w", err)
	}

	var b strings.Builder
	b.WriteString("Act as a chemometrics and NIR spectroscopy expert.\n")
	b.WriteString("Diagnostic information:\n")
	fmt.Fprintf(&b, "- Current lamp status: %s\n", r.LampStatus)
	fmt.Fprintf(&b, "- Prediction (protein/moisture): %s%%\n", r.Prediction)
	fmt.Fprintf(&b, "- Spectral sample (first %d points): %s\n", len(r.Points), points)
	b.WriteString("Tasks:\n")
	fmt.Fprintf(&b, "1. If status is %q, explain likely technical causes.\n", calibration.LampErrorNaN)
	b.WriteString("2. Briefly explain what the absorbance curve suggests about feed quality.\n")
	b.WriteString("3. Give a one-sentence recommendation for the operator.\n")
	return b.String(), nil
}

// Interpreter turns a measurement summary into advice for the operator.
type Interpreter interface {
	Interpret(ctx context.Context, req Request) (string, error)
}

// Func adapts a function to Interpreter.
type Func func(ctx context.Context, req Request) (string, error)

// Interpret calls f.
func (f Func) Interpret(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Static is an offline Interpreter with canned advice keyed on lamp status.
type Static struct{}

// Interpret returns canned advice.
func (Static) Interpret(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	switch req.LampStatus {
	case calibration.LampErrorNaN:
		return "The prediction is not a number. Check USB power and the FTDI driver, " +
			"then repeat the dark and reference calibration.", nil
	case calibration.LampOff:
		return "The lamp is off. Switch it on and let it settle before measuring.", nil
	case calibration.LampUnknown:
		return "Lamp state unknown. Reconnect the spectrometer and recalibrate.", nil
	}
	if req.Prediction == NoPrediction {
		return "No prediction available. Calibrate and scan a sample.", nil
	}
	return fmt.Sprintf("Prediction %s%% recorded. Repeat the scan to confirm repeatability.", req.Prediction), nil
}
