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

// Package calibration turns raw MicroNIR pixel counts into absorbance
// spectra and model predictions.
//
// A Set holds the dark (lamp off) and reference (lamp on, white standard)
// captures. Once both are present the Set is READY and sample scans can be
// corrected against them.
package calibration

import (
	"errors"
	"fmt"

	"github.com/nirlab/go-micronir/internal/syncutil"
)

// MinCapturePoints is the sanity floor for a calibration capture: a capture
// must carry more points than this.
const MinCapturePoints = 10

// Capture errors
var (
	ErrCaptureTooShort = errors.New("capture has too few points")
	ErrCaptureAllZero  = errors.New("capture is all zero")
	ErrLengthMismatch  = errors.New("capture length does not match calibration")
	ErrNotReady        = errors.New("calibration is not ready")
)

// Status is the calibration progress.
type Status int

const (
	// StatusNone means neither capture has been taken.
	StatusNone Status = iota
	// StatusDarkOnly means only the dark capture is present.
	StatusDarkOnly
	// StatusReferenceOnly means only the reference capture is present.
	StatusReferenceOnly
	// StatusReady means both captures are present and may be used.
	StatusReady
)

func (s Status) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusDarkOnly:
		return "dark"
	case StatusReferenceOnly:
		return "reference"
	case StatusReady:
		return "ready"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Kind selects which capture a calibration step records.
type Kind string

const (
	// Dark is captured with the lamp off.
	Dark Kind = "dark"
	// Reference is captured with the lamp on against the white standard.
	Reference Kind = "reference"
)

// Set is the pair of calibration captures. It is safe for concurrent use.
// The zero value is an empty set.
type Set struct {
	dark      []uint16
	reference []uint16
	mu        syncutil.RWMutex
}

// NewSet returns an empty calibration set.
func NewSet() *Set {
	return &Set{}
}

// ValidateCapture checks a raw capture before it may be used for calibration.
func ValidateCapture(pixels []uint16) error {
	if len(pixels) <= MinCapturePoints {
		return fmt.Errorf("%w: %d points, need more than %d", ErrCaptureTooShort, len(pixels), MinCapturePoints)
	}
	for _, p := range pixels {
		if p != 0 {
			return nil
		}
	}
	return ErrCaptureAllZero
}

// SetDark records the dark capture.
func (s *Set) SetDark(pixels []uint16) error {
	return s.Record(Dark, pixels)
}

// SetReference records the reference capture.
func (s *Set) SetReference(pixels []uint16) error {
	return s.Record(Reference, pixels)
}

// Record validates pixels and stores them as the given capture. A rejected
// capture leaves the set unchanged. When the other capture is present the
// lengths must match.
func (s *Set) Record(kind Kind, pixels []uint16) error {
	if err := ValidateCapture(pixels); err != nil {
		return fmt.Errorf("%s capture: %w", kind, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var other []uint16
	switch kind {
	case Dark:
		other = s.reference
	case Reference:
		other = s.dark
	default:
		return fmt.Errorf("unknown capture kind %q", kind)
	}
	if other != nil && len(other) != len(pixels) {
		return fmt.Errorf("%s capture: %w: %d points, have %d", kind, ErrLengthMismatch, len(pixels), len(other))
	}

	captured := append([]uint16(nil), pixels...)
	if kind == Dark {
		s.dark = captured
	} else {
		s.reference = captured
	}
	return nil
}

// Status reports calibration progress.
func (s *Set) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statusLocked()
}

func (s *Set) statusLocked() Status {
	switch {
	case s.dark != nil && s.reference != nil:
		return StatusReady
	case s.dark != nil:
		return StatusDarkOnly
	case s.reference != nil:
		return StatusReferenceOnly
	default:
		return StatusNone
	}
}

// Ready reports whether both captures are present.
func (s *Set) Ready() bool {
	return s.Status() == StatusReady
}

// Dark returns a copy of the dark capture, or nil.
func (s *Set) Dark() []uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]uint16(nil), s.dark...)
}

// Reference returns a copy of the reference capture, or nil.
func (s *Set) Reference() []uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]uint16(nil), s.reference...)
}

// Clear forgets both captures.
func (s *Set) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dark = nil
	s.reference = nil
}

// Absorbance corrects sample against the calibration. The set must be
// READY and sample must have the calibrated length.
func (s *Set) Absorbance(sample []uint16) ([]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.statusLocked() != StatusReady {
		return nil, fmt.Errorf("%w: status %s", ErrNotReady, s.statusLocked())
	}
	if len(sample) != len(s.dark) {
		return nil, fmt.Errorf("%w: sample has %d points, calibration %d", ErrLengthMismatch, len(sample), len(s.dark))
	}

	out := make([]float64, len(sample))
	for i := range sample {
		out[i] = Absorbance(float64(sample[i]), float64(s.dark[i]), float64(s.reference[i]))
	}
	return out, nil
}
