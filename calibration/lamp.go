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

// LampStatus summarises the light source for operators and the advisor.
type LampStatus string

const (
	// LampOK means the lamp is on and the last prediction was valid.
	LampOK LampStatus = "ok"
	// LampErrorNaN means the lamp is on but the last prediction was invalid,
	// typically a power sag starving the lamp mid-scan.
	LampErrorNaN LampStatus = "error_nan"
	// LampOff means the lamp is off.
	LampOff LampStatus = "off"
	// LampUnknown means the lamp state has not been established.
	LampUnknown LampStatus = "unknown"
)

// LampState derives the status from whether the lamp is known to be on and
// the most recent prediction, if any.
func LampState(known, on bool, last *Prediction) LampStatus {
	switch {
	case !known:
		return LampUnknown
	case !on:
		return LampOff
	case last != nil && !last.Valid:
		return LampErrorNaN
	default:
		return LampOK
	}
}
