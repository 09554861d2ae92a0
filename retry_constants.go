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

package micronir

import "time"

// Request retry constants control how the device controller repeats a
// request after a timeout or write failure.
const (
	// DefaultRequestAttempts is the number of attempts per request.
	DefaultRequestAttempts = 3
	// RequestInitialBackoff is the delay after the first failed attempt.
	RequestInitialBackoff = 200 * time.Millisecond
	// RequestBackoffMultiplier grows the delay to 300ms for the second retry.
	RequestBackoffMultiplier = 1.5
	// RequestMaxBackoff caps the delay between attempts.
	RequestMaxBackoff = 1 * time.Second
)

// Response timeouts. Scans take longer because the detector integrates
// before answering; wireless links add latency on top.
const (
	// DefaultRequestTimeout bounds the wait for short responses.
	DefaultRequestTimeout = 2500 * time.Millisecond
	// DefaultScanTimeout bounds the wait for a scan response over USB.
	DefaultScanTimeout = 2000 * time.Millisecond
	// BLEScanTimeout bounds the wait for a scan response over BLE.
	BLEScanTimeout = 6000 * time.Millisecond
)

// Lamp settling delays applied after a lamp command is acknowledged.
const (
	// LampOnSettleUSB is the warm-up time after switching the lamp on over USB.
	LampOnSettleUSB = 1000 * time.Millisecond
	// LampOnSettleBLE is the warm-up time after switching the lamp on over BLE.
	LampOnSettleBLE = 1500 * time.Millisecond
	// LampOffSettle is the delay after switching the lamp off.
	LampOffSettle = 200 * time.Millisecond
)

// Keep-alive constants.
const (
	// DefaultKeepAliveInterval is the idle time after which a probe is sent.
	DefaultKeepAliveInterval = 4000 * time.Millisecond
)
