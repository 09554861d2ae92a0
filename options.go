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

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Option configures a Device
type Option func(*Device) error

// WithTimeouts sets the request and scan response timeouts. A zero scan
// timeout keeps the transport-specific default.
func WithTimeouts(request, scan time.Duration) Option {
	return func(d *Device) error {
		if request <= 0 {
			return fmt.Errorf("%w: request timeout must be positive, got %v", ErrInvalidParameter, request)
		}
		if scan < 0 {
			return fmt.Errorf("%w: scan timeout must not be negative, got %v", ErrInvalidParameter, scan)
		}
		d.config.RequestTimeout = request
		d.config.ScanTimeout = scan
		return nil
	}
}

// WithRetryConfig replaces the request retry policy.
func WithRetryConfig(config *RetryConfig) Option {
	return func(d *Device) error {
		if config == nil {
			return fmt.Errorf("%w: nil retry config", ErrInvalidParameter)
		}
		d.config.RetryConfig = config
		return nil
	}
}

// WithKeepAlive sets the idle interval before a keep-alive probe. Zero
// disables keep-alive.
func WithKeepAlive(interval time.Duration) Option {
	return func(d *Device) error {
		if interval < 0 {
			return fmt.Errorf("%w: keep-alive interval must not be negative, got %v", ErrInvalidParameter, interval)
		}
		d.config.KeepAliveInterval = interval
		return nil
	}
}

// WithInitSequence replaces the commands sent on Connect.
func WithInitSequence(cmds ...Command) Option {
	return func(d *Device) error {
		d.config.InitSequence = append([]Command(nil), cmds...)
		return nil
	}
}

// WithPixelCount sets the expected pixels per scan. Zero accepts any count.
func WithPixelCount(n int) Option {
	return func(d *Device) error {
		if n < 0 {
			return fmt.Errorf("%w: pixel count must not be negative, got %d", ErrInvalidParameter, n)
		}
		d.config.PixelCount = n
		return nil
	}
}

// WithLampSettle overrides the lamp settling delays.
func WithLampSettle(on, off time.Duration) Option {
	return func(d *Device) error {
		if on < 0 || off < 0 {
			return fmt.Errorf("%w: lamp settle must not be negative", ErrInvalidParameter)
		}
		d.config.LampOnSettle = on
		d.config.LampOffSettle = off
		return nil
	}
}

// WithResetSettle sets the delay between RESET and the replayed init sequence.
func WithResetSettle(settle time.Duration) Option {
	return func(d *Device) error {
		d.config.ResetSettle = settle
		return nil
	}
}

// WithLogger routes library logging to l. It affects every device in the
// process.
func WithLogger(l zerolog.Logger) Option {
	return func(*Device) error {
		SetLogger(l)
		return nil
	}
}
