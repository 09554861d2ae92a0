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
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nirlab/go-micronir/internal/syncutil"
)

// DeviceConfig contains configuration options for the Device
type DeviceConfig struct {
	// RetryConfig configures retry behavior for requests
	RetryConfig *RetryConfig
	// InitSequence is sent on every Connect before the device is usable.
	InitSequence []Command
	// RequestTimeout bounds the wait for short responses.
	RequestTimeout time.Duration
	// ScanTimeout bounds the wait for a scan response. Zero selects a
	// transport-specific default.
	ScanTimeout time.Duration
	// KeepAliveInterval is the idle time before a probe. Zero disables it.
	KeepAliveInterval time.Duration
	// LampOnSettle and LampOffSettle are waited after a lamp command. Zero
	// selects a transport-specific default.
	LampOnSettle  time.Duration
	LampOffSettle time.Duration
	// ResetSettle is waited after RESET before the init sequence is replayed.
	ResetSettle time.Duration
	// PixelCount is the number of detector pixels per scan. Zero accepts any
	// even-length payload.
	PixelCount int
}

// DefaultPixelCount is the detector width of the handheld unit.
const DefaultPixelCount = 128

// DefaultDeviceConfig returns default device configuration
func DefaultDeviceConfig() *DeviceConfig {
	return &DeviceConfig{
		RetryConfig:       DefaultRetryConfig(),
		InitSequence:      DefaultInitSequence(),
		RequestTimeout:    DefaultRequestTimeout,
		KeepAliveInterval: DefaultKeepAliveInterval,
		ResetSettle:       500 * time.Millisecond,
		PixelCount:        DefaultPixelCount,
	}
}

// Status is a snapshot of the controller state for display.
type Status struct {
	Transport   TransportType
	Port        string
	Temperature float64
	Session     SessionStats
	Connected   bool
	LampOn      bool
	// HasTemperature is false until the first successful reading.
	HasTemperature bool
}

// Device is the command surface of a MicroNIR spectrometer.
//
// Each Connect opens a fresh channel from the factory and wraps it in a new
// Session; Disconnect tears both down. Methods are safe for concurrent use,
// but the link carries one request at a time, so concurrent callers are
// serialized by the session's retry on ErrRequestPending.
type Device struct {
	factory ChannelFactory
	config  *DeviceConfig
	session *Session
	status  Status
	mu      syncutil.Mutex
}

// New creates a device that opens its link through factory.
func New(factory ChannelFactory, opts ...Option) (*Device, error) {
	if factory == nil {
		return nil, fmt.Errorf("%w: nil channel factory", ErrInvalidParameter)
	}
	device := &Device{
		factory: factory,
		config:  DefaultDeviceConfig(),
	}

	for _, opt := range opts {
		if err := opt(device); err != nil {
			return nil, err
		}
	}

	return device, nil
}

// Connect opens the link and runs the init sequence. The device ignores
// other commands until it has been configured, so Connect only succeeds
// once every init command has been acknowledged. Calling Connect on a
// connected device is a no-op.
func (d *Device) Connect(ctx context.Context) error {
	d.mu.Lock()
	if d.session != nil {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	ch, err := d.factory(ctx)
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}

	cfg := DefaultSessionConfig()
	cfg.RequestTimeout = d.config.RequestTimeout
	cfg.KeepAliveInterval = d.config.KeepAliveInterval
	session := NewSession(ch, cfg)

	if err := d.runInit(ctx, session); err != nil {
		_ = session.Close()
		return fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	d.mu.Lock()
	if d.session != nil {
		d.mu.Unlock()
		_ = session.Close()
		return nil
	}
	d.session = session
	d.status = Status{
		Connected: true,
		Transport: ch.Type(),
		Port:      session.port,
	}
	d.mu.Unlock()

	session.StartKeepAlive()
	Logger().Info().Str("transport", string(ch.Type())).Str("port", session.port).Msg("connected")
	return nil
}

func (d *Device) runInit(ctx context.Context, session *Session) error {
	for _, cmd := range d.config.InitSequence {
		if cmd.NoResponse {
			if err := session.Send(ctx, cmd.Opcode, cmd.Payload); err != nil {
				return fmt.Errorf("%s: %w", cmd.Opcode, err)
			}
		} else {
			err := RetryWithConfig(ctx, d.config.RetryConfig, func() error {
				_, reqErr := d.exchange(ctx, session, cmd.Opcode, cmd.Payload, 0)
				return reqErr
			})
			if err != nil {
				return fmt.Errorf("%s: %w", cmd.Opcode, err)
			}
		}
		if err := sleepCtx(ctx, cmd.Settle); err != nil {
			return err
		}
		Debugf("init: %s ok", cmd.Opcode)
	}
	return nil
}

// Disconnect aborts any outstanding request, stops the keep-alive and
// closes the channel. It is safe to call on a disconnected device.
func (d *Device) Disconnect() error {
	d.mu.Lock()
	session := d.session
	d.session = nil
	d.status.Connected = false
	d.mu.Unlock()

	if session == nil {
		return nil
	}
	if err := session.Close(); err != nil {
		return err
	}
	Logger().Info().Str("port", session.port).Msg("disconnected")
	return nil
}

// Close closes the device connection
func (d *Device) Close() error {
	return d.Disconnect()
}

// Connected reports whether a live session exists. A session whose link
// dropped counts as disconnected.
func (d *Device) Connected() bool {
	_, err := d.activeSession()
	return err == nil
}

// Status returns a snapshot of the controller state.
func (d *Device) Status() Status {
	session, err := d.activeSession()

	d.mu.Lock()
	defer d.mu.Unlock()
	st := d.status
	st.Connected = err == nil
	if session != nil {
		st.Session = session.Stats()
	}
	return st
}

// Session returns the current link session, or nil when disconnected.
func (d *Device) Session() *Session {
	session, err := d.activeSession()
	if err != nil {
		return nil
	}
	return session
}

func (d *Device) activeSession() (*Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session == nil {
		return nil, ErrNotConnected
	}
	select {
	case <-d.session.Done():
		if cause := d.session.Err(); cause != nil {
			return nil, fmt.Errorf("%w: %w", ErrNotConnected, cause)
		}
		return nil, ErrNotConnected
	default:
		return d.session, nil
	}
}

// =============================================================================
// Commands
// =============================================================================

// GetTemperature reads the detector temperature in degrees Celsius.
func (d *Device) GetTemperature(ctx context.Context) (float64, error) {
	resp, err := d.request(ctx, OpGetTemperature, nil, 0)
	if err != nil {
		return 0, fmt.Errorf("get temperature: %w", err)
	}
	celsius, err := parseTemperature(resp.Payload)
	if err != nil {
		return 0, fmt.Errorf("get temperature: %w", err)
	}

	d.mu.Lock()
	d.status.Temperature = celsius
	d.status.HasTemperature = true
	d.mu.Unlock()
	return celsius, nil
}

// SetLamp switches the lamp and then waits for it to settle. Turning the
// lamp on takes materially longer than turning it off because the source
// must reach thermal equilibrium before readings are trustworthy. The wait
// honours ctx.
func (d *Device) SetLamp(ctx context.Context, on bool) error {
	if _, err := d.request(ctx, OpSetLamp, lampPayload(on), 0); err != nil {
		return fmt.Errorf("set lamp: %w", err)
	}

	d.mu.Lock()
	d.status.LampOn = on
	transport := d.status.Transport
	d.mu.Unlock()

	settle := d.lampSettle(on, transport)
	Debugf("lamp %s, settling %v", onOff(on), settle)
	return sleepCtx(ctx, settle)
}

func (d *Device) lampSettle(on bool, transport TransportType) time.Duration {
	if !on {
		if d.config.LampOffSettle > 0 {
			return d.config.LampOffSettle
		}
		return LampOffSettle
	}
	if d.config.LampOnSettle > 0 {
		return d.config.LampOnSettle
	}
	if transport == TransportBLE {
		return LampOnSettleBLE
	}
	return LampOnSettleUSB
}

// Scan triggers an acquisition and returns the raw pixel counts.
func (d *Device) Scan(ctx context.Context) ([]uint16, error) {
	d.mu.Lock()
	transport := d.status.Transport
	d.mu.Unlock()

	timeout := d.config.ScanTimeout
	if timeout <= 0 {
		timeout = DefaultScanTimeout
		if transport == TransportBLE {
			timeout = BLEScanTimeout
		}
	}

	resp, err := d.request(ctx, OpScan, nil, timeout)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	pixels, err := parsePixels(resp.Payload, d.config.PixelCount)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	return pixels, nil
}

// GetInfo returns the device's self-description.
func (d *Device) GetInfo(ctx context.Context) (Info, error) {
	resp, err := d.request(ctx, OpGetInfo, nil, 0)
	if err != nil {
		return Info{}, fmt.Errorf("get info: %w", err)
	}
	return Info{Raw: resp.Payload}, nil
}

// Configure sets the detector integration time. width selects the payload
// size the firmware expects (2, 4 or 8 bytes).
func (d *Device) Configure(ctx context.Context, integrationMicros uint64, width int) error {
	payload, err := IntegrationPayload(integrationMicros, width)
	if err != nil {
		return err
	}
	if _, err := d.request(ctx, OpSetConfig, payload, 0); err != nil {
		return fmt.Errorf("configure: %w", err)
	}
	return nil
}

// Reset restarts the firmware and replays the init sequence. The lamp is
// off afterwards.
func (d *Device) Reset(ctx context.Context) error {
	session, err := d.activeSession()
	if err != nil {
		return err
	}
	if err := session.Send(ctx, OpReset, nil); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	if err := sleepCtx(ctx, d.config.ResetSettle); err != nil {
		return err
	}

	d.mu.Lock()
	d.status.LampOn = false
	d.mu.Unlock()

	if err := d.runInit(ctx, session); err != nil {
		return fmt.Errorf("%w: %w", ErrInitFailed, err)
	}
	return nil
}

// request runs one command through the retry policy and checks that the
// response echoes the request opcode.
func (d *Device) request(ctx context.Context, opcode Opcode, payload []byte, timeout time.Duration) (Response, error) {
	var resp Response
	err := RetryWithConfig(ctx, d.config.RetryConfig, func() error {
		session, err := d.activeSession()
		if err != nil {
			return err
		}
		resp, err = d.exchange(ctx, session, opcode, payload, timeout)
		return err
	})
	return resp, err
}

func (*Device) exchange(
	ctx context.Context, session *Session, opcode Opcode, payload []byte, timeout time.Duration,
) (Response, error) {
	resp, err := session.Request(ctx, opcode, payload, timeout)
	if err != nil {
		if errors.Is(err, ErrSessionClosed) {
			return Response{}, fmt.Errorf("%w: %w", ErrNotConnected, err)
		}
		return Response{}, err
	}
	if resp.Opcode != opcode {
		return Response{}, NewMalformedResponseError("response opcode %s, want %s", resp.Opcode, opcode)
	}
	return resp, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
