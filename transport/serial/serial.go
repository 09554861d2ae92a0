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

// Package serial connects to the spectrometer through the operating
// system's serial driver (FTDI virtual COM port or USB CDC).
package serial

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"syscall"
	"time"

	micronir "github.com/nirlab/go-micronir"
	bugserial "go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// DefaultBaud is the spectrometer's fixed line rate.
const DefaultBaud = 115200

// Config describes the port to open.
type Config struct {
	// Port is the device path, e.g. /dev/ttyUSB0 or COM3.
	Port string
	// Baud defaults to DefaultBaud.
	Baud int
	// ReadTimeout bounds each read so the read pump notices Close. Defaults
	// to a platform-specific value.
	ReadTimeout time.Duration
}

type openFunc func(name string, mode *bugserial.Mode) (bugserial.Port, error)

func openSystemPort(name string, mode *bugserial.Mode) (bugserial.Port, error) {
	return bugserial.Open(name, mode) //nolint:wrapcheck // wrapped by the caller
}

// isWindows returns true if running on Windows
func isWindows() bool {
	return runtime.GOOS == "windows"
}

// defaultReadTimeout returns the per-read timeout. Windows drivers need
// longer to return partial reads reliably.
func defaultReadTimeout() time.Duration {
	if isWindows() {
		return 100 * time.Millisecond
	}
	return 50 * time.Millisecond
}

// Open opens the port at 8N1 with DTR and RTS raised, which powers the
// sensor's interface, and returns it as a micronir Channel.
func Open(ctx context.Context, cfg Config) (*micronir.StreamChannel, error) {
	return openWith(ctx, cfg, openSystemPort)
}

func openWith(_ context.Context, cfg Config, open openFunc) (*micronir.StreamChannel, error) {
	if cfg.Port == "" {
		return nil, fmt.Errorf("%w: no serial port given", micronir.ErrInvalidParameter)
	}
	if cfg.Baud <= 0 {
		cfg.Baud = DefaultBaud
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout()
	}

	port, err := open(cfg.Port, &bugserial.Mode{
		BaudRate: cfg.Baud,
		DataBits: 8,
		Parity:   bugserial.NoParity,
		StopBits: bugserial.OneStopBit,
		InitialStatusBits: &bugserial.ModemOutputBits{
			DTR: true,
			RTS: true,
		},
	})
	if err != nil {
		return nil, micronir.NewTransportError("open", cfg.Port, err, micronir.ErrorTypePermanent)
	}

	if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to set serial read timeout: %w", err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		micronir.Debugf("serial %s: input flush failed: %v", cfg.Port, err)
	}

	micronir.Debugf("serial %s: opened at %d baud", cfg.Port, cfg.Baud)
	return micronir.NewStreamChannel(&portStream{port: port, name: cfg.Port}, micronir.StreamConfig{
		Type: micronir.TransportSerial,
		Port: cfg.Port,
	}), nil
}

// Factory returns a ChannelFactory that opens cfg on every Connect.
func Factory(cfg Config) micronir.ChannelFactory {
	return func(ctx context.Context) (micronir.Channel, error) {
		return Open(ctx, cfg)
	}
}

// portStream adapts a serial port for the stream channel's read pump.
type portStream struct {
	port bugserial.Port
	name string
}

func (p *portStream) Read(buf []byte) (int, error) {
	n, err := p.port.Read(buf)
	if err != nil && isInterruptedSystemCall(err) {
		return n, nil
	}
	if err != nil {
		return n, fmt.Errorf("serial %s read: %w", p.name, err)
	}
	return n, nil
}

func (p *portStream) Write(data []byte) (int, error) {
	n, err := p.port.Write(data)
	if err != nil {
		return n, fmt.Errorf("serial %s write: %w", p.name, err)
	}
	if err := drainWithRetry(p.port); err != nil {
		micronir.Debugf("serial %s: %v", p.name, err)
	}
	return n, nil
}

func (p *portStream) Close() error {
	if err := p.port.Close(); err != nil {
		return fmt.Errorf("serial close failed: %w", err)
	}
	return nil
}

// isInterruptedSystemCall checks if an error is EINTR
func isInterruptedSystemCall(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.EINTR) || strings.Contains(err.Error(), "interrupted system call")
}

type drainer interface {
	Drain() error
}

// drainWithRetry waits for written bytes to leave the port, retrying EINTR.
func drainWithRetry(port drainer) error {
	const maxRetries = 3
	baseDelay := 2 * time.Millisecond

	for attempt := range maxRetries {
		err := port.Drain()
		if err == nil {
			return nil
		}
		if isInterruptedSystemCall(err) && attempt < maxRetries-1 {
			time.Sleep(baseDelay * time.Duration(1<<attempt)) // 2ms, 4ms
			continue
		}
		return fmt.Errorf("drain failed: %w", err)
	}
	return fmt.Errorf("drain failed after %d retries", maxRetries)
}

// PortInfo describes a serial port found on the system.
type PortInfo struct {
	Name         string
	VID          string
	PID          string
	SerialNumber string
	IsUSB        bool
}

// FTDI reports whether the port belongs to an FTDI bridge, the chip the
// spectrometer uses.
func (p PortInfo) FTDI() bool {
	return strings.EqualFold(p.VID, "0403")
}

// ListPorts enumerates serial ports with their USB identifiers.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}
	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
		})
	}
	return ports, nil
}
