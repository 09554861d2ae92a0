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

package serial

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	micronir "github.com/nirlab/go-micronir"
	testutil "github.com/nirlab/go-micronir/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bugserial "go.bug.st/serial"
)

// fakePort is a serial port wired to the device simulator.
type fakePort struct {
	sim        *testutil.VirtualMicroNIR
	mode       *bugserial.Mode
	timeout    time.Duration
	drainErrs  []error
	drains     int
	closed     bool
	inputReset bool
}

func (p *fakePort) SetMode(mode *bugserial.Mode) error { p.mode = mode; return nil }
func (p *fakePort) Read(buf []byte) (int, error) {
	n, err := p.sim.Read(buf)
	if n == 0 && err == nil {
		time.Sleep(time.Millisecond)
	}
	return n, err
}
func (p *fakePort) Write(data []byte) (int, error) { return p.sim.Write(data) }
func (p *fakePort) Drain() error {
	p.drains++
	if len(p.drainErrs) > 0 {
		err := p.drainErrs[0]
		p.drainErrs = p.drainErrs[1:]
		return err
	}
	return nil
}
func (p *fakePort) ResetInputBuffer() error { p.inputReset = true; return nil }
func (*fakePort) ResetOutputBuffer() error { return nil }
func (*fakePort) SetDTR(bool) error { return nil }
func (*fakePort) SetRTS(bool) error { return nil }
func (*fakePort) GetModemStatusBits() (*bugserial.ModemStatusBits, error) { return &bugserial.ModemStatusBits{}, nil }
func (p *fakePort) SetReadTimeout(t time.Duration) error { p.timeout = t; return nil }
func (p *fakePort) Close() error { p.closed = true; return p.sim.Close() }
func (*fakePort) Break(time.Duration) error { return nil }

func TestOpen_ConfiguresPort(t *testing.T) {
	t.Parallel()
	port := &fakePort{sim: testutil.NewVirtualMicroNIR()}
	var gotName string
	var gotMode *bugserial.Mode

	ch, err := openWith(context.Background(), Config{Port: "/dev/ttyUSB0"},
		func(name string, mode *bugserial.Mode) (bugserial.Port, error) {
			gotName, gotMode = name, mode
			return port, nil
		})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ch.Close() })

	assert.Equal(t, "/dev/ttyUSB0", gotName)
	assert.Equal(t, DefaultBaud, gotMode.BaudRate)
	assert.Equal(t, 8, gotMode.DataBits)
	assert.Equal(t, bugserial.NoParity, gotMode.Parity)
	assert.Equal(t, bugserial.OneStopBit, gotMode.StopBits)
	require.NotNil(t, gotMode.InitialStatusBits)
	assert.True(t, gotMode.InitialStatusBits.DTR)
	assert.True(t, gotMode.InitialStatusBits.RTS)
	assert.Equal(t, defaultReadTimeout(), port.timeout)
	assert.True(t, port.inputReset)
	assert.Equal(t, micronir.TransportSerial, ch.Type())
	assert.Equal(t, "/dev/ttyUSB0", ch.Port())
}

func TestOpen_Errors(t *testing.T) {
	t.Parallel()

	_, err := openWith(context.Background(), Config{}, nil)
	require.ErrorIs(t, err, micronir.ErrInvalidParameter)

	busy := errors.New("port busy")
	_, err = openWith(context.Background(), Config{Port: "COM3"},
		func(string, *bugserial.Mode) (bugserial.Port, error) { return nil, busy })
	require.ErrorIs(t, err, busy)
	assert.False(t, micronir.IsRetryable(err))
}

func TestDeviceOverSerial(t *testing.T) {
	t.Parallel()
	sim := testutil.NewVirtualMicroNIR()
	port := &fakePort{sim: sim}
	factory := func(ctx context.Context) (micronir.Channel, error) {
		return openWith(ctx, Config{Port: "/dev/ttyUSB0", Baud: 115200},
			func(string, *bugserial.Mode) (bugserial.Port, error) { return port, nil })
	}

	device, err := micronir.New(factory,
		micronir.WithKeepAlive(0),
		micronir.WithLampSettle(time.Millisecond, time.Millisecond),
		micronir.WithTimeouts(500*time.Millisecond, time.Second),
	)
	require.NoError(t, err)
	require.NoError(t, device.Connect(context.Background()))

	celsius, err := device.GetTemperature(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 25.0, celsius, 1e-9)

	pixels, err := device.Scan(context.Background())
	require.NoError(t, err)
	assert.Len(t, pixels, testutil.DefaultPixels)
	assert.Positive(t, port.drains)

	require.NoError(t, device.Close())
	assert.True(t, port.closed)
}

func TestDrainWithRetry(t *testing.T) {
	t.Parallel()

	port := &fakePort{drainErrs: []error{syscall.EINTR, syscall.EINTR}}
	require.NoError(t, drainWithRetry(port))
	assert.Equal(t, 3, port.drains)

	port = &fakePort{drainErrs: []error{syscall.EINTR, syscall.EINTR, syscall.EINTR}}
	require.Error(t, drainWithRetry(port))

	port = &fakePort{drainErrs: []error{errors.New("io failure")}}
	require.Error(t, drainWithRetry(port))
	assert.Equal(t, 1, port.drains)
}

func TestIsInterruptedSystemCall(t *testing.T) {
	t.Parallel()
	assert.False(t, isInterruptedSystemCall(nil))
	assert.True(t, isInterruptedSystemCall(syscall.EINTR))
	assert.True(t, isInterruptedSystemCall(errors.New("read /dev/ttyUSB0: interrupted system call")))
	assert.False(t, isInterruptedSystemCall(errors.New("no such device")))
}

func TestPortInfo_FTDI(t *testing.T) {
	t.Parallel()
	assert.True(t, PortInfo{VID: "0403", PID: "6001"}.FTDI())
	assert.False(t, PortInfo{VID: "10c4"}.FTDI())
}
