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

//go:build !prod

package micronir

import (
	"context"
	"io"
	"testing"
	"time"

	testutil "github.com/nirlab/go-micronir/internal/testing"
	"github.com/nirlab/go-micronir/internal/syncutil"
	"github.com/stretchr/testify/require"
)

// simulatorLink gives each connection its own view of a shared simulator so
// closing one connection does not power the simulated device down.
type simulatorLink struct {
	sim    *testutil.VirtualMicroNIR
	mu     syncutil.Mutex
	closed bool
}

func (l *simulatorLink) Read(buf []byte) (int, error) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return 0, io.EOF
	}
	return l.sim.Read(buf) //nolint:wrapcheck // Pass-through wrapper
}

func (l *simulatorLink) Write(data []byte) (int, error) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return 0, io.ErrClosedPipe
	}
	return l.sim.Write(data) //nolint:wrapcheck // Pass-through wrapper
}

func (l *simulatorLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// NewSimulatorFactory returns a ChannelFactory whose channels talk to sim
// through a JitteryConnection, so responses arrive late and fragmented the
// way a USB-serial bridge delivers them.
func NewSimulatorFactory(sim *testutil.VirtualMicroNIR, jitter testutil.JitterConfig) ChannelFactory {
	return func(context.Context) (Channel, error) {
		link := &simulatorLink{sim: sim}
		return NewStreamChannel(testutil.NewJitteryConnection(link, jitter), StreamConfig{
			Type:        TransportMock,
			Port:        "simulator",
			IdleBackoff: time.Millisecond,
		}), nil
	}
}

// createSimulatedDevice connects a Device to a fresh simulator with fast
// timeouts, no keep-alive and short lamp settling.
func createSimulatedDevice(
	t *testing.T, jitter testutil.JitterConfig, opts ...Option,
) (*Device, *testutil.VirtualMicroNIR) {
	t.Helper()
	sim := testutil.NewVirtualMicroNIR()
	base := []Option{
		WithKeepAlive(0),
		WithRetryConfig(&RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    5 * time.Millisecond,
			BackoffMultiplier: 1,
		}),
		WithTimeouts(300*time.Millisecond, 500*time.Millisecond),
		WithLampSettle(time.Millisecond, time.Millisecond),
		WithResetSettle(time.Millisecond),
	}
	device, err := New(NewSimulatorFactory(sim, jitter), append(base, opts...)...)
	require.NoError(t, err)
	require.NoError(t, device.Connect(context.Background()))
	t.Cleanup(func() { _ = device.Close() })
	return device, sim
}
