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

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	micronir "github.com/nirlab/go-micronir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "micronir.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()

	assert.Equal(t, TransportSerial, cfg.Connection.Transport)
	assert.Equal(t, 115200, cfg.Connection.Baud)
	assert.Equal(t, uint16(0x0403), cfg.Connection.VendorID)
	assert.Equal(t, "MicroNIR", cfg.Connection.BLE.NamePrefix)
	assert.Equal(t, 128, cfg.Device.PixelCount)
	assert.Equal(t, uint64(10000), cfg.Device.IntegrationMicros)
	assert.Len(t, cfg.Model.Coefficients, 128)
	assert.InDelta(t, 908.0, cfg.Axis().Wavelength(0), 1e-9)
	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Connection, cfg.Connection)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
connection:
  transport: ftdi
  product_id: 0x6001
timing:
  request_timeout: 1s
  keep_alive_interval: 0s
device:
  integration_us: 20000
  config_width: 4
model:
  name: moisture
  bias: 0.5
  coefficients: [1, 2, 3]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Path())
	assert.Equal(t, TransportFTDI, cfg.Connection.Transport)
	assert.Equal(t, uint16(0x6001), cfg.Connection.ProductID)
	assert.Equal(t, 115200, cfg.Connection.Baud, "unset keys keep defaults")
	assert.Equal(t, time.Second, cfg.Timing.RequestTimeout)
	assert.Zero(t, cfg.Timing.KeepAliveInterval)
	assert.Equal(t, 4, cfg.Device.ConfigWidth)

	model := cfg.CalibrationModel()
	assert.Equal(t, "moisture", model.Name)
	assert.Equal(t, []float64{1, 2, 3}, model.Coefficients)
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		content string
	}{
		{name: "bad yaml", content: "connection: [\n"},
		{name: "unknown transport", content: "connection:\n  transport: zigbee\n"},
		{name: "websocket without url", content: "connection:\n  transport: websocket\n"},
		{name: "bad width", content: "device:\n  config_width: 3\n"},
		{name: "bad baud", content: "connection:\n  baud: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
		})
	}
}

//nolint:paralleltest // t.Setenv
func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvTransport, TransportWebSocket)
	t.Setenv(EnvPort, "COM7")
	t.Setenv(EnvBaud, "57600")
	t.Setenv(EnvURL, "ws://bridge.local:8080/serial")
	t.Setenv(EnvBLEPrefix, "NIR-")

	cfg, err := Load(writeConfig(t, "connection:\n  port: /dev/ttyACM0\n"))
	require.NoError(t, err)

	assert.Equal(t, TransportWebSocket, cfg.Connection.Transport)
	assert.Equal(t, "COM7", cfg.Connection.Port)
	assert.Equal(t, 57600, cfg.Connection.Baud)
	assert.Equal(t, "ws://bridge.local:8080/serial", cfg.Connection.WebSocket.URL)
	assert.Equal(t, "NIR-", cfg.Connection.BLE.NamePrefix)
}

//nolint:paralleltest // t.Setenv
func TestLoad_BadBaudEnvIgnored(t *testing.T) {
	t.Setenv(EnvBaud, "fast")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 115200, cfg.Connection.Baud)
}

func TestSaveRoundTrip(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Connection.Port = "/dev/ttyUSB3"
	cfg.Timing.LampOnSettle = 1500 * time.Millisecond

	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB3", loaded.Connection.Port)
	assert.Equal(t, 1500*time.Millisecond, loaded.Timing.LampOnSettle)
	assert.Equal(t, cfg.Model.Coefficients, loaded.Model.Coefficients)
}

func TestDeviceOptions(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Timing.KeepAliveInterval = 0
	factory := func(_ context.Context) (micronir.Channel, error) { return micronir.NewMockChannel(), nil }

	opts, err := cfg.DeviceOptions()
	require.NoError(t, err)
	_, err = micronir.New(factory, opts...)
	require.NoError(t, err)

	cfg.Device.IntegrationMicros = 1 << 20
	_, err = cfg.DeviceOptions()
	require.ErrorIs(t, err, micronir.ErrInvalidParameter)
}
