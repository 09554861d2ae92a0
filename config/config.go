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

// Package config loads the nirctl configuration: how to reach the
// spectrometer, protocol timing, detector setup and the prediction model.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	micronir "github.com/nirlab/go-micronir"
	"github.com/nirlab/go-micronir/calibration"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where nirctl looks for its configuration.
const DefaultPath = "micronir.yaml"

// Environment overrides applied after the file is read.
const (
	EnvTransport = "MICRONIR_TRANSPORT"
	EnvPort      = "MICRONIR_PORT"
	EnvBaud      = "MICRONIR_BAUD"
	EnvURL       = "MICRONIR_WS_URL"
	EnvBLEPrefix = "MICRONIR_BLE_PREFIX"
)

// Transport kinds accepted in Connection.Transport.
const (
	TransportSerial    = "serial"
	TransportFTDI      = "ftdi"
	TransportBLE       = "ble"
	TransportWebSocket = "websocket"
)

// Config is the full configuration file.
type Config struct {
	Connection  ConnectionConfig  `yaml:"connection"`
	Model       ModelConfig       `yaml:"model"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Timing      TimingConfig      `yaml:"timing"`
	Device      DeviceConfig      `yaml:"device"`

	path string
}

// ConnectionConfig selects and parameterises the transport.
type ConnectionConfig struct {
	Transport string          `yaml:"transport"` // serial, ftdi, ble or websocket
	Port      string          `yaml:"port"`      // e.g. /dev/ttyUSB0 or COM3
	BLE       BLEConfig       `yaml:"ble"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Baud      int             `yaml:"baud"`
	VendorID  uint16          `yaml:"vendor_id"`
	ProductID uint16          `yaml:"product_id"` // 0 matches any FTDI product
}

// BLEConfig identifies the GATT peripheral.
type BLEConfig struct {
	NamePrefix string        `yaml:"name_prefix"`
	Service    string        `yaml:"service_uuid"`
	TX         string        `yaml:"tx_uuid"`
	RX         string        `yaml:"rx_uuid"`
	ScanWindow time.Duration `yaml:"scan_window"`
}

// WebSocketConfig points at a remote serial bridge.
type WebSocketConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"` // prompted for when empty and Username is set
	Insecure bool   `yaml:"insecure"`
}

// TimingConfig tunes the link protocol. Zero values keep the driver defaults.
type TimingConfig struct {
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	ScanTimeout       time.Duration `yaml:"scan_timeout"`
	KeepAliveInterval time.Duration `yaml:"keep_alive_interval"`
	LampOnSettle      time.Duration `yaml:"lamp_on_settle"`
	LampOffSettle     time.Duration `yaml:"lamp_off_settle"`
	InitialBackoff    time.Duration `yaml:"initial_backoff"`
	Attempts          int           `yaml:"attempts"`
}

// DeviceConfig describes the detector.
type DeviceConfig struct {
	PixelCount        int    `yaml:"pixel_count"`
	IntegrationMicros uint64 `yaml:"integration_us"`
	ConfigWidth       int    `yaml:"config_width"` // SET_CONFIG payload bytes: 2, 4 or 8
}

// ModelConfig is the regression model and wavelength mapping.
type ModelConfig struct {
	Name         string    `yaml:"name"`
	Coefficients []float64 `yaml:"coefficients,flow"`
	Bias         float64   `yaml:"bias"`
	StartNM      float64   `yaml:"start_nm"`
	StepNM       float64   `yaml:"step_nm"`
}

// CalibrationConfig says where captures are persisted between runs.
type CalibrationConfig struct {
	Path string `yaml:"path"`
}

// DefaultConfig returns a config with the stock device parameters.
func DefaultConfig() *Config {
	model := calibration.DefaultModel()
	return &Config{
		Connection: ConnectionConfig{
			Transport: TransportSerial,
			Port:      "/dev/ttyUSB0",
			Baud:      115200,
			VendorID:  0x0403,
			BLE: BLEConfig{
				NamePrefix: "MicroNIR",
				Service:    "0f45c9b0-5508-11e6-bdf4-0800200c9a66",
				TX:         "0f45c9b1-5508-11e6-bdf4-0800200c9a66",
				RX:         "0f45c9b2-5508-11e6-bdf4-0800200c9a66",
				ScanWindow: 10 * time.Second,
			},
		},
		Timing: TimingConfig{
			RequestTimeout:    micronir.DefaultRequestTimeout,
			KeepAliveInterval: micronir.DefaultKeepAliveInterval,
			Attempts:          micronir.DefaultRequestAttempts,
			InitialBackoff:    micronir.RequestInitialBackoff,
		},
		Device: DeviceConfig{
			PixelCount:        micronir.DefaultPixelCount,
			IntegrationMicros: micronir.DefaultIntegrationMicros,
			ConfigWidth:       2,
		},
		Model: ModelConfig{
			Name:         model.Name,
			Bias:         model.Bias,
			Coefficients: model.Coefficients,
			StartNM:      calibration.DefaultStartNM,
			StepNM:       calibration.DefaultStepNM,
		},
		Calibration: CalibrationConfig{
			Path: "micronir-calibration.yaml",
		},
	}
}

// Load reads path over the defaults and applies environment overrides. A
// missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path) //nolint:gosec // path is operator supplied
	switch {
	case errors.Is(err, os.ErrNotExist):
		micronir.Debugf("config: no file at %s, using defaults", path)
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		micronir.Debugf("config: loaded %s", path)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(EnvTransport); v != "" {
		c.Connection.Transport = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		c.Connection.Port = v
	}
	if v := os.Getenv(EnvBaud); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Connection.Baud = n
		}
	}
	if v := os.Getenv(EnvURL); v != "" {
		c.Connection.WebSocket.URL = v
	}
	if v := os.Getenv(EnvBLEPrefix); v != "" {
		c.Connection.BLE.NamePrefix = v
	}
}

// Validate reports settings the driver cannot use.
func (c *Config) Validate() error {
	switch c.Connection.Transport {
	case TransportSerial, TransportFTDI, TransportBLE:
	case TransportWebSocket:
		if c.Connection.WebSocket.URL == "" {
			return errors.New("config: websocket transport needs connection.websocket.url")
		}
	default:
		return fmt.Errorf("config: unknown transport %q", c.Connection.Transport)
	}
	if c.Connection.Baud <= 0 {
		return fmt.Errorf("config: baud must be positive, got %d", c.Connection.Baud)
	}
	switch c.Device.ConfigWidth {
	case 2, 4, 8:
	default:
		return fmt.Errorf("config: config_width must be 2, 4 or 8, got %d", c.Device.ConfigWidth)
	}
	if c.Device.PixelCount < 0 {
		return fmt.Errorf("config: pixel_count must not be negative, got %d", c.Device.PixelCount)
	}
	return nil
}

// Path returns the file the config was loaded from.
func (c *Config) Path() string {
	return c.path
}

// Save writes the config as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	c.path = path
	return nil
}

// CalibrationModel returns the configured regression model.
func (c *Config) CalibrationModel() calibration.Model {
	return calibration.Model{
		Name:         c.Model.Name,
		Bias:         c.Model.Bias,
		Coefficients: append([]float64(nil), c.Model.Coefficients...),
	}
}

// Axis returns the configured wavelength mapping.
func (c *Config) Axis() calibration.Axis {
	return calibration.Axis{Start: c.Model.StartNM, Step: c.Model.StepNM}
}

// DeviceOptions translates the timing and device sections into driver
// options. Zero timing values keep the driver defaults.
func (c *Config) DeviceOptions() ([]micronir.Option, error) {
	payload, err := micronir.IntegrationPayload(c.Device.IntegrationMicros, c.Device.ConfigWidth)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	retry := micronir.DefaultRetryConfig()
	if c.Timing.Attempts > 0 {
		retry.MaxAttempts = c.Timing.Attempts
	}
	if c.Timing.InitialBackoff > 0 {
		retry.InitialBackoff = c.Timing.InitialBackoff
	}

	opts := []micronir.Option{
		micronir.WithRetryConfig(retry),
		micronir.WithInitSequence(micronir.Command{Opcode: micronir.OpSetConfig, Payload: payload}),
		micronir.WithPixelCount(c.Device.PixelCount),
		micronir.WithKeepAlive(c.Timing.KeepAliveInterval),
		micronir.WithLampSettle(c.Timing.LampOnSettle, c.Timing.LampOffSettle),
	}
	if c.Timing.RequestTimeout > 0 {
		opts = append(opts, micronir.WithTimeouts(c.Timing.RequestTimeout, c.Timing.ScanTimeout))
	}
	return opts, nil
}
