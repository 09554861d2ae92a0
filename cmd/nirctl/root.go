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

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	micronir "github.com/nirlab/go-micronir"
	"github.com/nirlab/go-micronir/advisor"
	"github.com/nirlab/go-micronir/calibration"
	"github.com/nirlab/go-micronir/config"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// envPassword supplies the websocket password without a prompt.
const envPassword = "MICRONIR_WS_PASSWORD"

// app carries what every command needs. Tests swap factory for a simulator.
type app struct {
	cfg      *config.Config
	in       *bufio.Reader
	out      io.Writer
	styles   styles
	factory  micronir.ChannelFactory
	advisor  advisor.Interpreter
	password func() (string, error)

	configPath string
	transport  string
	port       string
	url        string
	logDir     string
	debug      bool
}

func newApp(in io.Reader, out io.Writer) *app {
	a := &app{
		in:      bufio.NewReader(in),
		out:     out,
		styles:  newStyles(isTerminal(out)),
		advisor: advisor.Static{},
	}
	a.password = a.promptPassword
	return a
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd())) //nolint:gosec // fd fits in int
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "nirctl",
		Short: "MicroNIR spectrometer control",
		Long: `nirctl drives a MicroNIR handheld NIR spectrometer.

A prediction needs a dark capture (lamp off) and a reference capture (lamp on,
white tile) before the sample scan. The captures are kept in the calibration
file so each step can run as a separate invocation, or use "measure" for the
guided sequence.

Connection modes:
  Serial:    --transport serial --port /dev/ttyUSB0
  Raw USB:   --transport ftdi
  Bluetooth: --transport ble
  WebSocket: --transport websocket --url ws://host/path

For WebSocket authentication the password is read from the ` + envPassword + `
environment variable, or prompted for when a username is configured.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return micronir.CloseSessionLog()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", config.DefaultPath, "Configuration file")
	flags.StringVarP(&a.transport, "transport", "t", "", "Transport: serial, ftdi, ble or websocket")
	flags.StringVarP(&a.port, "port", "p", "", "Serial port device")
	flags.StringVarP(&a.url, "url", "u", "", "WebSocket bridge URL (ws:// or wss://)")
	flags.BoolVar(&a.debug, "debug", false, "Enable debug output")
	flags.StringVar(&a.logDir, "log-dir", "", "Write a session debug log to this directory")

	root.AddCommand(
		newTempCmd(a),
		newInfoCmd(a),
		newLampCmd(a),
		newCalibrateCmd(a),
		newScanCmd(a),
		newMeasureCmd(a),
		newPortsCmd(a),
	)
	return root
}

// setup loads the configuration and applies command-line overrides.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if a.debug {
		micronir.SetDebugEnabled(true)
	}
	if cmd.Flags().Changed("log-dir") {
		path, err := micronir.InitSessionLog(a.logDir)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(a.out, "Session log: %s\n", path)
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.transport != "" {
		cfg.Connection.Transport = a.transport
	}
	if a.port != "" {
		cfg.Connection.Port = a.port
	}
	if a.url != "" {
		cfg.Connection.WebSocket.URL = a.url
		if a.transport == "" {
			cfg.Connection.Transport = config.TransportWebSocket
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

// connect opens and initialises the configured device.
func (a *app) connect(ctx context.Context) (*micronir.Device, error) {
	factory := a.factory
	if factory == nil {
		var err error
		if factory, err = channelFactory(a.cfg, a.password); err != nil {
			return nil, err
		}
	}
	opts, err := a.cfg.DeviceOptions()
	if err != nil {
		return nil, err
	}
	device, err := micronir.New(factory, opts...)
	if err != nil {
		return nil, err
	}
	if err := device.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect %s: %w", a.cfg.Connection.Transport, err)
	}
	return device, nil
}

// withDevice connects, runs fn and disconnects.
func (a *app) withDevice(ctx context.Context, fn func(*micronir.Device) error) error {
	device, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := device.Close(); err != nil {
			micronir.Debugf("close device: %v", err)
		}
	}()
	return fn(device)
}

func (a *app) loadCalibration() (*calibration.Set, error) {
	set, err := calibration.Load(a.cfg.Calibration.Path)
	if err != nil {
		return nil, fmt.Errorf("load calibration: %w", err)
	}
	return set, nil
}

func (a *app) saveCalibration(set *calibration.Set) error {
	if err := set.Save(a.cfg.Calibration.Path); err != nil {
		return fmt.Errorf("save calibration: %w", err)
	}
	return nil
}

// promptPassword reads the websocket password without echo.
func (a *app) promptPassword() (string, error) {
	if pw := os.Getenv(envPassword); pw != "" {
		return pw, nil
	}
	_, _ = fmt.Fprint(os.Stderr, "Password: ")
	fd := int(os.Stdin.Fd()) //nolint:gosec // fd fits in int
	if term.IsTerminal(fd) {
		pw, err := term.ReadPassword(fd)
		_, _ = fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(pw), nil
	}
	line, err := a.in.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// waitForEnter prompts and blocks until a line is read or ctx ends.
func (a *app) waitForEnter(ctx context.Context, prompt string) error {
	_, _ = fmt.Fprint(a.out, a.styles.prompt.Render(prompt)+" ")
	done := make(chan error, 1)
	go func() {
		_, err := a.in.ReadString('\n')
		if err == io.EOF {
			err = nil
		}
		done <- err
	}()
	select {
	case err := <-done:
		_, _ = fmt.Fprintln(a.out)
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
