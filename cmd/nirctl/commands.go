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
	"context"
	"errors"
	"fmt"

	micronir "github.com/nirlab/go-micronir"
	"github.com/nirlab/go-micronir/advisor"
	"github.com/nirlab/go-micronir/calibration"
	"github.com/nirlab/go-micronir/transport/ftdi"
	"github.com/nirlab/go-micronir/transport/serial"
	"github.com/spf13/cobra"
)

func (a *app) println(lines ...string) {
	for _, l := range lines {
		_, _ = fmt.Fprintln(a.out, l)
	}
}

func newTempCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "temp",
		Short: "Read the detector temperature",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withDevice(cmd.Context(), func(d *micronir.Device) error {
				celsius, err := d.GetTemperature(cmd.Context())
				if err != nil {
					return err
				}
				a.println(a.styles.renderTemperature(celsius))
				return nil
			})
		},
	}
}

func newInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the device identification and link statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withDevice(cmd.Context(), func(d *micronir.Device) error {
				info, err := d.GetInfo(cmd.Context())
				if err != nil {
					return err
				}
				a.println(a.styles.field("Device", info.String()), a.styles.renderStatus(d.Status()))
				return nil
			})
		},
	}
}

func newLampCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "lamp on|off",
		Short:     "Switch the tungsten lamp",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			on := args[0] == "on"
			return a.withDevice(cmd.Context(), func(d *micronir.Device) error {
				if err := d.SetLamp(cmd.Context(), on); err != nil {
					return err
				}
				a.println(a.styles.renderLamp(on))
				return nil
			})
		},
	}
}

func newCalibrateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Capture dark or reference calibration scans",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "dark",
			Short: "Capture the dark current with the lamp off",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.calibrate(cmd.Context(), calibration.Dark)
			},
		},
		&cobra.Command{
			Use:   "reference",
			Short: "Capture the white reference with the lamp on",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.calibrate(cmd.Context(), calibration.Reference)
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Discard the stored captures",
			Args:  cobra.NoArgs,
			RunE: func(*cobra.Command, []string) error {
				set := calibration.NewSet()
				if err := a.saveCalibration(set); err != nil {
					return err
				}
				a.println(a.styles.renderCalibration(set, a.cfg.Calibration.Path))
				return nil
			},
		},
	)
	return cmd
}

// capture switches the lamp for kind and records one scan into set.
func capture(ctx context.Context, d *micronir.Device, set *calibration.Set, kind calibration.Kind) error {
	if err := d.SetLamp(ctx, kind == calibration.Reference); err != nil {
		return err
	}
	pixels, err := d.Scan(ctx)
	if err != nil {
		return fmt.Errorf("%s scan: %w", kind, err)
	}
	if err := set.Record(kind, pixels); err != nil {
		return fmt.Errorf("%s capture: %w", kind, err)
	}
	return nil
}

func (a *app) calibrate(ctx context.Context, kind calibration.Kind) error {
	set, err := a.loadCalibration()
	if err != nil {
		return err
	}
	return a.withDevice(ctx, func(d *micronir.Device) error {
		if err := capture(ctx, d, set, kind); err != nil {
			return err
		}
		if err := a.saveCalibration(set); err != nil {
			return err
		}
		a.println(a.styles.renderCalibration(set, a.cfg.Calibration.Path))
		return nil
	})
}

func newScanCmd(a *app) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan a sample and predict against the stored calibration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			set, err := a.loadCalibration()
			if err != nil {
				return err
			}
			if !raw && !set.Ready() {
				return fmt.Errorf("%w: calibration is %s, run \"calibrate dark\" and \"calibrate reference\" first",
					calibration.ErrNotReady, set.Status())
			}
			return a.withDevice(cmd.Context(), func(d *micronir.Device) error {
				if err := d.SetLamp(cmd.Context(), true); err != nil {
					return err
				}
				pixels, err := d.Scan(cmd.Context())
				if err != nil {
					return err
				}
				if raw {
					a.println(a.styles.renderCounts(pixels))
					return nil
				}
				return a.report(cmd.Context(), d, set, pixels)
			})
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "Print raw counts without calibration")
	return cmd
}

// report scores pixels and prints the result with the advisor's reading.
func (a *app) report(ctx context.Context, d *micronir.Device, set *calibration.Set, pixels []uint16) error {
	model := a.cfg.CalibrationModel()
	result, err := calibration.Analyze(set, pixels, model, a.cfg.Axis())
	if err != nil {
		return err
	}
	lamp := calibration.LampState(true, d.Status().LampOn, &result.Prediction)
	a.println(a.styles.renderResult(result, model.Name, lamp))

	advice, err := a.advisor.Interpret(ctx, advisor.NewRequest(result.Spectrum, &result.Prediction, lamp))
	if err != nil {
		micronir.Debugf("advisor: %v", err)
	} else {
		a.println("", a.styles.field("Advice", advice))
	}
	return result.Prediction.Err()
}

func newMeasureCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "measure",
		Short: "Guided dark, reference and sample sequence",
		Long: `measure walks through a complete measurement on one connection:
lamp off and dark capture, lamp on and reference capture on the white tile,
then a sample scan once the sample is in place.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return a.withDevice(ctx, func(d *micronir.Device) error {
				set := calibration.NewSet()

				a.println(a.styles.muted.Render("Capturing dark current (lamp off)..."))
				if err := capture(ctx, d, set, calibration.Dark); err != nil {
					return err
				}
				if err := a.waitForEnter(ctx, "Place the white reference tile and press Enter."); err != nil {
					return err
				}
				a.println(a.styles.muted.Render("Capturing reference (lamp on)..."))
				if err := capture(ctx, d, set, calibration.Reference); err != nil {
					return err
				}
				if err := a.saveCalibration(set); err != nil {
					return err
				}
				a.println(a.styles.renderCalibration(set, a.cfg.Calibration.Path))

				if err := a.waitForEnter(ctx, "Place the sample and press Enter."); err != nil {
					return err
				}
				pixels, err := d.Scan(ctx)
				if err != nil {
					return err
				}
				return a.report(ctx, d, set, pixels)
			})
		},
	}
}

func newPortsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports and FTDI bridges",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			ports, err := serial.ListPorts()
			if err != nil {
				return err
			}
			for _, p := range ports {
				line := p.Name
				if p.IsUSB {
					line += a.styles.muted.Render(fmt.Sprintf("  %s:%s %s", p.VID, p.PID, p.SerialNumber))
				}
				if p.FTDI() {
					line += " " + a.styles.value.Render("(FTDI)")
				}
				a.println(line)
			}

			if !ftdi.Supported() {
				return nil
			}
			bridges, err := ftdi.List(ftdi.Config{VendorID: a.cfg.Connection.VendorID})
			if err != nil {
				if errors.Is(err, micronir.ErrDeviceNotFound) {
					return nil
				}
				return err
			}
			for _, b := range bridges {
				a.println(a.styles.field("usb", fmt.Sprintf("%s %04X:%04X %s", b.Path, b.VendorID, b.ProductID, b.Serial)))
			}
			return nil
		},
	}
}
