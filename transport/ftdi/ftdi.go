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

// Package ftdi talks to the spectrometer's FTDI USB bridge directly over
// its bulk endpoints, bypassing the operating system's serial driver.
//
// The bridge prefixes every 64-byte packet it sends with two modem status
// bytes. StripHeaders removes them before the link session sees the data.
//
// Before the bulk endpoints are claimed the chip is reset and programmed for
// 115200 8N1 with a 1 ms latency timer, DTR and RTS raised and no flow
// control. Raising DTR and RTS powers the spectrometer's microcontroller.
package ftdi

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/gousb"
	"github.com/karalabe/usb"
	micronir "github.com/nirlab/go-micronir"
)

// USB identifiers of the bridge.
const (
	VendorID = 0x0403
	// PacketSize is the bulk packet size of a full-speed FTDI bridge.
	PacketSize = 64
	// StatusLen is the modem status prefix carried by every packet.
	StatusLen = 2
)

// Config selects the bridge to open.
type Config struct {
	// Serial, if set, must match the bridge's serial number.
	Serial string
	// VendorID defaults to VendorID.
	VendorID uint16
	// ProductID of 0 matches any product.
	ProductID uint16
}

// enumerateFunc is usb.EnumerateRaw; tests substitute a fake bus.
type enumerateFunc func(vid, pid uint16) ([]usb.DeviceInfo, error)

// openFunc opens an enumerated device.
type openFunc func(info usb.DeviceInfo) (usb.Device, error)

// controlFunc opens a handle for vendor control requests to an enumerated
// bridge.
type controlFunc func(info usb.DeviceInfo) (chipControl, error)

// chipControl is the subset of *gousb.Device used to program the chip.
type chipControl interface {
	Control(rType, request uint8, val, idx uint16, data []byte) (int, error)
	Close() error
}

type bus struct {
	enumerate enumerateFunc
	open      openFunc
	control   controlFunc
}

var systemBus = bus{
	enumerate: usb.EnumerateRaw,
	open:      func(info usb.DeviceInfo) (usb.Device, error) { return info.Open() },
	control:   openControl,
}

// Vendor requests understood by the FT232R.
const (
	requestReset      uint8 = 0x00
	requestModemCtrl  uint8 = 0x01
	requestFlowCtrl   uint8 = 0x02
	requestBaudRate   uint8 = 0x03
	requestLineFormat uint8 = 0x04
	requestLatency    uint8 = 0x09

	// requestTypeOut is host-to-device, vendor, device recipient.
	requestTypeOut uint8 = 0x40

	baud115200  uint16 = 0x401A
	format8N1   uint16 = 0x0008
	latency1ms  uint16 = 0x0001
	dtrRTSHigh  uint16 = 0x0303
	flowCtrlOff uint16 = 0x0000
)

type controlRequest struct {
	name    string
	request uint8
	value   uint16
}

// setupSequence is sent in order on every open.
var setupSequence = []controlRequest{
	{name: "reset", request: requestReset, value: 0},
	{name: "baud rate", request: requestBaudRate, value: baud115200},
	{name: "line format", request: requestLineFormat, value: format8N1},
	{name: "latency timer", request: requestLatency, value: latency1ms},
	{name: "modem control", request: requestModemCtrl, value: dtrRTSHigh},
	{name: "flow control", request: requestFlowCtrl, value: flowCtrlOff},
}

// configure programs the chip through ctl.
func configure(ctl chipControl) error {
	for _, req := range setupSequence {
		if _, err := ctl.Control(requestTypeOut, req.request, req.value, 0, nil); err != nil {
			return fmt.Errorf("ftdi %s: %w", req.name, err)
		}
	}
	return nil
}

// errNoControlHandle is returned when libusb cannot see the enumerated bridge.
var errNoControlHandle = errors.New("bridge not visible to libusb")

// controlDevice owns the libusb context its device was opened from.
type controlDevice struct {
	*gousb.Device
	ctx *gousb.Context
}

func (c *controlDevice) Close() error {
	err := c.Device.Close()
	if cerr := c.ctx.Close(); err == nil {
		err = cerr
	}
	return err //nolint:wrapcheck // pass-through
}

// openControl finds the bridge matching info through libusb.
func openControl(info usb.DeviceInfo) (chipControl, error) {
	ctx := gousb.NewContext()
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return uint16(desc.Vendor) == info.VendorID && uint16(desc.Product) == info.ProductID
	})

	var chosen *gousb.Device
	for _, dev := range devs {
		if chosen == nil && serialMatches(dev, info.Serial) {
			chosen = dev
			continue
		}
		_ = dev.Close()
	}
	if chosen == nil {
		_ = ctx.Close()
		if err != nil {
			return nil, fmt.Errorf("libusb open: %w", err)
		}
		return nil, errNoControlHandle
	}
	return &controlDevice{Device: chosen, ctx: ctx}, nil
}

func serialMatches(dev *gousb.Device, serial string) bool {
	if serial == "" {
		return true
	}
	got, err := dev.SerialNumber()
	return err == nil && got == serial
}

// StripHeaders removes the modem status prefix from each 64-byte packet in
// raw. Packets of StatusLen bytes or fewer carry no data.
func StripHeaders(raw []byte) []byte {
	out := make([]byte, 0, len(raw))
	for off := 0; off < len(raw); off += PacketSize {
		end := min(off+PacketSize, len(raw))
		if end-off <= StatusLen {
			continue
		}
		out = append(out, raw[off+StatusLen:end]...)
	}
	return out
}

// Supported reports whether raw USB access is compiled in for this platform.
func Supported() bool {
	return usb.Supported()
}

// List returns the FTDI bridges currently attached.
func List(cfg Config) ([]usb.DeviceInfo, error) {
	return systemBus.list(cfg)
}

func (b bus) list(cfg Config) ([]usb.DeviceInfo, error) {
	vid := cfg.VendorID
	if vid == 0 {
		vid = VendorID
	}
	infos, err := b.enumerate(vid, cfg.ProductID)
	if err != nil {
		return nil, fmt.Errorf("usb enumerate: %w", err)
	}
	if cfg.Serial == "" {
		return infos, nil
	}
	matched := infos[:0]
	for _, info := range infos {
		if info.Serial == cfg.Serial {
			matched = append(matched, info)
		}
	}
	return matched, nil
}

// Open claims the first matching bridge and returns it as a Channel.
func Open(ctx context.Context, cfg Config) (*micronir.StreamChannel, error) {
	return systemBus.openChannel(ctx, cfg)
}

func (b bus) openChannel(_ context.Context, cfg Config) (*micronir.StreamChannel, error) {
	infos, err := b.list(cfg)
	if err != nil {
		return nil, micronir.NewTransportError("enumerate", "usb", err, micronir.ErrorTypeTransient)
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("%w: no FTDI bridge (VID 0x%04X PID 0x%04X serial %q)",
			micronir.ErrDeviceNotFound, orDefault(cfg.VendorID), cfg.ProductID, cfg.Serial)
	}

	info := infos[0]
	if err := b.setup(info); err != nil {
		return nil, micronir.NewTransportError("setup", info.Path, err, micronir.ErrorTypeTransient)
	}

	dev, err := b.open(info)
	if err != nil {
		return nil, micronir.NewTransportError("open", info.Path, err, micronir.ErrorTypePermanent)
	}

	micronir.Debugf("ftdi: opened %s (%04X:%04X %s)", info.Path, info.VendorID, info.ProductID, info.Serial)
	return micronir.NewStreamChannel(dev, micronir.StreamConfig{
		Type:     micronir.TransportFTDI,
		Port:     info.Path,
		Filter:   StripHeaders,
		ReadSize: 8 * PacketSize,
	}), nil
}

func (b bus) setup(info usb.DeviceInfo) error {
	ctl, err := b.control(info)
	if err != nil {
		return err
	}
	defer func() { _ = ctl.Close() }()
	return configure(ctl)
}

// Factory returns a ChannelFactory that opens cfg on every Connect.
func Factory(cfg Config) micronir.ChannelFactory {
	return func(ctx context.Context) (micronir.Channel, error) {
		return Open(ctx, cfg)
	}
}

func orDefault(vid uint16) uint16 {
	if vid == 0 {
		return VendorID
	}
	return vid
}
