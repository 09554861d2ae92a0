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

// Package ble reaches the wireless MicroNIR over its GATT serial service.
//
// The firmware's characteristic layout is not documented, so the channel
// subscribes to every characteristic of the service that accepts
// notifications and writes commands to the configured TX characteristic,
// falling back to the first one that does not notify.
package ble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	micronir "github.com/nirlab/go-micronir"
	"github.com/nirlab/go-micronir/internal/syncutil"
	"tinygo.org/x/bluetooth"
)

// Defaults for the MicroNIR OnSite-W.
const (
	DefaultNamePrefix  = "MicroNIR"
	DefaultService     = "0f45c9b0-5508-11e6-bdf4-0800200c9a66"
	DefaultScanTimeout = 10 * time.Second
	// DefaultWriteSize is the largest write accepted at the default ATT MTU.
	DefaultWriteSize = 20
)

// ErrNoCharacteristic is returned when the service lacks a usable TX or RX
// characteristic.
var ErrNoCharacteristic = errors.New("no usable GATT characteristic")

// Config selects the peripheral and its characteristics.
type Config struct {
	NamePrefix string
	Service    string
	// TX, if set, is the characteristic commands are written to.
	TX string
	// RX, if set, is the only characteristic subscribed to.
	RX          string
	ScanTimeout time.Duration
	WriteSize   int
}

func (c Config) withDefaults() Config {
	if c.NamePrefix == "" {
		c.NamePrefix = DefaultNamePrefix
	}
	if c.Service == "" {
		c.Service = DefaultService
	}
	if c.ScanTimeout <= 0 {
		c.ScanTimeout = DefaultScanTimeout
	}
	if c.WriteSize <= 0 {
		c.WriteSize = DefaultWriteSize
	}
	return c
}

// characteristic is the part of a GATT characteristic the channel uses.
type characteristic interface {
	UUID() string
	EnableNotifications(fn func([]byte)) error
	WriteWithoutResponse(p []byte) (int, error)
}

// peripheral is a connected GATT server.
type peripheral interface {
	Address() string
	Characteristics(service string) ([]characteristic, error)
	Disconnect() error
}

// Channel is a micronir.Channel over GATT notifications and writes.
type Channel struct {
	dev       peripheral
	tx        characteristic
	receiver  func([]byte)
	done      chan struct{}
	writeMu   syncutil.Mutex
	mu        syncutil.Mutex
	err       error
	closeOnce sync.Once
	writeSize int
	closed    bool
}

// newChannel discovers the service on dev and subscribes to its
// notifications.
func newChannel(dev peripheral, cfg Config) (*Channel, error) {
	cfg = cfg.withDefaults()
	chars, err := dev.Characteristics(cfg.Service)
	if err != nil {
		return nil, fmt.Errorf("discover service %s: %w", cfg.Service, err)
	}

	c := &Channel{
		dev:       dev,
		done:      make(chan struct{}),
		writeSize: cfg.WriteSize,
	}

	var silent []characteristic
	subscribed := 0
	for _, ch := range chars {
		uuid := ch.UUID()
		if cfg.TX != "" && sameUUID(uuid, cfg.TX) {
			c.tx = ch
		}
		if cfg.RX != "" && !sameUUID(uuid, cfg.RX) {
			silent = append(silent, ch)
			continue
		}
		if err := ch.EnableNotifications(c.notify); err != nil {
			micronir.Debugf("ble: %s does not notify: %v", uuid, err)
			silent = append(silent, ch)
			continue
		}
		micronir.Debugf("ble: subscribed to %s", uuid)
		subscribed++
	}

	if c.tx == nil && cfg.TX == "" && len(silent) > 0 {
		c.tx = silent[0]
	}
	switch {
	case subscribed == 0:
		return nil, fmt.Errorf("%w: service %s has no notifying characteristic", ErrNoCharacteristic, cfg.Service)
	case c.tx == nil:
		return nil, fmt.Errorf("%w: service %s has no writable characteristic", ErrNoCharacteristic, cfg.Service)
	}
	micronir.Debugf("ble: writing to %s", c.tx.UUID())
	return c, nil
}

func sameUUID(a, b string) bool {
	return strings.EqualFold(a, b)
}

func (c *Channel) notify(data []byte) {
	c.mu.Lock()
	receiver := c.receiver
	closed := c.closed
	c.mu.Unlock()
	if receiver == nil || closed || len(data) == 0 {
		return
	}
	receiver(data)
}

// Write sends data in notification-sized pieces.
func (c *Channel) Write(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	for len(data) > 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("ble write: %w", err)
		}
		if c.isClosed() {
			return micronir.NewTransportError("write", c.Port(), micronir.ErrTransportClosed, micronir.ErrorTypePermanent)
		}
		n := min(len(data), c.writeSize)
		if _, err := c.tx.WriteWithoutResponse(data[:n]); err != nil {
			return micronir.NewTransportWriteError("write", c.Port(), err)
		}
		data = data[n:]
	}
	return nil
}

// SetReceiver installs the notification callback.
func (c *Channel) SetReceiver(fn func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receiver = fn
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close disconnects from the peripheral.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.shutdown(nil)
		links.remove(c.Port(), c)
		if derr := c.dev.Disconnect(); derr != nil {
			err = fmt.Errorf("ble disconnect: %w", derr)
		}
	})
	return err
}

// disconnected ends the channel after the peripheral dropped the link.
func (c *Channel) disconnected(cause error) {
	c.closeOnce.Do(func() {
		micronir.Debugf("ble: %s disconnected: %v", c.Port(), cause)
		c.shutdown(cause)
	})
}

func (c *Channel) shutdown(cause error) {
	c.mu.Lock()
	c.closed = true
	c.receiver = nil
	c.err = cause
	c.mu.Unlock()
	close(c.done)
}

// Done is closed once the channel is closed or the peripheral disconnects.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Err returns why the peripheral dropped the link, or nil after Close.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// registry routes adapter connection events to open channels. The adapter
// accepts a single connect handler, shared by every channel.
type registry struct {
	mu       sync.Mutex
	channels map[string]*Channel
	once     sync.Once
}

var links = &registry{channels: make(map[string]*Channel)}

// install hooks the registry into adapter once.
func (r *registry) install(adapter *bluetooth.Adapter) {
	r.once.Do(func() {
		adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
			r.connectionChanged(device.Address.String(), connected)
		})
	})
}

func (r *registry) add(address string, c *Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[strings.ToUpper(address)] = c
}

func (r *registry) remove(address string, c *Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := strings.ToUpper(address)
	if r.channels[key] == c {
		delete(r.channels, key)
	}
}

func (r *registry) connectionChanged(address string, connected bool) {
	if connected {
		return
	}
	r.mu.Lock()
	key := strings.ToUpper(address)
	c := r.channels[key]
	delete(r.channels, key)
	r.mu.Unlock()
	if c != nil {
		c.disconnected(fmt.Errorf("%w: peripheral %s disconnected", micronir.ErrTransportClosed, address))
	}
}

// Type returns micronir.TransportBLE.
func (*Channel) Type() micronir.TransportType {
	return micronir.TransportBLE
}

// Port returns the peripheral address.
func (c *Channel) Port() string {
	return c.dev.Address()
}

// Open scans for the first peripheral advertising cfg.NamePrefix, connects
// and sets up the channel.
func Open(ctx context.Context, cfg Config) (*Channel, error) {
	cfg = cfg.withDefaults()
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, micronir.NewTransportError("enable", "bluetooth", err, micronir.ErrorTypePermanent)
	}

	links.install(adapter)

	result, err := scan(ctx, adapter, cfg)
	if err != nil {
		return nil, err
	}
	micronir.Debugf("ble: found %q at %s", result.LocalName(), result.Address.String())

	device, err := adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, micronir.NewTransportError("connect", result.Address.String(), err, micronir.ErrorTypeTransient)
	}

	dev := &gattDevice{device: device, address: result.Address.String()}
	ch, err := newChannel(dev, cfg)
	if err != nil {
		_ = dev.Disconnect()
		return nil, err
	}
	links.add(dev.address, ch)
	return ch, nil
}

func scan(ctx context.Context, adapter *bluetooth.Adapter, cfg Config) (bluetooth.ScanResult, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.ScanTimeout)
	defer cancel()

	stop := context.AfterFunc(ctx, func() { _ = adapter.StopScan() })
	defer stop()

	var (
		found  bluetooth.ScanResult
		ok     bool
		foundM sync.Mutex
	)
	err := adapter.Scan(func(a *bluetooth.Adapter, result bluetooth.ScanResult) {
		if !strings.HasPrefix(result.LocalName(), cfg.NamePrefix) {
			return
		}
		foundM.Lock()
		defer foundM.Unlock()
		if ok {
			return
		}
		found, ok = result, true
		_ = a.StopScan()
	})
	if err != nil {
		return found, micronir.NewTransportError("scan", "bluetooth", err, micronir.ErrorTypeTransient)
	}

	foundM.Lock()
	defer foundM.Unlock()
	if !ok {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(ctxErr, context.DeadlineExceeded) {
			return found, fmt.Errorf("ble scan: %w", ctxErr)
		}
		return found, fmt.Errorf("%w: no peripheral named %q within %v",
			micronir.ErrDeviceNotFound, cfg.NamePrefix+"*", cfg.ScanTimeout)
	}
	return found, nil
}

// Factory returns a ChannelFactory that scans and connects on every Connect.
func Factory(cfg Config) micronir.ChannelFactory {
	return func(ctx context.Context) (micronir.Channel, error) {
		return Open(ctx, cfg)
	}
}

// gattDevice adapts a connected bluetooth.Device.
type gattDevice struct {
	device  bluetooth.Device
	address string
}

func (g *gattDevice) Address() string {
	return g.address
}

func (g *gattDevice) Characteristics(service string) ([]characteristic, error) {
	uuid, err := bluetooth.ParseUUID(service)
	if err != nil {
		return nil, fmt.Errorf("%w: service uuid %q: %w", micronir.ErrInvalidParameter, service, err)
	}
	services, err := g.device.DiscoverServices([]bluetooth.UUID{uuid})
	if err != nil {
		return nil, fmt.Errorf("discover services: %w", err)
	}
	if len(services) == 0 {
		return nil, fmt.Errorf("%w: service %s", micronir.ErrDeviceNotFound, service)
	}
	chars, err := services[0].DiscoverCharacteristics(nil)
	if err != nil {
		return nil, fmt.Errorf("discover characteristics: %w", err)
	}
	out := make([]characteristic, 0, len(chars))
	for _, ch := range chars {
		out = append(out, &gattCharacteristic{ch: ch})
	}
	return out, nil
}

func (g *gattDevice) Disconnect() error {
	return g.device.Disconnect() //nolint:wrapcheck // wrapped by Channel.Close
}

type gattCharacteristic struct {
	ch bluetooth.DeviceCharacteristic
}

func (g *gattCharacteristic) UUID() string {
	return g.ch.UUID().String()
}

func (g *gattCharacteristic) EnableNotifications(fn func([]byte)) error {
	return g.ch.EnableNotifications(fn) //nolint:wrapcheck // logged by the caller
}

func (g *gattCharacteristic) WriteWithoutResponse(p []byte) (int, error) {
	return g.ch.WriteWithoutResponse(p) //nolint:wrapcheck // wrapped by Channel.Write
}
