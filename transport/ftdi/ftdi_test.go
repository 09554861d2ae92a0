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

package ftdi

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/karalabe/usb"
	micronir "github.com/nirlab/go-micronir"
	testutil "github.com/nirlab/go-micronir/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripHeaders(t *testing.T) {
	t.Parallel()
	stream := make([]byte, 300)
	for i := range stream {
		stream[i] = byte(i * 7)
	}

	tests := []struct {
		name       string
		emptyEvery int
	}{
		{name: "data packets only", emptyEvery: 0},
		{name: "status packet after each", emptyEvery: 1},
		{name: "status packet every third", emptyEvery: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var got []byte
			for _, pkt := range testutil.AddFTDIHeaders(stream, tt.emptyEvery) {
				got = append(got, StripHeaders(pkt)...)
			}
			assert.Equal(t, stream, got)
		})
	}
}

func TestStripHeaders_CoalescedPackets(t *testing.T) {
	t.Parallel()
	stream := make([]byte, 150)
	for i := range stream {
		stream[i] = byte(i)
	}
	var joined []byte
	for _, pkt := range testutil.AddFTDIHeaders(stream, 0) {
		joined = append(joined, pkt...)
	}
	assert.Equal(t, stream, StripHeaders(joined))
}

func TestStripHeaders_StatusOnly(t *testing.T) {
	t.Parallel()
	assert.Empty(t, StripHeaders([]byte{0x31, 0x60}))
	assert.Empty(t, StripHeaders([]byte{0x31}))
	assert.Empty(t, StripHeaders(nil))
	assert.Equal(t, []byte{0x02}, StripHeaders([]byte{0x31, 0x60, 0x02}))
}

// fakeBridge is a USB device that frames simulator output the way an FTDI
// bridge does, including idle status-only packets.
type fakeBridge struct {
	sim     *testutil.VirtualMicroNIR
	packets [][]byte
	mu      sync.Mutex
	closed  bool
}

func (b *fakeBridge) Write(data []byte) (int, error) {
	return b.sim.Write(data)
}

func (b *fakeBridge) Read(buf []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, io.EOF
	}
	if len(b.packets) == 0 {
		pending := make([]byte, 1024)
		n, err := b.sim.Read(pending)
		if err != nil {
			return 0, err
		}
		if n == 0 {
			time.Sleep(time.Millisecond)
			return copy(buf, []byte{0x31, 0x60}), nil
		}
		b.packets = testutil.AddFTDIHeaders(pending[:n], 2)
	}
	n := copy(buf, b.packets[0])
	b.packets = b.packets[1:]
	return n, nil
}

func (b *fakeBridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func fakeBus(infos []usb.DeviceInfo, dev usb.Device) (*bus, *[]uint16) {
	var queried []uint16
	return &bus{
		enumerate: func(vid, pid uint16) ([]usb.DeviceInfo, error) {
			queried = append(queried, vid, pid)
			return infos, nil
		},
		open:    func(usb.DeviceInfo) (usb.Device, error) { return dev, nil },
		control: func(usb.DeviceInfo) (chipControl, error) { return &fakeChip{}, nil },
	}, &queried
}

type controlCall struct {
	rType   uint8
	request uint8
	value   uint16
	index   uint16
}

// fakeChip records vendor requests; failOn makes one request fail.
type fakeChip struct {
	calls  []controlCall
	failOn int
	closed bool
}

func (c *fakeChip) Control(rType, request uint8, val, idx uint16, _ []byte) (int, error) {
	c.calls = append(c.calls, controlCall{rType: rType, request: request, value: val, index: idx})
	if c.failOn > 0 && len(c.calls) == c.failOn {
		return 0, errors.New("pipe stall")
	}
	return 0, nil
}

func (c *fakeChip) Close() error {
	c.closed = true
	return nil
}

func TestList_FiltersBySerial(t *testing.T) {
	t.Parallel()
	infos := []usb.DeviceInfo{
		{Path: "1-1", VendorID: VendorID, ProductID: 0x6001, Serial: "A"},
		{Path: "1-2", VendorID: VendorID, ProductID: 0x6001, Serial: "B"},
	}
	b, queried := fakeBus(infos, nil)

	got, err := b.list(Config{Serial: "B"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "1-2", got[0].Path)
	assert.Equal(t, []uint16{VendorID, 0}, *queried)

	all, err := b.list(Config{ProductID: 0x6015})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestOpen_NoBridge(t *testing.T) {
	t.Parallel()
	b, _ := fakeBus(nil, nil)
	_, err := b.openChannel(context.Background(), Config{})
	require.ErrorIs(t, err, micronir.ErrDeviceNotFound)
}

func TestOpen_EnumerateError(t *testing.T) {
	t.Parallel()
	b := &bus{
		enumerate: func(uint16, uint16) ([]usb.DeviceInfo, error) { return nil, errors.New("libusb unavailable") },
	}
	_, err := b.openChannel(context.Background(), Config{})
	require.Error(t, err)
	assert.True(t, micronir.IsRetryable(err))
}

func TestOpen_ProgramsChipBeforeClaiming(t *testing.T) {
	t.Parallel()
	chip := &fakeChip{}
	var events []string
	b := &bus{
		enumerate: func(uint16, uint16) ([]usb.DeviceInfo, error) {
			return []usb.DeviceInfo{{Path: "usb:1-4", VendorID: VendorID, ProductID: 0x6001, Serial: "A9"}}, nil
		},
		control: func(info usb.DeviceInfo) (chipControl, error) {
			assert.Equal(t, "A9", info.Serial)
			events = append(events, "control")
			return chip, nil
		},
		open: func(usb.DeviceInfo) (usb.Device, error) {
			events = append(events, "open")
			return &fakeBridge{sim: testutil.NewVirtualMicroNIR()}, nil
		},
	}

	ch, err := b.openChannel(context.Background(), Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ch.Close() })

	assert.Equal(t, []string{"control", "open"}, events)
	assert.True(t, chip.closed)
	assert.Equal(t, []controlCall{
		{rType: 0x40, request: 0x00, value: 0x0000},
		{rType: 0x40, request: 0x03, value: 0x401A},
		{rType: 0x40, request: 0x04, value: 0x0008},
		{rType: 0x40, request: 0x09, value: 0x0001},
		{rType: 0x40, request: 0x01, value: 0x0303},
		{rType: 0x40, request: 0x02, value: 0x0000},
	}, chip.calls)
}

func TestOpen_SetupFailure(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		control  controlFunc
		wantText string
	}{
		{
			name: "control request fails",
			control: func(usb.DeviceInfo) (chipControl, error) {
				return &fakeChip{failOn: 4}, nil
			},
			wantText: "ftdi latency timer",
		},
		{
			name: "no control handle",
			control: func(usb.DeviceInfo) (chipControl, error) {
				return nil, errNoControlHandle
			},
			wantText: "not visible to libusb",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			opened := false
			b := &bus{
				enumerate: func(uint16, uint16) ([]usb.DeviceInfo, error) {
					return []usb.DeviceInfo{{Path: "usb:1-4", VendorID: VendorID, ProductID: 0x6001}}, nil
				},
				control: tt.control,
				open: func(usb.DeviceInfo) (usb.Device, error) {
					opened = true
					return nil, errors.New("unexpected open")
				},
			}

			_, err := b.openChannel(context.Background(), Config{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantText)
			assert.True(t, micronir.IsRetryable(err))
			assert.False(t, opened)
		})
	}
}

func TestDeviceOverFTDI(t *testing.T) {
	t.Parallel()
	bridge := &fakeBridge{sim: testutil.NewVirtualMicroNIR()}
	b, _ := fakeBus([]usb.DeviceInfo{{Path: "usb:1-4", VendorID: VendorID, ProductID: 0x6001}}, bridge)

	factory := func(ctx context.Context) (micronir.Channel, error) {
		return b.openChannel(ctx, Config{})
	}
	device, err := micronir.New(factory,
		micronir.WithKeepAlive(0),
		micronir.WithLampSettle(time.Millisecond, time.Millisecond),
		micronir.WithTimeouts(500*time.Millisecond, time.Second),
	)
	require.NoError(t, err)
	require.NoError(t, device.Connect(context.Background()))
	t.Cleanup(func() { _ = device.Close() })

	require.NoError(t, device.SetLamp(context.Background(), true))
	pixels, err := device.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, pixels, testutil.DefaultPixels)
	assert.Equal(t, uint16(40000), pixels[0])

	status := device.Status()
	assert.Equal(t, micronir.TransportFTDI, status.Transport)
	assert.Equal(t, "usb:1-4", status.Port)
	assert.Zero(t, status.Session.FalseStarts)
}
