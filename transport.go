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

package micronir

import (
	"context"
	"sync"
	"time"

	"github.com/nirlab/go-micronir/internal/frame"
	"github.com/nirlab/go-micronir/internal/syncutil"
)

// Channel is a byte pipe to the spectrometer. Serial, raw USB, BLE and
// websocket bridges all implement it. A channel does no framing: received
// chunks are delivered as they arrive, possibly splitting or coalescing
// frames.
type Channel interface {
	// Write sends raw bytes to the device.
	Write(ctx context.Context, data []byte) error

	// SetReceiver installs the callback invoked with each received chunk.
	// The callback must not retain the slice.
	SetReceiver(fn func(chunk []byte))

	// Close releases the underlying link. Further writes fail.
	Close() error

	// Type returns the transport type
	Type() TransportType
}

// ChannelNotifier is implemented by channels that can report link loss.
// A session watching Done fails its outstanding request as soon as the link
// drops instead of waiting for the response timeout.
type ChannelNotifier interface {
	// Done is closed once the channel stops delivering data.
	Done() <-chan struct{}
	// Err returns the reason the channel stopped, if any.
	Err() error
}

// ChannelFactory opens a fresh channel. The device controller calls it on
// every Connect so each session owns its own link.
type ChannelFactory func(ctx context.Context) (Channel, error)

// TransportType represents the type of transport
type TransportType string

const (
	// TransportSerial is a USB CDC or FTDI virtual COM port.
	TransportSerial TransportType = "serial"
	// TransportFTDI is raw USB bulk access to an FTDI bridge.
	TransportFTDI TransportType = "ftdi"
	// TransportBLE is a Bluetooth Low Energy GATT link.
	TransportBLE TransportType = "ble"
	// TransportWebSocket is a network bridge forwarding the serial stream.
	TransportWebSocket TransportType = "websocket"
	// TransportMock represents a mock transport for testing
	TransportMock TransportType = "mock"
)

// MockChannel simulates a spectrometer link for tests. Responses are
// registered per opcode and delivered asynchronously, optionally split
// into fixed-size chunks.
type MockChannel struct {
	receiver  func([]byte)
	responses map[byte][][]byte
	errors    map[byte]error
	callCount map[byte]int
	writes    [][]byte
	done      chan struct{}
	wg        sync.WaitGroup
	mu        syncutil.Mutex
	delay     time.Duration
	chunkSize int
	closed    bool
}

// NewMockChannel creates a new mock channel
func NewMockChannel() *MockChannel {
	return &MockChannel{
		responses: make(map[byte][][]byte),
		errors:    make(map[byte]error),
		callCount: make(map[byte]int),
		done:      make(chan struct{}),
	}
}

// Write records data and schedules the registered response for its opcode.
func (m *MockChannel) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return NewTransportError("write", "mock", ErrTransportClosed, ErrorTypePermanent)
	}
	m.writes = append(m.writes, append([]byte(nil), data...))

	f, _, err := frame.Decode(data)
	if err != nil {
		return nil
	}
	m.callCount[f.Opcode]++

	if werr, ok := m.errors[f.Opcode]; ok {
		return werr
	}

	queue := m.responses[f.Opcode]
	if len(queue) == 0 {
		return nil
	}
	resp := queue[0]
	if len(queue) > 1 {
		m.responses[f.Opcode] = queue[1:]
	}
	if resp == nil {
		return nil
	}

	receiver, delay, chunk := m.receiver, m.delay, m.chunkSize
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.deliver(receiver, resp, delay, chunk)
	}()
	return nil
}

func (m *MockChannel) deliver(receiver func([]byte), data []byte, delay time.Duration, chunk int) {
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-m.done:
			return
		}
	}
	if receiver == nil {
		return
	}
	if chunk <= 0 {
		chunk = len(data)
	}
	for off := 0; off < len(data); off += chunk {
		receiver(data[off:min(off+chunk, len(data))])
	}
}

// SetReceiver installs the receive callback
func (m *MockChannel) SetReceiver(fn func([]byte)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receiver = fn
}

// Inject delivers bytes as if the device had sent them unprompted.
func (m *MockChannel) Inject(data []byte) {
	m.mu.Lock()
	receiver := m.receiver
	m.mu.Unlock()
	if receiver != nil {
		receiver(data)
	}
}

// Close closes the mock channel
func (m *MockChannel) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.done)
	m.mu.Unlock()
	m.wg.Wait()
	return nil
}

// Done implements ChannelNotifier
func (m *MockChannel) Done() <-chan struct{} {
	return m.done
}

// Err implements ChannelNotifier
func (*MockChannel) Err() error {
	return nil
}

// Type returns the transport type
func (*MockChannel) Type() TransportType {
	return TransportMock
}

// SetResponse queues raw response bytes for an opcode. Multiple responses
// are used in order; the last one repeats. A nil response means no answer.
func (m *MockChannel) SetResponse(opcode byte, responses ...[]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[opcode] = responses
}

// SetFrameResponse queues an encoded frame answering opcode with payload.
func (m *MockChannel) SetFrameResponse(opcode byte, payload []byte) {
	m.SetResponse(opcode, frame.MustEncode(opcode, payload))
}

// SetError makes writes of an opcode fail with err
func (m *MockChannel) SetError(opcode byte, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[opcode] = err
}

// ClearError removes a write error for an opcode
func (m *MockChannel) ClearError(opcode byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.errors, opcode)
}

// SetDelay sets the delay before responses are delivered
func (m *MockChannel) SetDelay(delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = delay
}

// SetChunkSize splits responses into chunks of n bytes (0 = whole)
func (m *MockChannel) SetChunkSize(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunkSize = n
}

// GetCallCount returns how many frames with opcode were written
func (m *MockChannel) GetCallCount(opcode byte) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount[opcode]
}

// Writes returns copies of every write, in order.
func (m *MockChannel) Writes() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.writes))
	copy(out, m.writes)
	return out
}

// IsClosed reports whether Close has been called.
func (m *MockChannel) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
