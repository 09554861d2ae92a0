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

// Package testing provides test utilities including a wire-level MicroNIR
// simulator.
//
// VirtualMicroNIR implements io.ReadWriteCloser and answers command frames
// the way the spectrometer firmware does: commands other than SET_CONFIG are
// ignored until the detector has been configured, the lamp state changes the
// scan output, and unknown opcodes are rejected with a NAK.
package testing

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"time"

	"github.com/nirlab/go-micronir/internal/frame"
	"github.com/nirlab/go-micronir/internal/syncutil"
)

// DefaultPixels is the simulated detector width.
const DefaultPixels = 128

// DefaultTemperatureMilli is the reported detector temperature (25 C).
const DefaultTemperatureMilli = 25000

// NAKFrame is the rejection the firmware sends for commands it refuses.
var NAKFrame = []byte{frame.STX, frame.NAK, frame.ETX}

// SimulatorState is a snapshot of the simulated device.
type SimulatorState struct {
	IntegrationMicros uint64
	Commands          int
	Configured        bool
	LampOn            bool
}

type pendingResponse struct {
	readyAt time.Time
	data    []byte
}

// VirtualMicroNIR simulates the spectrometer at the wire protocol level.
// Host writes are reassembled with the same deframer the driver uses, so a
// command may arrive split across several writes.
type VirtualMicroNIR struct {
	info                []byte
	dark                []uint16
	white               []uint16
	reflectance         []float64
	noisePrefix         []byte
	rx                  *frame.Deframer
	tx                  bytes.Buffer
	pending             []pendingResponse
	log                 []byte
	state               SimulatorState
	responseDelay       time.Duration
	mu                  syncutil.Mutex
	temperatureMilli    uint16
	injectChecksumError bool
	injectNAK           bool
	injectWrongOpcode   bool
	dropNextResponse    bool
	requireConfig       bool
	closed              bool
}

// NewVirtualMicroNIR creates an unconfigured simulator with the lamp off and
// a perfectly white sample in place.
func NewVirtualMicroNIR() *VirtualMicroNIR {
	v := &VirtualMicroNIR{
		rx:               frame.NewDeframer(),
		info:             []byte("MicroNIR OnSite-W SIM 1.0"),
		temperatureMilli: DefaultTemperatureMilli,
		requireConfig:    true,
	}
	v.setPixelsLocked(DefaultPixels)
	return v
}

// SetPixelCount changes the detector width and resets the levels.
func (v *VirtualMicroNIR) SetPixelCount(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.setPixelsLocked(n)
}

func (v *VirtualMicroNIR) setPixelsLocked(n int) {
	v.dark = make([]uint16, n)
	v.white = make([]uint16, n)
	v.reflectance = make([]float64, n)
	for i := range n {
		v.dark[i] = uint16(1000 + i)
		v.white[i] = uint16(max(40000-50*i, 2000+i))
		v.reflectance[i] = 1
	}
}

// SetLevels replaces the dark and white counts. Both must match the pixel count.
func (v *VirtualMicroNIR) SetLevels(dark, white []uint16) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.dark = append([]uint16(nil), dark...)
	v.white = append([]uint16(nil), white...)
}

// SetReflectance places a sample with the given per-pixel reflectance
// (0..1) under the lamp.
func (v *VirtualMicroNIR) SetReflectance(r []float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.reflectance = append([]float64(nil), r...)
}

// SetUniformReflectance places a sample with flat reflectance r.
func (v *VirtualMicroNIR) SetUniformReflectance(r float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.reflectance {
		v.reflectance[i] = r
	}
}

// SetTemperatureMilli sets the raw temperature reading.
func (v *VirtualMicroNIR) SetTemperatureMilli(milli uint16) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.temperatureMilli = milli
}

// SetInfo sets the GET_INFO payload.
func (v *VirtualMicroNIR) SetInfo(info []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.info = append([]byte(nil), info...)
}

// SetResponseDelay holds each response back for d before it can be read.
func (v *VirtualMicroNIR) SetResponseDelay(d time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.responseDelay = d
}

// SetRequireConfig controls whether commands are ignored until SET_CONFIG.
func (v *VirtualMicroNIR) SetRequireConfig(require bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.requireConfig = require
}

// InjectChecksumError corrupts the CRC of the next response.
func (v *VirtualMicroNIR) InjectChecksumError() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.injectChecksumError = true
}

// InjectNAK rejects the next command.
func (v *VirtualMicroNIR) InjectNAK() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.injectNAK = true
}

// InjectWrongOpcode answers the next command with a mismatched opcode.
func (v *VirtualMicroNIR) InjectWrongOpcode() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.injectWrongOpcode = true
}

// DropNextResponse swallows the answer to the next command.
func (v *VirtualMicroNIR) DropNextResponse() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.dropNextResponse = true
}

// InjectNoise prefixes the next response with line noise.
func (v *VirtualMicroNIR) InjectNoise(noise []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.noisePrefix = append([]byte(nil), noise...)
}

// GetState returns the current simulator state.
func (v *VirtualMicroNIR) GetState() SimulatorState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// CommandLog returns the opcodes received, in order.
func (v *VirtualMicroNIR) CommandLog() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]byte(nil), v.log...)
}

// Write implements io.Writer - receives command bytes from the host.
func (v *VirtualMicroNIR) Write(data []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return 0, io.ErrClosedPipe
	}
	for _, f := range v.rx.Feed(data) {
		v.handleLocked(f)
	}
	return len(data), nil
}

// Read implements io.Reader - returns response bytes that are due. It
// returns 0, nil when nothing is waiting.
func (v *VirtualMicroNIR) Read(buf []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return 0, io.EOF
	}

	now := time.Now()
	for len(v.pending) > 0 && !now.Before(v.pending[0].readyAt) {
		v.tx.Write(v.pending[0].data)
		v.pending = v.pending[1:]
	}
	if v.tx.Len() == 0 {
		return 0, nil
	}
	n, _ := v.tx.Read(buf)
	return n, nil
}

// Close implements io.Closer. Later reads return io.EOF.
func (v *VirtualMicroNIR) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	return nil
}

// HasPendingResponse reports whether response bytes are queued.
func (v *VirtualMicroNIR) HasPendingResponse() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.tx.Len() > 0 || len(v.pending) > 0
}

// Reset returns the simulator to its power-on state. Injected faults and
// sample settings are kept.
func (v *VirtualMicroNIR) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.resetLocked()
}

func (v *VirtualMicroNIR) resetLocked() {
	v.rx.Reset()
	v.tx.Reset()
	v.pending = nil
	v.state.Configured = false
	v.state.LampOn = false
	v.state.IntegrationMicros = 0
}

func (v *VirtualMicroNIR) handleLocked(f frame.Frame) {
	if f.NAK {
		return
	}
	v.state.Commands++
	v.log = append(v.log, f.Opcode)

	if v.injectNAK {
		v.injectNAK = false
		v.queueLocked(append([]byte(nil), NAKFrame...))
		return
	}

	op := f.Opcode
	if v.requireConfig && !v.state.Configured && op != frame.OpSetConfig {
		return
	}

	var payload []byte
	switch op {
	case frame.OpSetConfig:
		if len(f.Payload) == 0 || len(f.Payload) > 8 {
			v.queueLocked(append([]byte(nil), NAKFrame...))
			return
		}
		var micros uint64
		for _, b := range f.Payload {
			micros = micros<<8 | uint64(b)
		}
		v.state.IntegrationMicros = micros
		v.state.Configured = true
	case frame.OpSetLamp:
		if len(f.Payload) != 1 {
			v.queueLocked(append([]byte(nil), NAKFrame...))
			return
		}
		v.state.LampOn = f.Payload[0] != 0
	case frame.OpGetTemperature:
		payload = binary.BigEndian.AppendUint16(nil, v.temperatureMilli)
	case frame.OpGetInfo:
		payload = append([]byte(nil), v.info...)
	case frame.OpScan:
		payload = v.scanLocked()
	case frame.OpReset:
		v.resetLocked()
		return
	default:
		v.queueLocked(append([]byte(nil), NAKFrame...))
		return
	}

	if v.injectWrongOpcode {
		v.injectWrongOpcode = false
		op = frame.OpGetInfo
		if f.Opcode == frame.OpGetInfo {
			op = frame.OpGetTemperature
		}
	}
	resp, err := frame.Encode(op, payload)
	if err != nil {
		v.queueLocked(append([]byte(nil), NAKFrame...))
		return
	}
	if v.injectChecksumError {
		v.injectChecksumError = false
		resp[len(resp)-2] ^= 0xFF
	}
	v.queueLocked(resp)
}

func (v *VirtualMicroNIR) scanLocked() []byte {
	out := make([]byte, 0, 2*len(v.dark))
	for i, d := range v.dark {
		count := float64(d)
		if v.state.LampOn && i < len(v.white) {
			r := 1.0
			if i < len(v.reflectance) {
				r = v.reflectance[i]
			}
			count += (float64(v.white[i]) - float64(d)) * r
		}
		count = math.Max(0, math.Min(math.Round(count), math.MaxUint16))
		out = binary.BigEndian.AppendUint16(out, uint16(count))
	}
	return out
}

func (v *VirtualMicroNIR) queueLocked(resp []byte) {
	if v.dropNextResponse {
		v.dropNextResponse = false
		return
	}
	if len(v.noisePrefix) > 0 {
		resp = append(v.noisePrefix, resp...)
		v.noisePrefix = nil
	}
	v.pending = append(v.pending, pendingResponse{
		data:    resp,
		readyAt: time.Now().Add(v.responseDelay),
	})
}

// AddFTDIHeaders splits a device-to-host byte stream into the packets an
// FTDI bridge produces: at most 64 bytes each, the first two being modem
// status. Status-only packets are inserted where emptyEvery > 0 packets have
// been sent, mimicking idle polls.
func AddFTDIHeaders(stream []byte, emptyEvery int) [][]byte {
	const (
		packetSize = 64
		statusLen  = 2
		dataPer    = packetSize - statusLen
	)
	status := []byte{0x31, 0x60}

	var packets [][]byte
	sent := 0
	for off := 0; off < len(stream); off += dataPer {
		if emptyEvery > 0 && sent > 0 && sent%emptyEvery == 0 {
			packets = append(packets, append([]byte(nil), status...))
		}
		end := min(off+dataPer, len(stream))
		pkt := make([]byte, 0, statusLen+end-off)
		pkt = append(pkt, status...)
		pkt = append(pkt, stream[off:end]...)
		packets = append(packets, pkt)
		sent++
	}
	return packets
}
