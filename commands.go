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
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/nirlab/go-micronir/internal/frame"
)

// Opcode identifies a spectrometer command. Responses echo the opcode.
type Opcode byte

// Spectrometer command codes
const (
	OpSetLamp        Opcode = frame.OpSetLamp
	OpSetConfig      Opcode = frame.OpSetConfig
	OpGetInfo        Opcode = frame.OpGetInfo
	OpScan           Opcode = frame.OpScan
	OpGetTemperature Opcode = frame.OpGetTemperature
	OpReset          Opcode = frame.OpReset
)

func (o Opcode) String() string {
	switch o {
	case OpSetLamp:
		return "SET_LAMP"
	case OpSetConfig:
		return "SET_CONFIG"
	case OpGetInfo:
		return "GET_INFO"
	case OpScan:
		return "SCAN"
	case OpGetTemperature:
		return "GET_TEMPERATURE"
	case OpReset:
		return "RESET"
	default:
		return fmt.Sprintf("OPCODE_0x%02X", byte(o))
	}
}

// Temperature limits outside which a reading is treated as garbage.
const (
	temperatureScale = 1000.0
	minPlausibleTemp = 0.0
	maxPlausibleTemp = 100.0
)

// DefaultIntegrationMicros is the detector integration time sent during
// initialization (10 ms).
const DefaultIntegrationMicros = 10000

// Command is a single request in an initialization sequence.
type Command struct {
	Payload []byte
	Opcode  Opcode
	// Settle is waited after the command completes.
	Settle time.Duration
	// NoResponse marks commands the firmware does not acknowledge. They are
	// written without waiting for a reply.
	NoResponse bool
}

// lampPayload encodes the one-byte lamp flag.
func lampPayload(on bool) []byte {
	if on {
		return []byte{0x01}
	}
	return []byte{0x00}
}

// IntegrationPayload encodes an integration time in microseconds as a
// big-endian integer of width 2, 4 or 8 bytes. Firmware revisions disagree
// on the width, so it is configurable.
func IntegrationPayload(micros uint64, width int) ([]byte, error) {
	switch width {
	case 2:
		if micros > 0xFFFF {
			return nil, fmt.Errorf("%w: integration time %dus does not fit 2 bytes", ErrInvalidParameter, micros)
		}
		return binary.BigEndian.AppendUint16(nil, uint16(micros)), nil
	case 4:
		if micros > 0xFFFFFFFF {
			return nil, fmt.Errorf("%w: integration time %dus does not fit 4 bytes", ErrInvalidParameter, micros)
		}
		return binary.BigEndian.AppendUint32(nil, uint32(micros)), nil
	case 8:
		return binary.BigEndian.AppendUint64(nil, micros), nil
	default:
		return nil, fmt.Errorf("%w: integration payload width %d", ErrInvalidParameter, width)
	}
}

// DefaultInitSequence returns the commands sent on connect: the
// integration-time configuration the firmware requires before it answers
// anything else.
func DefaultInitSequence() []Command {
	payload, _ := IntegrationPayload(DefaultIntegrationMicros, 2)
	return []Command{{Opcode: OpSetConfig, Payload: payload}}
}

// parseTemperature decodes a big-endian millidegree reading.
func parseTemperature(payload []byte) (float64, error) {
	if len(payload) < 2 {
		return 0, NewMalformedResponseError("temperature payload has %d bytes, need 2", len(payload))
	}
	celsius := float64(binary.BigEndian.Uint16(payload[:2])) / temperatureScale
	if celsius <= minPlausibleTemp || celsius >= maxPlausibleTemp {
		return 0, NewMalformedResponseError("implausible temperature %.3f C", celsius)
	}
	return celsius, nil
}

// parsePixels decodes big-endian 16-bit counts. When expected is positive
// the payload must hold exactly that many pixels.
func parsePixels(payload []byte, expected int) ([]uint16, error) {
	if len(payload)%2 != 0 {
		return nil, NewMalformedResponseError("scan payload has odd length %d", len(payload))
	}
	count := len(payload) / 2
	if expected > 0 && count != expected {
		return nil, NewMalformedResponseError("scan returned %d pixels, want %d", count, expected)
	}
	if count == 0 {
		return nil, NewMalformedResponseError("scan returned no pixels")
	}
	pixels := make([]uint16, count)
	for i := range pixels {
		pixels[i] = binary.BigEndian.Uint16(payload[2*i:])
	}
	return pixels, nil
}

// Info is the device's self-description returned by GET_INFO.
type Info struct {
	Raw []byte
}

// String returns the printable ASCII portion of the info payload.
func (i Info) String() string {
	var sb strings.Builder
	for _, b := range i.Raw {
		if b >= 0x20 && b < 0x7F {
			_ = sb.WriteByte(b)
		}
	}
	return strings.TrimSpace(sb.String())
}
