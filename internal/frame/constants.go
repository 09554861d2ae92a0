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

package frame

// Frame markers
const (
	STX = 0x02 // Start of frame
	ETX = 0x03 // End of frame
	NAK = 0x15 // Negative acknowledgement, sent in place of the length byte
)

// Command opcodes understood by the spectrometer firmware
const (
	OpSetLamp        = 0x01
	OpSetConfig      = 0x02
	OpGetInfo        = 0x03
	OpScan           = 0x05
	OpGetTemperature = 0x06
	OpReset          = 0x0F
)

// Frame size limits
const (
	// MaxShortLength is the largest LEN value the one-byte length form can carry.
	MaxShortLength = 0xFF
	// MaxLength is the largest LEN value the two-byte length form can carry.
	MaxLength = 0xFFFF
	// MaxPayloadLength is the largest payload any frame can carry (LEN counts the opcode).
	MaxPayloadLength = MaxLength - 1
	// MinFrameLength is STX + LEN + OPCODE + CRC + ETX.
	MinFrameLength = 5
	// DefaultMaxBuffer bounds the deframer's accumulation buffer.
	DefaultMaxBuffer = 4096
	// DefaultMaxLongLength caps the declared length of long frames accepted off the wire.
	// A 512 pixel scan needs 1025.
	DefaultMaxLongLength = 2048
	// maxNAKLength bounds how far past a NAK marker the terminating ETX may appear.
	maxNAKLength = 16
)
