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

import (
	"errors"
	"fmt"
	"slices"
)

// Decode errors. A failed decode consumes nothing; callers decide how far to
// advance before retrying.
var (
	ErrMissingSTX = errors.New("frame does not start with STX")
	ErrTruncated  = errors.New("frame truncated")
	ErrChecksum   = errors.New("frame checksum mismatch")
	ErrMissingETX = errors.New("frame missing ETX")
	ErrNAK        = errors.New("device sent NAK")
	ErrTooLarge   = errors.New("payload too large for frame")
)

// Frame is a decoded wire frame.
type Frame struct {
	Payload []byte
	Opcode  byte
	// Long reports whether the two-byte length form was used.
	Long bool
	// NAK frames carry neither opcode nor payload.
	NAK bool
}

// Encode builds the wire bytes for opcode and payload.
//
// Short form: STX | LEN | OPCODE | PAYLOAD | CRC | ETX
// Long form:  STX | LEN_HI | LEN_LO | OPCODE | PAYLOAD | CRC | ETX
//
// LEN counts the opcode plus payload. The long form is used only when the
// short form cannot represent the length, or when the short length byte
// would collide with the NAK marker.
func Encode(opcode byte, payload []byte) ([]byte, error) {
	length := 1 + len(payload)
	if length > MaxLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(payload))
	}

	if length <= MaxShortLength && length != NAK {
		out := make([]byte, 0, length+4)
		out = append(out, STX, byte(length), opcode)
		out = append(out, payload...)
		out = append(out, Checksum(out[1:]), ETX)
		return out, nil
	}

	out := make([]byte, 0, length+5)
	out = append(out, STX, byte(length>>8), byte(length), opcode)
	out = append(out, payload...)
	out = append(out, Checksum(out[1:]), ETX)
	return out, nil
}

// MustEncode is Encode for payloads known to fit.
func MustEncode(opcode byte, payload []byte) []byte {
	out, err := Encode(opcode, payload)
	if err != nil {
		panic(err)
	}
	return out
}

// Decoder decodes frames from the head of a buffer.
//
// The zero value accepts long frames of any opcode up to MaxLength. Stream
// decoders should restrict both so that a stray STX followed by noise cannot
// stall extraction waiting for a frame that will never arrive.
type Decoder struct {
	// LongOpcodes restricts which opcodes may use the long form. Empty means any.
	LongOpcodes []byte
	// MaxLongLength caps the declared LEN of long frames. Zero means MaxLength.
	MaxLongLength int
}

// StreamDecoder returns the decoder used on live device streams: only scan
// responses use the long form.
func StreamDecoder() Decoder {
	return Decoder{
		LongOpcodes:   []byte{OpScan},
		MaxLongLength: DefaultMaxLongLength,
	}
}

// Decode decodes a single frame that must begin at buf[0] using the
// permissive zero-value Decoder.
func Decode(buf []byte) (Frame, int, error) {
	return Decoder{}.Decode(buf)
}

// Decode decodes the frame at the head of buf and returns it with the number
// of bytes it occupies. NAK frames are reported as ErrNAK together with their
// length so callers can consume them. ErrTruncated means more bytes could
// still complete a frame; any other error means the STX at buf[0] is not the
// start of a valid frame.
func (d Decoder) Decode(buf []byte) (Frame, int, error) {
	if len(buf) == 0 {
		return Frame{}, 0, ErrTruncated
	}
	if buf[0] != STX {
		return Frame{}, 0, ErrMissingSTX
	}
	if len(buf) < 2 {
		return Frame{}, 0, ErrTruncated
	}
	if buf[1] == NAK {
		return decodeNAK(buf)
	}

	short, n, shortErr := decodeShort(buf)
	if shortErr == nil {
		return short, n, nil
	}
	long, n, longErr := d.decodeLong(buf)
	if longErr == nil {
		return long, n, nil
	}

	if errors.Is(shortErr, ErrTruncated) || errors.Is(longErr, ErrTruncated) {
		return Frame{}, 0, ErrTruncated
	}
	return Frame{}, 0, shortErr
}

func decodeNAK(buf []byte) (Frame, int, error) {
	limit := min(len(buf), maxNAKLength)
	for i := 2; i < limit; i++ {
		if buf[i] == ETX {
			return Frame{NAK: true}, i + 1, ErrNAK
		}
	}
	if len(buf) < maxNAKLength {
		return Frame{}, 0, ErrTruncated
	}
	return Frame{}, 0, ErrMissingETX
}

func decodeShort(buf []byte) (Frame, int, error) {
	length := int(buf[1])
	if length == 0 {
		return Frame{}, 0, fmt.Errorf("%w: zero length", ErrMissingETX)
	}
	// STX + LEN + body + CRC + ETX
	total := length + 4
	if len(buf) < total {
		return Frame{}, 0, ErrTruncated
	}
	return finish(buf[:total], 2, length, false)
}

func (d Decoder) decodeLong(buf []byte) (Frame, int, error) {
	if len(buf) < 4 {
		return Frame{}, 0, ErrTruncated
	}
	length := int(buf[1])<<8 | int(buf[2])
	if length <= MaxShortLength && length != NAK {
		return Frame{}, 0, fmt.Errorf("%w: long form with short length %d", ErrMissingETX, length)
	}
	maxLen := d.MaxLongLength
	if maxLen <= 0 || maxLen > MaxLength {
		maxLen = MaxLength
	}
	if length > maxLen {
		return Frame{}, 0, fmt.Errorf("%w: declared length %d exceeds %d", ErrMissingETX, length, maxLen)
	}
	if len(d.LongOpcodes) > 0 && !slices.Contains(d.LongOpcodes, buf[3]) {
		return Frame{}, 0, fmt.Errorf("%w: opcode 0x%02X not sent in long form", ErrMissingETX, buf[3])
	}
	// STX + LEN_HI + LEN_LO + body + CRC + ETX
	total := length + 5
	if len(buf) < total {
		return Frame{}, 0, ErrTruncated
	}
	return finish(buf[:total], 3, length, true)
}

// finish validates the CRC and ETX of a complete candidate frame whose body
// (opcode + payload) starts at bodyStart and spans length bytes.
func finish(raw []byte, bodyStart, length int, long bool) (Frame, int, error) {
	crcPos := bodyStart + length
	if raw[crcPos+1] != ETX {
		return Frame{}, 0, ErrMissingETX
	}
	if got, want := raw[crcPos], Checksum(raw[1:crcPos]); got != want {
		return Frame{}, 0, fmt.Errorf("%w: got 0x%02X, want 0x%02X", ErrChecksum, got, want)
	}

	payload := make([]byte, length-1)
	copy(payload, raw[bodyStart+1:crcPos])
	return Frame{
		Opcode:  raw[bodyStart],
		Payload: payload,
		Long:    long,
	}, len(raw), nil
}
