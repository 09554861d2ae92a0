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
	"bytes"
	"testing"
)

// =============================================================================
// Fuzz Tests for Frame Parsing
// =============================================================================
// Serial bridges deliver arbitrary fragments, noise and truncated frames.
// None of that may panic the decoder or grow the deframer without bound.
//
// Run with: go test -fuzz=FuzzDecode -fuzztime=30s ./internal/frame/
// Run all: go test -fuzz=Fuzz -fuzztime=10s ./internal/frame/

// FuzzDecode checks that Decode never panics and that every accepted frame
// re-encodes to the bytes it was decoded from.
func FuzzDecode(f *testing.F) {
	f.Add([]byte{0x02, 0x01, 0x06, 0x19, 0x03})
	f.Add([]byte{0x02, 0x03, 0x06, 0x61, 0xA8, 0xAA, 0x03})
	f.Add([]byte{0x02, 0x15, 0x03})
	f.Add([]byte{0x02, 0x01, 0x01, 0x05})
	f.Add([]byte{0x02, 0xFF, 0xFF, 0xFF})
	f.Add([]byte{})
	f.Add([]byte{0x02})
	f.Add([]byte{0x02, 0x00, 0x15, 0x03})

	f.Fuzz(func(t *testing.T, buf []byte) {
		for _, dec := range []Decoder{{}, StreamDecoder()} {
			fr, n, err := dec.Decode(buf)
			if err != nil {
				continue
			}
			if n < MinFrameLength || n > len(buf) {
				t.Fatalf("consumed %d of %d bytes", n, len(buf))
			}
			again, encErr := Encode(fr.Opcode, fr.Payload)
			if encErr != nil {
				t.Fatalf("re-encode failed: %v", encErr)
			}
			if !bytes.Equal(again, buf[:n]) {
				t.Fatalf("re-encoded % X, decoded from % X", again, buf[:n])
			}
		}
	})
}

// FuzzDeframer feeds arbitrary data in arbitrary chunk sizes and checks the
// buffer bound holds.
func FuzzDeframer(f *testing.F) {
	f.Add([]byte{0xFF, 0x02, 0x03, 0x06, 0x61, 0xA8, 0xAA, 0x03, 0x02, 0x15, 0x03}, uint8(3))
	f.Add([]byte{0x02, 0x07, 0xFF, 0x05, 0x00, 0x00}, uint8(1))
	f.Add([]byte{}, uint8(0))

	f.Fuzz(func(t *testing.T, data []byte, step uint8) {
		const bound = 128
		d := NewDeframer(WithMaxBuffer(bound))
		size := int(step%16) + 1
		for off := 0; off < len(data); off += size {
			end := min(off+size, len(data))
			d.Feed(data[off:end])
			if d.Buffered() > bound+size {
				t.Fatalf("buffer grew to %d", d.Buffered())
			}
		}
	})
}

// FuzzChecksum compares the library checksum against the table loop.
func FuzzChecksum(f *testing.F) {
	f.Add([]byte("123456789"))
	f.Add([]byte{})
	f.Add([]byte{0xFF, 0x00, 0xAA, 0xAB, 0xCE, 0xCF})

	f.Fuzz(func(t *testing.T, data []byte) {
		if got, want := Checksum(data), tableChecksum(data); got != want {
			t.Errorf("Checksum(% X) = 0x%02X, want 0x%02X", data, got, want)
		}
	})
}
