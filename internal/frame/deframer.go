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
	"errors"
)

// Stats counts what a Deframer has seen since creation or the last Reset.
type Stats struct {
	Frames      int // valid frames extracted
	NAKs        int // NAK frames extracted
	FalseStarts int // STX bytes skipped because no valid frame started there
	Discarded   int // bytes dropped as noise or overflow
}

// Deframer reassembles frames from arbitrarily chunked input. Chunks may
// split a frame at any byte, carry several frames, or carry noise before,
// between and after frames.
//
// A Deframer is not safe for concurrent use.
type Deframer struct {
	buf       []byte
	last      *Frame
	decoder   Decoder
	maxBuffer int
	stats     Stats
}

// DeframerOption configures a Deframer.
type DeframerOption func(*Deframer)

// WithDecoder sets the decoder used to recognise frames.
func WithDecoder(d Decoder) DeframerOption {
	return func(df *Deframer) {
		df.decoder = d
	}
}

// WithMaxBuffer bounds the accumulation buffer.
func WithMaxBuffer(n int) DeframerOption {
	return func(df *Deframer) {
		if n >= MinFrameLength {
			df.maxBuffer = n
		}
	}
}

// NewDeframer creates a Deframer using StreamDecoder and DefaultMaxBuffer.
func NewDeframer(opts ...DeframerOption) *Deframer {
	d := &Deframer{
		decoder:   StreamDecoder(),
		maxBuffer: DefaultMaxBuffer,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Ingest appends a received chunk to the buffer.
func (d *Deframer) Ingest(chunk []byte) {
	d.buf = append(d.buf, chunk...)
}

// Next extracts the next complete frame, if any. Bytes before the first STX
// are discarded. An STX that does not begin a valid frame is skipped one
// byte at a time so a real frame starting inside the false one is still
// found. A pending partial frame is kept until it completes, a checksummed
// frame completes at the tail of the buffer, or the buffer grows past its bound.
func (d *Deframer) Next() (Frame, bool) {
	for {
		start := bytes.IndexByte(d.buf, STX)
		if start < 0 {
			d.discard(len(d.buf))
			return Frame{}, false
		}
		d.discard(start)

		f, n, err := d.decoder.Decode(d.buf)
		switch {
		case err == nil:
			d.consume(n)
			d.stats.Frames++
			d.last = &f
			return f, true
		case errors.Is(err, ErrNAK):
			d.consume(n)
			d.stats.NAKs++
			d.last = &f
			return f, true
		case errors.Is(err, ErrTruncated):
			if len(d.buf) <= d.maxBuffer && !d.completeFrameAhead() {
				return Frame{}, false
			}
			d.skipFalseStart()
		default:
			d.skipFalseStart()
		}
	}
}

// Feed ingests chunk and returns every frame it completes, in order.
func (d *Deframer) Feed(chunk []byte) []Frame {
	d.Ingest(chunk)
	var frames []Frame
	for {
		f, ok := d.Next()
		if !ok {
			return frames
		}
		frames = append(frames, f)
	}
}

// Last returns the most recently extracted frame.
func (d *Deframer) Last() (Frame, bool) {
	if d.last == nil {
		return Frame{}, false
	}
	return *d.last, true
}

// ClearLast forgets the most recently extracted frame.
func (d *Deframer) ClearLast() {
	d.last = nil
}

// Buffered returns the number of bytes awaiting extraction.
func (d *Deframer) Buffered() int {
	return len(d.buf)
}

// Purge drops buffered bytes and the last frame, keeping the counters.
// It returns the number of bytes dropped.
func (d *Deframer) Purge() int {
	n := len(d.buf)
	d.stats.Discarded += n
	d.buf = d.buf[:0]
	d.last = nil
	return n
}

// Reset drops buffered bytes and the last frame. Stats are cleared too.
func (d *Deframer) Reset() {
	d.buf = d.buf[:0]
	d.last = nil
	d.stats = Stats{}
}

// Stats returns the extraction counters.
func (d *Deframer) Stats() Stats {
	return d.stats
}

// completeFrameAhead reports whether a checksummed frame starts at some later
// STX and ends exactly at the end of the buffer. NAK patterns never count:
// they carry no checksum and routinely appear inside scan payloads.
func (d *Deframer) completeFrameAhead() bool {
	for i := 1; i < len(d.buf); i++ {
		if d.buf[i] != STX {
			continue
		}
		f, n, err := d.decoder.Decode(d.buf[i:])
		if err == nil && !f.NAK && i+n == len(d.buf) {
			return true
		}
	}
	return false
}

func (d *Deframer) skipFalseStart() {
	d.stats.FalseStarts++
	d.discard(1)
}

func (d *Deframer) discard(n int) {
	if n <= 0 {
		return
	}
	d.stats.Discarded += n
	d.consume(n)
}

func (d *Deframer) consume(n int) {
	remaining := copy(d.buf, d.buf[n:])
	d.buf = d.buf[:remaining]
}
