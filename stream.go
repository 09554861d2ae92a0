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
	"errors"
	"io"
	"sync"
	"time"

	"github.com/nirlab/go-micronir/internal/syncutil"
)

// ChunkFilter rewrites each raw chunk before delivery. Raw FTDI reads use it
// to strip per-packet modem status bytes. Returning an empty slice drops
// the chunk.
type ChunkFilter func(chunk []byte) []byte

// StreamConfig describes a StreamChannel.
type StreamConfig struct {
	// Filter, if set, is applied to every chunk read.
	Filter ChunkFilter
	// Type is reported by Type().
	Type TransportType
	// Port identifies the link in errors and logs.
	Port string
	// ReadSize is the read buffer size. Defaults to 512.
	ReadSize int
	// IdleBackoff is slept after a read returns no data. Defaults to 5ms.
	IdleBackoff time.Duration
}

// StreamChannel adapts any io.ReadWriteCloser (serial port, USB endpoint,
// websocket stream) into a Channel. A read pump goroutine starts when the
// receiver is installed and stops when the stream is closed or fails.
type StreamChannel struct {
	rwc       io.ReadWriteCloser
	receiver  func([]byte)
	err       error
	done      chan struct{}
	cfg       StreamConfig
	wg        sync.WaitGroup
	mu        syncutil.Mutex
	writeMu   syncutil.Mutex
	closeOnce sync.Once
	started   bool
	closed    bool
}

// NewStreamChannel wraps rwc. The stream is owned by the channel and closed
// with it.
func NewStreamChannel(rwc io.ReadWriteCloser, cfg StreamConfig) *StreamChannel {
	if cfg.ReadSize <= 0 {
		cfg.ReadSize = 512
	}
	if cfg.IdleBackoff <= 0 {
		cfg.IdleBackoff = 5 * time.Millisecond
	}
	return &StreamChannel{
		rwc:  rwc,
		cfg:  cfg,
		done: make(chan struct{}),
	}
}

// Write sends data in full or fails with a transport write error.
func (c *StreamChannel) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return NewTransportWriteError("write", c.cfg.Port, err)
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return NewTransportError("write", c.cfg.Port, ErrTransportClosed, ErrorTypePermanent)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	for written := 0; written < len(data); {
		n, err := c.rwc.Write(data[written:])
		if err != nil {
			if IsFatal(err) {
				c.fail(err)
				return NewTransportError("write", c.cfg.Port, err, ErrorTypePermanent)
			}
			return NewTransportWriteError("write", c.cfg.Port, err)
		}
		if n == 0 {
			return NewTransportWriteError("write", c.cfg.Port, io.ErrShortWrite)
		}
		written += n
	}
	return nil
}

// SetReceiver installs fn and starts the read pump on first use.
func (c *StreamChannel) SetReceiver(fn func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receiver = fn
	if c.started || c.closed {
		return
	}
	c.started = true
	c.wg.Add(1)
	go c.pump()
}

func (c *StreamChannel) pump() {
	defer c.wg.Done()
	buf := make([]byte, c.cfg.ReadSize)

	for {
		n, err := c.rwc.Read(buf)
		if n > 0 {
			c.dispatch(buf[:n])
		}
		if err != nil {
			if c.isClosed() {
				return
			}
			if IsFatal(err) || errors.Is(err, io.ErrUnexpectedEOF) {
				Debugf("%s %s: read pump stopping: %v", c.cfg.Type, c.cfg.Port, err)
				c.fail(err)
				return
			}
			Debugf("%s %s: transient read error: %v", c.cfg.Type, c.cfg.Port, err)
		}
		if n == 0 {
			select {
			case <-c.done:
				return
			case <-time.After(c.cfg.IdleBackoff):
			}
		}
	}
}

func (c *StreamChannel) dispatch(raw []byte) {
	chunk := make([]byte, len(raw))
	copy(chunk, raw)
	if c.cfg.Filter != nil {
		chunk = c.cfg.Filter(chunk)
	}
	if len(chunk) == 0 {
		return
	}

	c.mu.Lock()
	receiver := c.receiver
	c.mu.Unlock()
	if receiver != nil {
		receiver(chunk)
	}
}

// fail records the first fatal error and signals Done.
func (c *StreamChannel) fail(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.closed = true
		c.mu.Unlock()
		close(c.done)
		_ = c.rwc.Close()
	})
}

func (c *StreamChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close stops the read pump and closes the stream.
func (c *StreamChannel) Close() error {
	var closeErr error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
		closeErr = c.rwc.Close()
	})
	c.wg.Wait()
	if closeErr != nil {
		return NewTransportError("close", c.cfg.Port, closeErr, ErrorTypePermanent)
	}
	return nil
}

// Done implements ChannelNotifier
func (c *StreamChannel) Done() <-chan struct{} {
	return c.done
}

// Err implements ChannelNotifier
func (c *StreamChannel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Type returns the transport type
func (c *StreamChannel) Type() TransportType {
	return c.cfg.Type
}

// Port returns the port identifier
func (c *StreamChannel) Port() string {
	return c.cfg.Port
}
