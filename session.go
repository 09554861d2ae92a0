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
	"fmt"
	"sync"
	"time"

	"github.com/nirlab/go-micronir/internal/frame"
	"github.com/nirlab/go-micronir/internal/syncutil"
)

// SessionConfig configures a Session.
type SessionConfig struct {
	// LongOpcodes lists the response opcodes that may use the two-byte length form.
	LongOpcodes []Opcode
	// RequestTimeout is used when Request is called with a zero timeout.
	RequestTimeout time.Duration
	// KeepAliveInterval is the idle time before a keep-alive probe. Zero disables it.
	KeepAliveInterval time.Duration
	// KeepAliveTimeout bounds the wait for a keep-alive response.
	KeepAliveTimeout time.Duration
	// MaxBuffer bounds the reassembly buffer.
	MaxBuffer int
	// MaxLongLength caps the declared length of long frames.
	MaxLongLength int
	// TraceSize is the number of wire events kept for error reports.
	TraceSize int
	// KeepAliveOpcode is sent as the keep-alive probe. It must have no side effects.
	KeepAliveOpcode Opcode
}

// DefaultSessionConfig returns the session defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		LongOpcodes:       []Opcode{OpScan},
		RequestTimeout:    DefaultRequestTimeout,
		KeepAliveInterval: DefaultKeepAliveInterval,
		KeepAliveTimeout:  DefaultRequestTimeout,
		KeepAliveOpcode:   OpGetTemperature,
		MaxBuffer:         frame.DefaultMaxBuffer,
		MaxLongLength:     frame.DefaultMaxLongLength,
		TraceSize:         32,
	}
}

// Response is a validated frame received in answer to a request.
type Response struct {
	Payload []byte
	Opcode  Opcode
	// Long reports whether the two-byte length form was used.
	Long bool
}

// SessionStats counts session activity.
type SessionStats struct {
	Requests       int
	Timeouts       int
	NAKs           int
	KeepAlives     int
	Unsolicited    int
	Frames         int
	FalseStarts    int
	BytesDiscarded int
}

// Session correlates requests and responses over one Channel. Only one
// request may be outstanding; a second caller fails fast with
// ErrRequestPending rather than interleaving frames. Received chunks are
// reassembled on the channel's delivery goroutine and handed to the waiting
// request through a per-request channel.
//
// A Session is created per connection and cannot be reopened after Close.
type Session struct {
	lastActivity time.Time
	channel      Channel
	deframer     *frame.Deframer
	trace        *TraceBuffer
	waiter       chan frame.Frame
	waitingFor   Opcode
	closed       chan struct{}
	closeErr     error
	port         string
	config       SessionConfig
	stats        SessionStats
	wg           sync.WaitGroup
	mu           syncutil.Mutex
	closeOnce    sync.Once
	kaOnce       sync.Once
	pending      bool
}

type portNamer interface {
	Port() string
}

// NewSession takes ownership of ch and starts receiving from it.
func NewSession(ch Channel, config SessionConfig) *Session {
	defaults := DefaultSessionConfig()
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = defaults.RequestTimeout
	}
	if config.KeepAliveTimeout <= 0 {
		config.KeepAliveTimeout = config.RequestTimeout
	}
	if config.KeepAliveOpcode == 0 {
		config.KeepAliveOpcode = defaults.KeepAliveOpcode
	}
	if config.MaxBuffer <= 0 {
		config.MaxBuffer = defaults.MaxBuffer
	}
	if config.MaxLongLength <= 0 {
		config.MaxLongLength = defaults.MaxLongLength
	}
	if config.LongOpcodes == nil {
		config.LongOpcodes = defaults.LongOpcodes
	}

	longOps := make([]byte, len(config.LongOpcodes))
	for i, op := range config.LongOpcodes {
		longOps[i] = byte(op)
	}

	port := string(ch.Type())
	if pn, ok := ch.(portNamer); ok && pn.Port() != "" {
		port = pn.Port()
	}

	s := &Session{
		channel: ch,
		config:  config,
		port:    port,
		closed:  make(chan struct{}),
		trace:   NewTraceBuffer(string(ch.Type()), port, config.TraceSize),
		deframer: frame.NewDeframer(
			frame.WithDecoder(frame.Decoder{LongOpcodes: longOps, MaxLongLength: config.MaxLongLength}),
			frame.WithMaxBuffer(config.MaxBuffer),
		),
		lastActivity: time.Now(),
	}

	ch.SetReceiver(s.ingest)
	if notifier, ok := ch.(ChannelNotifier); ok {
		s.wg.Add(1)
		go s.watch(notifier)
	}
	return s
}

// Request sends opcode with payload and waits up to timeout for the next
// validated frame. A zero timeout uses the configured default. A NAK
// resolves immediately with ErrNAK. Close unblocks a waiting request with
// ErrSessionClosed. The response opcode is not checked here, except that a
// late keep-alive reply never answers a request for another opcode.
func (s *Session) Request(ctx context.Context, opcode Opcode, payload []byte, timeout time.Duration) (Response, error) {
	return s.request(ctx, opcode, payload, timeout, false)
}

// Send writes a frame without waiting for any response.
func (s *Session) Send(ctx context.Context, opcode Opcode, payload []byte) error {
	raw, err := frame.Encode(byte(opcode), payload)
	if err != nil {
		return mapEncodeError(err)
	}

	s.mu.Lock()
	if s.isClosedLocked() {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.pending {
		s.mu.Unlock()
		return NewRequestPendingError("send", s.port)
	}
	s.trace.RecordTX(raw, opcode.String())
	s.lastActivity = time.Now()
	s.mu.Unlock()

	return s.write(ctx, raw)
}

func (s *Session) request(
	ctx context.Context, opcode Opcode, payload []byte, timeout time.Duration, keepAlive bool,
) (Response, error) {
	raw, err := frame.Encode(byte(opcode), payload)
	if err != nil {
		return Response{}, mapEncodeError(err)
	}
	if timeout <= 0 {
		timeout = s.config.RequestTimeout
	}

	waiter, err := s.begin(raw, opcode, keepAlive)
	if err != nil {
		return Response{}, err
	}
	defer s.finish()

	if err := s.write(ctx, raw); err != nil {
		return Response{}, s.wrapTrace(err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f := <-waiter:
		if f.NAK {
			s.mu.Lock()
			s.stats.NAKs++
			s.mu.Unlock()
			Logger().Warn().Str("port", s.port).Stringer("opcode", opcode).Msg("command rejected")
			return Response{}, s.wrapTrace(NewNAKError(opcode.String(), s.port))
		}
		return Response{Opcode: Opcode(f.Opcode), Payload: f.Payload, Long: f.Long}, nil
	case <-timer.C:
		s.mu.Lock()
		s.stats.Timeouts++
		s.trace.RecordTimeout(fmt.Sprintf("%s after %v", opcode, timeout))
		s.mu.Unlock()
		Logger().Warn().Str("port", s.port).Stringer("opcode", opcode).Dur("timeout", timeout).Msg("no response")
		return Response{}, s.wrapTrace(NewTimeoutError(opcode.String(), s.port))
	case <-ctx.Done():
		return Response{}, fmt.Errorf("%s cancelled: %w", opcode, ctx.Err())
	case <-s.closed:
		return Response{}, s.closedError()
	}
}

// begin claims the request slot and arms a fresh waiter.
func (s *Session) begin(raw []byte, opcode Opcode, keepAlive bool) (chan frame.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isClosedLocked() {
		return nil, s.closedErrorLocked()
	}
	if s.pending {
		return nil, NewRequestPendingError(opcode.String(), s.port)
	}
	s.pending = true

	if dropped := s.deframer.Purge(); dropped > 0 {
		Debugf("%s: dropped %d stale bytes before %s", s.port, dropped, opcode)
	}
	waiter := make(chan frame.Frame, 1)
	s.waiter = waiter
	s.waitingFor = opcode
	s.stats.Requests++
	if keepAlive {
		s.stats.KeepAlives++
	} else {
		s.lastActivity = time.Now()
	}
	s.trace.RecordTX(raw, opcode.String())
	Debugf("%s TX %s: % X", s.port, opcode, raw)
	return waiter, nil
}

func (s *Session) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = false
	s.waiter = nil
	s.lastActivity = time.Now()
}

func (s *Session) write(ctx context.Context, raw []byte) error {
	err := s.channel.Write(ctx, raw)
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return NewTransportWriteError("write", s.port, err)
}

// ingest runs on the channel's delivery goroutine.
func (s *Session) ingest(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isClosedLocked() {
		return
	}
	s.trace.RecordRX(chunk, "")
	Debugf("%s RX: % X", s.port, chunk)
	s.deframer.Ingest(chunk)

	for {
		f, ok := s.deframer.Next()
		if !ok {
			break
		}
		if s.waiter != nil && !s.staleKeepAlive(f) {
			s.waiter <- f
			s.waiter = nil
			continue
		}
		s.stats.Unsolicited++
		Debugf("%s: dropping unsolicited frame opcode=0x%02X nak=%t", s.port, f.Opcode, f.NAK)
	}
}

// staleKeepAlive reports whether f is the reply to an earlier keep-alive that
// timed out, arriving while a request for a different opcode waits.
func (s *Session) staleKeepAlive(f frame.Frame) bool {
	ka := s.config.KeepAliveOpcode
	return !f.NAK && Opcode(f.Opcode) == ka && s.waitingFor != ka
}

// LastFrame returns the most recently reassembled frame, if any. It is
// cleared at the start of every request.
func (s *Session) LastFrame() (Response, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.deframer.Last()
	if !ok || f.NAK {
		return Response{}, false
	}
	return Response{Opcode: Opcode(f.Opcode), Payload: f.Payload, Long: f.Long}, true
}

// Pending reports whether a request is outstanding.
func (s *Session) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	ds := s.deframer.Stats()
	st.Frames = ds.Frames + ds.NAKs
	st.FalseStarts = ds.FalseStarts
	st.BytesDiscarded = ds.Discarded
	return st
}

// Trace returns the recent wire activity.
func (s *Session) Trace() []TraceEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trace.Entries()
}

func (s *Session) wrapTrace(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trace.WrapError(err)
}

// =============================================================================
// Keep-alive
// =============================================================================

// StartKeepAlive starts the idle probe loop. It is a no-op when the interval
// is zero or the loop is already running. The loop stops when the session
// closes.
func (s *Session) StartKeepAlive() {
	if s.config.KeepAliveInterval <= 0 {
		return
	}
	s.kaOnce.Do(func() {
		s.mu.Lock()
		closed := s.isClosedLocked()
		if !closed {
			s.wg.Add(1)
		}
		s.mu.Unlock()
		if !closed {
			go s.keepAliveLoop()
		}
	})
}

func (s *Session) keepAliveLoop() {
	defer s.wg.Done()

	interval := s.config.KeepAliveInterval
	tick := max(interval/4, 10*time.Millisecond)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
		}

		if !s.idleFor(interval) {
			continue
		}
		_, err := s.request(context.Background(), s.config.KeepAliveOpcode, nil, s.config.KeepAliveTimeout, true)
		switch {
		case err == nil:
		case errors.Is(err, ErrRequestPending):
		case errors.Is(err, ErrSessionClosed):
			return
		default:
			Debugf("%s: keep-alive failed: %v", s.port, err)
		}
	}
}

// idleFor reports whether no request is pending and none was made in d.
func (s *Session) idleFor(d time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.pending && time.Since(s.lastActivity) >= d
}

// =============================================================================
// Lifecycle
// =============================================================================

func (s *Session) watch(n ChannelNotifier) {
	defer s.wg.Done()
	select {
	case <-s.closed:
	case <-n.Done():
		cause := n.Err()
		if cause == nil {
			cause = ErrTransportClosed
		}
		Debugf("%s: link lost: %v", s.port, cause)
		s.terminate(cause)
	}
}

func (s *Session) terminate(cause error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closeErr = cause
		s.mu.Unlock()
		close(s.closed)
	})
}

// Close aborts any outstanding request, stops the keep-alive and closes the
// channel. It is safe to call more than once.
func (s *Session) Close() error {
	s.terminate(nil)
	err := s.channel.Close()
	s.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close channel: %w", err)
	}
	return nil
}

// Done is closed once the session has been closed or its link lost.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// Err returns why the session ended: nil while open or after Close, the
// channel error after link loss.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}

func (s *Session) isClosedLocked() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *Session) closedError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closedErrorLocked()
}

func (s *Session) closedErrorLocked() error {
	if s.closeErr != nil {
		return fmt.Errorf("%w: %w", ErrSessionClosed, s.closeErr)
	}
	return ErrSessionClosed
}
