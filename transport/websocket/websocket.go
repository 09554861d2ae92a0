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

// Package websocket reaches a spectrometer attached to a remote serial
// bridge. The bridge forwards the raw serial stream in binary WebSocket
// messages; text messages are ignored.
package websocket

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	micronir "github.com/nirlab/go-micronir"
)

// HandshakeTimeout bounds the opening handshake.
const HandshakeTimeout = 10 * time.Second

// ErrConnectionClosed is returned once the bridge has gone away. It wraps
// micronir.ErrTransportClosed so the read pump treats it as fatal.
var ErrConnectionClosed = fmt.Errorf("%w: websocket connection closed", micronir.ErrTransportClosed)

// Config describes the bridge endpoint.
type Config struct {
	URL      string
	Username string
	Password string
	// Insecure skips TLS certificate verification for wss:// URLs.
	Insecure bool
}

// Conn adapts a WebSocket to an io.ReadWriteCloser.
type Conn struct {
	conn   *websocket.Conn
	buf    []byte
	off    int
	closed bool
}

// Read returns bytes from the current binary message, reading the next one
// when it is used up.
func (w *Conn) Read(p []byte) (int, error) {
	if w.closed {
		return 0, ErrConnectionClosed
	}
	if w.off < len(w.buf) {
		n := copy(p, w.buf[w.off:])
		w.off += n
		return n, nil
	}

	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.closed = true
			return 0, fmt.Errorf("websocket read: %w: %w", ErrConnectionClosed, err)
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		w.buf = data
		w.off = copy(p, data)
		return w.off, nil
	}
}

// Write sends p as one binary message.
func (w *Conn) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, fmt.Errorf("websocket write: %w", err)
	}
	return len(p), nil
}

// Close closes the underlying connection.
func (w *Conn) Close() error {
	return w.conn.Close() //nolint:wrapcheck // pass-through
}

// Dial opens the WebSocket with optional HTTP basic auth.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid URL %q: %w", micronir.ErrInvalidParameter, cfg.URL, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("%w: unsupported URL scheme %q (use ws:// or wss://)", micronir.ErrInvalidParameter, u.Scheme)
	}

	dialer := websocket.Dialer{HandshakeTimeout: HandshakeTimeout}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: cfg.Insecure, //nolint:gosec // opt-in for self-signed bridges
		}
	}

	headers := http.Header{}
	if cfg.Username != "" && cfg.Password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(cfg.Username + ":" + cfg.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	conn, resp, err := dialer.DialContext(ctx, cfg.URL, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			errType := micronir.ErrorTypeTransient
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				errType = micronir.ErrorTypePermanent
			}
			return nil, micronir.NewTransportError("dial", u.Host,
				fmt.Errorf("HTTP %d: %w", resp.StatusCode, err), errType)
		}
		return nil, micronir.NewTransportError("dial", u.Host, err, micronir.ErrorTypeTransient)
	}
	return &Conn{conn: conn}, nil
}

// Open dials the bridge and returns it as a Channel.
func Open(ctx context.Context, cfg Config) (*micronir.StreamChannel, error) {
	conn, err := Dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	micronir.Debugf("websocket: connected to %s", cfg.URL)
	return micronir.NewStreamChannel(conn, micronir.StreamConfig{
		Type: micronir.TransportWebSocket,
		Port: cfg.URL,
	}), nil
}

// Factory returns a ChannelFactory that dials cfg on every Connect.
func Factory(cfg Config) micronir.ChannelFactory {
	return func(ctx context.Context) (micronir.Channel, error) {
		return Open(ctx, cfg)
	}
}
