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
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	logMu        sync.RWMutex
	debugEnabled = false
	logger       = zerolog.Nop()
	customLogger *zerolog.Logger
)

func init() {
	if os.Getenv("MICRONIR_DEBUG") != "" || os.Getenv("DEBUG") != "" {
		debugEnabled = true
	}
	rebuildLogger()
}

// rebuildLogger recomputes the package logger from the debug flag and the
// session log. Callers must not hold logMu.
func rebuildLogger() {
	logMu.Lock()
	defer logMu.Unlock()

	if customLogger != nil {
		logger = customLogger.With().Str("component", "micronir").Logger()
		return
	}

	var writers []io.Writer
	if debugEnabled {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"})
	}
	if sessionLogWriter != nil {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        sessionLogWriter,
			NoColor:    true,
			TimeFormat: "15:04:05.000",
		})
	}

	if len(writers) == 0 {
		logger = zerolog.Nop()
		return
	}
	logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(zerolog.DebugLevel).
		With().Timestamp().Str("component", "micronir").Logger()
}

// Logger returns the package logger. It discards everything unless debug
// output or a session log is enabled.
func Logger() *zerolog.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	l := logger
	return &l
}

// Debugf prints debug information.
// Always written to the session log (if initialized); printed to stderr only
// when debug mode is enabled.
func Debugf(format string, args ...any) {
	Logger().Debug().Msg(fmt.Sprintf(format, args...))
}

// Debugln prints debug information.
// Always written to the session log (if initialized); printed to stderr only
// when debug mode is enabled.
func Debugln(args ...any) {
	Logger().Debug().Msg(strings.TrimSuffix(fmt.Sprintln(args...), "\n"))
}

// SetLogger sends all library logging to l instead of the built-in console
// and session log sinks. Passing a disabled logger silences the library.
func SetLogger(l zerolog.Logger) {
	logMu.Lock()
	customLogger = &l
	logMu.Unlock()
	rebuildLogger()
}

// ResetLogger restores the built-in sinks.
func ResetLogger() {
	logMu.Lock()
	customLogger = nil
	logMu.Unlock()
	rebuildLogger()
}

// SetDebugEnabled allows programmatic control of debug logging
func SetDebugEnabled(enabled bool) {
	logMu.Lock()
	debugEnabled = enabled
	logMu.Unlock()
	rebuildLogger()
}

// DebugEnabled reports whether console debug output is on.
func DebugEnabled() bool {
	logMu.RLock()
	defer logMu.RUnlock()
	return debugEnabled
}
