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

//go:build deadlock

// Package syncutil provides the mutex types used throughout the driver.
// This build reports potential deadlocks via github.com/sasha-s/go-deadlock.
package syncutil

import (
	"time"

	"github.com/sasha-s/go-deadlock"
)

func init() {
	// Locks are never held across a device round trip, so anything held
	// longer than the slowest scan timeout is a bug.
	deadlock.Opts.DeadlockTimeout = 10 * time.Second
}

// Mutex wraps deadlock.Mutex.
type Mutex struct {
	deadlock.Mutex
}

// RWMutex wraps deadlock.RWMutex.
type RWMutex struct {
	deadlock.RWMutex
}

// DetectionEnabled reports whether deadlock detection is compiled in.
func DetectionEnabled() bool { return true }
