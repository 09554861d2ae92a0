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

//go:build !windows

package micronir

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestIsDeviceGoneError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		name string
		want bool
	}{
		{name: "EIO", err: unix.EIO, want: true},
		{name: "ENXIO wrapped", err: fmt.Errorf("read /dev/ttyUSB0: %w", unix.ENXIO), want: true},
		{name: "ENODEV", err: unix.ENODEV, want: true},
		{name: "EBADF", err: unix.EBADF, want: true},
		{name: "EAGAIN", err: unix.EAGAIN, want: false},
		{name: "plain", err: errors.New("EIO"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, isDeviceGoneError(tt.err))
			if tt.want {
				assert.True(t, IsFatal(tt.err))
			}
		})
	}
}
