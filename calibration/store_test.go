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

package calibration

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "calibration.yaml")

	s := NewSet()
	require.NoError(t, s.SetDark(ramp(128, 100)))
	require.NoError(t, s.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, StatusDarkOnly, loaded.Status())
	assert.Equal(t, s.Dark(), loaded.Dark())

	require.NoError(t, loaded.SetReference(ramp(128, 30000)))
	require.NoError(t, loaded.Save(path))
	again, err := Load(path)
	require.NoError(t, err)
	assert.True(t, again.Ready())
	assert.Equal(t, ramp(128, 30000), again.Reference())
}

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	t.Parallel()
	s, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, StatusNone, s.Status())
}

func TestLoad_Invalid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		wantErr error
		name    string
		content string
	}{
		{name: "not yaml", content: "dark: [1, 2\n"},
		{name: "all zero dark", content: "dark: [0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0]\n", wantErr: ErrCaptureAllZero},
		{name: "short reference", content: "reference: [1, 2, 3]\n", wantErr: ErrCaptureTooShort},
		{
			name:    "length mismatch",
			content: "dark: [1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11]\nreference: [1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12]\n",
			wantErr: ErrLengthMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "calibration.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))
			_, err := Load(path)
			require.Error(t, err)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}
