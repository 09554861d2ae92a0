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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpcodeValues(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		opcode   Opcode
		expected byte
	}{
		{"SET_LAMP", OpSetLamp, 0x01},
		{"SET_CONFIG", OpSetConfig, 0x02},
		{"GET_INFO", OpGetInfo, 0x03},
		{"SCAN", OpScan, 0x05},
		{"GET_TEMPERATURE", OpGetTemperature, 0x06},
		{"RESET", OpReset, 0x0F},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, byte(tt.opcode))
			assert.Equal(t, tt.name, tt.opcode.String())
		})
	}
}

func TestOpcodeString_Unknown(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "OPCODE_0x7E", Opcode(0x7E).String())
}

func TestIntegrationPayload(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		want    []byte
		micros  uint64
		width   int
		wantErr bool
	}{
		{name: "default two bytes", micros: 10000, width: 2, want: []byte{0x27, 0x10}},
		{name: "four bytes", micros: 10000, width: 4, want: []byte{0x00, 0x00, 0x27, 0x10}},
		{name: "eight bytes", micros: 10000, width: 8, want: []byte{0, 0, 0, 0, 0, 0, 0x27, 0x10}},
		{name: "two byte overflow", micros: 0x10000, width: 2, wantErr: true},
		{name: "four byte overflow", micros: 0x100000000, width: 4, wantErr: true},
		{name: "bad width", micros: 10, width: 3, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := IntegrationPayload(tt.micros, tt.width)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidParameter)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefaultInitSequence(t *testing.T) {
	t.Parallel()
	seq := DefaultInitSequence()
	require.Len(t, seq, 1)
	assert.Equal(t, OpSetConfig, seq[0].Opcode)
	assert.Equal(t, []byte{0x27, 0x10}, seq[0].Payload)
	assert.False(t, seq[0].NoResponse)
}

func TestLampPayload(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []byte{0x01}, lampPayload(true))
	assert.Equal(t, []byte{0x00}, lampPayload(false))
}

func TestParseTemperature(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		payload []byte
		want    float64
		wantErr bool
	}{
		{name: "25 degrees", payload: []byte{0x61, 0xA8}, want: 25.0},
		{name: "trailing bytes ignored", payload: []byte{0x9C, 0x40, 0xFF}, want: 40.0},
		{name: "fractional", payload: []byte{0x5D, 0xC1}, want: 24.001},
		{name: "zero is garbage", payload: []byte{0x00, 0x00}, wantErr: true},
		{name: "empty", payload: nil, wantErr: true},
		{name: "one byte", payload: []byte{0x61}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseTemperature(tt.payload)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrMalformedResponse)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestParsePixels(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		payload  []byte
		want     []uint16
		expected int
		wantErr  bool
	}{
		{name: "big endian", payload: []byte{0x01, 0x02, 0xFF, 0xFE}, want: []uint16{0x0102, 0xFFFE}},
		{name: "expected count", payload: []byte{0x00, 0x01, 0x00, 0x02}, expected: 2, want: []uint16{1, 2}},
		{name: "count mismatch", payload: []byte{0x00, 0x01}, expected: 2, wantErr: true},
		{name: "odd length", payload: []byte{0x00, 0x01, 0x02}, wantErr: true},
		{name: "empty", payload: nil, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := parsePixels(tt.payload, tt.expected)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrMalformedResponse)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInfoString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "NIR-S 2.1", Info{Raw: []byte("  NIR-S 2.1\x00\r\n")}.String())
	assert.Empty(t, Info{}.String())
}
