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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkRecorder collects delivered chunks from a channel receiver.
type chunkRecorder struct {
	chunks [][]byte
	mu     sync.Mutex
}

func (r *chunkRecorder) receive(chunk []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, append([]byte(nil), chunk...))
}

func (r *chunkRecorder) joined() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []byte
	for _, c := range r.chunks {
		out = append(out, c...)
	}
	return out
}

func (r *chunkRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chunks)
}

func TestChannelImplementations(t *testing.T) {
	t.Parallel()
	var _ Channel = (*MockChannel)(nil)
	var _ ChannelNotifier = (*MockChannel)(nil)
	var _ Channel = (*StreamChannel)(nil)
	var _ ChannelNotifier = (*StreamChannel)(nil)
}

func TestMockChannel_RespondsPerOpcode(t *testing.T) {
	t.Parallel()
	mock := NewMockChannel()
	rec := &chunkRecorder{}
	mock.SetReceiver(rec.receive)
	mock.SetFrameResponse(byte(OpGetTemperature), []byte{0x61, 0xA8})

	require.NoError(t, mock.Write(context.Background(), frameFor(OpGetTemperature, nil)))
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, time.Millisecond)

	assert.Equal(t, []byte{0x02, 0x03, 0x06, 0x61, 0xA8, 0xAA, 0x03}, rec.joined())
	assert.Equal(t, 1, mock.GetCallCount(byte(OpGetTemperature)))
	assert.Equal(t, TransportMock, mock.Type())
}

func TestMockChannel_ResponseQueue(t *testing.T) {
	t.Parallel()
	mock := NewMockChannel()
	rec := &chunkRecorder{}
	mock.SetReceiver(rec.receive)
	mock.SetResponse(byte(OpScan), nil, []byte{0xAA}, []byte{0xBB})

	for range 4 {
		require.NoError(t, mock.Write(context.Background(), frameFor(OpScan, nil)))
	}
	require.NoError(t, mock.Close())

	assert.Equal(t, []byte{0xAA, 0xBB, 0xBB}, rec.joined())
	assert.Equal(t, 4, mock.GetCallCount(byte(OpScan)))
}

func TestMockChannel_ChunkedDelivery(t *testing.T) {
	t.Parallel()
	mock := NewMockChannel()
	rec := &chunkRecorder{}
	mock.SetReceiver(rec.receive)
	mock.SetChunkSize(2)
	mock.SetFrameResponse(byte(OpGetTemperature), []byte{0x61, 0xA8})

	require.NoError(t, mock.Write(context.Background(), frameFor(OpGetTemperature, nil)))
	require.Eventually(t, func() bool { return rec.count() == 4 }, time.Second, time.Millisecond)
	assert.Len(t, rec.joined(), 7)
}

func TestMockChannel_Errors(t *testing.T) {
	t.Parallel()
	mock := NewMockChannel()
	boom := errors.New("stall")
	mock.SetError(byte(OpSetLamp), boom)

	err := mock.Write(context.Background(), frameFor(OpSetLamp, []byte{1}))
	require.ErrorIs(t, err, boom)

	mock.ClearError(byte(OpSetLamp))
	require.NoError(t, mock.Write(context.Background(), frameFor(OpSetLamp, []byte{1})))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, mock.Write(ctx, frameFor(OpSetLamp, nil)), context.Canceled)

	require.NoError(t, mock.Close())
	require.NoError(t, mock.Close())
	assert.True(t, mock.IsClosed())
	err = mock.Write(context.Background(), frameFor(OpSetLamp, nil))
	assert.ErrorIs(t, err, ErrTransportClosed)
	assert.True(t, IsFatal(err))

	select {
	case <-mock.Done():
	default:
		t.Fatal("Done not closed")
	}
}

func TestMockChannel_CloseCancelsDelayedDelivery(t *testing.T) {
	t.Parallel()
	mock := NewMockChannel()
	rec := &chunkRecorder{}
	mock.SetReceiver(rec.receive)
	mock.SetDelay(time.Hour)
	mock.SetFrameResponse(byte(OpScan), nil)

	require.NoError(t, mock.Write(context.Background(), frameFor(OpScan, nil)))
	require.NoError(t, mock.Close())
	assert.Zero(t, rec.count())
}
