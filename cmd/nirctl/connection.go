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

package main

import (
	"fmt"

	micronir "github.com/nirlab/go-micronir"
	"github.com/nirlab/go-micronir/config"
	"github.com/nirlab/go-micronir/transport/ble"
	"github.com/nirlab/go-micronir/transport/ftdi"
	"github.com/nirlab/go-micronir/transport/serial"
	"github.com/nirlab/go-micronir/transport/websocket"
)

// channelFactory picks the transport named in cfg. password is consulted
// only for authenticated websocket bridges.
func channelFactory(cfg *config.Config, password func() (string, error)) (micronir.ChannelFactory, error) {
	conn := cfg.Connection
	switch conn.Transport {
	case config.TransportSerial:
		return serial.Factory(serial.Config{Port: conn.Port, Baud: conn.Baud}), nil
	case config.TransportFTDI:
		return ftdi.Factory(ftdi.Config{VendorID: conn.VendorID, ProductID: conn.ProductID}), nil
	case config.TransportBLE:
		return ble.Factory(ble.Config{
			NamePrefix:  conn.BLE.NamePrefix,
			Service:     conn.BLE.Service,
			TX:          conn.BLE.TX,
			RX:          conn.BLE.RX,
			ScanTimeout: conn.BLE.ScanWindow,
		}), nil
	case config.TransportWebSocket:
		ws := websocket.Config{
			URL:      conn.WebSocket.URL,
			Username: conn.WebSocket.Username,
			Password: conn.WebSocket.Password,
			Insecure: conn.WebSocket.Insecure,
		}
		if ws.Username != "" && ws.Password == "" {
			pw, err := password()
			if err != nil {
				return nil, err
			}
			ws.Password = pw
		}
		return websocket.Factory(ws), nil
	default:
		return nil, fmt.Errorf("%w: unknown transport %q", micronir.ErrInvalidParameter, conn.Transport)
	}
}
