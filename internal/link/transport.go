// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The OpenVee Authors

package link

import (
	"context"

	"github.com/openvee/veelink/pkg/veeproto"
)

// DeviceID identifies a trainer to the transport. The format is
// transport-specific: a MAC address on BlueZ, a CoreBluetooth UUID on
// Darwin, an opaque handle over a relay link.
type DeviceID string

// Advertisement is one scan result.
type Advertisement struct {
	ID   DeviceID
	Name string
	RSSI int16
}

// NotificationFunc receives raw notification payloads for one
// characteristic. The transport may reuse the buffer after the callback
// returns; implementations must copy data they keep.
type NotificationFunc func(data []byte)

// Transport is the radio capability set the connection machine drives.
// Concrete implementations live in internal/ble (direct BLE),
// internal/relay (remote link over WebSocket) and internal/bench (debug
// UART tunnel).
//
// All methods must honor ctx cancellation. Scan delivers advertisements
// until ctx ends, then closes the channel; namePrefix is a filter hint
// the transport may apply natively or ignore. LinkLost reports an
// unexpected drop of an established connection: the channel is valid
// once Connect has returned and delivers at most one error per
// connection.
type Transport interface {
	Scan(ctx context.Context, namePrefix string) (<-chan Advertisement, error)
	Connect(ctx context.Context, id DeviceID) error
	DiscoverServices(ctx context.Context) ([]veeproto.Characteristic, error)
	Subscribe(ctx context.Context, char veeproto.Characteristic, fn NotificationFunc) error
	Unsubscribe(ctx context.Context, char veeproto.Characteristic) error
	WriteCharacteristic(ctx context.Context, char veeproto.Characteristic, data []byte) error
	Disconnect(ctx context.Context) error
	LinkLost() <-chan error
}
