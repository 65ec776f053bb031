// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The OpenVee Authors

// Package relay exposes a local trainer link to remote veelink instances
// over WebSocket. The server side owns the radio; the client side
// implements the link transport interface, so the whole engine runs
// unchanged against a remote machine.
package relay

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// protoVersion is bumped when the envelope set changes incompatibly.
const protoVersion = 1

// Message kinds. Every relay frame is the CBOR array [kind, body] with an
// integer-keyed body map.
const (
	kindWelcome uint8 = iota + 1
	kindScanStart
	kindScanResult
	kindScanStop
	kindConnect
	kindConnectResult
	kindSubscribeAll
	kindSubscribeResult
	kindNotify
	kindWrite
	kindWriteResult
	kindDisconnect
	kindDisconnectResult
	kindLinkLost
	kindError
	kindPing
	kindPong
)

type envelope struct {
	_    struct{} `cbor:",toarray"`
	Kind uint8
	Body cbor.RawMessage
}

type welcomeBody struct {
	Proto  int    `cbor:"1,keyasint"`
	Server string `cbor:"2,keyasint,omitempty"`
}

type scanStartBody struct {
	Prefix string `cbor:"1,keyasint,omitempty"`
}

type scanResultBody struct {
	ID   string `cbor:"1,keyasint"`
	Name string `cbor:"2,keyasint"`
	RSSI int16  `cbor:"3,keyasint"`
}

// scanStopBody ends a scan in either direction: the client cancels with
// it, the server reports the stream closing (Err set on failure).
type scanStopBody struct {
	Err string `cbor:"1,keyasint,omitempty"`
}

type connectBody struct {
	ID string `cbor:"1,keyasint"`
}

// resultBody acknowledges connect and disconnect requests.
type resultBody struct {
	Err string `cbor:"1,keyasint,omitempty"`
}

type subscribeResultBody struct {
	Chars []uint8 `cbor:"1,keyasint,omitempty"`
	Err   string  `cbor:"2,keyasint,omitempty"`
}

type notifyBody struct {
	Char   uint8  `cbor:"1,keyasint"`
	Data   []byte `cbor:"2,keyasint"`
	Millis int64  `cbor:"3,keyasint,omitempty"`
}

type writeBody struct {
	Seq  uint64 `cbor:"1,keyasint"`
	Char uint8  `cbor:"2,keyasint"`
	Data []byte `cbor:"3,keyasint"`
}

type writeResultBody struct {
	Seq uint64 `cbor:"1,keyasint"`
	Err string `cbor:"2,keyasint,omitempty"`
}

type linkLostBody struct {
	Reason string `cbor:"1,keyasint,omitempty"`
}

type errorBody struct {
	Message string `cbor:"1,keyasint"`
}

type pingBody struct {
	Nonce uint64 `cbor:"1,keyasint"`
}

func encodeEnvelope(kind uint8, body any) ([]byte, error) {
	var raw cbor.RawMessage
	if body != nil {
		var err error
		raw, err = cbor.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("relay: encode body: %w", err)
		}
	}
	data, err := cbor.Marshal(envelope{Kind: kind, Body: raw})
	if err != nil {
		return nil, fmt.Errorf("relay: encode envelope: %w", err)
	}
	return data, nil
}

func decodeEnvelope(data []byte) (uint8, cbor.RawMessage, error) {
	var env envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return 0, nil, fmt.Errorf("relay: decode envelope: %w", err)
	}
	if env.Kind == 0 {
		return 0, nil, fmt.Errorf("relay: envelope kind missing")
	}
	return env.Kind, env.Body, nil
}

func decodeBody(raw cbor.RawMessage, out any) error {
	if len(raw) == 0 {
		return fmt.Errorf("relay: envelope body missing")
	}
	if err := cbor.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("relay: decode body: %w", err)
	}
	return nil
}
