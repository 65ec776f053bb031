// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The OpenVee Authors

package bench

import "fmt"

// Tunnel framing: AA 55, characteristic tag, payload length, payload,
// XOR check byte over tag+length+payload. No escaping; the length field
// carries the parser across sync bytes inside payloads.
const (
	syncByte1 = 0xAA
	syncByte2 = 0x55

	maxPayload = 0xFF
)

// Demux states.
const (
	stateSync1 = iota
	stateSync2
	stateTag
	stateLength
	statePayload
	stateCheck
)

func checksum(tag, length byte, payload []byte) byte {
	sum := tag ^ length
	for _, b := range payload {
		sum ^= b
	}
	return sum
}

// encodeFrame wraps one payload for the tunnel.
func encodeFrame(tag byte, payload []byte) ([]byte, error) {
	if len(payload) > maxPayload {
		return nil, fmt.Errorf("bench: payload too long: %d bytes", len(payload))
	}
	length := byte(len(payload))
	frame := make([]byte, 0, len(payload)+5)
	frame = append(frame, syncByte1, syncByte2, tag, length)
	frame = append(frame, payload...)
	frame = append(frame, checksum(tag, length, payload))
	return frame, nil
}

// frame is one demultiplexed tunnel frame.
type frame struct {
	tag     byte
	payload []byte
}

// demux is the byte-at-a-time tunnel parser. Garbage between frames and
// corrupt frames trigger a hunt for the next sync pair.
type demux struct {
	state   int
	tag     byte
	length  int
	payload []byte
	resyncs uint64
}

func newDemux() *demux {
	return &demux{state: stateSync1}
}

func (d *demux) reset() {
	d.state = stateSync1
	d.payload = nil
}

// feed advances the parser by one byte. A frame is returned once its
// check byte validates; a check failure returns an error and the parser
// resynchronizes on the next sync pair.
func (d *demux) feed(b byte) (*frame, error) {
	switch d.state {
	case stateSync1:
		if b == syncByte1 {
			d.state = stateSync2
		}

	case stateSync2:
		switch b {
		case syncByte2:
			d.state = stateTag
		case syncByte1:
			// AA AA 55 still syncs.
		default:
			d.state = stateSync1
		}

	case stateTag:
		d.tag = b
		d.state = stateLength

	case stateLength:
		d.length = int(b)
		d.payload = make([]byte, 0, d.length)
		if d.length == 0 {
			d.state = stateCheck
		} else {
			d.state = statePayload
		}

	case statePayload:
		d.payload = append(d.payload, b)
		if len(d.payload) == d.length {
			d.state = stateCheck
		}

	case stateCheck:
		fr := &frame{tag: d.tag, payload: d.payload}
		want := checksum(d.tag, byte(d.length), d.payload)
		d.reset()
		if b != want {
			d.resyncs++
			return nil, fmt.Errorf("bench: check byte mismatch on tag 0x%02X: want 0x%02X, got 0x%02X", fr.tag, want, b)
		}
		return fr, nil
	}
	return nil, nil
}
