// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The OpenVee Authors

package bench

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedAll(t *testing.T, d *demux, data []byte) []*frame {
	t.Helper()
	var frames []*frame
	for _, b := range data {
		fr, err := d.feed(b)
		require.NoError(t, err)
		if fr != nil {
			frames = append(frames, fr)
		}
	}
	return frames
}

func TestEncodeFrameLayout(t *testing.T) {
	got, err := encodeFrame(0x00, []byte{0x05, 0x00})
	require.NoError(t, err)
	// tag^len^payload = 0x00^0x02^0x05^0x00
	assert.Equal(t, []byte{0xAA, 0x55, 0x00, 0x02, 0x05, 0x00, 0x07}, got)
}

func TestEncodeFrameRejectsOversizedPayload(t *testing.T) {
	_, err := encodeFrame(0x01, make([]byte, 256))
	assert.Error(t, err)
}

func TestDemuxRoundTrip(t *testing.T) {
	payloads := map[byte][]byte{
		0x01: {0xDE, 0xAD, 0xBE, 0xEF},
		0x03: {0x2A},
		0x07: {},
	}

	var stream []byte
	for tag, p := range payloads {
		fr, err := encodeFrame(tag, p)
		require.NoError(t, err)
		stream = append(stream, fr...)
	}

	d := newDemux()
	frames := feedAll(t, d, stream)
	require.Len(t, frames, len(payloads))
	for _, fr := range frames {
		assert.Equal(t, payloads[fr.tag], append([]byte{}, fr.payload...), "tag 0x%02X", fr.tag)
	}
}

func TestDemuxPayloadMayContainSyncBytes(t *testing.T) {
	payload := []byte{0xAA, 0x55, 0xAA, 0x55, 0x00}
	enc, err := encodeFrame(0x02, payload)
	require.NoError(t, err)

	frames := feedAll(t, newDemux(), enc)
	require.Len(t, frames, 1)
	assert.Equal(t, payload, frames[0].payload)
}

func TestDemuxResyncsAfterGarbage(t *testing.T) {
	good, err := encodeFrame(0x01, []byte{0x11, 0x22})
	require.NoError(t, err)

	var stream []byte
	stream = append(stream, 0x00, 0xFF, 0xAA, 0x13, 0x37) // noise, including a lone sync byte
	stream = append(stream, good...)
	stream = append(stream, 0xAA, 0x55, 0x01, 0x02, 0x11) // torn frame, one payload byte short
	stream = append(stream, good...)                      // partially swallowed, fails the check

	d := newDemux()
	var frames []*frame
	for _, b := range stream {
		fr, ferr := d.feed(b)
		if ferr != nil {
			continue
		}
		if fr != nil {
			frames = append(frames, fr)
		}
	}
	require.NotEmpty(t, frames)
	assert.Equal(t, byte(0x01), frames[0].tag)
	assert.Equal(t, []byte{0x11, 0x22}, frames[0].payload)

	// Whatever the torn frame consumed, the next clean frame decodes.
	tail := append([]byte{0x99, 0x99}, good...)
	frames = feedAll(t, d, tail)
	require.Len(t, frames, 1)
	assert.Equal(t, []byte{0x11, 0x22}, frames[0].payload)
}

func TestDemuxReportsCheckMismatch(t *testing.T) {
	enc, err := encodeFrame(0x04, []byte{0x01, 0x02, 0x03})
	require.NoError(t, err)
	enc[len(enc)-1] ^= 0xFF

	d := newDemux()
	var sawErr bool
	for _, b := range enc {
		_, ferr := d.feed(b)
		if ferr != nil {
			sawErr = true
		}
	}
	require.True(t, sawErr)
	assert.EqualValues(t, 1, d.resyncs)

	// The parser recovers on the next frame.
	good, err := encodeFrame(0x04, []byte{0x01, 0x02, 0x03})
	require.NoError(t, err)
	frames := feedAll(t, d, good)
	require.Len(t, frames, 1)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, frames[0].payload)
}
