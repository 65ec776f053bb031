// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The OpenVee Authors

package link

import "sync"

// FrameStream delivers decoded (and undecodable) notifications to one
// subscriber.
type FrameStream struct {
	m    *Machine
	id   uint64
	ch   chan Frame
	once sync.Once
}

// C is the receive channel. It is closed when the stream is closed or the
// machine shuts down.
func (s *FrameStream) C() <-chan Frame { return s.ch }

// Close detaches the stream and closes its channel.
func (s *FrameStream) Close() {
	s.once.Do(func() { s.m.subs.removeFrames(s.id) })
}

// StateStream delivers state transitions to one subscriber.
type StateStream struct {
	m    *Machine
	id   uint64
	ch   chan StateChange
	once sync.Once
}

// C is the receive channel. It is closed when the stream is closed or the
// machine shuts down.
func (s *StateStream) C() <-chan StateChange { return s.ch }

// Close detaches the stream and closes its channel.
func (s *StateStream) Close() {
	s.once.Do(func() { s.m.subs.removeStates(s.id) })
}

// subscribers is the fan-out registry. Broadcasts never block: a
// subscriber whose buffer is full loses the event, the pipeline keeps
// moving.
type subscribers struct {
	mu     sync.Mutex
	frames map[uint64]chan Frame
	states map[uint64]chan StateChange
	nextID uint64
	closed bool
}

func newSubscribers() *subscribers {
	return &subscribers{
		frames: make(map[uint64]chan Frame),
		states: make(map[uint64]chan StateChange),
	}
}

func (r *subscribers) addFrames(buffer int) (uint64, chan Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan Frame, buffer)
	if r.closed {
		close(ch)
		return 0, ch
	}
	r.nextID++
	r.frames[r.nextID] = ch
	return r.nextID, ch
}

func (r *subscribers) addStates(buffer int) (uint64, chan StateChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan StateChange, buffer)
	if r.closed {
		close(ch)
		return 0, ch
	}
	r.nextID++
	r.states[r.nextID] = ch
	return r.nextID, ch
}

func (r *subscribers) removeFrames(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.frames[id]; ok {
		delete(r.frames, id)
		close(ch)
	}
}

func (r *subscribers) removeStates(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.states[id]; ok {
		delete(r.states, id)
		close(ch)
	}
}

func (r *subscribers) broadcastFrame(f Frame) (dropped int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.frames {
		select {
		case ch <- f:
		default:
			dropped++
		}
	}
	return dropped
}

func (r *subscribers) broadcastState(sc StateChange) (dropped int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.states {
		select {
		case ch <- sc:
		default:
			dropped++
		}
	}
	return dropped
}

func (r *subscribers) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for id, ch := range r.frames {
		delete(r.frames, id)
		close(ch)
	}
	for id, ch := range r.states {
		delete(r.states, id)
		close(ch)
	}
}
