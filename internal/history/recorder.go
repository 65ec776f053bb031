// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The OpenVee Authors

package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openvee/veelink/pkg/veeproto"
)

// Recorder rolls the live telemetry stream into session history. Feed it
// every decoded event; it opens a set on the first rep, closes the set
// when the firmware's per-set rep counter restarts, and writes rows as
// boundaries pass. Storage errors are logged and dropped so a slow disk
// never stalls telemetry handling.
type Recorder struct {
	store *Store
	log   *slog.Logger

	mu          sync.Mutex
	sess        *Session
	set         *Set
	setCount    int
	lastSetReps int
	meanLoadSum float64
	workTotal   int64
	repTotal    int
}

func NewRecorder(store *Store, log *slog.Logger) *Recorder {
	return &Recorder{store: store, log: log.With("component", "recorder")}
}

// Start opens a new session. Device and firmware come from the link's
// connection info.
func (r *Recorder) Start(ctx context.Context, device, firmware string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess != nil {
		return nil
	}
	sess := &Session{
		ID:        uuid.NewString(),
		Device:    device,
		Firmware:  firmware,
		StartedAt: at,
	}
	if err := r.store.CreateSession(ctx, sess); err != nil {
		return err
	}
	r.sess = sess
	r.setCount = 0
	r.workTotal = 0
	r.repTotal = 0
	r.log.Info("session recording started", "session", sess.ID, "device", device)
	return nil
}

// Active reports whether a session is being recorded.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess != nil
}

// SessionID returns the open session's ID, or "" when idle.
func (r *Recorder) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess == nil {
		return ""
	}
	return r.sess.ID
}

// Observe folds one telemetry event into the open session. Events outside
// a session are ignored.
func (r *Recorder) Observe(ctx context.Context, ev veeproto.Event, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess == nil {
		return
	}

	switch e := ev.(type) {
	case veeproto.RepEvent:
		// The firmware's set counter restarting means a rest happened:
		// close the finished set before folding this rep in.
		if r.set != nil && e.SetReps < r.lastSetReps {
			r.closeSet(ctx, at)
		}
		if r.set == nil {
			r.openSet(at)
		}
		r.set.Reps = e.SetReps
		r.set.WorkJoules += int64(e.WorkJoules)
		r.workTotal += int64(e.WorkJoules)
		if e.SessionReps > r.repTotal {
			r.repTotal = e.SessionReps
		}
		if e.PeakLoad > r.set.PeakLoadKg {
			r.set.PeakLoadKg = e.PeakLoad
		}
		if e.PeakVelocity > r.set.PeakVelocity {
			r.set.PeakVelocity = e.PeakVelocity
		}
		r.meanLoadSum += e.MeanLoad
		r.lastSetReps = e.SetReps

	case veeproto.Sample:
		if r.set != nil && e.Power > r.set.PeakPowerW {
			r.set.PeakPowerW = e.Power
		}

	case veeproto.Fault:
		r.log.Warn("fault during recorded session",
			"session", r.sess.ID, "code", veeproto.FormatFaultCode(e.Code))
	}
}

// Stop closes the open set and session and writes the totals.
func (r *Recorder) Stop(ctx context.Context, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess == nil {
		return nil
	}
	if r.set != nil {
		r.closeSet(ctx, at)
	}
	err := r.store.FinishSession(ctx, r.sess.ID, at, r.repTotal, r.workTotal)
	r.log.Info("session recording stopped",
		"session", r.sess.ID, "reps", r.repTotal, "sets", r.setCount)
	r.sess = nil
	return err
}

// openSet and closeSet run with r.mu held.

func (r *Recorder) openSet(at time.Time) {
	r.setCount++
	r.set = &Set{
		ID:        uuid.NewString(),
		SessionID: r.sess.ID,
		Number:    r.setCount,
		StartedAt: at,
	}
	r.lastSetReps = 0
	r.meanLoadSum = 0
}

func (r *Recorder) closeSet(ctx context.Context, at time.Time) {
	set := r.set
	set.EndedAt = &at
	if set.Reps > 0 {
		set.MeanLoadKg = r.meanLoadSum / float64(set.Reps)
	}
	if err := r.store.InsertSet(ctx, set); err != nil {
		r.log.Error("persisting set failed", "session", set.SessionID,
			"set", set.Number, "error", err)
	}
	r.set = nil
	r.lastSetReps = 0
	r.meanLoadSum = 0
}
