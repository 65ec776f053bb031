// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The OpenVee Authors

package link

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openvee/veelink/pkg/veeproto"
)

// Pending tracks one submitted command until it is acknowledged, times
// out, is cancelled, or the link is lost.
type Pending struct {
	m     *Machine
	cmd   veeproto.Command
	frame []byte

	// loop-owned
	seq         uint64
	submittedAt time.Time
	attempts    int

	cancelled atomic.Bool
	once      sync.Once
	done      chan struct{}
	err       error
}

func newPending(m *Machine, cmd veeproto.Command, frame []byte) *Pending {
	return &Pending{m: m, cmd: cmd, frame: frame, done: make(chan struct{})}
}

// Command returns the submitted command.
func (p *Pending) Command() veeproto.Command { return p.cmd }

// Done is closed when the command resolves.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Err reports the outcome: nil once the write was acknowledged. Before
// Done is closed it returns nil regardless.
func (p *Pending) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Wait blocks until the command resolves or ctx ends. ctx expiry does not
// withdraw the command; use Cancel for that.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel withdraws the command. A queued command is removed and resolves
// with ErrCancelled. A command already on the radio cannot be recalled: it
// resolves with ErrCancelled locally and the eventual acknowledgment is
// discarded.
func (p *Pending) Cancel() {
	p.cancelled.Store(true)
	p.m.post(cancelMsg{p: p})
}

func (p *Pending) resolve(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// dispatcher owns the outbound command queue. Every field is owned by the
// machine's run loop; methods must only be called from it.
//
// The single in-flight slot enforces the one-write-at-a-time rule a GATT
// link requires. Combined with FIFO issue order it also guarantees a
// queued program or echo frame is never written before an earlier stop or
// reset has resolved: the earlier command either still occupies the slot
// or has already completed. A cancelled in-flight write keeps the slot
// until the radio answers, so the ordering holds across cancellation too.
type dispatcher struct {
	queue    []*Pending
	inflight *Pending
	discard  bool
	retries  int
	seq      uint64
}

func newDispatcher(retries int) *dispatcher {
	return &dispatcher{retries: retries}
}

// enqueue appends p and assigns its sequence number.
func (d *dispatcher) enqueue(p *Pending) {
	d.seq++
	p.seq = d.seq
	p.submittedAt = time.Now()
	d.queue = append(d.queue, p)
}

// next pops the command to issue, or nil when the slot is busy or the
// queue is empty.
func (d *dispatcher) next() *Pending {
	if d.inflight != nil || len(d.queue) == 0 {
		return nil
	}
	p := d.queue[0]
	d.queue = d.queue[1:]
	d.inflight = p
	d.discard = false
	p.attempts++
	return p
}

// cancel handles an advisory cancellation. Commands that already resolved
// are left alone.
func (d *dispatcher) cancel(p *Pending) {
	if d.inflight == p {
		d.discard = true
		p.resolve(ErrCancelled)
		return
	}
	for i, q := range d.queue {
		if q == p {
			d.queue = append(d.queue[:i], d.queue[i+1:]...)
			p.resolve(ErrCancelled)
			return
		}
	}
}

// completeWrite consumes an in-flight acknowledgment. It returns the
// command to reissue when the failure is retryable, and late=true when
// the acknowledgment belonged to a cancelled or torn-down write and was
// dropped.
func (d *dispatcher) completeWrite(seq uint64, err error) (reissue *Pending, late bool) {
	p := d.inflight
	if p == nil || p.seq != seq {
		return nil, true
	}
	if d.discard {
		d.inflight = nil
		d.discard = false
		return nil, true
	}
	if err == nil {
		d.inflight = nil
		p.resolve(nil)
		return nil, false
	}
	if p.cmd.Idempotent() && p.attempts <= d.retries {
		p.attempts++
		return p, false
	}
	d.inflight = nil
	p.resolve(&TransportError{Op: "write", Err: err})
	return nil, false
}

// failAll resolves everything pending, queue and slot alike.
func (d *dispatcher) failAll(err error) {
	if d.inflight != nil {
		if !d.discard {
			d.inflight.resolve(err)
		}
		d.inflight = nil
		d.discard = false
	}
	for _, p := range d.queue {
		p.resolve(err)
	}
	d.queue = nil
}
