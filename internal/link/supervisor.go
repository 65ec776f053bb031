// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The OpenVee Authors

package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Default supervisor settings.
const (
	defaultInitialBackoff                = 1 * time.Second
	defaultMaxBackoff                    = 30 * time.Second
	defaultBreakerFailures uint32        = 5
	defaultBreakerCooldown time.Duration = 60 * time.Second
)

// SupervisorConfig tunes reconnection behavior.
type SupervisorConfig struct {
	// InitialBackoff is the first reconnect delay; it doubles per failed
	// attempt up to MaxBackoff and resets once a link comes up.
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`

	// BreakerFailures is the consecutive failed attempts before the
	// circuit opens. BreakerCooldown is how long it stays open before a
	// half-open probe.
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

func (c SupervisorConfig) withDefaults() SupervisorConfig {
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = defaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = defaultBreakerFailures
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = defaultBreakerCooldown
	}
	return c
}

// Supervisor keeps a machine connected, reconnecting after link loss with
// exponential backoff. A circuit breaker over connection attempts stops
// the radio from being hammered while the trainer stays unreachable.
type Supervisor struct {
	m       *Machine
	cfg     SupervisorConfig
	log     *slog.Logger
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// NewSupervisor wraps m. A nil logger falls back to slog.Default.
func NewSupervisor(m *Machine, cfg SupervisorConfig, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	s := &Supervisor{m: m, cfg: cfg, log: log.With("component", "supervisor")}
	s.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "link-connect",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.log.Warn("connect breaker state change", "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// A shutdown mid-attempt is not the trainer's fault.
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return s
}

// BreakerState reports the connect breaker position for monitoring.
func (s *Supervisor) BreakerState() gobreaker.State {
	return s.breaker.State()
}

// Run keeps the link up until ctx ends, the session is disconnected
// locally, or the machine is closed. It returns nil on a local
// disconnect, ctx.Err on shutdown, ErrClosed when the machine went away.
func (s *Supervisor) Run(ctx context.Context) error {
	backoff := s.cfg.InitialBackoff
	for {
		err := s.connect(ctx)
		switch {
		case err == nil:
			backoff = s.cfg.InitialBackoff
			reason := s.m.AwaitDown(ctx)
			if ctx.Err() != nil {
				s.disconnect()
				return ctx.Err()
			}
			if errors.Is(reason, ErrClosed) {
				return ErrClosed
			}
			if reason == nil {
				// Somebody ended the session on purpose.
				return nil
			}
			s.log.Warn("link down", "reason", reason, "retry_in", backoff)
		case errors.Is(err, ErrClosed):
			return ErrClosed
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			s.log.Warn("connect failed", "err", err, "retry_in", backoff)
		}

		if !s.sleep(ctx, backoff) {
			return ctx.Err()
		}
		backoff *= 2
		if backoff > s.cfg.MaxBackoff {
			backoff = s.cfg.MaxBackoff
		}
	}
}

func (s *Supervisor) connect(ctx context.Context) error {
	_, err := s.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, s.m.Connect(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("connect suppressed: %w", err)
	}
	return err
}

func (s *Supervisor) disconnect() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.m.Disconnect(ctx); err != nil && !errors.Is(err, ErrClosed) {
		s.log.Debug("shutdown disconnect", "err", err)
	}
}

func (s *Supervisor) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
