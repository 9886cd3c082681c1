// Package activity tracks how recently each session has been used and
// expires sessions that idle past the configured timeout or outlive the
// absolute maximum age.
package activity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"gatehouse/internal/identity"
)

// State describes where a session sits in its inactivity lifecycle.
type State string

const (
	StateActive  State = "active"
	StateWarning State = "warning"
	StateExpired State = "expired"
)

// Policy holds the inactivity thresholds. A session expires when it has been
// idle for Timeout, or unconditionally once it is MaxAge old. Warning marks
// the window before an inactivity expiry during which clients should prompt
// the user.
type Policy struct {
	Timeout       time.Duration
	WarningWindow time.Duration
	MaxAge        time.Duration
}

// DefaultPolicy mirrors the service defaults: 30 minutes of inactivity with
// a 5 minute warning, 12 hours absolute.
func DefaultPolicy() Policy {
	return Policy{
		Timeout:       30 * time.Minute,
		WarningWindow: 5 * time.Minute,
		MaxAge:        12 * time.Hour,
	}
}

// Evaluate classifies a session. The returned reason is non-empty only for
// StateExpired and names which limit was hit.
func (p Policy) Evaluate(lastActivity, sessionStart, now time.Time) (State, string) {
	if p.MaxAge > 0 && !now.Before(sessionStart.Add(p.MaxAge)) {
		return StateExpired, identity.ReasonSessionExpired
	}
	idle := now.Sub(lastActivity)
	if idle >= p.Timeout {
		return StateExpired, identity.ReasonSessionTimeout
	}
	if idle >= p.Timeout-p.WarningWindow {
		return StateWarning, ""
	}
	return StateActive, ""
}

// Remaining reports how long until the session expires from inactivity,
// clamped at zero.
func (p Policy) Remaining(lastActivity, now time.Time) time.Duration {
	remaining := p.Timeout - now.Sub(lastActivity)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Sessions is the slice of the identity service the monitor needs.
type Sessions interface {
	ActiveSessions(ctx context.Context) ([]identity.Session, error)
	Expire(ctx context.Context, sessionID uuid.UUID, reason string) error
}

// Monitor periodically evaluates every live session against the policy and
// revokes the ones that have run out.
type Monitor struct {
	sessions Sessions
	policy   Policy
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewMonitor creates a Monitor. A zero interval defaults to 30 seconds.
func NewMonitor(sessions Sessions, policy Policy, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		sessions: sessions,
		policy:   policy,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the background sweep loop.
func (m *Monitor) Start(ctx context.Context) {
	go m.run(ctx)
}

// Stop halts the loop and waits for the in-flight sweep to finish.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep(ctx)
		case <-m.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) sweep(ctx context.Context) {
	sessions, err := m.sessions.ActiveSessions(ctx)
	if err != nil {
		m.logger.Error("listing active sessions failed", "error", err)
		return
	}

	now := m.now()
	for _, session := range sessions {
		state, reason := m.policy.Evaluate(session.LastActivityAt, session.CreatedAt, now)
		if state != StateExpired {
			continue
		}
		if err := m.sessions.Expire(ctx, session.ID, reason); err != nil {
			m.logger.Error("expiring session failed", "session_id", session.ID, "error", err)
			continue
		}
		m.logger.Info("session expired",
			"session_id", session.ID,
			"user_id", session.UserID,
			"reason", reason,
		)
	}
}
