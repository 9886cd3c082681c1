package activity

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"gatehouse/internal/identity"
)

func TestPolicyEvaluate(t *testing.T) {
	policy := DefaultPolicy()
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	start := now.Add(-time.Hour)

	cases := []struct {
		name       string
		lastActive time.Time
		start      time.Time
		state      State
		reason     string
	}{
		{"just touched", now, start, StateActive, ""},
		{"inside timeout", now.Add(-10 * time.Minute), start, StateActive, ""},
		{"entering warning", now.Add(-25 * time.Minute), start, StateWarning, ""},
		{"one millisecond past timeout", now.Add(-30*time.Minute - time.Millisecond), start, StateExpired, identity.ReasonSessionTimeout},
		{"exactly at timeout", now.Add(-30 * time.Minute), start, StateExpired, identity.ReasonSessionTimeout},
		{"absolute max age reached", now, now.Add(-12 * time.Hour), StateExpired, identity.ReasonSessionExpired},
		{"max age beats inactivity", now.Add(-31 * time.Minute), now.Add(-13 * time.Hour), StateExpired, identity.ReasonSessionExpired},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			state, reason := policy.Evaluate(tc.lastActive, tc.start, now)
			if state != tc.state || reason != tc.reason {
				t.Fatalf("expected (%s, %q), got (%s, %q)", tc.state, tc.reason, state, reason)
			}
		})
	}
}

func TestPolicyRemaining(t *testing.T) {
	policy := DefaultPolicy()
	now := time.Now()

	if got := policy.Remaining(now.Add(-10*time.Minute), now); got != 20*time.Minute {
		t.Fatalf("expected 20m remaining, got %v", got)
	}
	if got := policy.Remaining(now.Add(-time.Hour), now); got != 0 {
		t.Fatalf("expected zero remaining for a long-idle session, got %v", got)
	}
}

type sessionsStub struct {
	active  func(ctx context.Context) ([]identity.Session, error)
	expired map[uuid.UUID]string
}

func (s *sessionsStub) ActiveSessions(ctx context.Context) ([]identity.Session, error) {
	return s.active(ctx)
}

func (s *sessionsStub) Expire(_ context.Context, sessionID uuid.UUID, reason string) error {
	if s.expired == nil {
		s.expired = make(map[uuid.UUID]string)
	}
	s.expired[sessionID] = reason
	return nil
}

func TestMonitorSweepExpiresOnlyTimedOutSessions(t *testing.T) {
	now := time.Now()
	fresh := identity.Session{ID: uuid.New(), CreatedAt: now.Add(-time.Hour), LastActivityAt: now.Add(-time.Minute)}
	idle := identity.Session{ID: uuid.New(), CreatedAt: now.Add(-time.Hour), LastActivityAt: now.Add(-45 * time.Minute)}
	ancient := identity.Session{ID: uuid.New(), CreatedAt: now.Add(-13 * time.Hour), LastActivityAt: now.Add(-time.Minute)}

	stub := &sessionsStub{
		active: func(context.Context) ([]identity.Session, error) {
			return []identity.Session{fresh, idle, ancient}, nil
		},
	}
	monitor := NewMonitor(stub, DefaultPolicy(), time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
	monitor.now = func() time.Time { return now }

	monitor.sweep(context.Background())

	if len(stub.expired) != 2 {
		t.Fatalf("expected 2 expirations, got %d", len(stub.expired))
	}
	if got := stub.expired[idle.ID]; got != identity.ReasonSessionTimeout {
		t.Fatalf("expected idle session expired for inactivity, got %q", got)
	}
	if got := stub.expired[ancient.ID]; got != identity.ReasonSessionExpired {
		t.Fatalf("expected old session expired for max age, got %q", got)
	}
	if _, ok := stub.expired[fresh.ID]; ok {
		t.Fatal("fresh session should not be expired")
	}
}

func TestMonitorStartStop(t *testing.T) {
	stub := &sessionsStub{
		active: func(context.Context) ([]identity.Session, error) {
			return nil, nil
		},
	}
	monitor := NewMonitor(stub, DefaultPolicy(), time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))

	monitor.Start(context.Background())
	time.Sleep(10 * time.Millisecond)
	monitor.Stop()
}
