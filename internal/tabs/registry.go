// Package tabs restricts which browser tab may adopt an authentication
// transition. One tab per session is designated the auth tab; other tabs
// must not silently flip from signed-out to signed-in without a refresh.
package tabs

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Event is an auth-state transition reported by a tab.
type Event string

const (
	EventSignedIn  Event = "SIGNED_IN"
	EventSignedOut Event = "SIGNED_OUT"
)

// Decision tells the reporting tab what to do with the event.
type Decision struct {
	// Adopt is true when the tab may apply the signed-in state.
	Adopt bool `json:"adopt"`
	// SignOutLocal is true when the tab must drop its local session
	// without propagating further auth events.
	SignOutLocal bool `json:"sign_out_local"`
	// BecameAuthTab is true when this decision designated the tab as the
	// auth tab.
	BecameAuthTab bool `json:"became_auth_tab"`
}

// ChangeFunc observes applied decisions.
type ChangeFunc func(sessionKey string, rec Record, decision Decision)

const recordMaxAge = time.Hour

// Registry applies the tab-isolation rules over a Store. Store failures are
// logged and treated as fail-open: a tab the registry cannot see behaves
// like a freshly refreshed one. The underlying storage is last-write-wins
// with no cross-process locking; the registry's mutex only serializes
// decisions within this process.
type Registry struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time

	mu          sync.Mutex
	subscribers []ChangeFunc
}

// NewRegistry creates a Registry over the given store.
func NewRegistry(store Store, logger *slog.Logger) *Registry {
	return &Registry{store: store, logger: logger, now: time.Now}
}

// Subscribe registers a callback invoked after every applied decision.
func (r *Registry) Subscribe(fn ChangeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers = append(r.subscribers, fn)
}

// Decide processes an auth-state event from a tab and returns the decision.
//
// Sign-out always propagates. Sign-in is adopted when the tab is the
// designated auth tab, when no auth tab is designated yet (the tab becomes
// it), or when the tab has no record while an auth tab exists — the
// signature of an explicit page refresh. Any other tab is told to sign out
// locally.
func (r *Registry) Decide(sessionKey, tabID string, event Event) Decision {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	if event == EventSignedOut {
		decision := Decision{Adopt: true}
		authTab, err := r.store.AuthTab(sessionKey)
		if err != nil {
			r.logger.Warn("tab store read failed", "error", err)
		} else if authTab == tabID {
			if err := r.store.ClearAuthTab(sessionKey); err != nil {
				r.logger.Warn("tab store write failed", "error", err)
			}
		}
		r.write(sessionKey, Record{TabID: tabID, Authenticated: false, Timestamp: now})
		r.notify(sessionKey, Record{TabID: tabID, Timestamp: now}, decision)
		return decision
	}

	authTab, err := r.store.AuthTab(sessionKey)
	if err != nil {
		r.logger.Warn("tab store read failed", "error", err)
		authTab = ""
	}
	existing, err := r.store.Get(sessionKey, tabID)
	if err != nil {
		r.logger.Warn("tab store read failed", "error", err)
		existing = nil
	}

	var decision Decision
	switch {
	case authTab == tabID:
		decision = Decision{Adopt: true}
	case authTab == "":
		decision = Decision{Adopt: true, BecameAuthTab: true}
		if err := r.store.SetAuthTab(sessionKey, tabID); err != nil {
			r.logger.Warn("tab store write failed", "error", err)
		}
	case existing == nil:
		// No record while an auth tab exists: the tab was loaded fresh
		// via an explicit refresh and may adopt the session.
		decision = Decision{Adopt: true}
	default:
		decision = Decision{SignOutLocal: true}
	}

	rec := Record{
		TabID:         tabID,
		Authenticated: decision.Adopt,
		IsAuthTab:     authTab == tabID || decision.BecameAuthTab,
		Timestamp:     now,
	}
	r.write(sessionKey, rec)
	r.notify(sessionKey, rec, decision)
	return decision
}

// Forget drops a single tab's record. Used when a tab reports an explicit
// page refresh, restoring the no-record signature that permits adoption.
func (r *Registry) Forget(sessionKey, tabID string) {
	if err := r.store.Delete(sessionKey, tabID); err != nil {
		r.logger.Warn("tab store delete failed", "error", err)
	}
}

// Clear drops all tab state for a session. Called on logout.
func (r *Registry) Clear(sessionKey string) {
	if err := r.store.Clear(sessionKey); err != nil {
		r.logger.Warn("tab store clear failed", "error", err)
	}
}

// Sweep removes records older than an hour and clears stale auth-tab
// designations. It covers every session the store holds, so tab state left
// behind by sessions that ended without an explicit sign-out still ages out.
func (r *Registry) Sweep() {
	keys, err := r.store.Sessions()
	if err != nil {
		r.logger.Warn("tab store enumeration failed", "error", err)
		return
	}

	cutoff := r.now().Add(-recordMaxAge)
	for _, key := range keys {
		records, err := r.store.List(key)
		if err != nil {
			r.logger.Warn("tab store list failed", "error", err)
			continue
		}
		authTab, _ := r.store.AuthTab(key)
		fresh := 0
		for _, rec := range records {
			if rec.Timestamp.After(cutoff) {
				fresh++
				continue
			}
			if err := r.store.Delete(key, rec.TabID); err != nil {
				r.logger.Warn("tab store delete failed", "error", err)
			}
			if rec.TabID == authTab {
				if err := r.store.ClearAuthTab(key); err != nil {
					r.logger.Warn("tab store write failed", "error", err)
				}
			}
		}
		if fresh == 0 {
			if err := r.store.Clear(key); err != nil {
				r.logger.Warn("tab store clear failed", "error", err)
			}
		}
	}
}

// RunSweeper ages out tab records until the context is cancelled.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

func (r *Registry) write(sessionKey string, rec Record) {
	if err := r.store.Set(sessionKey, rec); err != nil {
		r.logger.Warn("tab store write failed", "error", err)
	}
}

func (r *Registry) notify(sessionKey string, rec Record, decision Decision) {
	for _, fn := range r.subscribers {
		fn(sessionKey, rec, decision)
	}
}
