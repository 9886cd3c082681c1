package tabs

import (
	"sync"
	"time"
)

// Record tracks one browser tab's view of a session.
type Record struct {
	TabID         string    `json:"tab_id"`
	Authenticated bool      `json:"authenticated"`
	IsAuthTab     bool      `json:"is_auth_tab"`
	Timestamp     time.Time `json:"timestamp"`
}

// Store persists tab records and the per-session auth-tab designation. It
// models the shared browser storage the heuristic relies on: writes are
// last-write-wins and may race across processes; implementations only need
// to serialize within themselves.
type Store interface {
	Get(sessionKey, tabID string) (*Record, error)
	Set(sessionKey string, rec Record) error
	Delete(sessionKey, tabID string) error
	List(sessionKey string) ([]Record, error)
	Clear(sessionKey string) error
	// Sessions enumerates every session key with any stored tab state,
	// including sessions that ended without an explicit sign-out.
	Sessions() ([]string, error)

	AuthTab(sessionKey string) (string, error)
	SetAuthTab(sessionKey, tabID string) error
	ClearAuthTab(sessionKey string) error
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string]map[string]Record
	authTabs map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[string]map[string]Record),
		authTabs: make(map[string]string),
	}
}

func (s *MemoryStore) Get(sessionKey, tabID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.records[sessionKey][tabID]; ok {
		copied := rec
		return &copied, nil
	}
	return nil, nil
}

func (s *MemoryStore) Set(sessionKey string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records[sessionKey] == nil {
		s.records[sessionKey] = make(map[string]Record)
	}
	s.records[sessionKey][rec.TabID] = rec
	return nil
}

func (s *MemoryStore) Delete(sessionKey, tabID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records[sessionKey], tabID)
	return nil
}

func (s *MemoryStore) List(sessionKey string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([]Record, 0, len(s.records[sessionKey]))
	for _, rec := range s.records[sessionKey] {
		records = append(records, rec)
	}
	return records, nil
}

func (s *MemoryStore) Clear(sessionKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, sessionKey)
	delete(s.authTabs, sessionKey)
	return nil
}

func (s *MemoryStore) Sessions() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{}, len(s.records))
	keys := make([]string, 0, len(s.records))
	for key := range s.records {
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	for key := range s.authTabs {
		if _, ok := seen[key]; !ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (s *MemoryStore) AuthTab(sessionKey string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authTabs[sessionKey], nil
}

func (s *MemoryStore) SetAuthTab(sessionKey, tabID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authTabs[sessionKey] = tabID
	return nil
}

func (s *MemoryStore) ClearAuthTab(sessionKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.authTabs, sessionKey)
	return nil
}
