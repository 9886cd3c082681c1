package admin

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"gatehouse/internal/identity"
)

// Setting is one application-wide key/value pair.
type Setting struct {
	Key       string    `db:"key" json:"key"`
	Value     string    `db:"value" json:"value"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
	UpdatedBy uuid.UUID `db:"updated_by" json:"updatedBy"`
}

// SettingsRepository persists application settings.
type SettingsRepository interface {
	GetSetting(ctx context.Context, key string) (*Setting, error)
	PutSetting(ctx context.Context, setting Setting) error
	ListSettings(ctx context.Context) ([]Setting, error)
	DeleteSetting(ctx context.Context, key string) error
}

// MemorySettingsRepository is an in-memory SettingsRepository.
type MemorySettingsRepository struct {
	mu       sync.RWMutex
	settings map[string]Setting
}

// NewMemorySettingsRepository creates an empty repository.
func NewMemorySettingsRepository() *MemorySettingsRepository {
	return &MemorySettingsRepository{settings: make(map[string]Setting)}
}

func (r *MemorySettingsRepository) GetSetting(_ context.Context, key string) (*Setting, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if setting, ok := r.settings[key]; ok {
		return &setting, nil
	}
	return nil, identity.ErrNotFound
}

func (r *MemorySettingsRepository) PutSetting(_ context.Context, setting Setting) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings[setting.Key] = setting
	return nil
}

func (r *MemorySettingsRepository) ListSettings(_ context.Context) ([]Setting, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	settings := make([]Setting, 0, len(r.settings))
	for _, setting := range r.settings {
		settings = append(settings, setting)
	}
	sort.Slice(settings, func(i, j int) bool { return settings[i].Key < settings[j].Key })
	return settings, nil
}

func (r *MemorySettingsRepository) DeleteSetting(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.settings[key]; !ok {
		return identity.ErrNotFound
	}
	delete(r.settings, key)
	return nil
}
