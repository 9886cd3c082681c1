package admin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"gatehouse/internal/identity"
)

// PostgresSettingsRepository persists settings to Postgres.
type PostgresSettingsRepository struct {
	db *sqlx.DB
}

// NewPostgresSettingsRepository constructs a repository backed by sqlx.
func NewPostgresSettingsRepository(db *sqlx.DB) *PostgresSettingsRepository {
	return &PostgresSettingsRepository{db: db}
}

func (r *PostgresSettingsRepository) GetSetting(ctx context.Context, key string) (*Setting, error) {
	var setting Setting
	err := r.db.GetContext(ctx, &setting,
		`SELECT key, value, updated_at, updated_by FROM app_settings WHERE key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting setting: %w", err)
	}
	return &setting, nil
}

func (r *PostgresSettingsRepository) PutSetting(ctx context.Context, setting Setting) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO app_settings (key, value, updated_at, updated_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET value = $2, updated_at = $3, updated_by = $4`,
		setting.Key, setting.Value, setting.UpdatedAt, setting.UpdatedBy)
	if err != nil {
		return fmt.Errorf("putting setting: %w", err)
	}
	return nil
}

func (r *PostgresSettingsRepository) ListSettings(ctx context.Context) ([]Setting, error) {
	settings := []Setting{}
	err := r.db.SelectContext(ctx, &settings,
		`SELECT key, value, updated_at, updated_by FROM app_settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("listing settings: %w", err)
	}
	return settings, nil
}

func (r *PostgresSettingsRepository) DeleteSetting(ctx context.Context, key string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM app_settings WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("deleting setting: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting setting: %w", err)
	}
	if affected == 0 {
		return identity.ErrNotFound
	}
	return nil
}
