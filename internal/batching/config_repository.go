package batching

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"hush/internal/config"
	pkgerrors "hush/pkg/errors"
)

// ChannelConfig is a persisted per-channel override.
type ChannelConfig struct {
	ChannelID string                    `json:"channel_id"`
	Config    config.ChannelBatchConfig `json:"config"`
	UpdatedAt time.Time                 `json:"updated_at"`
}

// ConfigRepository persists per-channel overrides so every replica can
// load them after a batch_config_updated event.
type ConfigRepository interface {
	GetChannelConfig(ctx context.Context, channelID string) (*ChannelConfig, error)
	ListChannelConfigs(ctx context.Context) ([]ChannelConfig, error)
	UpsertChannelConfig(ctx context.Context, channelID string, cfg config.ChannelBatchConfig) (*ChannelConfig, error)
	DeleteChannelConfig(ctx context.Context, channelID string) error
}

type PostgresConfigRepository struct {
	db *sql.DB
}

func NewConfigRepository(db *sql.DB) *PostgresConfigRepository {
	return &PostgresConfigRepository{db: db}
}

func (r *PostgresConfigRepository) GetChannelConfig(ctx context.Context, channelID string) (*ChannelConfig, error) {
	query := `SELECT channel_id, max_batch_size, max_batch_age_ms, updated_at FROM channel_batch_configs WHERE channel_id = $1`

	var (
		cc    ChannelConfig
		ageMS int64
	)
	err := r.db.QueryRowContext(ctx, query, channelID).Scan(&cc.ChannelID, &cc.Config.MaxBatchSize, &ageMS, &cc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrNotFound.WithDetail("channel_id", channelID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get channel batch config: %w", err)
	}
	cc.Config.MaxBatchAge = time.Duration(ageMS) * time.Millisecond
	return &cc, nil
}

func (r *PostgresConfigRepository) ListChannelConfigs(ctx context.Context) ([]ChannelConfig, error) {
	query := `SELECT channel_id, max_batch_size, max_batch_age_ms, updated_at FROM channel_batch_configs ORDER BY channel_id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list channel batch configs: %w", err)
	}
	defer rows.Close()

	var configs []ChannelConfig
	for rows.Next() {
		var (
			cc    ChannelConfig
			ageMS int64
		)
		if err := rows.Scan(&cc.ChannelID, &cc.Config.MaxBatchSize, &ageMS, &cc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan channel batch config: %w", err)
		}
		cc.Config.MaxBatchAge = time.Duration(ageMS) * time.Millisecond
		configs = append(configs, cc)
	}
	return configs, rows.Err()
}

func (r *PostgresConfigRepository) UpsertChannelConfig(ctx context.Context, channelID string, cfg config.ChannelBatchConfig) (*ChannelConfig, error) {
	query := `
		INSERT INTO channel_batch_configs (channel_id, max_batch_size, max_batch_age_ms, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (channel_id) DO UPDATE
		SET max_batch_size = EXCLUDED.max_batch_size,
		    max_batch_age_ms = EXCLUDED.max_batch_age_ms,
		    updated_at = EXCLUDED.updated_at
	`

	cc := &ChannelConfig{ChannelID: channelID, Config: cfg, UpdatedAt: time.Now()}
	if _, err := r.db.ExecContext(ctx, query, channelID, cfg.MaxBatchSize, cfg.MaxBatchAge.Milliseconds(), cc.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to upsert channel batch config: %w", err)
	}
	return cc, nil
}

func (r *PostgresConfigRepository) DeleteChannelConfig(ctx context.Context, channelID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM channel_batch_configs WHERE channel_id = $1`, channelID)
	if err != nil {
		return fmt.Errorf("failed to delete channel batch config: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return pkgerrors.ErrNotFound.WithDetail("channel_id", channelID)
	}
	return nil
}

// MemoryConfigRepository is used when no PostgreSQL is configured.
type MemoryConfigRepository struct {
	mu      sync.RWMutex
	configs map[string]ChannelConfig
}

func NewMemoryConfigRepository() *MemoryConfigRepository {
	return &MemoryConfigRepository{configs: make(map[string]ChannelConfig)}
}

func (r *MemoryConfigRepository) GetChannelConfig(_ context.Context, channelID string) (*ChannelConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cc, ok := r.configs[channelID]
	if !ok {
		return nil, pkgerrors.ErrNotFound.WithDetail("channel_id", channelID)
	}
	return &cc, nil
}

func (r *MemoryConfigRepository) ListChannelConfigs(context.Context) ([]ChannelConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ChannelConfig, 0, len(r.configs))
	for _, cc := range r.configs {
		out = append(out, cc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out, nil
}

func (r *MemoryConfigRepository) UpsertChannelConfig(_ context.Context, channelID string, cfg config.ChannelBatchConfig) (*ChannelConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cc := ChannelConfig{ChannelID: channelID, Config: cfg, UpdatedAt: time.Now()}
	r.configs[channelID] = cc
	return &cc, nil
}

func (r *MemoryConfigRepository) DeleteChannelConfig(_ context.Context, channelID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.configs[channelID]; !ok {
		return pkgerrors.ErrNotFound.WithDetail("channel_id", channelID)
	}
	delete(r.configs, channelID)
	return nil
}

// LoadChannelConfigs applies every persisted override to the engine.
// Invalid rows are skipped and counted in the returned error.
func (e *Engine) LoadChannelConfigs(ctx context.Context, repo ConfigRepository) error {
	configs, err := repo.ListChannelConfigs(ctx)
	if err != nil {
		return err
	}
	var failed int
	for _, cc := range configs {
		if err := e.UpdateBatchConfig(cc.ChannelID, cc.Config); err != nil {
			failed++
			e.logger.Warnw("Skipping invalid channel batch config",
				"channel_id", cc.ChannelID,
				"error", err,
			)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d channel batch configs could not be applied", failed)
	}
	return nil
}
