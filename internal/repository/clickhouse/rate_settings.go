package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/w3b-protocol/reserve-backend/internal/model"
)

// RateSetting returns the cached reference rate row, if present.
func (r *Repository) RateSetting(ctx context.Context, id string) (model.RateSetting, bool, error) {
	start := time.Now()
	var err error
	defer func() {
		r.metrics.Observe("rate_setting", err, start)
	}()

	const query = `
SELECT id, rate, updated_at
FROM rate_settings FINAL
WHERE id = ?`

	rows, err := r.conn.Query(ctx, query, id)
	if err != nil {
		return model.RateSetting{}, false, fmt.Errorf("query rate setting: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	if !rows.Next() {
		if err = rows.Err(); err != nil {
			return model.RateSetting{}, false, fmt.Errorf("iterate rate setting: %w", err)
		}
		return model.RateSetting{}, false, nil
	}

	var setting model.RateSetting
	if err = rows.Scan(&setting.ID, &setting.Rate, &setting.UpdatedAt); err != nil {
		return model.RateSetting{}, false, fmt.Errorf("scan rate setting: %w", err)
	}

	return setting, true, nil
}

// UpsertRateSetting replaces the cached reference rate row.
func (r *Repository) UpsertRateSetting(ctx context.Context, setting model.RateSetting) error {
	start := time.Now()
	var err error
	defer func() {
		r.metrics.Observe("upsert_rate_setting", err, start)
	}()

	const query = `
INSERT INTO rate_settings (id, rate, updated_at) VALUES`

	batch, err := r.conn.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare rate setting batch: %w", err)
	}
	if err = batch.Append(setting.ID, setting.Rate, setting.UpdatedAt); err != nil {
		return fmt.Errorf("append rate setting: %w", err)
	}
	if err = batch.Send(); err != nil {
		return fmt.Errorf("upsert rate setting: %w", err)
	}
	return nil
}
