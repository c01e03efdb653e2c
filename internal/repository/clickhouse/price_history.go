package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/w3b-protocol/reserve-backend/internal/model"
)

// InsertPricePoint appends one observed reference price.
func (r *Repository) InsertPricePoint(ctx context.Context, point model.PriceHistoryPoint) error {
	start := time.Now()
	var err error
	defer func() {
		r.metrics.Observe("insert_price_point", err, start)
	}()

	const query = `
INSERT INTO price_history (price, ts) VALUES`

	batch, err := r.conn.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare price point batch: %w", err)
	}
	if err = batch.Append(point.Price, point.Timestamp); err != nil {
		return fmt.Errorf("append price point: %w", err)
	}
	if err = batch.Send(); err != nil {
		return fmt.Errorf("insert price point: %w", err)
	}
	return nil
}

// EarliestPriceSince returns the oldest history point at or after since.
// Used to compute the 24h change against the current rate.
func (r *Repository) EarliestPriceSince(ctx context.Context, since time.Time) (model.PriceHistoryPoint, bool, error) {
	start := time.Now()
	var err error
	defer func() {
		r.metrics.Observe("earliest_price_since", err, start)
	}()

	const query = `
SELECT price, ts
FROM price_history
WHERE ts >= ?
ORDER BY ts ASC
LIMIT 1`

	rows, err := r.conn.Query(ctx, query, since)
	if err != nil {
		return model.PriceHistoryPoint{}, false, fmt.Errorf("query earliest price: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	if !rows.Next() {
		if err = rows.Err(); err != nil {
			return model.PriceHistoryPoint{}, false, fmt.Errorf("iterate earliest price: %w", err)
		}
		return model.PriceHistoryPoint{}, false, nil
	}

	var point model.PriceHistoryPoint
	if err = rows.Scan(&point.Price, &point.Timestamp); err != nil {
		return model.PriceHistoryPoint{}, false, fmt.Errorf("scan earliest price: %w", err)
	}

	return point, true, nil
}

// PrunePriceHistory drops history points older than the cutoff. The table
// also carries a TTL, so this only accelerates what ClickHouse would do.
func (r *Repository) PrunePriceHistory(ctx context.Context, olderThan time.Time) error {
	start := time.Now()
	var err error
	defer func() {
		r.metrics.Observe("prune_price_history", err, start)
	}()

	const query = `
ALTER TABLE price_history
DELETE WHERE ts < ?`

	if err = r.conn.Exec(ctx, query, olderThan); err != nil {
		return fmt.Errorf("prune price history: %w", err)
	}
	return nil
}
