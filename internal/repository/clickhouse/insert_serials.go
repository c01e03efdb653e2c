package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/w3b-protocol/reserve-backend/internal/model"
)

// InsertSerials stores serial records. The table replaces on serial_id, so
// re-inserting an existing serial is harmless.
func (r *Repository) InsertSerials(ctx context.Context, serials []model.SerialRecord) error {
	start := time.Now()
	var err error
	defer func() {
		r.metrics.Observe("insert_serials", err, start)
	}()

	if len(serials) == 0 {
		return nil
	}

	const query = `
INSERT INTO reserve_serials (
	serial_id,
	batch_id,
	leaf_hash,
	included_in_root,
	created_at
) VALUES`

	batch, err := r.conn.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare serials batch: %w", err)
	}

	for _, s := range serials {
		if err = batch.Append(
			s.SerialID,
			s.BatchID,
			s.LeafHash,
			boolToUInt8(s.IncludedInRoot),
			s.CreatedAt,
		); err != nil {
			return fmt.Errorf("append serial: %w", err)
		}
	}

	if err = batch.Send(); err != nil {
		return fmt.Errorf("insert serials: %w", err)
	}
	return nil
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
