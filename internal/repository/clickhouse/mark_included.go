package clickhouse

import (
	"context"
	"fmt"
	"time"
)

// MarkIncludedInRoot back-fills included_in_root once a root incorporating
// the serials has been anchored.
func (r *Repository) MarkIncludedInRoot(ctx context.Context, serialIDs []string) error {
	start := time.Now()
	var err error
	defer func() {
		r.metrics.Observe("mark_included_in_root", err, start)
	}()

	if len(serialIDs) == 0 {
		return nil
	}

	const query = `
ALTER TABLE reserve_serials
UPDATE included_in_root = 1
WHERE serial_id IN ?`

	if err = r.conn.Exec(ctx, query, serialIDs); err != nil {
		return fmt.Errorf("mark serials included in root: %w", err)
	}
	return nil
}
