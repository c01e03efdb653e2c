package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/w3b-protocol/reserve-backend/internal/model"
)

// SerialLeaves returns the full deduplicated serial set ordered by leaf hash.
func (r *Repository) SerialLeaves(ctx context.Context) ([]model.SerialRecord, error) {
	start := time.Now()
	var err error
	defer func() {
		r.metrics.Observe("serial_leaves", err, start)
	}()

	const query = `
SELECT
	serial_id,
	batch_id,
	leaf_hash,
	included_in_root,
	created_at
FROM reserve_serials FINAL
ORDER BY leaf_hash ASC`

	rows, err := r.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query serial leaves: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close rows: %w", cerr)
		}
	}()

	var records []model.SerialRecord
	for rows.Next() {
		var (
			rec      model.SerialRecord
			included uint8
		)
		if err = rows.Scan(
			&rec.SerialID,
			&rec.BatchID,
			&rec.LeafHash,
			&included,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan serial record: %w", err)
		}
		rec.IncludedInRoot = included == 1
		records = append(records, rec)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate serial leaves: %w", err)
	}

	return records, nil
}

// ExistingSerials returns which of the given serial identifiers are already
// stored, mapped to their leaf hashes.
func (r *Repository) ExistingSerials(ctx context.Context, serialIDs []string) (map[string]string, error) {
	start := time.Now()
	var err error
	defer func() {
		r.metrics.Observe("existing_serials", err, start)
	}()

	result := make(map[string]string, len(serialIDs))
	if len(serialIDs) == 0 {
		return result, nil
	}

	const query = `
SELECT serial_id, leaf_hash
FROM reserve_serials FINAL
WHERE serial_id IN ?`

	rows, err := r.conn.Query(ctx, query, serialIDs)
	if err != nil {
		return nil, fmt.Errorf("query existing serials: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close rows: %w", cerr)
		}
	}()

	for rows.Next() {
		var serialID, leafHash string
		if err = rows.Scan(&serialID, &leafHash); err != nil {
			return nil, fmt.Errorf("scan existing serial: %w", err)
		}
		result[serialID] = leafHash
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate existing serials: %w", err)
	}

	return result, nil
}

// SerialsByLeafHash returns stored serials owning any of the given leaf
// hashes. Used to detect hash collisions before ingesting new serials.
func (r *Repository) SerialsByLeafHash(ctx context.Context, leafHashes []string) (map[string]string, error) {
	start := time.Now()
	var err error
	defer func() {
		r.metrics.Observe("serials_by_leaf_hash", err, start)
	}()

	result := make(map[string]string, len(leafHashes))
	if len(leafHashes) == 0 {
		return result, nil
	}

	const query = `
SELECT leaf_hash, serial_id
FROM reserve_serials FINAL
WHERE leaf_hash IN ?`

	rows, err := r.conn.Query(ctx, query, leafHashes)
	if err != nil {
		return nil, fmt.Errorf("query serials by leaf hash: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close rows: %w", cerr)
		}
	}()

	for rows.Next() {
		var leafHash, serialID string
		if err = rows.Scan(&leafHash, &serialID); err != nil {
			return nil, fmt.Errorf("scan serial by leaf hash: %w", err)
		}
		result[leafHash] = serialID
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate serials by leaf hash: %w", err)
	}

	return result, nil
}

// CountSerials returns the deduplicated serial count.
func (r *Repository) CountSerials(ctx context.Context) (uint64, error) {
	start := time.Now()
	var err error
	defer func() {
		r.metrics.Observe("count_serials", err, start)
	}()

	const query = `SELECT count() FROM reserve_serials FINAL`

	rows, err := r.conn.Query(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("query serial count: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close rows: %w", cerr)
		}
	}()

	var count uint64
	if !rows.Next() {
		return 0, fmt.Errorf("serial count not found")
	}
	if err = rows.Scan(&count); err != nil {
		return 0, fmt.Errorf("scan serial count: %w", err)
	}
	if err = rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate serial count: %w", err)
	}

	return count, nil
}
