package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/w3b-protocol/reserve-backend/internal/model"
)

// InsertMerkleRoot stores one distinct root. The table replaces on root_hash,
// so the insert is idempotent per root value.
func (r *Repository) InsertMerkleRoot(ctx context.Context, root model.MerkleRoot) error {
	start := time.Now()
	var err error
	defer func() {
		r.metrics.Observe("insert_merkle_root", err, start)
	}()

	const query = `
INSERT INTO merkle_roots (
	root_hash,
	total_serials,
	status,
	tx_ref,
	anchored_at,
	created_at,
	updated_at
) VALUES`

	batch, err := r.conn.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare merkle root batch: %w", err)
	}

	if err = batch.Append(
		root.RootHash,
		root.TotalSerials,
		string(root.Status),
		root.TxRef,
		root.AnchoredAt,
		root.CreatedAt,
		time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("append merkle root: %w", err)
	}

	if err = batch.Send(); err != nil {
		return fmt.Errorf("insert merkle root: %w", err)
	}
	return nil
}

// MerkleRootByHash returns the stored record for a root value, if any.
func (r *Repository) MerkleRootByHash(ctx context.Context, rootHash string) (model.MerkleRoot, bool, error) {
	start := time.Now()
	var err error
	defer func() {
		r.metrics.Observe("merkle_root_by_hash", err, start)
	}()

	const query = `
SELECT root_hash, total_serials, status, tx_ref, anchored_at, created_at
FROM merkle_roots FINAL
WHERE root_hash = ?`

	root, found, err := r.scanOneRoot(ctx, query, rootHash)
	return root, found, err
}

// LatestMerkleRoot returns the most recently created root record.
func (r *Repository) LatestMerkleRoot(ctx context.Context) (model.MerkleRoot, bool, error) {
	start := time.Now()
	var err error
	defer func() {
		r.metrics.Observe("latest_merkle_root", err, start)
	}()

	const query = `
SELECT root_hash, total_serials, status, tx_ref, anchored_at, created_at
FROM merkle_roots FINAL
ORDER BY created_at DESC
LIMIT 1`

	root, found, err := r.scanOneRoot(ctx, query)
	return root, found, err
}

// RecentMerkleRoots returns up to limit root records, newest first.
func (r *Repository) RecentMerkleRoots(ctx context.Context, limit int) ([]model.MerkleRoot, error) {
	start := time.Now()
	var err error
	defer func() {
		r.metrics.Observe("recent_merkle_roots", err, start)
	}()

	const query = `
SELECT root_hash, total_serials, status, tx_ref, anchored_at, created_at
FROM merkle_roots FINAL
ORDER BY created_at DESC
LIMIT ?`

	rows, err := r.conn.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent merkle roots: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close rows: %w", cerr)
		}
	}()

	var roots []model.MerkleRoot
	for rows.Next() {
		var (
			root   model.MerkleRoot
			status string
		)
		if err = rows.Scan(
			&root.RootHash,
			&root.TotalSerials,
			&status,
			&root.TxRef,
			&root.AnchoredAt,
			&root.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan merkle root: %w", err)
		}
		root.Status = model.RootStatus(status)
		roots = append(roots, root)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate merkle roots: %w", err)
	}

	return roots, nil
}

// MarkRootAnchored records a successful on-chain submission for a root.
func (r *Repository) MarkRootAnchored(ctx context.Context, root model.MerkleRoot) error {
	start := time.Now()
	var err error
	defer func() {
		r.metrics.Observe("mark_root_anchored", err, start)
	}()

	root.Status = model.RootAnchored
	if err = r.InsertMerkleRoot(ctx, root); err != nil {
		return fmt.Errorf("mark root anchored: %w", err)
	}
	return nil
}

func (r *Repository) scanOneRoot(ctx context.Context, query string, args ...any) (model.MerkleRoot, bool, error) {
	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return model.MerkleRoot{}, false, fmt.Errorf("query merkle root: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return model.MerkleRoot{}, false, fmt.Errorf("iterate merkle root: %w", err)
		}
		return model.MerkleRoot{}, false, nil
	}

	var (
		root   model.MerkleRoot
		status string
	)
	if err := rows.Scan(
		&root.RootHash,
		&root.TotalSerials,
		&status,
		&root.TxRef,
		&root.AnchoredAt,
		&root.CreatedAt,
	); err != nil {
		return model.MerkleRoot{}, false, fmt.Errorf("scan merkle root: %w", err)
	}
	root.Status = model.RootStatus(status)

	return root, true, nil
}
