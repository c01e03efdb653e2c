// Package ledger owns the serial set and its canonical merkle commitment.
package ledger

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/w3b-protocol/reserve-backend/internal/merkle"
	"github.com/w3b-protocol/reserve-backend/internal/model"
	"github.com/w3b-protocol/reserve-backend/pkg/parallel"
)

type (
	Repository interface {
		InsertSerials(ctx context.Context, serials []model.SerialRecord) error
		ExistingSerials(ctx context.Context, serialIDs []string) (map[string]string, error)
		SerialsByLeafHash(ctx context.Context, leafHashes []string) (map[string]string, error)
		SerialLeaves(ctx context.Context) ([]model.SerialRecord, error)
		InsertMerkleRoot(ctx context.Context, root model.MerkleRoot) error
		MerkleRootByHash(ctx context.Context, rootHash string) (model.MerkleRoot, bool, error)
	}
)

// IngestResult reports what one ingestion call changed.
type IngestResult struct {
	BatchID         string
	SerialsIngested int
	NewMerkleRoot   string
	TotalSerials    uint64
}

// Snapshot is an immutable view of the deduplicated leaf set, taken at the
// start of a proving run. Concurrent ingestion never mutates it.
type Snapshot struct {
	TakenAt      time.Time
	Records      []merkle.SerialLeaf
	Root         merkle.Root
	TotalSerials uint64
}

// Service serializes ingestion and root recomputation. The mutex makes
// ingest + rebuild a single critical section: a recomputation never observes
// a partially inserted batch.
type Service struct {
	repo        Repository
	logger      *zap.Logger
	hashWorkers int
	now         func() time.Time

	mu sync.Mutex
}

// NewService builds the ledger service.
func NewService(repo Repository, logger *zap.Logger) *Service {
	return &Service{
		repo:        repo,
		logger:      logger,
		hashWorkers: runtime.GOMAXPROCS(0),
		now:         time.Now,
	}
}

// Ingest validates and stores a batch of serial identifiers, then rebuilds
// the commitment over the entire leaf set. Duplicate serials are skipped
// silently; a leaf hash collision between distinct serials aborts the call.
func (s *Service) Ingest(ctx context.Context, batchID string, serials []string) (IngestResult, error) {
	if strings.TrimSpace(batchID) == "" {
		return IngestResult{}, &model.ValidationError{Field: "batchId", Reason: "must not be empty"}
	}
	if len(serials) == 0 {
		return IngestResult{}, &model.ValidationError{Field: "serials", Reason: "must contain at least one serial"}
	}
	for i, serial := range serials {
		if strings.TrimSpace(serial) == "" {
			return IngestResult{}, &model.ValidationError{Field: "serials", Reason: fmt.Sprintf("serial at index %d is blank", i)}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	unique := dedupe(serials)
	leaves := make([]merkle.Leaf, len(unique))
	if err := parallel.ForEach(ctx, s.hashWorkers, unique, func(_ context.Context, i int, serial string) error {
		leaves[i] = merkle.LeafHash(serial)
		return nil
	}); err != nil {
		return IngestResult{}, fmt.Errorf("hash serials: %w", err)
	}

	byLeaf := make(map[merkle.Leaf]string, len(unique))
	for i, serial := range unique {
		if other, ok := byLeaf[leaves[i]]; ok {
			return IngestResult{}, &model.HashCollisionError{
				SerialID: serial,
				Existing: other,
				LeafHash: leaves[i].Hex(),
			}
		}
		byLeaf[leaves[i]] = serial
	}

	existing, err := s.repo.ExistingSerials(ctx, unique)
	if err != nil {
		return IngestResult{}, fmt.Errorf("look up existing serials: %w", err)
	}

	var (
		records    []model.SerialRecord
		leafHashes []string
	)
	createdAt := s.now().UTC()
	for i, serial := range unique {
		if _, ok := existing[serial]; ok {
			continue
		}
		records = append(records, model.SerialRecord{
			SerialID:  serial,
			BatchID:   batchID,
			LeafHash:  leaves[i].Hex(),
			CreatedAt: createdAt,
		})
		leafHashes = append(leafHashes, leaves[i].Hex())
	}

	owners, err := s.repo.SerialsByLeafHash(ctx, leafHashes)
	if err != nil {
		return IngestResult{}, fmt.Errorf("look up leaf hash owners: %w", err)
	}
	for _, rec := range records {
		if owner, ok := owners[rec.LeafHash]; ok && owner != rec.SerialID {
			return IngestResult{}, &model.HashCollisionError{
				SerialID: rec.SerialID,
				Existing: owner,
				LeafHash: rec.LeafHash,
			}
		}
	}

	if err := s.repo.InsertSerials(ctx, records); err != nil {
		return IngestResult{}, fmt.Errorf("insert serials: %w", err)
	}

	root, total, err := s.rebuildRoot(ctx)
	if err != nil {
		return IngestResult{}, err
	}

	s.logger.Info("ingested serial batch",
		zap.String("batch_id", batchID),
		zap.Int("serials_ingested", len(records)),
		zap.Int("duplicates_skipped", len(serials)-len(records)),
		zap.Uint64("total_serials", total),
		zap.String("merkle_root", root.Hex()))

	return IngestResult{
		BatchID:         batchID,
		SerialsIngested: len(records),
		NewMerkleRoot:   root.Hex(),
		TotalSerials:    total,
	}, nil
}

// Snapshot returns an immutable view of the current leaf set for a proving
// run, with its from-scratch root.
func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.repo.SerialLeaves(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load serial leaves: %w", err)
	}

	records := make([]merkle.SerialLeaf, 0, len(stored))
	leaves := make([]merkle.Leaf, 0, len(stored))
	for _, rec := range stored {
		leaf, err := merkle.LeafFromHex(rec.LeafHash)
		if err != nil {
			return Snapshot{}, fmt.Errorf("serial %q: %w", rec.SerialID, err)
		}
		records = append(records, merkle.SerialLeaf{SerialID: rec.SerialID, Leaf: leaf})
		leaves = append(leaves, leaf)
	}

	return Snapshot{
		TakenAt:      s.now().UTC(),
		Records:      records,
		Root:         merkle.BuildRoot(leaves),
		TotalSerials: uint64(len(records)),
	}, nil
}

// rebuildRoot recomputes the commitment over the full current leaf set and
// records the root idempotently, keyed by root hash. The full rescan per
// ingestion is deliberate: the root must always match a from-scratch rebuild.
func (s *Service) rebuildRoot(ctx context.Context) (merkle.Root, uint64, error) {
	stored, err := s.repo.SerialLeaves(ctx)
	if err != nil {
		return merkle.Root{}, 0, fmt.Errorf("load serial leaves: %w", err)
	}

	leaves := make([]merkle.Leaf, 0, len(stored))
	for _, rec := range stored {
		leaf, err := merkle.LeafFromHex(rec.LeafHash)
		if err != nil {
			return merkle.Root{}, 0, fmt.Errorf("serial %q: %w", rec.SerialID, err)
		}
		leaves = append(leaves, leaf)
	}

	root := merkle.BuildRoot(leaves)
	total := uint64(len(leaves))

	if _, found, err := s.repo.MerkleRootByHash(ctx, root.Hex()); err != nil {
		return merkle.Root{}, 0, fmt.Errorf("look up merkle root: %w", err)
	} else if !found {
		if err := s.repo.InsertMerkleRoot(ctx, model.MerkleRoot{
			RootHash:     root.Hex(),
			TotalSerials: total,
			Status:       model.RootPending,
			CreatedAt:    s.now().UTC(),
		}); err != nil {
			return merkle.Root{}, 0, fmt.Errorf("insert merkle root: %w", err)
		}
	}

	return root, total, nil
}

func dedupe(serials []string) []string {
	seen := make(map[string]struct{}, len(serials))
	unique := make([]string, 0, len(serials))
	for _, serial := range serials {
		if _, ok := seen[serial]; ok {
			continue
		}
		seen[serial] = struct{}{}
		unique = append(unique, serial)
	}
	return unique
}
