package anchor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/w3b-protocol/reserve-backend/internal/model"
	"github.com/w3b-protocol/reserve-backend/internal/prover"
)

// Repository is the slice of storage the submitter needs to keep the local
// root ledger in step with the chain.
type Repository interface {
	MerkleRootByHash(ctx context.Context, rootHash string) (model.MerkleRoot, bool, error)
	MarkRootAnchored(ctx context.Context, root model.MerkleRoot) error
	MarkIncludedInRoot(ctx context.Context, serialIDs []string) error
}

// SubmitResult reports what one anchor attempt did.
type SubmitResult struct {
	RootHash        string
	TotalSerials    uint64
	RootTxRef       string
	ProofTxRef      string
	AlreadyAnchored bool
}

// Submitter anchors completed proving runs on chain and keeps the protocol
// state account in the layout the program expects.
type Submitter struct {
	client LedgerClient
	repo   Repository
	logger *zap.Logger
	now    func() time.Time
}

// NewSubmitter builds an anchor submitter.
func NewSubmitter(client LedgerClient, repo Repository, logger *zap.Logger) *Submitter {
	return &Submitter{
		client: client,
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// EnsureStateLayout checks the protocol state account and migrates a V1
// account in place. Any other length blocks submission until an operator
// intervenes; guessing at an unknown layout would corrupt the account.
func (s *Submitter) EnsureStateLayout(ctx context.Context) error {
	data, err := s.client.StateAccountData(ctx)
	if err != nil {
		return fmt.Errorf("read protocol state: %w", err)
	}

	switch len(data) {
	case StateSizeV2:
		return nil
	case StateSizeV1:
	default:
		return LayoutError(len(data))
	}

	txRef, err := s.client.MigrateStateAccount(ctx)
	if err != nil {
		return fmt.Errorf("migrate protocol state: %w", err)
	}
	s.logger.Info("protocol state migrated to v2", zap.String("tx_ref", txRef))

	// Re-read to confirm the resize actually landed.
	data, err = s.client.StateAccountData(ctx)
	if err != nil {
		return fmt.Errorf("read protocol state after migration: %w", err)
	}
	if len(data) != StateSizeV2 {
		return &model.MigrationRequiredError{GotSize: len(data), WantSize: StateSizeV2}
	}
	return nil
}

// ReadState fetches and decodes the on-chain protocol state.
func (s *Submitter) ReadState(ctx context.Context) (model.ProtocolState, error) {
	data, err := s.client.StateAccountData(ctx)
	if err != nil {
		return model.ProtocolState{}, err
	}
	return DecodeState(data)
}

// SubmitRun anchors a completed proving run: the root and serial count first,
// then the proof hash against the freshly written commitment. The claimed
// reserve figure must match what the root update wrote, the program rejects
// anything else. Re-submitting an already anchored root is a no-op.
func (s *Submitter) SubmitRun(ctx context.Context, run *prover.RunResult) (SubmitResult, error) {
	rootHash := run.LedgerRoot.Hex()

	existing, found, err := s.repo.MerkleRootByHash(ctx, rootHash)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("look up root %s: %w", rootHash, err)
	}
	if found && existing.Status == model.RootAnchored {
		s.logger.Info("root already anchored, skipping submission",
			zap.String("root_hash", rootHash),
			zap.String("tx_ref", existing.TxRef))
		return SubmitResult{
			RootHash:        rootHash,
			TotalSerials:    existing.TotalSerials,
			RootTxRef:       existing.TxRef,
			AlreadyAnchored: true,
		}, nil
	}

	if err := s.EnsureStateLayout(ctx); err != nil {
		return SubmitResult{}, err
	}

	rootTxRef, err := s.client.UpdateMerkleRoot(ctx, [32]byte(run.LedgerRoot), run.TotalSerials)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("update merkle root: %w", err)
	}

	proofTxRef, err := s.client.SubmitProof(ctx, run.ProofHash, run.TotalSerials)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("submit proof: %w", err)
	}

	// A root anchored without a local row keeps its sort position: created_at
	// orders the audit history, so it must never be the zero time.
	createdAt := existing.CreatedAt
	if !found {
		createdAt = s.now().UTC()
	}
	anchored := model.MerkleRoot{
		RootHash:     rootHash,
		TotalSerials: run.TotalSerials,
		Status:       model.RootAnchored,
		TxRef:        rootTxRef,
		AnchoredAt:   s.now().UTC(),
		CreatedAt:    createdAt,
	}
	if err := s.repo.MarkRootAnchored(ctx, anchored); err != nil {
		return SubmitResult{}, fmt.Errorf("mark root anchored: %w", err)
	}
	if err := s.repo.MarkIncludedInRoot(ctx, run.SerialIDs); err != nil {
		return SubmitResult{}, fmt.Errorf("mark serials included: %w", err)
	}

	s.logger.Info("run anchored",
		zap.String("run_id", run.RunID),
		zap.String("root_hash", rootHash),
		zap.Uint64("total_serials", run.TotalSerials),
		zap.String("root_tx_ref", rootTxRef),
		zap.String("proof_tx_ref", proofTxRef))

	return SubmitResult{
		RootHash:     rootHash,
		TotalSerials: run.TotalSerials,
		RootTxRef:    rootTxRef,
		ProofTxRef:   proofTxRef,
	}, nil
}

// SyncPrice pushes a new unit price on chain. A missing state account means
// there is nothing to sync yet.
func (s *Submitter) SyncPrice(ctx context.Context, priceLamports uint64) (string, error) {
	txRef, err := s.client.SetPrice(ctx, priceLamports)
	if err != nil {
		if errors.Is(err, model.ErrStateNotFound) {
			return "", err
		}
		return "", fmt.Errorf("set price: %w", err)
	}
	return txRef, nil
}
