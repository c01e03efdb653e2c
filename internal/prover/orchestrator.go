package prover

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/w3b-protocol/reserve-backend/internal/ledger"
	"github.com/w3b-protocol/reserve-backend/internal/merkle"
	"github.com/w3b-protocol/reserve-backend/internal/model"
)

type (
	Metrics interface {
		ObserveStage(stage string, err error, started time.Time)
		ObserveRun(batches int, err error)
	}
)

// Artifact is one batch's accepted proof, ready for submission.
type Artifact struct {
	BatchNumber   int
	ProofFile     string
	VerifyingKey  string
	PublicInputs  string
	ExtractedRoot merkle.Root
}

// ProofManifestEntry references one batch's artifact files and its extracted
// root commitment.
type ProofManifestEntry struct {
	BatchNumber   int    `json:"batchNumber"`
	ProofFile     string `json:"proofFile"`
	VerifyingKey  string `json:"verifyingKeyFile"`
	PublicInputs  string `json:"publicInputsFile"`
	ExtractedRoot string `json:"extractedRoot"`
}

// ProofManifest enumerates every batch of a completed run.
type ProofManifest struct {
	RunID       string               `json:"runId"`
	GeneratedAt time.Time            `json:"generatedAt"`
	SnapshotAt  time.Time            `json:"snapshotAt"`
	LedgerRoot  string               `json:"ledgerRoot"`
	Batches     []ProofManifestEntry `json:"batches"`
}

// RunResult is the output of one complete proving run. ProofHash digests
// every accepted proof blob in batch order and is what goes on chain.
type RunResult struct {
	RunID         string
	RunDir        string
	LedgerRoot    merkle.Root
	TotalSerials  uint64
	SerialIDs     []string
	ProofHash     []byte
	Artifacts     []Artifact
	BatchManifest merkle.BatchManifest
	ProofManifest ProofManifest
}

// Orchestrator partitions a ledger snapshot and drives the toolchain over
// every batch, strictly sequentially. The run is all-or-nothing: the first
// stage failure aborts it and removes anything staged on disk.
type Orchestrator struct {
	toolchain Toolchain
	metrics   Metrics
	logger    *zap.Logger
	capacity  int
	workDir   string
	now       func() time.Time
}

// NewOrchestrator builds a proof orchestrator writing artifacts under workDir.
func NewOrchestrator(toolchain Toolchain, metrics Metrics, logger *zap.Logger, capacity int, workDir string) *Orchestrator {
	return &Orchestrator{
		toolchain: toolchain,
		metrics:   metrics,
		logger:    logger,
		capacity:  capacity,
		workDir:   workDir,
		now:       time.Now,
	}
}

// Run proves every batch of the snapshot. Batches run in order; proving is
// resource-exclusive, so there is no parallelism. A caller-level context
// deadline bounds the whole run.
func (o *Orchestrator) Run(ctx context.Context, snapshot ledger.Snapshot) (result *RunResult, err error) {
	defer func() {
		o.metrics.ObserveRun(len(snapshotBatches(result)), err)
	}()

	batches, err := merkle.Partition(snapshot.Records, o.capacity)
	if err != nil {
		return nil, fmt.Errorf("partition snapshot: %w", err)
	}

	runID := uuid.NewString()
	runDir := filepath.Join(o.workDir, runID)
	if err = os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	defer func() {
		if err != nil {
			// No partial results survive a failed run.
			if rmErr := os.RemoveAll(runDir); rmErr != nil {
				o.logger.Warn("failed to clean up aborted run dir",
					zap.String("run_dir", runDir), zap.Error(rmErr))
			}
		}
	}()

	batchManifest := merkle.NewBatchManifest(runID, o.now().UTC(), o.capacity, batches)
	for i, batch := range batches {
		inputFile, stageErr := o.stageInputs(runDir, batch)
		if stageErr != nil {
			err = stageErr
			return nil, err
		}
		batchManifest.Batches[i].InputFile = inputFile
	}

	proofManifest := ProofManifest{
		RunID:      runID,
		SnapshotAt: snapshot.TakenAt,
		LedgerRoot: snapshot.Root.Hex(),
	}

	proofDigest := sha256.New()
	artifacts := make([]Artifact, 0, len(batches))
	for _, batch := range batches {
		var artifact Artifact
		var proofBlob []byte
		artifact, proofBlob, err = o.proveBatch(ctx, runDir, batch)
		if err != nil {
			return nil, err
		}
		proofDigest.Write(proofBlob)
		artifacts = append(artifacts, artifact)
		proofManifest.Batches = append(proofManifest.Batches, ProofManifestEntry{
			BatchNumber:   artifact.BatchNumber,
			ProofFile:     artifact.ProofFile,
			VerifyingKey:  artifact.VerifyingKey,
			PublicInputs:  artifact.PublicInputs,
			ExtractedRoot: artifact.ExtractedRoot.Hex(),
		})

		o.logger.Info("batch proven",
			zap.String("run_id", runID),
			zap.Int("batch", batch.Number),
			zap.Int("active_count", batch.ActiveCount),
			zap.String("extracted_root", artifact.ExtractedRoot.Hex()))
	}

	proofManifest.GeneratedAt = o.now().UTC()
	if err = writeJSON(filepath.Join(runDir, "batch_manifest.json"), batchManifest); err != nil {
		return nil, err
	}
	if err = writeJSON(filepath.Join(runDir, "proof_manifest.json"), proofManifest); err != nil {
		return nil, err
	}

	serialIDs := make([]string, 0, len(snapshot.Records))
	for _, rec := range snapshot.Records {
		serialIDs = append(serialIDs, rec.SerialID)
	}

	return &RunResult{
		RunID:         runID,
		RunDir:        runDir,
		LedgerRoot:    snapshot.Root,
		TotalSerials:  snapshot.TotalSerials,
		SerialIDs:     serialIDs,
		ProofHash:     proofDigest.Sum(nil),
		Artifacts:     artifacts,
		BatchManifest: batchManifest,
		ProofManifest: proofManifest,
	}, nil
}

// proveBatch runs the three toolchain stages for one batch, fail-fast.
func (o *Orchestrator) proveBatch(ctx context.Context, runDir string, batch merkle.Batch) (Artifact, []byte, error) {
	started := time.Now()
	w, err := o.toolchain.GenerateWitness(ctx, batch)
	o.metrics.ObserveStage("witness", err, started)
	if err != nil {
		return Artifact{}, nil, &model.ExternalToolFailure{Stage: "witness", BatchNumber: batch.Number, Err: err}
	}

	started = time.Now()
	proof, err := o.toolchain.Prove(ctx, w)
	o.metrics.ObserveStage("prove", err, started)
	if err != nil {
		return Artifact{}, nil, &model.ExternalToolFailure{Stage: "prove", BatchNumber: batch.Number, Err: err}
	}

	started = time.Now()
	err = o.toolchain.Verify(ctx, proof)
	o.metrics.ObserveStage("verify", err, started)
	if err != nil {
		return Artifact{}, nil, &model.ExternalToolFailure{Stage: "verify", BatchNumber: batch.Number, Err: err}
	}

	batchDir := filepath.Join(runDir, fmt.Sprintf("batch_%03d", batch.Number))
	if err := os.MkdirAll(batchDir, 0o755); err != nil {
		return Artifact{}, nil, fmt.Errorf("create batch dir: %w", err)
	}

	artifact := Artifact{
		BatchNumber:   batch.Number,
		ProofFile:     filepath.Join(batchDir, "proof.bin"),
		VerifyingKey:  filepath.Join(batchDir, "verifying_key.bin"),
		PublicInputs:  filepath.Join(batchDir, "public_inputs.bin"),
		ExtractedRoot: proof.ExtractedRoot,
	}
	for _, f := range []struct {
		path string
		data []byte
	}{
		{artifact.ProofFile, proof.ProofBlob},
		{artifact.VerifyingKey, proof.VerifyingKey},
		{artifact.PublicInputs, proof.PublicInputs},
	} {
		if err := os.WriteFile(f.path, f.data, 0o644); err != nil {
			return Artifact{}, nil, fmt.Errorf("write %s: %w", f.path, err)
		}
	}

	return artifact, proof.ProofBlob, nil
}

// stageInputs writes one batch's leaves in the toolchain input format.
func (o *Orchestrator) stageInputs(runDir string, batch merkle.Batch) (string, error) {
	batchDir := filepath.Join(runDir, fmt.Sprintf("batch_%03d", batch.Number))
	if err := os.MkdirAll(batchDir, 0o755); err != nil {
		return "", fmt.Errorf("create batch dir: %w", err)
	}

	leaves := make([]string, 0, len(batch.Leaves))
	for _, leaf := range batch.Leaves {
		leaves = append(leaves, leaf.Hex())
	}
	input := struct {
		BatchNumber int      `json:"batchNumber"`
		ActiveCount int      `json:"activeCount"`
		Leaves      []string `json:"leaves"`
	}{
		BatchNumber: batch.Number,
		ActiveCount: batch.ActiveCount,
		Leaves:      leaves,
	}

	path := filepath.Join(batchDir, "input.json")
	if err := writeJSON(path, input); err != nil {
		return "", err
	}
	return path, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func snapshotBatches(result *RunResult) []Artifact {
	if result == nil {
		return nil
	}
	return result.Artifacts
}
