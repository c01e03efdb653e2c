package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"

	"github.com/w3b-protocol/reserve-backend/internal/anchor"
	"github.com/w3b-protocol/reserve-backend/internal/ledger"
	"github.com/w3b-protocol/reserve-backend/internal/merkle"
	"github.com/w3b-protocol/reserve-backend/internal/metrics"
	"github.com/w3b-protocol/reserve-backend/internal/prover"
	"github.com/w3b-protocol/reserve-backend/internal/repository/clickhouse"
)

var config struct {
	ClickhouseDSN string        `long:"clickhouse-dsn" env:"RESERVE_PROVER_CLICKHOUSE_DSN" description:"clickhouse dsn" default:"clickhouse://localhost:9000/default"`
	LedgerRPCURL  string        `long:"ledger-rpc-url" env:"RESERVE_PROVER_LEDGER_RPC_URL" description:"ledger operator gateway url"`
	WorkDir       string        `long:"work-dir" env:"RESERVE_PROVER_WORK_DIR" description:"proof artifact dir" default:"proof-runs"`
	BatchCapacity int           `long:"batch-capacity" env:"RESERVE_PROVER_BATCH_CAPACITY" description:"circuit leaf capacity" default:"20"`
	RunTimeout    time.Duration `long:"run-timeout" env:"RESERVE_PROVER_RUN_TIMEOUT" description:"deadline for one full run" default:"30m"`
	SkipSubmit    bool          `long:"skip-submit" env:"RESERVE_PROVER_SKIP_SUBMIT" description:"prove only, do not anchor"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic("can't initialize zap logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync()
	}()
	if _, err := flags.ParseArgs(&config, os.Args); err != nil {
		logger.Fatal("Failed to parse arguments", zap.Error(err))
	}
	if config.BatchCapacity <= 0 {
		config.BatchCapacity = merkle.DefaultBatchCapacity
	}

	repo, err := clickhouse.NewRepository(config.ClickhouseDSN, metrics.NewRepository())
	if err != nil {
		logger.Fatal("Failed to connect to clickhouse", zap.Error(err))
	}

	logger.Info("Compiling batch circuit", zap.Int("capacity", config.BatchCapacity))
	toolchain, err := prover.NewGnarkToolchain(config.BatchCapacity)
	if err != nil {
		logger.Fatal("Failed to set up proving toolchain", zap.Error(err))
	}
	orchestrator := prover.NewOrchestrator(toolchain, metrics.NewProver(), logger, config.BatchCapacity, config.WorkDir)

	ledgerService := ledger.NewService(repo, logger)
	snapshot, err := ledgerService.Snapshot(ctx)
	if err != nil {
		logger.Fatal("Failed to take ledger snapshot", zap.Error(err))
	}
	if snapshot.TotalSerials == 0 {
		logger.Info("Ledger is empty, nothing to prove")
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, config.RunTimeout)
	defer cancel()

	result, err := orchestrator.Run(runCtx, snapshot)
	if err != nil {
		logger.Fatal("Proving run failed", zap.Error(err))
	}
	logger.Info("Proving run complete",
		zap.String("run_id", result.RunID),
		zap.String("root", result.LedgerRoot.Hex()),
		zap.Uint64("total_serials", result.TotalSerials),
		zap.Int("batches", len(result.Artifacts)))

	if config.SkipSubmit {
		return
	}

	rpcClient, err := anchor.NewRPCClient(anchor.DefaultRPCClientConfig(config.LedgerRPCURL), metrics.NewAnchor(), logger)
	if err != nil {
		logger.Fatal("Failed to build ledger rpc client", zap.Error(err))
	}
	submitter := anchor.NewSubmitter(rpcClient, repo, logger)

	submitResult, err := submitter.SubmitRun(runCtx, result)
	if err != nil {
		logger.Fatal("Anchor submission failed", zap.Error(err))
	}
	if submitResult.AlreadyAnchored {
		logger.Info("Root was already anchored", zap.String("root", submitResult.RootHash))
		return
	}
	logger.Info("Run anchored on chain",
		zap.String("root", submitResult.RootHash),
		zap.String("root_tx_ref", submitResult.RootTxRef),
		zap.String("proof_tx_ref", submitResult.ProofTxRef))
}
