package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/w3b-protocol/reserve-backend/internal/anchor"
	"github.com/w3b-protocol/reserve-backend/internal/ledger"
	"github.com/w3b-protocol/reserve-backend/internal/metrics"
	"github.com/w3b-protocol/reserve-backend/internal/rate"
	"github.com/w3b-protocol/reserve-backend/internal/repository/clickhouse"
	"github.com/w3b-protocol/reserve-backend/internal/transport"
)

var config struct {
	Addr          string        `long:"addr" env:"RESERVE_API_ADDR" description:"http listen addr" default:":8000"`
	ClickhouseDSN string        `long:"clickhouse-dsn" env:"RESERVE_API_CLICKHOUSE_DSN" description:"clickhouse dsn" default:"clickhouse://localhost:9000/default"`
	LedgerRPCURL  string        `long:"ledger-rpc-url" env:"RESERVE_API_LEDGER_RPC_URL" description:"ledger operator gateway url"`
	RateSourceURL string        `long:"rate-source-url" env:"RESERVE_API_RATE_SOURCE_URL" description:"external price endpoint"`
	RateTimeout   time.Duration `long:"rate-timeout" env:"RESERVE_API_RATE_TIMEOUT" description:"price endpoint timeout" default:"10s"`
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

	repo, err := clickhouse.NewRepository(config.ClickhouseDSN, metrics.NewRepository())
	if err != nil {
		logger.Fatal("Failed to connect to clickhouse", zap.Error(err))
	}

	rpcClient, err := anchor.NewRPCClient(anchor.DefaultRPCClientConfig(config.LedgerRPCURL), metrics.NewAnchor(), logger)
	if err != nil {
		logger.Fatal("Failed to build ledger rpc client", zap.Error(err))
	}
	submitter := anchor.NewSubmitter(rpcClient, repo, logger)

	ledgerService := ledger.NewService(repo, logger)
	rateCache := rate.NewCache(
		rate.NewHTTPSource(config.RateSourceURL, config.RateTimeout),
		repo, submitter, metrics.NewRate(), logger)

	mux := http.NewServeMux()
	transport.NewReserveHandler(ledgerService, submitter, repo, rateCache, logger).Register(mux)
	mux.Handle("/metrics", promhttp.Handler())

	s := &http.Server{
		Addr:              config.Addr,
		Handler:           cors.Default().Handler(mux),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    http.DefaultMaxHeaderBytes,
	}
	go func() {
		<-ctx.Done()
		logger.Info("Shutting down the http server")
		if err := s.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown http server", zap.Error(err))
		}
	}()

	logger.Info("Starting HTTP server", zap.String("addr", config.Addr))
	if err := s.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Failed to listen and serve", zap.Error(err))
	}
}
