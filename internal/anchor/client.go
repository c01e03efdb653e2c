package anchor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/ratelimit"
	"go.uber.org/zap"

	"github.com/w3b-protocol/reserve-backend/internal/clock"
	"github.com/w3b-protocol/reserve-backend/internal/model"
)

type (
	Metrics interface {
		Observe(method string, err error, started time.Time)
	}

	// LedgerClient is the operator gateway to the on-chain program. Write
	// methods return the transaction reference of the submitted instruction.
	LedgerClient interface {
		StateAccountData(ctx context.Context) ([]byte, error)
		MigrateStateAccount(ctx context.Context) (string, error)
		UpdateMerkleRoot(ctx context.Context, root [32]byte, totalSerials uint64) (string, error)
		SubmitProof(ctx context.Context, proofHash []byte, claimedReserves uint64) (string, error)
		SetPrice(ctx context.Context, priceLamports uint64) (string, error)
	}
)

// RPCClientConfig tunes timeouts and the retry budget of the RPC client.
type RPCClientConfig struct {
	Endpoint       string
	RequestTimeout time.Duration
	MaxAttempts    int
	Backoff        time.Duration
	RequestsPerSec int
}

// DefaultRPCClientConfig returns sane defaults for the operator gateway.
func DefaultRPCClientConfig(endpoint string) RPCClientConfig {
	return RPCClientConfig{
		Endpoint:       endpoint,
		RequestTimeout: 10 * time.Second,
		MaxAttempts:    3,
		Backoff:        500 * time.Millisecond,
		RequestsPerSec: 10,
	}
}

// RPCClient talks JSON-RPC to the operator gateway in front of the ledger.
// Transport failures are retried with backoff inside the per-call budget;
// errors returned by the program itself are surfaced immediately.
type RPCClient struct {
	cfg     RPCClientConfig
	http    *http.Client
	limiter ratelimit.Limiter
	metrics Metrics
	logger  *zap.Logger
	sleep   func(context.Context, time.Duration) error
}

// NewRPCClient builds a ledger RPC client.
func NewRPCClient(cfg RPCClientConfig, metrics Metrics, logger *zap.Logger) (*RPCClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("ledger rpc endpoint is required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = 10
	}

	return &RPCClient{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		limiter: ratelimit.New(cfg.RequestsPerSec),
		metrics: metrics,
		logger:  logger,
		sleep:   clock.SleepWithContext,
	}, nil
}

// StateAccountData returns the raw protocol state account bytes.
func (c *RPCClient) StateAccountData(ctx context.Context) ([]byte, error) {
	var result struct {
		Data string `json:"data"`
	}
	if err := c.call(ctx, "w3b_getProtocolState", nil, &result); err != nil {
		return nil, err
	}
	if result.Data == "" {
		return nil, model.ErrStateNotFound
	}

	data, err := base64.StdEncoding.DecodeString(result.Data)
	if err != nil {
		return nil, fmt.Errorf("decode protocol state account: %w", err)
	}
	return data, nil
}

// MigrateStateAccount resizes and remaps a V1 account to the V2 layout.
func (c *RPCClient) MigrateStateAccount(ctx context.Context) (string, error) {
	return c.signedCall(ctx, "w3b_migrateProtocolState", nil)
}

// UpdateMerkleRoot writes the commitment and serial count on chain.
func (c *RPCClient) UpdateMerkleRoot(ctx context.Context, root [32]byte, totalSerials uint64) (string, error) {
	params := map[string]any{
		"root":         hex.EncodeToString(root[:]),
		"totalSerials": totalSerials,
	}
	return c.signedCall(ctx, "w3b_updateMerkleRoot", params)
}

// SubmitProof records the proof hash against the current commitment.
func (c *RPCClient) SubmitProof(ctx context.Context, proofHash []byte, claimedReserves uint64) (string, error) {
	params := map[string]any{
		"proofHash":       hex.EncodeToString(proofHash),
		"claimedReserves": claimedReserves,
	}
	return c.signedCall(ctx, "w3b_submitProof", params)
}

// SetPrice updates the on-chain unit price. The program enforces its own
// swing bound; a rejection comes back as a program error, not a transport
// failure, and is not retried.
func (c *RPCClient) SetPrice(ctx context.Context, priceLamports uint64) (string, error) {
	params := map[string]any{"priceLamports": priceLamports}
	return c.signedCall(ctx, "w3b_setPrice", params)
}

func (c *RPCClient) signedCall(ctx context.Context, method string, params any) (string, error) {
	var result struct {
		Signature string `json:"signature"`
	}
	if err := c.call(ctx, method, params, &result); err != nil {
		return "", err
	}
	return result.Signature, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (c *RPCClient) call(ctx context.Context, method string, params, result any) error {
	start := time.Now()
	var err error
	defer func() {
		c.metrics.Observe(method, err, start)
	}()

	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		c.limiter.Take()

		var done bool
		done, lastErr = c.doOnce(ctx, body, result)
		if done {
			err = lastErr
			return err
		}

		if attempt < c.cfg.MaxAttempts {
			c.logger.Warn("ledger rpc attempt failed",
				zap.String("method", method),
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
			if sleepErr := c.sleep(ctx, c.cfg.Backoff*time.Duration(attempt)); sleepErr != nil {
				err = sleepErr
				return err
			}
		}
	}

	err = &model.LedgerRPCError{Method: method, Attempts: c.cfg.MaxAttempts, Err: lastErr}
	return err
}

// doOnce performs a single HTTP round trip. done=true means the outcome is
// final: either success or a program-level error that retrying cannot fix.
func (c *RPCClient) doOnce(ctx context.Context, body []byte, result any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return true, fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusInternalServerError {
		return false, fmt.Errorf("rpc http status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return true, fmt.Errorf("rpc http status %d", resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return false, fmt.Errorf("decode rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		return true, rpcResp.Error
	}
	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return true, fmt.Errorf("decode rpc result: %w", err)
		}
	}
	return true, nil
}
