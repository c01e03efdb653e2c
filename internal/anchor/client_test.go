package anchor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/w3b-protocol/reserve-backend/internal/model"
)

type noopAnchorMetrics struct{}

func (noopAnchorMetrics) Observe(string, error, time.Time) {}

func newTestClient(t *testing.T, endpoint string) *RPCClient {
	t.Helper()

	cfg := DefaultRPCClientConfig(endpoint)
	cfg.MaxAttempts = 3
	cfg.Backoff = time.Millisecond

	client, err := NewRPCClient(cfg, noopAnchorMetrics{}, zap.NewNop())
	require.NoError(t, err)
	client.sleep = func(context.Context, time.Duration) error { return nil }
	return client
}

func TestRPCClientRetriesTransportErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"result":{"signature":"tx-1"}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	txRef, err := client.SetPrice(context.Background(), 5_000_000)
	require.NoError(t, err)
	assert.Equal(t, "tx-1", txRef)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRPCClientSurfacesProgramErrorImmediately(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"error":{"code":6005,"message":"price swing exceeds bound"}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.SetPrice(context.Background(), 5_000_000)
	require.Error(t, err)
	assert.ErrorContains(t, err, "price swing exceeds bound")
	assert.Equal(t, int32(1), calls.Load(), "program errors must not be retried")
}

func TestRPCClientExhaustsRetryBudget(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.UpdateMerkleRoot(context.Background(), [32]byte{1}, 10)

	var rpcErr *model.LedgerRPCError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, "w3b_updateMerkleRoot", rpcErr.Method)
	assert.Equal(t, 3, rpcErr.Attempts)
}

func TestRPCClientStateNotFound(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":{"data":""}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.StateAccountData(context.Background())
	assert.ErrorIs(t, err, model.ErrStateNotFound)
}

func TestRPCClientDecodesAccountData(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":{"data":"AAEC"}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	data, err := client.StateAccountData(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2}, data)
}
