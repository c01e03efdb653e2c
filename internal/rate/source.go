// Package rate caches the external reference rate and heals the cache and the
// on-chain price when the rate goes stale.
package rate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Quote is one reading from the external price source: the asset's reference
// rate and the settlement token spot, both in USD.
type Quote struct {
	AssetUSD float64
	SpotUSD  float64
}

// PriceSource fetches the current reference quote.
type PriceSource interface {
	FetchQuote(ctx context.Context) (Quote, error)
}

// HTTPSource reads quotes from a JSON price endpoint.
type HTTPSource struct {
	endpoint string
	http     *http.Client
}

// NewHTTPSource builds a price source against the given endpoint.
func NewHTTPSource(endpoint string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

// FetchQuote fetches and validates a quote.
func (s *HTTPSource) FetchQuote(ctx context.Context) (Quote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return Quote{}, fmt.Errorf("build quote request: %w", err)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("fetch quote: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("quote endpoint status %d", resp.StatusCode)
	}

	var payload struct {
		AssetUSD float64 `json:"assetUsd"`
		SpotUSD  float64 `json:"spotUsd"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Quote{}, fmt.Errorf("decode quote: %w", err)
	}
	if payload.AssetUSD <= 0 || payload.SpotUSD <= 0 {
		return Quote{}, fmt.Errorf("quote out of range: asset=%f spot=%f", payload.AssetUSD, payload.SpotUSD)
	}

	return Quote{AssetUSD: payload.AssetUSD, SpotUSD: payload.SpotUSD}, nil
}
