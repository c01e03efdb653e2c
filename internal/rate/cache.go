package rate

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/w3b-protocol/reserve-backend/internal/model"
	"github.com/w3b-protocol/reserve-backend/internal/solvency"
)

const (
	// SettingID is the single rate_settings row the cache persists to.
	SettingID = "main"

	staleAfter       = 30 * time.Minute
	historyRetention = 48 * time.Hour
	swingThreshold   = 0.20
)

type (
	// Repository is the slice of storage backing the rate cache.
	Repository interface {
		RateSetting(ctx context.Context, id string) (model.RateSetting, bool, error)
		UpsertRateSetting(ctx context.Context, setting model.RateSetting) error
		InsertPricePoint(ctx context.Context, point model.PriceHistoryPoint) error
		EarliestPriceSince(ctx context.Context, since time.Time) (model.PriceHistoryPoint, bool, error)
		PrunePriceHistory(ctx context.Context, olderThan time.Time) error
	}

	// Anchor is the on-chain side of a refresh: read the current price and
	// push the suggested one.
	Anchor interface {
		ReadState(ctx context.Context) (model.ProtocolState, error)
		SyncPrice(ctx context.Context, priceLamports uint64) (string, error)
	}

	Metrics interface {
		ObserveRefresh(err error)
		ObserveStaleServe()
		ObserveSwingFlag()
		SetCurrent(rate float64)
	}
)

// PriceSync reports the on-chain price reconciliation done during a refresh.
type PriceSync struct {
	OnChainPrice   uint64
	SuggestedPrice uint64
	Drift          *float64
	Synced         bool
}

// Reading is one answer from the cache.
type Reading struct {
	Rate               float64
	UpdatedAt          time.Time
	PreviousRate       float64
	Change24h          *float64
	IsStale            bool
	MinutesSinceUpdate int
	SwingFlagged       bool
	PriceSync          PriceSync
}

// Cache holds the reference rate and refreshes it when it goes stale. A
// refresh that fails leaves the previous value in place; staleness is a flag
// on the reading, never an error.
type Cache struct {
	source  PriceSource
	repo    Repository
	anchor  Anchor
	metrics Metrics
	logger  *zap.Logger
	now     func() time.Time

	group singleflight.Group

	mu        sync.Mutex
	rate      float64
	prev      float64
	updatedAt time.Time
	flagged   bool
	sync      PriceSync
	loaded    bool
}

// NewCache builds a rate cache. The persisted setting is loaded lazily on the
// first read.
func NewCache(source PriceSource, repo Repository, anchor Anchor, metrics Metrics, logger *zap.Logger) *Cache {
	return &Cache{
		source:  source,
		repo:    repo,
		anchor:  anchor,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Current returns the cached rate, refreshing it first if it is older than
// the staleness window. Concurrent readers share one refresh.
func (c *Cache) Current(ctx context.Context) (Reading, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return Reading{}, err
	}

	c.mu.Lock()
	fresh := !c.updatedAt.IsZero() && c.now().Sub(c.updatedAt) <= staleAfter
	c.mu.Unlock()

	if !fresh {
		_, err, _ := c.group.Do(SettingID, func() (any, error) {
			return nil, c.refresh(ctx)
		})
		c.metrics.ObserveRefresh(err)
		if err != nil {
			c.logger.Warn("rate refresh failed, serving cached value", zap.Error(err))
			c.metrics.ObserveStaleServe()
		}
	}

	return c.reading(ctx)
}

// Refresh forces a refresh regardless of staleness.
func (c *Cache) Refresh(ctx context.Context) error {
	_, err, _ := c.group.Do(SettingID, func() (any, error) {
		return nil, c.refresh(ctx)
	})
	c.metrics.ObserveRefresh(err)
	return err
}

// ensureLoaded seeds the cache from the persisted setting once.
func (c *Cache) ensureLoaded(ctx context.Context) error {
	c.mu.Lock()
	loaded := c.loaded
	c.mu.Unlock()
	if loaded {
		return nil
	}

	setting, found, err := c.repo.RateSetting(ctx, SettingID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return nil
	}
	if found {
		c.rate = setting.Rate
		c.prev = setting.Rate
		c.updatedAt = setting.UpdatedAt
		c.metrics.SetCurrent(setting.Rate)
	}
	c.loaded = true
	return nil
}

// refresh fetches a new quote and heals everything downstream of it: the
// cache, the persisted setting, the price history and, best effort, the
// on-chain price.
func (c *Cache) refresh(ctx context.Context) error {
	quote, err := c.source.FetchQuote(ctx)
	if err != nil {
		return err
	}
	now := c.now().UTC()

	c.mu.Lock()
	prev := c.rate
	c.mu.Unlock()

	flagged := false
	if prev > 0 {
		swing := math.Abs(quote.AssetUSD-prev) / prev
		if swing > swingThreshold {
			// Applied anyway. A real market move must not wedge the cache;
			// the flag and the metric are the operator's signal to look.
			flagged = true
			c.metrics.ObserveSwingFlag()
			c.logger.Warn("rate swing beyond threshold",
				zap.Float64("previous", prev),
				zap.Float64("new", quote.AssetUSD),
				zap.Float64("swing", swing))
		}
	}

	if err := c.repo.UpsertRateSetting(ctx, model.RateSetting{
		ID:        SettingID,
		Rate:      quote.AssetUSD,
		UpdatedAt: now,
	}); err != nil {
		return err
	}
	if err := c.repo.InsertPricePoint(ctx, model.PriceHistoryPoint{
		Price:     quote.AssetUSD,
		Timestamp: now,
	}); err != nil {
		return err
	}
	if err := c.repo.PrunePriceHistory(ctx, now.Add(-historyRetention)); err != nil {
		c.logger.Warn("price history prune failed", zap.Error(err))
	}

	priceSync := c.syncPrice(ctx, quote)

	c.mu.Lock()
	c.prev = prev
	c.rate = quote.AssetUSD
	c.updatedAt = now
	c.flagged = flagged
	c.sync = priceSync
	c.mu.Unlock()

	c.metrics.SetCurrent(quote.AssetUSD)
	return nil
}

// syncPrice reconciles the on-chain price with the fresh quote. Failures are
// logged and reported via the Synced flag only; a refresh never fails because
// the chain is unreachable.
func (c *Cache) syncPrice(ctx context.Context, quote Quote) PriceSync {
	suggested := solvency.SuggestedPriceLamports(quote.AssetUSD, quote.SpotUSD)
	sync := PriceSync{SuggestedPrice: suggested}

	state, err := c.anchor.ReadState(ctx)
	if err != nil {
		c.logger.Warn("on-chain state read failed during price sync", zap.Error(err))
		return sync
	}
	sync.OnChainPrice = state.PriceLamports
	sync.Drift = solvency.Drift(suggested, state.PriceLamports)

	if suggested == state.PriceLamports {
		sync.Synced = true
		return sync
	}

	txRef, err := c.anchor.SyncPrice(ctx, suggested)
	if err != nil {
		c.logger.Warn("on-chain price sync failed",
			zap.Uint64("suggested", suggested),
			zap.Uint64("on_chain", state.PriceLamports),
			zap.Error(err))
		return sync
	}
	sync.Synced = true
	c.logger.Info("on-chain price synced",
		zap.Uint64("price_lamports", suggested),
		zap.String("tx_ref", txRef))
	return sync
}

// reading assembles the response snapshot under the lock.
func (c *Cache) reading(ctx context.Context) (Reading, error) {
	c.mu.Lock()
	r := Reading{
		Rate:         c.rate,
		UpdatedAt:    c.updatedAt,
		PreviousRate: c.prev,
		SwingFlagged: c.flagged,
		PriceSync:    c.sync,
	}
	c.mu.Unlock()

	now := c.now()
	if !r.UpdatedAt.IsZero() {
		age := now.Sub(r.UpdatedAt)
		r.IsStale = age > staleAfter
		r.MinutesSinceUpdate = int(age.Minutes())
	} else {
		r.IsStale = true
	}

	if point, found, err := c.repo.EarliestPriceSince(ctx, now.Add(-24*time.Hour)); err != nil {
		c.logger.Warn("24h price lookup failed", zap.Error(err))
	} else if found && point.Price > 0 {
		change := (r.Rate - point.Price) / point.Price * 100
		r.Change24h = &change
	}

	return r, nil
}
