package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alert-engine/internal/alerterr"
	"github.com/alert-engine/internal/circuitbreaker"
	"github.com/alert-engine/internal/config"
	"github.com/alert-engine/internal/logging"
	"github.com/alert-engine/internal/metrics"
	"github.com/alert-engine/internal/models"
	"github.com/alert-engine/internal/retry"
)

// Feed names used for limiters, breakers and metrics labels.
const (
	FeedPrice     = "price"
	FeedValuation = "valuation"
	FeedWallet    = "wallet"
)

// PriceProvider fetches token spot prices, batched by symbol.
type PriceProvider interface {
	FetchPrices(ctx context.Context, tokens []string) (map[string]float64, error)
}

// ValuationProvider fetches a portfolio's aggregate USD value over its
// (address, chain) links.
type ValuationProvider interface {
	FetchValuation(ctx context.Context, links []models.ChainAddress) (float64, error)
}

// WalletProvider fetches balance snapshots and forward transaction feed
// pages for a single address on a single chain.
type WalletProvider interface {
	FetchBalances(ctx context.Context, address, chain string) (map[string]float64, error)
	FetchTransactions(ctx context.Context, address, chain, cursor string) ([]models.Transaction, string, error)
}

// Cache is the snapshot cache the client reads through. Satisfied by
// storage.CacheService.
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Client is the DataSource gateway. One instance serves all feeds; each feed
// gets its own rate limiter and circuit breaker so 429 storms on one
// provider never starve the others.
type Client struct {
	prices     PriceProvider
	valuations ValuationProvider
	wallets    WalletProvider
	cache      Cache

	limiters map[string]*feedLimiter
	breakers map[string]*circuitbreaker.Breaker
	retryCfg *retry.Config
	ttls     config.CacheConfig
	timeouts map[string]time.Duration
}

// NewClient wires the DataSource gateway from configuration.
func NewClient(cfg *config.Config, prices PriceProvider, valuations ValuationProvider, wallets WalletProvider, cache Cache) *Client {
	retryCfg := &retry.Config{
		MaxAttempts:  cfg.Feeds.RetryMaxAttempts,
		InitialDelay: cfg.Feeds.RetryInitialDelay,
		MaxDelay:     cfg.Feeds.RetryMaxDelay,
		Multiplier:   2.0,
		Jitter:       0.2,
		Retryable:    alerterr.IsRetryable,
	}

	breakers := make(map[string]*circuitbreaker.Breaker)
	for _, name := range []string{FeedPrice, FeedValuation, FeedWallet} {
		breakers[name] = circuitbreaker.New(&circuitbreaker.Config{
			Name:        name,
			MaxFailures: cfg.Feeds.BreakerMaxFailures,
			Cooldown:    cfg.Feeds.BreakerCooldown,
		})
	}

	return &Client{
		prices:     prices,
		valuations: valuations,
		wallets:    wallets,
		cache:      cache,
		limiters: map[string]*feedLimiter{
			FeedPrice:     newFeedLimiter(FeedPrice, cfg.Feeds.Price),
			FeedValuation: newFeedLimiter(FeedValuation, cfg.Feeds.Valuation),
			FeedWallet:    newFeedLimiter(FeedWallet, cfg.Feeds.Wallet),
		},
		breakers: breakers,
		retryCfg: retryCfg,
		ttls:     cfg.Cache,
		timeouts: map[string]time.Duration{
			FeedPrice:     cfg.Feeds.Price.Timeout,
			FeedValuation: cfg.Feeds.Valuation.Timeout,
			FeedWallet:    cfg.Feeds.Wallet.Timeout,
		},
	}
}

// FetchBatch resolves a deduplicated set of resources into a snapshot. Every
// resource gets a result: a value, a cached value, or an error. Failures are
// per-resource; one broken feed never fails the batch.
func (c *Client) FetchBatch(ctx context.Context, resources []Resource) *Snapshot {
	results := make(map[string]*Result, len(resources))
	var mu sync.Mutex
	var wg sync.WaitGroup

	seen := make(map[string]bool, len(resources))
	for _, r := range resources {
		key := r.Key()
		if seen[key] {
			continue
		}
		seen[key] = true

		wg.Add(1)
		go func(r Resource, key string) {
			defer wg.Done()
			res := c.fetchOne(ctx, r)
			mu.Lock()
			results[key] = res
			mu.Unlock()
		}(r, key)
	}
	wg.Wait()

	return NewSnapshot(results)
}

// fetchOne serves one resource: cache first, then the guarded provider call.
func (c *Client) fetchOne(ctx context.Context, r Resource) *Result {
	if res, ok := c.fromCache(ctx, r); ok {
		metrics.CacheHits.WithLabelValues(string(r.Kind)).Inc()
		return res
	}

	feedName := feedFor(r.Kind)
	limiter := c.limiters[feedName]
	breaker := c.breakers[feedName]

	// The provider call runs on its own per-feed deadline, detached from
	// the tick context. A tick that overruns must not abort an in-flight
	// fetch, and its cancellation must not count against the breaker as a
	// provider failure.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeouts[feedName])
	defer cancel()

	if err := limiter.acquire(callCtx); err != nil {
		metrics.FeedRequests.WithLabelValues(feedName, "throttled").Inc()
		return &Result{Err: err}
	}
	defer limiter.release()

	var res *Result
	err := breaker.Execute(callCtx, func() error {
		return retry.Do(callCtx, c.retryCfg, func(ctx context.Context, attempt int) error {
			fetched, err := c.callProvider(ctx, r)
			if err != nil {
				return err
			}
			res = fetched
			return nil
		})
	})
	c.observeBreaker(feedName, breaker)

	if err != nil {
		metrics.FeedRequests.WithLabelValues(feedName, "error").Inc()
		if errors.Is(err, circuitbreaker.ErrOpen) || errors.Is(err, circuitbreaker.ErrProbeInFlight) {
			return &Result{Err: alerterr.FeedUnavailable(feedName, err)}
		}
		if alerterr.IsThrottled(err) {
			return &Result{Err: err}
		}
		return &Result{Err: alerterr.FeedUnavailable(feedName, err)}
	}

	metrics.FeedRequests.WithLabelValues(feedName, "ok").Inc()
	c.populateCache(ctx, r, res)
	return res
}

// callProvider issues the actual upstream request for a resource kind.
func (c *Client) callProvider(ctx context.Context, r Resource) (*Result, error) {
	switch r.Kind {
	case KindPrice:
		prices, err := c.prices.FetchPrices(ctx, []string{r.Token})
		if err != nil {
			return nil, err
		}
		price, ok := prices[r.Token]
		if !ok {
			return nil, alerterr.NotFound("price", r.Token)
		}
		return &Result{Price: price}, nil

	case KindValuation:
		value, err := c.valuations.FetchValuation(ctx, r.Links)
		if err != nil {
			return nil, err
		}
		return &Result{Value: value}, nil

	case KindBalances:
		balances, err := c.wallets.FetchBalances(ctx, r.Address, r.Chain)
		if err != nil {
			return nil, err
		}
		return &Result{Balances: balances}, nil

	case KindTxFeed:
		txs, next, err := c.wallets.FetchTransactions(ctx, r.Address, r.Chain, r.Cursor)
		if err != nil {
			return nil, err
		}
		return &Result{Transactions: txs, NextCursor: next}, nil

	default:
		return nil, fmt.Errorf("unknown resource kind: %s", r.Kind)
	}
}

// cachedEntry is the serialized form of a result in Redis.
type cachedEntry struct {
	Price        float64              `json:"price,omitempty"`
	Value        float64              `json:"value,omitempty"`
	Balances     map[string]float64   `json:"balances,omitempty"`
	Transactions []models.Transaction `json:"transactions,omitempty"`
	NextCursor   string               `json:"nextCursor,omitempty"`
}

func (c *Client) fromCache(ctx context.Context, r Resource) (*Result, bool) {
	var entry cachedEntry
	hit, err := c.cache.Get(ctx, r.Key(), &entry)
	if err != nil {
		logging.FromContext(ctx).WithError(err).Warn("cache read failed, falling through to feed")
		return nil, false
	}
	if !hit {
		return nil, false
	}
	return &Result{
		Price:        entry.Price,
		Value:        entry.Value,
		Balances:     entry.Balances,
		Transactions: entry.Transactions,
		NextCursor:   entry.NextCursor,
		FromCache:    true,
	}, true
}

// populateCache stores a fresh result. The write uses a context detached
// from the tick deadline: a fetch that raced the deadline still benefits
// the next tick.
func (c *Client) populateCache(ctx context.Context, r Resource, res *Result) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	entry := cachedEntry{
		Price:        res.Price,
		Value:        res.Value,
		Balances:     res.Balances,
		Transactions: res.Transactions,
		NextCursor:   res.NextCursor,
	}
	if err := c.cache.SetWithTTL(writeCtx, r.Key(), entry, c.ttlFor(r.Kind)); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("cache write failed")
	}
}

func (c *Client) ttlFor(kind ResourceKind) time.Duration {
	switch kind {
	case KindPrice:
		return c.ttls.PriceTTL
	case KindValuation:
		return c.ttls.ValuationTTL
	case KindBalances:
		return c.ttls.WalletTTL
	case KindTxFeed:
		return c.ttls.TxFeedTTL
	default:
		return time.Minute
	}
}

func (c *Client) observeBreaker(feedName string, b *circuitbreaker.Breaker) {
	var v float64
	switch b.GetState() {
	case circuitbreaker.StateHalfOpen:
		v = 1
	case circuitbreaker.StateOpen:
		v = 2
	}
	metrics.BreakerState.WithLabelValues(feedName).Set(v)
}

// BreakerStats returns per-feed breaker snapshots for the ops surface.
func (c *Client) BreakerStats() []*circuitbreaker.Stats {
	stats := make([]*circuitbreaker.Stats, 0, len(c.breakers))
	for _, name := range []string{FeedPrice, FeedValuation, FeedWallet} {
		stats = append(stats, c.breakers[name].GetStats())
	}
	return stats
}

func feedFor(kind ResourceKind) string {
	switch kind {
	case KindPrice:
		return FeedPrice
	case KindValuation:
		return FeedValuation
	default:
		return FeedWallet
	}
}
