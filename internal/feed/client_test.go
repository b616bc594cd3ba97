package feed

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alert-engine/internal/alerterr"
	"github.com/alert-engine/internal/circuitbreaker"
	"github.com/alert-engine/internal/config"
	"github.com/alert-engine/internal/models"
)

type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	sets    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]byte)}
}

func (c *fakeCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, dest)
}

func (c *fakeCache) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = data
	c.sets++
	return nil
}

type fakeProviders struct {
	mu         sync.Mutex
	prices     map[string]float64
	valuations map[string]float64
	txPages    map[string][]models.Transaction
	nextCursor string
	failWith   error

	priceCalls int
	valCalls   int
	txCalls    int
}

func (f *fakeProviders) FetchPrices(ctx context.Context, tokens []string) (map[string]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.priceCalls++
	if f.failWith != nil {
		return nil, f.failWith
	}
	out := make(map[string]float64)
	for _, t := range tokens {
		if p, ok := f.prices[t]; ok {
			out[t] = p
		}
	}
	return out, nil
}

func (f *fakeProviders) FetchValuation(ctx context.Context, links []models.ChainAddress) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.valCalls++
	if f.failWith != nil {
		return 0, f.failWith
	}
	var total float64
	for _, link := range links {
		total += f.valuations[link.Address+":"+link.Chain]
	}
	return total, nil
}

func (f *fakeProviders) FetchBalances(ctx context.Context, address, chain string) (map[string]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	return map[string]float64{"ETH": 1}, nil
}

func (f *fakeProviders) FetchTransactions(ctx context.Context, address, chain, cursor string) ([]models.Transaction, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txCalls++
	if f.failWith != nil {
		return nil, "", f.failWith
	}
	return f.txPages[address+":"+chain], f.nextCursor, nil
}

func testFeedConfig() *config.Config {
	feedCfg := config.FeedConfig{
		RequestsPerSec: 1000,
		Burst:          100,
		QueueDepth:     100,
		Timeout:        time.Second,
	}
	return &config.Config{
		Feeds: config.FeedsConfig{
			Price:              feedCfg,
			Valuation:          feedCfg,
			Wallet:             feedCfg,
			RetryMaxAttempts:   1,
			RetryInitialDelay:  time.Millisecond,
			RetryMaxDelay:      time.Millisecond,
			BreakerMaxFailures: 3,
			BreakerCooldown:    time.Minute,
		},
		Cache: config.CacheConfig{
			PriceTTL:     30 * time.Second,
			ValuationTTL: time.Minute,
			WalletTTL:    time.Minute,
			TxFeedTTL:    30 * time.Second,
		},
	}
}

func newTestClient(providers *fakeProviders, cache Cache) *Client {
	return NewClient(testFeedConfig(), providers, providers, providers, cache)
}

func TestFetchBatch_DeduplicatesResources(t *testing.T) {
	providers := &fakeProviders{prices: map[string]float64{"btc": 100000}}
	client := newTestClient(providers, newFakeCache())

	// Three alerts watching the same token produce one provider call.
	snapshot := client.FetchBatch(context.Background(), []Resource{
		PriceResource("btc"),
		PriceResource("btc"),
		PriceResource("btc"),
	})

	assert.Equal(t, 1, providers.priceCalls)
	require.Equal(t, 1, snapshot.Len())

	res, ok := snapshot.Lookup(PriceResource("btc"))
	require.True(t, ok)
	require.NoError(t, res.Err)
	assert.Equal(t, 100000.0, res.Price)
	assert.False(t, res.FromCache)
}

func TestFetchBatch_CacheHitSkipsProvider(t *testing.T) {
	providers := &fakeProviders{prices: map[string]float64{"btc": 100000}}
	cache := newFakeCache()
	client := newTestClient(providers, cache)
	ctx := context.Background()

	first := client.FetchBatch(ctx, []Resource{PriceResource("btc")})
	res, _ := first.Lookup(PriceResource("btc"))
	require.NoError(t, res.Err)
	require.Equal(t, 1, cache.sets)

	second := client.FetchBatch(ctx, []Resource{PriceResource("btc")})
	res, ok := second.Lookup(PriceResource("btc"))
	require.True(t, ok)
	require.NoError(t, res.Err)
	assert.True(t, res.FromCache)
	assert.Equal(t, 100000.0, res.Price)
	assert.Equal(t, 1, providers.priceCalls)
}

func TestFetchBatch_PartialFailureIsolatesResources(t *testing.T) {
	// Price succeeds while the wallet feed is broken: the price result is
	// intact and only the tx resource carries an error.
	prices := &fakeProviders{prices: map[string]float64{"eth": 3000}}
	wallets := &fakeProviders{failWith: alerterr.Transient("wallet request", errors.New("boom"))}
	client := NewClient(testFeedConfig(), prices, prices, wallets, newFakeCache())

	snapshot := client.FetchBatch(context.Background(), []Resource{
		PriceResource("eth"),
		TxFeedResource("0xabc", "eth", ""),
	})

	priceRes, ok := snapshot.Lookup(PriceResource("eth"))
	require.True(t, ok)
	require.NoError(t, priceRes.Err)
	assert.Equal(t, 3000.0, priceRes.Price)

	txRes, ok := snapshot.Lookup(TxFeedResource("0xabc", "eth", ""))
	require.True(t, ok)
	require.Error(t, txRes.Err)
	assert.True(t, alerterr.IsFeedUnavailable(txRes.Err))
}

func TestFetchBatch_BreakerOpensAndFailsFast(t *testing.T) {
	providers := &fakeProviders{failWith: alerterr.Transient("wallet request", errors.New("boom"))}
	client := newTestClient(providers, newFakeCache())
	ctx := context.Background()

	// Three failing fetches open the breaker (MaxFailures=3, one attempt each).
	for i := 0; i < 3; i++ {
		client.FetchBatch(ctx, []Resource{TxFeedResource("0xabc", "eth", "")})
	}
	callsBefore := providers.txCalls

	snapshot := client.FetchBatch(ctx, []Resource{TxFeedResource("0xabc", "eth", "")})
	res, _ := snapshot.Lookup(TxFeedResource("0xabc", "eth", ""))
	require.Error(t, res.Err)
	assert.True(t, alerterr.IsFeedUnavailable(res.Err))
	// Fail-fast: the provider was not called again.
	assert.Equal(t, callsBefore, providers.txCalls)
}

// cancellingPrices cancels the batch context from inside the provider call
// and records what its own context looked like at that moment.
type cancellingPrices struct {
	cancel context.CancelFunc
	ctxErr error
}

func (p *cancellingPrices) FetchPrices(ctx context.Context, tokens []string) (map[string]float64, error) {
	p.cancel()
	p.ctxErr = ctx.Err()
	out := make(map[string]float64, len(tokens))
	for _, t := range tokens {
		out[t] = 3000
	}
	return out, nil
}

func TestFetchBatch_TickCancellationDoesNotAbortFetch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	prices := &cancellingPrices{cancel: cancel}
	cache := newFakeCache()
	client := NewClient(testFeedConfig(), prices, &fakeProviders{}, &fakeProviders{}, cache)

	snapshot := client.FetchBatch(ctx, []Resource{PriceResource("eth")})

	res, ok := snapshot.Lookup(PriceResource("eth"))
	require.True(t, ok)
	require.NoError(t, res.Err)
	assert.Equal(t, 3000.0, res.Price)

	// The provider runs on its own deadline: cancelling the batch context
	// mid-call left the provider's context live and the fetch completed.
	assert.NoError(t, prices.ctxErr)
	assert.Equal(t, 1, cache.sets)

	// The cancellation never reached the breaker as a provider failure.
	assert.Equal(t, circuitbreaker.StateClosed, client.breakers[FeedPrice].GetState())
}

func TestFetchBatch_MissingPriceIsNotRetriedForever(t *testing.T) {
	providers := &fakeProviders{prices: map[string]float64{}}
	client := newTestClient(providers, newFakeCache())

	snapshot := client.FetchBatch(context.Background(), []Resource{PriceResource("unknown")})
	res, _ := snapshot.Lookup(PriceResource("unknown"))
	require.Error(t, res.Err)
	assert.Equal(t, 1, providers.priceCalls)
}

func TestFeedLimiter_FullQueueThrottles(t *testing.T) {
	l := newFeedLimiter("price", config.FeedConfig{
		RequestsPerSec: 1000,
		Burst:          10,
		QueueDepth:     1,
	})

	require.NoError(t, l.acquire(context.Background()))

	err := l.acquire(context.Background())
	require.Error(t, err)
	assert.True(t, alerterr.IsThrottled(err))

	l.release()
	require.NoError(t, l.acquire(context.Background()))
}

func TestResourceKey_Identity(t *testing.T) {
	assert.Equal(t, PriceResource("BTC").Key(), PriceResource("btc").Key())
	assert.NotEqual(t,
		TxFeedResource("0xabc", "eth", "c1").Key(),
		TxFeedResource("0xabc", "eth", "c2").Key())
	assert.NotEqual(t,
		BalancesResource("0xabc", "eth").Key(),
		BalancesResource("0xabc", "base").Key())
}
