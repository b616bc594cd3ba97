// Package feed is the single gateway to external market and wallet data.
// Every fetch goes through per-feed rate limiting, a freshness cache, retry
// with backoff, and a circuit breaker. Consumers receive an immutable
// snapshot per tick and never talk to providers directly.
package feed

import (
	"fmt"
	"sort"
	"strings"

	"github.com/alert-engine/internal/models"
)

// ResourceKind identifies which feed serves a resource.
type ResourceKind string

const (
	// KindPrice is a token spot price
	KindPrice ResourceKind = "price"
	// KindValuation is a portfolio aggregate value
	KindValuation ResourceKind = "valuation"
	// KindBalances is a wallet balance snapshot
	KindBalances ResourceKind = "balances"
	// KindTxFeed is a wallet transaction feed page
	KindTxFeed ResourceKind = "txfeed"
)

// Resource names one external data need. Alerts watching the same resource
// share one fetch per tick; Key is the dedupe identity.
type Resource struct {
	Kind ResourceKind

	// Token is set for price resources.
	Token string

	// PortfolioID and Links are set for valuation resources.
	PortfolioID string
	Links       []models.ChainAddress

	// Address and Chain are set for balance and tx feed resources.
	Address string
	Chain   string

	// Cursor is the forward position for tx feed resources. Different
	// cursors are different resources: two alerts at different positions
	// need different pages.
	Cursor string
}

// Key returns the dedupe and cache identity of the resource.
func (r Resource) Key() string {
	switch r.Kind {
	case KindPrice:
		return fmt.Sprintf("price:%s", strings.ToLower(r.Token))
	case KindValuation:
		return fmt.Sprintf("valuation:%s", strings.ToLower(r.PortfolioID))
	case KindBalances:
		return fmt.Sprintf("balances:%s:%s", strings.ToLower(r.Address), strings.ToLower(r.Chain))
	case KindTxFeed:
		cursor := r.Cursor
		if cursor == "" {
			cursor = "genesis"
		}
		return fmt.Sprintf("txfeed:%s:%s:%s", strings.ToLower(r.Address), strings.ToLower(r.Chain), cursor)
	default:
		return fmt.Sprintf("unknown:%v", r)
	}
}

// PriceResource builds a price resource for a token symbol.
func PriceResource(token string) Resource {
	return Resource{Kind: KindPrice, Token: token}
}

// ValuationResource builds a valuation resource over a portfolio's links.
func ValuationResource(portfolioID string, links []models.ChainAddress) Resource {
	return Resource{Kind: KindValuation, PortfolioID: portfolioID, Links: links}
}

// BalancesResource builds a balance snapshot resource.
func BalancesResource(address, chain string) Resource {
	return Resource{Kind: KindBalances, Address: address, Chain: chain}
}

// TxFeedResource builds a transaction feed resource from a cursor.
func TxFeedResource(address, chain, cursor string) Resource {
	return Resource{Kind: KindTxFeed, Address: address, Chain: chain, Cursor: cursor}
}

// Result is the outcome of fetching one resource. Exactly one of the value
// fields is populated according to the resource kind; Err is set instead
// when the fetch failed.
type Result struct {
	Price        float64
	Value        float64
	Balances     map[string]float64
	Transactions []models.Transaction
	NextCursor   string

	// FromCache reports whether this result was served from cache. Cached
	// results never count against call quotas.
	FromCache bool

	Err error
}

// Snapshot is the immutable per-tick view handed to evaluators, keyed by
// Resource.Key().
type Snapshot struct {
	results map[string]*Result
}

// NewSnapshot builds a snapshot from fetched results.
func NewSnapshot(results map[string]*Result) *Snapshot {
	return &Snapshot{results: results}
}

// Lookup returns the result for a resource, if it was fetched this tick.
func (s *Snapshot) Lookup(r Resource) (*Result, bool) {
	res, ok := s.results[r.Key()]
	return res, ok
}

// Keys returns the fetched resource keys in sorted order.
func (s *Snapshot) Keys() []string {
	keys := make([]string, 0, len(s.results))
	for k := range s.results {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of resources in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.results)
}
