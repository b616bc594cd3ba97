package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alert-engine/internal/alerterr"
	"github.com/alert-engine/internal/config"
	"github.com/alert-engine/internal/models"
)

// HTTPPriceProvider fetches spot prices from a CoinMarketCap-style quotes
// endpoint.
type HTTPPriceProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPPriceProvider creates a price provider from feed configuration.
func NewHTTPPriceProvider(cfg config.FeedConfig) *HTTPPriceProvider {
	return &HTTPPriceProvider{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

type priceQuoteResponse struct {
	Data map[string][]struct {
		Symbol string `json:"symbol"`
		Quote  map[string]struct {
			Price float64 `json:"price"`
		} `json:"quote"`
	} `json:"data"`
	Status struct {
		ErrorCode    int    `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
}

// FetchPrices fetches USD quotes for a batch of token symbols.
func (p *HTTPPriceProvider) FetchPrices(ctx context.Context, tokens []string) (map[string]float64, error) {
	symbols := make([]string, len(tokens))
	for i, t := range tokens {
		symbols[i] = strings.ToUpper(t)
	}

	endpoint := fmt.Sprintf("%s/quotes/latest?symbol=%s&convert=USD",
		p.baseURL, url.QueryEscape(strings.Join(symbols, ",")))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build price request: %w", err)
	}
	req.Header.Set("X-CMC_PRO_API_KEY", p.apiKey)
	req.Header.Set("Accept", "application/json")

	body, err := doRequest(p.client, req, "price")
	if err != nil {
		return nil, err
	}

	var parsed priceQuoteResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, alerterr.Transient("price decode", err)
	}
	if parsed.Status.ErrorCode != 0 {
		return nil, alerterr.FeedUnavailable("price",
			fmt.Errorf("provider error %d: %s", parsed.Status.ErrorCode, parsed.Status.ErrorMessage))
	}

	prices := make(map[string]float64, len(tokens))
	for _, token := range tokens {
		entries, ok := parsed.Data[strings.ToUpper(token)]
		if !ok || len(entries) == 0 {
			continue
		}
		if quote, ok := entries[0].Quote["USD"]; ok {
			prices[token] = quote.Price
		}
	}
	return prices, nil
}

// HTTPValuationProvider fetches aggregate portfolio values from a Zerion-style
// positions endpoint, one request per (address, chain) link.
type HTTPValuationProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPValuationProvider creates a valuation provider from feed configuration.
func NewHTTPValuationProvider(cfg config.FeedConfig) *HTTPValuationProvider {
	return &HTTPValuationProvider{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

type valuationResponse struct {
	Data struct {
		Attributes struct {
			Total struct {
				Positions float64 `json:"positions"`
			} `json:"total"`
		} `json:"attributes"`
	} `json:"data"`
}

// FetchValuation sums USD position totals over the portfolio's links.
func (p *HTTPValuationProvider) FetchValuation(ctx context.Context, links []models.ChainAddress) (float64, error) {
	var total float64
	for _, link := range links {
		endpoint := fmt.Sprintf("%s/wallets/%s/portfolio?filter[chain_ids]=%s&currency=usd",
			p.baseURL, url.PathEscape(link.Address), url.QueryEscape(link.Chain))

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return 0, fmt.Errorf("failed to build valuation request: %w", err)
		}
		req.Header.Set("Authorization", "Basic "+p.apiKey)
		req.Header.Set("Accept", "application/json")

		body, err := doRequest(p.client, req, "valuation")
		if err != nil {
			return 0, err
		}

		var parsed valuationResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return 0, alerterr.Transient("valuation decode", err)
		}
		total += parsed.Data.Attributes.Total.Positions
	}
	return total, nil
}

// HTTPWalletProvider fetches balances and transaction feed pages from a
// Mobula-style wallet data endpoint.
type HTTPWalletProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPWalletProvider creates a wallet provider from feed configuration.
func NewHTTPWalletProvider(cfg config.FeedConfig) *HTTPWalletProvider {
	return &HTTPWalletProvider{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

type balancesResponse struct {
	Data struct {
		Assets []struct {
			Asset struct {
				Symbol string `json:"symbol"`
			} `json:"asset"`
			EstimatedBalanceUSD float64 `json:"estimated_balance"`
		} `json:"assets"`
	} `json:"data"`
}

// FetchBalances fetches a wallet's per-asset USD balances on one chain.
func (p *HTTPWalletProvider) FetchBalances(ctx context.Context, address, chain string) (map[string]float64, error) {
	endpoint := fmt.Sprintf("%s/wallet/portfolio?wallet=%s&blockchains=%s",
		p.baseURL, url.QueryEscape(address), url.QueryEscape(chain))

	body, err := p.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var parsed balancesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, alerterr.Transient("balances decode", err)
	}

	balances := make(map[string]float64, len(parsed.Data.Assets))
	for _, asset := range parsed.Data.Assets {
		balances[asset.Asset.Symbol] += asset.EstimatedBalanceUSD
	}
	return balances, nil
}

type txFeedResponse struct {
	Data []struct {
		Hash      string  `json:"hash"`
		From      string  `json:"from"`
		To        string  `json:"to"`
		Asset     string  `json:"asset_symbol"`
		AmountUSD float64 `json:"amount_usd"`
		Timestamp int64   `json:"timestamp"`
	} `json:"data"`
	Pagination struct {
		NextCursor string `json:"next_cursor"`
	} `json:"pagination"`
}

// FetchTransactions fetches the transaction page after the cursor, oldest
// first, and the cursor for the next page.
func (p *HTTPWalletProvider) FetchTransactions(ctx context.Context, address, chain, cursor string) ([]models.Transaction, string, error) {
	endpoint := fmt.Sprintf("%s/wallet/transactions?wallet=%s&blockchains=%s&order=asc",
		p.baseURL, url.QueryEscape(address), url.QueryEscape(chain))
	if cursor != "" {
		endpoint += "&cursor=" + url.QueryEscape(cursor)
	}

	body, err := p.get(ctx, endpoint)
	if err != nil {
		return nil, "", err
	}

	var parsed txFeedResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, "", alerterr.Transient("txfeed decode", err)
	}

	lowered := strings.ToLower(address)
	txs := make([]models.Transaction, 0, len(parsed.Data))
	for _, raw := range parsed.Data {
		direction := models.DirectionIn
		if strings.ToLower(raw.From) == lowered {
			direction = models.DirectionOut
		}
		txs = append(txs, models.Transaction{
			Hash:      raw.Hash,
			Chain:     chain,
			From:      raw.From,
			To:        raw.To,
			Asset:     raw.Asset,
			ValueUSD:  raw.AmountUSD,
			Direction: direction,
			Timestamp: time.Unix(raw.Timestamp, 0).UTC(),
		})
	}

	next := parsed.Pagination.NextCursor
	if next == "" {
		// A page with no successor keeps the current position.
		next = cursor
	}
	return txs, next, nil
}

func (p *HTTPWalletProvider) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build wallet request: %w", err)
	}
	req.Header.Set("Authorization", p.apiKey)
	req.Header.Set("Accept", "application/json")
	return doRequest(p.client, req, "wallet")
}

// doRequest executes an HTTP request and classifies failures: network errors
// and 5xx/429 responses are transient (retried upstream), other non-2xx
// responses are permanent.
func doRequest(client *http.Client, req *http.Request, feedName string) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, alerterr.Transient(feedName+" request", err)
	}
	defer resp.Body.Close() // nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, alerterr.Transient(feedName+" read", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, alerterr.Transient(feedName+" request",
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(body), 200)))
	default:
		return nil, alerterr.FeedUnavailable(feedName,
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(body), 200)))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
