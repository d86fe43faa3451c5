package coinalyze

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Market describes one tradable market returned by the discovery endpoints.
// Payload fields beyond the documented ones are ignored.
type Market struct {
	Symbol     string `json:"symbol"`
	Exchange   string `json:"exchange"`
	BaseAsset  string `json:"base_asset"`
	QuoteAsset string `json:"quote_asset"`
}

// Exchange describes one supported exchange.
type Exchange struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// JoinSymbols collapses one or more symbols into the comma-joined form the
// API expects, trimming surrounding whitespace per symbol.
func JoinSymbols(symbols []string) string {
	trimmed := make([]string, 0, len(symbols))
	for _, s := range symbols {
		trimmed = append(trimmed, strings.TrimSpace(s))
	}
	return strings.Join(trimmed, ",")
}

func symbolParams(symbols []string) url.Values {
	return url.Values{"symbols": {JoinSymbols(symbols)}}
}

func historyParams(symbols []string, interval string, from, to int64) url.Values {
	return url.Values{
		"symbols":  {JoinSymbols(symbols)},
		"interval": {interval},
		"from":     {strconv.FormatInt(from, 10)},
		"to":       {strconv.FormatInt(to, 10)},
	}
}

// --- discovery ---

func (c *Client) Exchanges(ctx context.Context) ([]Exchange, error) {
	body, err := c.get(ctx, "/exchanges", nil)
	if err != nil {
		return nil, err
	}
	var out []Exchange
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode exchanges: %w", err)
	}
	return out, nil
}

func (c *Client) FutureMarkets(ctx context.Context) ([]Market, error) {
	body, err := c.get(ctx, "/future-markets", nil)
	if err != nil {
		return nil, err
	}
	var out []Market
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode future markets: %w", err)
	}
	return out, nil
}

func (c *Client) SpotMarkets(ctx context.Context) ([]Market, error) {
	body, err := c.get(ctx, "/spot-markets", nil)
	if err != nil {
		return nil, err
	}
	var out []Market
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode spot markets: %w", err)
	}
	return out, nil
}

// --- current snapshots ---

func (c *Client) OpenInterest(ctx context.Context, symbols []string) (json.RawMessage, error) {
	return c.get(ctx, "/open-interest", symbolParams(symbols))
}

func (c *Client) FundingRate(ctx context.Context, symbols []string) (json.RawMessage, error) {
	return c.get(ctx, "/funding-rate", symbolParams(symbols))
}

func (c *Client) PredictedFundingRate(ctx context.Context, symbols []string) (json.RawMessage, error) {
	return c.get(ctx, "/predicted-funding-rate", symbolParams(symbols))
}

// --- histories ---

func (c *Client) OpenInterestHistory(ctx context.Context, symbols []string, interval string, from, to int64) (json.RawMessage, error) {
	return c.get(ctx, "/open-interest-history", historyParams(symbols, interval, from, to))
}

func (c *Client) FundingRateHistory(ctx context.Context, symbols []string, interval string, from, to int64) (json.RawMessage, error) {
	return c.get(ctx, "/funding-rate-history", historyParams(symbols, interval, from, to))
}

func (c *Client) PredictedFundingRateHistory(ctx context.Context, symbols []string, interval string, from, to int64) (json.RawMessage, error) {
	return c.get(ctx, "/predicted-funding-rate-history", historyParams(symbols, interval, from, to))
}

func (c *Client) LiquidationHistory(ctx context.Context, symbols []string, interval string, from, to int64) (json.RawMessage, error) {
	return c.get(ctx, "/liquidation-history", historyParams(symbols, interval, from, to))
}

func (c *Client) LongShortRatioHistory(ctx context.Context, symbols []string, interval string, from, to int64) (json.RawMessage, error) {
	return c.get(ctx, "/long-short-ratio-history", historyParams(symbols, interval, from, to))
}

func (c *Client) OHLCVHistory(ctx context.Context, symbols []string, interval string, from, to int64) (json.RawMessage, error) {
	return c.get(ctx, "/ohlcv-history", historyParams(symbols, interval, from, to))
}

// TakerVolumeHistory requests the taker buy/sell volume series. The endpoint
// is not guaranteed to exist upstream; a 404 is reported as ErrUnavailable so
// callers can distinguish a missing feature from a transport failure.
func (c *Client) TakerVolumeHistory(ctx context.Context, symbols []string, interval string, from, to int64) (json.RawMessage, error) {
	body, err := c.get(ctx, "/taker-volume-history", historyParams(symbols, interval, from, to))
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("taker volume history: %w", ErrUnavailable)
		}
		return nil, err
	}
	return body, nil
}
