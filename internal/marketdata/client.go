package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jpillora/backoff"
	"golang.org/x/time/rate"

	appconfig "coinpulse/config"
	"coinpulse/internal/metrics"
	"coinpulse/logger"
	"coinpulse/models"
)

const maxErrorBody = 512

// Client talks to the market data REST API. Every request passes through a
// shared rate limiter and carries its own timeout.
type Client struct {
	baseURL    string
	apiKey     string
	http       *http.Client
	limiter    *rate.Limiter
	timeout    time.Duration
	maxRetries int
	retryMin   time.Duration
	retryMax   time.Duration
	log        *logger.Log
}

func NewClient(cfg appconfig.MarketConfig) *Client {
	rps := cfg.RateLimit.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	burst := cfg.RateLimit.BurstSize
	if burst <= 0 {
		burst = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		http:       &http.Client{},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		timeout:    timeout,
		maxRetries: cfg.MaxRetries,
		retryMin:   500 * time.Millisecond,
		retryMax:   10 * time.Second,
		log:        logger.GetLogger(),
	}
}

// GetCoins lists coins ordered by rank.
func (c *Client) GetCoins(ctx context.Context, limit int, currency string) ([]models.Coin, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if currency != "" {
		q.Set("currency", currency)
	}

	var out models.CoinList
	if err := c.get(ctx, "coins", "/coins", q, &out); err != nil {
		return nil, err
	}
	if out.Result == nil {
		return nil, &ParseError{Endpoint: "coins", Reason: "missing result"}
	}
	return out.Result, nil
}

// GetMarkets returns the global market overview.
func (c *Client) GetMarkets(ctx context.Context) (*models.MarketOverview, error) {
	var out models.MarketOverview
	if err := c.get(ctx, "markets", "/markets", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetNews returns the latest news items.
func (c *Client) GetNews(ctx context.Context, limit int) ([]models.NewsItem, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var out models.NewsList
	if err := c.get(ctx, "news", "/news", q, &out); err != nil {
		return nil, err
	}
	if out.Result == nil {
		return nil, &ParseError{Endpoint: "news", Reason: "missing result"}
	}
	return out.Result, nil
}

// GetCoinsCharts fetches the series of several coins in one request.
func (c *Client) GetCoinsCharts(ctx context.Context, coinIDs []string, period string) ([]models.ChartRecord, error) {
	if len(coinIDs) == 0 {
		return nil, nil
	}
	q := url.Values{}
	q.Set("period", period)
	q.Set("coinIds", strings.Join(coinIDs, ","))

	var out []models.ChartRecord
	if err := c.get(ctx, "charts", "/coins/charts", q, &out); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].CoinID == "" {
			return nil, &ParseError{Endpoint: "charts", Reason: fmt.Sprintf("entry %d has no coinId", i)}
		}
		// a broken series only disqualifies its own coin
		if err := validateChart(out[i].Chart); err != nil && out[i].Error == "" {
			out[i].Error = err.Error()
		}
	}
	return out, nil
}

func validateChart(chart [][]float64) error {
	for i, point := range chart {
		if len(point) < 2 {
			return fmt.Errorf("point %d has %d fields", i, len(point))
		}
	}
	return nil
}

// get runs one GET with retries. Timeouts, 429 and 5xx are retried with
// jittered exponential backoff; everything else fails immediately.
func (c *Client) get(ctx context.Context, endpoint, path string, query url.Values, dst any) error {
	b := &backoff.Backoff{Min: c.retryMin, Max: c.retryMax, Factor: 2, Jitter: true}
	log := c.log.WithComponent("marketdata").WithFields(logger.Fields{"endpoint": endpoint})

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := b.Duration()
			var limited *RateLimitError
			if errors.As(lastErr, &limited) && limited.RetryAfter > delay {
				delay = min(limited.RetryAfter, c.retryMax)
			}
			log.WithFields(logger.Fields{"attempt": attempt, "delay": delay.String()}).WithError(lastErr).Warn("retrying market data request")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		start := time.Now()
		lastErr = c.do(ctx, endpoint, path, query, dst)
		logger.LogPerformanceEntry(log, "marketdata", endpoint, time.Since(start), logger.Fields{"attempt": attempt})
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil || !retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func (c *Client) do(ctx context.Context, endpoint, path string, query url.Values, dst any) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-KEY", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveMarketRequest(endpoint, "error")
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%s: %w", endpoint, ErrTimeout)
		}
		return fmt.Errorf("%s request: %w", endpoint, err)
	}
	defer resp.Body.Close()

	metrics.ObserveMarketRequest(endpoint, strconv.Itoa(resp.StatusCode))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%s: %w", endpoint, ErrTimeout)
		}
		return fmt.Errorf("%s read body: %w", endpoint, err)
	}
	logger.IncrementMarketRequest(len(body))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		wait := metrics.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		metrics.ReportRateLimited(c.log, "coinstats", endpoint, wait)
		return &RateLimitError{Endpoint: endpoint, RetryAfter: wait}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		text := string(body)
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		return &HTTPError{StatusCode: resp.StatusCode, Endpoint: endpoint, Body: text}
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return &ParseError{Endpoint: endpoint, Reason: "decode body", Err: err}
	}
	return nil
}
