// Package feed fetches rates from the upstream HTTP/JSON services.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"swap_rates/internal/domain"
)

// Feed operation names, used for logs, metrics and breaker identity.
const (
	OpETHRates     = "eth_rates"
	OpUSDRates     = "usd_rates"
	OpProdRates    = "prod_rates"
	OpTrackerRates = "tracker_rates"
	OpSourceAmount = "source_amount"

	defaultDecimals = 18
	maxBodyBytes    = 8 << 20
)

// rateDTO is one entry of the rates endpoints:
//
//	{"data":[{"source":"KNC","dest":"ETH","rate":"2000000000000000","decimals":18}]}
//
// rate is a fixed-point integer string; decimals defaults to 18.
type rateDTO struct {
	Source   string `json:"source"`
	Dest     string `json:"dest"`
	Rate     string `json:"rate"`
	Decimals *int   `json:"decimals"`
}

type ratesResponse struct {
	Data []rateDTO `json:"data"`
}

// trackerDTO is one value of the tracker endpoint:
//
//	{"KNC":{"rate_eth_now":0.002,"rate_usd_now":0.41}}
type trackerDTO struct {
	RateETHNow float64 `json:"rate_eth_now"`
	RateUSDNow float64 `json:"rate_usd_now"`
}

// Endpoints are the upstream URLs, one per operation.
// SourceAmount is a template taking source symbol, dest symbol and dest
// amount in its three %s verbs; it may be empty.
type Endpoints struct {
	ETHRates     string
	USDRates     string
	ProdRates    string
	Tracker      string
	SourceAmount string
}

// Options tunes a Client. Zero values fall back to defaults.
type Options struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	MaxRetries int
	Backoff    Backoff
	Breaker    BreakerConfig
	UserAgent  string
	Logger     *slog.Logger

	// OnCircuitChange is told when an endpoint's breaker opens or closes.
	OnCircuitChange func(op string, open bool)
}

// Client implements domain.RateFeed over HTTP.
type Client struct {
	endpoints  Endpoints
	httpClient *http.Client
	maxRetries int
	backoff    Backoff
	userAgent  string
	logger     *slog.Logger
	breakers   map[string]*Breaker
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
}

var _ domain.RateFeed = (*Client)(nil)

func NewClient(endpoints Endpoints, opts Options) *Client {
	c := &Client{
		endpoints:  endpoints,
		httpClient: opts.HTTPClient,
		maxRetries: opts.MaxRetries,
		backoff:    opts.Backoff,
		userAgent:  opts.UserAgent,
		logger:     opts.Logger,
		now:        time.Now,
		sleep:      sleepCtx,
	}
	if c.logger == nil {
		c.logger = slog.Default().With("module", "feed")
	}
	if c.httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		c.httpClient = &http.Client{Timeout: timeout}
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	if c.userAgent == "" {
		c.userAgent = "swap-rates"
	}

	var onChange func(string, State)
	if opts.OnCircuitChange != nil {
		onChange = func(op string, s State) {
			// half-open still rejects nothing, report it as closed
			opts.OnCircuitChange(op, s == StateOpen)
		}
	}
	c.breakers = make(map[string]*Breaker, 5)
	for _, op := range []string{OpETHRates, OpUSDRates, OpProdRates, OpTrackerRates, OpSourceAmount} {
		c.breakers[op] = newBreaker(op, opts.Breaker, c.logger, onChange)
	}
	return c
}

// Breaker returns the breaker guarding op, for monitoring.
func (c *Client) Breaker(op string) *Breaker { return c.breakers[op] }

func (c *Client) FetchETHRates(ctx context.Context) ([]domain.Rate, error) {
	return c.fetchRates(ctx, OpETHRates, c.endpoints.ETHRates)
}

func (c *Client) FetchUSDRates(ctx context.Context) ([]domain.Rate, error) {
	return c.fetchRates(ctx, OpUSDRates, c.endpoints.USDRates)
}

func (c *Client) FetchProductionRates(ctx context.Context) ([]domain.Rate, error) {
	return c.fetchRates(ctx, OpProdRates, c.endpoints.ProdRates)
}

// FetchTrackerRates returns the bulk tracker snapshot in no particular order.
func (c *Client) FetchTrackerRates(ctx context.Context) ([]domain.TrackerRate, error) {
	var payload map[string]trackerDTO
	if err := c.fetch(ctx, OpTrackerRates, c.endpoints.Tracker, &payload); err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return nil, domain.NewFatalNetworkError(OpTrackerRates, domain.ErrEmptyResponse)
	}

	fetchedAt := c.now()
	out := make([]domain.TrackerRate, 0, len(payload))
	for sym, v := range payload {
		if v.RateETHNow < 0 || v.RateUSDNow < 0 {
			c.logger.Warn("Skipping negative tracker rate",
				slog.String("symbol", sym),
				slog.Float64("rate_eth_now", v.RateETHNow),
				slog.Float64("rate_usd_now", v.RateUSDNow))
			continue
		}
		out = append(out, domain.TrackerRate{
			Symbol:     strings.ToUpper(sym),
			RateETHNow: v.RateETHNow,
			RateUSDNow: v.RateUSDNow,
			FetchedAt:  fetchedAt,
		})
	}
	if len(out) == 0 {
		return nil, domain.NewFatalNetworkError(OpTrackerRates, domain.ErrEmptyResponse)
	}
	return out, nil
}

// FetchCachedSourceAmount answers {"success":true,"value":"12.5"}.
// A success=false answer is not an error.
func (c *Client) FetchCachedSourceAmount(ctx context.Context, source, dest, destAmount string) (domain.SourceAmountQuote, error) {
	if c.endpoints.SourceAmount == "" {
		return domain.SourceAmountQuote{}, domain.NewFatalNetworkError(OpSourceAmount, domain.ErrFeedNotConfigured)
	}
	u := fmt.Sprintf(c.endpoints.SourceAmount,
		url.QueryEscape(strings.ToUpper(source)),
		url.QueryEscape(strings.ToUpper(dest)),
		url.QueryEscape(destAmount))

	var q domain.SourceAmountQuote
	if err := c.fetch(ctx, OpSourceAmount, u, &q); err != nil {
		return domain.SourceAmountQuote{}, err
	}
	q.Value = strings.TrimSpace(q.Value)
	return q, nil
}

func (c *Client) fetchRates(ctx context.Context, op, url string) ([]domain.Rate, error) {
	var payload ratesResponse
	if err := c.fetch(ctx, op, url, &payload); err != nil {
		return nil, err
	}

	out := make([]domain.Rate, 0, len(payload.Data))
	for _, d := range payload.Data {
		r, err := d.toRate()
		if err != nil {
			c.logger.Warn("Skipping malformed rate", slog.String("feed", op), slog.Any("error", err))
			continue
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil, domain.NewFatalNetworkError(op, domain.ErrEmptyResponse)
	}
	return out, nil
}

func (d rateDTO) toRate() (domain.Rate, error) {
	if d.Source == "" || d.Dest == "" {
		return domain.Rate{}, fmt.Errorf("missing pair in %+v", d)
	}
	v, ok := new(big.Int).SetString(strings.TrimSpace(d.Rate), 10)
	if !ok || v.Sign() < 0 {
		return domain.Rate{}, fmt.Errorf("%s_%s: invalid rate %q", d.Source, d.Dest, d.Rate)
	}
	decimals := defaultDecimals
	if d.Decimals != nil {
		decimals = *d.Decimals
	}
	return domain.Rate{Source: strings.ToUpper(d.Source), Dest: strings.ToUpper(d.Dest), Value: v, Decimals: decimals}, nil
}

// fetch GETs url into out, retrying retriable failures with backoff.
// Terminal failures count against the endpoint's breaker.
func (c *Client) fetch(ctx context.Context, op, url string, out any) error {
	br := c.breakers[op]
	if !br.Allow() {
		return domain.NewFatalNetworkError(op, domain.ErrCircuitOpen)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff.Delay(attempt - 1)
			c.logger.Debug("Retrying feed fetch",
				slog.String("feed", op),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay))
			if err := c.sleep(ctx, delay); err != nil {
				lastErr = domain.NewFatalNetworkError(op, err)
				break
			}
		}

		err := c.doFetch(ctx, op, url, out)
		if err == nil {
			br.RecordSuccess()
			return nil
		}
		lastErr = err
		if !domain.IsRetriable(err) {
			break
		}
	}

	br.RecordFailure()
	return lastErr
}

func (c *Client) doFetch(ctx context.Context, op, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.NewFatalNetworkError(op, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return domain.NewFatalNetworkError(op, ctx.Err())
		}
		return domain.NewNetworkError(op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return domain.NewNetworkError(op, fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	default:
		return domain.NewFatalNetworkError(op, fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return domain.NewNetworkError(op, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return domain.NewFatalNetworkError(op, fmt.Errorf("decode: %w", err))
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsCircuitOpen reports whether err came from a short-circuited endpoint.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, domain.ErrCircuitOpen)
}
