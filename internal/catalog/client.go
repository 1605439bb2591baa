// Copyright (c) 2025, the reelherd contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultBaseURL is the public YTS API root.
	DefaultBaseURL = "https://yts.mx/api/v2"

	// pageLimit is the maximum entries per listing page the API allows.
	pageLimit = 50

	defaultTimeout = 30 * time.Second
)

// userAgents is rotated per request so successive polls don't present a
// single fingerprint to the catalog.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:126.0) Gecko/20100101 Firefox/126.0",
}

// StatusError represents a non-2xx response from the catalog.
// It preserves the status code so retry logic can separate transient
// conditions from definitive rejections.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("catalog request to %s returned status %d", e.URL, e.StatusCode)
}

func (e *StatusError) Is(target error) bool {
	_, ok := target.(*StatusError)
	return ok
}

// IsTransient returns true for responses worth retrying: rate limiting and
// server-side failures. Any other 4xx is a definitive rejection.
func (e *StatusError) IsTransient() bool {
	return e.StatusCode == http.StatusTooManyRequests || (e.StatusCode >= 500 && e.StatusCode < 600)
}

// Options configures a catalog Client.
type Options struct {
	BaseURL    string
	Resolution string
	MinRating  float64
	SortBy     string // "latest" or "rating"
	DelayMin   time.Duration
	DelayMax   time.Duration
	Retries    int
	Timeout    time.Duration
}

// Client issues paginated listing queries against the catalog. It paces
// every request after the first with a randomized delay and retries
// transient failures per page with exponential backoff.
type Client struct {
	baseURL    string
	resolution string
	minRating  float64
	sortBy     string
	orderBy    string
	delayMin   time.Duration
	delayMax   time.Duration
	retries    uint
	httpClient *http.Client

	requested bool
}

// NewClient creates a catalog client. Zero-valued options fall back to
// defaults matching the public API's informal limits.
func NewClient(opts Options) *Client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	delayMin := opts.DelayMin
	delayMax := opts.DelayMax
	if delayMin <= 0 {
		delayMin = time.Second
	}
	if delayMax < delayMin {
		delayMax = delayMin
	}

	retries := opts.Retries
	if retries <= 0 {
		retries = 3
	}

	// "latest" walks the catalog newest-first; anything else falls back to
	// rating order, oldest additions first.
	sortBy, orderBy := "rating", "asc"
	if strings.EqualFold(opts.SortBy, "latest") || opts.SortBy == "" {
		sortBy, orderBy = "date_added", "desc"
	}

	return &Client{
		baseURL:    baseURL,
		resolution: opts.Resolution,
		minRating:  opts.MinRating,
		sortBy:     sortBy,
		orderBy:    orderBy,
		delayMin:   delayMin,
		delayMax:   delayMax,
		retries:    uint(retries),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// FetchPage retrieves one listing page (1-based). Transient failures are
// retried with exponential backoff; a non-transient status surfaces as a
// *StatusError so the caller can abort the run instead of mistaking a bad
// response for catalog exhaustion.
func (c *Client) FetchPage(ctx context.Context, page int) (*Page, error) {
	if page < 1 {
		return nil, fmt.Errorf("page number must be positive, got %d", page)
	}

	endpoint := c.listURL(page)

	var result *Page
	err := retry.Do(
		func() error {
			// Pacing is mandatory before every request after the first,
			// including retries of the same page.
			if err := c.pace(ctx); err != nil {
				return err
			}

			p, err := c.fetch(ctx, endpoint, page)
			if err != nil {
				return err
			}
			result = p
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.retries+1),
		retry.Delay(2*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isTransient),
		retry.OnRetry(func(n uint, err error) {
			log.Warn().
				Err(err).
				Int("page", page).
				Uint("attempt", n+1).
				Msg("Catalog page fetch failed, retrying")
		}),
	)
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (c *Client) fetch(ctx context.Context, endpoint string, page int) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build catalog request: %w", err)
	}
	req.Header.Set("User-Agent", userAgents[rand.IntN(len(userAgents))])
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: endpoint}
	}

	var decoded listResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode catalog response: %w", err)
	}

	if decoded.Status != "ok" {
		return nil, fmt.Errorf("catalog returned status %q: %s", decoded.Status, decoded.StatusMessage)
	}

	return &Page{
		Number:     page,
		MovieCount: decoded.Data.MovieCount,
		Movies:     decoded.Data.Movies,
	}, nil
}

func (c *Client) listURL(page int) string {
	params := url.Values{}
	params.Set("quality", c.resolution)
	params.Set("minimum_rating", strconv.FormatFloat(c.minRating, 'f', -1, 64))
	params.Set("sort_by", c.sortBy)
	params.Set("order_by", c.orderBy)
	params.Set("limit", strconv.Itoa(pageLimit))
	params.Set("page", strconv.Itoa(page))

	return c.baseURL + "/list_movies.json?" + params.Encode()
}

// pace sleeps a randomized duration within the configured delay range. The
// very first request of a client's lifetime is exempt; everything after
// that, retries included, pays the delay.
func (c *Client) pace(ctx context.Context) error {
	if !c.requested {
		c.requested = true
		return nil
	}

	delay := c.delayMin
	if spread := c.delayMax - c.delayMin; spread > 0 {
		delay += time.Duration(rand.Int64N(int64(spread)))
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// isTransient reports whether an error is worth retrying: rate limits,
// server errors, timeouts and connection-level failures.
func isTransient(err error) bool {
	if err == nil {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.IsTransient()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Temporary() || urlErr.Timeout() || isTransient(urlErr.Err)
	}

	return false
}
