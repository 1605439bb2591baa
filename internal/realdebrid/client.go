// Copyright (c) 2025, the reelherd contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package realdebrid implements the subset of the Real-Debrid REST 1.0 API
// the dispatcher needs: adding magnets, selecting files, probing the account
// and checking instant availability.
package realdebrid

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/reelherd/reelherd/internal/buildinfo"
)

// DefaultBaseURL is the Real-Debrid REST 1.0 root.
const DefaultBaseURL = "https://api.real-debrid.com/rest/1.0"

// Quota error codes the service uses alongside HTTP 429 to signal overload.
const (
	errCodeTooManyActiveDownloads = 21
	errCodeTooManyRequests        = 34
)

const defaultTimeout = 30 * time.Second

// APIError represents a non-2xx response from the upload API. It preserves
// both the HTTP status and the service's own error code so rate limiting can
// be told apart from definitive rejections.
type APIError struct {
	StatusCode int
	ErrorCode  int
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("real-debrid API error (status %d, code %d): %s", e.StatusCode, e.ErrorCode, e.Message)
	}
	return fmt.Sprintf("real-debrid API returned status %d", e.StatusCode)
}

func (e *APIError) Is(target error) bool {
	_, ok := target.(*APIError)
	return ok
}

// IsRateLimited returns true for HTTP 429 and for the quota error codes the
// service uses to signal overload on other statuses.
func (e *APIError) IsRateLimited() bool {
	if e.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return e.ErrorCode == errCodeTooManyActiveDownloads || e.ErrorCode == errCodeTooManyRequests
}

// IsPermanent returns true for definitive rejections that retrying cannot
// fix: any 4xx other than a rate-limit signal.
func (e *APIError) IsPermanent() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && !e.IsRateLimited()
}

// apiErrorBody is the JSON error envelope Real-Debrid returns.
type apiErrorBody struct {
	Error     string `json:"error"`
	ErrorCode int    `json:"error_code"`
}

// AddedTorrent is the response to a successful addMagnet call.
type AddedTorrent struct {
	ID  string `json:"id"`
	URI string `json:"uri"`
}

// TorrentInfo is the response of /torrents/info/{id}.
type TorrentInfo struct {
	ID       string        `json:"id"`
	Filename string        `json:"filename"`
	Hash     string        `json:"hash"`
	Status   string        `json:"status"`
	Files    []TorrentFile `json:"files"`
}

// TorrentFile is one file inside a remote torrent.
type TorrentFile struct {
	ID       int    `json:"id"`
	Path     string `json:"path"`
	Bytes    int64  `json:"bytes"`
	Selected int    `json:"selected"`
}

// User is the response of /user.
type User struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Premium  int    `json:"premium"`
	Type     string `json:"type"`
}

// Client is a bearer-authenticated Real-Debrid API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a client for the given API token.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL overrides the API root (used by tests).
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// GetUser fetches the authenticated account. Used as a credential probe
// before dispatching a batch.
func (c *Client) GetUser(ctx context.Context) (*User, error) {
	var user User
	if err := c.do(ctx, http.MethodGet, "/user", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// AddMagnet submits a magnet link and returns the remote torrent identity.
func (c *Client) AddMagnet(ctx context.Context, magnet string) (*AddedTorrent, error) {
	if strings.TrimSpace(magnet) == "" {
		return nil, fmt.Errorf("magnet link is required")
	}

	form := url.Values{"magnet": []string{magnet}}

	var added AddedTorrent
	if err := c.do(ctx, http.MethodPost, "/torrents/addMagnet", form, &added); err != nil {
		return nil, err
	}
	return &added, nil
}

// GetTorrentInfo fetches the remote state of an added torrent.
func (c *Client) GetTorrentInfo(ctx context.Context, id string) (*TorrentInfo, error) {
	var info TorrentInfo
	if err := c.do(ctx, http.MethodGet, "/torrents/info/"+url.PathEscape(id), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// SelectFiles marks the given file IDs for download on a remote torrent.
func (c *Client) SelectFiles(ctx context.Context, id string, fileIDs []int) error {
	ids := make([]string, len(fileIDs))
	for i, fid := range fileIDs {
		ids[i] = strconv.Itoa(fid)
	}

	form := url.Values{"files": []string{strings.Join(ids, ",")}}
	return c.do(ctx, http.MethodPost, "/torrents/selectFiles/"+url.PathEscape(id), form, nil)
}

// SelectAllFiles selects every file of a remote torrent for streaming. A
// torrent with no files yet is not an error; selection is retried on a later
// run.
func (c *Client) SelectAllFiles(ctx context.Context, id string) error {
	info, err := c.GetTorrentInfo(ctx, id)
	if err != nil {
		return err
	}

	if len(info.Files) == 0 {
		return nil
	}

	fileIDs := make([]int, len(info.Files))
	for i, f := range info.Files {
		fileIDs[i] = f.ID
	}
	return c.SelectFiles(ctx, id, fileIDs)
}

// InstantAvailability reports which of the given torrent hashes are cached
// for instant streaming. The API accepts hashes joined by '/'.
func (c *Client) InstantAvailability(ctx context.Context, hashes []string) (map[string]bool, error) {
	if len(hashes) == 0 {
		return map[string]bool{}, nil
	}

	path := "/torrents/instantAvailability/" + strings.Join(hashes, "/")

	var raw map[string]json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}

	cached := make(map[string]bool, len(hashes))
	for _, hash := range hashes {
		cached[strings.ToUpper(hash)] = false
	}
	for hash, variants := range raw {
		// A cached hash maps to a non-empty variant object; uncached ones
		// come back as empty arrays.
		var asObject map[string]json.RawMessage
		if err := json.Unmarshal(variants, &asObject); err == nil && len(asObject) > 0 {
			cached[strings.ToUpper(hash)] = true
		}
	}
	return cached, nil
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request %s %s: %w", method, path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("User-Agent", buildinfo.UserAgent)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return c.apiError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) apiError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
			apiErr.RetryAfter = time.Duration(seconds) * time.Second
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return apiErr
	}

	var body apiErrorBody
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		apiErr.ErrorCode = body.ErrorCode
		apiErr.Message = body.Error
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}

	return apiErr
}
