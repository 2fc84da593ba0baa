// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package zotero talks to the Zotero web API: API key introspection,
// paginated library export, and the streaming API used to learn about
// library changes.
package zotero

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/pdiddy/zotexport/internal/ctxlog"
	"github.com/pdiddy/zotexport/internal/httputil"
	"github.com/pdiddy/zotexport/pkg/types"
)

// Default endpoints of the hosted Zotero service.
const (
	DefaultBaseURL   = "https://api.zotero.org"
	DefaultStreamURL = "wss://stream.zotero.org"
)

// apiVersion is sent in the Zotero-API-Version header on every request.
const apiVersion = "3"

// maxErrorBody caps how much of an error response is kept in StatusError.
const maxErrorBody = 512

// ErrNoLibraryAccess reports an API key that cannot read the user library.
var ErrNoLibraryAccess = errors.New("API key has no read access to the user library")

// StatusError is returned when Zotero answers with an unexpected HTTP status.
type StatusError struct {
	URL  string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("Zotero API returned HTTP %d for %s", e.Code, e.URL)
	}
	return fmt.Sprintf("Zotero API returned HTTP %d for %s: %s", e.Code, e.URL, e.Body)
}

// Client is an authenticated Zotero API client.
type Client struct {
	HTTP   *http.Client
	APIKey string

	// BaseURL is the web API root; StreamURL the streaming API endpoint.
	BaseURL   string
	StreamURL string

	cfg types.HTTPConfig
}

// NewClient returns a client for the hosted Zotero service that
// authenticates with apiKey. A zero cfg.Timeout leaves the http.Client
// without a timeout.
func NewClient(apiKey string, cfg types.HTTPConfig) *Client {
	return &Client{
		HTTP:      &http.Client{Timeout: cfg.Timeout},
		APIKey:    apiKey,
		BaseURL:   DefaultBaseURL,
		StreamURL: DefaultStreamURL,
		cfg:       cfg,
	}
}

// KeyInfo is what GET /keys/current returns, limited to the fields used here.
type KeyInfo struct {
	Key      string    `json:"key"`
	UserID   int64     `json:"userID"`
	Username string    `json:"username"`
	Access   KeyAccess `json:"access"`
}

// KeyAccess describes what the key may read.
type KeyAccess struct {
	User KeyUserAccess `json:"user"`
}

// KeyUserAccess covers the personal library permissions.
type KeyUserAccess struct {
	Library bool `json:"library"`
	Files   bool `json:"files"`
	Notes   bool `json:"notes"`
	Write   bool `json:"write"`
}

// UserIDString returns the numeric user id as a string.
func (k KeyInfo) UserIDString() string {
	return strconv.FormatInt(k.UserID, 10)
}

// CanReadLibrary reports whether the key grants read access to the library.
func (k KeyInfo) CanReadLibrary() bool {
	return k.Access.User.Library
}

// KeyInfo fetches the description of the client's API key.
func (c *Client) KeyInfo(ctx context.Context) (*KeyInfo, error) {
	reqURL := c.BaseURL + "/keys/current"
	resp, err := c.get(ctx, reqURL, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(reqURL, resp)
	}

	var info KeyInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("parsing key info: %w", err)
	}
	return &info, nil
}

// ResolveUser looks up the user the API key belongs to and checks that the
// key can read that user's library.
func (c *Client) ResolveUser(ctx context.Context) (*KeyInfo, error) {
	info, err := c.KeyInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("validating API key: %w", err)
	}
	if !info.CanReadLibrary() {
		return nil, ErrNoLibraryAccess
	}
	ctxlog.FromContext(ctx).Info("API key valid", "user", info.Username, "user_id", info.UserID)
	return info, nil
}

// get issues an authenticated GET through the 429-aware retry helper.
func (c *Client) get(ctx context.Context, reqURL string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Zotero-API-Version", apiVersion)
	req.Header.Set("Zotero-API-Key", c.APIKey)
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	ctxlog.FromContext(ctx).Debug("sending request", "url", reqURL)

	resp, err := httputil.DoWithRetry(ctx, c.HTTP, req, 0)
	if err != nil {
		return nil, fmt.Errorf("Zotero API request: %w", err)
	}
	return resp, nil
}

func statusError(reqURL string, resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{URL: reqURL, Code: resp.StatusCode, Body: string(body)}
}
