package update

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gameupdater/internal/debug"
	appErrors "gameupdater/internal/errors"
)

// Default configuration values.
const (
	DefaultTimeout   = 15 * time.Second
	DefaultUserAgent = "gameupdater"

	// maxResponseBytes caps how much of a version-check response is read.
	maxResponseBytes = 1 << 20
)

// CheckRequest is the body posted to the version-check endpoint.
type CheckRequest struct {
	Title   string `json:"game_title"`
	Version string `json:"current_version"`
}

// CheckResult is the outcome of a version check. Available is false for the
// NoUpdate shape; otherwise DownloadURL is set and LatestVersion and
// ReleaseNotes may be.
type CheckResult struct {
	Available     bool
	DownloadURL   string
	LatestVersion string
	ReleaseNotes  string
}

// Client speaks the version-check protocol.
type Client struct {
	endpoint   string
	userAgent  string
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client for the update client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the HTTP client timeout. Zero keeps the default.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// NewClient creates a client that checks the given endpoint.
func NewClient(endpoint string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:  endpoint,
		userAgent: DefaultUserAgent,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckForUpdate posts the current title and version and interprets the reply.
// It never retries.
func (c *Client) CheckForUpdate(ctx context.Context, title, version string) (CheckResult, error) {
	body, err := json.Marshal(CheckRequest{Title: title, Version: version})
	if err != nil {
		return CheckResult{}, appErrors.New(appErrors.CodeProtocol, "encode check request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return CheckResult{}, appErrors.New(appErrors.CodeNetwork, fmt.Sprintf("create request: %v", err), err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	debug.WithFields(map[string]any{"url": c.endpoint, "version": version}).Info("checking for update")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return CheckResult{}, appErrors.New(appErrors.CodeCancelled, "update check cancelled", err)
		}
		return CheckResult{}, appErrors.New(appErrors.CodeNetwork, fmt.Sprintf("update server unreachable: %v", err), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return CheckResult{}, appErrors.New(appErrors.CodeNetwork, fmt.Sprintf("update server returned status %d", resp.StatusCode), nil)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return CheckResult{}, appErrors.New(appErrors.CodeNetwork, fmt.Sprintf("read response: %v", err), err)
	}
	return parseCheckResponse(data)
}

// parseCheckResponse maps the response body onto NoUpdate or UpdateAvailable.
// Fields set to null are treated as absent.
func parseCheckResponse(data []byte) (CheckResult, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		if err == nil {
			err = fmt.Errorf("body is null")
		}
		return CheckResult{}, appErrors.New(appErrors.CodeProtocol, fmt.Sprintf("response is not a JSON object: %v", err), err)
	}

	updateURL, hasURL, err := optionalString(fields, "update_url")
	if err != nil {
		return CheckResult{}, err
	}
	if !hasURL {
		return CheckResult{}, nil
	}
	if err := validateDownloadURL(updateURL); err != nil {
		return CheckResult{}, appErrors.New(appErrors.CodeProtocol, err.Error(), err)
	}

	latest, _, err := optionalString(fields, "latest_version")
	if err != nil {
		return CheckResult{}, err
	}
	notes, _, err := optionalString(fields, "release_notes")
	if err != nil {
		return CheckResult{}, err
	}

	return CheckResult{
		Available:     true,
		DownloadURL:   updateURL,
		LatestVersion: latest,
		ReleaseNotes:  notes,
	}, nil
}

func optionalString(fields map[string]json.RawMessage, key string) (string, bool, error) {
	raw, ok := fields[key]
	if !ok || string(bytes.TrimSpace(raw)) == "null" {
		return "", false, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false, appErrors.New(appErrors.CodeProtocol, fmt.Sprintf("%s must be a string", key), err)
	}
	return s, true, nil
}

func validateDownloadURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("update_url is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("update_url %q is invalid: %w", raw, err)
	}
	if !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("update_url %q must be an absolute http(s) URL", raw)
	}
	return nil
}
