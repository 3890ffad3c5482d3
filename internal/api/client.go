// Package api is the client for the central catalog and config service.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/bamsammich/mirrorgate/internal/catalog"
)

const (
	defaultTimeout = 30 * time.Second
	maxRetries     = 2
	baseRetryDelay = 500 * time.Millisecond
	maxBodyBytes   = 64 << 20
)

// StatusError is returned for a non-2xx response.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.Status)
}

// Options configures a Client.
type Options struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
	BaseURL    string
	ConfigURL  string // overrides <base>config when set
	Timeout    time.Duration
	MaxRPS     int // 0 disables throttling
}

// Client talks to the central API. Requests share one token bucket.
type Client struct {
	http      *http.Client
	limiter   *rate.Limiter
	log       *slog.Logger
	base      string
	configURL string
	override  bool
}

// NewClient returns a Client for opts.
func NewClient(opts Options) *Client {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}

	base := opts.BaseURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}

	c := &Client{
		http:      hc,
		log:       log.With("component", "api"),
		base:      base,
		configURL: opts.ConfigURL,
		override:  opts.ConfigURL != "",
	}
	if !c.override {
		c.configURL = base + "config"
	}
	if opts.MaxRPS > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.MaxRPS), opts.MaxRPS)
	}
	return c
}

// HasConfigOverride reports whether a config URL override is in effect.
func (c *Client) HasConfigOverride() bool { return c.override }

// DeadMirrors lists mirrors the service currently reports as down.
func (c *Client) DeadMirrors(ctx context.Context) ([]string, error) {
	body, _, err := c.get(ctx, c.base+"mirrors?status=DOWN")
	if err != nil {
		return nil, err
	}
	var entries []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decode dead mirrors: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Name != "" {
			names = append(names, e.Name)
		}
	}
	return names, nil
}

// Popularity returns download counts per package for the 1, 7 and 30 day
// windows.
func (c *Client) Popularity(ctx context.Context) ([]catalog.PopularityStat, error) {
	body, _, err := c.get(ctx, c.base+"popularity")
	if err != nil {
		return nil, err
	}
	var stats []catalog.PopularityStat
	if err := json.Unmarshal(body, &stats); err != nil {
		return nil, fmt.Errorf("decode popularity: %w", err)
	}
	return stats, nil
}

// Blacklist returns the raw donation blacklist.
func (c *Client) Blacklist(ctx context.Context) ([]byte, error) {
	body, _, err := c.get(ctx, c.base+"files/blacklist.txt")
	return body, err
}

// DownloadConfig fetches the transfer-tool config. The filename from a
// Content-Disposition header is returned when present.
func (c *Client) DownloadConfig(ctx context.Context) (data []byte, filename string, err error) {
	body, hdr, err := c.get(ctx, c.configURL)
	if err != nil {
		return nil, "", err
	}
	if len(body) == 0 {
		return nil, "", errors.New("config download returned an empty body")
	}
	if cd := hdr.Get("Content-Disposition"); cd != "" {
		if _, params, perr := mime.ParseMediaType(cd); perr == nil {
			filename = params["filename"]
		}
	}
	return body, filename, nil
}

// DownloadReport is the payload of ReportDownload.
type DownloadReport struct {
	ReleaseName string `json:"release_name"`
	PackageName string `json:"package_name"`
	HWID        string `json:"hwid"`
}

// ReportDownload records a completed download. Callers treat it as
// best-effort.
func (c *Client) ReportDownload(ctx context.Context, r DownloadReport) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}
	if err := c.wait(ctx); err != nil {
		return err
	}

	u := c.base + "reportdownload"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", u, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode/100 != 2 {
		return &StatusError{URL: u, Status: resp.StatusCode}
	}
	return nil
}

// get performs a throttled GET, retrying 5xx responses with backoff.
func (c *Client) get(ctx context.Context, rawURL string) ([]byte, http.Header, error) {
	if _, err := url.Parse(rawURL); err != nil {
		return nil, nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseRetryDelay * time.Duration(1<<(attempt-1))
			c.log.Debug("retrying request", "attempt", attempt, "delay", delay, "url", rawURL)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			}
		}
		if err := c.wait(ctx); err != nil {
			return nil, nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("build request: %w", err)
		}
		c.log.Debug("api request", "url", rawURL, "attempt", attempt)

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			return nil, nil, fmt.Errorf("GET %s: %w", rawURL, err)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		resp.Body.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("read %s: %w", rawURL, err)
		}

		if resp.StatusCode >= 500 {
			lastErr = &StatusError{URL: rawURL, Status: resp.StatusCode}
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return nil, nil, &StatusError{URL: rawURL, Status: resp.StatusCode}
		}
		return body, resp.Header, nil
	}
	return nil, nil, lastErr
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return ctx.Err()
	}
	return c.limiter.Wait(ctx)
}
