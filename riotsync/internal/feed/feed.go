// Package feed downloads the IP-reputation feed and decodes it into raw
// records.
//
// The whole feed is fetched in one GET. Transient failures (network error,
// non-2xx status, unreadable or malformed body) are retried a bounded number
// of times with a linearly growing delay; after that the fetch fails closed
// and returns no records at all.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hazyhaar/riotsync/horosafe"
)

// ErrFetchFailed is returned when every attempt failed. It wraps the last
// attempt's error.
var ErrFetchFailed = errors.New("feed: fetch failed")

// ErrUnexpectedShape is returned when the payload decodes but is not a JSON
// array. It is not retried.
var ErrUnexpectedShape = errors.New("feed: unexpected response shape")

// Config configures a Fetcher.
type Config struct {
	URL        string        `yaml:"url"`
	Timeout    time.Duration `yaml:"timeout"`     // per attempt. Default: 30s.
	MaxRetries int           `yaml:"max_retries"` // total attempts. Default: 3.
	Backoff    time.Duration `yaml:"backoff"`     // delay unit, multiplied by attempt index. Default: 5s.
	MaxBytes   int64         `yaml:"max_bytes"`   // body cap. Default: 64MB.
	UserAgent  string        `yaml:"user_agent"`
	// BlockPrivate rejects feed URLs that resolve to private or loopback
	// addresses before any request is sent.
	BlockPrivate bool `yaml:"block_private"`
}

// Defaults fills zero fields.
func (c *Config) Defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = 5 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 64 * 1024 * 1024
	}
	if c.UserAgent == "" {
		c.UserAgent = "riotsync/1.0"
	}
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Fetcher retrieves the feed.
type Fetcher struct {
	client   *http.Client
	config   Config
	sleep    SleepFunc
	validate func(string) error
}

// Option customises a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the HTTP client. Its Timeout is overwritten by
// Config.Timeout.
func WithHTTPClient(c *http.Client) Option { return func(f *Fetcher) { f.client = c } }

// WithSleep replaces the backoff sleep, typically to record delays in tests.
func WithSleep(s SleepFunc) Option { return func(f *Fetcher) { f.sleep = s } }

// New creates a Fetcher.
func New(cfg Config, opts ...Option) *Fetcher {
	cfg.Defaults()
	f := &Fetcher{
		client: &http.Client{},
		config: cfg,
		sleep:  sleepCtx,
	}
	for _, o := range opts {
		o(f)
	}
	f.client.Timeout = cfg.Timeout
	if cfg.BlockPrivate {
		f.validate = horosafe.ValidateURL
	} else {
		f.validate = func(s string) error {
			_, err := horosafe.ValidateScheme(s)
			return err
		}
	}
	return f
}

// URL returns the configured feed URL.
func (f *Fetcher) URL() string { return f.config.URL }

// Fetch downloads and decodes the whole feed.
//
// Attempt i (1-based) that fails is followed by a sleep of i×Backoff, except
// after the last attempt. A payload that is valid JSON but not an array ends
// the fetch immediately with ErrUnexpectedShape.
func (f *Fetcher) Fetch(ctx context.Context) ([]RawRecord, error) {
	if err := f.validate(f.config.URL); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	var lastErr error
	for attempt := 1; attempt <= f.config.MaxRetries; attempt++ {
		records, err := f.fetchOnce(ctx)
		if err == nil {
			return records, nil
		}
		if errors.Is(err, ErrUnexpectedShape) {
			return nil, err
		}
		lastErr = err

		if attempt == f.config.MaxRetries {
			break
		}
		if ctx.Err() != nil {
			break
		}
		wait := time.Duration(attempt) * f.config.Backoff
		if err := f.sleep(ctx, wait); err != nil {
			lastErr = err
			break
		}
	}
	return nil, fmt.Errorf("%w after %d attempt(s): %w", ErrFetchFailed, f.config.MaxRetries, lastErr)
}

func (f *Fetcher) fetchOnce(ctx context.Context) ([]RawRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.config.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", f.config.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http %d", resp.StatusCode)
	}

	body, err := horosafe.LimitedReadAll(resp.Body, f.config.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return Decode(body)
}

// Decode parses a feed payload. The top-level value must be a JSON array;
// elements that are not objects become nil records so the caller can count
// them as invalid.
func Decode(body []byte) ([]RawRecord, error) {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("json decode: %w", err)
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: top-level value is %s, want array", ErrUnexpectedShape, jsonKind(raw))
	}
	records := make([]RawRecord, len(items))
	for i, item := range items {
		if obj, ok := item.(map[string]any); ok {
			records[i] = RawRecord(obj)
		}
	}
	return records, nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	default:
		return fmt.Sprintf("%T", v)
	}
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
