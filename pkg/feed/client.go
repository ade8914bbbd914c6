// Package feed fetches bounded windows of patient readings from a ThingSpeak
// compatible channel API.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"procodus.dev/health-dashboard/pkg/metrics"
	"procodus.dev/health-dashboard/pkg/vitals"
)

const (
	// DefaultBaseURL is the public ThingSpeak API.
	DefaultBaseURL = "https://api.thingspeak.com"

	// DefaultTimeout bounds a single upstream request.
	DefaultTimeout = 6 * time.Second

	// DefaultResults is the trailing window size used when no time range is given.
	DefaultResults = 60

	// maxBodyBytes caps how much of an upstream body is read.
	maxBodyBytes = 8 << 20
)

var (
	errUnexpectedStatus = errors.New("unexpected upstream status")
	errMalformedBody    = errors.New("malformed feed body")
)

// ClientConfig holds the configuration for the Client.
type ClientConfig struct {
	Logger *slog.Logger

	// BaseURL of the channel API, without a trailing slash.
	BaseURL string

	// Timeout applied to every request. Zero means DefaultTimeout.
	Timeout time.Duration

	// DefaultResults is the count cap for requests without a time range.
	// Zero means DefaultResults.
	DefaultResults int

	// RequestsPerSecond limits outbound calls. Zero disables the limiter.
	RequestsPerSecond float64
	Burst             int

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client

	// Metrics is optional.
	Metrics *metrics.FeedMetrics
}

// Client is the feed client. It never returns errors: every failure degrades
// to an empty Window with StatusFailed.
type Client struct {
	logger         *slog.Logger
	baseURL        string
	timeout        time.Duration
	defaultResults int
	http           *http.Client
	limiter        *rate.Limiter
	metrics        *metrics.FeedMetrics
}

// NewClient creates a new Client instance.
func NewClient(cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("feed client config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.DefaultResults < 0 {
		return nil, errors.New("default results cannot be negative")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	results := cfg.DefaultResults
	if results == 0 {
		results = DefaultResults
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	c := &Client{
		logger:         cfg.Logger,
		baseURL:        baseURL,
		timeout:        timeout,
		defaultResults: results,
		http:           httpClient,
		metrics:        cfg.Metrics,
	}

	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return c, nil
}

// DefaultResults returns the trailing window cap.
func (c *Client) DefaultResults() int {
	return c.defaultResults
}

// Fetch returns the readings of a channel, oldest first. Without credentials
// it returns immediately with StatusUnconfigured and makes no request.
func (c *Client) Fetch(ctx context.Context, channelID, readKey string, tr vitals.TimeRange) Window {
	if strings.TrimSpace(channelID) == "" || strings.TrimSpace(readKey) == "" {
		return c.record(Window{Status: StatusUnconfigured})
	}

	endpoint, capped, err := c.endpoint(channelID, readKey, tr)
	if err != nil {
		c.logger.Warn("invalid feed request", "channel_id", channelID, "error", err)
		return c.record(Window{Status: StatusFailed, Err: err})
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			c.logger.Warn("feed rate limit wait aborted", "channel_id", channelID, "error", err)
			return c.record(Window{Status: StatusFailed, Err: err})
		}
	}

	readings, err := c.get(ctx, endpoint)
	if err != nil {
		c.logger.Warn("failed to fetch feed", "channel_id", channelID, "error", err)
		return c.record(Window{Status: StatusFailed, Err: err})
	}

	if capped && len(readings) > c.defaultResults {
		readings = readings[len(readings)-c.defaultResults:]
	}

	if len(readings) == 0 {
		return c.record(Window{Status: StatusEmpty})
	}

	c.logger.Debug("fetched feed", "channel_id", channelID, "readings", len(readings))
	return c.record(Window{Status: StatusOK, Readings: readings})
}

// endpoint builds the request URL and reports whether the count cap applies.
func (c *Client) endpoint(channelID, readKey string, tr vitals.TimeRange) (string, bool, error) {
	var b strings.Builder
	b.WriteString(c.baseURL)
	b.WriteString("/channels/")
	b.WriteString(url.PathEscape(channelID))
	b.WriteString("/feeds.json?api_key=")
	b.WriteString(escape(readKey))

	if tr.IsSet() {
		start, end, err := tr.Normalized()
		if err != nil {
			return "", false, err
		}
		b.WriteString("&start=")
		b.WriteString(escape(start))
		b.WriteString("&end=")
		b.WriteString(escape(end))
		return b.String(), false, nil
	}

	fmt.Fprintf(&b, "&results=%d", c.defaultResults)
	return b.String(), true, nil
}

func (c *Client) get(ctx context.Context, endpoint string) ([]vitals.Reading, error) {
	var timer *prometheus.Timer
	if c.metrics != nil {
		timer = prometheus.NewTimer(c.metrics.FetchDuration)
		defer timer.ObserveDuration()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, fmt.Errorf("%w: %d", errUnexpectedStatus, resp.StatusCode)
	}

	return decodeFeed(io.LimitReader(resp.Body, maxBodyBytes))
}

func (c *Client) record(w Window) Window {
	if c.metrics != nil {
		c.metrics.FetchesTotal.WithLabelValues(w.Status.String()).Inc()
		if w.Status == StatusOK || w.Status == StatusEmpty {
			c.metrics.WindowSize.Observe(float64(len(w.Readings)))
		}
	}
	return w
}

// escape percent-encodes one query component, spaces included.
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// feedBody is the subset of the channel response the client reads.
type feedBody struct {
	Feeds []map[string]json.RawMessage `json:"feeds"`
}

func decodeFeed(r io.Reader) ([]vitals.Reading, error) {
	var body feedBody
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %w", errMalformedBody, err)
	}

	readings := make([]vitals.Reading, 0, len(body.Feeds))
	for _, entry := range body.Feeds {
		if entry == nil {
			continue
		}
		readings = append(readings, parseEntry(entry))
	}
	return readings, nil
}
