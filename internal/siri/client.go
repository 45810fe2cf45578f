package siri

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"siri-poller/internal/logging"
)

var (
	// ErrTransport covers network errors, timeouts and non-2xx responses.
	ErrTransport = errors.New("siri: transport failure")
	// ErrEnvelope covers a malformed JSONP wrapper or invalid JSON.
	ErrEnvelope = errors.New("siri: envelope failure")
	// ErrShape means the payload parsed but the vehicle-monitoring path is missing.
	ErrShape = errors.New("siri: unexpected payload shape")
)

const maxBodyBytes = 8 << 20

// ClientConfig describes the upstream vehicle-monitoring endpoint.
type ClientConfig struct {
	BaseURL     string
	APIKey      string
	OperatorRef string
	Callback    string
	Timeout     time.Duration
}

// Client fetches SIRI vehicle-monitoring payloads for one line at a time.
type Client struct {
	base        *url.URL
	apiKey      string
	operatorRef string
	callback    string
	http        *http.Client
	logger      *slog.Logger
	now         func() time.Time
}

// NewClient validates cfg and returns a Client. A nil logger discards output.
func NewClient(cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http(s): %q", cfg.BaseURL)
	}
	if cfg.Callback == "" {
		cfg.Callback = "cb"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Client{
		base:        u,
		apiKey:      cfg.APIKey,
		operatorRef: cfg.OperatorRef,
		callback:    cfg.Callback,
		http:        &http.Client{Timeout: cfg.Timeout},
		logger:      logger,
		now:         time.Now,
	}, nil
}

// RequestURL builds the query for line at the given instant. The "_"
// parameter is a millisecond cache-buster.
func (c *Client) RequestURL(line int, at time.Time) string {
	u := *c.base
	q := u.Query()
	q.Set("key", c.apiKey)
	q.Set("callback", c.callback)
	q.Set("_", strconv.FormatInt(at.UnixMilli(), 10))
	q.Set("OperatorRef", c.operatorRef)
	q.Set("LineRef", strconv.Itoa(line))
	q.Set("type", "json")
	u.RawQuery = q.Encode()
	return u.String()
}

// Fetch performs one request for line and returns the decoded payload.
// Errors wrap ErrTransport or ErrEnvelope.
func (c *Client) Fetch(ctx context.Context, line int) (Node, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.RequestURL(line, c.now()), nil)
	if err != nil {
		return Node{}, fmt.Errorf("%w: create request: %v", ErrTransport, err)
	}
	req.Header.Set("Accept", "application/javascript, application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Node{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer logging.SafeCloseWithLogging(resp.Body, c.logger, "siri_response_body")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Node{}, fmt.Errorf("%w: upstream returned status %d", ErrTransport, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Node{}, fmt.Errorf("%w: read body: %v", ErrTransport, err)
	}
	return DecodeJSONP(body)
}
