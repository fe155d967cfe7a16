package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ritzau/kg-explorer/pkg/logging"
	"github.com/ritzau/kg-explorer/pkg/model"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is where the backing query service listens by default.
	DefaultBaseURL = "http://localhost:8000"

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the sustained request rate towards the backing
	// service, in requests per second.
	DefaultRateLimit = 20.0

	// DefaultBurst lets one full enrichment batch go out at once.
	DefaultBurst = 10

	// APIKeyEnv names the environment variable read for the API key.
	APIKeyEnv = "KG_EXPLORER_API_KEY"
)

// Client is a rate-limited HTTP client for the backing query service.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	apiKey     string
	baseURL    string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithAPIKey sets the API key sent as X-API-Key.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRateLimit replaces the request limiter. A non-positive rate disables
// limiting.
func WithRateLimit(perSecond float64, burst int) ClientOption {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// NewClient creates a client for the backing service at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultBurst),
		baseURL:    strings.TrimRight(baseURL, "/"),
	}

	if key := os.Getenv(APIKeyEnv); key != "" {
		c.apiKey = key
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// BaseURL returns the service root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Search implements Service.
func (c *Client) Search(ctx context.Context, req SearchRequest) (*model.Snapshot, error) {
	var snap model.Snapshot
	if err := c.do(ctx, http.MethodPost, "/api/graph/search", nil, req, &snap); err != nil {
		return nil, fmt.Errorf("search %q: %w", req.Query, err)
	}
	return normalize(&snap), nil
}

// Filter implements Service.
func (c *Client) Filter(ctx context.Context, req FilterRequest) (*model.Snapshot, error) {
	var snap model.Snapshot
	if err := c.do(ctx, http.MethodPost, "/api/graph/filter", nil, req, &snap); err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}
	return normalize(&snap), nil
}

// Full implements Service.
func (c *Client) Full(ctx context.Context, req FullRequest) (*model.Snapshot, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(req.Limit))
	query.Set("include_isolated", strconv.FormatBool(req.IncludeIsolated))

	var snap model.Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/graph/full", query, nil, &snap); err != nil {
		return nil, fmt.Errorf("full snapshot: %w", err)
	}
	return normalize(&snap), nil
}

// ResolveTitle implements Service.
func (c *Client) ResolveTitle(ctx context.Context, externalID string) (string, error) {
	var resp struct {
		Title string `json:"title"`
	}
	path := "/api/publications/" + url.PathEscape(externalID) + "/title"
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return "", fmt.Errorf("resolve title of %s: %w", externalID, err)
	}
	if strings.TrimSpace(resp.Title) == "" {
		return "", fmt.Errorf("resolve title of %s: %w: empty title", externalID, ErrInvalidResponse)
	}
	return resp.Title, nil
}

// ResolveRecord implements Service.
func (c *Client) ResolveRecord(ctx context.Context, externalID string) (*model.Record, error) {
	var rec model.Record
	path := "/api/publications/" + url.PathEscape(externalID)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &rec); err != nil {
		return nil, fmt.Errorf("resolve record of %s: %w", externalID, err)
	}
	return &rec, nil
}

// Stats implements Browser.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	if err := c.do(ctx, http.MethodGet, "/api/graph/stats", nil, nil, &stats); err != nil {
		return nil, fmt.Errorf("graph stats: %w", err)
	}
	return &stats, nil
}

// NodeDetails implements Browser.
func (c *Client) NodeDetails(ctx context.Context, id string, maxNeighbors int) (*NodeDetails, error) {
	if maxNeighbors <= 0 {
		maxNeighbors = DefaultMaxNeighbors
	}
	query := url.Values{}
	query.Set("include_neighbors", "true")
	query.Set("max_neighbors", strconv.Itoa(maxNeighbors))

	var details NodeDetails
	if err := c.do(ctx, http.MethodGet, "/api/graph/node/"+url.PathEscape(id), query, nil, &details); err != nil {
		return nil, fmt.Errorf("node details of %s: %w", id, err)
	}
	return &details, nil
}

// Health implements Browser.
func (c *Client) Health(ctx context.Context) error {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/graph/health", nil, nil, &resp); err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	if resp.Status != "healthy" {
		return fmt.Errorf("%w: status %q", ErrUnavailable, resp.Status)
	}
	return nil
}

// do issues one rate-limited JSON request and decodes the response into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if requestID := logging.GetRequestID(ctx); requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	logging.TraceContext(ctx, "backend request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"durationMs", time.Since(start).Milliseconds(),
	)

	if err := checkHTTPErrors(resp, path); err != nil {
		return err
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

// checkHTTPErrors returns an error if the HTTP response indicates a problem.
func checkHTTPErrors(resp *http.Response, path string) error {
	if resp.StatusCode < 400 {
		return nil
	}

	message := http.StatusText(resp.StatusCode)
	var body struct {
		Detail string `json:"detail"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if json.Unmarshal(data, &body) == nil && body.Detail != "" {
		message = body.Detail
	}

	switch {
	case resp.StatusCode == 401 || resp.StatusCode == 403:
		return fmt.Errorf("%w: status %d", ErrAuthError, resp.StatusCode)
	case resp.StatusCode == 429:
		return fmt.Errorf("%w: status %d", ErrRateLimited, resp.StatusCode)
	case resp.StatusCode == 404:
		return fmt.Errorf("%w: %w", ErrNotFound, &APIError{StatusCode: resp.StatusCode, Message: message, Path: path})
	default:
		return &APIError{StatusCode: resp.StatusCode, Message: message, Path: path}
	}
}

// normalize makes sure decoded snapshots never carry nil slices.
func normalize(s *model.Snapshot) *model.Snapshot {
	if s.Nodes == nil {
		s.Nodes = make([]model.Node, 0)
	}
	if s.Edges == nil {
		s.Edges = make([]model.Edge, 0)
	}
	return s
}
