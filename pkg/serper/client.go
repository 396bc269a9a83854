// Package serper is a client for the Serper.dev Google search API.
package serper

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/vindex/vindex/internal/resilience"
)

const (
	defaultBaseURL    = "https://google.serper.dev"
	defaultMaxResults = 3
	defaultTimeout    = 10 * time.Second
)

// Client performs text and image searches.
type Client interface {
	// TextSearch returns the organic results for query. An empty result set
	// is a successful response with no Organic entries.
	TextSearch(ctx context.Context, query string) (*SearchResponse, error)
	// ImageSearch returns the URL of the first image result, or "" when the
	// search succeeded without results.
	ImageSearch(ctx context.Context, query string) (string, error)
}

// SearchResponse is the response from POST /search.
type SearchResponse struct {
	SearchParameters SearchParameters `json:"searchParameters"`
	KnowledgeGraph   *KnowledgeGraph  `json:"knowledgeGraph,omitempty"`
	Organic          []OrganicResult  `json:"organic"`
}

// SearchParameters echoes the query Serper executed.
type SearchParameters struct {
	Q   string `json:"q"`
	Num int    `json:"num,omitempty"`
}

// KnowledgeGraph is Google's entity panel, when one is shown.
type KnowledgeGraph struct {
	Title       string            `json:"title"`
	Type        string            `json:"type,omitempty"`
	Description string            `json:"description,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// OrganicResult is a single web result.
type OrganicResult struct {
	Title    string `json:"title"`
	Link     string `json:"link"`
	Snippet  string `json:"snippet"`
	Position int    `json:"position"`
}

// ImagesResponse is the response from POST /images.
type ImagesResponse struct {
	Images []ImageResult `json:"images"`
}

// ImageResult is a single image result.
type ImageResult struct {
	Title        string `json:"title"`
	ImageURL     string `json:"imageUrl"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
	Link         string `json:"link,omitempty"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		if url != "" {
			c.baseURL = url
		}
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithMaxResults sets the number of organic results requested.
func WithMaxResults(n int) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.maxResults = n
		}
	}
}

// WithRateLimit caps outbound requests per second. Zero disables limiting.
func WithRateLimit(perSec float64) Option {
	return func(c *httpClient) {
		if perSec > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSec), 1)
		}
	}
}

type httpClient struct {
	apiKey     string
	baseURL    string
	maxResults int
	limiter    *rate.Limiter
	http       *http.Client
}

// NewClient creates a Serper API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		maxResults: defaultMaxResults,
		http: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type searchRequest struct {
	Q   string `json:"q"`
	Num int    `json:"num"`
}

func (c *httpClient) TextSearch(ctx context.Context, query string) (*SearchResponse, error) {
	var result SearchResponse
	if err := c.post(ctx, "/search", searchRequest{Q: query, Num: c.maxResults}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *httpClient) ImageSearch(ctx context.Context, query string) (string, error) {
	var result ImagesResponse
	if err := c.post(ctx, "/images", searchRequest{Q: query, Num: c.maxResults}, &result); err != nil {
		return "", err
	}
	for _, img := range result.Images {
		if img.ImageURL != "" {
			return img.ImageURL, nil
		}
	}
	return "", nil
}

func (c *httpClient) post(ctx context.Context, path string, payload any, out any) error {
	if c.apiKey == "" {
		return eris.New("serper: api key not configured")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "serper: rate limit wait")
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "serper: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "serper: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "serper: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "serper: read response")
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("serper: unexpected status %d: %s", resp.StatusCode, string(respBody))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(err, resp.StatusCode)
		}
		return err
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return eris.Wrap(err, "serper: unmarshal response")
	}
	return nil
}
