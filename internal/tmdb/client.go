package tmdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"nasferry/internal/services"
)

// Catalog defines the TMDB operations used by show import and search.
type Catalog interface {
	SearchTV(ctx context.Context, query string) (*Response, error)
	GetTVDetails(ctx context.Context, showID int64) (*TVDetails, error)
	GetSeasonDetails(ctx context.Context, showID int64, seasonNumber int) (*SeasonDetails, error)
	GetEpisodeGroup(ctx context.Context, groupID string) (*EpisodeGroup, error)
}

// Client provides access to the TMDB API.
type Client struct {
	apiKey     string
	baseURL    string
	language   string
	httpClient *http.Client
	cache      *expirable.LRU[string, []byte]
}

var _ Catalog = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout overrides the default 10s request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

// WithCache enables the response cache. A non-positive size disables it.
func WithCache(size int, ttl time.Duration) Option {
	return func(c *Client) {
		if size <= 0 {
			c.cache = nil
			return
		}
		c.cache = expirable.NewLRU[string, []byte](size, nil, ttl)
	}
}

// New creates a TMDB client.
func New(apiKey, baseURL, language string, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("tmdb api key required")
	}
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("tmdb base url required")
	}
	client := &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		language:   strings.TrimSpace(language),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// SearchTV searches TMDB for shows matching query.
func (c *Client) SearchTV(ctx context.Context, query string) (*Response, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("query must not be empty")
	}
	params := url.Values{}
	params.Set("query", query)
	var payload Response
	if err := c.getJSON(ctx, "/search/tv", params, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// GetTVDetails fetches show details with episode groups and alternative titles.
func (c *Client) GetTVDetails(ctx context.Context, showID int64) (*TVDetails, error) {
	if showID <= 0 {
		return nil, errors.New("show id must be positive")
	}
	params := url.Values{}
	params.Set("append_to_response", "episode_groups,alternative_titles")
	var payload TVDetails
	if err := c.getJSON(ctx, "/tv/"+strconv.FormatInt(showID, 10), params, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// GetSeasonDetails fetches one broadcast season with its episodes.
func (c *Client) GetSeasonDetails(ctx context.Context, showID int64, seasonNumber int) (*SeasonDetails, error) {
	if showID <= 0 {
		return nil, errors.New("show id must be positive")
	}
	endpoint := fmt.Sprintf("/tv/%d/season/%d", showID, seasonNumber)
	var payload SeasonDetails
	if err := c.getJSON(ctx, endpoint, url.Values{}, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// GetEpisodeGroup fetches an episode group with its ordered episodes.
func (c *Client) GetEpisodeGroup(ctx context.Context, groupID string) (*EpisodeGroup, error) {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return nil, errors.New("episode group id must not be empty")
	}
	var payload EpisodeGroup
	if err := c.getJSON(ctx, "/tv/episode_group/"+url.PathEscape(groupID), url.Values{}, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (c *Client) getJSON(ctx context.Context, endpointPath string, params url.Values, out any) error {
	if c.language != "" {
		params.Set("language", c.language)
	}
	cacheKey := endpointPath + "?" + params.Encode()
	if c.cache != nil {
		if body, ok := c.cache.Get(cacheKey); ok {
			return decode(body, out)
		}
	}

	endpoint, err := url.Parse(c.baseURL + endpointPath)
	if err != nil {
		return fmt.Errorf("parse tmdb url: %w", err)
	}
	query := url.Values{}
	for key, values := range params {
		query[key] = values
	}
	query.Set("api_key", c.apiKey)
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	requestStart := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(requestStart)
	if err != nil {
		return services.Wrap(services.ErrTransient, "tmdb", endpointPath, fmt.Sprintf("execute request (latency=%v)", latency), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return services.Wrap(services.ErrTransient, "tmdb", endpointPath, "read response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return statusError(endpointPath, resp.StatusCode, latency)
	}
	if err := decode(body, out); err != nil {
		return err
	}
	if c.cache != nil {
		c.cache.Add(cacheKey, body)
	}
	return nil
}

func decode(body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode tmdb response: %w", err)
	}
	return nil
}

func statusError(endpointPath string, status int, latency time.Duration) error {
	message := fmt.Sprintf("returned %d (latency=%v)", status, latency)
	switch {
	case status == http.StatusNotFound:
		return services.Wrap(services.ErrNotFound, "tmdb", endpointPath, message, nil)
	case status == http.StatusTooManyRequests || status >= 500:
		return services.Wrap(services.ErrTransient, "tmdb", endpointPath, message, nil)
	case status == http.StatusUnauthorized:
		return services.Wrap(services.ErrConfiguration, "tmdb", endpointPath, message+"; check tmdb.api_key", nil)
	default:
		return services.Wrap(services.ErrUpstream, "tmdb", endpointPath, message, nil)
	}
}
