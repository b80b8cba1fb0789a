// Package zep provides the knowledge-graph client used for entity
// context retrieval and post-publish episode sync.
package zep

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://api.getzep.com/api/v2"

// Client defines the graph operations used by the pipeline.
type Client interface {
	// AddEpisode appends a text episode to a graph. Episodes are
	// asynchronously distilled into nodes and edges on the server.
	AddEpisode(ctx context.Context, req AddEpisodeRequest) (*AddEpisodeResponse, error)
	// SearchGraph retrieves nodes and edges relevant to a query.
	SearchGraph(ctx context.Context, req SearchRequest) (*SearchResponse, error)
	// GetEntityEdges returns the edges attached to a named entity node.
	GetEntityEdges(ctx context.Context, graphID, entityName string) ([]Edge, error)
}

// AddEpisodeRequest appends one episode to a graph.
type AddEpisodeRequest struct {
	GraphID string `json:"graph_id"`
	Type    string `json:"type"` // "text" or "json"
	Data    string `json:"data"`
}

// AddEpisodeResponse acknowledges an accepted episode.
type AddEpisodeResponse struct {
	UUID      string    `json:"uuid"`
	CreatedAt time.Time `json:"created_at"`
}

// SearchRequest queries a graph.
type SearchRequest struct {
	GraphID string `json:"graph_id"`
	Query   string `json:"query"`
	Scope   string `json:"scope,omitempty"` // "edges" or "nodes"
	Limit   int    `json:"limit,omitempty"`
}

// SearchResponse holds graph search results.
type SearchResponse struct {
	Edges []Edge `json:"edges"`
	Nodes []Node `json:"nodes"`
}

// Node is a graph entity node.
type Node struct {
	UUID    string `json:"uuid"`
	Name    string `json:"name"`
	Summary string `json:"summary"`
	Labels  []string `json:"labels,omitempty"`
}

// Edge is a relationship fact between two nodes.
type Edge struct {
	UUID      string     `json:"uuid"`
	Name      string     `json:"name"`
	Fact      string     `json:"fact"`
	SourceID  string     `json:"source_node_uuid"`
	TargetID  string     `json:"target_node_uuid"`
	ValidAt   *time.Time `json:"valid_at,omitempty"`
	InvalidAt *time.Time `json:"invalid_at,omitempty"`
}

// APIError is returned when the API responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("zep: status %d: %s", e.StatusCode, e.Body)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = u }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a graph client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) AddEpisode(ctx context.Context, req AddEpisodeRequest) (*AddEpisodeResponse, error) {
	if req.GraphID == "" {
		return nil, eris.New("zep: graph_id is required")
	}
	if req.Type == "" {
		req.Type = "text"
	}
	var result AddEpisodeResponse
	if err := c.do(ctx, http.MethodPost, "/graph", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *httpClient) SearchGraph(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if req.GraphID == "" {
		return nil, eris.New("zep: graph_id is required")
	}
	var result SearchResponse
	if err := c.do(ctx, http.MethodPost, "/graph/search", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *httpClient) GetEntityEdges(ctx context.Context, graphID, entityName string) ([]Edge, error) {
	resp, err := c.SearchGraph(ctx, SearchRequest{
		GraphID: graphID,
		Query:   entityName,
		Scope:   "edges",
		Limit:   25,
	})
	if err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("zep: edges for %q", entityName))
	}
	return resp.Edges, nil
}

func (c *httpClient) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return eris.Wrap(err, "zep: marshal request")
		}
		body = bytes.NewReader(raw)
	}

	u, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return eris.Wrap(err, "zep: build url")
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return eris.Wrap(err, "zep: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Api-Key "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return eris.Wrap(err, "zep: send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "zep: read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return eris.Wrap(err, "zep: unmarshal response")
		}
	}
	return nil
}

func parseRetryAfter(h string) time.Duration {
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(h); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
