// Package imagegen provides the image generation client used by the
// image sequencer.
package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://api.imagegen.dev/v1"

// Client defines the image generation operations.
type Client interface {
	// Generate renders one image, optionally conditioned on a reference
	// image for visual consistency.
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}

// GenerateRequest parameterizes one image generation.
type GenerateRequest struct {
	Prompt       string `json:"prompt"`
	ReferenceURL string `json:"reference_url,omitempty"`
	Aspect       string `json:"aspect,omitempty"`
	Model        string `json:"model,omitempty"`
	Seed         int64  `json:"seed,omitempty"`
}

// GenerateResponse is the rendered image.
type GenerateResponse struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Seed   int64  `json:"seed"`
}

// APIError is returned when the API responds with a non-2xx status.
// Code distinguishes content-policy rejections from transient failures.
type APIError struct {
	StatusCode int
	Code       string
	Body       string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("imagegen: status %d (%s): %s", e.StatusCode, e.Code, e.Body)
}

// IsContentPolicy reports whether the generation was rejected by the
// vendor's content policy. These rejections never succeed on retry.
func (e *APIError) IsContentPolicy() bool {
	return e.Code == "content_policy_violation" || e.StatusCode == http.StatusUnprocessableEntity
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) { c.baseURL = url }
}

// WithModel sets the default model for generations.
func WithModel(model string) Option {
	return func(c *httpClient) { c.model = model }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

type httpClient struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
}

// NewClient creates an image generation client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 120 * time.Second,
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

type apiErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *httpClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	if req.Prompt == "" {
		return nil, eris.New("imagegen: prompt is required")
	}
	if req.Model == "" {
		req.Model = c.model
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "imagegen: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generations", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "imagegen: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "imagegen: send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "imagegen: read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var parsed apiErrorBody
		_ = json.Unmarshal(respBody, &parsed)
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Code:       parsed.Error.Code,
			Body:       string(respBody),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var result GenerateResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "imagegen: unmarshal response")
	}
	return &result, nil
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
