// Package hubspot provides a minimal HubSpot CRM v3 client covering the
// objects this service touches: deal search and update, task search,
// deletion and associations. All calls share one rate limiter so pages and
// patches never burst past the portal's rate limits.
package hubspot

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
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL        = "https://api.hubapi.com"
	defaultRequestsPerSec = 10
	maxAttempts           = 3
	initialBackoff        = 1 * time.Second
)

// Client defines the HubSpot operations used by the reconciliation engine.
type Client interface {
	// SearchDeals runs one page of a CRM deal search.
	SearchDeals(ctx context.Context, req SearchRequest) (*DealSearchResponse, error)
	// UpdateDealStage moves a deal to the given pipeline stage.
	UpdateDealStage(ctx context.Context, dealID, stageID string) error
	// SearchTasks runs one page of a CRM task search.
	SearchTasks(ctx context.Context, req SearchRequest) (*TaskSearchResponse, error)
	// DeleteTask archives a task.
	DeleteTask(ctx context.Context, taskID string) error
	// TaskDealAssociations returns the IDs of the deals a task hangs on.
	TaskDealAssociations(ctx context.Context, taskID string) ([]string, error)
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the HubSpot API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *httpClient) {
		c.http = client
	}
}

// WithRateLimit paces requests at n per second, one at a time. Values <= 0
// disable pacing.
func WithRateLimit(n float64) Option {
	return func(c *httpClient) {
		if n <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(n), 1)
	}
}

// NewClient creates a HubSpot client authenticating with the given private
// app token.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(defaultRequestsPerSec), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// APIError is returned when HubSpot responds with a non-2xx status after
// retries are exhausted.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("hubspot: HTTP %d: %s", e.StatusCode, e.Body)
}

func retryable(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable:
		return true
	}
	return false
}

// doJSON sends one API call, retrying transport errors and retryable
// statuses with exponential backoff. The request body is marshalled once
// and replayed on every attempt. A nil out discards the response body.
func (c *httpClient) doJSON(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return eris.Wrap(err, "hubspot: marshal request")
		}
	}

	backoff := initialBackoff
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return eris.Wrap(ctx.Err(), "hubspot: request cancelled")
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		if err := c.wait(ctx); err != nil {
			return eris.Wrap(err, "hubspot: rate limit wait")
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return eris.Wrap(err, "hubspot: create request")
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = eris.Wrap(err, "hubspot: request failed")
			continue
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = eris.Wrap(err, "hubspot: read response")
			continue
		}

		if retryable(resp.StatusCode) {
			lastErr = &APIError{StatusCode: resp.StatusCode, Body: string(data)}
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &APIError{StatusCode: resp.StatusCode, Body: string(data)}
		}
		if out != nil && len(data) > 0 {
			if err := json.Unmarshal(data, out); err != nil {
				return eris.Wrap(err, "hubspot: decode response")
			}
		}
		return nil
	}
	return eris.Wrapf(lastErr, "hubspot: giving up after %d attempts", maxAttempts)
}

func (c *httpClient) SearchDeals(ctx context.Context, req SearchRequest) (*DealSearchResponse, error) {
	var resp DealSearchResponse
	if err := c.doJSON(ctx, http.MethodPost, "/crm/v3/objects/deals/search", req, &resp); err != nil {
		return nil, eris.Wrap(err, "hubspot: search deals")
	}
	return &resp, nil
}

func (c *httpClient) UpdateDealStage(ctx context.Context, dealID, stageID string) error {
	body := updateRequest{Properties: map[string]string{propDealStage: stageID}}
	if err := c.doJSON(ctx, http.MethodPatch, "/crm/v3/objects/deals/"+dealID, body, nil); err != nil {
		return eris.Wrapf(err, "hubspot: update stage of deal %s", dealID)
	}
	return nil
}

func (c *httpClient) SearchTasks(ctx context.Context, req SearchRequest) (*TaskSearchResponse, error) {
	var resp TaskSearchResponse
	if err := c.doJSON(ctx, http.MethodPost, "/crm/v3/objects/tasks/search", req, &resp); err != nil {
		return nil, eris.Wrap(err, "hubspot: search tasks")
	}
	return &resp, nil
}

func (c *httpClient) DeleteTask(ctx context.Context, taskID string) error {
	if err := c.doJSON(ctx, http.MethodDelete, "/crm/v3/objects/tasks/"+taskID, nil, nil); err != nil {
		return eris.Wrapf(err, "hubspot: delete task %s", taskID)
	}
	return nil
}

func (c *httpClient) TaskDealAssociations(ctx context.Context, taskID string) ([]string, error) {
	var resp associationsResponse
	path := "/crm/v4/objects/tasks/" + taskID + "/associations/deals"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, eris.Wrapf(err, "hubspot: associations of task %s", taskID)
	}
	ids := make([]string, 0, len(resp.Results))
	for _, r := range resp.Results {
		ids = append(ids, strconv.FormatInt(r.ToObjectID, 10))
	}
	return ids, nil
}
