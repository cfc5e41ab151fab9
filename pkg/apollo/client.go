// Package apollo provides a client for the Apollo.io people search and
// enrichment API.
package apollo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// Client defines the Apollo API operations used by the sourcing pipeline.
type Client interface {
	// SearchPeople runs one page of a people search.
	SearchPeople(ctx context.Context, req SearchRequest) (*SearchResult, error)
	// MatchPerson resolves a single person by source ID or fuzzy fields.
	// A nil person with a nil error means the source has no match; only
	// transport, auth, or server failures return an error.
	MatchPerson(ctx context.Context, req MatchRequest) (*Person, error)
	// Health verifies credentials and reachability with a one-record search.
	Health(ctx context.Context) error
}

// Limiter gates every outbound call. One instance is shared across search,
// enrichment, and health probes so the external ceiling holds process-wide.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// APIError is a non-success response from the Apollo API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("apollo: status %d: %s", e.StatusCode, e.Body)
}

// DecodeError is a response payload that could not be parsed.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("apollo: malformed response: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Option configures the Apollo client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithLimiter gates all requests through the given admission limiter.
func WithLimiter(l Limiter) Option {
	return func(c *httpClient) {
		c.limiter = l
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter Limiter
}

// NewClient creates an Apollo client. Callers own the instance and pass it
// explicitly; there is no package-level default.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://api.apollo.io/v1",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// retryableStatusCode returns true if the HTTP status code should trigger a retry.
func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable
}

// postJSON executes a POST with exponential backoff retries on transient
// failures (429, 500, 502, 503). Every attempt is a fresh outbound call and
// takes its own admission from the limiter. Returns the response body and
// status code, or the last error after exhausting retries.
func (c *httpClient) postJSON(ctx context.Context, path string, payload any) ([]byte, int, error) {
	const maxAttempts = 3
	backoff := 1 * time.Second

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, eris.Wrap(err, "apollo: marshal request")
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Acquire(ctx); err != nil {
				return nil, 0, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, 0, eris.Wrap(err, "apollo: create request")
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Cache-Control", "no-cache")
		req.Header.Set("X-Api-Key", c.apiKey)

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			if attempt < maxAttempts {
				select {
				case <-ctx.Done():
					return nil, 0, ctx.Err()
				case <-time.After(backoff):
				}
				backoff *= 2
				continue
			}
			return nil, 0, lastErr
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, resp.StatusCode, eris.Wrap(readErr, "apollo: read response body")
		}

		if retryableStatusCode(resp.StatusCode) && attempt < maxAttempts {
			lastErr = eris.Errorf("apollo: status %d: %s", resp.StatusCode, string(respBody))
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}

		return respBody, resp.StatusCode, nil
	}

	return nil, 0, lastErr
}

func (c *httpClient) SearchPeople(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	if req.Page < 1 {
		req.Page = 1
	}
	if req.PerPage < 1 {
		req.PerPage = 25
	}
	if req.PerPage > 100 {
		req.PerPage = 100
	}

	payload := searchPayload{
		Page:                  req.Page,
		PerPage:               req.PerPage,
		RevealPersonalEmails:  req.RevealEmails,
		PersonTitles:          req.Titles,
		PersonLocations:       req.PersonLocations,
		PersonSeniorities:     req.Seniorities,
		OrganizationLocations: req.OrgLocations,
		OrganizationIDs:       req.OrgIDs,
		IndustryTagIDs:        req.IndustryTagIDs,
		OrganizationName:      req.OrganizationName,
		Keywords:              req.Keywords,
	}
	if req.VerifiedOnly {
		payload.ContactEmailStatus = []string{"verified"}
	}

	body, statusCode, err := c.postJSON(ctx, "/mixed_people/api_search", payload)
	if err != nil {
		return nil, err
	}

	if statusCode != http.StatusOK {
		return nil, &APIError{StatusCode: statusCode, Body: string(body)}
	}

	var result SearchResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &DecodeError{Err: err}
	}

	return &result, nil
}

func (c *httpClient) MatchPerson(ctx context.Context, req MatchRequest) (*Person, error) {
	if req.empty() {
		return nil, eris.New("apollo: match requires at least one identifying field")
	}

	body, statusCode, err := c.postJSON(ctx, "/people/match", req)
	if err != nil {
		return nil, err
	}

	// Not-found and unprocessable mean the source has no data for this
	// person. That is an expected outcome, not a failure.
	if statusCode == http.StatusNotFound || statusCode == http.StatusUnprocessableEntity {
		return nil, nil
	}

	if statusCode != http.StatusOK {
		return nil, &APIError{StatusCode: statusCode, Body: string(body)}
	}

	var result matchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &DecodeError{Err: err}
	}

	if result.Person == nil {
		if result.Email != "" {
			return &Person{Email: result.Email}, nil
		}
		return nil, nil
	}

	return result.Person, nil
}

func (c *httpClient) Health(ctx context.Context) error {
	_, err := c.SearchPeople(ctx, SearchRequest{Page: 1, PerPage: 1})
	if err != nil {
		return eris.Wrap(err, "apollo: health check")
	}
	return nil
}
