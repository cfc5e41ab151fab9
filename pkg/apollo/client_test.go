package apollo

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchPeople_Success(t *testing.T) {
	t.Parallel()

	want := SearchResult{
		People: []Person{
			{
				ID:        "p-100",
				Name:      "Jane Smith",
				Email:     "jane@acme.com",
				Title:     "Senior Data Scientist",
				Seniority: "senior",
				City:      "Chicago",
				State:     "IL",
				Organization: &Organization{
					Name:     "Acme Corp",
					Industry: "information technology & services",
				},
			},
		},
		Pagination: Pagination{Page: 1, PerPage: 25, TotalEntries: 1, TotalPages: 1},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/mixed_people/api_search", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, float64(1), payload["page"])
		assert.Equal(t, float64(25), payload["per_page"])
		assert.Equal(t, []any{"Data Scientist"}, payload["person_titles"])
		assert.Equal(t, "Acme Corp", payload["q_organization_name"])
		assert.Equal(t, false, payload["reveal_personal_emails"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(want)
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	got, err := client.SearchPeople(context.Background(), SearchRequest{
		Titles:           []string{"Data Scientist"},
		OrganizationName: "Acme Corp",
	})

	require.NoError(t, err)
	require.Len(t, got.People, 1)
	assert.Equal(t, "p-100", got.People[0].ID)
	assert.Equal(t, "Acme Corp", got.People[0].Organization.Name)
	assert.Equal(t, 1, got.Pagination.TotalPages)
}

func TestSearchPeople_ClampsPerPage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, float64(100), payload["per_page"])
		assert.Equal(t, float64(1), payload["page"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(SearchResult{})
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.SearchPeople(context.Background(), SearchRequest{PerPage: 500})
	require.NoError(t, err)
}

func TestSearchPeople_VerifiedOnly(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, []any{"verified"}, payload["contact_email_status"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(SearchResult{})
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.SearchPeople(context.Background(), SearchRequest{VerifiedOnly: true})
	require.NoError(t, err)
}

func TestSearchPeople_APIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":"api key invalid"}`))
	}))
	defer srv.Close()

	client := NewClient("bad-key", WithBaseURL(srv.URL))
	_, err := client.SearchPeople(context.Background(), SearchRequest{})

	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "api key invalid")
}

func TestSearchPeople_MalformedJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.SearchPeople(context.Background(), SearchRequest{})

	require.Error(t, err)
	var decErr *DecodeError
	assert.True(t, errors.As(err, &decErr))
}

func TestSearchPeople_RetryOn429(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := attempts.Add(1)
		if n <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(SearchResult{People: []Person{{ID: "p-1"}}})
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	got, err := client.SearchPeople(context.Background(), SearchRequest{})

	require.NoError(t, err)
	assert.Len(t, got.People, 1)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestMatchPerson_ByID(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/people/match", r.URL.Path)

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "p-42", payload["id"])
		assert.NotContains(t, payload, "first_name")

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"person":{"id":"p-42","email":"jane@acme.com","title":"Staff Engineer","phone_numbers":[{"raw_number":"+1 312 555 0100","sanitized_number":"+13125550100"}]}}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	got, err := client.MatchPerson(context.Background(), MatchRequest{ID: "p-42"})

	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "jane@acme.com", got.Email)
	assert.Equal(t, "+13125550100", got.Phone())
}

func TestMatchPerson_NoMatchIsNotAnError(t *testing.T) {
	t.Parallel()

	for _, status := range []int{http.StatusNotFound, http.StatusUnprocessableEntity} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":"no match"}`))
		}))

		client := NewClient("test-key", WithBaseURL(srv.URL))
		got, err := client.MatchPerson(context.Background(), MatchRequest{FirstName: "Ghost", LastName: "Person"})

		require.NoError(t, err, "status %d should mean no data, not failure", status)
		assert.Nil(t, got)
		srv.Close()
	}
}

func TestMatchPerson_TopLevelEmailFallback(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"email":"fallback@acme.com"}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	got, err := client.MatchPerson(context.Background(), MatchRequest{FirstName: "Jane", OrganizationName: "Acme"})

	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "fallback@acme.com", got.Email)
}

func TestMatchPerson_EmptyPersonMeansNoData(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"person":null}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	got, err := client.MatchPerson(context.Background(), MatchRequest{FirstName: "Jane", LastName: "Smith"})

	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMatchPerson_RequiresIdentifyingField(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should be sent for an empty match")
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.MatchPerson(context.Background(), MatchRequest{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "identifying field")
}

func TestMatchPerson_ServerErrorAfterRetries(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`internal error`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.MatchPerson(context.Background(), MatchRequest{ID: "p-1"})

	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, int32(3), attempts.Load())
}

type countingLimiter struct {
	acquires atomic.Int32
	deny     error
}

func (l *countingLimiter) Acquire(_ context.Context) error {
	l.acquires.Add(1)
	return l.deny
}

func TestClient_LimiterGatesEveryCall(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(SearchResult{})
	}))
	defer srv.Close()

	limiter := &countingLimiter{}
	client := NewClient("test-key", WithBaseURL(srv.URL), WithLimiter(limiter))

	_, err := client.SearchPeople(context.Background(), SearchRequest{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), limiter.acquires.Load())
}

func TestClient_LimiterDenialShortCircuits(t *testing.T) {
	t.Parallel()

	denied := errors.New("admission denied")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("denied admission must not reach the API")
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL), WithLimiter(&countingLimiter{deny: denied}))

	_, err := client.SearchPeople(context.Background(), SearchRequest{})
	require.ErrorIs(t, err, denied)
}

func TestHealth(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, float64(1), payload["per_page"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(SearchResult{})
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	assert.NoError(t, client.Health(context.Background()))
}

func TestNewClient_Defaults(t *testing.T) {
	t.Parallel()
	c := NewClient("my-key")
	hc := c.(*httpClient)
	assert.Equal(t, "my-key", hc.apiKey)
	assert.Equal(t, "https://api.apollo.io/v1", hc.baseURL)
	assert.NotNil(t, hc.http)
	assert.Equal(t, 30*time.Second, hc.http.Timeout)
	assert.Nil(t, hc.limiter)
}

func TestRetryableStatusCode(t *testing.T) {
	assert.True(t, retryableStatusCode(429))
	assert.True(t, retryableStatusCode(500))
	assert.True(t, retryableStatusCode(502))
	assert.True(t, retryableStatusCode(503))
	assert.False(t, retryableStatusCode(200))
	assert.False(t, retryableStatusCode(404))
	assert.False(t, retryableStatusCode(422))
}
