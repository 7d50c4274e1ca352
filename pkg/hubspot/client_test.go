package hubspot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(srvURL string) Client {
	// No pacing in tests, the retry backoff is slow enough already.
	return NewClient("test-key", WithBaseURL(srvURL), WithRateLimit(0))
}

func TestSearchDeals_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/crm/v3/objects/deals/search", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req SearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.FilterGroups, 1)
		require.Len(t, req.FilterGroups[0].Filters, 1)
		assert.Equal(t, "dealstage", req.FilterGroups[0].Filters[0].PropertyName)
		assert.Equal(t, "EQ", req.FilterGroups[0].Filters[0].Operator)
		assert.Equal(t, "3594129636", req.FilterGroups[0].Filters[0].Value)
		assert.Equal(t, 100, req.Limit)
		assert.Contains(t, req.Properties, "dealname")
		assert.Contains(t, req.Properties, "offerte_id")

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(DealSearchResponse{
			Total: 1,
			Results: []DealResult{{
				ID: "901",
				Properties: DealProperties{
					DealName:  "Offerte #320450 - Jansen BV",
					DealStage: "3594129636",
					Amount:    "2600",
				},
			}},
			Paging: &Paging{Next: &PagingNext{After: "cursor-2"}},
		})
	}))
	defer srv.Close()

	got, err := testClient(srv.URL).SearchDeals(context.Background(), DealsByStageRequest("3594129636", 100, ""))

	require.NoError(t, err)
	require.Len(t, got.Results, 1)
	assert.Equal(t, "901", got.Results[0].ID)
	assert.Equal(t, "Offerte #320450 - Jansen BV", got.Results[0].Properties.DealName)
	assert.Equal(t, "2600", got.Results[0].Properties.Amount)
	assert.Equal(t, "cursor-2", got.NextAfter())
}

func TestSearchDeals_CursorForwarded(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req SearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "cursor-2", req.After)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(DealSearchResponse{Total: 0})
	}))
	defer srv.Close()

	got, err := testClient(srv.URL).SearchDeals(context.Background(), DealsByStageRequest("3594129636", 100, "cursor-2"))

	require.NoError(t, err)
	assert.Empty(t, got.NextAfter())
}

func TestSearchDeals_HTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message":"invalid token"}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).SearchDeals(context.Background(), DealsByStageRequest("x", 100, ""))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "invalid token")
}

func TestSearchDeals_MalformedJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).SearchDeals(context.Background(), DealsByStageRequest("x", 100, ""))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}

func TestUpdateDealStage_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/crm/v3/objects/deals/901", r.URL.Path)

		var req updateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "3594129638", req.Properties["dealstage"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"901"}`))
	}))
	defer srv.Close()

	err := testClient(srv.URL).UpdateDealStage(context.Background(), "901", "3594129638")

	require.NoError(t, err)
}

func TestUpdateDealStage_NotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"deal not found"}`))
	}))
	defer srv.Close()

	err := testClient(srv.URL).UpdateDealStage(context.Background(), "999", "3594129638")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "999")
}

func TestSearchTasks_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/crm/v3/objects/tasks/search", r.URL.Path)

		var req SearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.FilterGroups, 1)
		assert.Equal(t, "hs_task_subject", req.FilterGroups[0].Filters[0].PropertyName)
		assert.Equal(t, "CONTAINS_TOKEN", req.FilterGroups[0].Filters[0].Operator)
		assert.Equal(t, "Opvolgen", req.FilterGroups[0].Filters[0].Value)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(TaskSearchResponse{
			Total: 1,
			Results: []TaskResult{{
				ID:         "task-17",
				Properties: TaskProperties{Subject: "Opvolgen - Offerte #320450"},
			}},
		})
	}))
	defer srv.Close()

	got, err := testClient(srv.URL).SearchTasks(context.Background(), TasksBySubjectTokenRequest("Opvolgen", 100, ""))

	require.NoError(t, err)
	require.Len(t, got.Results, 1)
	assert.Equal(t, "task-17", got.Results[0].ID)
	assert.Equal(t, "Opvolgen - Offerte #320450", got.Results[0].Properties.Subject)
	assert.Empty(t, got.NextAfter())
}

func TestDeleteTask_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/crm/v3/objects/tasks/task-17", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := testClient(srv.URL).DeleteTask(context.Background(), "task-17")

	require.NoError(t, err)
}

func TestDeleteTask_NotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"task not found"}`))
	}))
	defer srv.Close()

	err := testClient(srv.URL).DeleteTask(context.Background(), "task-99")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestTaskDealAssociations_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/crm/v4/objects/tasks/task-17/associations/deals", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[{"toObjectId":901},{"toObjectId":902}]}`))
	}))
	defer srv.Close()

	got, err := testClient(srv.URL).TaskDealAssociations(context.Background(), "task-17")

	require.NoError(t, err)
	assert.Equal(t, []string{"901", "902"}, got)
}

func TestTaskDealAssociations_Empty(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	got, err := testClient(srv.URL).TaskDealAssociations(context.Background(), "task-17")

	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDoJSON_RetryOn429(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := attempts.Add(1)
		if n <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"message":"rate limit"}`))
			return
		}
		// The body must be replayed on every attempt.
		var req SearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "3594129636", req.FilterGroups[0].Filters[0].Value)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(DealSearchResponse{Total: 0})
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).SearchDeals(context.Background(), DealsByStageRequest("3594129636", 100, ""))

	require.NoError(t, err)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestDoJSON_RetryExhausted(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`service unavailable`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).SearchDeals(context.Background(), DealsByStageRequest("x", 100, ""))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Equal(t, int32(3), attempts.Load())
}

func TestDoJSON_NoRetryOnClientError(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"bad filter"}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).SearchDeals(context.Background(), DealsByStageRequest("x", 100, ""))

	require.Error(t, err)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestDoJSON_ContextCancellation(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testClient(srv.URL).SearchDeals(ctx, DealsByStageRequest("x", 100, ""))

	require.Error(t, err)
}

func TestNewClient_Defaults(t *testing.T) {
	t.Parallel()
	c := NewClient("my-key")
	hc := c.(*httpClient)
	assert.Equal(t, "my-key", hc.apiKey)
	assert.Equal(t, "https://api.hubapi.com", hc.baseURL)
	assert.NotNil(t, hc.http)
	assert.NotNil(t, hc.limiter)
}

func TestWithHTTPClient(t *testing.T) {
	t.Parallel()
	customClient := &http.Client{}
	c := NewClient("test-key", WithHTTPClient(customClient))
	hc := c.(*httpClient)
	assert.Equal(t, customClient, hc.http)
}

func TestWithRateLimit_Disabled(t *testing.T) {
	t.Parallel()
	c := NewClient("test-key", WithRateLimit(0))
	hc := c.(*httpClient)
	assert.Nil(t, hc.limiter)
}

func TestRetryableStatus(t *testing.T) {
	assert.True(t, retryable(429))
	assert.True(t, retryable(500))
	assert.True(t, retryable(502))
	assert.True(t, retryable(503))
	assert.False(t, retryable(200))
	assert.False(t, retryable(404))
	assert.False(t, retryable(422))
}
