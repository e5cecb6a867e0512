package reactor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxpoint-media/fluxpoint/workflows"
)

func decisionService(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPExecutorResolves(t *testing.T) {
	srv := decisionService(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)

		var req resolutionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "camA", req.StreamName)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(defNamed("wfA"))
	})

	e := NewHTTPExecutor(srv.URL)
	def, err := e.GetWorkflow(context.Background(), "camA")
	require.NoError(t, err)
	require.NotNil(t, def)
	assert.Equal(t, "wfA", def.Name)
}

func TestHTTPExecutorNotFoundMeansNoWorkflow(t *testing.T) {
	srv := decisionService(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	e := NewHTTPExecutor(srv.URL)
	def, err := e.GetWorkflow(context.Background(), "camA")
	require.NoError(t, err)
	assert.Nil(t, def)
}

func TestHTTPExecutorRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := decisionService(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "try later", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(defNamed("wfA"))
	})

	e := NewHTTPExecutor(srv.URL, WithMaxAttempts(5))
	e.baseDelay = time.Millisecond
	e.maxDelay = 5 * time.Millisecond

	def, err := e.GetWorkflow(context.Background(), "camA")
	require.NoError(t, err)
	require.NotNil(t, def)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPExecutorGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := decisionService(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	})

	e := NewHTTPExecutor(srv.URL, WithMaxAttempts(3))
	e.baseDelay = time.Millisecond
	e.maxDelay = 5 * time.Millisecond

	_, err := e.GetWorkflow(context.Background(), "camA")
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPExecutorRejectsInvalidDefinition(t *testing.T) {
	var calls atomic.Int32
	srv := decisionService(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(&workflows.Definition{Name: ""})
	})

	e := NewHTTPExecutor(srv.URL)
	_, err := e.GetWorkflow(context.Background(), "camA")
	require.Error(t, err)
	// Malformed documents are not retryable.
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPExecutorClientErrorIsTerminal(t *testing.T) {
	var calls atomic.Int32
	srv := decisionService(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "no", http.StatusForbidden)
	})

	e := NewHTTPExecutor(srv.URL, WithMaxAttempts(5))
	_, err := e.GetWorkflow(context.Background(), "camA")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPExecutorBackoffStaysBounded(t *testing.T) {
	e := NewHTTPExecutor("http://unused")
	for attempt := 0; attempt < 20; attempt++ {
		delay := e.calculateBackoff(attempt)
		assert.Greater(t, delay, time.Duration(0))
		assert.LessOrEqual(t, delay, e.maxDelay)
	}
}
