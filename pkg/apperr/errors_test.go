package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestKindStatusMapping pins every kind to its stable HTTP status.
func TestKindStatusMapping(t *testing.T) {
	tests := []struct {
		kind   Kind
		status int
	}{
		{KindInvalidInput, http.StatusBadRequest},
		{KindEntityNotFound, http.StatusNotFound},
		{KindInvalidStateTransition, http.StatusBadRequest},
		{KindDuplicateRequest, http.StatusConflict},
		{KindStaleLock, http.StatusConflict},
		{KindRateLimitExceeded, http.StatusTooManyRequests},
		{KindBulkheadFull, http.StatusServiceUnavailable},
		{KindCircuitBreakerOpen, http.StatusServiceUnavailable},
		{KindServiceUnavailable, http.StatusServiceUnavailable},
		{KindRequestTimeout, http.StatusGatewayTimeout},
		{KindInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			e := New(tt.kind, "detail")
			assert.Equal(t, tt.status, e.Status())
			assert.Equal(t, "https://goeats.dev/problems/"+string(tt.kind), e.TypeURI())
		})
	}
}

func TestWrappingAndKindOf(t *testing.T) {
	cause := errors.New("row lock timeout")
	err := fmt.Errorf("handler: %w", Wrap(KindStaleLock, "fencing rejected", cause))

	assert.Equal(t, KindStaleLock, KindOf(err))
	assert.True(t, Is(err, KindStaleLock))
	assert.False(t, Is(err, KindDuplicateRequest))
	assert.ErrorIs(t, err, cause)

	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
}

// TestProblemMasksInternals: internal errors never leak their detail.
func TestProblemMasksInternals(t *testing.T) {
	p := ProblemOf(Internal(errors.New("password=hunter2 dsn=...")))
	assert.Equal(t, http.StatusInternalServerError, p.Status)
	assert.Equal(t, "unexpected error", p.Detail)

	p = ProblemOf(errors.New("raw driver error"))
	assert.Equal(t, "unexpected error", p.Detail)
}

func TestWriteProblem(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteProblem(rec, DuplicateRequest("key-1"))

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	var p Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, http.StatusConflict, p.Status)
	assert.Contains(t, p.Type, "duplicate-request")
	assert.Contains(t, p.Detail, "key-1")
}
