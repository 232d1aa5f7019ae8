package classifier

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSONResponse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  themeResponse
	}{
		{
			name:  "plain JSON",
			input: `{"product_area": "pinterest", "component": "boards", "issue_descriptor": "missing pins"}`,
			want:  themeResponse{ProductArea: "pinterest", Component: "boards", IssueDescriptor: "missing pins"},
		},
		{
			name:  "code fenced",
			input: "```json\n{\"product_area\": \"pinterest\", \"component\": \"boards\", \"issue_descriptor\": \"missing pins\"}\n```",
			want:  themeResponse{ProductArea: "pinterest", Component: "boards", IssueDescriptor: "missing pins"},
		},
		{
			name:  "surrounding prose",
			input: "Here is the extracted theme:\n{\"product_area\": \"pinterest\", \"component\": \"boards\", \"issue_descriptor\": \"missing pins\"}\nLet me know if you need anything else.",
			want:  themeResponse{ProductArea: "pinterest", Component: "boards", IssueDescriptor: "missing pins"},
		},
		{
			name:  "trailing comma",
			input: `{"product_area": "pinterest", "component": "boards", "issue_descriptor": "missing pins",}`,
			want:  themeResponse{ProductArea: "pinterest", Component: "boards", IssueDescriptor: "missing pins"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got themeResponse
			require.NoError(t, parseJSONResponse(tt.input, &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseJSONResponseRejectsGarbage(t *testing.T) {
	var got themeResponse
	assert.Error(t, parseJSONResponse("", &got))
	assert.Error(t, parseJSONResponse("I could not classify this conversation.", &got))
}

func TestIsRetriableError(t *testing.T) {
	assert.False(t, isRetriableError(nil))
	assert.True(t, isRetriableError(errors.New("429 rate limit exceeded")))
	assert.True(t, isRetriableError(errors.New("503 service unavailable")))
	assert.True(t, isRetriableError(errors.New("connection reset by peer")))
	assert.False(t, isRetriableError(errors.New("401 unauthorized")))
	assert.False(t, isRetriableError(errors.New("invalid request body")))
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, 2, time.Hour)

	for i := 0; i < 2; i++ {
		require.NoError(t, cb.Allow())
		cb.RecordFailure()
	}
	assert.Equal(t, CircuitClosed, cb.GetState())

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.GetState())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
}

func TestCircuitBreakerRecovers(t *testing.T) {
	cb := NewCircuitBreaker(1, 2, 10*time.Millisecond)

	cb.RecordFailure()
	require.Equal(t, CircuitOpen, cb.GetState())

	// After the open timeout a probe is allowed.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, cb.Allow())
	assert.Equal(t, CircuitHalfOpen, cb.GetState())

	// Enough successes close the circuit again.
	cb.RecordSuccess()
	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.GetState())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(1, 2, 10*time.Millisecond)

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, cb.Allow())
	require.Equal(t, CircuitHalfOpen, cb.GetState())

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.GetState())
}

func TestExcerptForPrompt(t *testing.T) {
	short := "my pins are missing"
	assert.Equal(t, short, excerptForPrompt(short))

	long := strings.Repeat("x", maxPromptExcerpt+100)
	assert.Len(t, excerptForPrompt(long), maxPromptExcerpt)
}
