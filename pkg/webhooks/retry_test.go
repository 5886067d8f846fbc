package webhooks

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewRetryPolicy_Defaults(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{})
	assert.Equal(t, DefaultRetryConfig(), p.config)

	p = NewRetryPolicy(RetryConfig{MaxAttempts: 2, BackoffMultiplier: 0.5})
	assert.Equal(t, 2, p.config.MaxAttempts)
	assert.Equal(t, 2.0, p.config.BackoffMultiplier)
}

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{MaxAttempts: 3})

	tests := []struct {
		name     string
		attempts int
		err      error
		want     bool
	}{
		{"success", 1, nil, false},
		{"network error", 1, errors.New("connection refused"), true},
		{"server error", 2, &StatusError{StatusCode: http.StatusInternalServerError}, true},
		{"too many requests", 1, &StatusError{StatusCode: http.StatusTooManyRequests}, true},
		{"request timeout", 1, &StatusError{StatusCode: http.StatusRequestTimeout}, true},
		{"bad request", 1, &StatusError{StatusCode: http.StatusBadRequest}, false},
		{"gone", 1, &StatusError{StatusCode: http.StatusGone}, false},
		{"attempts exhausted", 3, errors.New("timeout"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.ShouldRetry(tt.attempts, tt.err))
		})
	}
}

func TestRetryPolicy_NextRetryDelay(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{
		InitialDelay:      time.Second,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2,
	})

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
		{10, 5 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.NextRetryDelay(tt.attempts), "attempts=%d", tt.attempts)
	}
}
