package repohost

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() *RetryConfig {
	return &RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    10 * time.Millisecond,
		MaxBackoff:        100 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func ghResponse(code int) *github.Response {
	return &github.Response{Response: &http.Response{StatusCode: code}}
}

func TestRetryConfig_ApplyDefaults(t *testing.T) {
	t.Run("applies all defaults when empty", func(t *testing.T) {
		cfg := &RetryConfig{}
		cfg.ApplyDefaults()

		assert.Equal(t, 3, cfg.MaxRetries)
		assert.Equal(t, time.Second, cfg.InitialBackoff)
		assert.Equal(t, 30*time.Second, cfg.MaxBackoff)
		assert.Equal(t, 2.0, cfg.BackoffMultiplier)
	})

	t.Run("preserves non-zero values", func(t *testing.T) {
		cfg := &RetryConfig{MaxRetries: 5, InitialBackoff: 2 * time.Second, MaxBackoff: time.Minute, BackoffMultiplier: 3}
		cfg.ApplyDefaults()

		assert.Equal(t, 5, cfg.MaxRetries)
		assert.Equal(t, 2*time.Second, cfg.InitialBackoff)
		assert.Equal(t, time.Minute, cfg.MaxBackoff)
		assert.Equal(t, 3.0, cfg.BackoffMultiplier)
	})
}

func TestWithRetry_SuccessAfterRetries(t *testing.T) {
	calls := 0
	start := time.Now()
	resp, err := withRetry(context.Background(), fastRetry(), nil, "op", func() (*github.Response, error) {
		calls++
		if calls < 3 {
			return ghResponse(503), errors.New("service unavailable")
		}
		return ghResponse(200), nil
	})

	require.NoError(t, err)
	assert.Equal(t, 200, resp.Response.StatusCode)
	assert.Equal(t, 3, calls)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestWithRetry_NonRetryableError(t *testing.T) {
	calls := 0
	resp, err := withRetry(context.Background(), fastRetry(), nil, "op", func() (*github.Response, error) {
		calls++
		return ghResponse(422), errors.New("name already exists on this account")
	})

	require.Error(t, err)
	assert.Equal(t, 422, statusCode(resp))
	assert.Equal(t, 1, calls)
}

func TestWithRetry_ExhaustsRetries(t *testing.T) {
	calls := 0
	_, err := withRetry(context.Background(), fastRetry(), nil, "create tree", func() (*github.Response, error) {
		calls++
		return ghResponse(502), errors.New("bad gateway")
	})

	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.Contains(t, err.Error(), "create tree failed after 3 retries")
}

func TestWithRetry_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastRetry()
	cfg.InitialBackoff = time.Second

	calls := 0
	_, err := withRetry(ctx, cfg, nil, "op", func() (*github.Response, error) {
		calls++
		cancel()
		return nil, errors.New("connection reset")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    int
		hasRate bool
		want    bool
	}{
		{"nil error", nil, 200, false, false},
		{"429 rate limit", errors.New("x"), 429, false, true},
		{"500", errors.New("x"), 500, false, true},
		{"503", errors.New("x"), 503, false, true},
		{"507", errors.New("x"), 507, false, true},
		{"400", errors.New("x"), 400, false, false},
		{"401", errors.New("x"), 401, false, false},
		{"403 plain", errors.New("x"), 403, false, false},
		{"403 secondary rate limit", errors.New("x"), 403, true, true},
		{"404", errors.New("x"), 404, false, false},
		{"422", errors.New("x"), 422, false, false},
		{"network error", errors.New("dial tcp"), 0, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp *github.Response
			if tt.code != 0 {
				resp = ghResponse(tt.code)
				if tt.hasRate {
					resp.Rate = github.Rate{Limit: 5000}
				}
			}
			assert.Equal(t, tt.want, isRetryable(tt.err, resp))
		})
	}
}

func TestRateLimitBackoff(t *testing.T) {
	rated := func(reset time.Time) *github.Response {
		return &github.Response{Rate: github.Rate{Limit: 5000, Reset: github.Timestamp{Time: reset}}}
	}

	b := rateLimitBackoff(rated(time.Now().Add(5*time.Second)), 30*time.Second)
	assert.GreaterOrEqual(t, b, 5*time.Second)
	assert.LessOrEqual(t, b, 7*time.Second)

	assert.Equal(t, time.Second, rateLimitBackoff(rated(time.Now().Add(-5*time.Second)), 30*time.Second))
	assert.Equal(t, 30*time.Second, rateLimitBackoff(rated(time.Now().Add(time.Minute)), 30*time.Second))
	assert.Equal(t, 30*time.Second, rateLimitBackoff(nil, 30*time.Second))
	assert.Equal(t, time.Minute, rateLimitBackoff(nil, time.Hour))
}

func TestIsRateLimited(t *testing.T) {
	assert.True(t, isRateLimited(ghResponse(429)))
	assert.False(t, isRateLimited(ghResponse(403)))
	assert.False(t, isRateLimited(nil))
}
