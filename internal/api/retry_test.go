package api

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"

	"nca-go/internal/config"
)

func fastRetry(maxRetries int) *RetryConfig {
	return &RetryConfig{
		MaxRetries:      maxRetries,
		InitialWait:     5 * time.Millisecond,
		MaxWait:         20 * time.Millisecond,
		ExponentialBase: 2.0,
		Jitter:          time.Millisecond,
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()

	if cfg.MaxRetries != 3 {
		t.Errorf("expected MaxRetries=3, got %d", cfg.MaxRetries)
	}
	if cfg.InitialWait != 300*time.Millisecond {
		t.Errorf("expected InitialWait=300ms, got %v", cfg.InitialWait)
	}
	if cfg.MaxWait != 5*time.Second {
		t.Errorf("expected MaxWait=5s, got %v", cfg.MaxWait)
	}
}

func TestRetryConfigFromServer(t *testing.T) {
	if got := RetryConfigFromServer(&config.ServerConfig{}); got.MaxRetries != 3 {
		t.Errorf("nil retry section should give defaults, got %+v", got)
	}

	got := RetryConfigFromServer(&config.ServerConfig{Retry: &config.RetryConfig{
		MaxRetries:    1,
		InitialWaitMs: 50,
		JitterMs:      -1,
	}})
	if got.MaxRetries != 1 || got.InitialWait != 50*time.Millisecond {
		t.Errorf("unexpected config: %+v", got)
	}
	// 未设置的字段回落到默认值
	if got.MaxWait != 5*time.Second || got.ExponentialBase != 2.0 || got.Jitter != 0 {
		t.Errorf("defaults not applied: %+v", got)
	}
}

// TestExponentialBackoff_Math 验证指数退避的数学计算
func TestExponentialBackoff_Math(t *testing.T) {
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			result := ExponentialBackoff(tt.attempt, 100*time.Millisecond, 10*time.Second, 2.0, 0)
			if diff := math.Abs(float64(result - tt.expected)); diff > float64(time.Millisecond) {
				t.Errorf("ExponentialBackoff() = %v, expected ~%v", result, tt.expected)
			}
		})
	}
}

func TestExponentialBackoff_Bounds(t *testing.T) {
	for i := 0; i < 20; i++ {
		got := ExponentialBackoff(100, time.Millisecond, time.Second, 2.0, 100*time.Millisecond)
		if got < 0 || got > time.Second {
			t.Fatalf("ExponentialBackoff() = %v, outside [0, 1s]", got)
		}
	}
}

func TestExecuteWithRetry_RetryThenSuccess(t *testing.T) {
	callCount := 0
	fn := func(ctx context.Context) error {
		callCount++
		if callCount < 3 {
			return &APIError{StatusCode: 503, Message: "service unavailable"}
		}
		return nil
	}

	var attempts []int
	onRetry := func(attempt int, err error, waitTime time.Duration) {
		attempts = append(attempts, attempt)
	}

	if err := ExecuteWithRetry(context.Background(), fastRetry(3), fn, IsRetryableError, onRetry); err != nil {
		t.Errorf("ExecuteWithRetry() error = %v", err)
	}
	if callCount != 3 {
		t.Errorf("expected 3 calls, got %d", callCount)
	}
	if len(attempts) != 2 || attempts[1] != 2 {
		t.Errorf("retry callbacks = %v, want [1 2]", attempts)
	}
}

func TestExecuteWithRetry_MaxRetriesExceeded(t *testing.T) {
	callCount := 0
	fn := func(ctx context.Context) error {
		callCount++
		return &APIError{StatusCode: 503, Message: "service unavailable"}
	}

	err := ExecuteWithRetry(context.Background(), fastRetry(2), fn, IsRetryableError, nil)
	if err == nil || !strings.HasPrefix(err.Error(), "max retries (2) exceeded") {
		t.Errorf("unexpected error: %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Errorf("last error not wrapped: %v", err)
	}
	if callCount != 3 { // 1 initial + 2 retries
		t.Errorf("expected 3 calls, got %d", callCount)
	}
}

func TestExecuteWithRetry_NonRetryableError(t *testing.T) {
	callCount := 0
	fn := func(ctx context.Context) error {
		callCount++
		return &APIError{StatusCode: 404, Message: "not found"}
	}

	if err := ExecuteWithRetry(context.Background(), fastRetry(3), fn, IsRetryableError, nil); err == nil {
		t.Error("ExecuteWithRetry() expected error, got nil")
	}
	if callCount != 1 {
		t.Errorf("expected 1 call for non-retryable error, got %d", callCount)
	}
}

func TestExecuteWithRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fn := func(ctx context.Context) error {
		cancel()
		return &APIError{StatusCode: 503, Message: "service unavailable"}
	}

	err := ExecuteWithRetry(ctx, &RetryConfig{MaxRetries: 3, InitialWait: time.Second, MaxWait: time.Second, ExponentialBase: 2}, fn, IsRetryableError, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled error, got %v", err)
	}
}

// TestIsRetryableError 测试错误是否可重试的判断
func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"429", &APIError{StatusCode: 429}, true},
		{"500", &APIError{StatusCode: 500}, true},
		{"503 wrapped", fmt.Errorf("history: %w", &APIError{StatusCode: 503}), true},
		{"400", &APIError{StatusCode: 400}, false},
		{"401", &APIError{StatusCode: 401}, false},
		{"404", &APIError{StatusCode: 404}, false},
		{"network", &NetworkError{Op: "history", Err: errors.New("reset")}, true},
		{"timeout", &TimeoutError{Operation: "language", Duration: time.Second}, true},
		{"deadline", context.DeadlineExceeded, true},
		{"cancelled", context.Canceled, false},
		{"circuit open", fmt.Errorf("circuit open: %w", gobreaker.ErrOpenState), false},
		{"generic error", errors.New("some error"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryableError(tt.err); got != tt.expected {
				t.Errorf("IsRetryableError() = %v, expected %v", got, tt.expected)
			}
		})
	}
}

// TestAPIError_Error 测试 APIError 的 Error 方法
func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		statusCode int
		message    string
		expected   string
	}{
		{500, "internal error", "API error (status 500): internal error"},
		{0, "connection failed", "API error: connection failed"},
	}

	for _, tt := range tests {
		err := &APIError{StatusCode: tt.statusCode, Message: tt.message}
		if got := err.Error(); got != tt.expected {
			t.Errorf("APIError.Error() = %q, expected %q", got, tt.expected)
		}
	}
}

func TestAPIError_IsClientError(t *testing.T) {
	for status, want := range map[int]bool{400: true, 404: true, 429: false, 500: false, 200: false} {
		if got := (&APIError{StatusCode: status}).IsClientError(); got != want {
			t.Errorf("status %d: IsClientError() = %v, want %v", status, got, want)
		}
	}
}
