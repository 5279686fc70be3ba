package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/sony/gobreaker/v2"
)

// APIError 表示服务端返回的非 2xx 响应
type APIError struct {
	StatusCode int
	Message    string
	RawBody    string
}

// Error 返回错误信息
func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error: %s", e.Message)
}

// IsRetryable 判断错误是否可重试
func (e *APIError) IsRetryable() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests, // 429
		http.StatusInternalServerError, // 500
		http.StatusBadGateway,          // 502
		http.StatusServiceUnavailable,  // 503
		http.StatusGatewayTimeout:      // 504
		return true
	default:
		return false
	}
}

// IsClientError reports a 4xx status. Those say nothing about server health
// and do not count against the circuit breaker.
func (e *APIError) IsClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusTooManyRequests
}

// NetworkError 表示网络连接错误
type NetworkError struct {
	Op  string
	Err error
}

// Error 返回错误信息
func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error (%s): %v", e.Op, e.Err)
}

// Unwrap exposes the underlying transport error.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsRetryable 判断错误是否可重试
func (e *NetworkError) IsRetryable() bool {
	// 所有网络错误都可以重试
	return true
}

// TimeoutError 表示请求超时错误
type TimeoutError struct {
	Operation string
	Duration  time.Duration
}

// Error 返回错误信息
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout error (%s after %v)", e.Operation, e.Duration)
}

// IsRetryable 判断错误是否可重试
func (e *TimeoutError) IsRetryable() bool {
	return true
}

// RetryableError 接口，用于判断错误是否可重试
type RetryableError interface {
	error
	IsRetryable() bool
}

// IsRetryableError 判断错误是否可重试
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// 熔断器打开时立即失败，不再重试
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var retryable RetryableError
	if errors.As(err, &retryable) {
		return retryable.IsRetryable()
	}

	return isNetworkError(err) || isTimeoutError(err)
}

// isNetworkError 检查是否是网络错误
func isNetworkError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED,
			syscall.ECONNRESET,
			syscall.ETIMEDOUT,
			syscall.EPIPE,
			syscall.ENETUNREACH,
			syscall.EHOSTUNREACH:
			return true
		}
	}
	return false
}

// isTimeoutError 检查是否是超时错误
func isTimeoutError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
