package api

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"nca-go/internal/config"
)

// RetryConfig 定义重试策略配置
type RetryConfig struct {
	MaxRetries      int           // 最大重试次数，默认 3
	InitialWait     time.Duration // 初始等待时间，默认 300ms
	MaxWait         time.Duration // 最大等待时间，默认 5s
	ExponentialBase float64       // 指数基数，默认 2
	Jitter          time.Duration // 抖动范围，默认 500ms
}

// DefaultRetryConfig 返回默认重试配置
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:      3,
		InitialWait:     300 * time.Millisecond,
		MaxWait:         5 * time.Second,
		ExponentialBase: 2.0,
		Jitter:          500 * time.Millisecond,
	}
}

// RetryConfigFromServer 从 ServerConfig 创建 RetryConfig
func RetryConfigFromServer(server *config.ServerConfig) *RetryConfig {
	if server == nil || server.Retry == nil {
		return DefaultRetryConfig()
	}

	retry := server.Retry
	def := DefaultRetryConfig()
	cfg := &RetryConfig{
		MaxRetries:      retry.MaxRetries,
		InitialWait:     time.Duration(retry.InitialWaitMs) * time.Millisecond,
		MaxWait:         time.Duration(retry.MaxWaitMs) * time.Millisecond,
		ExponentialBase: retry.ExponentialBase,
		Jitter:          time.Duration(retry.JitterMs) * time.Millisecond,
	}

	// 设置默认值
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.InitialWait <= 0 {
		cfg.InitialWait = def.InitialWait
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = def.MaxWait
	}
	if cfg.ExponentialBase <= 1 {
		cfg.ExponentialBase = def.ExponentialBase
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	return cfg
}

// ExponentialBackoff 计算下一次重试的等待时间
func ExponentialBackoff(
	attempt int,
	initialWait time.Duration,
	maxWait time.Duration,
	base float64,
	jitter time.Duration,
) time.Duration {
	backoff := float64(initialWait) * math.Pow(base, float64(attempt))

	// 添加抖动，避免惊群效应
	if jitter > 0 {
		jitterValue := time.Duration(rand.Int63n(int64(2*jitter))) - jitter
		backoff += float64(jitterValue)
	}

	wait := time.Duration(backoff)
	if wait > maxWait {
		wait = maxWait
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

// RetryableFunc 表示可重试的函数类型
type RetryableFunc func(ctx context.Context) error

// ExecuteWithRetry 执行带重试的函数
func ExecuteWithRetry(
	ctx context.Context,
	config *RetryConfig,
	fn RetryableFunc,
	isRetryable func(error) bool,
	onRetry func(attempt int, err error, waitTime time.Duration),
) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var lastErr error
	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if isRetryable != nil && !isRetryable(err) {
			return err
		}
		if attempt >= config.MaxRetries {
			break
		}

		waitTime := ExponentialBackoff(
			attempt,
			config.InitialWait,
			config.MaxWait,
			config.ExponentialBase,
			config.Jitter,
		)
		if onRetry != nil {
			onRetry(attempt+1, err, waitTime)
		}

		timer := time.NewTimer(waitTime)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", config.MaxRetries, lastErr)
}
