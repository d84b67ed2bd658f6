package pipeline

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"net/http"
	"time"

	"lexicon-go/internal/config"
	"lexicon-go/pkg/llm"
)

// RetryPolicy 描述一次调度的重试方式。
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	JitterFraction float64 // 0.0 ~ 1.0
	Retryable      func(error) bool
}

// DefaultRetryPolicy 返回默认的重试策略：最多 3 次，1s 起步，封顶 30s。
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2,
		JitterFraction: 0.2,
		Retryable:      IsRetryable,
	}
}

// RetryPolicyFromConfig 根据配置构造重试策略，非法值回落到默认值。
func RetryPolicyFromConfig(cfg config.RetryConfig) RetryPolicy {
	p := DefaultRetryPolicy()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialBackoffMs > 0 {
		p.InitialBackoff = time.Duration(cfg.InitialBackoffMs) * time.Millisecond
	}
	if cfg.MaxBackoffMs > 0 {
		p.MaxBackoff = time.Duration(cfg.MaxBackoffMs) * time.Millisecond
	}
	if cfg.Multiplier >= 1 {
		p.Multiplier = cfg.Multiplier
	}
	if cfg.JitterFraction >= 0 && cfg.JitterFraction <= 1 {
		p.JitterFraction = cfg.JitterFraction
	}
	return p
}

// IsRetryable 判断模型调用失败是否值得重试。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var terminal *TerminalError
	if errors.As(err, &terminal) {
		return false
	}
	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, llm.ErrRefused) {
		return false
	}
	if errors.Is(err, llm.ErrEmptyCompletion) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 ||
			apiErr.StatusCode == http.StatusTooManyRequests ||
			apiErr.StatusCode == http.StatusRequestTimeout
	}
	// *url.Error 同样实现了 net.Error，连接失败、超时都落在这里
	var netErr net.Error
	return errors.As(err, &netErr)
}

// backoff 计算第 attempt 次失败（从 0 开始）之后的等待时间。
func (p RetryPolicy) backoff(attempt int) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 2
	}
	base := float64(p.InitialBackoff) * math.Pow(mult, float64(attempt))
	if p.MaxBackoff > 0 && base > float64(p.MaxBackoff) {
		base = float64(p.MaxBackoff)
	}
	jitter := base * p.JitterFraction * (rand.Float64()*2 - 1)
	d := time.Duration(base + jitter)
	if d < 0 {
		d = 0
	}
	return d
}

// sleep 等待 d 或直到 ctx 结束。
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do 执行 fn，仅对可重试错误按退避曲线重试。
// 返回值为最终错误和实际尝试次数；重试耗尽时错误为 *TerminalError。
func (p RetryPolicy) Do(ctx context.Context, id string, fn func(ctx context.Context) error) (int, error) {
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return attempt, nil
		}
		if !retryable(lastErr) {
			var terminal *TerminalError
			if errors.As(lastErr, &terminal) {
				terminal.Attempts = attempt
				return attempt, lastErr
			}
			return attempt, &TerminalError{EquipmentID: id, Attempts: attempt, Err: lastErr}
		}
		if attempt == maxAttempts {
			break
		}
		if err := sleep(ctx, p.backoff(attempt-1)); err != nil {
			return attempt, &TerminalError{EquipmentID: id, Attempts: attempt, Err: errors.Join(err, lastErr)}
		}
	}
	return maxAttempts, &TerminalError{EquipmentID: id, Attempts: maxAttempts, Err: &TransientError{Err: lastErr}}
}
