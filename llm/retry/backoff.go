package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/llmgate/llm"
)

// Clock 抽象时间来源，便于测试注入假时钟
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// realClock 是基于系统时间的默认实现
type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RetryPolicy 定义重试策略配置
// 遵循 KISS 原则：简单但功能完整的重试策略
type RetryPolicy struct {
	MaxRetries   int           // 最大重试次数（0 表示只执行一次，不重试）
	InitialDelay time.Duration // 初始延迟时间
	MaxDelay     time.Duration // 最大延迟时间
	Multiplier   float64       // 延迟时间倍增因子（指数退避）
	Jitter       bool          // 是否添加随机抖动（防止雪崩）
	Timeout      time.Duration // 整体墙钟时间预算（0 表示不限），优先级高于重试次数

	// IsRetryable 判断错误是否触发重试，nil 时使用 llm.IsRetryable
	IsRetryable func(err error) bool

	// OnRetry 重试回调
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryPolicy 返回默认的重试策略
// 适用于大部分 LLM API 调用场景
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		Timeout:      120 * time.Second,
	}
}

// Retryer 重试器接口
// 提供统一的重试能力
type Retryer interface {
	// Do 执行函数，失败时根据策略重试
	Do(ctx context.Context, fn func(ctx context.Context) error) error

	// DoWithResult 执行函数并返回结果，失败时根据策略重试
	DoWithResult(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error)
}

// backoffRetryer 基于指数退避的重试器实现
type backoffRetryer struct {
	policy *RetryPolicy
	logger *zap.Logger
	clock  Clock
}

// NewBackoffRetryer 创建指数退避重试器
func NewBackoffRetryer(policy *RetryPolicy, logger *zap.Logger) Retryer {
	return NewBackoffRetryerWithClock(policy, logger, realClock{})
}

// NewBackoffRetryerWithClock 创建使用指定时钟的重试器，测试用
func NewBackoffRetryerWithClock(policy *RetryPolicy, logger *zap.Logger, clock Clock) Retryer {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = realClock{}
	}

	// 参数校验
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = 1 * time.Second
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 30 * time.Second
	}
	if policy.Multiplier < 1.0 {
		policy.Multiplier = 2.0
	}
	if policy.IsRetryable == nil {
		policy.IsRetryable = llm.IsRetryable
	}

	return &backoffRetryer{
		policy: policy,
		logger: logger,
		clock:  clock,
	}
}

// Do 实现 Retryer.Do
func (r *backoffRetryer) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := r.DoWithResult(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

// DoWithResult 实现 Retryer.DoWithResult
// 核心重试逻辑：指数退避 + 随机抖动 + 错误过滤 + 墙钟预算
// 时间预算耗尽报 LLM_TIMEOUT，次数耗尽报 LLM_RETRIES_EXHAUSTED；
// 预算耗尽的判定优先于次数耗尽。最后一次尝试失败后不再退避等待。
func (r *backoffRetryer) DoWithResult(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	var lastErr error
	var result any

	var deadline time.Time
	if r.policy.Timeout > 0 {
		deadline = r.clock.Now().Add(r.policy.Timeout)
	}

	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		// 第一次执行不延迟
		if attempt > 0 {
			delay := r.calculateDelay(attempt)

			// 等完这次延迟就会超出预算的话，直接按超时结束
			if !deadline.IsZero() {
				remaining := deadline.Sub(r.clock.Now())
				if remaining <= delay {
					return nil, r.timeoutError(lastErr)
				}
			}

			r.logger.Debug("重试中",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", r.policy.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)

			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}

			// 等待延迟，同时监听 context 取消
			select {
			case <-ctx.Done():
				return nil, r.contextError(ctx, lastErr)
			case <-r.clock.After(delay):
				// 继续重试
			}
		}

		// 单次尝试受剩余预算约束
		attemptCtx := ctx
		cancel := func() {}
		if !deadline.IsZero() {
			remaining := deadline.Sub(r.clock.Now())
			if remaining <= 0 {
				return nil, r.timeoutError(lastErr)
			}
			attemptCtx, cancel = context.WithTimeout(ctx, remaining)
		}

		result, lastErr = fn(attemptCtx)
		cancel()

		// 成功，直接返回
		if lastErr == nil {
			if attempt > 0 {
				r.logger.Info("重试成功", zap.Int("attempt", attempt))
			}
			return result, nil
		}

		// 外层取消或预算耗尽时立即结束，不再归因于本次错误
		if ctx.Err() != nil {
			return nil, r.contextError(ctx, lastErr)
		}
		if !deadline.IsZero() && !r.clock.Now().Before(deadline) {
			return nil, r.timeoutError(lastErr)
		}
		if errors.Is(lastErr, context.DeadlineExceeded) {
			return nil, r.timeoutError(lastErr)
		}

		// 检查是否可重试
		if !r.policy.IsRetryable(lastErr) {
			r.logger.Debug("错误不可重试", zap.Error(lastErr))
			return nil, lastErr
		}
	}

	// 所有重试都失败了
	r.logger.Warn("重试次数耗尽",
		zap.Int("attempts", r.policy.MaxRetries+1),
		zap.Error(lastErr),
	)

	// 保留末次失败的 HTTP 状态：限流耗尽重试仍应表现为 429
	status := http.StatusBadGateway
	var lastLLMErr *llm.Error
	if errors.As(lastErr, &lastLLMErr) && lastLLMErr.HTTPStatus != 0 {
		status = lastLLMErr.HTTPStatus
	}
	return nil, (&llm.Error{
		Code:       llm.ErrRetriesExhausted,
		Message:    "all retry attempts failed",
		HTTPStatus: status,
	}).WithCause(lastErr)
}

// timeoutError 构造墙钟预算耗尽错误
func (r *backoffRetryer) timeoutError(lastErr error) error {
	return (&llm.Error{
		Code:       llm.ErrTimeout,
		Message:    "operation exceeded time budget",
		HTTPStatus: http.StatusGatewayTimeout,
	}).WithCause(lastErr)
}

// contextError 把外层 context 结束翻译为对应错误
func (r *backoffRetryer) contextError(ctx context.Context, lastErr error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return r.timeoutError(lastErr)
	}
	if lastErr != nil {
		return lastErr
	}
	return ctx.Err()
}

// calculateDelay 计算延迟时间
// 使用指数退避算法 + 可选的随机抖动
func (r *backoffRetryer) calculateDelay(attempt int) time.Duration {
	// 指数退避：delay = initial * multiplier^(attempt-1)
	delay := float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(attempt-1))

	// 限制最大延迟
	if delay > float64(r.policy.MaxDelay) {
		delay = float64(r.policy.MaxDelay)
	}

	// 添加随机抖动（±25%）
	// 目的：防止多个客户端同时重试导致的雪崩效应
	if r.policy.Jitter {
		jitter := delay * 0.25
		delay = delay + (rand.Float64()*2-1)*jitter
	}

	// 确保延迟不小于初始延迟
	if delay < float64(r.policy.InitialDelay) {
		delay = float64(r.policy.InitialDelay)
	}

	return time.Duration(delay)
}
