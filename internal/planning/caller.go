package planning

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	xerrors "github.com/McKrispy/Ageeeent/internal/errors"
	"github.com/McKrispy/Ageeeent/internal/llm"
	"github.com/McKrispy/Ageeeent/internal/observability/metrics"
	"github.com/McKrispy/Ageeeent/pkg/logger"
)

const (
	// CodePlanningUnavailable 表示规划调用在全部重试后仍失败。
	CodePlanningUnavailable xerrors.Code = "PLANNING_UNAVAILABLE"
	// CodeMalformedResponse 表示响应为空或无法解析。
	CodeMalformedResponse xerrors.Code = "MALFORMED_PLANNING_RESPONSE"
)

func init() {
	xerrors.Register(CodePlanningUnavailable, xerrors.Attributes{
		Message:   "planning capability unavailable",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeMalformedResponse, xerrors.Attributes{
		Message:   "malformed planning response",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
}

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 8 * time.Second
)

// Observer 在每次失败后、等待下一次尝试前被调用。
type Observer func(stage string, attempt int, err error, next time.Duration)

// Caller 负责带退避重试的规划调用。
type Caller struct {
	client      llm.Client
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	observer    Observer
	logger      *slog.Logger
}

// CallerOption 定义可选配置。
type CallerOption func(*Caller)

// WithMaxAttempts 设置最大尝试次数。
func WithMaxAttempts(n int) CallerOption {
	return func(c *Caller) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBackoff 设置首次等待时间与等待上限。
func WithBackoff(base, max time.Duration) CallerOption {
	return func(c *Caller) {
		if base > 0 {
			c.baseDelay = base
		}
		if max > 0 {
			c.maxDelay = max
		}
	}
}

// WithObserver 注册重试观察者。
func WithObserver(o Observer) CallerOption {
	return func(c *Caller) { c.observer = o }
}

// NewCaller 创建调用器。
func NewCaller(client llm.Client, opts ...CallerOption) *Caller {
	c := &Caller{
		client:      client,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		maxDelay:    DefaultMaxDelay,
		logger:      logger.Named("planning"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.maxDelay < c.baseDelay {
		c.maxDelay = c.baseDelay
	}
	return c
}

// Call 调用规划能力并用 parse 解析响应。空响应、解析失败与后端错误都计为
// 一次失败尝试；耗尽尝试次数后返回 CodePlanningUnavailable。
func (c *Caller) Call(ctx context.Context, stage string, req llm.Request, parse func(raw string) error) error {
	if c.client == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置规划能力")
	}
	attempt := 0
	operation := func() (struct{}, error) {
		attempt++
		raw, err := c.client.Complete(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return struct{}{}, backoff.Permanent(err)
			}
			metrics.ObservePlanning(stage, "error")
			return struct{}{}, err
		}
		if strings.TrimSpace(raw) == "" {
			metrics.ObservePlanning(stage, "malformed")
			return struct{}{}, xerrors.New(CodeMalformedResponse, "empty response")
		}
		if err := parse(raw); err != nil {
			metrics.ObservePlanning(stage, "malformed")
			return struct{}{}, xerrors.Wrap(CodeMalformedResponse, err, "无法解析规划响应")
		}
		metrics.ObservePlanning(stage, "success")
		return struct{}{}, nil
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(&backoff.ExponentialBackOff{
			InitialInterval:     c.baseDelay,
			RandomizationFactor: 0,
			Multiplier:          2,
			MaxInterval:         c.maxDelay,
		}),
		backoff.WithMaxTries(uint(c.maxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn("规划调用失败，准备重试",
				slog.String("stage", stage),
				slog.Int("attempt", attempt),
				slog.Duration("next", next),
				slog.Any("error", err))
			if c.observer != nil {
				c.observer(stage, attempt, err, next)
			}
		}),
	)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return xerrors.Wrap(xerrors.CodeCancelled, err, "规划调用被取消", xerrors.WithMetadata("stage", stage))
	}
	return xerrors.Wrap(CodePlanningUnavailable, err,
		fmt.Sprintf("%s 规划在 %d 次尝试后仍失败", stage, attempt),
		xerrors.WithMetadata("stage", stage),
		xerrors.WithMetadata("attempts", strconv.Itoa(attempt)))
}
