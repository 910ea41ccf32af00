package task

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "github.com/McKrispy/Ageeeent/internal/errors"
	"github.com/McKrispy/Ageeeent/internal/observability/alerting"
	"github.com/McKrispy/Ageeeent/pkg/logger"
)

// Executor 运行一个会话直到终态。返回错误的可重试属性决定会话是否重新排队。
type Executor interface {
	Execute(ctx context.Context, s *Session) (RunResult, error)
}

// Processor 负责从队列消费会话并交给循环控制器运行。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
		logger:      logger.Named("task.processor"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start 启动消费循环，阻塞直到 ctx 结束或队列出错。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置会话消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, id string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	sess, err := p.store.Claim(ctx, id)
	if err != nil {
		if stdErrors.Is(err, ErrSessionNotFound) || stdErrors.Is(err, ErrSessionCompleted) ||
			stdErrors.Is(err, ErrSessionExhausted) || stdErrors.Is(err, ErrSessionConflict) {
			p.logger.Debug("跳过会话", slog.String("session_id", id), slog.String("reason", err.Error()))
			return nil
		}
		p.logger.Error("领取会话失败", slog.Any("error", err), slog.String("session_id", id))
		p.emitAlert(ctx, &Session{ID: id}, CodeSessionProcessing, err, "claim")
		return err
	}

	result, execErr := p.executor.Execute(ctx, sess)
	switch {
	case execErr == nil:
		return p.handleSuccess(ctx, sess, result)
	case xerrors.CodeOf(execErr) == xerrors.CodeCancelled:
		return p.handleCancelled(ctx, sess, execErr)
	default:
		return p.handleFailure(ctx, sess, execErr)
	}
}

func (p *Processor) handleSuccess(ctx context.Context, sess *Session, result RunResult) error {
	if err := p.store.MarkSucceeded(ctx, sess.ID, result); err != nil {
		if stdErrors.Is(err, ErrSessionCompleted) {
			p.logger.Info("会话运行期间已被取消，丢弃运行结果", slog.String("session_id", sess.ID))
			return nil
		}
		p.logger.Error("标记会话成功失败", slog.Any("error", err), slog.String("session_id", sess.ID))
		return err
	}
	logger.Audit().Info("会话运行成功",
		slog.String("session_id", sess.ID),
		slog.String("goal", sess.Goal),
		slog.Int("cycles", result.Cycles),
		slog.Int("archived", result.Archived),
	)
	return nil
}

func (p *Processor) handleCancelled(ctx context.Context, sess *Session, cause error) error {
	err := p.store.MarkCancelled(ctx, sess.ID, cause.Error())
	if err != nil && !stdErrors.Is(err, ErrSessionCompleted) {
		p.logger.Error("标记会话取消失败", slog.Any("error", err), slog.String("session_id", sess.ID))
		return err
	}
	logger.Audit().Info("会话已停止", slog.String("session_id", sess.ID), slog.String("reason", cause.Error()))
	return nil
}

// handleFailure 可重试的错误在重试次数内重新排队，其余记为终态失败。
func (p *Processor) handleFailure(ctx context.Context, sess *Session, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeSessionProcessing
	}
	retryable := xerrors.RetryableError(execErr)
	terminal := !retryable || sess.Exhausted()

	if err := p.store.MarkFailed(ctx, sess.ID, code, execErr.Error(), terminal); err != nil {
		if stdErrors.Is(err, ErrSessionCompleted) {
			p.logger.Info("会话运行期间已被取消，不再重投", slog.String("session_id", sess.ID))
			return nil
		}
		p.logger.Error("标记会话失败状态出错", slog.Any("error", err), slog.String("session_id", sess.ID))
		return err
	}
	logger.Audit().Warn("会话运行失败",
		slog.String("session_id", sess.ID),
		slog.String("goal", sess.Goal),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", sess.Attempts),
		slog.Int("max_retries", sess.MaxRetries),
	)

	stage := "retry"
	switch {
	case !retryable:
		stage = "terminal"
	case terminal:
		stage = "exhausted"
	}
	p.emitAlert(ctx, sess, code, execErr, stage)

	if terminal {
		return nil
	}
	if err := p.producer.Publish(ctx, sess.ID); err != nil {
		return xerrors.Wrap(CodeSessionPublish, err, fmt.Sprintf("会话 %s 重投失败", sess.ID))
	}
	p.logger.Debug("会话已重新排队", slog.String("session_id", sess.ID), slog.Int("attempts", sess.Attempts))
	return nil
}

func (p *Processor) emitAlert(ctx context.Context, sess *Session, code xerrors.Code, cause error, stage string) {
	if p.alerter == nil || sess == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	event := alerting.Event{
		Code:       code,
		Message:    attrs.Message,
		Severity:   attrs.Severity,
		SessionID:  sess.ID,
		Attempts:   sess.Attempts,
		MaxRetries: sess.MaxRetries,
		Metadata:   map[string]string{"stage": stage},
		OccurredAt: time.Now(),
	}
	if cause != nil {
		event.Message = cause.Error()
		event.Metadata["cause"] = cause.Error()
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		p.logger.Error("告警通知失败",
			slog.Any("error", err),
			slog.String("session_id", sess.ID),
			slog.String("stage", stage),
		)
	}
}
