package task

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "github.com/McKrispy/Ageeeent/internal/errors"
	"github.com/McKrispy/Ageeeent/pkg/logger"
)

// SubmitRequest 描述一次目标提交。ID 非空时提交是幂等的。
// Supplementary 是用户对澄清问卷的回答，保存在会话 metadata 中。
type SubmitRequest struct {
	ID            string         `json:"id,omitempty"`
	Goal          string         `json:"goal"`
	Supplementary string         `json:"supplementary,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Service 负责会话的创建与查询。
type Service struct {
	store      Store
	producer   Producer
	maxRetries int
}

// NewService 构造会话服务。maxRetries 为负数时按 0 处理。
func NewService(store Store, producer Producer, maxRetries int) *Service {
	return &Service{store: store, producer: producer, maxRetries: max(maxRetries, 0)}
}

// Submit 创建一个待运行的会话并推送到队列。
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Session, error) {
	if strings.TrimSpace(req.Goal) == "" {
		return nil, xerrors.New(CodeSessionValidation, "目标不能为空")
	}
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "会话服务未初始化")
	}

	id := strings.TrimSpace(req.ID)
	if id != "" {
		existing, err := s.store.Get(ctx, id)
		if err == nil {
			return existing, nil
		}
		if !stdErrors.Is(err, ErrSessionNotFound) {
			return nil, err
		}
	} else {
		id = uuid.NewString()
	}

	sess := &Session{
		ID:         id,
		Goal:       strings.TrimSpace(req.Goal),
		Metadata:   maps.Clone(req.Metadata),
		Status:     StatusPending,
		MaxRetries: s.maxRetries,
	}
	if supplementary := strings.TrimSpace(req.Supplementary); supplementary != "" {
		if sess.Metadata == nil {
			sess.Metadata = make(map[string]any, 1)
		}
		sess.Metadata[MetadataSupplementary] = supplementary
	}
	if err := s.store.Create(ctx, sess); err != nil {
		if stdErrors.Is(err, ErrSessionConflict) {
			return s.store.Get(ctx, id)
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, id); err != nil {
		logger.L().Error("会话入队失败", slog.Any("error", err), slog.String("session_id", id))
		wrapped := xerrors.Wrap(CodeSessionPublish, err, "发布会话到队列失败")
		_ = s.store.MarkFailed(ctx, id, CodeSessionPublish, wrapped.Error(), true)
		return nil, wrapped
	}
	logger.Audit().Info("会话已提交",
		slog.String("session_id", id),
		slog.String("goal", sess.Goal),
		slog.Int("max_retries", sess.MaxRetries),
	)
	return sess, nil
}

// Get 返回指定会话的状态。
func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "会话存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// Cancel 取消尚未进入终态的会话。
func (s *Service) Cancel(ctx context.Context, id, reason string) error {
	if s.store == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "会话存储未初始化")
	}
	if err := s.store.MarkCancelled(ctx, id, reason); err != nil {
		return err
	}
	logger.Audit().Info("会话已取消", slog.String("session_id", id), slog.String("reason", reason))
	return nil
}

// List 返回符合过滤条件的会话列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Session, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "会话存储未初始化")
	}
	return s.store.List(ctx, buildListOptions(opts))
}

// Stats 返回符合过滤条件的会话统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (Stats, error) {
	if s.store == nil {
		return Stats{}, xerrors.New(xerrors.CodeInitializationFailure, "会话存储未初始化")
	}
	return s.store.Stats(ctx, buildListOptions(opts))
}

// Close 释放资源。
func (s *Service) Close() error {
	var err error
	if s.store != nil {
		err = s.store.Close()
	}
	if s.producer != nil {
		err = stdErrors.Join(err, s.producer.Close())
	}
	return err
}

// WaitUntilCompleted 轮询会话状态直到进入终态或 ctx 结束。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Session, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		sess, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if sess.Status.Terminal() {
			return sess, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
