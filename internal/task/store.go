package task

import (
	"context"

	xerrors "github.com/McKrispy/Ageeeent/internal/errors"
)

// Store 抽象了会话运行状态的持久化接口。
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	// Claim 把待运行的会话标记为运行中并增加尝试次数。
	Claim(ctx context.Context, id string) (*Session, error)
	MarkSucceeded(ctx context.Context, id string, result RunResult) error
	// MarkFailed 记录失败。terminal 为 false 时会话回到待运行状态等待重投。
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error
	// MarkCancelled 取消尚未进入终态的会话。
	MarkCancelled(ctx context.Context, id string, reason string) error
	List(ctx context.Context, opts ListOptions) ([]*Session, error)
	Stats(ctx context.Context, opts ListOptions) (Stats, error)
	Close() error
}
