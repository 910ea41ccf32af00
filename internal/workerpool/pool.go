// Package workerpool 提供有上限的并发执行器。
package workerpool

import (
	"context"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"

	xerrors "github.com/McKrispy/Ageeeent/internal/errors"
)

// DefaultSize 是未配置时的并发上限。
const DefaultSize = 10

// Job 是一个独立的工作单元。
type Job func(ctx context.Context) error

// Pool 以固定上限并发执行一批任务。
type Pool struct {
	size int
}

// New 创建工作池，size <= 0 时使用 DefaultSize。
func New(size int) *Pool {
	if size <= 0 {
		size = DefaultSize
	}
	return &Pool{size: size}
}

// Size 返回并发上限。
func (p *Pool) Size() int { return p.size }

// Workers 返回处理 jobs 个任务时实际启动的协程数。
func (p *Pool) Workers(jobs int) int {
	return min(p.size, jobs)
}

// Run 执行全部任务并等待其结束，返回与 jobs 一一对应的错误。
// 单个任务的失败或 panic 不会影响其他任务。ctx 取消后尚未开始的任务
// 直接返回 ctx.Err()。
func (p *Pool) Run(ctx context.Context, jobs []Job) []error {
	errs := make([]error, len(jobs))
	if len(jobs) == 0 {
		return errs
	}
	var g errgroup.Group
	g.SetLimit(p.Workers(len(jobs)))
	for i, job := range jobs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			errs[i] = safeCall(ctx, job)
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

func safeCall(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = xerrors.New(xerrors.CodeExecutorFailure, fmt.Sprintf("worker panic: %v", r),
				xerrors.WithMetadata("stack", string(debug.Stack())))
		}
	}()
	return job(ctx)
}
