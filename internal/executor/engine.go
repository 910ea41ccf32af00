package executor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/McKrispy/Ageeeent/internal/brief"
	xerrors "github.com/McKrispy/Ageeeent/internal/errors"
	"github.com/McKrispy/Ageeeent/internal/memory"
	"github.com/McKrispy/Ageeeent/internal/observability/metrics"
	"github.com/McKrispy/Ageeeent/internal/storage"
	"github.com/McKrispy/Ageeeent/internal/tools"
	"github.com/McKrispy/Ageeeent/internal/workerpool"
	"github.com/McKrispy/Ageeeent/pkg/logger"
)

// Outcome 描述单条命令的执行结果。
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// CommandResult 记录单条命令的执行情况。
type CommandResult struct {
	CommandID string
	Tool      string
	Outcome   Outcome
	Pointers  []string
	Err       error
	Duration  time.Duration
}

// Report 汇总一次批量执行。
type Report struct {
	Dispatched int
	Results    []CommandResult
	Changes    []brief.Change
}

// Count 返回指定结果的命令数量。
func (r Report) Count(outcome Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == outcome {
			n++
		}
	}
	return n
}

// Engine 是执行引擎。
type Engine struct {
	registry   *tools.Registry
	store      storage.BlobStore
	summarizer tools.Summarizer
	pool       *workerpool.Pool
	logger     *slog.Logger
}

// Option 定义可选配置。
type Option func(*Engine)

// WithSummarizer 指定工具使用的摘要器。
func WithSummarizer(s tools.Summarizer) Option {
	return func(e *Engine) { e.summarizer = s }
}

// WithMaxWorkers 设置并发上限。
func WithMaxWorkers(n int) Option {
	return func(e *Engine) { e.pool = workerpool.New(n) }
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New 创建执行引擎。
func New(registry *tools.Registry, store storage.BlobStore, opts ...Option) *Engine {
	e := &Engine{
		registry: registry,
		store:    store,
		pool:     workerpool.New(workerpool.DefaultSize),
		logger:   logger.Named("executor"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Execute 并发执行尚未完成的命令并等待全部结束。
// 工具异常只影响对应命令，成功的命令会合并结果并立即向上传播完成状态。
// 返回错误仅表示引擎本身未正确配置，批次已分发时总是返回 nil。
func (e *Engine) Execute(ctx context.Context, b *brief.Brief, wm *memory.WorkingMemory, commands []brief.ExecutableCommand) (Report, error) {
	if b == nil || wm == nil || e.registry == nil {
		return Report{}, xerrors.New(xerrors.CodeInitializationFailure, "执行引擎缺少会话简报、工作记忆或工具注册表")
	}

	var (
		report Report
		mu     sync.Mutex
		jobs   []workerpool.Job
	)
	record := func(res CommandResult, changes []brief.Change) {
		mu.Lock()
		defer mu.Unlock()
		report.Results = append(report.Results, res)
		report.Changes = append(report.Changes, changes...)
	}

	for _, cmd := range commands {
		if current, ok := b.Command(cmd.ID); !ok || current.Completed {
			continue
		}
		factory, ok := e.registry.Resolve(cmd.Tool)
		if !ok {
			e.logger.Warn("命令引用了未注册的工具，跳过",
				slog.String("command_id", cmd.ID),
				slog.String("tool", cmd.Tool))
			metrics.ObserveCommand(cmd.Tool, string(OutcomeSkipped), 0)
			record(CommandResult{
				CommandID: cmd.ID,
				Tool:      cmd.Tool,
				Outcome:   OutcomeSkipped,
				Err:       xerrors.New(tools.CodeToolNotFound, fmt.Sprintf("tool %s not registered", cmd.Tool)),
			}, nil)
			continue
		}
		sc := tools.SessionContext{
			SessionID:  b.SessionID(),
			Cycle:      b.Cycle(),
			CommandID:  cmd.ID,
			Goal:       b.Goal(),
			Store:      e.store,
			Summarizer: e.summarizer,
		}
		jobs = append(jobs, func(ctx context.Context) error {
			res, changes := e.run(ctx, b, wm, sc, cmd, factory)
			record(res, changes)
			return res.Err
		})
	}

	report.Dispatched = len(jobs)
	if len(jobs) == 0 {
		return report, nil
	}
	e.logger.Debug("分发命令批次",
		slog.String("session_id", b.SessionID()),
		slog.Int("cycle", b.Cycle()),
		slog.Int("commands", len(jobs)),
		slog.Int("workers", e.pool.Workers(len(jobs))))

	// 批次一旦开始就跑完，这里不传播上层取消。
	e.pool.Run(context.WithoutCancel(ctx), jobs)
	return report, nil
}

func (e *Engine) run(ctx context.Context, b *brief.Brief, wm *memory.WorkingMemory, sc tools.SessionContext, cmd brief.ExecutableCommand, factory tools.Factory) (res CommandResult, changes []brief.Change) {
	res = CommandResult{CommandID: cmd.ID, Tool: cmd.Tool}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res.Outcome = OutcomeFailed
			res.Err = xerrors.New(tools.CodeToolFailure, fmt.Sprintf("tool panic: %v", r),
				xerrors.WithMetadata("stack", string(debug.Stack())))
		}
		res.Duration = time.Since(start)
		metrics.ObserveCommand(cmd.Tool, string(res.Outcome), res.Duration)
		if res.Err != nil {
			e.logger.Warn("命令执行失败",
				slog.String("session_id", sc.SessionID),
				slog.String("command_id", cmd.ID),
				slog.String("tool", cmd.Tool),
				slog.Any("error", res.Err))
		}
	}()

	results, err := factory().Execute(ctx, sc, cmd.Params)
	if err == nil && len(results) == 0 {
		err = xerrors.New(tools.CodeToolFailure, "tool returned no results")
	}
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Err = xerrors.Wrap(tools.CodeToolFailure, err, "工具执行失败", xerrors.WithMetadata("tool", cmd.Tool))
		return res, nil
	}

	wm.Merge(results)
	for pointer := range results {
		res.Pointers = append(res.Pointers, pointer)
	}
	changes, err = b.MarkCommandComplete(cmd.ID)
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Err = err
		return res, nil
	}
	res.Outcome = OutcomeSucceeded
	return res, changes
}
