package agent

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/McKrispy/Ageeeent/internal/memory"
	"github.com/McKrispy/Ageeeent/internal/planning"
	"github.com/McKrispy/Ageeeent/internal/task"
	"github.com/McKrispy/Ageeeent/internal/tools"
	"github.com/McKrispy/Ageeeent/pkg/logger"
)

const (
	defaultKeepFinished = 256
	maxResultSummary    = 4000
)

// Runner 为队列中的每个会话创建控制器，并保留活跃与最近结束会话的快照。
type Runner struct {
	deps         Deps
	limits       Limits
	keepFinished int

	mu       sync.RWMutex
	active   map[string]*Controller
	finished map[string]Snapshot
	order    []string
}

// RunnerOption 定义可选配置。
type RunnerOption func(*Runner)

// WithKeepFinished 设置保留多少个已结束会话的快照。
func WithKeepFinished(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.keepFinished = n
		}
	}
}

// NewRunner 校验协作者并创建 Runner。
func NewRunner(deps Deps, limits Limits, opts ...RunnerOption) (*Runner, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	r := &Runner{
		deps:         deps,
		limits:       limits.normalize(),
		keepFinished: defaultKeepFinished,
		active:       make(map[string]*Controller),
		finished:     make(map[string]Snapshot),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Execute 实现 task.Executor。终态映射为带错误码的错误：
// 规划不可用可重试，目标未满足为终态失败，停止映射为取消。
func (r *Runner) Execute(ctx context.Context, s *task.Session) (task.RunResult, error) {
	ctrl, err := New(s.ID, r.goal(ctx, s), r.deps, r.limits)
	if err != nil {
		return task.RunResult{}, err
	}
	r.mu.Lock()
	r.active[s.ID] = ctrl
	r.mu.Unlock()

	status, runErr := ctrl.Run(ctx)
	snap := ctrl.Snapshot()
	r.finish(s.ID, snap)

	return task.RunResult{
		Outcome:  string(status),
		Cycles:   snap.Cycle,
		Archived: len(snap.History),
		Summary:  summarize(snap.History),
	}, runErr
}

// goal 返回交给控制器的目标。会话带有补充内容时先绘制用户画像，
// 画像失败不影响运行，退回到原始输入加补充内容。
func (r *Runner) goal(ctx context.Context, s *task.Session) string {
	supplementary := s.Supplementary()
	if supplementary == "" {
		return s.Goal
	}
	fallback := planning.CompletionRequirement{OriginalInput: s.Goal, SupplementaryContent: supplementary}
	if r.deps.Profiler == nil {
		return fallback.Goal()
	}
	req, err := r.deps.Profiler.Profile(ctx, s.Goal, supplementary)
	if err != nil {
		logger.Named("agent.runner").Warn("用户画像分析失败，使用原始输入与补充内容",
			slog.String("session_id", s.ID),
			slog.Any("error", err))
		return fallback.Goal()
	}
	return req.Goal()
}

func (r *Runner) finish(id string, snap Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, id)
	if _, ok := r.finished[id]; !ok {
		r.order = append(r.order, id)
	}
	r.finished[id] = snap
	for len(r.order) > r.keepFinished {
		delete(r.finished, r.order[0])
		r.order = r.order[1:]
	}
}

// Snapshot 返回会话的当前或最终快照。内存中的快照被淘汰后，
// 若 Archive 同时实现了 memory.HistoryReader，则从归档的循环历史重建。
func (r *Runner) Snapshot(ctx context.Context, id string) (Snapshot, bool) {
	r.mu.RLock()
	ctrl, active := r.active[id]
	snap, found := r.finished[id]
	r.mu.RUnlock()
	if active {
		return ctrl.Snapshot(), true
	}
	if found {
		return snap, true
	}
	return r.archivedSnapshot(ctx, id)
}

func (r *Runner) archivedSnapshot(ctx context.Context, id string) (Snapshot, bool) {
	reader, ok := r.deps.Archive.(memory.HistoryReader)
	if !ok {
		return Snapshot{}, false
	}
	entries, err := reader.History(ctx, id)
	if err != nil {
		logger.Named("agent.runner").Warn("读取归档历史失败",
			slog.String("session_id", id),
			slog.Any("error", err))
		return Snapshot{}, false
	}
	if len(entries) == 0 {
		return Snapshot{}, false
	}
	snap := Snapshot{SessionID: id, State: StateDone, History: entries, Archived: true}
	for _, e := range entries {
		snap.Cycle = max(snap.Cycle, e.Cycle)
	}
	return snap, true
}

// Stop 请求停止正在运行的会话，会话不在运行时返回 false。
func (r *Runner) Stop(id string) bool {
	r.mu.RLock()
	ctrl, ok := r.active[id]
	r.mu.RUnlock()
	if ok {
		ctrl.Stop()
	}
	return ok
}

// Active 返回正在运行的会话 ID。
func (r *Runner) Active() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func summarize(history []memory.ExecutionLogEntry) string {
	var b strings.Builder
	for _, entry := range history {
		fmt.Fprintf(&b, "[%d] %s: %s\n", entry.Cycle, entry.SubGoal, entry.Summary)
	}
	return tools.Excerpt(b.String(), maxResultSummary)
}

var _ task.Executor = (*Runner)(nil)
