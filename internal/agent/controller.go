package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/McKrispy/Ageeeent/internal/brief"
	xerrors "github.com/McKrispy/Ageeeent/internal/errors"
	"github.com/McKrispy/Ageeeent/internal/executor"
	"github.com/McKrispy/Ageeeent/internal/memory"
	"github.com/McKrispy/Ageeeent/internal/observability/metrics"
	"github.com/McKrispy/Ageeeent/internal/planning"
	"github.com/McKrispy/Ageeeent/internal/verify"
	"github.com/McKrispy/Ageeeent/pkg/logger"
)

const (
	// CodeNoActionablePlan 表示战略规划没有产生任何计划。
	CodeNoActionablePlan xerrors.Code = "NO_ACTIONABLE_PLAN"
	// CodeRequirementsUnmet 表示战略尝试耗尽仍未满足目标。
	CodeRequirementsUnmet xerrors.Code = "REQUIREMENTS_UNMET"
)

func init() {
	xerrors.Register(CodeNoActionablePlan, xerrors.Attributes{
		Message:  "strategic planning produced no plan",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeRequirementsUnmet, xerrors.Attributes{
		Message:  "requirements not met",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
}

const (
	DefaultMaxTacticalRetries   = 5
	DefaultMaxStrategicAttempts = 3
)

// Executor 是控制器依赖的执行引擎能力。
type Executor interface {
	Execute(ctx context.Context, b *brief.Brief, wm *memory.WorkingMemory, commands []brief.ExecutableCommand) (executor.Report, error)
}

// Deps 是控制器显式持有的协作者，不依赖任何全局状态。
type Deps struct {
	Strategic planning.Planner
	Tactical  planning.Planner
	Replan    planning.Planner
	Engine    Executor

	TacticalVerifier  verify.Verifier
	StrategicVerifier verify.Verifier

	// Experience 跨会话共享。
	Experience *memory.Experience
	// Archive 可以为 nil，此时循环历史只保存在内存中。
	Archive memory.Archive
	// Profiler 可以为 nil，此时用户补充内容直接拼接到目标后。
	Profiler Profiler
}

// Profiler 根据用户补充内容生成规划使用的完整需求。
type Profiler interface {
	Profile(ctx context.Context, goal, supplementary string) (planning.CompletionRequirement, error)
}

func (d Deps) validate() error {
	switch {
	case d.Strategic == nil, d.Tactical == nil, d.Replan == nil:
		return xerrors.New(xerrors.CodeInitializationFailure, "循环控制器缺少规划阶段")
	case d.Engine == nil:
		return xerrors.New(xerrors.CodeInitializationFailure, "循环控制器缺少执行引擎")
	case d.TacticalVerifier == nil, d.StrategicVerifier == nil:
		return xerrors.New(xerrors.CodeInitializationFailure, "循环控制器缺少验证器")
	case d.Experience == nil:
		return xerrors.New(xerrors.CodeInitializationFailure, "循环控制器缺少经验状态")
	}
	return nil
}

// Limits 是控制器的重试上限，非正值使用默认值。
type Limits struct {
	MaxTacticalRetries   int
	MaxStrategicAttempts int
}

func (l Limits) normalize() Limits {
	if l.MaxTacticalRetries <= 0 {
		l.MaxTacticalRetries = DefaultMaxTacticalRetries
	}
	if l.MaxStrategicAttempts <= 0 {
		l.MaxStrategicAttempts = DefaultMaxStrategicAttempts
	}
	return l
}

// Controller 驱动一次会话的状态机。Run 只能调用一次。
type Controller struct {
	deps   Deps
	limits Limits
	logger *slog.Logger

	brief   *brief.Brief
	wm      *memory.WorkingMemory
	history *memory.CycleHistory

	stop atomic.Bool
	ran  atomic.Bool

	mu      sync.RWMutex
	state   State
	status  Status
	attempt int
}

// New 为一个目标创建控制器。sessionID 为空时自动生成。
func New(sessionID, goal string, deps Deps, limits Limits) (*Controller, error) {
	if goal == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "目标不能为空")
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	b := brief.New(sessionID, goal)
	return &Controller{
		deps:    deps,
		limits:  limits.normalize(),
		logger:  logger.Named("agent").With(slog.String("session_id", b.SessionID())),
		brief:   b,
		wm:      memory.NewWorkingMemory(),
		history: memory.NewCycleHistory(deps.Archive),
		state:   StateInit,
	}, nil
}

// SessionID 返回会话标识。
func (c *Controller) SessionID() string { return c.brief.SessionID() }

// Stop 请求在下一个阶段边界停止。正在执行的批次会跑完。
func (c *Controller) Stop() { c.stop.Store(true) }

// Snapshot 返回当前状态的只读副本。
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	state, status, attempt := c.state, c.status, c.attempt
	c.mu.RUnlock()
	return Snapshot{
		SessionID:        c.brief.SessionID(),
		Goal:             c.brief.Goal(),
		State:            state,
		Status:           status,
		StrategicAttempt: attempt,
		Cycle:            c.brief.Cycle(),
		Brief:            c.brief.Snapshot(),
		WorkingMemory:    c.wm.Entries(),
		History:          c.history.Entries(),
		Experience: ExperienceSizes{
			Cognition:       len(c.deps.Experience.Cognition()),
			ExecutionPolicy: len(c.deps.Experience.ExecutionPolicy()),
		},
	}
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.logger.Debug("进入阶段", slog.String("state", string(s)))
}

// Run 执行状态机直到终态。只有规划能力不可用会以错误中止运行；
// 验证失败都会被吸收进反馈循环。
func (c *Controller) Run(ctx context.Context) (Status, error) {
	if !c.ran.CompareAndSwap(false, true) {
		return "", xerrors.New(xerrors.CodeConflict, "控制器已经运行过")
	}
	ctx, span := startRunSpan(ctx, c.brief)
	status, err := c.run(ctx)
	endRunSpan(span, status, err)

	c.mu.Lock()
	c.status = status
	if status == StatusSuccess {
		c.state = StateDone
	}
	c.mu.Unlock()

	metrics.ObserveSession(string(status))
	attrs := []any{
		slog.String("session_id", c.brief.SessionID()),
		slog.String("status", string(status)),
		slog.Int("cycles", c.brief.Cycle()),
		slog.Int("archived", c.history.Len()),
	}
	if err != nil {
		attrs = append(attrs, slog.Any("error", err))
	}
	logger.Audit().Info("会话结束", attrs...)
	return status, err
}

func (c *Controller) run(ctx context.Context) (Status, error) {
	for attempt := 1; attempt <= c.limits.MaxStrategicAttempts; attempt++ {
		if err := c.checkStop(ctx); err != nil {
			return StatusStopped, err
		}
		c.mu.Lock()
		c.attempt = attempt
		c.mu.Unlock()
		if attempt > 1 {
			c.setState(StateRestartStrategic)
			metrics.ObserveStrategicRestart()
			logger.Audit().Info("战略重启",
				slog.String("session_id", c.brief.SessionID()),
				slog.Int("attempt", attempt))
		}

		c.brief.Reset()
		c.wm.Clear()

		if status, err := c.plan(ctx); err != nil {
			return status, err
		}

		escalated, err := c.runCycles(ctx)
		if err != nil {
			return c.failure(ctx, err)
		}
		if escalated {
			continue
		}
		completed, escalated, err := c.coverPlans(ctx)
		if err != nil {
			return c.failure(ctx, err)
		}
		if escalated {
			continue
		}
		if !completed {
			c.appendCognition(ctx, "部分战略计划没有可执行的子目标，需要重新拆分")
			continue
		}

		if err := c.checkStop(ctx); err != nil {
			return StatusStopped, err
		}
		c.setState(StateStrategicVerify)
		spanCtx, span := startStageSpan(ctx, "agent.strategic_verify", c.brief)
		ok, err := c.deps.StrategicVerifier.Verify(spanCtx, c.scope(""))
		endStageSpan(span, err)
		if err != nil {
			return c.failure(ctx, err)
		}
		if ok {
			c.setState(StateDone)
			return StatusSuccess, nil
		}
	}
	return StatusRequirementsUnmet, xerrors.New(CodeRequirementsUnmet,
		fmt.Sprintf("%d 次战略尝试后目标仍未满足", c.limits.MaxStrategicAttempts),
		xerrors.WithMetadata("session_id", c.brief.SessionID()),
		xerrors.WithMetadata("attempts", strconv.Itoa(c.limits.MaxStrategicAttempts)))
}

// plan 依次调用战略规划与批量战术规划。
func (c *Controller) plan(ctx context.Context) (Status, error) {
	c.setState(StateStrategicPlanning)
	spanCtx, span := startStageSpan(ctx, "agent.strategic_planning", c.brief)
	out, err := c.deps.Strategic.Plan(spanCtx, c.input(""))
	endStageSpan(span, err)
	if err != nil {
		return c.failure(ctx, err)
	}
	if len(out.Plans) == 0 {
		return StatusPlanningUnavailable, xerrors.New(CodeNoActionablePlan, "战略规划没有产生可执行的计划",
			xerrors.WithMetadata("session_id", c.brief.SessionID()))
	}
	c.logger.Info("战略规划完成", slog.Int("plans", len(out.Plans)))

	if err := c.checkStop(ctx); err != nil {
		return StatusStopped, err
	}
	c.setState(StateTacticalPlanning)
	out, err = c.deps.Tactical.Plan(ctx, c.input(""))
	if err != nil {
		return c.failure(ctx, err)
	}
	c.logger.Info("战术规划完成",
		slog.Int("sub_goals", len(out.SubGoals)),
		slog.Int("commands", len(out.Commands)),
		slog.Int("dropped", len(out.Dropped)),
		slog.Int("rejected", len(out.Rejected)))
	return "", nil
}

// coverPlans 为没有子目标的战略计划补做战术规划并执行其子目标，最多
// MaxTacticalRetries 轮。补充规划没有产生子目标时放弃，由调用方重启战略规划。
func (c *Controller) coverPlans(ctx context.Context) (completed, escalated bool, err error) {
	for range c.limits.MaxTacticalRetries {
		if c.brief.AllPlansCompleted() {
			return true, false, nil
		}
		uncovered := c.brief.UncoveredPlans()
		if len(uncovered) == 0 {
			return false, false, nil
		}
		if err := c.checkStop(ctx); err != nil {
			return false, false, err
		}
		ids := make([]string, 0, len(uncovered))
		for _, p := range uncovered {
			ids = append(ids, p.ID)
		}
		c.setState(StateTacticalPlanning)
		in := c.input("")
		in.PlanIDs = ids
		out, err := c.deps.Tactical.Plan(ctx, in)
		if err != nil {
			return false, false, err
		}
		c.logger.Info("为未覆盖的战略计划补充战术规划",
			slog.Any("plan_ids", ids),
			slog.Int("sub_goals", len(out.SubGoals)),
			slog.Int("commands", len(out.Commands)))
		if len(out.SubGoals) == 0 {
			return false, false, nil
		}
		if escalated, err := c.runCycles(ctx); err != nil || escalated {
			return false, escalated, err
		}
	}
	return c.brief.AllPlansCompleted(), false, nil
}

// runCycles 按计划顺序逐个处理未归档的子目标。返回 true 表示某个子目标
// 的战术重试耗尽，需要重启战略规划。
func (c *Controller) runCycles(ctx context.Context) (bool, error) {
	failures := make(map[string]int)
	for {
		sg, ok := c.brief.NextUnarchived()
		if !ok {
			return false, nil
		}
		if err := c.checkStop(ctx); err != nil {
			return false, err
		}
		passed, err := c.cycle(ctx, sg, failures[sg.ID])
		metrics.ObserveCycle(passed)
		if err != nil {
			return false, err
		}
		if passed {
			continue
		}
		failures[sg.ID]++
		if failures[sg.ID] >= c.limits.MaxTacticalRetries {
			c.logger.Warn("子目标战术重试耗尽，升级为战略重启",
				slog.String("sub_goal_id", sg.ID),
				slog.Int("failures", failures[sg.ID]))
			c.appendCognition(ctx, fmt.Sprintf("子目标「%s」连续 %d 次未通过战术验证，需要换一种拆分方式",
				sg.Description, failures[sg.ID]))
			return true, nil
		}
	}
}

// cycle 针对单个子目标执行一轮 规划 → 执行 → 战术验证。
func (c *Controller) cycle(ctx context.Context, sg brief.SubGoal, failures int) (passed bool, err error) {
	cycle := c.brief.NextCycle()
	c.wm.Clear()
	ctx, span := startCycleSpan(ctx, c.brief, sg.ID, cycle)
	defer func() { endCycleSpan(span, passed, err) }()

	if failures > 0 || len(c.brief.PendingCommands(sg.ID)) == 0 {
		c.setState(StateTacticalPlanning)
		out, err := c.deps.Replan.Plan(ctx, c.input(sg.ID))
		if err != nil {
			return false, err
		}
		c.logger.Info("子目标重规划完成",
			slog.String("sub_goal_id", sg.ID),
			slog.Int("commands", len(out.Commands)),
			slog.Int("superseded", len(out.Superseded)))
		if err := c.checkStop(ctx); err != nil {
			return false, err
		}
	}

	c.setState(StateExecuting)
	report, err := c.deps.Engine.Execute(ctx, c.brief, c.wm, c.brief.PendingCommands(sg.ID))
	if err != nil {
		return false, err
	}
	c.logger.Info("命令批次执行完成",
		slog.String("sub_goal_id", sg.ID),
		slog.Int("cycle", cycle),
		slog.Int("dispatched", report.Dispatched),
		slog.Int("succeeded", report.Count(executor.OutcomeSucceeded)),
		slog.Int("failed", report.Count(executor.OutcomeFailed)),
		slog.Int("skipped", report.Count(executor.OutcomeSkipped)))
	c.logger.Debug("工作记忆数据指针",
		slog.String("sub_goal_id", sg.ID),
		slog.Any("pointers", c.wm.Pointers()))

	c.setState(StateTacticalVerify)
	return c.deps.TacticalVerifier.Verify(ctx, c.scope(sg.ID))
}

func (c *Controller) input(subGoalID string) planning.Input {
	return planning.Input{Brief: c.brief, Experience: c.deps.Experience, SubGoalID: subGoalID}
}

func (c *Controller) scope(subGoalID string) verify.Scope {
	return verify.Scope{
		Brief:         c.brief,
		SubGoalID:     subGoalID,
		WorkingMemory: c.wm,
		History:       c.history,
		Experience:    c.deps.Experience,
	}
}

func (c *Controller) appendCognition(ctx context.Context, text string) {
	if err := c.deps.Experience.Append(ctx, c.brief.SessionID(), memory.KindCognition, text); err != nil {
		c.logger.Error("写入认知失败", slog.Any("error", err))
	}
}

// checkStop 只在阶段边界调用。
func (c *Controller) checkStop(ctx context.Context) error {
	if c.stop.Load() {
		return xerrors.New(xerrors.CodeCancelled, "会话已被停止", xerrors.WithMetadata("session_id", c.brief.SessionID()))
	}
	if err := ctx.Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeCancelled, err, "会话上下文已结束", xerrors.WithMetadata("session_id", c.brief.SessionID()))
	}
	return nil
}

// failure 把阶段错误映射为终态。
func (c *Controller) failure(ctx context.Context, err error) (Status, error) {
	if xerrors.CodeOf(err) == xerrors.CodeCancelled {
		return StatusStopped, err
	}
	if ctx.Err() != nil || c.stop.Load() {
		return StatusStopped, xerrors.Wrap(xerrors.CodeCancelled, err, "会话在阶段执行中被停止",
			xerrors.WithMetadata("session_id", c.brief.SessionID()))
	}
	c.logger.Error("规划能力不可用，终止会话", slog.Any("error", err))
	return StatusPlanningUnavailable, err
}
