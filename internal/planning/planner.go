package planning

import (
	"context"
	"log/slog"
	"slices"

	"github.com/McKrispy/Ageeeent/internal/brief"
	xerrors "github.com/McKrispy/Ageeeent/internal/errors"
	"github.com/McKrispy/Ageeeent/internal/llm"
	"github.com/McKrispy/Ageeeent/internal/memory"
	"github.com/McKrispy/Ageeeent/internal/prompt"
	"github.com/McKrispy/Ageeeent/internal/tools"
	"github.com/McKrispy/Ageeeent/pkg/logger"
)

const (
	StageStrategic = "strategic"
	StageTactical  = "tactical"
	StageReplan    = "replan"
)

// Input 是一次规划调用的上下文。SubGoalID 只在重规划时使用，PlanIDs 只在补充战术规划时使用。
type Input struct {
	Brief      *brief.Brief
	Experience *memory.Experience
	SubGoalID  string
	// PlanIDs 非空时战术规划只覆盖这些战略计划。
	PlanIDs []string
}

// DroppedCommand 是因引用未注册工具而被丢弃的命令。
type DroppedCommand struct {
	SubGoalID string
	Tool      string
}

// Output 汇总本次调用写入简报的实体。
type Output struct {
	Plans      []brief.StrategyPlan
	SubGoals   []brief.SubGoal
	Commands   []brief.ExecutableCommand
	Superseded []string
	Dropped    []DroppedCommand
	Rejected   []error
}

// Planner 是规划阶段的统一能力。
type Planner interface {
	Plan(ctx context.Context, in Input) (Output, error)
}

// DefaultExperienceWindow 是写入提示词的每类经验条数上限。
const DefaultExperienceWindow = 20

// Deps 是各阶段共享的协作者。
type Deps struct {
	Caller   *Caller
	Prompts  *prompt.Library
	Registry *tools.Registry
	// ExperienceWindow 限制提示词中每类经验的条数，非正值使用 DefaultExperienceWindow。
	ExperienceWindow int
}

func (d Deps) window() int {
	if d.ExperienceWindow > 0 {
		return d.ExperienceWindow
	}
	return DefaultExperienceWindow
}

func (d Deps) validate(in Input) error {
	if d.Caller == nil || d.Prompts == nil || d.Registry == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "规划阶段缺少调用器、提示词或工具注册表")
	}
	if in.Brief == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "规划需要会话简报")
	}
	return nil
}

func recentExperience(exp *memory.Experience, kind memory.ExperienceKind, window int) []string {
	if exp == nil {
		return nil
	}
	return exp.Recent(kind, window)
}

// addCommands 插入命令，丢弃引用未注册工具的命令。
func addCommands(log *slog.Logger, reg *tools.Registry, b *brief.Brief, subGoalID string, specs []commandSpec, out *Output) {
	for _, spec := range specs {
		if !reg.Has(spec.Tool) {
			log.Warn("规划结果引用了未注册的工具，已丢弃",
				slog.String("session_id", b.SessionID()),
				slog.String("sub_goal_id", subGoalID),
				slog.String("tool", spec.Tool))
			out.Dropped = append(out.Dropped, DroppedCommand{SubGoalID: subGoalID, Tool: spec.Tool})
			continue
		}
		cmd, err := b.AddCommand(subGoalID, spec.Tool, spec.Params)
		if err != nil {
			out.Rejected = append(out.Rejected, err)
			continue
		}
		out.Commands = append(out.Commands, cmd)
	}
}

// scopedPlans 保留 ids 中列出的计划，ids 为空时返回全部。
func scopedPlans(plans []brief.StrategyPlan, ids []string) []brief.StrategyPlan {
	if len(ids) == 0 {
		return plans
	}
	return slices.DeleteFunc(plans, func(p brief.StrategyPlan) bool {
		return !slices.Contains(ids, p.ID)
	})
}

// Strategic 产生战略计划。
type Strategic struct {
	Deps
	logger *slog.Logger
}

// NewStrategic 创建战略规划阶段。
func NewStrategic(deps Deps) *Strategic {
	return &Strategic{Deps: deps, logger: logger.Named("planning.strategic")}
}

// Plan 实现 Planner。返回零个计划不是错误，由调用方决定如何处理。
func (s *Strategic) Plan(ctx context.Context, in Input) (Output, error) {
	if err := s.validate(in); err != nil {
		return Output{}, err
	}
	text, err := s.Prompts.Render(prompt.KindStrategyPlanner, prompt.StrategyData{
		Goal:      in.Brief.Goal(),
		Cognition: recentExperience(in.Experience, memory.KindCognition, s.window()),
		Tools:     s.Registry.List(),
	})
	if err != nil {
		return Output{}, err
	}

	var descs []brief.PlanDescription
	err = s.Caller.Call(ctx, StageStrategic, llm.Request{Prompt: text, Schema: strategySchema}, func(raw string) error {
		var resp strategyResponse
		if err := DecodeObject(raw, "strategy_plans", &resp); err != nil {
			return err
		}
		parsed, err := resp.descriptions()
		if err != nil {
			return err
		}
		descs = parsed
		return nil
	})
	if err != nil {
		return Output{}, err
	}

	var out Output
	for _, d := range descs {
		out.Plans = append(out.Plans, in.Brief.AddPlan(d))
	}
	s.logger.Info("战略规划完成",
		slog.String("session_id", in.Brief.SessionID()),
		slog.Int("plans", len(out.Plans)))
	return out, nil
}

// Tactical 为全部战略计划批量产生子目标与命令。
type Tactical struct {
	Deps
	logger *slog.Logger
}

// NewTactical 创建批量战术规划阶段。
func NewTactical(deps Deps) *Tactical {
	return &Tactical{Deps: deps, logger: logger.Named("planning.tactical")}
}

// Plan 实现 Planner。父计划为空的子目标挂到第一个计划下，父计划不存在的
// 子目标被拒绝并记录在 Output.Rejected 中。
func (t *Tactical) Plan(ctx context.Context, in Input) (Output, error) {
	if err := t.validate(in); err != nil {
		return Output{}, err
	}
	plans := scopedPlans(in.Brief.Plans(), in.PlanIDs)
	if len(plans) == 0 {
		return Output{}, xerrors.New(xerrors.CodeInvalidArgument, "战术规划需要至少一个战略计划")
	}
	text, err := t.Prompts.Render(prompt.KindTaskPlanner, prompt.TaskData{
		Goal:            in.Brief.Goal(),
		Plans:           plans,
		ExecutionPolicy: recentExperience(in.Experience, memory.KindExecutionPolicy, t.window()),
		ToolDocs:        t.Registry.Docs(),
	})
	if err != nil {
		return Output{}, err
	}

	var resp taskResponse
	err = t.Caller.Call(ctx, StageTactical, llm.Request{Prompt: text, Schema: taskSchema}, func(raw string) error {
		var parsed taskResponse
		if err := DecodeObject(raw, "sub_goals", &parsed); err != nil {
			return err
		}
		resp = parsed
		return nil
	})
	if err != nil {
		return Output{}, err
	}

	var out Output
	for _, spec := range resp.SubGoals {
		parent := spec.ParentStrategyPlanID
		if parent == "" {
			parent = plans[0].ID
		}
		if len(in.PlanIDs) > 0 && !slices.Contains(in.PlanIDs, parent) {
			t.logger.Warn("子目标的父计划不在本次规划范围内，已拒绝",
				slog.String("session_id", in.Brief.SessionID()),
				slog.String("parent_strategy_plan_id", parent))
			out.Rejected = append(out.Rejected, xerrors.New(xerrors.CodeInvalidArgument, "子目标的父计划不在本次规划范围内",
				xerrors.WithMetadata("parent_strategy_plan_id", parent)))
			continue
		}
		sg, err := in.Brief.AddSubGoal(parent, spec.Description, spec.ExpectedData)
		if err != nil {
			t.logger.Warn("子目标引用了不存在的战略计划，已拒绝",
				slog.String("session_id", in.Brief.SessionID()),
				slog.String("parent_strategy_plan_id", parent),
				slog.Any("error", err))
			out.Rejected = append(out.Rejected, err)
			continue
		}
		out.SubGoals = append(out.SubGoals, sg)
		addCommands(t.logger, t.Registry, in.Brief, sg.ID, spec.ExecutableCommands, &out)
	}
	t.logger.Info("战术规划完成",
		slog.String("session_id", in.Brief.SessionID()),
		slog.Int("sub_goals", len(out.SubGoals)),
		slog.Int("commands", len(out.Commands)),
		slog.Int("dropped", len(out.Dropped)),
		slog.Int("rejected", len(out.Rejected)))
	return out, nil
}

// Replan 为单个未通过验证的子目标重新生成命令。
type Replan struct {
	Deps
	logger *slog.Logger
}

// NewReplan 创建子目标重规划阶段。
func NewReplan(deps Deps) *Replan {
	return &Replan{Deps: deps, logger: logger.Named("planning.replan")}
}

// Plan 实现 Planner。解析成功后先移除子目标下尚未完成的命令再写入新命令，
// 已完成的命令保留。
func (r *Replan) Plan(ctx context.Context, in Input) (Output, error) {
	if err := r.validate(in); err != nil {
		return Output{}, err
	}
	sg, ok := in.Brief.SubGoal(in.SubGoalID)
	if !ok {
		return Output{}, xerrors.New(brief.CodeEntityNotFound, "sub goal "+in.SubGoalID+" not found")
	}
	text, err := r.Prompts.Render(prompt.KindSubGoalReplanner, prompt.ReplanData{
		Goal:            in.Brief.Goal(),
		SubGoal:         sg,
		ExecutionPolicy: recentExperience(in.Experience, memory.KindExecutionPolicy, r.window()),
		ToolDocs:        r.Registry.Docs(),
	})
	if err != nil {
		return Output{}, err
	}

	var resp replanResponse
	err = r.Caller.Call(ctx, StageReplan, llm.Request{Prompt: text, Schema: replanSchema}, func(raw string) error {
		var parsed replanResponse
		if err := DecodeObject(raw, "executable_commands", &parsed); err != nil {
			return err
		}
		resp = parsed
		return nil
	})
	if err != nil {
		return Output{}, err
	}

	out := Output{Superseded: in.Brief.SupersedePending(sg.ID)}
	if resp.ExpectedData != nil {
		if err := in.Brief.UpdateExpectedData(sg.ID, *resp.ExpectedData); err != nil {
			return out, err
		}
	}
	addCommands(r.logger, r.Registry, in.Brief, sg.ID, resp.ExecutableCommands, &out)
	r.logger.Info("子目标重规划完成",
		slog.String("session_id", in.Brief.SessionID()),
		slog.String("sub_goal_id", sg.ID),
		slog.Int("commands", len(out.Commands)),
		slog.Int("superseded", len(out.Superseded)),
		slog.Int("dropped", len(out.Dropped)))
	return out, nil
}

var (
	_ Planner = (*Strategic)(nil)
	_ Planner = (*Tactical)(nil)
	_ Planner = (*Replan)(nil)
)
