package verify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/McKrispy/Ageeeent/internal/brief"
	xerrors "github.com/McKrispy/Ageeeent/internal/errors"
	"github.com/McKrispy/Ageeeent/internal/llm"
	"github.com/McKrispy/Ageeeent/internal/memory"
	"github.com/McKrispy/Ageeeent/internal/observability/metrics"
	"github.com/McKrispy/Ageeeent/internal/planning"
	"github.com/McKrispy/Ageeeent/internal/prompt"
	"github.com/McKrispy/Ageeeent/pkg/logger"
)

const (
	ScopeTactical  = "tactical"
	ScopeStrategic = "strategic"
)

// Scope 是验证所需的会话状态。战术验证需要 SubGoalID 与 WorkingMemory。
type Scope struct {
	Brief         *brief.Brief
	SubGoalID     string
	WorkingMemory *memory.WorkingMemory
	History       *memory.CycleHistory
	Experience    *memory.Experience
}

// Verifier 是两级验证的统一能力。
type Verifier interface {
	Verify(ctx context.Context, scope Scope) (bool, error)
}

// Tactical 对比子目标声明的预期数据与工作记忆中的结果。
type Tactical struct {
	logger *slog.Logger
}

// NewTactical 创建战术验证器。
func NewTactical() *Tactical {
	return &Tactical{logger: logger.Named("verify.tactical")}
}

// Verify 实现 Verifier。通过时归档工作记忆、标记子目标已归档并清空工作记忆；
// 失败时向执行策略追加一条反馈，不推进进度。
func (t *Tactical) Verify(ctx context.Context, scope Scope) (bool, error) {
	if scope.Brief == nil || scope.WorkingMemory == nil || scope.History == nil || scope.Experience == nil {
		return false, xerrors.New(xerrors.CodeInvalidArgument, "战术验证缺少会话状态")
	}
	sg, ok := scope.Brief.SubGoal(scope.SubGoalID)
	if !ok {
		return false, xerrors.New(brief.CodeEntityNotFound, "sub goal "+scope.SubGoalID+" not found")
	}
	entries := scope.WorkingMemory.Entries()
	problems := Check(sg.ExpectedData, entries)
	metrics.ObserveVerification(ScopeTactical, len(problems) == 0)

	if len(problems) > 0 {
		feedback := fmt.Sprintf("子目标「%s」未获得预期数据：%s", sg.Description, strings.Join(problems, "；"))
		if err := scope.Experience.Append(ctx, scope.Brief.SessionID(), memory.KindExecutionPolicy, feedback); err != nil {
			t.logger.Error("写入执行策略失败", slog.String("session_id", scope.Brief.SessionID()), slog.Any("error", err))
		}
		t.logger.Info("战术验证未通过",
			slog.String("session_id", scope.Brief.SessionID()),
			slog.String("sub_goal_id", sg.ID),
			slog.String("feedback", feedback))
		return false, nil
	}

	entry := memory.NewLogEntry(scope.Brief.SessionID(), scope.Brief.Cycle(), sg.ID, sg.Description, entries)
	if err := scope.History.Append(ctx, entry); err != nil {
		t.logger.Error("持久化循环历史失败", slog.String("session_id", scope.Brief.SessionID()), slog.Any("error", err))
	}
	if _, err := scope.Brief.MarkArchived(sg.ID); err != nil {
		return false, err
	}
	scope.WorkingMemory.Clear()
	t.logger.Info("战术验证通过",
		slog.String("session_id", scope.Brief.SessionID()),
		slog.String("sub_goal_id", sg.ID),
		slog.Int("entries", len(entries)))
	return true, nil
}

// Check 返回工作记忆不满足预期数据的原因，满足时返回 nil。
// 至少需要一条非空摘要。
func Check(expected brief.ExpectedData, wm map[string]string) []string {
	var problems []string
	var summaries []string
	for _, s := range wm {
		if strings.TrimSpace(s) != "" {
			summaries = append(summaries, strings.ToLower(s))
		}
	}
	want := max(expected.MinEntries, 1)
	if len(summaries) < want {
		problems = append(problems, fmt.Sprintf("需要至少 %d 条结果，实际 %d 条", want, len(summaries)))
	}
	joined := strings.Join(summaries, "\n")
	var missing []string
	for _, term := range expected.RequiredTerms {
		term = strings.TrimSpace(term)
		if term != "" && !strings.Contains(joined, strings.ToLower(term)) {
			missing = append(missing, term)
		}
	}
	if len(missing) > 0 {
		problems = append(problems, "缺少关键信息 "+strings.Join(missing, ", "))
	}
	return problems
}

type requirementsResponse struct {
	Satisfied bool   `json:"satisfied"`
	Feedback  string `json:"feedback"`
}

var requirementsSchema = []byte(`{
  "type": "object",
  "required": ["satisfied"],
  "properties": {
    "satisfied": {"type": "boolean"},
    "feedback": {"type": "string"}
  }
}`)

// Strategic 借助规划能力判断累计结果是否满足用户目标。
type Strategic struct {
	caller  *planning.Caller
	prompts *prompt.Library
	logger  *slog.Logger
}

// NewStrategic 创建战略验证器。
func NewStrategic(caller *planning.Caller, prompts *prompt.Library) *Strategic {
	return &Strategic{caller: caller, prompts: prompts, logger: logger.Named("verify.strategic")}
}

// Verify 实现 Verifier。失败时向认知追加一条反馈。规划能力不可用时返回错误。
func (s *Strategic) Verify(ctx context.Context, scope Scope) (bool, error) {
	if scope.Brief == nil || scope.History == nil || scope.Experience == nil {
		return false, xerrors.New(xerrors.CodeInvalidArgument, "战略验证缺少会话状态")
	}
	text, err := s.prompts.Render(prompt.KindRequirementsVerifier, prompt.VerifyData{
		Goal:    scope.Brief.Goal(),
		History: scope.History.Entries(),
	})
	if err != nil {
		return false, err
	}
	var resp requirementsResponse
	err = s.caller.Call(ctx, ScopeStrategic+"_verify", llm.Request{Prompt: text, Schema: requirementsSchema}, func(raw string) error {
		var parsed requirementsResponse
		if err := planning.DecodeObject(raw, "satisfied", &parsed); err != nil {
			return err
		}
		resp = parsed
		return nil
	})
	if err != nil {
		return false, err
	}
	metrics.ObserveVerification(ScopeStrategic, resp.Satisfied)
	if resp.Satisfied {
		s.logger.Info("战略验证通过", slog.String("session_id", scope.Brief.SessionID()))
		return true, nil
	}

	feedback := strings.TrimSpace(resp.Feedback)
	if feedback == "" {
		feedback = "已归档的结果不足以回答目标，需要调整整体策略"
	}
	feedback = fmt.Sprintf("目标「%s」：%s", scope.Brief.Goal(), feedback)
	if err := scope.Experience.Append(ctx, scope.Brief.SessionID(), memory.KindCognition, feedback); err != nil {
		s.logger.Error("写入认知失败", slog.String("session_id", scope.Brief.SessionID()), slog.Any("error", err))
	}
	s.logger.Info("战略验证未通过",
		slog.String("session_id", scope.Brief.SessionID()),
		slog.String("feedback", feedback))
	return false, nil
}

var (
	_ Verifier = (*Tactical)(nil)
	_ Verifier = (*Strategic)(nil)
)
