package planning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/McKrispy/Ageeeent/internal/brief"
	xerrors "github.com/McKrispy/Ageeeent/internal/errors"
	"github.com/McKrispy/Ageeeent/internal/llm"
	"github.com/McKrispy/Ageeeent/internal/memory"
	"github.com/McKrispy/Ageeeent/internal/prompt"
	"github.com/McKrispy/Ageeeent/internal/tools"
)

// scriptedClient 依次返回预设响应，用完后重复最后一个。
type scriptedClient struct {
	mu        sync.Mutex
	responses []string
	calls     int
	prompts   []string
}

func (s *scriptedClient) Complete(_ context.Context, req llm.Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.prompts = append(s.prompts, req.Prompt)
	idx := min(s.calls-1, len(s.responses)-1)
	return s.responses[idx], nil
}

type noopTool struct{}

func (noopTool) Execute(context.Context, tools.SessionContext, map[string]any) (map[string]string, error) {
	return nil, nil
}

func newDeps(t *testing.T, client llm.Client, opts ...CallerOption) Deps {
	t.Helper()
	reg := tools.NewRegistry()
	for _, name := range []string{"web_search", "knowledge_lookup"} {
		if err := reg.Register(name, "", func() tools.Tool { return noopTool{} }); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	opts = append([]CallerOption{WithBackoff(time.Millisecond, 50*time.Millisecond)}, opts...)
	return Deps{Caller: NewCaller(client, opts...), Prompts: prompt.MustDefault(), Registry: reg}
}

func TestCallerRetryBound(t *testing.T) {
	client := &scriptedClient{responses: []string{"this is not json"}}
	var delays []time.Duration
	caller := NewCaller(client,
		WithMaxAttempts(3),
		WithBackoff(2*time.Millisecond, time.Second),
		WithObserver(func(_ string, _ int, _ error, next time.Duration) {
			delays = append(delays, next)
		}))

	err := caller.Call(context.Background(), StageStrategic, llm.Request{Prompt: "p"}, func(raw string) error {
		return DecodeObject(raw, "strategy_plans", &strategyResponse{})
	})
	if xerrors.CodeOf(err) != CodePlanningUnavailable {
		t.Fatalf("expected planning unavailable, got %v", err)
	}
	if client.calls != 3 {
		t.Fatalf("expected exactly 3 calls, got %d", client.calls)
	}
	if len(delays) != 2 {
		t.Fatalf("expected 2 waits, got %v", delays)
	}
	for i := 1; i < len(delays); i++ {
		if delays[i] <= delays[i-1] {
			t.Fatalf("delays not strictly increasing: %v", delays)
		}
	}
	if diff := cmp.Diff([]time.Duration{2 * time.Millisecond, 4 * time.Millisecond}, delays); diff != "" {
		t.Fatalf("delays mismatch (-want +got):\n%s", diff)
	}
}

func TestCallerRecoversAfterEmptyResponse(t *testing.T) {
	client := &scriptedClient{responses: []string{"   ", `{"strategy_plans": []}`}}
	caller := NewCaller(client, WithBackoff(time.Millisecond, time.Millisecond))
	err := caller.Call(context.Background(), StageStrategic, llm.Request{}, func(raw string) error {
		return DecodeObject(raw, "strategy_plans", &strategyResponse{})
	})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if client.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", client.calls)
	}
}

func TestCallerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := llm.ClientFunc(func(context.Context, llm.Request) (string, error) {
		cancel()
		return "", errors.New("connection reset")
	})
	err := NewCaller(client, WithBackoff(time.Millisecond, time.Millisecond)).Call(ctx, StageTactical, llm.Request{}, func(string) error { return nil })
	if xerrors.CodeOf(err) != xerrors.CodeCancelled {
		t.Fatalf("expected cancelled, got %v", err)
	}
}

func TestStripFences(t *testing.T) {
	cases := map[string]string{
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n{\"a\":1}```":       `{"a":1}`,
		"  {\"a\":1}  ":           `{"a":1}`,
	}
	for in, want := range cases {
		if got := stripFences(in); got != want {
			t.Fatalf("stripFences(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStrategicPlanParsesObjectsAndStrings(t *testing.T) {
	client := &scriptedClient{responses: []string{"```json\n" + `{
  "task_type": "research",
  "task_complexity": "medium",
  "strategy_plans": [
    {"objective": "collect fee data", "scope": "L2", "priority": "high", "rationale": "core"},
    "compare against mainnet",
    ""
  ]
}` + "\n```"}}
	b := brief.New("s", "compare L2 fees")
	exp := memory.NewExperience(nil)
	if err := exp.Append(context.Background(), "s", memory.KindCognition, "prefer primary sources"); err != nil {
		t.Fatalf("append: %v", err)
	}

	out, err := NewStrategic(newDeps(t, client)).Plan(context.Background(), Input{Brief: b, Experience: exp})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(out.Plans) != 2 {
		t.Fatalf("expected 2 plans, got %d", len(out.Plans))
	}
	if out.Plans[0].Description.Objective != "collect fee data" || out.Plans[0].Description.TaskType != "research" {
		t.Fatalf("unexpected first plan %+v", out.Plans[0].Description)
	}
	if out.Plans[1].Description.Text != "compare against mainnet" {
		t.Fatalf("unexpected second plan %+v", out.Plans[1].Description)
	}
	if !strings.Contains(client.prompts[0], "prefer primary sources") {
		t.Fatal("cognition was not embedded in the prompt")
	}
	if len(b.Plans()) != 2 {
		t.Fatal("plans were not added to the brief")
	}
}

func TestStrategicPlanKeepsObjectsWithoutObjective(t *testing.T) {
	client := &scriptedClient{responses: []string{`{
  "task_type": "research",
  "strategy_plans": [
    {"description": "survey rollup fee schedules", "priority": "high"},
    {"scope": "L2", "steps": ["collect", "compare"]},
    {"objective": "", "scope": ""},
    {}
  ]
}`}}
	b := brief.New("s", "compare L2 fees")
	out, err := NewStrategic(newDeps(t, client)).Plan(context.Background(), Input{Brief: b})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(out.Plans) != 2 {
		t.Fatalf("expected 2 plans, got %+v", out.Plans)
	}
	first := out.Plans[0].Description
	if first.Text != "survey rollup fee schedules" || first.Priority != "high" || first.TaskType != "research" {
		t.Fatalf("unexpected first plan %+v", first)
	}
	if got := out.Plans[1].Description.Text; got != `{"scope":"L2","steps":["collect","compare"]}` {
		t.Fatalf("object plan should be kept as text, got %q", got)
	}
}

func TestPlanPromptsKeepRecentExperience(t *testing.T) {
	exp := memory.NewExperience(nil)
	ctx := context.Background()
	for i := 0; i < 5000; i++ {
		text := fmt.Sprintf("lesson-%04d %s", i, strings.Repeat("x", 80))
		if err := exp.Append(ctx, "s", memory.KindCognition, text); err != nil {
			t.Fatalf("append cognition: %v", err)
		}
		if err := exp.Append(ctx, "s", memory.KindExecutionPolicy, text); err != nil {
			t.Fatalf("append policy: %v", err)
		}
	}

	b := brief.New("s", "goal")
	b.AddPlan(brief.PlanDescription{Text: "only plan"})
	client := &scriptedClient{responses: []string{
		`{"strategy_plans": ["again"]}`,
		`{"sub_goals": [{"description": "d", "executable_commands": [{"tool": "web_search", "params": {}}]}]}`,
	}}
	deps := newDeps(t, client)
	deps.ExperienceWindow = 3

	if _, err := NewStrategic(deps).Plan(ctx, Input{Brief: b, Experience: exp}); err != nil {
		t.Fatalf("strategic: %v", err)
	}
	if _, err := NewTactical(deps).Plan(ctx, Input{Brief: b, Experience: exp}); err != nil {
		t.Fatalf("tactical: %v", err)
	}
	for i, text := range client.prompts {
		if len(text) > 16<<10 {
			t.Fatalf("prompt %d grew to %d bytes", i, len(text))
		}
		if !strings.Contains(text, "lesson-4999") || !strings.Contains(text, "lesson-4997") {
			t.Fatalf("prompt %d lost the latest experience", i)
		}
		if strings.Contains(text, "lesson-4996") || strings.Contains(text, "lesson-0000") {
			t.Fatalf("prompt %d kept experience outside the window", i)
		}
	}
}

func TestStrategicPlanDoesNotInsertOnFailure(t *testing.T) {
	client := &scriptedClient{responses: []string{`{"plans": []}`}}
	b := brief.New("s", "goal")
	_, err := NewStrategic(newDeps(t, client, WithMaxAttempts(2))).Plan(context.Background(), Input{Brief: b})
	if xerrors.CodeOf(err) != CodePlanningUnavailable {
		t.Fatalf("expected planning unavailable, got %v", err)
	}
	if client.calls != 2 || len(b.Plans()) != 0 {
		t.Fatalf("calls=%d plans=%d", client.calls, len(b.Plans()))
	}
}

func TestTacticalPlanAttachesAndFilters(t *testing.T) {
	b := brief.New("s", "goal")
	first := b.AddPlan(brief.PlanDescription{Text: "first"})
	second := b.AddPlan(brief.PlanDescription{Text: "second"})
	client := &scriptedClient{responses: []string{`{"sub_goals": [
  {"parent_strategy_plan_id": "", "description": "default parent",
   "expected_data": {"data_type": "list", "min_entries": 2, "required_terms": ["fee"]},
   "executable_commands": [{"tool": "web_search", "params": {"keywords": "fees"}}, {"tool": "teleport", "params": {}}]},
  {"parent_strategy_plan_id": "` + second.ID + `", "description": "explicit parent",
   "executable_commands": [{"tool": "knowledge_lookup", "params": {"query": "fees"}}]},
  {"parent_strategy_plan_id": "sp_missing", "description": "dangling",
   "executable_commands": [{"tool": "web_search", "params": {}}]}
]}`}}

	out, err := NewTactical(newDeps(t, client)).Plan(context.Background(), Input{Brief: b})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(out.SubGoals) != 2 || len(out.Commands) != 2 {
		t.Fatalf("unexpected output %+v", out)
	}
	if out.SubGoals[0].ParentStrategyPlanID != first.ID || out.SubGoals[1].ParentStrategyPlanID != second.ID {
		t.Fatalf("unexpected parents %+v", out.SubGoals)
	}
	if diff := cmp.Diff([]DroppedCommand{{SubGoalID: out.SubGoals[0].ID, Tool: "teleport"}}, out.Dropped); diff != "" {
		t.Fatalf("dropped mismatch (-want +got):\n%s", diff)
	}
	if len(out.Rejected) != 1 || !errors.Is(out.Rejected[0], brief.ErrDanglingReference) {
		t.Fatalf("expected one dangling reference, got %v", out.Rejected)
	}
	want := brief.ExpectedData{DataType: "list", MinEntries: 2, RequiredTerms: []string{"fee"}}
	if diff := cmp.Diff(want, out.SubGoals[0].ExpectedData); diff != "" {
		t.Fatalf("expected data mismatch (-want +got):\n%s", diff)
	}
}

func TestTacticalPlanScopedToPlanIDs(t *testing.T) {
	b := brief.New("s", "goal")
	first := b.AddPlan(brief.PlanDescription{Text: "covered already"})
	second := b.AddPlan(brief.PlanDescription{Text: "still uncovered"})
	client := &scriptedClient{responses: []string{`{"sub_goals": [
  {"description": "default parent", "executable_commands": [{"tool": "web_search", "params": {}}]},
  {"parent_strategy_plan_id": "` + first.ID + `", "description": "out of scope",
   "executable_commands": [{"tool": "web_search", "params": {}}]}
]}`}}

	out, err := NewTactical(newDeps(t, client)).Plan(context.Background(), Input{Brief: b, PlanIDs: []string{second.ID}})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(out.SubGoals) != 1 || out.SubGoals[0].ParentStrategyPlanID != second.ID {
		t.Fatalf("sub goal should default to the scoped plan: %+v", out.SubGoals)
	}
	if len(out.Rejected) != 1 || xerrors.CodeOf(out.Rejected[0]) != xerrors.CodeInvalidArgument {
		t.Fatalf("out of scope sub goal should be rejected: %v", out.Rejected)
	}
	if strings.Contains(client.prompts[0], "covered already") {
		t.Fatal("plans outside the scope should not be rendered")
	}
	if len(b.SubGoalsOf(first.ID)) != 0 {
		t.Fatal("no sub goal may be attached outside the scope")
	}
}

func TestTacticalPlanRequiresPlans(t *testing.T) {
	client := &scriptedClient{responses: []string{`{"sub_goals": []}`}}
	if _, err := NewTactical(newDeps(t, client)).Plan(context.Background(), Input{Brief: brief.New("s", "g")}); err == nil {
		t.Fatal("expected error without strategy plans")
	}
	if client.calls != 0 {
		t.Fatal("planning capability must not be called")
	}
}

func TestReplanSupersedesPendingCommands(t *testing.T) {
	b := brief.New("s", "goal")
	plan := b.AddPlan(brief.PlanDescription{Text: "p"})
	sg, _ := b.AddSubGoal(plan.ID, "collect", brief.ExpectedData{MinEntries: 1})
	done, _ := b.AddCommand(sg.ID, "web_search", nil)
	stale, _ := b.AddCommand(sg.ID, "web_search", nil)
	if _, err := b.MarkCommandComplete(done.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	exp := memory.NewExperience(nil)
	_ = exp.Append(context.Background(), "s", memory.KindExecutionPolicy, "use narrower keywords")
	client := &scriptedClient{responses: []string{`{
  "expected_data": {"data_type": "table", "min_entries": 3},
  "executable_commands": [{"tool": "knowledge_lookup", "params": {"query": "q"}}]
}`}}

	out, err := NewReplan(newDeps(t, client)).Plan(context.Background(), Input{Brief: b, Experience: exp, SubGoalID: sg.ID})
	if err != nil {
		t.Fatalf("replan: %v", err)
	}
	if diff := cmp.Diff([]string{stale.ID}, out.Superseded); diff != "" {
		t.Fatalf("superseded mismatch (-want +got):\n%s", diff)
	}
	if _, ok := b.Command(done.ID); !ok {
		t.Fatal("completed command must be kept")
	}
	pending := b.PendingCommands(sg.ID)
	if len(pending) != 1 || pending[0].Tool != "knowledge_lookup" {
		t.Fatalf("unexpected pending commands %+v", pending)
	}
	updated, _ := b.SubGoal(sg.ID)
	if updated.ExpectedData.MinEntries != 3 || updated.ExpectedData.DataType != "table" {
		t.Fatalf("expected data not updated: %+v", updated.ExpectedData)
	}
	if !strings.Contains(client.prompts[0], "use narrower keywords") {
		t.Fatal("execution policy was not embedded in the prompt")
	}
}

func TestReplanUnknownSubGoal(t *testing.T) {
	client := &scriptedClient{responses: []string{`{"executable_commands": []}`}}
	_, err := NewReplan(newDeps(t, client)).Plan(context.Background(), Input{Brief: brief.New("s", "g"), SubGoalID: "sg_x"})
	if xerrors.CodeOf(err) != brief.CodeEntityNotFound {
		t.Fatalf("expected entity not found, got %v", err)
	}
}
