package verify

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/McKrispy/Ageeeent/internal/brief"
	xerrors "github.com/McKrispy/Ageeeent/internal/errors"
	"github.com/McKrispy/Ageeeent/internal/llm"
	"github.com/McKrispy/Ageeeent/internal/memory"
	"github.com/McKrispy/Ageeeent/internal/planning"
	"github.com/McKrispy/Ageeeent/internal/prompt"
)

type fixture struct {
	brief   *brief.Brief
	subGoal brief.SubGoal
	wm      *memory.WorkingMemory
	history *memory.CycleHistory
	exp     *memory.Experience
}

func newFixture(t *testing.T, expected brief.ExpectedData) fixture {
	t.Helper()
	b := brief.New("s1", "find the current ETH gas price")
	plan := b.AddPlan(brief.PlanDescription{Text: "p"})
	sg, err := b.AddSubGoal(plan.ID, "gas price", expected)
	if err != nil {
		t.Fatalf("add sub goal: %v", err)
	}
	return fixture{
		brief:   b,
		subGoal: sg,
		wm:      memory.NewWorkingMemory(),
		history: memory.NewCycleHistory(nil),
		exp:     memory.NewExperience(nil),
	}
}

func (f fixture) scope() Scope {
	return Scope{Brief: f.brief, SubGoalID: f.subGoal.ID, WorkingMemory: f.wm, History: f.history, Experience: f.exp}
}

func TestCheck(t *testing.T) {
	cases := []struct {
		name     string
		expected brief.ExpectedData
		wm       map[string]string
		ok       bool
	}{
		{"default needs one entry", brief.ExpectedData{}, map[string]string{"p": "x"}, true},
		{"blank summaries do not count", brief.ExpectedData{}, map[string]string{"p": "  "}, false},
		{"min entries", brief.ExpectedData{MinEntries: 2}, map[string]string{"p": "x"}, false},
		{"required terms case insensitive", brief.ExpectedData{RequiredTerms: []string{"Gwei"}}, map[string]string{"p": "12 gwei"}, true},
		{"missing term", brief.ExpectedData{RequiredTerms: []string{"gwei", "block"}}, map[string]string{"p": "12 gwei"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := len(Check(tc.expected, tc.wm)) == 0; got != tc.ok {
				t.Fatalf("Check = %v, want %v", got, tc.ok)
			}
		})
	}
}

func TestTacticalFailureRoutesToExecutionPolicy(t *testing.T) {
	f := newFixture(t, brief.ExpectedData{MinEntries: 1, RequiredTerms: []string{"gwei"}})
	f.wm.Merge(map[string]string{"s1:1:web_search:a": "no numbers here"})

	ok, err := NewTactical().Verify(context.Background(), f.scope())
	if err != nil || ok {
		t.Fatalf("expected failure without error, got ok=%v err=%v", ok, err)
	}
	if got := len(f.exp.ExecutionPolicy()); got != 1 {
		t.Fatalf("expected one execution policy entry, got %d", got)
	}
	if got := len(f.exp.Cognition()); got != 0 {
		t.Fatalf("expected no cognition entries, got %d", got)
	}
	if f.history.Len() != 0 || f.wm.Len() != 1 {
		t.Fatal("failed verification must not archive or clear working memory")
	}
	if sg, _ := f.brief.SubGoal(f.subGoal.ID); sg.Archived {
		t.Fatal("sub goal must not be archived")
	}
	if !strings.Contains(f.exp.ExecutionPolicy()[0], "gwei") {
		t.Fatalf("feedback should name the missing term: %s", f.exp.ExecutionPolicy()[0])
	}
}

func TestTacticalSuccessArchives(t *testing.T) {
	f := newFixture(t, brief.ExpectedData{})
	f.brief.NextCycle()
	f.wm.Merge(map[string]string{"s1:1:web_search:a": "base fee 12 gwei"})

	ok, err := NewTactical().Verify(context.Background(), f.scope())
	if err != nil || !ok {
		t.Fatalf("expected success, got ok=%v err=%v", ok, err)
	}
	entries := f.history.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected one archived entry, got %d", len(entries))
	}
	if entries[0].SubGoalID != f.subGoal.ID || entries[0].Summary != "base fee 12 gwei" || entries[0].Cycle != 1 {
		t.Fatalf("unexpected entry %+v", entries[0])
	}
	if f.wm.Len() != 0 {
		t.Fatal("working memory should be cleared")
	}
	if sg, _ := f.brief.SubGoal(f.subGoal.ID); !sg.Archived {
		t.Fatal("sub goal should be archived")
	}
	if len(f.exp.ExecutionPolicy()) != 0 {
		t.Fatal("success must not append feedback")
	}
}

func newStrategic(response string) (*Strategic, *int) {
	calls := 0
	client := llm.ClientFunc(func(context.Context, llm.Request) (string, error) {
		calls++
		return response, nil
	})
	caller := planning.NewCaller(client, planning.WithBackoff(time.Millisecond, time.Millisecond))
	return NewStrategic(caller, prompt.MustDefault()), &calls
}

func TestStrategicFailureRoutesToCognition(t *testing.T) {
	f := newFixture(t, brief.ExpectedData{})
	_ = f.exp.Append(context.Background(), "s1", memory.KindExecutionPolicy, "existing policy")
	v, _ := newStrategic(`{"satisfied": false, "feedback": "no source for the price"}`)

	ok, err := v.Verify(context.Background(), f.scope())
	if err != nil || ok {
		t.Fatalf("expected failure without error, got ok=%v err=%v", ok, err)
	}
	if got := f.exp.Cognition(); len(got) != 1 || !strings.Contains(got[0], "no source for the price") {
		t.Fatalf("unexpected cognition %v", got)
	}
	if got := len(f.exp.ExecutionPolicy()); got != 1 {
		t.Fatalf("execution policy must be untouched, got %d entries", got)
	}
}

func TestStrategicSuccess(t *testing.T) {
	f := newFixture(t, brief.ExpectedData{})
	v, calls := newStrategic("```json\n{\"satisfied\": true}\n```")
	ok, err := v.Verify(context.Background(), f.scope())
	if err != nil || !ok {
		t.Fatalf("expected success, got ok=%v err=%v", ok, err)
	}
	if *calls != 1 || len(f.exp.Cognition()) != 0 {
		t.Fatalf("calls=%d cognition=%v", *calls, f.exp.Cognition())
	}
}

func TestStrategicUnavailable(t *testing.T) {
	f := newFixture(t, brief.ExpectedData{})
	v, calls := newStrategic(`{"verdict": "yes"}`)
	_, err := v.Verify(context.Background(), f.scope())
	if xerrors.CodeOf(err) != planning.CodePlanningUnavailable {
		t.Fatalf("expected planning unavailable, got %v", err)
	}
	if *calls != planning.DefaultMaxAttempts {
		t.Fatalf("expected %d calls, got %d", planning.DefaultMaxAttempts, *calls)
	}
	if len(f.exp.Cognition()) != 0 {
		t.Fatal("unavailable verifier must not append feedback")
	}
}
