package brief

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	xerrors "github.com/McKrispy/Ageeeent/internal/errors"
)

func TestInsertRejectsDanglingParent(t *testing.T) {
	b := New("s1", "goal")

	if _, err := b.AddSubGoal("sp_missing", "x", ExpectedData{}); !errors.Is(err, ErrDanglingReference) {
		t.Fatalf("expected dangling reference, got %v", err)
	}
	if _, err := b.AddCommand("sg_missing", "web_search", nil); err == nil {
		t.Fatalf("expected dangling reference for command")
	} else {
		var dre *DanglingReferenceError
		if !errors.As(err, &dre) || dre.Kind != KindCommand || dre.ParentID != "sg_missing" {
			t.Fatalf("unexpected error: %#v", err)
		}
		if xerrors.CodeOf(err) != CodeDanglingReference {
			t.Fatalf("unexpected code: %s", xerrors.CodeOf(err))
		}
	}
	if len(b.SubGoalsOf("")) != 0 || len(b.CommandsOf("")) != 0 {
		t.Fatalf("rejected entities must not be stored")
	}
}

func TestIDsCarryKindPrefix(t *testing.T) {
	b := New("s1", "goal")
	p := b.AddPlan(PlanDescription{Text: "p"})
	sg, _ := b.AddSubGoal(p.ID, "sg", ExpectedData{})
	c, _ := b.AddCommand(sg.ID, "tool_a", nil)
	for id, prefix := range map[string]string{p.ID: "sp_", sg.ID: "sg_", c.ID: "ec_"} {
		if !strings.HasPrefix(id, prefix) {
			t.Fatalf("id %s missing prefix %s", id, prefix)
		}
	}
}

func TestPropagationAfterEachMutation(t *testing.T) {
	b := New("s1", "goal")
	p := b.AddPlan(PlanDescription{Objective: "collect"})
	sg1, _ := b.AddSubGoal(p.ID, "first", ExpectedData{})
	sg2, _ := b.AddSubGoal(p.ID, "second", ExpectedData{})
	c1, _ := b.AddCommand(sg1.ID, "tool_a", nil)
	c2, _ := b.AddCommand(sg1.ID, "tool_b", nil)
	c3, _ := b.AddCommand(sg2.ID, "tool_a", nil)

	steps := []struct {
		id      string
		changes []Change
		sg1     bool
		sg2     bool
		plan    bool
	}{
		{c1.ID, []Change{{KindCommand, c1.ID}}, false, false, false},
		{c2.ID, []Change{{KindCommand, c2.ID}, {KindSubGoal, sg1.ID}}, true, false, false},
		{c3.ID, []Change{{KindCommand, c3.ID}, {KindSubGoal, sg2.ID}, {KindStrategyPlan, p.ID}}, true, true, true},
		{c3.ID, nil, true, true, true},
	}
	for i, step := range steps {
		changes, err := b.MarkCommandComplete(step.id)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if diff := cmp.Diff(step.changes, changes); diff != "" {
			t.Fatalf("step %d changes mismatch (-want +got):\n%s", i, diff)
		}
		got1, _ := b.SubGoal(sg1.ID)
		got2, _ := b.SubGoal(sg2.ID)
		if got1.Completed != step.sg1 || got2.Completed != step.sg2 {
			t.Fatalf("step %d subgoal flags: %v %v", i, got1.Completed, got2.Completed)
		}
		if b.AllPlansCompleted() != step.plan {
			t.Fatalf("step %d plan flag: %v", i, b.AllPlansCompleted())
		}
	}
}

func TestCompletionIsMonotonic(t *testing.T) {
	b := New("s1", "goal")
	p := b.AddPlan(PlanDescription{Text: "p"})
	sg, _ := b.AddSubGoal(p.ID, "sg", ExpectedData{})
	c, _ := b.AddCommand(sg.ID, "tool_a", nil)
	if _, err := b.MarkCommandComplete(c.ID); err != nil {
		t.Fatalf("mark: %v", err)
	}

	if _, err := b.AddCommand(sg.ID, "tool_b", nil); err != nil {
		t.Fatalf("add: %v", err)
	}
	got, _ := b.SubGoal(sg.ID)
	if !got.Completed || !b.AllPlansCompleted() {
		t.Fatalf("adding a sibling must not reopen completed entities")
	}
}

func TestUnresolvedCommandBlocksPropagation(t *testing.T) {
	b := New("s1", "goal")
	p := b.AddPlan(PlanDescription{Text: "p"})
	sg, _ := b.AddSubGoal(p.ID, "sg", ExpectedData{})
	ok, _ := b.AddCommand(sg.ID, "tool_a", nil)
	if _, err := b.AddCommand(sg.ID, "unknown_tool", nil); err != nil {
		t.Fatalf("add: %v", err)
	}

	if _, err := b.MarkCommandComplete(ok.ID); err != nil {
		t.Fatalf("mark: %v", err)
	}
	got, _ := b.SubGoal(sg.ID)
	if got.Completed || b.AllPlansCompleted() {
		t.Fatalf("pending command must block propagation")
	}
	if pending := b.PendingCommands(sg.ID); len(pending) != 1 || pending[0].Tool != "unknown_tool" {
		t.Fatalf("unexpected pending commands: %+v", pending)
	}
}

func TestSupersedePendingKeepsCompleted(t *testing.T) {
	b := New("s1", "goal")
	p := b.AddPlan(PlanDescription{Text: "p"})
	sg, _ := b.AddSubGoal(p.ID, "sg", ExpectedData{})
	done, _ := b.AddCommand(sg.ID, "tool_a", nil)
	failed, _ := b.AddCommand(sg.ID, "tool_b", nil)
	_, _ = b.MarkCommandComplete(done.ID)

	removed := b.SupersedePending(sg.ID)
	if diff := cmp.Diff([]string{failed.ID}, removed); diff != "" {
		t.Fatalf("removed mismatch:\n%s", diff)
	}
	if _, ok := b.Command(failed.ID); ok {
		t.Fatalf("superseded command still resolvable")
	}
	if cmds := b.CommandsOf(sg.ID); len(cmds) != 1 || cmds[0].ID != done.ID {
		t.Fatalf("completed command should stay: %+v", cmds)
	}
}

func TestMarkArchivedClosesSubGoal(t *testing.T) {
	b := New("s1", "goal")
	p := b.AddPlan(PlanDescription{Text: "p"})
	sg, _ := b.AddSubGoal(p.ID, "sg", ExpectedData{})
	done, _ := b.AddCommand(sg.ID, "tool_a", nil)
	skipped, _ := b.AddCommand(sg.ID, "unknown_tool", nil)
	_, _ = b.MarkCommandComplete(done.ID)

	changes, err := b.MarkArchived(sg.ID)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	want := []Change{{Kind: KindSubGoal, ID: sg.ID}, {Kind: KindStrategyPlan, ID: p.ID}}
	if diff := cmp.Diff(want, changes); diff != "" {
		t.Fatalf("changes mismatch:\n%s", diff)
	}
	if _, ok := b.Command(skipped.ID); ok {
		t.Fatalf("pending command should be removed on archive")
	}
	if !b.AllPlansCompleted() {
		t.Fatalf("plan should be completed")
	}
	if _, err := b.MarkArchived("sg_missing"); err == nil {
		t.Fatalf("expected error for unknown sub goal")
	}
}

func TestMarkArchivedWithoutCommandsStaysOpen(t *testing.T) {
	b := New("s1", "goal")
	p := b.AddPlan(PlanDescription{Text: "p"})
	sg, _ := b.AddSubGoal(p.ID, "sg", ExpectedData{})
	if changes, _ := b.MarkArchived(sg.ID); len(changes) != 0 {
		t.Fatalf("unexpected changes %+v", changes)
	}
	if got, _ := b.SubGoal(sg.ID); got.Completed || !got.Archived {
		t.Fatalf("unexpected state %+v", got)
	}
}

func TestNextUnarchivedFollowsPlanOrder(t *testing.T) {
	b := New("s1", "goal")
	p1 := b.AddPlan(PlanDescription{Text: "p1"})
	p2 := b.AddPlan(PlanDescription{Text: "p2"})
	late, _ := b.AddSubGoal(p2.ID, "p2 goal", ExpectedData{})
	early, _ := b.AddSubGoal(p1.ID, "p1 goal", ExpectedData{})

	next, ok := b.NextUnarchived()
	if !ok || next.ID != early.ID {
		t.Fatalf("expected %s first, got %+v", early.ID, next)
	}
	_, _ = b.MarkArchived(early.ID)
	next, _ = b.NextUnarchived()
	if next.ID != late.ID {
		t.Fatalf("expected %s second, got %s", late.ID, next.ID)
	}
	_, _ = b.MarkArchived(late.ID)
	if _, ok := b.NextUnarchived(); ok {
		t.Fatalf("nothing left to archive")
	}
}

func TestSnapshotIsDetached(t *testing.T) {
	b := New("s1", "goal")
	p := b.AddPlan(PlanDescription{Text: "p"})
	sg, _ := b.AddSubGoal(p.ID, "sg", ExpectedData{RequiredTerms: []string{"price"}})
	c, _ := b.AddCommand(sg.ID, "tool_a", map[string]any{"q": "x"})

	snap := b.Snapshot()
	snap.Commands[0].Params["q"] = "mutated"
	snap.SubGoals[0].ExpectedData.RequiredTerms[0] = "mutated"

	got, _ := b.Command(c.ID)
	if got.Params["q"] != "x" {
		t.Fatalf("snapshot shares params map")
	}
	gotSG, _ := b.SubGoal(sg.ID)
	if gotSG.ExpectedData.RequiredTerms[0] != "price" {
		t.Fatalf("snapshot shares expected data")
	}
}

func TestResetKeepsCycle(t *testing.T) {
	b := New("s1", "goal")
	b.AddPlan(PlanDescription{Text: "p"})
	b.NextCycle()
	b.NextCycle()
	b.Reset()
	if len(b.Plans()) != 0 {
		t.Fatalf("reset should clear hierarchy")
	}
	if b.Cycle() != 2 {
		t.Fatalf("cycle counter should survive reset, got %d", b.Cycle())
	}
}

func TestMarkUnknownCommand(t *testing.T) {
	b := New("s1", "goal")
	if _, err := b.MarkCommandComplete("ec_missing"); !errors.Is(err, ErrEntityNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
