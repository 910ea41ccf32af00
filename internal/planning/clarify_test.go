package planning

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	xerrors "github.com/McKrispy/Ageeeent/internal/errors"
	"github.com/McKrispy/Ageeeent/internal/prompt"
)

func newClarifier(client *scriptedClient, maxQuestions int) *Clarifier {
	caller := NewCaller(client, WithMaxAttempts(2), WithBackoff(time.Millisecond, 5*time.Millisecond))
	return NewClarifier(caller, prompt.MustDefault(), maxQuestions)
}

func TestQuestionnaireKeepsValidQuestions(t *testing.T) {
	client := &scriptedClient{responses: []string{"```json\n" + `{"questions": [
  {"question": "Which field matters most?", "options": ["imaging", "genomics"]},
  {"question": "   "},
  {"question": "How deep should the answer go?", "options": ["overview", "technical"]},
  {"question": "Which time range?"}
]}` + "\n```"}}

	got, err := newClarifier(client, 2).Questionnaire(context.Background(), "deep learning in medicine")
	if err != nil {
		t.Fatalf("questionnaire: %v", err)
	}
	want := Questionnaire{Goal: "deep learning in medicine", Questions: []Question{
		{Question: "Which field matters most?", Options: []string{"imaging", "genomics"}},
		{Question: "How deep should the answer go?", Options: []string{"overview", "technical"}},
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("questionnaire mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(client.prompts[0], "at most 2 questions") {
		t.Fatalf("question limit missing from prompt:\n%s", client.prompts[0])
	}
}

func TestQuestionnaireRetriesEmptyResult(t *testing.T) {
	client := &scriptedClient{responses: []string{`{"questions": []}`}}
	_, err := newClarifier(client, 0).Questionnaire(context.Background(), "g")
	if xerrors.CodeOf(err) != CodePlanningUnavailable {
		t.Fatalf("expected planning unavailable, got %v", err)
	}
	if client.calls != 2 {
		t.Fatalf("expected every attempt to be used, got %d calls", client.calls)
	}
	if _, err := newClarifier(client, 0).Questionnaire(context.Background(), " "); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("empty goal should be rejected, got %v", err)
	}
}

func TestProfileBuildsCompletionRequirement(t *testing.T) {
	client := &scriptedClient{responses: []string{`{"profile_analysis": " a clinician evaluating screening tools "}`}}
	req, err := newClarifier(client, 0).Profile(context.Background(), "deep learning in medicine", "focus on cancer screening")
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	want := CompletionRequirement{
		OriginalInput:        "deep learning in medicine",
		SupplementaryContent: "focus on cancer screening",
		ProfileAnalysis:      "a clinician evaluating screening tools",
	}
	if diff := cmp.Diff(want, req); diff != "" {
		t.Fatalf("requirement mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(client.prompts[0], "focus on cancer screening") {
		t.Fatal("supplementary answers were not embedded in the prompt")
	}
	goal := req.Goal()
	for _, part := range []string{"deep learning in medicine", "focus on cancer screening", "a clinician evaluating screening tools"} {
		if !strings.Contains(goal, part) {
			t.Fatalf("goal misses %q:\n%s", part, goal)
		}
	}
}

func TestProfileWithoutSupplementarySkipsCall(t *testing.T) {
	client := &scriptedClient{responses: []string{`{}`}}
	req, err := newClarifier(client, 0).Profile(context.Background(), "plain goal", "  ")
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if client.calls != 0 || req.Goal() != "plain goal" {
		t.Fatalf("calls=%d goal=%q", client.calls, req.Goal())
	}
}
