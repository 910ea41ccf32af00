package gemini

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/genai"

	xerrors "github.com/McKrispy/Ageeeent/internal/errors"
	"github.com/McKrispy/Ageeeent/internal/llm"
)

type stubGenerator struct {
	config *genai.GenerateContentConfig
	model  string
	text   string
	err    error
}

func (s *stubGenerator) GenerateContent(_ context.Context, model string, _ []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	s.model = model
	s.config = config
	if s.err != nil {
		return nil, s.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: genai.NewContentFromText(s.text, genai.RoleModel),
		}},
	}, nil
}

func TestCompleteSetsJSONMimeType(t *testing.T) {
	stub := &stubGenerator{text: ` {"satisfied":true} `}
	client := &Client{models: stub, model: defaultModel}

	out, err := client.Complete(context.Background(), llm.Request{Prompt: "verify", Schema: []byte(`{"type":"object"}`)})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out != `{"satisfied":true}` {
		t.Fatalf("unexpected output %q", out)
	}
	if stub.config.ResponseMIMEType != "application/json" || stub.config.SystemInstruction == nil {
		t.Fatalf("json config not applied: %+v", stub.config)
	}
	if stub.model != defaultModel {
		t.Fatalf("unexpected model %s", stub.model)
	}
}

func TestCompleteWrapsErrors(t *testing.T) {
	client := &Client{models: &stubGenerator{err: errors.New("quota")}, model: defaultModel}
	_, err := client.Complete(context.Background(), llm.Request{Prompt: "x"})
	if xerrors.CodeOf(err) != llm.CodeCompletionFailed {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestCompleteSetsResponseSchema(t *testing.T) {
	stub := &stubGenerator{text: `{"satisfied":true}`}
	client := &Client{models: stub, model: defaultModel}
	schema := []byte(`{
  "type": "object",
  "required": ["satisfied"],
  "properties": {
    "satisfied": {"type": "boolean"},
    "missing": {"type": "array", "items": {"type": "string"}}
  }
}`)

	if _, err := client.Complete(context.Background(), llm.Request{Prompt: "verify", Schema: schema}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	want := &genai.Schema{
		Type:     genai.TypeObject,
		Required: []string{"satisfied"},
		Properties: map[string]*genai.Schema{
			"satisfied": {Type: genai.TypeBoolean},
			"missing":   {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		},
	}
	if diff := cmp.Diff(want, stub.config.ResponseSchema); diff != "" {
		t.Fatalf("response schema mismatch (-want +got):\n%s", diff)
	}
}

func TestCompleteSkipsFreeFormSchema(t *testing.T) {
	stub := &stubGenerator{text: `{}`}
	client := &Client{models: stub, model: defaultModel}
	schema := []byte(`{"type": "object", "properties": {"params": {"type": "object"}}}`)

	if _, err := client.Complete(context.Background(), llm.Request{Prompt: "plan", Schema: schema}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if stub.config.ResponseSchema != nil {
		t.Fatalf("free-form object should not be sent as response schema: %+v", stub.config.ResponseSchema)
	}
	if stub.config.ResponseMIMEType != "application/json" {
		t.Fatalf("json mime type missing")
	}
}
