package planning

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	xerrors "github.com/McKrispy/Ageeeent/internal/errors"
	"github.com/McKrispy/Ageeeent/internal/llm"
	"github.com/McKrispy/Ageeeent/internal/prompt"
	"github.com/McKrispy/Ageeeent/pkg/logger"
)

const (
	StageQuestionnaire = "questionnaire"
	StageProfile       = "profile"

	// DefaultMaxQuestions 是问卷的默认题目上限。
	DefaultMaxQuestions = 5
	maxClarifyInput     = 8000
)

// Question 是问卷中的一道题。
type Question struct {
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
}

// Questionnaire 是在规划前向用户收集补充信息的问卷。
type Questionnaire struct {
	Goal      string     `json:"goal"`
	Questions []Question `json:"questions"`
}

// CompletionRequirement 汇总原始需求、用户补充与画像分析，作为规划使用的完整需求。
type CompletionRequirement struct {
	OriginalInput        string `json:"original_input"`
	SupplementaryContent string `json:"supplementary_content"`
	ProfileAnalysis      string `json:"profile_analysis"`
}

// Goal 把完整需求渲染为会话目标文本。没有补充内容时返回原始输入。
func (r CompletionRequirement) Goal() string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(r.OriginalInput))
	if s := strings.TrimSpace(r.SupplementaryContent); s != "" {
		b.WriteString("\n\nSupplementary information from the user:\n")
		b.WriteString(s)
	}
	if p := strings.TrimSpace(r.ProfileAnalysis); p != "" {
		b.WriteString("\n\nUser profile:\n")
		b.WriteString(p)
	}
	return b.String()
}

var (
	questionnaireSchema = json.RawMessage(`{
  "type": "object",
  "required": ["questions"],
  "properties": {
    "questions": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["question"],
        "properties": {
          "question": {"type": "string"},
          "options": {"type": "array", "items": {"type": "string"}}
        }
      }
    }
  }
}`)

	profileSchema = json.RawMessage(`{
  "type": "object",
  "required": ["profile_analysis"],
  "properties": {"profile_analysis": {"type": "string"}}
}`)
)

// Clarifier 在规划之前澄清需求：先设计问卷，再根据用户的补充绘制画像。
type Clarifier struct {
	caller       *Caller
	prompts      *prompt.Library
	maxQuestions int
	logger       *slog.Logger
}

// NewClarifier 创建需求澄清阶段。maxQuestions 非正时使用 DefaultMaxQuestions。
func NewClarifier(caller *Caller, prompts *prompt.Library, maxQuestions int) *Clarifier {
	if maxQuestions <= 0 {
		maxQuestions = DefaultMaxQuestions
	}
	return &Clarifier{caller: caller, prompts: prompts, maxQuestions: maxQuestions, logger: logger.Named("planning.clarify")}
}

func (c *Clarifier) validate(goal string) error {
	if c.caller == nil || c.prompts == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "需求澄清缺少调用器或提示词")
	}
	if strings.TrimSpace(goal) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "目标不能为空")
	}
	return nil
}

// Questionnaire 为目标生成问卷。空题目被丢弃，超过上限的题目被截断。
func (c *Clarifier) Questionnaire(ctx context.Context, goal string) (Questionnaire, error) {
	if err := c.validate(goal); err != nil {
		return Questionnaire{}, err
	}
	text, err := c.prompts.Render(prompt.KindQuestionnaire, prompt.QuestionnaireData{
		Goal:         clip(goal),
		MaxQuestions: c.maxQuestions,
	})
	if err != nil {
		return Questionnaire{}, err
	}

	var questions []Question
	err = c.caller.Call(ctx, StageQuestionnaire, llm.Request{Prompt: text, Schema: questionnaireSchema}, func(raw string) error {
		var resp struct {
			Questions []Question `json:"questions"`
		}
		if err := DecodeObject(raw, "questions", &resp); err != nil {
			return err
		}
		kept := resp.Questions[:0]
		for _, q := range resp.Questions {
			q.Question = strings.TrimSpace(q.Question)
			if q.Question != "" {
				kept = append(kept, q)
			}
		}
		if len(kept) == 0 {
			return xerrors.New(CodeMalformedResponse, "问卷没有有效的题目")
		}
		questions = kept
		return nil
	})
	if err != nil {
		return Questionnaire{}, err
	}
	if len(questions) > c.maxQuestions {
		questions = questions[:c.maxQuestions]
	}
	c.logger.Info("问卷生成完成", slog.Int("questions", len(questions)))
	return Questionnaire{Goal: goal, Questions: questions}, nil
}

// Profile 根据用户的补充内容绘制画像并返回完整需求。补充内容为空时不调用规划能力。
func (c *Clarifier) Profile(ctx context.Context, goal, supplementary string) (CompletionRequirement, error) {
	req := CompletionRequirement{OriginalInput: goal, SupplementaryContent: strings.TrimSpace(supplementary)}
	if req.SupplementaryContent == "" {
		return req, nil
	}
	if err := c.validate(goal); err != nil {
		return CompletionRequirement{}, err
	}
	text, err := c.prompts.Render(prompt.KindProfileDrawer, prompt.ProfileData{
		Goal:          clip(goal),
		Supplementary: clip(req.SupplementaryContent),
	})
	if err != nil {
		return CompletionRequirement{}, err
	}

	err = c.caller.Call(ctx, StageProfile, llm.Request{Prompt: text, Schema: profileSchema}, func(raw string) error {
		var resp struct {
			ProfileAnalysis string `json:"profile_analysis"`
		}
		if err := DecodeObject(raw, "profile_analysis", &resp); err != nil {
			return err
		}
		if strings.TrimSpace(resp.ProfileAnalysis) == "" {
			return xerrors.New(CodeMalformedResponse, "画像分析为空")
		}
		req.ProfileAnalysis = strings.TrimSpace(resp.ProfileAnalysis)
		return nil
	})
	if err != nil {
		return CompletionRequirement{}, err
	}
	c.logger.Info("用户画像分析完成", slog.Int("profile_length", len(req.ProfileAnalysis)))
	return req, nil
}

func clip(text string) string {
	runes := []rune(text)
	if len(runes) <= maxClarifyInput {
		return text
	}
	return string(runes[:maxClarifyInput])
}
