package tools

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/McKrispy/Ageeeent/internal/llm"
	"github.com/McKrispy/Ageeeent/internal/prompt"
	"github.com/McKrispy/Ageeeent/pkg/logger"
)

const (
	maxSummaryInput = 8000
	excerptLength   = 600
)

// Summarizer 把原始数据压缩为高信息密度的短摘要。
type Summarizer interface {
	Summarize(ctx context.Context, goal, raw string) (string, error)
}

// LLMSummarizer 通过规划能力生成摘要。
type LLMSummarizer struct {
	client  llm.Client
	prompts *prompt.Library
}

// NewLLMSummarizer 创建摘要器。
func NewLLMSummarizer(client llm.Client, prompts *prompt.Library) *LLMSummarizer {
	return &LLMSummarizer{client: client, prompts: prompts}
}

// Summarize 实现 Summarizer，原始数据超过 8000 字节时截断。
func (s *LLMSummarizer) Summarize(ctx context.Context, goal, raw string) (string, error) {
	text, err := s.prompts.Render(prompt.KindFilterSummary, prompt.SummaryData{
		Goal:    goal,
		RawData: truncateBytes(raw, maxSummaryInput),
	})
	if err != nil {
		return "", err
	}
	out, err := s.client.Complete(ctx, llm.Request{Prompt: text})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Summarize 优先使用会话的摘要器，失败或为空时退回到原文节选。
func Summarize(ctx context.Context, sc SessionContext, raw string) string {
	if sc.Summarizer != nil {
		summary, err := sc.Summarizer.Summarize(ctx, sc.Goal, raw)
		if err == nil && strings.TrimSpace(summary) != "" {
			return summary
		}
		if err != nil {
			logger.L().Warn("摘要生成失败，使用原文节选",
				slog.String("session_id", sc.SessionID),
				slog.String("command_id", sc.CommandID),
				slog.Any("error", err))
		}
	}
	return Excerpt(raw, excerptLength)
}

// Excerpt 压缩空白并按字符截断。
func Excerpt(raw string, limit int) string {
	text := strings.Join(strings.Fields(raw), " ")
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	return string([]rune(text)[:limit]) + "..."
}

func truncateBytes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	s = s[:limit]
	for !utf8.ValidString(s) && len(s) > 0 {
		s = s[:len(s)-1]
	}
	return s
}
