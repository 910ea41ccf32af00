package llm

import (
	"context"
	"encoding/json"

	xerrors "github.com/McKrispy/Ageeeent/internal/errors"
)

// CodeCompletionFailed 表示后端调用失败，可重试。
const CodeCompletionFailed xerrors.Code = "COMPLETION_FAILED"

func init() {
	xerrors.Register(CodeCompletionFailed, xerrors.Attributes{
		Message:   "completion request failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
}

// Request 描述一次规划能力调用。
type Request struct {
	// System 是可选的系统提示。
	System string
	// Prompt 是完整的用户提示词。
	Prompt string
	// Schema 非空时要求后端返回符合该 JSON Schema 的 JSON 对象。
	Schema json.RawMessage
	// Temperature 为 0 时使用后端默认值。
	Temperature float64
}

// WantsJSON 判断调用方是否要求 JSON 对象响应。
func (r Request) WantsJSON() bool {
	return len(r.Schema) > 0
}

// Client 是规划能力的统一接口。
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// ClientFunc 让普通函数实现 Client。
type ClientFunc func(ctx context.Context, req Request) (string, error)

// Complete 实现 Client。
func (f ClientFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// JSONInstruction 是要求模型只输出 JSON 时附加的系统提示。
func JSONInstruction(schema json.RawMessage) string {
	if len(schema) == 0 {
		return ""
	}
	return "Respond with a single JSON object only, no prose. It must conform to this JSON Schema:\n" + string(schema)
}
