package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	xerrors "github.com/McKrispy/Ageeeent/internal/errors"
	"github.com/McKrispy/Ageeeent/internal/storage"
)

const (
	CodeToolNotFound xerrors.Code = "TOOL_NOT_FOUND"
	CodeToolFailure  xerrors.Code = "TOOL_FAILURE"
)

func init() {
	xerrors.Register(CodeToolNotFound, xerrors.Attributes{
		Message:  "tool not registered",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeToolFailure, xerrors.Attributes{
		Message:   "tool execution failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
}

// SessionContext 是工具执行时可见的会话信息与协作者。
type SessionContext struct {
	SessionID  string
	Cycle      int
	CommandID  string
	Goal       string
	Store      storage.BlobStore
	Summarizer Summarizer
}

// Tool 是可执行命令背后的具体能力。
type Tool interface {
	Execute(ctx context.Context, sc SessionContext, params map[string]any) (map[string]string, error)
}

// Factory 为每条命令创建一个工具实例。
type Factory func() Tool

// Persist 把原始数据写入存储并生成摘要，返回单条 指针 → 摘要 结果。
func Persist(ctx context.Context, sc SessionContext, tool string, raw []byte) (map[string]string, error) {
	if sc.Store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "blob store is not configured")
	}
	key := storage.Key(sc.SessionID, sc.Cycle, tool, uuid.NewString())
	pointer, err := sc.Store.Put(ctx, key, raw)
	if err != nil {
		return nil, xerrors.Wrap(CodeToolFailure, err, "保存原始数据失败", xerrors.WithMetadata("tool", tool))
	}
	summary := Summarize(ctx, sc, string(raw))
	if strings.TrimSpace(summary) == "" {
		return nil, xerrors.New(CodeToolFailure, "摘要为空", xerrors.WithMetadata("tool", tool))
	}
	return map[string]string{pointer: summary}, nil
}

// StringParam 读取字符串参数。
func StringParam(params map[string]any, key string) string {
	switch v := params[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// StringsParam 读取字符串列表参数，兼容单个字符串与 JSON 数组。
func StringsParam(params map[string]any, key string) []string {
	var out []string
	switch v := params[key].(type) {
	case []string:
		out = v
	case []any:
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
	case string:
		out = strings.Fields(v)
	}
	cleaned := out[:0:0]
	for _, s := range out {
		if s = strings.TrimSpace(s); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	return cleaned
}

// IntParam 读取整数参数，缺失或非法时返回 def。
func IntParam(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}
