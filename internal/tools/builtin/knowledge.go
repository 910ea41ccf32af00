package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	xerrors "github.com/McKrispy/Ageeeent/internal/errors"
	"github.com/McKrispy/Ageeeent/internal/knowledge"
	"github.com/McKrispy/Ageeeent/internal/tools"
)

const (
	KnowledgeLookupName = "knowledge_lookup"
	knowledgeLookupDoc  = `{"query": "检索内容", "limit": 3} 查询离线知识库`
)

// KnowledgeLookup 把知识库命中的条目写入存储。
type KnowledgeLookup struct {
	provider knowledge.Provider
}

// NewKnowledgeLookup 创建知识库工具。
func NewKnowledgeLookup(provider knowledge.Provider) *KnowledgeLookup {
	return &KnowledgeLookup{provider: provider}
}

// Execute 实现 tools.Tool。
func (k *KnowledgeLookup) Execute(ctx context.Context, sc tools.SessionContext, params map[string]any) (map[string]string, error) {
	query := tools.StringParam(params, "query")
	if query == "" {
		query = sc.Goal
	}
	snippets := k.provider.Query(query, tools.IntParam(params, "limit", 0))
	if len(snippets) == 0 {
		return nil, xerrors.New(tools.CodeToolFailure, fmt.Sprintf("知识库中没有与 %q 相关的条目", query))
	}
	out := make(map[string]string, len(snippets))
	for _, snippet := range snippets {
		raw, err := json.Marshal(snippet)
		if err != nil {
			return nil, xerrors.Wrap(tools.CodeToolFailure, err, "编码知识条目失败")
		}
		persisted, err := tools.Persist(ctx, sc, KnowledgeLookupName, raw)
		if err != nil {
			return nil, err
		}
		for pointer, summary := range persisted {
			out[pointer] = summary
		}
	}
	return out, nil
}
