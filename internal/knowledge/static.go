package knowledge

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	xerrors "github.com/McKrispy/Ageeeent/internal/errors"
)

// Provider 定义知识库检索接口。
type Provider interface {
	Query(query string, limit int) []Snippet
}

// Snippet 是一条可引用的知识。
type Snippet struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Keywords []string `json:"keywords"`
	Tags     []string `json:"tags"`
}

// StaticProvider 从 JSON 文件加载条目，按关键词与标签匹配。
type StaticProvider struct {
	items      []Snippet
	maxResults int
}

// NewStaticProvider 创建静态知识库。
func NewStaticProvider(items []Snippet, maxResults int) *StaticProvider {
	if maxResults <= 0 {
		maxResults = 3
	}
	return &StaticProvider{items: items, maxResults: maxResults}
}

// LoadStaticProvider 从 JSON 文件加载知识条目。
func LoadStaticProvider(path string, maxResults int) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "知识库文件路径不能为空")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "解析知识库路径失败")
	}
	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "读取知识库文件失败", xerrors.WithMetadata("path", absPath))
	}
	var entries []Snippet
	if err := json.Unmarshal(content, &entries); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析知识库文件失败", xerrors.WithMetadata("path", absPath))
	}
	return NewStaticProvider(entries, maxResults), nil
}

// Query 返回关键词或标签出现在查询中的条目。limit <= 0 时使用默认上限。
// 没有关键词的条目视为通用知识，总是匹配。
func (p *StaticProvider) Query(query string, limit int) []Snippet {
	if p == nil {
		return nil
	}
	if limit <= 0 || limit > p.maxResults {
		limit = p.maxResults
	}
	query = strings.ToLower(strings.TrimSpace(query))
	results := make([]Snippet, 0, limit)
	for _, item := range p.items {
		if !matches(item, query) {
			continue
		}
		results = append(results, item)
		if len(results) >= limit {
			break
		}
	}
	return results
}

func matches(snippet Snippet, query string) bool {
	if len(snippet.Keywords) == 0 {
		return true
	}
	return containsAny(query, snippet.Keywords) || containsAny(query, snippet.Tags)
}

func containsAny(query string, terms []string) bool {
	for _, term := range terms {
		normalized := strings.ToLower(strings.TrimSpace(term))
		if normalized != "" && strings.Contains(query, normalized) {
			return true
		}
	}
	return false
}

var _ Provider = (*StaticProvider)(nil)
