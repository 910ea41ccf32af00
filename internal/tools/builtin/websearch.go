package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	xerrors "github.com/McKrispy/Ageeeent/internal/errors"
	"github.com/McKrispy/Ageeeent/internal/tools"
)

const (
	WebSearchName = "web_search"
	webSearchDoc  = `{"keywords": "搜索关键词", "num_results": 3} 通过搜索引擎检索网页并返回摘要`

	maxResponseBytes = 4 << 20
)

// SearchResult 是搜索引擎返回的一条结果。
type SearchResult struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

type searchResponse struct {
	Results []SearchResult `json:"results"`
}

// WebSearch 调用 SearxNG 兼容的 JSON 接口。
type WebSearch struct {
	endpoint   string
	httpClient *http.Client
}

// NewWebSearch 创建搜索工具。
func NewWebSearch(endpoint string, timeout time.Duration) *WebSearch {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &WebSearch{endpoint: endpoint, httpClient: &http.Client{Timeout: timeout}}
}

// Execute 实现 tools.Tool。
func (w *WebSearch) Execute(ctx context.Context, sc tools.SessionContext, params map[string]any) (map[string]string, error) {
	keywords := tools.StringParam(params, "keywords")
	if keywords == "" {
		keywords = strings.Join(tools.StringsParam(params, "keywords"), " ")
	}
	if keywords == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "web_search 需要 keywords 参数")
	}
	limit := tools.IntParam(params, "num_results", 3)
	if limit <= 0 {
		limit = 3
	}

	endpoint, err := url.Parse(w.endpoint)
	if err != nil || endpoint.Host == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "搜索接口地址无效", xerrors.WithMetadata("endpoint", w.endpoint))
	}
	query := endpoint.Query()
	query.Set("q", keywords)
	query.Set("format", "json")
	endpoint.RawQuery = query.Encode()

	body, err := fetch(ctx, w.httpClient, endpoint.String())
	if err != nil {
		return nil, err
	}
	var decoded searchResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, xerrors.Wrap(tools.CodeToolFailure, err, "解析搜索结果失败")
	}
	if len(decoded.Results) == 0 {
		return nil, xerrors.New(tools.CodeToolFailure, fmt.Sprintf("搜索 %q 没有结果", keywords))
	}
	if len(decoded.Results) > limit {
		decoded.Results = decoded.Results[:limit]
	}

	out := make(map[string]string, len(decoded.Results))
	for _, result := range decoded.Results {
		raw, err := json.Marshal(result)
		if err != nil {
			return nil, xerrors.Wrap(tools.CodeToolFailure, err, "编码搜索结果失败")
		}
		persisted, err := tools.Persist(ctx, sc, WebSearchName, raw)
		if err != nil {
			return nil, err
		}
		for pointer, summary := range persisted {
			out[pointer] = summary
		}
	}
	return out, nil
}

func fetch(ctx context.Context, client *http.Client, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "构造请求失败")
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, xerrors.Wrap(tools.CodeToolFailure, err, "请求外部接口失败", xerrors.WithMetadata("url", target))
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, xerrors.Wrap(tools.CodeToolFailure, err, "读取响应失败")
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, xerrors.New(tools.CodeToolFailure, fmt.Sprintf("外部接口返回状态 %d", resp.StatusCode),
			xerrors.WithMetadata("url", target))
	}
	return body, nil
}
