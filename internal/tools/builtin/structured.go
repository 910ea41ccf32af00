package builtin

import (
	"context"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	xerrors "github.com/McKrispy/Ageeeent/internal/errors"
	"github.com/McKrispy/Ageeeent/internal/tools"
)

const (
	StructuredDataName = "structured_data_api"
	structuredDataDoc  = `{"url": "https://host/path", "query": {"k": "v"}} 读取白名单主机上的 JSON 数据接口`
)

// StructuredData 访问白名单内的 JSON 接口。
type StructuredData struct {
	allowedHosts []string
	httpClient   *http.Client
}

// NewStructuredData 创建结构化数据工具。白名单为空时拒绝所有请求。
func NewStructuredData(allowedHosts []string, timeout time.Duration) *StructuredData {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	hosts := make([]string, 0, len(allowedHosts))
	for _, h := range allowedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			hosts = append(hosts, h)
		}
	}
	return &StructuredData{allowedHosts: hosts, httpClient: &http.Client{Timeout: timeout}}
}

// Execute 实现 tools.Tool。
func (s *StructuredData) Execute(ctx context.Context, sc tools.SessionContext, params map[string]any) (map[string]string, error) {
	target, err := s.buildURL(params)
	if err != nil {
		return nil, err
	}
	body, err := fetch(ctx, s.httpClient, target)
	if err != nil {
		return nil, err
	}
	return tools.Persist(ctx, sc, StructuredDataName, body)
}

func (s *StructuredData) buildURL(params map[string]any) (string, error) {
	raw := tools.StringParam(params, "url")
	if raw == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "structured_data_api 需要 url 参数")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "url 必须是 http(s) 地址", xerrors.WithMetadata("url", raw))
	}
	if !slices.Contains(s.allowedHosts, strings.ToLower(u.Hostname())) {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "主机不在白名单中", xerrors.WithMetadata("host", u.Hostname()))
	}
	if extra, ok := params["query"].(map[string]any); ok && len(extra) > 0 {
		q := u.Query()
		for k := range extra {
			q.Set(k, tools.StringParam(extra, k))
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
