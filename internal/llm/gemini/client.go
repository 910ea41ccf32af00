package gemini

import (
	"context"
	"encoding/json"
	"strings"

	"google.golang.org/genai"

	xerrors "github.com/McKrispy/Ageeeent/internal/errors"
	"github.com/McKrispy/Ageeeent/internal/llm"
)

const defaultModel = "gemini-2.0-flash"

// Config 描述 Gemini API 的访问参数。
type Config struct {
	APIKey string
	Model  string
}

// generator 是 genai.Models 中本包用到的部分，便于测试替换。
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Client 通过 google.golang.org/genai 调用 Gemini。
type Client struct {
	models generator
	model  string
}

// NewClient 创建 Gemini 客户端。
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未提供 Gemini API Key")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "创建 Gemini 客户端失败")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	return &Client{models: client.Models, model: model}, nil
}

// Complete 实现 llm.Client。要求 JSON 时设置 application/json 响应类型，
// schema 能表达为 genai.Schema 时同时设置 ResponseSchema。
func (c *Client) Complete(ctx context.Context, req llm.Request) (string, error) {
	config := &genai.GenerateContentConfig{}
	system := strings.TrimSpace(req.System)
	if req.WantsJSON() {
		config.ResponseMIMEType = "application/json"
		if schema, ok := responseSchema(req.Schema); ok {
			config.ResponseSchema = schema
		}
		system = strings.TrimSpace(system + "\n\n" + llm.JSONInstruction(req.Schema))
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.Temperature > 0 {
		temp := float32(req.Temperature)
		config.Temperature = &temp
	}

	resp, err := c.models.GenerateContent(ctx, c.model, genai.Text(req.Prompt), config)
	if err != nil {
		return "", xerrors.Wrap(llm.CodeCompletionFailed, err, "请求 Gemini 失败")
	}
	return strings.TrimSpace(resp.Text()), nil
}

// jsonSchema 是 JSON Schema 中可以映射到 genai.Schema 的子集。
type jsonSchema struct {
	Type        string                 `json:"type"`
	Description string                 `json:"description"`
	Enum        []string               `json:"enum"`
	Required    []string               `json:"required"`
	Properties  map[string]*jsonSchema `json:"properties"`
	Items       *jsonSchema            `json:"items"`
}

var schemaTypes = map[string]genai.Type{
	"object":  genai.TypeObject,
	"array":   genai.TypeArray,
	"string":  genai.TypeString,
	"integer": genai.TypeInteger,
	"number":  genai.TypeNumber,
	"boolean": genai.TypeBoolean,
}

// responseSchema 把 JSON Schema 转为 genai.Schema。Gemini 不接受没有属性的对象，
// 遇到这类自由结构或未知类型时返回 false，只依赖系统提示约束输出。
func responseSchema(raw json.RawMessage) (*genai.Schema, bool) {
	var root jsonSchema
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, false
	}
	return convertSchema(&root)
}

func convertSchema(in *jsonSchema) (*genai.Schema, bool) {
	typ, ok := schemaTypes[strings.ToLower(in.Type)]
	if !ok {
		return nil, false
	}
	out := &genai.Schema{
		Type:        typ,
		Description: in.Description,
		Enum:        in.Enum,
		Required:    in.Required,
	}
	switch typ {
	case genai.TypeObject:
		if len(in.Properties) == 0 {
			return nil, false
		}
		out.Properties = make(map[string]*genai.Schema, len(in.Properties))
		for name, prop := range in.Properties {
			if prop == nil {
				return nil, false
			}
			converted, ok := convertSchema(prop)
			if !ok {
				return nil, false
			}
			out.Properties[name] = converted
		}
	case genai.TypeArray:
		if in.Items == nil {
			return nil, false
		}
		items, ok := convertSchema(in.Items)
		if !ok {
			return nil, false
		}
		out.Items = items
	}
	return out, true
}
