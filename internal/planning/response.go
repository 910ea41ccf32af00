package planning

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/McKrispy/Ageeeent/internal/brief"
)

type strategyResponse struct {
	TaskType       string            `json:"task_type"`
	TaskComplexity string            `json:"task_complexity"`
	StrategyPlans  []json.RawMessage `json:"strategy_plans"`
}

func (r strategyResponse) descriptions() ([]brief.PlanDescription, error) {
	out := make([]brief.PlanDescription, 0, len(r.StrategyPlans))
	for _, raw := range r.StrategyPlans {
		var desc brief.PlanDescription
		raw = bytes.TrimSpace(raw)
		if len(raw) > 0 && raw[0] == '"' {
			if err := json.Unmarshal(raw, &desc.Text); err != nil {
				return nil, err
			}
		} else {
			if err := json.Unmarshal(raw, &desc); err != nil {
				return nil, err
			}
			if desc.Objective == "" && strings.TrimSpace(desc.Text) == "" {
				desc.Text = fallbackPlanText(raw)
			}
		}
		if desc.Objective == "" && strings.TrimSpace(desc.Text) == "" {
			continue
		}
		desc.TaskType = r.TaskType
		desc.TaskComplexity = r.TaskComplexity
		out = append(out, desc)
	}
	return out, nil
}

// planTextKeys 是缺少 objective 时依次尝试的描述字段。
var planTextKeys = []string{"description", "goal", "plan", "summary"}

// fallbackPlanText 为缺少 objective 的对象计划提取文本。没有可识别的描述字段时
// 保留整个对象的紧凑 JSON，所有字段都为空时返回空串。
func fallbackPlanText(raw json.RawMessage) string {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil || len(fields) == 0 {
		return ""
	}
	for _, key := range planTextKeys {
		if text, ok := fields[key].(string); ok && strings.TrimSpace(text) != "" {
			return text
		}
	}
	if !hasContent(fields) {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return ""
	}
	return buf.String()
}

func hasContent(fields map[string]any) bool {
	for _, v := range fields {
		switch val := v.(type) {
		case nil:
		case string:
			if strings.TrimSpace(val) != "" {
				return true
			}
		default:
			return true
		}
	}
	return false
}

type commandSpec struct {
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params"`
}

type subGoalSpec struct {
	ParentStrategyPlanID string             `json:"parent_strategy_plan_id"`
	Description          string             `json:"description"`
	ExpectedData         brief.ExpectedData `json:"expected_data"`
	ExecutableCommands   []commandSpec      `json:"executable_commands"`
}

type taskResponse struct {
	SubGoals []subGoalSpec `json:"sub_goals"`
}

type replanResponse struct {
	ExpectedData       *brief.ExpectedData `json:"expected_data"`
	ExecutableCommands []commandSpec       `json:"executable_commands"`
}

// stripFences 去掉模型常见的 Markdown 代码块包裹。
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// DecodeObject 把响应解析为 JSON 对象，并要求 required 字段存在。
func DecodeObject(raw, required string, v any) error {
	body := stripFences(raw)
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return err
	}
	if _, ok := fields[required]; !ok {
		return fmt.Errorf("response is missing field %q", required)
	}
	return json.Unmarshal([]byte(body), v)
}

const (
	commandsSchema = `{
      "type": "array",
      "items": {
        "type": "object",
        "required": ["tool"],
        "properties": {"tool": {"type": "string"}, "params": {"type": "object"}}
      }
    }`

	expectedDataSchema = `{
      "type": "object",
      "properties": {
        "data_type": {"type": "string"},
        "description": {"type": "string"},
        "min_entries": {"type": "integer"},
        "required_terms": {"type": "array", "items": {"type": "string"}},
        "source_hint": {"type": "string"}
      }
    }`
)

var (
	strategySchema = json.RawMessage(`{
  "type": "object",
  "required": ["strategy_plans"],
  "properties": {
    "task_type": {"type": "string"},
    "task_complexity": {"type": "string"},
    "strategy_plans": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "objective": {"type": "string"},
          "scope": {"type": "string"},
          "priority": {"type": "string"},
          "rationale": {"type": "string"}
        }
      }
    }
  }
}`)

	taskSchema = json.RawMessage(`{
  "type": "object",
  "required": ["sub_goals"],
  "properties": {
    "sub_goals": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["parent_strategy_plan_id", "description", "executable_commands"],
        "properties": {
          "parent_strategy_plan_id": {"type": "string"},
          "description": {"type": "string"},
          "expected_data": ` + expectedDataSchema + `,
          "executable_commands": ` + commandsSchema + `
        }
      }
    }
  }
}`)

	replanSchema = json.RawMessage(`{
  "type": "object",
  "required": ["executable_commands"],
  "properties": {
    "expected_data": ` + expectedDataSchema + `,
    "executable_commands": ` + commandsSchema + `
  }
}`)
)
