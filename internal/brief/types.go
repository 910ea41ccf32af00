package brief

import (
	"fmt"
	"maps"
	"strings"
)

// Kind 标识层级中的实体类型。
type Kind string

const (
	KindStrategyPlan Kind = "strategy_plan"
	KindSubGoal      Kind = "sub_goal"
	KindCommand      Kind = "executable_command"
)

const (
	planPrefix    = "sp_"
	subGoalPrefix = "sg_"
	commandPrefix = "ec_"
)

// PlanDescription 是战略计划的结构化描述，Text 为纯文本回退。
type PlanDescription struct {
	TaskType       string `json:"task_type,omitempty"`
	TaskComplexity string `json:"task_complexity,omitempty"`
	Objective      string `json:"objective,omitempty"`
	Scope          string `json:"scope,omitempty"`
	Priority       string `json:"priority,omitempty"`
	Rationale      string `json:"rationale,omitempty"`
	Text           string `json:"text,omitempty"`
}

// String 渲染为适合放进提示词的一行文本。
func (d PlanDescription) String() string {
	if d.Objective == "" {
		return d.Text
	}
	parts := []string{"objective: " + d.Objective}
	if d.Scope != "" {
		parts = append(parts, "scope: "+d.Scope)
	}
	if d.Priority != "" {
		parts = append(parts, "priority: "+d.Priority)
	}
	if d.Rationale != "" {
		parts = append(parts, "rationale: "+d.Rationale)
	}
	return strings.Join(parts, "; ")
}

// ExpectedData 声明子目标执行后工作记忆中应出现的数据形态。
type ExpectedData struct {
	DataType      string   `json:"data_type,omitempty"`
	Description   string   `json:"description,omitempty"`
	MinEntries    int      `json:"min_entries,omitempty"`
	RequiredTerms []string `json:"required_terms,omitempty"`
	SourceHint    string   `json:"source_hint,omitempty"`
}

func (e ExpectedData) clone() ExpectedData {
	e.RequiredTerms = append([]string(nil), e.RequiredTerms...)
	return e
}

// StrategyPlan 是层级的顶层。
type StrategyPlan struct {
	ID          string          `json:"id"`
	Description PlanDescription `json:"description"`
	Completed   bool            `json:"completed"`
}

// SubGoal 隶属于一个战略计划。Archived 表示其结果已通过战术验证并归档。
type SubGoal struct {
	ID                   string       `json:"id"`
	ParentStrategyPlanID string       `json:"parent_strategy_plan_id"`
	Description          string       `json:"description"`
	ExpectedData         ExpectedData `json:"expected_data"`
	Completed            bool         `json:"completed"`
	Archived             bool         `json:"archived"`
}

// ExecutableCommand 是一次具体的工具调用。
type ExecutableCommand struct {
	ID              string         `json:"id"`
	ParentSubGoalID string         `json:"parent_sub_goal_id"`
	Tool            string         `json:"tool"`
	Params          map[string]any `json:"params,omitempty"`
	Completed       bool           `json:"completed"`
}

func (c ExecutableCommand) clone() ExecutableCommand {
	c.Params = maps.Clone(c.Params)
	return c
}

// Change 记录一次完成状态的变化。
type Change struct {
	Kind Kind
	ID   string
}

func (c Change) String() string {
	return fmt.Sprintf("%s:%s", c.Kind, c.ID)
}
