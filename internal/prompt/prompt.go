// Package prompt 保存各规划阶段使用的提示词模板。模板与阶段之间是显式声明的
// 映射，默认内嵌在二进制中，可以用目录中的同名文件覆盖。
package prompt

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/McKrispy/Ageeeent/internal/brief"
	xerrors "github.com/McKrispy/Ageeeent/internal/errors"
	"github.com/McKrispy/Ageeeent/internal/memory"
)

// Kind 标识一个使用提示词的阶段。
type Kind string

const (
	KindStrategyPlanner      Kind = "strategy_planner"
	KindTaskPlanner          Kind = "task_planner"
	KindSubGoalReplanner     Kind = "subgoal_replanner"
	KindRequirementsVerifier Kind = "requirements_verifier"
	KindFilterSummary        Kind = "filter_summary"
	KindQuestionnaire        Kind = "questionnaire_designer"
	KindProfileDrawer        Kind = "profile_drawer"
)

var templateFiles = map[Kind]string{
	KindStrategyPlanner:      "strategy_planner.tmpl",
	KindTaskPlanner:          "task_planner.tmpl",
	KindSubGoalReplanner:     "subgoal_replanner.tmpl",
	KindRequirementsVerifier: "requirements_verifier.tmpl",
	KindFilterSummary:        "filter_summary.tmpl",
	KindQuestionnaire:        "questionnaire_designer.tmpl",
	KindProfileDrawer:        "profile_drawer.tmpl",
}

// StrategyData 是战略规划模板的输入。
type StrategyData struct {
	Goal      string
	Cognition []string
	Tools     []string
}

// TaskData 是批量战术规划模板的输入。
type TaskData struct {
	Goal            string
	Plans           []brief.StrategyPlan
	ExecutionPolicy []string
	ToolDocs        []string
}

// ReplanData 是单个子目标重规划模板的输入。
type ReplanData struct {
	Goal            string
	SubGoal         brief.SubGoal
	ExecutionPolicy []string
	ToolDocs        []string
}

// VerifyData 是需求验证模板的输入。
type VerifyData struct {
	Goal    string
	History []memory.ExecutionLogEntry
}

// SummaryData 是摘要模板的输入。
type SummaryData struct {
	Goal    string
	RawData string
}

// QuestionnaireData 是问卷设计模板的输入。
type QuestionnaireData struct {
	Goal         string
	MaxQuestions int
}

// ProfileData 是用户画像模板的输入。
type ProfileData struct {
	Goal          string
	Supplementary string
}

//go:embed templates/*.tmpl
var embedded embed.FS

var funcs = template.FuncMap{
	"join":     strings.Join,
	"numbered": numbered,
}

// Library 持有已解析的模板。
type Library struct {
	templates map[Kind]*template.Template
}

// Load 解析全部模板。overrideDir 非空时优先读取其中的同名文件。
func Load(overrideDir string) (*Library, error) {
	lib := &Library{templates: make(map[Kind]*template.Template, len(templateFiles))}
	for kind, file := range templateFiles {
		content, err := readTemplate(overrideDir, file)
		if err != nil {
			return nil, err
		}
		tmpl, err := template.New(string(kind)).Funcs(funcs).Parse(content)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "解析提示词模板 "+file+" 失败")
		}
		lib.templates[kind] = tmpl
	}
	return lib, nil
}

// MustDefault 返回内嵌模板，解析失败时 panic，仅用于测试与默认装配。
func MustDefault() *Library {
	lib, err := Load("")
	if err != nil {
		panic(err)
	}
	return lib
}

func readTemplate(overrideDir, file string) (string, error) {
	if overrideDir != "" {
		content, err := os.ReadFile(filepath.Join(overrideDir, file))
		if err == nil {
			return string(content), nil
		}
		if !os.IsNotExist(err) {
			return "", xerrors.Wrap(xerrors.CodeInitializationFailure, err, "读取提示词模板 "+file+" 失败")
		}
	}
	content, err := embedded.ReadFile("templates/" + file)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInitializationFailure, err, "缺少内嵌模板 "+file)
	}
	return string(content), nil
}

// Render 用 data 渲染指定阶段的模板。
func (l *Library) Render(kind Kind, data any) (string, error) {
	tmpl, ok := l.templates[kind]
	if !ok {
		return "", xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("未声明的提示词类型 %s", kind))
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "渲染提示词 "+string(kind)+" 失败")
	}
	return strings.TrimSpace(buf.String()), nil
}

func numbered(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for i, item := range items {
		fmt.Fprintf(&b, "%d. %s\n", i+1, item)
	}
	return strings.TrimRight(b.String(), "\n")
}
