package agent

import (
	"github.com/McKrispy/Ageeeent/internal/brief"
	"github.com/McKrispy/Ageeeent/internal/memory"
)

// State 是循环控制器当前所处的阶段。
type State string

const (
	StateInit              State = "init"
	StateStrategicPlanning State = "strategic_planning"
	StateTacticalPlanning  State = "tactical_planning"
	StateExecuting         State = "executing"
	StateTacticalVerify    State = "tactical_verify"
	StateStrategicVerify   State = "strategic_verify"
	StateRestartStrategic  State = "restart_strategic"
	StateDone              State = "done"
)

// Status 是一次运行的终态。
type Status string

const (
	StatusSuccess             Status = "success"
	StatusRequirementsUnmet   Status = "requirements_unmet"
	StatusPlanningUnavailable Status = "planning_unavailable"
	// StatusStopped 表示调用方在阶段之间请求了停止或上下文已取消。
	StatusStopped Status = "stopped"
)

// ExperienceSizes 是经验状态的条目数。
type ExperienceSizes struct {
	Cognition       int `json:"cognition"`
	ExecutionPolicy int `json:"execution_policy"`
}

// Snapshot 是控制器在某一时刻的只读视图，供观察者轮询。
type Snapshot struct {
	SessionID        string                     `json:"session_id"`
	Goal             string                     `json:"goal"`
	State            State                      `json:"state"`
	Status           Status                     `json:"status,omitempty"`
	StrategicAttempt int                        `json:"strategic_attempt"`
	Cycle            int                        `json:"cycle"`
	Brief            brief.Snapshot             `json:"brief"`
	WorkingMemory    map[string]string          `json:"working_memory"`
	History          []memory.ExecutionLogEntry `json:"history"`
	Experience       ExperienceSizes            `json:"experience"`
	// Archived 表示快照由持久化的循环历史重建，只含 History 与 Cycle。
	Archived bool `json:"archived,omitempty"`
}
