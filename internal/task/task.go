package task

import (
	"maps"

	xerrors "github.com/McKrispy/Ageeeent/internal/errors"
)

// Status 表示会话运行在队列生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal 判断状态是否为终态。
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// RunResult 是循环控制器一次运行的摘要。
type RunResult struct {
	// Outcome 是控制器终态，例如 success、requirements_unmet。
	Outcome  string `json:"outcome"`
	Cycles   int    `json:"cycles"`
	Archived int    `json:"archived"`
	Summary  string `json:"summary,omitempty"`
}

// Session 描述排队运行的一个用户目标。
type Session struct {
	ID         string         `json:"id"`
	Goal       string         `json:"goal"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Status     Status         `json:"status"`
	Attempts   int            `json:"attempts"`
	MaxRetries int            `json:"max_retries"`
	LastError  string         `json:"last_error,omitempty"`
	ErrorCode  string         `json:"error_code,omitempty"`
	Result     *RunResult     `json:"result,omitempty"`
	CreatedAt  int64          `json:"created_at"`
	UpdatedAt  int64          `json:"updated_at"`
}

// MetadataSupplementary 是保存用户补充内容的 metadata 键。
const MetadataSupplementary = "supplementary"

// Supplementary 返回用户对澄清问卷的补充内容，没有时返回空串。
func (s *Session) Supplementary() string {
	text, _ := s.Metadata[MetadataSupplementary].(string)
	return text
}

// Exhausted 判断重试次数是否已经用完。首次运行不计入重试。
func (s *Session) Exhausted() bool {
	return s.Attempts > s.MaxRetries
}

const (
	CodeSessionNotFound   xerrors.Code = "SESSION_NOT_FOUND"
	CodeSessionConflict   xerrors.Code = "SESSION_CONFLICT"
	CodeSessionCompleted  xerrors.Code = "SESSION_COMPLETED"
	CodeSessionExhausted  xerrors.Code = "SESSION_RETRIES_EXHAUSTED"
	CodeSessionValidation xerrors.Code = "SESSION_VALIDATION_FAILED"
	CodeSessionPublish    xerrors.Code = "SESSION_PUBLISH_FAILED"
	CodeSessionProcessing xerrors.Code = "SESSION_PROCESSING_FAILED"
)

var (
	// ErrSessionNotFound 表示指定的会话不存在。
	ErrSessionNotFound = xerrors.New(CodeSessionNotFound, "session not found")
	// ErrSessionConflict 表示会话在当前状态下无法进行所请求的操作。
	ErrSessionConflict = xerrors.New(CodeSessionConflict, "session conflict")
	// ErrSessionCompleted 表示会话已经进入终态。
	ErrSessionCompleted = xerrors.New(CodeSessionCompleted, "session already completed")
	// ErrSessionExhausted 表示会话的重试次数已经耗尽。
	ErrSessionExhausted = xerrors.New(CodeSessionExhausted, "session retries exhausted")
)

func init() {
	xerrors.Register(CodeSessionNotFound, xerrors.Attributes{
		Message:  "session not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeSessionConflict, xerrors.Attributes{
		Message:  "session conflict",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeSessionCompleted, xerrors.Attributes{
		Message:  "session already completed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeSessionExhausted, xerrors.Attributes{
		Message:  "session retries exhausted",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
	xerrors.Register(CodeSessionValidation, xerrors.Attributes{
		Message:  "session validation failed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeSessionPublish, xerrors.Attributes{
		Message:   "failed to publish session",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeSessionProcessing, xerrors.Attributes{
		Message:   "session run failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
}

// IsValidStatus 检查给定的状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

func cloneSession(s *Session) *Session {
	clone := *s
	if s.Result != nil {
		result := *s.Result
		clone.Result = &result
	}
	clone.Metadata = maps.Clone(s.Metadata)
	return &clone
}
