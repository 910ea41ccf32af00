package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LogStatus 是归档条目的状态。
type LogStatus string

const (
	LogStatusSuccess LogStatus = "success"
)

// ExecutionLogEntry 是一次通过战术验证的循环归档。写入后不再修改。
type ExecutionLogEntry struct {
	ID         string            `json:"id"`
	SessionID  string            `json:"session_id"`
	Cycle      int               `json:"cycle"`
	SubGoalID  string            `json:"sub_goal_id"`
	SubGoal    string            `json:"sub_goal"`
	Summary    string            `json:"summary"`
	Pointers   []string          `json:"pointers"`
	Summaries  map[string]string `json:"summaries,omitempty"`
	Status     LogStatus         `json:"status"`
	ArchivedAt time.Time         `json:"archived_at"`
}

// NewLogEntry 由工作记忆内容生成归档条目。
func NewLogEntry(sessionID string, cycle int, subGoalID, subGoal string, wm map[string]string) ExecutionLogEntry {
	pointers := make([]string, 0, len(wm))
	for p := range wm {
		pointers = append(pointers, p)
	}
	slices.Sort(pointers)

	parts := make([]string, 0, len(pointers))
	summaries := make(map[string]string, len(wm))
	for _, p := range pointers {
		summaries[p] = wm[p]
		parts = append(parts, wm[p])
	}
	return ExecutionLogEntry{
		ID:         "ch_" + uuid.NewString(),
		SessionID:  sessionID,
		Cycle:      cycle,
		SubGoalID:  subGoalID,
		SubGoal:    subGoal,
		Summary:    strings.Join(parts, "\n"),
		Pointers:   pointers,
		Summaries:  summaries,
		Status:     LogStatusSuccess,
		ArchivedAt: time.Now().UTC(),
	}
}

// Archive 把归档条目写入持久化存储。
type Archive interface {
	Archive(ctx context.Context, entry ExecutionLogEntry) error
}

// HistoryReader 按会话读取已归档的循环，Archive 的持久化实现通常同时提供它。
type HistoryReader interface {
	History(ctx context.Context, sessionID string) ([]ExecutionLogEntry, error)
}

// CycleHistory 是会话内只追加的归档列表。
type CycleHistory struct {
	mu      sync.RWMutex
	entries []ExecutionLogEntry
	archive Archive
}

// NewCycleHistory 创建空的循环历史。archive 可以为 nil。
func NewCycleHistory(archive Archive) *CycleHistory {
	return &CycleHistory{archive: archive}
}

// Append 追加一条归档并同步写入 archive。内存追加总是生效。
func (h *CycleHistory) Append(ctx context.Context, entry ExecutionLogEntry) error {
	h.mu.Lock()
	h.entries = append(h.entries, entry)
	h.mu.Unlock()
	if h.archive == nil {
		return nil
	}
	return h.archive.Archive(ctx, entry)
}

// Entries 返回全部归档的副本。
func (h *CycleHistory) Entries() []ExecutionLogEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.entries)
}

// Len 返回归档数量。
func (h *CycleHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}
