package task

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "github.com/McKrispy/Ageeeent/internal/errors"
)

// MemoryStore 以内存方式保存会话状态，适合测试与单机运行。
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, s *Session) error {
	if s == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "session 不能为空")
	}
	if s.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "会话 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return ErrSessionConflict
	}
	now := time.Now().Unix()
	if s.CreatedAt == 0 {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	m.sessions[s.ID] = cloneSession(s)
	return nil
}

// Get 返回会话副本。
func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return cloneSession(s), nil
}

// Claim 将会话状态更新为运行中。
func (m *MemoryStore) Claim(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	switch {
	case s.Status.Terminal():
		return cloneSession(s), ErrSessionCompleted
	case s.Status == StatusRunning:
		return cloneSession(s), ErrSessionConflict
	case s.Attempts > s.MaxRetries:
		return cloneSession(s), ErrSessionExhausted
	}
	s.Status = StatusRunning
	s.Attempts++
	s.LastError = ""
	s.ErrorCode = ""
	s.UpdatedAt = time.Now().Unix()
	return cloneSession(s), nil
}

// MarkSucceeded 记录成功结果。运行期间被取消的会话保持取消状态，返回 ErrSessionCompleted。
func (m *MemoryStore) MarkSucceeded(_ context.Context, id string, result RunResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if s.Status.Terminal() {
		return ErrSessionCompleted
	}
	s.Status = StatusSucceeded
	s.Result = &result
	s.LastError = ""
	s.ErrorCode = ""
	s.UpdatedAt = time.Now().Unix()
	return nil
}

// MarkFailed 标记会话失败。已进入终态的会话返回 ErrSessionCompleted。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if s.Status.Terminal() {
		return ErrSessionCompleted
	}
	s.Status = StatusPending
	if terminal {
		s.Status = StatusFailed
	}
	s.LastError = lastError
	s.ErrorCode = string(code)
	s.UpdatedAt = time.Now().Unix()
	return nil
}

// MarkCancelled 取消会话，已进入终态的会话返回 ErrSessionCompleted。
func (m *MemoryStore) MarkCancelled(_ context.Context, id string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if s.Status.Terminal() {
		return ErrSessionCompleted
	}
	s.Status = StatusCancelled
	s.LastError = reason
	s.ErrorCode = string(xerrors.CodeCancelled)
	s.UpdatedAt = time.Now().Unix()
	return nil
}

// List 返回符合过滤条件的会话。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	results := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if matchesListFilters(s, opts) {
			results = append(results, cloneSession(s))
		}
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if opts.Order == SortByUpdatedAsc {
			a, b = b, a
		}
		if a.UpdatedAt != b.UpdatedAt {
			return a.UpdatedAt > b.UpdatedAt
		}
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt > b.CreatedAt
		}
		return a.ID > b.ID
	})

	if opts.Offset >= len(results) {
		return []*Session{}, nil
	}
	results = results[opts.Offset:]
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Stats 统计符合过滤条件的会话数量与更新时间范围。
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	var stats Stats
	for _, s := range m.sessions {
		if matchesListFilters(s, opts) {
			stats.add(s.Status, s.UpdatedAt)
		}
	}
	return stats, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

func matchesListFilters(s *Session, opts ListOptions) bool {
	if len(opts.Statuses) > 0 {
		matched := false
		for _, status := range opts.Statuses {
			if s.Status == status {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if opts.UpdatedGTE > 0 && s.UpdatedAt < opts.UpdatedGTE {
		return false
	}
	if opts.UpdatedLTE > 0 && s.UpdatedAt > opts.UpdatedLTE {
		return false
	}
	if opts.HasResult != nil && (s.Result != nil) != *opts.HasResult {
		return false
	}
	if opts.Query != "" {
		q := strings.ToLower(opts.Query)
		fields := []string{s.ID, s.Goal, s.LastError}
		if s.Result != nil {
			fields = append(fields, s.Result.Summary)
		}
		found := false
		for _, f := range fields {
			if strings.Contains(strings.ToLower(f), q) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

var _ Store = (*MemoryStore)(nil)
