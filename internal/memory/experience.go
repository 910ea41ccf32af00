package memory

import (
	"context"
	"slices"
	"sync"
	"time"
)

// ExperienceKind 区分经验的层级。
type ExperienceKind string

const (
	// KindCognition 是战略层经验，仅在战略验证失败后追加。
	KindCognition ExperienceKind = "cognition"
	// KindExecutionPolicy 是战术层经验，仅在战术验证失败后追加。
	KindExecutionPolicy ExperienceKind = "execution_policy"
)

// ExperienceRecord 是持久化的一条经验。
type ExperienceRecord struct {
	Kind      ExperienceKind `json:"kind"`
	SessionID string         `json:"session_id"`
	Text      string         `json:"text"`
	CreatedAt time.Time      `json:"created_at"`
}

// Journal 持久化经验追加记录，使其在会话之间保留。
type Journal interface {
	Record(ctx context.Context, rec ExperienceRecord) error
	Load(ctx context.Context) ([]ExperienceRecord, error)
}

// Experience 是长期经验状态，会作为上下文反馈给后续的规划调用。
type Experience struct {
	mu        sync.RWMutex
	cognition []string
	policy    []string
	journal   Journal
}

// NewExperience 创建经验状态。journal 可以为 nil。
func NewExperience(journal Journal) *Experience {
	return &Experience{journal: journal}
}

// LoadExperience 从 journal 中恢复已有经验。
func LoadExperience(ctx context.Context, journal Journal) (*Experience, error) {
	exp := NewExperience(journal)
	if journal == nil {
		return exp, nil
	}
	records, err := journal.Load(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		exp.appendLocal(rec.Kind, rec.Text)
	}
	return exp, nil
}

// Append 追加一条经验并写入 journal。内存中的追加总是生效，持久化失败通过返回值暴露。
func (e *Experience) Append(ctx context.Context, sessionID string, kind ExperienceKind, text string) error {
	e.appendLocal(kind, text)
	if e.journal == nil {
		return nil
	}
	return e.journal.Record(ctx, ExperienceRecord{
		Kind:      kind,
		SessionID: sessionID,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	})
}

func (e *Experience) appendLocal(kind ExperienceKind, text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch kind {
	case KindCognition:
		e.cognition = append(e.cognition, text)
	case KindExecutionPolicy:
		e.policy = append(e.policy, text)
	}
}

// Cognition 返回战略经验副本。
func (e *Experience) Cognition() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.cognition)
}

// ExecutionPolicy 返回战术经验副本。
func (e *Experience) ExecutionPolicy() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.policy)
}

// Recent 返回某类经验最近的 n 条，n<=0 时返回全部。
func (e *Experience) Recent(kind ExperienceKind, n int) []string {
	var all []string
	if kind == KindCognition {
		all = e.Cognition()
	} else {
		all = e.ExecutionPolicy()
	}
	if n > 0 && len(all) > n {
		return all[len(all)-n:]
	}
	return all
}

// MemoryJournal 是进程内的 journal，适合测试和单机运行。
type MemoryJournal struct {
	mu      sync.Mutex
	records []ExperienceRecord
}

// Record 实现 Journal。
func (j *MemoryJournal) Record(_ context.Context, rec ExperienceRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, rec)
	return nil
}

// Load 实现 Journal。
func (j *MemoryJournal) Load(context.Context) ([]ExperienceRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.records), nil
}
