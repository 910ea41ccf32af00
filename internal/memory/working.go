package memory

import (
	"maps"
	"slices"
	"sync"
)

// WorkingMemory 保存当前循环内 数据指针 → 摘要 的映射，并发写入安全。
type WorkingMemory struct {
	mu      sync.Mutex
	entries map[string]string
}

// NewWorkingMemory 创建空的工作记忆。
func NewWorkingMemory() *WorkingMemory {
	return &WorkingMemory{entries: make(map[string]string)}
}

// Merge 在单一临界区内写入一批结果。
func (w *WorkingMemory) Merge(results map[string]string) {
	if len(results) == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	maps.Copy(w.entries, results)
}

// Clear 清空工作记忆。
func (w *WorkingMemory) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	clear(w.entries)
}

// Len 返回条目数。
func (w *WorkingMemory) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

// Entries 返回当前内容的副本。
func (w *WorkingMemory) Entries() map[string]string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return maps.Clone(w.entries)
}

// Pointers 返回排序后的指针列表。
func (w *WorkingMemory) Pointers() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Sorted(maps.Keys(w.entries))
}
