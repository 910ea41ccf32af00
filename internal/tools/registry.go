package tools

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	xerrors "github.com/McKrispy/Ageeeent/internal/errors"
)

type registration struct {
	factory Factory
	doc     string
}

// Registry 按名称管理工具工厂。
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registration
}

// NewRegistry 创建空注册表。
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registration)}
}

// Register 注册工具。doc 描述参数，会出现在规划提示词中。
func (r *Registry) Register(name, doc string, factory Factory) error {
	name = strings.TrimSpace(name)
	if name == "" || factory == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "tool name and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return xerrors.New(xerrors.CodeConflict, fmt.Sprintf("tool %s already registered", name))
	}
	r.entries[name] = registration{factory: factory, doc: doc}
	return nil
}

// List 返回排序后的工具名。
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Resolve 返回工具工厂。
func (r *Registry) Resolve(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[name]
	return reg.factory, ok
}

// Has 判断工具是否已注册。
func (r *Registry) Has(name string) bool {
	_, ok := r.Resolve(name)
	return ok
}

// Docs 返回 "name: doc" 形式的工具说明，按名称排序。
func (r *Registry) Docs() []string {
	names := r.List()
	r.mu.RLock()
	defer r.mu.RUnlock()
	docs := make([]string, 0, len(names))
	for _, name := range names {
		if doc := r.entries[name].doc; doc != "" {
			docs = append(docs, name+": "+doc)
		} else {
			docs = append(docs, name)
		}
	}
	return docs
}
