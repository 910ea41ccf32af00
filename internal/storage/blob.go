package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"

	xerrors "github.com/McKrispy/Ageeeent/internal/errors"
)

// CodeBlobNotFound 表示指针对应的原始数据不存在或已过期。
const CodeBlobNotFound xerrors.Code = "BLOB_NOT_FOUND"

func init() {
	xerrors.Register(CodeBlobNotFound, xerrors.Attributes{
		Message:  "raw payload not found",
		Severity: xerrors.SeverityInfo,
	})
}

// ErrBlobNotFound 可用于 errors.Is 判断。
var ErrBlobNotFound = xerrors.New(CodeBlobNotFound, "")

// BlobStore 保存工具产生的原始数据，工具只把返回的键写入工作记忆。
type BlobStore interface {
	Put(ctx context.Context, key string, blob []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Close() error
}

// Key 按 session_id:cycle:tool:instance 生成数据指针。
func Key(sessionID string, cycle int, tool, instance string) string {
	return fmt.Sprintf("%s:%d:%s:%s", sessionID, cycle, tool, instance)
}

// ParseKey 拆分数据指针。
func ParseKey(key string) (sessionID, cycle, tool, instance string, ok bool) {
	parts := strings.SplitN(key, ":", 4)
	if len(parts) != 4 {
		return "", "", "", "", false
	}
	return parts[0], parts[1], parts[2], parts[3], true
}

// MemoryBlobStore 是进程内实现。
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryBlobStore 创建进程内存储。
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

// Put 实现 BlobStore。
func (m *MemoryBlobStore) Put(_ context.Context, key string, blob []byte) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "blob key is empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = append([]byte(nil), blob...)
	return key, nil
}

// Get 实现 BlobStore。
func (m *MemoryBlobStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	blob, ok := m.blobs[key]
	if !ok {
		return nil, xerrors.New(CodeBlobNotFound, "blob "+key+" not found")
	}
	return append([]byte(nil), blob...), nil
}

// Close 实现 BlobStore。
func (m *MemoryBlobStore) Close() error { return nil }
