package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	xerrors "github.com/McKrispy/Ageeeent/internal/errors"
	"github.com/McKrispy/Ageeeent/internal/memory"
)

// FileJournal 以 JSON Lines 追加写的方式保存经验与循环历史，适合单机部署。
type FileJournal struct {
	mu         sync.Mutex
	experience string
	history    string
}

// NewFileJournal 在 dataDir 下创建 experience.log 与 history.log。
func NewFileJournal(dataDir string) (*FileJournal, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建数据目录失败")
	}
	return &FileJournal{
		experience: filepath.Join(dataDir, "experience.log"),
		history:    filepath.Join(dataDir, "history.log"),
	}, nil
}

// Record 实现 memory.Journal。
func (f *FileJournal) Record(_ context.Context, rec memory.ExperienceRecord) error {
	return f.appendLine(f.experience, rec)
}

// Load 实现 memory.Journal，无法解析的行会被跳过。
func (f *FileJournal) Load(_ context.Context) ([]memory.ExperienceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return readLines[memory.ExperienceRecord](f.experience)
}

// Archive 实现 memory.Archive。
func (f *FileJournal) Archive(_ context.Context, entry memory.ExecutionLogEntry) error {
	return f.appendLine(f.history, entry)
}

// History 返回某个会话已归档的循环，sessionID 为空时返回全部。
func (f *FileJournal) History(_ context.Context, sessionID string) ([]memory.ExecutionLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all, err := readLines[memory.ExecutionLogEntry](f.history)
	if err != nil || sessionID == "" {
		return all, err
	}
	var out []memory.ExecutionLogEntry
	for _, e := range all {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *FileJournal) appendLine(path string, v any) error {
	encoded, err := json.Marshal(v)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化记录失败")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开日志文件失败")
	}
	defer file.Close()
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入日志文件失败")
	}
	return nil
}

func readLines[T any](path string) ([]T, error) {
	file, err := os.OpenFile(path, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取日志文件失败")
	}
	defer file.Close()

	var out []T
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var v T
		if err := json.Unmarshal(scanner.Bytes(), &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析日志文件失败")
	}
	return out, nil
}

var (
	_ memory.Journal       = (*FileJournal)(nil)
	_ memory.Archive       = (*FileJournal)(nil)
	_ memory.HistoryReader = (*FileJournal)(nil)
)
