package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	gomysql "github.com/go-sql-driver/mysql"

	xerrors "github.com/McKrispy/Ageeeent/internal/errors"
	"github.com/McKrispy/Ageeeent/internal/memory"
)

const errDuplicateEntry = 1062

const (
	insertExperienceSQL = `INSERT INTO experience_records (kind, session_id, text, created_at) VALUES (?, ?, ?, ?)`
	selectExperienceSQL = `SELECT kind, session_id, text, created_at FROM experience_records ORDER BY id ASC`
	insertHistorySQL    = `INSERT INTO cycle_history
    (id, session_id, cycle, sub_goal_id, sub_goal, summary, pointers, status, archived_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	selectHistorySQL = `SELECT id, session_id, cycle, sub_goal_id, sub_goal, summary, pointers, status, archived_at
    FROM cycle_history WHERE session_id = ? ORDER BY cycle ASC`
)

// ExperienceStore 把经验与循环历史写入 MySQL，实现 memory.Journal 与 memory.Archive。
type ExperienceStore struct {
	db *sql.DB
}

// NewExperienceStore 基于已迁移的连接池创建存储。
func NewExperienceStore(db *sql.DB) *ExperienceStore {
	return &ExperienceStore{db: db}
}

// Record 实现 memory.Journal。
func (s *ExperienceStore) Record(ctx context.Context, rec memory.ExperienceRecord) error {
	if _, err := s.db.ExecContext(ctx, insertExperienceSQL, string(rec.Kind), rec.SessionID, rec.Text, rec.CreatedAt.Unix()); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入经验失败")
	}
	return nil
}

// Load 实现 memory.Journal。
func (s *ExperienceStore) Load(ctx context.Context) ([]memory.ExperienceRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectExperienceSQL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询经验失败")
	}
	defer rows.Close()

	var out []memory.ExperienceRecord
	for rows.Next() {
		var (
			rec     memory.ExperienceRecord
			kind    string
			created int64
		)
		if err := rows.Scan(&kind, &rec.SessionID, &rec.Text, &created); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析经验失败")
		}
		rec.Kind = memory.ExperienceKind(kind)
		rec.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Archive 实现 memory.Archive。重复归档同一条目视为成功。
func (s *ExperienceStore) Archive(ctx context.Context, e memory.ExecutionLogEntry) error {
	pointers, err := json.Marshal(e.Pointers)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码数据指针失败")
	}
	_, err = s.db.ExecContext(ctx, insertHistorySQL,
		e.ID, e.SessionID, e.Cycle, e.SubGoalID, e.SubGoal, e.Summary, string(pointers), string(e.Status), e.ArchivedAt.Unix())
	if err != nil {
		var mysqlErr *gomysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == errDuplicateEntry {
			return nil
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入循环历史失败")
	}
	return nil
}

// History 返回会话已归档的循环。
func (s *ExperienceStore) History(ctx context.Context, sessionID string) ([]memory.ExecutionLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, selectHistorySQL, sessionID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询循环历史失败")
	}
	defer rows.Close()

	var out []memory.ExecutionLogEntry
	for rows.Next() {
		var (
			e        memory.ExecutionLogEntry
			pointers string
			status   string
			archived int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Cycle, &e.SubGoalID, &e.SubGoal, &e.Summary, &pointers, &status, &archived); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析循环历史失败")
		}
		if err := json.Unmarshal([]byte(pointers), &e.Pointers); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析数据指针失败")
		}
		e.Status = memory.LogStatus(status)
		e.ArchivedAt = time.Unix(archived, 0).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

var (
	_ memory.Journal       = (*ExperienceStore)(nil)
	_ memory.Archive       = (*ExperienceStore)(nil)
	_ memory.HistoryReader = (*ExperienceStore)(nil)
)
