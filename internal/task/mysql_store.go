package task

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "github.com/McKrispy/Ageeeent/internal/errors"
)

// MySQLStore 使用 MySQL 记录会话运行状态。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建一个新的 MySQLStore 并确保表结构存在。
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewMySQLStoreWithDB 基于已有连接创建存储，不做表结构初始化。
func NewMySQLStoreWithDB(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

func (s *MySQLStore) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS session_runs (
        id VARCHAR(64) PRIMARY KEY,
        goal TEXT NOT NULL,
        metadata TEXT,
        status VARCHAR(32) NOT NULL,
        attempts INT NOT NULL DEFAULT 0,
        max_retries INT NOT NULL DEFAULT 2,
        last_error TEXT,
        error_code VARCHAR(64) DEFAULT '',
        result_outcome VARCHAR(64) DEFAULT '',
        result_cycles INT NOT NULL DEFAULT 0,
        result_archived INT NOT NULL DEFAULT 0,
        result_summary TEXT,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_session_status (status),
        INDEX idx_session_updated (updated_at)
)`

	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 session_runs 表失败")
	}
	if _, err := s.db.Exec(`ALTER TABLE session_runs ADD COLUMN result_summary TEXT AFTER result_archived`); err != nil {
		var mysqlErr *mysql.MySQLError
		if !(stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1060) {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "扩展 session_runs.result_summary 失败")
		}
	}
	return nil
}

const selectColumns = `id, goal, metadata, status, attempts, max_retries, last_error, error_code,
        result_outcome, result_cycles, result_archived, result_summary, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		s         Session
		result    RunResult
		metadata  sql.NullString
		lastError sql.NullString
		summary   sql.NullString
	)
	if err := row.Scan(
		&s.ID,
		&s.Goal,
		&metadata,
		&s.Status,
		&s.Attempts,
		&s.MaxRetries,
		&lastError,
		&s.ErrorCode,
		&result.Outcome,
		&result.Cycles,
		&result.Archived,
		&summary,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	s.LastError = lastError.String
	result.Summary = summary.String
	decoded, err := unmarshalMetadata(metadata)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析会话 metadata 失败")
	}
	s.Metadata = decoded
	if result.Outcome != "" {
		s.Result = &result
	}
	return &s, nil
}

// Create 插入新的会话记录。
func (s *MySQLStore) Create(ctx context.Context, sess *Session) error {
	if sess == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "session 不能为空")
	}
	if strings.TrimSpace(sess.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "会话 ID 不能为空")
	}

	now := time.Now().Unix()
	sess.CreatedAt = now
	sess.UpdatedAt = now

	metadataValue, err := marshalMetadata(sess.Metadata)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码会话 metadata 失败")
	}

	const stmt = `INSERT INTO session_runs
        (id, goal, metadata, status, attempts, max_retries, last_error, error_code, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, '', '', ?, ?)`

	_, err = s.db.ExecContext(ctx, stmt,
		sess.ID,
		sess.Goal,
		metadataValue,
		sess.Status,
		sess.Attempts,
		sess.MaxRetries,
		sess.CreatedAt,
		sess.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrSessionConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入会话失败")
	}
	return nil
}

// Get 查询指定会话。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM session_runs WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询会话失败")
	}
	return sess, nil
}

// Claim 将会话标记为运行中并返回最新状态。
func (s *MySQLStore) Claim(ctx context.Context, id string) (*Session, error) {
	const updateStmt = `UPDATE session_runs SET status = ?, attempts = attempts + 1, updated_at = ?, last_error = '', error_code = ''
        WHERE id = ? AND status = ? AND attempts <= max_retries`

	res, err := s.db.ExecContext(ctx, updateStmt, StatusRunning, time.Now().Unix(), id, StatusPending)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新会话状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if affected > 0 {
		return sess, nil
	}
	switch {
	case sess.Status.Terminal():
		return sess, ErrSessionCompleted
	case sess.Exhausted():
		return sess, ErrSessionExhausted
	default:
		return sess, ErrSessionConflict
	}
}

// MarkSucceeded 将会话标记为成功。已进入终态（例如运行中被取消）的会话返回 ErrSessionCompleted。
func (s *MySQLStore) MarkSucceeded(ctx context.Context, id string, result RunResult) error {
	const stmt = `UPDATE session_runs SET status = ?, result_outcome = ?, result_cycles = ?, result_archived = ?,
        result_summary = ?, updated_at = ?, last_error = '', error_code = '' WHERE id = ? AND status IN (?, ?)`

	return s.execActive(ctx, id, "标记会话成功失败", stmt,
		StatusSucceeded,
		result.Outcome,
		result.Cycles,
		result.Archived,
		result.Summary,
		time.Now().Unix(),
		id,
		StatusPending, StatusRunning,
	)
}

// MarkFailed 将会话标记为失败，非终态失败会回到待运行状态。
func (s *MySQLStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	const stmt = `UPDATE session_runs SET status = ?, last_error = ?, error_code = ?, updated_at = ?
        WHERE id = ? AND status IN (?, ?)`

	status := StatusPending
	if terminal {
		status = StatusFailed
	}
	return s.execActive(ctx, id, "标记会话失败出错", stmt,
		status, lastError, string(code), time.Now().Unix(), id,
		StatusPending, StatusRunning)
}

// MarkCancelled 取消尚未进入终态的会话。
func (s *MySQLStore) MarkCancelled(ctx context.Context, id string, reason string) error {
	const stmt = `UPDATE session_runs SET status = ?, last_error = ?, error_code = ?, updated_at = ?
        WHERE id = ? AND status IN (?, ?)`

	return s.execActive(ctx, id, "取消会话失败", stmt,
		StatusCancelled, reason, string(xerrors.CodeCancelled), time.Now().Unix(), id,
		StatusPending, StatusRunning)
}

// execActive 只更新未进入终态的会话。没有命中行时区分会话不存在与已进入终态。
func (s *MySQLStore) execActive(ctx context.Context, id, failure, stmt string, args ...any) error {
	err := s.exec(ctx, failure, stmt, args...)
	if !stdErrors.Is(err, ErrSessionNotFound) {
		return err
	}
	if _, getErr := s.Get(ctx, id); getErr != nil {
		return getErr
	}
	return ErrSessionCompleted
}

func (s *MySQLStore) exec(ctx context.Context, failure, stmt string, args ...any) error {
	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, failure)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// List 返回符合过滤条件的会话。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Session, error) {
	opts.applyDefaults()

	query := `SELECT ` + selectColumns + ` FROM session_runs`
	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	order := " ORDER BY updated_at DESC, created_at DESC, id DESC"
	if opts.Order == SortByUpdatedAsc {
		order = " ORDER BY updated_at ASC, created_at ASC, id ASC"
	}
	query += order + " LIMIT ? OFFSET ?"
	args := append(filterArgs, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询会话列表失败")
	}
	defer rows.Close()

	sessions := make([]*Session, 0, opts.Limit)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析会话记录失败")
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历会话失败")
	}
	return sessions, nil
}

// Stats 返回符合过滤条件的会话聚合信息。
func (s *MySQLStore) Stats(ctx context.Context, opts ListOptions) (Stats, error) {
	opts.applyDefaults()

	query := `SELECT
        COUNT(*) AS total,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS pending,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS running,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS succeeded,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS cancelled,
        COALESCE(MIN(updated_at), 0) AS oldest,
        COALESCE(MAX(updated_at), 0) AS newest
        FROM session_runs`

	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	args := []any{StatusPending, StatusRunning, StatusSucceeded, StatusFailed, StatusCancelled}
	args = append(args, filterArgs...)

	var stats Stats
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Running,
		&stats.Succeeded,
		&stats.Failed,
		&stats.Cancelled,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询会话统计失败")
	}
	return stats, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func marshalMetadata(metadata map[string]any) (sql.NullString, error) {
	if len(metadata) == 0 {
		return sql.NullString{}, nil
	}
	bytes, err := json.Marshal(metadata)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(bytes), Valid: true}, nil
}

func unmarshalMetadata(raw sql.NullString) (map[string]any, error) {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil, nil
	}
	var metadata map[string]any
	if err := json.Unmarshal([]byte(raw.String), &metadata); err != nil {
		return nil, err
	}
	return metadata, nil
}

func buildFilterClause(opts ListOptions) (string, []any) {
	var (
		conditions []string
		args       []any
	)
	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for _, status := range opts.Statuses {
			placeholders = append(placeholders, "?")
			args = append(args, status)
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}
	if opts.HasResult != nil {
		if *opts.HasResult {
			conditions = append(conditions, "result_outcome <> ''")
		} else {
			conditions = append(conditions, "(result_outcome IS NULL OR result_outcome = '')")
		}
	}
	if opts.Query != "" {
		pattern := "%" + opts.Query + "%"
		conditions = append(conditions, "(id LIKE ? OR goal LIKE ? OR last_error LIKE ? OR result_summary LIKE ?)")
		args = append(args, pattern, pattern, pattern, pattern)
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}

var _ Store = (*MySQLStore)(nil)
