package task

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// scriptedDriver 依次回放预设的 Exec 与 Query 结果，并记录收到的语句。
type scriptedDriver struct {
	mu      sync.Mutex
	steps   []scriptedStep
	idx     int
	queries []string
	args    [][]driver.Value
}

type scriptedStep struct {
	exec         bool
	rowsAffected int64
	columns      []string
	rows         [][]driver.Value
}

var scriptedSeq atomic.Int32

func newScriptedStore(t *testing.T, steps ...scriptedStep) (*MySQLStore, *scriptedDriver) {
	t.Helper()
	drv := &scriptedDriver{steps: steps}
	name := fmt.Sprintf("scripted-mysql-%d", scriptedSeq.Add(1))
	sql.Register(name, drv)
	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open scripted db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = db.Close()
		if drv.idx != len(drv.steps) {
			t.Errorf("not all steps consumed: %d/%d", drv.idx, len(drv.steps))
		}
	})
	return NewMySQLStoreWithDB(db), drv
}

func (d *scriptedDriver) Open(string) (driver.Conn, error) { return &scriptedConn{d: d}, nil }

func (d *scriptedDriver) next(exec bool, query string, args []driver.NamedValue) (scriptedStep, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.idx >= len(d.steps) {
		return scriptedStep{}, fmt.Errorf("unexpected statement %q", query)
	}
	step := d.steps[d.idx]
	d.idx++
	if step.exec != exec {
		return scriptedStep{}, fmt.Errorf("statement kind mismatch at %d: %q", d.idx-1, query)
	}
	values := make([]driver.Value, len(args))
	for i, a := range args {
		values[i] = a.Value
	}
	d.queries = append(d.queries, strings.Join(strings.Fields(query), " "))
	d.args = append(d.args, values)
	return step, nil
}

type scriptedConn struct{ d *scriptedDriver }

func (c *scriptedConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}
func (c *scriptedConn) Close() error { return nil }
func (c *scriptedConn) Begin() (driver.Tx, error) {
	return nil, errors.New("transactions not supported")
}

func (c *scriptedConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	step, err := c.d.next(true, query, args)
	if err != nil {
		return nil, err
	}
	return driver.RowsAffected(step.rowsAffected), nil
}

func (c *scriptedConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	step, err := c.d.next(false, query, args)
	if err != nil {
		return nil, err
	}
	return &scriptedRows{columns: step.columns, values: step.rows}, nil
}

type scriptedRows struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *scriptedRows) Columns() []string { return r.columns }
func (r *scriptedRows) Close() error      { return nil }

func (r *scriptedRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

var sessionColumns = []string{"id", "goal", "metadata", "status", "attempts", "max_retries", "last_error", "error_code",
	"result_outcome", "result_cycles", "result_archived", "result_summary", "created_at", "updated_at"}

func sessionRow(id string, status Status) [][]driver.Value {
	return [][]driver.Value{{id, "g", nil, string(status), int64(1), int64(2), "stopped via api", "CANCELLED",
		"", int64(0), int64(0), nil, int64(1700000000), int64(1700000001)}}
}

func TestMySQLStoreKeepsTerminalStatus(t *testing.T) {
	ctx := context.Background()
	store, drv := newScriptedStore(t,
		scriptedStep{exec: true, rowsAffected: 1},
		scriptedStep{exec: true, rowsAffected: 0},
		scriptedStep{columns: sessionColumns, rows: sessionRow("cancelled", StatusCancelled)},
		scriptedStep{exec: true, rowsAffected: 0},
		scriptedStep{columns: sessionColumns, rows: sessionRow("cancelled", StatusCancelled)},
		scriptedStep{exec: true, rowsAffected: 0},
		scriptedStep{columns: sessionColumns},
	)

	if err := store.MarkSucceeded(ctx, "running", RunResult{Outcome: "success"}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "cancelled", RunResult{Outcome: "success"}); !errors.Is(err, ErrSessionCompleted) {
		t.Fatalf("late success must not overwrite a terminal session, got %v", err)
	}
	if err := store.MarkFailed(ctx, "cancelled", "TIMEOUT", "slow", false); !errors.Is(err, ErrSessionCompleted) {
		t.Fatalf("late failure must not requeue a terminal session, got %v", err)
	}
	if err := store.MarkFailed(ctx, "missing", "TIMEOUT", "slow", true); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	for _, i := range []int{0, 1, 3, 5} {
		if !strings.HasSuffix(drv.queries[i], "WHERE id = ? AND status IN (?, ?)") {
			t.Fatalf("update %d is not guarded by status: %s", i, drv.queries[i])
		}
		args := drv.args[i]
		if got := fmt.Sprint(args[len(args)-2:]); got != "[pending running]" {
			t.Fatalf("update %d guard args = %s", i, got)
		}
	}
}
