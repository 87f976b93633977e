package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Swind/go-taskkit/core"
	"github.com/Swind/go-taskkit/errdefs"
)

const schema = `
CREATE TABLE IF NOT EXISTS task_executions (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id     INTEGER NOT NULL,
	name        TEXT    NOT NULL,
	queue       TEXT    NOT NULL,
	qos         INTEGER NOT NULL,
	priority    INTEGER NOT NULL,
	state       INTEGER NOT NULL,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL,
	duration_ns INTEGER NOT NULL,
	err         TEXT    NOT NULL DEFAULT '',
	panicked    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_task_executions_task ON task_executions(task_id);
CREATE INDEX IF NOT EXISTS idx_task_executions_finished ON task_executions(finished_at);
`

const columns = `task_id, name, queue, qos, priority, state, started_at, finished_at, duration_ns, err, panicked`

// SQLiteStore is a Store backed by a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the archive database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errdefs.InvalidArgument("archive path must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, q := range []string{"PRAGMA journal_mode=WAL;", schema} {
		if _, err := db.ExecContext(ctx, q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init archive: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (s *SQLiteStore) Append(ctx context.Context, rec core.TaskExecutionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_executions (`+columns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uint64(rec.TaskID), rec.Name, rec.Queue, int(rec.QoS), rec.Priority, int(rec.State),
		unixNano(rec.StartedAt), unixNano(rec.FinishedAt), int64(rec.Duration), rec.Err, rec.Panicked)
	if err != nil {
		return fmt.Errorf("append execution record %s: %w", rec.TaskID, err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, f Filter) ([]core.TaskExecutionRecord, error) {
	var where []string
	var args []any
	if f.Queue != "" {
		where = append(where, "queue = ?")
		args = append(args, f.Queue)
	}
	if f.Name != "" {
		where = append(where, "name = ?")
		args = append(args, f.Name)
	}
	if len(f.States) > 0 {
		marks := make([]string, len(f.States))
		for i, st := range f.States {
			marks[i] = "?"
			args = append(args, int(st))
		}
		where = append(where, "state IN ("+strings.Join(marks, ", ")+")")
	}
	if !f.Since.IsZero() {
		where = append(where, "finished_at >= ?")
		args = append(args, f.Since.UnixNano())
	}

	q := `SELECT ` + columns + ` FROM task_executions`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id DESC"
	if f.Limit > 0 || f.Offset > 0 {
		limit := f.Limit
		if limit <= 0 {
			limit = -1
		}
		q += " LIMIT ? OFFSET ?"
		args = append(args, limit, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list execution records: %w", err)
	}
	defer rows.Close()

	var out []core.TaskExecutionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Get(ctx context.Context, id core.TaskID) (core.TaskExecutionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+columns+` FROM task_executions WHERE task_id = ? ORDER BY id DESC LIMIT 1`, uint64(id))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.TaskExecutionRecord{}, errdefs.NewNotFoundError("execution record", id.String())
	}
	return rec, err
}

func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM task_executions WHERE finished_at < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune execution records: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (core.TaskExecutionRecord, error) {
	var (
		rec                      core.TaskExecutionRecord
		taskID                   uint64
		qos, state               int
		started, finished, durNS int64
	)
	err := sc.Scan(&taskID, &rec.Name, &rec.Queue, &qos, &rec.Priority, &state,
		&started, &finished, &durNS, &rec.Err, &rec.Panicked)
	if err != nil {
		return core.TaskExecutionRecord{}, err
	}
	rec.TaskID = core.TaskID(taskID)
	rec.QoS = core.QoS(qos)
	rec.State = core.TaskState(state)
	rec.StartedAt = fromUnixNano(started)
	rec.FinishedAt = fromUnixNano(finished)
	rec.Duration = time.Duration(durNS)
	return rec, nil
}
