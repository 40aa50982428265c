package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// SQLExecutor runs statements through database/sql.
type SQLExecutor struct {
	db *sql.DB
}

func NewSQLExecutor(db *sql.DB) *SQLExecutor {
	return &SQLExecutor{db: db}
}

// OpenSQLite opens the SQLite database at path. An empty path opens a private
// in-memory database.
func OpenSQLite(path string) (*SQLExecutor, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if path == "" {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	return &SQLExecutor{db: db}, nil
}

// DB exposes the underlying handle, e.g. for seeding.
func (e *SQLExecutor) DB() *sql.DB {
	return e.db
}

func (e *SQLExecutor) Prepare(query string) Statement {
	return sqlStatement{db: e.db, query: query}
}

func (e *SQLExecutor) Close() error {
	return e.db.Close()
}

type sqlStatement struct {
	db    *sql.DB
	query string
	args  []any
}

func (s sqlStatement) Bind(args ...any) Statement {
	s.args = append([]any(nil), args...)
	return s
}

func (s sqlStatement) First(ctx context.Context) (Row, bool, error) {
	rows, err := s.All(ctx)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0], true, nil
}

func (s sqlStatement) All(ctx context.Context) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, s.query, s.args...)
	if err != nil {
		return nil, &QueryError{Query: s.query, Err: err}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, &QueryError{Query: s.query, Err: err}
	}
	result := []Row{}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, &QueryError{Query: s.query, Err: err}
		}
		row := make(Row, len(columns))
		for i, name := range columns {
			row[name] = scalar(values[i])
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{Query: s.query, Err: err}
	}
	return result, nil
}

// scalar normalizes driver values to the types documented on Row.
func scalar(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return FormatTime(x)
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	default:
		return v
	}
}
