// Package store runs the read queries behind the API against a SQL backend.
package store

import (
	"context"
	"strconv"
	"time"
)

// Row is a single result row keyed by column name.
// Values are scalars: string, int64, float64 or nil.
type Row map[string]any

// Executor prepares statements against a backing database.
type Executor interface {
	Prepare(query string) Statement
	Close() error
}

// Statement is an immutable prepared query. Bind returns a new statement.
type Statement interface {
	Bind(args ...any) Statement
	// First returns the first row. The boolean is false when the query produced no rows.
	First(ctx context.Context) (Row, bool, error)
	// All returns every row, an empty slice when there are none.
	All(ctx context.Context) ([]Row, error)
}

// QueryError is returned for any failure while running a query.
// Its message is the backend message, which is what API clients get to see.
type QueryError struct {
	Query string
	Err   error
}

func (e *QueryError) Error() string {
	return e.Err.Error()
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// TimeLayout is the textual form of play times. Values of one layout compare
// correctly as strings, which the window filters rely on.
const TimeLayout = "2006-01-02T15:04:05Z"

// FormatTime renders t in UTC using TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Int converts a row value to int64. Nil and unparseable values become 0.
func Int(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(n, 64)
			if ferr != nil {
				return 0
			}
			return int64(f)
		}
		return i
	case interface{ Int64() (int64, error) }:
		i, _ := n.Int64()
		return i
	default:
		return 0
	}
}

// String converts a row value to a string. Nil becomes the empty string.
func String(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return ""
	}
}
