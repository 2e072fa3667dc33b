package sqlite

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/coredrift/substrate/internal/corelog"
)

const slowQueryThreshold = 100 * time.Millisecond

// dbHandle is the interface satisfied by both *sql.DB and *queryLogger.
// ListEvents and ListToolAudit read through it; the other Store methods
// use *sql.DB directly.
type dbHandle interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
	Begin() (*sql.Tx, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	Close() error
}

// queryLogger wraps a *sql.DB and reports queries that exceed the slow
// query threshold. Slow queries against a shared WAL-mode mailstore
// usually mean lease contention between workers rather than a bad query
// plan, so this is the mailstore's own early-warning signal rather than a
// generic database profiler.
type queryLogger struct {
	inner  *sql.DB
	logger *corelog.Logger // structured sink; falls back to stdlib log if nil
}

func (q *queryLogger) Exec(query string, args ...any) (sql.Result, error) {
	start := time.Now()
	result, err := q.inner.Exec(query, args...)
	q.reportIfSlow(query, time.Since(start))
	return result, err
}

func (q *queryLogger) Query(query string, args ...any) (*sql.Rows, error) {
	start := time.Now()
	rows, err := q.inner.Query(query, args...)
	q.reportIfSlow(query, time.Since(start))
	return rows, err
}

func (q *queryLogger) QueryRow(query string, args ...any) *sql.Row {
	start := time.Now()
	row := q.inner.QueryRow(query, args...)
	q.reportIfSlow(query, time.Since(start))
	return row
}

func (q *queryLogger) Begin() (*sql.Tx, error) {
	return q.inner.Begin()
}

func (q *queryLogger) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return q.inner.BeginTx(ctx, opts)
}

func (q *queryLogger) Close() error {
	return q.inner.Close()
}

func (q *queryLogger) reportIfSlow(query string, d time.Duration) {
	if d < slowQueryThreshold {
		return
	}
	if q.logger != nil {
		_ = q.logger.Log(time.Now(), "mailstore_slow_query", map[string]any{
			"duration_ms": d.Round(time.Millisecond).Milliseconds(),
			"query":       truncateQuery(query),
		})
		return
	}
	log.Printf("SLOW QUERY (%s): %s", d.Round(time.Millisecond), truncateQuery(query))
}

func truncateQuery(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
