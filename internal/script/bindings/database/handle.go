// Package database implements the database capability over a single SQLite connection.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/atlanticdynamic/nitr/internal/script/bridge"
	"github.com/atlanticdynamic/nitr/internal/script/errz"
	"golang.org/x/sync/semaphore"
	_ "modernc.org/sqlite"
)

const (
	driverName         = "sqlite"
	DefaultLockTimeout = 5 * time.Second
)

// Handle is a database connection that admits one statement at a time.
type Handle struct {
	db          *sql.DB
	path        string
	lock        *semaphore.Weighted
	lockTimeout time.Duration
	logger      *slog.Logger
}

// Option configures a Handle.
type Option func(*Handle)

// WithLockTimeout bounds how long a statement waits for the handle lock.
func WithLockTimeout(d time.Duration) Option {
	return func(h *Handle) {
		if d > 0 {
			h.lockTimeout = d
		}
	}
}

// WithLogger sets the logger used for statement diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handle) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// Open opens the SQLite database at path. ":memory:" is accepted.
func Open(ctx context.Context, path string, opts ...Option) (*Handle, error) {
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s: %w", errz.ErrDatabase, path, err)
	}
	// one connection keeps :memory: databases and the handle lock coherent
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: failed to open %s: %w", errz.ErrDatabase, path, err)
	}

	h := &Handle{
		db:          db,
		path:        path,
		lock:        semaphore.NewWeighted(1),
		lockTimeout: DefaultLockTimeout,
		logger:      slog.Default().WithGroup("database"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Path returns the database location.
func (h *Handle) Path() string { return h.path }

// Close closes the connection.
func (h *Handle) Close() error {
	return h.db.Close()
}

func (h *Handle) acquire(ctx context.Context) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, h.lockTimeout)
	defer cancel()
	if err := h.lock.Acquire(lockCtx, 1); err != nil {
		return nil, fmt.Errorf("%w: failed to lock database connection: %w", errz.ErrDatabase, err)
	}
	return func() { h.lock.Release(1) }, nil
}

// Execute runs a statement and returns the number of affected rows.
func (h *Handle) Execute(ctx context.Context, query string, args ...any) (int64, error) {
	release, err := h.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	res, err := h.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to execute SQL statement %q: %w", errz.ErrDatabase, query, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", errz.ErrDatabase, err)
	}
	return n, nil
}

// Query returns every row of a statement.
func (h *Handle) Query(ctx context.Context, query string, args ...any) ([]*bridge.Table, error) {
	return h.query(ctx, query, -1, args)
}

// QueryOne returns the only row of a statement. Zero rows or more than one row is an error.
func (h *Handle) QueryOne(ctx context.Context, query string, args ...any) (*bridge.Table, error) {
	rows, err := h.query(ctx, query, 2, args)
	if err != nil {
		return nil, err
	}
	if len(rows) != 1 {
		return nil, fmt.Errorf("%w: statement %q must return exactly one row, got %s",
			errz.ErrDatabase, query, rowCount(len(rows)))
	}
	return rows[0], nil
}

// QueryRow returns the first row of a statement. Zero rows is an error.
func (h *Handle) QueryRow(ctx context.Context, query string, args ...any) (*bridge.Table, error) {
	rows, err := h.query(ctx, query, 1, args)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: statement %q returned no rows", errz.ErrDatabase, query)
	}
	return rows[0], nil
}

func rowCount(n int) string {
	if n > 1 {
		return "more than one"
	}
	return "none"
}

// query reads at most limit rows; a negative limit reads all of them.
func (h *Handle) query(ctx context.Context, query string, limit int, args []any) ([]*bridge.Table, error) {
	release, err := h.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to prepare SQL statement %q: %w", errz.ErrDatabase, query, err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			h.logger.Warn("Failed to close rows", "error", cerr)
		}
	}()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errz.ErrDatabase, err)
	}

	out := []*bridge.Table{}
	for (limit < 0 || len(out) < limit) && rows.Next() {
		row, err := scanRow(rows, columns)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read row of %q: %w", errz.ErrDatabase, query, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: failed to fetch rows of %q: %w", errz.ErrDatabase, query, err)
	}
	return out, nil
}

// scanRow builds a row table in column order. A repeated column name keeps the value of
// its last occurrence.
func scanRow(rows *sql.Rows, columns []string) (*bridge.Table, error) {
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	row := bridge.NewTable()
	for i, col := range columns {
		row.SetString(col, columnValue(values[i]))
	}
	return row, nil
}

// columnValue maps a driver value to a script value. Blobs become strings holding the raw
// bytes; timestamps become RFC 3339 strings.
func columnValue(v any) bridge.Value {
	switch x := v.(type) {
	case nil:
		return bridge.Nil()
	case int64:
		return bridge.Int(x)
	case float64:
		return bridge.Float(x)
	case string:
		return bridge.String(x)
	case []byte:
		return bridge.String(string(x))
	case bool:
		return bridge.Bool(x)
	case time.Time:
		return bridge.String(x.Format(time.RFC3339))
	default:
		return bridge.FromGo(v)
	}
}

// Param converts a host value to a statement argument. ok is false for variants that
// cannot be bound, which are skipped.
func Param(v bridge.Value) (arg any, ok bool) {
	switch v.Kind() {
	case bridge.KindNil:
		return nil, true
	case bridge.KindBool:
		b, _ := v.AsBool()
		return b, true
	case bridge.KindInt:
		i, _ := v.AsInt()
		return i, true
	case bridge.KindFloat:
		f, _ := v.AsFloat()
		return f, true
	case bridge.KindString:
		s, _ := v.AsString()
		return s, true
	case bridge.KindBytes:
		b, _ := v.AsBytes()
		return b, true
	default:
		return nil, false
	}
}
