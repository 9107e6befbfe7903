package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(d *fakeDialer) *Manager {
	m := NewManager(testLogger())
	m.dial = d.dial
	return m
}

func testParams() ConnectParams {
	p, err := ParseDescriptor("postgresql://localhost:26257/defaultdb", "root", "hunter2")
	if err != nil {
		panic(err)
	}
	return *p
}

// --- dialer ---

type fakeDialer struct {
	mu    sync.Mutex
	err   error           // every dial fails with this
	setup func(*fakeConn) // customize each new conn
	conns []*fakeConn
}

func (d *fakeDialer) dial(_ context.Context, _ ConnectParams) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	c := &fakeConn{version: "CockroachDB CCL v23.1.11 (x86_64-pc-linux-gnu)"}
	if d.setup != nil {
		d.setup(c)
	}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) setErr(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

// --- connection ---

type fakeConn struct {
	mu       sync.Mutex
	closed   bool
	version  string
	queryErr error       // every query fails with this
	results  []*fakeRows // FIFO of canned Query results
	hold     time.Duration
	spans    *spanRecorder
	queries  []string
}

var _ Conn = (*fakeConn)(nil)

// begin records the statement, simulates execution time, and returns the
// forced error, if any.
func (c *fakeConn) begin(sql string) error {
	c.mu.Lock()
	c.queries = append(c.queries, sql)
	closed := c.closed
	err := c.queryErr
	hold := c.hold
	spans := c.spans
	c.mu.Unlock()

	start := time.Now()
	if hold > 0 {
		time.Sleep(hold)
	}
	if spans != nil {
		spans.record(start, time.Now())
	}
	if closed {
		return errors.New("conn closed")
	}
	return err
}

func (c *fakeConn) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	if err := c.begin(sql); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.results) > 0 {
		r := c.results[0]
		c.results = c.results[1:]
		return r, nil
	}
	return &fakeRows{}, nil
}

func (c *fakeConn) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	if err := c.begin(sql); err != nil {
		return fakeRow{err: err}
	}
	switch {
	case strings.Contains(sql, "version()"):
		return fakeRow{vals: []any{c.version}}
	case strings.Contains(sql, "SELECT 1"):
		return fakeRow{vals: []any{1}}
	}
	return fakeRow{}
}

func (c *fakeConn) Ping(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("conn closed")
	}
	return c.queryErr
}

func (c *fakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) Close(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) setQueryErr(err error) {
	c.mu.Lock()
	c.queryErr = err
	c.mu.Unlock()
}

func (c *fakeConn) queryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queries)
}

// --- rows ---

type fakeRow struct {
	vals []any
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		if i >= len(r.vals) {
			break
		}
		if err := assign(d, r.vals[i]); err != nil {
			return err
		}
	}
	return nil
}

type fakeRows struct {
	fields []pgconn.FieldDescription
	rows   [][]any
	tag    pgconn.CommandTag
	err    error
	idx    int
}

var _ pgx.Rows = (*fakeRows)(nil)

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return r.tag }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return r.fields }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.idx < len(r.rows) {
		r.idx++
		return true
	}
	return false
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.idx-1]
	for i, d := range dest {
		if i >= len(row) {
			break
		}
		if err := assign(d, row[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeRows) Values() ([]any, error) {
	return r.rows[r.idx-1], nil
}

func assign(dest, val any) error {
	switch d := dest.(type) {
	case *string:
		s, ok := val.(string)
		if !ok {
			return fmt.Errorf("cannot scan %T into *string", val)
		}
		*d = s
	case *int:
		switch v := val.(type) {
		case int:
			*d = v
		case int64:
			*d = int(v)
		default:
			return fmt.Errorf("cannot scan %T into *int", val)
		}
	case *int64:
		switch v := val.(type) {
		case int:
			*d = int64(v)
		case int64:
			*d = v
		default:
			return fmt.Errorf("cannot scan %T into *int64", val)
		}
	case *bool:
		b, ok := val.(bool)
		if !ok {
			return fmt.Errorf("cannot scan %T into *bool", val)
		}
		*d = b
	case *sql.NullInt64:
		if val == nil {
			*d = sql.NullInt64{}
			return nil
		}
		switch v := val.(type) {
		case int:
			*d = sql.NullInt64{Int64: int64(v), Valid: true}
		case int64:
			*d = sql.NullInt64{Int64: v, Valid: true}
		default:
			return fmt.Errorf("cannot scan %T into *sql.NullInt64", val)
		}
	case *sql.NullString:
		if val == nil {
			*d = sql.NullString{}
			return nil
		}
		s, ok := val.(string)
		if !ok {
			return fmt.Errorf("cannot scan %T into *sql.NullString", val)
		}
		*d = sql.NullString{String: s, Valid: true}
	default:
		return fmt.Errorf("unsupported scan destination %T", dest)
	}
	return nil
}

// --- execution interval recorder ---

type spanRecorder struct {
	mu    sync.Mutex
	spans [][2]time.Time
}

func (r *spanRecorder) record(start, end time.Time) {
	r.mu.Lock()
	r.spans = append(r.spans, [2]time.Time{start, end})
	r.mu.Unlock()
}

func (r *spanRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.spans)
}

// overlapping reports whether any two recorded execution intervals ran at
// the same instant.
func (r *spanRecorder) overlapping() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	spans := make([][2]time.Time, len(r.spans))
	copy(spans, r.spans)
	sort.Slice(spans, func(i, j int) bool { return spans[i][0].Before(spans[j][0]) })
	for i := 1; i < len(spans); i++ {
		if spans[i][0].Before(spans[i-1][1]) {
			return true
		}
	}
	return false
}
