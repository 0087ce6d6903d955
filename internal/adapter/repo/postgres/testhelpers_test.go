package postgres_test

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// rowStub implements pgx.Row.
type rowStub struct{ scan func(dest ...any) error }

func (r rowStub) Scan(dest ...any) error { return r.scan(dest...) }

// rowsStub implements the pgx.Rows surface the repos use: Next/Scan/Err/Close.
type rowsStub struct {
	values [][]any
	idx    int
	err    error
}

func (r *rowsStub) Next() bool {
	if r.idx >= len(r.values) {
		return false
	}
	r.idx++
	return true
}

func (r *rowsStub) Scan(dest ...any) error {
	row := r.values[r.idx-1]
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = row[i].(string)
		default:
			return errors.New("unsupported scan dest in stub")
		}
	}
	return nil
}

func (r *rowsStub) Err() error                                   { return r.err }
func (r *rowsStub) Close()                                       {}
func (r *rowsStub) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *rowsStub) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *rowsStub) Values() ([]any, error)                       { return nil, nil }
func (r *rowsStub) RawValues() [][]byte                          { return nil }
func (r *rowsStub) Conn() *pgx.Conn                              { return nil }

// poolStub implements postgres.PgxPool for tests. Behavior is supplied via
// function fields so each test configures only what it exercises.
type poolStub struct {
	exec     func(sql string, args []any) (pgconn.CommandTag, error)
	queryRow func(sql string, args []any) pgx.Row
	query    func(sql string, args []any) (pgx.Rows, error)
}

func (p *poolStub) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if p.exec == nil {
		return pgconn.NewCommandTag("UPDATE 1"), nil
	}
	return p.exec(sql, args)
}

func (p *poolStub) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	if p.queryRow == nil {
		return rowStub{scan: func(_ ...any) error { return errors.New("no row configured") }}
	}
	return p.queryRow(sql, args)
}

func (p *poolStub) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	if p.query == nil {
		return nil, errors.New("no query configured")
	}
	return p.query(sql, args)
}
