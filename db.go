// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package sqlreq

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/canonical/sqlreq/query"
)

// DriverInfo describes the backend a query is rendered for. See
// [query.DriverInfo].
type DriverInfo = query.DriverInfo

// DriverInfo values for common backends.
var (
	SQLite3  = DriverInfo{Style: query.Linear, Dialect: "sqlite3"}
	Postgres = DriverInfo{Style: query.Numbered, Dialect: "postgres"}
	MySQL    = DriverInfo{Style: query.Linear, Dialect: "mysql"}
)

var ErrTXDone = sql.ErrTxDone

// DB wraps a sql.DB together with the DriverInfo of its backend. Requests
// executed on a DB are prepared at most once per (request, DB) pair and the
// prepared statements are reused until the Request or the DB is collected.
type DB struct {
	// cacheID is used to look up the cached prepared statements prepared on
	// this database.
	cacheID uint64
	// sqldb is the underlying database/sql DB object.
	sqldb *sql.DB
	info  DriverInfo
}

// NewDB creates a [DB] from a sql.DB and the driver description of its
// backend.
func NewDB(sqldb *sql.DB, info DriverInfo) *DB {
	if sqldb == nil {
		return nil
	}
	return stmtCache.newDB(sqldb, info)
}

// PlainDB returns the underlying database object.
func (db *DB) PlainDB() *sql.DB {
	return db.sqldb
}

// DriverInfo returns the driver description of the backend.
func (db *DB) DriverInfo() DriverInfo {
	return db.info
}

// Query represents a single execution of a request on a database. It is
// built by [DB.Query] or [TX.Query] and runs when one of [Query.Run],
// [Query.One], [Query.Maybe], [Query.All] or [Query.Iter] is called.
type Query struct {
	// run executes the query against the DB or the TX.
	run func(ctx context.Context, wantRows bool) (*sql.Rows, sql.Result, error)
	ctx context.Context
	req *Request
	err error
}

// bindRequest renders a request for a backend and encodes the parameter
// value into the driver argument list.
func bindRequest(info DriverInfo, r *Request, param any) (*query.Rendered, []any, error) {
	q, err := r.gen(info)
	if err != nil {
		return nil, nil, err
	}
	rendered, err := query.Render(q, info)
	if err != nil {
		return nil, nil, err
	}
	if rendered.Arity() != r.paramType.Arity() {
		return nil, nil, &ArityError{TemplateParams: rendered.Arity(), DescriptorFields: r.paramType.Arity()}
	}
	fields, err := r.paramType.Encode(param)
	if err != nil {
		return nil, nil, err
	}
	args, err := rendered.BindArgs(fields)
	if err != nil {
		return nil, nil, err
	}
	return rendered, args, nil
}

// Query builds a new query from a context, a [Request] and a parameter value
// of the request's parameter type. Requests without parameters take nil.
func (db *DB) Query(ctx context.Context, r *Request, param any) *Query {
	if ctx == nil {
		ctx = context.Background()
	}

	rendered, args, err := bindRequest(db.info, r, param)
	if err != nil {
		return &Query{ctx: ctx, req: r, err: err}
	}

	run := func(innerCtx context.Context, wantRows bool) (rows *sql.Rows, result sql.Result, err error) {
		start := time.Now()
		defer func() {
			traceQuery(r, db.info.Dialect, rendered.SQL(), param, time.Since(start), err)
		}()

		if r.oneshot {
			// Oneshot requests have no persistent driver-side state; any
			// transient prepare the driver performs is released with the
			// rows.
			if wantRows {
				rows, err = db.sqldb.QueryContext(innerCtx, rendered.SQL(), args...)
			} else {
				result, err = db.sqldb.ExecContext(innerCtx, rendered.SQL(), args...)
			}
			return rows, result, err
		}

		sqlstmt, err := stmtCache.prepareStmt(innerCtx, db, db.sqldb, r, rendered.SQL())
		if err != nil {
			return nil, nil, err
		}
		if wantRows {
			rows, err = sqlstmt.QueryContext(innerCtx, args...)
		} else {
			result, err = sqlstmt.ExecContext(innerCtx, args...)
		}
		return rows, result, err
	}

	return &Query{run: run, ctx: ctx, req: r}
}

// Run executes the query and disregards any rows it may return.
func (q *Query) Run() error {
	if q.err != nil {
		return q.err
	}
	_, _, err := q.run(q.ctx, false)
	return err
}

// One executes the query and decodes exactly one row. It fails with a
// [MultiplicityError] if the query yields no rows or more than one, and
// refuses to run requests declared [Zero].
func (q *Query) One() (row any, err error) {
	iter, err := q.rowIter(One)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := iter.Close(); err == nil {
			err = cerr
		}
	}()
	if !iter.Next() {
		if err := iter.Close(); err != nil {
			return nil, err
		}
		return nil, &MultiplicityError{Declared: q.req.mult, Expected: One, Rows: 0}
	}
	row, err = iter.Row()
	if err != nil {
		return nil, err
	}
	if iter.Next() {
		return nil, &MultiplicityError{Declared: q.req.mult, Expected: One, Rows: 2}
	}
	return row, nil
}

// Maybe executes the query and decodes at most one row. The boolean reports
// whether a row was found. More than one row is a [MultiplicityError].
func (q *Query) Maybe() (row any, ok bool, err error) {
	iter, err := q.rowIter(ZeroOrOne)
	if err != nil {
		return nil, false, err
	}
	defer func() {
		if cerr := iter.Close(); err == nil {
			err = cerr
		}
	}()
	if !iter.Next() {
		return nil, false, iter.Close()
	}
	row, err = iter.Row()
	if err != nil {
		return nil, false, err
	}
	if iter.Next() {
		return nil, false, &MultiplicityError{Declared: q.req.mult, Expected: ZeroOrOne, Rows: 2}
	}
	return row, true, nil
}

// All executes the query and decodes every row.
func (q *Query) All() (rows []any, err error) {
	iter, err := q.rowIter(Many)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := iter.Close(); err == nil {
			err = cerr
		}
	}()
	for iter.Next() {
		row, err := iter.Row()
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, iter.Close()
}

// Iter returns an [Iterator] to go through the results row by row.
// [Iterator.Close] must be run once iteration is finished.
func (q *Query) Iter() *Iterator {
	iter, err := q.rowIter(Many)
	if err != nil {
		return &Iterator{err: err}
	}
	return iter
}

// rowIter starts the query through the row-returning path. A request
// declared Zero must never be executed through an API expecting rows; that
// is a programming error caught before the query is run.
func (q *Query) rowIter(expected Mult) (*Iterator, error) {
	if q.err != nil {
		return nil, q.err
	}
	if q.req.mult == Zero {
		return nil, fmt.Errorf("cannot get rows from request declared %s", Zero)
	}
	rows, _, err := q.run(q.ctx, true)
	if err != nil {
		return nil, err
	}
	return &Iterator{req: q.req, rows: rows}, nil
}

// Iterator is used to iterate over the results of a query.
type Iterator struct {
	req  *Request
	rows *sql.Rows
	err  error
}

// Next prepares the next row for [Iterator.Row]. If an error occurs during
// iteration it will be returned by [Iterator.Close].
func (iter *Iterator) Next() bool {
	if iter.err != nil || iter.rows == nil {
		return false
	}
	return iter.rows.Next()
}

// Row decodes the result from the previous [Iterator.Next] call through the
// request's row type descriptor.
func (iter *Iterator) Row() (row any, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("cannot get row: %s", err)
		}
	}()
	if iter.err != nil {
		return nil, iter.err
	}
	if iter.rows == nil {
		return nil, fmt.Errorf("iteration ended")
	}
	n := iter.req.rowType.Arity()
	fields := make([]any, n)
	ptrs := make([]any, n)
	for i := range fields {
		ptrs[i] = &fields[i]
	}
	if err := iter.rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	return iter.req.rowType.Decode(fields)
}

// Close finishes the iteration and returns any errors encountered. Close
// can be called multiple times and the same error will be returned.
func (iter *Iterator) Close() error {
	if iter.rows == nil {
		return iter.err
	}
	err := iter.rows.Close()
	iter.rows = nil
	if err != nil {
		iter.err = err
	}
	return iter.err
}

// TX represents a transaction on the database.
type TX struct {
	sqltx *sql.Tx
	db    *DB
	done  int32
}

// TXOptions holds the transaction options to be used in [DB.Begin].
type TXOptions struct {
	// Isolation is the transaction isolation level.
	// If zero, the driver or database's default level is used.
	Isolation sql.IsolationLevel
	ReadOnly  bool
}

func (txopts *TXOptions) plainTXOptions() *sql.TxOptions {
	if txopts == nil {
		return nil
	}
	return &sql.TxOptions{Isolation: txopts.Isolation, ReadOnly: txopts.ReadOnly}
}

// Begin starts a transaction. A transaction must be ended with a [TX.Commit]
// or [TX.Rollback].
func (db *DB) Begin(ctx context.Context, opts *TXOptions) (*TX, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	sqltx, err := db.sqldb.BeginTx(ctx, opts.plainTXOptions())
	if err != nil {
		return nil, err
	}
	return &TX{sqltx: sqltx, db: db}, nil
}

func (tx *TX) isDone() bool {
	return atomic.LoadInt32(&tx.done) == 1
}

func (tx *TX) setDone() error {
	if !atomic.CompareAndSwapInt32(&tx.done, 0, 1) {
		return ErrTXDone
	}
	return nil
}

// Commit commits the transaction.
func (tx *TX) Commit() error {
	err := tx.setDone()
	if err == nil {
		err = tx.sqltx.Commit()
	}
	return err
}

// Rollback aborts the transaction.
func (tx *TX) Rollback() error {
	err := tx.setDone()
	if err == nil {
		err = tx.sqltx.Rollback()
	}
	return err
}

// Query builds a new query on the transaction from a context, a [Request]
// and a parameter value of the request's parameter type.
func (tx *TX) Query(ctx context.Context, r *Request, param any) *Query {
	if ctx == nil {
		ctx = context.Background()
	}
	if tx.isDone() {
		return &Query{ctx: ctx, req: r, err: ErrTXDone}
	}

	rendered, args, err := bindRequest(tx.db.info, r, param)
	if err != nil {
		return &Query{ctx: ctx, req: r, err: err}
	}

	run := func(innerCtx context.Context, wantRows bool) (rows *sql.Rows, result sql.Result, err error) {
		start := time.Now()
		defer func() {
			traceQuery(r, tx.db.info.Dialect, rendered.SQL(), param, time.Since(start), err)
		}()

		if sqlstmt, ok := stmtCache.lookupStmt(tx.db, r); ok && !r.oneshot {
			// Register the prepared statement on the transaction. Note that
			// this does not re-prepare the statement on the driver. The
			// txstmt is closed by database/sql when the transaction is
			// committed or rolled back.
			txstmt := tx.sqltx.Stmt(sqlstmt)
			if wantRows {
				rows, err = txstmt.QueryContext(innerCtx, args...)
			} else {
				result, err = txstmt.ExecContext(innerCtx, args...)
			}
			return rows, result, err
		}

		if wantRows {
			rows, err = tx.sqltx.QueryContext(innerCtx, rendered.SQL(), args...)
		} else {
			result, err = tx.sqltx.ExecContext(innerCtx, rendered.SQL(), args...)
		}
		return rows, result, err
	}

	return &Query{run: run, ctx: ctx, req: r}
}
