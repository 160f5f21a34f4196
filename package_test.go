// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package sqlreq_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"
	. "gopkg.in/check.v1"

	"github.com/canonical/sqlreq"
	"github.com/canonical/sqlreq/query"
	"github.com/canonical/sqlreq/typedesc"
)

type PackageSuite struct{}

var _ = Suite(&PackageSuite{})

var testDBCount uint32

// sqliteDB opens a fresh named in-memory database. The shared cache keeps the
// database alive across the pooled connections.
func sqliteDB(c *C) *sqlreq.DB {
	n := atomic.AddUint32(&testDBCount, 1)
	sqldb, err := sql.Open("sqlite3", fmt.Sprintf("file:test%d.db?mode=memory&cache=shared", n))
	c.Assert(err, IsNil)
	return sqlreq.NewDB(sqldb, sqlreq.SQLite3)
}

var personRow = typedesc.Product(typedesc.Int64(), typedesc.Text(), typedesc.Option(typedesc.Text()))

var (
	createPerson = sqlreq.MustExec(
		"CREATE TABLE person (id integer PRIMARY KEY, name text NOT NULL, team text)", nil, nil)
	insertPerson = sqlreq.MustExec(
		"INSERT INTO person (id, name, team) VALUES ($1, $2, $3)", personRow, nil)
	findPerson = sqlreq.MustFind(
		"SELECT id, name, team FROM person WHERE id = ?",
		typedesc.Int64(), personRow, nil)
	findPersonOpt = sqlreq.MustFindOpt(
		"SELECT id, name, team FROM person WHERE id = ?",
		typedesc.Int64(), personRow, nil)
	allPersons = sqlreq.MustCollect(
		"SELECT id, name, team FROM person ORDER BY id", nil, personRow, nil)
	personsByTeam = sqlreq.MustCollect(
		"SELECT id, name, team FROM person WHERE team = ? ORDER BY id",
		typedesc.Text(), personRow, nil)
	deletePersons = sqlreq.MustExec("DELETE FROM person", nil, nil)
)

func populate(c *C, db *sqlreq.DB) {
	c.Assert(db.Query(nil, createPerson, nil).Run(), IsNil)
	people := [][]any{
		{int64(1), "fred", "engineering"},
		{int64(2), "mark", "engineering"},
		{int64(3), "mary", nil},
	}
	for _, p := range people {
		c.Assert(db.Query(nil, insertPerson, p).Run(), IsNil)
	}
}

func (s *PackageSuite) TestOne(c *C) {
	db := sqliteDB(c)
	defer db.PlainDB().Close()
	populate(c, db)

	row, err := db.Query(nil, findPerson, int64(3)).One()
	c.Assert(err, IsNil)
	c.Check(row, DeepEquals, []any{int64(3), "mary", nil})

	row, err = db.Query(nil, findPerson, int64(1)).One()
	c.Assert(err, IsNil)
	c.Check(row, DeepEquals, []any{int64(1), "fred", "engineering"})
}

func (s *PackageSuite) TestOneNoRows(c *C) {
	db := sqliteDB(c)
	defer db.PlainDB().Close()
	populate(c, db)

	_, err := db.Query(nil, findPerson, int64(99)).One()
	c.Assert(err, NotNil)
	var merr *sqlreq.MultiplicityError
	c.Assert(errors.As(err, &merr), Equals, true)
	c.Check(merr.Rows, Equals, 0)
	c.Check(merr.Expected, Equals, sqlreq.One)
	// Absence maps onto the standard sentinel for callers that test for it.
	c.Check(errors.Is(err, sqlreq.ErrNoRows), Equals, true)
	c.Check(errors.Is(err, sql.ErrNoRows), Equals, true)
}

func (s *PackageSuite) TestOneTooManyRows(c *C) {
	db := sqliteDB(c)
	defer db.PlainDB().Close()
	populate(c, db)

	oneEngineer := sqlreq.MustFind(
		"SELECT id, name, team FROM person WHERE team = ?",
		typedesc.Text(), personRow, nil)
	_, err := db.Query(nil, oneEngineer, "engineering").One()
	c.Assert(err, NotNil)
	var merr *sqlreq.MultiplicityError
	c.Assert(errors.As(err, &merr), Equals, true)
	c.Check(merr.Rows, Equals, 2)
	c.Check(errors.Is(err, sqlreq.ErrNoRows), Equals, false)
	c.Check(err, ErrorMatches, "unexpected row count: got 2, expected one \\(request declares one\\)")
}

func (s *PackageSuite) TestMaybe(c *C) {
	db := sqliteDB(c)
	defer db.PlainDB().Close()
	populate(c, db)

	row, ok, err := db.Query(nil, findPersonOpt, int64(2)).Maybe()
	c.Assert(err, IsNil)
	c.Check(ok, Equals, true)
	c.Check(row, DeepEquals, []any{int64(2), "mark", "engineering"})

	_, ok, err = db.Query(nil, findPersonOpt, int64(99)).Maybe()
	c.Assert(err, IsNil)
	c.Check(ok, Equals, false)

	optEngineer := sqlreq.MustFindOpt(
		"SELECT id, name, team FROM person WHERE team = ?",
		typedesc.Text(), personRow, nil)
	_, _, err = db.Query(nil, optEngineer, "engineering").Maybe()
	var merr *sqlreq.MultiplicityError
	c.Assert(errors.As(err, &merr), Equals, true)
	c.Check(merr.Expected, Equals, sqlreq.ZeroOrOne)
}

func (s *PackageSuite) TestAll(c *C) {
	db := sqliteDB(c)
	defer db.PlainDB().Close()
	populate(c, db)

	rows, err := db.Query(nil, allPersons, nil).All()
	c.Assert(err, IsNil)
	c.Assert(rows, HasLen, 3)
	c.Check(rows[0], DeepEquals, []any{int64(1), "fred", "engineering"})
	c.Check(rows[2], DeepEquals, []any{int64(3), "mary", nil})

	rows, err = db.Query(nil, personsByTeam, "marketing").All()
	c.Assert(err, IsNil)
	c.Check(rows, HasLen, 0)
}

func (s *PackageSuite) TestIter(c *C) {
	db := sqliteDB(c)
	defer db.PlainDB().Close()
	populate(c, db)

	iter := db.Query(nil, personsByTeam, "engineering").Iter()
	var names []string
	for iter.Next() {
		row, err := iter.Row()
		c.Assert(err, IsNil)
		names = append(names, row.([]any)[1].(string))
	}
	c.Assert(iter.Close(), IsNil)
	c.Check(names, DeepEquals, []string{"fred", "mark"})

	// Close is idempotent.
	c.Check(iter.Close(), IsNil)
	c.Check(iter.Next(), Equals, false)
}

func (s *PackageSuite) TestZeroRequestRefusesRows(c *C) {
	db := sqliteDB(c)
	defer db.PlainDB().Close()
	populate(c, db)

	_, err := db.Query(nil, deletePersons, nil).All()
	c.Check(err, ErrorMatches, "cannot get rows from request declared zero")
	_, err = db.Query(nil, deletePersons, nil).One()
	c.Check(err, ErrorMatches, "cannot get rows from request declared zero")
	iter := db.Query(nil, deletePersons, nil).Iter()
	c.Check(iter.Next(), Equals, false)
	c.Check(iter.Close(), ErrorMatches, "cannot get rows from request declared zero")
}

func (s *PackageSuite) TestRunDisregardsRows(c *C) {
	db := sqliteDB(c)
	defer db.PlainDB().Close()
	populate(c, db)

	c.Assert(db.Query(nil, allPersons, nil).Run(), IsNil)
	c.Assert(db.Query(nil, deletePersons, nil).Run(), IsNil)
	rows, err := db.Query(nil, allPersons, nil).All()
	c.Assert(err, IsNil)
	c.Check(rows, HasLen, 0)
}

func (s *PackageSuite) TestOneshot(c *C) {
	db := sqliteDB(c)
	defer db.PlainDB().Close()
	populate(c, db)

	r, err := sqlreq.PrepareOneshot(
		"SELECT name FROM person WHERE id = ?",
		typedesc.Int64(), typedesc.Text(), sqlreq.One, nil)
	c.Assert(err, IsNil)
	row, err := db.Query(nil, r, int64(1)).One()
	c.Assert(err, IsNil)
	c.Check(row, Equals, "fred")
}

func (s *PackageSuite) TestSchemaReference(c *C) {
	db := sqliteDB(c)
	defer db.PlainDB().Close()
	populate(c, db)

	// sqlite names its primary schema "main".
	r, err := sqlreq.Collect(
		"SELECT name FROM $(schema.)person ORDER BY id",
		nil, typedesc.Text(), schemaEnv("main"))
	c.Assert(err, IsNil)
	rows, err := db.Query(nil, r, nil).All()
	c.Assert(err, IsNil)
	c.Check(rows, DeepEquals, []any{"fred", "mark", "mary"})
}

func (s *PackageSuite) TestParamReuse(c *C) {
	db := sqliteDB(c)
	defer db.PlainDB().Close()
	populate(c, db)

	// $1 appears twice; the linear sqlite backend gets the value twice.
	r, err := sqlreq.Collect(
		"SELECT name FROM person WHERE id = $1 OR id = $1 + 1 ORDER BY id",
		typedesc.Int64(), typedesc.Text(), nil)
	c.Assert(err, IsNil)
	rows, err := db.Query(nil, r, int64(1)).All()
	c.Assert(err, IsNil)
	c.Check(rows, DeepEquals, []any{"fred", "mark"})
}

func (s *PackageSuite) TestEncodeErrorStopsQuery(c *C) {
	db := sqliteDB(c)
	defer db.PlainDB().Close()
	populate(c, db)

	_, err := db.Query(nil, findPerson, "not an int").One()
	c.Assert(err, NotNil)
	var cerr *typedesc.CodingError
	c.Check(errors.As(err, &cerr), Equals, true)
}

func (s *PackageSuite) TestLookupErrorStopsQuery(c *C) {
	db := sqliteDB(c)
	defer db.PlainDB().Close()

	r, err := sqlreq.Exec("DELETE FROM $(missing.)person", nil, nil)
	c.Assert(err, IsNil)
	err = db.Query(nil, r, nil).Run()
	c.Check(errors.Is(err, query.ErrNameNotFound), Equals, true)
}

func (s *PackageSuite) TestTransactionCommit(c *C) {
	db := sqliteDB(c)
	defer db.PlainDB().Close()
	populate(c, db)

	tx, err := db.Begin(nil, nil)
	c.Assert(err, IsNil)
	err = tx.Query(nil, insertPerson, []any{int64(4), "joe", nil}).Run()
	c.Assert(err, IsNil)
	c.Assert(tx.Commit(), IsNil)

	row, err := db.Query(nil, findPerson, int64(4)).One()
	c.Assert(err, IsNil)
	c.Check(row, DeepEquals, []any{int64(4), "joe", nil})
}

func (s *PackageSuite) TestTransactionRollback(c *C) {
	db := sqliteDB(c)
	defer db.PlainDB().Close()
	populate(c, db)

	tx, err := db.Begin(nil, nil)
	c.Assert(err, IsNil)
	err = tx.Query(nil, insertPerson, []any{int64(4), "joe", nil}).Run()
	c.Assert(err, IsNil)
	c.Assert(tx.Rollback(), IsNil)

	_, ok, err := db.Query(nil, findPersonOpt, int64(4)).Maybe()
	c.Assert(err, IsNil)
	c.Check(ok, Equals, false)
}

func (s *PackageSuite) TestTransactionDone(c *C) {
	db := sqliteDB(c)
	defer db.PlainDB().Close()
	populate(c, db)

	tx, err := db.Begin(nil, nil)
	c.Assert(err, IsNil)
	c.Assert(tx.Commit(), IsNil)
	c.Check(tx.Commit(), Equals, sqlreq.ErrTXDone)
	c.Check(tx.Rollback(), Equals, sqlreq.ErrTXDone)
	err = tx.Query(nil, deletePersons, nil).Run()
	c.Check(errors.Is(err, sqlreq.ErrTXDone), Equals, true)
}

func (s *PackageSuite) TestTransactionReadsCachedRows(c *C) {
	db := sqliteDB(c)
	defer db.PlainDB().Close()
	populate(c, db)

	// Prepare findPerson on the DB first so the transaction path reuses the
	// cached statement.
	_, err := db.Query(nil, findPerson, int64(1)).One()
	c.Assert(err, IsNil)

	tx, err := db.Begin(nil, nil)
	c.Assert(err, IsNil)
	defer tx.Rollback()
	row, err := tx.Query(nil, findPerson, int64(2)).One()
	c.Assert(err, IsNil)
	c.Check(row, DeepEquals, []any{int64(2), "mark", "engineering"})
}

func (s *PackageSuite) TestContextCancellation(c *C) {
	db := sqliteDB(c)
	defer db.PlainDB().Close()
	populate(c, db)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := db.Query(ctx, deletePersons, nil).Run()
	c.Check(errors.Is(err, context.Canceled), Equals, true)
}
