// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

//go:build dqlite

package sqlreq_test

import (
	"context"

	"github.com/canonical/go-dqlite/app"
	. "gopkg.in/check.v1"

	"github.com/canonical/sqlreq"
	"github.com/canonical/sqlreq/typedesc"
)

// DqliteSuite runs a minimal single-node dqlite cluster and checks that
// requests render and execute through the dqlite driver. dqlite speaks the
// sqlite dialect, so the stock SQLite3 driver description applies.
type DqliteSuite struct {
	app *app.App
	db  *sqlreq.DB
}

var _ = Suite(&DqliteSuite{})

func (s *DqliteSuite) SetUpSuite(c *C) {
	a, err := app.New(c.MkDir(), app.WithAddress("127.0.0.1:9191"))
	c.Assert(err, IsNil)
	c.Assert(a.Ready(context.Background()), IsNil)
	s.app = a

	sqldb, err := a.Open(context.Background(), "test")
	c.Assert(err, IsNil)
	s.db = sqlreq.NewDB(sqldb, sqlreq.SQLite3)
}

func (s *DqliteSuite) TearDownSuite(c *C) {
	if s.db != nil {
		s.db.PlainDB().Close()
	}
	if s.app != nil {
		s.app.Close()
	}
}

func (s *DqliteSuite) TestRequestRoundTrip(c *C) {
	create := sqlreq.MustExec(
		"CREATE TABLE IF NOT EXISTS kv (key text PRIMARY KEY, value text)", nil, nil)
	upsert := sqlreq.MustExec(
		"INSERT OR REPLACE INTO kv (key, value) VALUES ($1, $2)",
		typedesc.Product(typedesc.Text(), typedesc.Text()), nil)
	get := sqlreq.MustFind(
		"SELECT value FROM kv WHERE key = ?",
		typedesc.Text(), typedesc.Text(), nil)

	c.Assert(s.db.Query(nil, create, nil).Run(), IsNil)
	c.Assert(s.db.Query(nil, upsert, []any{"color", "blue"}).Run(), IsNil)

	value, err := s.db.Query(nil, get, "color").One()
	c.Assert(err, IsNil)
	c.Check(value, Equals, "blue")
}
