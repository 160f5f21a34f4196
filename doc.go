// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package sqlreq lets application code issue SQL statements through a single
// typed interface while the statement text, parameter encoding and row
// decoding are adapted per backend.
//
// A [Request] binds together a parameter type descriptor, a row type
// descriptor, a row multiplicity and a query template. Templates are written
// once, in a backend-neutral syntax, and rendered per backend with the
// parameter style the driver expects:
//
//	var findUser = sqlreq.MustFind(
//		"SELECT name, email FROM $(schema.)users WHERE id = ?",
//		typedesc.Int64(),
//		typedesc.Product(typedesc.Text(), typedesc.Text()),
//		env,
//	)
//
// Rendered against a linear-style backend such as SQLite the template
// becomes "SELECT name, email FROM users WHERE id = ?"; against a
// numbered-style backend such as PostgreSQL it becomes "... WHERE id = $1".
// The $(schema.) static reference is resolved through the caller-supplied
// environment function and the trailing dot is only emitted when the
// resolved fragment is non-empty.
//
// Requests are usually created once at package scope. Each [DB] a request
// runs on prepares it at most once and reuses the prepared statement for
// every subsequent execution; requests built with the Oneshot constructors
// skip preparation entirely. The declared multiplicity is enforced where the
// results are consumed: [Query.One] fails if the query yields zero rows or
// more than one, [Query.Maybe] tolerates zero, and a request declared
// [Zero] can never be run through a row-returning call.
package sqlreq
