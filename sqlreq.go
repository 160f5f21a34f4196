// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package sqlreq

import (
	"fmt"

	"github.com/canonical/sqlreq/internal/template"
	"github.com/canonical/sqlreq/query"
	"github.com/canonical/sqlreq/typedesc"
)

// Generator produces the query for a given backend. It must be a pure
// function of info: its result may be rendered once and cached per backend,
// so it must be referentially stable across calls with the same DriverInfo.
type Generator func(info query.DriverInfo) (query.Query, error)

// Request is an immutable binding of a parameter type, a row type, a row
// multiplicity and a per-backend query generator. A non-oneshot Request is
// typically created once at package scope and lives for the process
// lifetime; every connection that executes it prepares it at most once and
// reuses the prepared statement, keyed by the request's identity.
type Request struct {
	paramType typedesc.Desc
	rowType   typedesc.Desc
	mult      Mult
	gen       Generator
	oneshot   bool
	// id is the process-wide unique cache identity. It is zero iff the
	// request is oneshot.
	id uint64
}

// New builds a request from a ready query generator. The generator's
// parameter indices must match the arity of paramType; that is checked when
// the request is first rendered for a backend.
func New(paramType, rowType typedesc.Desc, mult Mult, gen Generator) *Request {
	return newRequest(paramType, rowType, mult, gen, false)
}

// NewOneshot is like New but builds a oneshot request: no identity is
// allocated and connections never retain prepared state for it.
func NewOneshot(paramType, rowType typedesc.Desc, mult Mult, gen Generator) *Request {
	return newRequest(paramType, rowType, mult, gen, true)
}

func newRequest(paramType, rowType typedesc.Desc, mult Mult, gen Generator, oneshot bool) *Request {
	if paramType == nil {
		paramType = typedesc.Unit()
	}
	if rowType == nil {
		rowType = typedesc.Unit()
	}
	if gen == nil {
		gen = func(query.DriverInfo) (query.Query, error) {
			return nil, fmt.Errorf("request has no query generator")
		}
	}
	r := &Request{
		paramType: paramType,
		rowType:   rowType,
		mult:      mult,
		gen:       gen,
		oneshot:   oneshot,
	}
	if !oneshot {
		stmtCache.register(r)
	}
	return r
}

// Prepare builds a request from a raw template. The template syntax is
// validated and the parameter count it references is checked against the
// arity of paramType immediately; static references are resolved through env
// lazily, per backend, when the request is first rendered. A nil env defines
// no static variables. A nil paramType or rowType stands for the empty
// product.
func Prepare(tmpl string, paramType, rowType typedesc.Desc, mult Mult, env query.Env) (*Request, error) {
	return prepare(tmpl, paramType, rowType, mult, env, false)
}

// PrepareOneshot is like Prepare but builds a oneshot request, for
// dynamically assembled queries that are not worth preparing on connections.
func PrepareOneshot(tmpl string, paramType, rowType typedesc.Desc, mult Mult, env query.Env) (*Request, error) {
	return prepare(tmpl, paramType, rowType, mult, env, true)
}

func prepare(tmpl string, paramType, rowType typedesc.Desc, mult Mult, env query.Env, oneshot bool) (*Request, error) {
	if paramType == nil {
		paramType = typedesc.Unit()
	}
	// Probe parse: checks the syntax and infers the parameter count without
	// resolving static references. Lookup failures are deliberately not
	// possible here; they surface on first render with the real env.
	_, arity, err := template.Parse(tmpl, query.DriverInfo{}, probeEnv)
	if err != nil {
		return nil, err
	}
	if arity != paramType.Arity() {
		return nil, &ArityError{TemplateParams: arity, DescriptorFields: paramType.Arity()}
	}
	gen := func(info query.DriverInfo) (query.Query, error) {
		q, _, err := template.Parse(tmpl, info, env)
		return q, err
	}
	return newRequest(paramType, rowType, mult, gen, oneshot), nil
}

// probeEnv resolves every name to the empty fragment. It is used only for
// the construction-time syntax and arity check.
func probeEnv(query.DriverInfo, string) (query.Query, error) {
	return query.Literal{}, nil
}

// MustPrepare is the same as [Prepare] except that it panics on error.
func MustPrepare(tmpl string, paramType, rowType typedesc.Desc, mult Mult, env query.Env) *Request {
	r, err := Prepare(tmpl, paramType, rowType, mult, env)
	if err != nil {
		panic(err)
	}
	return r
}

// Exec builds a request declared to yield no rows.
func Exec(tmpl string, paramType typedesc.Desc, env query.Env) (*Request, error) {
	return Prepare(tmpl, paramType, nil, Zero, env)
}

// Find builds a request declared to yield exactly one row.
func Find(tmpl string, paramType, rowType typedesc.Desc, env query.Env) (*Request, error) {
	return Prepare(tmpl, paramType, rowType, One, env)
}

// FindOpt builds a request declared to yield at most one row.
func FindOpt(tmpl string, paramType, rowType typedesc.Desc, env query.Env) (*Request, error) {
	return Prepare(tmpl, paramType, rowType, ZeroOrOne, env)
}

// Collect builds a request declared to yield any number of rows.
func Collect(tmpl string, paramType, rowType typedesc.Desc, env query.Env) (*Request, error) {
	return Prepare(tmpl, paramType, rowType, Many, env)
}

// MustExec is the same as [Exec] except that it panics on error.
func MustExec(tmpl string, paramType typedesc.Desc, env query.Env) *Request {
	r, err := Exec(tmpl, paramType, env)
	if err != nil {
		panic(err)
	}
	return r
}

// MustFind is the same as [Find] except that it panics on error.
func MustFind(tmpl string, paramType, rowType typedesc.Desc, env query.Env) *Request {
	r, err := Find(tmpl, paramType, rowType, env)
	if err != nil {
		panic(err)
	}
	return r
}

// MustFindOpt is the same as [FindOpt] except that it panics on error.
func MustFindOpt(tmpl string, paramType, rowType typedesc.Desc, env query.Env) *Request {
	r, err := FindOpt(tmpl, paramType, rowType, env)
	if err != nil {
		panic(err)
	}
	return r
}

// MustCollect is the same as [Collect] except that it panics on error.
func MustCollect(tmpl string, paramType, rowType typedesc.Desc, env query.Env) *Request {
	r, err := Collect(tmpl, paramType, rowType, env)
	if err != nil {
		panic(err)
	}
	return r
}

// ParamType returns the parameter type descriptor.
func (r *Request) ParamType() typedesc.Desc {
	return r.paramType
}

// RowType returns the row type descriptor.
func (r *Request) RowType() typedesc.Desc {
	return r.rowType
}

// RowMult returns the declared row multiplicity.
func (r *Request) RowMult() Mult {
	return r.mult
}

// Oneshot reports whether the request is oneshot.
func (r *Request) Oneshot() bool {
	return r.oneshot
}

// Identity returns the process-wide unique cache identity of the request.
// Oneshot requests have none.
func (r *Request) Identity() (uint64, bool) {
	if r.oneshot {
		return 0, false
	}
	return r.id, true
}

// Query invokes the stored generator for the given backend. Callers that
// render repeatedly for the same backend are expected to memoize the result.
func (r *Request) Query(info query.DriverInfo) (query.Query, error) {
	return r.gen(info)
}

// Describe returns a human-readable, value-free summary of the request as
// rendered for the given backend.
func (r *Request) Describe(info query.DriverInfo) string {
	id := "oneshot"
	if !r.oneshot {
		id = fmt.Sprintf("%d", r.id)
	}
	q, err := r.gen(info)
	if err != nil {
		return fmt.Sprintf("Request[%s %s %s]: <%s>", id, r.mult, info.Dialect, err)
	}
	rendered, err := query.Render(q, info)
	if err != nil {
		return fmt.Sprintf("Request[%s %s %s]: <%s>", id, r.mult, info.Dialect, err)
	}
	return fmt.Sprintf("Request[%s %s %s]: %s", id, r.mult, info.Dialect, rendered.SQL())
}

// DescribeWithParams is like [Describe] but also renders the given parameter
// value. Values under a redacted descriptor are withheld unless value
// debugging is enabled; see [SetDebugValues].
func (r *Request) DescribeWithParams(info query.DriverInfo, param any) string {
	return r.Describe(info) + " params=" + typedesc.Describe(r.paramType, param, DebugValues())
}
