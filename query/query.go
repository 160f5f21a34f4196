// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package query defines the backend-neutral intermediate representation of a
// SQL statement produced by the template parser, along with the driver
// descriptor consumed by the renderer.
//
// A Query is an immutable tree of fragments. Literal fragments are copied
// verbatim into the rendered SQL, Param fragments stand for logical
// parameters and are rendered according to the parameter style of the target
// backend, and Sequence concatenates fragments in order.
package query

import (
	"errors"
	"strconv"
	"strings"
)

// ParamStyle describes how a backend expects query parameters to be written.
type ParamStyle int

const (
	// Linear backends take one placeholder token per parameter occurrence
	// (e.g. "?") and assign values by occurrence order.
	Linear ParamStyle = iota
	// Numbered backends take stable numbered placeholders (e.g. "$1") and
	// allow the same number to be referenced more than once.
	Numbered
)

func (s ParamStyle) String() string {
	switch s {
	case Linear:
		return "linear"
	case Numbered:
		return "numbered"
	}
	return "unknown"
}

// DriverInfo describes the target backend to the renderer. It is supplied by
// the driver layer and treated as opaque by everything else.
type DriverInfo struct {
	// Style is the parameter style of the backend.
	Style ParamStyle
	// Dialect is the name of the SQL dialect, e.g. "sqlite3" or "postgres".
	// It is used for static-reference lookups and error context only.
	Dialect string
}

// Env resolves a static reference found in a template. It must be a pure
// function of its inputs. An unknown name is reported by returning an error
// wrapping [ErrNameNotFound].
type Env func(info DriverInfo, name string) (Query, error)

// ErrNameNotFound is returned (possibly wrapped) by an [Env] when the
// requested static reference is not defined.
var ErrNameNotFound = errors.New("name not found")

// Query is a fragment of a parsed SQL template. The set of implementations
// is closed: Literal, QuotedLiteral, Param and Sequence.
type Query interface {
	// String returns a debug representation of the fragment. It is not the
	// rendered SQL; use Render for that.
	String() string

	isQuery()
}

// Literal is an opaque SQL fragment copied verbatim into the rendered query.
type Literal struct {
	Text string
}

func (l Literal) isQuery() {}

func (l Literal) String() string {
	return "Literal[" + l.Text + "]"
}

// QuotedLiteral is a fragment inside a quoted SQL string. It renders exactly
// like a Literal but marks the region as inert to placeholder expansion.
type QuotedLiteral struct {
	Text string
}

func (l QuotedLiteral) isQuery() {}

func (l QuotedLiteral) String() string {
	return "QuotedLiteral[" + l.Text + "]"
}

// Param references the i-th logical parameter of the statement. Indices are
// zero based; numbered parameter styles render them one based.
type Param struct {
	Index int
}

func (p Param) isQuery() {}

func (p Param) String() string {
	return "Param[" + strconv.Itoa(p.Index) + "]"
}

// Sequence is the ordered concatenation of its fragments.
type Sequence []Query

func (s Sequence) isQuery() {}

func (s Sequence) String() string {
	var sb strings.Builder
	sb.WriteString("Sequence[")
	for i, q := range s {
		if i > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(q.String())
	}
	sb.WriteString("]")
	return sb.String()
}

// IsEmpty reports whether q renders to the empty string regardless of the
// target backend, i.e. it contains no parameters and no literal text.
func IsEmpty(q Query) bool {
	switch q := q.(type) {
	case Literal:
		return q.Text == ""
	case QuotedLiteral:
		return q.Text == ""
	case Param:
		return false
	case Sequence:
		for _, sub := range q {
			if !IsEmpty(sub) {
				return false
			}
		}
		return true
	}
	return false
}
