// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package query

import (
	"fmt"
	"strconv"
	"strings"
)

// Rendered is the result of rendering a Query for a particular backend. It
// carries the SQL text and the plan for binding logical parameter values to
// placeholder occurrences.
type Rendered struct {
	sql   string
	arity int
	// order holds, for each placeholder occurrence in the SQL, the logical
	// parameter index it binds. It is nil for numbered styles, where the
	// backend resolves references itself.
	order []int
}

// SQL returns the rendered SQL text.
func (r *Rendered) SQL() string {
	return r.sql
}

// Arity returns the number of logical parameters the statement takes.
func (r *Rendered) Arity() int {
	return r.arity
}

// BindArgs converts the logical parameter values into the argument list to
// pass to the driver. For linear backends a value referenced by several
// placeholder occurrences is duplicated, once per occurrence, in occurrence
// order. For numbered backends the values are passed through unchanged.
func (r *Rendered) BindArgs(params []any) ([]any, error) {
	if len(params) != r.arity {
		return nil, fmt.Errorf("statement takes %d parameters, got %d", r.arity, len(params))
	}
	if r.order == nil {
		args := make([]any, len(params))
		copy(args, params)
		return args, nil
	}
	args := make([]any, 0, len(r.order))
	for _, i := range r.order {
		args = append(args, params[i])
	}
	return args, nil
}

// Render walks the query tree and produces backend SQL according to the
// parameter style in info. Parameter indices referenced by the query must be
// contiguous from zero; a gap is a template authoring error and is reported
// here.
func Render(q Query, info DriverInfo) (rendered *Rendered, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("cannot render query: %s", err)
		}
	}()

	seen := map[int]bool{}
	maxIndex := -1
	var order []int
	var sb strings.Builder

	var walk func(q Query) error
	walk = func(q Query) error {
		switch q := q.(type) {
		case Literal:
			sb.WriteString(q.Text)
		case QuotedLiteral:
			sb.WriteString(q.Text)
		case Param:
			if q.Index < 0 {
				return fmt.Errorf("invalid parameter index %d", q.Index)
			}
			seen[q.Index] = true
			if q.Index > maxIndex {
				maxIndex = q.Index
			}
			switch info.Style {
			case Linear:
				sb.WriteString("?")
				order = append(order, q.Index)
			case Numbered:
				sb.WriteString("$")
				sb.WriteString(strconv.Itoa(q.Index + 1))
			default:
				return fmt.Errorf("unknown parameter style %d", info.Style)
			}
		case Sequence:
			for _, sub := range q {
				if err := walk(sub); err != nil {
					return err
				}
			}
		case nil:
			return fmt.Errorf("nil query fragment")
		default:
			return fmt.Errorf("unknown query fragment %T", q)
		}
		return nil
	}
	if err := walk(q); err != nil {
		return nil, err
	}

	for i := 0; i <= maxIndex; i++ {
		if !seen[i] {
			return nil, fmt.Errorf("parameter $%d referenced but $%d never used", maxIndex+1, i+1)
		}
	}

	r := &Rendered{sql: sb.String(), arity: maxIndex + 1}
	if info.Style == Linear {
		r.order = order
	}
	return r, nil
}
