// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package sqlreq

import (
	"database/sql"
	"fmt"
)

// ErrNoRows is returned when a query expected to yield a row yields none.
var ErrNoRows = sql.ErrNoRows

// ArityError reports a mismatch between the number of parameters a template
// references and the arity of the parameter type descriptor bound to it.
type ArityError struct {
	// TemplateParams is the parameter count inferred from the template.
	TemplateParams int
	// DescriptorFields is the arity of the bound parameter descriptor.
	DescriptorFields int
}

func (e *ArityError) Error() string {
	return fmt.Sprintf("template takes %d parameters but parameter type has arity %d", e.TemplateParams, e.DescriptorFields)
}

// MultiplicityError reports a row count that violates either the request's
// declared multiplicity or the narrower expectation of the consuming call
// site. It is distinct from connectivity and syntax failures.
type MultiplicityError struct {
	// Declared is the multiplicity the request was constructed with.
	Declared Mult
	// Expected is the multiplicity the call site asked for.
	Expected Mult
	// Rows is the number of rows observed. Iteration stops at the first
	// violating row, so this may undercount the full result set.
	Rows int
}

func (e *MultiplicityError) Error() string {
	return fmt.Sprintf("unexpected row count: got %d, expected %s (request declares %s)", e.Rows, e.Expected, e.Declared)
}

// Unwrap makes a zero-row violation match ErrNoRows.
func (e *MultiplicityError) Unwrap() error {
	if e.Rows == 0 && e.Expected == One {
		return ErrNoRows
	}
	return nil
}
