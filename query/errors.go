// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package query

import (
	"fmt"
	"strings"
)

// SyntaxError reports a malformed template. Pos information is relative to
// the raw template text.
type SyntaxError struct {
	// Line and Column locate the offending character, both starting at 1.
	Line, Column int
	// Msg describes the problem.
	Msg string
	// Template is the raw template text.
	Template string
}

func (e *SyntaxError) Error() string {
	if strings.ContainsRune(e.Template, '\n') {
		return fmt.Sprintf("line %d, column %d: %s", e.Line, e.Column, e.Msg)
	}
	return fmt.Sprintf("column %d: %s", e.Column, e.Msg)
}

// LookupError reports a static reference whose name the environment function
// could not resolve. It carries the template and dialect so the offending
// template can be located.
type LookupError struct {
	// Name is the static reference that failed to resolve.
	Name string
	// Template is the raw template text the reference appears in.
	Template string
	// Dialect is the dialect the template was being rendered for.
	Dialect string
	// Err is the failure reported by the environment function.
	Err error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("cannot resolve $(%s) for dialect %q in template %q: %s", e.Name, e.Dialect, e.Template, e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}
