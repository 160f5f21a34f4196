// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package sqlreq

// Mult declares how many rows a request may yield. The values form a lattice
// ordered by permissiveness:
//
//	Zero ⊑ One ⊑ ZeroOrOne ⊑ Many
//
// A request declares a Mult; the call site consuming the results declares
// the multiplicity it expects, and a mismatch against the rows actually
// observed is surfaced at the call site.
type Mult int

const (
	// Zero declares the query yields no rows.
	Zero Mult = iota
	// One declares the query yields exactly one row.
	One
	// ZeroOrOne declares the query yields at most one row.
	ZeroOrOne
	// Many declares the query may yield any number of rows.
	Many
)

func (m Mult) String() string {
	switch m {
	case Zero:
		return "zero"
	case One:
		return "one"
	case ZeroOrOne:
		return "zero-or-one"
	case Many:
		return "many"
	}
	return "unknown"
}

// Subsumes reports whether n is at most as permissive as m.
func (m Mult) Subsumes(n Mult) bool {
	return n <= m
}

// Union returns the least multiplicity at least as permissive as both m and
// n.
func (m Mult) Union(n Mult) Mult {
	if n > m {
		return n
	}
	return m
}
