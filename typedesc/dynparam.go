// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package typedesc

// DynParam pairs a descriptor with a value of the type it describes. It is
// used to assemble parameter lists whose shape is only known at runtime,
// e.g. for dynamically generated queries.
type DynParam struct {
	desc  Desc
	value any
}

// Dyn packs a value together with its descriptor.
func Dyn(desc Desc, value any) DynParam {
	return DynParam{desc: desc, value: value}
}

// Desc returns the descriptor of the packed value.
func (p DynParam) Desc() Desc {
	return p.desc
}

// Value returns the packed value.
func (p DynParam) Value() any {
	return p.value
}

// Append folds two packed parameters into one whose descriptor is the
// product of both. Chaining Append builds a parameter list without its arity
// ever being hardcoded.
func (p DynParam) Append(q DynParam) DynParam {
	return DynParam{
		desc:  Product(p.desc, q.desc),
		value: []any{p.value, q.value},
	}
}
