// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package typedesc provides value-level type descriptors used to encode
// query parameters into backend-neutral field values and to decode result
// rows back into Go values.
//
// A descriptor is a closed, recursive description of a value's structure:
// leaf fields (booleans, integers, text, ...), nullable wrappers, positional
// products and named custom coders. The flattened field sequence produced by
// encoding a value against a descriptor is exactly the sequence decoding
// expects back; that sequence is the contract with the driver.
package typedesc

import (
	"fmt"
	"strings"
	"time"
)

// FieldKind identifies the wire shape of a single encoded field.
type FieldKind int

const (
	KindBool FieldKind = iota
	KindInt
	KindFloat
	KindText
	KindBlob
	KindTime
	KindDuration
	KindNull
)

func (k FieldKind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindText:
		return "text"
	case KindBlob:
		return "blob"
	case KindTime:
		return "time"
	case KindDuration:
		return "duration"
	case KindNull:
		return "null"
	}
	return "unknown"
}

// Desc describes how values of some type are encoded into flat field values
// and decoded back. The set of implementations is closed; all consumers
// switch exhaustively over it.
type Desc interface {
	// Arity returns the number of flat fields the descriptor encodes to.
	Arity() int
	// FieldKinds returns the flattened field kind sequence.
	FieldKinds() []FieldKind
	// Encode converts a value into its flat field values.
	Encode(v any) ([]any, error)
	// Decode converts flat field values back into a value.
	Decode(fields []any) (any, error)
	// Sensitive reports whether values described by this descriptor must be
	// withheld from debug output.
	Sensitive() bool

	String() string

	isDesc()
}

// CodingError reports a failed encode or decode, carrying the flat position
// of the offending field.
type CodingError struct {
	// Pos is the zero-based flat field position.
	Pos int
	// Err is the underlying failure.
	Err error
}

func (e *CodingError) Error() string {
	return fmt.Sprintf("coding error at field %d: %s", e.Pos, e.Err)
}

func (e *CodingError) Unwrap() error {
	return e.Err
}

func codingErrorf(pos int, format string, args ...any) error {
	return &CodingError{Pos: pos, Err: fmt.Errorf(format, args...)}
}

// shift moves the position of a CodingError produced by a sub-descriptor to
// the enclosing descriptor's field numbering.
func shift(err error, offset int) error {
	if ce, ok := err.(*CodingError); ok && offset != 0 {
		return &CodingError{Pos: ce.Pos + offset, Err: ce.Err}
	}
	return err
}

// Bool returns a descriptor for a single boolean field.
func Bool() Desc { return leaf{KindBool} }

// Int64 returns a descriptor for a single integer field. Any Go integer type
// encodes into it; decoding always yields int64.
func Int64() Desc { return leaf{KindInt} }

// Float64 returns a descriptor for a single floating point field.
func Float64() Desc { return leaf{KindFloat} }

// Text returns a descriptor for a single text field.
func Text() Desc { return leaf{KindText} }

// Bytes returns a descriptor for a single binary blob field.
func Bytes() Desc { return leaf{KindBlob} }

// Time returns a descriptor for a single timestamp field.
func Time() Desc { return leaf{KindTime} }

// Duration returns a descriptor for a duration stored as an integer number
// of nanoseconds.
func Duration() Desc { return leaf{KindDuration} }

// Null returns a descriptor for a field that is always NULL. The encoded
// value is ignored and decoding yields nil.
func Null() Desc { return leaf{KindNull} }

// Option wraps a descriptor to make it nullable. A nil value encodes as NULL
// in every field of the wrapped descriptor; an all-NULL field sequence
// decodes to nil.
func Option(elem Desc) Desc { return option{elem} }

// Product returns a descriptor for an ordered sequence of sub-descriptors.
// Values are []any slices, encoded and decoded positionally.
func Product(elems ...Desc) Desc { return product{elems} }

// Unit is the empty product. It encodes no fields; nil and empty slices are
// both accepted as values.
func Unit() Desc { return product{} }

// Custom returns a named descriptor with user-supplied coders. encode maps
// the value onto the wire descriptor's value space and decode maps it back;
// either may fail.
func Custom(name string, wire Desc, encode, decode func(any) (any, error)) Desc {
	return custom{name: name, wire: wire, enc: encode, dec: decode}
}

// Redacted marks a descriptor as sensitive: values it describes are never
// included in debug output unless value debugging is explicitly enabled.
func Redacted(elem Desc) Desc { return redacted{elem} }

type leaf struct {
	kind FieldKind
}

func (l leaf) isDesc() {}

func (l leaf) Arity() int { return 1 }

func (l leaf) FieldKinds() []FieldKind { return []FieldKind{l.kind} }

func (l leaf) Sensitive() bool { return false }

func (l leaf) String() string { return l.kind.String() }

func (l leaf) Encode(v any) ([]any, error) {
	if l.kind == KindNull {
		return []any{nil}, nil
	}
	if v == nil {
		return nil, codingErrorf(0, "cannot encode nil as %s, need Option for nullable fields", l.kind)
	}
	switch l.kind {
	case KindBool:
		if b, ok := v.(bool); ok {
			return []any{b}, nil
		}
	case KindInt:
		switch n := v.(type) {
		case int:
			return []any{int64(n)}, nil
		case int8:
			return []any{int64(n)}, nil
		case int16:
			return []any{int64(n)}, nil
		case int32:
			return []any{int64(n)}, nil
		case int64:
			return []any{n}, nil
		case uint:
			return []any{int64(n)}, nil
		case uint8:
			return []any{int64(n)}, nil
		case uint16:
			return []any{int64(n)}, nil
		case uint32:
			return []any{int64(n)}, nil
		}
	case KindFloat:
		switch f := v.(type) {
		case float32:
			return []any{float64(f)}, nil
		case float64:
			return []any{f}, nil
		}
	case KindText:
		if s, ok := v.(string); ok {
			return []any{s}, nil
		}
	case KindBlob:
		if b, ok := v.([]byte); ok {
			return []any{b}, nil
		}
	case KindTime:
		if t, ok := v.(time.Time); ok {
			return []any{t}, nil
		}
	case KindDuration:
		if d, ok := v.(time.Duration); ok {
			return []any{int64(d)}, nil
		}
	}
	return nil, codingErrorf(0, "cannot encode %T as %s", v, l.kind)
}

func (l leaf) Decode(fields []any) (any, error) {
	if len(fields) != 1 {
		return nil, codingErrorf(0, "need 1 field, got %d", len(fields))
	}
	f := fields[0]
	if l.kind == KindNull {
		if f != nil {
			return nil, codingErrorf(0, "need NULL, got %T", f)
		}
		return nil, nil
	}
	if f == nil {
		return nil, codingErrorf(0, "unexpected NULL for %s field, need Option for nullable fields", l.kind)
	}
	switch l.kind {
	case KindBool:
		switch b := f.(type) {
		case bool:
			return b, nil
		case int64:
			// Some backends store booleans as integers.
			return b != 0, nil
		}
	case KindInt:
		if n, ok := f.(int64); ok {
			return n, nil
		}
	case KindFloat:
		switch n := f.(type) {
		case float64:
			return n, nil
		case int64:
			return float64(n), nil
		}
	case KindText:
		switch s := f.(type) {
		case string:
			return s, nil
		case []byte:
			return string(s), nil
		}
	case KindBlob:
		switch b := f.(type) {
		case []byte:
			return b, nil
		case string:
			return []byte(b), nil
		}
	case KindTime:
		switch t := f.(type) {
		case time.Time:
			return t, nil
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, t)
			if err != nil {
				return nil, codingErrorf(0, "cannot parse %q as time: %s", t, err)
			}
			return parsed, nil
		}
	case KindDuration:
		if n, ok := f.(int64); ok {
			return time.Duration(n), nil
		}
	}
	return nil, codingErrorf(0, "cannot decode %T as %s", f, l.kind)
}

type option struct {
	elem Desc
}

func (o option) isDesc() {}

func (o option) Arity() int { return o.elem.Arity() }

func (o option) FieldKinds() []FieldKind { return o.elem.FieldKinds() }

func (o option) Sensitive() bool { return o.elem.Sensitive() }

func (o option) String() string { return "option(" + o.elem.String() + ")" }

func (o option) Encode(v any) ([]any, error) {
	if v == nil {
		return make([]any, o.Arity()), nil
	}
	return o.elem.Encode(v)
}

func (o option) Decode(fields []any) (any, error) {
	if len(fields) != o.Arity() {
		return nil, codingErrorf(0, "need %d fields, got %d", o.Arity(), len(fields))
	}
	allNull := true
	for _, f := range fields {
		if f != nil {
			allNull = false
			break
		}
	}
	if allNull && o.Arity() > 0 {
		return nil, nil
	}
	return o.elem.Decode(fields)
}

type product struct {
	elems []Desc
}

func (p product) isDesc() {}

func (p product) Arity() int {
	n := 0
	for _, e := range p.elems {
		n += e.Arity()
	}
	return n
}

func (p product) FieldKinds() []FieldKind {
	var kinds []FieldKind
	for _, e := range p.elems {
		kinds = append(kinds, e.FieldKinds()...)
	}
	return kinds
}

func (p product) Sensitive() bool {
	for _, e := range p.elems {
		if e.Sensitive() {
			return true
		}
	}
	return false
}

func (p product) String() string {
	var parts []string
	for _, e := range p.elems {
		parts = append(parts, e.String())
	}
	return "product(" + strings.Join(parts, ", ") + ")"
}

func (p product) Encode(v any) ([]any, error) {
	var vals []any
	switch v := v.(type) {
	case nil:
		if len(p.elems) != 0 {
			return nil, codingErrorf(0, "cannot encode nil as %s", p)
		}
	case []any:
		vals = v
	default:
		return nil, codingErrorf(0, "cannot encode %T as %s, need []any", v, p)
	}
	if len(vals) != len(p.elems) {
		return nil, codingErrorf(0, "need %d values, got %d", len(p.elems), len(vals))
	}
	fields := make([]any, 0, p.Arity())
	for i, e := range p.elems {
		sub, err := e.Encode(vals[i])
		if err != nil {
			return nil, shift(err, len(fields))
		}
		fields = append(fields, sub...)
	}
	return fields, nil
}

func (p product) Decode(fields []any) (any, error) {
	if len(fields) != p.Arity() {
		return nil, codingErrorf(0, "need %d fields, got %d", p.Arity(), len(fields))
	}
	vals := make([]any, 0, len(p.elems))
	offset := 0
	for _, e := range p.elems {
		n := e.Arity()
		v, err := e.Decode(fields[offset : offset+n])
		if err != nil {
			return nil, shift(err, offset)
		}
		vals = append(vals, v)
		offset += n
	}
	return vals, nil
}

type custom struct {
	name string
	wire Desc
	enc  func(any) (any, error)
	dec  func(any) (any, error)
}

func (c custom) isDesc() {}

func (c custom) Arity() int { return c.wire.Arity() }

func (c custom) FieldKinds() []FieldKind { return c.wire.FieldKinds() }

func (c custom) Sensitive() bool { return c.wire.Sensitive() }

func (c custom) String() string { return c.name }

func (c custom) Encode(v any) ([]any, error) {
	if c.enc == nil {
		return nil, codingErrorf(0, "%s has no encoder", c.name)
	}
	w, err := c.enc(v)
	if err != nil {
		return nil, codingErrorf(0, "cannot encode %s: %s", c.name, err)
	}
	return c.wire.Encode(w)
}

func (c custom) Decode(fields []any) (any, error) {
	if c.dec == nil {
		return nil, codingErrorf(0, "%s has no decoder", c.name)
	}
	w, err := c.wire.Decode(fields)
	if err != nil {
		return nil, err
	}
	v, err := c.dec(w)
	if err != nil {
		return nil, codingErrorf(0, "cannot decode %s: %s", c.name, err)
	}
	return v, nil
}

type redacted struct {
	elem Desc
}

func (r redacted) isDesc() {}

func (r redacted) Arity() int { return r.elem.Arity() }

func (r redacted) FieldKinds() []FieldKind { return r.elem.FieldKinds() }

func (r redacted) Sensitive() bool { return true }

func (r redacted) String() string { return "redacted(" + r.elem.String() + ")" }

func (r redacted) Encode(v any) ([]any, error) { return r.elem.Encode(v) }

func (r redacted) Decode(fields []any) (any, error) { return r.elem.Decode(fields) }
