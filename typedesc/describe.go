// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package typedesc

import (
	"fmt"
	"strings"
)

// Describe renders a value against its descriptor for human-readable debug
// output. Values under a sensitive descriptor are replaced by "<redacted>"
// unless reveal is true.
func Describe(d Desc, v any, reveal bool) string {
	var sb strings.Builder
	describe(&sb, d, v, reveal)
	return sb.String()
}

func describe(sb *strings.Builder, d Desc, v any, reveal bool) {
	switch d := d.(type) {
	case leaf:
		if v == nil {
			sb.WriteString("<nil>")
			return
		}
		fmt.Fprintf(sb, "%v", v)
	case option:
		if v == nil {
			sb.WriteString("<nil>")
			return
		}
		describe(sb, d.elem, v, reveal)
	case product:
		vals, ok := v.([]any)
		if !ok || len(vals) != len(d.elems) {
			fmt.Fprintf(sb, "<invalid %T>", v)
			return
		}
		sb.WriteString("(")
		for i, e := range d.elems {
			if i > 0 {
				sb.WriteString(", ")
			}
			describe(sb, e, vals[i], reveal)
		}
		sb.WriteString(")")
	case custom:
		sb.WriteString(d.name)
		sb.WriteString("=")
		if d.enc == nil {
			sb.WriteString("<opaque>")
			return
		}
		w, err := d.enc(v)
		if err != nil {
			sb.WriteString("<invalid>")
			return
		}
		describe(sb, d.wire, w, reveal)
	case redacted:
		if !reveal {
			sb.WriteString("<redacted>")
			return
		}
		describe(sb, d.elem, v, reveal)
	default:
		fmt.Fprintf(sb, "<unknown descriptor %T>", d)
	}
}
