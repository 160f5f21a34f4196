// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package template compiles raw SQL templates into the backend-neutral query
// representation.
//
// The grammar, scanned left to right outside of quoted regions:
//
//	?         next positional parameter, in encounter order
//	$N        parameter N-1 (N >= 1), reusable; cannot be mixed with ?
//	$(name)   static reference, resolved through the environment function
//	$(name.)  static reference; a "." is appended if it renders non-empty
//	$name.    shorthand for $(name.)
//	$name$    copied verbatim, unexpanded
//
// Text inside single-quoted SQL string literals is copied verbatim without
// interpretation. Any other $-prefixed sequence is a syntax error.
package template

import (
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/canonical/sqlreq/query"
)

// Parse compiles a raw template for the given backend and returns the query
// along with the number of logical parameters it takes. Static references
// are resolved through env; a nil env defines no static variables.
func Parse(input string, info query.DriverInfo, env query.Env) (query.Query, int, error) {
	return NewParser().Parse(input, info, env)
}

type Parser struct {
	input string
	pos   int
	// nextPos is the start of the next char.
	nextPos int
	// char is the rune starting at pos. char is set to 0 when pos reaches
	// the end of input.
	char rune
	// litStart is the position where the current run of plain literal text
	// began. The run is flushed when a placeholder or quote is found.
	litStart int
	// lineNum is the number of the current line of the input.
	lineNum int
	// lineStart is the position of the first char of the current line.
	lineStart int

	info query.DriverInfo
	env  query.Env

	parts []query.Query
	// sawLinear and sawNumbered record which parameter forms appeared, to
	// reject templates mixing ? with $N.
	sawLinear   bool
	sawNumbered bool
	// linearCount is the number of ? parameters consumed so far.
	linearCount int
	// numberedArity is one plus the highest $N index referenced.
	numberedArity int
}

func NewParser() *Parser {
	return &Parser{}
}

// init resets the state of the parser and sets the input and environment.
func (p *Parser) init(input string, info query.DriverInfo, env query.Env) {
	if env == nil {
		env = func(query.DriverInfo, string) (query.Query, error) {
			return nil, query.ErrNameNotFound
		}
	}
	p.input = input
	p.pos = 0
	p.nextPos = 0
	p.char = 0
	p.litStart = 0
	p.lineNum = 1
	p.lineStart = 0
	p.info = info
	p.env = env
	p.parts = nil
	p.sawLinear = false
	p.sawNumbered = false
	p.linearCount = 0
	p.numberedArity = 0
	p.advanceChar()
}

// Parse compiles the input template. See the package-level Parse.
func (p *Parser) Parse(input string, info query.DriverInfo, env query.Env) (q query.Query, arity int, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("cannot parse template: %w", err)
		}
	}()

	p.init(input, info, env)

	for p.pos < len(p.input) {
		switch p.char {
		case '\'':
			if err := p.parseQuotedLiteral(); err != nil {
				return nil, 0, err
			}
		case '?':
			if p.sawNumbered {
				return nil, 0, p.errorAt("cannot mix ? and $n parameters in one template")
			}
			p.flushLiteral()
			p.sawLinear = true
			p.parts = append(p.parts, query.Param{Index: p.linearCount})
			p.linearCount++
			p.advanceChar()
			p.litStart = p.pos
		case '$':
			if err := p.parseDollar(); err != nil {
				return nil, 0, err
			}
		default:
			p.advanceChar()
		}
	}
	p.flushLiteral()

	if p.sawLinear {
		arity = p.linearCount
	} else {
		arity = p.numberedArity
	}
	return query.Sequence(p.parts), arity, nil
}

// parseQuotedLiteral consumes a single-quoted SQL string literal, including
// both quotes. Doubled up quotes are escaped.
func (p *Parser) parseQuotedLiteral() error {
	openLine, openCol := p.lineNum, p.colNum()
	p.flushLiteral()
	start := p.pos
	p.advanceChar()
	for p.pos < len(p.input) {
		if p.char != '\'' {
			p.advanceChar()
			continue
		}
		p.advanceChar()
		// A doubled quote is an escaped quote inside the literal.
		if p.char == '\'' {
			p.advanceChar()
			continue
		}
		p.parts = append(p.parts, query.QuotedLiteral{Text: p.input[start:p.pos]})
		p.litStart = p.pos
		return nil
	}
	return &query.SyntaxError{
		Line: openLine, Column: openCol,
		Msg:      "missing closing quote in string literal",
		Template: p.input,
	}
}

// parseDollar consumes any of the $-prefixed forms.
func (p *Parser) parseDollar() error {
	line, col := p.lineNum, p.colNum()
	p.flushLiteral()
	start := p.pos
	p.advanceChar()

	switch {
	case isDigit(p.char):
		numStart := p.pos
		for isDigit(p.char) {
			p.advanceChar()
		}
		n, err := strconv.Atoi(p.input[numStart:p.pos])
		if err != nil || n == 0 {
			return p.errorAtPos(line, col, "parameter numbers start at $1")
		}
		if p.sawLinear {
			return p.errorAtPos(line, col, "cannot mix ? and $n parameters in one template")
		}
		p.sawNumbered = true
		p.parts = append(p.parts, query.Param{Index: n - 1})
		if n > p.numberedArity {
			p.numberedArity = n
		}
		p.litStart = p.pos
		return nil

	case p.char == '(':
		p.advanceChar()
		name := p.parseName()
		if name == "" {
			return p.errorAtPos(line, col, "missing name in static reference")
		}
		dot := p.skipChar('.')
		if !p.skipChar(')') {
			return p.errorAtPos(line, col, fmt.Sprintf("missing closing parenthesis in $(%s)", name))
		}
		p.litStart = p.pos
		return p.splice(name, dot)

	case isNameInitialChar(p.char):
		name := p.parseName()
		switch {
		case p.skipChar('.'):
			p.litStart = p.pos
			return p.splice(name, true)
		case p.skipChar('$'):
			// Escape form: $name$ is copied through unexpanded.
			p.parts = append(p.parts, query.Literal{Text: p.input[start:p.pos]})
			p.litStart = p.pos
			return nil
		default:
			return p.errorAtPos(line, col, fmt.Sprintf("invalid placeholder $%s, need $%s. or $%s$", name, name, name))
		}

	default:
		return p.errorAtPos(line, col, "invalid $ placeholder")
	}
}

// splice resolves a static reference and appends the resulting fragment. For
// the dot forms a "." literal is appended when the fragment is non-empty.
func (p *Parser) splice(name string, dot bool) error {
	frag, err := p.env(p.info, name)
	if err != nil {
		return &query.LookupError{
			Name:     name,
			Template: p.input,
			Dialect:  p.info.Dialect,
			Err:      err,
		}
	}
	if frag == nil {
		frag = query.Literal{}
	}
	p.parts = append(p.parts, frag)
	if dot && !query.IsEmpty(frag) {
		p.parts = append(p.parts, query.Literal{Text: "."})
	}
	return nil
}

// flushLiteral appends the literal run between litStart and the current
// position, if any.
func (p *Parser) flushLiteral() {
	if p.litStart < p.pos {
		p.parts = append(p.parts, query.Literal{Text: p.input[p.litStart:p.pos]})
	}
	p.litStart = p.pos
}

// parseName consumes an identifier and returns it. Returns the empty string
// if the current char cannot start an identifier.
func (p *Parser) parseName() string {
	if !isNameInitialChar(p.char) {
		return ""
	}
	start := p.pos
	for isNameChar(p.char) {
		p.advanceChar()
	}
	return p.input[start:p.pos]
}

// advanceChar moves the parser to the next character in the input. It also
// takes care of updating the line and column numbers if it encounters line
// breaks.
func (p *Parser) advanceChar() bool {
	if p.nextPos >= len(p.input) {
		p.char = 0
		p.pos = p.nextPos
		return false
	}
	if p.char == '\n' {
		p.lineStart = p.nextPos
		p.lineNum++
	}
	var size int
	p.char, size = utf8.DecodeRuneInString(p.input[p.nextPos:])
	p.pos = p.nextPos
	p.nextPos += size
	return true
}

// skipChar jumps over the current char if it matches the char passed as a
// parameter. Returns true in that case, false otherwise.
func (p *Parser) skipChar(c rune) bool {
	if p.pos < len(p.input) && p.char == c {
		p.advanceChar()
		return true
	}
	return false
}

// colNum calculates the current column number taking into account line
// breaks.
func (p *Parser) colNum() int {
	return p.pos - p.lineStart + 1
}

func (p *Parser) errorAt(msg string) error {
	return p.errorAtPos(p.lineNum, p.colNum(), msg)
}

func (p *Parser) errorAtPos(line, col int, msg string) error {
	return &query.SyntaxError{Line: line, Column: col, Msg: msg, Template: p.input}
}

func isDigit(c rune) bool {
	return '0' <= c && c <= '9'
}

func isNameInitialChar(c rune) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || c == '_'
}

func isNameChar(c rune) bool {
	return isNameInitialChar(c) || isDigit(c)
}
