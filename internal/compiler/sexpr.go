package compiler

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/causality/internal/ir"
)

// SKind discriminates S-expression nodes. Values are wire tags.
type SKind uint8

const (
	SSymbol SKind = iota + 1
	SInt
	SBool
	SString
	SQuote
	SList
)

// SExpr is a parsed S-expression. Pos is informational and never hashed.
type SExpr struct {
	Kind SKind
	Text string // SSymbol, SString, SQuote
	Int  int64
	Bool bool
	List []SExpr
	Pos  Pos
}

// IsSymbol reports whether s is the symbol name.
func (s SExpr) IsSymbol(name string) bool {
	return s.Kind == SSymbol && s.Text == name
}

// Head returns the symbol in call position, or "".
func (s SExpr) Head() string {
	if s.Kind == SList && len(s.List) > 0 && s.List[0].Kind == SSymbol {
		return s.List[0].Text
	}
	return ""
}

func (s SExpr) String() string {
	switch s.Kind {
	case SSymbol:
		return s.Text
	case SInt:
		return strconv.FormatInt(s.Int, 10)
	case SBool:
		if s.Bool {
			return "true"
		}
		return "false"
	case SString:
		return strconv.Quote(s.Text)
	case SQuote:
		return "'" + s.Text
	case SList:
		parts := make([]string, len(s.List))
		for i, e := range s.List {
			parts[i] = e.String()
		}
		return "(" + strings.Join(parts, " ") + ")"
	}
	return fmt.Sprintf("sexpr(%d)", s.Kind)
}

// HashDomain implements ir.Entity.
func (SExpr) HashDomain() string { return ir.DomainSExpr }

// EncodeTo implements ir.Canonical.
func (s SExpr) EncodeTo(e *ir.Encoder) {
	e.Tag(byte(s.Kind))
	switch s.Kind {
	case SSymbol, SString, SQuote:
		e.String(s.Text)
	case SInt:
		e.I64(s.Int)
	case SBool:
		e.Bool(s.Bool)
	case SList:
		e.Len(len(s.List))
		for _, c := range s.List {
			c.EncodeTo(e)
		}
	default:
		e.Fail("unknown s-expression kind %d", s.Kind)
	}
}

const maxSExprDepth = 512

// DecodeSExpr reads an S-expression written by EncodeTo.
func DecodeSExpr(d *ir.Decoder) SExpr {
	return decodeSExpr(d, 0)
}

func decodeSExpr(d *ir.Decoder, depth int) SExpr {
	if depth > maxSExprDepth {
		d.Fail("s-expression nesting exceeds %d", maxSExprDepth)
		return SExpr{}
	}
	s := SExpr{Kind: SKind(d.Tag())}
	switch s.Kind {
	case SSymbol, SString, SQuote:
		s.Text = d.String()
	case SInt:
		s.Int = d.I64()
	case SBool:
		s.Bool = d.Bool()
	case SList:
		n := d.Len()
		s.List = make([]SExpr, 0, n)
		for i := 0; i < n && d.Err() == nil; i++ {
			s.List = append(s.List, decodeSExpr(d, depth+1))
		}
	default:
		d.Fail("unknown s-expression kind %d", s.Kind)
	}
	return s
}

// Read parses every top-level form in src.
func Read(src string) ([]SExpr, error) {
	r := &reader{src: src, line: 1, col: 1}
	var forms []SExpr
	for {
		r.skipSpace()
		if r.eof() {
			return forms, nil
		}
		f, err := r.form(0)
		if err != nil {
			return nil, err
		}
		forms = append(forms, f)
	}
}

// ReadOne parses src as exactly one form. Several top-level forms are
// read as an implicit (do ...).
func ReadOne(src string) (SExpr, error) {
	forms, err := Read(src)
	if err != nil {
		return SExpr{}, err
	}
	switch len(forms) {
	case 0:
		return SExpr{}, parseError(Pos{Line: 1, Column: 1}, "empty source")
	case 1:
		return forms[0], nil
	}
	list := append([]SExpr{{Kind: SSymbol, Text: "do", Pos: forms[0].Pos}}, forms...)
	return SExpr{Kind: SList, List: list, Pos: forms[0].Pos}, nil
}

type reader struct {
	src       string
	off       int
	line, col int
}

func (r *reader) eof() bool { return r.off >= len(r.src) }

func (r *reader) pos() Pos { return Pos{Line: r.line, Column: r.col} }

func (r *reader) peek() rune {
	c, _ := utf8.DecodeRuneInString(r.src[r.off:])
	return c
}

func (r *reader) next() rune {
	c, n := utf8.DecodeRuneInString(r.src[r.off:])
	r.off += n
	if c == '\n' {
		r.line++
		r.col = 1
	} else {
		r.col++
	}
	return c
}

func (r *reader) skipSpace() {
	for !r.eof() {
		c := r.peek()
		switch {
		case c == ';':
			for !r.eof() && r.peek() != '\n' {
				r.next()
			}
		case unicode.IsSpace(c):
			r.next()
		default:
			return
		}
	}
}

func isDelimiter(c rune) bool {
	return unicode.IsSpace(c) || c == '(' || c == ')' || c == '"' || c == ';' || c == '\''
}

func (r *reader) form(depth int) (SExpr, error) {
	if depth > maxSExprDepth {
		return SExpr{}, parseError(r.pos(), "nesting exceeds %d", maxSExprDepth)
	}
	start := r.pos()
	switch c := r.peek(); c {
	case '(':
		r.next()
		list := []SExpr{}
		for {
			r.skipSpace()
			if r.eof() {
				return SExpr{}, parseError(start, "unclosed list")
			}
			if r.peek() == ')' {
				r.next()
				return SExpr{Kind: SList, List: list, Pos: start}, nil
			}
			f, err := r.form(depth + 1)
			if err != nil {
				return SExpr{}, err
			}
			list = append(list, f)
		}
	case ')':
		return SExpr{}, parseError(start, "unexpected )")
	case '"':
		return r.str(start)
	case '\'':
		r.next()
		tok := r.token()
		if tok == "" {
			return SExpr{}, parseError(start, "quote must precede a symbol")
		}
		return SExpr{Kind: SQuote, Text: norm.NFC.String(tok), Pos: start}, nil
	}
	tok := r.token()
	if tok == "" {
		return SExpr{}, parseError(start, "unexpected character %q", r.peek())
	}
	return atom(tok, start)
}

func (r *reader) token() string {
	from := r.off
	for !r.eof() && !isDelimiter(r.peek()) {
		r.next()
	}
	return r.src[from:r.off]
}

func (r *reader) str(start Pos) (SExpr, error) {
	r.next()
	var b strings.Builder
	for !r.eof() {
		c := r.next()
		switch c {
		case '"':
			return SExpr{Kind: SString, Text: norm.NFC.String(b.String()), Pos: start}, nil
		case '\\':
			if r.eof() {
				return SExpr{}, parseError(start, "unterminated string literal")
			}
			switch esc := r.next(); esc {
			case 'n':
				b.WriteRune('\n')
			case 't':
				b.WriteRune('\t')
			case 'r':
				b.WriteRune('\r')
			default:
				b.WriteRune(esc)
			}
		default:
			b.WriteRune(c)
		}
	}
	return SExpr{}, parseError(start, "unterminated string literal")
}

func atom(tok string, pos Pos) (SExpr, error) {
	switch tok {
	case "true", "#t":
		return SExpr{Kind: SBool, Bool: true, Pos: pos}, nil
	case "false", "#f":
		return SExpr{Kind: SBool, Bool: false, Pos: pos}, nil
	}
	if looksNumeric(tok) {
		n, err := strconv.ParseInt(tok, 10, 64)
		if err != nil {
			return SExpr{}, parseError(pos, "invalid integer %s", tok)
		}
		return SExpr{Kind: SInt, Int: n, Pos: pos}, nil
	}
	return SExpr{Kind: SSymbol, Text: norm.NFC.String(tok), Pos: pos}, nil
}

func looksNumeric(tok string) bool {
	digits := strings.TrimPrefix(tok, "-")
	if digits == "" {
		return false
	}
	c := digits[0]
	return c >= '0' && c <= '9'
}
