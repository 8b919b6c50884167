package logic

import (
	"fmt"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// exprLexer tokenizes verilog-style boolean expressions.
var exprLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Whitespace", Pattern: `[ \t\r\n]+`},
	{Name: "Const", Pattern: `[01]\b`},
	{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_\[\]]*`},
	{Name: "Op", Pattern: `[|^&!~()]`},
})

// Precedence, lowest first: | ^ & then unary ! / ~.

type orExpr struct {
	Terms []*xorExpr `@@ ( "|" @@ )*`
}

type xorExpr struct {
	Terms []*andExpr `@@ ( "^" @@ )*`
}

type andExpr struct {
	Terms []*unary `@@ ( "&" @@ )*`
}

type unary struct {
	Not     *unary   `  ( "!" | "~" ) @@`
	Primary *primary `| @@`
}

type primary struct {
	Const *string `  @Const`
	Ident *string `| @Ident`
	Sub   *orExpr `| "(" @@ ")"`
}

var exprParser = participle.MustBuild[orExpr](
	participle.Lexer(exprLexer),
	participle.Elide("Whitespace"),
	participle.UseLookahead(2),
)

func parseExpr(s string) (*orExpr, error) {
	expr, err := exprParser.ParseString("", s)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	return expr, nil
}

func (e *orExpr) eval(values map[string]bool) bool {
	for _, t := range e.Terms {
		if t.eval(values) {
			return true
		}
	}
	return false
}

func (e *xorExpr) eval(values map[string]bool) bool {
	v := false
	for _, t := range e.Terms {
		v = v != t.eval(values)
	}
	return v
}

func (e *andExpr) eval(values map[string]bool) bool {
	for _, t := range e.Terms {
		if !t.eval(values) {
			return false
		}
	}
	return true
}

func (u *unary) eval(values map[string]bool) bool {
	if u.Not != nil {
		return !u.Not.eval(values)
	}
	return u.Primary.eval(values)
}

func (p *primary) eval(values map[string]bool) bool {
	switch {
	case p.Const != nil:
		return *p.Const == "1"
	case p.Ident != nil:
		return values[*p.Ident]
	default:
		return p.Sub.eval(values)
	}
}

// identifiers appends every identifier referenced by the expression.
func (e *orExpr) identifiers(out map[string]bool) {
	for _, x := range e.Terms {
		for _, a := range x.Terms {
			for _, u := range a.Terms {
				for u.Not != nil {
					u = u.Not
				}
				switch p := u.Primary; {
				case p.Ident != nil:
					out[*p.Ident] = true
				case p.Sub != nil:
					p.Sub.identifiers(out)
				}
			}
		}
	}
}
