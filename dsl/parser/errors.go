package parser

import (
	"fmt"
	"strings"

	"github.com/openrigd/rigd/dsl/lexer"
	"github.com/openrigd/rigd/dsl/token"
)

// Verbosity selects how much context a rendered diagnostic carries.
type Verbosity int

const (
	Normal Verbosity = iota
	Detailed
	Verbose
)

// SyntaxError is a parse failure with full positional context.
type SyntaxError struct {
	Pos      token.Position
	Expected string
	Found    string
	Hint     string
	source   string
}

func (e *SyntaxError) Error() string {
	return e.Render(Normal)
}

// Render formats the error at the requested verbosity.
func (e *SyntaxError) Render(v Verbosity) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d:%d: expected %s, found %s", e.Pos.Line, e.Pos.Column, e.Expected, e.Found)
	if v == Normal {
		return sb.String()
	}
	line := lexer.Line(e.source, e.Pos.Line)
	sb.WriteString("\n")
	sb.WriteString(line)
	sb.WriteString("\n")
	if e.Pos.Column > 0 {
		sb.WriteString(strings.Repeat(" ", e.Pos.Column-1))
	}
	sb.WriteString("^")
	if v == Verbose && e.Hint != "" {
		sb.WriteString("\nhint: ")
		sb.WriteString(e.Hint)
	}
	return sb.String()
}

// hint applies friendlier-message heuristics for common typos.
func hint(expected string, found token.Token) string {
	if expected == "';'" && (found.Kind == token.LBrace || found.Kind == token.RBrace) {
		return "missing semicolon before " + found.Kind.String()
	}
	if expected == "';'" && found.Kind == token.EOF {
		return "missing semicolon at end of file"
	}
	if expected == "'}'" && found.Kind == token.EOF {
		return "unclosed '{' — reached end of file"
	}
	return ""
}
