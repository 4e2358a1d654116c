package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/openrigd/rigd/dsl/ast"
	"github.com/openrigd/rigd/dsl/token"
)

// parseTemplate turns the raw content of a byte-string literal — hex pairs
// with '.' as a cosmetic separator, interrupted by {name}, {name:length}, or
// {name:format:length} holes — into an ordered sequence of ast.TemplatePart,
// coalescing adjacent literal runs.
func parseTemplate(raw string, pos token.Position) ([]ast.TemplatePart, error) {
	var parts []ast.TemplatePart
	var litBuf []byte
	var hexHi byte
	haveHi := false

	flushLiteral := func() error {
		if haveHi {
			return &SyntaxError{Pos: pos, Expected: "even number of hex digits", Found: "trailing nibble"}
		}
		if len(litBuf) > 0 {
			if len(parts) > 0 {
				if prev, ok := parts[len(parts)-1].(ast.Literal); ok {
					parts[len(parts)-1] = ast.Literal{Value: append(append([]byte{}, prev.Value...), litBuf...)}
					litBuf = nil
					return nil
				}
			}
			parts = append(parts, ast.Literal{Value: append([]byte{}, litBuf...)})
			litBuf = nil
		}
		return nil
	}

	i := 0
	for i < len(raw) {
		c := raw[i]
		switch {
		case c == '.':
			i++
		case c == '{':
			if err := flushLiteral(); err != nil {
				return nil, err
			}
			end := strings.IndexByte(raw[i:], '}')
			if end < 0 {
				return nil, &SyntaxError{Pos: pos, Expected: "'}'", Found: "end of literal"}
			}
			holeSrc := raw[i+1 : i+end]
			variable, err := parseHole(holeSrc, pos)
			if err != nil {
				return nil, err
			}
			parts = append(parts, variable)
			i += end + 1
		case isHex(c):
			v := hexNibble(c)
			if !haveHi {
				hexHi = v
				haveHi = true
			} else {
				litBuf = append(litBuf, hexHi<<4|v)
				haveHi = false
			}
			i++
		default:
			return nil, &SyntaxError{Pos: pos, Expected: "hex digit, '.' or '{'", Found: fmt.Sprintf("%q", c)}
		}
	}
	if err := flushLiteral(); err != nil {
		return nil, err
	}
	return parts, nil
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func hexNibble(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

// parseHole parses the content between { and } in a hole: name, name:length,
// or name:format:length.
func parseHole(src string, pos token.Position) (ast.Variable, error) {
	fields := strings.Split(src, ":")
	switch len(fields) {
	case 1:
		return ast.Variable{Name: fields[0]}, nil
	case 2:
		length, err := strconv.Atoi(fields[1])
		if err != nil || length <= 0 {
			return ast.Variable{}, &SyntaxError{Pos: pos, Expected: "positive integer length", Found: fields[1]}
		}
		return ast.Variable{Name: fields[0], Length: length}, nil
	case 3:
		length, err := strconv.Atoi(fields[2])
		if err != nil || length <= 0 {
			return ast.Variable{}, &SyntaxError{Pos: pos, Expected: "positive integer length", Found: fields[2]}
		}
		return ast.Variable{Name: fields[0], Format: fields[1], Length: length}, nil
	default:
		return ast.Variable{}, &SyntaxError{Pos: pos, Expected: "{name}, {name:length} or {name:format:length}", Found: src}
	}
}
