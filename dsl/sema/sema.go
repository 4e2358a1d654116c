// Package sema cross-checks a parsed RigFile against its Schema: enum
// coverage, command signatures, parameter types, and expression typing.
// Every problem found is accumulated into a Diagnostics value rather than
// failing fast, so a rig author sees every error in one pass.
package sema

import (
	"fmt"
	"strings"

	"github.com/openrigd/rigd/dsl/ast"
	"github.com/openrigd/rigd/dsl/token"
)

// Diagnostic is one semantic error with a source position and a short
// machine-readable code (e.g. "ParameterTypeMismatch") for callers that
// want to branch on error kind rather than parse prose.
type Diagnostic struct {
	Code    string
	Pos     token.Position
	Message string
}

func (d *Diagnostic) Error() string {
	return fmt.Sprintf("%d:%d: %s: %s", d.Pos.Line, d.Pos.Column, d.Code, d.Message)
}

// Diagnostics is a non-empty collection of Diagnostic, itself an error.
type Diagnostics []*Diagnostic

func (d Diagnostics) Error() string {
	lines := make([]string, len(d))
	for i, diag := range d {
		lines[i] = diag.Error()
	}
	return strings.Join(lines, "\n")
}

type analyzer struct {
	schema *ast.Schema
	rig    *ast.RigFile
	enums  map[string]map[string]uint32 // rig enum name -> variant -> value
	diags  Diagnostics
}

func (a *analyzer) add(code string, pos token.Position, format string, args ...interface{}) {
	a.diags = append(a.diags, &Diagnostic{Code: code, Pos: pos, Message: fmt.Sprintf(format, args...)})
}

// Analyze checks rig against schema, returning every diagnostic found.
// A nil return means rig conforms to schema.
func Analyze(rig *ast.RigFile, schema *ast.Schema) error {
	a := &analyzer{schema: schema, rig: rig, enums: map[string]map[string]uint32{}}
	a.run()
	if len(a.diags) == 0 {
		return nil
	}
	return a.diags
}

func (a *analyzer) run() {
	if a.rig.Schema != a.schema.Name {
		a.add("SchemaMismatch", token.Position{}, "impl block targets schema %q, expected %q", a.rig.Schema, a.schema.Name)
	}
	a.checkEnums()
	a.checkCommandSignatures()

	settings := a.typeSettings()

	if a.rig.HasInit {
		a.checkBlock(a.rig.Init, newScope(settings))
	}
	if a.rig.HasState {
		a.checkBlock(a.rig.Status, newScope(settings))
	}
	for _, cmd := range a.rig.Commands {
		scope := newScope(settings)
		for _, param := range cmd.Params {
			scope.local[param.Name] = param.Type
		}
		a.checkBlock(cmd.Body, scope)
	}
}

func (a *analyzer) checkEnums() {
	seen := map[string]bool{}
	for _, def := range a.rig.Enums {
		if seen[def.Name] {
			a.add("DuplicateEnum", token.Position{}, "enum %q declared more than once", def.Name)
		}
		seen[def.Name] = true
		if _, ok := a.schema.Enums[def.Name]; !ok {
			a.add("UnknownEnum", token.Position{}, "enum %q is not declared in schema %q", def.Name, a.schema.Name)
		}
		variants := map[string]uint32{}
		variantSeen := map[string]bool{}
		for _, v := range def.Variants {
			if variantSeen[v.Name] {
				a.add("DuplicateVariant", token.Position{}, "enum %q: duplicate variant %q", def.Name, v.Name)
				continue
			}
			variantSeen[v.Name] = true
			variants[v.Name] = v.Value
		}
		a.enums[def.Name] = variants
	}
}

func (a *analyzer) checkCommandSignatures() {
	for name, cmd := range a.rig.Commands {
		schemaParams, ok := a.schema.Commands[name]
		if !ok {
			a.add("UnknownCommand", cmd.Pos, "command %q is not declared in schema %q", name, a.schema.Name)
			continue
		}
		byName := map[string]ast.Type{}
		for _, p := range schemaParams {
			byName[p.Name] = p.Type
		}
		rigByName := map[string]ast.Type{}
		for _, p := range cmd.Params {
			rigByName[p.Name] = p.Type
		}
		for pname, ptype := range byName {
			rt, ok := rigByName[pname]
			if !ok {
				a.add("MissingParameter", cmd.Pos, "command %q: missing parameter %q declared in schema", name, pname)
				continue
			}
			if !rt.Equal(ptype) {
				a.add("ParameterTypeMismatch", cmd.Pos, "command %q: parameter %q has type %s, schema declares %s", name, pname, rt, ptype)
			}
		}
		for pname := range rigByName {
			if _, ok := byName[pname]; !ok {
				a.add("UnknownParameter", cmd.Pos, "command %q: parameter %q is not declared in schema", name, pname)
			}
		}
	}
}

func (a *analyzer) typeSettings() map[string]ast.Type {
	settings := map[string]ast.Type{}
	scope := newScope(settings)
	for _, s := range a.rig.Settings {
		settings[s.Name] = a.typeOf(s.Expr, scope)
	}
	return settings
}

// scope is a static, mutable type environment mirroring the interpreter's
// runtime Env: lookups walk to parent, writes land in local.
type scope struct {
	local  map[string]ast.Type
	parent *scope
}

func newScope(seed map[string]ast.Type) *scope {
	parent := &scope{local: seed}
	return &scope{local: map[string]ast.Type{}, parent: parent}
}

func (s *scope) lookup(name string) (ast.Type, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if t, ok := cur.local[name]; ok {
			return t, true
		}
	}
	return ast.Type{}, false
}

func (s *scope) bind(name string, t ast.Type) {
	s.local[name] = t
}

func (a *analyzer) checkBlock(stmts []ast.Statement, sc *scope) {
	for _, stmt := range stmts {
		a.checkStatement(stmt, sc)
	}
}

func (a *analyzer) checkStatement(stmt ast.Statement, sc *scope) {
	switch s := stmt.(type) {
	case ast.Assign:
		t := a.typeOf(s.Expr, sc)
		sc.bind(s.Name, t)
	case ast.FunctionCall:
		a.checkCall(s, sc)
	case ast.If:
		condT := a.typeOf(s.Condition, sc)
		if condT.Kind != ast.TBool {
			a.add("TypeMismatch", s.Pos, "if condition must be bool, got %s", condT)
		}
		a.checkBlock(s.Then, sc)
		a.checkBlock(s.Else, sc)
	}
}

func (a *analyzer) checkCall(call ast.FunctionCall, sc *scope) {
	switch call.Name {
	case "write":
		if len(call.Args) != 1 {
			a.add("ArityMismatch", call.Pos, "write() takes exactly 1 argument, got %d", len(call.Args))
			return
		}
		t := a.typeOf(call.Args[0], sc)
		if t.Kind != ast.TBytes {
			a.add("TypeMismatch", call.Pos, "write() argument must be bytes, got %s", t)
		}
	case "read":
		if len(call.Args) != 1 {
			a.add("ArityMismatch", call.Pos, "read() takes exactly 1 argument, got %d", len(call.Args))
			return
		}
		switch call.Args[0].(type) {
		case ast.Bytes, ast.StringInterpolation:
			a.checkTemplateArg(call.Args[0], sc, true)
		default:
			a.add("TypeMismatch", call.Pos, "read() argument must be a byte string or template literal")
		}
	case "set_var":
		if len(call.Args) != 2 {
			a.add("ArityMismatch", call.Pos, "set_var() takes exactly 2 arguments, got %d", len(call.Args))
			return
		}
		if _, ok := call.Args[0].(ast.String); !ok {
			a.add("TypeMismatch", call.Pos, "set_var() first argument must be a string literal")
		}
		a.typeOf(call.Args[1], sc)
	case "error":
		if len(call.Args) != 1 {
			a.add("ArityMismatch", call.Pos, "error() takes exactly 1 argument, got %d", len(call.Args))
			return
		}
		t := a.typeOf(call.Args[0], sc)
		if t.Kind != ast.TString {
			a.add("TypeMismatch", call.Pos, "error() argument must be a string, got %s", t)
		}
	default:
		a.add("UnknownFunction", call.Pos, "%q is not a built-in function (only write, read, set_var, error are callable)", call.Name)
	}
}

// checkTemplateArg validates a write/read byte-string/template argument.
// isRead controls whether Variable holes bind a new Int (read) or must
// already be bound (write).
func (a *analyzer) checkTemplateArg(expr ast.Expr, sc *scope, isRead bool) {
	interp, ok := expr.(ast.StringInterpolation)
	if !ok {
		return // pure ast.Bytes literal, nothing to check
	}
	for _, part := range interp.Parts {
		v, ok := part.(ast.Variable)
		if !ok {
			continue
		}
		if v.Name == "_" {
			if !isRead {
				a.add("InvalidBinding", interp.Pos, "'_' is only permitted inside read()")
			}
			continue
		}
		if isRead {
			sc.bind(v.Name, ast.Type{Kind: ast.TInt})
			continue
		}
		if _, bound := sc.lookup(v.Name); !bound {
			a.add("UnknownName", interp.Pos, "variable %q used in write() template is not bound", v.Name)
		}
	}
}

// typeOf computes the static type of expr, recording diagnostics for any
// problem found and returning a best-effort type so analysis can continue.
func (a *analyzer) typeOf(expr ast.Expr, sc *scope) ast.Type {
	switch e := expr.(type) {
	case ast.Integer:
		return ast.Type{Kind: ast.TInt}
	case ast.Float:
		return ast.Type{Kind: ast.TFloat}
	case ast.Bytes:
		return ast.Type{Kind: ast.TBytes}
	case ast.String:
		return ast.Type{Kind: ast.TString}
	case ast.StringInterpolation:
		a.checkTemplateArg(e, sc, false)
		return ast.Type{Kind: ast.TBytes}
	case ast.Identifier:
		if t, ok := sc.lookup(e.Name); ok {
			return t
		}
		a.add("UnknownName", e.Pos, "undefined identifier %q", e.Name)
		return ast.Type{Kind: ast.TInt}
	case ast.QualifiedIdentifier:
		if variants, ok := a.enums[e.Scope]; ok {
			if _, ok := variants[e.Name]; !ok {
				a.add("UnknownEnum", e.Pos, "enum %q has no variant %q", e.Scope, e.Name)
			}
			return ast.Type{Kind: ast.TEnum, Enum: e.Scope}
		}
		a.add("UnknownEnum", e.Pos, "unknown enum %q", e.Scope)
		return ast.Type{Kind: ast.TEnum, Enum: e.Scope}
	case ast.BinaryOp:
		return a.typeOfBinary(e, sc)
	case ast.Cast:
		inner := a.typeOf(e.Expr, sc)
		return a.typeOfCast(inner, e)
	}
	return ast.Type{}
}

func isNumeric(t ast.Type) bool { return t.Kind == ast.TInt || t.Kind == ast.TFloat }

func (a *analyzer) typeOfBinary(e ast.BinaryOp, sc *scope) ast.Type {
	left := a.typeOf(e.Left, sc)
	right := a.typeOf(e.Right, sc)

	switch e.Op {
	case ast.OpAdd:
		if left.Kind == ast.TBytes && right.Kind == ast.TBytes {
			return ast.Type{Kind: ast.TBytes}
		}
		fallthrough
	case ast.OpSub, ast.OpMul, ast.OpDiv, ast.OpMod:
		if e.Op == ast.OpDiv || e.Op == ast.OpMod {
			if isZeroLiteral(e.Right) {
				a.add("DivisionByZero", e.Pos, "division or modulo by literal 0 is rejected statically")
			}
		}
		if !isNumeric(left) || !isNumeric(right) {
			a.add("TypeMismatch", e.Pos, "operator %s requires numeric operands, got %s and %s", e.Op, left, right)
			return ast.Type{Kind: ast.TInt}
		}
		if left.Kind == ast.TFloat || right.Kind == ast.TFloat {
			return ast.Type{Kind: ast.TFloat}
		}
		return ast.Type{Kind: ast.TInt}
	case ast.OpLt, ast.OpLe, ast.OpGt, ast.OpGe:
		if !isNumeric(left) || !isNumeric(right) {
			a.add("TypeMismatch", e.Pos, "operator %s requires numeric operands, got %s and %s", e.Op, left, right)
		}
		return ast.Type{Kind: ast.TBool}
	case ast.OpEq, ast.OpNe:
		if !left.Equal(right) {
			a.add("TypeMismatch", e.Pos, "operator %s requires operands of the same type, got %s and %s", e.Op, left, right)
		}
		return ast.Type{Kind: ast.TBool}
	case ast.OpAnd, ast.OpOr:
		if left.Kind != ast.TBool || right.Kind != ast.TBool {
			a.add("TypeMismatch", e.Pos, "operator %s requires bool operands, got %s and %s", e.Op, left, right)
		}
		return ast.Type{Kind: ast.TBool}
	}
	return ast.Type{Kind: ast.TInt}
}

func isZeroLiteral(e ast.Expr) bool {
	switch v := e.(type) {
	case ast.Integer:
		return v.Value == 0
	case ast.Float:
		return v.Value == 0
	}
	return false
}

func (a *analyzer) typeOfCast(inner ast.Type, c ast.Cast) ast.Type {
	switch c.Target.Kind {
	case ast.TFloat: // Int -> Float
		if inner.Kind != ast.TInt {
			a.add("TypeMismatch", c.Pos, "cannot cast %s to float", inner)
		}
		return ast.Type{Kind: ast.TFloat}
	case ast.TBool: // Int -> Bool
		if inner.Kind != ast.TInt {
			a.add("TypeMismatch", c.Pos, "cannot cast %s to bool", inner)
		}
		return ast.Type{Kind: ast.TBool}
	case ast.TInt: // Float -> Int, Bool -> Int, EnumVariant -> Int
		if inner.Kind != ast.TFloat && inner.Kind != ast.TBool && inner.Kind != ast.TEnum && inner.Kind != ast.TInt {
			a.add("TypeMismatch", c.Pos, "cannot cast %s to int", inner)
		}
		return ast.Type{Kind: ast.TInt}
	case ast.TEnum: // Int -> Enum(E)
		if inner.Kind != ast.TInt {
			a.add("TypeMismatch", c.Pos, "cannot cast %s to enum %s", inner, c.Target.Enum)
		}
		if _, ok := a.enums[c.Target.Enum]; !ok {
			a.add("UnknownEnum", c.Pos, "unknown enum %q in cast", c.Target.Enum)
		}
		return c.Target
	}
	return c.Target
}
