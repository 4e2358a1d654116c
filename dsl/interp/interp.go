// Package interp is the tree-walking interpreter for a parsed, semantically
// valid RigFile: it executes init, status, and command bodies against a
// device through the ExternalApi it is given, producing Values and the
// typed Error a device driver can act on (retry, reconnect, surface to a
// client).
package interp

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/openrigd/rigd/dataformat"
	"github.com/openrigd/rigd/dsl/ast"
	"github.com/openrigd/rigd/dsl/token"
)

// ExternalApi is everything the interpreter needs from the outside world.
// A device driver implements this over a serial.Port; tests implement it
// over an in-memory byte pipe.
type ExternalApi interface {
	Write(ctx context.Context, data []byte) error
	Read(ctx context.Context, n int) ([]byte, error)
	SetVar(ctx context.Context, name string, v Value) error
}

// Interpreter binds one parsed RigFile to its Schema. It is immutable and
// safe to share across concurrent commands as long as each call gets its
// own Env (ExecuteInit/ExecuteCommand/ExecuteStatus each start a fresh one).
type Interpreter struct {
	schema *ast.Schema
	rig    *ast.RigFile
	enums  map[string]map[string]uint32 // rig enum name -> variant -> value
	byVal  map[string]map[uint32]string // rig enum name -> value -> variant, for Int->Enum casts
}

// New builds an Interpreter for rig against schema. Callers are expected to
// have already run rig and schema through dsl/parser and dsl/sema; New does
// not re-validate.
func New(rig *ast.RigFile, schema *ast.Schema) *Interpreter {
	i := &Interpreter{
		schema: schema,
		rig:    rig,
		enums:  map[string]map[string]uint32{},
		byVal:  map[string]map[uint32]string{},
	}
	for _, def := range rig.Enums {
		variants := map[string]uint32{}
		rev := map[uint32]string{}
		for _, v := range def.Variants {
			variants[v.Name] = v.Value
			rev[v.Value] = v.Name
		}
		i.enums[def.Name] = variants
		i.byVal[def.Name] = rev
	}
	return i
}

// Schema returns the schema this Interpreter's rig implements.
func (i *Interpreter) Schema() *ast.Schema { return i.schema }

// CommandNames returns the set of commands this rig actually implements,
// a subset of its schema's command set.
func (i *Interpreter) CommandNames() []string {
	names := make([]string, 0, len(i.rig.Commands))
	for name := range i.rig.Commands {
		names = append(names, name)
	}
	return names
}

// HasStatus reports whether this rig implements a status block at all.
func (i *Interpreter) HasStatus() bool { return i.rig.HasState }

// StatusFieldNames returns the status fields this rig actually publishes:
// the names its status block passes to set_var, a subset of its schema's
// status field set.
func (i *Interpreter) StatusFieldNames() []string {
	seen := map[string]bool{}
	var names []string
	var walk func(stmts []ast.Statement)
	walk = func(stmts []ast.Statement) {
		for _, stmt := range stmts {
			switch s := stmt.(type) {
			case ast.FunctionCall:
				if s.Name != "set_var" || len(s.Args) == 0 {
					continue
				}
				if lit, ok := s.Args[0].(ast.String); ok && !seen[lit.Value] {
					seen[lit.Value] = true
					names = append(names, lit.Value)
				}
			case ast.If:
				walk(s.Then)
				walk(s.Else)
			}
		}
	}
	walk(i.rig.Status)
	return names
}

// execCtx threads the pieces a single execution needs through every
// statement/expression helper without making them methods with long
// receivers: the current Env, the api this execution is running against,
// and a running position for error reporting.
type execCtx struct {
	i   *Interpreter
	env *Env
	api ExternalApi
	ctx context.Context
}

func (i *Interpreter) baseEnv() (*Env, error) {
	settings := newEnv(nil)
	ec := &execCtx{i: i, env: settings}
	for _, s := range i.rig.Settings {
		v, err := ec.eval(s.Expr)
		if err != nil {
			return nil, err
		}
		settings.bind(s.Name, v)
	}
	return settings, nil
}

// ExecuteInit runs the rig's init block, if it has one.
func (i *Interpreter) ExecuteInit(ctx context.Context, api ExternalApi) error {
	if !i.rig.HasInit {
		return nil
	}
	base, err := i.baseEnv()
	if err != nil {
		return err
	}
	ec := &execCtx{i: i, env: newEnv(base), api: api, ctx: ctx}
	return ec.execBlock(i.rig.Init)
}

// ExecuteStatus runs the rig's status block, if it has one, and returns
// every binding left in its frame: set_var targets, but also assigned
// variables and read() template holes. The result is not filtered by
// schema.Status -- callers that care can do that themselves.
func (i *Interpreter) ExecuteStatus(ctx context.Context, api ExternalApi) (map[string]Value, error) {
	if !i.rig.HasState {
		return map[string]Value{}, nil
	}
	base, err := i.baseEnv()
	if err != nil {
		return nil, err
	}
	frame := newEnv(base)
	ec := &execCtx{i: i, env: frame, api: api, ctx: ctx}
	if err := ec.execBlock(i.rig.Status); err != nil {
		return nil, err
	}
	out := make(map[string]Value, len(frame.local))
	for k, v := range frame.local {
		out[k] = v
	}
	return out, nil
}

// ExecuteCommand marshals params (string-encoded, one per schema-declared
// parameter) into typed Values, runs the named command's body, and returns
// every binding left in its frame: the marshalled parameters, assigned
// variables, read() template holes and set_var targets.
func (i *Interpreter) ExecuteCommand(ctx context.Context, name string, params map[string]string, api ExternalApi) (map[string]Value, error) {
	cmd, ok := i.rig.Commands[name]
	if !ok {
		return nil, errf(UnknownName, token.Position{}, "command %q is not implemented by this rig", name)
	}
	base, err := i.baseEnv()
	if err != nil {
		return nil, err
	}
	frame := newEnv(base)
	for _, p := range cmd.Params {
		raw, ok := params[p.Name]
		if !ok {
			return nil, errf(ArityMismatch, cmd.Pos, "command %q: missing parameter %q", name, p.Name)
		}
		v, err := i.parseParamValue(raw, p.Type)
		if err != nil {
			return nil, err
		}
		frame.bind(p.Name, v)
	}
	ec := &execCtx{i: i, env: frame, api: api, ctx: ctx}
	if err := ec.execBlock(cmd.Body); err != nil {
		return nil, err
	}
	out := make(map[string]Value, len(frame.local))
	for k, v := range frame.local {
		out[k] = v
	}
	return out, nil
}

// parseParamValue turns one caller-supplied string parameter into a typed
// Value per its schema-declared type: Enum(E) parameters name a variant of
// E directly; every other type is reparsed as an atomic expression (an
// int/float/bool literal, or a Scope::Variant qualified enum reference).
func (i *Interpreter) parseParamValue(raw string, want ast.Type) (Value, error) {
	if want.Kind == ast.TEnum {
		variants, ok := i.enums[want.Enum]
		if !ok {
			return nil, errf(UnknownName, token.Position{}, "unknown enum %q", want.Enum)
		}
		val, ok := variants[raw]
		if !ok {
			return nil, errf(UnknownName, token.Position{}, "enum %q has no variant %q", want.Enum, raw)
		}
		return EnumVariant{Enum: want.Enum, Variant: raw, Value: val}, nil
	}
	if scope, name, ok := strings.Cut(raw, "::"); ok {
		variants, ok := i.enums[scope]
		if !ok {
			return nil, errf(UnknownName, token.Position{}, "unknown enum %q", scope)
		}
		val, ok := variants[name]
		if !ok {
			return nil, errf(UnknownName, token.Position{}, "enum %q has no variant %q", scope, name)
		}
		return EnumVariant{Enum: scope, Variant: name, Value: val}, nil
	}
	if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return Integer(v), nil
	}
	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		return Float(v), nil
	}
	if raw == "true" {
		return Boolean(true), nil
	}
	if raw == "false" {
		return Boolean(false), nil
	}
	return nil, errf(TypeMismatch, token.Position{}, "cannot parse %q as a parameter value", raw)
}

// --- statement execution ---

func (ec *execCtx) execBlock(stmts []ast.Statement) error {
	for _, s := range stmts {
		if err := ec.execStatement(s); err != nil {
			return err
		}
	}
	return nil
}

func (ec *execCtx) execStatement(stmt ast.Statement) error {
	switch s := stmt.(type) {
	case ast.Assign:
		v, err := ec.eval(s.Expr)
		if err != nil {
			return err
		}
		ec.env.bind(s.Name, v)
		return nil
	case ast.FunctionCall:
		_, err := ec.execCall(s)
		return err
	case ast.If:
		cond, err := ec.eval(s.Condition)
		if err != nil {
			return err
		}
		b, ok := cond.(Boolean)
		if !ok {
			return errf(TypeMismatch, s.Pos, "if condition did not evaluate to bool")
		}
		// If branches execute in the same scope as their enclosing block:
		// no child Env is pushed here.
		if bool(b) {
			return ec.execBlock(s.Then)
		}
		return ec.execBlock(s.Else)
	}
	return nil
}

func (ec *execCtx) execCall(call ast.FunctionCall) (Value, error) {
	switch call.Name {
	case "write":
		data, err := ec.eval(call.Args[0])
		if err != nil {
			return nil, err
		}
		b, ok := data.(Bytes)
		if !ok {
			return nil, errf(TypeMismatch, call.Pos, "write() argument did not evaluate to bytes")
		}
		if err := ec.api.Write(ec.ctx, b); err != nil {
			return nil, &Error{Kind: IoWriteFailed, Pos: call.Pos, Message: "write to device failed", Cause: err}
		}
		return Unit{}, nil
	case "read":
		return Unit{}, ec.execRead(call.Args[0], call.Pos)
	case "set_var":
		name, ok := call.Args[0].(ast.String)
		if !ok {
			return nil, errf(TypeMismatch, call.Pos, "set_var() first argument must be a string literal")
		}
		v, err := ec.eval(call.Args[1])
		if err != nil {
			return nil, err
		}
		ec.env.bind(string(name.Value), v)
		if err := ec.api.SetVar(ec.ctx, string(name.Value), v); err != nil {
			return nil, &Error{Kind: IoWriteFailed, Pos: call.Pos, Message: "set_var() sink rejected value", Cause: err}
		}
		return Unit{}, nil
	case "error":
		v, err := ec.eval(call.Args[0])
		if err != nil {
			return nil, err
		}
		msg, ok := v.(String)
		if !ok {
			return nil, errf(TypeMismatch, call.Pos, "error() argument did not evaluate to string")
		}
		return nil, &Error{Kind: UserError, Pos: call.Pos, Message: string(msg)}
	}
	return nil, errf(TypeMismatch, call.Pos, "%q is not callable", call.Name)
}

// execRead implements the read() built-in. A pure ast.Bytes argument is an
// exact-match literal: every byte of the reply must equal the literal.
// An ast.StringInterpolation argument reads exactly the template's total
// byte length, checks its literal runs exact-match, and decodes its holes
// into freshly bound Int values.
func (ec *execCtx) execRead(arg ast.Expr, pos token.Position) error {
	switch e := arg.(type) {
	case ast.Bytes:
		got, err := ec.readExact(len(e.Value), pos)
		if err != nil {
			return err
		}
		return matchExact(e.Value, got, 0, pos)
	case ast.StringInterpolation:
		total := 0
		for _, part := range e.Parts {
			total += partLength(part)
		}
		got, err := ec.readExact(total, pos)
		if err != nil {
			return err
		}
		offset := 0
		for _, part := range e.Parts {
			switch p := part.(type) {
			case ast.Literal:
				n := len(p.Value)
				if err := matchExact(p.Value, got[offset:offset+n], offset, pos); err != nil {
					return err
				}
				offset += n
			case ast.Variable:
				n := p.Length
				if n == 0 {
					n = 1
				}
				f := dataformat.Default
				if p.Format != "" {
					parsed, err := dataformat.Parse(p.Format)
					if err != nil {
						return &Error{Kind: FormatInvalid, Pos: pos, Message: "read() template", Cause: err}
					}
					f = parsed
				}
				v, err := dataformat.Decode(f, got[offset:offset+n])
				if err != nil {
					return &Error{Kind: Overflow, Pos: pos, Message: "decoding read() template hole", Cause: err}
				}
				if p.Name != "_" {
					ec.env.bind(p.Name, Integer(int64(v)))
				}
				offset += n
			}
		}
		return nil
	}
	return errf(TypeMismatch, pos, "read() argument must be a byte string or template literal")
}

func partLength(part ast.TemplatePart) int {
	switch p := part.(type) {
	case ast.Literal:
		return len(p.Value)
	case ast.Variable:
		if p.Length == 0 {
			return 1
		}
		return p.Length
	}
	return 0
}

func (ec *execCtx) readExact(n int, pos token.Position) ([]byte, error) {
	got, err := ec.api.Read(ec.ctx, n)
	if err != nil {
		return nil, &Error{Kind: IoReadFailed, Pos: pos, Message: "read from device failed", Cause: err}
	}
	if len(got) != n {
		return nil, &Error{Kind: IoReadFailed, Pos: pos, Message: fmt.Sprintf("expected %d bytes, got %d", n, len(got))}
	}
	return got, nil
}

func matchExact(expected, got []byte, base int, pos token.Position) error {
	for i := range expected {
		if expected[i] != got[i] {
			return &Error{Kind: ResponseMismatch, Pos: pos, Offset: base + i, Expected: expected[i], Got: got[i]}
		}
	}
	return nil
}

// --- expression evaluation ---

func (ec *execCtx) eval(expr ast.Expr) (Value, error) {
	switch e := expr.(type) {
	case ast.Integer:
		return Integer(e.Value), nil
	case ast.Float:
		return Float(e.Value), nil
	case ast.Bytes:
		return Bytes(append([]byte{}, e.Value...)), nil
	case ast.String:
		return String(e.Value), nil
	case ast.Identifier:
		v, ok := ec.env.lookup(e.Name)
		if !ok {
			return nil, errf(UnknownName, e.Pos, "undefined identifier %q", e.Name)
		}
		return v, nil
	case ast.QualifiedIdentifier:
		variants, ok := ec.i.enums[e.Scope]
		if !ok {
			return nil, errf(UnknownName, e.Pos, "unknown enum %q", e.Scope)
		}
		val, ok := variants[e.Name]
		if !ok {
			return nil, errf(UnknownName, e.Pos, "enum %q has no variant %q", e.Scope, e.Name)
		}
		return EnumVariant{Enum: e.Scope, Variant: e.Name, Value: val}, nil
	case ast.BinaryOp:
		return ec.evalBinary(e)
	case ast.Cast:
		return ec.evalCast(e)
	case ast.StringInterpolation:
		return ec.evalTemplateWrite(e)
	}
	return nil, errf(TypeMismatch, expr.Position(), "cannot evaluate expression")
}

// evalTemplateWrite renders a write()-side template to bytes: every literal
// run is copied verbatim, every hole encodes its already-bound variable
// (Integer or EnumVariant, by numeric value) under its format and length.
func (ec *execCtx) evalTemplateWrite(e ast.StringInterpolation) (Value, error) {
	var out []byte
	for _, part := range e.Parts {
		switch p := part.(type) {
		case ast.Literal:
			out = append(out, p.Value...)
		case ast.Variable:
			v, ok := ec.env.lookup(p.Name)
			if !ok {
				return nil, errf(UnknownName, e.Pos, "variable %q used in write() template is not bound", p.Name)
			}
			var num int32
			switch vv := v.(type) {
			case Integer:
				num = int32(vv)
			case EnumVariant:
				num = int32(vv.Value)
			default:
				return nil, errf(TypeMismatch, e.Pos, "variable %q cannot be encoded: not an int or enum", p.Name)
			}
			n := p.Length
			if n == 0 {
				n = 1
			}
			f := dataformat.Default
			if p.Format != "" {
				parsed, err := dataformat.Parse(p.Format)
				if err != nil {
					return nil, &Error{Kind: FormatInvalid, Pos: e.Pos, Message: "write() template", Cause: err}
				}
				f = parsed
			}
			enc, err := dataformat.Encode(f, num, n)
			if err != nil {
				return nil, &Error{Kind: Overflow, Pos: e.Pos, Message: "encoding write() template hole", Cause: err}
			}
			out = append(out, enc...)
		}
	}
	return Bytes(out), nil
}

func isNumeric(v Value) bool {
	switch v.(type) {
	case Integer, Float:
		return true
	}
	return false
}

func asFloat(v Value) float64 {
	switch n := v.(type) {
	case Integer:
		return float64(n)
	case Float:
		return float64(n)
	}
	return 0
}

func (ec *execCtx) evalBinary(e ast.BinaryOp) (Value, error) {
	left, err := ec.eval(e.Left)
	if err != nil {
		return nil, err
	}
	right, err := ec.eval(e.Right)
	if err != nil {
		return nil, err
	}

	switch e.Op {
	case ast.OpAdd:
		if lb, ok := left.(Bytes); ok {
			if rb, ok := right.(Bytes); ok {
				out := make([]byte, 0, len(lb)+len(rb))
				out = append(out, lb...)
				out = append(out, rb...)
				return Bytes(out), nil
			}
		}
		fallthrough
	case ast.OpSub, ast.OpMul, ast.OpDiv, ast.OpMod:
		if !isNumeric(left) || !isNumeric(right) {
			return nil, errf(TypeMismatch, e.Pos, "operator %s requires numeric operands", e.Op)
		}
		_, lFloat := left.(Float)
		_, rFloat := right.(Float)
		if lFloat || rFloat {
			lf, rf := asFloat(left), asFloat(right)
			switch e.Op {
			case ast.OpAdd:
				return Float(lf + rf), nil
			case ast.OpSub:
				return Float(lf - rf), nil
			case ast.OpMul:
				return Float(lf * rf), nil
			case ast.OpDiv:
				if rf == 0 {
					return nil, errf(TypeMismatch, e.Pos, "division by zero")
				}
				return Float(lf / rf), nil
			case ast.OpMod:
				if rf == 0 {
					return nil, errf(TypeMismatch, e.Pos, "modulo by zero")
				}
				return Float(float64(int64(lf) % int64(rf))), nil
			}
		}
		li, ri := int64(left.(Integer)), int64(right.(Integer))
		switch e.Op {
		case ast.OpAdd:
			return Integer(li + ri), nil
		case ast.OpSub:
			return Integer(li - ri), nil
		case ast.OpMul:
			return Integer(li * ri), nil
		case ast.OpDiv:
			if ri == 0 {
				return nil, errf(TypeMismatch, e.Pos, "division by zero")
			}
			return Integer(li / ri), nil
		case ast.OpMod:
			if ri == 0 {
				return nil, errf(TypeMismatch, e.Pos, "modulo by zero")
			}
			return Integer(li % ri), nil
		}
	case ast.OpLt, ast.OpLe, ast.OpGt, ast.OpGe:
		if !isNumeric(left) || !isNumeric(right) {
			return nil, errf(TypeMismatch, e.Pos, "operator %s requires numeric operands", e.Op)
		}
		lf, rf := asFloat(left), asFloat(right)
		switch e.Op {
		case ast.OpLt:
			return Boolean(lf < rf), nil
		case ast.OpLe:
			return Boolean(lf <= rf), nil
		case ast.OpGt:
			return Boolean(lf > rf), nil
		case ast.OpGe:
			return Boolean(lf >= rf), nil
		}
	case ast.OpEq:
		return Boolean(equalValue(left, right)), nil
	case ast.OpNe:
		return Boolean(!equalValue(left, right)), nil
	case ast.OpAnd:
		lb, lok := left.(Boolean)
		rb, rok := right.(Boolean)
		if !lok || !rok {
			return nil, errf(TypeMismatch, e.Pos, "operator && requires bool operands")
		}
		return Boolean(bool(lb) && bool(rb)), nil
	case ast.OpOr:
		lb, lok := left.(Boolean)
		rb, rok := right.(Boolean)
		if !lok || !rok {
			return nil, errf(TypeMismatch, e.Pos, "operator || requires bool operands")
		}
		return Boolean(bool(lb) || bool(rb)), nil
	}
	return nil, errf(TypeMismatch, e.Pos, "unsupported operator %s", e.Op)
}

func (ec *execCtx) evalCast(c ast.Cast) (Value, error) {
	inner, err := ec.eval(c.Expr)
	if err != nil {
		return nil, err
	}
	switch c.Target.Kind {
	case ast.TFloat:
		iv, ok := inner.(Integer)
		if !ok {
			return nil, errf(TypeMismatch, c.Pos, "cannot cast to float")
		}
		return Float(iv), nil
	case ast.TBool:
		iv, ok := inner.(Integer)
		if !ok {
			return nil, errf(TypeMismatch, c.Pos, "cannot cast to bool")
		}
		return Boolean(iv != 0), nil
	case ast.TInt:
		switch v := inner.(type) {
		case Float:
			return Integer(int64(v)), nil
		case Boolean:
			if v {
				return Integer(1), nil
			}
			return Integer(0), nil
		case EnumVariant:
			return Integer(int64(v.Value)), nil
		case Integer:
			return v, nil
		}
		return nil, errf(TypeMismatch, c.Pos, "cannot cast to int")
	case ast.TEnum:
		iv, ok := inner.(Integer)
		if !ok {
			return nil, errf(TypeMismatch, c.Pos, "cannot cast to enum %s", c.Target.Enum)
		}
		rev, ok := ec.i.byVal[c.Target.Enum]
		if !ok {
			return nil, errf(UnknownName, c.Pos, "unknown enum %q", c.Target.Enum)
		}
		name, ok := rev[uint32(iv)]
		if !ok {
			return nil, errf(TypeMismatch, c.Pos, "%d is not a declared value of enum %q", iv, c.Target.Enum)
		}
		return EnumVariant{Enum: c.Target.Enum, Variant: name, Value: uint32(iv)}, nil
	}
	return nil, errf(TypeMismatch, c.Pos, "unsupported cast target %s", c.Target)
}
