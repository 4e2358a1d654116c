// Package parser implements the rig DSL's two concrete grammars — .schema
// and .rig — plus the byte-string template sublanguage.
package parser

import (
	"fmt"

	"github.com/openrigd/rigd/dsl/ast"
	"github.com/openrigd/rigd/dsl/lexer"
	"github.com/openrigd/rigd/dsl/token"
)

type parser struct {
	src    string
	toks   []token.Token
	pos    int
	errors []error
}

func newParser(src string) (*parser, error) {
	toks, err := lexer.All(src)
	if err != nil {
		if le, ok := err.(*lexer.Error); ok {
			return nil, &SyntaxError{Pos: le.Pos, Expected: "valid token", Found: le.Message, source: src}
		}
		return nil, err
	}
	return &parser{src: src, toks: toks}, nil
}

func (p *parser) cur() token.Token  { return p.toks[p.pos] }
func (p *parser) peekK() token.Kind { return p.toks[p.pos].Kind }

func (p *parser) advance() token.Token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) at(k token.Kind) bool { return p.peekK() == k }

func (p *parser) expect(k token.Kind) (token.Token, error) {
	if !p.at(k) {
		found := p.cur()
		e := &SyntaxError{Pos: found.Pos, Expected: k.String(), Found: describeFound(found), source: p.src}
		e.Hint = hint(e.Expected, found)
		return token.Token{}, e
	}
	return p.advance(), nil
}

func describeFound(t token.Token) string {
	if t.Kind == token.EOF {
		return "end of file"
	}
	if t.Text != "" {
		return fmt.Sprintf("%s %q", t.Kind, t.Text)
	}
	return t.Kind.String()
}

func (p *parser) errf(pos token.Position, expected, found string) error {
	return &SyntaxError{Pos: pos, Expected: expected, Found: found, source: p.src}
}

// ---------- Schema grammar ----------

// ParseSchema parses a .schema source file.
func ParseSchema(src string) (*ast.Schema, error) {
	p, err := newParser(src)
	if err != nil {
		return nil, err
	}
	if _, err := p.expectIdentText("version"); err != nil {
		return nil, err
	}
	if _, err := p.expect(token.Assign); err != nil {
		return nil, err
	}
	verTok, err := p.expect(token.Int)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.Semicolon); err != nil {
		return nil, err
	}
	if _, err := p.expect(token.KwSchema); err != nil {
		return nil, err
	}
	nameTok, err := p.expect(token.Ident)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.LBrace); err != nil {
		return nil, err
	}

	schema := &ast.Schema{
		Version:  uint32(verTok.IntVal),
		Name:     nameTok.Text,
		Enums:    map[string][]string{},
		Commands: map[string][]ast.Param{},
		Status:   map[string]ast.Type{},
	}

	for !p.at(token.RBrace) && !p.at(token.EOF) {
		switch p.peekK() {
		case token.KwEnum:
			name, variants, err := p.parseSchemaEnum()
			if err != nil {
				return nil, err
			}
			schema.Enums[name] = variants
		case token.KwFn:
			name, params, err := p.parseSchemaFn()
			if err != nil {
				return nil, err
			}
			schema.Commands[name] = params
		case token.KwStatus:
			fields, err := p.parseSchemaStatus()
			if err != nil {
				return nil, err
			}
			for k, v := range fields {
				schema.Status[k] = v
			}
		default:
			return nil, p.errf(p.cur().Pos, "'enum', 'fn' or 'status'", describeFound(p.cur()))
		}
	}
	if _, err := p.expect(token.RBrace); err != nil {
		return nil, err
	}
	return schema, nil
}

func (p *parser) expectIdentText(text string) (token.Token, error) {
	t, err := p.expect(token.Ident)
	if err != nil {
		return t, err
	}
	if t.Text != text {
		return t, p.errf(t.Pos, fmt.Sprintf("%q", text), describeFound(t))
	}
	return t, nil
}

func (p *parser) parseSchemaEnum() (string, []string, error) {
	p.advance() // enum
	name, err := p.expect(token.Ident)
	if err != nil {
		return "", nil, err
	}
	if _, err := p.expect(token.LBrace); err != nil {
		return "", nil, err
	}
	var variants []string
	for !p.at(token.RBrace) && !p.at(token.EOF) {
		v, err := p.expect(token.Ident)
		if err != nil {
			return "", nil, err
		}
		variants = append(variants, v.Text)
		if p.at(token.Comma) {
			p.advance()
		}
	}
	if _, err := p.expect(token.RBrace); err != nil {
		return "", nil, err
	}
	return name.Text, variants, nil
}

func (p *parser) parseSchemaFn() (string, []ast.Param, error) {
	p.advance() // fn
	name, err := p.expect(token.Ident)
	if err != nil {
		return "", nil, err
	}
	if _, err := p.expect(token.LParen); err != nil {
		return "", nil, err
	}
	var params []ast.Param
	for !p.at(token.RParen) {
		param, err := p.parseParam()
		if err != nil {
			return "", nil, err
		}
		params = append(params, param)
		if p.at(token.Comma) {
			p.advance()
		}
	}
	if _, err := p.expect(token.RParen); err != nil {
		return "", nil, err
	}
	if _, err := p.expect(token.Semicolon); err != nil {
		return "", nil, err
	}
	return name.Text, params, nil
}

func (p *parser) parseSchemaStatus() (map[string]ast.Type, error) {
	p.advance() // status
	if _, err := p.expect(token.LBrace); err != nil {
		return nil, err
	}
	fields := map[string]ast.Type{}
	for !p.at(token.RBrace) && !p.at(token.EOF) {
		typ, err := p.parseType()
		if err != nil {
			return nil, err
		}
		name, err := p.expect(token.Ident)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.Semicolon); err != nil {
			return nil, err
		}
		fields[name.Text] = typ
	}
	if _, err := p.expect(token.RBrace); err != nil {
		return nil, err
	}
	return fields, nil
}

func (p *parser) parseParam() (ast.Param, error) {
	typ, err := p.parseType()
	if err != nil {
		return ast.Param{}, err
	}
	name, err := p.expect(token.Ident)
	if err != nil {
		return ast.Param{}, err
	}
	return ast.Param{Name: name.Text, Type: typ}, nil
}

func (p *parser) parseType() (ast.Type, error) {
	switch p.peekK() {
	case token.KwInt:
		p.advance()
		return ast.Type{Kind: ast.TInt}, nil
	case token.KwBool:
		p.advance()
		return ast.Type{Kind: ast.TBool}, nil
	case token.Ident:
		t := p.advance()
		return ast.Type{Kind: ast.TEnum, Enum: t.Text}, nil
	}
	return ast.Type{}, p.errf(p.cur().Pos, "type (int, bool or enum name)", describeFound(p.cur()))
}

// ---------- Rig grammar ----------

// ParseRig parses a .rig source file.
func ParseRig(src string) (*ast.RigFile, error) {
	p, err := newParser(src)
	if err != nil {
		return nil, err
	}
	rig := &ast.RigFile{
		Commands: map[string]ast.Command{},
	}
	for p.at(token.Ident) && p.peekAhead(1) == token.Assign {
		name, expr, err := p.parseSetting()
		if err != nil {
			return nil, err
		}
		rig.Settings = append(rig.Settings, ast.Setting{Name: name, Expr: expr})
	}
	if err := p.parseImplBlock(rig); err != nil {
		return nil, err
	}
	if _, err := p.expect(token.EOF); err != nil {
		return nil, err
	}
	return rig, nil
}

func (p *parser) peekAhead(n int) token.Kind {
	idx := p.pos + n
	if idx >= len(p.toks) {
		return token.EOF
	}
	return p.toks[idx].Kind
}

func (p *parser) parseSetting() (string, ast.Expr, error) {
	name, err := p.expect(token.Ident)
	if err != nil {
		return "", nil, err
	}
	if _, err := p.expect(token.Assign); err != nil {
		return "", nil, err
	}
	expr, err := p.parseExpr()
	if err != nil {
		return "", nil, err
	}
	if _, err := p.expect(token.Semicolon); err != nil {
		return "", nil, err
	}
	return name.Text, expr, nil
}

func (p *parser) parseImplBlock(rig *ast.RigFile) error {
	if _, err := p.expect(token.KwImpl); err != nil {
		return err
	}
	schemaName, err := p.expect(token.Ident)
	if err != nil {
		return err
	}
	if _, err := p.expect(token.KwFor); err != nil {
		return err
	}
	modelName, err := p.expect(token.Ident)
	if err != nil {
		return err
	}
	rig.Schema = schemaName.Text
	rig.Name = modelName.Text
	if _, err := p.expect(token.LBrace); err != nil {
		return err
	}
	for !p.at(token.RBrace) && !p.at(token.EOF) {
		switch p.peekK() {
		case token.KwEnum:
			def, err := p.parseRigEnum()
			if err != nil {
				return err
			}
			rig.Enums = append(rig.Enums, def)
		case token.KwInit:
			body, err := p.parseBracedBlock()
			if err != nil {
				return err
			}
			rig.Init = body
			rig.HasInit = true
		case token.KwStatus:
			p.advance()
			body, err := p.parseStmtBlock()
			if err != nil {
				return err
			}
			rig.Status = body
			rig.HasState = true
		case token.KwFn:
			cmd, err := p.parseCommand()
			if err != nil {
				return err
			}
			rig.Commands[cmd.Name] = cmd
		default:
			return p.errf(p.cur().Pos, "'enum', 'init', 'status' or 'fn'", describeFound(p.cur()))
		}
	}
	if _, err := p.expect(token.RBrace); err != nil {
		return err
	}
	return nil
}

func (p *parser) parseBracedBlock() ([]ast.Statement, error) {
	p.advance() // init/status keyword
	return p.parseStmtBlock()
}

func (p *parser) parseStmtBlock() ([]ast.Statement, error) {
	if _, err := p.expect(token.LBrace); err != nil {
		return nil, err
	}
	var stmts []ast.Statement
	for !p.at(token.RBrace) && !p.at(token.EOF) {
		s, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s)
	}
	if _, err := p.expect(token.RBrace); err != nil {
		return nil, err
	}
	return stmts, nil
}

func (p *parser) parseRigEnum() (ast.EnumDef, error) {
	p.advance() // enum
	name, err := p.expect(token.Ident)
	if err != nil {
		return ast.EnumDef{}, err
	}
	if _, err := p.expect(token.LBrace); err != nil {
		return ast.EnumDef{}, err
	}
	def := ast.EnumDef{Name: name.Text}
	for !p.at(token.RBrace) && !p.at(token.EOF) {
		vname, err := p.expect(token.Ident)
		if err != nil {
			return ast.EnumDef{}, err
		}
		if _, err := p.expect(token.Assign); err != nil {
			return ast.EnumDef{}, err
		}
		var vval token.Token
		if p.at(token.Hex) {
			vval = p.advance()
		} else {
			vval, err = p.expect(token.Int)
			if err != nil {
				return ast.EnumDef{}, err
			}
		}
		def.Variants = append(def.Variants, ast.EnumVariantDef{Name: vname.Text, Value: uint32(vval.IntVal)})
		if p.at(token.Comma) {
			p.advance()
		}
	}
	if _, err := p.expect(token.RBrace); err != nil {
		return ast.EnumDef{}, err
	}
	return def, nil
}

func (p *parser) parseCommand() (ast.Command, error) {
	pos := p.cur().Pos
	p.advance() // fn
	name, err := p.expect(token.Ident)
	if err != nil {
		return ast.Command{}, err
	}
	if _, err := p.expect(token.LParen); err != nil {
		return ast.Command{}, err
	}
	var params []ast.Param
	for !p.at(token.RParen) {
		param, err := p.parseParam()
		if err != nil {
			return ast.Command{}, err
		}
		params = append(params, param)
		if p.at(token.Comma) {
			p.advance()
		}
	}
	if _, err := p.expect(token.RParen); err != nil {
		return ast.Command{}, err
	}
	body, err := p.parseStmtBlock()
	if err != nil {
		return ast.Command{}, err
	}
	return ast.Command{Name: name.Text, Params: params, Body: body, Pos: pos}, nil
}

func (p *parser) parseStatement() (ast.Statement, error) {
	pos := p.cur().Pos
	switch p.peekK() {
	case token.KwIf:
		return p.parseIf()
	case token.Ident:
		if p.peekAhead(1) == token.LParen {
			return p.parseCallStatement()
		}
		name := p.advance()
		if _, err := p.expect(token.Assign); err != nil {
			return nil, err
		}
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.Semicolon); err != nil {
			return nil, err
		}
		return ast.Assign{Name: name.Text, Expr: expr, Pos: pos}, nil
	}
	return nil, p.errf(pos, "statement", describeFound(p.cur()))
}

func (p *parser) parseCallStatement() (ast.Statement, error) {
	pos := p.cur().Pos
	name := p.advance()
	p.advance() // (
	var args []ast.Expr
	for !p.at(token.RParen) {
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.at(token.Comma) {
			p.advance()
		}
	}
	if _, err := p.expect(token.RParen); err != nil {
		return nil, err
	}
	if _, err := p.expect(token.Semicolon); err != nil {
		return nil, err
	}
	return ast.FunctionCall{Name: name.Text, Args: args, Pos: pos}, nil
}

func (p *parser) parseIf() (ast.Statement, error) {
	pos := p.cur().Pos
	p.advance() // if
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	then, err := p.parseStmtBlock()
	if err != nil {
		return nil, err
	}
	stmt := ast.If{Condition: cond, Then: then, Pos: pos}
	if p.at(token.KwElse) {
		p.advance()
		if p.at(token.KwIf) {
			elseStmt, err := p.parseIf()
			if err != nil {
				return nil, err
			}
			stmt.Else = []ast.Statement{elseStmt}
		} else {
			elseBody, err := p.parseStmtBlock()
			if err != nil {
				return nil, err
			}
			stmt.Else = elseBody
		}
	}
	return stmt, nil
}

// ---------- Expressions (precedence climbing) ----------

func (p *parser) parseExpr() (ast.Expr, error) { return p.parseOr() }

func (p *parser) parseOr() (ast.Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.at(token.OrOr) {
		pos := p.advance().Pos
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = ast.BinaryOp{Left: left, Op: ast.OpOr, Right: right, Pos: pos}
	}
	return left, nil
}

func (p *parser) parseAnd() (ast.Expr, error) {
	left, err := p.parseEquality()
	if err != nil {
		return nil, err
	}
	for p.at(token.AndAnd) {
		pos := p.advance().Pos
		right, err := p.parseEquality()
		if err != nil {
			return nil, err
		}
		left = ast.BinaryOp{Left: left, Op: ast.OpAnd, Right: right, Pos: pos}
	}
	return left, nil
}

func (p *parser) parseEquality() (ast.Expr, error) {
	left, err := p.parseRelational()
	if err != nil {
		return nil, err
	}
	for p.at(token.Eq) || p.at(token.Ne) {
		op := ast.OpEq
		if p.at(token.Ne) {
			op = ast.OpNe
		}
		pos := p.advance().Pos
		right, err := p.parseRelational()
		if err != nil {
			return nil, err
		}
		left = ast.BinaryOp{Left: left, Op: op, Right: right, Pos: pos}
	}
	return left, nil
}

func (p *parser) parseRelational() (ast.Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for p.at(token.Lt) || p.at(token.Le) || p.at(token.Gt) || p.at(token.Ge) {
		var op ast.BinOp
		switch p.peekK() {
		case token.Lt:
			op = ast.OpLt
		case token.Le:
			op = ast.OpLe
		case token.Gt:
			op = ast.OpGt
		case token.Ge:
			op = ast.OpGe
		}
		pos := p.advance().Pos
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = ast.BinaryOp{Left: left, Op: op, Right: right, Pos: pos}
	}
	return left, nil
}

func (p *parser) parseAdditive() (ast.Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.at(token.Plus) || p.at(token.Minus) {
		op := ast.OpAdd
		if p.at(token.Minus) {
			op = ast.OpSub
		}
		pos := p.advance().Pos
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = ast.BinaryOp{Left: left, Op: op, Right: right, Pos: pos}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (ast.Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.at(token.Star) || p.at(token.Slash) || p.at(token.Percent) {
		var op ast.BinOp
		switch p.peekK() {
		case token.Star:
			op = ast.OpMul
		case token.Slash:
			op = ast.OpDiv
		case token.Percent:
			op = ast.OpMod
		}
		pos := p.advance().Pos
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = ast.BinaryOp{Left: left, Op: op, Right: right, Pos: pos}
	}
	return left, nil
}

func (p *parser) parseUnary() (ast.Expr, error) {
	if p.at(token.Minus) {
		pos := p.advance().Pos
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return ast.BinaryOp{Left: ast.Integer{Value: 0, Pos: pos}, Op: ast.OpSub, Right: operand, Pos: pos}, nil
	}
	return p.parseCastOrAtomic()
}

// parseCastOrAtomic implements the "cast atomic" rung of the precedence
// ladder. The grammar sketch lists cast between the arithmetic operators
// and atomic without giving cast its own surface syntax; this DSL spells a
// cast as a call whose callee is a type name: int(x), bool(x), Vfo(x).
func (p *parser) parseCastOrAtomic() (ast.Expr, error) {
	switch p.peekK() {
	case token.KwInt:
		pos := p.advance().Pos
		return p.parseCastArgs(ast.Type{Kind: ast.TInt}, pos)
	case token.KwBool:
		pos := p.advance().Pos
		return p.parseCastArgs(ast.Type{Kind: ast.TBool}, pos)
	}
	return p.parseAtomic()
}

func (p *parser) parseCastArgs(target ast.Type, pos token.Position) (ast.Expr, error) {
	if _, err := p.expect(token.LParen); err != nil {
		return nil, err
	}
	inner, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.RParen); err != nil {
		return nil, err
	}
	return ast.Cast{Expr: inner, Target: target, Pos: pos}, nil
}

func (p *parser) parseAtomic() (ast.Expr, error) {
	t := p.cur()
	switch t.Kind {
	case token.Int:
		p.advance()
		return ast.Integer{Value: t.IntVal, Pos: t.Pos}, nil
	case token.Hex:
		p.advance()
		return ast.Integer{Value: t.IntVal, Pos: t.Pos}, nil
	case token.Float:
		p.advance()
		return ast.Float{Value: t.FloatVal, Pos: t.Pos}, nil
	case token.ByteString:
		p.advance()
		parts, err := parseTemplate(t.Text, t.Pos)
		if err != nil {
			return nil, err
		}
		if isPureLiteral(parts) {
			return ast.Bytes{Value: literalBytes(parts), Pos: t.Pos}, nil
		}
		return ast.StringInterpolation{Parts: parts, Pos: t.Pos}, nil
	case token.TextString:
		p.advance()
		return ast.String{Value: t.Text, Pos: t.Pos}, nil
	case token.Ident:
		p.advance()
		if p.at(token.ColonColon) {
			p.advance()
			v, err := p.expect(token.Ident)
			if err != nil {
				return nil, err
			}
			return ast.QualifiedIdentifier{Scope: t.Text, Name: v.Text, Pos: t.Pos}, nil
		}
		if p.at(token.LParen) {
			return p.parseCastArgs(ast.Type{Kind: ast.TEnum, Enum: t.Text}, t.Pos)
		}
		return ast.Identifier{Name: t.Text, Pos: t.Pos}, nil
	case token.LParen:
		p.advance()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.RParen); err != nil {
			return nil, err
		}
		return inner, nil
	}
	return nil, p.errf(t.Pos, "expression", describeFound(t))
}

func isPureLiteral(parts []ast.TemplatePart) bool {
	for _, part := range parts {
		if _, ok := part.(ast.Literal); !ok {
			return false
		}
	}
	return true
}

func literalBytes(parts []ast.TemplatePart) []byte {
	var out []byte
	for _, part := range parts {
		out = append(out, part.(ast.Literal).Value...)
	}
	return out
}
