package syntax

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/szl-sub002/ast"
	"github.com/google/szl-sub002/types"
	"github.com/google/szl-sub002/vm"
)

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// Error is a compile-time diagnostic.
type Error struct {
	File string
	Pos  ast.Position
	Msg  string
}

func (e *Error) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Pos.Line, e.Pos.Column, e.Msg)
	}
	return fmt.Sprintf("%d:%d: %s", e.Pos.Line, e.Pos.Column, e.Msg)
}

// ErrorList collects diagnostics in source order.
type ErrorList []*Error

func (l ErrorList) Error() string {
	switch len(l) {
	case 0:
		return "no errors"
	case 1:
		return l[0].Error()
	}
	msgs := make([]string, len(l))
	for i, e := range l {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "\n")
}

// Err returns l as an error, or nil when it is empty.
func (l ErrorList) Err() error {
	if len(l) == 0 {
		return nil
	}
	return l
}

// maxErrors bounds the diagnostics reported for one file.
const maxErrors = 25

// ---------------------------------------------------------------------------
// Parser: recursive descent parser for szl source
// ---------------------------------------------------------------------------

// Parser parses szl source code into an AST.
type Parser struct {
	lexer     *Lexer
	file      string
	curToken  Token
	peekToken Token
	prevPos   ast.Position // start of the last consumed token
	prevType  TokenType
	errors    ErrorList
	nerr      int // errors seen, including suppressed ones
}

// NewParser creates a new parser for the given input.
func NewParser(file, input string) *Parser {
	p := &Parser{
		lexer: NewLexer(input),
		file:  file,
	}
	// Read two tokens to fill curToken and peekToken
	p.nextToken()
	p.nextToken()
	return p
}

// Parse parses a complete source file.
func Parse(file, input string) (*ast.Program, error) {
	p := NewParser(file, input)
	prog := p.ParseProgram()
	return prog, p.errors.Err()
}

// nextToken advances to the next token.
func (p *Parser) nextToken() {
	p.prevPos = p.curToken.Pos
	p.prevType = p.curToken.Type
	p.curToken = p.peekToken
	p.peekToken = p.lexer.NextToken()
	for p.peekToken.Type == TokenError {
		p.errorAt(p.peekToken.Pos, "%s", p.peekToken.Literal)
		p.peekToken = p.lexer.NextToken()
	}
}

// curTokenIs checks if the current token is of the given type.
func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

// peekTokenIs checks if the peek token is of the given type.
func (p *Parser) peekTokenIs(t TokenType) bool {
	return p.peekToken.Type == t
}

// expect advances if the current token matches, otherwise records an error.
func (p *Parser) expect(t TokenType) bool {
	if p.curTokenIs(t) {
		p.nextToken()
		return true
	}
	p.errorf("expected %s, got %s", t, p.curToken)
	return false
}

// errorf records a parse error at the current token.
func (p *Parser) errorf(format string, args ...interface{}) {
	p.errorAt(p.curToken.Pos, format, args...)
}

func (p *Parser) errorAt(pos ast.Position, format string, args ...interface{}) {
	p.nerr++
	if len(p.errors) >= maxErrors {
		return
	}
	// One error per line keeps cascades out of the report.
	if n := len(p.errors); n > 0 && p.errors[n-1].Pos.Line == pos.Line {
		return
	}
	p.errors = append(p.errors, &Error{File: p.file, Pos: pos, Msg: fmt.Sprintf(format, args...)})
}

// Errors returns accumulated parse errors.
func (p *Parser) Errors() ErrorList {
	return p.errors
}

func (p *Parser) span(start ast.Position) ast.Span {
	return ast.Span{Start: start, End: p.prevPos}
}

// sync skips to just past the next semicolon or to a closing brace.
func (p *Parser) sync() {
	for !p.curTokenIs(TokenEOF) && !p.curTokenIs(TokenRBrace) {
		if p.curTokenIs(TokenSemi) {
			p.nextToken()
			return
		}
		p.nextToken()
	}
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// ParseProgram parses statements up to EOF.
func (p *Parser) ParseProgram() *ast.Program {
	prog := &ast.Program{File: p.file}
	for !p.curTokenIs(TokenEOF) {
		if p.curTokenIs(TokenRBrace) {
			p.errorf("unexpected }")
			p.nextToken()
			continue
		}
		if s := p.parseStatementOrSync(); s != nil {
			prog.Stmts = append(prog.Stmts, s)
		}
	}
	return prog
}

func (p *Parser) parseStatementOrSync() ast.Stmt {
	n := p.nerr
	start := p.curToken.Pos
	s := p.ParseStatement()
	if p.nerr > n {
		if p.curToken.Pos == start {
			p.nextToken()
		} else if p.prevType == TokenSemi {
			return nil
		}
		p.sync()
		return nil
	}
	return s
}

// ParseStatement parses a single statement. Empty statements return nil.
func (p *Parser) ParseStatement() ast.Stmt {
	switch p.curToken.Type {
	case TokenSemi:
		p.nextToken()
		return nil
	case TokenLBrace:
		return p.parseBlock()
	case TokenIf:
		return p.parseIf()
	case TokenWhile:
		return p.parseWhile()
	case TokenDo:
		return p.parseDo()
	case TokenFor:
		return p.parseFor()
	case TokenBreak, TokenContinue:
		start := p.curToken.Pos
		cont := p.curTokenIs(TokenContinue)
		p.nextToken()
		p.expect(TokenSemi)
		return &ast.BranchStmt{SpanVal: p.span(start), Continue: cont}
	case TokenReturn:
		return p.parseReturn()
	case TokenEmit:
		return p.parseEmit()
	case TokenType_:
		return p.parseTypeDecl()
	case TokenStatic:
		start := p.curToken.Pos
		p.nextToken()
		if !p.curTokenIs(TokenIdent) {
			p.errorf("expected declaration after static")
			return nil
		}
		d := p.parseDeclaration()
		if d == nil {
			return nil
		}
		d.Static = true
		d.SpanVal.Start = start
		return p.finishDecl(d)
	case TokenIdent:
		if p.peekTokenIs(TokenColon) || p.peekTokenIs(TokenDefine) {
			d := p.parseDeclaration()
			if d == nil {
				return nil
			}
			return p.finishDecl(d)
		}
	}
	s := p.parseSimpleStmt()
	p.expect(TokenSemi)
	return s
}

// finishDecl consumes the terminator of a declaration. Function
// declarations with a body may omit it.
func (p *Parser) finishDecl(d *ast.VarDecl) ast.Stmt {
	if _, ok := d.Init.(*ast.FuncLit); ok && d.TypeX != nil {
		if p.curTokenIs(TokenSemi) {
			p.nextToken()
		}
		return d
	}
	p.expect(TokenSemi)
	return d
}

// parseDeclaration parses "x: T", "x: T = e", "x := e" and
// "f: function(...) { ... }" without the terminator.
func (p *Parser) parseDeclaration() *ast.VarDecl {
	start := p.curToken.Pos
	d := &ast.VarDecl{Name: p.curToken.Literal, Slot: -1, Table: -1}
	p.nextToken()
	if p.curTokenIs(TokenDefine) {
		p.nextToken()
		d.Init = p.parseExpr()
		d.SpanVal = p.span(start)
		return d
	}
	if !p.expect(TokenColon) {
		return nil
	}
	d.TypeX = p.parseType()
	if d.TypeX == nil {
		return nil
	}
	if ft, ok := d.TypeX.(*ast.FuncType); ok && p.curTokenIs(TokenLBrace) {
		body := p.parseBlock()
		d.Init = &ast.FuncLit{
			ExprBase: ast.ExprBase{SpanVal: p.span(ft.SpanVal.Start)},
			Sig:      ft,
			Body:     body,
			Name:     d.Name,
		}
	} else if p.curTokenIs(TokenAssign) {
		p.nextToken()
		d.Init = p.parseExpr()
	}
	d.SpanVal = p.span(start)
	return d
}

func (p *Parser) parseTypeDecl() ast.Stmt {
	start := p.curToken.Pos
	p.nextToken()
	if !p.curTokenIs(TokenIdent) {
		p.errorf("expected type name, got %s", p.curToken)
		return nil
	}
	d := &ast.TypeDecl{Name: p.curToken.Literal}
	p.nextToken()
	if !p.expect(TokenAssign) {
		return nil
	}
	d.TypeX = p.parseType()
	p.expect(TokenSemi)
	d.SpanVal = p.span(start)
	return d
}

// parseSimpleStmt parses an expression statement, an assignment or an
// increment.
func (p *Parser) parseSimpleStmt() ast.Stmt {
	start := p.curToken.Pos
	x := p.parseExpr()
	if x == nil {
		return nil
	}
	switch p.curToken.Type {
	case TokenAssign:
		p.nextToken()
		rhs := p.parseExpr()
		return &ast.AssignStmt{SpanVal: p.span(start), LHS: x, RHS: rhs}
	case TokenInc, TokenDec:
		delta := 1
		if p.curTokenIs(TokenDec) {
			delta = -1
		}
		p.nextToken()
		return &ast.IncDecStmt{SpanVal: p.span(start), X: x, Delta: delta}
	}
	return &ast.ExprStmt{SpanVal: p.span(start), X: x}
}

func (p *Parser) parseBlock() *ast.Block {
	start := p.curToken.Pos
	b := &ast.Block{}
	p.expect(TokenLBrace)
	for !p.curTokenIs(TokenRBrace) && !p.curTokenIs(TokenEOF) {
		if s := p.parseStatementOrSync(); s != nil {
			b.Stmts = append(b.Stmts, s)
		}
	}
	p.expect(TokenRBrace)
	b.SpanVal = p.span(start)
	return b
}

// parseParenExpr parses "(" Expr ")".
func (p *Parser) parseParenExpr() ast.Expr {
	p.expect(TokenLParen)
	x := p.parseExpr()
	p.expect(TokenRParen)
	return x
}

func (p *Parser) parseBody() ast.Stmt {
	s := p.ParseStatement()
	if s == nil {
		return &ast.Block{SpanVal: p.span(p.prevPos)}
	}
	return s
}

func (p *Parser) parseIf() ast.Stmt {
	start := p.curToken.Pos
	p.nextToken()
	s := &ast.IfStmt{Cond: p.parseParenExpr()}
	s.Then = p.parseBody()
	if p.curTokenIs(TokenElse) {
		p.nextToken()
		s.Else = p.parseBody()
	}
	s.SpanVal = p.span(start)
	return s
}

func (p *Parser) parseWhile() ast.Stmt {
	start := p.curToken.Pos
	p.nextToken()
	s := &ast.WhileStmt{Cond: p.parseParenExpr()}
	s.Body = p.parseBody()
	s.SpanVal = p.span(start)
	return s
}

func (p *Parser) parseDo() ast.Stmt {
	start := p.curToken.Pos
	p.nextToken()
	s := &ast.DoStmt{Body: p.parseBody()}
	p.expect(TokenWhile)
	s.Cond = p.parseParenExpr()
	p.expect(TokenSemi)
	s.SpanVal = p.span(start)
	return s
}

func (p *Parser) parseFor() ast.Stmt {
	start := p.curToken.Pos
	p.nextToken()
	p.expect(TokenLParen)
	s := &ast.ForStmt{}
	if !p.curTokenIs(TokenSemi) {
		if p.curTokenIs(TokenIdent) && (p.peekTokenIs(TokenColon) || p.peekTokenIs(TokenDefine)) {
			if d := p.parseDeclaration(); d != nil {
				s.Init = d
			}
		} else {
			s.Init = p.parseSimpleStmt()
		}
	}
	p.expect(TokenSemi)
	if !p.curTokenIs(TokenSemi) {
		s.Cond = p.parseExpr()
	}
	p.expect(TokenSemi)
	if !p.curTokenIs(TokenRParen) {
		s.Post = p.parseSimpleStmt()
	}
	p.expect(TokenRParen)
	s.Body = p.parseBody()
	s.SpanVal = p.span(start)
	return s
}

func (p *Parser) parseReturn() ast.Stmt {
	start := p.curToken.Pos
	p.nextToken()
	s := &ast.ReturnStmt{}
	if !p.curTokenIs(TokenSemi) {
		s.Result = p.parseExpr()
	}
	p.expect(TokenSemi)
	s.SpanVal = p.span(start)
	return s
}

// parseEmit parses "emit t[i]... <- value [weight w];".
func (p *Parser) parseEmit() ast.Stmt {
	start := p.curToken.Pos
	p.nextToken()
	if !p.curTokenIs(TokenIdent) {
		p.errorf("expected table name after emit, got %s", p.curToken)
		return nil
	}
	s := &ast.EmitStmt{Table: &ast.Ident{
		ExprBase: ast.ExprBase{SpanVal: ast.Span{Start: p.curToken.Pos, End: p.curToken.Pos}},
		Name:     p.curToken.Literal,
	}}
	p.nextToken()
	for p.curTokenIs(TokenLBracket) {
		p.nextToken()
		s.Indices = append(s.Indices, p.parseExpr())
		p.expect(TokenRBracket)
	}
	if !p.expect(TokenArrow) {
		return nil
	}
	s.Value = p.parseExpr()
	if p.curTokenIs(TokenWeight) {
		p.nextToken()
		s.Weight = p.parseExpr()
	}
	p.expect(TokenSemi)
	s.SpanVal = p.span(start)
	return s
}

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

// optionalName consumes "name :" when present.
func (p *Parser) optionalName() string {
	if p.curTokenIs(TokenIdent) && p.peekTokenIs(TokenColon) {
		name := p.curToken.Literal
		p.nextToken()
		p.nextToken()
		return name
	}
	return ""
}

func (p *Parser) parseType() ast.TypeExpr {
	start := p.curToken.Pos
	switch p.curToken.Type {
	case TokenIdent:
		name := p.curToken.Literal
		p.nextToken()
		return &ast.NamedType{SpanVal: p.span(start), Name: name}

	case TokenArray:
		p.nextToken()
		p.expect(TokenOf)
		p.optionalName()
		elem := p.parseType()
		if elem == nil {
			return nil
		}
		return &ast.ArrayType{SpanVal: p.span(start), Elem: elem}

	case TokenMap:
		p.nextToken()
		p.expect(TokenLBracket)
		p.optionalName()
		key := p.parseType()
		p.expect(TokenRBracket)
		p.expect(TokenOf)
		p.optionalName()
		elem := p.parseType()
		if key == nil || elem == nil {
			return nil
		}
		return &ast.MapType{SpanVal: p.span(start), Key: key, Elem: elem}

	case TokenLBrace:
		return p.parseTupleType()

	case TokenFunction:
		if ft := p.parseFuncType(); ft != nil {
			return ft
		}
		return nil

	case TokenTable:
		return p.parseTableType()
	}
	p.errorf("expected type, got %s", p.curToken)
	return nil
}

func (p *Parser) parseTupleType() ast.TypeExpr {
	start := p.curToken.Pos
	p.nextToken()
	t := &ast.TupleType{}
	for !p.curTokenIs(TokenRBrace) && !p.curTokenIs(TokenEOF) {
		f := ast.FieldDecl{Name: p.optionalName()}
		if f.TypeX = p.parseType(); f.TypeX == nil {
			return nil
		}
		if p.curTokenIs(TokenAt) {
			p.nextToken()
			if !p.curTokenIs(TokenInt) {
				p.errorf("expected field tag, got %s", p.curToken)
				return nil
			}
			tag, err := strconv.ParseInt(p.curToken.Literal, 0, 32)
			if err != nil || tag <= 0 {
				p.errorf("bad field tag %s", p.curToken.Literal)
			}
			f.Tag = int(tag)
			p.nextToken()
		}
		t.Fields = append(t.Fields, f)
		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken()
	}
	p.expect(TokenRBrace)
	t.SpanVal = p.span(start)
	return t
}

func (p *Parser) parseFuncType() *ast.FuncType {
	start := p.curToken.Pos
	p.nextToken()
	ft := &ast.FuncType{}
	p.expect(TokenLParen)
	for !p.curTokenIs(TokenRParen) && !p.curTokenIs(TokenEOF) {
		if !p.curTokenIs(TokenIdent) || !p.peekTokenIs(TokenColon) {
			p.errorf("expected parameter name, got %s", p.curToken)
			return nil
		}
		param := ast.ParamDecl{Name: p.curToken.Literal}
		p.nextToken()
		p.nextToken()
		if param.TypeX = p.parseType(); param.TypeX == nil {
			return nil
		}
		ft.Params = append(ft.Params, param)
		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken()
	}
	p.expect(TokenRParen)
	if p.curTokenIs(TokenColon) {
		p.nextToken()
		ft.Result = p.parseType()
	}
	ft.SpanVal = p.span(start)
	return ft
}

// parseTableType parses
//
//	table kind(param)[name: index]... of name: elem weight name: w
func (p *Parser) parseTableType() ast.TypeExpr {
	start := p.curToken.Pos
	p.nextToken()
	if !p.curTokenIs(TokenIdent) {
		p.errorf("expected table kind, got %s", p.curToken)
		return nil
	}
	t := &ast.TableType{Kind: p.curToken.Literal}
	p.nextToken()
	if p.curTokenIs(TokenLParen) {
		t.Param = p.parseParenExpr()
	}
	for p.curTokenIs(TokenLBracket) {
		p.nextToken()
		p.optionalName()
		idx := p.parseType()
		if idx == nil {
			return nil
		}
		t.Indices = append(t.Indices, idx)
		p.expect(TokenRBracket)
	}
	if !p.expect(TokenOf) {
		return nil
	}
	t.ElemName = p.optionalName()
	if t.Elem = p.parseType(); t.Elem == nil {
		return nil
	}
	if p.curTokenIs(TokenWeight) {
		p.nextToken()
		t.WeightName = p.optionalName()
		if t.Weight = p.parseType(); t.Weight == nil {
			return nil
		}
	}
	t.SpanVal = p.span(start)
	return t
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// ParseExpression parses a single expression.
func (p *Parser) ParseExpression() ast.Expr {
	return p.parseExpr()
}

func (p *Parser) parseExpr() ast.Expr {
	return p.parseOr()
}

func (p *Parser) binary(start ast.Position, op string, x, y ast.Expr) ast.Expr {
	if x == nil || y == nil {
		return nil
	}
	return &ast.BinaryExpr{ExprBase: ast.ExprBase{SpanVal: p.span(start)}, Op: op, X: x, Y: y}
}

func (p *Parser) parseOr() ast.Expr {
	start := p.curToken.Pos
	x := p.parseAnd()
	for p.curTokenIs(TokenOrOr) || p.curTokenIs(TokenOr) {
		p.nextToken()
		x = p.binary(start, "||", x, p.parseAnd())
	}
	return x
}

func (p *Parser) parseAnd() ast.Expr {
	start := p.curToken.Pos
	x := p.parseComparison()
	for p.curTokenIs(TokenAndAnd) || p.curTokenIs(TokenAnd) {
		p.nextToken()
		x = p.binary(start, "&&", x, p.parseComparison())
	}
	return x
}

var comparisonOps = map[TokenType]bool{
	TokenEq: true, TokenNe: true, TokenLt: true, TokenLe: true, TokenGt: true, TokenGe: true,
}

func (p *Parser) parseComparison() ast.Expr {
	start := p.curToken.Pos
	x := p.parseAdditive()
	if comparisonOps[p.curToken.Type] {
		op := p.curToken.Literal
		p.nextToken()
		x = p.binary(start, op, x, p.parseAdditive())
	}
	return x
}

func (p *Parser) parseAdditive() ast.Expr {
	start := p.curToken.Pos
	x := p.parseMultiplicative()
	for {
		switch p.curToken.Type {
		case TokenPlus, TokenMinus, TokenPipe, TokenCaret:
			op := p.curToken.Literal
			p.nextToken()
			x = p.binary(start, op, x, p.parseMultiplicative())
		default:
			return x
		}
	}
}

func (p *Parser) parseMultiplicative() ast.Expr {
	start := p.curToken.Pos
	x := p.parseUnary()
	for {
		switch p.curToken.Type {
		case TokenStar, TokenSlash, TokenPercent, TokenShl, TokenShr, TokenAmp:
			op := p.curToken.Literal
			p.nextToken()
			x = p.binary(start, op, x, p.parseUnary())
		default:
			return x
		}
	}
}

func (p *Parser) parseUnary() ast.Expr {
	start := p.curToken.Pos
	var op string
	switch p.curToken.Type {
	case TokenMinus:
		op = "-"
	case TokenBang, TokenNot:
		op = "!"
	case TokenTilde:
		op = "~"
	case TokenPlus:
		p.nextToken()
		return p.parseUnary()
	default:
		return p.parsePostfix()
	}
	p.nextToken()
	if op == "-" && p.curTokenIs(TokenInt) && p.curToken.Literal == "9223372036854775808" {
		p.nextToken()
		return &ast.Literal{ExprBase: ast.ExprBase{SpanVal: p.span(start)}, Kind: types.Int, Int: math.MinInt64}
	}
	x := p.parseUnary()
	if x == nil {
		return nil
	}
	if lit, ok := x.(*ast.Literal); ok && op == "-" {
		switch lit.Kind {
		case types.Int:
			lit.Int = -lit.Int
			lit.SpanVal.Start = start
			return lit
		case types.Float:
			lit.Float = -lit.Float
			lit.SpanVal.Start = start
			return lit
		}
	}
	return &ast.UnaryExpr{ExprBase: ast.ExprBase{SpanVal: p.span(start)}, Op: op, X: x}
}

func (p *Parser) parsePostfix() ast.Expr {
	start := p.curToken.Pos
	x := p.parsePrimary()
	for x != nil {
		switch p.curToken.Type {
		case TokenLParen:
			p.nextToken()
			call := &ast.CallExpr{Fun: x}
			for !p.curTokenIs(TokenRParen) && !p.curTokenIs(TokenEOF) {
				arg := p.parseExpr()
				if arg == nil {
					return nil
				}
				call.Args = append(call.Args, arg)
				if !p.curTokenIs(TokenComma) {
					break
				}
				p.nextToken()
			}
			p.expect(TokenRParen)
			call.SpanVal = p.span(start)
			x = call

		case TokenLBracket:
			p.nextToken()
			var lo, hi ast.Expr
			if !p.curTokenIs(TokenColon) {
				lo = p.parseExpr()
			}
			if p.curTokenIs(TokenColon) {
				p.nextToken()
				if !p.curTokenIs(TokenRBracket) {
					hi = p.parseExpr()
				}
				p.expect(TokenRBracket)
				x = &ast.SliceExpr{ExprBase: ast.ExprBase{SpanVal: p.span(start)}, X: x, Lo: lo, Hi: hi}
				continue
			}
			p.expect(TokenRBracket)
			if lo == nil {
				return nil
			}
			x = &ast.IndexExpr{ExprBase: ast.ExprBase{SpanVal: p.span(start)}, X: x, Index: lo}

		case TokenPeriod:
			p.nextToken()
			if !p.curTokenIs(TokenIdent) {
				p.errorf("expected field name, got %s", p.curToken)
				return nil
			}
			sel := p.curToken.Literal
			p.nextToken()
			x = &ast.SelectorExpr{ExprBase: ast.ExprBase{SpanVal: p.span(start)}, X: x, Sel: sel, Field: -1}

		default:
			return x
		}
	}
	return x
}

func (p *Parser) parsePrimary() ast.Expr {
	tok := p.curToken
	base := ast.ExprBase{SpanVal: ast.Span{Start: tok.Pos, End: tok.Pos}}
	switch tok.Type {
	case TokenIdent:
		p.nextToken()
		return &ast.Ident{ExprBase: base, Name: tok.Literal}

	case TokenInt:
		p.nextToken()
		v, err := strconv.ParseInt(tok.Literal, 0, 64)
		if err != nil {
			p.errorAt(tok.Pos, "integer literal %s out of range", tok.Literal)
			return nil
		}
		return &ast.Literal{ExprBase: base, Kind: types.Int, Int: v}

	case TokenUInt, TokenFingerprint:
		p.nextToken()
		v, err := strconv.ParseUint(tok.Literal, 0, 64)
		if err != nil {
			p.errorAt(tok.Pos, "unsigned literal %s out of range", tok.Literal)
			return nil
		}
		kind := types.UInt
		if tok.Type == TokenFingerprint {
			kind = types.Fingerprint
		}
		return &ast.Literal{ExprBase: base, Kind: kind, Bits: v}

	case TokenFloat:
		p.nextToken()
		v, err := strconv.ParseFloat(tok.Literal, 64)
		if err != nil {
			p.errorAt(tok.Pos, "bad float literal %s", tok.Literal)
			return nil
		}
		return &ast.Literal{ExprBase: base, Kind: types.Float, Float: v}

	case TokenString:
		p.nextToken()
		return &ast.Literal{ExprBase: base, Kind: types.String, Str: tok.Literal}

	case TokenBytes:
		p.nextToken()
		return &ast.Literal{ExprBase: base, Kind: types.Bytes, Str: tok.Literal}

	case TokenTime:
		p.nextToken()
		usec, ok := vm.ParseTime(tok.Literal, time.UTC)
		if !ok {
			p.errorAt(tok.Pos, "bad time literal %q", tok.Literal)
			return nil
		}
		return &ast.Literal{ExprBase: base, Kind: types.Time, Bits: usec}

	case TokenTrue, TokenFalse:
		p.nextToken()
		return &ast.Literal{ExprBase: base, Kind: types.Bool, Bool: tok.Type == TokenTrue}

	case TokenLParen:
		p.nextToken()
		x := p.parseExpr()
		p.expect(TokenRParen)
		return x

	case TokenLBrace:
		return p.parseComposite()

	case TokenFunction:
		ft := p.parseFuncType()
		if ft == nil {
			return nil
		}
		if !p.curTokenIs(TokenLBrace) {
			p.errorf("expected function body, got %s", p.curToken)
			return nil
		}
		body := p.parseBlock()
		return &ast.FuncLit{ExprBase: ast.ExprBase{SpanVal: p.span(tok.Pos)}, Sig: ft, Body: body}
	}
	p.errorf("unexpected %s", p.curToken)
	return nil
}

// parseComposite parses "{}", "{:}", "{a, b}" and "{k: v, ...}".
func (p *Parser) parseComposite() ast.Expr {
	start := p.curToken.Pos
	p.nextToken()
	c := &ast.CompositeLit{}
	if p.curTokenIs(TokenColon) && p.peekTokenIs(TokenRBrace) {
		p.nextToken()
		p.nextToken()
		c.IsMap = true
		c.SpanVal = p.span(start)
		return c
	}
	for !p.curTokenIs(TokenRBrace) && !p.curTokenIs(TokenEOF) {
		x := p.parseExpr()
		if x == nil {
			return nil
		}
		if p.curTokenIs(TokenColon) {
			p.nextToken()
			v := p.parseExpr()
			if v == nil {
				return nil
			}
			c.IsMap = true
			c.Pairs = append(c.Pairs, ast.KeyValue{Key: x, Value: v})
		} else {
			c.Elems = append(c.Elems, x)
		}
		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken()
	}
	p.expect(TokenRBrace)
	c.SpanVal = p.span(start)
	if c.IsMap && len(c.Elems) > 0 {
		p.errorAt(start, "mixed map and list elements in composite literal")
		return nil
	}
	return c
}
