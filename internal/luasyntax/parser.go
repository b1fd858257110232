// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package luasyntax

import (
	"fmt"
	"io"

	"luabc.256lights.llc/pkg/internal/lualex"
)

// Error is the error type returned by [Parse] for grammar violations.
// Lexical errors pass through as [*lualex.Error].
type Error struct {
	Position lualex.Position
	Msg      string
}

// Error formats the error as "line:col: msg".
func (e *Error) Error() string {
	return fmt.Sprintf("%v: %s", e.Position, e.Msg)
}

// Parse parses a Lua chunk and returns its block.
func Parse(src []byte) (*Block, error) {
	p := &parser{s: lualex.NewScanner(src)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	block, err := p.block()
	if err != nil {
		return nil, err
	}
	if !p.atEOF {
		return nil, p.syntaxError(fmt.Sprintf("unexpected %v", p.cur))
	}
	return block, nil
}

type parser struct {
	s     *lualex.Scanner
	cur   lualex.Token
	atEOF bool

	ahead    lualex.Token
	aheadEOF bool
	hasAhead bool

	lastPos lualex.Position
}

func (p *parser) advance() error {
	if !p.atEOF {
		p.lastPos = p.cur.Position
	}
	if p.hasAhead {
		p.cur, p.atEOF = p.ahead, p.aheadEOF
		p.hasAhead = false
		return nil
	}
	tok, err := p.s.Scan()
	switch {
	case err == io.EOF:
		p.cur, p.atEOF = lualex.Token{}, true
	case err != nil:
		return err
	default:
		p.cur, p.atEOF = tok, false
	}
	return nil
}

// peek returns the token after the current one
// without consuming the current token.
func (p *parser) peek() (lualex.Token, bool, error) {
	if !p.hasAhead {
		tok, err := p.s.Scan()
		switch {
		case err == io.EOF:
			p.ahead, p.aheadEOF = lualex.Token{}, true
		case err != nil:
			return lualex.Token{}, false, err
		default:
			p.ahead, p.aheadEOF = tok, false
		}
		p.hasAhead = true
	}
	return p.ahead, p.aheadEOF, nil
}

func (p *parser) check(kind lualex.TokenKind) bool {
	return !p.atEOF && p.cur.Kind == kind
}

// accept consumes the current token if it has the given kind.
func (p *parser) accept(kind lualex.TokenKind) (bool, error) {
	if !p.check(kind) {
		return false, nil
	}
	return true, p.advance()
}

func (p *parser) expect(kind lualex.TokenKind) (lualex.Token, error) {
	if !p.check(kind) {
		return lualex.Token{}, p.syntaxError(fmt.Sprintf("%v expected", kind))
	}
	tok := p.cur
	return tok, p.advance()
}

// expectMatch consumes a closing token for an opening token,
// reporting the opening position when the closer is missing.
func (p *parser) expectMatch(kind, open lualex.TokenKind, openPos lualex.Position) error {
	if !p.check(kind) {
		if p.atEOF || p.cur.Position.Line != openPos.Line {
			return p.syntaxError(fmt.Sprintf("%v expected (to close %v at %v)", kind, open, openPos))
		}
		return p.syntaxError(fmt.Sprintf("%v expected", kind))
	}
	return p.advance()
}

func (p *parser) expectName() (Name, error) {
	tok, err := p.expect(lualex.IdentifierToken)
	if err != nil {
		return Name{}, err
	}
	return Name{Position: tok.Position, Name: tok.Value}, nil
}

func (p *parser) syntaxError(msg string) error {
	pos := p.cur.Position
	if p.atEOF {
		pos = p.lastPos
		if !pos.IsValid() {
			pos = lualex.Pos(1, 1)
		}
		msg += " near <eof>"
	} else {
		msg += fmt.Sprintf(" near %v", p.cur)
	}
	return &Error{Position: pos, Msg: msg}
}

// blockFollow reports whether the current token ends a block.
func (p *parser) blockFollow(withUntil bool) bool {
	if p.atEOF {
		return true
	}
	switch p.cur.Kind {
	case lualex.EndToken, lualex.ElseToken, lualex.ElseifToken:
		return true
	case lualex.UntilToken:
		return withUntil
	default:
		return false
	}
}

func (p *parser) block() (*Block, error) {
	block := &Block{Position: p.cur.Position}
	if p.atEOF {
		block.Position = p.lastPos
	}
	for !p.blockFollow(true) {
		if p.check(lualex.ReturnToken) {
			stmt, err := p.returnStmt()
			if err != nil {
				return nil, err
			}
			block.Stmts = append(block.Stmts, stmt)
			break
		}
		stmt, err := p.statement()
		if err != nil {
			return nil, err
		}
		if stmt != nil {
			block.Stmts = append(block.Stmts, stmt)
		}
	}
	return block, nil
}

// statement parses a single statement.
// It returns a nil Stmt for an empty statement (";").
func (p *parser) statement() (Stmt, error) {
	pos := p.cur.Position
	switch p.cur.Kind {
	case lualex.SemiToken:
		return nil, p.advance()
	case lualex.IfToken:
		return p.ifStmt()
	case lualex.WhileToken:
		if err := p.advance(); err != nil {
			return nil, err
		}
		cond, err := p.expression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lualex.DoToken); err != nil {
			return nil, err
		}
		body, err := p.block()
		if err != nil {
			return nil, err
		}
		if err := p.expectMatch(lualex.EndToken, lualex.WhileToken, pos); err != nil {
			return nil, err
		}
		return &WhileStmt{Position: pos, Cond: cond, Body: body}, nil
	case lualex.DoToken:
		if err := p.advance(); err != nil {
			return nil, err
		}
		body, err := p.block()
		if err != nil {
			return nil, err
		}
		if err := p.expectMatch(lualex.EndToken, lualex.DoToken, pos); err != nil {
			return nil, err
		}
		return &DoStmt{Position: pos, Body: body}, nil
	case lualex.ForToken:
		return p.forStmt()
	case lualex.RepeatToken:
		if err := p.advance(); err != nil {
			return nil, err
		}
		body, err := p.block()
		if err != nil {
			return nil, err
		}
		if err := p.expectMatch(lualex.UntilToken, lualex.RepeatToken, pos); err != nil {
			return nil, err
		}
		cond, err := p.expression()
		if err != nil {
			return nil, err
		}
		return &RepeatStmt{Position: pos, Body: body, Cond: cond}, nil
	case lualex.FunctionToken:
		return p.functionStmt()
	case lualex.LocalToken:
		if err := p.advance(); err != nil {
			return nil, err
		}
		if ok, err := p.accept(lualex.FunctionToken); err != nil {
			return nil, err
		} else if ok {
			name, err := p.expectName()
			if err != nil {
				return nil, err
			}
			fn, err := p.funcBody(pos, false)
			if err != nil {
				return nil, err
			}
			return &LocalFunctionStmt{Position: pos, Name: name, Func: fn}, nil
		}
		return p.localStmt(pos)
	case lualex.LabelToken:
		if err := p.advance(); err != nil {
			return nil, err
		}
		name, err := p.expectName()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lualex.LabelToken); err != nil {
			return nil, err
		}
		return &LabelStmt{Position: pos, Name: name}, nil
	case lualex.BreakToken:
		return &BreakStmt{Position: pos}, p.advance()
	case lualex.GotoToken:
		if err := p.advance(); err != nil {
			return nil, err
		}
		label, err := p.expectName()
		if err != nil {
			return nil, err
		}
		return &GotoStmt{Position: pos, Label: label}, nil
	default:
		return p.exprStmt()
	}
}

func (p *parser) ifStmt() (Stmt, error) {
	stmt := new(IfStmt)
	openPos := p.cur.Position
	for {
		clausePos := p.cur.Position
		if err := p.advance(); err != nil { // skip "if" or "elseif"
			return nil, err
		}
		cond, err := p.expression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lualex.ThenToken); err != nil {
			return nil, err
		}
		body, err := p.block()
		if err != nil {
			return nil, err
		}
		stmt.Clauses = append(stmt.Clauses, IfClause{Position: clausePos, Cond: cond, Body: body})
		if !p.check(lualex.ElseifToken) {
			break
		}
	}
	if ok, err := p.accept(lualex.ElseToken); err != nil {
		return nil, err
	} else if ok {
		var err error
		stmt.Else, err = p.block()
		if err != nil {
			return nil, err
		}
	}
	if err := p.expectMatch(lualex.EndToken, lualex.IfToken, openPos); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *parser) forStmt() (Stmt, error) {
	pos := p.cur.Position
	if err := p.advance(); err != nil {
		return nil, err
	}
	first, err := p.expectName()
	if err != nil {
		return nil, err
	}

	if p.check(lualex.AssignToken) {
		if err := p.advance(); err != nil {
			return nil, err
		}
		start, err := p.expression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lualex.CommaToken); err != nil {
			return nil, err
		}
		limit, err := p.expression()
		if err != nil {
			return nil, err
		}
		var step Expr
		if ok, err := p.accept(lualex.CommaToken); err != nil {
			return nil, err
		} else if ok {
			step, err = p.expression()
			if err != nil {
				return nil, err
			}
		}
		body, err := p.forBody(pos)
		if err != nil {
			return nil, err
		}
		return &NumericForStmt{
			Position: pos,
			Name:     first,
			Start:    start,
			Limit:    limit,
			Step:     step,
			Body:     body,
		}, nil
	}

	names := []Name{first}
	for {
		ok, err := p.accept(lualex.CommaToken)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		name, err := p.expectName()
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	if _, err := p.expect(lualex.InToken); err != nil {
		return nil, err
	}
	exprs, err := p.expressionList()
	if err != nil {
		return nil, err
	}
	body, err := p.forBody(pos)
	if err != nil {
		return nil, err
	}
	return &GenericForStmt{Position: pos, Names: names, Exprs: exprs, Body: body}, nil
}

func (p *parser) forBody(openPos lualex.Position) (*Block, error) {
	if _, err := p.expect(lualex.DoToken); err != nil {
		return nil, err
	}
	body, err := p.block()
	if err != nil {
		return nil, err
	}
	if err := p.expectMatch(lualex.EndToken, lualex.ForToken, openPos); err != nil {
		return nil, err
	}
	return body, nil
}

func (p *parser) functionStmt() (Stmt, error) {
	pos := p.cur.Position
	if err := p.advance(); err != nil {
		return nil, err
	}
	name, err := p.expectName()
	if err != nil {
		return nil, err
	}
	var target Expr = &NameExpr{Position: name.Position, Name: name.Name}
	isMethod := false
	for {
		if ok, err := p.accept(lualex.DotToken); err != nil {
			return nil, err
		} else if ok {
			field, err := p.expectName()
			if err != nil {
				return nil, err
			}
			target = &IndexExpr{
				Object: target,
				Key:    &StringExpr{Position: field.Position, Value: field.Name},
			}
			continue
		}
		if ok, err := p.accept(lualex.ColonToken); err != nil {
			return nil, err
		} else if ok {
			field, err := p.expectName()
			if err != nil {
				return nil, err
			}
			target = &IndexExpr{
				Object: target,
				Key:    &StringExpr{Position: field.Position, Value: field.Name},
			}
			isMethod = true
		}
		break
	}
	fn, err := p.funcBody(pos, isMethod)
	if err != nil {
		return nil, err
	}
	return &FunctionStmt{Position: pos, Target: target, Func: fn}, nil
}

func (p *parser) localStmt(pos lualex.Position) (Stmt, error) {
	stmt := &LocalStmt{Position: pos}
	for {
		name, err := p.expectName()
		if err != nil {
			return nil, err
		}
		stmt.Names = append(stmt.Names, name)
		ok, err := p.accept(lualex.CommaToken)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
	}
	if ok, err := p.accept(lualex.AssignToken); err != nil {
		return nil, err
	} else if ok {
		var err error
		stmt.Values, err = p.expressionList()
		if err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

func (p *parser) returnStmt() (Stmt, error) {
	pos := p.cur.Position
	if err := p.advance(); err != nil {
		return nil, err
	}
	stmt := &ReturnStmt{Position: pos}
	if !p.blockFollow(true) && !p.check(lualex.SemiToken) {
		var err error
		stmt.Exprs, err = p.expressionList()
		if err != nil {
			return nil, err
		}
	}
	if _, err := p.accept(lualex.SemiToken); err != nil {
		return nil, err
	}
	return stmt, nil
}

// exprStmt parses an expression statement:
// either a function call or an assignment.
func (p *parser) exprStmt() (Stmt, error) {
	first, err := p.suffixedExpr()
	if err != nil {
		return nil, err
	}
	if !p.check(lualex.AssignToken) && !p.check(lualex.CommaToken) {
		switch first.(type) {
		case *CallExpr, *MethodCallExpr:
			return &CallStmt{Call: first}, nil
		default:
			return nil, p.syntaxError("syntax error")
		}
	}

	targets := []Expr{first}
	for {
		ok, err := p.accept(lualex.CommaToken)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		target, err := p.suffixedExpr()
		if err != nil {
			return nil, err
		}
		targets = append(targets, target)
	}
	for _, target := range targets {
		switch target.(type) {
		case *NameExpr, *IndexExpr:
		default:
			return nil, &Error{Position: target.Pos(), Msg: "cannot assign to this expression"}
		}
	}
	if _, err := p.expect(lualex.AssignToken); err != nil {
		return nil, err
	}
	values, err := p.expressionList()
	if err != nil {
		return nil, err
	}
	return &AssignStmt{Targets: targets, Values: values}, nil
}

func (p *parser) expressionList() ([]Expr, error) {
	var list []Expr
	for {
		e, err := p.expression()
		if err != nil {
			return nil, err
		}
		list = append(list, e)
		ok, err := p.accept(lualex.CommaToken)
		if err != nil {
			return nil, err
		}
		if !ok {
			return list, nil
		}
	}
}

// operatorPrecedence is the binding-power table for binary operators.
// A right binding power lower than the left one makes the operator
// right-associative.
var operatorPrecedence = [...]struct {
	left  uint8
	right uint8
}{
	AddOp:    {10, 10},
	SubOp:    {10, 10},
	MulOp:    {11, 11},
	ModOp:    {11, 11},
	PowOp:    {14, 13}, // right associative
	DivOp:    {11, 11},
	IDivOp:   {11, 11},
	BAndOp:   {6, 6},
	BOrOp:    {4, 4},
	BXorOp:   {5, 5},
	ShiftLOp: {7, 7},
	ShiftROp: {7, 7},
	ConcatOp: {9, 8}, // right associative
	EqOp:     {3, 3},
	LTOp:     {3, 3},
	LEOp:     {3, 3},
	NEOp:     {3, 3},
	GTOp:     {3, 3},
	GEOp:     {3, 3},
	AndOp:    {2, 2},
	OrOp:     {1, 1},
}

// unaryPrecedence is the binding power of all unary operators:
// tighter than any binary operator except '^'.
const unaryPrecedence = 12

func toBinaryOp(kind lualex.TokenKind) (BinaryOp, bool) {
	switch kind {
	case lualex.AddToken:
		return AddOp, true
	case lualex.SubToken:
		return SubOp, true
	case lualex.MulToken:
		return MulOp, true
	case lualex.ModToken:
		return ModOp, true
	case lualex.PowToken:
		return PowOp, true
	case lualex.DivToken:
		return DivOp, true
	case lualex.IntDivToken:
		return IDivOp, true
	case lualex.BitAndToken:
		return BAndOp, true
	case lualex.BitOrToken:
		return BOrOp, true
	case lualex.BitXorToken:
		return BXorOp, true
	case lualex.LShiftToken:
		return ShiftLOp, true
	case lualex.RShiftToken:
		return ShiftROp, true
	case lualex.ConcatToken:
		return ConcatOp, true
	case lualex.EqualToken:
		return EqOp, true
	case lualex.LessToken:
		return LTOp, true
	case lualex.LessEqualToken:
		return LEOp, true
	case lualex.NotEqualToken:
		return NEOp, true
	case lualex.GreaterToken:
		return GTOp, true
	case lualex.GreaterEqualToken:
		return GEOp, true
	case lualex.AndToken:
		return AndOp, true
	case lualex.OrToken:
		return OrOp, true
	default:
		return 0, false
	}
}

func toUnaryOp(kind lualex.TokenKind) (UnaryOp, bool) {
	switch kind {
	case lualex.SubToken:
		return NegOp, true
	case lualex.BitXorToken:
		return BNotOp, true
	case lualex.NotToken:
		return NotOp, true
	case lualex.LenToken:
		return LenOp, true
	default:
		return 0, false
	}
}

func (p *parser) expression() (Expr, error) {
	return p.subExpression(0)
}

// subExpression parses an expression
// whose binary operators all bind tighter than limit.
func (p *parser) subExpression(limit uint8) (Expr, error) {
	var left Expr
	if op, ok := toUnaryOp(p.cur.Kind); ok && !p.atEOF {
		pos := p.cur.Position
		if err := p.advance(); err != nil {
			return nil, err
		}
		operand, err := p.subExpression(unaryPrecedence)
		if err != nil {
			return nil, err
		}
		left = &UnaryExpr{Position: pos, Op: op, Operand: operand}
	} else {
		var err error
		left, err = p.simpleExpr()
		if err != nil {
			return nil, err
		}
	}

	for {
		op, ok := toBinaryOp(p.cur.Kind)
		if p.atEOF || !ok || operatorPrecedence[op].left <= limit {
			return left, nil
		}
		opPos := p.cur.Position
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.subExpression(operatorPrecedence[op].right)
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Left: left, Op: op, OpPos: opPos, Right: right}
	}
}

func (p *parser) simpleExpr() (Expr, error) {
	pos := p.cur.Position
	switch p.cur.Kind {
	case lualex.NilToken:
		return &NilExpr{Position: pos}, p.advance()
	case lualex.TrueToken:
		return &BoolExpr{Position: pos, Value: true}, p.advance()
	case lualex.FalseToken:
		return &BoolExpr{Position: pos, Value: false}, p.advance()
	case lualex.NumeralToken:
		e, err := numberExpr(p.cur)
		if err != nil {
			return nil, err
		}
		return e, p.advance()
	case lualex.StringToken:
		return &StringExpr{Position: pos, Value: p.cur.Value}, p.advance()
	case lualex.VarargToken:
		return &VarargExpr{Position: pos}, p.advance()
	case lualex.FunctionToken:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return p.funcBody(pos, false)
	case lualex.LBraceToken:
		return p.tableExpr()
	default:
		return p.suffixedExpr()
	}
}

func numberExpr(tok lualex.Token) (*NumberExpr, error) {
	if i, err := lualex.ParseInt(tok.Value); err == nil {
		return &NumberExpr{Position: tok.Position, IsInt: true, Int: i}, nil
	}
	f, err := lualex.ParseNumber(tok.Value)
	if err != nil {
		return nil, &Error{Position: tok.Position, Msg: "malformed number near " + tok.Value}
	}
	return &NumberExpr{Position: tok.Position, Float: f}, nil
}

// primaryExpr parses a name or a parenthesized expression.
func (p *parser) primaryExpr() (Expr, error) {
	pos := p.cur.Position
	switch p.cur.Kind {
	case lualex.IdentifierToken:
		e := &NameExpr{Position: pos, Name: p.cur.Value}
		return e, p.advance()
	case lualex.LParenToken:
		if err := p.advance(); err != nil {
			return nil, err
		}
		x, err := p.expression()
		if err != nil {
			return nil, err
		}
		if err := p.expectMatch(lualex.RParenToken, lualex.LParenToken, pos); err != nil {
			return nil, err
		}
		return &ParenExpr{Position: pos, X: x}, nil
	default:
		return nil, p.syntaxError("unexpected symbol")
	}
}

// suffixedExpr parses a primary expression
// followed by any number of field accesses, indexes, and calls.
func (p *parser) suffixedExpr() (Expr, error) {
	e, err := p.primaryExpr()
	if err != nil {
		return nil, err
	}
	for {
		pos := p.cur.Position
		switch {
		case p.check(lualex.DotToken):
			if err := p.advance(); err != nil {
				return nil, err
			}
			field, err := p.expectName()
			if err != nil {
				return nil, err
			}
			e = &IndexExpr{
				Object: e,
				Key:    &StringExpr{Position: field.Position, Value: field.Name},
			}
		case p.check(lualex.LBracketToken):
			if err := p.advance(); err != nil {
				return nil, err
			}
			key, err := p.expression()
			if err != nil {
				return nil, err
			}
			if err := p.expectMatch(lualex.RBracketToken, lualex.LBracketToken, pos); err != nil {
				return nil, err
			}
			e = &IndexExpr{Object: e, Key: key}
		case p.check(lualex.ColonToken):
			if err := p.advance(); err != nil {
				return nil, err
			}
			method, err := p.expectName()
			if err != nil {
				return nil, err
			}
			args, err := p.callArgs()
			if err != nil {
				return nil, err
			}
			e = &MethodCallExpr{Object: e, Method: method, Args: args}
		case p.check(lualex.LParenToken) || p.check(lualex.StringToken) || p.check(lualex.LBraceToken):
			args, err := p.callArgs()
			if err != nil {
				return nil, err
			}
			e = &CallExpr{Func: e, Args: args}
		default:
			return e, nil
		}
	}
}

// callArgs parses call arguments:
// a parenthesized expression list, a single string, or a table constructor.
func (p *parser) callArgs() ([]Expr, error) {
	pos := p.cur.Position
	switch p.cur.Kind {
	case lualex.StringToken:
		arg := &StringExpr{Position: pos, Value: p.cur.Value}
		return []Expr{arg}, p.advance()
	case lualex.LBraceToken:
		arg, err := p.tableExpr()
		if err != nil {
			return nil, err
		}
		return []Expr{arg}, nil
	case lualex.LParenToken:
		if err := p.advance(); err != nil {
			return nil, err
		}
		var args []Expr
		if !p.check(lualex.RParenToken) {
			var err error
			args, err = p.expressionList()
			if err != nil {
				return nil, err
			}
		}
		if err := p.expectMatch(lualex.RParenToken, lualex.LParenToken, pos); err != nil {
			return nil, err
		}
		return args, nil
	default:
		return nil, p.syntaxError("function arguments expected")
	}
}

func (p *parser) tableExpr() (Expr, error) {
	pos := p.cur.Position
	if _, err := p.expect(lualex.LBraceToken); err != nil {
		return nil, err
	}
	table := &TableExpr{Position: pos}
	for !p.check(lualex.RBraceToken) {
		var field TableField
		switch {
		case p.check(lualex.LBracketToken):
			openPos := p.cur.Position
			if err := p.advance(); err != nil {
				return nil, err
			}
			key, err := p.expression()
			if err != nil {
				return nil, err
			}
			if err := p.expectMatch(lualex.RBracketToken, lualex.LBracketToken, openPos); err != nil {
				return nil, err
			}
			if _, err := p.expect(lualex.AssignToken); err != nil {
				return nil, err
			}
			value, err := p.expression()
			if err != nil {
				return nil, err
			}
			field = TableField{Key: key, Value: value}
		case p.check(lualex.IdentifierToken):
			// Either "name = value" or an array item
			// that happens to start with a name.
			ahead, aheadEOF, err := p.peek()
			if err != nil {
				return nil, err
			}
			if !aheadEOF && ahead.Kind == lualex.AssignToken {
				name := p.cur
				if err := p.advance(); err != nil {
					return nil, err
				}
				if err := p.advance(); err != nil {
					return nil, err
				}
				value, err := p.expression()
				if err != nil {
					return nil, err
				}
				field = TableField{
					Key:   &StringExpr{Position: name.Position, Value: name.Value},
					Value: value,
				}
				break
			}
			fallthrough
		default:
			value, err := p.expression()
			if err != nil {
				return nil, err
			}
			field = TableField{Value: value}
		}
		table.Fields = append(table.Fields, field)

		sep := false
		for _, kind := range []lualex.TokenKind{lualex.CommaToken, lualex.SemiToken} {
			ok, err := p.accept(kind)
			if err != nil {
				return nil, err
			}
			if ok {
				sep = true
				break
			}
		}
		if !sep {
			break
		}
	}
	if err := p.expectMatch(lualex.RBraceToken, lualex.LBraceToken, pos); err != nil {
		return nil, err
	}
	return table, nil
}

// funcBody parses "(params) block end".
// The opening "function" token has already been consumed.
// If isMethod is true, an implicit "self" parameter is prepended.
func (p *parser) funcBody(pos lualex.Position, isMethod bool) (*FunctionExpr, error) {
	fn := &FunctionExpr{Position: pos}
	if isMethod {
		fn.Params = append(fn.Params, Name{Position: pos, Name: "self"})
	}
	openPos := p.cur.Position
	if _, err := p.expect(lualex.LParenToken); err != nil {
		return nil, err
	}
	for !p.check(lualex.RParenToken) {
		if p.check(lualex.VarargToken) {
			fn.IsVararg = true
			if err := p.advance(); err != nil {
				return nil, err
			}
			break
		}
		name, err := p.expectName()
		if err != nil {
			return nil, err
		}
		fn.Params = append(fn.Params, name)
		ok, err := p.accept(lualex.CommaToken)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
	}
	if err := p.expectMatch(lualex.RParenToken, lualex.LParenToken, openPos); err != nil {
		return nil, err
	}
	var err error
	fn.Body, err = p.block()
	if err != nil {
		return nil, err
	}
	if err := p.expectMatch(lualex.EndToken, lualex.FunctionToken, pos); err != nil {
		return nil, err
	}
	return fn, nil
}
