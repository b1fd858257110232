// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package luacode

import (
	"fmt"
	"math"

	"luabc.256lights.llc/pkg/internal/lualex"
	"luabc.256lights.llc/pkg/internal/luasyntax"
)

// CompileError is the error type returned by [Compile]
// for problems detectable statically:
// break outside a loop, goto without a visible label,
// duplicate labels, register overflow,
// and a numeric-for step that is literally zero.
type CompileError struct {
	Position lualex.Position
	Msg      string
}

// Error formats the error as "line:col: msg".
func (e *CompileError) Error() string {
	if !e.Position.IsValid() {
		return e.Msg
	}
	return fmt.Sprintf("%v: %s", e.Position, e.Msg)
}

func compileErrorf(pos lualex.Position, format string, args ...any) error {
	return &CompileError{Position: pos, Msg: fmt.Sprintf(format, args...)}
}

// Compile lowers a parsed chunk into a [Prototype].
// The main chunk is a vararg function with no named parameters.
func Compile(source string, chunk *luasyntax.Block) (*Prototype, error) {
	fs := newFuncState(nil, source, 0, nil, true)
	if err := fs.compileFunctionBody(chunk); err != nil {
		return nil, err
	}
	proto := fs.proto
	if err := proto.validate(); err != nil {
		// An invariant violation here is a compiler bug,
		// but surface it as an error rather than corrupt output.
		return nil, fmt.Errorf("luacode: internal error: %w", err)
	}
	return proto, nil
}

// localVariable is an active local variable.
// Its register is its index in funcState.locals.
type localVariable struct {
	name string
}

// upvalueDesc describes where an upvalue of a function is captured from.
type upvalueDesc struct {
	name string
	// inStack is true if the upvalue refers to a local variable
	// of the enclosing function;
	// otherwise it refers to an upvalue of the enclosing function.
	inStack bool
	index   uint8
}

type labelDesc struct {
	name      string
	pc        int
	numLocals int
}

type gotoDesc struct {
	name      string
	pc        int
	pos       lualex.Position
	numLocals int
}

// blockState tracks one lexical block during compilation.
type blockState struct {
	prev      *blockState
	numLocals int
	isLoop    bool
	// breaks are jump instructions to patch to the end of the loop.
	breaks []int
	labels []labelDesc
	gotos  []gotoDesc
}

// funcState is the per-function compilation state.
type funcState struct {
	prev  *funcState
	proto *Prototype
	block *blockState

	constants map[Value]int
	locals    []localVariable
	upvals    []upvalueDesc

	// freeReg is the first free register.
	// After each statement it equals len(locals).
	freeReg int
	// maxReg is the high-water mark of freeReg.
	maxReg int
}

func newFuncState(prev *funcState, source string, lineDefined int, params []luasyntax.Name, isVararg bool) *funcState {
	fs := &funcState{
		prev: prev,
		proto: &Prototype{
			NumParams:   uint8(len(params)),
			IsVararg:    isVararg,
			Source:      source,
			LineDefined: lineDefined,
		},
		constants: make(map[Value]int),
	}
	for _, p := range params {
		fs.locals = append(fs.locals, localVariable{name: p.Name})
	}
	fs.freeReg = len(fs.locals)
	fs.maxReg = fs.freeReg
	return fs
}

func (fs *funcState) compileFunctionBody(body *luasyntax.Block) error {
	fs.openBlock(false)
	if err := fs.compileStatements(body); err != nil {
		return err
	}
	if _, err := fs.closeBlock(); err != nil {
		return err
	}
	fs.emit(ABCInstruction(OpReturn, 0, 0, 0))
	fs.proto.FrameSize = uint16(max(fs.maxReg, 1))
	return nil
}

func (fs *funcState) emit(i Instruction) int {
	fs.proto.Code = append(fs.proto.Code, i)
	return len(fs.proto.Code) - 1
}

// pc returns the index of the next instruction to be emitted.
func (fs *funcState) pc() int {
	return len(fs.proto.Code)
}

// reserve allocates n registers at the top of the stack.
func (fs *funcState) reserve(n int) error {
	return fs.setFreeReg(fs.freeReg + n)
}

// setFreeReg moves the top of the register stack,
// growing the frame's high-water mark as needed.
func (fs *funcState) setFreeReg(n int) error {
	if n > maxRegisters {
		return compileErrorf(lualex.Position{}, "function or expression needs too many registers")
	}
	fs.freeReg = n
	if n > fs.maxReg {
		fs.maxReg = n
	}
	return nil
}

// declareLocal makes the register at index len(fs.locals)
// a named local variable.
// The register must already be reserved.
func (fs *funcState) declareLocal(name string) {
	if len(fs.locals) >= fs.freeReg {
		panic("declareLocal without reserved register")
	}
	fs.locals = append(fs.locals, localVariable{name: name})
}

func (fs *funcState) addConstant(v Value) (int, error) {
	if i, ok := fs.constants[v]; ok {
		return i, nil
	}
	if len(fs.proto.Constants) >= maxConstants {
		return 0, compileErrorf(lualex.Position{}, "too many constants in function")
	}
	i := len(fs.proto.Constants)
	fs.proto.Constants = append(fs.proto.Constants, v)
	fs.constants[v] = i
	return i, nil
}

func (fs *funcState) stringConstant(s string) (int, error) {
	return fs.addConstant(StringValue(s))
}

func (fs *funcState) openBlock(isLoop bool) {
	fs.block = &blockState{
		prev:      fs.block,
		numLocals: len(fs.locals),
		isLoop:    isLoop,
	}
}

// closeBlock ends the current block:
// pending gotos either resolve against the block's labels
// or propagate to the enclosing block,
// and the block's locals go out of scope.
// It returns the break jumps that must be patched
// to the instruction following the loop.
func (fs *funcState) closeBlock() ([]int, error) {
	b := fs.block
	for _, g := range b.gotos {
		l, ok := findLabel(b.labels, g.name)
		switch {
		case ok:
			if l.numLocals > g.numLocals {
				return nil, compileErrorf(g.pos, "goto %s jumps into the scope of a local", g.name)
			}
			if err := fs.patchTo(g.pc, l.pc); err != nil {
				return nil, err
			}
		case b.prev != nil:
			// Locals of this block are dead once the goto leaves it.
			g.numLocals = min(g.numLocals, b.numLocals)
			b.prev.gotos = append(b.prev.gotos, g)
		default:
			return nil, compileErrorf(g.pos, "no visible label '%s' for goto", g.name)
		}
	}
	fs.locals = fs.locals[:b.numLocals]
	fs.freeReg = b.numLocals
	fs.block = b.prev
	return b.breaks, nil
}

func findLabel(labels []labelDesc, name string) (labelDesc, bool) {
	for _, l := range labels {
		if l.name == name {
			return l, true
		}
	}
	return labelDesc{}, false
}

// resolveLocal finds the register of an active local variable,
// honoring shadowing.
func (fs *funcState) resolveLocal(name string) (int, bool) {
	for i := len(fs.locals) - 1; i >= 0; i-- {
		if fs.locals[i].name == name {
			return i, true
		}
	}
	return 0, false
}

// resolveUpvalue finds or creates an upvalue
// for a local variable of an enclosing function.
//
// Equivalent to `singlevaraux` in upstream Lua.
func (fs *funcState) resolveUpvalue(name string) (int, bool, error) {
	for i, uv := range fs.upvals {
		if uv.name == name {
			return i, true, nil
		}
	}
	if fs.prev == nil {
		return 0, false, nil
	}
	if r, ok := fs.prev.resolveLocal(name); ok {
		return fs.addUpvalue(upvalueDesc{name: name, inStack: true, index: uint8(r)})
	}
	if i, ok, err := fs.prev.resolveUpvalue(name); err != nil {
		return 0, false, err
	} else if ok {
		return fs.addUpvalue(upvalueDesc{name: name, inStack: false, index: uint8(i)})
	}
	return 0, false, nil
}

func (fs *funcState) addUpvalue(uv upvalueDesc) (int, bool, error) {
	if len(fs.upvals) >= maxRegisters {
		return 0, false, compileErrorf(lualex.Position{}, "too many upvalues in function")
	}
	fs.upvals = append(fs.upvals, uv)
	return len(fs.upvals) - 1, true, nil
}

// patchToHere sets the jump at pc to target the next emitted instruction.
func (fs *funcState) patchToHere(pc int) error {
	return fs.patchTo(pc, fs.pc())
}

func (fs *funcState) patchTo(pc, target int) error {
	offset := target - (pc + 1)
	if offset < math.MinInt16 || offset > math.MaxInt16 {
		return compileErrorf(lualex.Position{}, "control structure too long")
	}
	patched, ok := fs.proto.Code[pc].WithArgSBx(int16(offset))
	if !ok {
		panic("patching a non-jump instruction")
	}
	fs.proto.Code[pc] = patched
	return nil
}

// emitJumpTo emits an unconditional jump to an already-emitted target.
func (fs *funcState) emitJumpTo(target int) error {
	pc := fs.emit(JInstruction(OpJmp, 0, 0))
	return fs.patchTo(pc, target)
}

func (fs *funcState) compileStatements(block *luasyntax.Block) error {
	for _, stmt := range block.Stmts {
		if err := fs.compileStmt(stmt); err != nil {
			return err
		}
		// Temporaries do not survive statements.
		fs.freeReg = len(fs.locals)
	}
	return nil
}

// compileBlock compiles a block in its own scope.
func (fs *funcState) compileBlock(block *luasyntax.Block, isLoop bool) ([]int, error) {
	fs.openBlock(isLoop)
	if err := fs.compileStatements(block); err != nil {
		return nil, err
	}
	return fs.closeBlock()
}

func (fs *funcState) compileStmt(stmt luasyntax.Stmt) error {
	switch stmt := stmt.(type) {
	case *luasyntax.LocalStmt:
		// The values land exactly in the registers
		// that become the new locals.
		if err := fs.compileExprList(stmt.Values, len(stmt.Names)); err != nil {
			return err
		}
		for _, name := range stmt.Names {
			fs.declareLocal(name.Name)
		}
		return nil

	case *luasyntax.AssignStmt:
		return fs.compileAssign(stmt)

	case *luasyntax.CallStmt:
		base := fs.freeReg
		return fs.compileCall(stmt.Call, base, 0)

	case *luasyntax.DoStmt:
		_, err := fs.compileBlock(stmt.Body, false)
		return err

	case *luasyntax.IfStmt:
		return fs.compileIf(stmt)

	case *luasyntax.WhileStmt:
		top := fs.pc()
		exit, err := fs.condJump(stmt.Cond, OpJmpF)
		if err != nil {
			return err
		}
		breaks, err := fs.compileBlock(stmt.Body, true)
		if err != nil {
			return err
		}
		if err := fs.emitJumpTo(top); err != nil {
			return err
		}
		if err := fs.patchToHere(exit); err != nil {
			return err
		}
		return fs.patchBreaks(breaks)

	case *luasyntax.RepeatStmt:
		// The until condition can see locals declared in the body,
		// so the block stays open while it is compiled.
		top := fs.pc()
		fs.openBlock(true)
		if err := fs.compileStatements(stmt.Body); err != nil {
			return err
		}
		mark := fs.freeReg
		r, err := fs.exprToAnyReg(stmt.Cond)
		if err != nil {
			return err
		}
		pc := fs.emit(JInstruction(OpJmpF, uint8(r), 0))
		fs.freeReg = mark
		if err := fs.patchTo(pc, top); err != nil {
			return err
		}
		breaks, err := fs.closeBlock()
		if err != nil {
			return err
		}
		return fs.patchBreaks(breaks)

	case *luasyntax.NumericForStmt:
		return fs.compileNumericFor(stmt)

	case *luasyntax.GenericForStmt:
		return fs.compileGenericFor(stmt)

	case *luasyntax.FunctionStmt:
		mark := fs.freeReg
		r, err := fs.exprToAnyReg(stmt.Func)
		if err != nil {
			return err
		}
		if err := fs.assignToTarget(stmt.Target, r); err != nil {
			return err
		}
		fs.freeReg = mark
		return nil

	case *luasyntax.LocalFunctionStmt:
		// The local is declared before the body compiles
		// so that recursive references resolve to it.
		if err := fs.reserve(1); err != nil {
			return err
		}
		fs.declareLocal(stmt.Name.Name)
		r := len(fs.locals) - 1
		return fs.compileExpr(stmt.Func, r)

	case *luasyntax.ReturnStmt:
		base := fs.freeReg
		count, multi, err := fs.compileOpenExprList(stmt.Exprs)
		if err != nil {
			return err
		}
		n := uint8(count)
		if multi {
			n = MultiValue
		}
		fs.emit(ABCInstruction(OpReturn, uint8(base), n, 0))
		return nil

	case *luasyntax.BreakStmt:
		for b := fs.block; b != nil; b = b.prev {
			if b.isLoop {
				b.breaks = append(b.breaks, fs.emit(JInstruction(OpJmp, 0, 0)))
				return nil
			}
		}
		return compileErrorf(stmt.Position, "break outside a loop")

	case *luasyntax.LabelStmt:
		if _, exists := findLabel(fs.block.labels, stmt.Name.Name); exists {
			return compileErrorf(stmt.Position, "label '%s' already defined", stmt.Name.Name)
		}
		fs.block.labels = append(fs.block.labels, labelDesc{
			name:      stmt.Name.Name,
			pc:        fs.pc(),
			numLocals: len(fs.locals),
		})
		return nil

	case *luasyntax.GotoStmt:
		fs.block.gotos = append(fs.block.gotos, gotoDesc{
			name:      stmt.Label.Name,
			pc:        fs.emit(JInstruction(OpJmp, 0, 0)),
			pos:       stmt.Position,
			numLocals: len(fs.locals),
		})
		return nil

	default:
		panic(fmt.Sprintf("unhandled statement type %T", stmt))
	}
}

func (fs *funcState) patchBreaks(breaks []int) error {
	for _, pc := range breaks {
		if err := fs.patchToHere(pc); err != nil {
			return err
		}
	}
	return nil
}

func (fs *funcState) compileAssign(stmt *luasyntax.AssignStmt) error {
	// The right-hand side is evaluated fully before any store.
	mark := fs.freeReg
	base := fs.freeReg
	if err := fs.compileExprList(stmt.Values, len(stmt.Targets)); err != nil {
		return err
	}
	for i, target := range stmt.Targets {
		if err := fs.assignToTarget(target, base+i); err != nil {
			return err
		}
	}
	fs.freeReg = mark
	return nil
}

// assignToTarget stores the value in register src
// into a name or index expression.
func (fs *funcState) assignToTarget(target luasyntax.Expr, src int) error {
	switch target := target.(type) {
	case *luasyntax.NameExpr:
		if r, ok := fs.resolveLocal(target.Name); ok {
			if r != src {
				fs.emit(ABCInstruction(OpMove, uint8(r), uint8(src), 0))
			}
			return nil
		}
		if i, ok, err := fs.resolveUpvalue(target.Name); err != nil {
			return err
		} else if ok {
			fs.emit(ABCInstruction(OpSetUpval, uint8(src), uint8(i), 0))
			return nil
		}
		k, err := fs.stringConstant(target.Name)
		if err != nil {
			return err
		}
		fs.emit(ABxInstruction(OpSetGlobal, uint8(src), uint16(k)))
		return nil

	case *luasyntax.IndexExpr:
		mark := fs.freeReg
		obj, err := fs.exprToAnyReg(target.Object)
		if err != nil {
			return err
		}
		if key, ok := target.Key.(*luasyntax.StringExpr); ok {
			if k, err := fs.stringConstant(key.Value); err != nil {
				return err
			} else if k <= math.MaxUint8 {
				fs.emit(ABCInstruction(OpSetField, uint8(obj), uint8(k), uint8(src)))
				fs.freeReg = mark
				return nil
			}
		}
		key, err := fs.exprToAnyReg(target.Key)
		if err != nil {
			return err
		}
		fs.emit(ABCInstruction(OpSetTable, uint8(obj), uint8(key), uint8(src)))
		fs.freeReg = mark
		return nil

	default:
		return compileErrorf(target.Pos(), "cannot assign to this expression")
	}
}

func (fs *funcState) compileIf(stmt *luasyntax.IfStmt) error {
	var endJumps []int
	for i, clause := range stmt.Clauses {
		skip, err := fs.condJump(clause.Cond, OpJmpF)
		if err != nil {
			return err
		}
		if _, err := fs.compileBlock(clause.Body, false); err != nil {
			return err
		}
		if i < len(stmt.Clauses)-1 || stmt.Else != nil {
			endJumps = append(endJumps, fs.emit(JInstruction(OpJmp, 0, 0)))
		}
		if err := fs.patchToHere(skip); err != nil {
			return err
		}
	}
	if stmt.Else != nil {
		if _, err := fs.compileBlock(stmt.Else, false); err != nil {
			return err
		}
	}
	for _, pc := range endJumps {
		if err := fs.patchToHere(pc); err != nil {
			return err
		}
	}
	return nil
}

// condJump evaluates a condition into a scratch register
// and emits an unpatched conditional jump on it.
func (fs *funcState) condJump(cond luasyntax.Expr, op OpCode) (int, error) {
	mark := fs.freeReg
	r, err := fs.exprToAnyReg(cond)
	if err != nil {
		return 0, err
	}
	pc := fs.emit(JInstruction(op, uint8(r), 0))
	fs.freeReg = mark
	return pc, nil
}

func (fs *funcState) compileNumericFor(stmt *luasyntax.NumericForStmt) error {
	if step, ok := stmt.Step.(*luasyntax.NumberExpr); ok {
		if (step.IsInt && step.Int == 0) || (!step.IsInt && step.Float == 0) {
			return compileErrorf(step.Position, "'for' step is zero")
		}
	}

	base := fs.freeReg
	if err := fs.reserve(1); err != nil {
		return err
	}
	if err := fs.compileExpr(stmt.Start, base); err != nil {
		return err
	}
	if err := fs.reserve(1); err != nil {
		return err
	}
	if err := fs.compileExpr(stmt.Limit, base+1); err != nil {
		return err
	}
	if err := fs.reserve(1); err != nil {
		return err
	}
	if stmt.Step != nil {
		if err := fs.compileExpr(stmt.Step, base+2); err != nil {
			return err
		}
	} else {
		fs.emit(JInstruction(OpLoadI, uint8(base+2), 1))
	}

	fs.openBlock(true)
	fs.declareLocal("(for start)")
	fs.declareLocal("(for limit)")
	fs.declareLocal("(for step)")
	if err := fs.reserve(1); err != nil {
		return err
	}
	fs.declareLocal(stmt.Name.Name)

	prep := fs.emit(JInstruction(OpForPrep, uint8(base), 0))
	bodyStart := fs.pc()
	if _, err := fs.compileBlock(stmt.Body, false); err != nil {
		return err
	}
	loop := fs.emit(JInstruction(OpForLoop, uint8(base), 0))
	if err := fs.patchTo(loop, bodyStart); err != nil {
		return err
	}
	if err := fs.patchToHere(prep); err != nil {
		return err
	}
	breaks, err := fs.closeBlock()
	if err != nil {
		return err
	}
	return fs.patchBreaks(breaks)
}

func (fs *funcState) compileGenericFor(stmt *luasyntax.GenericForStmt) error {
	// Standard desugaring: the iterator function, the state,
	// and the control variable live in three hidden slots;
	// the iterator is called once per iteration
	// and the loop ends when its first result is nil.
	base := fs.freeReg
	if err := fs.compileExprList(stmt.Exprs, 3); err != nil {
		return err
	}

	fs.openBlock(true)
	fs.declareLocal("(for iterator)")
	fs.declareLocal("(for state)")
	fs.declareLocal("(for control)")
	n := len(stmt.Names)
	if err := fs.reserve(n); err != nil {
		return err
	}
	for _, name := range stmt.Names {
		fs.declareLocal(name.Name)
	}

	loopTop := fs.pc()
	call := fs.freeReg
	if err := fs.reserve(3); err != nil {
		return err
	}
	fs.emit(ABCInstruction(OpMove, uint8(call), uint8(base), 0))
	fs.emit(ABCInstruction(OpMove, uint8(call+1), uint8(base+1), 0))
	fs.emit(ABCInstruction(OpMove, uint8(call+2), uint8(base+2), 0))
	fs.emit(ABCInstruction(OpCall, uint8(call), 2, uint8(n)))
	if err := fs.setFreeReg(call + n); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		fs.emit(ABCInstruction(OpMove, uint8(base+3+i), uint8(call+i), 0))
	}

	// Terminate when the first result is nil.
	t := fs.freeReg
	if err := fs.reserve(2); err != nil {
		return err
	}
	fs.emit(ABCInstruction(OpLoadNil, uint8(t), 0, 0))
	fs.emit(ABCInstruction(OpEq, uint8(t+1), uint8(base+3), uint8(t)))
	exit := fs.emit(JInstruction(OpJmpT, uint8(t+1), 0))
	fs.emit(ABCInstruction(OpMove, uint8(base+2), uint8(base+3), 0))
	fs.freeReg = len(fs.locals)

	if _, err := fs.compileBlock(stmt.Body, false); err != nil {
		return err
	}
	if err := fs.emitJumpTo(loopTop); err != nil {
		return err
	}
	if err := fs.patchToHere(exit); err != nil {
		return err
	}
	breaks, err := fs.closeBlock()
	if err != nil {
		return err
	}
	return fs.patchBreaks(breaks)
}

// compileExprList compiles an expression list
// adjusted to exactly want values
// in registers [fs.freeReg, fs.freeReg+want).
// A multi-value expression in the last position
// expands to fill the remaining slots;
// missing values become nil;
// excess expressions are still evaluated for their side effects.
func (fs *funcState) compileExprList(exprs []luasyntax.Expr, want int) error {
	base := fs.freeReg
	n := len(exprs)

	for i := 0; i < n-1; i++ {
		if i < want {
			if err := fs.reserve(1); err != nil {
				return err
			}
			if err := fs.compileExpr(exprs[i], base+i); err != nil {
				return err
			}
		} else {
			mark := fs.freeReg
			if _, err := fs.exprToAnyReg(exprs[i]); err != nil {
				return err
			}
			fs.freeReg = mark
		}
	}

	if n > 0 {
		last := exprs[n-1]
		switch {
		case n <= want && luasyntax.IsMultiValue(last):
			if err := fs.compileMulti(last, fs.freeReg, uint8(want-(n-1))); err != nil {
				return err
			}
			return nil
		case n-1 < want:
			if err := fs.reserve(1); err != nil {
				return err
			}
			if err := fs.compileExpr(last, base+n-1); err != nil {
				return err
			}
		default:
			mark := fs.freeReg
			if _, err := fs.exprToAnyReg(last); err != nil {
				return err
			}
			fs.freeReg = mark
		}
	}

	for i := n; i < want; i++ {
		if err := fs.reserve(1); err != nil {
			return err
		}
		fs.emit(ABCInstruction(OpLoadNil, uint8(base+i), 0, 0))
	}
	return nil
}

// compileOpenExprList compiles an expression list
// into consecutive registers at the top of the stack,
// leaving a multi-value tail open.
// It returns the number of fixed values
// and whether the list ends with an open expansion.
func (fs *funcState) compileOpenExprList(exprs []luasyntax.Expr) (count int, multi bool, err error) {
	base := fs.freeReg
	n := len(exprs)
	for i := 0; i < n-1; i++ {
		if err := fs.reserve(1); err != nil {
			return 0, false, err
		}
		if err := fs.compileExpr(exprs[i], base+i); err != nil {
			return 0, false, err
		}
	}
	if n == 0 {
		return 0, false, nil
	}
	last := exprs[n-1]
	if luasyntax.IsMultiValue(last) {
		if err := fs.compileMulti(last, fs.freeReg, MultiValue); err != nil {
			return 0, false, err
		}
		return n - 1, true, nil
	}
	if err := fs.reserve(1); err != nil {
		return 0, false, err
	}
	if err := fs.compileExpr(last, base+n-1); err != nil {
		return 0, false, err
	}
	return n, false, nil
}

// compileMulti compiles a call or vararg expression
// starting at register base with the given result count
// ([MultiValue] leaves all results on the stack).
func (fs *funcState) compileMulti(e luasyntax.Expr, base int, nresults uint8) error {
	switch e := e.(type) {
	case *luasyntax.CallExpr, *luasyntax.MethodCallExpr:
		return fs.compileCall(e, base, nresults)
	case *luasyntax.VarargExpr:
		if !fs.proto.IsVararg {
			return compileErrorf(e.Position, "cannot use '...' outside a vararg function")
		}
		if nresults != MultiValue {
			if err := fs.setFreeReg(base + int(nresults)); err != nil {
				return err
			}
		} else {
			// An open expansion still writes R[base],
			// so the frame must include that register.
			if err := fs.setFreeReg(base + 1); err != nil {
				return err
			}
			fs.freeReg = base
		}
		fs.emit(ABCInstruction(OpVararg, uint8(base), nresults, 0))
		return nil
	default:
		panic(fmt.Sprintf("compileMulti on %T", e))
	}
}

// compileCall compiles a function or method call
// with its function slot at register base,
// which must be the current top of the register stack.
// After the call, the results occupy base..base+nresults-1.
func (fs *funcState) compileCall(e luasyntax.Expr, base int, nresults uint8) error {
	if base != fs.freeReg {
		panic("compileCall must start at the top of the register stack")
	}
	if err := fs.reserve(1); err != nil {
		return err
	}

	var args []luasyntax.Expr
	var fixedArgs int
	switch e := e.(type) {
	case *luasyntax.CallExpr:
		if err := fs.compileExpr(e.Func, base); err != nil {
			return err
		}
		args = e.Args
	case *luasyntax.MethodCallExpr:
		// obj:m(...) passes obj as the first argument.
		if err := fs.reserve(1); err != nil {
			return err
		}
		if err := fs.compileExpr(e.Object, base+1); err != nil {
			return err
		}
		k, err := fs.stringConstant(e.Method.Name)
		if err != nil {
			return err
		}
		if k <= math.MaxUint8 {
			fs.emit(ABCInstruction(OpGetField, uint8(base), uint8(base+1), uint8(k)))
		} else {
			if err := fs.reserve(1); err != nil {
				return err
			}
			fs.emit(ABxInstruction(OpLoadK, uint8(base+2), uint16(k)))
			fs.emit(ABCInstruction(OpGetTable, uint8(base), uint8(base+1), uint8(base+2)))
			fs.freeReg = base + 2
		}
		args = e.Args
		fixedArgs = 1
	default:
		panic(fmt.Sprintf("compileCall on %T", e))
	}

	count, multi, err := fs.compileOpenExprList(args)
	if err != nil {
		return err
	}
	nargs := MultiValue
	if !multi {
		nargs = uint8(count + fixedArgs)
	}
	fs.emit(ABCInstruction(OpCall, uint8(base), nargs, nresults))
	if nresults == MultiValue {
		fs.freeReg = base
	} else if err := fs.setFreeReg(base + int(nresults)); err != nil {
		return err
	}
	return nil
}

// exprToAnyReg compiles an expression into some register:
// the variable's own register for a local,
// a fresh temporary otherwise.
func (fs *funcState) exprToAnyReg(e luasyntax.Expr) (int, error) {
	if name, ok := e.(*luasyntax.NameExpr); ok {
		if r, ok := fs.resolveLocal(name.Name); ok {
			return r, nil
		}
	}
	r := fs.freeReg
	if err := fs.reserve(1); err != nil {
		return 0, err
	}
	if err := fs.compileExpr(e, r); err != nil {
		return 0, err
	}
	return r, nil
}

// compileValue emits the load of a constant [Value]
// into the given register.
func (fs *funcState) compileValue(v Value, dst int) error {
	switch {
	case v.IsNil():
		fs.emit(ABCInstruction(OpLoadNil, uint8(dst), 0, 0))
	case v.IsBoolean():
		b, _ := v.Bool()
		imm := uint8(0)
		if b {
			imm = 1
		}
		fs.emit(ABCInstruction(OpLoadBool, uint8(dst), imm, 0))
	default:
		if i, ok := v.Int64(OnlyIntegral); ok && v.IsInteger() &&
			math.MinInt16 <= i && i <= math.MaxInt16 {
			fs.emit(JInstruction(OpLoadI, uint8(dst), int16(i)))
			return nil
		}
		k, err := fs.addConstant(v)
		if err != nil {
			return err
		}
		fs.emit(ABxInstruction(OpLoadK, uint8(dst), uint16(k)))
	}
	return nil
}

// compileExpr compiles an expression into the register dst,
// which must already be reserved.
// Any temporaries it allocates above dst are released.
func (fs *funcState) compileExpr(e luasyntax.Expr, dst int) error {
	switch e := e.(type) {
	case *luasyntax.NilExpr:
		fs.emit(ABCInstruction(OpLoadNil, uint8(dst), 0, 0))
		return nil

	case *luasyntax.BoolExpr:
		return fs.compileValue(BoolValue(e.Value), dst)

	case *luasyntax.NumberExpr:
		return fs.compileValue(numberValue(e), dst)

	case *luasyntax.StringExpr:
		return fs.compileValue(StringValue(e.Value), dst)

	case *luasyntax.VarargExpr:
		if !fs.proto.IsVararg {
			return compileErrorf(e.Position, "cannot use '...' outside a vararg function")
		}
		fs.emit(ABCInstruction(OpVararg, uint8(dst), 1, 0))
		return nil

	case *luasyntax.NameExpr:
		if r, ok := fs.resolveLocal(e.Name); ok {
			if r != dst {
				fs.emit(ABCInstruction(OpMove, uint8(dst), uint8(r), 0))
			}
			return nil
		}
		if i, ok, err := fs.resolveUpvalue(e.Name); err != nil {
			return err
		} else if ok {
			fs.emit(ABCInstruction(OpGetUpval, uint8(dst), uint8(i), 0))
			return nil
		}
		k, err := fs.stringConstant(e.Name)
		if err != nil {
			return err
		}
		fs.emit(ABxInstruction(OpGetGlobal, uint8(dst), uint16(k)))
		return nil

	case *luasyntax.ParenExpr:
		// Parentheses only truncate multi-value expressions,
		// which compileExpr already does.
		return fs.compileExpr(e.X, dst)

	case *luasyntax.IndexExpr:
		mark := fs.freeReg
		obj, err := fs.exprToAnyReg(e.Object)
		if err != nil {
			return err
		}
		if key, ok := e.Key.(*luasyntax.StringExpr); ok {
			if k, err := fs.stringConstant(key.Value); err != nil {
				return err
			} else if k <= math.MaxUint8 {
				fs.emit(ABCInstruction(OpGetField, uint8(dst), uint8(obj), uint8(k)))
				fs.freeReg = mark
				return nil
			}
		}
		key, err := fs.exprToAnyReg(e.Key)
		if err != nil {
			return err
		}
		fs.emit(ABCInstruction(OpGetTable, uint8(dst), uint8(obj), uint8(key)))
		fs.freeReg = mark
		return nil

	case *luasyntax.CallExpr, *luasyntax.MethodCallExpr:
		base := fs.freeReg
		if err := fs.compileCall(e, base, 1); err != nil {
			return err
		}
		if base != dst {
			fs.emit(ABCInstruction(OpMove, uint8(dst), uint8(base), 0))
		}
		fs.freeReg = base
		return nil

	case *luasyntax.FunctionExpr:
		return fs.compileClosure(e, dst)

	case *luasyntax.TableExpr:
		return fs.compileTable(e, dst)

	case *luasyntax.UnaryExpr:
		return fs.compileUnary(e, dst)

	case *luasyntax.BinaryExpr:
		return fs.compileBinary(e, dst)

	default:
		panic(fmt.Sprintf("unhandled expression type %T", e))
	}
}

func numberValue(e *luasyntax.NumberExpr) Value {
	if e.IsInt {
		return IntegerValue(e.Int)
	}
	return FloatValue(e.Float)
}

func (fs *funcState) compileClosure(e *luasyntax.FunctionExpr, dst int) error {
	child := newFuncState(fs, fs.proto.Source, e.Position.Line, e.Params, e.IsVararg)
	if err := child.compileFunctionBody(e.Body); err != nil {
		return err
	}
	idx := len(fs.proto.Functions)
	if idx >= maxConstants {
		return compileErrorf(e.Position, "too many nested functions")
	}
	fs.proto.Functions = append(fs.proto.Functions, child.proto)
	fs.emit(ABxInstruction(OpClosure, uint8(dst), uint16(idx)))
	for _, uv := range child.upvals {
		kind := uint8(1)
		if uv.inStack {
			kind = 0
		}
		fs.emit(ABCInstruction(OpCapture, kind, uv.index, 0))
	}
	return nil
}

func (fs *funcState) compileTable(e *luasyntax.TableExpr, dst int) error {
	// The table is built in a register at the top of the stack
	// so that array items can be batched below it with OpSetList.
	inPlace := dst == fs.freeReg-1
	t := dst
	if !inPlace {
		t = fs.freeReg
		if err := fs.reserve(1); err != nil {
			return err
		}
	}
	fs.emit(ABCInstruction(OpNewTable, uint8(t), 0, 0))

	arrayCount := 0 // total array items flushed or pending
	pending := 0    // items on the stack awaiting a flush
	// flush emits an OpSetList for the pending run of array items
	// in R[t+1]..R[t+pending] (through the stack top for MultiValue).
	// Flushes only happen on full batches and at the end,
	// so the starting index is always a multiple of the batch size.
	flush := func(count uint8) error {
		batch := (arrayCount - pending) / SetListBatch
		if batch > math.MaxUint8 {
			return compileErrorf(e.Position, "table constructor has too many array items")
		}
		fs.emit(ABCInstruction(OpSetList, uint8(t), count, uint8(batch)))
		fs.freeReg = t + 1
		pending = 0
		return nil
	}

	for i, field := range e.Fields {
		isLast := i == len(e.Fields)-1
		switch {
		case field.Key == nil && isLast && luasyntax.IsMultiValue(field.Value):
			// The open expansion follows any pending items,
			// so a single "through the top" flush covers both.
			if err := fs.compileMulti(field.Value, fs.freeReg, MultiValue); err != nil {
				return err
			}
			if err := flush(MultiValue); err != nil {
				return err
			}
		case field.Key == nil:
			if err := fs.reserve(1); err != nil {
				return err
			}
			if err := fs.compileExpr(field.Value, fs.freeReg-1); err != nil {
				return err
			}
			arrayCount++
			pending++
			if pending == SetListBatch {
				if err := flush(uint8(pending)); err != nil {
					return err
				}
			}
		default:
			// Keyed fields evaluate above any pending array items.
			mark := fs.freeReg
			src, err := fs.exprToAnyReg(field.Value)
			if err != nil {
				return err
			}
			if key, ok := field.Key.(*luasyntax.StringExpr); ok {
				if k, err := fs.stringConstant(key.Value); err != nil {
					return err
				} else if k <= math.MaxUint8 {
					fs.emit(ABCInstruction(OpSetField, uint8(t), uint8(k), uint8(src)))
					fs.freeReg = mark
					continue
				}
			}
			key, err := fs.exprToAnyReg(field.Key)
			if err != nil {
				return err
			}
			fs.emit(ABCInstruction(OpSetTable, uint8(t), uint8(key), uint8(src)))
			fs.freeReg = mark
		}
	}
	if pending > 0 {
		if err := flush(uint8(pending)); err != nil {
			return err
		}
	}

	if !inPlace {
		fs.emit(ABCInstruction(OpMove, uint8(dst), uint8(t), 0))
		fs.freeReg = t
	}
	return nil
}

func (fs *funcState) compileUnary(e *luasyntax.UnaryExpr, dst int) error {
	if v, ok := foldExpr(e); ok {
		return fs.compileValue(v, dst)
	}
	if e.Op == luasyntax.NotOp {
		if err := fs.compileExpr(e.Operand, dst); err != nil {
			return err
		}
		fs.emit(ABCInstruction(OpNot, uint8(dst), uint8(dst), 0))
		return nil
	}

	var op OpCode
	switch e.Op {
	case luasyntax.NegOp:
		op = OpUnm
	case luasyntax.BNotOp:
		op = OpBNot
	case luasyntax.LenOp:
		op = OpLen
	default:
		panic("unhandled unary operator")
	}
	mark := fs.freeReg
	r, err := fs.exprToAnyReg(e.Operand)
	if err != nil {
		return err
	}
	fs.emit(ABCInstruction(op, uint8(dst), uint8(r), 0))
	fs.freeReg = mark
	return nil
}

var binaryOpCodes = map[luasyntax.BinaryOp]OpCode{
	luasyntax.AddOp:    OpAdd,
	luasyntax.SubOp:    OpSub,
	luasyntax.MulOp:    OpMul,
	luasyntax.DivOp:    OpDiv,
	luasyntax.IDivOp:   OpFDiv,
	luasyntax.ModOp:    OpMod,
	luasyntax.PowOp:    OpPow,
	luasyntax.BAndOp:   OpBAnd,
	luasyntax.BOrOp:    OpBOr,
	luasyntax.BXorOp:   OpBXor,
	luasyntax.ShiftLOp: OpShl,
	luasyntax.ShiftROp: OpShr,
	luasyntax.ConcatOp: OpConcat,
}

func (fs *funcState) compileBinary(e *luasyntax.BinaryExpr, dst int) error {
	switch e.Op {
	case luasyntax.AndOp, luasyntax.OrOp:
		// Short-circuit evaluation yields the deciding value itself.
		jump := OpJmpF
		if e.Op == luasyntax.OrOp {
			jump = OpJmpT
		}
		if err := fs.compileExpr(e.Left, dst); err != nil {
			return err
		}
		pc := fs.emit(JInstruction(jump, uint8(dst), 0))
		if err := fs.compileExpr(e.Right, dst); err != nil {
			return err
		}
		return fs.patchToHere(pc)

	case luasyntax.EqOp, luasyntax.NEOp, luasyntax.LTOp, luasyntax.LEOp, luasyntax.GTOp, luasyntax.GEOp:
		mark := fs.freeReg
		left, err := fs.exprToAnyReg(e.Left)
		if err != nil {
			return err
		}
		right, err := fs.exprToAnyReg(e.Right)
		if err != nil {
			return err
		}
		switch e.Op {
		case luasyntax.EqOp:
			fs.emit(ABCInstruction(OpEq, uint8(dst), uint8(left), uint8(right)))
		case luasyntax.NEOp:
			fs.emit(ABCInstruction(OpEq, uint8(dst), uint8(left), uint8(right)))
			fs.emit(ABCInstruction(OpNot, uint8(dst), uint8(dst), 0))
		case luasyntax.LTOp:
			fs.emit(ABCInstruction(OpLt, uint8(dst), uint8(left), uint8(right)))
		case luasyntax.LEOp:
			fs.emit(ABCInstruction(OpLe, uint8(dst), uint8(left), uint8(right)))
		case luasyntax.GTOp:
			// a > b compiles as b < a.
			fs.emit(ABCInstruction(OpLt, uint8(dst), uint8(right), uint8(left)))
		case luasyntax.GEOp:
			fs.emit(ABCInstruction(OpLe, uint8(dst), uint8(right), uint8(left)))
		}
		fs.freeReg = mark
		return nil

	default:
		if v, ok := foldExpr(e); ok {
			return fs.compileValue(v, dst)
		}
		op, ok := binaryOpCodes[e.Op]
		if !ok {
			panic("unhandled binary operator")
		}
		mark := fs.freeReg
		left, err := fs.exprToAnyReg(e.Left)
		if err != nil {
			return err
		}
		right, err := fs.exprToAnyReg(e.Right)
		if err != nil {
			return err
		}
		fs.emit(ABCInstruction(op, uint8(dst), uint8(left), uint8(right)))
		fs.freeReg = mark
		return nil
	}
}

// foldExpr evaluates constant numeric expressions at compile time.
// Folding never raises:
// an expression whose evaluation would error
// (for example a division by zero)
// is compiled as-is and fails at run time.
func foldExpr(e luasyntax.Expr) (Value, bool) {
	switch e := e.(type) {
	case *luasyntax.NumberExpr:
		return numberValue(e), true
	case *luasyntax.ParenExpr:
		return foldExpr(e.X)
	case *luasyntax.UnaryExpr:
		v, ok := foldExpr(e.Operand)
		if !ok {
			return Value{}, false
		}
		var op ArithmeticOperator
		switch e.Op {
		case luasyntax.NegOp:
			op = UnaryMinus
		case luasyntax.BNotOp:
			op = BitwiseNot
		default:
			return Value{}, false
		}
		result, err := Arithmetic(op, v, Value{})
		if err != nil {
			return Value{}, false
		}
		return result, true
	case *luasyntax.BinaryExpr:
		var op ArithmeticOperator
		switch e.Op {
		case luasyntax.AddOp:
			op = Add
		case luasyntax.SubOp:
			op = Subtract
		case luasyntax.MulOp:
			op = Multiply
		case luasyntax.DivOp:
			op = Divide
		case luasyntax.IDivOp:
			op = FloorDivide
		case luasyntax.ModOp:
			op = Modulo
		case luasyntax.PowOp:
			op = Power
		case luasyntax.BAndOp:
			op = BitwiseAnd
		case luasyntax.BOrOp:
			op = BitwiseOr
		case luasyntax.BXorOp:
			op = BitwiseXOR
		case luasyntax.ShiftLOp:
			op = ShiftLeft
		case luasyntax.ShiftROp:
			op = ShiftRight
		default:
			return Value{}, false
		}
		left, ok := foldExpr(e.Left)
		if !ok {
			return Value{}, false
		}
		right, ok := foldExpr(e.Right)
		if !ok {
			return Value{}, false
		}
		result, err := Arithmetic(op, left, right)
		if err != nil {
			return Value{}, false
		}
		return result, true
	default:
		return Value{}, false
	}
}
