// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"fmt"
	"io"
	"slices"

	"luabc.256lights.llc/pkg/internal/luacode"
)

// maxCallDepth is the call stack depth bound.
const maxCallDepth = 250

// frame is a runtime activation of a prototype:
// a window into the value stack plus an instruction pointer.
type frame struct {
	fn *Function
	pc int
	// base is the absolute stack index of the frame's register 0.
	// The function value itself sits at base-1.
	base int
	// wantResults is the number of results the caller expects,
	// or -1 for "all results".
	wantResults int
	varargs     []value
}

// State is a Lua virtual machine:
// a contiguous value stack, a stack of call frames,
// and a global environment table.
// A State is single-threaded and runs a chunk to completion.
type State struct {
	stack      []value
	frames     []frame
	globals    *Table
	openUpvals []*upvalue
	out        io.Writer

	// top is one past the last value
	// of the open multi-value sequence on the stack.
	// It is only meaningful directly after
	// an instruction that produces "all available" values.
	top int
}

// NewState returns a State with the basic library
// installed in a fresh global environment.
// The print function writes to out.
func NewState(out io.Writer) *State {
	l := &State{
		globals: NewTable(),
		out:     out,
	}
	l.registerBase()
	return l
}

// Globals returns the global environment table.
func (l *State) Globals() *Table {
	return l.globals
}

// Run executes a compiled chunk as the top-level function
// with no arguments until it returns.
func (l *State) Run(proto *luacode.Prototype) error {
	fn := &Function{proto: proto}
	l.stack = l.stack[:0]
	l.grow(int(proto.FrameSize))
	l.frames = append(l.frames[:0], frame{fn: fn, base: 0, wantResults: 0})
	return l.exec()
}

// grow extends the value stack with nils to at least n slots.
func (l *State) grow(n int) {
	for len(l.stack) < n {
		l.stack = append(l.stack, nil)
	}
}

func (l *State) index(v, key value) (value, error) {
	t, ok := v.(*Table)
	if !ok {
		return nil, runtimeErrorf("attempt to index a %s value", typeName(v))
	}
	return t.Get(key), nil
}

func (l *State) setIndex(v, key, val value) error {
	t, ok := v.(*Table)
	if !ok {
		return runtimeErrorf("attempt to index a %s value", typeName(v))
	}
	return t.Set(key, val)
}

func (l *State) arith(op luacode.ArithmeticOperator, rb, rc value) (value, error) {
	kb, ok := exportNumeric(rb)
	if !ok {
		kind := "perform arithmetic on"
		if op.IsIntegral() {
			kind = "perform bitwise operation on"
		}
		return nil, runtimeErrorf("attempt to %s a %s value", kind, typeName(rb))
	}
	kc := luacode.IntegerValue(0)
	if !op.IsUnary() {
		kc, ok = exportNumeric(rc)
		if !ok {
			kind := "perform arithmetic on"
			if op.IsIntegral() {
				kind = "perform bitwise operation on"
			}
			return nil, runtimeErrorf("attempt to %s a %s value", kind, typeName(rc))
		}
	}
	result, err := luacode.Arithmetic(op, kb, kc)
	if err != nil {
		return nil, &RuntimeError{Value: err.Error()}
	}
	return importValue(result), nil
}

// exec dispatches instructions for the top frame
// until the call stack empties.
func (l *State) exec() error {
	for len(l.frames) > 0 {
		fi := len(l.frames) - 1
		f := &l.frames[fi]
		proto := f.fn.proto
		if f.pc < 0 || f.pc >= len(proto.Code) {
			return fmt.Errorf("lua: internal error: pc %d out of range", f.pc)
		}
		i := proto.Code[f.pc]
		f.pc++
		base := f.base

		switch i.OpCode() {
		case luacode.OpMove:
			l.stack[base+int(i.ArgA())] = l.stack[base+int(i.ArgB())]

		case luacode.OpLoadNil:
			l.stack[base+int(i.ArgA())] = nil

		case luacode.OpLoadBool:
			l.stack[base+int(i.ArgA())] = i.ArgB() != 0

		case luacode.OpLoadK:
			l.stack[base+int(i.ArgA())] = importValue(proto.Constants[i.ArgBx()])

		case luacode.OpLoadI:
			l.stack[base+int(i.ArgA())] = int64(i.ArgSBx())

		case luacode.OpGetGlobal:
			name, _ := proto.Constants[i.ArgBx()].Unquoted()
			l.stack[base+int(i.ArgA())] = l.globals.Get(name)

		case luacode.OpSetGlobal:
			name, _ := proto.Constants[i.ArgBx()].Unquoted()
			if err := l.globals.Set(name, l.stack[base+int(i.ArgA())]); err != nil {
				return err
			}

		case luacode.OpAdd, luacode.OpSub, luacode.OpMul,
			luacode.OpDiv, luacode.OpFDiv, luacode.OpMod, luacode.OpPow,
			luacode.OpBAnd, luacode.OpBOr, luacode.OpBXor,
			luacode.OpShl, luacode.OpShr:
			rb := l.stack[base+int(i.ArgB())]
			rc := l.stack[base+int(i.ArgC())]
			// Fast path: integer arithmetic stays in integers.
			if x, ok := rb.(int64); ok {
				if y, ok := rc.(int64); ok {
					switch i.OpCode() {
					case luacode.OpAdd:
						l.stack[base+int(i.ArgA())] = x + y
						continue
					case luacode.OpSub:
						l.stack[base+int(i.ArgA())] = x - y
						continue
					case luacode.OpMul:
						l.stack[base+int(i.ArgA())] = x * y
						continue
					}
				}
			}
			op, _ := i.OpCode().ArithmeticOperator()
			result, err := l.arith(op, rb, rc)
			if err != nil {
				return err
			}
			l.stack[base+int(i.ArgA())] = result

		case luacode.OpUnm, luacode.OpBNot:
			op, _ := i.OpCode().ArithmeticOperator()
			result, err := l.arith(op, l.stack[base+int(i.ArgB())], nil)
			if err != nil {
				return err
			}
			l.stack[base+int(i.ArgA())] = result

		case luacode.OpNot:
			l.stack[base+int(i.ArgA())] = !truthy(l.stack[base+int(i.ArgB())])

		case luacode.OpLen:
			switch v := l.stack[base+int(i.ArgB())].(type) {
			case string:
				l.stack[base+int(i.ArgA())] = int64(len(v))
			case *Table:
				l.stack[base+int(i.ArgA())] = v.Len()
			default:
				return runtimeErrorf("attempt to get length of a %s value", typeName(v))
			}

		case luacode.OpConcat:
			rb := l.stack[base+int(i.ArgB())]
			rc := l.stack[base+int(i.ArgC())]
			sb, ok := concatString(rb)
			if !ok {
				return runtimeErrorf("attempt to concatenate a %s value", typeName(rb))
			}
			sc, ok := concatString(rc)
			if !ok {
				return runtimeErrorf("attempt to concatenate a %s value", typeName(rc))
			}
			l.stack[base+int(i.ArgA())] = sb + sc

		case luacode.OpEq:
			l.stack[base+int(i.ArgA())] = equals(
				l.stack[base+int(i.ArgB())],
				l.stack[base+int(i.ArgC())],
			)

		case luacode.OpLt, luacode.OpLe:
			result, err := compare(
				i.OpCode(),
				l.stack[base+int(i.ArgB())],
				l.stack[base+int(i.ArgC())],
			)
			if err != nil {
				return err
			}
			l.stack[base+int(i.ArgA())] = result

		case luacode.OpJmp:
			f.pc += int(i.ArgSBx())

		case luacode.OpJmpF:
			if !truthy(l.stack[base+int(i.ArgA())]) {
				f.pc += int(i.ArgSBx())
			}

		case luacode.OpJmpT:
			if truthy(l.stack[base+int(i.ArgA())]) {
				f.pc += int(i.ArgSBx())
			}

		case luacode.OpNewTable:
			l.stack[base+int(i.ArgA())] = NewTable()

		case luacode.OpGetTable:
			result, err := l.index(
				l.stack[base+int(i.ArgB())],
				l.stack[base+int(i.ArgC())],
			)
			if err != nil {
				return err
			}
			l.stack[base+int(i.ArgA())] = result

		case luacode.OpGetField:
			result, err := l.index(
				l.stack[base+int(i.ArgB())],
				importValue(proto.Constants[i.ArgC()]),
			)
			if err != nil {
				return err
			}
			l.stack[base+int(i.ArgA())] = result

		case luacode.OpSetTable:
			err := l.setIndex(
				l.stack[base+int(i.ArgA())],
				l.stack[base+int(i.ArgB())],
				l.stack[base+int(i.ArgC())],
			)
			if err != nil {
				return err
			}

		case luacode.OpSetField:
			err := l.setIndex(
				l.stack[base+int(i.ArgA())],
				importValue(proto.Constants[i.ArgB()]),
				l.stack[base+int(i.ArgC())],
			)
			if err != nil {
				return err
			}

		case luacode.OpSetList:
			a := base + int(i.ArgA())
			t, ok := l.stack[a].(*Table)
			if !ok {
				return fmt.Errorf("lua: internal error: SETLIST on a %s value", typeName(l.stack[a]))
			}
			start := int64(i.ArgC()) * luacode.SetListBatch
			var count int
			if i.ArgB() == luacode.MultiValue {
				count = l.top - (a + 1)
			} else {
				count = int(i.ArgB())
			}
			for j := 0; j < count; j++ {
				if err := t.Set(start+int64(j)+1, l.stack[a+1+j]); err != nil {
					return err
				}
			}

		case luacode.OpGetUpval:
			l.stack[base+int(i.ArgA())] = f.fn.upvals[i.ArgB()].get(l)

		case luacode.OpSetUpval:
			f.fn.upvals[i.ArgB()].set(l, l.stack[base+int(i.ArgA())])

		case luacode.OpClosure:
			p := proto.Functions[i.ArgBx()]
			fn := &Function{proto: p}
			for f.pc < len(proto.Code) && proto.Code[f.pc].OpCode() == luacode.OpCapture {
				ci := proto.Code[f.pc]
				f.pc++
				if ci.ArgA() == 0 {
					fn.upvals = append(fn.upvals, l.findOpenUpvalue(base+int(ci.ArgB())))
				} else {
					fn.upvals = append(fn.upvals, f.fn.upvals[ci.ArgB()])
				}
			}
			l.stack[base+int(i.ArgA())] = fn

		case luacode.OpCapture:
			return fmt.Errorf("lua: internal error: CAPTURE without CLOSURE at pc %d", f.pc-1)

		case luacode.OpVararg:
			a := base + int(i.ArgA())
			if i.ArgB() == luacode.MultiValue {
				n := len(f.varargs)
				l.grow(a + n)
				copy(l.stack[a:], f.varargs)
				l.top = a + n
			} else {
				n := int(i.ArgB())
				l.grow(a + n)
				for j := 0; j < n; j++ {
					if j < len(f.varargs) {
						l.stack[a+j] = f.varargs[j]
					} else {
						l.stack[a+j] = nil
					}
				}
			}

		case luacode.OpCall:
			if err := l.call(f, i); err != nil {
				return err
			}

		case luacode.OpReturn:
			resStart := base + int(i.ArgA())
			var n int
			if i.ArgB() == luacode.MultiValue {
				n = max(l.top-resStart, 0)
			} else {
				n = int(i.ArgB())
			}
			l.closeUpvalues(base)
			want := f.wantResults
			l.frames = l.frames[:fi]
			if fi == 0 {
				// The top-level frame has returned; execution is complete.
				return nil
			}
			rf := base - 1
			copy(l.stack[rf:], l.stack[resStart:resStart+n])
			if want < 0 {
				l.top = rf + n
			} else {
				if n < want {
					l.grow(rf + want)
					clear(l.stack[rf+n : rf+want])
				}
			}

		case luacode.OpForPrep:
			a := base + int(i.ArgA())
			if err := l.forPrep(f, a, int(i.ArgSBx())); err != nil {
				return err
			}

		case luacode.OpForLoop:
			a := base + int(i.ArgA())
			switch step := l.stack[a+2].(type) {
			case int64:
				idx := l.stack[a].(int64) + step
				limit := l.stack[a+1].(int64)
				if (step > 0 && idx <= limit) || (step < 0 && idx >= limit) {
					l.stack[a] = idx
					l.stack[a+3] = idx
					f.pc += int(i.ArgSBx())
				}
			case float64:
				idx := l.stack[a].(float64) + step
				limit := l.stack[a+1].(float64)
				if (step > 0 && idx <= limit) || (step < 0 && idx >= limit) {
					l.stack[a] = idx
					l.stack[a+3] = idx
					f.pc += int(i.ArgSBx())
				}
			default:
				return fmt.Errorf("lua: internal error: FORLOOP step is a %s", typeName(step))
			}

		default:
			return fmt.Errorf("lua: internal error: unhandled instruction %v", i)
		}
	}
	return nil
}

// call implements [luacode.OpCall].
// f is the calling frame and i the CALL instruction.
func (l *State) call(f *frame, i luacode.Instruction) error {
	base := f.base
	rf := base + int(i.ArgA())
	var argEnd int
	if i.ArgB() == luacode.MultiValue {
		argEnd = max(l.top, rf+1)
	} else {
		argEnd = rf + 1 + int(i.ArgB())
	}
	l.grow(argEnd)
	want := -1
	if i.ArgC() != luacode.MultiValue {
		want = int(i.ArgC())
	}

	switch fn := l.stack[rf].(type) {
	case *GoFunction:
		args := slices.Clone(l.stack[rf+1 : argEnd])
		results, err := fn.fn(l, args)
		if err != nil {
			return err
		}
		n := len(results)
		if want >= 0 && n > want {
			n = want
		}
		end := rf + n
		if want >= 0 {
			end = rf + want
		}
		l.grow(end)
		copy(l.stack[rf:], results[:n])
		if want >= 0 {
			clear(l.stack[rf+n : rf+want])
		} else {
			l.top = rf + n
		}
		return nil

	case *Function:
		if len(l.frames) >= maxCallDepth {
			return runtimeErrorf("stack overflow")
		}
		p := fn.proto
		newBase := rf + 1
		argc := argEnd - newBase
		np := int(p.NumParams)
		var varargs []value
		if argc > np && p.IsVararg {
			varargs = slices.Clone(l.stack[newBase+np : argEnd])
		}
		frameEnd := newBase + int(p.FrameSize)
		l.grow(max(frameEnd, argEnd))
		// Registers beyond the fixed parameters start out nil;
		// extra arguments are moved out of the register window.
		clear(l.stack[newBase+min(argc, np) : max(frameEnd, argEnd)])
		l.frames = append(l.frames, frame{
			fn:          fn,
			base:        newBase,
			wantResults: want,
			varargs:     varargs,
		})
		return nil

	default:
		return runtimeErrorf("attempt to call a %s value", typeName(l.stack[rf]))
	}
}

// forPrep implements [luacode.OpForPrep]:
// it validates the three loop control values,
// decides the loop's numeric type
// (integer when start, limit, and step are all integers, float otherwise),
// and either enters the body or skips past the loop.
func (l *State) forPrep(f *frame, a, skip int) error {
	names := [...]string{"initial value", "limit", "step"}
	for j, name := range names {
		if _, ok := numericValue(l.stack[a+j]); !ok {
			return runtimeErrorf("'for' %s must be a number", name)
		}
	}

	if init, ok := l.stack[a].(int64); ok {
		if limit, ok := l.stack[a+1].(int64); ok {
			if step, ok := l.stack[a+2].(int64); ok {
				if step == 0 {
					return runtimeErrorf("'for' step is zero")
				}
				if (step > 0 && init <= limit) || (step < 0 && init >= limit) {
					l.stack[a+3] = init
				} else {
					f.pc += skip
				}
				return nil
			}
		}
	}

	init, _ := numericValue(l.stack[a])
	limit, _ := numericValue(l.stack[a+1])
	step, _ := numericValue(l.stack[a+2])
	if step == 0 {
		return runtimeErrorf("'for' step is zero")
	}
	l.stack[a] = init
	l.stack[a+1] = limit
	l.stack[a+2] = step
	if (step > 0 && init <= limit) || (step < 0 && init >= limit) {
		l.stack[a+3] = init
	} else {
		f.pc += skip
	}
	return nil
}
