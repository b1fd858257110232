// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package luacode

import "fmt"

// maxRegisters is the maximum number of registers in a function.
const maxRegisters = 255

// maxConstants is the maximum size of a function's constant pool,
// bounded by the Bx operand of [OpLoadK].
const maxConstants = 1 << 16

// Prototype represents a compiled function.
type Prototype struct {
	// NumParams is the number of fixed (named) parameters.
	NumParams uint8
	IsVararg  bool
	// FrameSize is the number of registers needed by this function.
	FrameSize uint16

	Code      []Instruction
	Constants []Value
	// Functions are the prototypes
	// defined inside this function,
	// referenced by [OpClosure] instructions.
	Functions []*Prototype

	// Debug information:

	Source      string
	LineDefined int
}

// IsMainChunk reports whether the prototype represents a parsed source file
// (as opposed to a function inside a file).
func (f *Prototype) IsMainChunk() bool {
	return f.LineDefined == 0
}

// validate checks the structural invariants of a prototype tree:
// every register reference is below FrameSize,
// every constant, child function, and upvalue index is in range,
// and every jump lands inside the code.
// It is run on every loaded chunk
// and on every prototype produced by the compiler.
func (f *Prototype) validate() error {
	// The root of a chunk has no upvalues.
	return f.validateFunction(0)
}

// validateFunction checks one prototype's invariants.
// A prototype does not record its own upvalue count:
// that is implied by the run of [OpCapture] instructions
// following the [OpClosure] that instantiates it,
// so the caller passes the count down
// and the child counts are collected from this function's code.
func (f *Prototype) validateFunction(numUpvalues int) error {
	if len(f.Code) == 0 {
		return fmt.Errorf("function has no code")
	}
	checkReg := func(pc int, r uint8) error {
		if uint16(r) >= f.FrameSize {
			return fmt.Errorf("instruction %d (%v): register %d out of range (frame size %d)",
				pc, f.Code[pc].OpCode(), r, f.FrameSize)
		}
		return nil
	}
	checkConstant := func(pc int, k int) error {
		if k >= len(f.Constants) {
			return fmt.Errorf("instruction %d (%v): constant %d out of range (%d constants)",
				pc, f.Code[pc].OpCode(), k, len(f.Constants))
		}
		return nil
	}
	checkUpvalue := func(pc int, u uint8) error {
		if int(u) >= numUpvalues {
			return fmt.Errorf("instruction %d (%v): upvalue %d out of range (%d upvalues)",
				pc, f.Code[pc].OpCode(), u, numUpvalues)
		}
		return nil
	}

	// childUpvalues[i] is the capture count observed
	// for Functions[i], or -1 if it is never instantiated.
	childUpvalues := make([]int, len(f.Functions))
	for i := range childUpvalues {
		childUpvalues[i] = -1
	}

	for pc, i := range f.Code {
		op := i.OpCode()
		if !op.IsValid() {
			return fmt.Errorf("instruction %d: unknown opcode %d", pc, uint8(op))
		}
		// The A operand is a register for every opcode
		// except plain jumps and captures.
		// A return of zero values may sit at the frame boundary.
		if op != OpJmp && op != OpCapture && op != OpReturn {
			if err := checkReg(pc, i.ArgA()); err != nil {
				return err
			}
		}

		switch op {
		case OpMove, OpUnm, OpBNot, OpNot, OpLen:
			if err := checkReg(pc, i.ArgB()); err != nil {
				return err
			}
		case OpAdd, OpSub, OpMul, OpDiv, OpFDiv, OpMod, OpPow,
			OpBAnd, OpBOr, OpBXor, OpShl, OpShr,
			OpConcat, OpEq, OpLt, OpLe, OpGetTable, OpSetTable:
			if err := checkReg(pc, i.ArgB()); err != nil {
				return err
			}
			if err := checkReg(pc, i.ArgC()); err != nil {
				return err
			}
		case OpLoadK:
			if err := checkConstant(pc, int(i.ArgBx())); err != nil {
				return err
			}
		case OpGetGlobal, OpSetGlobal:
			if err := checkConstant(pc, int(i.ArgBx())); err != nil {
				return err
			}
			if !f.Constants[i.ArgBx()].IsString() {
				return fmt.Errorf("instruction %d (%v): constant %d is not a string",
					pc, op, i.ArgBx())
			}
		case OpGetField:
			if err := checkReg(pc, i.ArgB()); err != nil {
				return err
			}
			if err := checkConstant(pc, int(i.ArgC())); err != nil {
				return err
			}
		case OpSetField:
			if err := checkConstant(pc, int(i.ArgB())); err != nil {
				return err
			}
			if err := checkReg(pc, i.ArgC()); err != nil {
				return err
			}
		case OpJmp, OpJmpF, OpJmpT, OpForPrep, OpForLoop:
			if target := pc + 1 + int(i.ArgSBx()); target < 0 || target >= len(f.Code) {
				return fmt.Errorf("instruction %d (%v): jump target %d out of range", pc, op, target)
			}
			if op == OpForPrep || op == OpForLoop {
				// The loop uses R[A]..R[A+3].
				if int(i.ArgA())+3 >= int(f.FrameSize) {
					return fmt.Errorf("instruction %d (%v): loop registers out of range (frame size %d)",
						pc, op, f.FrameSize)
				}
			}
		case OpCall:
			if b := i.ArgB(); b != MultiValue {
				if int(i.ArgA())+1+int(b) > int(f.FrameSize) {
					return fmt.Errorf("instruction %d (%v): argument window out of range (frame size %d)",
						pc, op, f.FrameSize)
				}
			}
		case OpReturn:
			if int(i.ArgA()) > int(f.FrameSize) {
				return fmt.Errorf("instruction %d (%v): register %d out of range (frame size %d)",
					pc, op, i.ArgA(), f.FrameSize)
			}
			if b := i.ArgB(); b != MultiValue {
				if int(i.ArgA())+int(b) > int(f.FrameSize) {
					return fmt.Errorf("instruction %d (%v): result window out of range (frame size %d)",
						pc, op, f.FrameSize)
				}
			}
		case OpSetList:
			if b := i.ArgB(); b != MultiValue {
				if int(i.ArgA())+1+int(b) > int(f.FrameSize) {
					return fmt.Errorf("instruction %d (%v): value window out of range (frame size %d)",
						pc, op, f.FrameSize)
				}
			}
		case OpGetUpval, OpSetUpval:
			if err := checkUpvalue(pc, i.ArgB()); err != nil {
				return err
			}
		case OpClosure:
			idx := int(i.ArgBx())
			if idx >= len(f.Functions) {
				return fmt.Errorf("instruction %d (%v): function %d out of range (%d functions)",
					pc, op, i.ArgBx(), len(f.Functions))
			}
			count := 0
			for pc+1+count < len(f.Code) && f.Code[pc+1+count].OpCode() == OpCapture {
				count++
			}
			if prev := childUpvalues[idx]; prev >= 0 && prev != count {
				return fmt.Errorf("instruction %d (%v): function %d captured with %d upvalues (previously %d)",
					pc, op, idx, count, prev)
			}
			childUpvalues[idx] = count
		case OpCapture:
			switch i.ArgA() {
			case 0:
				if err := checkReg(pc, i.ArgB()); err != nil {
					return err
				}
			case 1:
				if err := checkUpvalue(pc, i.ArgB()); err != nil {
					return err
				}
			default:
				return fmt.Errorf("instruction %d (%v): invalid capture kind %d", pc, op, i.ArgA())
			}
		}
	}

	for i, fn := range f.Functions {
		n := childUpvalues[i]
		if n < 0 {
			// Never instantiated; it cannot run with any upvalues.
			n = 0
		}
		if err := fn.validateFunction(n); err != nil {
			return fmt.Errorf("function %d: %w", i, err)
		}
	}
	return nil
}
