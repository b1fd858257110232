// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package luacode

import "fmt"

// Instruction is a single virtual machine instruction.
// The opcode occupies the low byte;
// the operand layout depends on [OpCode.OpMode].
type Instruction uint32

const (
	posA  = 8
	posB  = 16
	posC  = 24
	posBx = 16
)

// MultiValue is the operand sentinel for "all available values"
// in [OpCall] argument/result counts, [OpReturn], and [OpVararg].
const MultiValue uint8 = 0xff

// ABCInstruction returns a new [OpModeABC] [Instruction]
// with the given arguments.
// ABCInstruction panics if the [OpCode] given
// does not return [OpModeABC] from [OpCode.OpMode].
func ABCInstruction(op OpCode, a, b, c uint8) Instruction {
	if op.OpMode() != OpModeABC {
		panic("ABCInstruction with invalid OpCode")
	}
	return Instruction(op) |
		Instruction(a)<<posA |
		Instruction(b)<<posB |
		Instruction(c)<<posC
}

// ABxInstruction returns a new [OpModeABx] [Instruction]
// with the given arguments.
// ABxInstruction panics if the [OpCode] given
// does not return [OpModeABx] from [OpCode.OpMode].
func ABxInstruction(op OpCode, a uint8, bx uint16) Instruction {
	if op.OpMode() != OpModeABx {
		panic("ABxInstruction with invalid OpCode")
	}
	return Instruction(op) |
		Instruction(a)<<posA |
		Instruction(bx)<<posBx
}

// JInstruction returns a new [OpModeAsBx] [Instruction]
// with the given signed operand.
// For jump opcodes, the operand is relative
// to the instruction that follows the jump.
// JInstruction panics if the [OpCode] given
// does not return [OpModeAsBx] from [OpCode.OpMode].
func JInstruction(op OpCode, a uint8, sbx int16) Instruction {
	if op.OpMode() != OpModeAsBx {
		panic("JInstruction with invalid OpCode")
	}
	return Instruction(op) |
		Instruction(a)<<posA |
		Instruction(uint16(sbx))<<posBx
}

// OpCode returns the instruction's type.
func (i Instruction) OpCode() OpCode {
	return OpCode(i & 0xff)
}

// ArgA returns the first (A) argument of the instruction.
func (i Instruction) ArgA() uint8 {
	switch i.OpCode().OpMode() {
	case OpModeABC, OpModeABx, OpModeAsBx:
		return uint8(i >> posA)
	default:
		return 0
	}
}

// ArgB returns the second (B) argument of an [OpModeABC] instruction.
func (i Instruction) ArgB() uint8 {
	if i.OpCode().OpMode() != OpModeABC {
		return 0
	}
	return uint8(i >> posB)
}

// ArgC returns the third (C) argument of an [OpModeABC] instruction.
func (i Instruction) ArgC() uint8 {
	if i.OpCode().OpMode() != OpModeABC {
		return 0
	}
	return uint8(i >> posC)
}

// ArgBx returns the unsigned 16-bit (Bx) argument
// of an [OpModeABx] instruction.
func (i Instruction) ArgBx() uint16 {
	if i.OpCode().OpMode() != OpModeABx {
		return 0
	}
	return uint16(i >> posBx)
}

// ArgSBx returns the signed 16-bit (sBx) argument
// of an [OpModeAsBx] instruction.
func (i Instruction) ArgSBx() int16 {
	if i.OpCode().OpMode() != OpModeAsBx {
		return 0
	}
	return int16(uint16(i >> posBx))
}

// WithArgSBx returns a copy of i
// with its signed operand changed to the given value.
// It is used to patch jump targets.
// ok is false if [OpCode.OpMode] is not [OpModeAsBx].
func (i Instruction) WithArgSBx(sbx int16) (_ Instruction, ok bool) {
	if i.OpCode().OpMode() != OpModeAsBx {
		return i, false
	}
	const mask = Instruction(0xffff) << posBx
	return i&^mask | Instruction(uint16(sbx))<<posBx, true
}

// String decodes the instruction
// and formats it in a manner similar to luac -l.
func (i Instruction) String() string {
	op := i.OpCode()
	switch op.OpMode() {
	case OpModeABC:
		return fmt.Sprintf("%-9s %d %d %d", op, i.ArgA(), i.ArgB(), i.ArgC())
	case OpModeABx:
		return fmt.Sprintf("%-9s %d %d", op, i.ArgA(), i.ArgBx())
	case OpModeAsBx:
		return fmt.Sprintf("%-9s %d %+d", op, i.ArgA(), i.ArgSBx())
	default:
		return fmt.Sprintf("Instruction(%#08x)", uint32(i))
	}
}

// OpCode is an enumeration of [Instruction] types.
type OpCode uint8

// Defined [OpCode] values.
const (
	// A B R[A] := R[B]
	OpMove OpCode = 0 // MOV
	// A R[A] := nil
	OpLoadNil OpCode = 1 // LOADNIL
	// A B R[A] := bool(B)
	OpLoadBool OpCode = 2 // LOADBOOL
	// A Bx R[A] := K[Bx]
	OpLoadK OpCode = 3 // LOADK
	// A sBx R[A] := sBx
	OpLoadI OpCode = 4 // LOADI
	// A Bx R[A] := Globals[K[Bx]:string]
	OpGetGlobal OpCode = 5 // GETGLOBAL
	// A Bx Globals[K[Bx]:string] := R[A]
	OpSetGlobal OpCode = 6 // SETGLOBAL

	// A B C R[A] := R[B] + R[C]
	OpAdd OpCode = 7 // ADD
	// A B C R[A] := R[B] - R[C]
	OpSub OpCode = 8 // SUB
	// A B C R[A] := R[B] * R[C]
	OpMul OpCode = 9 // MUL
	// A B C R[A] := R[B] / R[C] (float division)
	OpDiv OpCode = 10 // DIV
	// A B C R[A] := R[B] // R[C] (floor division)
	OpFDiv OpCode = 11 // FDIV
	// A B C R[A] := R[B] % R[C]
	OpMod OpCode = 12 // MOD
	// A B C R[A] := R[B] ^ R[C]
	OpPow OpCode = 13 // POW

	// A B C R[A] := R[B] & R[C]
	OpBAnd OpCode = 14 // BAND
	// A B C R[A] := R[B] | R[C]
	OpBOr OpCode = 15 // BOR
	// A B C R[A] := R[B] ~ R[C]
	OpBXor OpCode = 16 // BXOR
	// A B C R[A] := R[B] << R[C]
	OpShl OpCode = 17 // SHL
	// A B C R[A] := R[B] >> R[C]
	OpShr OpCode = 18 // SHR

	// A B R[A] := -R[B]
	OpUnm OpCode = 19 // UNM
	// A B R[A] := ~R[B]
	OpBNot OpCode = 20 // BNOT
	// A B R[A] := not R[B]
	OpNot OpCode = 21 // NOT
	// A B R[A] := #R[B]
	OpLen OpCode = 22 // LEN

	// A B C R[A] := R[B] .. R[C]
	OpConcat OpCode = 23 // CONCAT

	// A B C R[A] := R[B] == R[C]
	OpEq OpCode = 24 // EQ
	// A B C R[A] := R[B] < R[C]
	OpLt OpCode = 25 // LT
	// A B C R[A] := R[B] <= R[C]
	OpLe OpCode = 26 // LE

	// sBx pc += sBx
	OpJmp OpCode = 27 // JMP
	// A sBx if not R[A] then pc += sBx (nil and false are falsey)
	OpJmpF OpCode = 28 // JMPF
	// A sBx if R[A] then pc += sBx
	OpJmpT OpCode = 29 // JMPT

	// A R[A] := {}
	OpNewTable OpCode = 30 // NEWTABLE
	// A B C R[A] := R[B][R[C]]
	OpGetTable OpCode = 31 // GETTABLE
	// A B C R[A] := R[B][K[C]]
	OpGetField OpCode = 32 // GETFIELD
	// A B C R[A][R[B]] := R[C]
	OpSetTable OpCode = 33 // SETTABLE
	// A B C R[A][K[B]] := R[C]
	OpSetField OpCode = 34 // SETFIELD

	// OpSetList sets a run of array elements
	// of the table in R[A]
	// from the registers R[A+1]..R[A+B]
	// (through the top of the stack if B is [MultiValue]).
	// The first array index written is C*SetListBatch + 1.
	//
	//	A B C R[A][C*batch+i] := R[A+i], 1 <= i <= B
	OpSetList OpCode = 35 // SETLIST

	// A B R[A] := Upvalues[B]
	OpGetUpval OpCode = 36 // GETUPVAL
	// A B Upvalues[B] := R[A]
	OpSetUpval OpCode = 37 // SETUPVAL

	// OpCall calls R[A] with B arguments in R[A+1]..R[A+B],
	// storing C results starting at R[A].
	// B or C equal to [MultiValue] mean
	// "through the top of the stack" and "all results".
	//
	//	A B C R[A], ..., R[A+C-1] := R[A](R[A+1], ..., R[A+B])
	OpCall OpCode = 38 // CALL
	// OpReturn returns B values starting at R[A]
	// (through the top of the stack if B is [MultiValue]).
	//
	//	A B return R[A], ..., R[A+B-1]
	OpReturn OpCode = 39 // RET

	// A Bx R[A] := closure(Functions[Bx])
	// followed by one OpCapture per upvalue of the child prototype.
	OpClosure OpCode = 40 // CLOSURE
	// OpCapture binds the next upvalue slot
	// of the closure created by the preceding [OpClosure]:
	// A = 0 captures the enclosing function's register B,
	// A = 1 captures the enclosing function's upvalue B.
	OpCapture OpCode = 41 // CAPTURE

	// A B R[A], ..., R[A+B-1] := ...
	// (all extra arguments if B is [MultiValue])
	OpVararg OpCode = 42 // VARARG

	// OpForPrep validates and coerces the loop control values
	// in R[A] (start), R[A+1] (limit), and R[A+2] (step).
	// If the loop runs, the counter is copied to R[A+3]
	// and control falls through to the body;
	// otherwise pc += sBx (past the matching [OpForLoop]).
	//
	//	A sBx
	OpForPrep OpCode = 43 // FORPREP
	// OpForLoop adds R[A+2] to R[A] and,
	// if the loop continues,
	// copies the counter to R[A+3] and jumps pc += sBx
	// (back to the start of the body).
	//
	//	A sBx
	OpForLoop OpCode = 44 // FORLOOP

	maxOpCode = OpForLoop
)

// SetListBatch is the array-index batch size for [OpSetList].
const SetListBatch = 50

// IsValid reports whether the opcode is one of the known instructions.
func (op OpCode) IsValid() bool {
	return op <= maxOpCode
}

// OpMode is an enumeration of [Instruction] formats.
type OpMode uint8

// Instruction formats.
const (
	// OpModeABC has three 8-bit operands.
	OpModeABC OpMode = 1 + iota
	// OpModeABx has an 8-bit operand and an unsigned 16-bit operand.
	OpModeABx
	// OpModeAsBx has an 8-bit operand and a signed 16-bit operand.
	OpModeAsBx
)

var opModes = [...]OpMode{
	OpMove:      OpModeABC,
	OpLoadNil:   OpModeABC,
	OpLoadBool:  OpModeABC,
	OpLoadK:     OpModeABx,
	OpLoadI:     OpModeAsBx,
	OpGetGlobal: OpModeABx,
	OpSetGlobal: OpModeABx,
	OpAdd:       OpModeABC,
	OpSub:       OpModeABC,
	OpMul:       OpModeABC,
	OpDiv:       OpModeABC,
	OpFDiv:      OpModeABC,
	OpMod:       OpModeABC,
	OpPow:       OpModeABC,
	OpBAnd:      OpModeABC,
	OpBOr:       OpModeABC,
	OpBXor:      OpModeABC,
	OpShl:       OpModeABC,
	OpShr:       OpModeABC,
	OpUnm:       OpModeABC,
	OpBNot:      OpModeABC,
	OpNot:       OpModeABC,
	OpLen:       OpModeABC,
	OpConcat:    OpModeABC,
	OpEq:        OpModeABC,
	OpLt:        OpModeABC,
	OpLe:        OpModeABC,
	OpJmp:       OpModeAsBx,
	OpJmpF:      OpModeAsBx,
	OpJmpT:      OpModeAsBx,
	OpNewTable:  OpModeABC,
	OpGetTable:  OpModeABC,
	OpGetField:  OpModeABC,
	OpSetTable:  OpModeABC,
	OpSetField:  OpModeABC,
	OpSetList:   OpModeABC,
	OpGetUpval:  OpModeABC,
	OpSetUpval:  OpModeABC,
	OpCall:      OpModeABC,
	OpReturn:    OpModeABC,
	OpClosure:   OpModeABx,
	OpCapture:   OpModeABC,
	OpVararg:    OpModeABC,
	OpForPrep:   OpModeAsBx,
	OpForLoop:   OpModeAsBx,
}

// OpMode returns the format of an [Instruction] that uses the opcode.
func (op OpCode) OpMode() OpMode {
	if !op.IsValid() {
		return 0
	}
	return opModes[op]
}

var opNames = [...]string{
	OpMove:      "MOV",
	OpLoadNil:   "LOADNIL",
	OpLoadBool:  "LOADBOOL",
	OpLoadK:     "LOADK",
	OpLoadI:     "LOADI",
	OpGetGlobal: "GETGLOBAL",
	OpSetGlobal: "SETGLOBAL",
	OpAdd:       "ADD",
	OpSub:       "SUB",
	OpMul:       "MUL",
	OpDiv:       "DIV",
	OpFDiv:      "FDIV",
	OpMod:       "MOD",
	OpPow:       "POW",
	OpBAnd:      "BAND",
	OpBOr:       "BOR",
	OpBXor:      "BXOR",
	OpShl:       "SHL",
	OpShr:       "SHR",
	OpUnm:       "UNM",
	OpBNot:      "BNOT",
	OpNot:       "NOT",
	OpLen:       "LEN",
	OpConcat:    "CONCAT",
	OpEq:        "EQ",
	OpLt:        "LT",
	OpLe:        "LE",
	OpJmp:       "JMP",
	OpJmpF:      "JMPF",
	OpJmpT:      "JMPT",
	OpNewTable:  "NEWTABLE",
	OpGetTable:  "GETTABLE",
	OpGetField:  "GETFIELD",
	OpSetTable:  "SETTABLE",
	OpSetField:  "SETFIELD",
	OpSetList:   "SETLIST",
	OpGetUpval:  "GETUPVAL",
	OpSetUpval:  "SETUPVAL",
	OpCall:      "CALL",
	OpReturn:    "RET",
	OpClosure:   "CLOSURE",
	OpCapture:   "CAPTURE",
	OpVararg:    "VARARG",
	OpForPrep:   "FORPREP",
	OpForLoop:   "FORLOOP",
}

// String returns the assembler mnemonic for the opcode.
func (op OpCode) String() string {
	if !op.IsValid() {
		return fmt.Sprintf("OpCode(%d)", uint8(op))
	}
	return opNames[op]
}

// ArithmeticOperator returns the [ArithmeticOperator]
// that the opcode represents.
func (op OpCode) ArithmeticOperator() (_ ArithmeticOperator, ok bool) {
	switch op {
	case OpAdd:
		return Add, true
	case OpSub:
		return Subtract, true
	case OpMul:
		return Multiply, true
	case OpDiv:
		return Divide, true
	case OpFDiv:
		return FloorDivide, true
	case OpMod:
		return Modulo, true
	case OpPow:
		return Power, true
	case OpBAnd:
		return BitwiseAnd, true
	case OpBOr:
		return BitwiseOr, true
	case OpBXor:
		return BitwiseXOR, true
	case OpShl:
		return ShiftLeft, true
	case OpShr:
		return ShiftRight, true
	case OpUnm:
		return UnaryMinus, true
	case OpBNot:
		return BitwiseNot, true
	default:
		return 0, false
	}
}
