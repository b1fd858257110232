// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

/*
Package luacode implements the compiler half of the luabc toolchain:
lowering of a parsed Lua 5.3 chunk
into register-based [Prototype] bytecode,
plus the on-disk luabc container codec.

The instruction set is three-address:
each [Instruction] packs an opcode and up to three operands
into 32 bits, with the opcode in the low byte.
Locals occupy stable registers at the bottom of a function's frame
and temporaries grow on a high-water-mark stack above them,
so after every statement the register stack
is back down to the function's locals.

[Compile] produces a validated prototype tree;
[Prototype.MarshalBinary] and [Prototype.UnmarshalBinary]
convert prototypes to and from luabc chunks.
*/
package luacode
