// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

/*
Package lua implements the runtime half of the luabc toolchain:
a register-based virtual machine
that executes prototypes produced by the luacode compiler.

A [State] owns a contiguous value stack and a global environment table.
Values are represented as Go values
(nil, bool, int64, float64, string, [*Table], [*Function], [*GoFunction]);
reclamation of tables and closures, including cyclic ones,
is delegated to the Go garbage collector,
which traces exactly the stack-and-globals root set
the language requires.

The machine is single-threaded and runs each chunk to completion.
*/
package lua
