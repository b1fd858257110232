// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"slices"

	"luabc.256lights.llc/pkg/internal/luacode"
)

// Function is a Lua closure:
// a compiled prototype plus its captured upvalues.
type Function struct {
	proto  *luacode.Prototype
	upvals []*upvalue
}

// GoFunction is a builtin function implemented in Go.
// Arguments arrive as a slice;
// the returned slice becomes the call's results.
type GoFunction struct {
	name string
	fn   func(l *State, args []value) ([]value, error)
}

// upvalue is a shared cell for a captured variable.
// While open it aliases a stack slot;
// when the owning frame returns it closes over the value.
type upvalue struct {
	stackIndex int
	open       bool
	v          value
}

func (uv *upvalue) get(l *State) value {
	if uv.open {
		return l.stack[uv.stackIndex]
	}
	return uv.v
}

func (uv *upvalue) set(l *State, v value) {
	if uv.open {
		l.stack[uv.stackIndex] = v
		return
	}
	uv.v = v
}

// findOpenUpvalue returns the open upvalue cell for a stack slot,
// creating one if needed.
// Closures capturing the same variable share the cell,
// so writes through one are seen by all.
func (l *State) findOpenUpvalue(stackIndex int) *upvalue {
	for _, uv := range l.openUpvals {
		if uv.stackIndex == stackIndex {
			return uv
		}
	}
	uv := &upvalue{stackIndex: stackIndex, open: true}
	l.openUpvals = append(l.openUpvals, uv)
	return uv
}

// closeUpvalues closes every open upvalue
// at or above the given stack index.
func (l *State) closeUpvalues(from int) {
	if len(l.openUpvals) == 0 {
		return
	}
	l.openUpvals = slices.DeleteFunc(l.openUpvals, func(uv *upvalue) bool {
		if uv.stackIndex < from {
			return false
		}
		uv.v = l.stack[uv.stackIndex]
		uv.open = false
		return true
	})
}
