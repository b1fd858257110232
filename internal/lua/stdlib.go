// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"fmt"
	"io"

	"luabc.256lights.llc/pkg/internal/lualex"
)

// registerBase installs the basic library into the global environment.
func (l *State) registerBase() {
	for name, fn := range map[string]func(*State, []value) ([]value, error){
		"assert":   baseAssert,
		"error":    baseError,
		"ipairs":   baseIPairs,
		"print":    basePrint,
		"tonumber": baseToNumber,
		"tostring": baseToString,
		"type":     baseType,
	} {
		l.globals.Set(name, &GoFunction{name: name, fn: fn})
	}
	l.globals.Set("_G", l.globals)
}

func arg(args []value, i int) value {
	if i >= len(args) {
		return nil
	}
	return args[i]
}

// basePrint writes its arguments separated by single spaces
// followed by a newline.
func basePrint(l *State, args []value) ([]value, error) {
	for i, v := range args {
		if i > 0 {
			if _, err := io.WriteString(l.out, " "); err != nil {
				return nil, err
			}
		}
		if _, err := io.WriteString(l.out, toString(v)); err != nil {
			return nil, err
		}
	}
	if _, err := io.WriteString(l.out, "\n"); err != nil {
		return nil, err
	}
	return nil, nil
}

// baseAssert raises an error when its first argument is falsey,
// using the second argument as the message when present.
// Otherwise it returns all its arguments.
func baseAssert(l *State, args []value) ([]value, error) {
	if len(args) == 0 {
		return nil, runtimeErrorf("bad argument #1 to 'assert' (value expected)")
	}
	if !truthy(args[0]) {
		if len(args) > 1 {
			return nil, &RuntimeError{Value: args[1]}
		}
		return nil, &RuntimeError{Value: "assertion failed!"}
	}
	return args, nil
}

func baseError(l *State, args []value) ([]value, error) {
	return nil, &RuntimeError{Value: arg(args, 0)}
}

func baseType(l *State, args []value) ([]value, error) {
	if len(args) == 0 {
		return nil, runtimeErrorf("bad argument #1 to 'type' (value expected)")
	}
	return []value{typeName(args[0])}, nil
}

func baseToString(l *State, args []value) ([]value, error) {
	if len(args) == 0 {
		return nil, runtimeErrorf("bad argument #1 to 'tostring' (value expected)")
	}
	return []value{toString(args[0])}, nil
}

func baseToNumber(l *State, args []value) ([]value, error) {
	switch v := arg(args, 0).(type) {
	case int64, float64:
		return []value{v}, nil
	case string:
		if i, err := lualex.ParseInt(v); err == nil {
			return []value{i}, nil
		}
		if f, err := lualex.ParseNumber(v); err == nil {
			return []value{f}, nil
		}
		return []value{nil}, nil
	default:
		return []value{nil}, nil
	}
}

// baseIPairs returns an iterator triple
// that walks t[1], t[2], ... until the first nil value.
func baseIPairs(l *State, args []value) ([]value, error) {
	t, ok := arg(args, 0).(*Table)
	if !ok {
		return nil, runtimeErrorf("bad argument #1 to 'ipairs' (table expected, got %s)", typeName(arg(args, 0)))
	}
	iter := &GoFunction{
		name: "ipairs iterator",
		fn: func(l *State, args []value) ([]value, error) {
			t, ok := arg(args, 0).(*Table)
			if !ok {
				return nil, runtimeErrorf("bad argument #1 to 'ipairs iterator' (table expected)")
			}
			i, ok := arg(args, 1).(int64)
			if !ok {
				return nil, fmt.Errorf("lua: internal error: ipairs control is a %s", typeName(arg(args, 1)))
			}
			i++
			v := t.Get(i)
			if v == nil {
				return []value{nil}, nil
			}
			return []value{i, v}, nil
		},
	}
	return []value{iter, t, int64(0)}, nil
}
