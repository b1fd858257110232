// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import "fmt"

// RuntimeError is the error type for faults during execution:
// indexing or calling nil, type mismatches in arithmetic or comparison,
// integer division by zero, explicit error() and assert() failures,
// and call stack overflow.
// Value holds the Lua error value, usually a string.
type RuntimeError struct {
	Value value
}

func (e *RuntimeError) Error() string {
	if e.Value == nil {
		return "nil"
	}
	return toString(e.Value)
}

func runtimeErrorf(format string, args ...any) *RuntimeError {
	return &RuntimeError{Value: fmt.Sprintf(format, args...)}
}
