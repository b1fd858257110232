// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"fmt"

	"luabc.256lights.llc/pkg/internal/luacode"
	"luabc.256lights.llc/pkg/internal/lualex"
)

// value is a runtime Lua value:
// nil, bool, int64, float64, string, *Table, *Function, or *GoFunction.
type value = any

// typeName returns the Lua name of a value's type.
func typeName(v value) string {
	switch v.(type) {
	case nil:
		return "nil"
	case bool:
		return "boolean"
	case int64, float64:
		return "number"
	case string:
		return "string"
	case *Table:
		return "table"
	case *Function, *GoFunction:
		return "function"
	default:
		panic(fmt.Sprintf("unhandled value type %T", v))
	}
}

// truthy reports whether v tests true in Lua:
// everything except nil and false,
// including 0 and the empty string.
func truthy(v value) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	default:
		return true
	}
}

// importValue converts a compile-time constant to a runtime value.
func importValue(v luacode.Value) value {
	switch {
	case v.IsNil():
		return nil
	case v.IsBoolean():
		b, _ := v.Bool()
		return b
	case v.IsInteger():
		i, _ := v.Int64(luacode.OnlyIntegral)
		return i
	case v.IsNumber():
		f, _ := v.Float64()
		return f
	case v.IsString():
		s, _ := v.Unquoted()
		return s
	default:
		panic("unhandled constant type")
	}
}

// exportNumeric converts a runtime value to a numeric constant
// for the arithmetic kernel,
// coercing strings by Lua's lexical rules.
func exportNumeric(v value) (luacode.Value, bool) {
	switch v := v.(type) {
	case int64:
		return luacode.IntegerValue(v), true
	case float64:
		return luacode.FloatValue(v), true
	case string:
		if i, err := lualex.ParseInt(v); err == nil {
			return luacode.IntegerValue(i), true
		}
		if f, err := lualex.ParseNumber(v); err == nil {
			return luacode.FloatValue(f), true
		}
		return luacode.Value{}, false
	default:
		return luacode.Value{}, false
	}
}

// toString renders a value the way print and tostring do.
// Numbers use their canonical decimal form.
func toString(v value) string {
	switch v := v.(type) {
	case nil:
		return "nil"
	case bool:
		if v {
			return "true"
		}
		return "false"
	case int64:
		s, _ := luacode.IntegerValue(v).Unquoted()
		return s
	case float64:
		s, _ := luacode.FloatValue(v).Unquoted()
		return s
	case string:
		return v
	case *Table:
		return fmt.Sprintf("table: %p", v)
	case *Function:
		return fmt.Sprintf("function: %p", v)
	case *GoFunction:
		return fmt.Sprintf("function: builtin: %p", v)
	default:
		panic(fmt.Sprintf("unhandled value type %T", v))
	}
}

// concatString renders a value for the .. operator,
// which accepts strings and numbers only.
func concatString(v value) (string, bool) {
	switch v.(type) {
	case int64, float64, string:
		return toString(v), true
	default:
		return "", false
	}
}

// equals implements Lua's == operator:
// false across different types
// except integers and floats compare numerically.
func equals(v1, v2 value) bool {
	switch v1 := v1.(type) {
	case int64:
		switch v2 := v2.(type) {
		case int64:
			return v1 == v2
		case float64:
			return float64(v1) == v2
		default:
			return false
		}
	case float64:
		switch v2 := v2.(type) {
		case int64:
			return v1 == float64(v2)
		case float64:
			return v1 == v2
		default:
			return false
		}
	default:
		return v1 == v2
	}
}

// compare implements < and <=,
// defined between two numbers and between two strings.
func compare(op luacode.OpCode, v1, v2 value) (bool, error) {
	if s1, ok := v1.(string); ok {
		if s2, ok := v2.(string); ok {
			if op == luacode.OpLt {
				return s1 < s2, nil
			}
			return s1 <= s2, nil
		}
	}
	n1, ok1 := numericValue(v1)
	n2, ok2 := numericValue(v2)
	if !ok1 || !ok2 {
		return false, &RuntimeError{
			Value: fmt.Sprintf("attempt to compare %s with %s", typeName(v1), typeName(v2)),
		}
	}
	var result bool
	switch {
	case isInt(v1) && isInt(v2):
		i1, i2 := v1.(int64), v2.(int64)
		if op == luacode.OpLt {
			result = i1 < i2
		} else {
			result = i1 <= i2
		}
	default:
		if op == luacode.OpLt {
			result = n1 < n2
		} else {
			result = n1 <= n2
		}
	}
	return result, nil
}

func isInt(v value) bool {
	_, ok := v.(int64)
	return ok
}

// numericValue promotes a number to float64 without string coercion.
func numericValue(v value) (float64, bool) {
	switch v := v.(type) {
	case int64:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}
