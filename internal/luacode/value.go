// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package luacode

import (
	"math"
	"strconv"
	"strings"

	"luabc.256lights.llc/pkg/internal/lualex"
)

// valueType discriminates [Value] variants.
// The numbering matches the constant tags of the luabc container.
type valueType byte

const (
	valueTypeNil     valueType = 0
	valueTypeBoolean valueType = 1
	valueTypeInteger valueType = 2
	valueTypeFloat   valueType = 3
	valueTypeString  valueType = 4
)

// Value is the subset of Lua values that can be used as constants:
// nil, booleans, integers, floats, and strings.
// The zero value is nil.
// Values can be compared for equality with the == operator;
// two Values are == if and only if
// they have the same type and the same contents.
type Value struct {
	bits uint64
	s    string
	t    valueType
}

// BoolValue converts a boolean to a [Value].
func BoolValue(b bool) Value {
	v := Value{t: valueTypeBoolean}
	if b {
		v.bits = 1
	}
	return v
}

// IntegerValue converts an integer to a [Value].
func IntegerValue(i int64) Value {
	return Value{t: valueTypeInteger, bits: uint64(i)}
}

// FloatValue converts a floating-point number to a [Value].
func FloatValue(f float64) Value {
	return Value{t: valueTypeFloat, bits: math.Float64bits(f)}
}

// StringValue converts a string to a [Value].
func StringValue(s string) Value {
	return Value{t: valueTypeString, s: s}
}

// IsNil reports whether v is the zero value.
func (v Value) IsNil() bool { return v.t == valueTypeNil }

// IsBoolean reports whether the value is a boolean.
func (v Value) IsBoolean() bool { return v.t == valueTypeBoolean }

// IsInteger reports whether the value is an integer.
func (v Value) IsInteger() bool { return v.t == valueTypeInteger }

// IsNumber reports whether the value is an integer or a float.
func (v Value) IsNumber() bool {
	return v.t == valueTypeInteger || v.t == valueTypeFloat
}

// IsString reports whether the value is a string.
func (v Value) IsString() bool { return v.t == valueTypeString }

// Bool returns the value's truthiness in Lua
// (everything but nil and false tests true)
// and reports whether the value is a boolean.
func (v Value) Bool() (_ bool, isBool bool) {
	truthy := v.t != valueTypeNil && !(v.t == valueTypeBoolean && v.bits == 0)
	return truthy, v.t == valueTypeBoolean
}

// Int64 returns the value as an integer
// and reports whether the value is an integer.
// Floats with integral values convert
// according to the given [FloatToIntegerMode];
// no other coercion occurs.
func (v Value) Int64(mode FloatToIntegerMode) (_ int64, ok bool) {
	switch v.t {
	case valueTypeInteger:
		return int64(v.bits), true
	case valueTypeFloat:
		return FloatToInteger(math.Float64frombits(v.bits), mode)
	default:
		return 0, false
	}
}

// Float64 returns the value as a floating-point number
// and reports whether the value is a number.
// Integers promote; no other coercion occurs.
func (v Value) Float64() (_ float64, isNumber bool) {
	switch v.t {
	case valueTypeInteger:
		return float64(int64(v.bits)), true
	case valueTypeFloat:
		return math.Float64frombits(v.bits), true
	default:
		return 0, false
	}
}

// Unquoted returns the value as a string
// and reports whether the value is a string.
// Numbers are coerced to their canonical decimal text,
// but isString will be false.
func (v Value) Unquoted() (s string, isString bool) {
	switch v.t {
	case valueTypeString:
		return v.s, true
	case valueTypeInteger:
		return strconv.FormatInt(int64(v.bits), 10), false
	case valueTypeFloat:
		return formatFloat(math.Float64frombits(v.bits)), false
	default:
		return "", false
	}
}

// formatFloat renders f in its shortest decimal form,
// keeping a trailing ".0" so the text still reads as a float.
func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".enN") { // radix point, exponent, Inf, NaN
		s += ".0"
	}
	return s
}

// String returns the value as a Lua constant.
func (v Value) String() string {
	switch v.t {
	case valueTypeNil:
		return "nil"
	case valueTypeBoolean:
		if v.bits != 0 {
			return "true"
		}
		return "false"
	case valueTypeInteger, valueTypeFloat:
		s, _ := v.Unquoted()
		return s
	case valueTypeString:
		return lualex.Quote(v.s)
	default:
		return "<invalid value>"
	}
}

// Equal reports whether two values are equivalent
// according to Lua's == operator:
// integers and floats compare numerically,
// every other pair of types only compares equal within the same type.
func (v Value) Equal(v2 Value) bool {
	switch v.t {
	case valueTypeNil, valueTypeBoolean:
		return v.t == v2.t && v.bits == v2.bits
	case valueTypeInteger:
		if v2.t == valueTypeInteger {
			return v.bits == v2.bits
		}
		f2, ok := v2.Float64()
		return ok && float64(int64(v.bits)) == f2
	case valueTypeFloat:
		f1, _ := v.Float64()
		f2, ok := v2.Float64()
		return ok && f1 == f2
	case valueTypeString:
		return v2.t == valueTypeString && v.s == v2.s
	default:
		return false
	}
}

// FloatToIntegerMode is an enumeration of rounding modes for [FloatToInteger].
type FloatToIntegerMode int

// Rounding modes.
const (
	// OnlyIntegral does not perform rounding
	// and only accepts integral values.
	OnlyIntegral FloatToIntegerMode = iota
	// Floor rounds to the greatest integer value
	// less than or equal to the number.
	Floor
	// Ceil rounds to the least integer value
	// greater than or equal to the number.
	Ceil
)

// FloatToInteger attempts to convert a floating-point number to an integer,
// rounding according to the given mode.
func FloatToInteger(n float64, mode FloatToIntegerMode) (_ int64, ok bool) {
	f := math.Floor(n)
	if f != n {
		switch mode {
		case OnlyIntegral:
			return 0, false
		case Ceil:
			f += 1
		}
	}

	// math.MinInt64 always has an exact float representation,
	// but math.MaxInt64 may not.
	if !(math.MinInt64 <= f && f < -math.MinInt64) {
		return 0, false
	}
	return int64(f), true
}
