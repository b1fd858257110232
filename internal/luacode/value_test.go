// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package luacode

import (
	"math"
	"testing"
)

func TestValueUnquoted(t *testing.T) {
	tests := []struct {
		v        Value
		want     string
		isString bool
	}{
		{StringValue("abc"), "abc", true},
		{IntegerValue(42), "42", false},
		{IntegerValue(-1), "-1", false},
		{FloatValue(1), "1.0", false},
		{FloatValue(3.1416), "3.1416", false},
		{FloatValue(0.1), "0.1", false},
		{FloatValue(1e100), "1e+100", false},
	}
	for _, test := range tests {
		got, isString := test.v.Unquoted()
		if got != test.want || isString != test.isString {
			t.Errorf("(%v).Unquoted() = %q, %t; want %q, %t",
				test.v, got, isString, test.want, test.isString)
		}
	}
}

func TestValueEqual(t *testing.T) {
	tests := []struct {
		v1, v2 Value
		want   bool
	}{
		{Value{}, Value{}, true},
		{Value{}, BoolValue(false), false},
		{BoolValue(true), BoolValue(true), true},
		{BoolValue(true), BoolValue(false), false},
		{IntegerValue(1), IntegerValue(1), true},
		{IntegerValue(1), FloatValue(1), true},
		{FloatValue(1), IntegerValue(1), true},
		{IntegerValue(1), StringValue("1"), false},
		{StringValue("x"), StringValue("x"), true},
		{StringValue("x"), StringValue("y"), false},
	}
	for _, test := range tests {
		if got := test.v1.Equal(test.v2); got != test.want {
			t.Errorf("(%v).Equal(%v) = %t; want %t", test.v1, test.v2, got, test.want)
		}
	}
}

func TestFloatToInteger(t *testing.T) {
	tests := []struct {
		f    float64
		mode FloatToIntegerMode
		want int64
		ok   bool
	}{
		{f: 0, mode: OnlyIntegral, want: 0, ok: true},
		{f: 42, mode: OnlyIntegral, want: 42, ok: true},
		{f: -3, mode: OnlyIntegral, want: -3, ok: true},
		{f: 2.5, mode: OnlyIntegral, ok: false},
		{f: 2.5, mode: Floor, want: 2, ok: true},
		{f: 2.5, mode: Ceil, want: 3, ok: true},
		{f: -2.5, mode: Floor, want: -3, ok: true},
		{f: -2.5, mode: Ceil, want: -2, ok: true},
		{f: math.MinInt64, mode: OnlyIntegral, want: math.MinInt64, ok: true},
		{f: math.MaxInt64, mode: OnlyIntegral, ok: false},
		{f: math.Inf(1), mode: Floor, ok: false},
		{f: math.NaN(), mode: Floor, ok: false},
	}
	for _, test := range tests {
		got, ok := FloatToInteger(test.f, test.mode)
		if got != test.want && ok || ok != test.ok {
			t.Errorf("FloatToInteger(%g, %d) = %d, %t; want %d, %t",
				test.f, int(test.mode), got, ok, test.want, test.ok)
		}
	}
}
