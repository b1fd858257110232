// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package luacode

import (
	"errors"
	"math"
	"testing"
)

func TestArithmetic(t *testing.T) {
	tests := []struct {
		op     ArithmeticOperator
		p1, p2 Value
		want   Value
		err    error
	}{
		{op: Add, p1: IntegerValue(2), p2: IntegerValue(3), want: IntegerValue(5)},
		{op: Add, p1: IntegerValue(2), p2: FloatValue(3), want: FloatValue(5)},
		{op: Add, p1: IntegerValue(math.MaxInt64), p2: IntegerValue(1), want: IntegerValue(math.MinInt64)},
		{op: Subtract, p1: IntegerValue(2), p2: IntegerValue(3), want: IntegerValue(-1)},
		{op: Multiply, p1: IntegerValue(6), p2: IntegerValue(7), want: IntegerValue(42)},
		{op: Divide, p1: IntegerValue(1), p2: IntegerValue(2), want: FloatValue(0.5)},
		{op: Divide, p1: FloatValue(1), p2: FloatValue(0), want: FloatValue(math.Inf(1))},
		{op: Divide, p1: FloatValue(-1), p2: FloatValue(0), want: FloatValue(math.Inf(-1))},
		{op: Power, p1: IntegerValue(2), p2: IntegerValue(10), want: FloatValue(1024)},

		// Floor division and modulo for all sign combinations.
		{op: FloorDivide, p1: IntegerValue(7), p2: IntegerValue(2), want: IntegerValue(3)},
		{op: FloorDivide, p1: IntegerValue(-7), p2: IntegerValue(2), want: IntegerValue(-4)},
		{op: FloorDivide, p1: IntegerValue(7), p2: IntegerValue(-2), want: IntegerValue(-4)},
		{op: FloorDivide, p1: IntegerValue(-7), p2: IntegerValue(-2), want: IntegerValue(3)},
		{op: FloorDivide, p1: IntegerValue(1), p2: IntegerValue(0), err: ErrDivideByZero},
		{op: FloorDivide, p1: FloatValue(7), p2: FloatValue(2), want: FloatValue(3)},
		{op: Modulo, p1: IntegerValue(7), p2: IntegerValue(3), want: IntegerValue(1)},
		{op: Modulo, p1: IntegerValue(-7), p2: IntegerValue(3), want: IntegerValue(2)},
		{op: Modulo, p1: IntegerValue(7), p2: IntegerValue(-3), want: IntegerValue(-2)},
		{op: Modulo, p1: IntegerValue(-7), p2: IntegerValue(-3), want: IntegerValue(-1)},
		{op: Modulo, p1: IntegerValue(1), p2: IntegerValue(0), err: ErrDivideByZero},
		{op: Modulo, p1: FloatValue(-7), p2: FloatValue(3), want: FloatValue(2)},

		// Bitwise operators coerce to integer.
		{op: BitwiseAnd, p1: IntegerValue(0b1100), p2: IntegerValue(0b1010), want: IntegerValue(0b1000)},
		{op: BitwiseOr, p1: IntegerValue(0b1100), p2: IntegerValue(0b1010), want: IntegerValue(0b1110)},
		{op: BitwiseXOR, p1: IntegerValue(0b1100), p2: IntegerValue(0b1010), want: IntegerValue(0b0110)},
		{op: BitwiseAnd, p1: FloatValue(6), p2: IntegerValue(3), want: IntegerValue(2)},
		{op: BitwiseAnd, p1: FloatValue(6.5), p2: IntegerValue(3), err: ErrNotInteger},
		{op: ShiftLeft, p1: IntegerValue(1), p2: IntegerValue(4), want: IntegerValue(16)},
		{op: ShiftLeft, p1: IntegerValue(1), p2: IntegerValue(-1), want: IntegerValue(0)},
		{op: ShiftRight, p1: IntegerValue(-1), p2: IntegerValue(63), want: IntegerValue(1)},
		{op: ShiftRight, p1: IntegerValue(1), p2: IntegerValue(64), want: IntegerValue(0)},
		{op: ShiftRight, p1: IntegerValue(16), p2: IntegerValue(-2), want: IntegerValue(64)},

		{op: UnaryMinus, p1: IntegerValue(42), want: IntegerValue(-42)},
		{op: UnaryMinus, p1: FloatValue(42), want: FloatValue(-42)},
		{op: BitwiseNot, p1: IntegerValue(0), want: IntegerValue(-1)},

		{op: Add, p1: StringValue("x"), p2: IntegerValue(1), err: ErrNotNumber},
		{op: BitwiseAnd, p1: Value{}, p2: IntegerValue(1), err: ErrNotNumber},
	}

	for _, test := range tests {
		got, err := Arithmetic(test.op, test.p1, test.p2)
		if test.err != nil {
			if !errors.Is(err, test.err) {
				t.Errorf("Arithmetic(%d, %v, %v) error = %v; want %v",
					int(test.op), test.p1, test.p2, err, test.err)
			}
			continue
		}
		if err != nil {
			t.Errorf("Arithmetic(%d, %v, %v): %v", int(test.op), test.p1, test.p2, err)
			continue
		}
		if got != test.want {
			t.Errorf("Arithmetic(%d, %v, %v) = %v; want %v",
				int(test.op), test.p1, test.p2, got, test.want)
		}
	}
}

func TestArithmeticCommutative(t *testing.T) {
	// a+b == b+a for integers within non-overflow range.
	values := []int64{-100, -7, -1, 0, 1, 2, 3, 42, 1 << 30}
	for _, a := range values {
		for _, b := range values {
			x, err1 := Arithmetic(Add, IntegerValue(a), IntegerValue(b))
			y, err2 := Arithmetic(Add, IntegerValue(b), IntegerValue(a))
			if err1 != nil || err2 != nil {
				t.Fatalf("Arithmetic(Add, %d, %d): %v, %v", a, b, err1, err2)
			}
			if x != y {
				t.Errorf("%d + %d = %v, but %d + %d = %v", a, b, x, b, a, y)
			}
		}
	}
}

func TestIntegerFloorDivision(t *testing.T) {
	// Integer // agrees with mathematical floor division
	// for all sign combinations.
	values := []int64{-9, -7, -3, -2, -1, 1, 2, 3, 7, 9}
	for _, a := range values {
		for _, b := range values {
			got, err := Arithmetic(FloorDivide, IntegerValue(a), IntegerValue(b))
			if err != nil {
				t.Fatalf("Arithmetic(FloorDivide, %d, %d): %v", a, b, err)
			}
			want := int64(math.Floor(float64(a) / float64(b)))
			if gotInt, _ := got.Int64(OnlyIntegral); gotInt != want {
				t.Errorf("%d // %d = %v; want %d", a, b, got, want)
			}
		}
	}
}
