// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package lualex

import (
	"math"
	"testing"
)

func TestParseInt(t *testing.T) {
	tests := []struct {
		s    string
		want int64
		err  bool
	}{
		{s: "", err: true},
		{s: "0", want: 0},
		{s: "42", want: 42},
		{s: "-42", want: -42},
		{s: "  42  ", want: 42},
		{s: "0x10", want: 16},
		{s: "0XFF", want: 255},
		{s: "-0x2", want: -2},
		{s: "9223372036854775807", want: math.MaxInt64},
		{s: "9223372036854775808", err: true},
		{s: "0xffffffffffffffff", want: -1},
		{s: "0x11111111111111111", want: 0x1111111111111111},
		{s: "3.0", err: true},
		{s: "1e2", err: true},
		{s: "4_2", err: true},
		{s: "bogus", err: true},
	}

	for _, test := range tests {
		got, err := ParseInt(test.s)
		if got != test.want || (err != nil) != test.err {
			errString := "<nil>"
			if test.err {
				errString = "<error>"
			}
			t.Errorf("ParseInt(%q) = %d, %v; want %d, %s", test.s, got, err, test.want, errString)
		}
	}
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		s    string
		want float64
		err  bool
	}{
		{s: "", err: true},
		{s: "0", want: 0},
		{s: "3", want: 3},
		{s: "3.0", want: 3},
		{s: "3.1416", want: 3.1416},
		{s: "314.16e-2", want: 3.1416},
		{s: "0.31416E1", want: 3.1416},
		{s: "34e1", want: 340},
		{s: "0x13", want: 19},
		{s: "0x0.1E", want: 0.1171875},
		{s: "0xA23p-4", want: 162.1875},
		{s: "0X1.921FB54442D18P+1", want: math.Pi},
		{s: "inf", err: true},
		{s: "nan", err: true},
		{s: "1_0", err: true},
		{s: "bogus", err: true},
	}

	for _, test := range tests {
		got, err := ParseNumber(test.s)
		if got != test.want || (err != nil) != test.err {
			errString := "<nil>"
			if test.err {
				errString = "<error>"
			}
			t.Errorf("ParseNumber(%q) = %g, %v; want %g, %s", test.s, got, err, test.want, errString)
		}
	}
}
