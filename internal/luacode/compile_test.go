// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package luacode

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"luabc.256lights.llc/pkg/internal/luasyntax"
)

func compileSource(t *testing.T, source string) *Prototype {
	t.Helper()
	block, err := luasyntax.Parse([]byte(source))
	if err != nil {
		t.Fatalf("Parse(%q): %v", source, err)
	}
	proto, err := Compile("=(test)", block)
	if err != nil {
		t.Fatalf("Compile(%q): %v", source, err)
	}
	return proto
}

// testPrograms is a corpus of valid chunks
// exercising every statement and expression form.
var testPrograms = []string{
	"",
	"return",
	"return 1 + 2",
	"return 2^10, 7 // 2, 7 % 3, 1 / 2",
	"local x = 42 return x",
	"local a, b, c = 1, 2 return c",
	"x = 1 y = x",
	"a, b = b, a",
	"local t = {} t[1] = 'one' t.two = 2 return t[1], t.two",
	"local t = {1, 2, 3, x = 4, [5] = 6}",
	"local s = 'a' .. 'b' .. 1",
	"if x then y = 1 elseif z then y = 2 else y = 3 end",
	"while n > 0 do n = n - 1 end",
	"repeat local done = step() until done",
	"for i = 1, 10 do sum = sum + i end",
	"for i = 10, 1, -1 do print(i) end",
	"for k, v in next, t do print(k, v) end",
	"while true do break end",
	"do local hidden = 1 end return hidden",
	"::top:: x = x + 1 if x < 10 then goto top end",
	"function f(a, b) return a + b end",
	"local function fact(n) if n < 2 then return 1 end return n * fact(n - 1) end",
	"function obj.field.fn() end",
	"function obj:method(x) return self, x end",
	"local function counter() local n = 0 return function() n = n + 1 return n end end",
	"local function vargs(...) return 1, ... end local a, b = vargs(2)",
	"print('x', 1 + 2, ...)",
	"return f()",
	"return (f())",
	"local a, b, c = f()",
	"local t = {f()}",
	"local t = {1, 2, f()}",
	"return not x, -x, #x, ~x",
	"return a == b, a ~= b, a < b, a <= b, a > b, a >= b",
	"return a and b or c",
	"return x & 3 | 4 ~ 5 << 1 >> 2",
	"obj:method(1, 2)",
	"return obj:method()",
}

func TestCompilePrograms(t *testing.T) {
	// Compile already validates register bounds,
	// constant indices, and jump targets on every prototype;
	// this test is the corpus sweep.
	for _, source := range testPrograms {
		compileSource(t, source)
	}
}

func TestCompileConstantPool(t *testing.T) {
	proto := compileSource(t, `
		local a = "hello"
		local b = "hello"
		local c = "world"
		local d = 3.5
		local e = 3.5
	`)
	want := []Value{StringValue("hello"), StringValue("world"), FloatValue(3.5)}
	if diff := cmp.Diff(want, proto.Constants, cmp.Comparer(func(a, b Value) bool { return a == b })); diff != "" {
		t.Errorf("constant pool (-want +got):\n%s", diff)
	}
}

func TestCompileConstantFolding(t *testing.T) {
	proto := compileSource(t, "return 2 + 3 * 4")
	for _, i := range proto.Code {
		switch i.OpCode() {
		case OpAdd, OpMul:
			t.Errorf("constant expression was not folded: %v", i)
		case OpLoadI:
			if got, want := i.ArgSBx(), int16(14); got != want {
				t.Errorf("folded constant = %d; want %d", got, want)
			}
		}
	}
}

func TestCompileFoldingPreservesRuntimeErrors(t *testing.T) {
	// 1 // 0 must compile and fail at run time, not compile time.
	proto := compileSource(t, "return 1 // 0")
	found := false
	for _, i := range proto.Code {
		if i.OpCode() == OpFDiv {
			found = true
		}
	}
	if !found {
		t.Error("1 // 0 was folded away")
	}
}

func TestCompileLocalRegisters(t *testing.T) {
	// Locals get stable bottom registers; parameters come first.
	proto := compileSource(t, "function f(a, b) local c = 1 return c end")
	if len(proto.Functions) != 1 {
		t.Fatalf("len(Functions) = %d; want 1", len(proto.Functions))
	}
	inner := proto.Functions[0]
	if got, want := inner.NumParams, uint8(2); got != want {
		t.Errorf("NumParams = %d; want %d", got, want)
	}
	if inner.FrameSize < 3 {
		t.Errorf("FrameSize = %d; want at least 3", inner.FrameSize)
	}
}

func TestCompileUpvalueCapture(t *testing.T) {
	proto := compileSource(t, `
		local function counter()
			local n = 0
			return function() n = n + 1 return n end
		end
	`)
	// The inner closure captures n from counter's frame:
	// its CLOSURE must be followed by a stack capture.
	counter := proto.Functions[0]
	for pc, i := range counter.Code {
		if i.OpCode() == OpClosure {
			if pc+1 >= len(counter.Code) || counter.Code[pc+1].OpCode() != OpCapture {
				t.Fatalf("CLOSURE at %d not followed by CAPTURE", pc)
			}
			if got := counter.Code[pc+1].ArgA(); got != 0 {
				t.Errorf("capture kind = %d; want 0 (stack)", got)
			}
			return
		}
	}
	t.Error("no CLOSURE instruction in counter")
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{"break", "break outside a loop"},
		{"goto nowhere", "no visible label"},
		{"::l:: ::l::", "already defined"},
		{"goto inside do local x = 1 ::inside:: end", "no visible label"},
		{"goto skip local x = 1 ::skip:: x = 2", "scope of a local"},
		{"for i = 1, 10, 0 do end", "'for' step is zero"},
	}
	for _, test := range tests {
		block, err := luasyntax.Parse([]byte(test.source))
		if err != nil {
			t.Fatalf("Parse(%q): %v", test.source, err)
		}
		_, err = Compile("=(test)", block)
		if err == nil {
			t.Errorf("Compile(%q) did not return an error", test.source)
			continue
		}
		var ce *CompileError
		if !errors.As(err, &ce) {
			t.Errorf("Compile(%q) error is %T; want *CompileError", test.source, err)
			continue
		}
		if !strings.Contains(err.Error(), test.want) {
			t.Errorf("Compile(%q) error = %q; want substring %q", test.source, err, test.want)
		}
	}
}

func TestCompileFrameSizeWithinRegisterLimit(t *testing.T) {
	// Every prototype in the corpus fits the register limit.
	// Operand registers below FrameSize are checked by validate,
	// which Compile runs on every prototype.
	for _, source := range testPrograms {
		proto := compileSource(t, source)
		var walk func(f *Prototype)
		walk = func(f *Prototype) {
			if got, want := int(f.FrameSize), maxRegisters; got > want {
				t.Errorf("%q: FrameSize %d > %d", source, got, want)
			}
			for _, fn := range f.Functions {
				walk(fn)
			}
		}
		walk(proto)
	}
}
