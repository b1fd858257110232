// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"errors"
	"strings"
	"testing"

	"luabc.256lights.llc/pkg/internal/luacode"
	"luabc.256lights.llc/pkg/internal/luasyntax"
)

// run compiles and executes a chunk, returning everything printed.
func run(t *testing.T, source string) (string, error) {
	t.Helper()
	block, err := luasyntax.Parse([]byte(source))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	proto, err := luacode.Compile("=(test)", block)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	out := new(strings.Builder)
	l := NewState(out)
	err = l.Run(proto)
	return out.String(), err
}

func mustRun(t *testing.T, source string) string {
	t.Helper()
	out, err := run(t, source)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return out
}

func TestExecBasics(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   string
	}{
		{
			name:   "Print",
			source: `print("hello", 42, true, nil)`,
			want:   "hello 42 true nil\n",
		},
		{
			name:   "IntegerArithmetic",
			source: `local a, b = 7, 2 print(a + b, a - b, a * b, a // b, a % b)`,
			want:   "9 5 14 3 1\n",
		},
		{
			name:   "FloatArithmetic",
			source: `print(7 / 2, 2 ^ 10, 1 / 2)`,
			want:   "3.5 1024.0 0.5\n",
		},
		{
			name:   "MixedPromotesToFloat",
			source: `local x = 1 + 0.5 print(x, 2 * 1.5)`,
			want:   "1.5 3.0\n",
		},
		{
			name:   "StringCoercion",
			source: `print("10" + 5, "0x10" + 0)`,
			want:   "15 16\n",
		},
		{
			name:   "Concat",
			source: `print("a" .. "b" .. 1 .. 2.5)`,
			want:   "ab12.5\n",
		},
		{
			name:   "Comparisons",
			source: `print(1 < 2, 2 <= 2, "a" < "b", 1 == 1.0, 1 == "1")`,
			want:   "true true true true false\n",
		},
		{
			name:   "Bitwise",
			source: `print(6 & 3, 6 | 3, 6 ~ 3, 1 << 4, 256 >> 4, ~0)`,
			want:   "2 7 5 16 16 -1\n",
		},
		{
			name:   "UnaryOperators",
			source: `print(-(3), not nil, not 0, #"hello", #({1,2,3}))`,
			want:   "-3 true false 5 3\n",
		},
		{
			name:   "IfElse",
			source: `local x = 5 if x > 3 then print("big") elseif x > 0 then print("small") else print("neg") end`,
			want:   "big\n",
		},
		{
			name:   "WhileLoop",
			source: `local n, sum = 5, 0 while n > 0 do sum = sum + n n = n - 1 end print(sum)`,
			want:   "15\n",
		},
		{
			name:   "RepeatUntil",
			source: `local n = 0 repeat n = n + 1 local done = n >= 3 until done print(n)`,
			want:   "3\n",
		},
		{
			name:   "NumericFor",
			source: `local sum = 0 for i = 1, 10 do sum = sum + i end print(sum)`,
			want:   "55\n",
		},
		{
			name:   "NumericForStep",
			source: `for i = 10, 1, -3 do print(i) end`,
			want:   "10\n7\n4\n1\n",
		},
		{
			name:   "NumericForFloat",
			source: `local sum = 0 for i = 1, 2, 0.5 do sum = sum + i end print(sum)`,
			want:   "4.5\n",
		},
		{
			name:   "NumericForSkipped",
			source: `for i = 1, 0 do print(i) end print("done")`,
			want:   "done\n",
		},
		{
			name:   "GenericFor",
			source: `local t = {10, 20, 30} for i, v in ipairs(t) do print(i, v) end`,
			want:   "1 10\n2 20\n3 30\n",
		},
		{
			name:   "Break",
			source: `for i = 1, 10 do if i > 3 then break end print(i) end`,
			want:   "1\n2\n3\n",
		},
		{
			name:   "Goto",
			source: `local i = 0 ::top:: i = i + 1 if i < 3 then goto top end print(i)`,
			want:   "3\n",
		},
		{
			name:   "Tables",
			source: `local t = {} t[1] = "one" t.two = 2 t["three"] = 3.0 print(t[1], t.two, t.three)`,
			want:   "one 2 3.0\n",
		},
		{
			name:   "TableConstructor",
			source: `local t = {1, 2, x = "y", [10] = true, 3} print(t[1], t[2], t[3], t.x, t[10])`,
			want:   "1 2 3 y true\n",
		},
		{
			name:   "Functions",
			source: `local function double(x) return 2 * x end print(double(21))`,
			want:   "42\n",
		},
		{
			name:   "Recursion",
			source: `local function fact(n) if n < 2 then return 1 end return n * fact(n - 1) end print(fact(10))`,
			want:   "3628800\n",
		},
		{
			name:   "MethodCall",
			source: `local obj = {factor = 3} function obj:scale(x) return self.factor * x end print(obj:scale(5))`,
			want:   "15\n",
		},
		{
			name:   "Closures",
			source: `local function counter() local n = 0 return function() n = n + 1 return n end end local c = counter() print(c(), c(), c())`,
			want:   "1 2 3\n",
		},
		{
			name:   "MultipleAssignment",
			source: `local a, b = 1, 2 a, b = b, a print(a, b)`,
			want:   "2 1\n",
		},
		{
			name:   "MultipleReturns",
			source: `local function pair() return 1, 2 end print(pair()) print((pair()))`,
			want:   "1 2\n1\n",
		},
		{
			name:   "VarargExpansion",
			source: `local function f(...) print(...) print(select2(...)) end function select2(a, b) return b end f(10, 20, 30)`,
			want:   "10 20 30\n20\n",
		},
		{
			name:   "ShortCircuit",
			source: `print(nil or "x", false or "x", "a" or "b", nil and 1, false and 1, "a" and "b")`,
			want:   "x x a nil false b\n",
		},
		{
			name:   "GlobalFunctions",
			source: `function add(a, b) return a + b end print(add(2, 3))`,
			want:   "5\n",
		},
		{
			name:   "NestedCalls",
			source: `function add(a, b) return a + b end print(add(add(1, 2), add(3, 4)))`,
			want:   "10\n",
		},
		{
			name:   "Tostring",
			source: `print(tostring(nil) .. "/" .. tostring(12) .. "/" .. tostring(1.5))`,
			want:   "nil/12/1.5\n",
		},
		{
			name:   "Tonumber",
			source: `print(tonumber("42"), tonumber("3.5"), tonumber("bogus"), tonumber(7))`,
			want:   "42 3.5 nil 7\n",
		},
		{
			name:   "Type",
			source: `print(type(nil), type(true), type(0), type(""), type({}), type(print))`,
			want:   "nil boolean number string table function\n",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := mustRun(t, test.source); got != test.want {
				t.Errorf("output = %q; want %q", got, test.want)
			}
		})
	}
}

func TestExecScenarios(t *testing.T) {
	// End-to-end scenarios from the toolchain's acceptance list.
	t.Run("Add", func(t *testing.T) {
		mustRun(t, `
			function add(a, b) return a + b end
			local x = add(2, 3)
			assert(x == 5)
			assert(add(5, 5) == 10)
		`)
	})
	t.Run("Varargs", func(t *testing.T) {
		mustRun(t, `
			function vargs(...) return 1, ... end
			local a, b, c = vargs(2, 3, 4, 5)
			assert(a == 1 and b == 2 and c == 3)
		`)
	})
	t.Run("Fib", func(t *testing.T) {
		mustRun(t, `
			function fib(n)
				local a, b = 0, 1
				for i = 1, n do
					a, b = b, a + b
				end
				return a
			end
			assert(fib(60) == 1548008755920)
		`)
	})
	t.Run("Nsieve", func(t *testing.T) {
		if testing.Short() {
			t.Skip("skipping sieve in short mode")
		}
		mustRun(t, `
			function nsieve(m)
				local isPrime = {}
				for i = 2, m do
					isPrime[i] = true
				end
				local count = 0
				for i = 2, m do
					if isPrime[i] then
						count = count + 1
						for k = i + i, m, i do
							isPrime[k] = false
						end
					end
				end
				return count
			end
			assert(nsieve(200000) == 17984)
		`)
	})
	t.Run("TableSum", func(t *testing.T) {
		mustRun(t, `
			local t = {}
			for i = 1, 10 do t[i] = i * i end
			local s = 0
			for i = 1, #t do s = s + t[i] end
			assert(s == 385)
		`)
	})
	t.Run("AssertFailure", func(t *testing.T) {
		_, err := run(t, `assert(false, "boom")`)
		var re *RuntimeError
		if !errors.As(err, &re) {
			t.Fatalf("error is %T (%v); want *RuntimeError", err, err)
		}
		if !strings.Contains(err.Error(), "boom") {
			t.Errorf("error = %q; want it to contain \"boom\"", err)
		}
	})
}

func TestExecMultiValueAdjustment(t *testing.T) {
	// local a,b,c = f() receives the first three results padded with nil;
	// local a,b = f(), 1 truncates f() to one value.
	mustRun(t, `
		local function two() return "x", "y" end
		local a, b, c = two()
		assert(a == "x" and b == "y" and c == nil)
		local d, e = two(), 1
		assert(d == "x" and e == 1)
		local t = {two(), two()}
		assert(#t == 3 and t[1] == "x" and t[2] == "x" and t[3] == "y")
	`)
}

func TestExecShortCircuitValues(t *testing.T) {
	mustRun(t, `
		local x = "truthy"
		assert((nil or x) == x)
		assert((false or x) == x)
		assert((x or error("not evaluated")) == x)
		assert((nil and error("not evaluated")) == nil)
		assert((x and 42) == 42)
		assert((false and 42) == false)
	`)
}

func TestExecUpvalueSharing(t *testing.T) {
	// Two closures over the same local share the variable.
	mustRun(t, `
		local function make()
			local n = 0
			local function inc() n = n + 1 end
			local function get() return n end
			return inc, get
		end
		local inc, get = make()
		inc()
		inc()
		assert(get() == 2)
	`)
}

func TestExecRuntimeErrors(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   string
	}{
		{name: "CallNil", source: `undefined()`, want: "attempt to call a nil value"},
		{name: "IndexNil", source: `local x = nil print(x.field)`, want: "attempt to index a nil value"},
		{name: "AddTable", source: `return {} + 1`, want: "arithmetic"},
		{name: "CompareMismatch", source: `return 1 < "x"`, want: "attempt to compare number with string"},
		{name: "ConcatTable", source: `return "x" .. {}`, want: "attempt to concatenate a table value"},
		{name: "IntegerDivByZero", source: `local zero = 0 return 1 // zero`, want: "attempt to perform 'n//0'"},
		{name: "ForStepZero", source: `local step = 0 for i = 1, 10, step do end`, want: "'for' step is zero"},
		{name: "ErrorBuiltin", source: `error("custom failure")`, want: "custom failure"},
		{
			name:   "StackOverflow",
			source: `local function loop() return loop() + 1 end loop()`,
			want:   "stack overflow",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := run(t, test.source)
			if err == nil {
				t.Fatal("run did not return an error")
			}
			var re *RuntimeError
			if !errors.As(err, &re) {
				t.Fatalf("error is %T (%v); want *RuntimeError", err, err)
			}
			if !strings.Contains(err.Error(), test.want) {
				t.Errorf("error = %q; want substring %q", err, test.want)
			}
		})
	}
}

func TestExecFloatDivisionByZero(t *testing.T) {
	mustRun(t, `
		local one, zero = 1.0, 0.0
		local inf = one / zero
		assert(inf > 0)
		assert(-one / zero < 0)
		local nan = zero / zero
		assert(nan ~= nan)
		assert((one // zero) == inf)
	`)
}

func TestExecIntegerOverflowWraps(t *testing.T) {
	mustRun(t, `
		local max = 9223372036854775807
		local min = -9223372036854775807 - 1
		assert(max + 1 == min)
		assert(min - 1 == max)
	`)
}

func TestExecLoadedChunk(t *testing.T) {
	// Execution through the serialized container
	// behaves identically to in-memory prototypes.
	source := `
		function add(a, b) return a + b end
		print(add(40, 2))
	`
	block, err := luasyntax.Parse([]byte(source))
	if err != nil {
		t.Fatal(err)
	}
	proto, err := luacode.Compile("=(test)", block)
	if err != nil {
		t.Fatal(err)
	}
	data, err := proto.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	loaded := new(luacode.Prototype)
	if err := loaded.UnmarshalBinary(data); err != nil {
		t.Fatal(err)
	}
	out := new(strings.Builder)
	if err := NewState(out).Run(loaded); err != nil {
		t.Fatal(err)
	}
	if got, want := out.String(), "42\n"; got != want {
		t.Errorf("output = %q; want %q", got, want)
	}
}
