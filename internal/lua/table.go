// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"math"

	"luabc.256lights.llc/pkg/internal/luacode"
)

// Table is a Lua table:
// a dense array part for keys 1..N
// and a hash part for everything else.
// Assigning nil removes a key.
type Table struct {
	// arr holds the values for integer keys 1..len(arr).
	// It never ends in nil.
	arr []value
	// hash holds all other keys.
	// Invariant: hash never contains the integer key len(arr)+1,
	// so len(arr) is always a border.
	hash map[value]value
}

// NewTable returns a new empty table.
func NewTable() *Table {
	return new(Table)
}

// normalizeKey folds float keys with integral values
// into integer keys, following Lua 5.3.
func normalizeKey(key value) value {
	if f, ok := key.(float64); ok {
		if i, ok := luacode.FloatToInteger(f, luacode.OnlyIntegral); ok {
			return i
		}
	}
	return key
}

// Get returns the value for a key, or nil if the key is absent.
func (t *Table) Get(key value) value {
	if t == nil {
		return nil
	}
	key = normalizeKey(key)
	if i, ok := key.(int64); ok && 1 <= i && i <= int64(len(t.arr)) {
		return t.arr[i-1]
	}
	if t.hash == nil {
		return nil
	}
	return t.hash[key]
}

// Set stores a value for a key.
// Storing nil removes the key.
// A nil or NaN key is an error.
func (t *Table) Set(key, v value) error {
	key = normalizeKey(key)
	switch k := key.(type) {
	case nil:
		return &RuntimeError{Value: "table index is nil"}
	case float64:
		if math.IsNaN(k) {
			return &RuntimeError{Value: "table index is NaN"}
		}
	case int64:
		switch {
		case 1 <= k && k <= int64(len(t.arr)):
			t.arr[k-1] = v
			if v == nil && k == int64(len(t.arr)) {
				t.shrink()
			}
			return nil
		case k == int64(len(t.arr))+1 && v != nil:
			t.arr = append(t.arr, v)
			t.migrate()
			return nil
		}
	}

	if v == nil {
		delete(t.hash, key)
		return nil
	}
	if t.hash == nil {
		t.hash = make(map[value]value)
	}
	t.hash[key] = v
	return nil
}

// migrate moves keys that became contiguous with the array part
// out of the hash part.
func (t *Table) migrate() {
	for {
		next := int64(len(t.arr)) + 1
		v, ok := t.hash[next]
		if !ok {
			return
		}
		delete(t.hash, next)
		t.arr = append(t.arr, v)
	}
}

// shrink drops trailing nils from the array part.
func (t *Table) shrink() {
	i := len(t.arr)
	for i > 0 && t.arr[i-1] == nil {
		i--
	}
	clear(t.arr[i:])
	t.arr = t.arr[:i]
}

// Len returns a border of the table:
// an N such that t[N] is non-nil and t[N+1] is nil,
// or 0 if t[1] is nil.
// This is the Lua length ("#") operator.
func (t *Table) Len() int64 {
	if t == nil {
		return 0
	}
	return int64(len(t.arr))
}
