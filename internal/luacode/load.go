// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package luacode

import (
	"encoding/binary"
	"fmt"
	"math"
)

// LoadError is the error type returned by [*Prototype.UnmarshalBinary]
// for a malformed or structurally invalid chunk.
type LoadError struct {
	Msg string
}

func (e *LoadError) Error() string {
	return "load luabc chunk: " + e.Msg
}

func loadErrorf(format string, args ...any) error {
	return &LoadError{Msg: fmt.Sprintf(format, args...)}
}

// UnmarshalBinary unmarshals a luabc chunk
// like those produced by [*Prototype.MarshalBinary].
// The chunk is validated structurally before returning:
// a constant index, register, upvalue index, or jump target out of range
// is a [*LoadError], not a runtime fault.
func (f *Prototype) UnmarshalBinary(data []byte) error {
	r := &chunkReader{s: data}
	if !r.literal(Signature) {
		return loadErrorf("bad magic")
	}
	version, ok := r.readByte()
	if !ok {
		return loadErrorf("truncated header")
	}
	if version != Version {
		return loadErrorf("version mismatch (got %d, want %d)", version, Version)
	}
	if err := loadFunction(f, r); err != nil {
		return err
	}
	if len(r.s) > 0 {
		return loadErrorf("trailing data (%d bytes)", len(r.s))
	}
	if err := f.validate(); err != nil {
		return &LoadError{Msg: err.Error()}
	}
	return nil
}

func loadFunction(f *Prototype, r *chunkReader) error {
	var ok bool
	f.NumParams, ok = r.readByte()
	if !ok {
		return loadErrorf("function: truncated at parameter count")
	}
	f.IsVararg, ok = r.readBool()
	if !ok {
		return loadErrorf("function: truncated at vararg flag")
	}
	f.FrameSize, ok = r.readUint16()
	if !ok {
		return loadErrorf("function: truncated at frame size")
	}

	n, ok := r.readUint32()
	if !ok {
		return loadErrorf("function: truncated at instruction count")
	}
	if uint64(n)*4 > uint64(len(r.s)) {
		return loadErrorf("function: instruction count %d exceeds remaining data", n)
	}
	f.Code = make([]Instruction, n)
	for i := range f.Code {
		word, ok := r.readUint32()
		if !ok {
			return loadErrorf("function: truncated in code")
		}
		f.Code[i] = Instruction(word)
	}

	n, ok = r.readUint32()
	if !ok {
		return loadErrorf("function: truncated at constant count")
	}
	if uint64(n) > uint64(len(r.s)) {
		return loadErrorf("function: constant count %d exceeds remaining data", n)
	}
	// An empty pool stays nil, as the compiler leaves it.
	f.Constants = nil
	if n > 0 {
		f.Constants = make([]Value, 0, n)
	}
	for i := 0; i < int(n); i++ {
		tag, ok := r.readByte()
		if !ok {
			return loadErrorf("function: truncated in constants")
		}
		switch tag {
		case constantTagNil:
			f.Constants = append(f.Constants, Value{})
		case constantTagBool:
			b, ok := r.readBool()
			if !ok {
				return loadErrorf("function: truncated in constants")
			}
			f.Constants = append(f.Constants, BoolValue(b))
		case constantTagInt:
			bits, ok := r.readUint64()
			if !ok {
				return loadErrorf("function: truncated in constants")
			}
			f.Constants = append(f.Constants, IntegerValue(int64(bits)))
		case constantTagFloat:
			bits, ok := r.readUint64()
			if !ok {
				return loadErrorf("function: truncated in constants")
			}
			f.Constants = append(f.Constants, FloatValue(math.Float64frombits(bits)))
		case constantTagString:
			length, ok := r.readUint32()
			if !ok || uint64(length) > uint64(len(r.s)) {
				return loadErrorf("function: truncated in constants")
			}
			f.Constants = append(f.Constants, StringValue(string(r.s[:length])))
			r.s = r.s[length:]
		default:
			return loadErrorf("function: constant %d has invalid tag %#02x", i, tag)
		}
	}

	n, ok = r.readUint32()
	if !ok {
		return loadErrorf("function: truncated at function count")
	}
	if uint64(n) > uint64(len(r.s)) {
		return loadErrorf("function: function count %d exceeds remaining data", n)
	}
	f.Functions = nil
	if n > 0 {
		f.Functions = make([]*Prototype, 0, n)
	}
	for i := 0; i < int(n); i++ {
		p := new(Prototype)
		if err := loadFunction(p, r); err != nil {
			return err
		}
		f.Functions = append(f.Functions, p)
	}

	return nil
}

type chunkReader struct {
	s []byte
}

func (r *chunkReader) literal(prefix string) bool {
	if len(r.s) < len(prefix) || string(r.s[:len(prefix)]) != prefix {
		return false
	}
	r.s = r.s[len(prefix):]
	return true
}

func (r *chunkReader) readByte() (byte, bool) {
	if len(r.s) == 0 {
		return 0, false
	}
	b := r.s[0]
	r.s = r.s[1:]
	return b, true
}

func (r *chunkReader) readBool() (bool, bool) {
	b, ok := r.readByte()
	return b != 0, ok
}

func (r *chunkReader) readUint16() (uint16, bool) {
	if len(r.s) < 2 {
		return 0, false
	}
	x := binary.LittleEndian.Uint16(r.s)
	r.s = r.s[2:]
	return x, true
}

func (r *chunkReader) readUint32() (uint32, bool) {
	if len(r.s) < 4 {
		return 0, false
	}
	x := binary.LittleEndian.Uint32(r.s)
	r.s = r.s[4:]
	return x, true
}

func (r *chunkReader) readUint64() (uint64, bool) {
	if len(r.s) < 8 {
		return 0, false
	}
	x := binary.LittleEndian.Uint64(r.s)
	r.s = r.s[8:]
	return x, true
}
