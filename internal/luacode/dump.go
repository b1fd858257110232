// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package luacode

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Signature is the magic header for a luabc chunk.
// Data with this prefix can be loaded with [*Prototype.UnmarshalBinary].
const Signature = "LUBC"

// Version is the container format version written by [*Prototype.MarshalBinary].
const Version byte = 1

// Constant tags in the container format.
const (
	constantTagNil    byte = 0
	constantTagBool   byte = 1
	constantTagInt    byte = 2
	constantTagFloat  byte = 3
	constantTagString byte = 4
)

// MarshalBinary marshals the function as a luabc chunk:
// the 4-byte signature, a version byte,
// and the root prototype serialized recursively.
// All multi-byte fields are little-endian.
func (f *Prototype) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, 64)
	buf = append(buf, Signature...)
	buf = append(buf, Version)
	return dumpFunction(buf, f)
}

func dumpFunction(buf []byte, f *Prototype) ([]byte, error) {
	buf = append(buf, f.NumParams)
	buf = dumpBool(buf, f.IsVararg)
	buf = binary.LittleEndian.AppendUint16(buf, f.FrameSize)

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(f.Code)))
	for _, i := range f.Code {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(i))
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(f.Constants)))
	for i, value := range f.Constants {
		switch {
		case value.IsNil():
			buf = append(buf, constantTagNil)
		case value.IsBoolean():
			b, _ := value.Bool()
			buf = append(buf, constantTagBool)
			buf = dumpBool(buf, b)
		case value.IsInteger():
			n, _ := value.Int64(OnlyIntegral)
			buf = append(buf, constantTagInt)
			buf = binary.LittleEndian.AppendUint64(buf, uint64(n))
		case value.IsNumber():
			n, _ := value.Float64()
			buf = append(buf, constantTagFloat)
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(n))
		case value.IsString():
			s, _ := value.Unquoted()
			buf = append(buf, constantTagString)
			buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
			buf = append(buf, s...)
		default:
			return nil, fmt.Errorf("dump luabc chunk: Constants[%d] cannot be represented", i)
		}
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(f.Functions)))
	for _, p := range f.Functions {
		var err error
		buf, err = dumpFunction(buf, p)
		if err != nil {
			return nil, err
		}
	}

	return buf, nil
}

func dumpBool(buf []byte, b bool) []byte {
	if b {
		return append(buf, 1)
	}
	return append(buf, 0)
}
