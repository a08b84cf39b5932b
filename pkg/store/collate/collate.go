// Package collate encodes JSON values into byte strings whose lexicographic
// order matches view collation: null < false < true < numbers < strings <
// arrays < objects. Strings compare by raw bytes.
package collate

import (
	"bytes"
	"encoding/binary"
	"math"
	"sort"
)

const (
	tagEnd    byte = 0x00
	tagNull   byte = 0x01
	tagFalse  byte = 0x02
	tagTrue   byte = 0x03
	tagNumber byte = 0x04
	tagString byte = 0x05
	tagArray  byte = 0x06
	tagObject byte = 0x07
	tagOther  byte = 0x08
)

// Encode returns the order-preserving encoding of v. The encoding is
// self-delimiting, so bytes appended after it do not change the order of
// distinct values.
func Encode(v any) []byte {
	return Append(nil, v)
}

// Append appends the encoding of v to dst.
func Append(dst []byte, v any) []byte {
	switch t := v.(type) {
	case nil:
		return append(dst, tagNull)
	case bool:
		if t {
			return append(dst, tagTrue)
		}
		return append(dst, tagFalse)
	case string:
		return appendString(append(dst, tagString), t)
	case []any:
		dst = append(dst, tagArray)
		for _, e := range t {
			dst = Append(dst, e)
		}
		return append(dst, tagEnd)
	case map[string]any:
		dst = append(dst, tagObject)
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			dst = appendString(append(dst, tagString), k)
			dst = Append(dst, t[k])
		}
		return append(dst, tagEnd)
	}
	if f, ok := ToFloat(v); ok {
		return appendFloat(append(dst, tagNumber), f)
	}
	return append(dst, tagOther)
}

// Compare orders two JSON values.
func Compare(a, b any) int {
	return bytes.Compare(Encode(a), Encode(b))
}

// Equal reports whether two JSON values collate as equal.
func Equal(a, b any) bool {
	return Compare(a, b) == 0
}

// ToFloat widens Go numeric types to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// appendString escapes 0x00 as 0x00 0xFF and terminates with 0x00 0x01.
func appendString(dst []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		if s[i] == 0x00 {
			dst = append(dst, 0x00, 0xFF)
			continue
		}
		dst = append(dst, s[i])
	}
	return append(dst, 0x00, 0x01)
}

func appendFloat(dst []byte, f float64) []byte {
	if f == 0 {
		f = 0 // folds -0 into +0
	}
	bits := math.Float64bits(f)
	if bits&(1<<63) == 0 {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], bits)
	return append(dst, buf[:]...)
}
