// Package wire implements the SSH binary data types used throughout
// the rest of this module: boolean, uint32, string, mpint and
// name-list, per the wire format the core's packet framer and message
// codecs build on.
//
// Every decode function takes the remaining buffer and returns the
// decoded value plus whatever of the buffer is left over -- there is
// no cursor hidden in a struct anywhere in this package.
package wire

import (
	"bytes"
	"math/big"

	"blitter.com/go/awa/awaerr"
)

// EncodeBool encodes a single boolean byte (0x00 or 0x01).
func EncodeBool(b bool) []byte {
	if b {
		return []byte{1}
	}
	return []byte{0}
}

// DecodeBool decodes a boolean byte.
func DecodeBool(b []byte) (bool, []byte, error) {
	if len(b) < 1 {
		return false, b, awaerr.Malformed
	}
	return b[0] != 0, b[1:], nil
}

// EncodeUint32 big-endian encodes a uint32.
func EncodeUint32(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

// DecodeUint32 decodes a big-endian uint32.
func DecodeUint32(b []byte) (uint32, []byte, error) {
	if len(b) < 4 {
		return 0, b, awaerr.Malformed
	}
	v := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	return v, b[4:], nil
}

// EncodeString encodes a byte string as a uint32 length prefix
// followed by the raw bytes.
func EncodeString(s []byte) []byte {
	out := make([]byte, 0, 4+len(s))
	out = append(out, EncodeUint32(uint32(len(s)))...)
	out = append(out, s...)
	return out
}

// DecodeString decodes a length-prefixed byte string.
func DecodeString(b []byte) ([]byte, []byte, error) {
	n, rest, err := DecodeUint32(b)
	if err != nil {
		return nil, b, err
	}
	if uint64(n) > uint64(len(rest)) {
		return nil, b, awaerr.Malformed
	}
	return rest[:n], rest[n:], nil
}

// EncodeMPInt encodes an arbitrary-precision integer as a
// length-prefixed two's-complement big-endian value with minimal
// leading padding (a leading 0x00 byte is added only when the most
// significant bit of a positive value would otherwise be set, so the
// value is not misread as negative).
func EncodeMPInt(v *big.Int) []byte {
	if v == nil || v.Sign() == 0 {
		return EncodeUint32(0)
	}
	if v.Sign() < 0 {
		// Not used by this protocol (k, e, f are always non-negative)
		// but kept total rather than partial.
		b := new(big.Int).Neg(v).Bytes()
		out := twosComplementNegative(b)
		return EncodeString(out)
	}
	b := v.Bytes()
	if b[0]&0x80 != 0 {
		b = append([]byte{0}, b...)
	}
	return EncodeString(b)
}

func twosComplementNegative(mag []byte) []byte {
	out := make([]byte, len(mag))
	carry := true
	for i := len(mag) - 1; i >= 0; i-- {
		v := ^mag[i]
		if carry {
			v++
			if v != 0 {
				carry = false
			}
		}
		out[i] = v
	}
	if out[0]&0x80 == 0 {
		out = append([]byte{0xff}, out...)
	}
	return out
}

// DecodeMPInt decodes a length-prefixed two's-complement big-endian
// mpint. Only non-negative values are expected in this protocol; a
// set sign bit without an explicit leading zero is treated as
// Malformed rather than silently producing a negative number, since
// none of e, f or k may legitimately be negative.
func DecodeMPInt(b []byte) (*big.Int, []byte, error) {
	s, rest, err := DecodeString(b)
	if err != nil {
		return nil, b, err
	}
	if len(s) > 0 && s[0]&0x80 != 0 {
		return nil, b, awaerr.Malformed
	}
	return new(big.Int).SetBytes(s), rest, nil
}

// EncodeNameList encodes a list of ASCII names as a comma-separated
// string.
func EncodeNameList(names []string) []byte {
	return EncodeString([]byte(joinComma(names)))
}

// DecodeNameList decodes a comma-separated name-list. An empty list
// decodes to a nil (not []string{""}) slice.
func DecodeNameList(b []byte) ([]string, []byte, error) {
	s, rest, err := DecodeString(b)
	if err != nil {
		return nil, b, err
	}
	if len(s) == 0 {
		return nil, rest, nil
	}
	return splitComma(string(s)), rest, nil
}

func joinComma(names []string) string {
	var buf bytes.Buffer
	for i, n := range names {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(n)
	}
	return buf.String()
}

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}
