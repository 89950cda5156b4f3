package core

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

const (
	tagString byte = 0x02
	tagUint   byte = 0x15
)

// Key is an ordered tuple of string and uint64 parts. Packed keys sort
// bytewise in the same order as the tuples they encode.
type Key []any

// NewKey builds a key from parts. Each part must be a string or an unsigned
// integer; anything else panics at Pack time.
func NewKey(parts ...any) Key {
	return Key(parts)
}

// Pack encodes k. Strings are escaped so an embedded 0x00 cannot end the part
// early.
func (k Key) Pack() []byte {
	var buf bytes.Buffer
	for _, part := range k {
		switch v := part.(type) {
		case string:
			buf.WriteByte(tagString)
			for i := 0; i < len(v); i++ {
				buf.WriteByte(v[i])
				if v[i] == 0x00 {
					buf.WriteByte(0xFF)
				}
			}
			buf.WriteByte(0x00)
		case uint64:
			writeUint(&buf, v)
		case uint:
			writeUint(&buf, uint64(v))
		case uint32:
			writeUint(&buf, uint64(v))
		default:
			panic(fmt.Sprintf("later: unsupported key part %T", part))
		}
	}
	return buf.Bytes()
}

func writeUint(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.WriteByte(tagUint)
	buf.Write(b[:])
}

// Range returns the half-open packed range [start, end) covering every key
// that has k as a prefix, k itself excluded.
func (k Key) Range() (start, end []byte) {
	start = k.Pack()
	end = make([]byte, len(start)+1)
	copy(end, start)
	end[len(start)] = 0xFF
	return start, end
}

// HasPrefix reports whether prefix is a leading sub-tuple of k.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	return bytes.HasPrefix(k.Pack(), prefix.Pack())
}

func (k Key) String() string {
	parts := make([]string, len(k))
	for i, p := range k {
		if s, ok := p.(string); ok {
			parts[i] = fmt.Sprintf("%q", s)
		} else {
			parts[i] = fmt.Sprintf("%v", p)
		}
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// UnpackKey decodes a packed key. Integer parts come back as uint64.
func UnpackKey(b []byte) (Key, error) {
	var k Key
	for i := 0; i < len(b); {
		switch b[i] {
		case tagString:
			i++
			var sb strings.Builder
			for {
				if i >= len(b) {
					return nil, fmt.Errorf("%w: unterminated string", ErrInvalidKey)
				}
				c := b[i]
				if c == 0x00 {
					if i+1 < len(b) && b[i+1] == 0xFF {
						sb.WriteByte(0x00)
						i += 2
						continue
					}
					i++
					break
				}
				sb.WriteByte(c)
				i++
			}
			k = append(k, sb.String())
		case tagUint:
			if i+9 > len(b) {
				return nil, fmt.Errorf("%w: short integer", ErrInvalidKey)
			}
			k = append(k, binary.BigEndian.Uint64(b[i+1:i+9]))
			i += 9
		default:
			return nil, fmt.Errorf("%w: unknown tag 0x%02x", ErrInvalidKey, b[i])
		}
	}
	return k, nil
}

// EncodeU64 encodes a counter value.
func EncodeU64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// DecodeU64 decodes a counter value. An empty slice decodes to zero.
func DecodeU64(b []byte) (uint64, error) {
	if len(b) == 0 {
		return 0, nil
	}
	if len(b) != 8 {
		return 0, fmt.Errorf("later: counter value has %d bytes, want 8", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}
