// ABOUTME: Order-preserving composite-key encoding for the layout map's internal records
// ABOUTME: Adapted from the teacher's pkg/storage/encoding.go, trimmed to the value types the layout map needs

package mvstore

import (
	"encoding/binary"
	"fmt"
)

// Value types for composite keys stored in the layout map.
const (
	typeBytes = 1
	typeInt64 = 2
)

type kvalue struct {
	typ uint8
	str []byte
	i64 int64
}

func bytesValue(b []byte) kvalue { return kvalue{typ: typeBytes, str: b} }
func int64Value(i int64) kvalue  { return kvalue{typ: typeInt64, i64: i} }

// encodeValues lays out vals in order-preserving form: each value is tagged
// with its type, integers have their sign bit flipped so big-endian byte
// order matches numeric order, and byte strings are null-terminated after
// escaping embedded 0x00/0xFF bytes.
func encodeValues(vals []kvalue) []byte {
	out := make([]byte, 0, 64)
	for _, v := range vals {
		out = append(out, v.typ)
		switch v.typ {
		case typeInt64:
			var buf [8]byte
			binary.BigEndian.PutUint64(buf[:], uint64(v.i64)+(1<<63))
			out = append(out, buf[:]...)
		case typeBytes:
			out = append(out, escapeBytes(v.str)...)
			out = append(out, 0)
		default:
			panic(fmt.Sprintf("mvstore: unknown encoded value type %d", v.typ))
		}
	}
	return out
}

func escapeBytes(s []byte) []byte {
	escapes := 0
	for _, b := range s {
		if b == 0 || b == 0xFF {
			escapes++
		}
	}
	if escapes == 0 {
		return s
	}
	out := make([]byte, 0, len(s)+escapes)
	for _, b := range s {
		switch b {
		case 0:
			out = append(out, 0xFE, 0x00)
		case 0xFF:
			out = append(out, 0xFE, 0xFF)
		default:
			out = append(out, b)
		}
	}
	return out
}

func unescapeBytes(s []byte) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == 0xFE && i+1 < len(s) {
			out = append(out, s[i+1])
			i++
		} else {
			out = append(out, s[i])
		}
	}
	return out
}

func decodeValues(data []byte) ([]kvalue, error) {
	var vals []kvalue
	pos := 0
	for pos < len(data) {
		typ := data[pos]
		pos++
		switch typ {
		case typeInt64:
			if pos+8 > len(data) {
				return nil, fmt.Errorf("mvstore: incomplete int64 at pos %d", pos)
			}
			u := binary.BigEndian.Uint64(data[pos : pos+8])
			vals = append(vals, int64Value(int64(u-(1<<63))))
			pos += 8
		case typeBytes:
			end := pos
			for end < len(data) && data[end] != 0 {
				end++
			}
			if end >= len(data) {
				return nil, fmt.Errorf("mvstore: unterminated byte string at pos %d", pos)
			}
			vals = append(vals, bytesValue(unescapeBytes(data[pos:end])))
			pos = end + 1
		default:
			return nil, fmt.Errorf("mvstore: unknown encoded value type %d at pos %d", typ, pos-1)
		}
	}
	return vals, nil
}

// Key prefixes distinguishing the layout map's record kinds, following the
// teacher's PREFIX_* convention of sharing one keyspace across record types.
const (
	prefixMapRecord     = uint32(1)
	prefixVersionRecord = uint32(2)
)

func encodeKey(prefix uint32, vals []kvalue) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], prefix)
	out := append([]byte{}, buf[:]...)
	return append(out, encodeValues(vals)...)
}

func mapRecordKey(name string) []byte {
	return encodeKey(prefixMapRecord, []kvalue{bytesValue([]byte(name))})
}

func versionRecordKey(version int64) []byte {
	return encodeKey(prefixVersionRecord, []kvalue{int64Value(version)})
}

// extractKeyValues strips the 4-byte prefix and decodes the remainder,
// used when scanning the layout map by prefix (e.g. to enumerate every
// mapRecordKey on Open).
func extractKeyValues(key []byte) (uint32, []kvalue, error) {
	if len(key) < 4 {
		return 0, nil, fmt.Errorf("mvstore: layout key too short")
	}
	prefix := binary.BigEndian.Uint32(key[:4])
	vals, err := decodeValues(key[4:])
	return prefix, vals, err
}
