package mvstore

import (
	"bytes"
	"sort"
	"testing"
)

func TestEncodeDecodeValuesRoundTrip(t *testing.T) {
	vals := []kvalue{bytesValue([]byte("hello")), int64Value(-42), int64Value(1 << 40)}
	enc := encodeValues(vals)
	decoded, err := decodeValues(enc)
	if err != nil {
		t.Fatalf("decodeValues: %v", err)
	}
	if len(decoded) != len(vals) {
		t.Fatalf("decodeValues returned %d values, want %d", len(decoded), len(vals))
	}
	if !bytes.Equal(decoded[0].str, vals[0].str) {
		t.Errorf("decoded bytes value = %q, want %q", decoded[0].str, vals[0].str)
	}
	if decoded[1].i64 != vals[1].i64 {
		t.Errorf("decoded int64 value = %d, want %d", decoded[1].i64, vals[1].i64)
	}
	if decoded[2].i64 != vals[2].i64 {
		t.Errorf("decoded int64 value = %d, want %d", decoded[2].i64, vals[2].i64)
	}
}

func TestEscapeUnescapeBytesRoundTrip(t *testing.T) {
	for _, s := range [][]byte{
		[]byte("plain"),
		{0x00, 0x01, 0xFF},
		{0xFE, 0x00, 0xFE},
		{},
	} {
		got := unescapeBytes(escapeBytes(s))
		if !bytes.Equal(got, s) {
			t.Errorf("escape/unescape round trip of %v = %v, want %v", s, got, s)
		}
	}
}

func TestInt64EncodingPreservesOrder(t *testing.T) {
	values := []int64{-1 << 40, -1000, -1, 0, 1, 1000, 1 << 40}
	encoded := make([][]byte, len(values))
	for i, v := range values {
		encoded[i] = encodeValues([]kvalue{int64Value(v)})
	}
	if !sort.SliceIsSorted(encoded, func(i, j int) bool {
		return bytes.Compare(encoded[i], encoded[j]) < 0
	}) {
		t.Error("byte order of encoded int64 values does not match numeric order")
	}
}

func TestMapRecordKeyExtractsName(t *testing.T) {
	key := mapRecordKey("widgets")
	prefix, vals, err := extractKeyValues(key)
	if err != nil {
		t.Fatalf("extractKeyValues: %v", err)
	}
	if prefix != prefixMapRecord {
		t.Errorf("prefix = %d, want %d", prefix, prefixMapRecord)
	}
	if len(vals) != 1 || string(vals[0].str) != "widgets" {
		t.Errorf("vals = %v, want [widgets]", vals)
	}
}

func TestVersionRecordKeyExtractsVersion(t *testing.T) {
	key := versionRecordKey(17)
	prefix, vals, err := extractKeyValues(key)
	if err != nil {
		t.Fatalf("extractKeyValues: %v", err)
	}
	if prefix != prefixVersionRecord {
		t.Errorf("prefix = %d, want %d", prefix, prefixVersionRecord)
	}
	if len(vals) != 1 || vals[0].i64 != 17 {
		t.Errorf("vals = %v, want [17]", vals)
	}
}

func TestMapRecordKeysSortByName(t *testing.T) {
	names := []string{"zeta", "alpha", "mid"}
	keys := make([][]byte, len(names))
	for i, n := range names {
		keys[i] = mapRecordKey(n)
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i], keys[j]) < 0 })

	got := make([]string, len(keys))
	for i, k := range keys {
		_, vals, err := extractKeyValues(k)
		if err != nil {
			t.Fatalf("extractKeyValues: %v", err)
		}
		got[i] = string(vals[0].str)
	}
	want := []string{"alpha", "mid", "zeta"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sorted map record keys = %v, want %v", got, want)
		}
	}
}
