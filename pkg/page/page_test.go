package page

import (
	"bytes"
	"testing"
)

func TestLeafRoundTrip(t *testing.T) {
	p := &Page{
		Kind:   KindLeaf,
		Keys:   [][]byte{[]byte("alpha"), []byte("beta"), []byte("gamma")},
		Values: [][]byte{[]byte("1"), []byte("2"), []byte("3")},
	}

	for _, compress := range []int{CompressNone, CompressFast, CompressHigh} {
		enc, err := p.Serialize(compress)
		if err != nil {
			t.Fatalf("Serialize(%d): %v", compress, err)
		}
		SetCheckValue(enc, 7, 128)
		got, err := Deserialize(enc, 7, 128)
		if err != nil {
			t.Fatalf("Deserialize(%d): %v", compress, err)
		}
		if got.Kind != KindLeaf || len(got.Keys) != len(p.Keys) {
			t.Fatalf("compress=%d: shape mismatch", compress)
		}
		for i := range p.Keys {
			if !bytes.Equal(got.Keys[i], p.Keys[i]) {
				t.Errorf("compress=%d: key[%d] = %q, want %q", compress, i, got.Keys[i], p.Keys[i])
			}
			if !bytes.Equal(got.Values[i], p.Values[i]) {
				t.Errorf("compress=%d: val[%d] = %q, want %q", compress, i, got.Values[i], p.Values[i])
			}
		}
	}
}

func TestNodeRoundTrip(t *testing.T) {
	p := &Page{
		Kind:        KindNode,
		Keys:        [][]byte{[]byte("m")},
		Children:    []Position{NewPosition(1, 0, 4, KindLeaf), NewPosition(1, 256, 4, KindLeaf)},
		ChildCounts: []int64{10, 20},
	}

	enc, err := p.Serialize(CompressNone)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	SetCheckValue(enc, 3, 64)
	got, err := Deserialize(enc, 3, 64)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if got.TotalCount() != 30 {
		t.Errorf("TotalCount() = %d, want 30", got.TotalCount())
	}
	if len(got.Children) != 2 || got.Children[1] != p.Children[1] {
		t.Errorf("Children round-trip mismatch: %v", got.Children)
	}
}

func TestEmptyLeafRoundTrip(t *testing.T) {
	p := &Page{Kind: KindLeaf}
	enc, err := p.Serialize(CompressNone)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	SetCheckValue(enc, 0, 0)
	got, err := Deserialize(enc, 0, 0)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if got.TotalCount() != 0 {
		t.Errorf("TotalCount() = %d, want 0", got.TotalCount())
	}
}

func TestDeserializeTruncated(t *testing.T) {
	if _, err := Deserialize([]byte{0, 0}, 0, 0); err == nil {
		t.Fatal("expected error on truncated header")
	}
}

func TestDeserializeCheckValueMismatch(t *testing.T) {
	p := &Page{Kind: KindLeaf, Keys: [][]byte{[]byte("k")}, Values: [][]byte{[]byte("v")}}
	enc, err := p.Serialize(CompressNone)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	SetCheckValue(enc, 1, 0)

	if _, err := Deserialize(enc, 2, 0); err == nil {
		t.Fatal("expected check value mismatch for wrong chunk id")
	} else if _, ok := err.(*CheckMismatchError); !ok {
		t.Fatalf("expected *CheckMismatchError, got %T: %v", err, err)
	}

	// A truncated read changes the recomputed length, so it is caught by
	// the same check even though the check value folds in no page content.
	truncated := enc[:len(enc)-1]
	if _, err := Deserialize(truncated, 1, 0); err == nil {
		t.Fatal("expected check value mismatch for truncated read")
	} else if _, ok := err.(*CheckMismatchError); !ok {
		t.Fatalf("expected *CheckMismatchError, got %T: %v", err, err)
	}
}
