package page

import "testing"

func TestPositionRoundTrip(t *testing.T) {
	cases := []struct {
		chunk  uint32
		offset uint32
		class  uint8
		kind   Kind
	}{
		{0, 0, 0, KindNode},
		{1, 4096, 12, KindNode},
		{MaxChunkID, MaxOffset, 31, KindNode},
		{42, 1 << 20, 20, KindLeaf},
	}

	for _, c := range cases {
		p := NewPosition(c.chunk, c.offset, c.class, c.kind)
		if got := p.ChunkID(); got != c.chunk {
			t.Errorf("ChunkID() = %d, want %d", got, c.chunk)
		}
		if got := p.Offset(); got != c.offset {
			t.Errorf("Offset() = %d, want %d", got, c.offset)
		}
		if got := p.LengthClass(); got != c.class {
			t.Errorf("LengthClass() = %d, want %d", got, c.class)
		}
		if got := p.Kind(); got != c.kind {
			t.Errorf("Kind() = %d, want %d", got, c.kind)
		}
		if !p.IsWritten() {
			t.Errorf("IsWritten() = false for non-sentinel position")
		}
	}
}

func TestPositionSentinels(t *testing.T) {
	if Unwritten.IsWritten() {
		t.Error("Unwritten must not be written")
	}
	if Removed.IsWritten() {
		t.Error("Removed must not be written")
	}
	if Unwritten == Removed {
		t.Error("Unwritten and Removed must be distinct")
	}
}

func TestLengthClassFor(t *testing.T) {
	cases := []struct {
		n    int
		want uint8
	}{
		{0, 0},
		{1, 0},
		{2, 1},
		{3, 2},
		{4, 2},
		{4096, 12},
		{4097, 13},
	}
	for _, c := range cases {
		if got := LengthClassFor(c.n); got != c.want {
			t.Errorf("LengthClassFor(%d) = %d, want %d", c.n, got, c.want)
		}
	}
}

func TestPositionOverflowPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on chunk id overflow")
		}
	}()
	NewPosition(MaxChunkID+1, 0, 0, KindLeaf)
}
