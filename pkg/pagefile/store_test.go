package pagefile

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/arvindrathore/mvstore/pkg/page"
)

func tempStorePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.mv")
}

func TestOpenCreatesNewStore(t *testing.T) {
	path := tempStorePath(t)
	s, err := Open(path, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if s.Version() != 0 {
		t.Errorf("fresh store Version() = %d, want 0", s.Version())
	}
}

func TestWriteChunkThenReadPage(t *testing.T) {
	path := tempStorePath(t)
	s, err := Open(path, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	leaf := &page.Page{Kind: page.KindLeaf, Keys: [][]byte{[]byte("k1")}, Values: [][]byte{[]byte("v1")}}
	enc, err := leaf.Serialize(page.CompressNone)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	chunkID := s.ReserveChunkID()
	page.SetCheckValue(enc, chunkID, 0)

	positions, err := s.WriteReservedChunk(chunkID, [][]byte{enc}, []page.Kind{page.KindLeaf}, 1, page.Unwritten)
	if err != nil {
		t.Fatalf("WriteReservedChunk: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(positions))
	}

	got, err := s.ReadPage(positions[0])
	if err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if !bytes.Equal(got, enc) {
		t.Errorf("ReadPage returned different bytes than written")
	}

	decoded, err := page.Deserialize(got, positions[0].ChunkID(), positions[0].Offset())
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if string(decoded.Values[0]) != "v1" {
		t.Errorf("decoded value = %q, want v1", decoded.Values[0])
	}
}

func TestReopenAfterCleanClose(t *testing.T) {
	path := tempStorePath(t)
	s, err := Open(path, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	leaf := &page.Page{Kind: page.KindLeaf, Keys: [][]byte{[]byte("k")}, Values: [][]byte{[]byte("v")}}
	enc, _ := leaf.Serialize(page.CompressNone)
	positions, err := s.WriteChunk([][]byte{enc}, []page.Kind{page.KindLeaf}, 1, page.Unwritten)
	if err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(path, false)
	if err != nil {
		t.Fatalf("reopen Open: %v", err)
	}
	defer s2.Close()

	got, err := s2.ReadPage(positions[0])
	if err != nil {
		t.Fatalf("ReadPage after reopen: %v", err)
	}
	if !bytes.Equal(got, enc) {
		t.Error("page bytes differ after reopen")
	}
	if len(s2.ChunkInfos()) != 1 {
		t.Errorf("ChunkInfos() after reopen = %d, want 1", len(s2.ChunkInfos()))
	}
}

func TestMultipleChunksChainBackward(t *testing.T) {
	path := tempStorePath(t)
	s, err := Open(path, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var allPositions []page.Position
	for i := 0; i < 5; i++ {
		leaf := &page.Page{Kind: page.KindLeaf, Keys: [][]byte{[]byte("k")}, Values: [][]byte{[]byte("v")}}
		enc, _ := leaf.Serialize(page.CompressNone)
		pos, err := s.WriteChunk([][]byte{enc}, []page.Kind{page.KindLeaf}, int64(i+1), page.Unwritten)
		if err != nil {
			t.Fatalf("WriteChunk %d: %v", i, err)
		}
		allPositions = append(allPositions, pos...)
	}
	s.Close()

	s2, err := Open(path, false)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	if len(s2.ChunkInfos()) != 5 {
		t.Fatalf("ChunkInfos() = %d, want 5", len(s2.ChunkInfos()))
	}
	for _, pos := range allPositions {
		if _, err := s2.ReadPage(pos); err != nil {
			t.Errorf("ReadPage(%v) after reopen: %v", pos, err)
		}
	}
}

func TestOpenEmptyFileReadOnlyFails(t *testing.T) {
	path := tempStorePath(t)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.Close()

	if _, err := Open(path, true); err == nil {
		t.Fatal("expected error opening empty file read-only")
	}
}
