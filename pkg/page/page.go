// ABOUTME: In-memory page representation and its on-disk serialization
// ABOUTME: Leaf pages hold key/value pairs, node pages hold child positions and subtree counts

package page

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"fmt"
	"io"
)

// Compress levels recognized by Serialize/Deserialize, matching the
// store-wide "compress" configuration key (0=off, 1=fast, 2=high).
const (
	CompressNone = 0
	CompressFast = 1
	CompressHigh = 2
)

// Page is the decoded form of a single B-tree node, independent of where it
// lives in the file. A Leaf page stores Keys/Values pairwise. A Node page
// stores len(Keys)+1 Children and a running per-child subtree count used to
// answer rank/select queries (GetKey(index), GetKeyIndex) without visiting
// every leaf.
type Page struct {
	Kind        Kind
	Keys        [][]byte
	Values      [][]byte   // leaf only, len(Values) == len(Keys)
	Children    []Position // node only, len(Children) == len(Keys)+1
	ChildCounts []int64    // node only, len(ChildCounts) == len(Keys)+1

	// Pos is the position this page was last read from or written to.
	// Zero (Unwritten) for a page that only exists in memory.
	Pos Position
}

// TotalCount returns the number of leaf entries reachable from this page:
// the number of keys for a leaf, or the sum of ChildCounts for a node.
func (p *Page) TotalCount() int64 {
	if p.Kind == KindLeaf {
		return int64(len(p.Keys))
	}
	var n int64
	for _, c := range p.ChildCounts {
		n += c
	}
	return n
}

// MemorySize is a rough accounting figure used by the page cache and by the
// autoCommitBufferSize check: sum of key/value/child byte lengths plus a
// fixed per-entry overhead, mirroring the teacher's BNode.nbytes accounting
// style but independent of any fixed page size.
func (p *Page) MemorySize() int {
	n := 32
	for _, k := range p.Keys {
		n += len(k) + 8
	}
	if p.Kind == KindLeaf {
		for _, v := range p.Values {
			n += len(v) + 8
		}
	} else {
		n += len(p.Children) * 16
	}
	return n
}

// Compressor compresses and decompresses a page's raw body bytes at a given
// level (CompressNone/CompressFast/CompressHigh). Serialize/Deserialize
// call through DefaultCompressor; pkg/mvstore re-exposes this type so
// store-level code can name it without every caller importing pkg/page.
type Compressor interface {
	Compress(level int, body []byte) ([]byte, error)
	Decompress(level int, body []byte) ([]byte, error)
}

// FlateCompressor is the only Compressor this repo ships, backed by
// compress/flate. CompressFast/CompressHigh pick flate's default/best
// compression level; CompressNone passes bytes through unchanged.
type FlateCompressor struct{}

func (FlateCompressor) Compress(level int, body []byte) ([]byte, error) {
	switch level {
	case CompressNone:
		return body, nil
	case CompressFast, CompressHigh:
		flateLevel := flate.DefaultCompression
		if level == CompressHigh {
			flateLevel = flate.BestCompression
		}
		var out bytes.Buffer
		w, err := flate.NewWriter(&out, flateLevel)
		if err != nil {
			return nil, fmt.Errorf("page: flate writer: %w", err)
		}
		if _, err := w.Write(body); err != nil {
			return nil, fmt.Errorf("page: flate write: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("page: flate close: %w", err)
		}
		return out.Bytes(), nil
	default:
		return nil, fmt.Errorf("page: unknown compress level %d", level)
	}
}

func (FlateCompressor) Decompress(level int, body []byte) ([]byte, error) {
	switch level {
	case CompressNone:
		return body, nil
	case CompressFast, CompressHigh:
		r := flate.NewReader(bytes.NewReader(body))
		defer r.Close()
		raw, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("page: flate decompress: %w", err)
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("page: unknown compress level %d", level)
	}
}

// DefaultCompressor is the Compressor Serialize/Deserialize use.
var DefaultCompressor Compressor = FlateCompressor{}

func putUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func putBytes(buf *bytes.Buffer, b []byte) {
	putUvarint(buf, uint64(len(b)))
	buf.Write(b)
}

// encodeBody writes the uncompressed body: kind-specific key/value/child data.
func (p *Page) encodeBody() []byte {
	var buf bytes.Buffer
	putUvarint(&buf, uint64(len(p.Keys)))
	for _, k := range p.Keys {
		putBytes(&buf, k)
	}
	switch p.Kind {
	case KindLeaf:
		for _, v := range p.Values {
			putBytes(&buf, v)
		}
	case KindNode:
		for _, c := range p.Children {
			var tmp [8]byte
			binary.LittleEndian.PutUint64(tmp[:], uint64(c))
			buf.Write(tmp[:])
		}
		for _, c := range p.ChildCounts {
			putUvarint(&buf, uint64(c))
		}
	}
	return buf.Bytes()
}

// checkCode folds a 32-bit field into 16 bits by XORing its halves, the same
// fold spec.md's check-value fields each get before being XORed together.
func checkCode(v uint32) uint16 {
	return uint16(v) ^ uint16(v>>16)
}

// CheckValue computes a page's integrity check: the XOR of its chunk-id,
// offset, and length check codes. length is the full serialized length
// (header plus body) since that is what a reader has on hand before it
// trusts anything else about the bytes.
func CheckValue(chunkID, offset uint32, length int) uint16 {
	return checkCode(chunkID) ^ checkCode(offset) ^ checkCode(uint32(length))
}

// CheckMismatchError reports that a page's stored check value does not match
// what its chunk id, offset, and length recompute to: the page body is
// corrupt. pkg/page cannot import pkg/mvstore (mvstore -> mvmap -> page), so
// this is a local error type; a caller that already imports mvstore is
// expected to map it to a FileCorrupt StoreError.
type CheckMismatchError struct {
	ChunkID uint32
	Offset  uint32
	Want    uint16
	Got     uint16
}

func (e *CheckMismatchError) Error() string {
	return fmt.Sprintf("page: check value mismatch at chunk %d offset %d: want %#04x got %#04x",
		e.ChunkID, e.Offset, e.Want, e.Got)
}

// Serialize encodes the page to its on-disk byte form: a 2-byte uncompressed
// prefix (kind, compression level), a 2-byte check-value placeholder patched
// in later by SetCheckValue once the page's chunk id/offset are known, then
// the (optionally compressed) body.
func (p *Page) Serialize(compress int) ([]byte, error) {
	body := p.encodeBody()

	var out bytes.Buffer
	out.WriteByte(byte(p.Kind))
	out.WriteByte(byte(compress))
	out.Write([]byte{0, 0}) // check-value placeholder; see SetCheckValue

	compressed, err := DefaultCompressor.Compress(compress, body)
	if err != nil {
		return nil, err
	}
	out.Write(compressed)
	return out.Bytes(), nil
}

// SetCheckValue patches the check-value placeholder Serialize reserves at
// enc[2:4], computed from enc's full length plus the chunk id and offset the
// page was just assigned. Must be called once, after the page's position is
// known and before enc is written to disk.
func SetCheckValue(enc []byte, chunkID, offset uint32) {
	cv := CheckValue(chunkID, offset, len(enc))
	binary.LittleEndian.PutUint16(enc[2:4], cv)
}

// Deserialize decodes a page serialized by Serialize, validating its check
// value against the chunkID/offset it was read from. kind is not needed as
// an argument: it is carried in the stream itself. A mismatch returns
// *CheckMismatchError, signaling that the page's body bytes were corrupted
// on disk.
func Deserialize(data []byte, chunkID, offset uint32) (*Page, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("page: truncated header (%d bytes)", len(data))
	}
	kind := Kind(data[0])
	compress := int(data[1])
	stored := binary.LittleEndian.Uint16(data[2:4])
	if want := CheckValue(chunkID, offset, len(data)); stored != want {
		return nil, &CheckMismatchError{ChunkID: chunkID, Offset: offset, Want: want, Got: stored}
	}
	body, err := DefaultCompressor.Decompress(compress, data[4:])
	if err != nil {
		return nil, err
	}

	br := bytes.NewReader(body)
	nkeys, err := binary.ReadUvarint(br)
	if err != nil {
		return nil, fmt.Errorf("page: read nkeys: %w", err)
	}

	readBytes := func() ([]byte, error) {
		n, err := binary.ReadUvarint(br)
		if err != nil {
			return nil, err
		}
		out := make([]byte, n)
		if _, err := io.ReadFull(br, out); err != nil {
			return nil, err
		}
		return out, nil
	}

	p := &Page{Kind: kind}
	p.Keys = make([][]byte, nkeys)
	for i := range p.Keys {
		k, err := readBytes()
		if err != nil {
			return nil, fmt.Errorf("page: read key %d: %w", i, err)
		}
		p.Keys[i] = k
	}

	switch kind {
	case KindLeaf:
		p.Values = make([][]byte, nkeys)
		for i := range p.Values {
			v, err := readBytes()
			if err != nil {
				return nil, fmt.Errorf("page: read value %d: %w", i, err)
			}
			p.Values[i] = v
		}
	case KindNode:
		nchild := nkeys + 1
		p.Children = make([]Position, nchild)
		for i := range p.Children {
			var tmp [8]byte
			if _, err := io.ReadFull(br, tmp[:]); err != nil {
				return nil, fmt.Errorf("page: read child %d: %w", i, err)
			}
			p.Children[i] = Position(binary.LittleEndian.Uint64(tmp[:]))
		}
		p.ChildCounts = make([]int64, nchild)
		for i := range p.ChildCounts {
			c, err := binary.ReadUvarint(br)
			if err != nil {
				return nil, fmt.Errorf("page: read child count %d: %w", i, err)
			}
			p.ChildCounts[i] = int64(c)
		}
	default:
		return nil, fmt.Errorf("page: unknown page kind %d", kind)
	}

	return p, nil
}
