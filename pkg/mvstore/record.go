// ABOUTME: Layout map record payloads: one mapRecord per open map, one versionRecord per retained commit
// ABOUTME: Plain fixed-width binary, not the order-preserving key codec in encoding.go, since these are values not keys

package mvstore

import (
	"encoding/binary"
	"fmt"

	"github.com/arvindrathore/mvstore/pkg/page"
)

// mapRecord is the layout map's directory entry for one named map: enough
// to reopen it without any information beyond what was durably committed.
type mapRecord struct {
	ID          uint32
	KeysPerPage int
	Compress    int
	Root        page.Position
	Version     int64
}

func encodeMapRecord(r mapRecord) []byte {
	buf := make([]byte, 4+4+4+8+8)
	binary.LittleEndian.PutUint32(buf[0:], r.ID)
	binary.LittleEndian.PutUint32(buf[4:], uint32(r.KeysPerPage))
	binary.LittleEndian.PutUint32(buf[8:], uint32(r.Compress))
	binary.LittleEndian.PutUint64(buf[12:], uint64(r.Root))
	binary.LittleEndian.PutUint64(buf[20:], uint64(r.Version))
	return buf
}

func decodeMapRecord(data []byte) (mapRecord, error) {
	if len(data) != 28 {
		return mapRecord{}, fmt.Errorf("mvstore: map record has %d bytes, want 28", len(data))
	}
	return mapRecord{
		ID:          binary.LittleEndian.Uint32(data[0:]),
		KeysPerPage: int(binary.LittleEndian.Uint32(data[4:])),
		Compress:    int(binary.LittleEndian.Uint32(data[8:])),
		Root:        page.Position(binary.LittleEndian.Uint64(data[12:])),
		Version:     int64(binary.LittleEndian.Uint64(data[20:])),
	}, nil
}

// mapSnapshot is one map's root as of a retained version, the unit a
// versionRecord lists one of per open user map.
type mapSnapshot struct {
	MapID uint32
	Root  page.Position
}

func encodeVersionRecord(snaps []mapSnapshot) []byte {
	buf := make([]byte, 4+len(snaps)*12)
	binary.LittleEndian.PutUint32(buf[0:], uint32(len(snaps)))
	off := 4
	for _, s := range snaps {
		binary.LittleEndian.PutUint32(buf[off:], s.MapID)
		binary.LittleEndian.PutUint64(buf[off+4:], uint64(s.Root))
		off += 12
	}
	return buf
}

func decodeVersionRecord(data []byte) ([]mapSnapshot, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("mvstore: version record too short")
	}
	n := int(binary.LittleEndian.Uint32(data[0:]))
	if len(data) != 4+n*12 {
		return nil, fmt.Errorf("mvstore: version record length mismatch for %d entries", n)
	}
	out := make([]mapSnapshot, n)
	off := 4
	for i := 0; i < n; i++ {
		out[i] = mapSnapshot{
			MapID: binary.LittleEndian.Uint32(data[off:]),
			Root:  page.Position(binary.LittleEndian.Uint64(data[off+4:])),
		}
		off += 12
	}
	return out, nil
}
