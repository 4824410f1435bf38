package mvmap

import (
	"bytes"
	"fmt"
	"math/rand"
	"testing"

	"github.com/arvindrathore/mvstore/pkg/page"
)

// fakeSource panics if consulted: these tests never flush a map to disk, so
// every page involved stays in memory and readChild should never be called.
type fakeSource struct{}

func (fakeSource) ReadPage(pos page.Position) ([]byte, error) {
	return nil, fmt.Errorf("fakeSource: unexpected read of %v", pos)
}

func newTestMap(keysPerPage int) *Map {
	return New("test", 1, fakeSource{}, DefaultComparator, keysPerPage, page.CompressNone)
}

func TestPutGet(t *testing.T) {
	m := newTestMap(8)
	if _, existed, _ := m.Put([]byte("a"), []byte("1")); existed {
		t.Fatal("fresh key reported as existing")
	}

	val, ok, err := m.Get([]byte("a"))
	if err != nil || !ok || string(val) != "1" {
		t.Fatalf("Get(a) = %q, %v, %v", val, ok, err)
	}

	old, existed, err := m.Put([]byte("a"), []byte("2"))
	if err != nil || !existed || string(old) != "1" {
		t.Fatalf("Put overwrite: old=%q existed=%v err=%v", old, existed, err)
	}
}

func TestPutManyCausesSplit(t *testing.T) {
	m := newTestMap(4)
	n := 200
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		if _, _, err := m.Put(key, []byte{byte(i)}); err != nil {
			t.Fatalf("Put(%d): %v", i, err)
		}
	}
	if got := m.Size(); got != int64(n) {
		t.Fatalf("Size() = %d, want %d", got, n)
	}
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		val, ok, err := m.Get(key)
		if err != nil || !ok || val[0] != byte(i) {
			t.Fatalf("Get(%s) = %v, %v, %v", key, val, ok, err)
		}
	}
}

func TestRemove(t *testing.T) {
	m := newTestMap(4)
	for i := 0; i < 50; i++ {
		m.Put([]byte(fmt.Sprintf("k%03d", i)), []byte{byte(i)})
	}
	old, existed, err := m.Remove([]byte("k010"))
	if err != nil || !existed || old[0] != 10 {
		t.Fatalf("Remove(k010) = %v, %v, %v", old, existed, err)
	}
	if _, ok, _ := m.Get([]byte("k010")); ok {
		t.Fatal("k010 still present after Remove")
	}
	if got := m.Size(); got != 49 {
		t.Fatalf("Size() = %d, want 49", got)
	}
}

func TestRemoveAllKeysEmptiesMap(t *testing.T) {
	m := newTestMap(4)
	keys := make([][]byte, 100)
	for i := range keys {
		keys[i] = []byte(fmt.Sprintf("item-%03d", i))
		m.Put(keys[i], []byte{byte(i)})
	}
	for _, k := range keys {
		if _, existed, err := m.Remove(k); err != nil || !existed {
			t.Fatalf("Remove(%s) existed=%v err=%v", k, existed, err)
		}
	}
	if got := m.Size(); got != 0 {
		t.Fatalf("Size() after removing everything = %d, want 0", got)
	}
}

func TestCursorOrderedIteration(t *testing.T) {
	m := newTestMap(4)
	input := []string{"d", "b", "a", "c", "e"}
	for _, k := range input {
		m.Put([]byte(k), []byte(k))
	}

	c, err := m.Cursor(nil)
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	var got []string
	c.Scan(func(k, v []byte) bool {
		got = append(got, string(k))
		return true
	})

	want := []string{"a", "b", "c", "d", "e"}
	if len(got) != len(want) {
		t.Fatalf("Scan() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Scan()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestGetKeyAndGetKeyIndexAgree(t *testing.T) {
	m := newTestMap(4)
	n := 80
	for i := 0; i < n; i++ {
		m.Put([]byte(fmt.Sprintf("e%03d", i)), []byte{byte(i)})
	}
	for i := 0; i < n; i++ {
		key, ok, err := m.GetKey(int64(i))
		if err != nil || !ok {
			t.Fatalf("GetKey(%d) ok=%v err=%v", i, ok, err)
		}
		idx, err := m.GetKeyIndex(key)
		if err != nil {
			t.Fatalf("GetKeyIndex(%s): %v", key, err)
		}
		if idx != int64(i) {
			t.Errorf("GetKeyIndex(GetKey(%d)) = %d, want %d", i, idx, i)
		}
	}
}

func TestPutIfAbsentAndReplace(t *testing.T) {
	m := newTestMap(4)
	existed, err := m.PutIfAbsent([]byte("x"), []byte("1"))
	if err != nil || existed {
		t.Fatalf("PutIfAbsent fresh key: existed=%v err=%v", existed, err)
	}
	existed, err = m.PutIfAbsent([]byte("x"), []byte("2"))
	if err != nil || !existed {
		t.Fatalf("PutIfAbsent existing key: existed=%v err=%v", existed, err)
	}
	val, _, _ := m.Get([]byte("x"))
	if string(val) != "1" {
		t.Fatalf("PutIfAbsent overwrote existing value: got %q", val)
	}

	replaced, err := m.Replace([]byte("x"), []byte("1"), []byte("3"))
	if err != nil || !replaced {
		t.Fatalf("Replace with matching old value: replaced=%v err=%v", replaced, err)
	}
	val, _, _ = m.Get([]byte("x"))
	if string(val) != "3" {
		t.Fatalf("Replace did not take effect: got %q", val)
	}

	replaced, err = m.Replace([]byte("x"), []byte("wrong"), []byte("4"))
	if err != nil || replaced {
		t.Fatalf("Replace with stale old value should not apply: replaced=%v err=%v", replaced, err)
	}
}

func TestRandomizedAgainstReferenceMap(t *testing.T) {
	m := newTestMap(6)
	ref := make(map[string][]byte)
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 2000; i++ {
		key := fmt.Sprintf("k%d", rng.Intn(300))
		switch rng.Intn(3) {
		case 0, 1:
			val := []byte(fmt.Sprintf("v%d", rng.Int()))
			m.Put([]byte(key), val)
			ref[key] = val
		case 2:
			m.Remove([]byte(key))
			delete(ref, key)
		}
	}

	for key, want := range ref {
		got, ok, err := m.Get([]byte(key))
		if err != nil || !ok || !bytes.Equal(got, want) {
			t.Fatalf("Get(%s) = %q, %v, %v; want %q", key, got, ok, err, want)
		}
	}
	if got := m.Size(); got != int64(len(ref)) {
		t.Fatalf("Size() = %d, want %d", got, len(ref))
	}
}
