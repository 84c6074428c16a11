package chash

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"git.fractalqb.de/fractalqb/testerr"
)

func TestCombine_order(t *testing.T) {
	a, b := OfString("a"), OfString("b")
	if Combine(a, b) == Combine(b, a) {
		t.Fatal("combine is not order sensitive")
	}
	if Combine(a, b) != Combine(a, b) {
		t.Fatal("combine is not stable")
	}
	if Combine(a) == Combine(a, a) {
		t.Fatal("combine ignores repeated members")
	}
	if Combine() == Combine(Zero) {
		t.Fatal("empty combine equals combine of zero hash")
	}
}

func TestStrings_boundaries(t *testing.T) {
	if Strings("ab", "c") == Strings("a", "bc") {
		t.Fatal("field boundaries do not contribute to the hash")
	}
}

func TestFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	testerr.Shall(os.WriteFile(path, []byte("foo"), 0666)).BeNil(t)
	h1 := testerr.Shall1(File(path)).BeNil(t)
	if h1 != OfString("foo") {
		t.Errorf("file hash %s differs from content hash", h1)
	}
	testerr.Shall(os.WriteFile(path, []byte("fop"), 0666)).BeNil(t)
	h2 := testerr.Shall1(File(path)).BeNil(t)
	if h1 == h2 {
		t.Error("hash did not change with content")
	}
	_, err := File(filepath.Join(dir, "missing"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("unexpected error for missing file: %v", err)
	}
}

func TestSerializable(t *testing.T) {
	h1 := testerr.Shall1(Serializable(map[string]int{"a": 1, "b": 2})).BeNil(t)
	h2 := testerr.Shall1(Serializable(map[string]int{"b": 2, "a": 1})).BeNil(t)
	if h1 != h2 {
		t.Error("map serialization is not canonical")
	}
	_, err := Serializable(func() {})
	var serr *SerializeError
	if !errors.As(err, &serr) {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestHash_json(t *testing.T) {
	h := OfString("json")
	data := testerr.Shall1(json.Marshal(h)).BeNil(t)
	var back Hash
	testerr.Shall(json.Unmarshal(data, &back)).BeNil(t)
	if back != h {
		t.Errorf("json round trip changed hash: %s", back)
	}
	if _, err := ParseHash("abc"); err == nil {
		t.Error("parsed short hash")
	}
}
