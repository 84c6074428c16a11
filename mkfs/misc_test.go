package mkfs

import (
	"path/filepath"
	"testing"

	"git.fractalqb.de/fractalqb/testerr"
)

func TestExists(t *testing.T) {
	dir := t.TempDir()
	if !testerr.Shall1(Exists(dir)).BeNil(t) {
		t.Error("temp dir does not exist")
	}
	if testerr.Shall1(Exists(filepath.Join(dir, "nothing"))).BeNil(t) {
		t.Error("missing file exists")
	}
}
