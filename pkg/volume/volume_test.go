package volume

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/nainya/aulsmfs/pkg/lsm"
)

func bytesCmp(a, b []byte) int { return bytes.Compare(a, b) }

func TestFormatThenReopenPreservesData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vol.img")

	v, err := Format(path, 4096, bytesCmp)
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	if err := v.LSM.Add([]byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := v.LSM.Add([]byte("k2"), []byte("v2")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := v.LSM.Merge(0, lsm.DefaultPolicy{}); err != nil {
		t.Fatalf("merge(0): %v", err)
	}
	if err := v.LSM.Merge(2, lsm.DefaultPolicy{}); err != nil {
		t.Fatalf("merge(2): %v", err)
	}
	if err := v.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := v.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path, 4096, bytesCmp)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer reopened.Close()

	it, found, err := reopened.LSM.Lookup([]byte("k1"))
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !found {
		t.Fatalf("expected k1 to survive reopen")
	}
	if string(it.Value()) != "v1" {
		t.Fatalf("got %q, want v1", it.Value())
	}
}

func TestOpenRejectsWrongPageSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vol.img")
	v, err := Format(path, 4096, bytesCmp)
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	v.Close()

	if _, err := Open(path, 512, bytesCmp); err == nil {
		t.Fatalf("expected Open to reject a mismatched page size")
	}
}

func TestOpenRejectsGarbageFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "garbage.img")
	if err := os.WriteFile(path, bytes.Repeat([]byte{0xff}, 4096), 0o644); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	if _, err := Open(path, 4096, bytesCmp); err == nil {
		t.Fatalf("expected Open to reject a file without a valid superblock")
	}
}
