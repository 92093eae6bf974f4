package ioblk

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestFileDeviceWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	dev, err := OpenFileDevice(filepath.Join(dir, "vol.img"), 4096)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer dev.Close()

	page := bytes.Repeat([]byte{0xAB}, 4096*2)
	if err := dev.Write(page, 2, 3); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := dev.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	got := make([]byte, 4096*2)
	if err := dev.Read(got, 2, 3); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, page) {
		t.Fatalf("round trip mismatch")
	}
}

func TestFileDeviceRejectsBadPageSize(t *testing.T) {
	dir := t.TempDir()
	if _, err := OpenFileDevice(filepath.Join(dir, "vol.img"), 100); err == nil {
		t.Fatalf("expected error for non-power-of-two page size")
	}
}

func TestFileDeviceSizePages(t *testing.T) {
	dir := t.TempDir()
	dev, err := OpenFileDevice(filepath.Join(dir, "vol.img"), 4096)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer dev.Close()

	if err := dev.Truncate(5); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	pages, err := dev.SizePages()
	if err != nil {
		t.Fatalf("size pages: %v", err)
	}
	if pages != 5 {
		t.Fatalf("got %d pages, want 5", pages)
	}
}
