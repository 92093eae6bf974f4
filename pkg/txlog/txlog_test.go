package txlog

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/nainya/aulsmfs/pkg/alloc"
	"github.com/nainya/aulsmfs/pkg/errs"
	"github.com/nainya/aulsmfs/pkg/ioblk"
)

func TestWriteAndReadBackItems(t *testing.T) {
	dev := ioblk.NewMemDevice(256)
	a := alloc.NewFileExtentAllocator(0)

	w := NewWriter(dev, a)
	var items [][]byte
	for i := 0; i < 50; i++ {
		item := []byte(fmt.Sprintf("item-%03d", i))
		items = append(items, item)
		if err := w.AppendItem(item); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	ptr, err := w.Finish()
	if err != nil {
		t.Fatalf("finish: %v", err)
	}

	r, err := Open(dev, ptr)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i, want := range items {
		got, err := r.Next()
		if err != nil {
			t.Fatalf("next %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("item %d: got %q want %q", i, got, want)
		}
	}
	if _, err := r.Next(); err != errs.ErrNotFound {
		t.Fatalf("expected ErrNotFound at end, got %v", err)
	}
}

// TestManyChunksSpanningMultipleExtents forces several chunk boundaries by
// pushing well past MaxChunkBytes worth of items.
func TestManyChunksSpanningMultipleExtents(t *testing.T) {
	dev := ioblk.NewMemDevice(4096)
	a := alloc.NewFileExtentAllocator(0)

	w := NewWriter(dev, a)
	item := bytes.Repeat([]byte("x"), 1000)
	const n = 500 // ~500KB of items, several MaxChunkBytes-sized chunks
	for i := 0; i < n; i++ {
		if err := w.AppendItem(item); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	ptr, err := w.Finish()
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if len(w.chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(w.chunks))
	}

	r, err := Open(dev, ptr)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	count := 0
	for {
		got, err := r.Next()
		if err == errs.ErrNotFound {
			break
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !bytes.Equal(got, item) {
			t.Fatalf("item %d mismatch", count)
		}
		count++
	}
	if count != n {
		t.Fatalf("read %d items, want %d", count, n)
	}
}

func TestCancelReleasesAllReservations(t *testing.T) {
	dev := ioblk.NewMemDevice(256)
	a := alloc.NewFileExtentAllocator(0)
	frontierBefore := a.Frontier()

	w := NewWriter(dev, a)
	for i := 0; i < 20000; i++ {
		if err := w.AppendItem([]byte(fmt.Sprintf("payload-%05d", i))); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := w.Cancel(); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if a.FreePages() != a.Frontier()-frontierBefore {
		t.Fatalf("expected every reserved page to be returned to the free list")
	}
	if a.ReservedPages() != 0 {
		t.Fatalf("expected no outstanding reservations after cancel")
	}
}

func TestEmptyLogRecord(t *testing.T) {
	dev := ioblk.NewMemDevice(256)
	a := alloc.NewFileExtentAllocator(0)

	w := NewWriter(dev, a)
	ptr, err := w.Finish()
	if err != nil {
		t.Fatalf("finish: %v", err)
	}

	r, err := Open(dev, ptr)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := r.Next(); err != errs.ErrNotFound {
		t.Fatalf("expected ErrNotFound for an empty log, got %v", err)
	}
}
