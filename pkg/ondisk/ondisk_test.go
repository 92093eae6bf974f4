package ondisk

import "testing"

func TestPointerRoundTrip(t *testing.T) {
	p := Pointer{Offs: 12, Size: 34, Csum: 0xdeadbeef}
	buf := make([]byte, PointerSize)
	p.Encode(buf)

	got := DecodePointer(buf)
	if got != p {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, p)
	}
}

func TestPointerIsNull(t *testing.T) {
	if !(Pointer{}).IsNull() {
		t.Fatalf("zero pointer should be null")
	}
	if (Pointer{Offs: 1}).IsNull() {
		t.Fatalf("non-zero offset should not be null")
	}
}

func TestTreeDescriptorRoundTrip(t *testing.T) {
	d := TreeDescriptor{Root: Pointer{Offs: 4, Size: 8, Csum: 16}, Pages: 5, Height: 3}
	buf := make([]byte, TreeDescriptorSize)
	d.Encode(buf)

	got := DecodeTreeDescriptor(buf)
	if got != d {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, d)
	}
}

func TestTreeRecordRoundTrip(t *testing.T) {
	var descs [NumTrees]TreeDescriptor
	for i := range descs {
		descs[i] = TreeDescriptor{Root: Pointer{Offs: uint64(i), Size: uint64(i + 1)}, Height: uint32(i)}
	}

	buf := EncodeTreeRecord(descs)
	got, ok := DecodeTreeRecord(buf)
	if !ok {
		t.Fatalf("decode failed")
	}
	if got != descs {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, descs)
	}
}

func TestDecodeTreeRecordShortBuffer(t *testing.T) {
	_, ok := DecodeTreeRecord(make([]byte, 4))
	if ok {
		t.Fatalf("expected short buffer to fail")
	}
}

func TestNodeHeaderRoundTrip(t *testing.T) {
	h := NodeHeader{BytesUsed: 100, Level: 2}
	buf := make([]byte, NodeHeaderSize)
	h.Encode(buf)
	if got := DecodeNodeHeader(buf); got != h {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestNodeEntryHeaderRoundTrip(t *testing.T) {
	h := NodeEntryHeader{KeySize: 10, ValSize: 20}
	buf := make([]byte, NodeEntryHeaderSize)
	h.Encode(buf)
	if got := DecodeNodeEntryHeader(buf); got != h {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestLogHeadersRoundTrip(t *testing.T) {
	eh := LogChunkEntryHeader{Size: 123}
	buf := make([]byte, LogChunkEntryHeaderSize)
	eh.Encode(buf)
	if got := DecodeLogChunkEntryHeader(buf); got != eh {
		t.Fatalf("entry header mismatch: got %+v, want %+v", got, eh)
	}

	ih := LogIndexHeader{Chunks: 4, Pages: 10}
	ibuf := make([]byte, LogIndexHeaderSize)
	ih.Encode(ibuf)
	if got := DecodeLogIndexHeader(ibuf); got != ih {
		t.Fatalf("index header mismatch: got %+v, want %+v", got, ih)
	}
}
