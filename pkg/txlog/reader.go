package txlog

import (
	"fmt"

	"github.com/nainya/aulsmfs/pkg/errs"
	"github.com/nainya/aulsmfs/pkg/ioblk"
	"github.com/nainya/aulsmfs/pkg/ondisk"
)

// Reader replays a log record previously produced by Writer.Finish, in
// item-append order.
type Reader struct {
	dev    ioblk.Device
	chunks []ondisk.Pointer

	chunkIdx int
	cur      []byte
	pos      int
}

// Open loads and CRC-verifies the chunk index at ptr, returning a Reader
// ready to walk every item across every chunk in order.
func Open(dev ioblk.Device, ptr ondisk.Pointer) (*Reader, error) {
	if ptr.IsNull() {
		return &Reader{dev: dev}, nil
	}
	pageSize := dev.PageSize()
	buf := make([]byte, ptr.Size*uint64(pageSize))
	if err := dev.Read(buf, int(ptr.Size), ptr.Offs); err != nil {
		return nil, errs.Wrap("txlog.Open", errs.ErrIo, err)
	}
	if checksum(buf) != ptr.Csum {
		return nil, errs.Wrap("txlog.Open", errs.ErrIntegrity,
			fmt.Errorf("chunk index checksum mismatch at page %d", ptr.Offs))
	}
	if len(buf) < ondisk.LogIndexHeaderSize {
		return nil, errs.Wrap("txlog.Open", errs.ErrIntegrity,
			fmt.Errorf("chunk index shorter than its header"))
	}
	hdr := ondisk.DecodeLogIndexHeader(buf[:ondisk.LogIndexHeaderSize])

	need := ondisk.LogIndexHeaderSize + int(hdr.Chunks)*ondisk.PointerSize
	if len(buf) < need {
		return nil, errs.Wrap("txlog.Open", errs.ErrIntegrity,
			fmt.Errorf("chunk index truncated: have %d bytes, need %d", len(buf), need))
	}

	chunks := make([]ondisk.Pointer, hdr.Chunks)
	for i := range chunks {
		off := ondisk.LogIndexHeaderSize + i*ondisk.PointerSize
		chunks[i] = ondisk.DecodePointer(buf[off : off+ondisk.PointerSize])
	}
	return &Reader{dev: dev, chunks: chunks}, nil
}

// loadChunk reads and CRC-verifies chunk r.chunkIdx into r.cur.
func (r *Reader) loadChunk() error {
	ptr := r.chunks[r.chunkIdx]
	pageSize := r.dev.PageSize()
	buf := make([]byte, ptr.Size*uint64(pageSize))
	if err := r.dev.Read(buf, int(ptr.Size), ptr.Offs); err != nil {
		return errs.Wrap("txlog.Reader.loadChunk", errs.ErrIo, err)
	}
	if checksum(buf) != ptr.Csum {
		return errs.Wrap("txlog.Reader.loadChunk", errs.ErrIntegrity,
			fmt.Errorf("chunk checksum mismatch at page %d", ptr.Offs))
	}
	r.cur = buf
	r.pos = 0
	return nil
}

// Next returns the next item's bytes, or errs.ErrNotFound once every chunk
// has been exhausted. A zero-length item header inside a chunk's payload
// region marks end-of-chunk (the zero padding a chunk is padded out to a
// page with), so Next skips straight to the following chunk when it hits
// one.
func (r *Reader) Next() ([]byte, error) {
	for {
		if r.cur == nil {
			if r.chunkIdx >= len(r.chunks) {
				return nil, errs.ErrNotFound
			}
			if err := r.loadChunk(); err != nil {
				return nil, err
			}
		}

		if r.pos+ondisk.LogChunkEntryHeaderSize > len(r.cur) {
			r.advanceChunk()
			continue
		}
		hdr := ondisk.DecodeLogChunkEntryHeader(r.cur[r.pos : r.pos+ondisk.LogChunkEntryHeaderSize])
		if hdr.Size == 0 {
			r.advanceChunk()
			continue
		}
		start := r.pos + ondisk.LogChunkEntryHeaderSize
		end := start + int(hdr.Size)
		if end > len(r.cur) {
			return nil, errs.Wrap("txlog.Reader.Next", errs.ErrIntegrity,
				fmt.Errorf("item overruns its chunk"))
		}
		r.pos = end
		return r.cur[start:end], nil
	}
}

func (r *Reader) advanceChunk() {
	r.cur = nil
	r.pos = 0
	r.chunkIdx++
}
