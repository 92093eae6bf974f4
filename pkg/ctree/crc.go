package ctree

import "hash/crc64"

// table is the ISO-polynomial CRC64 table, matching
// original_source/inc/crc64.h's crc64()/crc64_ctx shape. The engine uses
// the standard library's table-based implementation rather than
// original_source's hand-rolled one (spec.md calls for an external CRC64
// collaborator; hash/crc64 fills that role without inventing a dependency).
var table = crc64.MakeTable(crc64.ISO)

// checksum computes the CRC64 of a full page-aligned node buffer, covering
// header, entries, and zero padding alike (spec.md §4.4.3).
func checksum(buf []byte) uint64 {
	return crc64.Checksum(buf, table)
}
