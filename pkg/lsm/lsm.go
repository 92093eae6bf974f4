// Package lsm implements the LSM container (spec.md §4.5): the fixed stack
// of two in-memory mtree layers (C0, C1) feeding N on-disk ctree runs
// (C[0..N-1]), read through a single precedence-ordered merging iterator and
// written down through the compaction driver in compaction.go.
package lsm

import (
	"github.com/nainya/aulsmfs/pkg/alloc"
	"github.com/nainya/aulsmfs/pkg/ctree"
	"github.com/nainya/aulsmfs/pkg/errs"
	"github.com/nainya/aulsmfs/pkg/ioblk"
	"github.com/nainya/aulsmfs/pkg/mtree"
	"github.com/nainya/aulsmfs/pkg/ondisk"
)

// NumLayers is the total number of precedence-ordered layers a container
// exposes to readers: C0, C1, and ondisk.NumTrees on-disk runs.
const NumLayers = 2 + ondisk.NumTrees

// LSM is one LSM-tree container: the two in-memory layers plus the fixed
// array of on-disk tree descriptors, read and written through dev/allocator
// under cmp. It is grounded in the teacher's storage/kv.go Store, whose
// layered-lookup shape this generalizes from a single memtable+SSTable pair
// to the full N-layer stack (spec.md §4.5).
type LSM struct {
	dev       ioblk.Device
	allocator alloc.Allocator
	cmp       mtree.Comparator

	c0, c1 *mtree.MTree
	ctrees [ondisk.NumTrees]ondisk.TreeDescriptor
}

// New creates an empty container. Callers typically follow with Parse to
// restore a previously Dumped tree record.
func New(dev ioblk.Device, allocator alloc.Allocator, cmp mtree.Comparator) *LSM {
	return &LSM{
		dev:       dev,
		allocator: allocator,
		cmp:       cmp,
		c0:        mtree.New(cmp),
		c1:        mtree.New(cmp),
	}
}

// Add inserts or replaces key's value, always into C0 (spec.md §4.5).
func (l *LSM) Add(key, val []byte) error {
	return l.c0.Insert(key, val)
}

// Del records key as deleted by inserting a zero-length-value tombstone into
// C0 (spec.md §4.5, supplemented: deletion is a policy-level convention, not
// a wire-format bit carried by ctree entries).
func (l *LSM) Del(key []byte) error {
	return l.c0.Insert(key, nil)
}

// Dump serializes the container's N on-disk tree descriptors (spec.md §4.5;
// the in-memory C0/C1 layers are never persisted directly — they reach disk
// only via Merge).
func (l *LSM) Dump() []byte {
	return ondisk.EncodeTreeRecord(l.ctrees)
}

// Parse restores the container's on-disk tree descriptors from a buffer
// previously produced by Dump.
func (l *LSM) Parse(buf []byte) error {
	descs, ok := ondisk.DecodeTreeRecord(buf)
	if !ok {
		return errs.Wrap("lsm.LSM.Parse", errs.ErrIntegrity, nil)
	}
	l.ctrees = descs
	return nil
}

// layerSource returns the layerSource for unified layer index idx: 0 is C0,
// 1 is C1, and 2..NumLayers-1 are the on-disk runs C[idx-2], in that
// precedence order (spec.md §4.5.2).
func (l *LSM) layerSource(idx int) layerSource {
	switch idx {
	case 0:
		return mtreeSource{l.c0}
	case 1:
		return mtreeSource{l.c1}
	default:
		return ctreeSource{ctree.Open(l.dev, l.ctrees[idx-2], l.cmp)}
	}
}

func (l *LSM) allLayerSources() []layerSource {
	sources := make([]layerSource, NumLayers)
	for i := range sources {
		sources[i] = l.layerSource(i)
	}
	return sources
}

// Lookup returns an iterator positioned at key across every layer, with
// found reporting whether key is present anywhere in the container. The raw
// stored value is returned uninterpreted: a tombstone is just a
// zero-length value, and it is the caller's job (or a higher layer's) to
// treat that as "deleted" (spec.md §4.5).
func (l *LSM) Lookup(key []byte) (*MergingIterator, bool, error) {
	return Lookup(l.allLayerSources(), l.cmp, key)
}

// Begin returns a merging iterator at the container's first key.
func (l *LSM) Begin() (*MergingIterator, error) {
	return Begin(l.allLayerSources(), l.cmp)
}

// End returns a merging iterator positioned just past the last key.
func (l *LSM) End() *MergingIterator {
	return End(l.allLayerSources(), l.cmp)
}

// LowerBound returns a merging iterator at the first key >= key.
func (l *LSM) LowerBound(key []byte) (*MergingIterator, error) {
	return LowerBound(l.allLayerSources(), l.cmp, key)
}

// UpperBound returns a merging iterator at the first key > key.
func (l *LSM) UpperBound(key []byte) (*MergingIterator, error) {
	return UpperBound(l.allLayerSources(), l.cmp, key)
}

// LayerStats reports one layer's occupancy, used to feed the
// aulsmfs_lsm_layer_entries / aulsmfs_lsm_layer_bytes metrics.
type LayerStats struct {
	Entries int
	Bytes   uint64
	Empty   bool
}

// Stats reports per-layer occupancy across the whole container, in
// precedence order (index 0 = C0).
func (l *LSM) Stats() [NumLayers]LayerStats {
	var out [NumLayers]LayerStats
	out[0] = LayerStats{Entries: l.c0.Len(), Bytes: l.c0.BytesUsed(), Empty: l.c0.IsEmpty()}
	out[1] = LayerStats{Entries: l.c1.Len(), Bytes: l.c1.BytesUsed(), Empty: l.c1.IsEmpty()}
	for i, d := range l.ctrees {
		out[2+i] = LayerStats{Entries: -1, Bytes: uint64(d.Pages) * uint64(l.dev.PageSize()), Empty: d.IsEmpty()}
	}
	return out
}
