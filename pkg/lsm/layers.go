package lsm

import (
	"github.com/nainya/aulsmfs/pkg/ctree"
	"github.com/nainya/aulsmfs/pkg/mtree"
)

// layerIter is the common shape both mtree.Iterator and ctree.Iterator
// already satisfy: Valid/Key/Value/Next/Prev. The merging iterator (spec.md
// §4.5.2) drives one of these per participating layer without caring
// whether the layer lives in memory or on disk.
type layerIter interface {
	Valid() bool
	Key() []byte
	Value() []byte
	Next() error
	Prev() error
}

// layerSource produces a freshly positioned layerIter for one layer,
// mirroring the four entry points spec.md §4.5.2 names (begin, end,
// lower_bound, upper_bound) plus the supplemented lookup.
type layerSource interface {
	Begin() (layerIter, error)
	End() layerIter
	LowerBound(key []byte) (layerIter, error)
	UpperBound(key []byte) (layerIter, error)
	Lookup(key []byte) (layerIter, bool, error)
}

// mtreeSource adapts an in-memory layer (C0 or C1) to layerSource. mtree
// operations never fail, so every method returns a nil error.
type mtreeSource struct {
	t *mtree.MTree
}

func (s mtreeSource) Begin() (layerIter, error)                { return s.t.Begin(), nil }
func (s mtreeSource) End() layerIter                           { return s.t.End() }
func (s mtreeSource) LowerBound(key []byte) (layerIter, error) { return s.t.LowerBound(key), nil }
func (s mtreeSource) UpperBound(key []byte) (layerIter, error) { return s.t.UpperBound(key), nil }
func (s mtreeSource) Lookup(key []byte) (layerIter, bool, error) {
	it, found := s.t.Lookup(key)
	return it, found, nil
}

// ctreeSource adapts an on-disk C-tree layer to layerSource.
type ctreeSource struct {
	t *ctree.Tree
}

func (s ctreeSource) Begin() (layerIter, error)                { return s.t.Begin() }
func (s ctreeSource) End() layerIter                           { return s.t.End() }
func (s ctreeSource) LowerBound(key []byte) (layerIter, error) { return s.t.LowerBound(key) }
func (s ctreeSource) UpperBound(key []byte) (layerIter, error) { return s.t.UpperBound(key) }
func (s ctreeSource) Lookup(key []byte) (layerIter, bool, error) {
	return s.t.Lookup(key)
}
