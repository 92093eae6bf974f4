package lsm

import (
	"errors"

	"github.com/nainya/aulsmfs/pkg/errs"
	"github.com/nainya/aulsmfs/pkg/mtree"
)

// subLayer tracks one participating layer's sub-iterator and its last
// refreshed (key, value) cache, in layer-precedence order (index 0 =
// newest / wins ties), matching spec.md §4.5.2.
type subLayer struct {
	src   layerSource
	it    layerIter
	key   []byte
	val   []byte
	valid bool
}

// MergingIterator is the layer-wise K-way merge over C0, C1, and the C-tree
// runs, giving smaller layer index precedence on key ties. It materializes
// the current winner into an owned primary buffer so returned slices stay
// stable across subsequent Next/Prev calls, per spec.md §4.5.2. Compaction
// (spec.md §4.5.1) uses the same type bounded to two adjacent layers.
type MergingIterator struct {
	cmp    mtree.Comparator
	layers []subLayer
	curKey []byte
	curVal []byte
	hasCur bool
}

func newMergingIterator(sources []layerSource, cmp mtree.Comparator) *MergingIterator {
	m := &MergingIterator{cmp: cmp, layers: make([]subLayer, len(sources))}
	for i, s := range sources {
		m.layers[i].src = s
	}
	return m
}

func (m *MergingIterator) refreshCache(i int) {
	l := &m.layers[i]
	l.valid = l.it.Valid()
	if l.valid {
		l.key = l.it.Key()
		l.val = l.it.Value()
	} else {
		l.key, l.val = nil, nil
	}
}

func (m *MergingIterator) selectWinnerForward() {
	best := -1
	for i := range m.layers {
		if !m.layers[i].valid {
			continue
		}
		if best == -1 || m.cmp(m.layers[i].key, m.layers[best].key) < 0 {
			best = i
		}
	}
	m.setCurrent(best)
}

func (m *MergingIterator) setCurrent(idx int) {
	if idx == -1 {
		m.hasCur = false
		m.curKey, m.curVal = nil, nil
		return
	}
	m.hasCur = true
	m.curKey = append([]byte(nil), m.layers[idx].key...)
	m.curVal = append([]byte(nil), m.layers[idx].val...)
}

// Begin positions a fresh sub-iterator at the first entry of every layer,
// caches each head, and selects the overall winner.
func Begin(sources []layerSource, cmp mtree.Comparator) (*MergingIterator, error) {
	m := newMergingIterator(sources, cmp)
	for i := range m.layers {
		it, err := m.layers[i].src.Begin()
		if err != nil {
			return nil, err
		}
		m.layers[i].it = it
		m.refreshCache(i)
	}
	m.selectWinnerForward()
	return m, nil
}

// End positions every layer past its last entry; the merging iterator
// starts invalid, ready for a backward walk via Prev.
func End(sources []layerSource, cmp mtree.Comparator) *MergingIterator {
	m := newMergingIterator(sources, cmp)
	for i := range m.layers {
		m.layers[i].it = m.layers[i].src.End()
		m.refreshCache(i)
	}
	return m
}

// LowerBound positions every layer at its first entry with key >= key and
// selects the overall winner.
func LowerBound(sources []layerSource, cmp mtree.Comparator, key []byte) (*MergingIterator, error) {
	m := newMergingIterator(sources, cmp)
	for i := range m.layers {
		it, err := m.layers[i].src.LowerBound(key)
		if err != nil {
			return nil, err
		}
		m.layers[i].it = it
		m.refreshCache(i)
	}
	m.selectWinnerForward()
	return m, nil
}

// UpperBound positions every layer at its first entry with key > key and
// selects the overall winner.
func UpperBound(sources []layerSource, cmp mtree.Comparator, key []byte) (*MergingIterator, error) {
	m := newMergingIterator(sources, cmp)
	for i := range m.layers {
		it, err := m.layers[i].src.UpperBound(key)
		if err != nil {
			return nil, err
		}
		m.layers[i].it = it
		m.refreshCache(i)
	}
	m.selectWinnerForward()
	return m, nil
}

// Lookup is LowerBound followed by an equality check against key (spec.md
// §4.5.2).
func Lookup(sources []layerSource, cmp mtree.Comparator, key []byte) (*MergingIterator, bool, error) {
	m, err := LowerBound(sources, cmp, key)
	if err != nil {
		return nil, false, err
	}
	if m.Valid() && cmp(m.Key(), key) == 0 {
		return m, true, nil
	}
	return m, false, nil
}

// Valid reports whether the iterator is positioned at an entry.
func (m *MergingIterator) Valid() bool { return m.hasCur }

// Key returns the current winner's key, stable until the next Next/Prev.
func (m *MergingIterator) Key() []byte { return m.curKey }

// Value returns the current winner's value, stable until the next
// Next/Prev.
func (m *MergingIterator) Value() []byte { return m.curVal }

// Next advances every layer whose cached key is <= the current primary
// (consuming shadowed duplicates in older layers), then selects the new
// smallest (spec.md §4.5.2).
func (m *MergingIterator) Next() error {
	if !m.hasCur {
		return errs.ErrNotFound
	}
	for i := range m.layers {
		if !m.layers[i].valid {
			continue
		}
		if m.cmp(m.layers[i].key, m.curKey) <= 0 {
			if err := m.layers[i].it.Next(); err != nil {
				return err
			}
			m.refreshCache(i)
		}
	}
	m.selectWinnerForward()
	return nil
}

// Prev steps every layer whose cached key is >= the previous primary (or
// every layer, if there was no primary yet) backward, then selects the
// layer with the largest key strictly less than the previous primary,
// breaking ties by smaller layer index. It returns errs.ErrNotFound at the
// boundary, leaving the iterator's current position unchanged (spec.md
// §4.5.2).
func (m *MergingIterator) Prev() error {
	hadPrimary := m.hasCur
	oldKey := m.curKey

	for i := range m.layers {
		shouldStep := !hadPrimary || !m.layers[i].valid || m.cmp(m.layers[i].key, oldKey) >= 0
		if !shouldStep {
			continue
		}
		if err := m.layers[i].it.Prev(); err != nil {
			if !errors.Is(err, errs.ErrNotFound) {
				return err
			}
			continue
		}
		m.refreshCache(i)
	}

	best := -1
	for i := range m.layers {
		if !m.layers[i].valid {
			continue
		}
		if hadPrimary && m.cmp(m.layers[i].key, oldKey) >= 0 {
			continue
		}
		if best == -1 || m.cmp(m.layers[i].key, m.layers[best].key) > 0 {
			best = i
		}
	}
	if best == -1 {
		return errs.ErrNotFound
	}
	m.setCurrent(best)
	return nil
}
