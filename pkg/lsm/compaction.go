package lsm

import (
	"fmt"

	"github.com/nainya/aulsmfs/pkg/ctree"
	"github.com/nainya/aulsmfs/pkg/errs"
	"github.com/nainya/aulsmfs/pkg/ondisk"
)

// Merge drives one step of compaction, pushing entries down from layer
// target-1 into layer target (spec.md §4.5.1).
//
// target == 0 is special: C1 must be empty (otherwise ErrBusy — a second
// compaction is already in flight), and the step is the cheap in-memory
// swap that freezes C0 as the new C1 while a fresh C0 keeps taking writes.
// Nothing else in the container changes, so the on-disk destination for
// that newly frozen C1 is left to the next call, target == 2 (C1 can never
// itself be an install destination; it is an mtree, not a ctree run).
//
// For target in [2, NumLayers), the two source layers are target-1 and
// target. If target is a bare on-disk layer and currently empty, and the
// source is itself an on-disk layer, the merge degenerates into a
// zero-I/O descriptor copy. Otherwise the two layers are rebuilt into a
// fresh ctree via the merging iterator: drop_deleted is honored only when
// every layer strictly outside [target-1, target] is empty, since only
// then is there no shadowed layer a dropped tombstone could resurrect a
// stale value from.
func (l *LSM) Merge(target int, policy Policy) error {
	if target == 0 {
		if !l.c1.IsEmpty() {
			return errs.Wrap("lsm.LSM.Merge", errs.ErrBusy,
				fmt.Errorf("C1 is not empty: a compaction is already pending"))
		}
		l.c0.Swap(l.c1)
		return nil
	}
	if target < 2 || target >= NumLayers {
		return errs.Wrap("lsm.LSM.Merge", errs.ErrIntegrity,
			fmt.Errorf("invalid merge target %d", target))
	}

	srcIdx := target - 1
	dstDesc := l.ctrees[target-2]

	if dstDesc.IsEmpty() && srcIdx >= 2 {
		l.ctrees[target-2] = l.ctrees[srcIdx-2]
		l.ctrees[srcIdx-2] = ondisk.TreeDescriptor{}
		return nil
	}

	dropPermitted := true
	for i := 0; i < NumLayers; i++ {
		if i == srcIdx || i == target {
			continue
		}
		if !l.layerEmpty(i) {
			dropPermitted = false
			break
		}
	}
	builder := ctree.NewBuilder(l.dev, l.allocator, l.cmp)
	it, err := Begin([]layerSource{l.layerSource(srcIdx), l.layerSource(target)}, l.cmp)
	if err != nil {
		return err
	}
	for it.Valid() {
		key, val := it.Key(), it.Value()
		if !(dropPermitted && policy.DropDeleted(key, val)) {
			if err := builder.Append(key, val); err != nil {
				builder.Cancel()
				return err
			}
		}
		if err := it.Next(); err != nil {
			builder.Cancel()
			return err
		}
	}

	policy.BeforeFinish()
	desc, err := builder.Finish()
	if err != nil {
		return err
	}

	l.ctrees[target-2] = desc
	if srcIdx == 1 {
		l.c1.Reset()
	} else {
		l.ctrees[srcIdx-2] = ondisk.TreeDescriptor{}
	}
	policy.AfterFinish()
	return nil
}

func (l *LSM) layerEmpty(idx int) bool {
	switch idx {
	case 0:
		return l.c0.IsEmpty()
	case 1:
		return l.c1.IsEmpty()
	default:
		return l.ctrees[idx-2].IsEmpty()
	}
}
