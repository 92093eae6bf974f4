package lsm

// Policy controls how Merge (spec.md §4.5.1) treats entries while rebuilding
// a destination layer. DropDeleted is consulted only when the compaction
// driver has determined drop_deleted is permitted for the current merge
// (every layer strictly outside the merged pair is empty); otherwise every
// entry, tombstone or not, is preserved to avoid resurrecting a value a
// shadowed layer still holds. BeforeFinish and AfterFinish run on every
// rebuilding merge regardless.
type Policy interface {
	// DropDeleted reports whether an entry, once confirmed to be the winner
	// of the merged range, should be omitted from the rebuilt destination.
	DropDeleted(key, val []byte) bool

	// BeforeFinish runs just before the compaction driver calls the fresh
	// builder's Finish, after every surviving entry has been appended.
	BeforeFinish()

	// AfterFinish runs once the new descriptor has been installed at the
	// merge's target layer.
	AfterFinish()
}

// DefaultPolicy never drops entries and runs no hooks. It is the right
// choice for any merge whose drop_deleted_permitted precondition isn't met,
// and a safe default otherwise.
type DefaultPolicy struct{}

func (DefaultPolicy) DropDeleted(key, val []byte) bool { return false }
func (DefaultPolicy) BeforeFinish()                    {}
func (DefaultPolicy) AfterFinish()                     {}

// TombstonePolicy drops zero-length values, the engine's tombstone
// convention for LSM.Del (spec.md §4.5, supplemented: deletion is
// policy-level, not a wire-format bit on ctree entries). Callers opt into it
// explicitly when merging all the way to the deepest layer, where a
// tombstone has nothing left to shadow.
type TombstonePolicy struct{}

func (TombstonePolicy) DropDeleted(key, val []byte) bool { return len(val) == 0 }
func (TombstonePolicy) BeforeFinish()                    {}
func (TombstonePolicy) AfterFinish()                     {}
