// Package alloc defines the two-phase space allocator contract the engine
// consumes (spec.md §4.2) and a concrete free-extent-list implementation.
package alloc

// Allocator is the four-operation, two-phase space allocator contract.
// Between Reserve and Commit/Cancel, no other caller may be handed
// overlapping space (spec.md §4.2's invariant). This mirrors
// original_source/inc/lsm.h's `lsm_alloc` (reserve/persist/cancel),
// generalized with an explicit Free for space a committed run no longer
// needs, per spec.md.
type Allocator interface {
	// Reserve allocates a non-overlapping extent of sizePages pages. The
	// extent may be written and read immediately but is not recorded in
	// persistent metadata until Commit.
	Reserve(sizePages uint64) (offsetPages uint64, err error)

	// Commit promotes a previously reserved extent to persistent.
	Commit(offsetPages, sizePages uint64) error

	// Cancel releases a previously reserved, not-yet-committed extent.
	Cancel(offsetPages, sizePages uint64) error

	// Free releases a previously committed extent.
	Free(offsetPages, sizePages uint64) error
}
