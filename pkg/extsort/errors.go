package extsort

import "github.com/pingcap/errors"

var (
	// errArenaFull signals that the internal run's arena has no room for
	// the bytes a serializer is trying to write; callers translate this
	// into a false return from push, never surface it directly.
	errArenaFull = errors.New("extsort: internal run arena is full")

	// ErrItemTooLarge is raised when a single item does not fit in an
	// empty run buffer (spec section 7: item_too_large).
	ErrItemTooLarge = errors.New("extsort: item does not fit in an empty run buffer")

	// ErrNotEnoughMemoryForMerge is raised when the computed merge fanout
	// is below 2 (spec section 7: not_enough_memory_for_merge).
	ErrNotEnoughMemoryForMerge = errors.New("extsort: not enough memory for merge (fanout < 2)")
)

// State is the sorter's lifecycle state (spec section 4.4).
type State int

const (
	// Idle is the state before Begin is called.
	Idle State = iota
	// RunForming accepts Push calls.
	RunForming
	// Merging is entered by End and runs the k-way merge passes.
	Merging
	// Draining allows Pull/CanPull.
	Draining
	// Drained means the sole remaining run has been fully consumed.
	Drained
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case RunForming:
		return "RunForming"
	case Merging:
		return "Merging"
	case Draining:
		return "Draining"
	case Drained:
		return "Drained"
	default:
		return "Unknown"
	}
}

func preconditionViolation(msg string) {
	panic("extsort: precondition violation: " + msg)
}
