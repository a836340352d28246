package extsort

import (
	"sort"

	"github.com/abigagli/tpie/internal/metrics"
	"github.com/abigagli/tpie/pkg/stream"
)

// internalRun is the in-memory byte arena plus index table from spec
// section 4.3: items are serialized end-to-end into a single arena, and
// only the resulting pointers are sorted, avoiding the cost of moving
// variable-sized payloads or materializing a second array of T. This is a
// direct port of tpie::serialization_internal_sort.
type internalRun[T any] struct {
	arena []byte
	index []int // byte offsets into arena, in insertion order until sort()

	ser  stream.Serializer[T]
	deser stream.Deserializer[T]
	cmp  Comparator[T]

	largestItem int
	full        bool
	cursor      int // read position into index, valid after sort()
}

func newInternalRun[T any](maxBytes int, estCount int, ser stream.Serializer[T], deser stream.Deserializer[T], cmp Comparator[T]) *internalRun[T] {
	return &internalRun[T]{
		arena: make([]byte, 0, maxBytes),
		index: make([]int, 0, estCount),
		ser:   ser,
		deser: deser,
		cmp:   cmp,
	}
}

func (r *internalRun[T]) push(v T) bool {
	if r.full {
		return false
	}
	if len(r.arena) >= cap(r.arena) {
		// arena has no room for additional bytes before writing at all.
		r.full = true
		return false
	}
	start := len(r.arena)
	sink := &internalArenaSink[T]{run: r}
	if err := r.ser(sink, v); err != nil || r.full {
		// serialize failed to fit: discard partial bytes, do not commit index.
		r.arena = r.arena[:start]
		r.full = true
		return false
	}
	r.index = append(r.index, start)
	if size := len(r.arena) - start; size > r.largestItem {
		r.largestItem = size
	}
	return true
}

// internalArenaSink appends bytes to the run's arena, refusing writes that
// would exceed the arena's capacity rather than growing it — the arena's
// capacity is the run's fixed memory budget (spec section 4.3).
type internalArenaSink[T any] struct {
	run *internalRun[T]
}

func (s *internalArenaSink[T]) Write(p []byte) error {
	r := s.run
	if len(r.arena)+len(p) > cap(r.arena) {
		r.full = true
		return errArenaFull
	}
	r.arena = append(r.arena, p...)
	return nil
}

func (r *internalRun[T]) itemCount() int { return len(r.index) }

func (r *internalRun[T]) largestItemSize() int { return r.largestItem }

// sort permutes the index by deserializing both pointed-to items on every
// comparison and applying cmp. Deserializing inside the comparator costs
// O(N log N) deserializations per run rather than doubling memory with a
// materialized T array.
func (r *internalRun[T]) sort() {
	sort.Slice(r.index, func(i, j int) bool {
		return r.less(r.index[i], r.index[j])
	})
	r.cursor = 0
	metrics.ItemsSorted.Add(float64(len(r.index)))
}

func (r *internalRun[T]) less(offI, offJ int) bool {
	var vi, vj T
	src := &internalArenaSource[T]{run: r}
	src.pos = offI
	_ = r.deser(src, &vi)
	src.pos = offJ
	_ = r.deser(src, &vj)
	return r.cmp(vi, vj)
}

type internalArenaSource[T any] struct {
	run *internalRun[T]
	pos int
}

func (s *internalArenaSource[T]) Read(p []byte) error {
	n := copy(p, s.run.arena[s.pos:])
	s.pos += n
	return nil
}

func (r *internalRun[T]) canRead() bool { return r.cursor < len(r.index) }

func (r *internalRun[T]) pull(v *T) error {
	off := r.index[r.cursor]
	r.cursor++
	src := &internalArenaSource[T]{run: r, pos: off}
	return r.deser(src, v)
}

// reset clears the run for reuse, keeping the arena's capacity.
func (r *internalRun[T]) reset() {
	r.arena = r.arena[:0]
	r.index = r.index[:0]
	r.cursor = 0
	r.full = false
}
