package dagflow

import "github.com/abigagli/tpie/pkg/extsort"

// This file provides the small set of concrete node variants used to
// assemble pipelines out of ordinary functions and out of a sort operator,
// mirroring how the original composes segments from small, reusable
// building blocks rather than one monolithic node type per pipeline.

// PullSource is the minimal interface a node must satisfy to sit upstream
// of a PullPushInitiator.
type PullSource interface {
	Node
	CanPull() bool
	Pull() (any, error)
}

// SliceSource is an initiator that pushes a fixed sequence of items into
// its downstream node, then stops. It has no input edges, matching the
// initiator variant from spec section 3.
type SliceSource struct {
	BaseNode
	items      []any
	downstream Pusher
}

// NewSliceSource returns a source pushing items into downstream, unioning
// their maps via a push edge.
func NewSliceSource(items []any, downstream Node) *SliceSource {
	n := &SliceSource{BaseNode: NewBaseNode(), items: items}
	n.Bind(n)
	if p, ok := downstream.(Pusher); ok {
		n.downstream = p
	} else {
		preconditionViolation("SliceSource downstream does not implement Pusher")
	}
	PushTo(n, downstream)
	return n
}

func (n *SliceSource) Go() error {
	for _, v := range n.items {
		if err := n.downstream.Push(v); err != nil {
			return err
		}
	}
	return nil
}

func (n *SliceSource) TypeName() string { return "SliceSource" }

// CollectSink is a terminator that appends every pushed item to Items.
type CollectSink struct {
	BaseNode
	Items []any
}

// NewCollectSink returns an unconnected terminator; wire it as the
// downstream of some upstream node with PushTo.
func NewCollectSink() *CollectSink {
	n := &CollectSink{BaseNode: NewBaseNode()}
	n.Bind(n)
	return n
}

func (n *CollectSink) Push(v any) error {
	n.Items = append(n.Items, v)
	return nil
}

func (n *CollectSink) TypeName() string { return "CollectSink" }

// FuncFilter transforms each pushed item with fn and forwards the result
// downstream, the filter variant from spec section 3.
type FuncFilter struct {
	BaseNode
	transform  func(any) (any, error)
	downstream Pusher
}

// NewFuncFilter returns a filter that applies transform to every item
// before pushing it to downstream.
func NewFuncFilter(transform func(any) (any, error), downstream Node) *FuncFilter {
	n := &FuncFilter{BaseNode: NewBaseNode(), transform: transform}
	n.Bind(n)
	if p, ok := downstream.(Pusher); ok {
		n.downstream = p
	} else {
		preconditionViolation("FuncFilter downstream does not implement Pusher")
	}
	PushTo(n, downstream)
	return n
}

func (n *FuncFilter) Push(v any) error {
	out, err := n.transform(v)
	if err != nil {
		return err
	}
	return n.downstream.Push(out)
}

func (n *FuncFilter) TypeName() string { return "FuncFilter" }

// PullPushInitiator drives a pull-source/push-sink pair: it pulls items
// from source until exhausted and pushes each one to downstream. It is
// itself the phase's initiator, since it has no input edges of its own.
type PullPushInitiator struct {
	BaseNode
	source     PullSource
	downstream Pusher
}

// NewPullPushInitiator wires source (pulled from) and downstream (pushed
// to) into this initiator's phase via pull/push edges.
func NewPullPushInitiator(source Node, downstream Node) *PullPushInitiator {
	src, ok := source.(PullSource)
	if !ok {
		preconditionViolation("PullPushInitiator source does not implement PullSource")
	}
	n := &PullPushInitiator{BaseNode: NewBaseNode(), source: src}
	n.Bind(n)
	if p, ok := downstream.(Pusher); ok {
		n.downstream = p
	} else {
		preconditionViolation("PullPushInitiator downstream does not implement Pusher")
	}
	PullFrom(n, source)
	PushTo(n, downstream)
	return n
}

func (n *PullPushInitiator) Go() error {
	for n.source.CanPull() {
		v, err := n.source.Pull()
		if err != nil {
			return err
		}
		if err := n.downstream.Push(v); err != nil {
			return err
		}
	}
	return nil
}

func (n *PullPushInitiator) TypeName() string { return "PullPushInitiator" }

// SortFormer is the push-facing half of a sort operator: it owns an
// extsort.Sorter and feeds it every pushed item, forming runs as spec
// section 4.4 phase 1 describes. It shares its Sorter with a paired
// SortDrain, joined by a depends edge so the two fall in different phases
// even though nothing pushes or pulls between them directly.
type SortFormer[T any] struct {
	BaseNode
	sorter *extsort.Sorter[T]
}

// NewSortStage builds the push/pull pair for a sort operator around
// sorter, returning the former (wire upstream pushes into it) and the
// drain (wire it as the PullSource for a downstream PullPushInitiator).
func NewSortStage[T any](sorter *extsort.Sorter[T]) (*SortFormer[T], *SortDrain[T]) {
	former := &SortFormer[T]{BaseNode: NewBaseNode(), sorter: sorter}
	former.Bind(former)
	drain := &SortDrain[T]{BaseNode: NewBaseNode(), sorter: sorter}
	drain.Bind(drain)
	DependsOn(drain, former)
	return former, drain
}

func (n *SortFormer[T]) Begin() error {
	if assigned := n.AssignedMemory(); assigned > 0 {
		n.sorter.SetMemAvail(assigned)
	}
	return n.sorter.Begin()
}

func (n *SortFormer[T]) Push(v any) error { return n.sorter.Push(v.(T)) }

func (n *SortFormer[T]) End() error { return n.sorter.End() }

func (n *SortFormer[T]) TypeName() string { return "SortFormer" }

// SortDrain is the pull-facing half of a sort operator: it lazily opens
// the sorter's final merged run and yields items in sorted order.
type SortDrain[T any] struct {
	BaseNode
	sorter *extsort.Sorter[T]
}

func (n *SortDrain[T]) CanPull() bool { return n.sorter.CanPull() }

func (n *SortDrain[T]) Pull() (any, error) {
	var v T
	err := n.sorter.Pull(&v)
	return v, err
}

// End releases the sorter's temporary directory once draining is done.
func (n *SortDrain[T]) End() error { return n.sorter.Close() }

func (n *SortDrain[T]) TypeName() string { return "SortDrain" }
