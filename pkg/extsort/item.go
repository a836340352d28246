// Package extsort implements the internal run former and external sorter
// from spec sections 4.3 and 4.4: bounded-memory runs are formed in an
// in-memory arena, spilled to disk through pkg/stream, and merged with a
// binary-heap k-way merge until one sorted run remains.
package extsort

import "github.com/abigagli/tpie/pkg/stream"

// Sink and Source are the same byte-level contract pkg/stream uses;
// extsort re-exports them so callers only need to import one package for a
// full sort pipeline. Serializer[T] and Deserializer[T] are generic, and
// Go (at the module's 1.21 language version) does not support generic
// type aliases, so callers use stream.Serializer[T]/stream.Deserializer[T]
// directly.
type (
	Sink   = stream.Sink
	Source = stream.Source
)

// Comparator is a strict weak ordering: Comparator(a, b) reports whether a
// sorts strictly before b.
type Comparator[T any] func(a, b T) bool
