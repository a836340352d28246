package extsort

import (
	"container/heap"

	"github.com/pingcap/errors"
	"golang.org/x/sync/errgroup"

	"github.com/abigagli/tpie/internal/metrics"
	"github.com/abigagli/tpie/pkg/blockio"
	"github.com/abigagli/tpie/pkg/stream"
)

// mergeElem is one live item in the merge heap: the item itself plus the
// index of the reader it came from, so popping it can pull that reader's
// next item. This mirrors the teacher's mergeHeapElem from its iterator
// merge (br/pkg/lightning/backend/external/iter.go), generalized from raw
// byte keys to an arbitrary comparator over T.
type mergeElem[T any] struct {
	item   T
	reader int
}

// mergeHeap is a container/heap.Interface over live merge elements, ordered
// by the sort's comparator.
type mergeHeap[T any] struct {
	elems []mergeElem[T]
	less  Comparator[T]
}

func (h *mergeHeap[T]) Len() int { return len(h.elems) }
func (h *mergeHeap[T]) Less(i, j int) bool {
	return h.less(h.elems[i].item, h.elems[j].item)
}
func (h *mergeHeap[T]) Swap(i, j int) { h.elems[i], h.elems[j] = h.elems[j], h.elems[i] }
func (h *mergeHeap[T]) Push(x any)    { h.elems = append(h.elems, x.(mergeElem[T])) }
func (h *mergeHeap[T]) Pop() any {
	old := h.elems
	n := len(old)
	x := old[n-1]
	h.elems = old[:n-1]
	return x
}

// mergeBatch merges the sorted runs at srcPaths into a single sorted run at
// dst using a k-way binary-heap merge (spec section 4.4, phase 3), then
// deletes each source run immediately once fully consumed, decrementing
// the sorter's temp-space accounting as it goes.
func (s *Sorter[T]) mergeBatch(srcPaths []string, dst string) error {
	readers := make([]*stream.Reader, len(srcPaths))
	g := new(errgroup.Group)
	for i, p := range srcPaths {
		i, p := i, p
		g.Go(func() error {
			r, err := stream.NewReader(s.fs, p, blockio.Sequential, stream.WithBlockSize(s.blockSize))
			if err != nil {
				return errors.Annotatef(err, "extsort: open merge input %s", p)
			}
			readers[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, r := range readers {
			if r != nil {
				_ = r.Close()
			}
		}
		return err
	}

	w, err := stream.NewWriter(s.fs, dst, s.blockSize, blockio.Sequential)
	if err != nil {
		for _, r := range readers {
			_ = r.Close()
		}
		return errors.Annotatef(err, "extsort: open merge output %s", dst)
	}

	h := &mergeHeap[T]{less: s.cmp}
	closeReader := func(idx int) error {
		path := srcPaths[idx]
		sz := readers[idx].PayloadSize() + int64(stream.HeaderSize())
		if err := readers[idx].Close(); err != nil {
			return errors.Annotatef(err, "extsort: close merge input %s", path)
		}
		if err := s.fs.Remove(path); err != nil {
			return errors.Annotatef(err, "extsort: remove consumed run %s", path)
		}
		s.tempBytes.Sub(sz)
		metrics.TempBytesInUse.Sub(float64(sz))
		return nil
	}

	advance := func(idx int) error {
		if !readers[idx].CanRead() {
			return closeReader(idx)
		}
		var v T
		if err := stream.Deserialize(readers[idx], &v, s.deser); err != nil {
			return errors.Annotatef(err, "extsort: read merge input %s", srcPaths[idx])
		}
		heap.Push(h, mergeElem[T]{item: v, reader: idx})
		return nil
	}

	for i := range readers {
		if err := advance(i); err != nil {
			_ = w.Close()
			return err
		}
	}

	for h.Len() > 0 {
		top := heap.Pop(h).(mergeElem[T])
		if err := stream.Serialize(w, top.item, s.ser); err != nil {
			_ = w.Close()
			return errors.Annotate(err, "extsort: write merged item")
		}
		if err := advance(top.reader); err != nil {
			_ = w.Close()
			return err
		}
	}

	if err := w.Close(); err != nil {
		return errors.Annotatef(err, "extsort: close merge output %s", dst)
	}
	s.tempBytes.Add(w.PayloadSize() + int64(stream.HeaderSize()))
	metrics.TempBytesInUse.Add(float64(w.PayloadSize() + int64(stream.HeaderSize())))
	return nil
}
