package extsort

import (
	"fmt"
	"path/filepath"

	"github.com/pingcap/errors"
	"github.com/spf13/afero"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/abigagli/tpie/internal/logutil"
	"github.com/abigagli/tpie/internal/metrics"
	"github.com/abigagli/tpie/pkg/blockio"
	"github.com/abigagli/tpie/pkg/stream"
)

// pointerSize approximates the per-index overhead of the internal run's
// pointer table (spec section 4.3: "M_bytes + N_est*sizeof(pointer)").
const pointerSize = 8

// Sorter drives the external sort described in spec section 4.4: it forms
// bounded-memory runs through an internalRun, writes them through
// pkg/stream, and merges them with a binary-heap k-way merge until one
// sorted run remains. It follows the begin/push/end/pull/can_pull state
// machine and the run-formation memory-sizing rule verbatim.
type Sorter[T any] struct {
	fs        afero.Fs
	tempSvc   *blockio.TempNameService
	tempDir   string
	memAvail  int64
	minItem   int
	blockSize int
	ser       stream.Serializer[T]
	deser     stream.Deserializer[T]
	cmp       Comparator[T]
	logger    *zap.Logger

	state State
	run   *internalRun[T]

	runPaths     []string
	nextRunIndex int64
	largestItem  int

	finalRunPath string
	reader       *stream.Reader

	tempBytes atomic.Int64
}

// Options configures a Sorter.
type Options struct {
	// MemAvail is the advisory memory ceiling in bytes (spec section 4.4).
	MemAvail int64
	// MinItemSize lower-bounds run-buffer sizing (spec section 9, open
	// question: "expose it, default to a small positive value").
	MinItemSize int
	// BlockSize is the stream block size; 0 selects stream.DefaultBlockSize.
	BlockSize int
}

const defaultMinItemSize = 16

// NewSorter constructs a Sorter over fs, allocating its private temp
// directory from svc. ser/deser/cmp are the user's serialization contract
// and strict weak order.
func NewSorter[T any](
	fs afero.Fs,
	svc *blockio.TempNameService,
	opts Options,
	ser stream.Serializer[T],
	deser stream.Deserializer[T],
	cmp Comparator[T],
) *Sorter[T] {
	blockSize := opts.BlockSize
	if blockSize <= 0 {
		blockSize = stream.DefaultBlockSize
	}
	minItem := opts.MinItemSize
	if minItem <= 0 {
		minItem = defaultMinItemSize
	}
	return &Sorter[T]{
		fs:        fs,
		tempSvc:   svc,
		memAvail:  opts.MemAvail,
		minItem:   minItem,
		blockSize: blockSize,
		ser:       ser,
		deser:     deser,
		cmp:       cmp,
		logger:    logutil.BgLogger(),
		state:     Idle,
	}
}

func internalSortMemory(bufferBytes, estCount int) int {
	return bufferBytes + estCount*pointerSize
}

// sizeRunBuffer binary-searches the largest run buffer size that fits
// under memAvail-writerOverhead, per spec section 4.4.
func sizeRunBuffer(budget int64, minItemSize int) int {
	if budget <= 0 {
		return 0
	}
	lo, hi := 0, int(budget)
	best := 0
	for lo <= hi {
		mid := lo + (hi-lo)/2
		estCount := (mid + minItemSize - 1) / minItemSize
		if int64(internalSortMemory(mid, estCount)) <= budget {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return best
}

// SetMemAvail overrides the advisory memory ceiling before Begin is
// called, letting a caller such as dagflow's executor feed in the share
// its per-phase memory assignment computed for this sorter's node.
func (s *Sorter[T]) SetMemAvail(bytes int64) {
	if s.state != Idle {
		preconditionViolation("SetMemAvail called outside Idle")
	}
	s.memAvail = bytes
}

// Begin transitions Idle -> RunForming, sizing and allocating the internal
// run buffer.
func (s *Sorter[T]) Begin() error {
	if s.state != Idle {
		preconditionViolation("Begin called outside Idle")
	}
	writerOverhead := int64(s.blockSize)
	budget := s.memAvail - writerOverhead
	bufSize := sizeRunBuffer(budget, s.minItem)
	estCount := 0
	if s.minItem > 0 {
		estCount = (bufSize + s.minItem - 1) / s.minItem
	}
	tempDir, err := s.tempSvc.NewDir("sort")
	if err != nil {
		return errors.Annotate(err, "extsort: allocate temp dir")
	}
	s.tempDir = tempDir
	s.run = newInternalRun[T](bufSize, estCount, s.ser, s.deser, s.cmp)
	s.state = RunForming
	return nil
}

// Push adds v to the current internal run, spilling and retrying once if
// it does not fit, per the original's push/end_run/retry sequence.
func (s *Sorter[T]) Push(v T) error {
	if s.state != RunForming {
		preconditionViolation("Push called outside RunForming")
	}
	if s.run.push(v) {
		return nil
	}
	if err := s.endRun(); err != nil {
		return err
	}
	if !s.run.push(v) {
		return errors.Trace(ErrItemTooLarge)
	}
	return nil
}

func (s *Sorter[T]) sortedRunPath(idx int64) string {
	return filepath.Join(s.tempDir, fmt.Sprintf("%d.bin", idx))
}

func (s *Sorter[T]) endRun() error {
	s.run.sort()
	if s.run.itemCount() == 0 {
		s.run.reset()
		return nil
	}
	path := s.sortedRunPath(s.nextRunIndex)
	s.nextRunIndex++
	w, err := stream.NewWriter(s.fs, path, s.blockSize, blockio.Sequential)
	if err != nil {
		return errors.Annotatef(err, "extsort: open run file %s", path)
	}
	var item T
	for s.run.canRead() {
		if err := s.run.pull(&item); err != nil {
			_ = w.Close()
			return errors.Annotate(err, "extsort: read back internal run")
		}
		if err := stream.Serialize(w, item, s.ser); err != nil {
			_ = w.Close()
			return errors.Annotate(err, "extsort: write run item")
		}
	}
	if err := w.Close(); err != nil {
		return errors.Annotatef(err, "extsort: close run file %s", path)
	}
	if largest := s.run.largestItemSize(); largest > s.largestItem {
		s.largestItem = largest
	}
	s.runPaths = append(s.runPaths, path)
	s.tempBytes.Add(w.PayloadSize() + int64(stream.HeaderSize()))
	metrics.TempBytesInUse.Add(float64(w.PayloadSize() + int64(stream.HeaderSize())))
	metrics.RunsFormed.Inc()
	s.run.reset()
	return nil
}

// End finishes run formation and runs merge passes until at most one
// sorted run remains, per spec section 4.4 phases 2-3.
func (s *Sorter[T]) End() error {
	if s.state != RunForming {
		preconditionViolation("End called outside RunForming")
	}
	if err := s.endRun(); err != nil {
		return err
	}
	s.run = nil
	s.state = Merging

	if len(s.runPaths) == 0 {
		s.state = Draining
		return nil
	}
	if len(s.runPaths) == 1 {
		s.finalRunPath = s.runPaths[0]
		s.state = Draining
		return nil
	}

	writerOverhead := int64(s.blockSize)
	readerOverhead := int64(s.blockSize)
	fanout := int((s.memAvail - writerOverhead) / (int64(s.largestItem) + readerOverhead))
	if fanout < 2 {
		return errors.Trace(ErrNotEnoughMemoryForMerge)
	}

	runs := s.runPaths
	for len(runs) > 1 {
		var next []string
		for i := 0; i < len(runs); i += fanout {
			till := i + fanout
			if till > len(runs) {
				till = len(runs)
			}
			dst := s.sortedRunPath(s.nextRunIndex)
			s.nextRunIndex++
			if err := s.mergeBatch(runs[i:till], dst); err != nil {
				return err
			}
			next = append(next, dst)
		}
		metrics.MergePasses.Inc()
		runs = next
	}
	s.finalRunPath = runs[0]
	s.state = Draining
	return nil
}

// CanPull reports whether Pull can be called; legal throughout Draining and
// after, so the canonical "for CanPull() { Pull() }" drain idiom never
// panics on its own terminating call. It is the sole place that notices
// exhaustion and transitions to Drained; Pull itself never does.
func (s *Sorter[T]) CanPull() bool {
	if s.state != Draining && s.state != Drained {
		preconditionViolation("CanPull called outside Draining")
	}
	if s.state == Drained {
		return false
	}
	if s.finalRunPath == "" {
		s.state = Drained
		return false
	}
	if s.reader != nil && !s.reader.CanRead() {
		s.state = Drained
		return false
	}
	return true
}

// Pull returns the next item of the fully sorted output; legal only in
// Draining, i.e. only after a CanPull call that returned true.
func (s *Sorter[T]) Pull(v *T) error {
	if s.state != Draining {
		preconditionViolation("Pull called outside Draining")
	}
	if s.reader == nil {
		r, err := stream.NewReader(s.fs, s.finalRunPath, blockio.Sequential, stream.WithBlockSize(s.blockSize))
		if err != nil {
			return errors.Annotate(err, "extsort: open final run for draining")
		}
		s.reader = r
	}
	if err := stream.Deserialize(s.reader, v, s.deser); err != nil {
		return errors.Annotate(err, "extsort: pull from final run")
	}
	return nil
}

// Close releases the sorter's temp directory and every file beneath it,
// matching spec section 3's "the sorter's destructor removes every file in
// its temporary directory and updates accounting" and the testable
// property that temp space returns to 0 after destruction.
func (s *Sorter[T]) Close() error {
	if s.reader != nil {
		_ = s.reader.Close()
		s.reader = nil
	}
	if s.tempDir == "" {
		return nil
	}
	freed, err := blockio.RemoveDir(s.fs, s.tempDir)
	if err != nil {
		return errors.Annotate(err, "extsort: remove temp dir")
	}
	s.tempBytes.Sub(freed)
	metrics.TempBytesInUse.Sub(float64(freed))
	if remaining := s.tempBytes.Load(); remaining != 0 {
		s.logger.Warn("extsort: temp-space accounting did not return to zero",
			zap.Int64("remainingBytes", remaining))
	}
	s.tempDir = ""
	return nil
}

// TempBytesInUse reports the sorter's currently accounted temp-file bytes.
func (s *Sorter[T]) TempBytesInUse() int64 { return s.tempBytes.Load() }
