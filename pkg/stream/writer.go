package stream

import (
	"github.com/pingcap/errors"
	"github.com/spf13/afero"

	"github.com/abigagli/tpie/pkg/blockio"
)

// Writer is the block-buffered, append-only stream writer from spec
// section 4.2. It writes a header with clean=false in NewWriter, buffers
// serialized bytes into blocks of BlockSize, flushing full blocks to disk,
// and rewrites the header with the final payload size and clean=true on
// Close.
type Writer struct {
	file      blockio.RawFile
	blockSize int
	buf       []byte
	fill      int
	blocks    int64
	payload   int64
	open      bool
}

// NewWriter opens path for writing with the given block size and cache
// hint. blockSize<=0 selects DefaultBlockSize.
func NewWriter(fs afero.Fs, path string, blockSize int, hint blockio.CacheHint) (*Writer, error) {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	file, err := blockio.OpenWrite(fs, path, hint)
	if err != nil {
		return nil, err
	}
	w := &Writer{file: file, blockSize: blockSize, buf: make([]byte, blockSize)}
	if err := w.writeHeader(false); err != nil {
		_ = file.Close()
		return nil, err
	}
	w.open = true
	return w, nil
}

func (w *Writer) writeHeader(clean bool) error {
	h := &header{Magic: Magic, Version: Version, PayloadSize: uint64(w.payload), CleanClose: clean}
	if err := w.file.Seek(0); err != nil {
		return err
	}
	if _, err := w.file.Write(h.encode()); err != nil {
		return err
	}
	return nil
}

type writerSink struct{ w *Writer }

func (s *writerSink) Write(p []byte) error {
	w := s.w
	for len(p) > 0 {
		if w.fill == w.blockSize {
			if err := w.flushBlock(); err != nil {
				return err
			}
		}
		n := copy(w.buf[w.fill:], p)
		w.fill += n
		w.payload += int64(n)
		p = p[n:]
	}
	return nil
}

func (w *Writer) flushBlock() error {
	if w.fill == 0 {
		return nil
	}
	if _, err := w.file.Write(w.buf[:w.fill]); err != nil {
		return err
	}
	w.blocks++
	w.fill = 0
	return nil
}

// Serialize invokes ser to append v's byte representation to the stream,
// flushing full blocks to disk as needed. Methods cannot carry their own
// type parameters in Go, so this is a free function rather than a method
// on Writer.
func Serialize[T any](w *Writer, v T, ser Serializer[T]) error {
	if !w.open {
		panic("stream: Serialize called on closed Writer")
	}
	return ser(&writerSink{w: w}, v)
}

// BlocksWritten returns the number of blocks flushed so far; after Close
// this includes a short final block.
func (w *Writer) BlocksWritten() int64 { return w.blocks }

// PayloadSize returns the number of payload bytes serialized so far.
func (w *Writer) PayloadSize() int64 { return w.payload }

// Close flushes any partial final block and rewrites the header with the
// final payload size and clean_close=true.
func (w *Writer) Close() error {
	if !w.open {
		return nil
	}
	if err := w.flushBlock(); err != nil {
		return errors.Annotate(err, "stream: flush final block on close")
	}
	if err := w.writeHeader(true); err != nil {
		return errors.Annotate(err, "stream: rewrite header on close")
	}
	w.open = false
	return w.file.Close()
}
