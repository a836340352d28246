package stream

import (
	"github.com/pingcap/errors"
	"github.com/spf13/afero"

	"github.com/abigagli/tpie/pkg/blockio"
)

// ReaderOptions configures optional Reader behavior.
type ReaderOptions struct {
	// AllowUnclean permits opening a stream whose clean_close bit is unset.
	// By default, Reader rejects such streams (spec section 3).
	AllowUnclean bool
	// BlockSize must match the block size the writer used; defaults to
	// DefaultBlockSize.
	BlockSize int
}

// ReaderOption mutates a ReaderOptions.
type ReaderOption func(*ReaderOptions)

// WithAllowUnclean makes the reader tolerate clean_close=false.
func WithAllowUnclean() ReaderOption { return func(o *ReaderOptions) { o.AllowUnclean = true } }

// WithBlockSize overrides the default block size.
func WithBlockSize(n int) ReaderOption { return func(o *ReaderOptions) { o.BlockSize = n } }

// Reader is the sequential, block-buffered stream reader from spec section
// 4.2.
type Reader struct {
	file      blockio.RawFile
	blockSize int
	payload   int64
	buf       []byte
	blockFill int
	cursor    int
	blockIdx  int64
	offset    int64
	open      bool
}

// NewReader opens path for sequential reading, validating the header.
func NewReader(fs afero.Fs, path string, hint blockio.CacheHint, opts ...ReaderOption) (*Reader, error) {
	o := ReaderOptions{BlockSize: DefaultBlockSize}
	for _, opt := range opts {
		opt(&o)
	}
	file, err := blockio.OpenRead(fs, path, hint)
	if err != nil {
		return nil, err
	}
	hdrBuf := make([]byte, HeaderSize())
	if _, err := file.Read(hdrBuf); err != nil {
		_ = file.Close()
		return nil, errors.Annotate(err, "stream: read header")
	}
	h, err := decodeHeader(hdrBuf)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	if !h.CleanClose && !o.AllowUnclean {
		_ = file.Close()
		return nil, newFormatError("stream was not closed properly")
	}
	return &Reader{
		file:      file,
		blockSize: o.BlockSize,
		payload:   int64(h.PayloadSize),
		buf:       make([]byte, o.BlockSize),
		blockIdx:  -1,
		open:      true,
	}, nil
}

// CanRead reports whether at least one more byte remains in the payload.
func (r *Reader) CanRead() bool {
	return r.offset < r.payload
}

// PayloadSize returns the header's recorded payload byte size.
func (r *Reader) PayloadSize() int64 { return r.payload }

func (r *Reader) fetchNextBlock() error {
	r.blockIdx++
	want := r.blockSize
	remaining := r.payload - r.blockIdx*int64(r.blockSize)
	if remaining <= 0 {
		return ErrEndOfStream
	}
	if int64(want) > remaining {
		want = int(remaining)
	}
	if err := r.file.Seek(int64(HeaderSize()) + r.blockIdx*int64(r.blockSize)); err != nil {
		return err
	}
	if _, err := r.file.Read(r.buf[:want]); err != nil {
		return errors.Annotate(err, "stream: read block")
	}
	r.blockFill = want
	r.cursor = 0
	return nil
}

type readerSource struct{ r *Reader }

func (s *readerSource) Read(p []byte) error {
	r := s.r
	if r.offset+int64(len(p)) > r.payload {
		return ErrEndOfStream
	}
	for len(p) > 0 {
		if r.cursor >= r.blockFill {
			if err := r.fetchNextBlock(); err != nil {
				return err
			}
		}
		n := copy(p, r.buf[r.cursor:r.blockFill])
		r.cursor += n
		r.offset += int64(n)
		p = p[n:]
	}
	return nil
}

// Deserialize is a free function (methods cannot carry type parameters in
// Go) that reconstructs v from the stream using deser.
func Deserialize[T any](r *Reader, v *T, deser Deserializer[T]) error {
	if !r.open {
		panic("stream: Deserialize called on closed Reader")
	}
	return deser(&readerSource{r: r}, v)
}

// Close releases the underlying file. Readers do not rewrite the header.
func (r *Reader) Close() error {
	if !r.open {
		return nil
	}
	r.open = false
	return r.file.Close()
}
