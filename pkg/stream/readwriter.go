package stream

import (
	"github.com/pingcap/errors"
	"github.com/spf13/afero"

	"github.com/abigagli/tpie/pkg/blockio"
)

// ReadWriter is the bidirectional "fancy" stream variant from spec section
// 4.2: it caches a single block, tags it dirty on writes, flushes before
// moving to another block, and extends the stream on out-of-bounds writes
// while rejecting out-of-bounds reads. It is a close port of the original
// TPIE serialization_stream, which combines reader and writer into one
// type backed by one block cache.
type ReadWriter struct {
	file      blockio.RawFile
	blockSize int

	buf         []byte
	blockNumber int64 // -1 means "no block loaded"
	blockValid  int   // valid byte count of the cached block
	dirty       bool
	index       int // read/write cursor within the cached block

	nextBlock int64 // -1 means "no pending block transition"
	nextIndex int

	payloadSize int64
	open        bool
}

const noBlock int64 = -1

// OpenReadWrite opens or creates path for bidirectional access. When the
// file already exists and requireCleanClose is true, an unset clean_close
// bit fails the open (spec section 3).
func OpenReadWrite(fs afero.Fs, path string, createIfMissing bool, requireCleanClose bool, blockSize int, hint blockio.CacheHint) (*ReadWriter, error) {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	file, existed, err := blockio.OpenReadWrite(fs, path, createIfMissing, hint)
	if err != nil {
		return nil, err
	}
	rw := &ReadWriter{
		file:        file,
		blockSize:   blockSize,
		buf:         make([]byte, blockSize),
		blockNumber: noBlock,
		nextBlock:   0,
		nextIndex:   0,
		index:       -1,
	}
	if existed {
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
		if requireCleanClose && !h.CleanClose {
			_ = file.Close()
			return nil, newFormatError("stream was not closed properly")
		}
		rw.payloadSize = int64(h.PayloadSize)
	}
	if err := rw.writeHeader(false); err != nil {
		_ = file.Close()
		return nil, err
	}
	rw.open = true
	return rw, nil
}

func (rw *ReadWriter) writeHeader(clean bool) error {
	h := &header{Magic: Magic, Version: Version, PayloadSize: uint64(rw.payloadSize), CleanClose: clean}
	if err := rw.file.Seek(0); err != nil {
		return err
	}
	_, err := rw.file.Write(h.encode())
	return err
}

func (rw *ReadWriter) blockOffset(number int64) int64 {
	return int64(HeaderSize()) + number*int64(rw.blockSize)
}

func (rw *ReadWriter) writeBlock(number int64) error {
	if err := rw.file.Seek(rw.blockOffset(number)); err != nil {
		return err
	}
	_, err := rw.file.Write(rw.buf[:rw.blockValid])
	return err
}

func (rw *ReadWriter) readBlock(number int64) error {
	rw.blockNumber = number
	rw.blockValid = rw.blockSize
	total := rw.size()
	if int64(rw.blockValid)+number*int64(rw.blockSize) > total {
		rw.blockValid = int(total - number*int64(rw.blockSize))
	}
	if err := rw.file.Seek(rw.blockOffset(number)); err != nil {
		return err
	}
	if rw.blockValid > 0 {
		if _, err := rw.file.Read(rw.buf[:rw.blockValid]); err != nil {
			return err
		}
	}
	return nil
}

func (rw *ReadWriter) flushBlock() error {
	if !rw.dirty {
		return nil
	}
	if err := rw.writeBlock(rw.blockNumber); err != nil {
		return err
	}
	rw.dirty = false
	return nil
}

func (rw *ReadWriter) fetchNextBlock() error {
	if err := rw.readBlock(rw.nextBlock); err != nil {
		return err
	}
	rw.index = rw.nextIndex
	rw.nextBlock = noBlock
	rw.nextIndex = -1
	rw.dirty = false
	return nil
}

func (rw *ReadWriter) updateBlock() error {
	if rw.nextBlock == noBlock {
		rw.nextBlock = rw.blockNumber + 1
		rw.nextIndex = 0
	}
	if err := rw.flushBlock(); err != nil {
		return err
	}
	return rw.fetchNextBlock()
}

func (rw *ReadWriter) offset() int64 {
	if rw.nextBlock == noBlock {
		return int64(rw.index) + rw.blockNumber*int64(rw.blockSize)
	}
	return int64(rw.nextIndex) + rw.nextBlock*int64(rw.blockSize)
}

func (rw *ReadWriter) updateVars() {
	if o := rw.offset(); o > rw.payloadSize {
		rw.payloadSize = o
	}
}

func (rw *ReadWriter) size() int64 {
	rw.updateVars()
	return rw.payloadSize
}

// CanRead reports whether at least n bytes can be read at the current
// position without extending the stream.
func (rw *ReadWriter) CanRead(n int) bool {
	if rw.index >= 0 && rw.index <= rw.blockValid && rw.index+n <= rw.blockValid {
		return true
	}
	return rw.offset()+int64(n) <= rw.size()
}

func (rw *ReadWriter) rawWrite(p []byte) error {
	for len(p) > 0 {
		if rw.index >= rw.blockSize || rw.blockNumber == noBlock {
			if err := rw.updateBlock(); err != nil {
				return err
			}
		}
		writeSize := len(p)
		if room := rw.blockSize - rw.index; writeSize > room {
			writeSize = room
		}
		copy(rw.buf[rw.index:], p[:writeSize])
		p = p[writeSize:]
		rw.index += writeSize
		rw.dirty = true
		if rw.index > rw.blockValid {
			rw.blockValid = rw.index
		}
	}
	return nil
}

func (rw *ReadWriter) rawRead(p []byte) error {
	if rw.offset()+int64(len(p)) > rw.size() {
		return ErrEndOfStream
	}
	for len(p) > 0 {
		if rw.index >= rw.blockSize || rw.blockNumber == noBlock {
			offs := rw.offset()
			if offs >= rw.size() || offs+int64(len(p)) > rw.size() {
				return ErrEndOfStream
			}
			if err := rw.updateBlock(); err != nil {
				return err
			}
		}
		readSize := len(p)
		if room := rw.blockValid - rw.index; readSize > room {
			readSize = room
		}
		copy(p, rw.buf[rw.index:rw.index+readSize])
		p = p[readSize:]
		rw.index += readSize
	}
	return nil
}

type readWriterSink struct{ rw *ReadWriter }

func (s *readWriterSink) Write(p []byte) error { return s.rw.rawWrite(p) }

type readWriterSource struct{ rw *ReadWriter }

func (s *readWriterSource) Read(p []byte) error { return s.rw.rawRead(p) }

// SerializeRW appends v to the stream at the current position.
func SerializeRW[T any](rw *ReadWriter, v T, ser Serializer[T]) error {
	if !rw.open {
		panic("stream: SerializeRW called on closed ReadWriter")
	}
	return ser(&readWriterSink{rw: rw}, v)
}

// DeserializeRW reads v from the stream at the current position.
func DeserializeRW[T any](rw *ReadWriter, v *T, deser Deserializer[T]) error {
	if !rw.open {
		panic("stream: DeserializeRW called on closed ReadWriter")
	}
	return deser(&readWriterSource{rw: rw}, v)
}

// Close flushes any dirty block and rewrites the header with the final
// size and clean_close=true.
func (rw *ReadWriter) Close() error {
	if !rw.open {
		return nil
	}
	if err := rw.flushBlock(); err != nil {
		return errors.Annotate(err, "stream: flush dirty block on close")
	}
	rw.updateVars()
	if err := rw.writeHeader(true); err != nil {
		return errors.Annotate(err, "stream: rewrite header on close")
	}
	rw.open = false
	return rw.file.Close()
}
