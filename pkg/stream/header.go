package stream

import "encoding/binary"

const (
	// Magic identifies an extflow stream file (spec section 6).
	Magic uint64 = 0xfa340f49edbada67
	// Version is the only stream format version implemented.
	Version uint64 = 1
	// HeaderAlign is the alignment, in bytes, of the on-disk header region.
	HeaderAlign = 4096
	// DefaultBlockSize is the default payload block size, 2 MiB.
	DefaultBlockSize = 2 * 1024 * 1024
	// padByte fills the header region beyond the packed fields.
	padByte = 0x42

	rawHeaderSize = 8 + 8 + 8 + 1 // magic + version + payload_size + clean_close
)

// HeaderSize is the 4096-byte-aligned size of the on-disk header region.
func HeaderSize() int {
	return ((rawHeaderSize + HeaderAlign - 1) / HeaderAlign) * HeaderAlign
}

type header struct {
	Magic       uint64
	Version     uint64
	PayloadSize uint64
	CleanClose  bool
}

func (h *header) encode() []byte {
	buf := make([]byte, HeaderSize())
	for i := range buf {
		buf[i] = padByte
	}
	binary.LittleEndian.PutUint64(buf[0:8], h.Magic)
	binary.LittleEndian.PutUint64(buf[8:16], h.Version)
	binary.LittleEndian.PutUint64(buf[16:24], h.PayloadSize)
	if h.CleanClose {
		buf[24] = 1
	} else {
		buf[24] = 0
	}
	return buf
}

func decodeHeader(buf []byte) (*header, error) {
	if len(buf) < rawHeaderSize {
		return nil, newFormatError("header too short")
	}
	h := &header{
		Magic:       binary.LittleEndian.Uint64(buf[0:8]),
		Version:     binary.LittleEndian.Uint64(buf[8:16]),
		PayloadSize: binary.LittleEndian.Uint64(buf[16:24]),
		CleanClose:  buf[24] == 1,
	}
	if h.Magic != Magic {
		return nil, newFormatError("Bad header magic")
	}
	if h.Version != Version {
		return nil, newFormatError("Bad header version")
	}
	return h, nil
}
