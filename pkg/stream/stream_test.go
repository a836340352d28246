package stream

import (
	"encoding/binary"
	"os"
	"testing"

	"github.com/spf13/afero"

	"github.com/abigagli/tpie/pkg/blockio"
)

func serializeString(sink Sink, v string) error {
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(v)))
	if err := sink.Write(lenBuf[:]); err != nil {
		return err
	}
	if len(v) == 0 {
		return nil
	}
	return sink.Write([]byte(v))
}

func deserializeString(source Source, v *string) error {
	var lenBuf [8]byte
	if err := source.Read(lenBuf[:]); err != nil {
		return err
	}
	n := binary.LittleEndian.Uint64(lenBuf[:])
	if n == 0 {
		*v = ""
		return nil
	}
	buf := make([]byte, n)
	if err := source.Read(buf); err != nil {
		return err
	}
	*v = string(buf)
	return nil
}

func TestWriterReaderRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	w, err := NewWriter(fs, "/rt.bin", 64, blockio.Sequential)
	if err != nil {
		t.Fatal(err)
	}
	inputs := []string{"alpha", "", "beta"}
	for _, s := range inputs {
		if err := Serialize(w, s, serializeString); err != nil {
			t.Fatalf("serialize %q: %v", s, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := NewReader(fs, "/rt.bin", blockio.Sequential, WithBlockSize(64))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	for _, want := range inputs {
		var got string
		if err := Deserialize(r, &got, deserializeString); err != nil {
			t.Fatalf("deserialize: %v", err)
		}
		if got != want {
			t.Fatalf("got %q want %q", got, want)
		}
	}
	if r.CanRead() {
		t.Fatalf("expected CanRead()==false after reading all items")
	}
}

func TestReaderRejectsUncleanByDefault(t *testing.T) {
	fs := afero.NewMemMapFs()
	w, err := NewWriter(fs, "/unclean.bin", 64, blockio.Normal)
	if err != nil {
		t.Fatal(err)
	}
	if err := Serialize(w, "x", serializeString); err != nil {
		t.Fatal(err)
	}
	// Simulate a crash: never call w.Close(), so clean_close stays 0.

	_, err = NewReader(fs, "/unclean.bin", blockio.Normal)
	if err == nil {
		t.Fatalf("expected strict reader to reject an unclean stream")
	}
	if !IsFormatError(err) {
		t.Fatalf("expected FormatError, got %v (%T)", err, err)
	}

	r2, err := NewReader(fs, "/unclean.bin", blockio.Normal, WithAllowUnclean())
	if err != nil {
		t.Fatalf("lenient reader should succeed: %v", err)
	}
	_ = r2.Close()
}

func TestCorruptedHeaderMagicRejected(t *testing.T) {
	fs := afero.NewMemMapFs()
	w, err := NewWriter(fs, "/corrupt.bin", 64, blockio.Normal)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := fs.OpenFile("/corrupt.bin", os.O_RDWR, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteAt([]byte{0x00}, 0); err != nil {
		t.Fatal(err)
	}
	_ = f.Close()

	_, err = NewReader(fs, "/corrupt.bin", blockio.Normal)
	if err == nil || !IsFormatError(err) {
		t.Fatalf("expected FormatError for corrupted magic, got %v", err)
	}
}

func TestReadPastPayloadRaisesEndOfStream(t *testing.T) {
	fs := afero.NewMemMapFs()
	w, err := NewWriter(fs, "/short.bin", 64, blockio.Normal)
	if err != nil {
		t.Fatal(err)
	}
	if err := Serialize(w, "hi", serializeString); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := NewReader(fs, "/short.bin", blockio.Normal)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	var s string
	if err := Deserialize(r, &s, deserializeString); err != nil {
		t.Fatal(err)
	}
	if err := Deserialize(r, &s, deserializeString); err != ErrEndOfStream {
		t.Fatalf("expected ErrEndOfStream, got %v", err)
	}
}

func TestWriterSpansMultipleBlocks(t *testing.T) {
	fs := afero.NewMemMapFs()
	blockSize := 32
	w, err := NewWriter(fs, "/multi.bin", blockSize, blockio.Sequential)
	if err != nil {
		t.Fatal(err)
	}
	longStr := make([]byte, 200)
	for i := range longStr {
		longStr[i] = byte('a' + i%26)
	}
	if err := Serialize(w, string(longStr), serializeString); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if w.BlocksWritten() < 5 {
		t.Fatalf("expected several blocks written, got %d", w.BlocksWritten())
	}

	r, err := NewReader(fs, "/multi.bin", blockio.Sequential, WithBlockSize(blockSize))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	var got string
	if err := Deserialize(r, &got, deserializeString); err != nil {
		t.Fatal(err)
	}
	if got != string(longStr) {
		t.Fatalf("round trip mismatch across block boundary")
	}
}

func TestReadWriterAppendAfterReopen(t *testing.T) {
	fs := afero.NewMemMapFs()
	rw, err := OpenReadWrite(fs, "/rw.bin", true, true, 64, blockio.Normal)
	if err != nil {
		t.Fatal(err)
	}
	if err := SerializeRW(rw, "first", serializeString); err != nil {
		t.Fatal(err)
	}
	if err := rw.Close(); err != nil {
		t.Fatal(err)
	}

	rw2, err := OpenReadWrite(fs, "/rw.bin", false, true, 64, blockio.Normal)
	if err != nil {
		t.Fatal(err)
	}
	var got string
	if err := DeserializeRW(rw2, &got, deserializeString); err != nil {
		t.Fatal(err)
	}
	if got != "first" {
		t.Fatalf("got %q want first", got)
	}
	if err := SerializeRW(rw2, "second", serializeString); err != nil {
		t.Fatal(err)
	}
	if err := rw2.Close(); err != nil {
		t.Fatal(err)
	}

	rw3, err := OpenReadWrite(fs, "/rw.bin", false, true, 64, blockio.Normal)
	if err != nil {
		t.Fatal(err)
	}
	defer rw3.Close()
	var a, b string
	if err := DeserializeRW(rw3, &a, deserializeString); err != nil {
		t.Fatal(err)
	}
	if err := DeserializeRW(rw3, &b, deserializeString); err != nil {
		t.Fatal(err)
	}
	if a != "first" || b != "second" {
		t.Fatalf("got %q, %q", a, b)
	}
}
