package extsort

import (
	"encoding/binary"
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/pingcap/errors"
	"github.com/spf13/afero"

	"github.com/abigagli/tpie/pkg/blockio"
)

func serializeInt(sink Sink, v int) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	return sink.Write(buf[:])
}

func deserializeInt(source Source, v *int) error {
	var buf [8]byte
	if err := source.Read(buf[:]); err != nil {
		return err
	}
	*v = int(binary.LittleEndian.Uint64(buf[:]))
	return nil
}

func lessInt(a, b int) bool { return a < b }

func newTestSorter(t *testing.T, memAvail int64) (*Sorter[int], afero.Fs) {
	fs := afero.NewMemMapFs()
	svc := blockio.NewTempNameService(fs, "/tmp")
	opts := Options{MemAvail: memAvail, MinItemSize: 8, BlockSize: 64}
	s := NewSorter[int](fs, svc, opts, serializeInt, deserializeInt, lessInt)
	return s, fs
}

func drain(t *testing.T, s *Sorter[int]) []int {
	var out []int
	for s.CanPull() {
		var v int
		if err := s.Pull(&v); err != nil {
			t.Fatalf("Pull: %v", err)
		}
		out = append(out, v)
	}
	return out
}

func TestSorterEmptyInput(t *testing.T) {
	s, _ := newTestSorter(t, 4096)
	defer s.Close()
	if err := s.Begin(); err != nil {
		t.Fatal(err)
	}
	if err := s.End(); err != nil {
		t.Fatal(err)
	}
	if s.CanPull() {
		t.Fatalf("expected CanPull()==false for empty input")
	}
	if got := s.TempBytesInUse(); got != 0 {
		t.Fatalf("expected 0 temp bytes for empty input, got %d", got)
	}
}

func TestSorterSingleRunNoMerge(t *testing.T) {
	s, _ := newTestSorter(t, 1<<20)
	defer s.Close()
	if err := s.Begin(); err != nil {
		t.Fatal(err)
	}
	input := []int{5, 3, 1, 4, 2}
	for _, v := range input {
		if err := s.Push(v); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.End(); err != nil {
		t.Fatal(err)
	}
	got := drain(t, s)
	want := []int{1, 2, 3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

// TestSorterMultiRunMerge forces a tiny memory budget so several runs are
// formed and at least one merge pass is required.
func TestSorterMultiRunMerge(t *testing.T) {
	s, _ := newTestSorter(t, 256)
	defer s.Close()
	if err := s.Begin(); err != nil {
		t.Fatal(err)
	}
	n := 200
	input := make([]int, n)
	for i := range input {
		input[i] = (i * 37) % n
	}
	for _, v := range input {
		if err := s.Push(v); err != nil {
			t.Fatalf("Push(%d): %v", v, err)
		}
	}
	if err := s.End(); err != nil {
		t.Fatal(err)
	}
	got := drain(t, s)
	if len(got) != n {
		t.Fatalf("got %d items, want %d", len(got), n)
	}
	if !sort.IntsAreSorted(got) {
		t.Fatalf("output not sorted: %v", got)
	}
	wantSum, gotSum := 0, 0
	for _, v := range input {
		wantSum += v
	}
	for _, v := range got {
		gotSum += v
	}
	if wantSum != gotSum {
		t.Fatalf("output is not a permutation of the input: sum mismatch")
	}
}

func TestSorterTempSpaceReturnsToZeroAfterClose(t *testing.T) {
	s, fs := newTestSorter(t, 256)
	if err := s.Begin(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 100; i++ {
		if err := s.Push(i); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.End(); err != nil {
		t.Fatal(err)
	}
	if s.TempBytesInUse() == 0 {
		t.Fatalf("expected nonzero temp bytes in use before close")
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if got := s.TempBytesInUse(); got != 0 {
		t.Fatalf("expected 0 temp bytes after Close, got %d", got)
	}
	entries, err := afero.ReadDir(fs, "/tmp")
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.IsDir() {
			left, err := afero.ReadDir(fs, "/tmp/"+e.Name())
			if err == nil && len(left) != 0 {
				t.Fatalf("expected sorter's temp dir to be empty after Close")
			}
		}
	}
}

// TestSorterCanPullStaysLegalAfterLastItem guards the canonical
// "for CanPull() { Pull() }" drain idiom: CanPull must remain callable (and
// keep returning false) after the last item has been pulled, instead of
// panicking on the very call that would end the loop.
func TestSorterCanPullStaysLegalAfterLastItem(t *testing.T) {
	s, _ := newTestSorter(t, 1<<20)
	defer s.Close()
	if err := s.Begin(); err != nil {
		t.Fatal(err)
	}
	if err := s.Push(1); err != nil {
		t.Fatal(err)
	}
	if err := s.End(); err != nil {
		t.Fatal(err)
	}

	if !s.CanPull() {
		t.Fatalf("expected CanPull()==true before the only item is pulled")
	}
	var v int
	if err := s.Pull(&v); err != nil {
		t.Fatal(err)
	}
	if v != 1 {
		t.Fatalf("got %d, want 1", v)
	}

	if s.CanPull() {
		t.Fatalf("expected CanPull()==false once the sole item has been pulled")
	}
	if s.CanPull() {
		t.Fatalf("expected CanPull() to keep returning false on repeated calls")
	}
}

// TestSorterRandomizedAcrossMemoryBudgets drives a handful of memory
// budgets, all but the largest small enough to force multiple runs, through
// a pseudo-random input, checking the output is sorted and a permutation of
// the input regardless of how many runs or merge batches that budget
// produces. The smallest budgets still leave a merge fanout of 2.
func TestSorterRandomizedAcrossMemoryBudgets(t *testing.T) {
	budgets := []int64{208, 224, 256, 512, 4096}
	for _, budget := range budgets {
		budget := budget
		t.Run("", func(t *testing.T) {
			rng := rand.New(rand.NewPCG(uint64(budget), 0xC0FFEE))
			n := 150
			input := make([]int, n)
			for i := range input {
				input[i] = rng.IntN(10_000)
			}

			s, _ := newTestSorter(t, budget)
			defer s.Close()
			if err := s.Begin(); err != nil {
				t.Fatal(err)
			}
			for _, v := range input {
				if err := s.Push(v); err != nil {
					t.Fatalf("Push(%d) at budget %d: %v", v, budget, err)
				}
			}
			if err := s.End(); err != nil {
				t.Fatal(err)
			}
			got := drain(t, s)
			if len(got) != n {
				t.Fatalf("budget %d: got %d items, want %d", budget, len(got), n)
			}
			if !sort.IntsAreSorted(got) {
				t.Fatalf("budget %d: output not sorted: %v", budget, got)
			}
			want := append([]int(nil), input...)
			sort.Ints(want)
			for i := range want {
				if got[i] != want[i] {
					t.Fatalf("budget %d: got %v want %v", budget, got, want)
				}
			}
		})
	}
}

func TestSorterPushBeforeBeginPanics(t *testing.T) {
	s, _ := newTestSorter(t, 4096)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected precondition panic")
		}
	}()
	_ = s.Push(1)
}

// TestSorterPushItemTooLargeAfterRetry forces a run buffer smaller than a
// single serialized item: the first push fails to fit, the retry after the
// resulting endRun still can't fit it in the freshly emptied buffer, so
// Push must surface ErrItemTooLarge (spec section 7: item_too_large on the
// very first item).
func TestSorterPushItemTooLargeAfterRetry(t *testing.T) {
	// BlockSize 64, MinItemSize 8 match newTestSorter; memAvail 79 sizes
	// the run buffer to 7 bytes, one short of the 8 bytes serializeInt
	// always writes.
	s, _ := newTestSorter(t, 79)
	defer s.Close()
	if err := s.Begin(); err != nil {
		t.Fatal(err)
	}
	err := s.Push(1)
	if err == nil {
		t.Fatalf("expected ErrItemTooLarge, got nil")
	}
	if errors.Cause(err) != ErrItemTooLarge {
		t.Fatalf("got %v, want ErrItemTooLarge", err)
	}
}

// TestSorterEndNotEnoughMemoryForMerge forces several runs to form with a
// memory budget whose merge fanout computes below 2, so End must surface
// ErrNotEnoughMemoryForMerge instead of attempting the merge (spec section
// 7: not_enough_memory_for_merge).
func TestSorterEndNotEnoughMemoryForMerge(t *testing.T) {
	fs := afero.NewMemMapFs()
	svc := blockio.NewTempNameService(fs, "/tmp")
	opts := Options{MemAvail: 600, MinItemSize: 8, BlockSize: 512}
	s := NewSorter[int](fs, svc, opts, serializeInt, deserializeInt, lessInt)
	defer s.Close()
	if err := s.Begin(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 12; i++ {
		if err := s.Push(i); err != nil {
			t.Fatalf("Push(%d): %v", i, err)
		}
	}
	err := s.End()
	if err == nil {
		t.Fatalf("expected ErrNotEnoughMemoryForMerge, got nil")
	}
	if errors.Cause(err) != ErrNotEnoughMemoryForMerge {
		t.Fatalf("got %v, want ErrNotEnoughMemoryForMerge", err)
	}
}
