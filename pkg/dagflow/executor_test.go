package dagflow

import (
	"encoding/binary"
	"sort"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/abigagli/tpie/pkg/blockio"
	"github.com/abigagli/tpie/pkg/extsort"
)

func serializeInt(sink extsort.Sink, v int) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	return sink.Write(buf[:])
}

func deserializeInt(source extsort.Source, v *int) error {
	var buf [8]byte
	if err := source.Read(buf[:]); err != nil {
		return err
	}
	*v = int(binary.LittleEndian.Uint64(buf[:]))
	return nil
}

// TestSortPipelineEndToEnd wires a SliceSource through a sort operator
// into a CollectSink across two phases and runs the whole plan through an
// Executor, exercising the planner and executor together end to end.
func TestSortPipelineEndToEnd(t *testing.T) {
	fs := afero.NewMemMapFs()
	svc := blockio.NewTempNameService(fs, "/tmp")
	sorter := extsort.NewSorter[int](fs, svc, extsort.Options{
		MemAvail:   1 << 20,
		BlockSize:  64,
		MinItemSize: 8,
	}, serializeInt, deserializeInt, func(a, b int) bool { return a < b })

	former, drain := NewSortStage(sorter)

	sink := NewCollectSink()
	initiator := NewPullPushInitiator(drain, sink)
	_ = initiator

	input := []int{9, 4, 7, 1, 8, 2, 6, 3, 5, 0}
	items := make([]any, len(input))
	for i, v := range input {
		items[i] = v
	}
	source := NewSliceSource(items, former)

	plan := PlanPhases(source)
	require.Len(t, plan.Phases, 2)
	require.False(t, plan.Phases[0].EvacuatePrevious)
	require.False(t, plan.Phases[1].EvacuatePrevious, "second phase depends directly on the first")

	exec := NewExecutor(1 << 20)
	exec.Progress = NullProgress{}
	require.NoError(t, exec.Run(plan))

	got := make([]int, len(sink.Items))
	for i, v := range sink.Items {
		got[i] = v.(int)
	}
	want := append([]int(nil), input...)
	sort.Ints(want)
	require.Equal(t, want, got)
}

func TestExecutorMemoryAssignmentFavorsMinimums(t *testing.T) {
	a := newTestNode()
	a.SetMinMemory(900)
	a.SetMemoryFraction(1)
	b := newTestNode()
	b.SetMinMemory(10)
	b.SetMemoryFraction(1)
	a.Token().Union(b.Token())
	PushTo(a, b)

	plan := PlanPhases(a)
	require.Len(t, plan.Phases, 1)
	assignMemory(plan.Phases[0], 1000, zap.NewNop())

	require.GreaterOrEqual(t, a.AssignedMemory(), a.MinMemory())
	require.GreaterOrEqual(t, b.AssignedMemory(), b.MinMemory())
	require.Equal(t, int64(1000), a.AssignedMemory()+b.AssignedMemory())
}

func (n *testNode) Push(v any) error { return nil }

func (n *testNode) TypeName() string { return "testNode" }
