package main

import (
	"encoding/binary"
	"fmt"
	"os"
	"strconv"

	"github.com/pingcap/errors"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/abigagli/tpie/pkg/blockio"
	"github.com/abigagli/tpie/pkg/dagflow"
	"github.com/abigagli/tpie/pkg/extsort"
)

func newPipelineDemoCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline-demo [numbers...]",
		Short: "run a two-phase source/sort/sink pipeline over the given integers",
		Args:  cobra.MinimumNArgs(1),
	}
	memAvail := byteSizeFlag(cmd.Flags(), flagMemory, "64MiB", "advisory memory budget for the whole plan (default: config sort.memory-budget)")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		mem := memAvail.Int64()
		if !cmd.Flags().Changed(flagMemory) {
			mem = activeMemoryManager.AvailableBytes()
		}
		return runPipelineDemo(cmd, args, mem)
	}
	return cmd
}

func runPipelineDemo(cmd *cobra.Command, args []string, memAvail int64) error {
	nums := make([]int, len(args))
	for i, a := range args {
		n, err := strconv.Atoi(a)
		if err != nil {
			return errors.Annotatef(err, "argument %q is not an integer", a)
		}
		nums[i] = n
	}

	fs := afero.NewMemMapFs()
	svc := blockio.NewTempNameService(fs, os.TempDir())
	sorter := extsort.NewSorter[int](fs, svc, extsort.Options{MemAvail: memAvail}, serializeInt, deserializeInt, func(a, b int) bool { return a < b })

	former, drain := dagflow.NewSortStage(sorter)
	sink := dagflow.NewCollectSink()
	_ = dagflow.NewPullPushInitiator(drain, sink)

	items := make([]any, len(nums))
	for i, n := range nums {
		items[i] = n
	}
	source := dagflow.NewSliceSource(items, former)

	plan := dagflow.PlanPhases(source)
	fmt.Fprintf(cmd.OutOrStdout(), "planned %d phases\n", len(plan.Phases))

	exec := dagflow.NewExecutor(memAvail)
	if err := exec.Run(plan); err != nil {
		return errors.Trace(err)
	}

	for _, v := range sink.Items {
		fmt.Fprintln(cmd.OutOrStdout(), v.(int))
	}
	return nil
}

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
