package main

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/pingcap/errors"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/abigagli/tpie/pkg/blockio"
	"github.com/abigagli/tpie/pkg/extsort"
)

const (
	flagMemory  = "memory"
	flagBlock   = "block-size"
	flagTempDir = "temp-dir"
	flagOutput  = "output"
	flagReverse = "reverse"
)

func newSortCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sort [file]",
		Short: "sort the lines of a file (or stdin) using bounded memory",
		Args:  cobra.MaximumNArgs(1),
	}
	memAvail := byteSizeFlag(cmd.Flags(), flagMemory, "256MiB", "advisory memory ceiling for run formation and merge (default: config sort.memory-budget)")
	blockSize := byteSizeFlag(cmd.Flags(), flagBlock, "2MiB", "stream block size")
	cmd.Flags().String(flagTempDir, os.TempDir(), "root directory for temporary run files")
	cmd.Flags().StringP(flagOutput, "o", "", "write sorted output here instead of stdout")
	cmd.Flags().Bool(flagReverse, false, "sort in descending order")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		mem := memAvail.Int64()
		if !cmd.Flags().Changed(flagMemory) {
			mem = activeMemoryManager.AvailableBytes()
		}
		return runSort(cmd, args, mem, blockSize.Int64())
	}
	return cmd
}

func runSort(cmd *cobra.Command, args []string, memAvail, blockSize int64) error {
	tempDir, _ := cmd.Flags().GetString(flagTempDir)
	if !cmd.Flags().Changed(flagTempDir) && activeConfig.Sort.TempDir != "" {
		tempDir = activeConfig.Sort.TempDir
	}
	output, _ := cmd.Flags().GetString(flagOutput)
	reverse, _ := cmd.Flags().GetBool(flagReverse)

	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return errors.Trace(err)
		}
		defer f.Close()
		in = f
	}

	var out io.Writer = cmd.OutOrStdout()
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return errors.Trace(err)
		}
		defer f.Close()
		out = f
	}

	fs := afero.NewOsFs()
	svc := blockio.NewTempNameService(fs, tempDir)
	cmp := func(a, b string) bool { return a < b }
	if reverse {
		cmp = func(a, b string) bool { return a > b }
	}
	sorter := extsort.NewSorter[string](fs, svc, extsort.Options{
		MemAvail:  memAvail,
		BlockSize: int(blockSize),
	}, serializeLine, deserializeLine, cmp)

	if err := sorter.Begin(); err != nil {
		return errors.Trace(err)
	}
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if err := sorter.Push(scanner.Text()); err != nil {
			return errors.Trace(err)
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Trace(err)
	}
	if err := sorter.End(); err != nil {
		return errors.Trace(err)
	}
	defer sorter.Close()

	w := bufio.NewWriter(out)
	var line string
	for sorter.CanPull() {
		if err := sorter.Pull(&line); err != nil {
			return errors.Trace(err)
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return errors.Trace(err)
		}
	}
	return w.Flush()
}

func serializeLine(sink extsort.Sink, v string) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(v)))
	if err := sink.Write(lenBuf[:]); err != nil {
		return err
	}
	return sink.Write([]byte(v))
}

func deserializeLine(source extsort.Source, v *string) error {
	var lenBuf [4]byte
	if err := source.Read(lenBuf[:]); err != nil {
		return err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if n > 0 {
		if err := source.Read(buf); err != nil {
			return err
		}
	}
	*v = string(buf)
	return nil
}
