package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/abigagli/tpie/internal/config"
	"github.com/abigagli/tpie/internal/logutil"
)

const (
	flagLogLevel  = "log-level"
	flagLogFile   = "log-file"
	flagLogFormat = "log-format"
	flagConfig    = "config"
)

// activeConfig and activeMemoryManager are populated by loadConfig in
// PersistentPreRunE, before any subcommand's RunE runs. Subcommands consult
// activeMemoryManager for the memory budget to hand the sorter whenever the
// operator didn't pass an explicit --memory flag of their own.
var (
	activeConfig        = config.Default()
	activeMemoryManager config.MemoryManager = config.DefaultMemoryManager
)

func main() {
	gCtx := context.Background()
	ctx, cancel := context.WithCancel(gCtx)
	defer cancel()

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		sig := <-sc
		fmt.Fprintf(os.Stderr, "\ngot signal [%v] to exit\n", sig)
		cancel()
		<-sc
		os.Exit(1)
	}()

	rootCmd := &cobra.Command{
		Use:          "extflow",
		Short:        "extflow runs out-of-core sorts and pipelined dataflows.",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String(flagLogLevel, "info", "set the log level")
	rootCmd.PersistentFlags().String(flagLogFile, "", "log to this file instead of stderr")
	rootCmd.PersistentFlags().String(flagLogFormat, "text", "set the log format (text or json)")
	rootCmd.PersistentFlags().String(flagConfig, "", "path to a TOML configuration file")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if err := initLogger(cmd); err != nil {
			return err
		}
		return loadConfig(cmd)
	}

	rootCmd.AddCommand(
		newSortCommand(),
		newPipelineDemoCommand(),
		newServeMetricsCommand(),
	)
	rootCmd.SetOut(os.Stdout)
	rootCmd.SetArgs(os.Args[1:])

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error("extflow failed", zap.Error(err))
		os.Exit(1)
	}
}

func initLogger(cmd *cobra.Command) error {
	level, _ := cmd.Flags().GetString(flagLogLevel)
	format, _ := cmd.Flags().GetString(flagLogFormat)
	file, _ := cmd.Flags().GetString(flagLogFile)

	var fileCfg logutil.FileLogConfig
	if file != "" {
		fileCfg = logutil.NewFileLogConfig(file, 0)
	}
	return logutil.InitLogger(logutil.NewConfig(level, format, fileCfg))
}

// loadConfig reads --config (if given) into activeConfig and rebuilds
// activeMemoryManager from its sort.memory-budget, so every subcommand sees
// a consistent process-wide default even when invoked without --memory.
func loadConfig(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString(flagConfig)
	cfg, err := config.Load(path)
	if err != nil {
		return errors.Trace(err)
	}
	budget, err := cfg.Sort.MemoryBudgetBytes()
	if err != nil {
		return errors.Trace(err)
	}
	activeConfig = cfg
	activeMemoryManager = config.NewStaticMemoryManager(budget)
	return nil
}
