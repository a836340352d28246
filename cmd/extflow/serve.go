package main

import (
	"net/http"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const flagAddr = "addr"

func newServeMetricsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve-metrics",
		Short: "expose Prometheus metrics over HTTP until interrupted",
		RunE:  runServeMetrics,
	}
	cmd.Flags().String(flagAddr, ":9680", "listen address for the /metrics endpoint")
	return cmd
}

func runServeMetrics(cmd *cobra.Command, _ []string) error {
	addr, _ := cmd.Flags().GetString(flagAddr)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	log.Info("serving metrics", zap.String("addr", addr))
	srv := &http.Server{Addr: addr, Handler: mux}

	ctx := cmd.Context()
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Trace(err)
	}
	return nil
}
