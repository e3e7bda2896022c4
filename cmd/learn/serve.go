package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Integrum-Global/kailash-learn/internal/mcptools"
	"github.com/Integrum-Global/kailash-learn/internal/pipeline"
)

// snapshotInterval is how often serve refreshes the store gauges.
const snapshotInterval = 30 * time.Second

var serveMetricsAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server on stdio",
	Long: `Serve the learn tools over the Model Context Protocol on stdin/stdout:

  learn_record, learn_process, learn_evolve, learn_stats, learn_search,
  learn_checkpoint_create, learn_checkpoint_list, learn_checkpoint_restore

With --metrics-addr, /metrics is also served over HTTP. The server exits when
stdin closes or on SIGINT/SIGTERM. Logs go to stderr.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics-addr", "", "Serve /metrics on this address (e.g. :9464)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	addr := cfg.Serve.MetricsAddr
	if cmd.Flags().Changed("metrics-addr") {
		addr = serveMetricsAddr
	}

	recorder = recorder.WithProcessCollectors()
	p, err := openPipeline(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		s := server.NewStdioServer(mcptools.NewServer(p, mcptools.ServerOptions{
			Version:       version,
			MinConfidence: cfg.Process.MinConfidence,
		}))
		s.SetErrorLogger(zap.NewStdLog(logger.Named("mcp")))
		logger.Info("serving mcp on stdio", zap.String("root", p.Root()))
		err := s.Listen(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if addr != "" {
		g.Go(func() error { return serveMetrics(ctx, p, addr) })
	}
	return g.Wait()
}

// serveMetrics exposes the pipeline registry on addr until ctx is done,
// refreshing the store gauges periodically.
func serveMetrics(ctx context.Context, p *pipeline.Pipeline, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(p.Metrics().Registry(), promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(snapshotInterval)
		defer ticker.Stop()
		for {
			if _, err := p.Snapshot(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("store snapshot failed", zap.Error(err))
			}
			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			case <-ticker.C:
			}
		}
	})
	return g.Wait()
}
