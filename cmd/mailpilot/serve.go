package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xaenox/mail-pilot/internal/api"
	"github.com/xaenox/mail-pilot/internal/source"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start an HTTP server exposing the pipeline.

Endpoints:
  GET  /health         Health check
  POST /api/runs       Start a run
  GET  /api/status     Poll the current run
  GET  /api/results    Result of the last finished run
  GET  /api/runs       Recent runs
  GET  /api/runs/{id}  One stored run`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringP("addr", "a", "", "address to listen on (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	configPath, _ := cmd.Flags().GetString("config")
	a, err := loadApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.close()

	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = a.cfg.Server.Addr
	}

	opts := []api.Option{api.WithStorage(a.storage)}
	if a.cfg.Source.Path != "" {
		opts = append(opts, api.WithSource(source.NewFileSource(a.cfg.Source.Path), a.cfg.Lookback()))
	}
	return api.New(addr, a.pipeline, a.logger, opts...).ListenAndServe(ctx)
}
