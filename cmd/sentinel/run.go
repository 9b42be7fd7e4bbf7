package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var healthAddr string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sentinel pipeline: sample, detect, correlate, predict",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVar(&healthAddr, "health-addr", ":8080", "address for the GET /health and GET /sensor/{name} endpoints")
}

func runRun(cmd *cobra.Command, args []string) error {
	a, err := buildApp(configPath, dataDir, logger)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("signal received, shutting down")
		cancel()
	}()

	stop := make(chan struct{})
	go a.healthStore.SyncLoop(a.monitor, 30*time.Second, stop)

	if err := a.cfgMgr.Watch(stop); err != nil {
		logger.Warn("config watch not started", "error", err)
	}

	srv := &http.Server{Addr: healthAddr, Handler: a.healthSrv.Handler()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health server stopped", "error", err)
		}
	}()

	a.scheduler.Start(ctx)
	logger.Info("sentinel running", "config", configPath, "dataDir", dataDir, "health", healthAddr)

	<-ctx.Done()

	close(stop)
	a.scheduler.Stop(10 * time.Second)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	return nil
}
