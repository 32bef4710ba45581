package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"linewatch.dev/linewatch"
	"linewatch.dev/linewatch/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the monitor and its HTTP API",
	RunE:  serve,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// First run on an empty database: discover the line's stops
	// before polling starts.
	count, err := a.storage.CountStops()
	if err != nil {
		return err
	}
	if count == 0 {
		log.Printf("no stops known, running discovery for line %s", a.cfg.Line)
		res, err := a.discovery.Run(ctx)
		if err != nil {
			return err
		}
		log.Printf("discovery found %d stops (%d failed)", res.Discovered, res.Failed)
	}

	poller := linewatch.NewPoller(a.ingestor, a.storage, a.quota, a.cfg.Line)
	poller.Location = a.cfg.Location
	poller.Metrics = a.collector
	if err := poller.Start(ctx); err != nil {
		return err
	}
	defer poller.Stop()
	a.discovery.OnConfirmed = poller.Register

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.collector.QuotaRequests.Set(float64(a.quota.Requests()))
				a.collector.MonitoredStops.Set(float64(len(poller.Monitored())))
			case <-ctx.Done():
				return
			}
		}
	}()

	r := mux.NewRouter()
	h := server.NewHandler(a.storage, a.cfg.Line)
	h.Discovery = a.discovery
	h.Metrics = a.collector.Handler()
	h.RegisterRoutes(r)

	srv := &http.Server{
		Addr:         a.cfg.Addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("listening on %s", a.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
