package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"linewatch.dev/linewatch"
	"linewatch.dev/linewatch/backup"
	"linewatch.dev/linewatch/config"
	"linewatch.dev/linewatch/hafas"
	"linewatch.dev/linewatch/metrics"
	"linewatch.dev/linewatch/storage"
)

var rootCmd = &cobra.Command{
	Use:          "linewatch",
	Short:        "Bus line delay monitor",
	Long:         "Discovers the stops a bus line serves and records its delays",
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// app bundles everything the commands wire up from config.
type app struct {
	cfg       *config.Config
	storage   storage.Storage
	quota     *hafas.Quota
	client    *hafas.Client
	ingestor  *linewatch.Ingestor
	discovery *linewatch.Discovery
	collector *metrics.Collector
}

func buildApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	var store storage.Storage
	if cfg.DatabaseURL != "" {
		store, err = storage.NewPSQLStorage(cfg.DatabaseURL, false)
	} else {
		store, err = storage.NewSQLiteStorage(storage.SQLiteConfig{
			OnDisk: true,
			Path:   cfg.SQLitePath,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	collector := metrics.NewCollector()

	quota := hafas.NewQuota(cfg.PrimaryAccessID, cfg.SecondaryAccessID)
	quota.OnRotate = func() { collector.KeyRotations.Inc() }

	client := hafas.NewClient(quota)
	client.Metrics = collector
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}
	client.Language = cfg.Language
	if cfg.BackupDir != "" {
		client.Backup = backup.NewWriter(cfg.BackupDir)
	}

	ingestor := linewatch.NewIngestor(client, store, cfg.Line)
	ingestor.Location = cfg.Location

	discovery := linewatch.NewDiscovery(client, ingestor, store, quota)
	discovery.OriginLat = cfg.OriginLat
	discovery.OriginLon = cfg.OriginLon
	discovery.RadiusM = cfg.SearchRadius
	discovery.MaxResults = cfg.MaxStops

	return &app{
		cfg:       cfg,
		storage:   store,
		quota:     quota,
		client:    client,
		ingestor:  ingestor,
		discovery: discovery,
		collector: collector,
	}, nil
}

func (a *app) Close() {
	if err := a.storage.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "closing storage: %v\n", err)
	}
}
