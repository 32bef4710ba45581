// Package config loads linewatch settings from the environment, with
// an optional .env file for development.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Line is the bus line being monitored, e.g. "703".
	Line string

	PrimaryAccessID   string
	SecondaryAccessID string

	BaseURL  string
	Language string

	// DatabaseURL selects Postgres when set; otherwise storage is
	// SQLite at SQLitePath.
	DatabaseURL string
	SQLitePath  string

	OriginLat    float64
	OriginLon    float64
	SearchRadius int
	MaxStops     int

	Addr      string
	BackupDir string

	Location *time.Location
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Line:              os.Getenv("BUS_LINE"),
		PrimaryAccessID:   os.Getenv("PRIMARY_ACCESS_ID"),
		SecondaryAccessID: os.Getenv("SECONDARY_ACCESS_ID"),
		BaseURL:           os.Getenv("HAFAS_BASE_URL"),
		Language:          getenvDefault("LANG_CODE", "fr"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		SQLitePath:        getenvDefault("SQLITE_PATH", "./linewatch.db"),
		Addr:              getenvDefault("ADDR", ":3000"),
		BackupDir:         os.Getenv("BACKUP_DIR"),
	}

	if cfg.Line == "" {
		return nil, errors.New("BUS_LINE must be set")
	}
	if cfg.PrimaryAccessID == "" {
		return nil, errors.New("PRIMARY_ACCESS_ID must be set")
	}
	if cfg.SecondaryAccessID == "" {
		cfg.SecondaryAccessID = cfg.PrimaryAccessID
	}

	var err error
	cfg.OriginLat, err = getenvFloat("ORIGIN_LAT", 49.611621)
	if err != nil {
		return nil, err
	}
	cfg.OriginLon, err = getenvFloat("ORIGIN_LON", 6.131935)
	if err != nil {
		return nil, err
	}
	cfg.SearchRadius, err = getenvInt("SEARCH_RADIUS_M", 20000)
	if err != nil {
		return nil, err
	}
	cfg.MaxStops, err = getenvInt("MAX_STOPS", 1000)
	if err != nil {
		return nil, err
	}

	tz := getenvDefault("TZ_NAME", "Europe/Luxembourg")
	cfg.Location, err = time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid TZ_NAME %q: %w", tz, err)
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func getenvFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return f, nil
}
