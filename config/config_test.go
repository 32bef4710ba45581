package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("BUS_LINE", "703")
	t.Setenv("PRIMARY_ACCESS_ID", "key-a")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "703", cfg.Line)
	assert.Equal(t, "key-a", cfg.PrimaryAccessID)
	// No secondary configured: rotation is a no-op.
	assert.Equal(t, "key-a", cfg.SecondaryAccessID)
	assert.Equal(t, ":3000", cfg.Addr)
	assert.Equal(t, "./linewatch.db", cfg.SQLitePath)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Equal(t, 20000, cfg.SearchRadius)
	assert.Equal(t, 1000, cfg.MaxStops)
	assert.Equal(t, "Europe/Luxembourg", cfg.Location.String())
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("SECONDARY_ACCESS_ID", "key-b")
	t.Setenv("DATABASE_URL", "postgres://localhost/linewatch")
	t.Setenv("ADDR", ":8080")
	t.Setenv("ORIGIN_LAT", "48.8566")
	t.Setenv("ORIGIN_LON", "2.3522")
	t.Setenv("SEARCH_RADIUS_M", "5000")
	t.Setenv("TZ_NAME", "Europe/Paris")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "key-b", cfg.SecondaryAccessID)
	assert.Equal(t, "postgres://localhost/linewatch", cfg.DatabaseURL)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.InDelta(t, 48.8566, cfg.OriginLat, 0.0001)
	assert.Equal(t, 5000, cfg.SearchRadius)
	assert.Equal(t, "Europe/Paris", cfg.Location.String())
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("BUS_LINE", "")
	t.Setenv("PRIMARY_ACCESS_ID", "key-a")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BUS_LINE")

	t.Setenv("BUS_LINE", "703")
	t.Setenv("PRIMARY_ACCESS_ID", "")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PRIMARY_ACCESS_ID")
}

func TestLoadRejectsGarbage(t *testing.T) {
	setRequired(t)

	t.Setenv("SEARCH_RADIUS_M", "twenty")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SEARCH_RADIUS_M")

	t.Setenv("SEARCH_RADIUS_M", "")
	t.Setenv("ORIGIN_LAT", "north")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ORIGIN_LAT")

	t.Setenv("ORIGIN_LAT", "")
	t.Setenv("TZ_NAME", "Mars/Olympus")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TZ_NAME")
}
