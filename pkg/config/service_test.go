package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/willbeeching/boilerjuice/pkg/oilunits"
)

func TestLoadPortalAPIConfigCreatesDefault(t *testing.T) {
	t.Setenv("BOILERJUICE_CONFIG_DIR", t.TempDir())

	require.NoError(t, LoadPortalAPIConfig())
	require.NotNil(t, ActivePortalAPIConfig)
	assert.Equal(t, 9041, ActivePortalAPIConfig.ListenPort)
	assert.Equal(t, 60, ActivePortalAPIConfig.ScanIntervalMinutes)
	assert.Empty(t, ActivePortalAPIConfig.TankID)

	// The default file lands on disk for the operator to fill in
	_, err := os.Stat(filepath.Join(os.Getenv("BOILERJUICE_CONFIG_DIR"), "portal_api.toml"))
	assert.NoError(t, err)
}

func TestLoadPortalAPIConfigReadsExisting(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("BOILERJUICE_CONFIG_DIR", dir)

	content := `email = "oil@example.com"
password = "hunter2"
tank_id = "48213"
listen_address = "127.0.0.1"
listen_port = 8080
scan_interval_minutes = 30
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "portal_api.toml"), []byte(content), 0644))

	require.NoError(t, LoadPortalAPIConfig())
	assert.Equal(t, "oil@example.com", ActivePortalAPIConfig.Email)
	assert.Equal(t, "48213", ActivePortalAPIConfig.TankID)
	assert.Equal(t, 8080, ActivePortalAPIConfig.ListenPort)
	assert.Equal(t, 30, ActivePortalAPIConfig.ScanIntervalMinutes)
}

func TestLoadPortalAPIConfigDefaultsBadInterval(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("BOILERJUICE_CONFIG_DIR", dir)

	content := `email = "oil@example.com"
scan_interval_minutes = 0
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "portal_api.toml"), []byte(content), 0644))

	require.NoError(t, LoadPortalAPIConfig())
	assert.Equal(t, 60, ActivePortalAPIConfig.ScanIntervalMinutes)
}

func TestLoadTankCollectorConfigCreatesDefault(t *testing.T) {
	t.Setenv("BOILERJUICE_CONFIG_DIR", t.TempDir())

	require.NoError(t, LoadTankCollectorConfig())
	require.NotNil(t, ActiveTankCollectorConfig)
	assert.Equal(t, "localhost:9041", ActiveTankCollectorConfig.PortalAPIHost)
	assert.Equal(t, 9042, ActiveTankCollectorConfig.ListenPort)
	assert.Equal(t, oilunits.DefaultKWHPerLitre, ActiveTankCollectorConfig.KWHPerLitre)
}

func TestLoadTankCollectorConfigDefaultsBadEnergyFactor(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("BOILERJUICE_CONFIG_DIR", dir)

	content := `portal_api_host = "portal:9041"
kwh_per_litre = -1.0
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tank_collector.toml"), []byte(content), 0644))

	require.NoError(t, LoadTankCollectorConfig())
	assert.Equal(t, "portal:9041", ActiveTankCollectorConfig.PortalAPIHost)
	assert.Equal(t, oilunits.DefaultKWHPerLitre, ActiveTankCollectorConfig.KWHPerLitre)
}
