package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/willbeeching/boilerjuice/pkg/oilunits"
	"github.com/willbeeching/boilerjuice/pkg/pathing"
)

var (
	ActivePortalAPIConfig     *PortalAPIConfig
	ActiveTankCollectorConfig *TankCollectorConfig
)

func LoadPortalAPIConfig() error {
	configPath := filepath.Join(pathing.GetConfigDir(), "portal_api.toml")

	// Create default if not exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := &PortalAPIConfig{
			Email:               "",
			Password:            "",
			TankID:              "", // auto-discovered when empty
			ListenAddress:       "0.0.0.0",
			ListenPort:          9041,
			ScanIntervalMinutes: 60,
		}
		// Create file
		cfgFile, err := os.Create(configPath)
		if err != nil {
			return err
		}
		defer cfgFile.Close()
		toml.NewEncoder(cfgFile).Encode(cfg)
		ActivePortalAPIConfig = cfg
		return nil
	}

	// Load existing config
	var config PortalAPIConfig
	_, err := toml.DecodeFile(configPath, &config)
	if err != nil {
		return err
	}
	if config.ScanIntervalMinutes <= 0 {
		config.ScanIntervalMinutes = 60
	}
	ActivePortalAPIConfig = &config
	return nil
}

func LoadTankCollectorConfig() error {
	configPath := filepath.Join(pathing.GetConfigDir(), "tank_collector.toml")

	// Create default if not exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := &TankCollectorConfig{
			PortalAPIHost: "localhost:9041",
			TLSEnabled:    false,
			ListenAddress: "0.0.0.0",
			ListenPort:    9042,
			KWHPerLitre:   oilunits.DefaultKWHPerLitre,
		}
		// Create file
		cfgFile, err := os.Create(configPath)
		if err != nil {
			return err
		}
		defer cfgFile.Close()
		toml.NewEncoder(cfgFile).Encode(cfg)
		ActiveTankCollectorConfig = cfg
		return nil
	}

	// Load existing config
	var config TankCollectorConfig
	_, err := toml.DecodeFile(configPath, &config)
	if err != nil {
		return err
	}
	if config.KWHPerLitre <= 0 {
		config.KWHPerLitre = oilunits.DefaultKWHPerLitre
	}
	ActiveTankCollectorConfig = &config
	return nil
}
