package pathing

import (
	"log"
	"os"
	"path/filepath"
)

// EnsureDataDir creates the data directory if it does not exist yet.
// Called by anything about to write under it.
func EnsureDataDir() error {
	dir := GetDataDir()
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Printf("Warning: could not create data dir %s: %v", dir, err)
			return err
		}
	}
	return nil
}

func GetTankDbPath() string {
	// Join path
	return filepath.Join(GetDataDir(), "bj-tank.db")
}

// BOILERJUICE_DATA_DIR overrides the default, mainly for tests.
func GetDataDir() string {
	if dir := os.Getenv("BOILERJUICE_DATA_DIR"); dir != "" {
		return dir
	}
	return "/var/lib/boilerjuice"
}

func GetConfigDir() string {
	if dir := os.Getenv("BOILERJUICE_CONFIG_DIR"); dir != "" {
		return dir
	}
	return "/etc/boilerjuice"
}
