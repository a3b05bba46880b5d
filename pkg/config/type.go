package config

type PortalAPIConfig struct {
	Email    string `toml:"email"`
	Password string `toml:"password"`
	// Optional. Discovered from the tanks page when empty.
	TankID              string `toml:"tank_id"`
	ListenAddress       string `toml:"listen_address"`
	ListenPort          int    `toml:"listen_port"`
	ScanIntervalMinutes int    `toml:"scan_interval_minutes"`
}

type TankCollectorConfig struct {
	PortalAPIHost string  `toml:"portal_api_host"`
	TLSEnabled    bool    `toml:"tls_enabled"`
	ListenAddress string  `toml:"listen_address"`
	ListenPort    int     `toml:"listen_port"`
	KWHPerLitre   float64 `toml:"kwh_per_litre"`
}
