// Responsible for tracking consumption from the readings collected by the
// portal API, persisting state and serving the derived metrics.
// Depends on the portal API being online.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/willbeeching/boilerjuice/pkg/config"
	"github.com/willbeeching/boilerjuice/pkg/consumption"
	"github.com/willbeeching/boilerjuice/pkg/portal"
	"github.com/willbeeching/boilerjuice/pkg/tankdb"
	"github.com/willbeeching/boilerjuice/pkg/types"
)

var (
	registry *consumption.Registry

	// Latest published metrics and reading per tank
	latestMutex    sync.RWMutex
	latestMetrics  = make(map[string]types.DerivedMetrics)
	latestReadings = make(map[string]*types.TankReading)
)

func main() {
	// Load config
	if err := config.LoadTankCollectorConfig(); err != nil {
		logrus.WithError(err).Fatal("Failed to load tank collector config")
	}
	cfg := config.ActiveTankCollectorConfig

	// Initialize database before anything can ingest
	tankdb.InitializeDatabase()

	registry = consumption.NewRegistry(tankdb.StateStore{}, cfg.KWHPerLitre)

	// Subscribe to the portal feed with reconnect
	go portal.StartListener(cfg.PortalAPIHost, cfg.TLSEnabled, handleTankReading)

	// Setup HTTP handlers
	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		response := map[string]string{
			"message": "BoilerJuice Tank Collector",
			"status":  "running",
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	})

	http.HandleFunc("/metrics", handleMetrics)
	http.HandleFunc("/reset", handleReset)
	http.HandleFunc("/consumption", handleSetConsumption)
	http.HandleFunc("/reference", handleForceReference)

	listener := fmt.Sprintf("%s:%d", cfg.ListenAddress, cfg.ListenPort)

	logrus.Infof("Starting BoilerJuice Tank Collector on %s", listener)
	logrus.Fatal(http.ListenAndServe(listener, nil))
}

// handleTankReading runs once per received reading. The portal feed
// delivers readings sequentially, so ingestion per tank is serialized.
func handleTankReading(reading *types.TankReading) {
	tracker := registry.Tracker(reading.TankID)
	metrics := tracker.Ingest(reading, time.Now())

	latestMutex.Lock()
	latestMetrics[metrics.TankID] = metrics
	latestReadings[metrics.TankID] = reading
	latestMutex.Unlock()

	logrus.WithFields(logrus.Fields{
		"tank_id":      metrics.TankID,
		"total_litres": metrics.TotalConsumedLitres,
		"daily_litres": metrics.DailyRateLitresPerDay,
	}).Info("Ingested tank reading")
}

func handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	latestMutex.RLock()
	defer latestMutex.RUnlock()

	if tankID := r.URL.Query().Get("tank_id"); tankID != "" {
		metrics, ok := latestMetrics[tankID]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{
				"error": "No metrics for tank " + tankID,
			})
			return
		}
		json.NewEncoder(w).Encode(metrics)
		return
	}

	json.NewEncoder(w).Encode(latestMetrics)
}

func requestTankID(r *http.Request) string {
	if tankID := r.URL.Query().Get("tank_id"); tankID != "" {
		return tankID
	}
	return consumption.DefaultTankKey
}

func handleReset(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	tankID := requestTankID(r)
	registry.Tracker(tankID).Reset()
	logrus.WithField("tank_id", tankID).Info("Consumption reset requested")
	json.NewEncoder(w).Encode(map[string]string{"status": "reset"})
}

type setConsumptionRequest struct {
	TotalLitres float64  `json:"total_litres"`
	DailyLitres *float64 `json:"daily_litres,omitempty"`
}

func handleSetConsumption(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req setConsumptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid request body"})
		return
	}

	// The tracker assumes values are validated non-negative here at the
	// boundary.
	if req.TotalLitres < 0 || (req.DailyLitres != nil && *req.DailyLitres < 0) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "consumption values must be non-negative"})
		return
	}

	tankID := requestTankID(r)
	registry.Tracker(tankID).SetConsumption(req.TotalLitres, req.DailyLitres, time.Now())
	json.NewEncoder(w).Encode(map[string]string{"status": "updated"})
}

func handleForceReference(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	tankID := requestTankID(r)

	latestMutex.RLock()
	reading := latestReadings[tankID]
	latestMutex.RUnlock()

	if reading == nil {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "no reading seen yet for tank " + tankID,
		})
		return
	}

	registry.Tracker(tankID).ForceReference(reading, time.Now())
	json.NewEncoder(w).Encode(map[string]string{"status": "reference set"})
}
