// Portal API is responsible for scraping the BoilerJuice portal and
// broadcasting tank readings.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/willbeeching/boilerjuice/pkg/config"
	"github.com/willbeeching/boilerjuice/pkg/scraper"
	"github.com/willbeeching/boilerjuice/pkg/types"
)

var portalClient *scraper.Client

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

// ws clients for broadcasting fresh readings
var (
	wsClients      = make(map[*websocket.Conn]bool)
	wsClientsMutex = sync.RWMutex{}
)

func main() {
	// Load config
	if err := config.LoadPortalAPIConfig(); err != nil {
		logrus.WithError(err).Fatal("Failed to load portal API config")
	}
	cfg := config.ActivePortalAPIConfig

	portalClient = scraper.NewClient(cfg.Email, cfg.Password, cfg.TankID)

	// Poll the portal and broadcast each fresh reading
	portalClient.StartPolling(
		time.Duration(cfg.ScanIntervalMinutes)*time.Minute,
		func(reading *types.TankReading) {
			BroadcastToWebSockets(reading)
		},
		func(err error) {
			if err != nil {
				logrus.WithError(err).Fatal("Error polling BoilerJuice portal")
			}
		},
	)

	// Setup HTTP handlers
	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		response := map[string]string{
			"message": "BoilerJuice Portal API",
			"status":  "running",
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	})

	http.HandleFunc("/latest", func(w http.ResponseWriter, r *http.Request) {
		reading := portalClient.GetLatestReading()
		w.Header().Set("Content-Type", "application/json")
		if reading == nil {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{
				"error": "No readings available yet",
			})
			return
		}

		json.NewEncoder(w).Encode(reading)
	})

	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logrus.WithError(err).Warn("WebSocket upgrade error")
			return
		}

		AddWebSocketClient(conn)

		// Send current reading immediately if available
		if reading := portalClient.GetLatestReading(); reading != nil {
			conn.WriteMessage(websocket.TextMessage, reading.ToJsonBytes())
		}

		// Keep connection alive
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				RemoveWebSocketClient(conn)
				break
			}
		}
	})

	// May be fast or slow depending on the cached price read.
	http.HandleFunc("/price", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		price, err := portalClient.FetchOilPrice()
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{
				"error": err.Error(),
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]float64{
			"pencePerLitre": price,
		})
	})

	listener := fmt.Sprintf("%s:%d", cfg.ListenAddress, cfg.ListenPort)

	logrus.Infof("Starting BoilerJuice Portal API on %s", listener)
	logrus.Fatal(http.ListenAndServe(listener, nil))
}

func BroadcastToWebSockets(reading *types.TankReading) {
	wsClientsMutex.RLock()
	clients := make([]*websocket.Conn, 0, len(wsClients))
	for client := range wsClients {
		clients = append(clients, client)
	}
	wsClientsMutex.RUnlock()

	for _, client := range clients {
		if err := client.WriteMessage(websocket.TextMessage, reading.ToJsonBytes()); err != nil {
			RemoveWebSocketClient(client)
		}
	}
}

func AddWebSocketClient(conn *websocket.Conn) {
	wsClientsMutex.Lock()
	wsClients[conn] = true
	wsClientsMutex.Unlock()
}

func RemoveWebSocketClient(conn *websocket.Conn) {
	wsClientsMutex.Lock()
	delete(wsClients, conn)
	wsClientsMutex.Unlock()
	conn.Close()
}
