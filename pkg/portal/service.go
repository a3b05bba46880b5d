// Package portal subscribes to the portal API's websocket feed of tank
// readings.
package portal

import (
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/willbeeching/boilerjuice/pkg/types"
)

// Manage the websocket connection and call handleReading for each reading
func StartListener(host string, tlsEnabled bool, handleReading func(reading *types.TankReading)) {
	const (
		maxRetries     = 10
		baseRetryDelay = 2 * time.Second
		maxRetryDelay  = 60 * time.Second
	)

	scheme := "ws"
	if tlsEnabled {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: host, Path: "/ws"}

	// Channel to handle interrupt signal
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	retryCount := 0

	for {
		select {
		case <-interrupt:
			logrus.Info("Interrupt received, shutting down listener")
			return
		default:
			// Exponential backoff between attempts
			retryDelay := time.Duration(1<<retryCount) * baseRetryDelay
			if retryDelay > maxRetryDelay {
				retryDelay = maxRetryDelay
			}

			if retryCount > 0 {
				logrus.Infof("Retrying connection in %v... (attempt %d/%d)", retryDelay, retryCount+1, maxRetries)
				select {
				case <-time.After(retryDelay):
				case <-interrupt:
					logrus.Info("Interrupt received during retry wait, shutting down listener")
					return
				}
			}

			logrus.Infof("Connecting to %s", u.String())

			dialer := websocket.DefaultDialer
			dialer.HandshakeTimeout = 10 * time.Second
			c, _, err := dialer.Dial(u.String(), nil)
			if err != nil {
				logrus.WithError(err).Warn("Connection failed")
				retryCount++
				if retryCount >= maxRetries {
					logrus.Errorf("Max retries (%d) reached. Giving up.", maxRetries)
					return
				}
				continue
			}

			logrus.Info("Connected, accepting tank readings")

			// Reset retry count on successful connection
			retryCount = 0

			connectionBroken := handleConnection(c, interrupt, handleReading)

			c.Close()

			if !connectionBroken {
				// Clean shutdown requested
				return
			}

			logrus.Warn("Connection lost, will retry")
		}
	}
}

func handleConnection(
	c *websocket.Conn,
	interrupt chan os.Signal,
	handleReading func(reading *types.TankReading),
) bool {
	done := make(chan struct{})

	// Readings arrive hourly, so liveness comes from ping/pong rather
	// than expecting data. Pings go out every 30s; a missing pong for
	// 90s means the connection is dead.
	const pongWait = 90 * time.Second
	c.SetReadDeadline(time.Now().Add(pongWait))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Goroutine to read messages
	go func() {
		defer close(done)
		for {
			messageType, message, err := c.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					logrus.WithError(err).Warn("WebSocket error")
				} else {
					logrus.WithError(err).Info("Connection closed")
				}
				return
			}

			c.SetReadDeadline(time.Now().Add(pongWait))

			// We only expect TankReading messages
			if messageType == websocket.TextMessage {
				if reading := types.ReadingFromJsonBytes(message); reading != nil {
					handleReading(reading)
				} else {
					logrus.Warnf("Failed to parse tank reading: %s", string(message))
				}
			} else {
				logrus.Warnf("Received unexpected message type: %d", messageType)
			}
		}
	}()

	// Goroutine to send periodic pings to keep the connection alive
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := c.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
					logrus.WithError(err).Warn("Failed to send ping")
					return
				}
			case <-done:
				return
			}
		}
	}()

	// Wait for the connection to break or an interrupt signal
	select {
	case <-done:
		// Connection broke
		return true
	case <-interrupt:
		logrus.Info("Interrupt received, closing connection")

		err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		if err != nil {
			logrus.WithError(err).Warn("Error sending close message")
		}

		// Wait for close confirmation or timeout
		select {
		case <-done:
		case <-time.After(time.Second):
		}

		// Clean shutdown
		return false
	}
}
