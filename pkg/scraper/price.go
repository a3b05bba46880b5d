package scraper

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

var ErrPriceReadFailed = fmt.Errorf("oil price read failed")

// How long a fetched price stays fresh. The prices page updates at most
// daily.
const priceCacheDuration = time.Hour

// FetchOilPrice scrapes the current kerosene price in pence per litre.
// Reads are cached to avoid hammering the prices page on every poll.
func (c *Client) FetchOilPrice() (float64, error) {
	c.priceMu.Lock()
	defer c.priceMu.Unlock()
	if c.lastPriceTime.After(time.Now().Add(-priceCacheDuration)) {
		return c.lastPricePence, nil
	}

	const maxRetries = 3
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		// Reachability check before attempting the fetch
		if ok, _, err := pingHost(portalHost); !ok || err != nil {
			lastErr = fmt.Errorf("ping failed on attempt %d: %w", attempt+1, err)
			if attempt < maxRetries-1 {
				time.Sleep(2 * time.Second)
			}
			continue
		}

		price, err := c.fetchPriceOnce()
		if err != nil {
			lastErr = fmt.Errorf("fetch failed on attempt %d: %w", attempt+1, err)
			if attempt < maxRetries-1 {
				time.Sleep(2 * time.Second)
			}
			continue
		}

		c.lastPricePence = price
		c.lastPriceTime = time.Now()
		return price, nil
	}

	return 0, errors.Join(ErrPriceReadFailed, lastErr)
}

func (c *Client) fetchPriceOnce() (float64, error) {
	resp, err := c.httpClient.Get(PriceURL)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("prices page returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}

	price, ok := c.parsePrice(string(body))
	if !ok {
		return 0, fmt.Errorf("no pence-per-litre figure on prices page")
	}
	return price, nil
}

func (c *Client) parsePrice(content string) (float64, bool) {
	match := c.pricePattern.FindStringSubmatch(content)
	if match == nil {
		return 0, false
	}
	var price float64
	if _, err := fmt.Sscanf(match[1], "%f", &price); err != nil {
		return 0, false
	}
	return price, true
}

func pingHost(host string) (bool, time.Duration, error) {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return false, 0, err
	}

	pinger.Count = 1
	pinger.Timeout = 2 * time.Second
	pinger.SetPrivileged(false) // UDP-based, no root needed

	err = pinger.Run()
	if err != nil {
		return false, 0, err
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv > 0 {
		return true, stats.AvgRtt, nil
	}

	return false, 0, fmt.Errorf("no response")
}
