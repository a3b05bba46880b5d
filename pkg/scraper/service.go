package scraper

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"github.com/willbeeching/boilerjuice/pkg/types"
)

// Initialize a new portal scraper client.
func NewClient(email, password, tankID string) *Client {
	jar, _ := cookiejar.New(nil)
	c := &Client{
		email:    email,
		password: password,
		tankID:   tankID,
		httpClient: &http.Client{
			Jar:     jar,
			Timeout: 30 * time.Second,
		},
		stopSignal: false,
	}

	// Pre-compile text patterns
	c.volumePattern = regexp.MustCompile(`(\d+)\s*litres?\s+(?:of\s+)?oil`)
	c.tankLinkPattern = regexp.MustCompile(`/uk/users/tanks/(\d+)`)
	c.pricePattern = regexp.MustCompile(`(\d+\.\d+)\s*pence per litre`)

	return c
}

// StartPolling fetches a reading every interval until StopPolling or too
// many consecutive failures. Runs in goroutine. handleReading() also runs
// in goroutine.
func (c *Client) StartPolling(
	interval time.Duration,
	handleReading func(reading *types.TankReading),
	handleError func(error),
) {
	c.stopSignal = false

	go func() {
		// Tolerance before we report error.
		consecutiveErrors := 0
		maxErrors := 5
		var lastError error

		for consecutiveErrors < maxErrors {
			// Check for Stop command
			if c.stopSignal {
				logrus.Info("Stop signal received, polling stopped")
				return
			}

			reading, err := c.FetchReading()
			if err != nil {
				consecutiveErrors++
				lastError = err
				logrus.WithError(err).Warnf("Error fetching tank reading (%d/%d)", consecutiveErrors, maxErrors)
				time.Sleep(time.Minute)
				continue
			}

			c.readingMutex.Lock()
			c.latestReading = reading
			c.readingMutex.Unlock()

			go handleReading(reading)
			consecutiveErrors = 0

			time.Sleep(interval)
		}

		logrus.WithError(lastError).Errorf("Too many consecutive errors (%d), stopping poller", maxErrors)
		handleError(lastError)
	}()
}

func (c *Client) StopPolling() {
	c.stopSignal = true
}

func (c *Client) GetLatestReading() *types.TankReading {
	c.readingMutex.RLock()
	defer c.readingMutex.RUnlock()
	return c.latestReading
}

// FetchReading logs in, locates the tank and scrapes its detail page into
// a TankReading. The oil price is attached best-effort; a price failure
// never fails the reading.
func (c *Client) FetchReading() (*types.TankReading, error) {
	if err := c.login(); err != nil {
		return nil, err
	}

	tankID := c.tankID
	if tankID == "" {
		discovered, err := c.discoverTankID()
		if err != nil {
			return nil, err
		}
		tankID = discovered
		c.tankID = discovered
	}

	tankURL := fmt.Sprintf("%s/%s/edit", TanksURL, tankID)
	resp, err := c.httpClient.Get(tankURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get tank page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrTankNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tank page returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailed, err)
	}

	reading, err := c.parseTankPage(doc, tankID)
	if err != nil {
		return nil, err
	}

	if price, err := c.FetchOilPrice(); err == nil {
		reading.CurrentPricePence = &price
	} else {
		logrus.WithError(err).Debug("Oil price unavailable this cycle")
	}

	return reading, nil
}

// login fetches the CSRF token from the login page and posts the
// credentials. A response still carrying the sign-in form means the
// credentials were rejected.
func (c *Client) login() error {
	resp, err := c.httpClient.Get(LoginURL)
	if err != nil {
		return fmt.Errorf("failed to get login page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login page returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: login page: %v", ErrParseFailed, err)
	}
	csrfToken, ok := doc.Find(`meta[name="csrf-token"]`).Attr("content")
	if !ok {
		return fmt.Errorf("%w: no CSRF token on login page", ErrParseFailed)
	}

	form := url.Values{
		"user[email]":        {c.email},
		"user[password]":     {c.password},
		"authenticity_token": {csrfToken},
		"commit":             {"Sign in"},
	}
	loginResp, err := c.httpClient.PostForm(LoginURL, form)
	if err != nil {
		return fmt.Errorf("login request failed: %w", err)
	}
	defer loginResp.Body.Close()
	if loginResp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: login returned status %d", ErrAuthFailed, loginResp.StatusCode)
	}

	loginDoc, err := goquery.NewDocumentFromReader(loginResp.Body)
	if err != nil {
		return fmt.Errorf("%w: post-login page: %v", ErrParseFailed, err)
	}
	if strings.Contains(loginDoc.Text(), "Sign in") {
		return ErrAuthFailed
	}
	return nil
}

// discoverTankID finds the first tank link on the tanks overview page.
func (c *Client) discoverTankID() (string, error) {
	resp, err := c.httpClient.Get(TanksURL)
	if err != nil {
		return "", fmt.Errorf("failed to get tanks page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tanks page returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: tanks page: %v", ErrParseFailed, err)
	}

	tankID := ""
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		if match := c.tankLinkPattern.FindStringSubmatch(href); match != nil {
			tankID = match[1]
			return false
		}
		return true
	})
	if tankID == "" {
		return "", ErrTankNotFound
	}

	logrus.WithField("tank_id", tankID).Debug("Discovered tank ID from tanks page")
	return tankID, nil
}

// parseTankPage extracts everything the tank edit page exposes. The
// portal has cycled element IDs over time, so the legacy IDs are kept as
// fallbacks.
func (c *Client) parseTankPage(doc *goquery.Document, tankID string) (*types.TankReading, error) {
	reading := &types.TankReading{
		TankID:    tankID,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	found := false

	// Oil level. The portal now reports a single level used for both
	// total and usable.
	if pct, ok := doc.Find("#usable-oil .oil-level").Attr("data-percentage"); ok {
		if level, err := strconv.ParseFloat(pct, 64); err == nil {
			reading.TotalLevelPercentage = &level
			reading.UsableLevelPercentage = &level
			found = true
		}
	}

	// Capacity, with legacy element ID fallback
	if capacity, ok := inputIntValue(doc, "#tank_size", "#tank-size-count"); ok {
		reading.CapacityLitres = &capacity
		found = true
	}

	// Height, with legacy element ID fallback
	if height, ok := inputIntValue(doc, "#internal_height", "#tank-height-count"); ok {
		reading.HeightCM = &height
		found = true
	}

	// Volume only appears as free text ("560 litres of oil")
	if match := c.volumePattern.FindStringSubmatch(strings.ToLower(doc.Text())); match != nil {
		if volume, err := strconv.ParseFloat(match[1], 64); err == nil {
			reading.CurrentVolumeLitres = &volume
			reading.UsableVolumeLitres = &volume
			found = true
		}
	}

	if name, ok := doc.Find("#tank_user_tanks_attributes_0_name").Attr("value"); ok && name != "" {
		reading.Name = name
	}

	// Manufacturer and model live in a script-embedded JSON blob keyed
	// by the model ID input
	if modelID, ok := doc.Find("#tankModelInput").Attr("value"); ok && modelID != "" {
		c.resolveTankModel(doc, modelID, reading)
	}

	doc.Find(`input[type="radio"][name="tank-shape"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if _, checked := sel.Attr("checked"); checked {
			if shape, ok := sel.Attr("value"); ok {
				reading.Shape = titleCase(strings.ReplaceAll(shape, "_", " "))
			}
			return false
		}
		return true
	})

	if oilType := doc.Find("#tank_oil_type_id option[selected]").First().Text(); oilType != "" {
		reading.OilType = strings.TrimSpace(oilType)
	}

	if !found {
		return nil, ErrParseFailed
	}
	return reading, nil
}

type tankModelEntry struct {
	ID   json.Number `json:"id"`
	Tank struct {
		Description string `json:"Description"`
		Brand       string `json:"Brand"`
	} `json:"tank"`
}

func (c *Client) resolveTankModel(doc *goquery.Document, modelID string, reading *types.TankReading) {
	reading.Model = modelID // fallback when the blob is missing

	doc.Find("script").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		script := sel.Text()
		if !strings.Contains(script, "var jsonData = ") {
			return true
		}

		raw := extractJSONArray(script, "var jsonData = ")
		if raw == "" {
			return false
		}

		var entries []tankModelEntry
		if err := json.Unmarshal([]byte(raw), &entries); err != nil {
			logrus.WithError(err).Warn("Failed to parse tank model JSON")
			return false
		}
		for _, entry := range entries {
			if entry.ID.String() == modelID {
				reading.Model = entry.Tank.Description
				reading.Manufacturer = entry.Tank.Brand
				break
			}
		}
		return false
	})
}

// extractJSONArray returns the bracket-balanced JSON array that follows
// marker in script, or "" when none is found.
func extractJSONArray(script, marker string) string {
	start := strings.Index(script, marker)
	if start < 0 {
		return ""
	}
	arrayStart := strings.Index(script[start:], "[")
	if arrayStart < 0 {
		return ""
	}
	arrayStart += start

	depth := 0
	for i := arrayStart; i < len(script); i++ {
		switch script[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return script[arrayStart : i+1]
			}
		}
	}
	return ""
}

func inputIntValue(doc *goquery.Document, selectors ...string) (int, bool) {
	for _, selector := range selectors {
		if raw, ok := doc.Find(selector).Attr("value"); ok && raw != "" {
			if v, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
				return v, true
			}
		}
	}
	return 0, false
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
