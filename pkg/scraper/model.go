package scraper

import (
	"errors"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/willbeeching/boilerjuice/pkg/types"
)

const (
	BaseURL  = "https://www.boilerjuice.com/uk"
	LoginURL = BaseURL + "/users/login"
	TanksURL = BaseURL + "/users/tanks"
	PriceURL = "https://www.boilerjuice.com/kerosene-prices/"

	portalHost = "www.boilerjuice.com"
)

var (
	ErrAuthFailed   = errors.New("portal login failed")
	ErrTankNotFound = errors.New("no tank found on portal account")
	ErrParseFailed  = errors.New("could not parse tank page")
)

// Client scrapes the BoilerJuice portal for tank readings. One Client
// per account; it holds the login session cookie jar and the latest
// successfully parsed reading.
type Client struct {
	email    string
	password string
	tankID   string // empty until configured or discovered

	httpClient *http.Client

	latestReading *types.TankReading
	readingMutex  sync.RWMutex
	stopSignal    bool

	// Pre-compiled text patterns
	volumePattern   *regexp.Regexp
	tankLinkPattern *regexp.Regexp
	pricePattern    *regexp.Regexp

	// Cached price reads to avoid hammering the prices page
	priceMu        sync.Mutex
	lastPricePence float64
	lastPriceTime  time.Time
}
