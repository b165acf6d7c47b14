// Package market tracks the short-term direction of an external price quote.
// The tracker polls a CoinGecko-style endpoint at a fixed interval, keeps a
// small window of quotes and reduces them to up/down/flat for the position
// suggestion. Quote outages keep the previous trend rather than flapping.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/biotrace-data/vitals.monitor/internal/fusion"
)

var _ fusion.TrendProvider = (*Tracker)(nil)

// Defaults for a zero-value Config.
const (
	DefaultAsset    = "bitcoin"
	DefaultCurrency = "usd"
	DefaultInterval = time.Minute
	DefaultWindow   = 5
	DefaultFlatBand = 0.001
)

// Config controls the quote source and the trend reduction.
type Config struct {
	URL      string        // quote endpoint; empty builds a CoinGecko URL from Asset/Currency
	Asset    string        // outer key of the quote object
	Currency string        // inner key of the quote object
	Interval time.Duration // time between fetches
	Window   int           // quotes kept for the oldest/newest comparison
	FlatBand float64       // relative change below which the trend is flat
}

// Tracker polls the quote endpoint and exposes the reduced trend.
type Tracker struct {
	HTTPClient *http.Client
	cfg        Config

	mu       sync.Mutex
	history  []float64
	trend    fusion.Trend
	fetches  uint64
	failures uint64
}

// NewTracker creates a tracker. A nil httpClient gets a ten second timeout.
// Zero Config fields take the package defaults.
func NewTracker(httpClient *http.Client, cfg Config) *Tracker {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Asset == "" {
		cfg.Asset = DefaultAsset
	}
	if cfg.Currency == "" {
		cfg.Currency = DefaultCurrency
	}
	if cfg.URL == "" {
		cfg.URL = fmt.Sprintf("https://api.coingecko.com/api/v3/simple/price?ids=%s&vs_currencies=%s", cfg.Asset, cfg.Currency)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Window < 2 {
		cfg.Window = DefaultWindow
	}
	if cfg.FlatBand <= 0 {
		cfg.FlatBand = DefaultFlatBand
	}
	return &Tracker{
		HTTPClient: httpClient,
		cfg:        cfg,
		trend:      fusion.TrendFlat,
	}
}

// Run polls until ctx is cancelled. The first fetch happens immediately so a
// trend is available within one quote interval of startup.
func (t *Tracker) Run(ctx context.Context) error {
	t.poll()

	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t.poll()
		}
	}
}

// Trend returns the current market direction. Before two quotes have
// arrived the trend is flat.
func (t *Tracker) Trend() fusion.Trend {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.trend
}

// Quote returns the newest price, false before the first successful fetch.
func (t *Tracker) Quote() (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.history) == 0 {
		return 0, false
	}
	return t.history[len(t.history)-1], true
}

// Stats reports fetch attempts and failures since startup.
func (t *Tracker) Stats() (fetches, failures uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fetches, t.failures
}

func (t *Tracker) poll() {
	price, err := t.fetchPrice()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.fetches++
	if err != nil {
		t.failures++
		log.Printf("WARNING: market quote fetch failed, keeping %q trend: %v", t.trend, err)
		return
	}
	t.history = append(t.history, price)
	if len(t.history) > t.cfg.Window {
		t.history = t.history[len(t.history)-t.cfg.Window:]
	}
	t.trend = relativeTrend(t.history, t.cfg.FlatBand)
}

// fetchPrice fetches one quote. The endpoint answers with
// {"<asset>": {"<currency>": <price>}}.
func (t *Tracker) fetchPrice() (float64, error) {
	resp, err := t.HTTPClient.Get(t.cfg.URL)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("status %d", resp.StatusCode)
	}

	var quote map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		return 0, fmt.Errorf("decoding quote: %w", err)
	}
	price, ok := quote[t.cfg.Asset][t.cfg.Currency]
	if !ok {
		return 0, fmt.Errorf("quote missing %s/%s", t.cfg.Asset, t.cfg.Currency)
	}
	if price <= 0 {
		return 0, fmt.Errorf("implausible price %v", price)
	}
	return price, nil
}

// relativeTrend compares the oldest and newest quote in the window. Moves
// within flatBand of the oldest price count as flat, so quote jitter does
// not flip the suggestion.
func relativeTrend(history []float64, flatBand float64) fusion.Trend {
	if len(history) < 2 {
		return fusion.TrendFlat
	}
	first := history[0]
	last := history[len(history)-1]
	change := (last - first) / first
	switch {
	case change > flatBand:
		return fusion.TrendUp
	case change < -flatBand:
		return fusion.TrendDown
	default:
		return fusion.TrendFlat
	}
}
