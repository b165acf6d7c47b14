// Package expression polls the facial-expression sidecar. The classifier
// runs out of process (it owns the camera and the ML runtime) and serves its
// latest label probabilities as a flat JSON object, e.g.
// {"angry": 0.7, "happy": 0.1}. The pipeline treats any transport or decode
// failure as "no expression cue this cycle" and carries on.
package expression

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/biotrace-data/vitals.monitor/internal/fusion"
)

var _ fusion.ExpressionProvider = (*Client)(nil)

// Client fetches the current expression probabilities from the sidecar.
type Client struct {
	HTTPClient *http.Client
	URL        string

	mu       sync.Mutex
	down     bool
	failures uint64
}

// NewClient creates a sidecar client. A nil httpClient gets a one second
// timeout; the poll runs inside the processing cycle and must not stall it.
func NewClient(httpClient *http.Client, url string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: time.Second}
	}
	return &Client{
		HTTPClient: httpClient,
		URL:        url,
	}
}

// Current returns the latest label probabilities. A false return means the
// sidecar was unreachable or answered with something unusable.
func (c *Client) Current() (map[string]float64, bool) {
	resp, err := c.HTTPClient.Get(c.URL)
	if err != nil {
		c.noteFailure(err)
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.noteFailure(fmt.Errorf("status %d", resp.StatusCode))
		return nil, false
	}

	var probs map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&probs); err != nil {
		c.noteFailure(fmt.Errorf("decoding response: %w", err))
		return nil, false
	}

	c.noteSuccess()
	return probs, true
}

// Failures reports how many polls have failed since startup.
func (c *Client) Failures() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}

// noteFailure logs the first failure of an outage, not every poll in it.
func (c *Client) noteFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
	if !c.down {
		c.down = true
		log.Printf("WARNING: expression sidecar unavailable: %v", err)
	}
}

func (c *Client) noteSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		c.down = false
		log.Printf("Expression sidecar recovered")
	}
}
