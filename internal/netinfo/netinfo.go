// Package netinfo collects network and client metadata for security events.
// Every lookup is fail-soft: callers get zero values, never errors, so that
// enrichment can never block or fail a security decision.
package netinfo

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const lookupTimeout = 3 * time.Second

// Info describes the client side of a request.
type Info struct {
	IPAddress string `json:"ipAddress,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

// Collector resolves client metadata. The zero value is not usable; use New.
type Collector struct {
	client    *http.Client
	lookupURL string
}

// Option configures a Collector.
type Option func(*Collector)

// WithLookupURL overrides the public-IP lookup endpoint. Used in tests.
func WithLookupURL(url string) Option {
	return func(c *Collector) { c.lookupURL = url }
}

// New creates a Collector with a short-timeout HTTP client.
func New(opts ...Option) *Collector {
	c := &Collector{
		client: &http.Client{
			Timeout: lookupTimeout,
		},
		lookupURL: "https://api.ipify.org?format=json",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FromRequest extracts client info from an inbound gin request.
func (c *Collector) FromRequest(g *gin.Context) Info {
	return Info{
		IPAddress: g.ClientIP(),
		UserAgent: g.Request.UserAgent(),
	}
}

// PublicIP resolves the server's public IP via an external lookup.
// Returns "" on any failure.
func (c *Collector) PublicIP(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", c.lookupURL, nil)
	if err != nil {
		return ""
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ""
	}

	var body struct {
		IP string `json:"ip"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return ""
	}
	return body.IP
}
