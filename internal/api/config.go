package api

import (
	"errors"
	"time"
)

// DefaultAPIVersion is the IS-04 Registration API version spoken by default.
const DefaultAPIVersion = "v1.3"

// DefaultRequestTimeout is the per-request timeout. Kept short: a request
// that outlives it may still land at the registry, registering the node
// twice at different aggregators, which is harmless but churns traffic.
const DefaultRequestTimeout = 1 * time.Second

// DefaultConnectTimeout is the TCP dial timeout.
const DefaultConnectTimeout = 500 * time.Millisecond

// DefaultRetries is the sender's attempt budget per call. Each failed
// attempt rotates to another aggregator; bounding the budget keeps
// sustained outages visible to the heartbeat controller.
const DefaultRetries = 3

// Config holds the configuration for the Registration API client.
type Config struct {
	// APIVersion is the Registration API version, e.g. "v1.3".
	// Default: v1.3
	APIVersion string `yaml:"api_version"`

	// RequestTimeout is the per-request timeout.
	// Default: 1s
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// ConnectTimeout is the TCP dial timeout.
	// Default: 500ms
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// Retries is the attempt budget per Send call.
	// Default: 3
	Retries int `yaml:"retries"`

	// TLSInsecureSkipVerify disables TLS certificate verification.
	// Default: false
	TLSInsecureSkipVerify bool `yaml:"tls_insecure_skip_verify"`
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.APIVersion == "" {
		c.APIVersion = DefaultAPIVersion
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Retries == 0 {
		c.Retries = DefaultRetries
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Retries < 1 {
		return errors.New("api: config: Retries must be at least 1")
	}
	if c.RequestTimeout < 0 || c.ConnectTimeout < 0 {
		return errors.New("api: config: timeouts must not be negative")
	}
	return nil
}
