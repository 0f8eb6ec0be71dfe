package discovery

import "time"

// DefaultDomain is the mDNS browse domain.
const DefaultDomain = "local."

// DefaultBrowseTimeout is how long a single browse window stays open per
// service type. Registries answer PTR queries within tens of milliseconds on
// a LAN; half a second keeps aggregator failover snappy while still catching
// slow responders.
const DefaultBrowseTimeout = 500 * time.Millisecond

// Config holds the configuration for the mDNS bridge.
type Config struct {
	// Domain is the mDNS browse domain.
	// Default: local.
	Domain string `yaml:"domain"`

	// BrowseTimeout is the browse window per service type.
	// Default: 500ms
	BrowseTimeout time.Duration `yaml:"browse_timeout"`

	// StaticRegistries pins registry base URLs, bypassing mDNS entirely.
	// Resolution rotates through the list so failover still works.
	StaticRegistries []string `yaml:"static_registries"`
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Domain == "" {
		c.Domain = DefaultDomain
	}
	if c.BrowseTimeout == 0 {
		c.BrowseTimeout = DefaultBrowseTimeout
	}
}
