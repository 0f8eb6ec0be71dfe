package mdns

import (
	"errors"
	"time"
)

// DefaultService is the DNS-SD service type for node advertisements.
const DefaultService = "_nmos-node._tcp"

// DefaultP2PCutInCount is how many consecutive registry-loss signals flip
// peer-to-peer mode on.
const DefaultP2PCutInCount = 5

// DefaultPollInterval is how often the updater polls an empty TXT queue.
const DefaultPollInterval = 200 * time.Millisecond

// DefaultMappings maps resource types to the TXT keys carrying their
// version counters.
func DefaultMappings() map[string]string {
	return map[string]string{
		"node":     "ver_slf",
		"device":   "ver_dvc",
		"source":   "ver_src",
		"flow":     "ver_flw",
		"sender":   "ver_snd",
		"receiver": "ver_rcv",
	}
}

// Config holds the configuration for the mDNS updater.
type Config struct {
	// Name is the service instance name (required).
	Name string `yaml:"name"`

	// Service is the DNS-SD service type.
	// Default: _nmos-node._tcp
	Service string `yaml:"service"`

	// Domain is the announcement domain.
	// Default: local.
	Domain string `yaml:"domain"`

	// Port is the advertised port (required).
	Port int `yaml:"port"`

	// TXTBase is the base TXT record set, advertised whether or not
	// peer-to-peer mode is engaged.
	TXTBase map[string]string `yaml:"txt"`

	// Mappings maps resource types to version-counter TXT keys.
	// Default: DefaultMappings().
	Mappings map[string]string `yaml:"mappings"`

	// P2PEnable starts with peer-to-peer mode already engaged.
	// Default: false
	P2PEnable bool `yaml:"p2p_enable"`

	// P2PCutInCount is the enable-counter threshold.
	// Default: 5
	P2PCutInCount int `yaml:"p2p_cut_in_count"`

	// PollInterval is the TXT queue poll interval when empty.
	// Default: 200ms
	PollInterval time.Duration `yaml:"poll_interval"`
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Service == "" {
		c.Service = DefaultService
	}
	if c.Domain == "" {
		c.Domain = "local."
	}
	if c.Mappings == nil {
		c.Mappings = DefaultMappings()
	}
	if c.P2PCutInCount == 0 {
		c.P2PCutInCount = DefaultP2PCutInCount
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
}

// Validate checks that required fields are set.
func (c *Config) Validate() error {
	if c.Name == "" {
		return errors.New("mdns: config: Name is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.New("mdns: config: Port must be in (0, 65535]")
	}
	return nil
}
