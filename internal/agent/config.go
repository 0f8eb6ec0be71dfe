// Package agent assembles the registration proxy from its subsystems and
// owns the top-level configuration.
package agent

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mediamesh/nmosd/internal/aggregator"
	"github.com/mediamesh/nmosd/internal/api"
	"github.com/mediamesh/nmosd/internal/discovery"
	"github.com/mediamesh/nmosd/internal/mdns"
)

const (
	// DefaultLogLevel is the default log level.
	DefaultLogLevel = "info"

	// DefaultNodePort is the default advertised port for the node's API.
	DefaultNodePort = 12345
)

// NodeConfig describes the node this proxy registers.
type NodeConfig struct {
	// ID is the node's UUID. Generated at startup when empty.
	ID string `yaml:"id"`

	// Label is the node's human-readable label.
	// Default: the hostname.
	Label string `yaml:"label"`

	// Description is the node's description.
	Description string `yaml:"description"`

	// Hostname is the host the node API is reachable at.
	// Default: os.Hostname.
	Hostname string `yaml:"hostname"`

	// Port is the node API port, also advertised over mDNS.
	// Default: 12345
	Port int `yaml:"port"`

	// HTTPSMode prefers https registries and advertises api_proto=https.
	// Default: false
	HTTPSMode bool `yaml:"https_mode"`
}

// AuthConfig configures the optional OAuth2 client-credentials token
// source used to decorate registry requests.
type AuthConfig struct {
	// Enabled turns on bearer-token decoration.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// TokenURL is the authorization server's token endpoint.
	TokenURL string `yaml:"token_url"`

	// ClientID and ClientSecret identify this node's OAuth client.
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`

	// Scopes requested with each token.
	// Default: ["is-04"]
	Scopes []string `yaml:"scopes"`
}

// Config is the top-level configuration for nmosd, populated from a YAML
// file via ParseConfig.
type Config struct {
	// LogLevel is the log level: "debug", "info", "warn", "error".
	// Default: "info"
	LogLevel string `yaml:"log_level"`

	Node NodeConfig `yaml:"node"`
	Auth AuthConfig `yaml:"auth"`

	API        api.Config        `yaml:"api"`
	Discovery  discovery.Config  `yaml:"discovery"`
	MDNS       mdns.Config       `yaml:"mdns"`
	Aggregator aggregator.Config `yaml:"aggregator"`
}

// ParseConfig reads and parses the YAML configuration file at path. A
// missing file yields the defaults.
func ParseConfig(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults only.
	case err != nil:
		return nil, fmt.Errorf("agent: read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("agent: parse config: %w", err)
		}
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults sets default values for zero-valued fields, recursing into
// the subsystem configurations.
func (c *Config) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Node.Port == 0 {
		c.Node.Port = DefaultNodePort
	}
	if c.Node.Hostname == "" {
		if hostname, err := os.Hostname(); err == nil {
			c.Node.Hostname = hostname
		}
	}
	if c.Node.Label == "" {
		c.Node.Label = c.Node.Hostname
	}
	if c.Auth.Enabled && len(c.Auth.Scopes) == 0 {
		c.Auth.Scopes = []string{"is-04"}
	}

	c.API.ApplyDefaults()
	c.Discovery.ApplyDefaults()
	c.Aggregator.ApplyDefaults()

	// The mDNS advertisement mirrors the node identity.
	if c.MDNS.Name == "" {
		c.MDNS.Name = c.Node.Hostname
	}
	if c.MDNS.Port == 0 {
		c.MDNS.Port = c.Node.Port
	}
	if c.MDNS.TXTBase == nil {
		c.MDNS.TXTBase = map[string]string{
			"api_ver":   c.API.APIVersion,
			"api_proto": c.Scheme(),
			"pri":       "100",
		}
	}
	c.MDNS.ApplyDefaults()
}

// Validate checks the assembled configuration.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("agent: config: invalid log_level %q", c.LogLevel)
	}
	if err := c.API.Validate(); err != nil {
		return err
	}
	if err := c.MDNS.Validate(); err != nil {
		return err
	}
	if err := c.Aggregator.Validate(); err != nil {
		return err
	}
	if c.Auth.Enabled {
		if c.Auth.TokenURL == "" || c.Auth.ClientID == "" {
			return fmt.Errorf("agent: config: auth requires token_url and client_id")
		}
	}
	return nil
}

// Scheme returns the preferred URL scheme for registry traffic.
func (c *Config) Scheme() string {
	if c.Node.HTTPSMode {
		return "https"
	}
	return "http"
}
