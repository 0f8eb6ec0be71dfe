package agent

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseConfig_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := ParseConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("ParseConfig() = %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.Node.Port != DefaultNodePort {
		t.Errorf("Node.Port = %d, want %d", cfg.Node.Port, DefaultNodePort)
	}
	if cfg.API.APIVersion != "v1.3" {
		t.Errorf("API.APIVersion = %q, want v1.3", cfg.API.APIVersion)
	}
	if cfg.Aggregator.HeartbeatInterval != 5*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 5s", cfg.Aggregator.HeartbeatInterval)
	}
	if cfg.Scheme() != "http" {
		t.Errorf("Scheme() = %q, want http", cfg.Scheme())
	}
	if cfg.MDNS.TXTBase["api_proto"] != "http" {
		t.Errorf("mDNS api_proto = %q, want http", cfg.MDNS.TXTBase["api_proto"])
	}
	if cfg.MDNS.Name == "" || cfg.MDNS.Port != cfg.Node.Port {
		t.Errorf("mDNS identity not derived from node: %+v", cfg.MDNS)
	}
}

func TestParseConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
log_level: debug
node:
  id: 8bd0fb3a-88e5-4c91-a1a0-b6e8b0b1e2fd
  label: studio-cam-7
  port: 8080
  https_mode: true
api:
  api_version: v1.2
  retries: 5
discovery:
  static_registries:
    - https://reg-a:443
    - https://reg-b:443
mdns:
  p2p_cut_in_count: 3
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := ParseConfig(path)
	if err != nil {
		t.Fatalf("ParseConfig() = %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.Node.Label != "studio-cam-7" || cfg.Node.Port != 8080 {
		t.Errorf("Node = %+v", cfg.Node)
	}
	if cfg.Scheme() != "https" {
		t.Errorf("Scheme() = %q, want https", cfg.Scheme())
	}
	if cfg.API.APIVersion != "v1.2" || cfg.API.Retries != 5 {
		t.Errorf("API = %+v", cfg.API)
	}
	if len(cfg.Discovery.StaticRegistries) != 2 {
		t.Errorf("StaticRegistries = %v", cfg.Discovery.StaticRegistries)
	}
	if cfg.MDNS.P2PCutInCount != 3 {
		t.Errorf("P2PCutInCount = %d, want 3", cfg.MDNS.P2PCutInCount)
	}
	if cfg.MDNS.TXTBase["api_ver"] != "v1.2" {
		t.Errorf("mDNS api_ver = %q, want v1.2", cfg.MDNS.TXTBase["api_ver"])
	}
}

func TestParseConfig_InvalidLogLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("log_level: loud\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := ParseConfig(path); err == nil {
		t.Fatal("ParseConfig() accepted an invalid log level")
	}
}

func TestValidate_AuthRequiresEndpoints(t *testing.T) {
	cfg := &Config{}
	cfg.Auth.Enabled = true
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() accepted auth without token_url/client_id")
	}

	cfg.Auth.TokenURL = "https://auth/token"
	cfg.Auth.ClientID = "nmosd"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	if len(cfg.Auth.Scopes) != 1 || cfg.Auth.Scopes[0] != "is-04" {
		t.Errorf("Scopes = %v, want [is-04]", cfg.Auth.Scopes)
	}
}
