package mdns

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/libp2p/zeroconf/v2"
)

// ZeroconfEngine implements Engine over a zeroconf responder. Each
// registered service owns one zeroconf server; TXT updates go through
// SetText on the live server.
type ZeroconfEngine struct {
	domain string
	logger *slog.Logger

	mu      sync.Mutex
	servers map[string]*zeroconf.Server
}

// NewZeroconfEngine creates an engine announcing in the given domain
// ("local." when empty).
func NewZeroconfEngine(domain string, logger *slog.Logger) *ZeroconfEngine {
	if domain == "" {
		domain = "local."
	}
	return &ZeroconfEngine{
		domain:  domain,
		logger:  logger.With("component", "mdns"),
		servers: map[string]*zeroconf.Server{},
	}
}

// Register announces a service. Re-registering the same name and type
// replaces the previous announcement.
func (e *ZeroconfEngine) Register(name, service string, port int, txt map[string]string) error {
	server, err := zeroconf.Register(name, service, e.domain, port, txtSlice(txt), nil)
	if err != nil {
		return fmt.Errorf("mdns: register %s.%s: %w", name, service, err)
	}

	key := name + "." + service
	e.mu.Lock()
	if old, ok := e.servers[key]; ok {
		old.Shutdown()
	}
	e.servers[key] = server
	e.mu.Unlock()

	e.logger.Debug("registered mDNS service", "name", name, "service", service, "port", port)
	return nil
}

// Update replaces the TXT records of an announced service.
func (e *ZeroconfEngine) Update(name, service string, txt map[string]string) error {
	e.mu.Lock()
	server, ok := e.servers[name+"."+service]
	e.mu.Unlock()
	if !ok {
		return ErrServiceNotFound
	}
	server.SetText(txtSlice(txt))
	return nil
}

// Shutdown withdraws all announcements.
func (e *ZeroconfEngine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key, server := range e.servers {
		server.Shutdown()
		delete(e.servers, key)
	}
}

// txtSlice renders a TXT map as sorted "key=value" records.
func txtSlice(txt map[string]string) []string {
	out := make([]string, 0, len(txt))
	for k, v := range txt {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
