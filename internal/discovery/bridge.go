// Package discovery resolves an NMOS Registration API base URL on the LAN.
// It browses for the modern service type first, then the legacy one, and
// selects the best advertisement matching the node's API version and
// preferred scheme.
package discovery

import (
	"context"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/libp2p/zeroconf/v2"
)

const (
	// ServiceTypeRegister is the IS-04 v1.3+ registration service type.
	ServiceTypeRegister = "_nmos-register._tcp"

	// ServiceTypeRegistrationLegacy is the pre-v1.3 service type.
	ServiceTypeRegistrationLegacy = "_nmos-registration._tcp"
)

// Candidate is one parsed registry advertisement.
type Candidate struct {
	Host     string
	Port     int
	Proto    string   // TXT api_proto
	Versions []string // TXT api_ver
	Priority int      // TXT pri, lower is preferred
}

// Bridge resolves registry base URLs. It performs no caching; the API
// client caches the resolved URL until it invalidates it.
type Bridge struct {
	cfg     Config
	version string
	scheme  string
	logger  *slog.Logger

	mu   sync.Mutex
	next int // static registry rotation cursor
}

// NewBridge creates a Bridge filtering advertisements by the given API
// version and URL scheme ("http" or "https").
func NewBridge(cfg Config, version, scheme string, logger *slog.Logger) *Bridge {
	cfg.ApplyDefaults()
	return &Bridge{
		cfg:     cfg,
		version: version,
		scheme:  scheme,
		logger:  logger.With("component", "discovery"),
	}
}

// Resolve returns a registry base URL, or "" when none could be found.
// With static registries configured, resolution rotates through the list
// and mDNS is never consulted.
func (b *Bridge) Resolve(ctx context.Context) string {
	if len(b.cfg.StaticRegistries) > 0 {
		b.mu.Lock()
		defer b.mu.Unlock()
		href := b.cfg.StaticRegistries[b.next%len(b.cfg.StaticRegistries)]
		b.next++
		return href
	}

	for _, service := range []string{ServiceTypeRegister, ServiceTypeRegistrationLegacy} {
		if href := b.browse(ctx, service); href != "" {
			return href
		}
	}
	return ""
}

// browse opens one bounded browse window for the given service type and
// returns the best matching href, or "".
func (b *Bridge) browse(ctx context.Context, service string) string {
	bctx, cancel := context.WithTimeout(ctx, b.cfg.BrowseTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	browseErr := make(chan error, 1)
	go func() {
		browseErr <- zeroconf.Browse(bctx, service, b.cfg.Domain, entries)
	}()

	var candidates []Candidate
collect:
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				break collect
			}
			if cand, ok := ParseEntry(entry); ok {
				candidates = append(candidates, cand)
			}
		case <-bctx.Done():
			break collect
		}
	}

	if err := <-browseErr; err != nil && ctx.Err() == nil {
		b.logger.Warn("mDNS browse failed", "service", service, "error", err)
	}

	href := SelectHref(candidates, b.version, b.scheme)
	if href != "" {
		b.logger.Debug("resolved registration API", "service", service, "href", href)
	}
	return href
}

// ParseEntry converts a service entry into a Candidate. The second return
// is false when the entry carries no usable address.
func ParseEntry(entry *zeroconf.ServiceEntry) (Candidate, bool) {
	host := ""
	switch {
	case len(entry.AddrIPv4) > 0:
		host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		host = entry.AddrIPv6[0].String()
	case entry.HostName != "":
		host = strings.TrimSuffix(entry.HostName, ".")
	}
	if host == "" || entry.Port == 0 {
		return Candidate{}, false
	}

	txt := ParseTXT(entry.Text)
	priority := 0
	if p, err := strconv.Atoi(txt["pri"]); err == nil {
		priority = p
	}

	var versions []string
	for _, v := range strings.Split(txt["api_ver"], ",") {
		if v = strings.TrimSpace(v); v != "" {
			versions = append(versions, v)
		}
	}

	return Candidate{
		Host:     host,
		Port:     entry.Port,
		Proto:    txt["api_proto"],
		Versions: versions,
		Priority: priority,
	}, true
}

// ParseTXT converts DNS-SD TXT records ("key=value") into a map. Keys
// without a value map to "".
func ParseTXT(txt []string) map[string]string {
	out := make(map[string]string, len(txt))
	for _, rec := range txt {
		key, value, _ := strings.Cut(rec, "=")
		if key != "" {
			out[key] = value
		}
	}
	return out
}

// SelectHref filters candidates by API version and scheme, orders by
// priority, and returns the best base URL, or "".
func SelectHref(candidates []Candidate, version, scheme string) string {
	var matching []Candidate
	for _, c := range candidates {
		if c.Proto != scheme {
			continue
		}
		if !supportsVersion(c.Versions, version) {
			continue
		}
		matching = append(matching, c)
	}
	if len(matching) == 0 {
		return ""
	}
	sort.SliceStable(matching, func(i, j int) bool {
		return matching[i].Priority < matching[j].Priority
	})
	best := matching[0]
	return scheme + "://" + net.JoinHostPort(best.Host, strconv.Itoa(best.Port))
}

func supportsVersion(versions []string, version string) bool {
	for _, v := range versions {
		if v == version {
			return true
		}
	}
	return false
}
