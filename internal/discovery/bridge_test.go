package discovery

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"

	"github.com/libp2p/zeroconf/v2"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseTXT(t *testing.T) {
	txt := ParseTXT([]string{"api_ver=v1.2,v1.3", "api_proto=http", "pri=10", "flag"})
	if txt["api_ver"] != "v1.2,v1.3" {
		t.Errorf("api_ver = %q", txt["api_ver"])
	}
	if txt["api_proto"] != "http" {
		t.Errorf("api_proto = %q", txt["api_proto"])
	}
	if v, ok := txt["flag"]; !ok || v != "" {
		t.Errorf("flag = %q, %v", v, ok)
	}
}

func TestParseEntry(t *testing.T) {
	entry := &zeroconf.ServiceEntry{
		HostName: "reg.local.",
		Port:     4000,
		Text:     []string{"api_ver=v1.3", "api_proto=http", "pri=20"},
		AddrIPv4: []net.IP{net.ParseIP("192.0.2.10")},
	}
	cand, ok := ParseEntry(entry)
	if !ok {
		t.Fatal("ParseEntry rejected a valid entry")
	}
	if cand.Host != "192.0.2.10" || cand.Port != 4000 || cand.Priority != 20 {
		t.Errorf("candidate = %+v", cand)
	}

	// Hostname fallback when no address is resolved.
	entry.AddrIPv4 = nil
	cand, ok = ParseEntry(entry)
	if !ok || cand.Host != "reg.local" {
		t.Errorf("hostname fallback candidate = %+v, %v", cand, ok)
	}

	// No address at all is unusable.
	entry.HostName = ""
	if _, ok := ParseEntry(entry); ok {
		t.Error("ParseEntry accepted an entry without an address")
	}
}

func TestSelectHref(t *testing.T) {
	candidates := []Candidate{
		{Host: "a.local", Port: 80, Proto: "http", Versions: []string{"v1.2"}, Priority: 0},
		{Host: "b.local", Port: 80, Proto: "https", Versions: []string{"v1.3"}, Priority: 0},
		{Host: "c.local", Port: 8080, Proto: "http", Versions: []string{"v1.2", "v1.3"}, Priority: 50},
		{Host: "d.local", Port: 80, Proto: "http", Versions: []string{"v1.3"}, Priority: 10},
	}

	// Version and scheme filters apply; lowest priority wins.
	href := SelectHref(candidates, "v1.3", "http")
	if href != "http://d.local:80" {
		t.Errorf("SelectHref = %q, want http://d.local:80", href)
	}

	href = SelectHref(candidates, "v1.3", "https")
	if href != "https://b.local:80" {
		t.Errorf("SelectHref = %q, want https://b.local:80", href)
	}

	if href := SelectHref(candidates, "v1.0", "http"); href != "" {
		t.Errorf("SelectHref = %q, want empty for unsupported version", href)
	}
	if href := SelectHref(nil, "v1.3", "http"); href != "" {
		t.Errorf("SelectHref = %q, want empty for no candidates", href)
	}
}

func TestSelectHref_IPv6HostIsBracketed(t *testing.T) {
	candidates := []Candidate{
		{Host: "fe80::1", Port: 4000, Proto: "http", Versions: []string{"v1.3"}},
	}
	href := SelectHref(candidates, "v1.3", "http")
	if href != "http://[fe80::1]:4000" {
		t.Errorf("SelectHref = %q, want bracketed IPv6 host", href)
	}
}

func TestResolve_StaticRegistriesRotate(t *testing.T) {
	b := NewBridge(Config{
		StaticRegistries: []string{"http://a:4000", "http://b:4000"},
	}, "v1.3", "http", testLogger())

	got := []string{
		b.Resolve(context.Background()),
		b.Resolve(context.Background()),
		b.Resolve(context.Background()),
	}
	want := []string{"http://a:4000", "http://b:4000", "http://a:4000"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Resolve #%d = %q, want %q", i, got[i], want[i])
		}
	}
}
