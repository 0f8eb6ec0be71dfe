// Package api implements the HTTP client for the NMOS IS-04 Registration
// API. The client holds the current aggregator base URL, rotating to another
// one via mDNS discovery when the current one stops answering, up to a fixed
// attempt budget per call.
package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/mediamesh/nmosd/internal/auth"
)

const (
	apiNamespace      = "x-nmos"
	aggregatorAPIName = "registration"

	// maxResponseSize caps response bodies read into memory.
	maxResponseSize = 1 * 1024 * 1024
)

// Resolver resolves a Registration API base URL, typically via an mDNS
// bridge. An empty string means no registry could be found.
type Resolver interface {
	Resolve(ctx context.Context) string
}

// P2PSignaler receives a signal whenever discovery comes up empty, driving
// the peer-to-peer fallback counter.
type P2PSignaler interface {
	IncP2PEnableCount()
}

// Client issues requests to the currently selected aggregator. One Client is
// shared by the queue worker and the heartbeat controller; all methods are
// safe for concurrent use.
type Client struct {
	httpClient *http.Client
	bridge     Resolver
	cfg        Config
	logger     *slog.Logger

	mu         sync.Mutex
	aggregator string
	authClient *auth.Client
	p2p        P2PSignaler
}

// NewClient creates a Client that discovers aggregators through bridge.
func NewClient(cfg Config, bridge Resolver, logger *slog.Logger) (*Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.TLSInsecureSkipVerify,
		},
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
	}

	if cfg.TLSInsecureSkipVerify {
		logger.Warn("TLS certificate verification disabled")
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: transport,
		},
		bridge: bridge,
		cfg:    cfg,
		logger: logger.With("component", "api"),
	}, nil
}

// SetAuthClient attaches an optional OAuth2 bearer-token decorator.
func (c *Client) SetAuthClient(a *auth.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authClient = a
}

// AuthClient returns the attached auth client, or nil.
func (c *Client) AuthClient() *auth.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authClient
}

// SetP2PSignaler attaches the mDNS updater's P2P enable counter.
func (c *Client) SetP2PSignaler(s P2PSignaler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.p2p = s
}

// APIHref returns the currently selected aggregator base URL, or "".
func (c *Client) APIHref() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aggregator
}

// APIVersion returns the Registration API version the client speaks.
func (c *Client) APIVersion() string {
	return c.cfg.APIVersion
}

// InvalidateAggregator clears the cached aggregator URL, forcing a fresh
// discovery on the next Send.
func (c *Client) InvalidateAggregator() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aggregator = ""
}

func (c *Client) currentAggregator() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aggregator
}

func (c *Client) setAggregator(href string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aggregator = href
}

// raiseNoAggregator bumps the P2P enable counter and returns
// ErrNoAggregator. Discovery coming up empty is itself a registry-loss
// signal; the other taxonomy errors leave counting to their callers.
func (c *Client) raiseNoAggregator() error {
	c.mu.Lock()
	p2p := c.p2p
	c.mu.Unlock()
	if p2p != nil {
		p2p.IncP2PEnableCount()
	}
	return ErrNoAggregator
}

// attempt outcomes.
type outcome int

const (
	outcomeReturn    outcome = iota // success, hand body to the caller
	outcomeInvalid                  // 4xx, raise InvalidRequestError
	outcomeAuthRetry                // stale token refreshed, redo this attempt
	outcomeFailover                 // transport failure or unexpected status
)

// Send issues one request against the current aggregator, rotating to
// another on transport failure, with a budget of cfg.Retries attempts.
// body, when non-nil, is serialized as JSON. The response body is returned
// raw; 204 yields nil.
func (c *Client) Send(ctx context.Context, method, path string, body any) ([]byte, error) {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("api: marshal request body: %w", err)
		}
		payload = data
	}

	if c.currentAggregator() == "" {
		c.setAggregator(c.bridge.Resolve(ctx))
	}

	apiPath := "/" + apiNamespace + "/" + aggregatorAPIName + "/" + c.cfg.APIVersion + path

	// An attached auth client is used for the whole call; if a token refresh
	// fails mid-call the remainder of the call runs unauthenticated.
	authClient := c.AuthClient()
	authRetried := false

	for attempt := 0; attempt < c.cfg.Retries; attempt++ {
		aggregator := c.currentAggregator()
		if aggregator == "" {
			c.logger.Warn("no aggregator available on the network")
			return nil, c.raiseNoAggregator()
		}

		url := aggregator + apiPath
		c.logger.Debug("sending request", "method", method, "url", url)

		respBody, status, out := c.once(ctx, method, url, payload, authClient)
		switch out {
		case outcomeReturn:
			return respBody, nil
		case outcomeInvalid:
			c.logger.Warn("client error from aggregator", "status", status, "method", method, "url", url)
			return nil, &InvalidRequestError{StatusCode: status}
		case outcomeAuthRetry:
			if authRetried {
				// Second rejection: drop the decorator for this call.
				c.logger.Error("token still rejected after refresh, detaching auth client")
				authClient = nil
				continue
			}
			authRetried = true
			if err := authClient.Refresh(); err != nil {
				c.logger.Error("token refresh failed, detaching auth client", "error", err)
				authClient = nil
			}
			attempt-- // redo the same attempt
			continue
		case outcomeFailover:
			// Fall through to pick another aggregator.
		}

		c.setAggregator(c.bridge.Resolve(ctx))
		c.logger.Info("updated aggregator", "aggregator", c.currentAggregator(), "attempt", attempt+1)
	}

	return nil, ErrTooManyRetries
}

// once performs a single HTTP exchange and classifies the result.
func (c *Client) once(ctx context.Context, method, url string, payload []byte, authClient *auth.Client) ([]byte, int, outcome) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		c.logger.Warn("create request failed", "error", err, "url", url)
		return nil, 0, outcomeFailover
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authClient != nil {
		if err := authClient.Authorize(req); err != nil {
			// No token to present; try the request unauthenticated.
			c.logger.Warn("could not authorize request", "error", err)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("request failed", "error", err, "url", url)
		return nil, 0, outcomeFailover
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		if err != nil {
			c.logger.Warn("read response failed", "error", err, "url", url)
			return nil, resp.StatusCode, outcomeFailover
		}
		if !strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
			c.logger.Debug("non-JSON response from aggregator", "content_type", resp.Header.Get("Content-Type"))
		}
		return respBody, resp.StatusCode, outcomeReturn

	case resp.StatusCode == http.StatusNoContent:
		return nil, resp.StatusCode, outcomeReturn

	case resp.StatusCode == http.StatusUnauthorized && authClient != nil:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		return nil, resp.StatusCode, outcomeAuthRetry

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, resp.StatusCode, outcomeInvalid

	default:
		// Unexpected status: burn the attempt without raising, matching the
		// upstream registry contract.
		c.logger.Warn("unexpected status from aggregator", "status", resp.StatusCode, "url", url)
		return nil, resp.StatusCode, outcomeFailover
	}
}
