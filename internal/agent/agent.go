package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/errgroup"

	"github.com/mediamesh/nmosd/internal/aggregator"
	"github.com/mediamesh/nmosd/internal/api"
	"github.com/mediamesh/nmosd/internal/auth"
	"github.com/mediamesh/nmosd/internal/discovery"
	"github.com/mediamesh/nmosd/internal/mdns"
)

// Agent wires the registration proxy: mDNS engine and updater, discovery
// bridge, registry client, and the aggregator core.
type Agent struct {
	cfg    *Config
	logger *slog.Logger

	engine     *mdns.ZeroconfEngine
	updater    *mdns.Updater
	aggregator *aggregator.Aggregator

	nodeID string
}

// New builds the proxy stack from cfg. The node's mDNS base record is
// announced immediately.
func New(cfg *Config, logger *slog.Logger) (*Agent, error) {
	engine := mdns.NewZeroconfEngine(cfg.MDNS.Domain, logger)

	updater, err := mdns.NewUpdater(cfg.MDNS, engine, logger)
	if err != nil {
		engine.Shutdown()
		return nil, fmt.Errorf("agent: create mDNS updater: %w", err)
	}

	bridge := discovery.NewBridge(cfg.Discovery, cfg.API.APIVersion, cfg.Scheme(), logger)

	client, err := api.NewClient(cfg.API, bridge, logger)
	if err != nil {
		engine.Shutdown()
		return nil, fmt.Errorf("agent: create registry client: %w", err)
	}
	client.SetP2PSignaler(updater)

	agg, err := aggregator.New(cfg.Aggregator, client, logger)
	if err != nil {
		engine.Shutdown()
		return nil, fmt.Errorf("agent: create aggregator: %w", err)
	}
	agg.SetMDNSNotifier(updater)

	if cfg.Auth.Enabled {
		cc := clientcredentials.Config{
			TokenURL:     cfg.Auth.TokenURL,
			ClientID:     cfg.Auth.ClientID,
			ClientSecret: cfg.Auth.ClientSecret,
			Scopes:       cfg.Auth.Scopes,
		}
		authClient := auth.NewClient(cc.TokenSource(context.Background()))
		client.SetAuthClient(authClient)
		agg.SetAuthClient(authClient)
		logger.Info("OAuth2 bearer-token decoration enabled", "token_url", cfg.Auth.TokenURL)
	}

	nodeID := cfg.Node.ID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}

	return &Agent{
		cfg:        cfg,
		logger:     logger.With("component", "agent"),
		engine:     engine,
		updater:    updater,
		aggregator: agg,
		nodeID:     nodeID,
	}, nil
}

// Aggregator exposes the proxy's application API.
func (a *Agent) Aggregator() *aggregator.Aggregator {
	return a.aggregator
}

// NodeID returns the node's id, generated at construction when not
// configured.
func (a *Agent) NodeID() string {
	return a.nodeID
}

// Run registers the node and runs the proxy's actors until ctx is
// cancelled or the aggregator halts. The aggregator drains pending
// unregisters before the mDNS announcement is withdrawn.
func (a *Agent) Run(ctx context.Context) error {
	a.registerNode()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.updater.Run(gctx)
	})
	g.Go(func() error {
		defer a.engine.Shutdown()
		return a.aggregator.Run(gctx)
	})
	return g.Wait()
}

// registerNode submits the node envelope described by the configuration.
func (a *Agent) registerNode() {
	href := fmt.Sprintf("%s://%s:%d/", a.cfg.Scheme(), a.cfg.Node.Hostname, a.cfg.Node.Port)
	a.logger.Info("registering node", "node_id", a.nodeID, "href", href)

	a.aggregator.Register("node", a.nodeID, map[string]any{
		"id":          a.nodeID,
		"version":     "0:0",
		"label":       a.cfg.Node.Label,
		"description": a.cfg.Node.Description,
		"href":        href,
		"hostname":    a.cfg.Node.Hostname,
		"caps":        map[string]any{},
		"services":    []any{},
	})
}
