// Package aggregator implements the registration proxy core: a local mirror
// of the node and its resources, a queue worker that applies register and
// unregister intents against the Registration API, and a heartbeat
// controller that detects registry loss and drives full re-registration.
package aggregator

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/mediamesh/nmosd/internal/auth"
	"github.com/mediamesh/nmosd/internal/mirror"
	"github.com/mediamesh/nmosd/internal/queue"
)

// ErrUnrecoverable is returned by Run when the registry answered a
// heartbeat with a non-404 client error: a protocol disagreement that
// resending cannot fix.
var ErrUnrecoverable = errors.New("aggregator: unrecoverable registration API response")

// Sender issues one request to the current aggregator, rotating on
// transport failure. Implemented by *api.Client.
type Sender interface {
	Send(ctx context.Context, method, path string, body any) ([]byte, error)
	InvalidateAggregator()
	APIHref() string
	APIVersion() string
}

// MDNSNotifier receives registry-loss signals and resource-churn
// notifications. Implemented by *mdns.Updater.
type MDNSNotifier interface {
	IncP2PEnableCount()
	P2PDisable()
	UpdateMdns(resType, action string)
}

// Status is the proxy's application-visible state.
type Status struct {
	APIHref    string `json:"api_href"`
	APIVersion string `json:"api_version"`
	Registered bool   `json:"registered"`
}

// Aggregator proxies registration state to a distant Registration API,
// locating instances of it on the network, falling back to other ones when
// the current one disappears, and resending data as needed.
type Aggregator struct {
	cfg    Config
	sender Sender
	logger *slog.Logger

	mirror   *mirror.Mirror
	regQueue *queue.Queue[Intent]

	mdns       MDNSNotifier // optional
	authClient *auth.Client // optional, bookkeeping only

	running atomic.Bool
	halted  atomic.Bool
	wg      sync.WaitGroup
	started atomic.Bool
}

// New creates an Aggregator. Run must be called to start the heartbeat and
// queue worker loops.
func New(cfg Config, sender Sender, logger *slog.Logger) (*Aggregator, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Aggregator{
		cfg:      cfg,
		sender:   sender,
		logger:   logger.With("component", "aggregator"),
		mirror:   mirror.New(),
		regQueue: queue.New[Intent](),
	}
	a.running.Store(true)
	return a, nil
}

// SetMDNSNotifier attaches the mDNS updater. Must be called before Run.
func (a *Aggregator) SetMDNSNotifier(n MDNSNotifier) {
	a.mdns = n
}

// SetAuthClient attaches an auth client for registration bookkeeping. The
// sender carries its own reference for request decoration.
func (a *Aggregator) SetAuthClient(c *auth.Client) {
	a.authClient = c
}

// Run starts the heartbeat and queue worker loops and blocks until ctx is
// cancelled, Stop is called, or the heartbeat controller halts on an
// unrecoverable registry response. The worker keeps draining queued DELETEs
// after shutdown begins, for as long as the node is believed registered.
func (a *Aggregator) Run(ctx context.Context) error {
	if !a.started.CompareAndSwap(false, true) {
		return nil
	}

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.heartbeatLoop()
	}()
	go func() {
		defer a.wg.Done()
		a.queueLoop()
	}()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		a.Stop()
		<-done
		return nil
	case <-done:
		if a.halted.Load() {
			return ErrUnrecoverable
		}
		return nil
	}
}

// Stop flips the running flag and joins both loops. Safe to call more than
// once and from multiple goroutines.
func (a *Aggregator) Stop() {
	if a.running.CompareAndSwap(true, false) {
		a.logger.Debug("stopping aggregator proxy")
	}
	a.wg.Wait()
}

// Register registers "resource"-namespace data, including the node.
// Node registration is handled by the controller loops and may take up to a
// heartbeat period to become visible at the registry.
func (a *Aggregator) Register(resType, key string, fields map[string]any) {
	a.RegisterInto(mirror.NamespaceResource, resType, key, fields)
}

// Unregister unregisters "resource"-namespace data, including the node.
func (a *Aggregator) Unregister(resType, key string) {
	a.UnregisterFrom(mirror.NamespaceResource, resType, key)
}

// RegisterInto stores the resource in the local mirror and queues a POST
// intent for the worker.
func (a *Aggregator) RegisterInto(namespace, resType, key string, fields map[string]any) {
	env, hadID := mirror.NewEnvelope(resType, key, fields)
	if !hadID {
		a.logger.Warn("no 'id' present in data, using key", "key", key, "type", resType)
	}
	if !mirror.ValidKey(key) {
		a.logger.Warn("resource key is not a UUID", "key", key, "type", resType)
	}

	if namespace == mirror.NamespaceResource && resType == mirror.TypeNode {
		a.mirror.SetNode(env)
		a.registerAuthClient()
	} else {
		action := "register"
		if _, ok := a.mirror.GetEntity(namespace, resType, key); ok {
			action = "update"
		}
		a.mirror.PutEntity(namespace, resType, key, env)
		a.notifyMdns(resType, action)
	}

	a.queueIntent(http.MethodPost, namespace, resType, key)
}

// UnregisterFrom removes the resource from the local mirror and queues a
// DELETE intent for the worker.
func (a *Aggregator) UnregisterFrom(namespace, resType, key string) {
	if namespace == mirror.NamespaceResource && resType == mirror.TypeNode {
		a.mirror.ClearNode()
	} else if _, ok := a.mirror.GetEntity(namespace, resType, key); ok {
		a.mirror.DelEntity(namespace, resType, key)
		a.notifyMdns(resType, "unregister")
	}

	a.queueIntent(http.MethodDelete, namespace, resType, key)
}

// Status returns the proxy's current view of the registry relationship.
func (a *Aggregator) Status() Status {
	return Status{
		APIHref:    a.sender.APIHref(),
		APIVersion: a.sender.APIVersion(),
		Registered: a.mirror.Registered(),
	}
}

// registerAuthClient records that an auth client was available when the
// node envelope was stored. The client registration dance itself (dynamic
// registration, authorization grants) happens outside the proxy; only the
// token source is consumed here.
func (a *Aggregator) registerAuthClient() {
	if a.authClient == nil {
		return
	}
	a.mirror.SetAuthClientRegistered(true)
}

func (a *Aggregator) queueIntent(method, namespace, resType, key string) {
	a.regQueue.Push(Intent{Method: method, Namespace: namespace, Type: resType, Key: key})
}

func (a *Aggregator) notifyMdns(resType, action string) {
	if a.mdns != nil {
		a.mdns.UpdateMdns(resType, action)
	}
}

func (a *Aggregator) notifyP2PBump() {
	if a.mdns != nil {
		a.mdns.IncP2PEnableCount()
	}
}

func (a *Aggregator) notifyP2PDisable() {
	if a.mdns != nil {
		a.mdns.P2PDisable()
	}
}
