package aggregator

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/mediamesh/nmosd/internal/api"
	"github.com/mediamesh/nmosd/internal/mirror"
)

// heartbeatLoop refreshes the registry's liveness record for the node every
// heartbeat period, and drives re-registration whenever the node is not
// believed registered. The wait is sliced into ticks so Stop interrupts it
// promptly.
func (a *Aggregator) heartbeatLoop() {
	a.logger.Debug("starting heartbeat thread")
	ticks := int(a.cfg.HeartbeatInterval / a.cfg.TickInterval)
	if ticks < 1 {
		ticks = 1
	}

	for a.running.Load() {
		a.heartbeat(context.Background())
		for i := 0; i < ticks && a.running.Load(); i++ {
			time.Sleep(a.cfg.TickInterval)
		}
	}
	a.logger.Debug("stopping heartbeat thread")
}

// heartbeat performs one controller pass.
func (a *Aggregator) heartbeat(ctx context.Context) {
	if !a.mirror.Registered() {
		a.reregister(ctx)
		return
	}

	node := a.mirror.Node()
	if node == nil {
		a.mirror.SetRegistered(false)
		a.notifyP2PBump()
		return
	}

	a.logger.Debug("sending heartbeat for node", "node_id", node.ID())
	_, err := a.sender.Send(ctx, http.MethodPost, "/health/nodes/"+node.ID(), nil)
	if err == nil {
		return
	}

	var invalid *api.InvalidRequestError
	if errors.As(err, &invalid) {
		if invalid.StatusCode == http.StatusNotFound {
			a.logger.Warn("404 error on heartbeat, marking node for re-registration")
			a.mirror.SetRegistered(false)
			a.notifyP2PBump()
			return
		}
		// Protocol disagreement with the registry. Not recoverable by
		// resending; halt the proxy.
		a.logger.Error("unrecoverable error code received from Registration API on heartbeat",
			"status", invalid.StatusCode)
		a.halted.Store(true)
		a.running.Store(false)
		return
	}

	a.logger.Warn("unexpected error on heartbeat, marking node for re-registration", "error", err)
	a.mirror.SetRegistered(false)
}

// reregister clears any stale node record at the registry, registers the
// node afresh, and re-queues every mirrored resource in dependency order.
func (a *Aggregator) reregister(ctx context.Context) {
	node := a.mirror.Node()
	if node == nil {
		a.logger.Debug("no node registered, re-register returning")
		return
	}

	// The registry garbage-collects nodes on heartbeat loss; an in-flight
	// re-register can race that and leave duplicate IDs or stale
	// sub-resources behind. Deleting first is idempotent cleanup.
	a.logger.Debug("clearing old node from API prior to re-registration")
	_, err := a.sender.Send(ctx, http.MethodDelete, "/resource/nodes/"+node.ID(), nil)
	if err != nil {
		var invalid *api.InvalidRequestError
		if errors.As(err, &invalid) {
			// 404 etc is fine, there was nothing to clear.
			a.logger.Info("invalid request when deleting node prior to registration",
				"status", invalid.StatusCode)
		} else {
			a.logger.Error("aborting node re-register", "error", err)
			return
		}
	}

	a.mirror.SetRegistered(false)
	a.notifyP2PBump()

	// Anything still queued is superseded by the bulk re-enqueue below.
	if n := a.regQueue.Drain(); n > 0 {
		a.logger.Debug("discarded queued requests before re-registration", "count", n)
	}

	a.logger.Info("attempting re-registration for node", "node_id", node.ID())
	_, err = a.sender.Send(ctx, http.MethodPost, "/resource", node)
	if err == nil {
		// Heartbeat immediately so the fresh registration cannot be garbage
		// collected before the next periodic pass.
		_, err = a.sender.Send(ctx, http.MethodPost, "/health/nodes/"+node.ID(), nil)
	}
	if err != nil {
		a.logger.Warn("error re-registering node", "error", err)
		// Force a fresh discovery next attempt, in case the registry issued
		// a 4xx incorrectly and we would otherwise be stuck with it.
		a.sender.InvalidateAggregator()
		return
	}

	a.mirror.SetRegistered(true)
	a.notifyP2PDisable()

	for _, entry := range a.mirror.Snapshot(mirror.RegistrationOrder) {
		a.queueIntent(http.MethodPost, entry.Namespace, entry.Type, entry.Key)
	}
}
