package aggregator

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/mediamesh/nmosd/internal/api"
	"github.com/mediamesh/nmosd/internal/mirror"
)

// queueLoop drains the request queue while the node is believed registered.
// It keeps running after Stop for as long as the node stays registered and
// intents remain queued, so final unregister DELETEs get flushed.
//
// Sends use a background context: per-request timeouts live in the sender,
// and the loops are flag-controlled rather than context-controlled so the
// shutdown drain is not cut short by a cancelled parent context.
func (a *Aggregator) queueLoop() {
	a.logger.Debug("starting HTTP queue processing thread")
	for a.running.Load() || (a.mirror.Registered() && !a.regQueue.Empty()) {
		if !a.mirror.Registered() || a.regQueue.Empty() {
			time.Sleep(a.cfg.QueuePollInterval)
			continue
		}

		item, ok := a.regQueue.TryPop()
		if !ok {
			continue
		}
		if err := a.processIntent(context.Background(), item); err != nil {
			a.mirror.SetRegistered(false)
			a.notifyP2PDisable()
		}
	}
	a.logger.Debug("stopping HTTP queue processing thread")
}

// processIntent applies one intent against the registry. A returned error
// means the registry relationship is in doubt and the node must be marked
// unregistered; client-side rejections are handled in place and do not
// propagate.
func (a *Aggregator) processIntent(ctx context.Context, item Intent) error {
	switch item.Method {
	case http.MethodPost:
		if item.Type == mirror.TypeNode {
			a.postNode(ctx, item.Namespace)
			return nil
		}
		return a.postEntity(ctx, item)

	case http.MethodDelete:
		path := "/" + item.Namespace + "/" + item.Type + "s/" + item.Key
		_, err := a.sender.Send(ctx, http.MethodDelete, path, nil)
		var invalid *api.InvalidRequestError
		if errors.As(err, &invalid) {
			a.logger.Warn("error deleting resource",
				"type", item.Type, "key", item.Key, "status", invalid.StatusCode)
			return nil
		}
		return err

	default:
		a.logger.Warn("method not supported for Registration API interactions", "method", item.Method)
		return nil
	}
}

// postNode registers a node envelope queued while the proxy is registered:
// the resource POST followed immediately by a heartbeat, so the registry
// cannot garbage collect the node before the next periodic heartbeat lands.
// The first registration is not made here: the worker idles while
// unregistered, and the heartbeat controller's re-register pass registers
// the node and discards the queued intent. Failures are logged only; the
// heartbeat controller owns recovery.
func (a *Aggregator) postNode(ctx context.Context, namespace string) {
	node := a.mirror.Node()
	if node == nil {
		return
	}
	a.logger.Info("attempting registration for node", "node_id", node.ID())

	if _, err := a.sender.Send(ctx, http.MethodPost, "/"+namespace, node); err != nil {
		a.logger.Warn("error registering node", "error", err)
		return
	}
	if _, err := a.sender.Send(ctx, http.MethodPost, "/health/nodes/"+node.ID(), nil); err != nil {
		a.logger.Warn("error registering node", "error", err)
		return
	}

	a.mirror.SetRegistered(true)
	a.notifyP2PDisable()
}

// postEntity registers one non-node resource, resolving the payload from
// the mirror at this moment. An intent whose key has left the mirror is a
// no-op; a 4xx is a permanent rejection and evicts the entity.
func (a *Aggregator) postEntity(ctx context.Context, item Intent) error {
	env, ok := a.mirror.GetEntity(item.Namespace, item.Type, item.Key)
	if !ok {
		return nil
	}

	_, err := a.sender.Send(ctx, http.MethodPost, "/"+item.Namespace, env)
	var invalid *api.InvalidRequestError
	if errors.As(err, &invalid) {
		a.logger.Warn("error registering resource",
			"type", item.Type, "key", item.Key, "status", invalid.StatusCode)
		a.mirror.DelEntity(item.Namespace, item.Type, item.Key)
		return nil
	}
	return err
}
