package mdns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/mediamesh/nmosd/internal/queue"
)

// maxServiceVersion is the ceiling of a TXT version counter; increments
// past it wrap to zero.
const maxServiceVersion = 255

// Updater maintains the node's advertised TXT records and the peer-to-peer
// enable state. Registry-loss signals increment an enable counter; at the
// cut-in threshold P2P mode engages and the advertisement grows per-type
// version counters that bump on every resource mutation.
type Updater struct {
	cfg    Config
	engine Engine
	logger *slog.Logger

	mu              sync.Mutex
	serviceVersions map[string]int
	p2pEnable       bool
	p2pEnableCount  int

	updates *queue.Queue[map[string]string]
}

// NewUpdater creates an Updater and announces the base record set.
func NewUpdater(cfg Config, engine Engine, logger *slog.Logger) (*Updater, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	u := &Updater{
		cfg:             cfg,
		engine:          engine,
		logger:          logger.With("component", "mdns"),
		serviceVersions: map[string]int{},
		p2pEnable:       cfg.P2PEnable,
		updates:         queue.New[map[string]string](),
	}
	for _, txtKey := range cfg.Mappings {
		u.serviceVersions[txtKey] = 0
	}

	if err := engine.Register(cfg.Name, cfg.Service, cfg.Port, cfg.TXTBase); err != nil {
		return nil, fmt.Errorf("mdns: announce base record: %w", err)
	}
	return u, nil
}

// Run drains the TXT update queue, applying each set to the engine. It
// polls every cfg.PollInterval when the queue is empty and returns when ctx
// is cancelled; pending updates are discarded.
func (u *Updater) Run(ctx context.Context) error {
	u.logger.Debug("mDNS updater started", "name", u.cfg.Name, "service", u.cfg.Service)
	for {
		if ctx.Err() != nil {
			u.logger.Debug("mDNS updater stopped")
			return nil
		}
		txt, ok := u.updates.TryPop()
		if !ok {
			select {
			case <-ctx.Done():
				u.logger.Debug("mDNS updater stopped")
				return nil
			case <-time.After(u.cfg.PollInterval):
			}
			continue
		}

		if err := u.engine.Update(u.cfg.Name, u.cfg.Service, txt); err != nil {
			if errors.Is(err, ErrServiceNotFound) {
				u.logger.Error("unable to update mDNS record",
					"name", u.cfg.Name, "service", u.cfg.Service)
			} else {
				u.logger.Error("mDNS update failed", "error", err)
			}
		}
	}
}

// UpdateMdns records a resource mutation. With P2P mode engaged, the
// version counter for the type bumps (wrapping past 255) and the merged TXT
// set is queued for announcement.
func (u *Updater) UpdateMdns(resType, action string) {
	if action != "register" && action != "update" && action != "unregister" {
		return
	}

	u.mu.Lock()
	if !u.p2pEnable {
		u.mu.Unlock()
		return
	}
	txtKey, ok := u.cfg.Mappings[resType]
	if !ok {
		u.mu.Unlock()
		return
	}
	u.logger.Debug("mDNS action", "action", action, "type", resType)
	u.serviceVersions[txtKey]++
	if u.serviceVersions[txtKey] > maxServiceVersion {
		u.serviceVersions[txtKey] = 0
	}
	txt := u.mergedTXTLocked()
	u.mu.Unlock()

	u.updates.Push(txt)
}

// IncP2PEnableCount counts one registry-loss signal. At the cut-in
// threshold, P2P mode engages.
func (u *Updater) IncP2PEnableCount() {
	u.mu.Lock()
	if u.p2pEnable {
		u.mu.Unlock()
		return
	}
	u.p2pEnableCount++
	reached := u.p2pEnableCount >= u.cfg.P2PCutInCount
	u.mu.Unlock()

	if reached {
		u.P2PEnable()
	}
}

// P2PEnable engages peer-to-peer mode and queues the merged TXT set.
func (u *Updater) P2PEnable() {
	u.mu.Lock()
	if u.p2pEnable {
		u.mu.Unlock()
		return
	}
	u.p2pEnable = true
	txt := u.mergedTXTLocked()
	u.mu.Unlock()

	u.logger.Info("enabling P2P discovery")
	u.updates.Push(txt)
}

// P2PDisable disengages peer-to-peer mode, reverting the advertisement to
// the base TXT set. The enable counter resets either way.
func (u *Updater) P2PDisable() {
	u.mu.Lock()
	wasEnabled := u.p2pEnable
	u.p2pEnable = false
	u.p2pEnableCount = 0
	var txt map[string]string
	if wasEnabled {
		txt = copyTXT(u.cfg.TXTBase)
	}
	u.mu.Unlock()

	if wasEnabled {
		u.logger.Info("disabling P2P discovery")
		u.updates.Push(txt)
	}
}

// P2PEnabled reports whether peer-to-peer mode is engaged.
func (u *Updater) P2PEnabled() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.p2pEnable
}

// mergedTXTLocked returns base ∪ service versions. Callers hold u.mu.
func (u *Updater) mergedTXTLocked() map[string]string {
	txt := copyTXT(u.cfg.TXTBase)
	for key, version := range u.serviceVersions {
		txt[key] = strconv.Itoa(version)
	}
	return txt
}

func copyTXT(src map[string]string) map[string]string {
	txt := make(map[string]string, len(src))
	for k, v := range src {
		txt[k] = v
	}
	return txt
}
