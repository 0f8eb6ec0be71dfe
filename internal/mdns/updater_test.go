package mdns

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeEngine records registrations and TXT updates.
type fakeEngine struct {
	mu         sync.Mutex
	registered []map[string]string
	updated    []map[string]string
	updateErr  error
}

func (f *fakeEngine) Register(_, _ string, _ int, txt map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = append(f.registered, txt)
	return nil
}

func (f *fakeEngine) Update(_, _ string, txt map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updated = append(f.updated, txt)
	return nil
}

func (f *fakeEngine) updates() []map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]string, len(f.updated))
	copy(out, f.updated)
	return out
}

func newTestUpdater(t *testing.T, cfg Config, engine Engine) *Updater {
	t.Helper()
	if cfg.Name == "" {
		cfg.Name = "node-1"
	}
	if cfg.Port == 0 {
		cfg.Port = 12345
	}
	u, err := NewUpdater(cfg, engine, testLogger())
	require.NoError(t, err)
	return u
}

func TestNewUpdater_AnnouncesBaseRecord(t *testing.T) {
	engine := &fakeEngine{}
	base := map[string]string{"api_ver": "v1.3", "api_proto": "http"}
	newTestUpdater(t, Config{TXTBase: base}, engine)

	require.Len(t, engine.registered, 1)
	assert.Equal(t, base, engine.registered[0])
}

func TestNewUpdater_ValidatesConfig(t *testing.T) {
	_, err := NewUpdater(Config{Port: 80}, &fakeEngine{}, testLogger())
	require.Error(t, err)

	_, err = NewUpdater(Config{Name: "n"}, &fakeEngine{}, testLogger())
	require.Error(t, err)
}

func TestIncP2PEnableCount_CutIn(t *testing.T) {
	engine := &fakeEngine{}
	u := newTestUpdater(t, Config{P2PCutInCount: 5}, engine)

	for i := 0; i < 4; i++ {
		u.IncP2PEnableCount()
		assert.False(t, u.P2PEnabled(), "enabled after %d signals", i+1)
	}
	u.IncP2PEnableCount()
	assert.True(t, u.P2PEnabled())

	// Exactly one merged TXT set queued by the cut-in.
	assert.Equal(t, 1, u.updates.Len())

	// Further signals while enabled change nothing.
	u.IncP2PEnableCount()
	assert.Equal(t, 1, u.updates.Len())
}

func TestP2PDisable_ResetsCounterAndRevertsTXT(t *testing.T) {
	engine := &fakeEngine{}
	base := map[string]string{"api_proto": "http"}
	u := newTestUpdater(t, Config{TXTBase: base, P2PCutInCount: 2}, engine)

	u.IncP2PEnableCount()
	u.IncP2PEnableCount()
	require.True(t, u.P2PEnabled())
	u.updates.Drain()

	u.P2PDisable()
	assert.False(t, u.P2PEnabled())
	txt, ok := u.updates.TryPop()
	require.True(t, ok, "disable queues the base TXT set")
	assert.Equal(t, base, txt)

	// Disabled again: counter reset only, nothing queued.
	u.P2PDisable()
	assert.Equal(t, 0, u.updates.Len())

	// Counter starts over after a disable.
	u.IncP2PEnableCount()
	assert.False(t, u.P2PEnabled())
}

func TestUpdateMdns_BumpsVersionAndQueues(t *testing.T) {
	engine := &fakeEngine{}
	u := newTestUpdater(t, Config{TXTBase: map[string]string{"api_proto": "http"}}, engine)

	// No-op while P2P is off.
	u.UpdateMdns("device", "register")
	assert.Equal(t, 0, u.updates.Len())

	u.P2PEnable()
	u.updates.Drain()

	u.UpdateMdns("device", "register")
	u.UpdateMdns("device", "update")
	u.UpdateMdns("sender", "unregister")

	updates := make([]map[string]string, 0, 3)
	for {
		txt, ok := u.updates.TryPop()
		if !ok {
			break
		}
		updates = append(updates, txt)
	}
	require.Len(t, updates, 3)
	assert.Equal(t, "2", updates[2]["ver_dvc"])
	assert.Equal(t, "1", updates[2]["ver_snd"])
	assert.Equal(t, "0", updates[2]["ver_rcv"])
	assert.Equal(t, "http", updates[2]["api_proto"])

	// Unknown action or unmapped type queues nothing.
	u.UpdateMdns("device", "bounce")
	u.UpdateMdns("widget", "register")
	assert.Equal(t, 0, u.updates.Len())
}

func TestUpdateMdns_VersionWrapsAt255(t *testing.T) {
	engine := &fakeEngine{}
	u := newTestUpdater(t, Config{}, engine)
	u.P2PEnable()

	for i := 0; i < 255; i++ {
		u.UpdateMdns("flow", "update")
	}
	u.updates.Drain()
	u.UpdateMdns("flow", "update")

	txt, ok := u.updates.TryPop()
	require.True(t, ok)
	assert.Equal(t, "0", txt["ver_flw"], "increment past 255 wraps to 0")

	u.UpdateMdns("flow", "update")
	txt, ok = u.updates.TryPop()
	require.True(t, ok)
	assert.Equal(t, "1", txt["ver_flw"])
}

func TestRun_DrainsQueueToEngine(t *testing.T) {
	engine := &fakeEngine{}
	u := newTestUpdater(t, Config{PollInterval: time.Millisecond}, engine)
	u.P2PEnable()
	u.UpdateMdns("device", "register")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = u.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return len(engine.updates()) == 2 // enable + device bump
	}, time.Second, time.Millisecond)

	cancel()
	<-done
}

func TestRun_ServiceNotFoundIsSwallowed(t *testing.T) {
	engine := &fakeEngine{updateErr: ErrServiceNotFound}
	u := newTestUpdater(t, Config{PollInterval: time.Millisecond}, engine)
	u.P2PEnable()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = u.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return u.updates.Len() == 0
	}, time.Second, time.Millisecond)

	cancel()
	<-done
}
