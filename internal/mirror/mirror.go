// Package mirror holds the proxy's local copy of everything it believes is
// (or should be) registered with the Registration API: the node envelope and
// the tree of subordinate resources, keyed by namespace, type, and key.
package mirror

import "sync"

// NamespaceResource is the only namespace currently used; namespaces are a
// pre-existing extension point.
const NamespaceResource = "resource"

// TypeNode is the resource type of the root node envelope.
const TypeNode = "node"

// RegistrationOrder is the fixed type order for re-registration. Types not
// in this list are registered after, in unspecified order.
var RegistrationOrder = []string{"device", "source", "flow", "sender", "receiver"}

// Entry identifies one mirrored entity in a snapshot.
type Entry struct {
	Namespace string
	Type      string
	Key       string
}

// Mirror is the thread-safe local mirror. Mutation is confined to the
// proxy's own control paths; the mutex is never held across a network call.
type Mirror struct {
	mu                   sync.Mutex
	node                 *Envelope
	registered           bool
	authClientRegistered bool
	entities             map[string]map[string]map[string]*Envelope
}

// New creates an empty mirror.
func New() *Mirror {
	return &Mirror{
		entities: map[string]map[string]map[string]*Envelope{
			NamespaceResource: {},
		},
	}
}

// SetNode stores the node envelope, replacing any previous one.
func (m *Mirror) SetNode(env *Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.node = env
}

// ClearNode removes the node envelope.
func (m *Mirror) ClearNode() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.node = nil
}

// Node returns the current node envelope, or nil if none is held.
func (m *Mirror) Node() *Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.node
}

// NodeID returns the id of the current node envelope, or "" if no node is
// held.
func (m *Mirror) NodeID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.node == nil {
		return ""
	}
	return m.node.ID()
}

// SetRegistered records the controller's belief about registry state.
func (m *Mirror) SetRegistered(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registered = v
}

// Registered reports the controller's belief about registry state.
func (m *Mirror) Registered() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registered
}

// SetAuthClientRegistered records that an auth client was registered when
// the node envelope was stored.
func (m *Mirror) SetAuthClientRegistered(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authClientRegistered = v
}

// AuthClientRegistered reports the auth bookkeeping bit.
func (m *Mirror) AuthClientRegistered() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authClientRegistered
}

// PutEntity stores an envelope under (namespace, type, key), creating the
// intermediate maps as needed.
func (m *Mirror) PutEntity(namespace, resType, key string, env *Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.entities[namespace]
	if !ok {
		ns = map[string]map[string]*Envelope{}
		m.entities[namespace] = ns
	}
	byKey, ok := ns[resType]
	if !ok {
		byKey = map[string]*Envelope{}
		ns[resType] = byKey
	}
	byKey[key] = env
}

// DelEntity removes the envelope under (namespace, type, key). Removing an
// absent key is a no-op.
func (m *Mirror) DelEntity(namespace, resType, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if byKey, ok := m.entities[namespace][resType]; ok {
		delete(byKey, key)
	}
}

// GetEntity returns the envelope under (namespace, type, key), or nil and
// false when absent.
func (m *Mirror) GetEntity(namespace, resType, key string) (*Envelope, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	env, ok := m.entities[namespace][resType][key]
	return env, ok
}

// Snapshot returns the identities of all mirrored entities, grouped by type
// in the given order first, then all remaining types in unspecified order.
// Within a type, all namespaces are covered.
func (m *Mirror) Snapshot(order []string) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	ordered := make(map[string]bool, len(order))
	var out []Entry

	for _, resType := range order {
		ordered[resType] = true
		for namespace, byType := range m.entities {
			for key := range byType[resType] {
				out = append(out, Entry{Namespace: namespace, Type: resType, Key: key})
			}
		}
	}
	for namespace, byType := range m.entities {
		for resType, byKey := range byType {
			if ordered[resType] {
				continue
			}
			for key := range byKey {
				out = append(out, Entry{Namespace: namespace, Type: resType, Key: key})
			}
		}
	}
	return out
}
