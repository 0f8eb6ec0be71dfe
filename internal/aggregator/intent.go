package aggregator

// Intent is one queued register/unregister operation. POST payloads are
// resolved from the mirror at dequeue time, never snapshotted here, so the
// latest version of a resource wins and obsolete intents are harmless.
type Intent struct {
	Method    string // "POST" or "DELETE"
	Namespace string
	Type      string
	Key       string
}
