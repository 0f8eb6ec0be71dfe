package mirror

import "github.com/google/uuid"

// Envelope is the wire form of a registered resource:
// {"type": <type>, "data": <payload>}.
type Envelope struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// NewEnvelope builds an envelope for the given type and payload. The payload
// must carry an "id" field; if absent, key is copied in and the second
// return is false so the caller can log a warning.
func NewEnvelope(resType, key string, fields map[string]any) (*Envelope, bool) {
	data := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		data[k] = v
	}
	hadID := true
	if _, ok := data["id"]; !ok {
		data["id"] = key
		hadID = false
	}
	return &Envelope{Type: resType, Data: data}, hadID
}

// ID returns the envelope's data.id as a string, or "" when missing or not
// a string.
func (e *Envelope) ID() string {
	if e == nil || e.Data == nil {
		return ""
	}
	id, _ := e.Data["id"].(string)
	return id
}

// ValidKey reports whether key parses as a UUID. Keys should be UUIDs; the
// caller warns on violations rather than rejecting them.
func ValidKey(key string) bool {
	return uuid.Validate(key) == nil
}
