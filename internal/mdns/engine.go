// Package mdns maintains the node's own mDNS advertisement. In peer-to-peer
// mode the TXT records carry per-type version counters so peers can detect
// resource churn without a central registry.
package mdns

import "errors"

// ErrServiceNotFound is returned by Update when no record with the given
// name and service type is registered.
var ErrServiceNotFound = errors.New("mdns: service not found")

// Engine is the handle to the mDNS responder. Register announces a service;
// Update replaces the TXT records of an already-announced one.
type Engine interface {
	Register(name, service string, port int, txt map[string]string) error
	Update(name, service string, txt map[string]string) error
}
