// Package contracts provides the core data model for the RedCapped queue engine.
//
// This package defines the types that flow through the system:
//   - Message: Base interface implemented by all published payloads
//   - BaseMessage: Embeddable implementation with generated ID and timestamp
//   - Envelope: Wraps a payload with delivery metadata for the log store
//   - Header: Delivery metadata (schema tag, QoS, acknowledgment, retry budget)
//   - QoS: Per-publish durability level
//
// All types are designed to be JSON-serializable so any log store backend can
// persist them without coupling to a particular storage engine.
package contracts
