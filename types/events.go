// Package types defines the core domain types shared by the sluice pipeline.
//
//nolint:revive // types is a common Go package naming convention
package types

// ContractVersion is the version of the downstream event contract.
const ContractVersion = "0.3.0"

// EventName is the name of an event on the downstream push channel.
type EventName string

// Downstream event names.
const (
	EventContentDelta     EventName = "content_delta"
	EventThought          EventName = "thought"
	EventFunctionCall     EventName = "function_call"
	EventFunctionResponse EventName = "function_response"
	EventMessageComplete  EventName = "message_complete"
	EventError            EventName = "error"
	EventMetadata         EventName = "metadata"
)

// IsTerminal returns true if no further events follow this one on a stream.
func (e EventName) IsTerminal() bool {
	return e == EventMessageComplete || e == EventError
}

// EventNameFor maps a fragment kind to the event that carries it downstream.
// Unknown fragments travel as metadata.
func EventNameFor(kind FragmentKind) EventName {
	switch kind {
	case FragmentTextDelta:
		return EventContentDelta
	case FragmentThought:
		return EventThought
	case FragmentFunctionCall:
		return EventFunctionCall
	case FragmentFunctionResponse:
		return EventFunctionResponse
	default:
		return EventMetadata
	}
}

// CanonicalEvent is a single event delivered to the client.
type CanonicalEvent struct {
	// Seq is assigned when the event is accepted for delivery.
	// Strictly increasing within a stream, starts at 1.
	Seq int64 `json:"seq" msgpack:"seq"`
	// Name is the event name.
	Name EventName `json:"event" msgpack:"event"`
	// Kind is the fragment kind the event was derived from, if any.
	Kind FragmentKind `json:"kind,omitempty" msgpack:"kind,omitempty"`
	// StreamID identifies the stream the event belongs to.
	StreamID string `json:"stream_id" msgpack:"stream_id"`
	// Ts is the acceptance timestamp in RFC 3339 UTC.
	Ts string `json:"ts" msgpack:"ts"`
	// Payload is the event body.
	Payload map[string]any `json:"payload" msgpack:"payload"`
	// Complete marks events whose payload will not be extended by later events.
	Complete bool `json:"complete" msgpack:"complete"`
}

// MessageID returns the message_id carried in the payload, or "".
func (e *CanonicalEvent) MessageID() string {
	if e == nil || e.Payload == nil {
		return ""
	}
	id, _ := e.Payload["message_id"].(string)
	return id
}
