package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// wireEvent is the broadcast form of an Event; the payload stays raw
// until the type tag selects the concrete variant.
type wireEvent struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Metadata  Metadata        `json:"metadata"`
	Priority  int             `json:"priority"`
}

// Marshal serializes an event for broadcast.
func Marshal(event Event) ([]byte, error) {
	raw, err := json.Marshal(event.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for %s: %w", event.Type, err)
	}
	return json.Marshal(wireEvent{
		ID:        event.ID,
		Type:      event.Type,
		Timestamp: event.Timestamp,
		Payload:   raw,
		Metadata:  event.Metadata,
		Priority:  event.Priority,
	})
}

// Unmarshal decodes a broadcast message back into a typed event.
func Unmarshal(data []byte) (Event, error) {
	var wire wireEvent
	if err := json.Unmarshal(data, &wire); err != nil {
		return Event{}, fmt.Errorf("unmarshal event envelope: %w", err)
	}

	payload, err := decodePayload(wire.Type, wire.Payload)
	if err != nil {
		return Event{}, err
	}

	return Event{
		ID:        wire.ID,
		Type:      wire.Type,
		Timestamp: wire.Timestamp,
		Payload:   payload,
		Metadata:  wire.Metadata,
		Priority:  wire.Priority,
	}, nil
}

func decodePayload(eventType EventType, raw json.RawMessage) (Payload, error) {
	var payload Payload
	switch eventType {
	case EventTicketCreated:
		payload = &TicketCreatedPayload{}
	case EventTicketUpdated:
		payload = &TicketUpdatedPayload{}
	case EventTicketStatusChanged:
		payload = &TicketStatusChangedPayload{}
	case EventTicketEscalated:
		payload = &TicketEscalatedPayload{}
	case EventPrioritizationApplied:
		payload = &PrioritizationAppliedPayload{}
	case EventAssignmentApplied:
		payload = &AssignmentAppliedPayload{}
	case EventSLAWarning:
		payload = &SLAWarningPayload{}
	case EventSLABreached:
		payload = &SLABreachedPayload{}
	default:
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}

	if len(raw) > 0 {
		if err := json.Unmarshal(raw, payload); err != nil {
			return nil, fmt.Errorf("unmarshal %s payload: %w", eventType, err)
		}
	}
	return deref(payload), nil
}

// deref returns the value form so handlers can type-switch on concrete
// structs regardless of which side of the wire the event came from.
func deref(p Payload) Payload {
	switch v := p.(type) {
	case *TicketCreatedPayload:
		return *v
	case *TicketUpdatedPayload:
		return *v
	case *TicketStatusChangedPayload:
		return *v
	case *TicketEscalatedPayload:
		return *v
	case *PrioritizationAppliedPayload:
		return *v
	case *AssignmentAppliedPayload:
		return *v
	case *SLAWarningPayload:
		return *v
	case *SLABreachedPayload:
		return *v
	}
	return p
}
