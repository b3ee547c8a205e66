package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Danylo93/uber-like-freelas-sub001/internal/models"
)

type EventType string

const (
	EventNewServiceRequest    EventType = "new_service_request"
	EventServiceStatusUpdate  EventType = "service_status_update"
	EventServiceOffer         EventType = "service_offer"
	EventProviderStatusChange EventType = "provider_status_change"
	EventLocationUpdate       EventType = "location_update"
)

// Envelope is the wire shape for every realtime message, inbound and
// outbound: a type tag plus a type-specific payload.
type Envelope struct {
	Type      EventType       `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
}

// Event is the decoded, typed form of an envelope payload. The variants
// below form a closed set keyed by EventType.
type Event interface{ isEvent() }

type NewServiceRequestEvent struct {
	Request models.ServiceRequest `json:"request"`
}

type ServiceStatusUpdateEvent struct {
	ServiceRequestID string               `json:"service_request_id"`
	Status           models.ServiceStatus `json:"status"`
	ProviderID       string               `json:"provider_id,omitempty"`
}

type ServiceOfferEvent struct {
	Offer models.Offer `json:"offer"`
}

type ProviderStatusChangeEvent struct {
	ProviderID string `json:"provider_id"`
	Online     bool   `json:"is_online"`
}

type LocationUpdateEvent struct {
	UserID   string            `json:"user_id"`
	Location models.Coordinate `json:"location"`
}

func (NewServiceRequestEvent) isEvent()    {}
func (ServiceStatusUpdateEvent) isEvent()  {}
func (ServiceOfferEvent) isEvent()         {}
func (ProviderStatusChangeEvent) isEvent() {}
func (LocationUpdateEvent) isEvent()       {}

// errUnknownEventType marks envelopes whose type tag is not in the
// closed set. Unknown types are logged and ignored, never fatal.
type errUnknownEventType struct{ t EventType }

func (e errUnknownEventType) Error() string {
	return fmt.Sprintf("realtime: unknown event type %q", e.t)
}

func decodeEvent(env Envelope) (Event, error) {
	switch env.Type {
	case EventNewServiceRequest:
		var ev NewServiceRequestEvent
		err := unmarshal(env.Data, &ev)
		return ev, err
	case EventServiceStatusUpdate:
		var ev ServiceStatusUpdateEvent
		err := unmarshal(env.Data, &ev)
		return ev, err
	case EventServiceOffer:
		var ev ServiceOfferEvent
		err := unmarshal(env.Data, &ev)
		return ev, err
	case EventProviderStatusChange:
		var ev ProviderStatusChangeEvent
		err := unmarshal(env.Data, &ev)
		return ev, err
	case EventLocationUpdate:
		var ev LocationUpdateEvent
		err := unmarshal(env.Data, &ev)
		return ev, err
	default:
		return nil, errUnknownEventType{env.Type}
	}
}

func unmarshal(data json.RawMessage, v Event) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("realtime: decode %T: %w", v, err)
	}
	return nil
}

// NewEnvelope wraps a typed event back into its wire form. The type tag
// is derived from the variant, so callers cannot mismatch them.
func NewEnvelope(ev Event, now time.Time) (Envelope, error) {
	var t EventType
	switch ev.(type) {
	case NewServiceRequestEvent, *NewServiceRequestEvent:
		t = EventNewServiceRequest
	case ServiceStatusUpdateEvent, *ServiceStatusUpdateEvent:
		t = EventServiceStatusUpdate
	case ServiceOfferEvent, *ServiceOfferEvent:
		t = EventServiceOffer
	case ProviderStatusChangeEvent, *ProviderStatusChangeEvent:
		t = EventProviderStatusChange
	case LocationUpdateEvent, *LocationUpdateEvent:
		t = EventLocationUpdate
	default:
		return Envelope{}, fmt.Errorf("realtime: cannot build envelope for %T", ev)
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("realtime: encode %T: %w", ev, err)
	}
	return Envelope{Type: t, Data: data, Timestamp: now}, nil
}
