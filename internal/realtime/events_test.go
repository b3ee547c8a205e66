package realtime

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/Danylo93/uber-like-freelas-sub001/internal/models"
)

func TestDecodeEventPopulatesVariant(t *testing.T) {
	data, err := json.Marshal(ServiceOfferEvent{Offer: models.Offer{ID: "o1", ServiceRequestID: "r1", Price: 80}})
	if err != nil {
		t.Fatal(err)
	}
	ev, err := decodeEvent(Envelope{Type: EventServiceOffer, Data: data})
	if err != nil {
		t.Fatal(err)
	}
	offer, ok := ev.(ServiceOfferEvent)
	if !ok {
		t.Fatalf("expected ServiceOfferEvent, got %T", ev)
	}
	if offer.Offer.ID != "o1" || offer.Offer.Price != 80 {
		t.Fatalf("decoded payload incomplete: %+v", offer.Offer)
	}
}

func TestDecodeEventBadPayload(t *testing.T) {
	_, err := decodeEvent(Envelope{Type: EventServiceOffer, Data: json.RawMessage(`{"offer":`)})
	if err == nil {
		t.Fatal("expected decode error for truncated payload")
	}
}

func TestDecodeEventUnknownType(t *testing.T) {
	_, err := decodeEvent(Envelope{Type: "mystery", Data: json.RawMessage(`{}`)})
	var unknown errUnknownEventType
	if !errors.As(err, &unknown) {
		t.Fatalf("expected unknown-type error, got %v", err)
	}
}
