package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/Danylo93/uber-like-freelas-sub001/internal/models"
)

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestDispatchRoutesByType(t *testing.T) {
	r := NewRouter(nil)
	var gotOffer *ServiceOfferEvent
	var statusCalls int
	r.Handle(EventServiceOffer, func(ev Event) {
		o := ev.(ServiceOfferEvent)
		gotOffer = &o
	})
	r.Handle(EventServiceStatusUpdate, func(ev Event) { statusCalls++ })

	offer := models.Offer{ID: "o1", ServiceRequestID: "s1", ProviderID: "p1", Price: 120, Status: models.OfferPending}
	env := Envelope{Type: EventServiceOffer, Data: mustJSON(t, ServiceOfferEvent{Offer: offer})}
	r.Dispatch(mustJSON(t, env))

	if gotOffer == nil || gotOffer.Offer.ID != "o1" {
		t.Fatalf("offer handler not invoked correctly: %+v", gotOffer)
	}
	if statusCalls != 0 {
		t.Fatal("status handler must not fire for offer events")
	}
}

func TestDispatchIgnoresUnknownType(t *testing.T) {
	r := NewRouter(nil)
	called := false
	r.Handle(EventServiceOffer, func(Event) { called = true })

	r.Dispatch([]byte(`{"type":"chat_message","data":{"text":"oi"}}`))
	r.Dispatch([]byte(`not even json`))
	r.Dispatch([]byte(`{"type":"service_offer","data":"mismatched"}`))

	if called {
		t.Fatal("handler must not fire for unknown or malformed input")
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 0)
	ev := ProviderStatusChangeEvent{ProviderID: "p1", Online: true}
	env, err := NewEnvelope(ev, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.Type != EventProviderStatusChange {
		t.Fatalf("unexpected type %s", env.Type)
	}
	decoded, err := decodeEvent(env)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := decoded.(ProviderStatusChangeEvent); got != ev {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestExpiryFiresOnce(t *testing.T) {
	r := NewRouter(nil)
	fired := make(chan struct{}, 2)
	r.SetExpiry("s1", 10*time.Millisecond, func() { fired <- struct{}{} })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("expiry did not fire")
	}
	if r.PendingExpiries() != 0 {
		t.Fatal("timer must be released after firing")
	}
}

func TestExpiryCancel(t *testing.T) {
	r := NewRouter(nil)
	fired := make(chan struct{}, 1)
	r.SetExpiry("s1", 20*time.Millisecond, func() { fired <- struct{}{} })
	r.CancelExpiry("s1")
	r.CancelExpiry("unknown") // no-op

	select {
	case <-fired:
		t.Fatal("cancelled expiry must not fire")
	case <-time.After(60 * time.Millisecond):
	}
	if r.PendingExpiries() != 0 {
		t.Fatal("cancelled timer must be released")
	}
}

func TestExpiryRearmReplacesTimer(t *testing.T) {
	r := NewRouter(nil)
	firstFired := make(chan struct{}, 1)
	secondFired := make(chan struct{}, 1)
	r.SetExpiry("s1", 10*time.Millisecond, func() { firstFired <- struct{}{} })
	r.SetExpiry("s1", 30*time.Millisecond, func() { secondFired <- struct{}{} })

	select {
	case <-firstFired:
		t.Fatal("replaced timer must not fire")
	case <-secondFired:
	case <-time.After(time.Second):
		t.Fatal("re-armed expiry did not fire")
	}
}
