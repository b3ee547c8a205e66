package matching

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Danylo93/uber-like-freelas-sub001/internal/config"
	"github.com/Danylo93/uber-like-freelas-sub001/internal/directions"
	"github.com/Danylo93/uber-like-freelas-sub001/internal/models"
	"github.com/Danylo93/uber-like-freelas-sub001/internal/realtime"
	"github.com/Danylo93/uber-like-freelas-sub001/internal/simulator"
	"github.com/Danylo93/uber-like-freelas-sub001/internal/storage"
)

var userLoc = models.Coordinate{Latitude: -23.5505, Longitude: -46.6333}

type sentMsg struct {
	userID string
	event  realtime.Event
}

type fakeNotifier struct {
	mu         sync.Mutex
	sent       []sentMsg
	broadcasts []realtime.Event
}

func (n *fakeNotifier) Send(userID string, ev realtime.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMsg{userID, ev})
	return nil
}

func (n *fakeNotifier) Broadcast(ev realtime.Event, exclude string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.broadcasts = append(n.broadcasts, ev)
	return 1
}

// fakeExpirer records armed timers and lets tests fire them manually,
// standing in for the 30-second wall clock.
type fakeExpirer struct {
	mu        sync.Mutex
	armed     map[string]func()
	cancelled []string
}

func newFakeExpirer() *fakeExpirer { return &fakeExpirer{armed: make(map[string]func())} }

func (e *fakeExpirer) SetExpiry(id string, ttl time.Duration, fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.armed[id] = fn
}

func (e *fakeExpirer) CancelExpiry(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.armed, id)
	e.cancelled = append(e.cancelled, id)
}

func (e *fakeExpirer) fire(id string) {
	e.mu.Lock()
	fn := e.armed[id]
	delete(e.armed, id)
	e.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func newTestSimulator() *simulator.Simulator {
	bounds := config.BoundingBox{MinLat: -23.65, MaxLat: -23.45, MinLon: -46.75, MaxLon: -46.55}
	sim := simulator.New(simulator.Options{Bounds: bounds, MinutesPerKM: 2, Seed: 7})
	// three providers within 5km of the user, one far away
	sim.Register(models.Provider{ID: "p1", Name: "Ana", Category: models.CategoryCleaning, Coordinate: models.Coordinate{Latitude: -23.552, Longitude: -46.634}, Price: 80, Rating: 4.8, Online: true})
	sim.Register(models.Provider{ID: "p2", Name: "Bruno", Category: models.CategoryCleaning, Coordinate: models.Coordinate{Latitude: -23.556, Longitude: -46.640}, Price: 95, Rating: 4.5, Online: true})
	sim.Register(models.Provider{ID: "p3", Name: "Carla", Category: models.CategoryCleaning, Coordinate: models.Coordinate{Latitude: -23.560, Longitude: -46.645}, Price: 70, Rating: 4.9, Online: true})
	sim.Register(models.Provider{ID: "far", Name: "Davi", Category: models.CategoryCleaning, Coordinate: models.Coordinate{Latitude: -23.645, Longitude: -46.745}, Price: 60, Rating: 4.0, Online: true})
	return sim
}

type testRig struct {
	svc      *Service
	sim      *simulator.Simulator
	store    *storage.MemoryStore
	notifier *fakeNotifier
	expirer  *fakeExpirer
}

func newTestService(t *testing.T) *testRig {
	t.Helper()
	sim := newTestSimulator()
	store := storage.NewMemoryStore()
	notifier := &fakeNotifier{}
	expirer := newFakeExpirer()
	svc := NewService(Options{
		Store:          store,
		Providers:      sim,
		Routes:         directions.NewEngine(nil, nil, func() time.Time { return time.Unix(1700000000, 0) }),
		Notifier:       notifier,
		Expirer:        expirer,
		SearchRadiusKM: 5,
		Now:            func() time.Time { return time.Unix(1700000000, 0) },
	})
	return &testRig{svc: svc, sim: sim, store: store, notifier: notifier, expirer: expirer}
}

func requestCleaning(t *testing.T, svc *Service) *models.ServiceRequest {
	t.Helper()
	req, err := svc.RequestService(context.Background(), "client-1", models.CategoryCleaning, "Faxina", "", "Rua X", userLoc)
	if err != nil {
		t.Fatalf("requestService: %v", err)
	}
	return req
}

func TestRequestServiceFindsSortedProviders(t *testing.T) {
	rig := newTestService(t)
	requestCleaning(t, rig.svc)

	if got := rig.svc.State(); got != StateProvidersFound {
		t.Fatalf("expected providers_found, got %s", got)
	}
	cands := rig.svc.Candidates()
	if len(cands) != 3 {
		t.Fatalf("expected 3 candidates within 5km, got %d", len(cands))
	}
	for i := 1; i < len(cands); i++ {
		if cands[i].DistanceKM < cands[i-1].DistanceKM {
			t.Fatal("candidates not sorted by ascending distance")
		}
	}
	if len(rig.notifier.broadcasts) != 1 {
		t.Fatalf("expected request broadcast to providers, got %d", len(rig.notifier.broadcasts))
	}
}

func TestRequestServiceValidation(t *testing.T) {
	rig := newTestService(t)
	cases := []struct {
		name     string
		clientID string
		category models.ServiceCategory
		title    string
		address  string
	}{
		{"missing title", "c1", models.CategoryCleaning, "", "Rua X"},
		{"missing address", "c1", models.CategoryCleaning, "Faxina", ""},
		{"missing client", "", models.CategoryCleaning, "Faxina", "Rua X"},
		{"bad category", "c1", "massagem", "Faxina", "Rua X"},
	}
	for _, c := range cases {
		_, err := rig.svc.RequestService(context.Background(), c.clientID, c.category, c.title, c.address, c.address, userLoc)
		if !errors.Is(err, ErrValidation) {
			t.Errorf("%s: expected ErrValidation, got %v", c.name, err)
		}
		if rig.svc.State() != StateIdle {
			t.Errorf("%s: state must not change on validation failure", c.name)
		}
	}
}

func TestRequestServiceFromNonIdleRejected(t *testing.T) {
	rig := newTestService(t)
	requestCleaning(t, rig.svc)
	_, err := rig.svc.RequestService(context.Background(), "client-1", models.CategoryCleaning, "Outra", "", "Rua Y", userLoc)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestNoProvidersStaysSearching(t *testing.T) {
	rig := newTestService(t)
	remote := models.Coordinate{Latitude: -23.451, Longitude: -46.551}
	_, err := rig.svc.RequestService(context.Background(), "client-1", models.CategoryCleaning, "Faxina", "", "Rua X", remote)
	if !errors.Is(err, ErrNoProviders) {
		t.Fatalf("expected ErrNoProviders, got %v", err)
	}
	if rig.svc.State() != StateSearching {
		t.Fatalf("expected searching, got %s", rig.svc.State())
	}
}

func TestSelectProviderValidatesCandidate(t *testing.T) {
	rig := newTestService(t)
	if err := rig.svc.SelectProvider("p1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition from idle, got %v", err)
	}
	requestCleaning(t, rig.svc)
	if err := rig.svc.SelectProvider("far"); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
	if err := rig.svc.SelectProvider("p2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rig.svc.State() != StateProviderSelected {
		t.Fatalf("expected provider_selected, got %s", rig.svc.State())
	}
}

func TestConfirmServiceComputesRoute(t *testing.T) {
	rig := newTestService(t)
	requestCleaning(t, rig.svc)
	if err := rig.svc.SelectProvider("p2"); err != nil {
		t.Fatalf("select: %v", err)
	}
	offer, err := rig.svc.ConfirmService(context.Background())
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if offer.Status != models.OfferAccepted {
		t.Fatalf("expected accepted offer, got %s", offer.Status)
	}
	if rig.svc.State() != StateConfirmed {
		t.Fatalf("expected confirmed, got %s", rig.svc.State())
	}
	sess := rig.svc.Snapshot()
	if sess.ActiveRoute == nil || sess.ActiveRoute.DistanceMeters <= 0 {
		t.Fatalf("expected a route with positive distance, got %+v", sess.ActiveRoute)
	}
	// provider must be dispatched toward the client, not teleported
	p, _ := rig.sim.Get("p2")
	if p.SpeedKMH <= 10 {
		t.Fatalf("expected raised provider speed after assign, got %f", p.SpeedKMH)
	}
}

func TestOfferExclusivity(t *testing.T) {
	rig := newTestService(t)
	req := requestCleaning(t, rig.svc)

	offerA := models.Offer{ID: "oA", ServiceRequestID: req.ID, ProviderID: "p1", Price: 80, Status: models.OfferPending}
	offerB := models.Offer{ID: "oB", ServiceRequestID: req.ID, ProviderID: "p2", Price: 95, Status: models.OfferPending}
	rig.svc.HandleOffer(realtime.ServiceOfferEvent{Offer: offerA})
	rig.svc.HandleOffer(realtime.ServiceOfferEvent{Offer: offerB})

	if _, err := rig.svc.AcceptOffer(context.Background(), "oA"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	sess := rig.svc.Snapshot()
	var accepted, rejected int
	for _, o := range sess.Offers {
		switch o.Status {
		case models.OfferAccepted:
			accepted++
		case models.OfferRejected:
			rejected++
		}
	}
	if accepted != 1 || rejected != 1 {
		t.Fatalf("expected 1 accepted and 1 rejected, got %d/%d", accepted, rejected)
	}
	// accepting the loser afterwards must fail
	if _, err := rig.svc.AcceptOffer(context.Background(), "oB"); err == nil {
		t.Fatal("expected error accepting a rejected offer")
	}
}

func TestDuplicateOfferDelivery(t *testing.T) {
	rig := newTestService(t)
	req := requestCleaning(t, rig.svc)
	offer := models.Offer{ID: "o1", ServiceRequestID: req.ID, ProviderID: "p1", Price: 80, Status: models.OfferPending}

	rig.svc.HandleOffer(realtime.ServiceOfferEvent{Offer: offer})
	rig.svc.HandleOffer(realtime.ServiceOfferEvent{Offer: offer})

	if got := len(rig.svc.Snapshot().Offers); got != 1 {
		t.Fatalf("expected exactly one offer entry, got %d", got)
	}
}

func TestStaleOfferDropped(t *testing.T) {
	rig := newTestService(t)
	requestCleaning(t, rig.svc)
	rig.svc.HandleOffer(realtime.ServiceOfferEvent{Offer: models.Offer{ID: "o1", ServiceRequestID: "other-request", ProviderID: "p1"}})
	if got := len(rig.svc.Snapshot().Offers); got != 0 {
		t.Fatalf("expected stale offer dropped, got %d entries", got)
	}
}

func TestLifecycleToCompleted(t *testing.T) {
	rig := newTestService(t)
	req := requestCleaning(t, rig.svc)
	if err := rig.svc.SelectProvider("p1"); err != nil {
		t.Fatal(err)
	}
	if _, err := rig.svc.ConfirmService(context.Background()); err != nil {
		t.Fatal(err)
	}

	rig.svc.HandleStatusUpdate(realtime.ServiceStatusUpdateEvent{ServiceRequestID: req.ID, Status: models.StatusInProgress})
	if rig.svc.State() != StateInProgress {
		t.Fatalf("expected in_progress, got %s", rig.svc.State())
	}

	if err := rig.svc.CompleteService(context.Background()); err != nil {
		t.Fatal(err)
	}
	if rig.svc.State() != StateCompleted {
		t.Fatalf("expected completed, got %s", rig.svc.State())
	}
	stored, err := rig.store.GetRequest(req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != models.StatusCompleted || stored.FinalPrice != 80 {
		t.Fatalf("expected completed with final price 80, got %s/%f", stored.Status, stored.FinalPrice)
	}

	if err := rig.svc.ResetState(); err != nil {
		t.Fatal(err)
	}
	if rig.svc.State() != StateIdle {
		t.Fatalf("expected idle after reset, got %s", rig.svc.State())
	}
}

func TestStatusUpdateIgnoredFromWrongState(t *testing.T) {
	rig := newTestService(t)
	req := requestCleaning(t, rig.svc)
	// in_progress is only valid from confirmed
	rig.svc.HandleStatusUpdate(realtime.ServiceStatusUpdateEvent{ServiceRequestID: req.ID, Status: models.StatusInProgress})
	if rig.svc.State() != StateProvidersFound {
		t.Fatalf("expected providers_found unchanged, got %s", rig.svc.State())
	}
}

func TestCancelFromInProgress(t *testing.T) {
	rig := newTestService(t)
	req := requestCleaning(t, rig.svc)
	if err := rig.svc.SelectProvider("p1"); err != nil {
		t.Fatal(err)
	}
	if _, err := rig.svc.ConfirmService(context.Background()); err != nil {
		t.Fatal(err)
	}
	rig.svc.HandleStatusUpdate(realtime.ServiceStatusUpdateEvent{ServiceRequestID: req.ID, Status: models.StatusInProgress})

	if err := rig.svc.CancelService(context.Background()); err != nil {
		t.Fatal(err)
	}
	if rig.svc.State() != StateIdle {
		t.Fatalf("expected idle, got %s", rig.svc.State())
	}
	sess := rig.svc.Snapshot()
	if sess.ActiveRequest != nil || sess.ActiveRoute != nil || len(sess.Offers) != 0 {
		t.Fatalf("expected empty session, got %+v", sess)
	}
	stored, err := rig.store.GetRequest(req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != models.StatusCancelled {
		t.Fatalf("expected cancelled in store, got %s", stored.Status)
	}
}

func TestCompleteFromCompletedRejected(t *testing.T) {
	rig := newTestService(t)
	if err := rig.svc.CompleteService(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

// cancelMidFetch cancels the session while the route fetch is in
// flight; the resolved route must be discarded.
type cancelMidFetch struct {
	svc   *Service
	inner RoutePlanner
}

func (c *cancelMidFetch) GetRoute(ctx context.Context, o, d models.Coordinate, w []models.Coordinate, opts directions.RouteOptions) (models.Route, error) {
	_ = c.svc.CancelService(ctx)
	return c.inner.GetRoute(ctx, o, d, w, opts)
}

func (c *cancelMidFetch) ClearRoute() { c.inner.ClearRoute() }

func TestCancelDuringRouteFetchDiscardsResult(t *testing.T) {
	rig := newTestService(t)
	planner := &cancelMidFetch{svc: rig.svc, inner: directions.NewEngine(nil, nil, nil)}
	rig.svc.routes = planner

	requestCleaning(t, rig.svc)
	if err := rig.svc.SelectProvider("p1"); err != nil {
		t.Fatal(err)
	}
	if _, err := rig.svc.ConfirmService(context.Background()); err != nil {
		t.Fatal(err)
	}
	if rig.svc.State() != StateIdle {
		t.Fatalf("expected idle after mid-fetch cancel, got %s", rig.svc.State())
	}
	if sess := rig.svc.Snapshot(); sess.ActiveRoute != nil {
		t.Fatal("route resolved after cancel must be discarded")
	}
}
