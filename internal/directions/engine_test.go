package directions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Danylo93/uber-like-freelas-sub001/internal/models"
)

var (
	testOrigin = models.Coordinate{Latitude: -23.5505, Longitude: -46.6333}
	testDest   = models.Coordinate{Latitude: -23.5614, Longitude: -46.6559}
)

// failingProvider simulates an unreachable directions API.
type failingProvider struct{ calls int }

func (f *failingProvider) Route(ctx context.Context, o, d models.Coordinate, w []models.Coordinate, opts RouteOptions) (models.Route, error) {
	f.calls++
	return models.Route{}, errors.New("REQUEST_DENIED")
}

func fixedNow() time.Time { return time.Unix(1700000000, 0) }

func TestMockProviderRouteShape(t *testing.T) {
	m := NewMockProvider()
	route, err := m.Route(context.Background(), testOrigin, testDest, nil, RouteOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(route.Steps) < 1 {
		t.Fatal("expected at least one step")
	}
	for i, st := range route.Steps {
		if st.Index != i {
			t.Fatalf("step %d has index %d, want contiguous from 0", i, st.Index)
		}
	}
	if route.DistanceMeters <= 0 || route.DurationSeconds <= 0 {
		t.Fatalf("expected positive distance/duration, got %f/%f", route.DistanceMeters, route.DurationSeconds)
	}
	if len(route.Polyline) < 2 {
		t.Fatalf("expected polyline points, got %d", len(route.Polyline))
	}
}

func TestMockProviderDeterministic(t *testing.T) {
	m := NewMockProvider()
	a, _ := m.Route(context.Background(), testOrigin, testDest, nil, RouteOptions{})
	b, _ := m.Route(context.Background(), testOrigin, testDest, nil, RouteOptions{})
	if a.DistanceMeters != b.DistanceMeters || len(a.Steps) != len(b.Steps) {
		t.Fatal("expected identical routes for identical inputs")
	}
}

func TestMockProviderWaypoints(t *testing.T) {
	m := NewMockProvider()
	way := models.Coordinate{Latitude: -23.5550, Longitude: -46.6400}
	direct, _ := m.Route(context.Background(), testOrigin, testDest, nil, RouteOptions{})
	viaWay, err := m.Route(context.Background(), testOrigin, testDest, []models.Coordinate{way}, RouteOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if viaWay.DistanceMeters < direct.DistanceMeters {
		t.Fatal("route through a waypoint should not be shorter than the direct route")
	}
}

func TestEngineFallsBackWhenProviderFails(t *testing.T) {
	fp := &failingProvider{}
	e := NewEngine(fp, nil, fixedNow)
	route, err := e.GetRoute(context.Background(), testOrigin, testDest, nil, RouteOptions{})
	if err != nil {
		t.Fatalf("fallback should absorb provider failure, got %v", err)
	}
	if fp.calls != 1 {
		t.Fatalf("expected one provider attempt, got %d", fp.calls)
	}
	if len(route.Steps) == 0 {
		t.Fatal("expected synthetic route steps")
	}
	if !route.ETA.Equal(fixedNow().Add(time.Duration(route.DurationSeconds * float64(time.Second)))) {
		t.Fatal("ETA must be now + duration")
	}
}

func TestStartNavigationWithoutRoute(t *testing.T) {
	e := NewEngine(nil, nil, fixedNow)
	if err := e.StartNavigation(); !errors.Is(err, ErrNoActiveRoute) {
		t.Fatalf("expected ErrNoActiveRoute, got %v", err)
	}
}

func TestNavigationAdvancesAndCompletes(t *testing.T) {
	e := NewEngine(nil, nil, fixedNow)
	route, err := e.GetRoute(context.Background(), testOrigin, testDest, nil, RouteOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := e.StartNavigation(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	prevRemaining := e.RemainingDistance()
	if prevRemaining <= 0 {
		t.Fatal("expected positive remaining distance at start")
	}

	for _, st := range route.Steps {
		// position far from the step end must not advance
		e.UpdateCurrentLocation(models.Coordinate{Latitude: st.End.Latitude + 0.01, Longitude: st.End.Longitude})
		// arriving at the step end advances
		e.UpdateCurrentLocation(st.End)
		remaining := e.RemainingDistance()
		if remaining > prevRemaining {
			t.Fatalf("remaining distance increased: %f -> %f", prevRemaining, remaining)
		}
		prevRemaining = remaining
	}

	if e.Navigating() {
		t.Fatal("expected navigation complete after final step")
	}
	if got := e.ProgressPercentage(); got != 100 {
		t.Fatalf("expected 100%% progress, got %f", got)
	}
	if e.RemainingDistance() != 0 || e.RemainingTime() != 0 {
		t.Fatal("expected zero remaining distance and time at completion")
	}
}

func TestRecalculateRequiresCachedQuery(t *testing.T) {
	e := NewEngine(nil, nil, fixedNow)
	if _, err := e.RecalculateRoute(context.Background()); !errors.Is(err, ErrNoActiveRoute) {
		t.Fatalf("expected ErrNoActiveRoute, got %v", err)
	}
}

func TestRecalculateUsesLastKnownLocation(t *testing.T) {
	e := NewEngine(nil, nil, fixedNow)
	if _, err := e.GetRoute(context.Background(), testOrigin, testDest, nil, RouteOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	midway := models.Coordinate{Latitude: -23.5560, Longitude: -46.6450}
	e.UpdateCurrentLocation(midway)

	route, err := e.RecalculateRoute(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first := route.Steps[0].Start
	if first != midway {
		t.Fatalf("recalculated route should start at last location, got %+v", first)
	}
}

func TestClearRouteResetsState(t *testing.T) {
	e := NewEngine(nil, nil, fixedNow)
	if _, err := e.GetRoute(context.Background(), testOrigin, testDest, nil, RouteOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e.ClearRoute()
	if _, ok := e.ActiveRoute(); ok {
		t.Fatal("expected no active route after clear")
	}
	if err := e.StartNavigation(); !errors.Is(err, ErrNoActiveRoute) {
		t.Fatalf("expected ErrNoActiveRoute after clear, got %v", err)
	}
	if e.ProgressPercentage() != 0 {
		t.Fatal("expected zero progress after clear")
	}
}
