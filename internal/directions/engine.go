// Package directions produces navigable routes and tracks progress along
// them. Route computation prefers a real provider but always degrades to
// the deterministic mock so the system stays usable offline.
package directions

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Danylo93/uber-like-freelas-sub001/internal/geo"
	"github.com/Danylo93/uber-like-freelas-sub001/internal/models"
	"github.com/Danylo93/uber-like-freelas-sub001/internal/observability"
)

// ErrNoRouteFound means both the real provider and the synthetic
// fallback failed to produce a route.
var ErrNoRouteFound = errors.New("directions: no route found")

// ErrNoActiveRoute is returned when navigation is requested before a
// route has been computed.
var ErrNoActiveRoute = errors.New("directions: no active route")

// stepArrivalMeters is the proximity threshold that advances navigation
// to the next step.
const stepArrivalMeters = 50.0

// Engine computes routes and tracks step-by-step progress. All methods
// are safe for concurrent use.
type Engine struct {
	provider RouteProvider // optional, may be nil
	fallback RouteProvider
	logger   *slog.Logger
	now      func() time.Time

	mu              sync.Mutex
	route           *models.Route
	currentStep     int
	navigating      bool
	lastOrigin      models.Coordinate
	lastDest        models.Coordinate
	lastWaypoints   []models.Coordinate
	lastOptions     RouteOptions
	lastLocation    *models.Coordinate
	haveCachedQuery bool
}

func NewEngine(provider RouteProvider, logger *slog.Logger, now func() time.Time) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Engine{provider: provider, fallback: NewMockProvider(), logger: logger, now: now}
}

// GetRoute computes a route and makes it the active one. Failures of the
// real provider are logged and absorbed by the synthetic fallback; the
// caller only ever sees ErrNoRouteFound when both paths fail.
func (e *Engine) GetRoute(ctx context.Context, origin, dest models.Coordinate, waypoints []models.Coordinate, opts RouteOptions) (models.Route, error) {
	route, err := e.compute(ctx, origin, dest, waypoints, opts)
	if err != nil {
		return models.Route{}, err
	}
	route.ETA = e.now().Add(time.Duration(route.DurationSeconds * float64(time.Second)))

	e.mu.Lock()
	e.route = &route
	e.currentStep = 0
	e.navigating = false
	e.lastOrigin = origin
	e.lastDest = dest
	e.lastWaypoints = waypoints
	e.lastOptions = opts
	e.haveCachedQuery = true
	e.mu.Unlock()
	return route, nil
}

func (e *Engine) compute(ctx context.Context, origin, dest models.Coordinate, waypoints []models.Coordinate, opts RouteOptions) (models.Route, error) {
	if e.provider != nil {
		route, err := e.provider.Route(ctx, origin, dest, waypoints, opts)
		if err == nil {
			return route, nil
		}
		e.logger.Warn("directions provider failed, falling back to synthetic route", "error", err)
	}
	observability.RouteFallbacksTotal.Inc()
	return e.fallback.Route(ctx, origin, dest, waypoints, opts)
}

// StartNavigation begins tracking progress along the active route.
func (e *Engine) StartNavigation() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.route == nil {
		return ErrNoActiveRoute
	}
	e.navigating = true
	e.currentStep = 0
	return nil
}

// StopNavigation halts tracking. Safe to call when not navigating.
func (e *Engine) StopNavigation() {
	e.mu.Lock()
	e.navigating = false
	e.mu.Unlock()
}

// Navigating reports whether step tracking is active.
func (e *Engine) Navigating() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.navigating
}

// UpdateCurrentLocation records the traveller's position. While
// navigating, closing within 50m of the current step's end advances to
// the next step; passing the last step completes navigation.
func (e *Engine) UpdateCurrentLocation(loc models.Coordinate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastLocation = &loc
	if !e.navigating || e.route == nil || e.currentStep >= len(e.route.Steps) {
		return
	}
	step := e.route.Steps[e.currentStep]
	d := geo.Haversine(loc.Latitude, loc.Longitude, step.End.Latitude, step.End.Longitude)
	if d >= stepArrivalMeters {
		return
	}
	e.currentStep++
	if e.currentStep >= len(e.route.Steps) {
		e.navigating = false
		e.logger.Info("navigation complete")
	}
}

// RecalculateRoute recomputes the active route from the last known
// location toward the original destination. Without a cached query or a
// known location it warns and leaves the current route untouched.
func (e *Engine) RecalculateRoute(ctx context.Context) (models.Route, error) {
	e.mu.Lock()
	if !e.haveCachedQuery || e.lastLocation == nil {
		e.mu.Unlock()
		e.logger.Warn("recalculate requested without cached route query")
		return models.Route{}, ErrNoActiveRoute
	}
	origin := *e.lastLocation
	dest := e.lastDest
	waypoints := e.lastWaypoints
	opts := e.lastOptions
	wasNavigating := e.navigating
	e.mu.Unlock()

	route, err := e.GetRoute(ctx, origin, dest, waypoints, opts)
	if err != nil {
		return models.Route{}, err
	}
	if wasNavigating {
		_ = e.StartNavigation()
	}
	return route, nil
}

// CurrentStep returns the active step, if navigation has one left.
func (e *Engine) CurrentStep() (models.NavigationStep, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.route == nil || e.currentStep >= len(e.route.Steps) {
		return models.NavigationStep{}, false
	}
	return e.route.Steps[e.currentStep], true
}

// ProgressPercentage is completed steps over total steps, 0..100.
func (e *Engine) ProgressPercentage() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.route == nil || len(e.route.Steps) == 0 {
		return 0
	}
	return float64(e.currentStep) / float64(len(e.route.Steps)) * 100.0
}

// RemainingDistance sums the distance of the steps not yet completed, in
// meters. Steps missing a numeric distance fall back to their text.
func (e *Engine) RemainingDistance() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.route == nil {
		return 0
	}
	var total float64
	for _, st := range e.route.Steps[min(e.currentStep, len(e.route.Steps)):] {
		total += stepMeters(st)
	}
	return total
}

// RemainingTime sums the duration of the steps not yet completed, in
// seconds.
func (e *Engine) RemainingTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.route == nil {
		return 0
	}
	var total float64
	for _, st := range e.route.Steps[min(e.currentStep, len(e.route.Steps)):] {
		total += stepSeconds(st)
	}
	return total
}

// ActiveRoute returns a copy of the active route.
func (e *Engine) ActiveRoute() (models.Route, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.route == nil {
		return models.Route{}, false
	}
	return *e.route, true
}

// ClearRoute resets all route and navigation state.
func (e *Engine) ClearRoute() {
	e.mu.Lock()
	e.route = nil
	e.currentStep = 0
	e.navigating = false
	e.lastLocation = nil
	e.haveCachedQuery = false
	e.lastWaypoints = nil
	e.mu.Unlock()
}

func stepMeters(st models.NavigationStep) float64 {
	if st.DistanceMeters > 0 {
		return st.DistanceMeters
	}
	return geo.ParseDistanceMeters(st.DistanceText)
}

func stepSeconds(st models.NavigationStep) float64 {
	if st.DurationSeconds > 0 {
		return st.DurationSeconds
	}
	return geo.ParseDurationSeconds(st.DurationText)
}
