package directions

import (
	"context"
	"fmt"
	"math"

	"github.com/Danylo93/uber-like-freelas-sub001/internal/geo"
	"github.com/Danylo93/uber-like-freelas-sub001/internal/models"
)

// mockSpeedKMH is the assumed travel speed for synthetic routes.
const mockSpeedKMH = 30.0

// MockProvider generates a deterministic synthetic route so the engine
// keeps working without network access or API credentials. The same
// origin/destination pair always yields the same route.
type MockProvider struct{}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (m *MockProvider) Route(ctx context.Context, origin, dest models.Coordinate, waypoints []models.Coordinate, _ RouteOptions) (models.Route, error) {
	anchors := append([]models.Coordinate{origin}, waypoints...)
	anchors = append(anchors, dest)

	var steps []models.NavigationStep
	var polyline []models.Coordinate
	var totalMeters, totalSeconds float64

	for i := 0; i+1 < len(anchors); i++ {
		segSteps, segPoints := m.segment(anchors[i], anchors[i+1], len(steps))
		steps = append(steps, segSteps...)
		polyline = append(polyline, segPoints...)
		for _, st := range segSteps {
			totalMeters += st.DistanceMeters
			totalSeconds += st.DurationSeconds
		}
	}
	if len(steps) == 0 {
		return models.Route{}, ErrNoRouteFound
	}

	// round-trip through the wire encoding so the synthetic polyline is
	// indistinguishable from a decoded provider one
	polyline = geo.DecodePolyline(geo.EncodePolyline(polyline))

	return models.Route{
		DistanceMeters:  totalMeters,
		DurationSeconds: totalSeconds,
		Polyline:        polyline,
		Steps:           steps,
	}, nil
}

// segment splits one leg into up to four interpolated steps.
func (m *MockProvider) segment(from, to models.Coordinate, firstIndex int) ([]models.NavigationStep, []models.Coordinate) {
	totalMeters := geo.Haversine(from.Latitude, from.Longitude, to.Latitude, to.Longitude)
	if totalMeters == 0 {
		return nil, nil
	}
	nSteps := 4
	if totalMeters < 400 {
		nSteps = 1
	}

	points := []models.Coordinate{from}
	steps := make([]models.NavigationStep, 0, nSteps)
	for i := 0; i < nSteps; i++ {
		t0 := float64(i) / float64(nSteps)
		t1 := float64(i+1) / float64(nSteps)
		start := lerp(from, to, t0)
		end := lerp(from, to, t1)
		meters := totalMeters / float64(nSteps)
		seconds := meters / 1000.0 / mockSpeedKMH * 3600.0

		instruction := fmt.Sprintf("Siga em frente por %s", distanceText(meters))
		maneuver := "straight"
		if i == 0 {
			instruction = fmt.Sprintf("Siga na direção %s por %s", compassName(geo.Bearing(from.Latitude, from.Longitude, to.Latitude, to.Longitude)), distanceText(meters))
			maneuver = "depart"
		} else if i == nSteps-1 {
			instruction = "Continue até o destino"
			maneuver = "arrive"
		}

		steps = append(steps, models.NavigationStep{
			Index:           firstIndex + i,
			Instruction:     instruction,
			DistanceMeters:  meters,
			DurationSeconds: seconds,
			DistanceText:    distanceText(meters),
			DurationText:    fmt.Sprintf("%d min", int(math.Max(1, math.Round(seconds/60)))),
			Start:           start,
			End:             end,
			Maneuver:        maneuver,
		})
		points = append(points, end)
	}
	return steps, points
}

func lerp(a, b models.Coordinate, t float64) models.Coordinate {
	return models.Coordinate{
		Latitude:  a.Latitude + (b.Latitude-a.Latitude)*t,
		Longitude: a.Longitude + (b.Longitude-a.Longitude)*t,
	}
}

func distanceText(meters float64) string {
	if meters >= 1000 {
		return fmt.Sprintf("%.1f km", meters/1000)
	}
	return fmt.Sprintf("%d m", int(math.Round(meters)))
}

func compassName(bearing float64) string {
	names := []string{"norte", "nordeste", "leste", "sudeste", "sul", "sudoeste", "oeste", "noroeste"}
	idx := int(math.Mod(bearing+22.5, 360) / 45)
	return names[idx]
}
