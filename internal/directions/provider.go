package directions

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"github.com/Danylo93/uber-like-freelas-sub001/internal/geo"
	"github.com/Danylo93/uber-like-freelas-sub001/internal/models"
)

// RouteOptions mirror the knobs the directions provider contract exposes.
type RouteOptions struct {
	Mode         string   // driving (default), walking, bicycling
	Avoid        []string // tolls, highways, ferries
	LanguageCode string
}

// RouteProvider computes a route between two points. Implementations:
// GoogleProvider (real) and MockProvider (deterministic fallback).
type RouteProvider interface {
	Route(ctx context.Context, origin, dest models.Coordinate, waypoints []models.Coordinate, opts RouteOptions) (models.Route, error)
}

// GoogleProvider wraps the Google Maps directions API.
type GoogleProvider struct {
	client *maps.Client
}

func NewGoogleProvider(apiKey string) (*GoogleProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("directions: missing maps API key")
	}
	c, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("directions: create maps client: %w", err)
	}
	return &GoogleProvider{client: c}, nil
}

func (g *GoogleProvider) Route(ctx context.Context, origin, dest models.Coordinate, waypoints []models.Coordinate, opts RouteOptions) (models.Route, error) {
	req := &maps.DirectionsRequest{
		Origin:      latLng(origin),
		Destination: latLng(dest),
		Mode:        travelMode(opts.Mode),
	}
	for _, w := range waypoints {
		req.Waypoints = append(req.Waypoints, latLng(w))
	}
	for _, a := range opts.Avoid {
		req.Avoid = append(req.Avoid, maps.Avoid(a))
	}
	if opts.LanguageCode != "" {
		req.Language = opts.LanguageCode
	}

	routes, _, err := g.client.Directions(ctx, req)
	if err != nil {
		return models.Route{}, fmt.Errorf("directions: maps api: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return models.Route{}, ErrNoRouteFound
	}
	return fromMapsRoute(routes[0]), nil
}

func fromMapsRoute(r maps.Route) models.Route {
	var out models.Route
	out.Polyline = geo.DecodePolyline(r.OverviewPolyline.Points)
	idx := 0
	for _, leg := range r.Legs {
		out.DistanceMeters += float64(leg.Distance.Meters)
		out.DurationSeconds += leg.Duration.Seconds()
		for _, st := range leg.Steps {
			out.Steps = append(out.Steps, models.NavigationStep{
				Index:           idx,
				Instruction:     geo.StripMarkup(st.HTMLInstructions),
				DistanceMeters:  float64(st.Distance.Meters),
				DurationSeconds: st.Duration.Seconds(),
				DistanceText:    st.Distance.HumanReadable,
				Start:           models.Coordinate{Latitude: st.StartLocation.Lat, Longitude: st.StartLocation.Lng},
				End:             models.Coordinate{Latitude: st.EndLocation.Lat, Longitude: st.EndLocation.Lng},
			})
			idx++
		}
	}
	return out
}

func latLng(c models.Coordinate) string {
	return fmt.Sprintf("%f,%f", c.Latitude, c.Longitude)
}

func travelMode(mode string) maps.Mode {
	switch mode {
	case "walking":
		return maps.TravelModeWalking
	case "bicycling":
		return maps.TravelModeBicycling
	default:
		return maps.TravelModeDriving
	}
}
