package directions

import (
	"testing"
	"time"

	"googlemaps.github.io/maps"

	"github.com/Danylo93/uber-like-freelas-sub001/internal/geo"
	"github.com/Danylo93/uber-like-freelas-sub001/internal/models"
)

func TestFromMapsRouteConversion(t *testing.T) {
	overview := geo.EncodePolyline([]models.Coordinate{
		{Latitude: -23.5505, Longitude: -46.6333},
		{Latitude: -23.5550, Longitude: -46.6400},
		{Latitude: -23.5614, Longitude: -46.6559},
	})
	r := maps.Route{
		OverviewPolyline: maps.Polyline{Points: overview},
		Legs: []*maps.Leg{
			{
				Distance: maps.Distance{Meters: 900, HumanReadable: "0,9 km"},
				Duration: 3 * time.Minute,
				Steps: []*maps.Step{
					{
						HTMLInstructions: "Siga para <b>sudoeste</b>",
						Distance:         maps.Distance{Meters: 400, HumanReadable: "400 m"},
						Duration:         80 * time.Second,
						StartLocation:    maps.LatLng{Lat: -23.5505, Lng: -46.6333},
						EndLocation:      maps.LatLng{Lat: -23.5550, Lng: -46.6400},
					},
					{
						HTMLInstructions: "Vire &agrave; <b>esquerda</b>",
						Distance:         maps.Distance{Meters: 500, HumanReadable: "500 m"},
						Duration:         100 * time.Second,
						StartLocation:    maps.LatLng{Lat: -23.5550, Lng: -46.6400},
						EndLocation:      maps.LatLng{Lat: -23.5614, Lng: -46.6559},
					},
				},
			},
		},
	}

	route := fromMapsRoute(r)

	if route.DistanceMeters != 900 {
		t.Fatalf("expected 900m total, got %f", route.DistanceMeters)
	}
	if route.DurationSeconds != 180 {
		t.Fatalf("expected 180s total, got %f", route.DurationSeconds)
	}
	if len(route.Polyline) != 3 {
		t.Fatalf("expected 3 decoded polyline points, got %d", len(route.Polyline))
	}
	if len(route.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(route.Steps))
	}
	for i, st := range route.Steps {
		if st.Index != i {
			t.Fatalf("step %d has index %d", i, st.Index)
		}
	}
	if route.Steps[0].Instruction != "Siga para sudoeste" {
		t.Fatalf("markup not stripped: %q", route.Steps[0].Instruction)
	}
	if route.Steps[1].Instruction != "Vire à esquerda" {
		t.Fatalf("entities not unescaped: %q", route.Steps[1].Instruction)
	}
	if route.Steps[1].End.Latitude != -23.5614 || route.Steps[1].End.Longitude != -46.6559 {
		t.Fatalf("unexpected step end %+v", route.Steps[1].End)
	}
}
