package models

import "time"

// Coordinate is a point in decimal degrees. Value type, never mutated in place.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ServiceCategory values mirror the categories offered in the marketplace.
type ServiceCategory string

const (
	CategoryCleaning   ServiceCategory = "limpeza"
	CategoryGardening  ServiceCategory = "jardinagem"
	CategoryPainting   ServiceCategory = "pintura"
	CategoryElectrical ServiceCategory = "eletrica"
	CategoryPlumbing   ServiceCategory = "encanamento"
	CategoryCarpentry  ServiceCategory = "marcenaria"
)

// ValidCategory reports whether c is one of the known marketplace categories.
func ValidCategory(c ServiceCategory) bool {
	switch c {
	case CategoryCleaning, CategoryGardening, CategoryPainting,
		CategoryElectrical, CategoryPlumbing, CategoryCarpentry:
		return true
	}
	return false
}

type ServiceStatus string

const (
	StatusPending    ServiceStatus = "pending"
	StatusAccepted   ServiceStatus = "accepted"
	StatusOnWay      ServiceStatus = "on_way"
	StatusArrived    ServiceStatus = "arrived"
	StatusInProgress ServiceStatus = "in_progress"
	StatusCompleted  ServiceStatus = "completed"
	StatusCancelled  ServiceStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s ServiceStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// ValidStatus reports whether s is a known service request status.
func ValidStatus(s ServiceStatus) bool {
	switch s {
	case StatusPending, StatusAccepted, StatusOnWay, StatusArrived,
		StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Provider is a service provider as seen by the simulator and matcher.
// Coordinate, SpeedKMH, Bearing and LastUpdate are owned by the simulator;
// DistanceKM and EstimatedTimeMin are derived per query, never authoritative.
type Provider struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Category   ServiceCategory `json:"category"`
	Coordinate Coordinate      `json:"coordinate"`
	SpeedKMH   float64         `json:"speed_kmh"`
	Bearing    float64         `json:"bearing"` // degrees, 0..360 clockwise from north
	Rating     float64         `json:"rating"`  // 0..5
	Price      float64         `json:"price"`
	LastUpdate time.Time       `json:"last_update"`
	Online     bool            `json:"online"`

	DistanceKM       float64 `json:"distance_km,omitempty"`
	EstimatedTimeMin int     `json:"estimated_time_min,omitempty"`
}

type ServiceRequest struct {
	ID          string          `json:"id"`
	ClientID    string          `json:"client_id"`
	ProviderID  string          `json:"provider_id,omitempty"`
	Category    ServiceCategory `json:"category"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Address     string          `json:"address"`
	Location    Coordinate      `json:"location"`
	Status      ServiceStatus   `json:"status"`
	FinalPrice  float64         `json:"final_price,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type OfferStatus string

const (
	OfferPending  OfferStatus = "pending"
	OfferAccepted OfferStatus = "accepted"
	OfferRejected OfferStatus = "rejected"
)

// Offer is a provider's proposed price/time for a specific request.
// At most one offer per request may ever be accepted.
type Offer struct {
	ID               string      `json:"id"`
	ServiceRequestID string      `json:"service_request_id"`
	ProviderID       string      `json:"provider_id"`
	Price            float64     `json:"price"`
	EstimatedTimeMin int         `json:"estimated_time_min"`
	Status           OfferStatus `json:"status"`
	CreatedAt        time.Time   `json:"created_at"`
}

// NavigationStep is one instruction of a route. Index is the position in
// the route's step list, contiguous from 0, never reordered.
type NavigationStep struct {
	Index           int        `json:"index"`
	Instruction     string     `json:"instruction"`
	DistanceMeters  float64    `json:"distance_meters"`
	DurationSeconds float64    `json:"duration_seconds"`
	DistanceText    string     `json:"distance_text,omitempty"`
	DurationText    string     `json:"duration_text,omitempty"`
	Start           Coordinate `json:"start"`
	End             Coordinate `json:"end"`
	Maneuver        string     `json:"maneuver,omitempty"`
}

// Route is immutable once computed; recalculation replaces it wholesale.
type Route struct {
	DistanceMeters  float64          `json:"distance_meters"`
	DurationSeconds float64          `json:"duration_seconds"`
	Polyline        []Coordinate     `json:"polyline"`
	Steps           []NavigationStep `json:"steps"`
	ETA             time.Time        `json:"eta"`
}
