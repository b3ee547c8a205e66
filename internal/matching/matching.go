// Package matching owns the authoritative lifecycle of the current
// service request: it consumes realtime events and provider telemetry,
// advances the session state machine, and exposes the command API the
// surrounding application calls.
package matching

import (
	"crypto/rand"
	"encoding/hex"
	"errors"

	"github.com/Danylo93/uber-like-freelas-sub001/internal/models"
	"github.com/Danylo93/uber-like-freelas-sub001/internal/realtime"
)

// State is the position of a matching session in its lifecycle.
type State string

const (
	StateIdle             State = "idle"
	StateSearching        State = "searching"
	StateProvidersFound   State = "providers_found"
	StateProviderSelected State = "provider_selected"
	StateConfirmed        State = "confirmed"
	StateInProgress       State = "in_progress"
	StateCompleted        State = "completed"
)

var (
	// ErrInvalidTransition: command issued from a state that does not
	// permit it. The session is left unchanged.
	ErrInvalidTransition = errors.New("matching: invalid transition")
	// ErrValidation: the command is missing required fields.
	ErrValidation = errors.New("matching: validation failed")
	// ErrNoProviders: the search found nobody in range.
	ErrNoProviders = errors.New("matching: no providers found")
	// ErrUnknownProvider: the selected id is not in the candidate list.
	ErrUnknownProvider = errors.New("matching: provider not in candidate list")
	// ErrOfferNotValid: the offer is unknown, stale or already decided.
	ErrOfferNotValid = errors.New("matching: offer no longer valid")
	// ErrStaleEvent: the event references an id no longer relevant to
	// the current session. Handlers drop these silently.
	ErrStaleEvent = errors.New("matching: stale event")
)

// ProviderSource is the read/dispatch surface of the location simulator.
type ProviderSource interface {
	Query(origin models.Coordinate, radiusKM float64) []models.Provider
	Assign(providerID string, target models.Coordinate) bool
	Get(providerID string) (models.Provider, bool)
	SetOnline(providerID string, online bool) bool
}

// Notifier pushes typed events to the counterpart over the transport.
type Notifier interface {
	Send(userID string, ev realtime.Event) error
	Broadcast(ev realtime.Event, excludeUserID string) int
}

// Session is the transient aggregate owned by the state machine. It
// exists only while a matching flow is in progress.
type Session struct {
	State         State                  `json:"state"`
	UserLocation  models.Coordinate      `json:"user_location"`
	Providers     []models.Provider      `json:"providers,omitempty"` // ordered by ascending distance
	Selected      *models.Provider       `json:"selected,omitempty"`
	ActiveRequest *models.ServiceRequest `json:"active_request,omitempty"`
	ActiveRoute   *models.Route          `json:"active_route,omitempty"`
	Offers        []models.Offer         `json:"offers,omitempty"`
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
