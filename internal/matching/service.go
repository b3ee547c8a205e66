package matching

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Danylo93/uber-like-freelas-sub001/internal/directions"
	"github.com/Danylo93/uber-like-freelas-sub001/internal/models"
	"github.com/Danylo93/uber-like-freelas-sub001/internal/observability"
	"github.com/Danylo93/uber-like-freelas-sub001/internal/payments"
	"github.com/Danylo93/uber-like-freelas-sub001/internal/realtime"
	"github.com/Danylo93/uber-like-freelas-sub001/internal/storage"
)

// RoutePlanner is the slice of the directions engine the matcher needs.
type RoutePlanner interface {
	GetRoute(ctx context.Context, origin, dest models.Coordinate, waypoints []models.Coordinate, opts directions.RouteOptions) (models.Route, error)
	ClearRoute()
}

// Expirer arms and cancels per-request expiry timers (the event router).
type Expirer interface {
	SetExpiry(requestID string, ttl time.Duration, fn func())
	CancelExpiry(requestID string)
}

// Options wires the client-side matcher. Charger is optional; Now and
// NewID exist for deterministic tests.
type Options struct {
	Store     storage.RequestStore
	Providers ProviderSource
	Routes    RoutePlanner
	Notifier  Notifier
	Expirer   Expirer
	Charger   payments.Charger
	Logger    *slog.Logger

	SearchRadiusKM float64
	Now            func() time.Time
	NewID          func() string
}

// Service is the client-side matching state machine. All commands and
// event handlers serialize on one mutex, so no two transitions race on
// the same session.
type Service struct {
	store     storage.RequestStore
	providers ProviderSource
	routes    RoutePlanner
	notifier  Notifier
	expirer   Expirer
	charger   payments.Charger
	logger    *slog.Logger

	radiusKM float64
	now      func() time.Time
	newID    func() string

	mu            sync.Mutex
	session       Session
	offersByID    map[string]models.Offer
	paymentIntent string
	// epoch invalidates in-flight route fetches: a result is applied
	// only if the session epoch is unchanged since the fetch started.
	epoch int

	pollMu      sync.Mutex
	pollStop    chan struct{}
	pollRunning bool
}

func NewService(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = newID
	}
	if opts.SearchRadiusKM <= 0 {
		opts.SearchRadiusKM = 10
	}
	return &Service{
		store:      opts.Store,
		providers:  opts.Providers,
		routes:     opts.Routes,
		notifier:   opts.Notifier,
		expirer:    opts.Expirer,
		charger:    opts.Charger,
		logger:     opts.Logger,
		radiusKM:   opts.SearchRadiusKM,
		now:        opts.Now,
		newID:      opts.NewID,
		session:    Session{State: StateIdle},
		offersByID: make(map[string]models.Offer),
	}
}

// Snapshot returns a copy of the current session.
func (s *Service) Snapshot() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.session
	sess.Providers = append([]models.Provider(nil), s.session.Providers...)
	sess.Offers = make([]models.Offer, 0, len(s.offersByID))
	for _, o := range s.offersByID {
		sess.Offers = append(sess.Offers, o)
	}
	return sess
}

// State returns the current lifecycle state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.State
}

// RequestService creates a ServiceRequest and searches for providers.
// Valid only from idle. On zero candidates the session stays in
// searching and the caller receives ErrNoProviders alongside the
// created request, leaving the cancel decision to caller policy.
func (s *Service) RequestService(ctx context.Context, clientID string, category models.ServiceCategory, title, description, address string, location models.Coordinate) (*models.ServiceRequest, error) {
	if err := validateRequest(clientID, category, title, address); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.session.State != StateIdle {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: requestService from %s", ErrInvalidTransition, s.session.State)
	}
	now := s.now()
	req := &models.ServiceRequest{
		ID:          s.newID(),
		ClientID:    clientID,
		Category:    category,
		Title:       title,
		Description: description,
		Address:     address,
		Location:    location,
		Status:      models.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.session = Session{State: StateSearching, UserLocation: location, ActiveRequest: req}
	s.offersByID = make(map[string]models.Offer)
	s.mu.Unlock()

	if err := s.store.SaveRequest(req); err != nil {
		s.logger.Error("save request failed", "request_id", req.ID, "error", err)
	}
	s.notifier.Broadcast(realtime.NewServiceRequestEvent{Request: *req}, clientID)

	candidates := s.providers.Query(location, s.radiusKM)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session.ActiveRequest == nil || s.session.ActiveRequest.ID != req.ID {
		// cancelled while querying
		return req, ErrStaleEvent
	}
	if len(candidates) == 0 {
		s.logger.Info("no providers in range", "request_id", req.ID, "radius_km", s.radiusKM)
		return req, ErrNoProviders
	}
	s.session.State = StateProvidersFound
	s.session.Providers = candidates
	s.logger.Info("providers found", "request_id", req.ID, "count", len(candidates))
	return req, nil
}

// Candidates returns the current sorted candidate list.
func (s *Service) Candidates() []models.Provider {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Provider(nil), s.session.Providers...)
}

// SelectProvider marks one candidate as the chosen provider. Valid only
// from providers_found, and the id must be in the candidate list.
func (s *Service) SelectProvider(providerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session.State != StateProvidersFound {
		return fmt.Errorf("%w: selectProvider from %s", ErrInvalidTransition, s.session.State)
	}
	for i := range s.session.Providers {
		if s.session.Providers[i].ID == providerID {
			p := s.session.Providers[i]
			s.session.Selected = &p
			s.session.State = StateProviderSelected
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownProvider, providerID)
}

// ConfirmService accepts the selected provider: it creates an accepted
// offer, assigns the provider toward the client, holds payment and
// computes the route. Valid only from provider_selected.
func (s *Service) ConfirmService(ctx context.Context) (models.Offer, error) {
	s.mu.Lock()
	if s.session.State != StateProviderSelected || s.session.Selected == nil || s.session.ActiveRequest == nil {
		st := s.session.State
		s.mu.Unlock()
		return models.Offer{}, fmt.Errorf("%w: confirmService from %s", ErrInvalidTransition, st)
	}
	provider := *s.session.Selected
	req := s.session.ActiveRequest
	offer := models.Offer{
		ID:               s.newID(),
		ServiceRequestID: req.ID,
		ProviderID:       provider.ID,
		Price:            provider.Price,
		EstimatedTimeMin: provider.EstimatedTimeMin,
		Status:           models.OfferPending,
		CreatedAt:        s.now(),
	}
	s.offersByID[offer.ID] = offer
	s.mu.Unlock()

	if err := s.store.SaveOffer(&offer); err != nil {
		s.logger.Error("save offer failed", "offer_id", offer.ID, "error", err)
	}
	return s.AcceptOffer(ctx, offer.ID)
}

// AcceptOffer accepts one pending offer for the active request; all
// competing pending offers are invalidated (at most one accepted offer
// per request, ever). Valid from provider_selected or providers_found.
func (s *Service) AcceptOffer(ctx context.Context, offerID string) (models.Offer, error) {
	s.mu.Lock()
	if s.session.State != StateProviderSelected && s.session.State != StateProvidersFound {
		st := s.session.State
		s.mu.Unlock()
		return models.Offer{}, fmt.Errorf("%w: acceptOffer from %s", ErrInvalidTransition, st)
	}
	offer, ok := s.offersByID[offerID]
	if !ok || offer.Status != models.OfferPending || s.session.ActiveRequest == nil || offer.ServiceRequestID != s.session.ActiveRequest.ID {
		s.mu.Unlock()
		return models.Offer{}, ErrOfferNotValid
	}

	offer.Status = models.OfferAccepted
	s.offersByID[offerID] = offer
	rejected := make([]models.Offer, 0, len(s.offersByID))
	for id, o := range s.offersByID {
		if id != offerID && o.Status == models.OfferPending {
			o.Status = models.OfferRejected
			s.offersByID[id] = o
			rejected = append(rejected, o)
		}
	}

	req := s.session.ActiveRequest
	req.ProviderID = offer.ProviderID
	req.Status = models.StatusAccepted
	req.UpdatedAt = s.now()
	s.session.State = StateConfirmed
	if p, ok := s.providers.Get(offer.ProviderID); ok {
		s.session.Selected = &p
	}
	userLoc := s.session.UserLocation
	epoch := s.epoch
	reqCopy := *req
	s.mu.Unlock()

	if err := s.store.UpdateOffer(&offer); err != nil {
		s.logger.Error("update offer failed", "offer_id", offer.ID, "error", err)
	}
	for i := range rejected {
		if err := s.store.UpdateOffer(&rejected[i]); err != nil {
			s.logger.Error("update offer failed", "offer_id", rejected[i].ID, "error", err)
		}
	}
	if err := s.store.UpdateRequest(&reqCopy); err != nil {
		s.logger.Error("update request failed", "request_id", reqCopy.ID, "error", err)
	}

	s.providers.Assign(offer.ProviderID, userLoc)
	s.holdPayment(ctx, offer)
	observability.MatchesTotal.Inc()

	_ = s.notifier.Send(offer.ProviderID, realtime.ServiceStatusUpdateEvent{
		ServiceRequestID: reqCopy.ID, Status: models.StatusAccepted, ProviderID: offer.ProviderID,
	})

	s.computeRoute(ctx, epoch, userLoc)
	return offer, nil
}

// computeRoute fetches the provider→client route. The session may be
// cancelled while the fetch is in flight; the result is discarded then.
func (s *Service) computeRoute(ctx context.Context, epoch int, userLoc models.Coordinate) {
	s.mu.Lock()
	if s.epoch != epoch || s.session.Selected == nil {
		s.mu.Unlock()
		return
	}
	providerLoc := s.session.Selected.Coordinate
	s.mu.Unlock()

	route, err := s.routes.GetRoute(ctx, providerLoc, userLoc, nil, directions.RouteOptions{})
	if err != nil {
		s.logger.Warn("route computation failed", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		s.logger.Info("discarding route for cancelled session")
		return
	}
	s.session.ActiveRoute = &route
}

func (s *Service) holdPayment(ctx context.Context, offer models.Offer) {
	if s.charger == nil {
		return
	}
	intentID, err := s.charger.Hold(ctx, int64(offer.Price*100), "brl", "")
	if err != nil {
		s.logger.Warn("payment hold failed", "offer_id", offer.ID, "error", err)
		return
	}
	s.mu.Lock()
	s.paymentIntent = intentID
	s.mu.Unlock()
}

// CompleteService finishes the job: final price is computed from the
// accepted offer and any payment hold is captured. Valid from in_progress.
func (s *Service) CompleteService(ctx context.Context) error {
	s.mu.Lock()
	if s.session.State != StateInProgress || s.session.ActiveRequest == nil {
		st := s.session.State
		s.mu.Unlock()
		return fmt.Errorf("%w: completeService from %s", ErrInvalidTransition, st)
	}
	req := s.session.ActiveRequest
	req.Status = models.StatusCompleted
	req.FinalPrice = s.finalPriceLocked()
	req.UpdatedAt = s.now()
	s.session.State = StateCompleted
	reqCopy := *req
	intent := s.paymentIntent
	s.mu.Unlock()

	if err := s.store.UpdateRequest(&reqCopy); err != nil {
		s.logger.Error("update request failed", "request_id", reqCopy.ID, "error", err)
	}
	if s.charger != nil && intent != "" {
		if err := s.charger.Capture(ctx, intent, int64(reqCopy.FinalPrice*100)); err != nil {
			s.logger.Warn("payment capture failed", "error", err)
		}
	}
	if reqCopy.ProviderID != "" {
		_ = s.notifier.Send(reqCopy.ProviderID, realtime.ServiceStatusUpdateEvent{
			ServiceRequestID: reqCopy.ID, Status: models.StatusCompleted, ProviderID: reqCopy.ProviderID,
		})
	}
	s.logger.Info("service completed", "request_id", reqCopy.ID, "final_price", reqCopy.FinalPrice)
	return nil
}

// finalPriceLocked derives the final price from the accepted offer,
// falling back to the selected provider's listed price.
func (s *Service) finalPriceLocked() float64 {
	for _, o := range s.offersByID {
		if o.Status == models.OfferAccepted {
			return o.Price
		}
	}
	if s.session.Selected != nil {
		return s.session.Selected.Price
	}
	return 0
}

// CancelService clears the session from any non-terminal state back to
// idle, invalidating pending timers, offers, payment holds and any
// in-flight route fetch.
func (s *Service) CancelService(ctx context.Context) error {
	s.mu.Lock()
	if s.session.State == StateIdle {
		s.mu.Unlock()
		return nil
	}
	if s.session.State == StateCompleted {
		s.mu.Unlock()
		return fmt.Errorf("%w: cancelService from completed", ErrInvalidTransition)
	}
	req := s.session.ActiveRequest
	var reqCopy *models.ServiceRequest
	if req != nil {
		req.Status = models.StatusCancelled
		req.UpdatedAt = s.now()
		c := *req
		reqCopy = &c
	}
	intent := s.paymentIntent
	s.resetLocked()
	s.mu.Unlock()

	if reqCopy != nil {
		s.expirer.CancelExpiry(reqCopy.ID)
		if err := s.store.UpdateRequest(reqCopy); err != nil {
			s.logger.Error("update request failed", "request_id", reqCopy.ID, "error", err)
		}
		if reqCopy.ProviderID != "" {
			_ = s.notifier.Send(reqCopy.ProviderID, realtime.ServiceStatusUpdateEvent{
				ServiceRequestID: reqCopy.ID, Status: models.StatusCancelled, ProviderID: reqCopy.ProviderID,
			})
		}
	}
	if s.charger != nil && intent != "" {
		if err := s.charger.Cancel(ctx, intent); err != nil {
			s.logger.Warn("payment cancel failed", "error", err)
		}
	}
	s.routes.ClearRoute()
	return nil
}

// ResetState clears a completed session back to idle.
func (s *Service) ResetState() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session.State != StateCompleted {
		return fmt.Errorf("%w: resetState from %s", ErrInvalidTransition, s.session.State)
	}
	s.resetLocked()
	return nil
}

// resetLocked destroys the session aggregate. Callers hold s.mu.
func (s *Service) resetLocked() {
	s.session = Session{State: StateIdle}
	s.offersByID = make(map[string]models.Offer)
	s.paymentIntent = ""
	s.epoch++
}

func validateRequest(clientID string, category models.ServiceCategory, title, address string) error {
	switch {
	case clientID == "":
		return fmt.Errorf("%w: missing client id", ErrValidation)
	case title == "":
		return fmt.Errorf("%w: missing title", ErrValidation)
	case address == "":
		return fmt.Errorf("%w: missing address", ErrValidation)
	case !models.ValidCategory(category):
		return fmt.Errorf("%w: unknown category %q", ErrValidation, category)
	}
	return nil
}
