package matching

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Danylo93/uber-like-freelas-sub001/internal/models"
	"github.com/Danylo93/uber-like-freelas-sub001/internal/realtime"
	"github.com/Danylo93/uber-like-freelas-sub001/internal/storage"
)

// ProviderFlow is the provider-side counterpart of Service: it holds the
// queue of incoming service requests and the provider's local session.
// Incoming requests not accepted or rejected within the TTL are expired
// and removed.
type ProviderFlow struct {
	providerID string
	store      storage.RequestStore
	notifier   Notifier
	expirer    Expirer
	logger     *slog.Logger
	ttl        time.Duration
	now        func() time.Time
	newID      func() string

	mu     sync.Mutex
	online bool
	inbox  map[string]models.ServiceRequest
	state  State
	active *models.ServiceRequest
}

// ProviderFlowOptions wires one provider's local flow.
type ProviderFlowOptions struct {
	ProviderID  string
	Store       storage.RequestStore
	Notifier    Notifier
	Expirer     Expirer
	Logger      *slog.Logger
	IncomingTTL time.Duration
	Now         func() time.Time
	NewID       func() string
}

func NewProviderFlow(opts ProviderFlowOptions) *ProviderFlow {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = newID
	}
	if opts.IncomingTTL <= 0 {
		opts.IncomingTTL = 30 * time.Second
	}
	return &ProviderFlow{
		providerID: opts.ProviderID,
		store:      opts.Store,
		notifier:   opts.Notifier,
		expirer:    opts.Expirer,
		logger:     opts.Logger,
		ttl:        opts.IncomingTTL,
		now:        opts.Now,
		newID:      opts.NewID,
		inbox:      make(map[string]models.ServiceRequest),
		state:      StateIdle,
	}
}

// BindRouter subscribes the provider flow to the inbound event stream.
func (f *ProviderFlow) BindRouter(r *realtime.Router) {
	r.Handle(realtime.EventNewServiceRequest, func(ev realtime.Event) {
		f.HandleIncomingRequest(ev.(realtime.NewServiceRequestEvent).Request)
	})
}

// SetOnline flips availability. Going offline clears the inbox: nothing
// should be surfaced to a provider who cannot take work.
func (f *ProviderFlow) SetOnline(online bool) {
	f.mu.Lock()
	f.online = online
	var dropped []string
	if !online {
		for id := range f.inbox {
			dropped = append(dropped, id)
		}
		f.inbox = make(map[string]models.ServiceRequest)
	}
	f.mu.Unlock()
	for _, id := range dropped {
		f.expirer.CancelExpiry(f.expiryKey(id))
	}
	f.notifier.Broadcast(realtime.ProviderStatusChangeEvent{ProviderID: f.providerID, Online: online}, f.providerID)
}

// Online reports current availability.
func (f *ProviderFlow) Online() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online
}

// HandleIncomingRequest surfaces a broadcast request while online.
// Duplicate deliveries of the same request id collapse into one entry.
func (f *ProviderFlow) HandleIncomingRequest(req models.ServiceRequest) {
	f.mu.Lock()
	if !f.online {
		f.mu.Unlock()
		return
	}
	if _, exists := f.inbox[req.ID]; exists {
		f.mu.Unlock()
		return
	}
	f.inbox[req.ID] = req
	f.mu.Unlock()

	f.expirer.SetExpiry(f.expiryKey(req.ID), f.ttl, func() { f.expire(req.ID) })
	f.logger.Info("incoming request", "provider_id", f.providerID, "request_id", req.ID)
}

func (f *ProviderFlow) expire(requestID string) {
	f.mu.Lock()
	_, ok := f.inbox[requestID]
	delete(f.inbox, requestID)
	f.mu.Unlock()
	if ok {
		f.logger.Info("incoming request expired", "provider_id", f.providerID, "request_id", requestID)
	}
}

// Incoming returns the currently visible requests.
func (f *ProviderFlow) Incoming() []models.ServiceRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.ServiceRequest, 0, len(f.inbox))
	for _, r := range f.inbox {
		out = append(out, r)
	}
	return out
}

// Accept takes an incoming request: the provider's session jumps
// straight to confirmed and the client is notified with an offer.
func (f *ProviderFlow) Accept(requestID string, price float64, estimatedMin int) (models.Offer, error) {
	f.mu.Lock()
	req, ok := f.inbox[requestID]
	if !ok {
		f.mu.Unlock()
		return models.Offer{}, fmt.Errorf("%w: request %s not in inbox", ErrOfferNotValid, requestID)
	}
	delete(f.inbox, requestID)
	offer := models.Offer{
		ID:               f.newID(),
		ServiceRequestID: requestID,
		ProviderID:       f.providerID,
		Price:            price,
		EstimatedTimeMin: estimatedMin,
		Status:           models.OfferPending,
		CreatedAt:        f.now(),
	}
	f.state = StateConfirmed
	req.ProviderID = f.providerID
	f.active = &req
	f.mu.Unlock()

	f.expirer.CancelExpiry(f.expiryKey(requestID))
	if err := f.store.SaveOffer(&offer); err != nil {
		f.logger.Error("save offer failed", "offer_id", offer.ID, "error", err)
	}
	_ = f.notifier.Send(req.ClientID, realtime.ServiceOfferEvent{Offer: offer})
	f.logger.Info("request accepted", "provider_id", f.providerID, "request_id", requestID, "offer_id", offer.ID)
	return offer, nil
}

// Reject removes an incoming request with no further effect.
func (f *ProviderFlow) Reject(requestID string) {
	f.mu.Lock()
	delete(f.inbox, requestID)
	f.mu.Unlock()
	f.expirer.CancelExpiry(f.expiryKey(requestID))
	f.logger.Info("request rejected", "provider_id", f.providerID, "request_id", requestID)
}

// State returns the provider-side session state.
func (f *ProviderFlow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// ActiveRequest returns the request the provider is currently serving.
func (f *ProviderFlow) ActiveRequest() (models.ServiceRequest, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active == nil {
		return models.ServiceRequest{}, false
	}
	return *f.active, true
}

// Reset clears the provider-side session back to idle.
func (f *ProviderFlow) Reset() {
	f.mu.Lock()
	f.state = StateIdle
	f.active = nil
	f.mu.Unlock()
}

// expiryKey scopes timer keys per provider so two flows sharing one
// router never collide on the same request id.
func (f *ProviderFlow) expiryKey(requestID string) string {
	return f.providerID + ":" + requestID
}
