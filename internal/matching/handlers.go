package matching

import (
	"context"
	"time"

	"github.com/Danylo93/uber-like-freelas-sub001/internal/models"
	"github.com/Danylo93/uber-like-freelas-sub001/internal/realtime"
)

// BindRouter subscribes the client-side state machine to the inbound
// event stream.
func (s *Service) BindRouter(r *realtime.Router) {
	r.Handle(realtime.EventServiceOffer, func(ev realtime.Event) {
		s.HandleOffer(ev.(realtime.ServiceOfferEvent))
	})
	r.Handle(realtime.EventServiceStatusUpdate, func(ev realtime.Event) {
		s.HandleStatusUpdate(ev.(realtime.ServiceStatusUpdateEvent))
	})
	r.Handle(realtime.EventLocationUpdate, func(ev realtime.Event) {
		s.HandleLocationUpdate(ev.(realtime.LocationUpdateEvent))
	})
}

// HandleOffer records an inbound provider offer. Duplicate deliveries of
// the same offer id collapse into one entry; offers for requests other
// than the active one are stale and dropped.
func (s *Service) HandleOffer(ev realtime.ServiceOfferEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session.ActiveRequest == nil || ev.Offer.ServiceRequestID != s.session.ActiveRequest.ID {
		s.logger.Debug("dropping stale offer", "offer_id", ev.Offer.ID)
		return
	}
	if _, exists := s.offersByID[ev.Offer.ID]; exists {
		return
	}
	offer := ev.Offer
	if offer.Status == "" {
		offer.Status = models.OfferPending
	}
	s.offersByID[offer.ID] = offer
	s.logger.Info("offer received", "offer_id", offer.ID, "provider_id", offer.ProviderID, "price", offer.Price)
}

// HandleStatusUpdate applies an inbound lifecycle change from the
// counterpart. Events for other request ids are stale and dropped.
func (s *Service) HandleStatusUpdate(ev realtime.ServiceStatusUpdateEvent) {
	s.mu.Lock()
	if s.session.ActiveRequest == nil || ev.ServiceRequestID != s.session.ActiveRequest.ID {
		s.mu.Unlock()
		s.logger.Debug("dropping stale status update", "request_id", ev.ServiceRequestID)
		return
	}
	switch ev.Status {
	case models.StatusOnWay, models.StatusArrived:
		// progress inside confirmed; the session state does not change
		if s.session.State == StateConfirmed {
			s.session.ActiveRequest.Status = ev.Status
			s.session.ActiveRequest.UpdatedAt = s.now()
		}
		s.mu.Unlock()
	case models.StatusInProgress:
		if s.session.State != StateConfirmed {
			s.mu.Unlock()
			return
		}
		s.session.State = StateInProgress
		s.session.ActiveRequest.Status = models.StatusInProgress
		s.session.ActiveRequest.UpdatedAt = s.now()
		reqCopy := *s.session.ActiveRequest
		s.mu.Unlock()
		if err := s.store.UpdateRequest(&reqCopy); err != nil {
			s.logger.Error("update request failed", "request_id", reqCopy.ID, "error", err)
		}
	case models.StatusCompleted:
		s.mu.Unlock()
		if err := s.CompleteService(context.Background()); err != nil {
			s.logger.Debug("inbound completed ignored", "error", err)
		}
	case models.StatusCancelled:
		s.mu.Unlock()
		if err := s.CancelService(context.Background()); err != nil {
			s.logger.Debug("inbound cancelled ignored", "error", err)
		}
	default:
		s.mu.Unlock()
	}
}

// HandleLocationUpdate refreshes the assigned provider's position in the
// session so UI consumers can track approach without re-querying.
func (s *Service) HandleLocationUpdate(ev realtime.LocationUpdateEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session.Selected == nil || s.session.Selected.ID != ev.UserID {
		return
	}
	s.session.Selected.Coordinate = ev.Location
}

// StartStatusPolling periodically reconciles the active request with the
// store, picking up transitions applied by other processes over REST.
// Calling it while running restarts the ticker with the new interval.
func (s *Service) StartStatusPolling(interval time.Duration) {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()
	if s.pollRunning {
		close(s.pollStop)
	}
	s.pollStop = make(chan struct{})
	s.pollRunning = true
	go s.pollLoop(interval, s.pollStop)
}

// StopStatusPolling halts the reconciliation ticker.
func (s *Service) StopStatusPolling() {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()
	if !s.pollRunning {
		return
	}
	close(s.pollStop)
	s.pollRunning = false
}

func (s *Service) pollLoop(interval time.Duration, stop chan struct{}) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			s.reconcileStatus()
		}
	}
}

func (s *Service) reconcileStatus() {
	s.mu.Lock()
	req := s.session.ActiveRequest
	if req == nil {
		s.mu.Unlock()
		return
	}
	id, current := req.ID, req.Status
	s.mu.Unlock()

	stored, err := s.store.GetRequest(id)
	if err != nil || stored.Status == current {
		return
	}
	s.HandleStatusUpdate(realtime.ServiceStatusUpdateEvent{
		ServiceRequestID: id, Status: stored.Status, ProviderID: stored.ProviderID,
	})
}
