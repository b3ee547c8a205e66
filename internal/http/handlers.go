package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Danylo93/uber-like-freelas-sub001/internal/geo"
	"github.com/Danylo93/uber-like-freelas-sub001/internal/ingest"
	"github.com/Danylo93/uber-like-freelas-sub001/internal/matching"
	"github.com/Danylo93/uber-like-freelas-sub001/internal/models"
	"github.com/Danylo93/uber-like-freelas-sub001/internal/realtime"
	"github.com/Danylo93/uber-like-freelas-sub001/internal/simulator"
	"github.com/Danylo93/uber-like-freelas-sub001/internal/storage"
)

// Server exposes the matching lifecycle over REST plus a websocket
// event stream. Kafka and GeoIndex are optional; nil disables them.
type Server struct {
	logger  *slog.Logger
	matcher *matching.Service
	sim     *simulator.Simulator
	store   storage.RequestStore
	kafka   *ingest.KafkaProducer
	geoIdx  *geo.RedisIndex
	wsReg   *realtime.WSRegistry
	events  *realtime.Router
	mux     *mux.Router
}

type Options struct {
	Logger   *slog.Logger
	Matcher  *matching.Service
	Sim      *simulator.Simulator
	Store    storage.RequestStore
	Kafka    *ingest.KafkaProducer
	GeoIndex *geo.RedisIndex
	WSReg    *realtime.WSRegistry
	Events   *realtime.Router
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{
		logger:  opts.Logger,
		matcher: opts.Matcher,
		sim:     opts.Sim,
		store:   opts.Store,
		kafka:   opts.Kafka,
		geoIdx:  opts.GeoIndex,
		wsReg:   opts.WSReg,
		events:  opts.Events,
		mux:     mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/services/requests", s.handleRequestService).Methods("POST")
	api.HandleFunc("/services/requests/{request_id}/select", s.handleSelectProvider).Methods("POST")
	api.HandleFunc("/services/requests/{request_id}/confirm", s.handleConfirmService).Methods("POST")
	api.HandleFunc("/services/requests/{request_id}/status", s.handleStatusUpdate).Methods("PUT")
	api.HandleFunc("/services/requests/{request_id}", s.handleCancelService).Methods("DELETE")
	api.HandleFunc("/services/offers/{offer_id}/accept", s.handleAcceptOffer).Methods("POST")
	api.HandleFunc("/services/session", s.handleSession).Methods("GET")
	api.HandleFunc("/services/nearby", s.handleNearbyRequests).Methods("GET")
	api.HandleFunc("/providers/nearby", s.handleNearbyProviders).Methods("GET")
	api.HandleFunc("/providers/status", s.handleProviderStatus).Methods("PUT")
	api.HandleFunc("/providers/locations", s.handleProviderLocation).Methods("POST")
	api.HandleFunc("/providers/{provider_id}/earnings", s.handleEarnings).Methods("GET")

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{user_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type requestServicePayload struct {
	ClientID    string                 `json:"client_id"`
	Category    models.ServiceCategory `json:"category"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Address     string                 `json:"address"`
	Location    models.Coordinate      `json:"location"`
}

func (s *Server) handleRequestService(w http.ResponseWriter, r *http.Request) {
	var p requestServicePayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req, err := s.matcher.RequestService(r.Context(), p.ClientID, p.Category, p.Title, p.Description, p.Address, p.Location)
	if err != nil && !errors.Is(err, matching.ErrNoProviders) {
		s.writeMatchingError(w, err)
		return
	}
	// zero candidates keeps the session searching; the client decides
	// whether to wait for offers or cancel
	sess := s.matcher.Snapshot()
	writeJSON(w, http.StatusCreated, map[string]any{
		"request":   req,
		"state":     sess.State,
		"providers": sess.Providers,
	})
}

type selectProviderPayload struct {
	ProviderID string `json:"provider_id"`
}

func (s *Server) handleSelectProvider(w http.ResponseWriter, r *http.Request) {
	if !s.activeRequestMatches(w, mux.Vars(r)["request_id"]) {
		return
	}
	var p selectProviderPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.matcher.SelectProvider(p.ProviderID); err != nil {
		s.writeMatchingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.matcher.Snapshot())
}

func (s *Server) handleConfirmService(w http.ResponseWriter, r *http.Request) {
	if !s.activeRequestMatches(w, mux.Vars(r)["request_id"]) {
		return
	}
	offer, err := s.matcher.ConfirmService(r.Context())
	if err != nil {
		s.writeMatchingError(w, err)
		return
	}
	sess := s.matcher.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"offer": offer,
		"state": sess.State,
		"route": sess.ActiveRoute,
	})
}

func (s *Server) handleAcceptOffer(w http.ResponseWriter, r *http.Request) {
	offer, err := s.matcher.AcceptOffer(r.Context(), mux.Vars(r)["offer_id"])
	if err != nil {
		s.writeMatchingError(w, err)
		return
	}
	sess := s.matcher.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"offer": offer,
		"state": sess.State,
		"route": sess.ActiveRoute,
	})
}

type statusUpdatePayload struct {
	Status     models.ServiceStatus `json:"status"`
	ProviderID string               `json:"provider_id"`
}

func (s *Server) handleStatusUpdate(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["request_id"]
	var p statusUpdatePayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !models.ValidStatus(p.Status) {
		http.Error(w, "unknown status", http.StatusBadRequest)
		return
	}
	s.matcher.HandleStatusUpdate(realtime.ServiceStatusUpdateEvent{
		ServiceRequestID: requestID,
		Status:           p.Status,
		ProviderID:       p.ProviderID,
	})
	writeJSON(w, http.StatusOK, map[string]any{"state": s.matcher.State()})
}

func (s *Server) handleCancelService(w http.ResponseWriter, r *http.Request) {
	if !s.activeRequestMatches(w, mux.Vars(r)["request_id"]) {
		return
	}
	if err := s.matcher.CancelService(r.Context()); err != nil {
		s.writeMatchingError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.matcher.Snapshot())
}

func (s *Server) handleNearbyProviders(w http.ResponseWriter, r *http.Request) {
	origin, radiusKM, err := parseGeoQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if s.geoIdx != nil {
		providers, err := s.geoIdx.Nearby(r.Context(), origin, radiusKM, 50)
		if err == nil {
			writeJSON(w, http.StatusOK, providers)
			return
		}
		s.logger.Warn("redis nearby lookup failed, falling back to simulator", "error", err)
	}
	writeJSON(w, http.StatusOK, s.sim.Query(origin, radiusKM))
}

func (s *Server) handleNearbyRequests(w http.ResponseWriter, r *http.Request) {
	origin, radiusKM, err := parseGeoQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	pending, err := s.store.ListPendingRequests()
	if err != nil {
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}
	nearby := make([]models.ServiceRequest, 0, len(pending))
	for _, req := range pending {
		if geo.HaversineKM(origin.Latitude, origin.Longitude, req.Location.Latitude, req.Location.Longitude) <= radiusKM {
			nearby = append(nearby, req)
		}
	}
	writeJSON(w, http.StatusOK, nearby)
}

type providerStatusPayload struct {
	ProviderID string `json:"provider_id"`
	Online     bool   `json:"is_online"`
}

func (s *Server) handleProviderStatus(w http.ResponseWriter, r *http.Request) {
	var p providerStatusPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !s.sim.SetOnline(p.ProviderID, p.Online) {
		http.Error(w, "unknown provider", http.StatusNotFound)
		return
	}
	s.wsReg.Broadcast(realtime.ProviderStatusChangeEvent{ProviderID: p.ProviderID, Online: p.Online}, p.ProviderID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProviderLocation(w http.ResponseWriter, r *http.Request) {
	var p models.Provider
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if p.ID == "" {
		http.Error(w, "missing provider id", http.StatusBadRequest)
		return
	}
	p.Online = true
	s.sim.Register(p)
	if s.kafka != nil {
		_ = s.kafka.PublishLocation(p)
	}
	if s.geoIdx != nil {
		if err := s.geoIdx.Upsert(r.Context(), p); err != nil {
			s.logger.Warn("redis upsert failed", "provider_id", p.ID, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEarnings(w http.ResponseWriter, r *http.Request) {
	providerID := mux.Vars(r)["provider_id"]
	completed, err := s.store.ListCompletedByProvider(providerID)
	if err != nil {
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}
	var total float64
	for _, req := range completed {
		total += req.FinalPrice
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"provider_id":    providerID,
		"completed_jobs": len(completed),
		"total_earnings": total,
	})
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.wsReg.Add(userID, conn)
	go s.readLoop(userID, conn)
}

// readLoop is the single reader for one connection; inbound envelopes
// feed the event router, which dispatches synchronously.
func (s *Server) readLoop(userID string, conn *websocket.Conn) {
	defer func() {
		s.wsReg.Remove(userID)
		_ = conn.Close()
	}()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.events.Dispatch(raw)
	}
}

// activeRequestMatches rejects commands aimed at a request that is not
// the current session's active one.
func (s *Server) activeRequestMatches(w http.ResponseWriter, requestID string) bool {
	sess := s.matcher.Snapshot()
	if sess.ActiveRequest == nil || sess.ActiveRequest.ID != requestID {
		http.Error(w, "no such active request", http.StatusNotFound)
		return false
	}
	return true
}

func (s *Server) writeMatchingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, matching.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, matching.ErrUnknownProvider), errors.Is(err, matching.ErrOfferNotValid):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, matching.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		s.logger.Error("request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseGeoQuery(r *http.Request) (models.Coordinate, float64, error) {
	q := r.URL.Query()
	lat, err := strconv.ParseFloat(q.Get("latitude"), 64)
	if err != nil {
		return models.Coordinate{}, 0, errors.New("invalid latitude")
	}
	lng, err := strconv.ParseFloat(q.Get("longitude"), 64)
	if err != nil {
		return models.Coordinate{}, 0, errors.New("invalid longitude")
	}
	radiusKM := 10.0
	if v := q.Get("radius_km"); v != "" {
		radiusKM, err = strconv.ParseFloat(v, 64)
		if err != nil || radiusKM <= 0 {
			return models.Coordinate{}, 0, errors.New("invalid radius_km")
		}
	}
	return models.Coordinate{Latitude: lat, Longitude: lng}, radiusKM, nil
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
