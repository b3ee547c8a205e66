package storage

import (
	"errors"
	"sort"
	"sync"

	"github.com/Danylo93/uber-like-freelas-sub001/internal/models"
)

// ErrNotFound is returned for lookups of ids the store has never seen.
var ErrNotFound = errors.New("storage: not found")

// RequestStore defines persistence for service requests and offers.
type RequestStore interface {
	SaveRequest(r *models.ServiceRequest) error
	UpdateRequest(r *models.ServiceRequest) error
	GetRequest(id string) (*models.ServiceRequest, error)
	ListPendingRequests() ([]models.ServiceRequest, error)
	ListCompletedByProvider(providerID string) ([]models.ServiceRequest, error)

	SaveOffer(o *models.Offer) error
	UpdateOffer(o *models.Offer) error
	OffersByRequest(requestID string) ([]models.Offer, error)
}

// MemoryStore keeps everything in maps; the default when PG_DSN is unset.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]models.ServiceRequest
	offers   map[string]models.Offer
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]models.ServiceRequest),
		offers:   make(map[string]models.Offer),
	}
}

func (m *MemoryStore) SaveRequest(r *models.ServiceRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[r.ID] = *r
	return nil
}

func (m *MemoryStore) UpdateRequest(r *models.ServiceRequest) error {
	return m.SaveRequest(r)
}

func (m *MemoryStore) GetRequest(id string) (*models.ServiceRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *MemoryStore) ListPendingRequests() ([]models.ServiceRequest, error) {
	return m.listByStatus(models.StatusPending, "")
}

func (m *MemoryStore) ListCompletedByProvider(providerID string) ([]models.ServiceRequest, error) {
	return m.listByStatus(models.StatusCompleted, providerID)
}

func (m *MemoryStore) listByStatus(status models.ServiceStatus, providerID string) ([]models.ServiceRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ServiceRequest
	for _, r := range m.requests {
		if r.Status != status {
			continue
		}
		if providerID != "" && r.ProviderID != providerID {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) SaveOffer(o *models.Offer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offers[o.ID] = *o
	return nil
}

func (m *MemoryStore) UpdateOffer(o *models.Offer) error {
	return m.SaveOffer(o)
}

func (m *MemoryStore) OffersByRequest(requestID string) ([]models.Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Offer
	for _, o := range m.offers {
		if o.ServiceRequestID == requestID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
