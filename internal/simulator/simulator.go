// Package simulator produces plausible moving-provider telemetry without
// a real location feed. It owns the provider registry: all mutation goes
// through tick/assign/status operations, everything else reads snapshots.
package simulator

import (
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/Danylo93/uber-like-freelas-sub001/internal/config"
	"github.com/Danylo93/uber-like-freelas-sub001/internal/geo"
	"github.com/Danylo93/uber-like-freelas-sub001/internal/models"
	"github.com/Danylo93/uber-like-freelas-sub001/internal/observability"
)

// degrees of latitude per kilometer, the usual small-area approximation
const kmPerDegree = 111.32

// assignSpeedKMH is applied when a provider is dispatched toward a client.
const assignSpeedKMH = 40.0

// Publisher receives provider snapshots for downstream ingestion (Kafka).
type Publisher interface {
	PublishLocation(p models.Provider) error
}

// Subscription delivers full provider snapshots after every tick and
// assignment. Drop-oldest semantics: a slow consumer never blocks a tick.
type Subscription struct {
	id int
	C  chan []models.Provider
}

// Simulator advances registered providers along their bearing on a
// periodic tick, bouncing off the configured bounding box.
type Simulator struct {
	bounds       config.BoundingBox
	minutesPerKM float64
	now          func() time.Time
	rng          *rand.Rand
	logger       *slog.Logger
	publisher    Publisher

	mu        sync.RWMutex
	providers map[string]models.Provider
	subs      map[int]*Subscription
	nextSubID int

	tickMu  sync.Mutex
	stopCh  chan struct{}
	running bool
}

// Options carries the injectable collaborators. Now and Seed exist so
// tests can drive the simulator deterministically.
type Options struct {
	Bounds       config.BoundingBox
	MinutesPerKM float64
	Now          func() time.Time
	Seed         int64
	Logger       *slog.Logger
	Publisher    Publisher
}

func New(opts Options) *Simulator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MinutesPerKM <= 0 {
		opts.MinutesPerKM = 2
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	return &Simulator{
		bounds:       opts.Bounds,
		minutesPerKM: opts.MinutesPerKM,
		now:          opts.Now,
		rng:          rand.New(rand.NewSource(opts.Seed)),
		logger:       opts.Logger,
		publisher:    opts.Publisher,
		providers:    make(map[string]models.Provider),
		subs:         make(map[int]*Subscription),
	}
}

// Register adds or replaces a provider. Coordinates outside the bounding
// box are clamped in so the invariant holds from the start.
func (s *Simulator) Register(p models.Provider) {
	p.Coordinate.Latitude = clamp(p.Coordinate.Latitude, s.bounds.MinLat, s.bounds.MaxLat)
	p.Coordinate.Longitude = clamp(p.Coordinate.Longitude, s.bounds.MinLon, s.bounds.MaxLon)
	if p.LastUpdate.IsZero() {
		p.LastUpdate = s.now()
	}
	s.mu.Lock()
	s.providers[p.ID] = p
	s.mu.Unlock()
	if p.Online {
		observability.ProvidersOnline.Inc()
	}
}

// Start begins periodic advancement. Calling it while running restarts
// the timer with the new interval.
func (s *Simulator) Start(interval time.Duration) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	if s.running {
		close(s.stopCh)
	}
	s.stopCh = make(chan struct{})
	s.running = true
	go s.loop(interval, s.stopCh)
	s.logger.Info("simulator started", "interval", interval.String())
}

// Stop cancels the timer. Safe to call when not running.
func (s *Simulator) Stop() {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	if !s.running {
		return
	}
	close(s.stopCh)
	s.running = false
	s.logger.Info("simulator stopped")
}

func (s *Simulator) loop(interval time.Duration, stop chan struct{}) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			s.tick()
		}
	}
}

// tick advances every provider along its bearing by speed x elapsed time,
// reflecting off the bounding box. A move that would produce an invalid
// coordinate is dropped and the provider keeps its prior position.
func (s *Simulator) tick() {
	now := s.now()
	s.mu.Lock()
	for id, p := range s.providers {
		moved, ok := s.advance(p, now)
		if !ok {
			observability.SimInvalidMovesTotal.Inc()
			s.logger.Warn("dropping invalid move", "provider_id", id)
			continue
		}
		s.providers[id] = moved
	}
	s.mu.Unlock()
	observability.SimTicksTotal.Inc()
	s.notify()
}

func (s *Simulator) advance(p models.Provider, now time.Time) (models.Provider, bool) {
	elapsedHours := now.Sub(p.LastUpdate).Hours()
	if elapsedHours < 0 {
		elapsedHours = 0
	}
	deltaDeg := p.SpeedKMH * elapsedHours / kmPerDegree

	rad := p.Bearing * math.Pi / 180.0
	lat := p.Coordinate.Latitude + math.Cos(rad)*deltaDeg
	lon := p.Coordinate.Longitude + math.Sin(rad)*deltaDeg

	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return p, false
	}

	// bounce: reflect the bearing and pull the coordinate back inside
	if lat < s.bounds.MinLat || lat > s.bounds.MaxLat || lon < s.bounds.MinLon || lon > s.bounds.MaxLon {
		p.Bearing = math.Mod(p.Bearing+180.0, 360.0)
		lat = clamp(lat, s.bounds.MinLat, s.bounds.MaxLat)
		lon = clamp(lon, s.bounds.MinLon, s.bounds.MaxLon)
	}

	// small random wobble so providers never travel perfectly straight
	p.Bearing = math.Mod(p.Bearing+(s.rng.Float64()-0.5)*20.0+360.0, 360.0)

	p.Coordinate = models.Coordinate{Latitude: lat, Longitude: lon}
	p.LastUpdate = now
	return p, true
}

// Assign raises the provider's speed and points it at the target. The
// provider keeps moving there over subsequent ticks; it never teleports.
func (s *Simulator) Assign(providerID string, target models.Coordinate) bool {
	s.mu.Lock()
	p, ok := s.providers[providerID]
	if ok {
		p.SpeedKMH = assignSpeedKMH
		p.Bearing = geo.Bearing(p.Coordinate.Latitude, p.Coordinate.Longitude, target.Latitude, target.Longitude)
		p.LastUpdate = s.now()
		s.providers[providerID] = p
	}
	s.mu.Unlock()
	if !ok {
		s.logger.Warn("assign for unknown provider", "provider_id", providerID)
		return false
	}
	s.notify()
	return true
}

// SetOnline flips the provider's availability flag.
func (s *Simulator) SetOnline(providerID string, online bool) bool {
	s.mu.Lock()
	p, ok := s.providers[providerID]
	changed := ok && p.Online != online
	if ok {
		p.Online = online
		s.providers[providerID] = p
	}
	s.mu.Unlock()
	if changed {
		if online {
			observability.ProvidersOnline.Inc()
		} else {
			observability.ProvidersOnline.Dec()
		}
	}
	return ok
}

// Query returns online providers within radiusKM of the origin, each
// annotated with distance and a linear time estimate, closest first.
// Ties on distance break on provider id so ordering is stable.
func (s *Simulator) Query(origin models.Coordinate, radiusKM float64) []models.Provider {
	s.mu.RLock()
	out := make([]models.Provider, 0, len(s.providers))
	for _, p := range s.providers {
		if !p.Online {
			continue
		}
		d := geo.HaversineKM(origin.Latitude, origin.Longitude, p.Coordinate.Latitude, p.Coordinate.Longitude)
		if d > radiusKM {
			continue
		}
		p.DistanceKM = d
		p.EstimatedTimeMin = int(math.Round(d * s.minutesPerKM))
		out = append(out, p)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].DistanceKM != out[j].DistanceKM {
			return out[i].DistanceKM < out[j].DistanceKM
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Snapshot returns a copy of every registered provider.
func (s *Simulator) Snapshot() []models.Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Provider, 0, len(s.providers))
	for _, p := range s.providers {
		out = append(out, p)
	}
	return out
}

// Get returns a single provider by id.
func (s *Simulator) Get(providerID string) (models.Provider, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.providers[providerID]
	return p, ok
}

// Subscribe registers a snapshot listener. The caller must Unsubscribe
// when done; the returned channel is closed at that point.
func (s *Simulator) Subscribe() *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSubID++
	sub := &Subscription{id: s.nextSubID, C: make(chan []models.Provider, 4)}
	s.subs[sub.id] = sub
	return sub
}

func (s *Simulator) Unsubscribe(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub.id]; !ok {
		return
	}
	delete(s.subs, sub.id)
	close(sub.C)
}

func (s *Simulator) notify() {
	snap := s.Snapshot()
	s.mu.RLock()
	for _, sub := range s.subs {
		select {
		case sub.C <- snap:
		default: // slow subscriber, drop this snapshot
		}
	}
	s.mu.RUnlock()
	if s.publisher != nil {
		for _, p := range snap {
			if err := s.publisher.PublishLocation(p); err != nil {
				s.logger.Warn("publish location failed", "provider_id", p.ID, "error", err)
				break
			}
		}
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
