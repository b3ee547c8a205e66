package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/Danylo93/uber-like-freelas-sub001/internal/config"
	"github.com/Danylo93/uber-like-freelas-sub001/internal/directions"
	"github.com/Danylo93/uber-like-freelas-sub001/internal/geo"
	httpapi "github.com/Danylo93/uber-like-freelas-sub001/internal/http"
	"github.com/Danylo93/uber-like-freelas-sub001/internal/ingest"
	"github.com/Danylo93/uber-like-freelas-sub001/internal/logging"
	"github.com/Danylo93/uber-like-freelas-sub001/internal/matching"
	"github.com/Danylo93/uber-like-freelas-sub001/internal/models"
	"github.com/Danylo93/uber-like-freelas-sub001/internal/payments"
	"github.com/Danylo93/uber-like-freelas-sub001/internal/realtime"
	"github.com/Danylo93/uber-like-freelas-sub001/internal/simulator"
	"github.com/Danylo93/uber-like-freelas-sub001/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		panic(err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	if cfg.PGDSN != "" && cfg.RunMigrations {
		runMigrations(cfg.PGDSN, logger)
	}

	var store storage.RequestStore
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable, using in-memory store", "error", err)
		} else {
			store = ps
		}
	}
	if store == nil {
		store = storage.NewMemoryStore()
	}

	var producer *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		producer = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
	}

	var geoIdx *geo.RedisIndex
	if cfg.RedisAddr != "" {
		geoIdx = geo.NewRedisIndex(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		defer geoIdx.Close()
	}

	sim := simulator.New(simulator.Options{
		Bounds:       cfg.Bounds,
		MinutesPerKM: cfg.MinutesPerKM,
		Logger:       logging.ForComponent(logger, "simulator"),
		Publisher:    publisherOrNil(producer),
	})
	seedProviders(sim)
	sim.Start(cfg.TickInterval)
	defer sim.Stop()

	var routeProvider directions.RouteProvider
	if cfg.MapsAPIKey != "" {
		gp, err := directions.NewGoogleProvider(cfg.MapsAPIKey)
		if err != nil {
			logger.Error("maps client init failed, mock routes only", "error", err)
		} else {
			routeProvider = gp
		}
	}
	engine := directions.NewEngine(routeProvider, logging.ForComponent(logger, "directions"), nil)

	var charger payments.Charger
	if cfg.StripeAPIKey != "" {
		charger = payments.NewStripeClient(cfg.StripeAPIKey)
	}

	wsReg := realtime.NewWSRegistry(logging.ForComponent(logger, "ws"), nil)
	events := realtime.NewRouter(logging.ForComponent(logger, "events"))

	matcher := matching.NewService(matching.Options{
		Store:          store,
		Providers:      sim,
		Routes:         engine,
		Notifier:       wsReg,
		Expirer:        events,
		Charger:        charger,
		Logger:         logging.ForComponent(logger, "matching"),
		SearchRadiusKM: cfg.SearchRadiusKM,
	})
	matcher.BindRouter(events)
	matcher.StartStatusPolling(cfg.StatusPollInterval)
	defer matcher.StopStatusPolling()

	// demo provider inboxes so broadcast requests have receivers
	for _, p := range sim.Snapshot() {
		flow := matching.NewProviderFlow(matching.ProviderFlowOptions{
			ProviderID:  p.ID,
			Store:       store,
			Notifier:    wsReg,
			Expirer:     events,
			Logger:      logging.ForComponent(logger, "provider_flow"),
			IncomingTTL: cfg.IncomingRequestTTL,
		})
		flow.BindRouter(events)
		flow.SetOnline(true)
	}

	srv := httpapi.NewServer(httpapi.Options{
		Logger:   logging.ForComponent(logger, "http"),
		Matcher:  matcher,
		Sim:      sim,
		Store:    store,
		Kafka:    producer,
		GeoIndex: geoIdx,
		WSReg:    wsReg,
		Events:   events,
	})

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func runMigrations(dsn string, logger *slog.Logger) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Error("migration db open error", "error", err)
		return
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_service_requests.sql"))
	if err != nil {
		logger.Error("migration read error", "error", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		logger.Error("migration exec error", "error", err)
	}
}

// publisherOrNil avoids handing the simulator a typed nil.
func publisherOrNil(p *ingest.KafkaProducer) simulator.Publisher {
	if p == nil {
		return nil
	}
	return p
}

func seedProviders(sim *simulator.Simulator) {
	for _, p := range []models.Provider{
		{ID: "prov-ana", Name: "Ana Souza", Category: models.CategoryCleaning, Coordinate: models.Coordinate{Latitude: -23.5510, Longitude: -46.6340}, SpeedKMH: 12, Rating: 4.8, Price: 80, Online: true},
		{ID: "prov-bruno", Name: "Bruno Lima", Category: models.CategoryGardening, Coordinate: models.Coordinate{Latitude: -23.5580, Longitude: -46.6450}, SpeedKMH: 10, Rating: 4.5, Price: 95, Online: true},
		{ID: "prov-carla", Name: "Carla Mota", Category: models.CategoryPainting, Coordinate: models.Coordinate{Latitude: -23.5450, Longitude: -46.6280}, SpeedKMH: 15, Rating: 4.9, Price: 120, Online: true},
		{ID: "prov-davi", Name: "Davi Rocha", Category: models.CategoryElectrical, Coordinate: models.Coordinate{Latitude: -23.5650, Longitude: -46.6520}, SpeedKMH: 11, Rating: 4.2, Price: 150, Online: true},
		{ID: "prov-elisa", Name: "Elisa Prado", Category: models.CategoryPlumbing, Coordinate: models.Coordinate{Latitude: -23.5400, Longitude: -46.6400}, SpeedKMH: 13, Rating: 4.7, Price: 110, Online: true},
	} {
		sim.Register(p)
	}
}
