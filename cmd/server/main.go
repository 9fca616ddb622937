package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/driverstate"
	"github.com/example/ride-dispatch/internal/eta"
	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/fares"
	"github.com/example/ride-dispatch/internal/geo"
	httpapi "github.com/example/ride-dispatch/internal/http"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/matcher"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/rides"
	"github.com/example/ride-dispatch/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store storage.Store
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		defer ps.Close()
		if cfg.RunMigrations {
			if err := runMigrations(cfg.PGDSN); err != nil {
				logger.Error("migrations failed", "error", err)
				os.Exit(1)
			}
			logger.Info("migrations applied")
		}
		store = ps
	} else {
		logger.Warn("PG_DSN not set, using in-memory store")
		store = storage.NewMemoryStore()
	}

	var locations geo.LocationStore
	if cfg.RedisAddr != "" {
		locations = geo.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
	} else {
		logger.Warn("REDIS_ADDR not set, using in-memory location store")
		locations = geo.NewMemoryStore()
	}

	var pub events.Publisher = events.Nop{}
	var kp *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		ek := events.NewKafka(cfg.KafkaBrokers, cfg.EventTopic)
		defer ek.Close()
		pub = ek
		kp = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.LocationTopic)
		defer kp.Close()
	}

	wsreg := dispatch.NewWSRegistry()
	var notify dispatch.Notifier = wsreg
	if cfg.PushEndpoint != "" {
		notify = &dispatch.FallbackNotifier{WS: wsreg, Push: dispatch.NewPushNotifier(cfg.PushEndpoint, cfg.PushKey)}
	}

	broadcaster := dispatch.NewBroadcaster(store, notify, logger, cfg.OfferTTL)
	broadcaster.DefaultSpeedMps = cfg.DefaultSpeedMps
	if cfg.OSRMEndpoint != "" {
		broadcaster.ETAClient = eta.NewOSRMClient(cfg.OSRMEndpoint)
		broadcaster.ETACache = eta.NewCache(cfg.OfferTTL)
	}

	avail := driverstate.New(store, store, pub, logger)
	match := matcher.New(store, locations, cfg.MatchRadiusKm, cfg.LocationFreshness)

	svc := &rides.Service{
		Store:      store,
		Matcher:    match,
		Broadcast:  broadcaster,
		Avail:      avail,
		Events:     pub,
		Fares:      fares.NewRateCard(cfg.FareBase, cfg.FarePerKm),
		Charges:    payments.NewStripeClient(cfg.Currency),
		Logger:     logger,
		DropOTPFor: map[models.Category]bool{models.CategoryScheduled: true},
	}

	// background repair loops: stuck busy drivers and overdue offers
	go avail.Run(ctx, cfg.AvailSweepInterval)
	go broadcaster.RunExpirySweep(ctx, cfg.OfferSweepInterval)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(svc, avail, locations, kp, wsreg, logger),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("ride-dispatch listening", "addr", cfg.HTTPAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func runMigrations(dsn string) error {
	db, err := storage.OpenSQL(dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_dispatch.sql"))
	if err != nil {
		return err
	}
	_, err = db.Exec(string(b))
	return err
}
